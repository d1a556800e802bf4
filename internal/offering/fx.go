package offering

import (
	offeringdomain "github.com/smallbiznis/agentmarket/internal/offering/domain"
	"github.com/smallbiznis/agentmarket/internal/offering/repository"
	"github.com/smallbiznis/agentmarket/internal/offering/service"
	"go.uber.org/fx"
)

var Module = fx.Module("offering.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
	fx.Provide(func(svc offeringdomain.Service) offeringdomain.UsageCounter { return svc }),
	fx.Provide(func(svc offeringdomain.Service) offeringdomain.Reader { return svc }),
)
