package usage

import (
	"github.com/smallbiznis/agentmarket/internal/authorization"
	usagedomain "github.com/smallbiznis/agentmarket/internal/usage/domain"
	"github.com/smallbiznis/agentmarket/internal/usage/repository"
	"github.com/smallbiznis/agentmarket/internal/usage/service"
	"go.uber.org/fx"
)

var Module = fx.Module("usage.service",
	fx.Provide(repository.Provide),
	fx.Provide(func(authz *authorization.Service) usagedomain.AdminChecker { return authz }),
	fx.Provide(service.NewService),
)
