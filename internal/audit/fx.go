package audit

import (
	"github.com/smallbiznis/agentmarket/internal/audit/domain"
	"github.com/smallbiznis/agentmarket/internal/audit/feed"
	"github.com/smallbiznis/agentmarket/internal/audit/repository"
	"github.com/smallbiznis/agentmarket/internal/audit/service"
	"go.uber.org/fx"
)

var Module = fx.Module("audit.service",
	fx.Provide(feed.NewHub),
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
	fx.Provide(func(svc domain.Service) domain.Sink { return svc }),
)
