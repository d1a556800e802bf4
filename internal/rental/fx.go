package rental

import (
	rentaldomain "github.com/smallbiznis/agentmarket/internal/rental/domain"
	"github.com/smallbiznis/agentmarket/internal/rental/repository"
	"github.com/smallbiznis/agentmarket/internal/rental/service"
	"go.uber.org/fx"
)

var Module = fx.Module("rental.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
	fx.Provide(func(svc rentaldomain.Service) rentaldomain.Reader { return svc }),
)
