package subscription

import (
	"github.com/smallbiznis/kinship/internal/subscription/repository"
	"github.com/smallbiznis/kinship/internal/subscription/service"
	"go.uber.org/fx"
)

var Module = fx.Module("subscription.store",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
