package profile

import (
	"github.com/smallbiznis/kinship/internal/profile/repository"
	"github.com/smallbiznis/kinship/internal/profile/service"
	"go.uber.org/fx"
)

var Module = fx.Module("profile.directory",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
