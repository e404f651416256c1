package followgraph

import (
	"github.com/smallbiznis/kinship/internal/followgraph/repository"
	"github.com/smallbiznis/kinship/internal/followgraph/service"
	"go.uber.org/fx"
)

var Module = fx.Module("followgraph.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
