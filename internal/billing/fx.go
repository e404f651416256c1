package billing

import (
	"github.com/smallbiznis/kinship/internal/billing/gateway/stripe"
	"github.com/smallbiznis/kinship/internal/billing/service"
	"go.uber.org/fx"
)

var Module = fx.Module("billing.orchestrator",
	fx.Provide(stripe.NewClient),
	fx.Provide(service.NewService),
)
