package payment

import (
	"github.com/smallbiznis/kinship/internal/payment/adapters"
	"github.com/smallbiznis/kinship/internal/payment/adapters/stripe"
	"github.com/smallbiznis/kinship/internal/payment/repository"
	"github.com/smallbiznis/kinship/internal/payment/webhook"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.webhook",
	fx.Provide(repository.Provide),
	fx.Provide(func() *adapters.Registry {
		return adapters.NewRegistry(stripe.NewFactory())
	}),
	fx.Provide(webhook.NewService),
)
