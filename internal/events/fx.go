package events

import (
	"context"

	"github.com/nats-io/nats.go"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/kinship/internal/config"
	"github.com/smallbiznis/kinship/internal/observability/metrics"
	"github.com/smallbiznis/kinship/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("events",
	fx.Provide(NewOutbox),
	fx.Provide(providePublisher),
	fx.Provide(provideRelay),
	fx.Invoke(func(lc fx.Lifecycle, relay *Relay) {
		lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				relay.Start()
				return nil
			},
			OnStop: relay.Stop,
		})
	}),
)

func providePublisher(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) (Publisher, error) {
	if cfg.Outbox.NATSURL == "" {
		log.Info("NATS_URL not set, domain events will only be logged")
		return NewLogPublisher(log), nil
	}

	nc, err := nats.Connect(cfg.Outbox.NATSURL,
		nats.Name(cfg.AppName),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return nc.Drain()
		},
	})
	log.Info("connected to NATS", zap.String("url", nc.ConnectedUrlRedacted()))
	return NewNATSPublisher(nc, cfg.Outbox.Subject), nil
}

type relayParams struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	Publisher Publisher
	Config    config.Config
	Metrics   *metrics.Metrics `optional:"true"`
	Redis     *redis.Client    `optional:"true"`
}

func provideRelay(p relayParams) *Relay {
	relay := NewRelay(p.DB, p.Log, p.Publisher, p.Metrics, p.Config.Outbox.RelayInterval, p.Config.Outbox.BatchSize)
	if p.Redis != nil {
		relay.WithLocker(ratelimit.NewLocker(p.Redis))
	}
	return relay
}
