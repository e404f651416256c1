package observability

import (
	"github.com/smallbiznis/kinship/internal/observability/logger"
	"github.com/smallbiznis/kinship/internal/observability/metrics"
	"github.com/smallbiznis/kinship/internal/observability/tracing"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
)

var Module = fx.Module("observability",
	fx.Provide(
		LoadConfig,
		func(cfg Config) logger.Config {
			return logger.Config{
				ServiceName:   cfg.ServiceName,
				Environment:   cfg.Environment,
				Version:       cfg.Version,
				Level:         cfg.Telemetry.LogLevel,
				Format:        cfg.Telemetry.LogFormat,
				StackOnErrors: cfg.Debug(),
			}
		},
		logger.New,
		func(cfg Config) tracing.Config {
			return tracing.Config{
				Enabled:       cfg.Telemetry.OTLPEnabled,
				ServiceName:   cfg.ServiceName,
				Version:       cfg.Version,
				Environment:   cfg.Environment,
				Endpoint:      cfg.Telemetry.OTLPEndpoint,
				Protocol:      cfg.Telemetry.OTLPProtocol,
				SamplingRatio: cfg.Telemetry.SamplingRatio,
			}
		},
		tracing.NewProvider,
		func(cfg Config) metrics.Config {
			return metrics.Config{
				Enabled:          cfg.Telemetry.OTLPEnabled,
				ExporterEndpoint: cfg.Telemetry.OTLPEndpoint,
				ExporterProtocol: cfg.Telemetry.OTLPProtocol,
				ServiceName:      cfg.ServiceName,
				Environment:      cfg.Environment,
			}
		},
		metrics.NewProvider,
		metrics.New,
		metrics.NewHTTPMetrics,
	),
	// the tracer provider has no consumer but must be built to install the exporter
	fx.Invoke(func(*sdktrace.TracerProvider) {}),
)
