package observability

import (
	"strings"

	"github.com/smallbiznis/kinship/internal/config"
)

// Config is the resolved identity and telemetry settings shared by the
// logger, tracer provider and meter provider.
type Config struct {
	ServiceName string
	Environment string
	Version     string
	Telemetry   config.TelemetryConfig
}

func LoadConfig(cfg config.Config) Config {
	serviceName := strings.TrimSpace(cfg.AppName)
	if serviceName == "" {
		serviceName = "kinship"
	}
	return Config{
		ServiceName: serviceName,
		Environment: strings.TrimSpace(cfg.Environment),
		Version:     strings.TrimSpace(cfg.AppVersion),
		Telemetry:   cfg.Telemetry,
	}
}

// Debug reports whether stack traces belong in logs.
func (c Config) Debug() bool {
	if c.Telemetry.LogLevel == "debug" {
		return true
	}
	switch strings.ToLower(c.Environment) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}
