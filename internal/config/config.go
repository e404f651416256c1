package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName       string
	AppVersion    string
	Environment   string
	HTTPAddr      string
	AuthJWTSecret string
	SnowflakeNode int64

	Telemetry TelemetryConfig

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	Stripe StripeConfig
	Redis  RedisConfig
	Follow FollowConfig
	Outbox OutboxConfig
}

// TelemetryConfig drives the zap logger and the OTLP trace and metric exporters.
type TelemetryConfig struct {
	LogLevel      string
	LogFormat     string
	OTLPEnabled   bool
	OTLPEndpoint  string
	OTLPProtocol  string
	SamplingRatio float64
	// statements slower than this are logged at warn
	SlowQuery time.Duration
}

type StripeConfig struct {
	APIKey           string
	APIBase          string
	WebhookSecret    string
	WebhookTolerance time.Duration
	Timeout          time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// FollowConfig bounds how fast a single principal may mutate the graph.
type FollowConfig struct {
	RatePerSecond float64
	Burst         int
}

type OutboxConfig struct {
	NATSURL       string
	Subject       string
	RelayInterval time.Duration
	BatchSize     int
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:       getenv("APP_SERVICE", "kinship"),
		AppVersion:    getenv("APP_VERSION", "0.1.0"),
		Environment:   getenv("ENVIRONMENT", "development"),
		HTTPAddr:      getenv("HTTP_ADDR", ":8080"),
		AuthJWTSecret: strings.TrimSpace(getenv("AUTH_JWT_SECRET", "")),
		SnowflakeNode: getenvInt64("SNOWFLAKE_NODE", 1),
		Telemetry: TelemetryConfig{
			LogLevel:      strings.ToLower(strings.TrimSpace(getenv("LOG_LEVEL", "info"))),
			LogFormat:     strings.ToLower(strings.TrimSpace(getenv("LOG_FORMAT", "json"))),
			OTLPEnabled:   getenvBool("OTEL_ENABLED", false),
			OTLPEndpoint:  strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_ENDPOINT", getenv("OTLP_ENDPOINT", "localhost:4317"))),
			OTLPProtocol:  strings.ToLower(strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc"))),
			SamplingRatio: getenvFloat("OTEL_SAMPLING_RATIO", 0.1),
			SlowQuery:     getenvDuration("DATABASE_SLOW_QUERY", 200*time.Millisecond),
		},
		DBType:        getenv("DATABASE_TYPE", "postgres"),
		DBHost:        getenv("DATABASE_HOST", "localhost"),
		DBPort:        getenv("DATABASE_PORT", "5432"),
		DBName:        getenv("DATABASE_NAME", "kinship"),
		DBUser:        getenv("DATABASE_USER", "postgres"),
		DBPassword:    getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:     getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn: int(getenvInt64("DATABASE_MAX_IDLE_CONN", 10)),
		DBMaxOpenConn: int(getenvInt64("DATABASE_MAX_OPEN_CONN", 50)),
		// seconds
		DBConnMaxLifetime: int(getenvInt64("DATABASE_CONN_MAX_LIFETIME", 300)),
		DBConnMaxIdleTime: int(getenvInt64("DATABASE_CONN_MAX_IDLE_TIME", 60)),
		Stripe: StripeConfig{
			APIKey:           strings.TrimSpace(getenv("STRIPE_API_KEY", "")),
			APIBase:          strings.TrimRight(getenv("STRIPE_API_BASE", "https://api.stripe.com"), "/"),
			WebhookSecret:    strings.TrimSpace(getenv("STRIPE_WEBHOOK_SECRET", "")),
			WebhookTolerance: getenvDuration("STRIPE_WEBHOOK_TOLERANCE", 5*time.Minute),
			Timeout:          getenvDuration("STRIPE_TIMEOUT", 10*time.Second),
		},
		Redis: RedisConfig{
			Addr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
			Password: getenv("REDIS_PASSWORD", ""),
			DB:       int(getenvInt64("REDIS_DB", 0)),
		},
		Follow: FollowConfig{
			RatePerSecond: getenvFloat("FOLLOW_RATE_PER_SECOND", 2),
			Burst:         int(getenvInt64("FOLLOW_RATE_BURST", 20)),
		},
		Outbox: OutboxConfig{
			NATSURL:       strings.TrimSpace(getenv("NATS_URL", "")),
			Subject:       getenv("OUTBOX_SUBJECT_PREFIX", "kinship.events"),
			RelayInterval: getenvDuration("OUTBOX_RELAY_INTERVAL", 2*time.Second),
			BatchSize:     int(getenvInt64("OUTBOX_RELAY_BATCH", 100)),
		},
	}

	return cfg
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}
