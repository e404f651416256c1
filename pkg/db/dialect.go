package db

import (
	"errors"
	"fmt"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// ErrUnsupportedDialect is returned for database types whose SQL the stores
// cannot run. Every upsert relies on INSERT ... ON CONFLICT.
var ErrUnsupportedDialect = errors.New("unsupported_database_type")

func Dialect(cfg Config) (gorm.Dialector, error) {
	switch cfg.Type {
	case "postgres":
		return postgres.Open(fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
			cfg.Host,
			cfg.User,
			cfg.Password,
			cfg.Name,
			cfg.Port,
			cfg.SSLMode,
		)), nil
	case "sqlite":
		return sqlite.Open(sqliteDSN(cfg.Name)), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDialect, cfg.Type)
	}
}

func sqliteDSN(name string) string {
	name = strings.TrimSpace(name)
	switch {
	case name == "":
		return "kinship.db"
	case strings.HasPrefix(name, "file:"), name == ":memory:", strings.HasSuffix(name, ".db"):
		return name
	default:
		return name + ".db"
	}
}
