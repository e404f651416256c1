package migration

import (
	"fmt"

	"github.com/smallbiznis/kinship/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg db.Config, log *zap.Logger) error {
		return Apply(conn, cfg.Type, log)
	}),
)

// Apply brings the schema up to date for the configured database type.
func Apply(conn *gorm.DB, dbType string, log *zap.Logger) error {
	switch dbType {
	case "postgres":
		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		if err := RunMigrations(sqlDB); err != nil {
			return err
		}
	case "sqlite":
		if err := ApplySQLiteSchema(conn); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: %q", db.ErrUnsupportedDialect, dbType)
	}
	log.Info("schema applied", zap.String("type", dbType))
	return nil
}
