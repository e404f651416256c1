package migration

import "embed"

const (
	migrationsDir    = "migrations"
	sqliteSchemaPath = "sqlite/schema.sql"
)

//go:embed migrations/*.up.sql
var embeddedMigrations embed.FS

//go:embed sqlite/schema.sql
var embeddedSQLite embed.FS
