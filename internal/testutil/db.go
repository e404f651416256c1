// Package testutil provides an in-memory database with the production schema and seed helpers.
package testutil

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/kinship/internal/migration"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var dbSeq atomic.Int64

// NewDB opens an isolated in-memory SQLite database with every table the service uses.
// The pool is capped at one connection, so concurrent callers queue on it.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:kinship_%d_%d?mode=memory&cache=shared", time.Now().UnixNano(), dbSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := migration.ApplySQLiteSchema(db); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	return db
}

// SeedUser inserts a user and, when name is non-empty, a profile for it.
func SeedUser(t testing.TB, db *gorm.DB, id, email, name string) {
	t.Helper()

	if err := db.Exec(`INSERT INTO users (id, email, created_at) VALUES (?, ?, ?)`, id, email, time.Now().UTC()).Error; err != nil {
		t.Fatalf("seed user %s: %v", id, err)
	}
	if name == "" {
		return
	}
	if err := db.Exec(
		`INSERT INTO profiles (user_id, name, headline, bio, photo_url, interests, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, name, "headline of "+name, "", "", `["golang"]`, time.Now().UTC(),
	).Error; err != nil {
		t.Fatalf("seed profile %s: %v", id, err)
	}
}
