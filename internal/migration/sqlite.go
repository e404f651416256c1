package migration

import (
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

// ApplySQLiteSchema creates every table and index on a sqlite handle.
// Statements are idempotent, so it is safe on every boot.
func ApplySQLiteSchema(conn *gorm.DB) error {
	if conn == nil {
		return errors.New("migration database handle is required")
	}
	raw, err := embeddedSQLite.ReadFile(sqliteSchemaPath)
	if err != nil {
		return fmt.Errorf("read sqlite schema: %w", err)
	}
	for _, stmt := range splitStatements(string(raw)) {
		if err := conn.Exec(stmt).Error; err != nil {
			return fmt.Errorf("apply sqlite schema: %w", err)
		}
	}
	return nil
}

func splitStatements(script string) []string {
	var (
		out []string
		b   strings.Builder
	)
	for _, line := range strings.Split(script, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
		if strings.HasSuffix(trimmed, ";") {
			out = append(out, strings.TrimSuffix(strings.TrimSpace(b.String()), ";"))
			b.Reset()
		}
	}
	if rest := strings.TrimSpace(b.String()); rest != "" {
		out = append(out, rest)
	}
	return out
}
