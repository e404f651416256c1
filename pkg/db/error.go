package db

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

func IsDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	msg := err.Error()
	switch {
	// PostgreSQL 23505
	case strings.Contains(msg, "duplicate key value violates unique constraint"):
		return true
	// SQLite 2067
	case strings.Contains(msg, "UNIQUE constraint failed"):
		return true
	}
	return false
}

// IsCheckViolationErr reports whether a CHECK constraint rejected the write.
func IsCheckViolationErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrCheckConstraintViolated) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "violates check constraint") ||
		strings.Contains(msg, "CHECK constraint failed") ||
		strings.Contains(msg, "Error 3819")
}
