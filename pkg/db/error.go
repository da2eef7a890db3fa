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

	// Not every driver translates to gorm.ErrDuplicatedKey, so fall back
	// to matching the driver messages.
	// PostgreSQL, error code 23505
	if strings.Contains(err.Error(), "duplicate key value violates unique constraint") {
		return true
	}
	// MySQL, error code 1062
	if strings.Contains(err.Error(), "Error 1062") {
		return true
	}
	// SQLite, error code 2067
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return true
	}

	return false
}
