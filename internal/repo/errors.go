package repo

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// ErrDuplicate indicates that an insert hit a unique constraint. Callers
// treat it as the authoritative "already exists" signal.
var ErrDuplicate = errors.New("duplicate")

// isUniqueViolation reports whether err is a unique constraint failure.
// glebarez/sqlite often returns plain-text errors for UNIQUE violations and
// older pgx paths surface SQLSTATE text, so message matching backs up
// gorm.ErrDuplicatedKey.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique") ||
		strings.Contains(low, "duplicate key") ||
		strings.Contains(low, "sqlstate 23505")
}

// create inserts v and maps unique violations to ErrDuplicate.
func create(db *gorm.DB, v any) error {
	if err := db.Create(v).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}
