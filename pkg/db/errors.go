package db

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// SQLSTATE classes that fail the same way on every attempt: data exceptions,
// integrity violations, and syntax or access rule violations.
var permanentClasses = []string{"22", "23", "42"}

// Permanent reports whether err is a database failure that a retry cannot
// fix. Connection loss, lock timeouts and serialization failures are not.
func Permanent(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) ||
		errors.Is(err, gorm.ErrForeignKeyViolated) ||
		errors.Is(err, gorm.ErrCheckConstraintViolated) {
		return true
	}
	code := SQLState(err)
	for _, class := range permanentClasses {
		if strings.HasPrefix(code, class) {
			return true
		}
	}
	return false
}

// SQLState extracts the Postgres error code from err's chain, or "".
func SQLState(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}
