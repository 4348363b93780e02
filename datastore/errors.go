package datastore

import (
	"errors"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	migrate "github.com/rubenv/sql-migrate"
)

// PgError extracts the underlying PostgreSQL error, if any. Errors returned by sql-migrate for failed
// migrations are unwrapped as well.
func PgError(err error) (*pgconn.PgError, bool) {
	var txErr *migrate.TxError
	if errors.As(err, &txErr) {
		err = txErr.Err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

func hasCode(err error, code string) bool {
	pgErr, ok := PgError(err)
	return ok && pgErr.Code == code
}

// IsNotNullViolation determines whether err was caused by NULL values in a NOT NULL column, such as when a
// NOT NULL column without a default is added to a table that has rows.
func IsNotNullViolation(err error) bool {
	return hasCode(err, pgerrcode.NotNullViolation)
}

// IsForeignKeyViolation determines whether err was caused by a foreign key violation.
func IsForeignKeyViolation(err error) bool {
	return hasCode(err, pgerrcode.ForeignKeyViolation)
}

// IsUndefinedTable determines whether err was caused by a reference to a nonexistent table.
func IsUndefinedTable(err error) bool {
	return hasCode(err, pgerrcode.UndefinedTable)
}

// IsUndefinedColumn determines whether err was caused by a reference to a nonexistent column.
func IsUndefinedColumn(err error) bool {
	return hasCode(err, pgerrcode.UndefinedColumn)
}

// IsUndefinedObject determines whether err was caused by a reference to a nonexistent object, such as a
// constraint.
func IsUndefinedObject(err error) bool {
	return hasCode(err, pgerrcode.UndefinedObject)
}
