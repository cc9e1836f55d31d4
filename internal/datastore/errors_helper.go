// Package datastore provides error handling helpers for database operations
package datastore

import (
	"github.com/go-sql-driver/mysql"
	"github.com/mattn/go-sqlite3"
	"gorm.io/gorm"

	"github.com/chestguard/chestguard/internal/errors"
)

// MySQL server error numbers.
const (
	mysqlDuplicateEntry uint16 = 1062
	mysqlLockWaitTimeout uint16 = 1205
	mysqlDeadlock       uint16 = 1213
)

// ErrImmutableEntry is returned by the model hooks when a stored detection
// entry or one of its probability rows would be changed or removed.
var ErrImmutableEntry = errors.NewStd("detection entries are append-only")

// dbError creates a categorized database error with context
func dbError(err error, operation string, context ...any) error {
	builder := errors.New(err).
		Component("datastore").
		Category(errors.CategoryDatabase).
		Context("operation", operation)

	for i := 0; i < len(context)-1; i += 2 {
		if key, ok := context[i].(string); ok {
			builder = builder.Context(key, context[i+1])
		}
	}
	return builder.Build()
}

func validationError(message, field string) error {
	return errors.Newf("%s", message).
		Component("datastore").
		Category(errors.CategoryValidation).
		Context("field", field).
		Build()
}

func notFoundError(mrNo string) error {
	return errors.Newf("patient %s not found", mrNo).
		Component("datastore").
		Category(errors.CategoryNotFound).
		Context("mr_no", mrNo).
		Build()
}

func conflictError(err error, mrNo string) error {
	return errors.New(err).
		Component("datastore").
		Category(errors.CategoryConflict).
		Context("mr_no", mrNo).
		Build()
}

// isDuplicateKey reports a unique or primary key violation, whether gorm
// translated it or the driver error surfaced raw.
func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == mysqlDuplicateEntry
	}
	return false
}

// isRetryable reports errors a fresh transaction can succeed after: a
// sequence number taken by a concurrent writer, or lock contention.
func isRetryable(err error) bool {
	if isDuplicateKey(err) {
		return true
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == mysqlDeadlock || mysqlErr.Number == mysqlLockWaitTimeout
	}
	return false
}
