package db

import (
	"database/sql"
	"strings"

	"github.com/mattn/go-sqlite3"

	"github.com/smtaidev/outbound/errors"
)

// ErrDatabaseClosed marks ledger writes attempted after shutdown closed the pool
var ErrDatabaseClosed = errors.New("database is closed")

// IsDatabaseClosed reports whether err came from a closed pool or connection.
// database/sql reports a closed *sql.DB only by message.
func IsDatabaseClosed(err error) bool {
	if err == nil {
		return false
	}
	if errors.IsAny(err, ErrDatabaseClosed, sql.ErrConnDone) {
		return true
	}
	return strings.Contains(err.Error(), "database is closed")
}

// IsBusy reports a lock held by another process past the busy timeout,
// typically a second outbound instance writing the same ledger file
func IsBusy(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
}

// Classify maps driver failures onto the domain sentinels so callers (and the
// HTTP layer) can tell a transient lock from a real fault
func Classify(err error, op string) error {
	switch {
	case err == nil:
		return nil
	case IsDatabaseClosed(err):
		return errors.Mark(errors.Wrap(err, op), errors.ErrServiceUnavailable)
	case IsBusy(err):
		return errors.WithHint(
			errors.Mark(errors.Wrap(err, op), errors.ErrServiceUnavailable),
			"another outbound process may be writing the same database; retry or set database.path")
	default:
		return errors.Wrap(err, op)
	}
}
