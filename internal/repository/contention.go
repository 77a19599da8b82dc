package repository

import (
	"errors"
	"strings"

	"github.com/mattn/go-sqlite3"
)

// IsTransientLock reports whether err comes from another writer holding the
// database lock. Such errors are worth retrying.
func IsTransientLock(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "database table is locked")
}
