package db

import (
	"strings"

	"github.com/teranos/opsdeck/errors"
)

// ErrDatabaseClosed is returned when operations are attempted on a closed database,
// typically while the daemon shuts down with executions still finishing.
var ErrDatabaseClosed = errors.New("database is closed")

// IsDatabaseClosed checks if an error indicates the database connection is closed.
// The string fallback covers raw errors returned by database/sql and the driver.
func IsDatabaseClosed(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrDatabaseClosed) {
		return true
	}
	return strings.Contains(err.Error(), "database is closed")
}
