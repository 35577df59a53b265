package testing

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/teranos/opsdeck/db"
)

// CreateTestDB creates a migrated SQLite database in the test's temp dir.
// A single connection keeps writes from concurrent workers serialized.
// Automatically registers cleanup via t.Cleanup().
func CreateTestDB(t *testing.T) *sql.DB {
	t.Helper()

	conn, err := db.OpenWithMigrations(filepath.Join(t.TempDir(), "opsdeck.db"), nil)
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	conn.SetMaxOpenConns(1)

	t.Cleanup(func() {
		conn.Close()
	})

	return conn
}
