package testing

import (
	"database/sql"
	"testing"
	"time"

	"github.com/teranos/opsdeck/db"
)

// Fixtures is the minimal catalog most runner and scheduler tests need.
type Fixtures struct {
	UserID    int64
	ScriptID  int64
	ProfileID int64
}

// SeedUser inserts a user and returns its id.
func SeedUser(t *testing.T, conn *sql.DB, username string) int64 {
	t.Helper()
	return insert(t, conn,
		"INSERT INTO users (username, is_admin, created_at) VALUES (?, 0, ?)",
		username, db.FormatTime(time.Now()))
}

// SeedScript inserts a script pointing at path and returns its id.
func SeedScript(t *testing.T, conn *sql.DB, name, path string) int64 {
	t.Helper()
	return insert(t, conn,
		"INSERT INTO scripts (name, description, path, created_at) VALUES (?, '', ?, ?)",
		name, path, db.FormatTime(time.Now()))
}

// SeedProfile inserts an AWS profile with dummy credentials and returns its id.
func SeedProfile(t *testing.T, conn *sql.DB, name, region string) int64 {
	t.Helper()
	return insert(t, conn,
		"INSERT INTO aws_profiles (name, aws_access_key, aws_secret_key, aws_region) VALUES (?, ?, ?, ?)",
		name, "AKIA"+name, "secret-"+name, region)
}

// SeedSetting upserts a settings row.
func SeedSetting(t *testing.T, conn *sql.DB, key, value string) {
	t.Helper()
	if _, err := conn.Exec(
		"INSERT INTO settings (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value); err != nil {
		t.Fatalf("Failed to seed setting %s: %v", key, err)
	}
}

// SeedCatalog inserts one user, one script and one profile.
func SeedCatalog(t *testing.T, conn *sql.DB, scriptPath string) Fixtures {
	t.Helper()
	return Fixtures{
		UserID:    SeedUser(t, conn, "alice"),
		ScriptID:  SeedScript(t, conn, "report", scriptPath),
		ProfileID: SeedProfile(t, conn, "dev", "eu-west-1"),
	}
}

func insert(t *testing.T, conn *sql.DB, query string, args ...interface{}) int64 {
	t.Helper()
	res, err := conn.Exec(query, args...)
	if err != nil {
		t.Fatalf("Failed to seed fixture: %v", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		t.Fatalf("Failed to read fixture id: %v", err)
	}
	return id
}
