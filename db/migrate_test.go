package db

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func tableNames(t *testing.T, path string) []string {
	t.Helper()
	db, err := Open(path, nil)
	require.NoError(t, err)
	defer db.Close()

	rows, err := db.Query("SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name")
	require.NoError(t, err)
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		names = append(names, name)
	}
	require.NoError(t, rows.Err())
	return names
}

func TestMigrations_Ordered(t *testing.T) {
	all, err := Migrations()
	require.NoError(t, err)
	require.NotEmpty(t, all)

	assert.Equal(t, "000", all[0].Version)
	for i := 1; i < len(all); i++ {
		assert.Less(t, all[i-1].Filename, all[i].Filename)
	}
}

func TestOpenWithMigrations(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	db, err := OpenWithMigrations(dbPath, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	db.Close()

	assert.Equal(t, []string{
		"aws_profiles",
		"execution_history",
		"schedules",
		"schema_migrations",
		"scripts",
		"settings",
		"users",
	}, tableNames(t, dbPath))
}

func TestMigrate_Idempotent(t *testing.T) {
	db, err := OpenWithMigrations(filepath.Join(t.TempDir(), "test.db"), nil)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, Migrate(db, nil))

	all, err := Migrations()
	require.NoError(t, err)

	applied, err := AppliedVersions(db)
	require.NoError(t, err)
	assert.Len(t, applied, len(all))
	for _, m := range all {
		assert.True(t, applied[m.Version], m.Filename)
	}
}

func TestAppliedVersions_FreshDatabase(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "fresh.db"), nil)
	require.NoError(t, err)
	defer db.Close()

	applied, err := AppliedVersions(db)
	require.NoError(t, err)
	assert.Empty(t, applied)
}

func TestMigrate_StatusConstraint(t *testing.T) {
	db, err := OpenWithMigrations(filepath.Join(t.TempDir(), "test.db"), nil)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec("INSERT INTO execution_history (status, start_time) VALUES ('Exploded', '2026-01-01T00:00:00.000Z')")
	assert.Error(t, err, "unknown status must be rejected by the CHECK constraint")

	_, err = db.Exec("INSERT INTO schedules (script_id, profile_id, schedule_type, schedule_value, created_at) VALUES (999, 999, 'daily', '09:00', '2026-01-01T00:00:00.000Z')")
	assert.Error(t, err, "foreign keys are enforced")
}

func TestOpenWithMigrations_ReadOnlyDirectory(t *testing.T) {
	if os.Getuid() == 0 {
		t.Skip("permissions are not enforced for root")
	}
	tmpDir := t.TempDir()
	require.NoError(t, os.Chmod(tmpDir, 0555))
	defer os.Chmod(tmpDir, 0755)

	db, err := OpenWithMigrations(filepath.Join(tmpDir, "test.db"), nil)
	require.Error(t, err)
	assert.Nil(t, db)
	assert.Contains(t, err.Error(), "failed to open database")
}
