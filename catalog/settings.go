package catalog

import (
	"context"
	"database/sql"
	"os"

	"github.com/teranos/opsdeck/errors"
)

// SettingsStore reads and writes the settings key/value table
type SettingsStore struct {
	db *sql.DB
}

// NewSettingsStore creates a new settings store
func NewSettingsStore(db *sql.DB) *SettingsStore {
	return &SettingsStore{db: db}
}

// Get returns the stored value for key, or def when the key is absent or NULL.
func (s *SettingsStore) Get(ctx context.Context, key, def string) (string, error) {
	var value sql.NullString
	err := s.db.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows || (err == nil && !value.Valid) {
		return def, nil
	}
	if err != nil {
		return def, errors.Wrapf(err, "failed to read setting %s", key)
	}
	return value.String, nil
}

// Set upserts a setting
func (s *SettingsStore) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return errors.Wrapf(err, "failed to write setting %s", key)
}

// All returns every setting
func (s *SettingsStore) All(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT key, value FROM settings ORDER BY key")
	if err != nil {
		return nil, errors.Wrap(err, "failed to list settings")
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var key string
		var value sql.NullString
		if err := rows.Scan(&key, &value); err != nil {
			return nil, errors.Wrap(err, "failed to scan setting")
		}
		out[key] = value.String
	}
	return out, rows.Err()
}

// EnvFallback consults the process environment before the settings table.
// Used for keys that may be provisioned as environment variables.
type EnvFallback struct {
	Settings SettingsLookup
	Getenv   func(string) string
}

// Get returns the environment value of key if set, else the stored setting.
func (e EnvFallback) Get(ctx context.Context, key, def string) (string, error) {
	getenv := e.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	if v := getenv(key); v != "" {
		return v, nil
	}
	return e.Settings.Get(ctx, key, def)
}
