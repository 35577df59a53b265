package catalog

import (
	"context"
	"database/sql"
	"time"

	"github.com/teranos/opsdeck/db"
	"github.com/teranos/opsdeck/errors"
)

// UserStore handles persistence of users
type UserStore struct {
	db *sql.DB
}

// NewUserStore creates a new user store
func NewUserStore(db *sql.DB) *UserStore {
	return &UserStore{db: db}
}

// Ensure returns the user with username, creating it if needed.
// The CLI uses it to attribute runs to the invoking OS user.
func (s *UserStore) Ensure(ctx context.Context, username string) (*User, error) {
	if username == "" {
		return nil, errors.NewInvalidRequestError("username is required")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, is_admin, created_at) VALUES (?, 0, ?)
		ON CONFLICT(username) DO NOTHING`,
		username, db.FormatTime(time.Now()))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to ensure user %s", username)
	}

	var u User
	var createdAt string
	err = s.db.QueryRowContext(ctx,
		"SELECT id, username, is_admin, created_at FROM users WHERE username = ?", username,
	).Scan(&u.ID, &u.Username, &u.IsAdmin, &createdAt)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load user %s", username)
	}
	if t, err := db.ParseTime(createdAt); err == nil {
		u.CreatedAt = t
	}
	return &u, nil
}
