package catalog

import (
	"context"
	"database/sql"
	"time"

	"github.com/teranos/opsdeck/db"
	"github.com/teranos/opsdeck/errors"
)

// ScriptStore handles persistence of scripts
type ScriptStore struct {
	db *sql.DB
}

// NewScriptStore creates a new script store
func NewScriptStore(db *sql.DB) *ScriptStore {
	return &ScriptStore{db: db}
}

// Create registers a script and fills in its ID and CreatedAt.
func (s *ScriptStore) Create(ctx context.Context, script *Script) error {
	if script.Name == "" || script.Path == "" {
		return errors.NewInvalidRequestError("script name and path are required")
	}

	script.CreatedAt = time.Now()

	var userID interface{}
	if script.UserID != nil {
		userID = *script.UserID
	}
	var params interface{}
	if script.Parameters != "" {
		params = script.Parameters
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO scripts (name, description, path, parameters, user_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		script.Name, script.Description, script.Path, params, userID, db.FormatTime(script.CreatedAt))
	if err != nil {
		return errors.Wrapf(err, "failed to create script %s", script.Name)
	}

	script.ID, err = res.LastInsertId()
	return errors.Wrap(err, "failed to read script id")
}

// Get retrieves a script by ID
func (s *ScriptStore) Get(ctx context.Context, id int64) (*Script, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, path, parameters, user_id, created_at
		FROM scripts WHERE id = ?`, id)

	script, err := scanScript(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("script %d", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get script %d", id)
	}
	return script, nil
}

// List returns all scripts ordered by name
func (s *ScriptStore) List(ctx context.Context) ([]*Script, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, path, parameters, user_id, created_at
		FROM scripts ORDER BY name`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list scripts")
	}
	defer rows.Close()

	var scripts []*Script
	for rows.Next() {
		script, err := scanScript(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan script")
		}
		scripts = append(scripts, script)
	}
	return scripts, rows.Err()
}

// Delete removes a script. Executions keep their rows with script_id cleared.
func (s *ScriptStore) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM scripts WHERE id = ?", id)
	if err != nil {
		return errors.Wrapf(err, "failed to delete script %d", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NewNotFoundError("script %d", id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanScript(row rowScanner) (*Script, error) {
	var script Script
	var description, params sql.NullString
	var userID sql.NullInt64
	var createdAt string

	if err := row.Scan(&script.ID, &script.Name, &description, &script.Path, &params, &userID, &createdAt); err != nil {
		return nil, err
	}

	script.Description = description.String
	script.Parameters = params.String
	if userID.Valid {
		script.UserID = &userID.Int64
	}
	if t, err := db.ParseTime(createdAt); err == nil {
		script.CreatedAt = t
	}
	return &script, nil
}
