package catalog

import (
	"context"
	"database/sql"

	"github.com/teranos/opsdeck/errors"
)

// DefaultRegion is used when a profile is created without one
const DefaultRegion = "us-east-1"

// ProfileStore handles persistence of AWS profiles
type ProfileStore struct {
	db *sql.DB
}

// NewProfileStore creates a new profile store
func NewProfileStore(db *sql.DB) *ProfileStore {
	return &ProfileStore{db: db}
}

// Create stores a profile. Marking it default clears the flag on every other profile.
func (s *ProfileStore) Create(ctx context.Context, p *Profile) error {
	if p.Name == "" || p.AccessKey == "" || p.SecretKey == "" {
		return errors.NewInvalidRequestError("profile name, access key and secret key are required")
	}
	if p.Region == "" {
		p.Region = DefaultRegion
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	if p.IsDefault {
		if _, err := tx.ExecContext(ctx, "UPDATE aws_profiles SET is_default = 0"); err != nil {
			return errors.Wrap(err, "failed to clear default profile")
		}
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO aws_profiles (name, aws_access_key, aws_secret_key, aws_region, is_default)
		VALUES (?, ?, ?, ?, ?)`,
		p.Name, p.AccessKey, p.SecretKey, p.Region, p.IsDefault)
	if err != nil {
		return errors.Wrapf(err, "failed to create profile %s", p.Name)
	}
	if p.ID, err = res.LastInsertId(); err != nil {
		return errors.Wrap(err, "failed to read profile id")
	}

	return errors.Wrap(tx.Commit(), "failed to commit profile")
}

// Get retrieves a profile by ID
func (s *ProfileStore) Get(ctx context.Context, id int64) (*Profile, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, aws_access_key, aws_secret_key, aws_region, is_default
		FROM aws_profiles WHERE id = ?`, id)

	p, err := scanProfile(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("AWS profile %d", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get profile %d", id)
	}
	return p, nil
}

// Default returns the profile flagged as default
func (s *ProfileStore) Default(ctx context.Context) (*Profile, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, aws_access_key, aws_secret_key, aws_region, is_default
		FROM aws_profiles WHERE is_default = 1 LIMIT 1`)

	p, err := scanProfile(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("no default AWS profile")
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get default profile")
	}
	return p, nil
}

// List returns all profiles ordered by name
func (s *ProfileStore) List(ctx context.Context) ([]*Profile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, aws_access_key, aws_secret_key, aws_region, is_default
		FROM aws_profiles ORDER BY name`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list profiles")
	}
	defer rows.Close()

	var profiles []*Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan profile")
		}
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}

// Delete removes a profile. Schedules using it are removed by the foreign key.
func (s *ProfileStore) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM aws_profiles WHERE id = ?", id)
	if err != nil {
		return errors.Wrapf(err, "failed to delete profile %d", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NewNotFoundError("AWS profile %d", id)
	}
	return nil
}

func scanProfile(row rowScanner) (*Profile, error) {
	var p Profile
	if err := row.Scan(&p.ID, &p.Name, &p.AccessKey, &p.SecretKey, &p.Region, &p.IsDefault); err != nil {
		return nil, err
	}
	return &p, nil
}

// MaskedAccessKey shows only the last four characters of the access key.
func (p *Profile) MaskedAccessKey() string {
	if len(p.AccessKey) <= 4 {
		return "****"
	}
	return "****" + p.AccessKey[len(p.AccessKey)-4:]
}
