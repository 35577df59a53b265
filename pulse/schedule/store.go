package schedule

import (
	"context"
	"database/sql"
	"encoding/json"
	"math"
	"time"

	"github.com/teranos/opsdeck/db"
	"github.com/teranos/opsdeck/errors"
)

// Store handles persistence of schedules
type Store struct {
	db *sql.DB
}

// NewStore creates a new schedule store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const scheduleColumns = `
	s.id, s.script_id, s.profile_id, s.user_id, s.schedule_type, s.schedule_value,
	s.enabled, s.parameters, s.job_id, s.next_run, s.last_run, s.created_at,
	s.start_timestamp`

const detailsFrom = `
	FROM schedules s
	JOIN scripts sc ON sc.id = s.script_id
	JOIN aws_profiles p ON p.id = s.profile_id
	LEFT JOIN users u ON u.id = s.user_id`

// Insert stores a new schedule and sets its ID
func (s *Store) Insert(ctx context.Context, sc *Schedule) error {
	params, err := encodeParams(sc.Parameters)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO schedules (
			script_id, profile_id, user_id, schedule_type, schedule_value,
			enabled, parameters, job_id, next_run, last_run, created_at, start_timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sc.ScriptID, sc.ProfileID, nullInt(sc.UserID), sc.Type, sc.Value,
		sc.Enabled, params, nullString(sc.JobID), db.TimeArg(sc.NextRun), db.TimeArg(sc.LastRun),
		db.FormatTime(sc.CreatedAt), anchorArg(sc.Anchor))
	if err != nil {
		return errors.Wrap(err, "failed to create schedule")
	}

	sc.ID, err = res.LastInsertId()
	if err != nil {
		return errors.Wrap(err, "failed to read schedule id")
	}
	return nil
}

// Get retrieves a schedule by ID
func (s *Store) Get(ctx context.Context, id int64) (*Schedule, error) {
	row := s.db.QueryRowContext(ctx, "SELECT"+scheduleColumns+" FROM schedules s WHERE s.id = ?", id)
	sc, err := scanSchedule(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("Schedule not found")
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get schedule %d", id)
	}
	return sc, nil
}

// GetWithDetails retrieves a schedule joined with script, profile and user names
func (s *Store) GetWithDetails(ctx context.Context, id int64) (*Details, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT"+scheduleColumns+", sc.name, p.name, COALESCE(u.username, '')"+detailsFrom+" WHERE s.id = ?", id)
	d, err := scanDetails(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("Schedule not found")
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get schedule %d", id)
	}
	return d, nil
}

// List returns schedules with names, newest first
func (s *Store) List(ctx context.Context, includeDisabled bool) ([]*Details, error) {
	query := "SELECT" + scheduleColumns + ", sc.name, p.name, COALESCE(u.username, '')" + detailsFrom
	if !includeDisabled {
		query += " WHERE s.enabled = 1"
	}
	query += " ORDER BY s.created_at DESC, s.id DESC"

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list schedules")
	}
	defer rows.Close()

	var out []*Details
	for rows.Next() {
		d, err := scanDetails(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan schedule")
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// ListEnabled returns every enabled schedule ordered by id
func (s *Store) ListEnabled(ctx context.Context) ([]*Schedule, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT"+scheduleColumns+" FROM schedules s WHERE s.enabled = 1 ORDER BY s.id")
	if err != nil {
		return nil, errors.Wrap(err, "failed to list enabled schedules")
	}
	defer rows.Close()

	var out []*Schedule
	for rows.Next() {
		sc, err := scanSchedule(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan schedule")
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

// Save writes the user-editable fields, next_run and the anchor
func (s *Store) Save(ctx context.Context, sc *Schedule) error {
	params, err := encodeParams(sc.Parameters)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE schedules
		SET schedule_type = ?, schedule_value = ?, enabled = ?, profile_id = ?,
		    parameters = ?, next_run = ?, start_timestamp = ?
		WHERE id = ?`,
		sc.Type, sc.Value, sc.Enabled, sc.ProfileID,
		params, db.TimeArg(sc.NextRun), anchorArg(sc.Anchor), sc.ID)
	if err != nil {
		return errors.Wrapf(err, "failed to update schedule %d", sc.ID)
	}
	return requireRow(res, sc.ID)
}

// SetTrigger records the live trigger of a schedule. anchor is written only when non-nil.
func (s *Store) SetTrigger(ctx context.Context, id int64, jobID string, next time.Time, anchor *time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE schedules
		SET job_id = ?, next_run = ?, start_timestamp = COALESCE(?, start_timestamp)
		WHERE id = ?`,
		jobID, db.FormatTime(next), anchorArg(anchor), id)
	if err != nil {
		return errors.Wrapf(err, "failed to record trigger of schedule %d", id)
	}
	return requireRow(res, id)
}

// RecordRun stamps last_run and, when known, the next fire time
func (s *Store) RecordRun(ctx context.Context, id int64, lastRun time.Time, next *time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE schedules
		SET last_run = ?, next_run = COALESCE(?, next_run)
		WHERE id = ?`,
		db.FormatTime(lastRun), db.TimeArg(next), id)
	if err != nil {
		return errors.Wrapf(err, "failed to record run of schedule %d", id)
	}
	return requireRow(res, id)
}

// Delete removes a schedule
func (s *Store) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM schedules WHERE id = ?", id)
	if err != nil {
		return errors.Wrapf(err, "failed to delete schedule %d", id)
	}
	return requireRow(res, id)
}

func requireRow(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to read rows affected")
	}
	if n == 0 {
		return errors.NewNotFoundError("Schedule not found")
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

type scheduleFields struct {
	userID    sql.NullInt64
	params    sql.NullString
	jobID     sql.NullString
	nextRun   sql.NullString
	lastRun   sql.NullString
	createdAt string
	anchor    sql.NullFloat64
}

func (f *scheduleFields) targets(sc *Schedule) []interface{} {
	return []interface{}{
		&sc.ID, &sc.ScriptID, &sc.ProfileID, &f.userID, &sc.Type, &sc.Value,
		&sc.Enabled, &f.params, &f.jobID, &f.nextRun, &f.lastRun, &f.createdAt,
		&f.anchor,
	}
}

func (f *scheduleFields) apply(sc *Schedule) error {
	if f.userID.Valid {
		id := f.userID.Int64
		sc.UserID = &id
	}
	if f.params.Valid && f.params.String != "" {
		if err := json.Unmarshal([]byte(f.params.String), &sc.Parameters); err != nil {
			sc.Parameters = nil
		}
	}
	sc.JobID = f.jobID.String
	sc.NextRun = db.NullTime(f.nextRun)
	sc.LastRun = db.NullTime(f.lastRun)
	created, err := db.ParseTime(f.createdAt)
	if err != nil {
		return errors.Wrapf(err, "invalid created_at on schedule %d", sc.ID)
	}
	sc.CreatedAt = created
	if f.anchor.Valid {
		a := fromUnixSeconds(f.anchor.Float64)
		sc.Anchor = &a
	}
	return nil
}

func scanSchedule(row rowScanner) (*Schedule, error) {
	sc := &Schedule{}
	var f scheduleFields
	if err := row.Scan(f.targets(sc)...); err != nil {
		return nil, err
	}
	return sc, f.apply(sc)
}

func scanDetails(row rowScanner) (*Details, error) {
	d := &Details{Schedule: &Schedule{}}
	var f scheduleFields
	dest := append(f.targets(d.Schedule), &d.ScriptName, &d.ProfileName, &d.Username)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	return d, f.apply(d.Schedule)
}

func encodeParams(params map[string]interface{}) (interface{}, error) {
	if len(params) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(params)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode schedule parameters")
	}
	return string(b), nil
}

// The anchor is stored as fractional unix seconds
func anchorArg(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return float64(t.UnixNano()) / 1e9
}

func fromUnixSeconds(f float64) time.Time {
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(math.Round(frac*1e6))*1e3).UTC()
}

func nullInt(p *int64) interface{} {
	if p == nil {
		return nil
	}
	return *p
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
