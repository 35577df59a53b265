package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/teranos/opsdeck/db"
	"github.com/teranos/opsdeck/errors"
)

// Store handles persistence of executions
type Store struct {
	db    *sql.DB
	locks *keyedMutex
	now   func() time.Time
}

// NewStore creates a new execution store
func NewStore(conn *sql.DB) *Store {
	return &Store{db: conn, locks: newKeyedMutex(), now: time.Now}
}

// SetClock replaces the time source used for start_time and end_time (tests).
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

const executionColumns = `
	e.id, e.script_id, e.aws_profile_id, e.user_id, e.status, e.start_time, e.end_time,
	e.output, e.parameters, e.is_scheduled, e.schedule_id, e.ai_analysis, e.ai_solution`

// Create inserts a Pending execution with start_time stamped now.
func (s *Store) Create(ctx context.Context, req NewExecution) (*Execution, error) {
	params := req.Parameters
	if params == nil {
		params = map[string]interface{}{}
	}
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, errors.NewInvalidRequestError("parameters are not JSON serializable: %v", err)
	}

	start := s.now()
	var scheduleID interface{}
	if req.ScheduleID != nil {
		scheduleID = *req.ScheduleID
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO execution_history (
			script_id, aws_profile_id, user_id, status, start_time, output,
			parameters, is_scheduled, schedule_id
		) VALUES (?, ?, ?, ?, ?, '', ?, ?, ?)`,
		nullID(req.ScriptID), nullID(req.ProfileID), nullID(req.UserID),
		StatusPending, db.FormatTime(start), string(paramsJSON),
		req.ScheduleID != nil, scheduleID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create execution")
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read execution id")
	}

	return &Execution{
		ID:          id,
		ScriptID:    req.ScriptID,
		ProfileID:   req.ProfileID,
		UserID:      req.UserID,
		Status:      StatusPending,
		StartTime:   &start,
		Parameters:  params,
		IsScheduled: req.ScheduleID != nil,
		ScheduleID:  req.ScheduleID,
	}, nil
}

// MarkRunning moves a Pending execution to Running and appends banner.
func (s *Store) MarkRunning(ctx context.Context, id int64, banner string) error {
	ok, err := s.transition(ctx, id, StatusRunning, banner)
	if err != nil {
		return err
	}
	if !ok {
		return errors.NewPreconditionFailedError("execution %d is not pending", id)
	}
	return nil
}

// Finish moves an execution into a terminal status, stamps end_time and appends banner.
// It reports false without error when the row was not in a state that allows the
// transition, which leaves terminal rows untouched.
func (s *Store) Finish(ctx context.Context, id int64, status Status, banner string) (bool, error) {
	if !status.IsTerminal() {
		return false, errors.NewInvalidRequestError("%s is not a terminal status", status)
	}
	return s.transition(ctx, id, status, banner)
}

func (s *Store) transition(ctx context.Context, id int64, target Status, banner string) (bool, error) {
	sources := sourcesFor(target)
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(sources)), ", ")

	args := []interface{}{target, banner}
	var endTime interface{}
	if target.IsTerminal() {
		endTime = db.FormatTime(s.now())
	}
	args = append(args, endTime, id)
	for _, src := range sources {
		args = append(args, src)
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE execution_history
		SET status = ?, output = output || ?, end_time = COALESCE(?, end_time)
		WHERE id = ? AND status IN (`+placeholders+`)`, args...)
	if err != nil {
		return false, errors.Wrapf(err, "failed to set execution %d to %s", id, target)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to read rows affected")
	}
	if n == 0 {
		if _, err := s.statusLocked(ctx, id); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

// Append adds text to the execution's output. Output is never rewritten.
func (s *Store) Append(ctx context.Context, id int64, text string) error {
	if text == "" {
		return nil
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	res, err := s.db.ExecContext(ctx,
		"UPDATE execution_history SET output = output || ? WHERE id = ?", text, id)
	if err != nil {
		return errors.Wrapf(err, "failed to append output to execution %d", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NewNotFoundError("execution %d", id)
	}
	return nil
}

// Status returns the current status of an execution
func (s *Store) Status(ctx context.Context, id int64) (Status, error) {
	return s.statusLocked(ctx, id)
}

func (s *Store) statusLocked(ctx context.Context, id int64) (Status, error) {
	var status Status
	err := s.db.QueryRowContext(ctx, "SELECT status FROM execution_history WHERE id = ?", id).Scan(&status)
	if err == sql.ErrNoRows {
		return "", errors.NewNotFoundError("execution %d", id)
	}
	if err != nil {
		return "", errors.Wrapf(err, "failed to read status of execution %d", id)
	}
	return status, nil
}

// Get retrieves an execution by ID
func (s *Store) Get(ctx context.Context, id int64) (*Execution, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+executionColumns+" FROM execution_history e WHERE e.id = ?", id)
	exec, err := scanExecution(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("execution %d", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get execution %d", id)
	}
	return exec, nil
}

const detailsSelect = `
	SELECT ` + executionColumns + `,
		COALESCE(s.name, ''), COALESCE(s.path, ''), COALESCE(p.name, ''), COALESCE(u.username, '')
	FROM execution_history e
	LEFT JOIN scripts s ON e.script_id = s.id
	LEFT JOIN aws_profiles p ON e.aws_profile_id = p.id
	LEFT JOIN users u ON e.user_id = u.id`

// GetWithDetails retrieves an execution with script, profile and user names
func (s *Store) GetWithDetails(ctx context.Context, id int64) (*Details, error) {
	row := s.db.QueryRowContext(ctx, detailsSelect+" WHERE e.id = ?", id)
	d, err := scanDetails(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("execution %d", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get execution %d", id)
	}
	return d, nil
}

// Recent returns the newest executions first
func (s *Store) Recent(ctx context.Context, limit int) ([]*Details, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, detailsSelect+" ORDER BY e.id DESC LIMIT ?", limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list recent executions")
	}
	return collectDetails(rows)
}

// History returns one page of executions matching filter, newest first.
// Pages are 1-based; a page past the end is empty.
func (s *Store) History(ctx context.Context, page, perPage int, filter Filter) (*HistoryPage, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = DefaultHistoryLimit
	}

	var where []string
	var args []interface{}
	if filter.ScriptID != 0 {
		where = append(where, "e.script_id = ?")
		args = append(args, filter.ScriptID)
	}
	if filter.Status != "" {
		where = append(where, "e.status = ?")
		args = append(args, filter.Status)
	}
	if filter.Date != "" {
		if _, err := time.Parse(db.DateLayout, filter.Date); err != nil {
			return nil, errors.NewInvalidRequestError("date must be YYYY-MM-DD, got %q", filter.Date)
		}
		where = append(where, "date(e.start_time) = ?")
		args = append(args, filter.Date)
	}
	if filter.UserID != 0 {
		where = append(where, "e.user_id = ?")
		args = append(args, filter.UserID)
	}
	whereSQL := ""
	if len(where) > 0 {
		whereSQL = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM execution_history e"+whereSQL, args...).Scan(&total); err != nil {
		return nil, errors.Wrap(err, "failed to count executions")
	}

	rows, err := s.db.QueryContext(ctx,
		detailsSelect+whereSQL+" ORDER BY e.id DESC LIMIT ? OFFSET ?",
		append(args, perPage, (page-1)*perPage)...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query execution history")
	}
	execs, err := collectDetails(rows)
	if err != nil {
		return nil, err
	}

	return &HistoryPage{
		Executions:  execs,
		CurrentPage: page,
		TotalPages:  (total + perPage - 1) / perPage,
		TotalCount:  total,
	}, nil
}

// Stats counts executions per UTC start date over the trailing window of days,
// oldest date first. Dates without executions are omitted.
func (s *Store) Stats(ctx context.Context, days int) ([]DayStats, error) {
	if days <= 0 {
		days = DefaultStatsDays
	}
	now := s.now().UTC()
	cutoff := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, -days)

	rows, err := s.db.QueryContext(ctx, `
		SELECT date(start_time) AS day,
			SUM(CASE WHEN status = 'Success' THEN 1 ELSE 0 END),
			SUM(CASE WHEN status = 'Failed' THEN 1 ELSE 0 END),
			SUM(CASE WHEN status = 'Running' THEN 1 ELSE 0 END),
			SUM(CASE WHEN status = 'Cancelled' THEN 1 ELSE 0 END)
		FROM execution_history
		WHERE start_time >= ?
		GROUP BY day
		ORDER BY day`, db.FormatTime(cutoff))
	if err != nil {
		return nil, errors.Wrap(err, "failed to query execution stats")
	}
	defer rows.Close()

	var stats []DayStats
	for rows.Next() {
		var d DayStats
		if err := rows.Scan(&d.Date, &d.Success, &d.Failed, &d.Running, &d.Cancelled); err != nil {
			return nil, errors.Wrap(err, "failed to scan execution stats")
		}
		stats = append(stats, d)
	}
	return stats, rows.Err()
}

// RunningStartedBefore returns Running executions whose start_time is before cutoff.
func (s *Store) RunningStartedBefore(ctx context.Context, cutoff time.Time) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id FROM execution_history WHERE status = ? AND start_time < ? ORDER BY id",
		StatusRunning, db.FormatTime(cutoff))
	if err != nil {
		return nil, errors.Wrap(err, "failed to query running executions")
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "failed to scan execution id")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SetAIHelp caches AI analysis and solution on the execution
func (s *Store) SetAIHelp(ctx context.Context, id int64, analysis, solution string) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	res, err := s.db.ExecContext(ctx,
		"UPDATE execution_history SET ai_analysis = ?, ai_solution = ? WHERE id = ?",
		analysis, solution, id)
	if err != nil {
		return errors.Wrapf(err, "failed to store AI help for execution %d", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NewNotFoundError("execution %d", id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanExecution(row rowScanner) (*Execution, error) {
	var e Execution
	fields := executionFields{}
	if err := row.Scan(fields.targets(&e)...); err != nil {
		return nil, err
	}
	return fields.apply(&e)
}

func scanDetails(row rowScanner) (*Details, error) {
	var d Details
	fields := executionFields{}
	targets := append(fields.targets(&d.Execution), &d.ScriptName, &d.ScriptPath, &d.ProfileName, &d.Username)
	if err := row.Scan(targets...); err != nil {
		return nil, err
	}
	if _, err := fields.apply(&d.Execution); err != nil {
		return nil, err
	}
	return &d, nil
}

func collectDetails(rows *sql.Rows) ([]*Details, error) {
	defer rows.Close()

	var out []*Details
	for rows.Next() {
		d, err := scanDetails(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan execution")
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// executionFields holds the nullable columns of a row until they are converted
type executionFields struct {
	scriptID, profileID, userID, scheduleID sql.NullInt64
	startTime, endTime, params              sql.NullString
	aiAnalysis, aiSolution                  sql.NullString
}

func (f *executionFields) targets(e *Execution) []interface{} {
	return []interface{}{
		&e.ID, &f.scriptID, &f.profileID, &f.userID, &e.Status, &f.startTime, &f.endTime,
		&e.Output, &f.params, &e.IsScheduled, &f.scheduleID, &f.aiAnalysis, &f.aiSolution,
	}
}

func (f *executionFields) apply(e *Execution) (*Execution, error) {
	e.ScriptID = f.scriptID.Int64
	e.ProfileID = f.profileID.Int64
	e.UserID = f.userID.Int64
	e.StartTime = db.NullTime(f.startTime)
	e.EndTime = db.NullTime(f.endTime)
	if f.scheduleID.Valid {
		id := f.scheduleID.Int64
		e.ScheduleID = &id
	}
	if f.aiAnalysis.Valid {
		e.AIAnalysis = &f.aiAnalysis.String
	}
	if f.aiSolution.Valid {
		e.AISolution = &f.aiSolution.String
	}
	e.Parameters = map[string]interface{}{}
	if f.params.Valid && f.params.String != "" {
		if err := json.Unmarshal([]byte(f.params.String), &e.Parameters); err != nil {
			return nil, errors.Wrapf(err, "failed to parse parameters of execution %d", e.ID)
		}
	}
	return e, nil
}

func nullID(id int64) interface{} {
	if id == 0 {
		return nil
	}
	return id
}
