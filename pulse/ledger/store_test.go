package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/opsdeck/catalog"
	"github.com/teranos/opsdeck/errors"
	opstest "github.com/teranos/opsdeck/internal/testing"
	"github.com/teranos/opsdeck/internal/util"
)

func setup(t *testing.T) (*Store, *sql.DB, opstest.Fixtures) {
	t.Helper()
	conn := opstest.CreateTestDB(t)
	fx := opstest.SeedCatalog(t, conn, "/opt/scripts/report.py")
	return NewStore(conn), conn, fx
}

func create(t *testing.T, s *Store, fx opstest.Fixtures) *Execution {
	t.Helper()
	e, err := s.Create(context.Background(), NewExecution{
		ScriptID:   fx.ScriptID,
		ProfileID:  fx.ProfileID,
		UserID:     fx.UserID,
		Parameters: map[string]interface{}{"bucket": "logs", "verbose": true},
	})
	require.NoError(t, err)
	return e
}

func TestCreate_PendingWithStartTime(t *testing.T) {
	s, _, fx := setup(t)
	ctx := context.Background()

	e := create(t, s, fx)
	assert.Equal(t, StatusPending, e.Status)
	require.NotNil(t, e.StartTime)

	got, err := s.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
	assert.NotNil(t, got.StartTime)
	assert.Nil(t, got.EndTime)
	assert.Empty(t, got.Output)
	assert.False(t, got.IsScheduled)
	assert.Nil(t, got.ScheduleID)
	assert.Equal(t, "logs", got.Parameters["bucket"])
	assert.Equal(t, true, got.Parameters["verbose"])
}

func TestCreate_Scheduled(t *testing.T) {
	s, _, fx := setup(t)

	e, err := s.Create(context.Background(), NewExecution{
		ScriptID: fx.ScriptID, ProfileID: fx.ProfileID, UserID: fx.UserID,
		ScheduleID: util.Ptr(int64(12)),
	})
	require.NoError(t, err)

	got, err := s.Get(context.Background(), e.ID)
	require.NoError(t, err)
	assert.True(t, got.IsScheduled)
	require.NotNil(t, got.ScheduleID)
	assert.Equal(t, int64(12), *got.ScheduleID)
}

func TestTransitions_Monotonic(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		path    []Status
		allowed []bool
	}{
		{"happy path", []Status{StatusRunning, StatusSuccess}, []bool{true, true}},
		{"spawn failure", []Status{StatusFailed}, []bool{true}},
		{"cancel while running", []Status{StatusRunning, StatusCancelled}, []bool{true, true}},
		{"cancel while pending is refused", []Status{StatusCancelled}, []bool{false}},
		{"success straight from pending is refused", []Status{StatusSuccess}, []bool{false}},
		{"terminal is final", []Status{StatusRunning, StatusCancelled, StatusSuccess, StatusFailed}, []bool{true, true, false, false}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _, fx := setup(t)
			e := create(t, s, fx)

			for i, target := range tt.path {
				var ok bool
				var err error
				if target == StatusRunning {
					err = s.MarkRunning(ctx, e.ID, "")
					ok = err == nil
					if !tt.allowed[i] {
						assert.True(t, errors.IsPreconditionFailedError(err))
					}
				} else {
					ok, err = s.Finish(ctx, e.ID, target, "")
					require.NoError(t, err)
				}
				assert.Equal(t, tt.allowed[i], ok, "step %d -> %s", i, target)
			}

			got, err := s.Get(ctx, e.ID)
			require.NoError(t, err)
			assert.Equal(t, got.Status.IsTerminal(), got.EndTime != nil, "end_time set iff terminal")
		})
	}
}

// Random operation sequences over several rows never move a status
// backwards, never leave a terminal status, and keep end_time set exactly
// when the status is terminal.
func TestTransitions_RandomSequences(t *testing.T) {
	const seed = 20260516
	rng := rand.New(rand.NewSource(seed))
	t.Logf("seed %d", seed)

	s, _, fx := setup(t)
	ctx := context.Background()
	now := time.Date(2026, 5, 16, 8, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return now })

	rank := func(st Status) int {
		switch {
		case st == StatusPending:
			return 0
		case st == StatusRunning:
			return 1
		default:
			return 2
		}
	}
	targets := []Status{StatusPending, StatusRunning, StatusSuccess, StatusFailed, StatusCancelled}
	from := map[Status][]Status{
		StatusRunning:   {StatusPending},
		StatusSuccess:   {StatusRunning},
		StatusCancelled: {StatusRunning},
		StatusFailed:    {StatusPending, StatusRunning},
	}

	type model struct {
		status  Status
		endTime *time.Time
	}
	rows := make(map[int64]*model)
	var ids []int64
	for i := 0; i < 8; i++ {
		e := create(t, s, fx)
		rows[e.ID] = &model{status: StatusPending}
		ids = append(ids, e.ID)
	}

	for step := 0; step < 400; step++ {
		now = now.Add(time.Second)
		id := ids[rng.Intn(len(ids))]
		before := rows[id]
		target := targets[rng.Intn(len(targets))]

		var ok bool
		switch {
		case target == StatusRunning && rng.Intn(2) == 0:
			err := s.MarkRunning(ctx, id, "")
			ok = err == nil
			if !ok {
				require.True(t, errors.IsPreconditionFailedError(err), "step %d: %v", step, err)
			}
		case target.IsTerminal():
			var err error
			ok, err = s.Finish(ctx, id, target, "")
			require.NoError(t, err, "step %d", step)
		default:
			_, err := s.Finish(ctx, id, target, "")
			require.True(t, errors.IsInvalidRequestError(err), "step %d: Finish(%s)", step, target)
		}

		got, err := s.Get(ctx, id)
		require.NoError(t, err)

		allowed := false
		for _, src := range from[target] {
			allowed = allowed || src == before.status
		}
		if ok {
			require.True(t, allowed, "step %d: %s -> %s was applied", step, before.status, target)
			require.Equal(t, target, got.Status)
		} else {
			require.Equal(t, before.status, got.Status, "step %d: refused %s -> %s changed the row", step, before.status, target)
		}

		require.GreaterOrEqual(t, rank(got.Status), rank(before.status), "step %d: status moved backwards", step)
		if before.status.IsTerminal() {
			require.Equal(t, before.status, got.Status, "step %d: terminal status changed", step)
			require.NotNil(t, got.EndTime)
			require.True(t, before.endTime.Equal(*got.EndTime), "step %d: end_time rewritten", step)
		}
		require.Equal(t, got.Status.IsTerminal(), got.EndTime != nil, "step %d: end_time set iff terminal (%s)", step, got.Status)

		rows[id] = &model{status: got.Status, endTime: got.EndTime}
	}

	terminal := 0
	for _, m := range rows {
		if m.status.IsTerminal() {
			terminal++
		}
	}
	assert.Positive(t, terminal, "the sequence should reach terminal states")
}

func TestFinish_KeepsFirstEndTime(t *testing.T) {
	s, _, fx := setup(t)
	ctx := context.Background()

	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	now := base
	s.SetClock(func() time.Time { return now })

	e := create(t, s, fx)
	require.NoError(t, s.MarkRunning(ctx, e.ID, "[SYSTEM] Starting script execution...\n"))

	now = base.Add(time.Minute)
	ok, err := s.Finish(ctx, e.ID, StatusCancelled, "\n[SYSTEM] Cancellation requested by user - terminating process...")
	require.NoError(t, err)
	require.True(t, ok)

	now = base.Add(2 * time.Minute)
	ok, err = s.Finish(ctx, e.ID, StatusFailed, "\n[SYSTEM] Script execution timed out and was automatically terminated.")
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := s.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)
	assert.Equal(t, time.Minute, got.Duration())
	assert.NotContains(t, got.Output, "timed out", "a refused transition appends nothing")
}

func TestFinish_RejectsNonTerminal(t *testing.T) {
	s, _, fx := setup(t)
	e := create(t, s, fx)

	_, err := s.Finish(context.Background(), e.ID, StatusRunning, "")
	assert.True(t, errors.IsInvalidRequestError(err))
}

func TestTransitions_UnknownExecution(t *testing.T) {
	s, _, _ := setup(t)
	ctx := context.Background()

	_, err := s.Finish(ctx, 999, StatusFailed, "")
	assert.True(t, errors.IsNotFoundError(err))
	assert.True(t, errors.IsNotFoundError(s.Append(ctx, 999, "x")))
	_, err = s.Status(ctx, 999)
	assert.True(t, errors.IsNotFoundError(err))
}

func TestAppend_ConcurrentWritersKeepEveryLine(t *testing.T) {
	s, _, fx := setup(t)
	ctx := context.Background()
	e := create(t, s, fx)

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				assert.NoError(t, s.Append(ctx, e.ID, fmt.Sprintf("w%d-%d\n", w, i)))
			}
		}(w)
	}
	wg.Wait()

	got, err := s.Get(ctx, e.ID)
	require.NoError(t, err)
	for w := 0; w < 4; w++ {
		for i := 0; i < 25; i++ {
			assert.Contains(t, got.Output, fmt.Sprintf("w%d-%d\n", w, i))
		}
	}
	assert.Zero(t, s.locks.size(), "per-id locks are released")
}

func TestAppend_PreservesOrder(t *testing.T) {
	s, _, fx := setup(t)
	ctx := context.Background()
	e := create(t, s, fx)

	require.NoError(t, s.MarkRunning(ctx, e.ID, "[SYSTEM] Starting script execution...\n"))
	require.NoError(t, s.Append(ctx, e.ID, "one\ntwo\n"))
	require.NoError(t, s.Append(ctx, e.ID, ""))
	require.NoError(t, s.Append(ctx, e.ID, "three\n"))
	_, err := s.Finish(ctx, e.ID, StatusSuccess, "\n[SYSTEM] Script execution completed successfully")
	require.NoError(t, err)

	got, err := s.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t,
		"[SYSTEM] Starting script execution...\none\ntwo\nthree\n\n[SYSTEM] Script execution completed successfully",
		got.Output)
}

func TestGetWithDetails(t *testing.T) {
	s, conn, fx := setup(t)
	ctx := context.Background()
	e := create(t, s, fx)

	d, err := s.GetWithDetails(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, "report", d.ScriptName)
	assert.Equal(t, "/opt/scripts/report.py", d.ScriptPath)
	assert.Equal(t, "dev", d.ProfileName)
	assert.Equal(t, "alice", d.Username)

	// Deleting the script keeps the execution row
	_, err = conn.Exec("DELETE FROM scripts WHERE id = ?", fx.ScriptID)
	require.NoError(t, err)
	d, err = s.GetWithDetails(ctx, e.ID)
	require.NoError(t, err)
	assert.Zero(t, d.ScriptID)
	assert.Empty(t, d.ScriptName)
}

func TestHistory_PaginationAndFilters(t *testing.T) {
	s, conn, fx := setup(t)
	ctx := context.Background()

	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	now := base
	s.SetClock(func() time.Time { return now })

	otherScript := opstest.SeedScript(t, conn, "other", "/opt/other.py")
	bob := opstest.SeedUser(t, conn, "bob")

	var ids []int64
	for i := 0; i < 7; i++ {
		now = base.Add(time.Duration(i) * 12 * time.Hour)
		req := NewExecution{ScriptID: fx.ScriptID, ProfileID: fx.ProfileID, UserID: fx.UserID}
		if i%3 == 0 {
			req.ScriptID = otherScript
			req.UserID = bob
		}
		e, err := s.Create(ctx, req)
		require.NoError(t, err)
		ids = append(ids, e.ID)
	}
	require.NoError(t, s.MarkRunning(ctx, ids[1], ""))
	_, err := s.Finish(ctx, ids[1], StatusFailed, "")
	require.NoError(t, err)

	page, err := s.History(ctx, 1, 3, Filter{})
	require.NoError(t, err)
	assert.Equal(t, 7, page.TotalCount)
	assert.Equal(t, 3, page.TotalPages)
	assert.Equal(t, 1, page.CurrentPage)
	require.Len(t, page.Executions, 3)
	assert.Equal(t, ids[6], page.Executions[0].ID, "newest first")

	page, err = s.History(ctx, 3, 3, Filter{})
	require.NoError(t, err)
	require.Len(t, page.Executions, 1)
	assert.Equal(t, ids[0], page.Executions[0].ID)

	page, err = s.History(ctx, 9, 3, Filter{})
	require.NoError(t, err)
	assert.Empty(t, page.Executions)

	page, err = s.History(ctx, 1, 10, Filter{ScriptID: otherScript})
	require.NoError(t, err)
	assert.Equal(t, 3, page.TotalCount)

	page, err = s.History(ctx, 1, 10, Filter{UserID: bob, Status: StatusPending})
	require.NoError(t, err)
	assert.Equal(t, 3, page.TotalCount)

	page, err = s.History(ctx, 1, 10, Filter{Status: StatusFailed})
	require.NoError(t, err)
	require.Equal(t, 1, page.TotalCount)
	assert.Equal(t, ids[1], page.Executions[0].ID)

	page, err = s.History(ctx, 1, 10, Filter{Date: "2026-05-02"})
	require.NoError(t, err)
	assert.Equal(t, 2, page.TotalCount, "executions 2 and 3 started on May 2nd")

	_, err = s.History(ctx, 1, 10, Filter{Date: "May 2nd"})
	assert.True(t, errors.IsInvalidRequestError(err))
}

func TestStats_TrailingWindow(t *testing.T) {
	s, _, fx := setup(t)
	ctx := context.Background()

	today := time.Date(2026, 5, 10, 15, 0, 0, 0, time.UTC)
	now := today
	s.SetClock(func() time.Time { return now })

	run := func(at time.Time, final Status) {
		now = at
		e := create(t, s, fx)
		if final == StatusPending {
			return
		}
		require.NoError(t, s.MarkRunning(ctx, e.ID, ""))
		if final != StatusRunning {
			_, err := s.Finish(ctx, e.ID, final, "")
			require.NoError(t, err)
		}
	}

	run(today.AddDate(0, 0, -30), StatusSuccess) // outside the window
	run(today.AddDate(0, 0, -2), StatusSuccess)
	run(today.AddDate(0, 0, -2), StatusFailed)
	run(today.AddDate(0, 0, -2), StatusCancelled)
	run(today, StatusRunning)
	run(today, StatusSuccess)
	run(today, StatusPending)

	now = today
	stats, err := s.Stats(ctx, 7)
	require.NoError(t, err)
	require.Len(t, stats, 2)

	assert.Equal(t, DayStats{Date: "2026-05-08", Success: 1, Failed: 1, Cancelled: 1}, stats[0])
	assert.Equal(t, DayStats{Date: "2026-05-10", Success: 1, Running: 1}, stats[1])
}

func TestRunningStartedBefore(t *testing.T) {
	s, _, fx := setup(t)
	ctx := context.Background()

	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	now := base
	s.SetClock(func() time.Time { return now })

	old := create(t, s, fx)
	require.NoError(t, s.MarkRunning(ctx, old.ID, ""))
	stalePending := create(t, s, fx)

	now = base.Add(20 * time.Minute)
	fresh := create(t, s, fx)
	require.NoError(t, s.MarkRunning(ctx, fresh.ID, ""))

	ids, err := s.RunningStartedBefore(ctx, base.Add(10*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, []int64{old.ID}, ids)
	assert.NotContains(t, ids, stalePending.ID)

	// Strictly before: a row started exactly at the cutoff is not selected
	ids, err = s.RunningStartedBefore(ctx, base)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestSetAIHelp(t *testing.T) {
	s, _, fx := setup(t)
	ctx := context.Background()
	e := create(t, s, fx)

	require.NoError(t, s.SetAIHelp(ctx, e.ID, "missing bucket", "create the bucket"))
	got, err := s.Get(ctx, e.ID)
	require.NoError(t, err)
	require.NotNil(t, got.AIAnalysis)
	assert.Equal(t, "missing bucket", *got.AIAnalysis)
	assert.Equal(t, "create the bucket", *got.AISolution)

	assert.True(t, errors.IsNotFoundError(s.SetAIHelp(ctx, 404, "a", "b")))
}

func TestHistoryLimit(t *testing.T) {
	conn := opstest.CreateTestDB(t)
	settings := catalog.NewSettingsStore(conn)
	ctx := context.Background()

	assert.Equal(t, DefaultHistoryLimit, HistoryLimit(ctx, settings))

	opstest.SeedSetting(t, conn, catalog.SettingHistoryLimit, "25")
	assert.Equal(t, 25, HistoryLimit(ctx, settings))

	opstest.SeedSetting(t, conn, catalog.SettingHistoryLimit, "lots")
	assert.Equal(t, DefaultHistoryLimit, HistoryLimit(ctx, settings))
}

func TestStore_DatabaseFailure(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	mock.ExpectExec("UPDATE execution_history").WillReturnError(errors.New("database is locked"))

	_, err = NewStore(conn).Finish(context.Background(), 1, StatusFailed, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to set execution 1 to Failed")
	require.NoError(t, mock.ExpectationsWereMet())
}
