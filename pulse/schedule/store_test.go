package schedule

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/opsdeck/errors"
	opstest "github.com/teranos/opsdeck/internal/testing"
	"github.com/teranos/opsdeck/internal/util"
)

func TestStore_RoundTrip(t *testing.T) {
	conn := opstest.CreateTestDB(t)
	fx := opstest.SeedCatalog(t, conn, "/opt/scripts/report.py")
	store := NewStore(conn)
	ctx := context.Background()

	anchor := t0.Add(123456 * time.Microsecond)
	sc := &Schedule{
		ScriptID:   fx.ScriptID,
		ProfileID:  fx.ProfileID,
		UserID:     util.Ptr(fx.UserID),
		Type:       TypeInterval,
		Value:      "3",
		Enabled:    true,
		Parameters: map[string]interface{}{"limit": float64(10)},
		NextRun:    util.Ptr(t0.Add(3 * time.Hour)),
		CreatedAt:  t0,
		Anchor:     &anchor,
	}
	require.NoError(t, store.Insert(ctx, sc))
	require.NotZero(t, sc.ID)

	got, err := store.Get(ctx, sc.ID)
	require.NoError(t, err)
	assert.Equal(t, TypeInterval, got.Type)
	assert.Equal(t, "3", got.Value)
	assert.Equal(t, 3*time.Hour, got.Interval())
	assert.True(t, got.Enabled)
	assert.Equal(t, float64(10), got.Parameters["limit"])
	assert.True(t, t0.Add(3*time.Hour).Equal(*got.NextRun))
	assert.Nil(t, got.LastRun)
	assert.True(t, t0.Equal(got.CreatedAt))
	require.NotNil(t, got.Anchor)
	assert.WithinDuration(t, anchor, *got.Anchor, time.Microsecond)
	assert.Empty(t, got.JobID)
}

func TestStore_SetTriggerKeepsAnchorWhenNil(t *testing.T) {
	conn := opstest.CreateTestDB(t)
	fx := opstest.SeedCatalog(t, conn, "/opt/scripts/report.py")
	store := NewStore(conn)
	ctx := context.Background()

	sc := &Schedule{ScriptID: fx.ScriptID, ProfileID: fx.ProfileID, Type: TypeInterval, Value: "1",
		Enabled: true, CreatedAt: t0, Anchor: util.Ptr(t0)}
	require.NoError(t, store.Insert(ctx, sc))

	require.NoError(t, store.SetTrigger(ctx, sc.ID, "job-1", t0.Add(time.Hour), nil))
	got, err := store.Get(ctx, sc.ID)
	require.NoError(t, err)
	assert.Equal(t, "job-1", got.JobID)
	assert.True(t, t0.Equal(*got.Anchor))
	assert.Nil(t, got.UserID)

	assert.True(t, errors.IsNotFoundError(store.SetTrigger(ctx, 999, "x", t0, nil)))
}

func TestStore_CascadeWithScript(t *testing.T) {
	conn := opstest.CreateTestDB(t)
	fx := opstest.SeedCatalog(t, conn, "/opt/scripts/report.py")
	store := NewStore(conn)
	ctx := context.Background()

	sc := &Schedule{ScriptID: fx.ScriptID, ProfileID: fx.ProfileID, Type: TypeDaily, Value: "08:00",
		Enabled: true, CreatedAt: t0}
	require.NoError(t, store.Insert(ctx, sc))

	_, err := conn.Exec("DELETE FROM scripts WHERE id = ?", fx.ScriptID)
	require.NoError(t, err)

	_, err = store.Get(ctx, sc.ID)
	assert.True(t, errors.IsNotFoundError(err))
}

func TestStore_DatabaseFailure(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	mock.ExpectExec("UPDATE schedules").WillReturnError(errors.New("database is locked"))

	err = NewStore(conn).RecordRun(context.Background(), 4, t0, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to record run of schedule 4")
	assert.False(t, errors.IsNotFoundError(err))
	require.NoError(t, mock.ExpectationsWereMet())
}
