package db

import (
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatTime_FixedWidthUTC(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*3600)
	a := FormatTime(time.Date(2026, 3, 1, 10, 0, 0, 0, loc))
	b := FormatTime(time.Date(2026, 3, 1, 9, 0, 0, 500_000_000, time.UTC))

	assert.Equal(t, "2026-03-01T08:00:00.000Z", a)
	assert.Equal(t, "2026-03-01T09:00:00.500Z", b)
	assert.Len(t, a, len(b))
	assert.Less(t, a, b)
}

func TestParseTime_RoundTrip(t *testing.T) {
	in := time.Date(2026, 3, 1, 9, 30, 15, 250_000_000, time.UTC)
	out, err := ParseTime(FormatTime(in))
	require.NoError(t, err)
	assert.True(t, in.Equal(out))

	legacy, err := ParseTime("2026-03-01T09:30:15+02:00")
	require.NoError(t, err)
	assert.Equal(t, 7, legacy.UTC().Hour())
}

func TestNullTime(t *testing.T) {
	assert.Nil(t, NullTime(sql.NullString{}))
	assert.Nil(t, NullTime(sql.NullString{Valid: true, String: "garbage"}))

	got := NullTime(sql.NullString{Valid: true, String: "2026-03-01T09:00:00.000Z"})
	require.NotNil(t, got)
	assert.Equal(t, 9, got.Hour())

	assert.Nil(t, TimeArg(nil))
	assert.Equal(t, "2026-03-01T09:00:00.000Z", TimeArg(got))
}
