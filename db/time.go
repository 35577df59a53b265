package db

import (
	"database/sql"
	"time"
)

// TimeLayout is the fixed-width UTC layout used for every timestamp column.
// Fixed width keeps lexical comparison in SQL equal to chronological order.
const TimeLayout = "2006-01-02T15:04:05.000Z07:00"

// DateLayout is the layout SQLite's date() returns for TimeLayout values.
const DateLayout = "2006-01-02"

// FormatTime renders t in UTC using TimeLayout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime parses a TimeLayout (or RFC3339) timestamp.
func ParseTime(s string) (time.Time, error) {
	t, err := time.Parse(TimeLayout, s)
	if err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

// NullTime converts a nullable timestamp column into a *time.Time.
// Unparseable values are treated as NULL.
func NullTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t, err := ParseTime(ns.String)
	if err != nil {
		return nil
	}
	return &t
}

// TimeArg converts an optional time into a value suitable for a query argument.
func TimeArg(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return FormatTime(*t)
}
