// Package schedule provides recurring script execution: daily at a fixed
// half-hour slot, or every N hours keeping its phase across restarts.
package schedule

import (
	"strconv"
	"time"

	"github.com/teranos/opsdeck/errors"
)

// Type is the kind of recurrence
type Type string

const (
	TypeDaily    Type = "daily"
	TypeInterval Type = "interval"
)

// Valid reports whether t is a known schedule type
func (t Type) Valid() bool {
	return t == TypeDaily || t == TypeInterval
}

// AllowedTimeSlots are the daily start times a schedule may use.
var AllowedTimeSlots = func() []string {
	slots := make([]string, 0, 48)
	for h := 0; h < 24; h++ {
		slots = append(slots, pad(h)+":00", pad(h)+":30")
	}
	return slots
}()

// AllowedIntervals are the interval lengths in hours.
var AllowedIntervals = []string{"1", "2", "3", "4", "6", "8", "12", "24"}

func pad(n int) string {
	if n < 10 {
		return "0" + strconv.Itoa(n)
	}
	return strconv.Itoa(n)
}

// Validation messages shown to the caller
const (
	msgInvalidType     = "Invalid schedule type"
	msgInvalidTime     = "Invalid schedule time. Please select from available options."
	msgInvalidInterval = "Invalid interval. Please select from available options."
	msgNoFields        = "No fields to update"
)

// ValidateValue checks value against the allowed values for typ.
func ValidateValue(typ Type, value string) error {
	switch typ {
	case TypeDaily:
		if !contains(AllowedTimeSlots, value) {
			return errors.NewInvalidRequestError(msgInvalidTime)
		}
	case TypeInterval:
		if !contains(AllowedIntervals, value) {
			return errors.NewInvalidRequestError(msgInvalidInterval)
		}
	default:
		return errors.NewInvalidRequestError(msgInvalidType)
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// Schedule is a persisted recurring trigger definition
type Schedule struct {
	ID         int64
	ScriptID   int64
	ProfileID  int64
	UserID     *int64
	Type       Type
	Value      string
	Enabled    bool
	Parameters map[string]interface{}
	JobID      string
	NextRun    *time.Time
	LastRun    *time.Time
	CreatedAt  time.Time
	Anchor     *time.Time // phase reference of interval schedules
}

// Interval returns the period of an interval schedule, zero otherwise.
func (s *Schedule) Interval() time.Duration {
	if s.Type != TypeInterval {
		return 0
	}
	hours, err := strconv.Atoi(s.Value)
	if err != nil || hours <= 0 {
		return 0
	}
	return time.Duration(hours) * time.Hour
}

// Details is a schedule joined with the names it references
type Details struct {
	*Schedule
	ScriptName  string
	ProfileName string
	Username    string
}

// CreateRequest describes a new schedule
type CreateRequest struct {
	ScriptID   int64
	ProfileID  int64
	UserID     int64
	Type       Type
	Value      string
	Parameters map[string]interface{}
}

// UpdateRequest changes a schedule. Nil fields are left alone.
type UpdateRequest struct {
	Enabled    *bool
	Type       *Type
	Value      *string
	ProfileID  *int64
	Parameters map[string]interface{}
}

func (u UpdateRequest) empty() bool {
	return u.Enabled == nil && u.Type == nil && u.Value == nil && u.ProfileID == nil && u.Parameters == nil
}
