// Package ledger is the authoritative record of script executions.
//
// Every status change goes through a guarded UPDATE so a terminal row can
// never change status again, and mutations of one execution are serialized
// with a per-id lock. Output is append-only.
package ledger

import (
	"time"
)

// Status is the lifecycle state of an execution
type Status string

const (
	StatusPending   Status = "Pending"
	StatusRunning   Status = "Running"
	StatusSuccess   Status = "Success"
	StatusFailed    Status = "Failed"
	StatusCancelled Status = "Cancelled"
)

// IsTerminal reports whether no further transition is allowed.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusSuccess, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// sourcesFor lists the states a row may be in to enter target.
func sourcesFor(target Status) []Status {
	switch target {
	case StatusRunning:
		return []Status{StatusPending}
	case StatusSuccess, StatusCancelled:
		return []Status{StatusRunning}
	case StatusFailed:
		return []Status{StatusPending, StatusRunning}
	}
	return nil
}

// Execution is one run of a script
type Execution struct {
	ID          int64
	ScriptID    int64 // 0 once the script is deleted
	ProfileID   int64
	UserID      int64
	Status      Status
	StartTime   *time.Time
	EndTime     *time.Time
	Output      string
	Parameters  map[string]interface{}
	IsScheduled bool
	ScheduleID  *int64
	AIAnalysis  *string
	AISolution  *string
}

// Details is an execution joined with the names of what it ran
type Details struct {
	Execution
	ScriptName  string
	ScriptPath  string
	ProfileName string
	Username    string
}

// Duration is end minus start, or zero while the run is unfinished.
func (e *Execution) Duration() time.Duration {
	if e.StartTime == nil || e.EndTime == nil {
		return 0
	}
	return e.EndTime.Sub(*e.StartTime)
}

// NewExecution describes a run about to start
type NewExecution struct {
	ScriptID   int64
	ProfileID  int64
	UserID     int64
	Parameters map[string]interface{}
	ScheduleID *int64 // set for scheduler-originated runs
}

// Filter narrows History. Zero values match everything.
type Filter struct {
	ScriptID int64
	Status   Status
	Date     string // YYYY-MM-DD, compared against the UTC date of start_time
	UserID   int64
}

// HistoryPage is one page of History
type HistoryPage struct {
	Executions  []*Details
	CurrentPage int
	TotalPages  int
	TotalCount  int
}

// DayStats counts executions started on one UTC date
type DayStats struct {
	Date      string
	Success   int
	Failed    int
	Running   int
	Cancelled int
}
