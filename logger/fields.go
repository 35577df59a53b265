package logger

import (
	"context"

	"go.uber.org/zap"
)

// Standard field names for consistent structured logging.
// Use these constants instead of raw strings.
const (
	// Identity and context
	FieldExecutionID = "execution_id"
	FieldScheduleID  = "schedule_id"
	FieldScriptID    = "script_id"
	FieldProfileID   = "profile_id"
	FieldUserID      = "user_id"
	FieldJobID       = "job_id"
	FieldClientID    = "client_id"

	// Components
	FieldComponent = "component"

	// Process
	FieldPID      = "pid"
	FieldCommand  = "command"
	FieldExitCode = "exit_code"
	FieldSignal   = "signal"

	// Timing
	FieldDurationMS = "duration_ms"
	FieldNextRun    = "next_run"
	FieldInterval   = "interval"

	// Errors
	FieldError = "error"

	// Counts and status
	FieldCount  = "count"
	FieldStatus = "status"

	// Segment symbol (꩜, ✿, ❀, ⊔)
	FieldSymbol = "symbol"
)

type contextKey string

const (
	executionIDKey contextKey = "logger_execution_id"
	componentKey   contextKey = "logger_component"
)

// WithExecutionID adds an execution ID to the context for logging
func WithExecutionID(ctx context.Context, executionID int64) context.Context {
	return context.WithValue(ctx, executionIDKey, executionID)
}

// WithComponent adds a component name to the context for logging
func WithComponent(ctx context.Context, component string) context.Context {
	return context.WithValue(ctx, componentKey, component)
}

// FieldsFromContext extracts logging fields from context.
// Returns key-value pairs suitable for use with Infow/Errorw/etc.
func FieldsFromContext(ctx context.Context) []interface{} {
	var fields []interface{}

	if id, ok := ctx.Value(executionIDKey).(int64); ok && id != 0 {
		fields = append(fields, FieldExecutionID, id)
	}
	if component, ok := ctx.Value(componentKey).(string); ok && component != "" {
		fields = append(fields, FieldComponent, component)
	}

	return fields
}

// LoggerFromContext returns base enriched with fields extracted from context.
func LoggerFromContext(ctx context.Context, base *zap.SugaredLogger) *zap.SugaredLogger {
	fields := FieldsFromContext(ctx)
	if len(fields) == 0 {
		return base
	}
	return base.With(fields...)
}

// ComponentLogger returns a named logger for a specific component.
// This is the preferred way to get a logger for dependency injection.
func ComponentLogger(name string) *zap.SugaredLogger {
	return Logger.Named(name)
}
