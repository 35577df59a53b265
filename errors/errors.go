// Package errors provides error handling for opsdeck.
//
// This package re-exports github.com/cockroachdb/errors, providing:
//   - Stack traces for debugging
//   - Error wrapping and context
//   - PII-safe error formatting
//
// On top of that it defines the error taxonomy shared by the runner,
// the scheduler and the CLI: not found, invalid request, precondition
// failed and external failure. Wrap one of the sentinels to classify an
// error; callers check with errors.Is or the Is*Error helpers.
//
//	if err := runner.Cancel(ctx, id); errors.IsPreconditionFailedError(err) {
//	    fmt.Println(errors.UserMessage(err))
//	}
package errors

import (
	"strings"

	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
)

// User-facing messages and details
var (
	WithHint           = crdb.WithHint
	WithHintf          = crdb.WithHintf
	WithDetail         = crdb.WithDetail
	WithDetailf        = crdb.WithDetailf
	WithSecondaryError = crdb.WithSecondaryError
)

// Error inspection
var (
	Is             = crdb.Is
	IsAny          = crdb.IsAny
	As             = crdb.As
	Unwrap         = crdb.Unwrap
	UnwrapAll      = crdb.UnwrapAll
	GetAllHints    = crdb.GetAllHints
	FlattenHints   = crdb.FlattenHints
	FlattenDetails = crdb.FlattenDetails
)

// GetStack returns the reportable stack trace attached to an error, if any.
var GetStack = crdb.GetReportableStackTrace

// Sentinel errors. Wrap these with Wrap() to add context while
// preserving the classification.
var (
	// ErrNotFound indicates a script, profile, execution or schedule does not exist
	ErrNotFound = New("not found")

	// ErrInvalidRequest indicates a malformed request (bad schedule type/value, missing fields)
	ErrInvalidRequest = New("invalid request")

	// ErrPreconditionFailed indicates the target is not in a state that allows the operation
	ErrPreconditionFailed = New("precondition failed")

	// ErrExternalFailure indicates a process spawn, credential or AI service failure
	ErrExternalFailure = New("external failure")
)

// IsNotFoundError checks if an error is or wraps ErrNotFound
func IsNotFoundError(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}

// IsInvalidRequestError checks if an error is or wraps ErrInvalidRequest
func IsInvalidRequestError(err error) bool {
	return err != nil && Is(err, ErrInvalidRequest)
}

// IsPreconditionFailedError checks if an error is or wraps ErrPreconditionFailed
func IsPreconditionFailedError(err error) bool {
	return err != nil && Is(err, ErrPreconditionFailed)
}

// IsExternalFailureError checks if an error is or wraps ErrExternalFailure
func IsExternalFailureError(err error) bool {
	return err != nil && Is(err, ErrExternalFailure)
}

// NewNotFoundError creates a not-found error with a formatted message
func NewNotFoundError(format string, args ...interface{}) error {
	return Wrapf(ErrNotFound, format, args...)
}

// NewInvalidRequestError creates an invalid-request error with a formatted message
func NewInvalidRequestError(format string, args ...interface{}) error {
	return Wrapf(ErrInvalidRequest, format, args...)
}

// NewPreconditionFailedError creates a precondition-failed error with a formatted message
func NewPreconditionFailedError(format string, args ...interface{}) error {
	return Wrapf(ErrPreconditionFailed, format, args...)
}

// WrapExternalFailure marks err as an external failure. The original
// error is kept as a secondary error so it stays visible in logs while
// UserMessage only reports the context.
func WrapExternalFailure(err error, context string) error {
	if err == nil {
		return nil
	}
	return WithSecondaryError(Wrap(ErrExternalFailure, context), err)
}

// UserMessage renders an error for display to a caller. Classified user
// errors keep their message without the sentinel suffix; external
// failures and unclassified errors collapse to a generic message.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	for _, sentinel := range []error{ErrNotFound, ErrInvalidRequest, ErrPreconditionFailed} {
		if Is(err, sentinel) {
			return strings.TrimSuffix(err.Error(), ": "+sentinel.Error())
		}
	}
	if Is(err, ErrExternalFailure) {
		return strings.TrimSuffix(err.Error(), ": "+ErrExternalFailure.Error())
	}
	return "internal error"
}
