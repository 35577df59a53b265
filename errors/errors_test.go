package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrap(t *testing.T) {
	original := New("original")
	wrapped := Wrap(original, "wrapped")

	assert.Contains(t, wrapped.Error(), "wrapped")
	assert.Contains(t, wrapped.Error(), "original")
	assert.True(t, Is(wrapped, original))
}

func TestTaxonomy(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{"not found", NewNotFoundError("script %d", 7), IsNotFoundError},
		{"invalid request", NewInvalidRequestError("invalid schedule type"), IsInvalidRequestError},
		{"precondition", NewPreconditionFailedError("execution %d is not running", 3), IsPreconditionFailedError},
		{"external", WrapExternalFailure(New("exec: python: not found"), "failed to start process"), IsExternalFailureError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Error(t, tt.err)
			assert.True(t, tt.check(tt.err))
			assert.True(t, tt.check(Wrap(tt.err, "outer")), "classification survives wrapping")
		})
	}
}

func TestTaxonomy_NilIsNeverClassified(t *testing.T) {
	assert.False(t, IsNotFoundError(nil))
	assert.False(t, IsInvalidRequestError(nil))
	assert.False(t, IsPreconditionFailedError(nil))
	assert.False(t, IsExternalFailureError(nil))
	assert.Nil(t, WrapExternalFailure(nil, "ignored"))
}

func TestUserMessage(t *testing.T) {
	assert.Equal(t, "script 7", UserMessage(NewNotFoundError("script %d", 7)))
	assert.Equal(t, "No fields to update", UserMessage(NewInvalidRequestError("No fields to update")))
	assert.Equal(t, "failed to start process",
		UserMessage(WrapExternalFailure(fmt.Errorf("exec: python: not found"), "failed to start process")))
	assert.Equal(t, "internal error", UserMessage(New("disk I/O error")))
	assert.Empty(t, UserMessage(nil))
}

func TestWrapExternalFailure_KeepsCause(t *testing.T) {
	cause := New("connection refused")
	err := WrapExternalFailure(cause, "openai request failed")

	assert.NotContains(t, err.Error(), "connection refused")
	assert.Contains(t, fmt.Sprintf("%+v", err), "connection refused")
}
