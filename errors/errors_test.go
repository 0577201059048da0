package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("remote answered %d", e.code)
}

func TestWrapKeepsSentinelAndCause(t *testing.T) {
	cause := &statusError{code: 502}
	err := Wrapf(Mark(cause, ErrTransport), "list jobs page %d", 3)

	assert.Equal(t, "list jobs page 3: remote answered 502", err.Error())
	assert.True(t, IsTransportError(err))

	var se *statusError
	require.True(t, As(err, &se))
	assert.Equal(t, 502, se.code)
}

func TestHintsAndDetailsSurviveWrapping(t *testing.T) {
	err := WithHint(Wrapf(ErrRateLimited, "%d submissions in the last hour", 5), "wait for the next slot")
	err = WithDetailf(err, "Next slot in %s", "12m0s")
	err = Wrap(err, "submit batch")

	assert.True(t, Is(err, ErrRateLimited))
	assert.Equal(t, []string{"wait for the next slot"}, GetAllHints(err))
	assert.Equal(t, []string{"Next slot in 12m0s"}, GetAllDetails(err))
}

func TestSecondaryErrorDoesNotChangeIdentity(t *testing.T) {
	primary := NewValidationError("min_call_duration above max_call_duration")
	err := WithSecondaryError(primary, New("restore backup: permission denied"))

	assert.True(t, IsValidationError(err))
	assert.Equal(t, primary.Error(), err.Error())
}

func TestSentinelConstructors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
		check    func(error) bool
		message  string
	}{
		{"validation", NewValidationError("batch_number %d outside [%d, %d]", 11, 1, 10), ErrValidation, IsValidationError, "batch_number 11 outside [1, 10]"},
		{"invalid input", NewInvalidInputError("bad time %q", "25:00"), ErrInvalidInput, IsInvalidInputError, `bad time "25:00"`},
		{"not found", NewNotFoundError("submission %s", "abc"), ErrNotFound, IsNotFoundError, "submission abc"},
		{"invalid request", NewInvalidRequestError("empty file"), ErrInvalidRequest, IsInvalidRequestError, "empty file"},
		{"conflict", NewConflictError("%s already exists", "config.toml"), ErrConflict, func(err error) bool { return Is(err, ErrConflict) }, "config.toml already exists"},
		{"unavailable", NewServiceUnavailableError("no home directory"), ErrServiceUnavailable, func(err error) bool { return Is(err, ErrServiceUnavailable) }, "no home directory"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, Is(tt.err, tt.sentinel))
			assert.True(t, tt.check(tt.err))
			assert.Contains(t, tt.err.Error(), tt.message)
		})
	}
}

func TestPredicatesRejectNilAndOtherKinds(t *testing.T) {
	assert.False(t, IsValidationError(nil))
	assert.False(t, IsTransportError(nil))
	assert.False(t, IsValidationError(NewInvalidInputError("x")))
	assert.False(t, IsInvalidInputError(NewValidationError("x")))
	assert.True(t, IsTransportError(Wrap(ErrTransport, "list jobs")))
}
