package gai

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, CodeOK},
		{"resolver error", NewResolverError(EAINoName, "x", nil), EAINoName},
		{"wrapped resolver error", fmt.Errorf("outer: %w", NewResolverError(EAIAgain, "x", nil)), EAIAgain},
		{"timeout", ErrTimeout, CodeTimeout},
		{"ctx deadline", fmt.Errorf("%w: %w", ErrTimeout, context.DeadlineExceeded), CodeTimeout},
		{"ctx canceled", fmt.Errorf("gai: lookup abandoned: %w", context.Canceled), CodeTimeout},
		{"start failed", fmt.Errorf("%w: %w", ErrStartFailed, ErrClosed), CodeStartFailed},
		{"item not found", ErrItemNotFound, CodeItemNotFound},
		{"param mismatch", ErrParamMismatch, CodeParamMismatch},
		{"internal state", ErrInternalState, CodeInternalState},
		{"anything else", errors.New("boom"), CodeInternalState},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Code(tt.err))
		})
	}
}

func TestOutcomeOf(t *testing.T) {
	assert.Equal(t, OutcomeSucceeded, OutcomeOf(nil))
	assert.Equal(t, OutcomeFailed, OutcomeOf(NewResolverError(EAIFail, "x", nil)))
	assert.Equal(t, OutcomeTimedOut, OutcomeOf(ErrTimeout))
	assert.Equal(t, OutcomeCanceled, OutcomeOf(fmt.Errorf("gai: lookup abandoned: %w", context.Canceled)))
	assert.Equal(t, OutcomeStartFailed, OutcomeOf(fmt.Errorf("%w: x", ErrStartFailed)))
	assert.Equal(t, OutcomeInternalError, OutcomeOf(ErrParamMismatch))
}

func TestResolverErrorMessage(t *testing.T) {
	assert.Equal(t, "lookup example.com: name or service not known",
		NewResolverError(EAINoName, "example.com", nil).Error())
	assert.Equal(t, "lookup: system error", NewResolverError(EAISystem, "", nil).Error())

	cause := errors.New("connection refused")
	err := NewResolverError(EAIAgain, "example.com", cause)
	assert.Equal(t, "lookup example.com: connection refused", err.Error())
	assert.ErrorIs(t, err, cause)
}

func TestCodeName(t *testing.T) {
	assert.Equal(t, "timed out", CodeName(CodeTimeout))
	assert.Equal(t, "success", CodeName(CodeOK))
	assert.Equal(t, "unknown error -42", CodeName(-42))
}

func TestIsTimeout(t *testing.T) {
	assert.True(t, IsTimeout(ErrTimeout))
	assert.True(t, IsTimeout(fmt.Errorf("%w: %w", ErrTimeout, context.DeadlineExceeded)))
	assert.False(t, IsTimeout(context.Canceled))
	assert.False(t, IsTimeout(NewResolverError(EAIAgain, "x", nil)))
	assert.False(t, IsTimeout(nil))
}
