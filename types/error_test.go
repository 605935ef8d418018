package types

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestErrorKindClassification(t *testing.T) {
	transient := NewError(ErrTransient, "upstream timeout").WithProvider("llm")
	assert.Equal(t, ErrTransient, Kind(transient))
	assert.True(t, IsRetryable(transient))

	auth := NewError(ErrAuthExpired, "token expired")
	assert.Equal(t, ErrAuthExpired, Kind(auth))
	assert.False(t, IsRetryable(auth))

	stale := NewError(ErrStaleCallback, "workflow already terminal")
	assert.True(t, IsStaleCallback(stale))
	assert.False(t, IsRetryable(stale))
}

func TestUnclassifiedErrorsAreInvalidRequest(t *testing.T) {
	assert.Equal(t, ErrInvalidRequest, Kind(errors.New("something odd")))
	assert.False(t, IsRetryable(errors.New("something odd")))
}

func TestErrorWrapping(t *testing.T) {
	cause := errors.New("connection reset")
	err := NewError(ErrTransient, "send failed").WithCause(cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "TRANSIENT_PROVIDER_ERROR")
	assert.Contains(t, err.Error(), "connection reset")

	wrapped := fmt.Errorf("dispatch: %w", err)
	assert.Equal(t, ErrTransient, Kind(wrapped))
}

func TestQuotaRetryAfterHint(t *testing.T) {
	err := NewError(ErrQuotaExceeded, "daily quota exhausted").WithRetryAfter(42 * time.Second)
	assert.Equal(t, 42*time.Second, err.RetryAfter)
	assert.False(t, IsRetryable(err))
}

func TestItemStatusTerminal(t *testing.T) {
	assert.True(t, ItemStatusCompleted.Terminal())
	assert.True(t, ItemStatusRejected.Terminal())
	assert.True(t, ItemStatusError.Terminal())
	assert.False(t, ItemStatusAwaitingApproval.Terminal())
	assert.False(t, ItemStatusPending.Terminal())
}

func TestActionTypeValid(t *testing.T) {
	assert.True(t, ActionApprove.Valid())
	assert.True(t, ActionReject.Valid())
	assert.True(t, ActionChangeCategory.Valid())
	assert.False(t, ActionType("escalate").Valid())
}
