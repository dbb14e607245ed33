package apperr

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKindMatching(t *testing.T) {
	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	err := fmt.Errorf("create: %w", Conflict(start, start.Add(time.Hour), "professional %s is busy", "p1"))

	assert.True(t, errors.Is(err, SlotUnavailable))
	assert.False(t, errors.Is(err, InvalidTransition))
	assert.Equal(t, SlotUnavailable, KindOf(err))

	var appErr *Error
	if assert.True(t, errors.As(err, &appErr)) {
		assert.Equal(t, start, appErr.Conflict.Start)
		assert.False(t, appErr.Retryable())
	}
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("i/o timeout")
	err := Wrap(ProviderTransientFailure, cause, "send sms")

	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, ProviderTransientFailure)
	assert.True(t, IsRetryable(err))
	assert.Contains(t, err.Error(), "i/o timeout")
}

func TestBareKind(t *testing.T) {
	err := fmt.Errorf("lookup: %w", NotFound)
	assert.Equal(t, NotFound, KindOf(err))
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
}
