package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDo_SucceedsFirstAttempt(t *testing.T) {
	val, err := Do(context.Background(), Policy{MaxAttempts: 3, InitialBackoff: time.Millisecond}, func() (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, val)
}

func TestDo_SucceedsAfterRetries(t *testing.T) {
	attempts := 0
	val, err := Do(context.Background(), Policy{MaxAttempts: 5, InitialBackoff: time.Millisecond}, func() (string, error) {
		attempts++
		if attempts < 3 {
			return "", errors.New("not yet")
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", val)
	assert.Equal(t, 3, attempts)
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	cause := errors.New("still down")
	attempts := 0
	_, err := Do(context.Background(), Policy{MaxAttempts: 3, InitialBackoff: time.Millisecond}, func() (int, error) {
		attempts++
		return 0, cause
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, 3, attempts)
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Do(ctx, Policy{MaxAttempts: 3, InitialBackoff: time.Minute}, func() (int, error) {
		return 0, errors.New("transient")
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDo_OnRetryCallback(t *testing.T) {
	var seen []int
	_, _ = Do(context.Background(), Policy{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		OnRetry:        func(attempt int, err error, backoff time.Duration) { seen = append(seen, attempt) },
	}, func() (int, error) {
		return 0, errors.New("nope")
	})
	assert.Equal(t, []int{1, 2}, seen)
}
