package reliability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryWithBackoff_SucceedsOnFirstTry(t *testing.T) {
	calls := 0
	err := RetryWithBackoff(context.Background(), DefaultRetryConfig(), func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryWithBackoff_RetriesRetryableErrorUntilSuccess(t *testing.T) {
	calls := 0
	cfg := RetryConfig{MaxAttempts: 5, InitialDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond, BackoffFactor: 2, Jitter: false}
	err := RetryWithBackoff(context.Background(), cfg, func() error {
		calls++
		if calls < 3 {
			return errors.New("connection refused")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryWithBackoff_StopsImmediatelyOnNonRetryableError(t *testing.T) {
	calls := 0
	cfg := RetryConfig{MaxAttempts: 5, InitialDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond, BackoffFactor: 2}
	err := RetryWithBackoff(context.Background(), cfg, func() error {
		calls++
		return errors.New("authentication failed")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryWithBackoff_GivesUpAfterMaxAttempts(t *testing.T) {
	calls := 0
	cfg := RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, BackoffFactor: 2}
	err := RetryWithBackoff(context.Background(), cfg, func() error {
		calls++
		return errors.New("network unreachable")
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryWithBackoff_RespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cfg := RetryConfig{MaxAttempts: 5, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, BackoffFactor: 2}

	calls := 0
	err := RetryWithBackoff(ctx, cfg, func() error {
		calls++
		return errors.New("timeout")
	})
	require.Error(t, err)
	assert.LessOrEqual(t, calls, 1)
}

func TestCategorizeError(t *testing.T) {
	assert.Equal(t, ErrorAuthentication, CategorizeError(errors.New("authentication failed")))
	assert.Equal(t, ErrorNetwork, CategorizeError(errors.New("connection refused by peer")))
	assert.Equal(t, ErrorTimeout, CategorizeError(errors.New("i/o timeout")))
	assert.Equal(t, ErrorPermanent, CategorizeError(errors.New("mailbox does not exist")))
	assert.Equal(t, ErrorTemporary, CategorizeError(errors.New("something odd happened")))
}

func TestShouldRetry(t *testing.T) {
	assert.True(t, ShouldRetry(errors.New("connection reset")))
	assert.True(t, ShouldRetry(errors.New("deadline exceeded")))
	assert.False(t, ShouldRetry(errors.New("invalid credentials")))
	assert.False(t, ShouldRetry(errors.New("quota exceeded")))
}
