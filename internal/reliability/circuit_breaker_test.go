package reliability

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCircuitBreaker_RejectsInvalidParams(t *testing.T) {
	_, err := NewCircuitBreaker(0, time.Second)
	assert.Error(t, err)

	_, err = NewCircuitBreaker(3, 0)
	assert.Error(t, err)
}

func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	cb, err := NewCircuitBreaker(3, time.Minute)
	require.NoError(t, err)

	failing := func() error { return errors.New("boom") }
	for i := 0; i < 3; i++ {
		_ = cb.Execute(failing)
	}
	assert.Equal(t, StateOpen, cb.GetState())

	err = cb.Execute(func() error { return nil })
	assert.ErrorIs(t, err, ErrCircuitBreakerOpen)
}

func TestCircuitBreaker_ClosesOnSuccessResettingFailureCount(t *testing.T) {
	cb, err := NewCircuitBreaker(3, time.Minute)
	require.NoError(t, err)

	_ = cb.Execute(func() error { return errors.New("boom") })
	_ = cb.Execute(func() error { return errors.New("boom") })
	assert.Equal(t, 2, cb.GetFailures())

	require.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, 0, cb.GetFailures())
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestCircuitBreaker_HalfOpensAfterTimeoutAndCloses(t *testing.T) {
	cb, err := NewCircuitBreaker(1, 10*time.Millisecond)
	require.NoError(t, err)

	require.Error(t, cb.Execute(func() error { return errors.New("boom") }))
	assert.Equal(t, StateOpen, cb.GetState())

	time.Sleep(20 * time.Millisecond)

	require.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestCircuitBreaker_HalfOpenProbeFailureReopens(t *testing.T) {
	cb, err := NewCircuitBreaker(1, 10*time.Millisecond)
	require.NoError(t, err)

	require.Error(t, cb.Execute(func() error { return errors.New("boom") }))
	time.Sleep(20 * time.Millisecond)

	require.Error(t, cb.Execute(func() error { return errors.New("still broken") }))
	assert.Equal(t, StateOpen, cb.GetState())
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb, err := NewCircuitBreaker(1, time.Minute)
	require.NoError(t, err)

	_ = cb.Execute(func() error { return errors.New("boom") })
	assert.Equal(t, StateOpen, cb.GetState())

	cb.Reset()
	assert.Equal(t, StateClosed, cb.GetState())
	assert.Equal(t, 0, cb.GetFailures())
}
