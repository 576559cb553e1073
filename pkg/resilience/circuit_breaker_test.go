package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitOpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker("redis", CircuitBreakerConfig{FailureThreshold: 2, SuccessThreshold: 1, Timeout: time.Hour, MaxRequests: 1})

	boom := errors.New("boom")
	_ = cb.Execute(context.Background(), func() error { return boom })
	_ = cb.Execute(context.Background(), func() error { return boom })

	assert.Equal(t, CircuitOpen, cb.State())
	err := cb.Execute(context.Background(), func() error { return nil })
	require.ErrorIs(t, err, ErrCircuitOpen)
}

func TestCircuitHalfOpensAfterTimeout(t *testing.T) {
	cb := NewCircuitBreaker("etcd", CircuitBreakerConfig{FailureThreshold: 1, SuccessThreshold: 1, Timeout: 10 * time.Millisecond, MaxRequests: 1})

	_ = cb.Execute(context.Background(), func() error { return errors.New("boom") })
	require.Equal(t, CircuitOpen, cb.State())

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, CircuitHalfOpen, cb.State())

	require.NoError(t, cb.Execute(context.Background(), func() error { return nil }))
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestResetClearsState(t *testing.T) {
	cb := NewCircuitBreaker("s3", DefaultCircuitBreakerConfig())
	_ = cb.Execute(context.Background(), func() error { return errors.New("boom") })
	cb.Reset()
	assert.Equal(t, CircuitClosed, cb.State())
}
