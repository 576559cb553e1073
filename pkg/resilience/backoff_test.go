package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskqueue/pkg/taskerr"
)

func TestWithTransientRetrySucceedsEventually(t *testing.T) {
	attempts := 0
	err := WithTransientRetry(context.Background(), "redis", func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestWithTransientRetryWrapsExhaustedFailure(t *testing.T) {
	err := WithTransientRetry(context.Background(), "etcd", func(ctx context.Context) error {
		return errors.New("still down")
	})
	require.Error(t, err)
	var tbe *taskerr.TransientBackendError
	require.True(t, errors.As(err, &tbe))
	assert.Equal(t, "etcd", tbe.Backend)
}

func TestWithTransientRetryStopsOnPermanentError(t *testing.T) {
	attempts := 0
	err := WithTransientRetry(context.Background(), "postgres", func(ctx context.Context) error {
		attempts++
		return Permanent(errors.New("validation failed"))
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, "validation failed", err.Error())
}
