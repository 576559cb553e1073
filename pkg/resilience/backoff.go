package resilience

import (
	"context"
	"errors"

	"github.com/cenkalti/backoff/v5"

	"taskqueue/pkg/taskerr"
)

// BackendCall is a transient-backend operation (Redis, etcd, Postgres,
// S3) that may fail intermittently.
type BackendCall func(ctx context.Context) error

// WithTransientRetry wraps call with exponential backoff, surfacing
// any error that survives every retry as a TransientBackendError so
// callers only ever see the task queue's own error kinds.
// A BackendCall that returns a *backoff.PermanentError stops retrying
// immediately and unwraps to the original error.
func WithTransientRetry(ctx context.Context, backendName string, call BackendCall) error {
	var permanentErr error
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := call(ctx)
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			permanentErr = permanent.Unwrap()
		}
		return struct{}{}, err
	}, backoff.WithMaxTries(5))
	if err == nil {
		return nil
	}
	if permanentErr != nil {
		return permanentErr
	}
	return &taskerr.TransientBackendError{Backend: backendName, Err: err}
}

// Permanent marks err as non-retryable, matching backoff/v5's
// convention for a BackendCall that should not be retried (e.g. a
// validation failure surfaced through a backend client).
func Permanent(err error) error {
	return backoff.Permanent(err)
}
