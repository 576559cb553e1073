package retry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskqueue/pkg/job"
)

// failJob walks j through the status graph to FAILED, mirroring what
// coordinator.completeFailure does before ever calling HandleFailure:
// HandleFailure assumes its caller already made the FAILED transition.
func failJob(t *testing.T, j *job.Job) {
	t.Helper()
	switch j.Status {
	case job.StatusPending:
		require.NoError(t, job.Transition(j, job.StatusRunning))
	case job.StatusRetrying:
		require.NoError(t, job.Transition(j, job.StatusPending))
		require.NoError(t, job.Transition(j, job.StatusRunning))
	}
	require.NoError(t, job.Transition(j, job.StatusFailed))
}

func TestExponentialBackoffScenarioS3(t *testing.T) {
	j := job.New("a", nil, job.PriorityNormal)
	j.RetryConfig = job.RetryConfig{
		Strategy:    job.RetryExponential,
		MaxAttempts: 4,
		BaseDelayMs: 100,
		MaxDelayMs:  10000,
		Jitter:      false,
	}

	engine := NewEngine(Hooks{})

	failJob(t, j)
	d1 := engine.HandleFailure(j, "boom")
	require.True(t, d1.Retry)
	assert.Equal(t, int64(100), d1.DelayMs)
	assert.Equal(t, job.StatusRetrying, j.Status)
	assert.Equal(t, 1, j.Attempt)

	failJob(t, j)
	d2 := engine.HandleFailure(j, "boom")
	require.True(t, d2.Retry)
	assert.Equal(t, int64(200), d2.DelayMs)
	assert.Equal(t, 2, j.Attempt)

	failJob(t, j)
	d3 := engine.HandleFailure(j, "boom")
	require.True(t, d3.Retry)
	assert.Equal(t, int64(400), d3.DelayMs)
	assert.Equal(t, 3, j.Attempt)

	failJob(t, j)
	d4 := engine.HandleFailure(j, "boom")
	require.False(t, d4.Retry)
	assert.True(t, d4.ToDLQ)
	assert.Equal(t, job.StatusDead, j.Status)
	assert.NotNil(t, j.CompletedAt, "a dead-lettered job reached a terminal state and must have CompletedAt set")
	assert.Equal(t, 1, engine.DLQSize())
}

func TestFixedStrategyRetryBoundary(t *testing.T) {
	j := job.New("a", nil, job.PriorityNormal)
	j.RetryConfig = job.RetryConfig{Strategy: job.RetryFixed, MaxAttempts: 1, BaseDelayMs: 50, MaxDelayMs: 50}

	failJob(t, j)
	d := engine(t).HandleFailure(j, "err")
	require.False(t, d.Retry, "max_attempts=1 means no retry is allowed after the first failure")
	assert.True(t, d.ToDLQ)
}

func TestCustomStrategyUsesDelayList(t *testing.T) {
	j := job.New("a", nil, job.PriorityNormal)
	j.RetryConfig = job.RetryConfig{
		Strategy:     job.RetryCustom,
		MaxAttempts:  10,
		CustomDelays: []int64{10, 20, 30},
		MaxDelayMs:   1000,
	}
	e := engine(t)

	failJob(t, j)
	d1 := e.HandleFailure(j, "x")
	assert.Equal(t, int64(10), d1.DelayMs)
	failJob(t, j)
	d2 := e.HandleFailure(j, "x")
	assert.Equal(t, int64(20), d2.DelayMs)
	failJob(t, j)
	d3 := e.HandleFailure(j, "x")
	assert.Equal(t, int64(30), d3.DelayMs)
	failJob(t, j)
	d4 := e.HandleFailure(j, "x")
	require.False(t, d4.Retry, "custom strategy exhausts once attempts exceed len(custom_delays_ms)")
}

func TestDLQRequeueResetsAttempts(t *testing.T) {
	j := job.New("a", nil, job.PriorityNormal)
	j.RetryConfig = job.RetryConfig{Strategy: job.RetryFixed, MaxAttempts: 1, BaseDelayMs: 10, MaxDelayMs: 10}
	e := engine(t)
	failJob(t, j)
	e.HandleFailure(j, "err")
	require.Equal(t, 1, e.DLQSize())

	requeued, ok := e.Requeue(j.ID, true)
	require.True(t, ok)
	assert.Equal(t, job.StatusPending, requeued.Status)
	assert.Equal(t, 0, requeued.Attempt)
	assert.Equal(t, 0, e.DLQSize())
}

func TestHooksFireOnRetryAndDLQ(t *testing.T) {
	var retried, dlqed, failed bool
	e := NewEngine(Hooks{
		OnRetry:   func(j *job.Job, attempt int, delay int64) { retried = true },
		OnDLQ:     func(j *job.Job, reason string) { dlqed = true },
		OnFailure: func(j *job.Job, errMsg string) { failed = true },
	})

	j := job.New("a", nil, job.PriorityNormal)
	j.RetryConfig = job.RetryConfig{Strategy: job.RetryFixed, MaxAttempts: 2, BaseDelayMs: 10, MaxDelayMs: 10}

	failJob(t, j)
	e.HandleFailure(j, "err")
	assert.True(t, retried)
	assert.False(t, dlqed)

	failJob(t, j)
	e.HandleFailure(j, "err")
	assert.True(t, dlqed)
	assert.True(t, failed)
}

func engine(t *testing.T) *Engine {
	t.Helper()
	return NewEngine(Hooks{})
}
