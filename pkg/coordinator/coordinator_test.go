package coordinator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskqueue/pkg/job"
	"taskqueue/pkg/telemetry"
	"taskqueue/pkg/worker"
)

func newTestCoordinator() *Coordinator {
	return New(DefaultConfig(), telemetry.NewHooks(), nil, nil)
}

// assignToWorker simulates what a real worker does between dequeue and
// completion: assigning the job with Node.Assign, which transitions it
// to RUNNING.
func assignToWorker(t *testing.T, j *job.Job) {
	t.Helper()
	node := worker.NewNode(worker.NewInfo("w-"+j.ID.String()[:8], 1))
	require.NoError(t, node.Assign(j))
}

func TestSubmitAndGetNextJob(t *testing.T) {
	c := newTestCoordinator()
	id, err := c.Submit(SubmitOptions{Name: "send-email", Payload: []byte("hi"), Priority: job.PriorityHigh})
	require.NoError(t, err)

	got, ok := c.GetNextJob(context.Background(), 10*time.Millisecond)
	require.True(t, ok)
	assert.Equal(t, id, got.ID)
}

func TestGetNextJobTimesOutOnEmptyQueue(t *testing.T) {
	c := newTestCoordinator()
	_, ok := c.GetNextJob(context.Background(), 5*time.Millisecond)
	assert.False(t, ok)
}

func TestDependentJobHeldUntilParentCompletes(t *testing.T) {
	c := newTestCoordinator()
	parentID, err := c.Submit(SubmitOptions{Name: "extract", Priority: job.PriorityNormal})
	require.NoError(t, err)

	_, err = c.Submit(SubmitOptions{Name: "load", Priority: job.PriorityNormal, DependsOn: []uuid.UUID{parentID}})
	require.NoError(t, err)

	_, ok := c.GetNextJob(context.Background(), 5*time.Millisecond)
	require.True(t, ok, "parent should be dequeued")

	_, ok = c.GetNextJob(context.Background(), 5*time.Millisecond)
	assert.False(t, ok, "child must not be runnable before parent completes")

	parent, ok := c.lookupJob(parentID)
	require.True(t, ok)
	assignToWorker(t, parent)
	require.NoError(t, c.CompleteJob(parentID, nil))

	child, ok := c.GetNextJob(context.Background(), 5*time.Millisecond)
	require.True(t, ok, "child becomes runnable once parent completes")
	assert.Equal(t, "load", child.Name)
}

func TestCompleteJobFailureRetriesThenDeadLetters(t *testing.T) {
	c := newTestCoordinator()
	rc := job.RetryConfig{Strategy: job.RetryFixed, MaxAttempts: 2, BaseDelayMs: 1, MaxDelayMs: 5}
	id, err := c.Submit(SubmitOptions{Name: "flaky", Priority: job.PriorityNormal, RetryConfig: &rc})
	require.NoError(t, err)

	j, ok := c.GetNextJob(context.Background(), 5*time.Millisecond)
	require.True(t, ok)
	require.Equal(t, id, j.ID)

	assignToWorker(t, j)
	require.NoError(t, c.CompleteJob(id, errors.New("boom")))
	assert.Empty(t, c.GetDLQ())

	time.Sleep(10 * time.Millisecond)
	retried, ok := c.GetNextJob(context.Background(), 5*time.Millisecond)
	require.True(t, ok, "job should have been rescheduled for retry")

	assignToWorker(t, retried)
	require.NoError(t, c.CompleteJob(retried.ID, errors.New("boom again")))
	dlq := c.GetDLQ()
	require.Len(t, dlq, 1)
	assert.Equal(t, id, dlq[0].Job.ID)
}

func TestCancelJobRemovesFromQueue(t *testing.T) {
	c := newTestCoordinator()
	id, err := c.Submit(SubmitOptions{Name: "cleanup", Priority: job.PriorityLow})
	require.NoError(t, err)

	require.NoError(t, c.CancelJob(id))
	_, ok := c.GetNextJob(context.Background(), 5*time.Millisecond)
	assert.False(t, ok)
}

func TestCancelJobFailsHeldDependents(t *testing.T) {
	c := newTestCoordinator()
	parentID, err := c.Submit(SubmitOptions{Name: "extract", Priority: job.PriorityNormal})
	require.NoError(t, err)

	childID, err := c.Submit(SubmitOptions{Name: "load", Priority: job.PriorityNormal, DependsOn: []uuid.UUID{parentID}})
	require.NoError(t, err)

	require.NoError(t, c.CancelJob(parentID))

	_, ok := c.GetNextJob(context.Background(), 5*time.Millisecond)
	assert.False(t, ok, "cancelling the parent must not make the held child runnable")

	child, ok := c.lookupJob(childID)
	require.True(t, ok)
	assert.Equal(t, job.StatusFailed, child.Status, "a child held on a cancelled parent must be failed, not left orphaned")
}

func TestCancelRunningJobFails(t *testing.T) {
	c := newTestCoordinator()
	id, err := c.Submit(SubmitOptions{Name: "ship-it", Priority: job.PriorityNormal})
	require.NoError(t, err)

	j, ok := c.GetNextJob(context.Background(), 5*time.Millisecond)
	require.True(t, ok)

	node := worker.NewNode(worker.NewInfo("w1", 1))
	require.NoError(t, node.Assign(j))

	err = c.CancelJob(id)
	assert.Error(t, err)
}

func TestDuplicateUniqueKeyRejected(t *testing.T) {
	c := newTestCoordinator()
	_, err := c.Submit(SubmitOptions{Name: "nightly-report", Priority: job.PriorityNormal, UniqueKey: "nightly-report"})
	require.NoError(t, err)

	_, err = c.Submit(SubmitOptions{Name: "nightly-report", Priority: job.PriorityNormal, UniqueKey: "nightly-report"})
	assert.Error(t, err)
}

func TestRequeueFromDLQResetsAttempts(t *testing.T) {
	c := newTestCoordinator()
	rc := job.RetryConfig{Strategy: job.RetryFixed, MaxAttempts: 1, BaseDelayMs: 1, MaxDelayMs: 5}
	id, err := c.Submit(SubmitOptions{Name: "one-shot", Priority: job.PriorityNormal, RetryConfig: &rc})
	require.NoError(t, err)

	j, ok := c.GetNextJob(context.Background(), 5*time.Millisecond)
	require.True(t, ok)
	assignToWorker(t, j)
	require.NoError(t, c.CompleteJob(j.ID, errors.New("fails once")))
	require.Len(t, c.GetDLQ(), 1)

	require.NoError(t, c.RequeueFromDLQ(id, true))
	assert.Empty(t, c.GetDLQ())

	requeued, ok := c.GetNextJob(context.Background(), 5*time.Millisecond)
	require.True(t, ok)
	assert.Equal(t, 0, requeued.Attempt)
}

func TestUpdatePriorityOnlyWhileQueued(t *testing.T) {
	c := newTestCoordinator()
	id, err := c.Submit(SubmitOptions{Name: "resize-image", Priority: job.PriorityLow})
	require.NoError(t, err)

	require.NoError(t, c.UpdatePriority(id, job.PriorityCritical))

	j, ok := c.GetNextJob(context.Background(), 5*time.Millisecond)
	require.True(t, ok)
	assert.Equal(t, job.PriorityCritical, j.Priority)

	node := worker.NewNode(worker.NewInfo("w1", 1))
	require.NoError(t, node.Assign(j))
	assert.Error(t, c.UpdatePriority(id, job.PriorityBatch))
}

func TestGetStatsReflectsSubmittedAndCompletedJobs(t *testing.T) {
	c := newTestCoordinator()
	id, err := c.Submit(SubmitOptions{Name: "stat-me", Priority: job.PriorityNormal})
	require.NoError(t, err)

	j, ok := c.GetNextJob(context.Background(), 5*time.Millisecond)
	require.True(t, ok)
	assignToWorker(t, j)
	require.NoError(t, c.CompleteJob(j.ID, nil))

	stats := c.GetStats()
	assert.Equal(t, 1, stats.CountsByStatus[job.StatusCompleted])
	assert.Equal(t, id, j.ID)
}

func TestReapDeadWorkersReassignsInFlightJobs(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HeartbeatTimeout = 10 * time.Millisecond
	c := New(cfg, telemetry.NewHooks(), nil, nil)

	id, err := c.Submit(SubmitOptions{Name: "long-task", Priority: job.PriorityNormal})
	require.NoError(t, err)

	j, ok := c.GetNextJob(context.Background(), 5*time.Millisecond)
	require.True(t, ok)

	node := c.RegisterWorker(worker.NewInfo("w1", 1))
	require.NoError(t, node.Assign(j))

	time.Sleep(30 * time.Millisecond)
	reassigned := c.ReapDeadWorkers(time.Now())
	require.Len(t, reassigned, 1)
	assert.Equal(t, id, reassigned[0])

	requeued, ok := c.GetNextJob(context.Background(), 5*time.Millisecond)
	require.True(t, ok, "reassigned job should be runnable again")
	assert.Equal(t, job.StatusPending, requeued.Status)
	assert.Empty(t, requeued.WorkerID)

	_, stillRegistered := c.workers.Get(node.Info().ID)
	assert.False(t, stillRegistered, "dead worker should be unregistered")
}

func TestSubmitBatchAtomicRejectsOnDuplicateKeyWithinBatchWithoutEnqueuing(t *testing.T) {
	c := newTestCoordinator()
	a := job.New("a", nil, job.PriorityNormal)
	a.UniqueKey = "nightly"
	b := job.New("b", nil, job.PriorityNormal)
	b.UniqueKey = "nightly"

	ok, failed := c.SubmitBatch([]*job.Job{a, b}, true)
	assert.Empty(t, ok)
	assert.Len(t, failed, 2)

	_, found := c.GetNextJob(context.Background(), 5*time.Millisecond)
	assert.False(t, found, "no job from a rejected atomic batch should ever be enqueued")
}

func TestSubmitBatchAtomicAllowsSiblingDependency(t *testing.T) {
	c := newTestCoordinator()
	parent := job.New("parent", nil, job.PriorityNormal)
	child := job.New("child", nil, job.PriorityNormal)
	child.DependsOn = []uuid.UUID{parent.ID}

	ok, failed := c.SubmitBatch([]*job.Job{parent, child}, true)
	assert.Empty(t, failed)
	assert.Len(t, ok, 2)
}

func TestRegisterWorkerAndHeartbeat(t *testing.T) {
	c := newTestCoordinator()
	info := worker.NewInfo("w1", 4)
	node := c.RegisterWorker(info)
	require.NotNil(t, node)

	assert.True(t, c.WorkerHeartbeat(info.ID))
	assert.False(t, c.WorkerHeartbeat("unknown-worker"))
}
