// Package coordinator composes C2-C8 into the single external-facing
// object: submit/get_next_job/complete_job/cancel_job/update_priority/
// get_stats/get_dlq/requeue_from_dlq/register_worker/worker_heartbeat.
//
// Follows a compose-the-lower-layers-behind-one-object shape with a
// leader-gated background loop pattern, over this task queue's own
// C2-C8 components.
package coordinator

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"taskqueue/pkg/alerting"
	"taskqueue/pkg/depgraph"
	"taskqueue/pkg/job"
	"taskqueue/pkg/queue"
	"taskqueue/pkg/retry"
	"taskqueue/pkg/taskerr"
	"taskqueue/pkg/telemetry"
	"taskqueue/pkg/timewheel"
	"taskqueue/pkg/uniqueness"
	"taskqueue/pkg/worker"
)

// location is the single authoritative placement of a job: exactly one
// of these at a time, so a job can never be found in two structures
// (priority queue and delay wheel, say) simultaneously.
type location int

const (
	locationNone location = iota
	locationPriorityQueue
	locationDelayWheel
	locationRetryWheel
	locationHeldForDeps
	locationRunning
	locationDLQ
	locationTerminal
)

// Config configures the coordinator's composed components.
type Config struct {
	QueueWeights     queue.Weights
	HeartbeatTimeout time.Duration
	StealThreshold   float64
	DefaultRetry     job.RetryConfig
}

// DefaultConfig returns sane defaults for every composed component.
func DefaultConfig() Config {
	return Config{
		QueueWeights:     queue.DefaultWeights(),
		HeartbeatTimeout: 30 * time.Second,
		StealThreshold:   0.3,
		DefaultRetry:     job.DefaultRetryConfig(),
	}
}

// Coordinator is the shared data plane every worker and client talks to.
type Coordinator struct {
	cfg Config
	log *zap.Logger

	mu        chan struct{} // binary semaphore guarding the location map (lock order: uniqueness -> graph -> scheduler structures -> priority queue -> DLQ -> metrics)
	locations map[uuid.UUID]location

	queue     *queue.Queue
	delay     *timewheel.Wheel
	retryW    *timewheel.Wheel
	cron      *timewheel.CronRegistry
	graph     *depgraph.Graph
	retryEng  *retry.Engine
	unique    *uniqueness.Registry
	workers   *worker.Registry
	hooks     *telemetry.Hooks
	alerts    *alerting.Manager
	jobsByID  map[uuid.UUID]*job.Job
	jobsMu    chan struct{}
	stats     *statsAggregator
}

// New constructs a coordinator wiring fresh instances of every
// component per cfg.
func New(cfg Config, hooks *telemetry.Hooks, alerts *alerting.Manager, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Coordinator{
		cfg:       cfg,
		log:       logger.Named("coordinator"),
		mu:        make(chan struct{}, 1),
		jobsMu:    make(chan struct{}, 1),
		locations: make(map[uuid.UUID]location),
		jobsByID:  make(map[uuid.UUID]*job.Job),
		queue:     queue.New(cfg.QueueWeights),
		delay:     timewheel.NewWheel(),
		retryW:    timewheel.NewWheel(),
		cron:      timewheel.NewCronRegistry(),
		graph:     depgraph.New(),
		unique:    uniqueness.NewRegistry(),
		workers:   worker.NewRegistry(cfg.HeartbeatTimeout),
		hooks:     hooks,
		alerts:    alerts,
		stats:     newStatsAggregator(),
	}
	c.mu <- struct{}{}
	c.jobsMu <- struct{}{}
	c.retryEng = retry.NewEngine(retry.Hooks{
		OnRetry: func(j *job.Job, attempt int, delayMs int64) {
			telemetry.RetriesTotal.WithLabelValues(j.Name).Inc()
			c.emit(telemetry.EventJobRetried, j, map[string]any{"attempt": attempt, "delay_ms": delayMs})
			if c.alerts != nil {
				c.alerts.JobFailed(context.Background(), j, j.LastError, true)
			}
		},
		OnDLQ: func(j *job.Job, reason string) {
			telemetry.DeadLetterTotal.WithLabelValues(j.Name).Inc()
			telemetry.DLQSize.Set(float64(c.retryEng.DLQSize()))
			c.emit(telemetry.EventJobDead, j, map[string]any{"reason": reason})
			if c.alerts != nil {
				c.alerts.JobDeadLettered(context.Background(), j, reason)
			}
		},
		OnFailure: func(j *job.Job, errMsg string) {
			c.emit(telemetry.EventJobFailed, j, map[string]any{"error": errMsg})
		},
	})
	return c
}

func (c *Coordinator) emit(name string, j *job.Job, data map[string]any) {
	if c.hooks == nil {
		return
	}
	c.hooks.Emit(telemetry.Event{Name: name, Job: j, Data: data})
}

func (c *Coordinator) setLocation(id uuid.UUID, loc location) {
	<-c.mu
	c.locations[id] = loc
	c.mu <- struct{}{}
}

func (c *Coordinator) locationOf(id uuid.UUID) location {
	<-c.mu
	loc := c.locations[id]
	c.mu <- struct{}{}
	return loc
}

func (c *Coordinator) trackJob(j *job.Job) {
	<-c.jobsMu
	c.jobsByID[j.ID] = j
	c.jobsMu <- struct{}{}
}

func (c *Coordinator) lookupJob(id uuid.UUID) (*job.Job, bool) {
	<-c.jobsMu
	j, ok := c.jobsByID[id]
	c.jobsMu <- struct{}{}
	return j, ok
}

// LookupJob returns the tracked job for id, the REST surface's read
// path for GET /jobs/:id.
func (c *Coordinator) LookupJob(id uuid.UUID) (*job.Job, bool) {
	return c.lookupJob(id)
}

func (c *Coordinator) forgetJob(id uuid.UUID) {
	<-c.jobsMu
	delete(c.jobsByID, id)
	c.jobsMu <- struct{}{}
}

// SubmitOptions carries every optional field a submitted job may set.
type SubmitOptions struct {
	Name           string
	Payload        []byte
	Priority       job.Priority
	DelayMs        int64
	ScheduledAt    *time.Time
	DependsOn      []uuid.UUID
	RetryConfig    *job.RetryConfig
	UniqueKey      string
	CronExpression string
	Timezone       string
	TimeoutMs      int64
}

// Submit builds a job from opts and routes it through the placement
// decision tree: uniqueness check, dependency registration, then one of
// delay wheel / cron registry / held-for-deps / priority queue.
func (c *Coordinator) Submit(opts SubmitOptions) (uuid.UUID, error) {
	j := job.New(opts.Name, opts.Payload, opts.Priority)
	j.DelayMs = opts.DelayMs
	j.ScheduledAt = opts.ScheduledAt
	j.DependsOn = opts.DependsOn
	j.UniqueKey = opts.UniqueKey
	j.CronExpression = opts.CronExpression
	j.TimeoutMs = opts.TimeoutMs
	if opts.Timezone != "" {
		j.Timezone = opts.Timezone
	}
	if opts.RetryConfig != nil {
		j.RetryConfig = *opts.RetryConfig
	} else {
		j.RetryConfig = c.cfg.DefaultRetry
	}

	if err := job.Validate(j); err != nil {
		return uuid.Nil, err
	}
	return j.ID, c.submitValidated(j)
}

func (c *Coordinator) submitValidated(j *job.Job) error {
	if j.UniqueKey != "" {
		if err := c.unique.Acquire(j.UniqueKey, j.ID); err != nil {
			return err
		}
	}

	if len(j.DependsOn) > 0 {
		if err := c.graph.Validate(j); err != nil {
			if j.UniqueKey != "" {
				c.unique.Release(j.UniqueKey)
			}
			return err
		}
	}
	c.graph.AddJob(j)
	c.trackJob(j)

	switch {
	case j.CronExpression != "":
		if err := c.cron.Register(j, time.Now()); err != nil {
			c.rollbackSubmit(j)
			return err
		}
		c.setLocation(j.ID, locationNone)
	case j.DelayMs > 0 || j.ScheduledAt != nil:
		if err := c.delay.ScheduleDelay(j, time.Now()); err != nil {
			c.rollbackSubmit(j)
			return err
		}
		c.setLocation(j.ID, locationDelayWheel)
	case c.graph.HasUnmetDependencies(j.ID):
		c.setLocation(j.ID, locationHeldForDeps)
	default:
		if err := c.enqueuePriority(j); err != nil {
			c.rollbackSubmit(j)
			return err
		}
	}

	telemetry.JobsSubmittedTotal.WithLabelValues(j.Priority.String()).Inc()
	c.emit(telemetry.EventJobSubmitted, j, nil)
	return nil
}

func (c *Coordinator) rollbackSubmit(j *job.Job) {
	c.graph.RemoveJob(j.ID)
	c.forgetJob(j.ID)
	if j.UniqueKey != "" {
		c.unique.Release(j.UniqueKey)
	}
}

func (c *Coordinator) enqueuePriority(j *job.Job) error {
	if err := c.queue.Enqueue(j); err != nil {
		return err
	}
	c.setLocation(j.ID, locationPriorityQueue)
	return nil
}

func (c *Coordinator) applyDefaultRetry(j *job.Job) {
	if j.RetryConfig.MaxAttempts == 0 {
		j.RetryConfig = c.cfg.DefaultRetry
	}
}

// SubmitJob submits a pre-built job (used by bulk submission, which
// needs to construct jobs up front for cross-batch dependency cycle
// validation before any is committed).
func (c *Coordinator) SubmitJob(j *job.Job) error {
	c.applyDefaultRetry(j)
	if err := job.Validate(j); err != nil {
		return err
	}
	return c.submitValidated(j)
}

// ValidateBatch pre-validates an entire atomic batch before any job in
// it is submitted: schema, uniqueness-key availability (including two
// jobs in the same batch claiming the same key), and dependency
// resolution across the whole batch. It acquires nothing and enqueues
// nothing, so a rejected batch leaves no state to unwind.
func (c *Coordinator) ValidateBatch(jobs []*job.Job) error {
	seenKeys := make(map[string]uuid.UUID, len(jobs))
	for _, j := range jobs {
		c.applyDefaultRetry(j)
		if err := job.Validate(j); err != nil {
			return err
		}
		if j.UniqueKey == "" {
			continue
		}
		if holder, dup := seenKeys[j.UniqueKey]; dup {
			return &taskerr.DuplicateUniqueError{Key: j.UniqueKey, OwnerID: holder.String()}
		}
		seenKeys[j.UniqueKey] = j.ID
		if holder, held := c.unique.Holder(j.UniqueKey); held {
			return &taskerr.DuplicateUniqueError{Key: j.UniqueKey, OwnerID: holder.String()}
		}
	}
	return c.graph.ValidateBatch(jobs)
}

// batchSubmitter adapts Coordinator to uniqueness.Submitter, since
// Coordinator's own Submit takes SubmitOptions rather than a *job.Job.
type batchSubmitter struct{ c *Coordinator }

func (b batchSubmitter) ValidateBatch(jobs []*job.Job) error { return b.c.ValidateBatch(jobs) }
func (b batchSubmitter) Submit(j *job.Job) error             { return b.c.SubmitJob(j) }
func (b batchSubmitter) Cancel(id uuid.UUID) error           { return b.c.CancelJob(id) }

// SubmitBatch submits a set of pre-built jobs atomically or best-effort.
func (c *Coordinator) SubmitBatch(jobs []*job.Job, atomic bool) ([]uuid.UUID, []uniqueness.FailedSubmission) {
	wrapped := make([]*job.Job, len(jobs))
	copy(wrapped, jobs)
	return uniqueness.SubmitBatch(batchSubmitter{c}, wrapped, atomic)
}

// drainDue moves every due delay/cron/retry item into the priority
// queue, honoring unmet dependencies by parking them instead.
func (c *Coordinator) drainDue(now time.Time) {
	for _, j := range c.delay.PopDue(now) {
		c.placeReadyJob(j)
	}
	for _, j := range c.retryW.PopDue(now) {
		if err := job.Transition(j, job.StatusPending); err != nil {
			c.log.Warn("illegal transition draining retry wheel", zap.Error(err))
			continue
		}
		c.placeReadyJob(j)
	}
	for _, j := range c.cron.PopDue(now) {
		c.graph.AddJob(j)
		c.trackJob(j)
		c.placeReadyJob(j)
	}
}

func (c *Coordinator) placeReadyJob(j *job.Job) {
	if c.graph.HasUnmetDependencies(j.ID) {
		c.setLocation(j.ID, locationHeldForDeps)
		return
	}
	if err := c.enqueuePriority(j); err != nil {
		c.log.Warn("failed to enqueue ready job", zap.String("job_id", j.ID.String()), zap.Error(err))
	}
}

// GetNextJob drains due work and returns one job from the priority
// queue, or (nil, false) on timeout/cancellation; an empty queue is
// never an error.
func (c *Coordinator) GetNextJob(ctx context.Context, timeout time.Duration) (*job.Job, bool) {
	c.drainDue(time.Now())
	j, ok := c.queue.Dequeue(ctx, timeout)
	if !ok {
		return nil, false
	}
	telemetry.QueueDepth.WithLabelValues(j.Priority.String()).Set(float64(c.queue.SizeByPriority()[j.Priority]))
	c.stats.recordWait(j.Priority, float64(time.Since(j.CreatedAt).Milliseconds()))
	c.setLocation(j.ID, locationNone)
	return j, true
}

// CompleteJob finalizes a job's outcome. resultErr == nil is success;
// otherwise it is routed through the retry engine.
func (c *Coordinator) CompleteJob(id uuid.UUID, resultErr error) error {
	j, ok := c.lookupJob(id)
	if !ok {
		return &taskerr.UnknownJobError{JobID: id.String()}
	}

	if resultErr == nil {
		return c.completeSuccess(j)
	}
	return c.completeFailure(j, resultErr)
}

func (c *Coordinator) completeSuccess(j *job.Job) error {
	if err := job.Transition(j, job.StatusCompleted); err != nil {
		return err
	}
	c.setLocation(j.ID, locationTerminal)

	for _, childID := range c.graph.MarkCompleted(j.ID) {
		if child, ok := c.lookupJob(childID); ok {
			_ = c.enqueuePriority(child)
		}
	}

	if j.UniqueKey != "" {
		c.unique.Release(j.UniqueKey)
	}
	if j.StartedAt != nil && j.CompletedAt != nil {
		durationSeconds := j.CompletedAt.Sub(*j.StartedAt).Seconds()
		telemetry.RecordCompletion(j.Name, j.Status, durationSeconds)
		c.stats.recordProcessing(durationSeconds * 1000)
	}
	c.stats.recordCompletion(time.Now())
	c.emit(telemetry.EventJobCompleted, j, nil)
	return nil
}

func (c *Coordinator) completeFailure(j *job.Job, cause error) error {
	if err := job.Transition(j, job.StatusFailed); err != nil {
		return err
	}
	decision := c.retryEng.HandleFailure(j, cause.Error())

	if decision.Retry {
		runAt := time.Now().Add(time.Duration(decision.DelayMs) * time.Millisecond)
		if err := c.retryW.Schedule(j, runAt); err != nil {
			return err
		}
		c.setLocation(j.ID, locationRetryWheel)
		return nil
	}

	c.setLocation(j.ID, locationDLQ)
	if j.UniqueKey != "" {
		c.unique.Release(j.UniqueKey)
	}
	for _, childID := range c.graph.MarkFailed(j.ID) {
		if child, ok := c.lookupJob(childID); ok {
			_ = job.Transition(child, job.StatusFailed)
			c.setLocation(childID, locationTerminal)
			if child.UniqueKey != "" {
				c.unique.Release(child.UniqueKey)
			}
		}
	}
	return nil
}

// CancelJob removes a job from the delay wheel or priority queue,
// failing if it is already RUNNING.
func (c *Coordinator) CancelJob(id uuid.UUID) error {
	j, ok := c.lookupJob(id)
	if !ok {
		return &taskerr.UnknownJobError{JobID: id.String()}
	}
	if j.Status == job.StatusRunning {
		return &taskerr.IllegalStateError{JobID: id.String(), From: string(job.StatusRunning), To: "CANCELLED"}
	}

	switch c.locationOf(id) {
	case locationPriorityQueue:
		c.queue.Remove(id)
	case locationDelayWheel:
		c.delay.Cancel(id)
	case locationRetryWheel:
		c.retryW.Cancel(id)
	case locationHeldForDeps, locationNone:
		// nothing to unwind from a component
	default:
		return &taskerr.IllegalStateError{JobID: id.String(), From: string(j.Status), To: "CANCELLED"}
	}

	for _, childID := range c.graph.MarkFailed(id) {
		if child, ok := c.lookupJob(childID); ok {
			_ = job.Transition(child, job.StatusFailed)
			c.setLocation(childID, locationTerminal)
			if child.UniqueKey != "" {
				c.unique.Release(child.UniqueKey)
			}
		}
	}
	c.graph.RemoveJob(id)
	c.forgetJob(id)
	if j.UniqueKey != "" {
		c.unique.Release(j.UniqueKey)
	}
	c.setLocation(id, locationTerminal)
	return nil
}

// UpdatePriority reprioritizes a job still sitting in the priority
// queue; once a job has left the queue its priority is fixed.
func (c *Coordinator) UpdatePriority(id uuid.UUID, newPriority job.Priority) error {
	if c.locationOf(id) != locationPriorityQueue {
		return &taskerr.IllegalStateError{JobID: id.String(), From: "not-queued", To: "priority-update"}
	}
	return c.queue.UpdatePriority(id, newPriority)
}

// RegisterWorker adds a worker node to the cluster.
func (c *Coordinator) RegisterWorker(info worker.Info) *worker.Node {
	n := worker.NewNode(info)
	c.workers.Register(n)
	telemetry.ActiveWorkers.Set(float64(c.workers.Count()))
	c.emit(telemetry.EventWorkerJoined, nil, map[string]any{"worker_id": info.ID})
	return n
}

// WorkerHeartbeat refreshes a worker's liveness.
func (c *Coordinator) WorkerHeartbeat(workerID string) bool {
	ok := c.workers.Heartbeat(workerID)
	if ok {
		telemetry.HeartbeatsSent.Inc()
	}
	return ok
}

// Workers exposes the worker registry for the cluster balancer and
// the reaper loop.
func (c *Coordinator) Workers() *worker.Registry { return c.workers }

// ReapDeadWorkers unregisters every worker whose heartbeat has expired
// and reassigns its in-flight jobs: each returns to PENDING, its
// worker_id is cleared, and it is re-enqueued at its original
// priority. Callers must gate this behind leader election — only one
// coordinator process may reap at a time, or two leaders could
// reassign the same worker's jobs twice.
func (c *Coordinator) ReapDeadWorkers(now time.Time) []uuid.UUID {
	var reassigned []uuid.UUID
	for _, n := range c.workers.Stale(now) {
		info := n.Info()
		running := n.RunningJobs()
		for _, j := range running {
			if err := job.Transition(j, job.StatusPending); err != nil {
				c.log.Warn("failed to reassign job off dead worker",
					zap.String("job_id", j.ID.String()), zap.String("worker_id", info.ID), zap.Error(err))
				continue
			}
			j.WorkerID = ""
			c.graph.UpdateStatus(j.ID, job.StatusPending)
			c.placeReadyJob(j)
			reassigned = append(reassigned, j.ID)
		}

		c.workers.Unregister(info.ID)
		telemetry.ActiveWorkers.Set(float64(c.workers.Count()))
		c.emit(telemetry.EventWorkerLeft, nil, map[string]any{"worker_id": info.ID, "reassigned_jobs": len(running)})
		if c.alerts != nil {
			c.alerts.WorkerDead(context.Background(), info.ID, len(running))
		}
		c.log.Warn("reaped dead worker", zap.String("worker_id", info.ID), zap.Int("reassigned_jobs", len(running)))
	}
	return reassigned
}

// GetDLQ returns every dead-lettered job.
func (c *Coordinator) GetDLQ() []*retry.DLQEntry {
	return c.retryEng.DLQ()
}

// RequeueFromDLQ removes a job from the DLQ, resets its status to
// PENDING, and re-enqueues it.
func (c *Coordinator) RequeueFromDLQ(id uuid.UUID, resetAttempts bool) error {
	j, ok := c.retryEng.Requeue(id, resetAttempts)
	if !ok {
		return &taskerr.UnknownJobError{JobID: id.String()}
	}
	c.graph.UpdateStatus(id, job.StatusPending)
	c.placeReadyJob(j)
	telemetry.DLQSize.Set(float64(c.retryEng.DLQSize()))
	return nil
}
