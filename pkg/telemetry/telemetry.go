// Package telemetry implements metrics and the event-hook surface: a
// promauto-registered metric set covering every component, plus a
// synchronous hook dispatcher for lifecycle events
// (job submitted/started/completed/failed/retried/dead-lettered,
// worker joined/left, leader changed).
//
// Same Namespace/Subsystem/Name shape and promauto registration style
// used throughout this repo, scoped to the job/queue/retry/worker/
// cluster domain.
package telemetry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"taskqueue/pkg/job"
)

var (
	// JobsTotal counts jobs by terminal/non-terminal status.
	JobsTotal = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "taskqueue",
			Subsystem: "jobs",
			Name:      "total",
			Help:      "Number of jobs currently in each status",
		},
		[]string{"status"},
	)

	// JobsSubmittedTotal counts jobs accepted by the coordinator.
	JobsSubmittedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "taskqueue",
			Subsystem: "jobs",
			Name:      "submitted_total",
			Help:      "Total number of jobs submitted",
		},
		[]string{"priority"},
	)

	// JobDuration tracks end-to-end execution duration.
	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "taskqueue",
			Subsystem: "jobs",
			Name:      "duration_seconds",
			Help:      "Duration of job execution in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 16),
		},
		[]string{"name", "status"},
	)

	// QueueDepth tracks pending jobs per priority level.
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "taskqueue",
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Number of jobs pending per priority level",
		},
		[]string{"priority"},
	)

	// QueueWaitSeconds tracks time spent waiting in the priority queue.
	QueueWaitSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "taskqueue",
			Subsystem: "queue",
			Name:      "wait_seconds",
			Help:      "Time a job spent waiting in the priority queue",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 18),
		},
		[]string{"priority"},
	)

	// RetriesTotal counts retry attempts by job name.
	RetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "taskqueue",
			Subsystem: "retry",
			Name:      "attempts_total",
			Help:      "Total number of retry attempts",
		},
		[]string{"job_name"},
	)

	// DeadLetterTotal counts jobs routed to the dead-letter queue.
	DeadLetterTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "taskqueue",
			Subsystem: "retry",
			Name:      "dead_letter_total",
			Help:      "Total number of jobs dead-lettered",
		},
		[]string{"job_name"},
	)

	// DLQSize tracks the current dead-letter queue size.
	DLQSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "taskqueue",
			Subsystem: "retry",
			Name:      "dlq_size",
			Help:      "Current number of jobs in the dead-letter queue",
		},
	)

	// ActiveWorkers tracks the number of live worker nodes.
	ActiveWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "taskqueue",
			Subsystem: "cluster",
			Name:      "active_workers",
			Help:      "Number of workers with a live heartbeat",
		},
	)

	// WorkerLoad tracks per-worker load fraction.
	WorkerLoad = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "taskqueue",
			Subsystem: "cluster",
			Name:      "worker_load",
			Help:      "Fraction of capacity in use per worker",
		},
		[]string{"worker_id"},
	)

	// JobsStolen counts jobs moved between workers by the balancer.
	JobsStolen = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "taskqueue",
			Subsystem: "cluster",
			Name:      "jobs_stolen_total",
			Help:      "Total number of jobs moved by work stealing",
		},
	)

	// LeaderChanges counts leader election transitions observed.
	LeaderChanges = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "taskqueue",
			Subsystem: "cluster",
			Name:      "leader_changes_total",
			Help:      "Total number of leader election transitions",
		},
	)

	// HeartbeatsSent counts heartbeats sent by workers.
	HeartbeatsSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "taskqueue",
			Subsystem: "cluster",
			Name:      "heartbeats_total",
			Help:      "Total heartbeats sent",
		},
	)
)

// RecordCompletion records a terminal job outcome's duration.
func RecordCompletion(jobName string, status job.Status, durationSeconds float64) {
	JobDuration.WithLabelValues(jobName, string(status)).Observe(durationSeconds)
}

// Event names dispatched through Hooks.
const (
	EventJobSubmitted = "job_submitted"
	EventJobStarted   = "job_started"
	EventJobCompleted = "job_completed"
	EventJobFailed    = "job_failed"
	EventJobRetried   = "job_retried"
	EventJobDead      = "job_dead_lettered"
	EventWorkerJoined = "worker_joined"
	EventWorkerLeft   = "worker_left"
	EventLeaderChange = "leader_changed"
)

// Event is a single lifecycle notification dispatched to subscribers.
type Event struct {
	Name string
	Job  *job.Job // nil for worker/leader events
	Data map[string]any
}

// Handler receives dispatched events; implementations must not block,
// since hooks run synchronously on the calling goroutine.
type Handler func(Event)

// Hooks is a synchronous pub/sub dispatcher for lifecycle events.
type Hooks struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
}

// NewHooks constructs an empty hook dispatcher.
func NewHooks() *Hooks {
	return &Hooks{handlers: make(map[string][]Handler)}
}

// Subscribe registers handler for the named event ("*" subscribes to everything).
func (h *Hooks) Subscribe(event string, handler Handler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[event] = append(h.handlers[event], handler)
}

// Emit dispatches ev to every handler subscribed to ev.Name and to "*".
func (h *Hooks) Emit(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, handler := range h.handlers[ev.Name] {
		handler(ev)
	}
	for _, handler := range h.handlers["*"] {
		handler(ev)
	}
}
