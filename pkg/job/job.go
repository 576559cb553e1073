// Package job defines the Job record, its status graph, and retry
// configuration — the typed unit of work that flows through the
// queue, the time wheels, the dependency graph, and the workers.
package job

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"taskqueue/pkg/taskerr"
)

// Priority orders jobs within the scheduler; lower numeric value is
// more urgent.
type Priority int

const (
	PriorityCritical Priority = 0
	PriorityHigh     Priority = 1
	PriorityNormal   Priority = 2
	PriorityLow      Priority = 3
	PriorityBatch    Priority = 4
)

func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "CRITICAL"
	case PriorityHigh:
		return "HIGH"
	case PriorityNormal:
		return "NORMAL"
	case PriorityLow:
		return "LOW"
	case PriorityBatch:
		return "BATCH"
	default:
		return "UNKNOWN"
	}
}

// Levels enumerates every priority level, ordered most to least urgent.
var Levels = []Priority{PriorityCritical, PriorityHigh, PriorityNormal, PriorityLow, PriorityBatch}

// Status is a node in the job status graph:
//
//	PENDING   -> {SCHEDULED, RUNNING, FAILED}
//	SCHEDULED -> PENDING
//	PENDING   -> RUNNING
//	RUNNING   -> {COMPLETED, FAILED, PENDING}
//	FAILED    -> {RETRYING, DEAD}
//	RETRYING  -> PENDING
//
// RUNNING -> PENDING only happens on worker death: the leader
// reassigns a dead worker's in-flight jobs back to the queue rather
// than failing them outright.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusScheduled Status = "SCHEDULED"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusRetrying  Status = "RETRYING"
	StatusDead      Status = "DEAD"
)

// transitions is the adjacency list of the status graph. A transition
// not present here is illegal.
var transitions = map[Status]map[Status]bool{
	StatusPending:   {StatusScheduled: true, StatusRunning: true, StatusFailed: true},
	StatusScheduled: {StatusPending: true},
	StatusRunning:   {StatusCompleted: true, StatusFailed: true, StatusPending: true},
	StatusFailed:    {StatusRetrying: true, StatusDead: true},
	StatusRetrying:  {StatusPending: true},
}

// CanTransition reports whether from -> to is a legal edge in the
// status graph.
func CanTransition(from, to Status) bool {
	if from == to {
		return false
	}
	next, ok := transitions[from]
	if !ok {
		return false
	}
	return next[to]
}

// RetryStrategy selects how the retry engine computes backoff delay.
type RetryStrategy string

const (
	RetryFixed       RetryStrategy = "FIXED"
	RetryExponential RetryStrategy = "EXPONENTIAL"
	RetryCustom      RetryStrategy = "CUSTOM"
)

// RetryConfig is the per-job retry policy.
type RetryConfig struct {
	Strategy      RetryStrategy `json:"strategy"`
	MaxAttempts   int           `json:"max_attempts"`
	BaseDelayMs   int64         `json:"base_delay_ms"`
	MaxDelayMs    int64         `json:"max_delay_ms"`
	Jitter        bool          `json:"jitter"`
	CustomDelays  []int64       `json:"custom_delays_ms,omitempty"`
}

// Scan/Value let RetryConfig live as a JSONB column the way the
// teacher's RetryPolicy did.
func (r *RetryConfig) Scan(value interface{}) error {
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("taskqueue: RetryConfig.Scan: type assertion to []byte failed")
	}
	return json.Unmarshal(bytes, r)
}

func (r RetryConfig) Value() (driver.Value, error) {
	return json.Marshal(r)
}

// DefaultRetryConfig mirrors the defaults used throughout the spec's
// worked examples (EXPONENTIAL, 3 attempts, 1s base, 30s cap).
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Strategy:    RetryExponential,
		MaxAttempts: 3,
		BaseDelayMs: 1000,
		MaxDelayMs:  30000,
		Jitter:      true,
	}
}

// Job is the typed unit of work. Identity (ID, Name) is immutable
// once created; everything under "mutable state" changes as the job
// moves through the system. A job is in exactly one "location"
// (Priority queue, delay wheel, retry wheel, DLQ, or running) at any
// instant — the coordinator's per-job location map enforces that
// invariant.
type Job struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`

	// Payload is the opaque, already-encoded handler argument; the
	// serialization package owns encode/decode.
	Payload []byte `json:"payload"`

	Priority Priority `json:"priority"`
	Status   Status   `json:"status"`

	DelayMs        int64      `json:"delay_ms,omitempty"`
	ScheduledAt    *time.Time `json:"scheduled_at,omitempty"`
	CronExpression string     `json:"cron_expression,omitempty"`
	Timezone       string     `json:"timezone,omitempty"`

	DependsOn []uuid.UUID `json:"depends_on,omitempty"`

	RetryConfig RetryConfig `json:"retry_config"`
	Attempt     int         `json:"attempt"`

	UniqueKey string `json:"unique_key,omitempty"`

	TimeoutMs int64 `json:"timeout_ms,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	WorkerID  string `json:"worker_id,omitempty"`
	LastError string `json:"last_error,omitempty"`
}

// New builds a job with generated identity, default status/attempt,
// and no timestamps set beyond CreatedAt. Callers still run Validate.
func New(name string, payload []byte, priority Priority) *Job {
	return &Job{
		ID:          uuid.New(),
		Name:        name,
		Payload:     payload,
		Priority:    priority,
		Status:      StatusPending,
		RetryConfig: DefaultRetryConfig(),
		Attempt:     0,
		Timezone:    "UTC",
		CreatedAt:   time.Now(),
	}
}

// Clone returns a fresh job that inherits name/payload/priority but
// has a new identity and reset lifecycle — used by the cron registry
// to emit one independent job per fire.
func (j *Job) Clone() *Job {
	payload := make([]byte, len(j.Payload))
	copy(payload, j.Payload)
	return &Job{
		ID:          uuid.New(),
		Name:        j.Name,
		Payload:     payload,
		Priority:    j.Priority,
		Status:      StatusPending,
		RetryConfig: j.RetryConfig,
		Attempt:     0,
		Timezone:    j.Timezone,
		CreatedAt:   time.Now(),
		TimeoutMs:   j.TimeoutMs,
	}
}

// Validate enforces the invariants that do not require cross-job state
// (uniqueness/dependency checks live in their own components since they
// need the registry/graph).
func Validate(j *Job) error {
	if j.Name == "" {
		return &taskerr.ValidationError{Field: "name", Message: "must not be empty"}
	}
	if j.Priority < PriorityCritical || j.Priority > PriorityBatch {
		return &taskerr.ValidationError{Field: "priority", Message: "out of range"}
	}
	if j.DelayMs < 0 {
		return &taskerr.ValidationError{Field: "delay_ms", Message: "must be non-negative"}
	}
	if err := validateRetryConfig(j.RetryConfig); err != nil {
		return err
	}
	if j.Attempt > j.RetryConfig.MaxAttempts {
		return &taskerr.ValidationError{Field: "attempt", Message: "exceeds max_attempts"}
	}
	return nil
}

func validateRetryConfig(rc RetryConfig) error {
	switch rc.Strategy {
	case RetryFixed, RetryExponential:
		// base/max validated below
	case RetryCustom:
		if len(rc.CustomDelays) == 0 {
			return &taskerr.ValidationError{Field: "retry_config.custom_delays_ms", Message: "must be non-empty for CUSTOM strategy"}
		}
		for _, d := range rc.CustomDelays {
			if d < 0 {
				return &taskerr.ValidationError{Field: "retry_config.custom_delays_ms", Message: "delays must be non-negative"}
			}
		}
	default:
		return &taskerr.ValidationError{Field: "retry_config.strategy", Message: "unknown strategy"}
	}
	if rc.MaxAttempts < 1 {
		return &taskerr.ValidationError{Field: "retry_config.max_attempts", Message: "must be >= 1"}
	}
	if rc.BaseDelayMs < 0 {
		return &taskerr.ValidationError{Field: "retry_config.base_delay_ms", Message: "must be non-negative"}
	}
	if rc.MaxDelayMs < rc.BaseDelayMs {
		return &taskerr.ValidationError{Field: "retry_config.max_delay_ms", Message: "must be >= base_delay_ms"}
	}
	return nil
}

// Transition performs a single status change through the one allowed
// choke point: every status change in this codebase must go through
// this function. Illegal transitions fail with IllegalStateError and
// leave the job untouched.
func Transition(j *Job, to Status) error {
	if !CanTransition(j.Status, to) {
		return &taskerr.IllegalStateError{JobID: j.ID.String(), From: string(j.Status), To: string(to)}
	}
	now := time.Now()
	switch to {
	case StatusRunning:
		j.StartedAt = &now
	case StatusCompleted, StatusDead:
		j.CompletedAt = &now
	}
	j.Status = to
	return nil
}
