// Package retry implements the retry engine: strategy selection,
// backoff computation, and dead-letter routing.
//
// A per-strategy delay/should-retry pair is dispatched by a factory,
// feeding a manager that mutates the job and fires on_retry/on_dlq/
// on_failure callbacks. The retry predicate uses strict-less-than
// semantics (next_attempt < max_attempts for FIXED/EXPONENTIAL,
// next_attempt <= len(custom_delays_ms) for CUSTOM) so that
// max_attempts=4 yields exactly three retries before DEAD — see
// DESIGN.md.
package retry

import (
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	"taskqueue/pkg/job"
)

// Decision reports whether and how to retry a failed job.
type Decision struct {
	Retry   bool
	DelayMs int64
	ToDLQ   bool
	Reason  string
}

func clamp(delay, max int64) int64 {
	if delay > max {
		return max
	}
	if delay < 0 {
		return 0
	}
	return delay
}

func withSymmetricJitter(delay int64, enabled bool) int64 {
	if !enabled {
		return delay
	}
	jitter := (rand.Float64()*2 - 1) * 0.1 * float64(delay)
	return int64(float64(delay) + jitter)
}

func withUpperJitter(delay int64, enabled bool) int64 {
	if !enabled {
		return delay
	}
	jitter := rand.Float64() * 0.5 * float64(delay)
	return int64(float64(delay) + jitter)
}

// evaluateDelay computes the backoff delay for a strategy at the
// given (pre-increment) attempt count.
func evaluateDelay(strategy job.RetryStrategy, attempt int, rc job.RetryConfig) int64 {
	switch strategy {
	case job.RetryFixed:
		return clamp(withSymmetricJitter(rc.BaseDelayMs, rc.Jitter), rc.MaxDelayMs)
	case job.RetryExponential:
		raw := float64(rc.BaseDelayMs) * math.Pow(2, float64(attempt))
		return clamp(withUpperJitter(int64(raw), rc.Jitter), rc.MaxDelayMs)
	case job.RetryCustom:
		if len(rc.CustomDelays) == 0 {
			return rc.BaseDelayMs
		}
		idx := attempt
		if idx > len(rc.CustomDelays)-1 {
			idx = len(rc.CustomDelays) - 1
		}
		return clamp(withSymmetricJitter(rc.CustomDelays[idx], rc.Jitter), rc.MaxDelayMs)
	default:
		return rc.BaseDelayMs
	}
}

func shouldRetry(strategy job.RetryStrategy, nextAttempt int, rc job.RetryConfig) bool {
	switch strategy {
	case job.RetryCustom:
		if len(rc.CustomDelays) > 0 {
			return nextAttempt <= len(rc.CustomDelays)
		}
		return nextAttempt < rc.MaxAttempts
	default:
		return nextAttempt < rc.MaxAttempts
	}
}

// Evaluate computes the retry decision for a job's current attempt
// count without mutating it.
func Evaluate(j *job.Job) Decision {
	rc := j.RetryConfig
	next := j.Attempt + 1

	if shouldRetry(rc.Strategy, next, rc) {
		delay := evaluateDelay(rc.Strategy, j.Attempt, rc)
		return Decision{
			Retry:   true,
			DelayMs: delay,
			ToDLQ:   false,
			Reason:  "scheduled retry",
		}
	}
	return Decision{
		Retry:  false,
		ToDLQ:  true,
		Reason: "max attempts exhausted",
	}
}

// Hooks are invoked synchronously from HandleFailure; implementations
// must not block the scheduler goroutine.
type Hooks struct {
	OnRetry   func(j *job.Job, attempt int, delayMs int64)
	OnDLQ     func(j *job.Job, reason string)
	OnFailure func(j *job.Job, errMsg string)
}

// DLQEntry is a dead-lettered job plus the reason it was parked.
type DLQEntry struct {
	Job    *job.Job
	Reason string
	At     time.Time
}

// Engine owns the dead-letter queue and mutates jobs through
// HandleFailure, mirroring RetryManager's responsibilities.
type Engine struct {
	mu    sync.Mutex
	dlq   map[uuid.UUID]*DLQEntry
	order []uuid.UUID
	hooks Hooks
}

// NewEngine constructs a retry engine with the given hooks (any may be nil).
func NewEngine(hooks Hooks) *Engine {
	return &Engine{dlq: make(map[uuid.UUID]*DLQEntry), hooks: hooks}
}

// HandleFailure evaluates, mutates the job's attempt/status/last_error,
// and routes to retry or DLQ, invoking the configured hooks.
func (e *Engine) HandleFailure(j *job.Job, errMsg string) Decision {
	decision := Evaluate(j)
	j.LastError = errMsg

	if decision.Retry {
		j.Attempt++
		_ = job.Transition(j, job.StatusRetrying)
		if e.hooks.OnRetry != nil {
			e.hooks.OnRetry(j, j.Attempt, decision.DelayMs)
		}
		return decision
	}

	_ = job.Transition(j, job.StatusDead)
	e.mu.Lock()
	e.dlq[j.ID] = &DLQEntry{Job: j, Reason: decision.Reason, At: time.Now()}
	e.order = append(e.order, j.ID)
	e.mu.Unlock()

	if e.hooks.OnDLQ != nil {
		e.hooks.OnDLQ(j, decision.Reason)
	}
	if e.hooks.OnFailure != nil {
		e.hooks.OnFailure(j, errMsg)
	}
	return decision
}

// DLQ returns every dead-lettered job, oldest first.
func (e *Engine) DLQ() []*DLQEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*DLQEntry, 0, len(e.order))
	for _, id := range e.order {
		if entry, ok := e.dlq[id]; ok {
			out = append(out, entry)
		}
	}
	return out
}

// DLQSize returns the number of jobs currently dead-lettered.
func (e *Engine) DLQSize() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.dlq)
}

// RemoveFromDLQ deletes and returns a dead-lettered job by id.
func (e *Engine) RemoveFromDLQ(id uuid.UUID) (*job.Job, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	entry, ok := e.dlq[id]
	if !ok {
		return nil, false
	}
	delete(e.dlq, id)
	for i, oid := range e.order {
		if oid == id {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
	return entry.Job, true
}

// Requeue removes a job from the DLQ and resets it to PENDING,
// optionally resetting its attempt counter, ready for re-submission.
func (e *Engine) Requeue(id uuid.UUID, resetAttempts bool) (*job.Job, bool) {
	j, ok := e.RemoveFromDLQ(id)
	if !ok {
		return nil, false
	}
	if resetAttempts {
		j.Attempt = 0
	}
	// DEAD has no legal outgoing edge in the status graph; a DLQ requeue
	// is an explicit operator override, not a normal-flow transition.
	j.Status = job.StatusPending
	j.CompletedAt = nil
	j.LastError = ""
	return j, true
}
