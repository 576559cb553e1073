// Package timewheel implements the three co-located scheduling
// structures: a delay wheel for scheduled_at/delay_ms jobs, a retry
// wheel for backoff-scheduled retries, and a cron registry for
// recurring jobs.
//
// Each wheel is a min-heap of (run_at, job_id) plus a side index for
// O(log n) cancel. The cron registry advances next_fire forward
// strictly past "now" on every PopDue call instead of only once per
// poll, so a long idle period never produces a catch-up storm of
// backlogged fires.
package timewheel

import (
	"container/heap"
	"sync"
	"time"

	"github.com/google/uuid"

	"taskqueue/pkg/job"
	"taskqueue/pkg/taskerr"
)

type dueItem struct {
	runAt heapTime
	id    uuid.UUID
	index int
}

// heapTime lets us compare by monotonic reading where available,
// falling back to wall clock — a clock moving backward must not
// stall the wheel.
type heapTime struct{ t time.Time }

func (h heapTime) before(o heapTime) bool { return h.t.Before(o.t) }

type dueHeap []*dueItem

func (h dueHeap) Len() int            { return len(h) }
func (h dueHeap) Less(i, j int) bool  { return h[i].runAt.before(h[j].runAt) }
func (h dueHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *dueHeap) Push(x interface{}) {
	it := x.(*dueItem)
	it.index = len(*h)
	*h = append(*h, it)
}
func (h *dueHeap) Pop() interface{} {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*h = old[:n-1]
	return it
}

// Wheel is a generic min-heap keyed by a future run instant, used for
// both the delay wheel and the retry wheel — at any instant each job
// id appears at most once (the coordinator's single authoritative
// location field is responsible for a job never being scheduled in
// two wheels simultaneously).
type Wheel struct {
	mu    sync.Mutex
	heap  dueHeap
	index map[uuid.UUID]*dueItem
	jobs  map[uuid.UUID]*job.Job
}

// NewWheel constructs an empty wheel.
func NewWheel() *Wheel {
	w := &Wheel{index: make(map[uuid.UUID]*dueItem), jobs: make(map[uuid.UUID]*job.Job)}
	heap.Init(&w.heap)
	return w
}

// Schedule inserts j to fire at runAt. Returns ValidationError if the
// job id is already scheduled in this wheel.
func (w *Wheel) Schedule(j *job.Job, runAt time.Time) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, exists := w.index[j.ID]; exists {
		return &taskerr.ValidationError{Field: "id", Message: "job already scheduled in this wheel"}
	}
	it := &dueItem{runAt: heapTime{runAt}, id: j.ID}
	heap.Push(&w.heap, it)
	w.index[j.ID] = it
	w.jobs[j.ID] = j
	return nil
}

// PopDue removes and returns every job whose run instant is <= now.
func (w *Wheel) PopDue(now time.Time) []*job.Job {
	w.mu.Lock()
	defer w.mu.Unlock()
	var due []*job.Job
	for w.heap.Len() > 0 && !now.Before(w.heap[0].runAt.t) {
		it := heap.Pop(&w.heap).(*dueItem)
		j := w.jobs[it.id]
		delete(w.index, it.id)
		delete(w.jobs, it.id)
		if j != nil {
			due = append(due, j)
		}
	}
	return due
}

// Cancel removes a scheduled job by id, if present.
func (w *Wheel) Cancel(id uuid.UUID) (*job.Job, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	it, ok := w.index[id]
	if !ok {
		return nil, false
	}
	heap.Remove(&w.heap, it.index)
	j := w.jobs[id]
	delete(w.index, id)
	delete(w.jobs, id)
	return j, true
}

// Reschedule moves an already-scheduled job to a new run instant.
func (w *Wheel) Reschedule(id uuid.UUID, newRunAt time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	it, ok := w.index[id]
	if !ok {
		return false
	}
	heap.Remove(&w.heap, it.index)
	it.runAt = heapTime{newRunAt}
	heap.Push(&w.heap, it)
	return true
}

// Len returns the number of jobs currently waiting.
func (w *Wheel) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.heap.Len()
}

// NextDue returns the run instant of the earliest-scheduled job, if any.
func (w *Wheel) NextDue() (time.Time, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.heap.Len() == 0 {
		return time.Time{}, false
	}
	return w.heap[0].runAt.t, true
}

// ScheduleDelay computes the run instant from a job's ScheduledAt or
// DelayMs field (run_at = now + delay_ms, or ScheduledAt verbatim when
// set) and schedules it.
func (w *Wheel) ScheduleDelay(j *job.Job, now time.Time) error {
	runAt := now
	switch {
	case j.ScheduledAt != nil:
		runAt = *j.ScheduledAt
	case j.DelayMs > 0:
		runAt = now.Add(time.Duration(j.DelayMs) * time.Millisecond)
	}
	return w.Schedule(j, runAt)
}

// CronEntry is the registered state for one recurring job: the
// template used to stamp out fresh jobs and the next instant it fires.
type CronEntry struct {
	Template *job.Job
	Expr     *Expression
	Location *time.Location
	NextFire time.Time
}

// CronRegistry tracks recurring jobs and emits a fresh clone per fire.
type CronRegistry struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*CronEntry
}

// NewCronRegistry constructs an empty registry.
func NewCronRegistry() *CronRegistry {
	return &CronRegistry{entries: make(map[uuid.UUID]*CronEntry)}
}

// Register parses j.CronExpression/j.Timezone and computes the first
// next_fire strictly after now.
func (r *CronRegistry) Register(j *job.Job, now time.Time) error {
	expr, err := ParseExpression(j.CronExpression)
	if err != nil {
		return &taskerr.ValidationError{Field: "cron_expression", Message: err.Error()}
	}
	tz := j.Timezone
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return &taskerr.ValidationError{Field: "timezone", Message: err.Error()}
	}

	next, err := expr.NextFire(now, loc)
	if err != nil {
		return &taskerr.ValidationError{Field: "cron_expression", Message: err.Error()}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[j.ID] = &CronEntry{Template: j, Expr: expr, Location: loc, NextFire: next}
	return nil
}

// Unregister removes a recurring job's registration.
func (r *CronRegistry) Unregister(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[id]; !ok {
		return false
	}
	delete(r.entries, id)
	return true
}

// PopDue emits at most one fresh job per registered entry whose
// next_fire is <= now, and always advances next_fire forward to the
// smallest instant strictly greater than now — never backlogging
// multiple fires from the same entry in one call, regardless of how
// long it has been since the previous PopDue.
func (r *CronRegistry) PopDue(now time.Time) []*job.Job {
	r.mu.Lock()
	defer r.mu.Unlock()

	var due []*job.Job
	for _, entry := range r.entries {
		if entry.NextFire.After(now) {
			continue
		}
		due = append(due, entry.Template.Clone())

		next := entry.NextFire
		for !next.After(now) {
			advanced, err := entry.Expr.NextFire(next, entry.Location)
			if err != nil {
				break
			}
			next = advanced
		}
		entry.NextFire = next
	}
	return due
}

// NextFireOf returns the next scheduled fire time for a registered job.
func (r *CronRegistry) NextFireOf(id uuid.UUID) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return time.Time{}, false
	}
	return e.NextFire, true
}

// Len returns the number of registered recurring jobs.
func (r *CronRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
