// Package queue implements the multi-level priority queue: one
// min-heap per priority level ordered by (enqueue_instant, id),
// combined with a weighted-fair dequeue rule that boosts starved
// levels over time.
//
// Grounded on the original MultiLevelPriorityQueue/AsyncPriorityQueue
// (priority_queue.py): heap-per-level plus a per-id index for O(log n)
// removal, but the blocking wait uses a broadcast condition variable
// on every enqueue rather than a single asyncio.Event, so no producer
// can starve a waiter of its wakeup.
package queue

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"taskqueue/pkg/job"
	"taskqueue/pkg/taskerr"
)

// Weights configures the weighted-fair dequeue scoring function.
type Weights struct {
	Base            map[job.Priority]float64
	StarvationBoost float64
	BoostIntervalMs float64
}

// DefaultWeights returns the default priority weights and starvation
// boost settings.
func DefaultWeights() Weights {
	return Weights{
		Base: map[job.Priority]float64{
			job.PriorityCritical: 1.0,
			job.PriorityHigh:     0.8,
			job.PriorityNormal:   0.5,
			job.PriorityLow:      0.3,
			job.PriorityBatch:    0.1,
		},
		StarvationBoost: 0.1,
		BoostIntervalMs: 1000,
	}
}

type entry struct {
	job         *job.Job
	enqueuedAt  time.Time
	heapIndex   int
}

// levelHeap is a min-heap ordered by (enqueuedAt, id) — FIFO within a
// level, with id as the final deterministic tie-break.
type levelHeap []*entry

func (h levelHeap) Len() int { return len(h) }
func (h levelHeap) Less(i, j int) bool {
	if h[i].enqueuedAt.Equal(h[j].enqueuedAt) {
		return h[i].job.ID.String() < h[j].job.ID.String()
	}
	return h[i].enqueuedAt.Before(h[j].enqueuedAt)
}
func (h levelHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIndex = i
	h[j].heapIndex = j
}
func (h *levelHeap) Push(x interface{}) {
	e := x.(*entry)
	e.heapIndex = len(*h)
	*h = append(*h, e)
}
func (h *levelHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.heapIndex = -1
	*h = old[:n-1]
	return e
}

// Queue is the coordinator-facing multi-level priority queue.
type Queue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	heaps   map[job.Priority]*levelHeap
	index   map[uuid.UUID]*entry
	weights Weights
	closed  bool
}

// New builds an empty queue with the given weighted-fair configuration.
func New(weights Weights) *Queue {
	q := &Queue{
		heaps:   make(map[job.Priority]*levelHeap),
		index:   make(map[uuid.UUID]*entry),
		weights: weights,
	}
	for _, p := range job.Levels {
		h := &levelHeap{}
		heap.Init(h)
		q.heaps[p] = h
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Enqueue adds a job to its priority level. Rejects duplicate ids and
// wakes every blocked waiter (broadcast, never a single-wakeup signal).
func (q *Queue) Enqueue(j *job.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.index[j.ID]; exists {
		return &taskerr.ValidationError{Field: "id", Message: "job already present in priority queue"}
	}

	e := &entry{job: j, enqueuedAt: time.Now()}
	h := q.heaps[j.Priority]
	heap.Push(h, e)
	q.index[j.ID] = e

	q.cond.Broadcast()
	return nil
}

// score computes the weighted-fair score for the head of a given
// non-empty level.
func (q *Queue) score(p job.Priority, headWaitMs float64) float64 {
	base := q.weights.Base[p]
	boost := (headWaitMs / q.weights.BoostIntervalMs) * q.weights.StarvationBoost
	return base + boost - 0.01*float64(p)
}

// selectLevel picks the non-empty level with the maximum score, ties
// broken by lower numeric priority (already enforced since a strictly
// higher score always wins — priority only matters through the -0.01*L
// term and through which levels are non-empty).
func (q *Queue) selectLevel(now time.Time) (job.Priority, bool) {
	best := job.Priority(-1)
	bestScore := -1.0
	found := false
	for _, p := range job.Levels {
		h := q.heaps[p]
		if h.Len() == 0 {
			continue
		}
		head := (*h)[0]
		waitMs := float64(now.Sub(head.enqueuedAt).Milliseconds())
		s := q.score(p, waitMs)
		if !found || s > bestScore {
			found = true
			bestScore = s
			best = p
		}
	}
	return best, found
}

// popLocked removes and returns the winning level's head. Caller must
// hold q.mu.
func (q *Queue) popLocked() (*job.Job, bool) {
	p, ok := q.selectLevel(time.Now())
	if !ok {
		return nil, false
	}
	h := q.heaps[p]
	e := heap.Pop(h).(*entry)
	delete(q.index, e.job.ID)
	return e.job, true
}

// Dequeue blocks until a job is available, the context is cancelled,
// or timeout elapses (timeout <= 0 means wait indefinitely for ctx).
// Returns (nil, false) on timeout/cancellation without side effects.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (*job.Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if j, ok := q.popLocked(); ok {
		return j, true
	}

	done := make(chan struct{})
	var timer *time.Timer
	if timeout > 0 {
		timer = time.AfterFunc(timeout, func() {
			q.mu.Lock()
			defer q.mu.Unlock()
			close(done)
			q.cond.Broadcast()
		})
		defer timer.Stop()
	}

	stopCtx := make(chan struct{})
	if ctx != nil && ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				q.mu.Lock()
				defer q.mu.Unlock()
				q.cond.Broadcast()
			case <-stopCtx:
			}
		}()
		defer close(stopCtx)
	}

	for {
		select {
		case <-done:
			return nil, false
		default:
		}
		if ctx != nil && ctx.Err() != nil {
			return nil, false
		}
		if q.closed {
			return nil, false
		}
		if j, ok := q.popLocked(); ok {
			return j, true
		}
		q.cond.Wait()
	}
}

// Remove deletes a job by id if present, returning it. Used by cancel.
func (q *Queue) Remove(id uuid.UUID) (*job.Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.index[id]
	if !ok {
		return nil, false
	}
	h := q.heaps[e.job.Priority]
	heap.Remove(h, e.heapIndex)
	delete(q.index, id)
	return e.job, true
}

// UpdatePriority moves a queued job to a new priority level,
// preserving its original enqueue instant (so it keeps its place in
// the FIFO ordering of the new level relative to jobs enqueued at the
// same time).
func (q *Queue) UpdatePriority(id uuid.UUID, newPriority job.Priority) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.index[id]
	if !ok {
		return &taskerr.UnknownJobError{JobID: id.String()}
	}
	oldHeap := q.heaps[e.job.Priority]
	heap.Remove(oldHeap, e.heapIndex)

	e.job.Priority = newPriority
	newHeap := q.heaps[newPriority]
	heap.Push(newHeap, e)
	q.index[id] = e
	q.cond.Broadcast()
	return nil
}

// Peek returns the job that would be dequeued next without removing it.
func (q *Queue) Peek() (*job.Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	p, ok := q.selectLevel(time.Now())
	if !ok {
		return nil, false
	}
	return (*q.heaps[p])[0].job, true
}

// Size returns the total number of queued jobs across all levels.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, h := range q.heaps {
		n += h.Len()
	}
	return n
}

// SizeByPriority returns queue depth per level.
func (q *Queue) SizeByPriority() map[job.Priority]int {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make(map[job.Priority]int, len(q.heaps))
	for p, h := range q.heaps {
		out[p] = h.Len()
	}
	return out
}

// Clear empties the queue, returning every job it held.
func (q *Queue) Clear() []*job.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []*job.Job
	for p, h := range q.heaps {
		for _, e := range *h {
			out = append(out, e.job)
		}
		nh := &levelHeap{}
		heap.Init(nh)
		q.heaps[p] = nh
	}
	q.index = make(map[uuid.UUID]*entry)
	return out
}

// Close unblocks every pending Dequeue call; subsequent Dequeue calls
// return immediately with (nil, false).
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}
