// Package cluster implements cross-worker coordination: load
// classification and the work-stealing protocol that moves pending
// jobs off overloaded nodes. Distributed locking and leader election
// live in the redislock/etcdlock subpackages.
//
// Uses a threshold-based overloaded/underloaded classification
// (default τ=0.3) and a steal-by-detach-then-assign protocol over the
// worker.Registry.
package cluster

import (
	"sort"

	"github.com/google/uuid"

	"taskqueue/pkg/job"
	"taskqueue/pkg/worker"
)

// DefaultThreshold is the load fraction used to classify workers as
// overloaded (load > 1-τ) or underloaded (load < τ).
const DefaultThreshold = 0.3

// Balancer finds load imbalance across a worker registry and moves
// pending work between nodes.
type Balancer struct {
	registry  *worker.Registry
	threshold float64
}

// NewBalancer constructs a Balancer over registry with the given
// threshold; threshold <= 0 falls back to DefaultThreshold.
func NewBalancer(registry *worker.Registry, threshold float64) *Balancer {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Balancer{registry: registry, threshold: threshold}
}

// Overloaded returns active nodes whose load exceeds 1-threshold.
func (b *Balancer) Overloaded() []*worker.Node {
	var out []*worker.Node
	for _, n := range b.registry.All() {
		if n.Load() > 1-b.threshold {
			out = append(out, n)
		}
	}
	return out
}

// Underloaded returns active nodes whose load is below threshold.
func (b *Balancer) Underloaded() []*worker.Node {
	var out []*worker.Node
	for _, n := range b.registry.All() {
		if n.Load() < b.threshold {
			out = append(out, n)
		}
	}
	return out
}

// StealCandidates returns jobs on an overloaded node that are still
// eligible to move — only jobs that have not yet started running
// (PENDING, assigned but not dispatched) qualify.
func StealCandidates(n *worker.Node) []*job.Job {
	var out []*job.Job
	for _, j := range n.RunningJobs() {
		if j.Status == job.StatusPending {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID.String() < out[k].ID.String() })
	return out
}

// Steal moves a claimed-but-not-started job from one node to another,
// restoring it to the source if the destination lacks capacity. Never
// moves a RUNNING job.
func Steal(jobID uuid.UUID, from, to *worker.Node) (*job.Job, bool) {
	stolen, ok := from.StealableComplete(jobID)
	if !ok {
		return nil, false
	}
	stolen.WorkerID = ""
	if err := to.Claim(stolen); err != nil {
		_ = from.Claim(stolen)
		return nil, false
	}
	return stolen, true
}

// Rebalance performs one pass of work stealing: for every overloaded
// node it moves steal candidates to the least-loaded underloaded node
// until either side's imbalance resolves. Returns the jobs moved.
func (b *Balancer) Rebalance() []*job.Job {
	var moved []*job.Job
	overloaded := b.Overloaded()
	if len(overloaded) == 0 {
		return moved
	}

	for _, from := range overloaded {
		for _, candidate := range StealCandidates(from) {
			underloaded := b.Underloaded()
			if len(underloaded) == 0 {
				break
			}
			sort.Slice(underloaded, func(i, k int) bool { return underloaded[i].Load() < underloaded[k].Load() })
			to := underloaded[0]
			if to.Info().ID == from.Info().ID {
				continue
			}
			if stolen, ok := Steal(candidate.ID, from, to); ok {
				moved = append(moved, stolen)
			}
			if from.Load() <= 1-b.threshold {
				break
			}
		}
	}
	return moved
}
