// Package worker implements worker node lifecycle: capacity
// accounting, heartbeat liveness, and the registry that the cluster
// package queries for work-stealing and scheduling decisions.
//
// Node identity follows a hostname+uuid shape with gopsutil-based
// capacity detection and a heartbeat-goroutine-plus-semaphore-pool
// structure. Node and Registry are split types so the registry can be
// queried independently of any one node's execution state.
package worker

import (
	"fmt"
	"os"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/mem"

	"taskqueue/pkg/job"
	"taskqueue/pkg/taskerr"
)

// Status mirrors the worker lifecycle states surfaced to operators.
type Status string

const (
	StatusActive   Status = "ACTIVE"
	StatusDraining Status = "DRAINING"
	StatusStopped  Status = "STOPPED"
)

// Info is the registry-visible description of a worker node.
type Info struct {
	ID                string
	Name              string
	Hostname          string
	TotalCPU          int
	TotalMemMB        uint64
	MaxConcurrentJobs int
	Status            Status
	LastHeartbeat     time.Time
}

func detectTotalMemory() uint64 {
	v, err := mem.VirtualMemory()
	if err != nil {
		return 1024
	}
	return v.Total / 1024 / 1024
}

// NewInfo builds worker Info for this process, sizing capacity after
// the host's CPU count unless maxConcurrent overrides it.
func NewInfo(name string, maxConcurrent int) Info {
	hostname, _ := os.Hostname()
	id := fmt.Sprintf("%s-%s", hostname, uuid.New().String()[:8])
	if maxConcurrent <= 0 {
		maxConcurrent = runtime.NumCPU()
	}
	return Info{
		ID:                id,
		Name:              name,
		Hostname:          hostname,
		TotalCPU:          runtime.NumCPU(),
		TotalMemMB:        detectTotalMemory(),
		MaxConcurrentJobs: maxConcurrent,
		Status:            StatusActive,
		LastHeartbeat:     time.Now(),
	}
}

// Node tracks the jobs currently running on one worker.
type Node struct {
	mu      sync.Mutex
	info    Info
	running map[uuid.UUID]*job.Job
}

// NewNode wraps Info in a Node with no running jobs.
func NewNode(info Info) *Node {
	return &Node{info: info, running: make(map[uuid.UUID]*job.Job)}
}

// Assign atomically reserves capacity for j and starts it (PENDING ->
// RUNNING) in one step. Use Claim+Start instead when callers need a
// claimed-but-not-yet-running window for work-stealing to act on.
// Returns AtCapacityError when full.
func (n *Node) Assign(j *job.Job) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.running) >= n.info.MaxConcurrentJobs {
		return &taskerr.AtCapacityError{WorkerID: n.info.ID, Max: n.info.MaxConcurrentJobs}
	}
	if err := job.Transition(j, job.StatusRunning); err != nil {
		return err
	}
	j.WorkerID = n.info.ID
	n.running[j.ID] = j
	return nil
}

// Claim reserves capacity for j without starting it: j keeps its
// current status (normally PENDING), so a claimed job is still a
// legitimate steal candidate until Start is called. Returns
// AtCapacityError when full.
func (n *Node) Claim(j *job.Job) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.running) >= n.info.MaxConcurrentJobs {
		return &taskerr.AtCapacityError{WorkerID: n.info.ID, Max: n.info.MaxConcurrentJobs}
	}
	j.WorkerID = n.info.ID
	n.running[j.ID] = j
	return nil
}

// Start transitions a previously Claimed job to RUNNING. Fails with
// UnknownJobError if id is no longer tracked here, which happens when
// the job was stolen between Claim and Start.
func (n *Node) Start(id uuid.UUID) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	j, ok := n.running[id]
	if !ok {
		return &taskerr.UnknownJobError{JobID: id.String()}
	}
	return job.Transition(j, job.StatusRunning)
}

// Complete detaches a job from this node, returning it if it was running here.
func (n *Node) Complete(id uuid.UUID) (*job.Job, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	j, ok := n.running[id]
	if ok {
		delete(n.running, id)
	}
	return j, ok
}

// StealableComplete detaches job id from this node only if it has not
// yet started running. The work-stealing protocol must never move a
// RUNNING job; this makes that guarantee atomic with the lookup
// instead of racing a separate status check against Complete.
func (n *Node) StealableComplete(id uuid.UUID) (*job.Job, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	j, ok := n.running[id]
	if !ok || j.Status != job.StatusPending {
		return nil, false
	}
	delete(n.running, id)
	return j, true
}

// RunningJobs returns a snapshot of jobs currently assigned here.
func (n *Node) RunningJobs() []*job.Job {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]*job.Job, 0, len(n.running))
	for _, j := range n.running {
		out = append(out, j)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID.String() < out[k].ID.String() })
	return out
}

// AvailableCapacity returns the number of additional jobs this node can take.
func (n *Node) AvailableCapacity() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.info.MaxConcurrentJobs - len(n.running)
}

// Load returns current/max as a fraction in [0,1], used by work-stealing
// classification against a load-imbalance threshold (0.3 default).
func (n *Node) Load() float64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.info.MaxConcurrentJobs == 0 {
		return 0
	}
	return float64(len(n.running)) / float64(n.info.MaxConcurrentJobs)
}

// Heartbeat refreshes the node's liveness timestamp.
func (n *Node) Heartbeat() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.info.LastHeartbeat = time.Now()
}

// SetStatus updates the node's reported status.
func (n *Node) SetStatus(s Status) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.info.Status = s
}

// Info returns a copy of the node's current description.
func (n *Node) Info() Info {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.info
}

// Registry tracks every worker node known to the coordinator, expiring
// stale ones by heartbeat timeout.
type Registry struct {
	mu               sync.Mutex
	nodes            map[string]*Node
	heartbeatTimeout time.Duration
}

// NewRegistry constructs a registry with the given heartbeat timeout.
func NewRegistry(heartbeatTimeout time.Duration) *Registry {
	return &Registry{nodes: make(map[string]*Node), heartbeatTimeout: heartbeatTimeout}
}

// Register adds or replaces a worker node.
func (r *Registry) Register(n *Node) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nodes[n.Info().ID] = n
}

// Unregister removes a worker node by id.
func (r *Registry) Unregister(id string) (*Node, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.nodes[id]
	if ok {
		delete(r.nodes, id)
	}
	return n, ok
}

// Get looks up a worker node by id.
func (r *Registry) Get(id string) (*Node, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.nodes[id]
	return n, ok
}

// All returns every registered node, sorted by id for determinism.
func (r *Registry) All() []*Node {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Node, 0, len(r.nodes))
	for _, n := range r.nodes {
		out = append(out, n)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].info.ID < out[k].info.ID })
	return out
}

// Active returns nodes whose last heartbeat is within the timeout.
func (r *Registry) Active(now time.Time) []*Node {
	var out []*Node
	for _, n := range r.All() {
		if now.Sub(n.Info().LastHeartbeat) <= r.heartbeatTimeout {
			out = append(out, n)
		}
	}
	return out
}

// Stale returns nodes whose last heartbeat has expired.
func (r *Registry) Stale(now time.Time) []*Node {
	var out []*Node
	for _, n := range r.All() {
		if now.Sub(n.Info().LastHeartbeat) > r.heartbeatTimeout {
			out = append(out, n)
		}
	}
	return out
}

// Heartbeat refreshes a node's liveness, returning false if unknown.
func (r *Registry) Heartbeat(id string) bool {
	n, ok := r.Get(id)
	if !ok {
		return false
	}
	n.Heartbeat()
	return true
}

// Count returns the number of registered nodes.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.nodes)
}
