// Package depgraph implements the dependency DAG: two adjacency maps,
// cycle detection by DFS over a hypothetical merged edge set,
// Kahn's-algorithm topological sort, and completion/failure cascade.
//
// Two-map shape (deps/dependents) plus a status mirror, with a
// detect-cycle-before-insert strategy and deterministic iteration
// order (ties broken by id).
package depgraph

import (
	"sort"
	"sync"

	"github.com/google/uuid"

	"taskqueue/pkg/job"
	"taskqueue/pkg/taskerr"
)

// Graph is the mutex-protected dependency DAG.
type Graph struct {
	mu         sync.Mutex
	deps       map[uuid.UUID]map[uuid.UUID]struct{} // id -> set(parent)
	dependents map[uuid.UUID]map[uuid.UUID]struct{} // id -> set(child)
	status     map[uuid.UUID]job.Status
	jobs       map[uuid.UUID]*job.Job
}

// New constructs an empty dependency graph.
func New() *Graph {
	return &Graph{
		deps:       make(map[uuid.UUID]map[uuid.UUID]struct{}),
		dependents: make(map[uuid.UUID]map[uuid.UUID]struct{}),
		status:     make(map[uuid.UUID]job.Status),
		jobs:       make(map[uuid.UUID]*job.Job),
	}
}

// AddJob inserts j and wires its DependsOn edges. Callers must have
// already validated against cycles (Validate) and against unknown
// parent ids.
func (g *Graph) AddJob(j *job.Job) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.addJobLocked(j)
}

func (g *Graph) addJobLocked(j *job.Job) {
	g.jobs[j.ID] = j
	g.status[j.ID] = j.Status
	if _, ok := g.deps[j.ID]; !ok {
		g.deps[j.ID] = make(map[uuid.UUID]struct{})
	}
	for _, parent := range j.DependsOn {
		g.deps[j.ID][parent] = struct{}{}
		if _, ok := g.dependents[parent]; !ok {
			g.dependents[parent] = make(map[uuid.UUID]struct{})
		}
		g.dependents[parent][j.ID] = struct{}{}
	}
}

// RemoveJob deletes a job and every edge touching it.
func (g *Graph) RemoveJob(id uuid.UUID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for parent := range g.deps[id] {
		delete(g.dependents[parent], id)
	}
	for child := range g.dependents[id] {
		delete(g.deps[child], id)
	}
	delete(g.deps, id)
	delete(g.dependents, id)
	delete(g.status, id)
	delete(g.jobs, id)
}

// Validate runs DFS over the hypothetical merged edge set (existing
// graph plus j's proposed DependsOn) and returns CircularDependencyError
// carrying the cycle path on a back-edge. It also rejects a DependsOn
// id this graph has never seen: every dependency id must resolve to a
// known job at submission time.
func (g *Graph) Validate(j *job.Job) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, parent := range j.DependsOn {
		if parent == j.ID {
			return &taskerr.CircularDependencyError{Cycle: []string{j.ID.String(), j.ID.String()}}
		}
		if _, known := g.jobs[parent]; !known {
			return &taskerr.UnknownJobError{JobID: parent.String()}
		}
	}

	merged := make(map[uuid.UUID]map[uuid.UUID]struct{}, len(g.deps)+1)
	for id, parents := range g.deps {
		cp := make(map[uuid.UUID]struct{}, len(parents))
		for p := range parents {
			cp[p] = struct{}{}
		}
		merged[id] = cp
	}
	parentSet := make(map[uuid.UUID]struct{}, len(j.DependsOn))
	for _, p := range j.DependsOn {
		parentSet[p] = struct{}{}
	}
	merged[j.ID] = parentSet

	if cycle := detectCycle(merged); cycle != nil {
		strs := make([]string, len(cycle))
		for i, id := range cycle {
			strs[i] = id.String()
		}
		return &taskerr.CircularDependencyError{Cycle: strs}
	}
	return nil
}

// ValidateBatch runs the same checks as Validate against a whole set
// of not-yet-inserted jobs at once: a DependsOn id may point at a
// sibling job in the same batch (not just the existing graph), and
// cycle detection covers edges spanning multiple new jobs, so a batch
// of mutually-referencing jobs is rejected before any of them commits.
func (g *Graph) ValidateBatch(jobs []*job.Job) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	batchIDs := make(map[uuid.UUID]struct{}, len(jobs))
	for _, j := range jobs {
		batchIDs[j.ID] = struct{}{}
	}

	for _, j := range jobs {
		for _, parent := range j.DependsOn {
			if parent == j.ID {
				return &taskerr.CircularDependencyError{Cycle: []string{j.ID.String(), j.ID.String()}}
			}
			_, knownExisting := g.jobs[parent]
			_, knownBatch := batchIDs[parent]
			if !knownExisting && !knownBatch {
				return &taskerr.UnknownJobError{JobID: parent.String()}
			}
		}
	}

	merged := make(map[uuid.UUID]map[uuid.UUID]struct{}, len(g.deps)+len(jobs))
	for id, parents := range g.deps {
		cp := make(map[uuid.UUID]struct{}, len(parents))
		for p := range parents {
			cp[p] = struct{}{}
		}
		merged[id] = cp
	}
	for _, j := range jobs {
		parentSet := make(map[uuid.UUID]struct{}, len(j.DependsOn))
		for _, p := range j.DependsOn {
			parentSet[p] = struct{}{}
		}
		merged[j.ID] = parentSet
	}

	if cycle := detectCycle(merged); cycle != nil {
		strs := make([]string, len(cycle))
		for i, id := range cycle {
			strs[i] = id.String()
		}
		return &taskerr.CircularDependencyError{Cycle: strs}
	}
	return nil
}

func detectCycle(edges map[uuid.UUID]map[uuid.UUID]struct{}) []uuid.UUID {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[uuid.UUID]int, len(edges))

	// Deterministic iteration order so repeated calls with the same
	// input produce the same reported cycle.
	nodes := make([]uuid.UUID, 0, len(edges))
	for id := range edges {
		nodes = append(nodes, id)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].String() < nodes[j].String() })

	var path []uuid.UUID
	var cycle []uuid.UUID

	var dfs func(uuid.UUID) bool
	dfs = func(node uuid.UUID) bool {
		color[node] = gray
		path = append(path, node)

		neighbors := make([]uuid.UUID, 0, len(edges[node]))
		for n := range edges[node] {
			neighbors = append(neighbors, n)
		}
		sort.Slice(neighbors, func(i, j int) bool { return neighbors[i].String() < neighbors[j].String() })

		for _, neighbor := range neighbors {
			switch color[neighbor] {
			case white:
				if dfs(neighbor) {
					return true
				}
			case gray:
				idx := 0
				for i, n := range path {
					if n == neighbor {
						idx = i
						break
					}
				}
				cycle = append(append([]uuid.UUID{}, path[idx:]...), neighbor)
				return true
			}
		}

		path = path[:len(path)-1]
		color[node] = black
		return false
	}

	for _, node := range nodes {
		if color[node] == white {
			if dfs(node) {
				return cycle
			}
		}
	}
	return nil
}

// MarkCompleted sets job's status to COMPLETED and returns the ids of
// every dependent whose dependencies are now all met.
func (g *Graph) MarkCompleted(id uuid.UUID) []uuid.UUID {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.status[id] = job.StatusCompleted

	var runnable []uuid.UUID
	children := make([]uuid.UUID, 0, len(g.dependents[id]))
	for child := range g.dependents[id] {
		children = append(children, child)
	}
	sort.Slice(children, func(i, j int) bool { return children[i].String() < children[j].String() })
	for _, child := range children {
		if !g.hasUnmetDependenciesLocked(child) {
			runnable = append(runnable, child)
		}
	}
	return runnable
}

// MarkFailed sets job's status to FAILED and returns every dependent id
// (the coordinator cascades FAILED to each of them).
func (g *Graph) MarkFailed(id uuid.UUID) []uuid.UUID {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.status[id] = job.StatusFailed

	children := make([]uuid.UUID, 0, len(g.dependents[id]))
	for child := range g.dependents[id] {
		children = append(children, child)
	}
	sort.Slice(children, func(i, j int) bool { return children[i].String() < children[j].String() })
	return children
}

// UpdateStatus records a job's current status in the graph's mirror.
func (g *Graph) UpdateStatus(id uuid.UUID, status job.Status) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.status[id] = status
}

func (g *Graph) hasUnmetDependenciesLocked(id uuid.UUID) bool {
	for parent := range g.deps[id] {
		if g.status[parent] != job.StatusCompleted {
			return true
		}
	}
	return false
}

// HasUnmetDependencies reports whether any parent of id has not
// reached COMPLETED.
func (g *Graph) HasUnmetDependencies(id uuid.UUID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.hasUnmetDependenciesLocked(id)
}

// Dependencies returns the parent ids of a job.
func (g *Graph) Dependencies(id uuid.UUID) []uuid.UUID {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]uuid.UUID, 0, len(g.deps[id]))
	for p := range g.deps[id] {
		out = append(out, p)
	}
	return out
}

// Dependents returns the child ids of a job.
func (g *Graph) Dependents(id uuid.UUID) []uuid.UUID {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]uuid.UUID, 0, len(g.dependents[id]))
	for c := range g.dependents[id] {
		out = append(out, c)
	}
	return out
}

// TopologicalSort runs Kahn's algorithm over the full graph, with
// ties broken by id for determinism. Returns CircularDependencyError
// if the graph (somehow) contains a cycle.
func (g *Graph) TopologicalSort() ([]uuid.UUID, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	inDegree := make(map[uuid.UUID]int, len(g.jobs))
	for id := range g.jobs {
		inDegree[id] = len(g.deps[id])
	}

	var ready []uuid.UUID
	for id, deg := range inDegree {
		if deg == 0 {
			ready = append(ready, id)
		}
	}
	sort.Slice(ready, func(i, j int) bool { return ready[i].String() < ready[j].String() })

	var result []uuid.UUID
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool { return ready[i].String() < ready[j].String() })
		id := ready[0]
		ready = ready[1:]
		result = append(result, id)

		children := make([]uuid.UUID, 0, len(g.dependents[id]))
		for c := range g.dependents[id] {
			children = append(children, c)
		}
		sort.Slice(children, func(i, j int) bool { return children[i].String() < children[j].String() })
		for _, child := range children {
			inDegree[child]--
			if inDegree[child] == 0 {
				ready = append(ready, child)
			}
		}
	}

	if len(result) != len(g.jobs) {
		return nil, &taskerr.CircularDependencyError{Cycle: []string{"cycle detected in graph"}}
	}
	return result, nil
}

// Job looks up a job by id.
func (g *Graph) Job(id uuid.UUID) (*job.Job, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	j, ok := g.jobs[id]
	return j, ok
}

// Len returns the number of jobs tracked.
func (g *Graph) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.jobs)
}
