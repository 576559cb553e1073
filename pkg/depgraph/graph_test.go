package depgraph

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskqueue/pkg/job"
)

func TestCycleDetectionRejectsAndLeavesGraphUnchanged(t *testing.T) {
	g := New()
	a := job.New("a", nil, job.PriorityNormal)
	b := job.New("b", nil, job.PriorityNormal)
	c := job.New("c", nil, job.PriorityNormal)

	b.DependsOn = []uuid.UUID{a.ID}
	g.AddJob(a)
	require.NoError(t, g.Validate(b))
	g.AddJob(b)

	c.DependsOn = []uuid.UUID{b.ID}
	require.NoError(t, g.Validate(c))
	g.AddJob(c)

	// Now try to close the loop: a depends on c.
	aWithCycle := &job.Job{ID: a.ID, DependsOn: []uuid.UUID{c.ID}}
	err := g.Validate(aWithCycle)
	require.Error(t, err)
	assert.Equal(t, 3, g.Len())
}

func TestUnknownDependencyRejected(t *testing.T) {
	g := New()
	a := job.New("a", nil, job.PriorityNormal)
	a.DependsOn = []uuid.UUID{uuid.New()}
	err := g.Validate(a)
	require.Error(t, err)
}

func TestMarkCompletedUnlocksChild(t *testing.T) {
	g := New()
	a := job.New("a", nil, job.PriorityNormal)
	b := job.New("b", nil, job.PriorityNormal)
	c := job.New("c", nil, job.PriorityNormal)
	b.DependsOn = []uuid.UUID{a.ID}
	c.DependsOn = []uuid.UUID{a.ID, b.ID}

	g.AddJob(a)
	g.AddJob(b)
	g.AddJob(c)

	assert.True(t, g.HasUnmetDependencies(b.ID))
	runnable := g.MarkCompleted(a.ID)
	assert.Contains(t, runnable, b.ID)
	assert.NotContains(t, runnable, c.ID, "c still waits on b")

	runnable = g.MarkCompleted(b.ID)
	assert.Contains(t, runnable, c.ID)
}

func TestMarkFailedCascadesToChildren(t *testing.T) {
	g := New()
	a := job.New("a", nil, job.PriorityNormal)
	b := job.New("b", nil, job.PriorityNormal)
	b.DependsOn = []uuid.UUID{a.ID}
	g.AddJob(a)
	g.AddJob(b)

	affected := g.MarkFailed(a.ID)
	assert.Contains(t, affected, b.ID)
}

func TestTopologicalSortOrdersParentsFirst(t *testing.T) {
	g := New()
	a := job.New("a", nil, job.PriorityNormal)
	b := job.New("b", nil, job.PriorityNormal)
	b.DependsOn = []uuid.UUID{a.ID}
	g.AddJob(a)
	g.AddJob(b)

	order, err := g.TopologicalSort()
	require.NoError(t, err)
	require.Len(t, order, 2)
	assert.Equal(t, a.ID, order[0])
	assert.Equal(t, b.ID, order[1])
}

func TestValidateBatchAllowsSiblingDependency(t *testing.T) {
	g := New()
	parent := job.New("parent", nil, job.PriorityNormal)
	child := job.New("child", nil, job.PriorityNormal)
	child.DependsOn = []uuid.UUID{parent.ID}

	require.NoError(t, g.ValidateBatch([]*job.Job{parent, child}))
}

func TestValidateBatchRejectsCycleAcrossBatchMembers(t *testing.T) {
	g := New()
	a := job.New("a", nil, job.PriorityNormal)
	b := job.New("b", nil, job.PriorityNormal)
	a.DependsOn = []uuid.UUID{b.ID}
	b.DependsOn = []uuid.UUID{a.ID}

	err := g.ValidateBatch([]*job.Job{a, b})
	require.Error(t, err)
	assert.Equal(t, 0, g.Len(), "a rejected batch must not have touched the graph")
}

func TestSelfDependencyRejected(t *testing.T) {
	g := New()
	a := job.New("a", nil, job.PriorityNormal)
	g.AddJob(a)
	self := &job.Job{ID: a.ID, DependsOn: []uuid.UUID{a.ID}}
	err := g.Validate(self)
	require.Error(t, err)
}
