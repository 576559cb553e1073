package worker

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskqueue/pkg/job"
)

func TestAssignRespectsCapacity(t *testing.T) {
	n := NewNode(NewInfo("w1", 1))
	a := job.New("a", nil, job.PriorityNormal)
	b := job.New("b", nil, job.PriorityNormal)

	require.NoError(t, n.Assign(a))
	err := n.Assign(b)
	require.Error(t, err)
	assert.Equal(t, 0, n.AvailableCapacity())
}

func TestCompleteFreesCapacity(t *testing.T) {
	n := NewNode(NewInfo("w1", 2))
	a := job.New("a", nil, job.PriorityNormal)
	require.NoError(t, n.Assign(a))

	got, ok := n.Complete(a.ID)
	require.True(t, ok)
	assert.Equal(t, a.ID, got.ID)
	assert.Equal(t, 2, n.AvailableCapacity())
}

func TestLoadFraction(t *testing.T) {
	n := NewNode(NewInfo("w1", 4))
	a := job.New("a", nil, job.PriorityNormal)
	require.NoError(t, n.Assign(a))
	assert.Equal(t, 0.25, n.Load())
}

func TestClaimLeavesJobPendingUntilStart(t *testing.T) {
	n := NewNode(NewInfo("w1", 2))
	a := job.New("a", nil, job.PriorityNormal)

	require.NoError(t, n.Claim(a))
	assert.Equal(t, job.StatusPending, a.Status)
	assert.Equal(t, 1, len(n.RunningJobs()))

	require.NoError(t, n.Start(a.ID))
	assert.Equal(t, job.StatusRunning, a.Status)
}

func TestStartFailsWhenJobNoLongerClaimed(t *testing.T) {
	n := NewNode(NewInfo("w1", 2))
	err := n.Start(uuid.New())
	require.Error(t, err)
}

func TestRegistryActiveAndStale(t *testing.T) {
	r := NewRegistry(10 * time.Millisecond)
	n := NewNode(NewInfo("w1", 1))
	r.Register(n)

	now := time.Now()
	assert.Len(t, r.Active(now), 1)
	assert.Len(t, r.Stale(now), 0)

	stale := now.Add(50 * time.Millisecond)
	assert.Len(t, r.Active(stale), 0)
	assert.Len(t, r.Stale(stale), 1)
}

func TestRegistryHeartbeatRevivesNode(t *testing.T) {
	r := NewRegistry(50 * time.Millisecond)
	n := NewNode(NewInfo("w1", 1))
	r.Register(n)

	time.Sleep(80 * time.Millisecond)
	require.Len(t, r.Stale(time.Now()), 1)

	require.True(t, r.Heartbeat(n.Info().ID))
	assert.Len(t, r.Stale(time.Now()), 0)
}

func TestRegistryUnregisterUnknown(t *testing.T) {
	r := NewRegistry(time.Second)
	_, ok := r.Unregister("missing")
	assert.False(t, ok)
}
