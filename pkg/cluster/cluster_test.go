package cluster

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskqueue/pkg/job"
	"taskqueue/pkg/worker"
)

func TestClassifyOverloadedAndUnderloaded(t *testing.T) {
	reg := worker.NewRegistry(time.Minute)
	busy := worker.NewNode(worker.NewInfo("busy", 2))
	idle := worker.NewNode(worker.NewInfo("idle", 4))
	reg.Register(busy)
	reg.Register(idle)

	j1 := job.New("a", nil, job.PriorityNormal)
	j2 := job.New("b", nil, job.PriorityNormal)
	require.NoError(t, busy.Assign(j1))
	require.NoError(t, busy.Assign(j2))

	b := NewBalancer(reg, DefaultThreshold)
	overloaded := b.Overloaded()
	require.Len(t, overloaded, 1)
	assert.Equal(t, busy.Info().ID, overloaded[0].Info().ID)

	underloaded := b.Underloaded()
	require.Len(t, underloaded, 1)
	assert.Equal(t, idle.Info().ID, underloaded[0].Info().ID)
}

func TestStealMovesOnlyClaimedPendingJobs(t *testing.T) {
	from := worker.NewNode(worker.NewInfo("from", 2))
	to := worker.NewNode(worker.NewInfo("to", 2))

	claimed := job.New("claimed", nil, job.PriorityNormal)
	require.NoError(t, from.Claim(claimed)) // reserved but still PENDING

	candidates := StealCandidates(from)
	require.Len(t, candidates, 1)
	assert.Equal(t, claimed.ID, candidates[0].ID)

	stolen, ok := Steal(claimed.ID, from, to)
	require.True(t, ok)
	assert.Equal(t, to.Info().ID, stolen.WorkerID)
	assert.Equal(t, job.StatusPending, stolen.Status)
	assert.Equal(t, 1, len(to.RunningJobs()))
	assert.Equal(t, 0, len(from.RunningJobs()))
}

func TestStealRejectsRunningJob(t *testing.T) {
	from := worker.NewNode(worker.NewInfo("from", 2))
	to := worker.NewNode(worker.NewInfo("to", 2))

	running := job.New("running", nil, job.PriorityNormal)
	require.NoError(t, from.Assign(running)) // transitions straight to RUNNING

	candidates := StealCandidates(from)
	assert.Empty(t, candidates, "a running job is not a steal candidate")

	_, ok := Steal(running.ID, from, to)
	assert.False(t, ok, "Steal must never move a RUNNING job")
	assert.Equal(t, 1, len(from.RunningJobs()), "running job stays on its origin node")
}

func TestStealRestoresOnDestinationFull(t *testing.T) {
	from := worker.NewNode(worker.NewInfo("from", 2))
	to := worker.NewNode(worker.NewInfo("to", 1))

	blocker := job.New("blocker", nil, job.PriorityNormal)
	require.NoError(t, to.Assign(blocker))

	j := job.New("j", nil, job.PriorityNormal)
	require.NoError(t, from.Claim(j))

	_, ok := Steal(j.ID, from, to)
	require.False(t, ok)
	assert.Equal(t, 1, len(from.RunningJobs()), "job restored to origin on failed steal")
}
