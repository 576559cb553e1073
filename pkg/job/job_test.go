package job

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateRejectsEmptyName(t *testing.T) {
	j := New("", nil, PriorityNormal)
	err := Validate(j)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "name")
}

func TestValidateCustomStrategyRequiresDelays(t *testing.T) {
	j := New("a", nil, PriorityNormal)
	j.RetryConfig = RetryConfig{Strategy: RetryCustom, MaxAttempts: 2}
	err := Validate(j)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "custom_delays_ms")
}

func TestValidateNegativeDelay(t *testing.T) {
	j := New("a", nil, PriorityNormal)
	j.DelayMs = -1
	err := Validate(j)
	require.Error(t, err)
}

func TestTransitionGraph(t *testing.T) {
	j := New("a", nil, PriorityNormal)
	require.NoError(t, Transition(j, StatusRunning))
	assert.Equal(t, StatusRunning, j.Status)
	assert.NotNil(t, j.StartedAt)

	require.NoError(t, Transition(j, StatusCompleted))
	assert.Equal(t, StatusCompleted, j.Status)
	assert.NotNil(t, j.CompletedAt)
}

func TestTransitionIllegal(t *testing.T) {
	j := New("a", nil, PriorityNormal)
	err := Transition(j, StatusCompleted)
	require.Error(t, err)
	assert.Equal(t, StatusPending, j.Status)
}

func TestCloneResetsLifecycle(t *testing.T) {
	j := New("cron-job", []byte("payload"), PriorityHigh)
	j.Attempt = 2
	j.Status = StatusRunning

	clone := j.Clone()
	assert.NotEqual(t, j.ID, clone.ID)
	assert.Equal(t, j.Name, clone.Name)
	assert.Equal(t, j.Priority, clone.Priority)
	assert.Equal(t, StatusPending, clone.Status)
	assert.Equal(t, 0, clone.Attempt)
}

func TestAttemptExceedsMaxAttemptsIsInvalid(t *testing.T) {
	j := New("a", nil, PriorityNormal)
	j.RetryConfig.MaxAttempts = 1
	j.Attempt = 2
	err := Validate(j)
	require.Error(t, err)
}
