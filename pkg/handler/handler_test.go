package handler

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskqueue/pkg/job"
	"taskqueue/pkg/taskerr"
)

func TestRegistryResolveUnknownName(t *testing.T) {
	r := NewRegistry()
	_, ok := r.Resolve("missing")
	assert.False(t, ok)
}

func TestExecuteDispatchesToRegisteredHandler(t *testing.T) {
	r := NewRegistry()
	r.Register("echo", Func(func(ctx context.Context, j *job.Job) ([]byte, error) {
		return j.Payload, nil
	}))

	j := job.New("echo", []byte("hello"), job.PriorityNormal)
	result, err := r.Execute(context.Background(), j)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(result))
}

func TestExecuteUnknownHandlerReturnsHandlerError(t *testing.T) {
	r := NewRegistry()
	j := job.New("nope", nil, job.PriorityNormal)

	_, err := r.Execute(context.Background(), j)
	require.Error(t, err)
	var herr *taskerr.HandlerError
	require.ErrorAs(t, err, &herr)
	assert.Equal(t, j.ID.String(), herr.JobID)
}

func TestExecuteWrapsHandlerFailure(t *testing.T) {
	r := NewRegistry()
	cause := errors.New("boom")
	r.Register("fails", Func(func(ctx context.Context, j *job.Job) ([]byte, error) {
		return nil, cause
	}))

	j := job.New("fails", nil, job.PriorityNormal)
	_, err := r.Execute(context.Background(), j)
	require.Error(t, err)
	var herr *taskerr.HandlerError
	require.ErrorAs(t, err, &herr)
	assert.ErrorIs(t, herr.Cause, cause)
}

func TestExecuteTranslatesDeadlineToTimeoutError(t *testing.T) {
	r := NewRegistry()
	r.Register("slow", Func(func(ctx context.Context, j *job.Job) ([]byte, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}))

	j := job.New("slow", nil, job.PriorityNormal)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	_, err := r.Execute(ctx, j)
	require.Error(t, err)
	var terr *taskerr.TimeoutError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, j.ID.String(), terr.JobID)
}

func TestShellHandlerCapturesExitCodeAndOutput(t *testing.T) {
	h := NewShellHandler()
	args, err := json.Marshal(ShellArgs{Command: "sh", Args: []string{"-c", "echo out; echo err >&2; exit 0"}})
	require.NoError(t, err)

	j := job.New("shell", args, job.PriorityNormal)
	result, err := h.Handle(context.Background(), j)
	require.NoError(t, err)

	var sr ShellResult
	require.NoError(t, json.Unmarshal(result, &sr))
	assert.Equal(t, 0, sr.ExitCode)
	assert.Equal(t, "out\n", sr.Stdout)
	assert.Equal(t, "err\n", sr.Stderr)
}

func TestShellHandlerReturnsNonZeroExitAsError(t *testing.T) {
	h := NewShellHandler()
	args, err := json.Marshal(ShellArgs{Command: "sh", Args: []string{"-c", "exit 7"}})
	require.NoError(t, err)

	j := job.New("shell", args, job.PriorityNormal)
	result, err := h.Handle(context.Background(), j)
	require.Error(t, err)

	var sr ShellResult
	require.NoError(t, json.Unmarshal(result, &sr))
	assert.Equal(t, 7, sr.ExitCode)
}
