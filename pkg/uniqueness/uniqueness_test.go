package uniqueness

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskqueue/pkg/job"
	"taskqueue/pkg/taskerr"
)

func TestAcquireRejectsDuplicate(t *testing.T) {
	r := NewRegistry()
	a, b := uuid.New(), uuid.New()
	require.NoError(t, r.Acquire("k", a))

	err := r.Acquire("k", b)
	require.Error(t, err)
	assert.True(t, errors.Is(err, taskerr.ErrDuplicateUnique))
}

func TestAcquireIdempotentForSameJob(t *testing.T) {
	r := NewRegistry()
	a := uuid.New()
	require.NoError(t, r.Acquire("k", a))
	require.NoError(t, r.Acquire("k", a))
}

func TestReleaseFreesKey(t *testing.T) {
	r := NewRegistry()
	a, b := uuid.New(), uuid.New()
	require.NoError(t, r.Acquire("k", a))
	assert.True(t, r.Release("k"))
	require.NoError(t, r.Acquire("k", b))
}

type fakeSubmitter struct {
	fail           map[string]bool
	rejectBatch    bool
	submitted      []uuid.UUID
	cancelled      []uuid.UUID
	validateCalled bool
}

func (f *fakeSubmitter) ValidateBatch(jobs []*job.Job) error {
	f.validateCalled = true
	if f.rejectBatch {
		return errors.New("preflight rejected")
	}
	return nil
}

func (f *fakeSubmitter) Submit(j *job.Job) error {
	if f.fail[j.Name] {
		return errors.New("boom")
	}
	f.submitted = append(f.submitted, j.ID)
	return nil
}

func (f *fakeSubmitter) Cancel(id uuid.UUID) error {
	f.cancelled = append(f.cancelled, id)
	return nil
}

func TestSubmitBatchAtomicRollsBackOnFailure(t *testing.T) {
	sub := &fakeSubmitter{fail: map[string]bool{"b": true}}
	a := job.New("a", nil, job.PriorityNormal)
	b := job.New("b", nil, job.PriorityNormal)
	c := job.New("c", nil, job.PriorityNormal)

	ok, failed := SubmitBatch(sub, []*job.Job{a, b, c}, true)
	assert.Empty(t, ok)
	assert.Len(t, failed, 3)
	assert.Len(t, sub.cancelled, 1, "the one job that had already committed gets rolled back")
}

func TestSubmitBatchAtomicRejectsWithoutSubmittingOnFailedPreflight(t *testing.T) {
	sub := &fakeSubmitter{rejectBatch: true}
	a := job.New("a", nil, job.PriorityNormal)
	b := job.New("b", nil, job.PriorityNormal)

	ok, failed := SubmitBatch(sub, []*job.Job{a, b}, true)
	assert.Empty(t, ok)
	assert.Len(t, failed, 2)
	assert.True(t, sub.validateCalled)
	assert.Empty(t, sub.submitted, "nothing is submitted when pre-validation rejects the batch")
	assert.Empty(t, sub.cancelled, "no rollback needed when nothing was ever submitted")
}

func TestSubmitBatchBestEffortPartialSuccess(t *testing.T) {
	sub := &fakeSubmitter{fail: map[string]bool{"b": true}}
	a := job.New("a", nil, job.PriorityNormal)
	b := job.New("b", nil, job.PriorityNormal)

	ok, failed := SubmitBatch(sub, []*job.Job{a, b}, false)
	assert.Len(t, ok, 1)
	assert.Len(t, failed, 1)
	assert.Empty(t, sub.cancelled)
}
