// Package uniqueness implements the uniqueness constraint registry and
// bulk submission: a held-key map with acquire/release/is_held/
// get_holder, and atomic-vs-best-effort batch submission built on top
// of a pluggable Submitter.
package uniqueness

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"

	"github.com/google/uuid"

	"taskqueue/pkg/job"
	"taskqueue/pkg/taskerr"
)

// Registry tracks which unique_key values are currently held and by
// which job.
type Registry struct {
	mu   sync.Mutex
	keys map[string]uuid.UUID
}

// NewRegistry constructs an empty uniqueness registry.
func NewRegistry() *Registry {
	return &Registry{keys: make(map[string]uuid.UUID)}
}

// GenerateKey derives a stable key from a job's name and payload,
// for callers that did not supply an explicit unique_key.
func GenerateKey(j *job.Job) string {
	h := sha256.Sum256(append([]byte(j.Name+":"), j.Payload...))
	return hex.EncodeToString(h[:])[:16]
}

// Acquire claims key for jobID, failing with DuplicateUniqueError if
// another job already holds it.
func (r *Registry) Acquire(key string, jobID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if holder, held := r.keys[key]; held && holder != jobID {
		return &taskerr.DuplicateUniqueError{Key: key, OwnerID: holder.String()}
	}
	r.keys[key] = jobID
	return nil
}

// Release drops a held key, reporting whether it had been held.
func (r *Registry) Release(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.keys[key]; !ok {
		return false
	}
	delete(r.keys, key)
	return true
}

// IsHeld reports whether key is currently claimed.
func (r *Registry) IsHeld(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.keys[key]
	return ok
}

// Holder returns the job id holding key, if any.
func (r *Registry) Holder(key string) (uuid.UUID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.keys[key]
	return id, ok
}

// Submitter is the subset of the coordinator a bulk submission drives.
// ValidateBatch performs every read-only check required before an
// atomic batch may commit — schema, uniqueness-key availability
// (including duplicates within the batch itself), and dependency
// resolution across the whole batch, including edges between jobs in
// the same batch — without acquiring a key, registering a dependency
// edge, or enqueuing anything. Submit performs the one job in,
// success/failure out: validation, dependency registration, uniqueness
// claim, and queue placement. Cancel rolls back a single committed
// submission.
type Submitter interface {
	ValidateBatch(jobs []*job.Job) error
	Submit(j *job.Job) error
	Cancel(id uuid.UUID) error
}

// FailedSubmission pairs a job id with the reason its submission failed.
type FailedSubmission struct {
	JobID  uuid.UUID
	Reason string
}

// SubmitBatch submits jobs either atomically (all-or-nothing, spec
// §4.8 "the batch either fully commits or fully rolls back") or best
// effort (each job submitted independently).
func SubmitBatch(sub Submitter, jobs []*job.Job, atomic bool) ([]uuid.UUID, []FailedSubmission) {
	if atomic {
		return submitAtomic(sub, jobs)
	}
	return submitBestEffort(sub, jobs)
}

// submitAtomic validates the entire batch before touching the live
// submission path: nothing is enqueued until every job in the batch
// has cleared schema, uniqueness, and dependency checks together. The
// per-job Submit loop below still rolls back on failure, as a second
// line of defense against a race lost against a submission outside
// this batch between validation and commit, but it is no longer the
// primary atomicity mechanism.
func submitAtomic(sub Submitter, jobs []*job.Job) ([]uuid.UUID, []FailedSubmission) {
	if err := sub.ValidateBatch(jobs); err != nil {
		failed := make([]FailedSubmission, len(jobs))
		for i, j := range jobs {
			failed[i] = FailedSubmission{JobID: j.ID, Reason: "batch rejected during pre-validation: " + err.Error()}
		}
		return nil, failed
	}

	var succeeded []uuid.UUID
	for _, j := range jobs {
		if err := sub.Submit(j); err != nil {
			for _, id := range succeeded {
				_ = sub.Cancel(id)
			}
			failed := make([]FailedSubmission, len(jobs))
			for i, fj := range jobs {
				failed[i] = FailedSubmission{JobID: fj.ID, Reason: "batch rolled back: " + err.Error()}
			}
			return nil, failed
		}
		succeeded = append(succeeded, j.ID)
	}
	return succeeded, nil
}

func submitBestEffort(sub Submitter, jobs []*job.Job) ([]uuid.UUID, []FailedSubmission) {
	var succeeded []uuid.UUID
	var failed []FailedSubmission
	for _, j := range jobs {
		if err := sub.Submit(j); err != nil {
			failed = append(failed, FailedSubmission{JobID: j.ID, Reason: err.Error()})
			continue
		}
		succeeded = append(succeeded, j.ID)
	}
	return succeeded, failed
}
