// Package handler defines the worker-side Handler contract:
// handle(job) -> result | throws. The multiprocessing handler pool
// that would run these concurrently is an external collaborator and
// out of scope here; this package only defines the contract and a
// name->Handler registry so the cmd/worker daemon can dispatch a
// dequeued job to its handler.
package handler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"taskqueue/pkg/job"
	"taskqueue/pkg/taskerr"
)

// Handler executes one job and returns its encoded result, or an error
// which Registry.Execute wraps as a taskerr.HandlerError before handing it
// to the retry engine. Implementations must not block past ctx's
// deadline; a context.DeadlineExceeded is surfaced as a TimeoutError.
type Handler interface {
	Handle(ctx context.Context, j *job.Job) ([]byte, error)
}

// Func adapts a plain function to a Handler.
type Func func(ctx context.Context, j *job.Job) ([]byte, error)

func (f Func) Handle(ctx context.Context, j *job.Job) ([]byte, error) {
	return f(ctx, j)
}

// Registry resolves a job's Name to the Handler that executes it, a
// typed name->callable map rather than a dispatch hierarchy.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

func (r *Registry) Register(name string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = h
}

func (r *Registry) Resolve(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// Execute resolves j.Name in the registry and invokes it, translating
// an unknown name or a context deadline into the error kinds the
// retry engine expects.
func (r *Registry) Execute(ctx context.Context, j *job.Job) ([]byte, error) {
	h, ok := r.Resolve(j.Name)
	if !ok {
		return nil, &taskerr.HandlerError{JobID: j.ID.String(), Message: fmt.Sprintf("no handler registered for %q", j.Name)}
	}

	result, err := h.Handle(ctx, j)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &taskerr.TimeoutError{JobID: j.ID.String(), Timeout: time.Duration(j.TimeoutMs * int64(time.Millisecond)).String()}
		}
		return nil, &taskerr.HandlerError{JobID: j.ID.String(), Message: err.Error(), Cause: err}
	}
	return result, nil
}
