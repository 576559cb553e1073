package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"taskqueue/pkg/job"
)

func TestHooksDispatchToNamedAndWildcard(t *testing.T) {
	h := NewHooks()
	var named, wildcard int
	h.Subscribe(EventJobCompleted, func(ev Event) { named++ })
	h.Subscribe("*", func(ev Event) { wildcard++ })

	h.Emit(Event{Name: EventJobCompleted, Job: job.New("a", nil, job.PriorityNormal)})
	h.Emit(Event{Name: EventJobFailed, Job: job.New("b", nil, job.PriorityNormal)})

	assert.Equal(t, 1, named)
	assert.Equal(t, 2, wildcard)
}

func TestHooksWithNoSubscribersDoesNotPanic(t *testing.T) {
	h := NewHooks()
	assert.NotPanics(t, func() {
		h.Emit(Event{Name: EventWorkerJoined})
	})
}
