package alerting

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskqueue/pkg/job"
)

type recordingSink struct {
	called atomic.Bool
}

func (r *recordingSink) Send(ctx context.Context, a Alert) bool {
	r.called.Store(true)
	return true
}

func TestEmitFansOutToAllSinks(t *testing.T) {
	a, b := &recordingSink{}, &recordingSink{}
	m := NewManager(&recordingSink{})
	m.AddSink(a)
	m.AddSink(b)

	m.Emit(context.Background(), SeverityInfo, "t", "m", nil, "", "", nil)
	assert.True(t, a.called.Load())
	assert.True(t, b.called.Load())
}

func TestEmitFallsBackToDefaultWhenNoSinksRegistered(t *testing.T) {
	def := &recordingSink{}
	m := NewManager(def)
	m.Emit(context.Background(), SeverityInfo, "t", "m", nil, "", "", nil)
	assert.True(t, def.called.Load())
}

func TestJobFailedSeverityDependsOnRetry(t *testing.T) {
	var got Alert
	sink := sinkFunc(func(ctx context.Context, a Alert) bool { got = a; return true })
	m := NewManager(sink)

	j := job.New("a", nil, job.PriorityNormal)
	m.JobFailed(context.Background(), j, "boom", true)
	assert.Equal(t, SeverityWarning, got.Severity)

	m.JobFailed(context.Background(), j, "boom", false)
	assert.Equal(t, SeverityError, got.Severity)
}

func TestWebhookSinkPostsJSON(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink := NewWebhookSink(srv.URL+"/alerts", nil)
	ok := sink.Send(context.Background(), Alert{ID: "alert-1", Severity: SeverityInfo})
	require.True(t, ok)
	assert.Equal(t, "/alerts", gotPath)
}

type sinkFunc func(ctx context.Context, a Alert) bool

func (f sinkFunc) Send(ctx context.Context, a Alert) bool { return f(ctx, a) }
