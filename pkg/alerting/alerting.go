// Package alerting implements a severity-routed alert sink with a
// multi-handler fan-out: a log-based default plus job/worker/
// queue-depth helpers, dispatched one goroutine per sink.
//
// The log sink is built on the zap logging singleton (pkg/logger);
// the webhook sink uses stdlib net/http, which is the idiomatic
// default for a single outbound POST with no retry/streaming needs.
package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"taskqueue/pkg/job"
)

// Severity classifies an alert's urgency.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Alert is a single notification emitted by the coordinator.
type Alert struct {
	ID        string
	Severity  Severity
	Title     string
	Message   string
	JobID     string
	JobName   string
	WorkerID  string
	Error     string
	Timestamp time.Time
	Metadata  map[string]any
}

// Sink delivers an alert, reporting whether delivery succeeded.
type Sink interface {
	Send(ctx context.Context, alert Alert) bool
}

// LogSink logs alerts through the shared zap logger.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink builds a LogSink over logger.
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Send(_ context.Context, a Alert) bool {
	fields := []zap.Field{
		zap.String("alert_id", a.ID),
		zap.String("title", a.Title),
		zap.String("message", a.Message),
		zap.String("job_id", a.JobID),
		zap.String("worker_id", a.WorkerID),
	}
	if a.Error != "" {
		fields = append(fields, zap.String("error", a.Error))
	}
	switch a.Severity {
	case SeverityInfo:
		s.logger.Info("alert", fields...)
	case SeverityWarning:
		s.logger.Warn("alert", fields...)
	case SeverityCritical:
		s.logger.Error("alert", append(fields, zap.Bool("critical", true))...)
	default:
		s.logger.Error("alert", fields...)
	}
	return true
}

// WebhookSink POSTs alerts as JSON to a configured URL.
type WebhookSink struct {
	url     string
	headers map[string]string
	client  *http.Client
}

// NewWebhookSink builds a WebhookSink posting to url with a 10s timeout.
func NewWebhookSink(url string, headers map[string]string) *WebhookSink {
	if headers == nil {
		headers = map[string]string{"Content-Type": "application/json"}
	}
	return &WebhookSink{url: url, headers: headers, client: &http.Client{Timeout: 10 * time.Second}}
}

func (s *WebhookSink) Send(ctx context.Context, a Alert) bool {
	body, err := json.Marshal(a)
	if err != nil {
		return false
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return false
	}
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < 300
}

// Manager fans an alert out to every registered sink concurrently,
// falling back to a default log sink when none are registered.
type Manager struct {
	mu      sync.Mutex
	sinks   []Sink
	logSink Sink
}

// NewManager builds a Manager whose default sink is logSink.
func NewManager(logSink Sink) *Manager {
	return &Manager{logSink: logSink}
}

// AddSink registers an additional delivery sink.
func (m *Manager) AddSink(s Sink) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sinks = append(m.sinks, s)
}

func (m *Manager) activeSinks() []Sink {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sinks) == 0 {
		return []Sink{m.logSink}
	}
	out := make([]Sink, len(m.sinks))
	copy(out, m.sinks)
	return out
}

// Emit builds and dispatches an alert to every sink, returning its id.
func (m *Manager) Emit(ctx context.Context, severity Severity, title, message string, j *job.Job, workerID, errMsg string, metadata map[string]any) string {
	if metadata == nil {
		metadata = map[string]any{}
	}
	a := Alert{
		ID:        "alert-" + uuid.New().String()[:8],
		Severity:  severity,
		Title:     title,
		Message:   message,
		WorkerID:  workerID,
		Error:     errMsg,
		Timestamp: time.Now(),
		Metadata:  metadata,
	}
	if j != nil {
		a.JobID = j.ID.String()
		a.JobName = j.Name
	}

	var wg sync.WaitGroup
	for _, sink := range m.activeSinks() {
		wg.Add(1)
		go func(s Sink) {
			defer wg.Done()
			s.Send(ctx, a)
		}(sink)
	}
	wg.Wait()
	return a.ID
}

// JobFailed alerts on a job failure, severity depending on whether it
// will be retried.
func (m *Manager) JobFailed(ctx context.Context, j *job.Job, errMsg string, willRetry bool) string {
	severity := SeverityError
	if willRetry {
		severity = SeverityWarning
	}
	return m.Emit(ctx, severity,
		fmt.Sprintf("Job Failed: %s", j.Name),
		fmt.Sprintf("job %s failed after attempt %d", j.ID, j.Attempt),
		j, "", errMsg,
		map[string]any{"will_retry": willRetry, "attempt": j.Attempt})
}

// JobDeadLettered alerts that a job exhausted retries.
func (m *Manager) JobDeadLettered(ctx context.Context, j *job.Job, errMsg string) string {
	return m.Emit(ctx, SeverityError,
		fmt.Sprintf("Job Dead-Lettered: %s", j.Name),
		fmt.Sprintf("job %s exhausted all retries", j.ID),
		j, "", errMsg,
		map[string]any{"final_attempt": j.Attempt})
}

// WorkerUnhealthy alerts that a worker missed heartbeats.
func (m *Manager) WorkerUnhealthy(ctx context.Context, workerID, reason string) string {
	return m.Emit(ctx, SeverityWarning, fmt.Sprintf("Worker Unhealthy: %s", workerID), reason, nil, workerID, "", nil)
}

// WorkerDead alerts that a worker is presumed dead, carrying the
// count of jobs that need reassignment.
func (m *Manager) WorkerDead(ctx context.Context, workerID string, jobsAffected int) string {
	return m.Emit(ctx, SeverityCritical,
		fmt.Sprintf("Worker Dead: %s", workerID),
		fmt.Sprintf("worker %s is unresponsive, %d jobs may need reassignment", workerID, jobsAffected),
		nil, workerID, "",
		map[string]any{"jobs_affected": jobsAffected})
}

// QueueDepthHigh alerts that a priority level's backlog crossed threshold.
func (m *Manager) QueueDepthHigh(ctx context.Context, priority job.Priority, depth, threshold int) string {
	return m.Emit(ctx, SeverityWarning,
		fmt.Sprintf("High Queue Depth: %s", priority),
		fmt.Sprintf("queue depth for %s is %d, exceeding threshold %d", priority, depth, threshold),
		nil, "", "",
		map[string]any{"priority": priority.String(), "depth": depth, "threshold": threshold})
}
