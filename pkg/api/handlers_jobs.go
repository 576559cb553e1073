package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"taskqueue/pkg/coordinator"
	"taskqueue/pkg/job"
)

// --- Request/Response DTOs ---

// SubmitJobRequest is the payload for POST /api/v1/jobs.
type SubmitJobRequest struct {
	Name           string           `json:"name" binding:"required"`
	Payload        []byte           `json:"payload"`
	Priority       job.Priority     `json:"priority"`
	DelayMs        int64            `json:"delay_ms"`
	ScheduledAt    *time.Time       `json:"scheduled_at"`
	DependsOn      []uuid.UUID      `json:"depends_on"`
	RetryConfig    *job.RetryConfig `json:"retry_config"`
	UniqueKey      string           `json:"unique_key"`
	CronExpression string           `json:"cron_expression"`
	Timezone       string           `json:"timezone"`
	TimeoutMs      int64            `json:"timeout_ms"`
}

// SubmitBatchRequest is the payload for POST /api/v1/jobs/batch.
type SubmitBatchRequest struct {
	Jobs   []SubmitJobRequest `json:"jobs" binding:"required"`
	Atomic bool               `json:"atomic"`
}

// JobResponse is the API representation of a job.
type JobResponse struct {
	ID          uuid.UUID       `json:"id"`
	Name        string          `json:"name"`
	Priority    job.Priority    `json:"priority"`
	Status      job.Status      `json:"status"`
	Attempt     int             `json:"attempt"`
	RetryConfig job.RetryConfig `json:"retry_config"`
	DependsOn   []uuid.UUID     `json:"depends_on,omitempty"`
	WorkerID    string          `json:"worker_id,omitempty"`
	LastError   string          `json:"last_error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

func jobToResponse(j *job.Job) JobResponse {
	return JobResponse{
		ID:          j.ID,
		Name:        j.Name,
		Priority:    j.Priority,
		Status:      j.Status,
		Attempt:     j.Attempt,
		RetryConfig: j.RetryConfig,
		DependsOn:   j.DependsOn,
		WorkerID:    j.WorkerID,
		LastError:   j.LastError,
		CreatedAt:   j.CreatedAt,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
	}
}

func toSubmitOptions(r SubmitJobRequest) coordinator.SubmitOptions {
	return coordinator.SubmitOptions{
		Name:           r.Name,
		Payload:        r.Payload,
		Priority:       r.Priority,
		DelayMs:        r.DelayMs,
		ScheduledAt:    r.ScheduledAt,
		DependsOn:      r.DependsOn,
		RetryConfig:    r.RetryConfig,
		UniqueKey:      r.UniqueKey,
		CronExpression: r.CronExpression,
		Timezone:       r.Timezone,
		TimeoutMs:      r.TimeoutMs,
	}
}

// submitJob handles POST /api/v1/jobs
func (s *Server) submitJob(c *gin.Context) {
	var req SubmitJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id, err := s.coordinator.Submit(toSubmitOptions(req))
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"id": id})
}

// submitBatch handles POST /api/v1/jobs/batch
func (s *Server) submitBatch(c *gin.Context) {
	var req SubmitBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	jobs := make([]*job.Job, len(req.Jobs))
	for i, jr := range req.Jobs {
		opts := toSubmitOptions(jr)
		built := job.New(opts.Name, opts.Payload, opts.Priority)
		built.DelayMs = opts.DelayMs
		built.ScheduledAt = opts.ScheduledAt
		built.DependsOn = opts.DependsOn
		built.UniqueKey = opts.UniqueKey
		built.CronExpression = opts.CronExpression
		built.TimeoutMs = opts.TimeoutMs
		if opts.RetryConfig != nil {
			built.RetryConfig = *opts.RetryConfig
		}
		jobs[i] = built
	}

	ids, failed := s.coordinator.SubmitBatch(jobs, req.Atomic)
	c.JSON(http.StatusCreated, gin.H{
		"ids":    ids,
		"failed": failed,
	})
}

// getJob handles GET /api/v1/jobs/:id
func (s *Server) getJob(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job id"})
		return
	}

	j, ok := s.coordinator.LookupJob(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}

	c.JSON(http.StatusOK, jobToResponse(j))
}

// updatePriority handles PATCH /api/v1/jobs/:id/priority
func (s *Server) updatePriority(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job id"})
		return
	}

	var req struct {
		Priority job.Priority `json:"priority"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.coordinator.UpdatePriority(id, req.Priority); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"id": id, "priority": req.Priority})
}

// cancelJob handles DELETE /api/v1/jobs/:id
func (s *Server) cancelJob(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job id"})
		return
	}

	if err := s.coordinator.CancelJob(id); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"id": id, "status": "cancelled"})
}

// getStats handles GET /api/v1/stats
func (s *Server) getStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.coordinator.GetStats())
}

// listDLQ handles GET /api/v1/dlq
func (s *Server) listDLQ(c *gin.Context) {
	entries := s.coordinator.GetDLQ()
	c.JSON(http.StatusOK, gin.H{
		"entries": entries,
		"count":   len(entries),
	})
}

// requeueFromDLQ handles POST /api/v1/dlq/:id/requeue
func (s *Server) requeueFromDLQ(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid job id"})
		return
	}

	var req struct {
		ResetAttempts bool `json:"reset_attempts"`
	}
	_ = c.ShouldBindJSON(&req)

	if err := s.coordinator.RequeueFromDLQ(id, req.ResetAttempts); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"id": id, "status": "requeued"})
}
