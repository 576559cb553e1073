// Package postgres implements the event-store interface: save/load/
// list_by_status/delete against a durable job snapshot table, used to
// rebuild in-memory queue/graph state after a coordinator restart.
//
// Uses gorm.Open with PrepareStmt and tuned connection pool limits, an
// AutoMigrate-on-connect bootstrap, and an ErrNotFound sentinel
// translated from gorm.ErrRecordNotFound.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"taskqueue/pkg/job"
	"taskqueue/pkg/taskerr"
)

// ErrNotFound is returned when a job snapshot does not exist.
var ErrNotFound = errors.New("taskqueue: job snapshot not found")

// record is the gorm-mapped row; Job's fields that don't map cleanly
// to SQL columns are stored as raw bytes (Payload), as JSONB through
// RetryConfig's Scan/Value (RetryConfig), or as a comma-joined string
// of uuids (DependsOn).
type record struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name           string
	Payload        []byte
	Priority       job.Priority
	Status         job.Status `gorm:"index"`
	DelayMs        int64
	ScheduledAt    *time.Time
	CronExpression string
	Timezone       string
	DependsOn      string // comma-joined uuids; the graph is the source of truth for edges
	RetryConfig    job.RetryConfig `gorm:"type:jsonb"`
	Attempt        int
	UniqueKey      string `gorm:"index"`
	TimeoutMs      int64
	CreatedAt      time.Time
	StartedAt      *time.Time
	CompletedAt    *time.Time
	WorkerID       string
	LastError      string
}

func (record) TableName() string { return "job_snapshots" }

// Store persists job snapshots for crash recovery.
type Store struct {
	db *gorm.DB
}

// NewStore connects to Postgres and ensures the schema exists.
func NewStore(dsn string) (*Store, error) {
	cfg := &gorm.Config{
		Logger:      gormlogger.Default.LogMode(gormlogger.Warn),
		PrepareStmt: true,
	}
	db, err := gorm.Open(postgres.Open(dsn), cfg)
	if err != nil {
		return nil, &taskerr.TransientBackendError{Backend: "postgres", Err: err}
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&record{}); err != nil {
		return nil, fmt.Errorf("taskqueue: schema migration failed: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func toRecord(j *job.Job) record {
	deps := ""
	for i, d := range j.DependsOn {
		if i > 0 {
			deps += ","
		}
		deps += d.String()
	}
	return record{
		ID:             j.ID,
		Name:           j.Name,
		Payload:        j.Payload,
		Priority:       j.Priority,
		Status:         j.Status,
		DelayMs:        j.DelayMs,
		ScheduledAt:    j.ScheduledAt,
		CronExpression: j.CronExpression,
		Timezone:       j.Timezone,
		DependsOn:      deps,
		RetryConfig:    j.RetryConfig,
		Attempt:        j.Attempt,
		UniqueKey:      j.UniqueKey,
		TimeoutMs:      j.TimeoutMs,
		CreatedAt:      j.CreatedAt,
		StartedAt:      j.StartedAt,
		CompletedAt:    j.CompletedAt,
		WorkerID:       j.WorkerID,
		LastError:      j.LastError,
	}
}

func fromRecord(r record) *job.Job {
	var deps []uuid.UUID
	if r.DependsOn != "" {
		start := 0
		for i := 0; i <= len(r.DependsOn); i++ {
			if i == len(r.DependsOn) || r.DependsOn[i] == ',' {
				if id, err := uuid.Parse(r.DependsOn[start:i]); err == nil {
					deps = append(deps, id)
				}
				start = i + 1
			}
		}
	}
	return &job.Job{
		ID:             r.ID,
		Name:           r.Name,
		Payload:        r.Payload,
		Priority:       r.Priority,
		Status:         r.Status,
		DelayMs:        r.DelayMs,
		ScheduledAt:    r.ScheduledAt,
		CronExpression: r.CronExpression,
		Timezone:       r.Timezone,
		DependsOn:      deps,
		RetryConfig:    r.RetryConfig,
		Attempt:        r.Attempt,
		UniqueKey:      r.UniqueKey,
		TimeoutMs:      r.TimeoutMs,
		CreatedAt:      r.CreatedAt,
		StartedAt:      r.StartedAt,
		CompletedAt:    r.CompletedAt,
		WorkerID:       r.WorkerID,
		LastError:      r.LastError,
	}
}

// Save upserts a job's current snapshot.
func (s *Store) Save(ctx context.Context, j *job.Job) error {
	r := toRecord(j)
	result := s.db.WithContext(ctx).Save(&r)
	if result.Error != nil {
		return &taskerr.TransientBackendError{Backend: "postgres", Err: result.Error}
	}
	return nil
}

// Load fetches a job snapshot by id.
func (s *Store) Load(ctx context.Context, id uuid.UUID) (*job.Job, error) {
	var r record
	result := s.db.WithContext(ctx).First(&r, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, &taskerr.TransientBackendError{Backend: "postgres", Err: result.Error}
	}
	return fromRecord(r), nil
}

// ListByStatus returns a page of jobs in the given status, ordered by
// creation time, cursoring by the last-seen id.
func (s *Store) ListByStatus(ctx context.Context, status job.Status, limit int, cursor uuid.UUID) ([]*job.Job, error) {
	q := s.db.WithContext(ctx).Where("status = ?", status).Order("created_at asc, id asc").Limit(limit)
	if cursor != uuid.Nil {
		var after record
		if err := s.db.WithContext(ctx).First(&after, "id = ?", cursor).Error; err == nil {
			q = q.Where("created_at > ? OR (created_at = ? AND id > ?)", after.CreatedAt, after.CreatedAt, after.ID)
		}
	}

	var rows []record
	if err := q.Find(&rows).Error; err != nil {
		return nil, &taskerr.TransientBackendError{Backend: "postgres", Err: err}
	}

	out := make([]*job.Job, len(rows))
	for i, r := range rows {
		out[i] = fromRecord(r)
	}
	return out, nil
}

// Delete removes a job snapshot.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	result := s.db.WithContext(ctx).Delete(&record{}, "id = ?", id)
	if result.Error != nil {
		return &taskerr.TransientBackendError{Backend: "postgres", Err: result.Error}
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
