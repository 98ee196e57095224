// Package jobs is the background job queue. A job captures the tenant snapshot of
// the operation that enqueued it, and the runner re-installs that snapshot before
// the processor runs, so processors access data exactly as the original request
// would have.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"leadhub/internal/tenant"

	"gorm.io/datatypes"
)

// Status 任务状态
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transitions happen from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Job 后台任务记录
type Job struct {
	ID          string          `json:"id" gorm:"primaryKey;type:varchar(36)"`
	Type        string          `json:"type" gorm:"size:100;not null;index"`
	Payload     datatypes.JSON  `json:"payload"`
	Snapshot    tenant.Snapshot `json:"context" gorm:"embedded;embeddedPrefix:ctx_"`
	Status      Status          `json:"status" gorm:"size:20;not null;index:idx_jobs_ready,priority:1"`
	Attempts    int             `json:"attempts" gorm:"not null;default:0"`
	MaxAttempts int             `json:"maxAttempts" gorm:"not null;default:3"`
	ProcessAt   time.Time       `json:"processAt" gorm:"not null;index:idx_jobs_ready,priority:2"`
	LastError   string          `json:"lastError,omitempty" gorm:"type:text"`
	CreatedAt   time.Time       `json:"createdAt" gorm:"autoCreateTime:false"`
	UpdatedAt   time.Time       `json:"updatedAt" gorm:"autoUpdateTime:false"`
	FinishedAt  *time.Time      `json:"finishedAt,omitempty" gorm:"index"`
}

// TableName 指定表名
func (Job) TableName() string {
	return "jobs"
}

func (j *Job) clone() *Job {
	c := *j
	if j.Payload != nil {
		c.Payload = append(datatypes.JSON(nil), j.Payload...)
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		c.FinishedAt = &t
	}
	return &c
}

// Processor handles one job type. ctx carries the job's snapshot.
type Processor func(ctx context.Context, job *Job) error

// EnqueueOptions 入队选项
type EnqueueOptions struct {
	// Delay postpones the first attempt.
	Delay time.Duration
	// MaxAttempts overrides the queue default when positive.
	MaxAttempts int
}

// Stats counts jobs by status.
type Stats struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
}

// Total returns the number of jobs in all states.
func (s Stats) Total() int64 {
	return s.Pending + s.Processing + s.Completed + s.Failed
}

var (
	// ErrMissingContext is returned when a job is enqueued without a usable snapshot.
	ErrMissingContext = errors.New("jobs: no tenant context to capture")
	// ErrJobNotFound is returned by GetJob for unknown ids.
	ErrJobNotFound = errors.New("jobs: job not found")
	// ErrNoProcessor is recorded on jobs whose type has no registered processor.
	ErrNoProcessor = errors.New("jobs: no processor registered")
)

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as non-retryable: the job fails on this attempt regardless of
// the attempts left.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Enqueuer is what domain services depend on to schedule work. It is implemented by
// the in-process Queue and by the asynq-backed client.
type Enqueuer interface {
	Enqueue(ctx context.Context, jobType string, payload any, opts EnqueueOptions) (string, error)
	EnqueueWithSnapshot(ctx context.Context, s tenant.Snapshot, jobType string, payload any, opts EnqueueOptions) (string, error)
}

// Registrar binds processors to job types. Both the in-process Queue and the
// distributed worker implement it.
type Registrar interface {
	RegisterProcessor(jobType string, fn Processor)
}

// CaptureSnapshot returns the snapshot a job enqueued from ctx will run with.
func CaptureSnapshot(ctx context.Context) (tenant.Snapshot, error) {
	s, ok := tenant.FromContext(ctx)
	if !ok {
		return tenant.Snapshot{}, ErrMissingContext
	}
	if err := ValidateSnapshot(s); err != nil {
		return tenant.Snapshot{}, err
	}
	return s, nil
}

// ValidateSnapshot rejects snapshots a job cannot run under: no tenant and no
// super-admin scope.
func ValidateSnapshot(s tenant.Snapshot) error {
	if !s.HasTenant() && !s.IsSuperAdmin {
		return ErrMissingContext
	}
	return nil
}

// DecodePayload unmarshals the job payload into out.
func (j *Job) DecodePayload(out any) error {
	if len(j.Payload) == 0 {
		return Permanent(fmt.Errorf("job %s: empty payload", j.ID))
	}
	if err := json.Unmarshal(j.Payload, out); err != nil {
		return Permanent(fmt.Errorf("job %s: decode payload: %w", j.ID, err))
	}
	return nil
}
