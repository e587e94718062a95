// Package jobs tracks the simulated model-training jobs shown on the
// dashboard. State lives in an external store keyed by an opaque job id so
// every instance sees the same progress.
package jobs

import (
	"context"
	"errors"
	"time"
)

var (
	ErrJobNotFound  = errors.New("jobs: job not found")
	ErrJobConflict  = errors.New("jobs: concurrent update")
	ErrInvalidJobID = errors.New("jobs: invalid job id")
	ErrMissingUser  = errors.New("jobs: missing user id")
)

type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
)

// Job is a training run. Progress is a percentage derived from Epoch/Epochs.
type Job struct {
	ID        string    `json:"id"`
	UserID    string    `json:"-"`
	Model     string    `json:"model"`
	Dataset   string    `json:"dataset,omitempty"`
	Status    Status    `json:"status"`
	Epoch     int       `json:"epoch"`
	Epochs    int       `json:"epochs"`
	Progress  int       `json:"progress"`
	Loss      float64   `json:"loss"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (j *Job) Done() bool { return j.Status == StatusCompleted }

// Store persists jobs. Update applies fn atomically to the stored job.
type Store interface {
	Create(ctx context.Context, job *Job, ttl time.Duration) error
	Get(ctx context.Context, id string) (*Job, error)
	Update(ctx context.Context, id string, ttl time.Duration, fn func(*Job) error) (*Job, error)
	// Running lists ids of jobs that are not completed.
	Running(ctx context.Context) ([]string, error)
}
