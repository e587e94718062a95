package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/aidash/pkg/logger"
)

type Config struct {
	TTL           time.Duration `env:"TRAINING_JOB_TTL" envDefault:"24h"`
	DefaultEpochs int           `env:"TRAINING_DEFAULT_EPOCHS" envDefault:"10"`
}

type StartRequest struct {
	Model   string `json:"model" validate:"required,max=100"`
	Dataset string `json:"dataset" validate:"omitempty,max=200"`
	Epochs  int    `json:"epochs" validate:"omitempty,min=1,max=100"`
}

type Service struct {
	store Store
	cfg   Config
	log   *slog.Logger
	now   func() time.Time
}

func NewService(store Store, cfg Config, log *slog.Logger) *Service {
	if store == nil {
		panic("jobs: store is required")
	}
	if log == nil {
		log = slog.Default()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	if cfg.DefaultEpochs <= 0 {
		cfg.DefaultEpochs = 10
	}
	return &Service{
		store: store,
		cfg:   cfg,
		log:   log.With(logger.Component("jobs")),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) Start(ctx context.Context, userID string, req StartRequest) (*Job, error) {
	if userID == "" {
		return nil, ErrMissingUser
	}
	epochs := req.Epochs
	if epochs <= 0 {
		epochs = s.cfg.DefaultEpochs
	}
	now := s.now()
	job := &Job{
		ID:        uuid.NewString(),
		UserID:    userID,
		Model:     req.Model,
		Dataset:   req.Dataset,
		Status:    StatusQueued,
		Epochs:    epochs,
		Loss:      lossAt(0),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.Create(ctx, job, s.cfg.TTL); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	s.log.InfoContext(ctx, "training job started", logger.JobID(job.ID), logger.UserID(userID))
	return job, nil
}

// Get returns the job only to its owner; other users see ErrJobNotFound.
func (s *Service) Get(ctx context.Context, userID, id string) (*Job, error) {
	if err := uuid.Validate(id); err != nil {
		return nil, ErrInvalidJobID
	}
	job, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.UserID != userID {
		return nil, ErrJobNotFound
	}
	return job, nil
}

// Advance moves a job forward by one epoch.
func (s *Service) Advance(ctx context.Context, id string) (*Job, error) {
	return s.store.Update(ctx, id, s.cfg.TTL, func(j *Job) error {
		if j.Done() {
			return nil
		}
		j.Epoch = min(j.Epoch+1, j.Epochs)
		j.Progress = j.Epoch * 100 / j.Epochs
		j.Loss = lossAt(j.Epoch)
		j.Status = StatusRunning
		if j.Epoch == j.Epochs {
			j.Status = StatusCompleted
		}
		j.UpdatedAt = s.now()
		return nil
	})
}

// AdvanceAll steps every running job once and returns how many moved.
func (s *Service) AdvanceAll(ctx context.Context) (int, error) {
	ids, err := s.store.Running(ctx)
	if err != nil {
		return 0, fmt.Errorf("list running jobs: %w", err)
	}
	n := 0
	for _, id := range ids {
		if _, err := s.Advance(ctx, id); err != nil {
			s.log.WarnContext(ctx, "failed to advance job", logger.JobID(id), logger.Error(err))
			continue
		}
		n++
	}
	return n, nil
}

// lossAt is the simulated training loss curve.
func lossAt(epoch int) float64 {
	return math.Round(2.5*math.Exp(-0.35*float64(epoch))*1000) / 1000
}
