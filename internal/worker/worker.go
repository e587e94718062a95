// Package worker runs the periodic maintenance tasks: expiring lapsed
// subscriptions, pruning old usage counters and stepping training jobs.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/dmitrymomot/aidash/internal/entitlement"
	"github.com/dmitrymomot/aidash/pkg/logger"
)

var ErrInvalidSchedule = errors.New("worker: invalid schedule")

type Config struct {
	ExpireSchedule string        `env:"WORKER_EXPIRE_SCHEDULE" envDefault:"@every 15m"`
	PruneSchedule  string        `env:"WORKER_PRUNE_SCHEDULE" envDefault:"@daily"`
	JobsSchedule   string        `env:"WORKER_JOBS_SCHEDULE" envDefault:"@every 5s"`
	ExpireBatch    int           `env:"WORKER_EXPIRE_BATCH" envDefault:"500"`
	UsageRetention time.Duration `env:"USAGE_RETENTION" envDefault:"2160h"`
	TaskTimeout    time.Duration `env:"WORKER_TASK_TIMEOUT" envDefault:"2m"`
}

type Expirer interface {
	ExpireLapsed(ctx context.Context, batch int) (int, error)
}

type UsagePruner interface {
	PruneUsage(ctx context.Context, before time.Time) (int64, error)
}

type JobAdvancer interface {
	AdvanceAll(ctx context.Context) (int, error)
}

type Worker struct {
	cfg     Config
	cron    *cron.Cron
	expirer Expirer
	pruner  UsagePruner
	jobs    JobAdvancer
	period  entitlement.ResetPeriod
	log     *slog.Logger
	now     func() time.Time
	runCtx  context.Context
}

type Option func(*Worker)

func WithJobs(j JobAdvancer) Option {
	return func(w *Worker) { w.jobs = j }
}

// WithResetPeriod tells the worker how usage counters are windowed.
// Counters that never reset hold lifetime quotas and are never pruned.
func WithResetPeriod(p entitlement.ResetPeriod) Option {
	return func(w *Worker) { w.period = p }
}

func WithLogger(l *slog.Logger) Option {
	return func(w *Worker) {
		if l != nil {
			w.log = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(w *Worker) {
		if now != nil {
			w.now = now
		}
	}
}

// New registers the tasks. An empty schedule disables its task.
func New(cfg Config, expirer Expirer, pruner UsagePruner, opts ...Option) (*Worker, error) {
	if expirer == nil || pruner == nil {
		panic("worker: expirer and pruner are required")
	}
	if cfg.ExpireBatch <= 0 {
		cfg.ExpireBatch = 500
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 2 * time.Minute
	}
	w := &Worker{
		cfg:     cfg,
		expirer: expirer,
		pruner:  pruner,
		log:     slog.Default(),
		now:     time.Now,
		runCtx:  context.Background(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.log = w.log.With(logger.Component("worker"))

	cl := cronLogger{log: w.log}
	w.cron = cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	tasks := []task{
		{"expire_lapsed", cfg.ExpireSchedule, func(ctx context.Context) error { _, err := w.ExpireLapsed(ctx); return err }},
		{"prune_usage", cfg.PruneSchedule, func(ctx context.Context) error { _, err := w.PruneUsage(ctx); return err }},
	}
	if w.jobs != nil {
		tasks = append(tasks, task{"advance_jobs", cfg.JobsSchedule, func(ctx context.Context) error { _, err := w.AdvanceJobs(ctx); return err }})
	}
	for _, t := range tasks {
		if t.schedule == "" {
			continue
		}
		if _, err := w.cron.AddFunc(t.schedule, w.wrap(t)); err != nil {
			return nil, fmt.Errorf("%w: %s %q: %v", ErrInvalidSchedule, t.name, t.schedule, err)
		}
	}
	return w, nil
}

// Run starts the scheduler and blocks until ctx is done, then waits for
// running tasks to finish.
func (w *Worker) Run(ctx context.Context) error {
	w.runCtx = ctx
	w.cron.Start()
	w.log.InfoContext(ctx, "worker started", slog.Int("tasks", len(w.cron.Entries())))

	<-ctx.Done()
	<-w.cron.Stop().Done()
	w.log.Info("worker stopped")
	return nil
}

func (w *Worker) ExpireLapsed(ctx context.Context) (int, error) {
	n, err := w.expirer.ExpireLapsed(ctx, w.cfg.ExpireBatch)
	if err != nil {
		return n, fmt.Errorf("expire lapsed subscriptions: %w", err)
	}
	if n > 0 {
		w.log.InfoContext(ctx, "expired lapsed subscriptions", slog.Int("count", n))
	}
	return n, nil
}

// PruneUsage deletes usage counters untouched for longer than UsageRetention.
// It does nothing when counters never reset.
func (w *Worker) PruneUsage(ctx context.Context) (int64, error) {
	if w.cfg.UsageRetention <= 0 || w.period == entitlement.ResetNever {
		return 0, nil
	}
	n, err := w.pruner.PruneUsage(ctx, w.now().Add(-w.cfg.UsageRetention))
	if err != nil {
		return n, fmt.Errorf("prune usage: %w", err)
	}
	if n > 0 {
		w.log.InfoContext(ctx, "pruned usage counters", slog.Int64("count", n))
	}
	return n, nil
}

func (w *Worker) AdvanceJobs(ctx context.Context) (int, error) {
	if w.jobs == nil {
		return 0, nil
	}
	return w.jobs.AdvanceAll(ctx)
}

type task struct {
	name     string
	schedule string
	run      func(context.Context) error
}

func (w *Worker) wrap(t task) func() {
	return func() {
		ctx, cancel := context.WithTimeout(w.runCtx, w.cfg.TaskTimeout)
		defer cancel()

		start := time.Now()
		if err := t.run(ctx); err != nil {
			w.log.ErrorContext(ctx, "worker task failed",
				slog.String("task", t.name), logger.Duration(time.Since(start)), logger.Error(err))
			return
		}
		w.log.DebugContext(ctx, "worker task done", slog.String("task", t.name), logger.Duration(time.Since(start)))
	}
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	log *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error(msg, append([]any{logger.Error(err)}, keysAndValues...)...)
}
