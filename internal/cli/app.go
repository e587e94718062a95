package cli

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/aidash/db"
	"github.com/dmitrymomot/aidash/internal/ai"
	"github.com/dmitrymomot/aidash/internal/billing"
	"github.com/dmitrymomot/aidash/internal/entitlement"
	"github.com/dmitrymomot/aidash/internal/entitlement/pgstore"
	"github.com/dmitrymomot/aidash/internal/eventlog"
	"github.com/dmitrymomot/aidash/internal/jobs"
	"github.com/dmitrymomot/aidash/internal/media"
	"github.com/dmitrymomot/aidash/internal/metrics"
	"github.com/dmitrymomot/aidash/internal/notify"
	"github.com/dmitrymomot/aidash/internal/worker"
	"github.com/dmitrymomot/aidash/pkg/config"
	"github.com/dmitrymomot/aidash/pkg/email"
	"github.com/dmitrymomot/aidash/pkg/httpserver"
	"github.com/dmitrymomot/aidash/pkg/logger"
	"github.com/dmitrymomot/aidash/pkg/mongo"
	"github.com/dmitrymomot/aidash/pkg/pg"
	"github.com/dmitrymomot/aidash/pkg/redis"
	"github.com/dmitrymomot/aidash/pkg/requestid"
)

// app holds the wired dependencies shared by the commands.
type app struct {
	cfg     appConfig
	log     *slog.Logger
	probes  []httpserver.Probe
	closers []func(context.Context)

	store        entitlement.Store
	metrics      *metrics.Metrics
	entitlements entitlement.Service
	reconciler   *billing.Reconciler
}

func loadConfig() (appConfig, error) {
	var cfg appConfig
	if err := config.Load(&cfg); err != nil {
		return appConfig{}, err
	}
	return cfg, nil
}

func newLogger(cfg logger.Config) *slog.Logger {
	opts := append(logger.FromConfig(cfg), logger.WithContextExtractors(requestid.LoggerExtractor()))
	return logger.New(opts...)
}

// newApp opens the entitlement store and builds the entitlement and
// reconciliation services. With inMemory set no database is touched.
func newApp(ctx context.Context, inMemory bool) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: newLogger(cfg.Log), metrics: metrics.New()}

	if inMemory {
		a.log.WarnContext(ctx, "using in-memory stores, state is lost on exit")
		a.store = entitlement.NewMemoryStore()
	} else {
		pool, err := a.openPostgres(ctx)
		if err != nil {
			return nil, err
		}
		a.store = pgstore.New(pool)
	}

	entOpts, err := cfg.Entitlement.serviceOptions()
	if err != nil {
		a.Close(ctx)
		return nil, err
	}
	a.entitlements = entitlement.NewService(a.store, append(entOpts,
		entitlement.WithLogger(a.log),
		entitlement.WithObserver(a.metrics),
	)...)

	if err := a.buildReconciler(); err != nil {
		a.Close(ctx)
		return nil, err
	}
	return a, nil
}

// workerOptions are the worker settings derived from the entitlement config.
func (a *app) workerOptions() []worker.Option {
	opts := []worker.Option{worker.WithLogger(a.log)}
	if p, err := entitlement.ParseResetPeriod(a.cfg.Entitlement.ResetPeriod); err == nil {
		opts = append(opts, worker.WithResetPeriod(p))
	}
	return opts
}

// buildReconciler wires the configured providers into a.reconciler.
func (a *app) buildReconciler(extra ...billing.ReconcilerOption) error {
	policy, err := a.cfg.Entitlement.policy()
	if err != nil {
		return err
	}
	providers, err := a.cfg.Billing.providers()
	if err != nil {
		return err
	}
	sender, err := email.New(a.cfg.Email)
	if err != nil {
		return err
	}
	opts := []billing.ReconcilerOption{
		billing.WithReconcilerLogger(a.log),
		billing.WithPolicy(policy),
		billing.WithGracePeriod(a.cfg.Entitlement.GracePeriod),
		billing.WithObserver(a.metrics),
		billing.WithNotifier(notify.New(sender, a.log)),
	}
	a.reconciler = billing.NewReconciler(a.store, providers, append(opts, extra...)...)
	return nil
}

func (a *app) openPostgres(ctx context.Context) (*pgxpool.Pool, error) {
	var pgCfg pg.Config
	if err := config.Load(&pgCfg); err != nil {
		return nil, err
	}
	pool, err := pg.Connect(ctx, pgCfg)
	if err != nil {
		return nil, err
	}
	a.probes = append(a.probes, pg.Healthcheck(pool))
	a.closers = append(a.closers, func(context.Context) { pool.Close() })
	return pool, nil
}

// runMigrations applies the embedded goose migrations.
func runMigrations(ctx context.Context, log *slog.Logger) error {
	var pgCfg pg.Config
	if err := config.Load(&pgCfg); err != nil {
		return err
	}
	pool, err := pg.Connect(ctx, pgCfg)
	if err != nil {
		return err
	}
	defer pool.Close()
	return pg.Migrate(ctx, pool, pgCfg, db.Migrations, db.MigrationsDir, log)
}

// server is everything serve needs on top of app.
type server struct {
	billing *billing.Service
	jobs    *jobs.Service
	tools   ai.Tools
	events  *eventlog.Log
}

func (a *app) serverDeps(ctx context.Context, inMemory bool) (*server, error) {
	s := &server{}

	var jobStore jobs.Store = jobs.NewMemoryStore()
	if !inMemory {
		client, err := redis.Connect(ctx, a.cfg.Redis)
		if err != nil {
			return nil, err
		}
		a.probes = append(a.probes, redis.Healthcheck(client))
		a.closers = append(a.closers, func(context.Context) { _ = client.Close() })
		jobStore = jobs.NewRedisStore(client)
	}
	s.jobs = jobs.NewService(jobStore, a.cfg.Jobs, a.log)

	if a.cfg.Mongo.Enabled() {
		database, err := mongo.ConnectDatabase(ctx, a.cfg.Mongo)
		if err != nil {
			return nil, err
		}
		client := database.Client()
		a.probes = append(a.probes, mongo.Healthcheck(client))
		a.closers = append(a.closers, func(ctx context.Context) { _ = client.Disconnect(ctx) })

		s.events = eventlog.New(database, eventlog.WithRetention(a.cfg.EventLog.Retention))
		if err := s.events.EnsureIndexes(ctx); err != nil {
			return nil, err
		}
		if err := a.buildReconciler(billing.WithArchiver(s.events)); err != nil {
			return nil, err
		}
	}

	aiOpts := []ai.Option{ai.WithLogger(a.log), ai.WithObserver(a.metrics)}
	if a.cfg.Media.Enabled() {
		store, err := media.New(ctx, a.cfg.Media)
		if err != nil {
			return nil, err
		}
		aiOpts = append(aiOpts, ai.WithMediaStore(store))
	}
	s.tools = ai.New(a.cfg.AI, aiOpts...)

	plans := a.cfg.Billing.plans()
	if len(plans) == 0 {
		a.log.WarnContext(ctx, "no payment provider configured, checkout is disabled")
	}
	s.billing = billing.NewService(a.reconciler, a.entitlements, a.store, plans, a.log)
	return s, nil
}

// Close releases connections in reverse order of opening.
func (a *app) Close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i](ctx)
	}
	a.closers = nil
}
