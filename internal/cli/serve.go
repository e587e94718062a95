package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/aidash/internal/api"
	"github.com/dmitrymomot/aidash/internal/worker"
	"github.com/dmitrymomot/aidash/pkg/httpserver"
	"github.com/dmitrymomot/aidash/pkg/jwt"
	"github.com/dmitrymomot/aidash/pkg/logger"
	"github.com/dmitrymomot/aidash/pkg/ratelimiter"
)

func newServeCmd(flags *rootFlags) *cobra.Command {
	var noWorker bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the background worker",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), flags.inMemory, !noWorker)
		},
	}
	cmd.Flags().BoolVar(&noWorker, "no-worker", false, "do not run scheduled maintenance in this process")
	return cmd
}

func serve(ctx context.Context, inMemory, withWorker bool) error {
	a, err := newApp(ctx, inMemory)
	if err != nil {
		return err
	}
	defer a.Close(context.WithoutCancel(ctx))

	deps, err := a.serverDeps(ctx, inMemory)
	if err != nil {
		return err
	}
	auth, err := jwt.New(a.cfg.JWT)
	if err != nil {
		return err
	}
	limiter, err := ratelimiter.New(a.cfg.RateLimit)
	if err != nil {
		return err
	}

	apiDeps := api.Deps{
		Entitlements: a.entitlements,
		Billing:      deps.billing,
		Reconciler:   a.reconciler,
		Tools:        deps.tools,
		Jobs:         deps.jobs,
		Auth:         auth,
		Metrics:      a.metrics,
		Limiter:      limiter,
		TrustProxy:   a.cfg.RateLimit.TrustProxy,
		Probes:       a.probes,
		Logger:       a.log,
	}
	if deps.events != nil {
		apiDeps.Events = deps.events
	}
	router := api.NewRouter(a.cfg.API, apiDeps)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return httpserver.New(a.cfg.HTTP, a.log).Run(ctx, router)
	})
	g.Go(func() error {
		limiter.Run(ctx, time.Minute)
		return nil
	})
	if withWorker {
		w, err := worker.New(a.cfg.Worker, a.reconciler, a.store,
			append(a.workerOptions(), worker.WithJobs(deps.jobs))...)
		if err != nil {
			return err
		}
		g.Go(func() error { return w.Run(ctx) })
	}

	a.log.InfoContext(ctx, "aidash started", logger.Component("serve"))
	return g.Wait()
}
