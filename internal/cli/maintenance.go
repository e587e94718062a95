package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dmitrymomot/aidash/internal/entitlement"
	"github.com/dmitrymomot/aidash/internal/worker"
	"github.com/dmitrymomot/aidash/pkg/jwt"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return runMigrations(cmd.Context(), newLogger(cfg.Log))
		},
	}
}

func newExpireCmd(flags *rootFlags) *cobra.Command {
	var prune bool
	cmd := &cobra.Command{
		Use:   "expire",
		Short: "Expire lapsed subscriptions once and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, flags.inMemory)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			w, err := worker.New(a.cfg.Worker, a.reconciler, a.store, a.workerOptions()...)
			if err != nil {
				return err
			}
			n, err := w.ExpireLapsed(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "expired %d subscription(s)\n", n)

			if prune {
				pruned, err := w.PruneUsage(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "pruned %d usage counter(s)\n", pruned)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&prune, "prune-usage", false, "also delete usage counters older than USAGE_RETENTION")
	return cmd
}

func newUsageCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Inspect and manage free-tier usage",
	}

	var feature string
	reset := &cobra.Command{
		Use:   "reset USER_ID",
		Short: "Zero a user's usage counters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var f entitlement.Feature
			if feature != "" {
				parsed, err := entitlement.ParseFeature(feature)
				if err != nil {
					return err
				}
				f = parsed
			}

			ctx := cmd.Context()
			a, err := newApp(ctx, flags.inMemory)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			if err := a.store.ResetUsage(ctx, args[0], f); err != nil {
				return err
			}
			if f == "" {
				fmt.Fprintf(cmd.OutOrStdout(), "reset all usage for %s\n", args[0])
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "reset %s usage for %s\n", f, args[0])
			}
			return nil
		},
	}
	reset.Flags().StringVar(&feature, "feature", "", "reset only this feature")

	cmd.AddCommand(reset)
	return cmd
}

// newTokenCmd issues a token signed with JWT_SECRET for local testing.
func newTokenCmd() *cobra.Command {
	var (
		email string
		ttl   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token USER_ID",
		Short: "Issue an API token for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			svc, err := jwt.New(cfg.JWT)
			if err != nil {
				return err
			}
			tok, err := svc.Generate(args[0], email, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email claim")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}
