// Package cli is the aidash command line: the API server, migrations and
// a few maintenance commands.
package cli

import (
	"context"

	"github.com/spf13/cobra"
)

type rootFlags struct {
	inMemory bool
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	flags := &rootFlags{}
	cmd := &cobra.Command{
		Use:   "aidash",
		Short: "AI dashboard API with free-tier quotas and subscriptions",
		Long: `aidash serves the AI tools API. Free users get a per-feature quota,
subscribers are reconciled from PayPal, Stripe and Paddle webhooks.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().BoolVar(&flags.inMemory, "in-memory", false, "use in-memory stores instead of Postgres and Redis")

	cmd.AddCommand(
		newServeCmd(flags),
		newMigrateCmd(),
		newExpireCmd(flags),
		newUsageCmd(flags),
		newTokenCmd(),
	)
	return cmd
}

// Execute runs the root command with ctx.
func Execute(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}
