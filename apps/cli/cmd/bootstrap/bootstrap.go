package bootstrap

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zenGate-Global/schoolspace/apps/cli/config"
	"github.com/zenGate-Global/schoolspace/platform/go/persistence"
)

// Notes/constraints:
// - Only the platform DDL runs here: registry, user directory and memberships.
// - Every statement is idempotent, so this is safe before or after a migration run.

// Command applies the platform schema without migrating anything.
func Command() *cobra.Command {
	return &cobra.Command{
		Use:   "bootstrap",
		Short: "Create or update the platform schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			cfg, err := config.FromCommand(cmd)
			if err != nil {
				return err
			}
			platform, err := cfg.Platform()
			if err != nil {
				return err
			}
			logger, err := cfg.Logger("bootstrap")
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			defer func() { _ = logger.Sync() }()

			pool, err := persistence.NewPool(ctx, cfg.PoolConfig())
			if err != nil {
				return fmt.Errorf("init pool: %w", err)
			}
			defer persistence.ClosePool(pool)

			if err := persistence.BootstrapPlatformSchema(ctx, pool, platform); err != nil {
				return fmt.Errorf("bootstrap platform schema: %w", err)
			}
			logger.Info("platform schema ready", zap.String("schema", platform.String()))
			fmt.Fprintf(cmd.OutOrStdout(), "platform schema %s ready\n", platform)
			return nil
		},
	}
}
