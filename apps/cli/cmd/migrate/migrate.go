package migrate

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zenGate-Global/schoolspace/apps/cli/config"
	"github.com/zenGate-Global/schoolspace/domains/migration/be/service"
	"github.com/zenGate-Global/schoolspace/platform/go/credentials"
	"github.com/zenGate-Global/schoolspace/platform/go/jobmetrics"
	"github.com/zenGate-Global/schoolspace/platform/go/persistence"
)

const pushJob = "schoolspace_migration"

// Command runs one full migration of the shared schema into per-school namespaces.
// It exits non-zero when the run rolled back.
func Command() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Migrate the shared schema into one namespace per school",
		Long: "Registers legacy schools, provisions their namespaces, unifies users, copies tenant data " +
			"and resyncs sequences in a single transaction. Safe to re-run.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := config.FromCommand(cmd)
			if err != nil {
				return err
			}
			runCfg, err := cfg.Service()
			if err != nil {
				return err
			}

			logger, err := cfg.Logger("migrate")
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			defer func() { _ = logger.Sync() }()

			pool, err := persistence.NewPool(ctx, cfg.PoolConfig())
			if err != nil {
				return fmt.Errorf("init pool: %w", err)
			}
			defer persistence.ClosePool(pool)

			var pusher jobmetrics.Pusher
			if cfg.PushgatewayURL != "" {
				pusher = jobmetrics.NewPushgatewayPusher(cfg.PushgatewayURL, pushJob, map[string]string{
					"platform_schema": runCfg.PlatformSchema.String(),
				})
			}

			ctrl, err := service.NewController(pool, runCfg,
				service.WithLogger(logger),
				service.WithHasher(credentials.NewHasher(cfg.BcryptCost)),
				service.WithMetrics(jobmetrics.NewRunMetrics(), pusher),
			)
			if err != nil {
				return err
			}

			res, err := ctrl.Run(ctx)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "run %s: %s (tenants=%d rows=%d warnings=%d)\n", res.RunID, res.Outcome, res.Tenants, res.RowsCopied, res.Warnings)
			if res.ArtifactPath != "" {
				fmt.Fprintf(out, "log: %s\n", res.ArtifactPath)
			}
			if res.Admin.GeneratedPassword != "" {
				fmt.Fprintf(out, "platform admin %s created with password %s; change it after first login\n", res.Admin.Email, res.Admin.GeneratedPassword)
			}
			if err != nil {
				logger.Error("migration failed", zap.String("phase", string(res.FailedPhase)), zap.Error(err))
				return err
			}
			return nil
		},
	}
}
