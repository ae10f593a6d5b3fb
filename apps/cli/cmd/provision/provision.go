package provision

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zenGate-Global/schoolspace/apps/cli/config"
	"github.com/zenGate-Global/schoolspace/domains/migration/be/service"
	"github.com/zenGate-Global/schoolspace/domains/tenants/be/provisioning"
	"github.com/zenGate-Global/schoolspace/platform/go/persistence"
)

// Command provisions, or checks, the namespace of one registered school.
func Command() *cobra.Command {
	var (
		code  string
		check bool
	)

	c := &cobra.Command{
		Use:   "provision",
		Short: "Provision the namespace of one registered school",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			if strings.TrimSpace(code) == "" {
				return errors.New("--code is required")
			}

			cfg, err := config.FromCommand(cmd)
			if err != nil {
				return err
			}
			runCfg, err := cfg.Service()
			if err != nil {
				return err
			}
			logger, err := cfg.Logger("provision")
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			defer func() { _ = logger.Sync() }()

			pool, err := persistence.NewPool(ctx, cfg.PoolConfig())
			if err != nil {
				return fmt.Errorf("init pool: %w", err)
			}
			defer persistence.ClosePool(pool)

			out := cmd.OutOrStdout()
			if check {
				rec, err := persistence.NewSchoolStore(runCfg.PlatformSchema).GetByCode(ctx, pool, code)
				if err != nil {
					return fmt.Errorf("school %q: %w", code, err)
				}
				ns, err := rec.Namespace()
				if err != nil {
					return fmt.Errorf("school %q has no usable namespace: %w", code, err)
				}
				res, err := provisioning.NewNamespaceProvisioner(runCfg.Template, logger).Check(ctx, pool, ns)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s: exists=%t ready=%t missing=%s\n", ns, res.Exists, res.Ready(), strings.Join(res.MissingTables, ","))
				if !res.Ready() {
					return fmt.Errorf("namespace %s is not ready", ns)
				}
				return nil
			}

			ctrl, err := service.NewController(pool, runCfg, service.WithLogger(logger))
			if err != nil {
				return err
			}
			space, res, err := ctrl.ProvisionSchool(ctx, code)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s: %s (executed=%d skipped=%d warnings=%d)\n", space.SchemaName, res.Status, res.Executed, res.Skipped, len(res.Warnings))
			for _, w := range res.Warnings {
				fmt.Fprintf(out, "  warning: %s: %v\n", w.Statement, w.Err)
			}
			return nil
		},
	}

	c.Flags().StringVar(&code, "code", "", "school code as registered in the platform schema")
	c.Flags().BoolVar(&check, "check", false, "only report whether the namespace is complete")
	return c
}
