package resolve

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zenGate-Global/schoolspace/apps/cli/config"
	"github.com/zenGate-Global/schoolspace/platform/go/persistence"
	"github.com/zenGate-Global/schoolspace/platform/go/tenant"
	tenantmiddleware "github.com/zenGate-Global/schoolspace/platform/go/tenant/middleware"
)

type output struct {
	TenantID int64  `json:"tenantId"`
	Code     string `json:"code"`
	Schema   string `json:"schema"`
	Status   string `json:"status"`
	Source   string `json:"source"`
}

// Command prints the tenant space a user resolves to. With REDIS_URL set the shared
// cache used by the API is consulted and refreshed.
func Command() *cobra.Command {
	var (
		userID  int64
		email   string
		refresh bool
		ttl     time.Duration
	)

	c := &cobra.Command{
		Use:   "resolve",
		Short: "Resolve a user's tenant namespace",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			principal := tenant.Principal{UserID: userID, Email: strings.TrimSpace(email)}
			if principal.UserID <= 0 && principal.Email == "" {
				return errors.New("--user-id or --email is required")
			}

			cfg, err := config.FromCommand(cmd)
			if err != nil {
				return err
			}
			platform, err := cfg.Platform()
			if err != nil {
				return err
			}
			logger, err := cfg.Logger("resolve")
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			defer func() { _ = logger.Sync() }()

			var cache *tenantmiddleware.RedisCache
			if cfg.RedisURL != "" {
				if cache, err = tenantmiddleware.NewRedisCache(ctx, cfg.RedisURL, logger); err != nil {
					return fmt.Errorf("init redis cache: %w", err)
				}
				defer func() { _ = cache.Close() }()

				if refresh {
					if err := cache.Invalidate(ctx, principal.Key()); err != nil {
						logger.Warn("invalidate cached space", zap.Error(err))
					}
				} else if space, ok := cache.Get(ctx, principal.Key()); ok && space.Active() {
					return writeSpace(cmd, space, "cache")
				}
			}

			pool, err := persistence.NewPool(ctx, cfg.PoolConfig())
			if err != nil {
				return fmt.Errorf("init pool: %w", err)
			}
			defer persistence.ClosePool(pool)

			db := persistence.NewTenantDB(persistence.TenantDBConfig{Pool: pool, PlatformSchema: platform})
			space, err := tenant.NewResolver(persistence.NewDirectory(db)).Resolve(ctx, principal)
			if err != nil {
				return err
			}
			if cache != nil {
				cache.Set(ctx, principal.Key(), space, ttl)
			}
			return writeSpace(cmd, space, "directory")
		},
	}

	c.Flags().Int64Var(&userID, "user-id", 0, "platform user id")
	c.Flags().StringVar(&email, "email", "", "user email (case-insensitive)")
	c.Flags().BoolVar(&refresh, "refresh", false, "ignore and replace the cached entry")
	c.Flags().DurationVar(&ttl, "cache-ttl", 5*time.Minute, "how long a resolved space stays cached")
	return c
}

func writeSpace(cmd *cobra.Command, space tenant.Space, source string) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(output{
		TenantID: space.TenantID,
		Code:     space.Code,
		Schema:   space.SchemaName.String(),
		Status:   space.Status,
		Source:   source,
	})
}
