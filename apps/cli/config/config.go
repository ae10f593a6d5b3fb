// Package config loads CLI settings from the environment, optionally seeded from .env files.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/zenGate-Global/schoolspace/domains/migration/be/plan"
	"github.com/zenGate-Global/schoolspace/domains/migration/be/service"
	"github.com/zenGate-Global/schoolspace/platform/go/logging"
	"github.com/zenGate-Global/schoolspace/platform/go/persistence"
	"github.com/zenGate-Global/schoolspace/platform/go/schematemplate"
	"github.com/zenGate-Global/schoolspace/platform/go/sqlident"
)

type Config struct {
	DatabaseURL string `env:"DATABASE_URL,required"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat   string `env:"LOG_FORMAT" envDefault:"json"`

	PlatformSchema     string `env:"PLATFORM_SCHEMA" envDefault:"platform"`
	LegacySchema       string `env:"LEGACY_SCHEMA" envDefault:"public"`
	LegacyTenantsTable string `env:"LEGACY_TENANTS_TABLE" envDefault:"schools"`
	LegacyUsersTable   string `env:"LEGACY_USERS_TABLE" envDefault:"users"`
	NamespacePrefix    string `env:"NAMESPACE_PREFIX" envDefault:"school_"`

	TemplatePath     string        `env:"TEMPLATE_PATH"`
	PlanPath         string        `env:"PLAN_PATH"`
	LogDir           string        `env:"LOG_DIR" envDefault:"./migration-logs"`
	OwnerColumns     []string      `env:"OWNER_COLUMNS" envSeparator:"," envDefault:"school_id,tenant_id"`
	OrphanUserPolicy string        `env:"ORPHAN_USER_POLICY" envDefault:"first-tenant"`
	MigrationTimeout time.Duration `env:"MIGRATION_TIMEOUT" envDefault:"30m"`
	BcryptCost       int           `env:"BCRYPT_COST" envDefault:"12"`

	PlatformAdminEmail    string `env:"PLATFORM_ADMIN_EMAIL" envDefault:"admin@schoolspace.local"`
	PlatformAdminPassword string `env:"PLATFORM_ADMIN_PASSWORD"`

	PushgatewayURL string `env:"PUSHGATEWAY_URL"`
	RedisURL       string `env:"REDIS_URL"`

	DBMaxConns            int32         `env:"DB_MAX_CONNS" envDefault:"4"`
	DBMinConns            int32         `env:"DB_MIN_CONNS"`
	DBMaxConnLifetime     time.Duration `env:"DB_MAX_CONN_LIFETIME"`
	DBMaxConnIdleTime     time.Duration `env:"DB_MAX_CONN_IDLE_TIME"`
	DBHealthCheckInterval time.Duration `env:"DB_HEALTH_CHECK_INTERVAL"`
	DBApplicationName     string        `env:"DB_APPLICATION_NAME" envDefault:"schoolspace"`
	DBLockTimeout         time.Duration `env:"DB_LOCK_TIMEOUT"`
}

// Load reads envFiles (missing files are ignored, existing variables win) and parses
// the environment.
func Load(envFiles ...string) (Config, error) {
	for _, f := range envFiles {
		if strings.TrimSpace(f) == "" {
			continue
		}
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func (c Config) PoolConfig() persistence.PoolConfig {
	return persistence.PoolConfig{
		ConnString:          c.DatabaseURL,
		MaxConns:            c.DBMaxConns,
		MinConns:            c.DBMinConns,
		MaxConnLifetime:     c.DBMaxConnLifetime,
		MaxConnIdleTime:     c.DBMaxConnIdleTime,
		HealthCheckInterval: c.DBHealthCheckInterval,
		ApplicationName:     c.DBApplicationName,
		LockTimeout:         c.DBLockTimeout,
	}
}

func (c Config) Logger(component string) (*zap.Logger, error) {
	return logging.NewLogger(logging.Config{Component: component, Level: c.LogLevel, Format: c.LogFormat})
}

// Platform returns the validated platform schema identifier.
func (c Config) Platform() (sqlident.Identifier, error) {
	id, err := sqlident.Parse(c.PlatformSchema)
	if err != nil {
		return sqlident.Identifier{}, fmt.Errorf("PLATFORM_SCHEMA: %w", err)
	}
	return id, nil
}

// Template loads TEMPLATE_PATH or falls back to the embedded template.
func (c Config) Template() (schematemplate.Template, error) {
	if strings.TrimSpace(c.TemplatePath) == "" {
		return schematemplate.Default(), nil
	}
	return schematemplate.Load(c.TemplatePath)
}

// Service assembles the migration run configuration. Every identifier is validated
// here so a bad setting fails before a transaction is opened.
func (c Config) Service() (service.Config, error) {
	var (
		out  service.Config
		errs []error
	)
	parse := func(key, v string) sqlident.Identifier {
		id, err := sqlident.Parse(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
		return id
	}
	out.PlatformSchema = parse("PLATFORM_SCHEMA", c.PlatformSchema)
	out.LegacySchema = parse("LEGACY_SCHEMA", c.LegacySchema)
	out.LegacyTenantsTable = parse("LEGACY_TENANTS_TABLE", c.LegacyTenantsTable)
	out.LegacyUsersTable = parse("LEGACY_USERS_TABLE", c.LegacyUsersTable)
	if _, err := sqlident.Parse(c.NamespacePrefix + "x"); err != nil {
		errs = append(errs, fmt.Errorf("NAMESPACE_PREFIX: %w", err))
	}
	if _, err := sqlident.ParseAll(c.OwnerColumns); err != nil {
		errs = append(errs, fmt.Errorf("OWNER_COLUMNS: %w", err))
	}

	policy, err := service.ParseOrphanPolicy(c.OrphanUserPolicy)
	if err != nil {
		errs = append(errs, fmt.Errorf("ORPHAN_USER_POLICY: %w", err))
	}

	tpl, err := c.Template()
	if err != nil {
		errs = append(errs, fmt.Errorf("TEMPLATE_PATH: %w", err))
	}

	var p plan.Plan
	if strings.TrimSpace(c.PlanPath) != "" {
		if p, err = plan.Load(c.PlanPath); err != nil {
			errs = append(errs, fmt.Errorf("PLAN_PATH: %w", err))
		}
	} else if err == nil {
		p = plan.FromTemplate(tpl, c.OwnerColumns)
	}
	if len(p.OwnerColumns) == 0 {
		p.OwnerColumns = c.OwnerColumns
	}

	if len(errs) > 0 {
		return service.Config{}, errors.Join(errs...)
	}

	out.NamespacePrefix = c.NamespacePrefix
	out.OrphanPolicy = policy
	out.Template = tpl
	out.Plan = p
	out.LogDir = c.LogDir
	out.Timeout = c.MigrationTimeout
	out.Admin = service.AdminConfig{Email: c.PlatformAdminEmail, Password: c.PlatformAdminPassword}
	return out, nil
}

// FromCommand loads the configuration using the root --env-file flag.
func FromCommand(cmd *cobra.Command) (Config, error) {
	files, err := cmd.Flags().GetStringSlice("env-file")
	if err != nil {
		files = nil
	}
	return Load(files...)
}
