package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zenGate-Global/schoolspace/domains/migration/be/service"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/school")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "platform", cfg.PlatformSchema)
	require.Equal(t, "public", cfg.LegacySchema)
	require.Equal(t, []string{"school_id", "tenant_id"}, cfg.OwnerColumns)
	require.Equal(t, 30*time.Minute, cfg.MigrationTimeout)
	require.Equal(t, "json", cfg.LogFormat)

	pool := cfg.PoolConfig()
	require.Equal(t, "schoolspace", pool.ApplicationName)
	require.Zero(t, pool.LockTimeout)

	svc, err := cfg.Service()
	require.NoError(t, err)
	require.Equal(t, "public", svc.LegacySchema.String())
	require.Equal(t, service.OrphanFirstTenant, svc.OrphanPolicy)
	require.Equal(t, svc.Template.Tables(), svc.Plan.TableNames())
	require.Equal(t, []string{"school_id", "tenant_id"}, svc.Plan.OwnerColumns)
}

func TestLoadRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	os.Unsetenv("DATABASE_URL")

	_, err := Load()
	require.Error(t, err)
}

func TestLoadReadsEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("DATABASE_URL=postgres://from-file/db\nORPHAN_USER_POLICY=unassigned\n"), 0o600))
	t.Setenv("DATABASE_URL", "")
	os.Unsetenv("DATABASE_URL")
	t.Setenv("ORPHAN_USER_POLICY", "")
	os.Unsetenv("ORPHAN_USER_POLICY")

	cfg, err := Load(path, filepath.Join(dir, "missing.env"))
	require.NoError(t, err)
	require.Equal(t, "postgres://from-file/db", cfg.DatabaseURL)

	svc, err := cfg.Service()
	require.NoError(t, err)
	require.Equal(t, service.OrphanUnassigned, svc.OrphanPolicy)
}

func TestServiceRejectsUnsafeSettings(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/school")
	t.Setenv("LEGACY_SCHEMA", `public"; DROP SCHEMA x; --`)
	t.Setenv("NAMESPACE_PREFIX", "school-")
	t.Setenv("ORPHAN_USER_POLICY", "delete")

	cfg, err := Load()
	require.NoError(t, err)

	_, err = cfg.Service()
	require.ErrorContains(t, err, "LEGACY_SCHEMA")
	require.ErrorContains(t, err, "NAMESPACE_PREFIX")
	require.ErrorContains(t, err, "ORPHAN_USER_POLICY")
}
