package service

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/zenGate-Global/schoolspace/domains/migration/be/runlog"
	"github.com/zenGate-Global/schoolspace/platform/go/credentials"
	"github.com/zenGate-Global/schoolspace/platform/go/jobmetrics"
	"github.com/zenGate-Global/schoolspace/platform/go/sqlident"
)

var (
	hasher  = credentials.NewHasher(bcrypt.MinCost)
	testNow = time.Date(2026, 3, 1, 8, 30, 0, 0, time.UTC)
)

// lockFailTx fails the first statement of a run, the advisory lock.
type lockFailTx struct {
	pgx.Tx
	rolledBack bool
	rollbackOK bool
}

func (f *lockFailTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, errors.New("lock timeout")
}

func (f *lockFailTx) Commit(context.Context) error { return errors.New("unexpected commit") }

func (f *lockFailTx) Rollback(ctx context.Context) error {
	f.rolledBack = true
	f.rollbackOK = ctx.Err() == nil
	return nil
}

type fakeStarter struct {
	tx  pgx.Tx
	err error
}

func (s *fakeStarter) BeginTx(ctx context.Context, _ pgx.TxOptions) (pgx.Tx, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.tx, ctx.Err()
}

type recordingPusher struct{ pushes int }

func (p *recordingPusher) Push(context.Context, *prometheus.Registry) error {
	p.pushes++
	return nil
}

func testConfig(t *testing.T) Config {
	return Config{
		PlatformSchema:     sqlident.MustParse("platform"),
		LegacySchema:       sqlident.MustParse("legacy"),
		LegacyTenantsTable: sqlident.MustParse("schools"),
		LegacyUsersTable:   sqlident.MustParse("users"),
		NamespacePrefix:    "school_",
		LogDir:             t.TempDir(),
		Admin:              AdminConfig{Email: "admin@schoolspace.test", Password: "admin-secret"},
	}
}

func TestNewControllerValidatesConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.LegacySchema = sqlident.Identifier{}
	_, err := NewController(&fakeStarter{}, cfg)
	require.ErrorContains(t, err, "legacy schema is required")

	c, err := NewController(&fakeStarter{}, testConfig(t))
	require.NoError(t, err)
	require.NotEmpty(t, c.cfg.Plan.Tables)
	require.Equal(t, c.cfg.Template.Tables(), c.cfg.Plan.TableNames())
}

func TestRunRollsBackAndWritesFailureArtifact(t *testing.T) {
	cfg := testConfig(t)
	tx := &lockFailTx{}
	metrics := jobmetrics.NewRunMetrics()
	pusher := &recordingPusher{}

	c, err := NewController(&fakeStarter{tx: tx}, cfg, WithMetrics(metrics, pusher))
	require.NoError(t, err)

	res, err := c.Run(context.Background())
	require.ErrorIs(t, err, ErrRunFailed)
	require.ErrorContains(t, err, "lock timeout")
	require.True(t, tx.rolledBack)
	require.True(t, tx.rollbackOK)

	require.Equal(t, runlog.OutcomeRolledBack, res.Outcome)
	require.Equal(t, PhaseInitializingSchema, res.FailedPhase)
	require.Equal(t, PhaseRolledBack, res.Phase)
	require.Equal(t, cfg.LogDir, filepath.Dir(res.ArtifactPath))

	raw, err := os.ReadFile(res.ArtifactPath)
	require.NoError(t, err)
	var artifact runlog.FailureArtifact
	require.NoError(t, json.Unmarshal(raw, &artifact))
	require.Contains(t, artifact.Error, "lock timeout")
	require.NotEmpty(t, artifact.Stack)
	require.Contains(t, artifact.Log, "phase: "+string(PhaseInitializingSchema))
	require.Equal(t, res.RunID, artifact.RunID)

	n, err := testutil.GatherAndCount(metrics.Registry, "schoolspace_migration_runs_total")
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, 1, pusher.pushes)
}

func TestRunFailsWhenTransactionCannotStart(t *testing.T) {
	cfg := testConfig(t)
	c, err := NewController(&fakeStarter{err: errors.New("connection refused")}, cfg)
	require.NoError(t, err)

	res, err := c.Run(context.Background())
	require.ErrorIs(t, err, ErrRunFailed)
	require.Equal(t, PhaseNotStarted, res.FailedPhase)
	require.FileExists(t, res.ArtifactPath)
}
