// Package service migrates a shared-schema deployment into one namespace per school
// inside a single transaction.
package service

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/zenGate-Global/schoolspace/domains/migration/be/plan"
	"github.com/zenGate-Global/schoolspace/domains/migration/be/runlog"
	"github.com/zenGate-Global/schoolspace/domains/tenants/be/provisioning"
	"github.com/zenGate-Global/schoolspace/platform/go/credentials"
	"github.com/zenGate-Global/schoolspace/platform/go/jobmetrics"
	"github.com/zenGate-Global/schoolspace/platform/go/persistence"
	"github.com/zenGate-Global/schoolspace/platform/go/schematemplate"
	"github.com/zenGate-Global/schoolspace/platform/go/sqlident"
)

// Phase is a step of the run state machine.
type Phase string

const (
	PhaseNotStarted                 Phase = "NotStarted"
	PhaseInitializingSchema         Phase = "InitializingSchema"
	PhaseMigratingTenants           Phase = "MigratingTenants"
	PhaseProvisioningNamespaces     Phase = "ProvisioningNamespaces"
	PhaseMigratingUsers             Phase = "MigratingUsers"
	PhaseMigratingTenantData        Phase = "MigratingTenantData"
	PhaseBootstrappingPlatformAdmin Phase = "BootstrappingPlatformAdmin"
	PhaseResyncingSequences         Phase = "ResyncingSequences"
	PhaseCommitted                  Phase = "Committed"
	PhaseRolledBack                 Phase = "RolledBack"
)

// AdvisoryLockKey serialises migration runs against the same database.
const AdvisoryLockKey int64 = 0x5c4001_5ace

const rollbackTimeout = 30 * time.Second

// ErrRunFailed wraps every fatal failure; the transaction has been rolled back.
var ErrRunFailed = errors.New("migration run failed")

// Config is everything a run needs besides the database handle.
type Config struct {
	PlatformSchema     sqlident.Identifier
	LegacySchema       sqlident.Identifier
	LegacyTenantsTable sqlident.Identifier
	LegacyUsersTable   sqlident.Identifier
	NamespacePrefix    string
	OrphanPolicy       OrphanPolicy
	Admin              AdminConfig
	Template           schematemplate.Template
	Plan               plan.Plan
	LogDir             string
	// Timeout bounds the whole run; zero means no limit beyond ctx.
	Timeout time.Duration
}

// Result is what a finished run reports, successful or not.
type Result struct {
	RunID        string
	Outcome      string
	Phase        Phase
	FailedPhase  Phase
	ArtifactPath string
	Tenants      int
	RowsCopied   int64
	Warnings     int
	Admin        AdminResult
}

// TxStarter begins the top-level run transaction. *pgxpool.Pool satisfies it.
type TxStarter interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

// Option customises a Controller.
type Option func(*Controller)

func WithLogger(l *zap.Logger) Option { return func(c *Controller) { c.logger = l } }

func WithHasher(h credentials.Hasher) Option { return func(c *Controller) { c.hasher = h } }

func WithMetrics(m *jobmetrics.RunMetrics, p jobmetrics.Pusher) Option {
	return func(c *Controller) { c.metrics, c.pusher = m, p }
}

func WithClock(now func() time.Time) Option { return func(c *Controller) { c.now = now } }

// WithTenantDataMigrator replaces the table copier used in MigratingTenantData.
func WithTenantDataMigrator(m TenantDataMigrator) Option {
	return func(c *Controller) { c.tenantData = m }
}

// Controller drives one migration run through its phases.
type Controller struct {
	db     TxStarter
	cfg    Config
	logger *zap.Logger
	hasher credentials.Hasher
	now    func() time.Time

	metrics *jobmetrics.RunMetrics
	pusher  jobmetrics.Pusher

	schools     *persistence.SchoolStore
	provisioner *provisioning.NamespaceProvisioner
	tenantData  TenantDataMigrator
}

func NewController(db TxStarter, cfg Config, opts ...Option) (*Controller, error) {
	for name, id := range map[string]sqlident.Identifier{
		"platform schema":      cfg.PlatformSchema,
		"legacy schema":        cfg.LegacySchema,
		"legacy tenants table": cfg.LegacyTenantsTable,
		"legacy users table":   cfg.LegacyUsersTable,
	} {
		if id.IsZero() {
			return nil, fmt.Errorf("%s is required", name)
		}
	}
	if cfg.Template.Name() == "" {
		cfg.Template = schematemplate.Default()
	}
	if len(cfg.Plan.Tables) == 0 {
		cfg.Plan = plan.FromTemplate(cfg.Template, cfg.Plan.OwnerColumns)
	}

	c := &Controller{
		db:     db,
		cfg:    cfg,
		logger: zap.NewNop(),
		hasher: credentials.NewHasher(0),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.schools = persistence.NewSchoolStore(cfg.PlatformSchema)
	c.provisioner = provisioning.NewNamespaceProvisioner(cfg.Template, c.logger)
	if c.tenantData == nil {
		c.tenantData = NewTableMigrator(cfg.LegacySchema, c.logger)
	}
	return c, nil
}

// runState is what the phases hand to each other.
type runState struct {
	run     *runlog.Run
	phase   Phase
	steps   []plan.Step
	tenants []Tenant
	admin   AdminResult
	failure []byte
}

func (s *runState) enter(p Phase) {
	s.phase = p
	s.run.Phase(string(p))
}

// Run executes every phase in one transaction. On success the transaction is committed
// and a run artifact written; on any failure, panic included, it is rolled back, a failure
// artifact is written and an error wrapping ErrRunFailed is returned.
func (c *Controller) Run(ctx context.Context) (Result, error) {
	started := c.now()
	st := &runState{run: runlog.NewRun(c.logger, started), phase: PhaseNotStarted}
	st.run.Phase(string(PhaseNotStarted))
	st.run.Logf("template %s (%s), plan of %d tables", c.cfg.Template.Name(), c.cfg.Template.Version(), len(c.cfg.Plan.Tables))

	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	tx, err := c.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return c.fail(ctx, st, nil, fmt.Errorf("begin run transaction: %w", err), debug.Stack())
	}

	if err := c.execute(ctx, tx, st); err != nil {
		return c.fail(ctx, st, tx, err, st.failure)
	}

	if err := tx.Commit(ctx); err != nil {
		return c.fail(ctx, st, tx, fmt.Errorf("commit: %w", err), debug.Stack())
	}
	return c.succeed(ctx, st)
}

// execute runs the phases, turning a panic into an error and keeping its stack.
func (c *Controller) execute(ctx context.Context, tx pgx.Tx, st *runState) (err error) {
	defer func() {
		if p := recover(); p != nil {
			st.failure = debug.Stack()
			err = fmt.Errorf("panic in %s: %v", st.phase, p)
		}
	}()

	phases := []struct {
		phase Phase
		fn    func(context.Context, pgx.Tx, *runState) error
	}{
		{PhaseInitializingSchema, c.initializeSchema},
		{PhaseMigratingTenants, c.migrateTenants},
		{PhaseProvisioningNamespaces, c.provisionNamespaces},
		{PhaseMigratingUsers, c.migrateUsers},
		{PhaseMigratingTenantData, c.migrateTenantData},
		{PhaseBootstrappingPlatformAdmin, c.bootstrapAdmin},
		{PhaseResyncingSequences, c.resyncSequences},
	}
	for _, p := range phases {
		if err := ctx.Err(); err != nil {
			return err
		}
		st.enter(p.phase)
		if err := p.fn(ctx, tx, st); err != nil {
			st.failure = debug.Stack()
			return err
		}
	}
	return nil
}

func (c *Controller) initializeSchema(ctx context.Context, tx pgx.Tx, st *runState) error {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, AdvisoryLockKey); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	if err := persistence.ApplyPlatformSchema(ctx, tx, c.cfg.PlatformSchema); err != nil {
		return err
	}
	steps, err := c.cfg.Plan.Steps()
	if err != nil {
		return err
	}
	st.steps = steps
	st.run.Logf("platform schema %s ready", c.cfg.PlatformSchema)
	return nil
}

func (c *Controller) migrateTenants(ctx context.Context, tx pgx.Tx, st *runState) error {
	registrar := NewTenantRegistrar(c.cfg.LegacySchema, c.cfg.LegacyTenantsTable, c.cfg.PlatformSchema, c.schools, c.cfg.NamespacePrefix)
	tenants, err := registrar.MigrateTenants(ctx, tx, st.run)
	if err != nil {
		return err
	}
	st.tenants = tenants
	return nil
}

func (c *Controller) provisionNamespaces(ctx context.Context, tx pgx.Tx, st *runState) error {
	for _, t := range st.tenants {
		res, err := c.provisioner.Provision(ctx, tx, t.SchemaName)
		if err != nil {
			return fmt.Errorf("provision %s: %w", t.SchemaName, err)
		}

		status := runlog.StatusDone
		switch res.Status {
		case provisioning.StatusAlreadyProvisioned:
			status = runlog.StatusSkipped
		case provisioning.StatusProvisionedWithWarnings:
			status = runlog.StatusWarning
			for _, w := range res.Warnings {
				st.run.Warn(fmt.Sprintf("provision %s: statement failed: %s", t.SchemaName, w.Statement), w.Err)
			}
		}
		st.run.Record(runlog.Outcome{
			Kind:   runlog.KindNamespace,
			Tenant: t.Code,
			Target: t.SchemaName.String(),
			Status: status,
			Detail: string(res.Status),
		})
	}
	return nil
}

func (c *Controller) migrateUsers(ctx context.Context, tx pgx.Tx, st *runState) error {
	unifier := NewIdentityUnifier(c.cfg.LegacySchema, c.cfg.LegacyUsersTable, c.cfg.PlatformSchema, c.hasher, c.cfg.OrphanPolicy)
	_, err := unifier.MigrateUsers(ctx, tx, st.tenants, st.run)
	return err
}

func (c *Controller) migrateTenantData(ctx context.Context, tx pgx.Tx, st *runState) error {
	for _, t := range st.tenants {
		if err := c.tenantData.MigrateTenant(ctx, tx, t, st.steps, st.run); err != nil {
			return err
		}
	}
	return nil
}

func (c *Controller) bootstrapAdmin(ctx context.Context, tx pgx.Tx, st *runState) error {
	res, err := NewAdminBootstrapper(c.cfg.PlatformSchema, c.hasher, c.cfg.Admin).Ensure(ctx, tx, st.run)
	if err != nil {
		return err
	}
	st.admin = res
	return nil
}

func (c *Controller) resyncSequences(ctx context.Context, tx pgx.Tx, st *runState) error {
	tables := c.cfg.Template.Tables()
	record := func(ns sqlident.Identifier, out []SequenceOutcome) {
		for _, o := range out {
			status := runlog.StatusDone
			detail := ""
			if o.Err != nil || o.Sequence == "" {
				status = runlog.StatusSkipped
				if o.Err != nil {
					detail = o.Err.Error()
				}
			}
			st.run.Record(runlog.Outcome{Kind: runlog.KindSequence, Tenant: ns.String(), Target: o.Table, Status: status, Detail: detail})
		}
	}

	for _, t := range st.tenants {
		out, err := ResyncSequences(ctx, tx, t.SchemaName, tables, st.run.Logger())
		if err != nil {
			return err
		}
		record(t.SchemaName, out)
	}
	out, err := ResyncSequences(ctx, tx, c.cfg.PlatformSchema, persistence.PlatformTables, st.run.Logger())
	if err != nil {
		return err
	}
	record(c.cfg.PlatformSchema, out)
	return nil
}

func (c *Controller) succeed(ctx context.Context, st *runState) (Result, error) {
	st.enter(PhaseCommitted)
	finished := c.now()
	st.run.Seal(runlog.OutcomeCommitted, finished)

	res := c.result(st)
	res.Admin = st.admin
	c.observe(ctx, st.run, true, finished)

	path, err := runlog.Writer{Dir: c.cfg.LogDir}.WriteSuccess(st.run)
	res.ArtifactPath = path
	if err != nil {
		// The data is committed; only the record of it is missing.
		return res, fmt.Errorf("migration committed but run artifact not written: %w", err)
	}
	st.run.Logger().Info("migration committed", zap.String("artifact", path), zap.Int("warnings", res.Warnings))
	return res, nil
}

func (c *Controller) fail(ctx context.Context, st *runState, tx pgx.Tx, cause error, stack []byte) (Result, error) {
	failed := st.phase
	logger := st.run.Logger()

	if tx != nil {
		// A cancelled ctx must not prevent the rollback.
		rbCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
		if err := tx.Rollback(rbCtx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			logger.Error("rollback failed", zap.Error(err))
		}
		cancel()
	}

	st.run.Logf("failed during %s: %v", failed, cause)
	st.enter(PhaseRolledBack)
	finished := c.now()
	st.run.Seal(runlog.OutcomeRolledBack, finished)
	c.observe(ctx, st.run, false, finished)

	res := c.result(st)
	res.FailedPhase = failed
	path, err := runlog.Writer{Dir: c.cfg.LogDir}.WriteFailure(st.run, cause, stack)
	res.ArtifactPath = path
	if err != nil {
		logger.Error("failure artifact not written", zap.Error(err))
	}
	logger.Error("migration rolled back", zap.String("phase", string(failed)), zap.String("artifact", path), zap.Error(cause))

	return res, fmt.Errorf("%w during %s: %w", ErrRunFailed, failed, cause)
}

func (c *Controller) result(st *runState) Result {
	snap := st.run.Snapshot()
	res := Result{
		RunID:    snap.RunID,
		Outcome:  snap.Outcome,
		Phase:    Phase(snap.Phase),
		Tenants:  len(st.tenants),
		Warnings: len(snap.Warnings),
	}
	for _, o := range snap.Outcomes {
		if o.Kind == runlog.KindTable {
			res.RowsCopied += o.Rows
		}
	}
	return res
}

// observe feeds the sealed run into the metrics and pushes them if configured.
func (c *Controller) observe(ctx context.Context, run *runlog.Run, committed bool, finished time.Time) {
	if c.metrics == nil {
		return
	}
	snap := run.Snapshot()
	tenants := 0
	for _, o := range snap.Outcomes {
		c.metrics.ObserveOutcome(o.Kind, o.Status)
		if o.Kind == runlog.KindTable {
			c.metrics.ObserveRows(o.Target, o.Rows)
		}
		if o.Kind == runlog.KindNamespace {
			tenants++
		}
	}
	c.metrics.ObserveTenants(tenants)
	c.metrics.ObserveRun(snap.Outcome, committed, finished.Sub(snap.StartedAt), finished)

	if c.pusher == nil {
		return
	}
	pushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := c.pusher.Push(pushCtx, c.metrics.Registry); err != nil {
		run.Logger().Warn("push run metrics", zap.Error(err))
	}
}
