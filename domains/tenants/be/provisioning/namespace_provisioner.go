package provisioning

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/zenGate-Global/schoolspace/platform/go/persistence"
	"github.com/zenGate-Global/schoolspace/platform/go/schematemplate"
	"github.com/zenGate-Global/schoolspace/platform/go/sqlident"
)

// Status is the outcome of one Provision call.
type Status string

const (
	StatusProvisioned             Status = "provisioned"
	StatusAlreadyProvisioned      Status = "already_provisioned"
	StatusProvisionedWithWarnings Status = "provisioned_with_warnings"
)

// ErrTableMissing explains a template table that is absent after provisioning.
var ErrTableMissing = errors.New("table missing after provisioning")

// StatementWarning is a non-benign DDL failure that did not stop provisioning.
type StatementWarning struct {
	Statement string
	Err       error
}

// ProvisionResult summarises one namespace provisioning.
type ProvisionResult struct {
	Namespace     sqlident.Identifier
	Status        Status
	Executed      int
	Skipped       int
	Warnings      []StatementWarning
	MissingTables []string
}

// CheckResult is the read-only readiness view of a namespace.
type CheckResult struct {
	Exists        bool
	MissingTables []string
}

// Ready reports whether every template table exists.
func (r CheckResult) Ready() bool {
	return r.Exists && len(r.MissingTables) == 0
}

// NamespaceProvisioner creates tenant namespaces from the schema template.
// Provision is mutating and idempotent, Check is read-only.
type NamespaceProvisioner struct {
	template schematemplate.Template
	logger   *zap.Logger
}

func NewNamespaceProvisioner(tpl schematemplate.Template, logger *zap.Logger) *NamespaceProvisioner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NamespaceProvisioner{template: tpl, logger: logger}
}

// Template returns the template namespaces are rendered from.
func (p *NamespaceProvisioner) Template() schematemplate.Template {
	return p.template
}

// Provision creates ns and the template objects inside tx. An existing namespace is left
// untouched. Each statement runs in its own savepoint: "already exists" failures are
// counted as skipped, any other failure becomes a warning and the next statement runs.
// The returned error is reserved for conditions that make tx unusable.
func (p *NamespaceProvisioner) Provision(ctx context.Context, tx pgx.Tx, ns sqlident.Identifier) (ProvisionResult, error) {
	res := ProvisionResult{Namespace: ns}
	logger := p.logger.With(zap.String("schema", ns.String()))

	exists, err := persistence.SchemaExists(ctx, tx, ns)
	if err != nil {
		return res, err
	}
	if exists {
		res.Status = StatusAlreadyProvisioned
		logger.Debug("namespace already provisioned")
		return res, nil
	}

	for _, stmt := range p.template.RenderIdentifier(ns).Statements() {
		err := persistence.InSavepoint(ctx, tx, func(sp pgx.Tx) error {
			_, err := sp.Exec(ctx, stmt)
			return err
		})
		switch {
		case err == nil:
			res.Executed++
		case errors.Is(err, persistence.ErrSavepoint), ctx.Err() != nil:
			return res, fmt.Errorf("provision %s: %w", ns, err)
		case persistence.IsAlreadyExists(err):
			res.Skipped++
		default:
			logger.Warn("provisioning statement failed", zap.String("statement", abbreviate(stmt)), zap.Error(err))
			res.Warnings = append(res.Warnings, StatementWarning{Statement: stmt, Err: err})
		}
	}

	check, err := p.Check(ctx, tx, ns)
	if err != nil {
		return res, err
	}
	res.MissingTables = check.MissingTables
	for _, table := range check.MissingTables {
		res.Warnings = append(res.Warnings, StatementWarning{
			Statement: "table " + table,
			Err:       fmt.Errorf("%s.%s: %w", ns, table, ErrTableMissing),
		})
	}

	res.Status = StatusProvisioned
	if len(res.Warnings) > 0 {
		res.Status = StatusProvisionedWithWarnings
	}
	logger.Info("namespace provisioned",
		zap.String("status", string(res.Status)),
		zap.Int("executed", res.Executed),
		zap.Int("skipped", res.Skipped),
		zap.Int("warnings", len(res.Warnings)),
	)
	return res, nil
}

// Check reports whether ns exists and which template tables it lacks.
func (p *NamespaceProvisioner) Check(ctx context.Context, q persistence.Querier, ns sqlident.Identifier) (CheckResult, error) {
	exists, err := persistence.SchemaExists(ctx, q, ns)
	if err != nil {
		return CheckResult{}, err
	}
	res := CheckResult{Exists: exists}

	for _, name := range p.template.Tables() {
		table, err := sqlident.Parse(name)
		if err != nil {
			return CheckResult{}, err
		}
		ok := false
		if exists {
			if ok, err = persistence.TableExists(ctx, q, ns, table); err != nil {
				return CheckResult{}, err
			}
		}
		if !ok {
			res.MissingTables = append(res.MissingTables, name)
		}
	}
	return res, nil
}

func abbreviate(stmt string) string {
	const max = 120
	if len(stmt) <= max {
		return stmt
	}
	return stmt[:max] + "..."
}
