package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/zenGate-Global/schoolspace/domains/migration/be/plan"
	"github.com/zenGate-Global/schoolspace/domains/migration/be/runlog"
	"github.com/zenGate-Global/schoolspace/platform/go/persistence"
	"github.com/zenGate-Global/schoolspace/platform/go/sqlident"
)

// TableOutcome is the result of copying one table into one tenant namespace.
type TableOutcome struct {
	Table       string
	Status      string
	Rows        int64
	OwnerColumn string
	Reason      string
	Err         error
	Mapping     ColumnMapping
}

// TenantDataMigrator copies the planned tables of one tenant. A returned error is
// fatal for the whole run; per-table problems are recorded on the run instead.
type TenantDataMigrator interface {
	MigrateTenant(ctx context.Context, tx pgx.Tx, t Tenant, steps []plan.Step, run *runlog.Run) error
}

var errOwnerColumnMissing = errors.New("owner column missing from source table")

// TableMigrator copies rows from the shared legacy namespace into tenant namespaces.
type TableMigrator struct {
	legacy sqlident.Identifier
	logger *zap.Logger
}

func NewTableMigrator(legacy sqlident.Identifier, logger *zap.Logger) *TableMigrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TableMigrator{legacy: legacy, logger: logger}
}

// MigrateTenant runs every step for t in order. Table failures are isolated
// in savepoints and reported as warnings. A school without a legacy id gets no data.
func (m *TableMigrator) MigrateTenant(ctx context.Context, tx pgx.Tx, t Tenant, steps []plan.Step, run *runlog.Run) error {
	space := t.Space
	if t.LegacyID <= 0 {
		run.Record(runlog.Outcome{Kind: runlog.KindTenant, Tenant: space.Code, Target: space.SchemaName.String(), Status: runlog.StatusSkipped, Detail: "no legacy id, shared data not copied"})
		run.Logf("tenant %s: no legacy id, shared data not copied", space.Code)
		return nil
	}

	var copied int64
	for _, step := range steps {
		out, err := m.MigrateTable(ctx, tx, t, step)
		if err != nil {
			return err
		}

		run.Record(runlog.Outcome{
			Kind:   runlog.KindTable,
			Tenant: space.Code,
			Target: out.Table,
			Status: out.Status,
			Rows:   out.Rows,
			Detail: out.Reason,
		})
		switch out.Status {
		case runlog.StatusWarning:
			run.Warn(fmt.Sprintf("copy %s into %s failed", out.Table, space.SchemaName), out.Err,
				zap.String("table", out.Table), zap.String("schema", space.SchemaName.String()))
		case runlog.StatusDone:
			copied += out.Rows
			if len(out.Mapping.Incompatible) > 0 {
				run.Warn(fmt.Sprintf("%s.%s: skipped incompatible columns %s",
					space.SchemaName, out.Table, strings.Join(out.Mapping.Incompatible, ", ")), nil)
			}
			if out.OwnerColumn == "" {
				run.Warn(fmt.Sprintf("%s: no owner column in source, copied unfiltered into %s", out.Table, space.SchemaName), nil)
			}
		}
	}
	run.Logf("tenant %s: copied %d rows into %s", space.Code, copied, space.SchemaName)
	return nil
}

// MigrateTable copies one table with INSERT ... SELECT, keeping destination rows that
// already exist. Rows are selected by the school's legacy id. Only the returned error
// is fatal; everything else is in the outcome.
func (m *TableMigrator) MigrateTable(ctx context.Context, tx pgx.Tx, t Tenant, step plan.Step) (TableOutcome, error) {
	out := TableOutcome{Table: step.Dest.String()}
	space := t.Space
	if !space.Routable() {
		return out, fmt.Errorf("tenant %s: %w", space.Code, persistence.ErrUnroutableSpace)
	}
	if t.LegacyID <= 0 {
		out.Status, out.Reason = runlog.StatusSkipped, "no legacy id"
		return out, nil
	}
	ns := space.SchemaName
	logger := m.logger.With(zap.String("schema", ns.String()), zap.String("table", out.Table))

	err := persistence.InSavepoint(ctx, tx, func(sp pgx.Tx) error {
		src, err := persistence.TableColumns(ctx, sp, m.legacy, step.Source)
		if err != nil {
			return err
		}
		if len(src) == 0 {
			out.Status, out.Reason = runlog.StatusSkipped, "source table absent"
			return nil
		}
		dst, err := persistence.TableColumns(ctx, sp, ns, step.Dest)
		if err != nil {
			return err
		}
		if len(dst) == 0 {
			out.Status, out.Reason = runlog.StatusSkipped, "destination table absent"
			return nil
		}
		pk, err := persistence.PrimaryKeyColumns(ctx, sp, ns, step.Dest)
		if err != nil {
			return err
		}

		out.Mapping = MapColumns(src, dst, pk)
		if out.Mapping.Empty() {
			out.Status, out.Reason = runlog.StatusSkipped, "no shared columns"
			return nil
		}
		out.OwnerColumn = ownerColumn(src, step.OwnerColumns)
		if out.OwnerColumn == "" && step.OwnerRequired {
			out.Status, out.Reason = runlog.StatusWarning, "owner column absent"
			out.Err = fmt.Errorf("%w: %s has no %s", errOwnerColumnMissing, step.Source, strings.Join(step.OwnerColumns, ", "))
			return nil
		}

		query, args := copyStatement(m.legacy, step.Source, ns, step.Dest, out.Mapping, out.OwnerColumn, t.LegacyID)
		tag, err := sp.Exec(ctx, query, args...)
		if err != nil {
			return err
		}
		out.Status, out.Rows = runlog.StatusDone, tag.RowsAffected()
		return nil
	})

	switch {
	case err == nil:
		logger.Debug("table copied", zap.String("status", out.Status), zap.Int64("rows", out.Rows))
		return out, nil
	case isFatal(ctx, err):
		return out, fmt.Errorf("copy %s into %s: %w", out.Table, ns, err)
	case persistence.IsBenign(err):
		out.Status, out.Reason, out.Err = runlog.StatusSkipped, persistence.PgCode(err), err
		logger.Debug("table copy skipped", zap.Error(err))
		return out, nil
	default:
		out.Status, out.Err = runlog.StatusWarning, err
		return out, nil
	}
}

// copyStatement builds the INSERT ... SELECT for one table. Every identifier has been
// validated; the owner value is the only bind parameter.
func copyStatement(srcSchema, srcTable, dstSchema, dstTable sqlident.Identifier, m ColumnMapping, owner string, ownerValue int64) (string, []any) {
	dst := sqlident.Qualified(dstSchema, dstTable)
	cols := m.All()

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) SELECT %s FROM %s s",
		dst, quoteColumns(cols), qualifyColumns("s", cols), sqlident.Qualified(srcSchema, srcTable))

	var (
		conds []string
		args  []any
	)
	if owner != "" {
		q := "s." + pgx.Identifier{owner}.Sanitize()
		// Compared as text so any integer or text owner column works.
		conds = append(conds, fmt.Sprintf("(%s::text = $1 OR %s IS NULL)", q, q))
		args = append(args, strconv.FormatInt(ownerValue, 10))
	}
	if len(m.Key) == 0 {
		// No conflict target: rows already present in the destination are left out.
		conds = append(conds, fmt.Sprintf("NOT EXISTS (SELECT 1 FROM %s d WHERE %s)", dst, sameRow(m)))
	}
	if len(conds) > 0 {
		b.WriteString(" WHERE " + strings.Join(conds, " AND "))
	}

	if len(m.Key) > 0 {
		fmt.Fprintf(&b, " ON CONFLICT (%s) DO NOTHING", quoteColumns(m.Key))
	} else {
		b.WriteString(" ON CONFLICT DO NOTHING")
	}
	return b.String(), args
}

// sameRow matches a destination row d against a source row s on every mapped column,
// comparing in the destination type. json has no equality operator and goes through jsonb.
func sameRow(m ColumnMapping) string {
	parts := make([]string, len(m.Columns))
	for i, c := range m.Columns {
		q := pgx.Identifier{c}.Sanitize()
		switch typ := m.Types[c]; typ {
		case "json", "jsonb":
			parts[i] = fmt.Sprintf("d.%s::jsonb IS NOT DISTINCT FROM s.%s::jsonb", q, q)
		case "":
			parts[i] = fmt.Sprintf("d.%s IS NOT DISTINCT FROM s.%s", q, q)
		default:
			parts[i] = fmt.Sprintf("d.%s IS NOT DISTINCT FROM s.%s::%s", q, q, pgx.Identifier{typ}.Sanitize())
		}
	}
	return strings.Join(parts, " AND ")
}

func quoteColumns(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}

func qualifyColumns(alias string, cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = alias + "." + pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}

// ownerColumn returns the first candidate the source table actually has.
func ownerColumn(src []persistence.Column, candidates []string) string {
	present := make(map[string]bool, len(src))
	for _, c := range src {
		present[c.Name] = true
	}
	for _, c := range candidates {
		if present[c] {
			return c
		}
	}
	return ""
}

// isFatal reports errors after which the transaction cannot continue.
func isFatal(ctx context.Context, err error) bool {
	return errors.Is(err, persistence.ErrSavepoint) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		ctx.Err() != nil
}
