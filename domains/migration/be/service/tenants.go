package service

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/zenGate-Global/schoolspace/domains/migration/be/runlog"
	"github.com/zenGate-Global/schoolspace/platform/go/persistence"
	"github.com/zenGate-Global/schoolspace/platform/go/sqlident"
	"github.com/zenGate-Global/schoolspace/platform/go/tenant"
)

// Tenant is a registered school and the id its rows carry in the shared tables.
type Tenant struct {
	tenant.Space
	// LegacyID is the owner value of the school's shared rows. Zero means no legacy
	// row maps onto this school and none of its shared data is copied.
	LegacyID int64
}

// TenantRegistrar copies legacy tenant rows into the platform registry and assigns
// every school its namespace.
type TenantRegistrar struct {
	legacy       sqlident.Identifier
	legacyTable  sqlident.Identifier
	platform     sqlident.Identifier
	schools      *persistence.SchoolStore
	schemaPrefix string
}

func NewTenantRegistrar(legacy, legacyTable, platform sqlident.Identifier, schools *persistence.SchoolStore, schemaPrefix string) *TenantRegistrar {
	return &TenantRegistrar{legacy: legacy, legacyTable: legacyTable, platform: platform, schools: schools, schemaPrefix: schemaPrefix}
}

// MigrateTenants upserts legacy tenants, then returns every registered school with a
// namespace, ordered by id. A malformed stored namespace is fatal.
//
// Without a legacy tenant table the registry ids are what the shared rows reference.
// Otherwise a school only gets a LegacyID when its registry id equals the id of its
// legacy row.
func (r *TenantRegistrar) MigrateTenants(ctx context.Context, tx pgx.Tx, run *runlog.Run) ([]Tenant, error) {
	legacyIDs, fromLegacy, err := r.importLegacy(ctx, tx, run)
	if err != nil {
		return nil, err
	}

	records, err := r.schools.List(ctx, tx)
	if err != nil {
		return nil, err
	}

	tenants := make([]Tenant, 0, len(records))
	for _, rec := range records {
		if rec.SchemaName == nil {
			rec, err = r.assign(ctx, tx, rec, run)
			if err != nil {
				return nil, err
			}
			if rec.SchemaName == nil {
				continue
			}
		}
		ns, err := rec.Namespace()
		if err != nil {
			return nil, fmt.Errorf("school %s: %w", rec.Code, err)
		}
		t := Tenant{Space: tenant.Space{TenantID: rec.ID, Code: rec.Code, SchemaName: ns, Status: rec.Status}, LegacyID: rec.ID}
		if fromLegacy {
			t.LegacyID = legacyIDs[rec.ID]
		}
		tenants = append(tenants, t)
	}
	sort.Slice(tenants, func(i, j int) bool { return tenants[i].TenantID < tenants[j].TenantID })

	run.Logf("%d tenants registered", len(tenants))
	return tenants, nil
}

// importLegacy upserts the legacy tenant rows and returns registry id -> legacy id for
// every school whose registry id matches its legacy id. The boolean reports whether
// the legacy table exists.
func (r *TenantRegistrar) importLegacy(ctx context.Context, tx pgx.Tx, run *runlog.Run) (map[int64]int64, bool, error) {
	exists, err := persistence.TableExists(ctx, tx, r.legacy, r.legacyTable)
	if err != nil {
		return nil, false, err
	}
	if !exists {
		run.Logf("no legacy tenant table %s, using registered schools only", sqlident.Qualified(r.legacy, r.legacyTable))
		return nil, false, nil
	}

	rows, err := readRows(ctx, tx, fmt.Sprintf(`SELECT to_jsonb(l) FROM %s l`, sqlident.Qualified(r.legacy, r.legacyTable)))
	if err != nil {
		return nil, true, fmt.Errorf("read legacy tenants: %w", err)
	}
	sortLegacyTenants(rows)

	legacyIDs := make(map[int64]int64, len(rows))
	identitySynced := false
	for _, row := range rows {
		rec, ns, err := r.legacySchool(row)
		if err != nil {
			run.Warn("skip legacy tenant", err, zap.Any("id", row["id"]))
			run.Record(runlog.Outcome{Kind: runlog.KindTenant, Target: row.str("id"), Status: runlog.StatusWarning, Detail: err.Error()})
			continue
		}

		// Rows with an id come first, so the identity only has to move once.
		if rec.ID == 0 && !identitySynced {
			if _, err := ResyncSequences(ctx, tx, r.platform, []string{"schools"}, run.Logger()); err != nil {
				return nil, true, err
			}
			identitySynced = true
		}

		var saved persistence.SchoolRecord
		err = persistence.InSavepoint(ctx, tx, func(sp pgx.Tx) error {
			saved, err = r.schools.Upsert(ctx, sp, rec)
			return err
		})
		if isFatal(ctx, err) {
			return nil, true, fmt.Errorf("register tenant %s: %w", rec.Code, err)
		}
		if err != nil {
			run.Warn(fmt.Sprintf("register tenant %s", rec.Code), err)
			run.Record(runlog.Outcome{Kind: runlog.KindTenant, Tenant: rec.Code, Status: runlog.StatusWarning, Detail: err.Error()})
			continue
		}

		status, detail := runlog.StatusDone, ""
		if saved.SchemaName != nil && *saved.SchemaName != ns.String() {
			detail = "kept existing namespace " + *saved.SchemaName
		}
		switch {
		case rec.ID == 0:
			status, detail = runlog.StatusWarning, "legacy row has no id, shared data and users not migrated"
			run.Warn(fmt.Sprintf("tenant %s: %s", saved.Code, detail), nil)
		case saved.ID != rec.ID:
			status = runlog.StatusWarning
			detail = fmt.Sprintf("registered as school %d but legacy id is %d, shared data and users not migrated", saved.ID, rec.ID)
			run.Warn(fmt.Sprintf("tenant %s: %s", saved.Code, detail), nil)
		default:
			legacyIDs[saved.ID] = rec.ID
		}
		run.Record(runlog.Outcome{Kind: runlog.KindTenant, Tenant: saved.Code, Target: derefOr(saved.SchemaName, ""), Status: status, Detail: detail})
	}
	return legacyIDs, true, nil
}

// sortLegacyTenants orders rows by id, rows without an id last in table order.
func sortLegacyTenants(rows []legacyRow) {
	sort.SliceStable(rows, func(i, j int) bool {
		a, okA := rows[i].int("id")
		b, okB := rows[j].int("id")
		okA, okB = okA && a > 0, okB && b > 0
		if okA != okB {
			return okA
		}
		return a < b
	})
}

// legacySchool maps a legacy tenant row. The code falls back to slug then name.
func (r *TenantRegistrar) legacySchool(row legacyRow) (persistence.SchoolRecord, sqlident.Identifier, error) {
	code := row.str("code", "slug", "name")
	ns, err := tenant.BuildSchemaName(r.schemaPrefix, code)
	if err != nil {
		return persistence.SchoolRecord{}, sqlident.Identifier{}, err
	}
	name := ns.String()
	rec := persistence.SchoolRecord{
		Code:       code,
		Name:       optional(row.str("name")),
		SchemaName: &name,
		Status:     legacyStatus(row),
	}
	if id, ok := row.int("id"); ok && id > 0 {
		rec.ID = id
	}
	return rec, ns, nil
}

// assign gives a school without a namespace its derived one. Failures are warnings and
// leave the school out of this run.
func (r *TenantRegistrar) assign(ctx context.Context, tx pgx.Tx, rec persistence.SchoolRecord, run *runlog.Run) (persistence.SchoolRecord, error) {
	ns, err := tenant.BuildSchemaName(r.schemaPrefix, rec.Code)
	if err != nil {
		run.Warn(fmt.Sprintf("school %s has no usable code for a namespace", rec.Code), err)
		return rec, nil
	}

	var saved persistence.SchoolRecord
	err = persistence.InSavepoint(ctx, tx, func(sp pgx.Tx) error {
		saved, err = r.schools.AssignSchema(ctx, sp, rec.ID, ns)
		return err
	})
	switch {
	case err == nil:
		return saved, nil
	case isFatal(ctx, err):
		return rec, fmt.Errorf("assign namespace to %s: %w", rec.Code, err)
	default:
		run.Warn(fmt.Sprintf("assign namespace %s to school %s", ns, rec.Code), err)
		return rec, nil
	}
}

func legacyStatus(row legacyRow) string {
	switch s := strings.ToLower(row.str("status")); s {
	case tenant.StatusActive, tenant.StatusInactive, tenant.StatusSuspended:
		return s
	case "disabled", "archived":
		return tenant.StatusInactive
	}
	if active, ok := row.boolean("is_active"); ok && !active {
		return tenant.StatusInactive
	}
	return tenant.StatusActive
}

func derefOr(s *string, fallback string) string {
	if s == nil {
		return fallback
	}
	return *s
}
