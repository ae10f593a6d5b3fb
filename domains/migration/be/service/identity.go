package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/zenGate-Global/schoolspace/domains/migration/be/runlog"
	"github.com/zenGate-Global/schoolspace/platform/go/credentials"
	"github.com/zenGate-Global/schoolspace/platform/go/persistence"
	"github.com/zenGate-Global/schoolspace/platform/go/sqlident"
)

// OrphanPolicy decides where a legacy user without a known school ends up.
type OrphanPolicy string

const (
	// OrphanFirstTenant links orphans to the lowest-id school.
	OrphanFirstTenant OrphanPolicy = "first-tenant"
	// OrphanUnassigned keeps orphans in the directory without a school.
	OrphanUnassigned OrphanPolicy = "unassigned"
)

// ErrUnknownOrphanPolicy is returned for an unrecognised policy value.
var ErrUnknownOrphanPolicy = errors.New("unknown orphan policy")

// ParseOrphanPolicy accepts "first-tenant" (also the default for "") and "unassigned".
func ParseOrphanPolicy(v string) (OrphanPolicy, error) {
	switch OrphanPolicy(strings.ToLower(strings.TrimSpace(v))) {
	case "", OrphanFirstTenant:
		return OrphanFirstTenant, nil
	case OrphanUnassigned:
		return OrphanUnassigned, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownOrphanPolicy, v)
}

const defaultUserRole = "member"

var errMissingEmail = errors.New("legacy user has no email")

// UserSummary counts what MigrateUsers did.
type UserSummary struct {
	Migrated int
	Warnings int
	Orphans  int
}

// IdentityUnifier merges legacy user rows into the platform user directory.
// Existing directory fields are never overwritten, only filled when empty.
type IdentityUnifier struct {
	legacy      sqlident.Identifier
	legacyTable sqlident.Identifier
	platform    sqlident.Identifier
	hasher      credentials.Hasher
	policy      OrphanPolicy
}

func NewIdentityUnifier(legacy, legacyTable, platform sqlident.Identifier, hasher credentials.Hasher, policy OrphanPolicy) *IdentityUnifier {
	if policy == "" {
		policy = OrphanFirstTenant
	}
	return &IdentityUnifier{legacy: legacy, legacyTable: legacyTable, platform: platform, hasher: hasher, policy: policy}
}

// MigrateUsers merges every legacy user that has no populated credential in the
// directory yet. Each user runs in its own savepoint; failures become warnings.
func (u *IdentityUnifier) MigrateUsers(ctx context.Context, tx pgx.Tx, tenants []Tenant, run *runlog.Run) (UserSummary, error) {
	var sum UserSummary

	exists, err := persistence.TableExists(ctx, tx, u.legacy, u.legacyTable)
	if err != nil {
		return sum, err
	}
	if !exists {
		run.Logf("no legacy user table %s, nothing to unify", sqlident.Qualified(u.legacy, u.legacyTable))
		return sum, nil
	}

	rows, err := readRows(ctx, tx, u.pendingQuery())
	if err != nil {
		return sum, fmt.Errorf("read legacy users: %w", err)
	}
	sort.SliceStable(rows, func(i, j int) bool {
		a, _ := rows[i].int("id")
		b, _ := rows[j].int("id")
		return a < b
	})

	// Legacy school ids to registry ids.
	known := make(map[int64]int64, len(tenants))
	for _, t := range tenants {
		if t.LegacyID > 0 {
			known[t.LegacyID] = t.TenantID
		}
	}

	for _, row := range rows {
		email := strings.ToLower(row.str("email"))
		school, orphan := u.school(row, tenants, known)
		if orphan != "" {
			sum.Orphans++
			run.Warn(orphan, nil, zap.String("email", email))
		}

		err := persistence.InSavepoint(ctx, tx, func(sp pgx.Tx) error {
			return u.merge(ctx, sp, row, email, school)
		})
		if isFatal(ctx, err) {
			return sum, fmt.Errorf("migrate user %s: %w", email, err)
		}
		if err != nil {
			sum.Warnings++
			run.Warn(fmt.Sprintf("migrate user %s", email), err)
			run.Record(runlog.Outcome{Kind: runlog.KindUser, Target: email, Status: runlog.StatusWarning, Detail: err.Error()})
			continue
		}
		sum.Migrated++
		run.Record(runlog.Outcome{Kind: runlog.KindUser, Target: email, Status: runlog.StatusDone})
	}

	run.Logf("users: %d migrated, %d warnings, %d orphans", sum.Migrated, sum.Warnings, sum.Orphans)
	return sum, nil
}

// pendingQuery selects legacy users whose directory counterpart, matched by id or
// case-insensitive email, has no credential yet.
func (u *IdentityUnifier) pendingQuery() string {
	return fmt.Sprintf(`
		SELECT to_jsonb(l) FROM %s l
		WHERE NOT EXISTS (
			SELECT 1 FROM %s d
			WHERE COALESCE(d.password_hash, '') <> ''
			  AND (d.id::text = to_jsonb(l)->>'id' OR lower(d.email) = lower(to_jsonb(l)->>'email'))
		)`, sqlident.Qualified(u.legacy, u.legacyTable), u.table("users"))
}

// school resolves the registry id of the user's legacy school. The second return value
// is a warning message when the orphan policy had to be applied.
func (u *IdentityUnifier) school(row legacyRow, tenants []Tenant, known map[int64]int64) (*int64, string) {
	id, ok := row.int("school_id", "tenant_id")
	if registered, found := known[id]; ok && found {
		return &registered, ""
	}

	reason := "has no school"
	if ok {
		reason = fmt.Sprintf("links unknown school %d", id)
	}
	if u.policy == OrphanFirstTenant && len(tenants) > 0 {
		first := tenants[0].TenantID
		return &first, fmt.Sprintf("legacy user %s, assigned to school %s", reason, tenants[0].Code)
	}
	return nil, fmt.Sprintf("legacy user %s, left unassigned", reason)
}

func (u *IdentityUnifier) merge(ctx context.Context, q pgx.Tx, row legacyRow, email string, school *int64) error {
	if email == "" {
		return errMissingEmail
	}
	hash, err := u.hasher.Normalize(row.str("password_hash", "password"))
	if err != nil {
		return err
	}
	name := optional(fullName(row))
	role := row.str("role")
	if role == "" {
		role = defaultUserRole
	}

	var (
		userID   int64
		schoolID *int64
	)
	update := fmt.Sprintf(`
		UPDATE %s SET
			full_name = COALESCE(full_name, $2),
			password_hash = COALESCE(NULLIF(password_hash, ''), $3),
			school_id = COALESCE(school_id, $4),
			is_active = TRUE,
			updated_at = now()
		WHERE lower(email) = $1
		RETURNING id, school_id`, u.table("users"))
	err = q.QueryRow(ctx, update, email, name, hash, school).Scan(&userID, &schoolID)
	if errors.Is(err, pgx.ErrNoRows) {
		userID, schoolID, err = u.insert(ctx, q, row, email, name, hash, school, role)
	}
	if err != nil {
		return err
	}

	if schoolID == nil {
		return nil
	}
	link := fmt.Sprintf(`INSERT INTO %s (user_id, school_id, role) VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`, u.table("user_schools"))
	_, err = q.Exec(ctx, link, userID, *schoolID, role)
	return err
}

// insert adds a user the directory does not know by email. A legacy id is kept; if it
// is already taken only the empty fields of that row are filled.
func (u *IdentityUnifier) insert(ctx context.Context, q pgx.Tx, row legacyRow, email string, name, hash *string, school *int64, role string) (int64, *int64, error) {
	var (
		userID   int64
		schoolID *int64
	)
	id, ok := row.int("id")
	if !ok || id <= 0 {
		query := fmt.Sprintf(`
			INSERT INTO %s (email, full_name, password_hash, school_id, role)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id, school_id`, u.table("users"))
		err := q.QueryRow(ctx, query, email, name, hash, school, role).Scan(&userID, &schoolID)
		return userID, schoolID, err
	}

	query := fmt.Sprintf(`
		INSERT INTO %s AS d (id, email, full_name, password_hash, school_id, role)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			full_name = COALESCE(d.full_name, EXCLUDED.full_name),
			password_hash = COALESCE(NULLIF(d.password_hash, ''), EXCLUDED.password_hash),
			school_id = COALESCE(d.school_id, EXCLUDED.school_id),
			is_active = TRUE,
			updated_at = now()
		RETURNING id, school_id`, u.table("users"))
	err := q.QueryRow(ctx, query, id, email, name, hash, school, role).Scan(&userID, &schoolID)
	return userID, schoolID, err
}

func (u *IdentityUnifier) table(name string) string {
	return sqlident.Qualified(u.platform, sqlident.MustParse(name))
}

// fullName prefers full_name, then name, then first and last name joined.
func fullName(row legacyRow) string {
	if n := row.str("full_name", "name"); n != "" {
		return n
	}
	return strings.TrimSpace(row.str("first_name") + " " + row.str("last_name"))
}
