package persistence

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/zenGate-Global/schoolspace/platform/go/sqlident"
	"github.com/zenGate-Global/schoolspace/platform/go/tenant"
)

// Directory resolves principals against the unified user directory in the platform schema.
type Directory struct {
	db    *TenantDB
	query string
}

func NewDirectory(db *TenantDB) *Directory {
	if db == nil {
		panic("directory requires tenant db")
	}

	// The user's own school wins over memberships; schools that already own a
	// namespace win over those that do not.
	query := fmt.Sprintf(`
		SELECT u.id, u.is_active, s.id, s.code, s.schema_name, s.status
		FROM %[1]s.users u
		LEFT JOIN LATERAL (
			SELECT c.id, c.code, c.schema_name, c.status
			FROM (
				SELECT sc.id, sc.code, sc.schema_name, sc.status, 0 AS pref, sc.created_at AS linked_at
				FROM %[1]s.schools sc
				WHERE sc.id = u.school_id
				UNION ALL
				SELECT sc.id, sc.code, sc.schema_name, sc.status, 1, us.created_at
				FROM %[1]s.user_schools us
				JOIN %[1]s.schools sc ON sc.id = us.school_id
				WHERE us.user_id = u.id
			) c
			ORDER BY c.schema_name IS NULL, c.pref, c.linked_at, c.id
			LIMIT 1
		) s ON TRUE
		WHERE ($1::bigint > 0 AND u.id = $1) OR ($1::bigint <= 0 AND lower(u.email) = lower($2))
		LIMIT 1`, db.PlatformSchema().Quoted())

	return &Directory{db: db, query: query}
}

// LookupMembership implements tenant.Directory.
func (d *Directory) LookupMembership(ctx context.Context, principal tenant.Principal) (tenant.Membership, error) {
	var (
		m          tenant.Membership
		schoolID   *int64
		code       *string
		schemaName *string
		status     *string
	)

	err := d.db.WithPlatform(ctx, func(tx pgx.Tx) error {
		return tx.QueryRow(ctx, d.query, principal.UserID, strings.TrimSpace(principal.Email)).
			Scan(&m.UserID, &m.UserActive, &schoolID, &code, &schemaName, &status)
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return tenant.Membership{}, tenant.ErrUnknownPrincipal
	}
	if err != nil {
		return tenant.Membership{}, fmt.Errorf("lookup principal: %w", err)
	}

	if schoolID == nil || schemaName == nil {
		return m, nil
	}

	ns, err := sqlident.Parse(*schemaName)
	if err != nil {
		return tenant.Membership{}, fmt.Errorf("school %d: stored namespace: %w", *schoolID, err)
	}
	m.Space = &tenant.Space{TenantID: *schoolID, Code: *code, SchemaName: ns, Status: *status}
	return m, nil
}

var _ tenant.Directory = (*Directory)(nil)
