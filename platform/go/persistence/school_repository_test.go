package persistence

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zenGate-Global/schoolspace/platform/go/persistence/pgtest"
	"github.com/zenGate-Global/schoolspace/platform/go/sqlident"
)

func strPtr(s string) *string { return &s }

func TestSchoolStoreLifecycle(t *testing.T) {
	pool := pgtest.NewPool(t, 2)
	ctx := context.Background()
	platform := sqlident.MustParse("platform")
	require.NoError(t, BootstrapPlatformSchema(ctx, pool, platform))
	// Bootstrapping twice is harmless.
	require.NoError(t, BootstrapPlatformSchema(ctx, pool, platform))

	store := NewSchoolStore(platform)

	created, err := store.Upsert(ctx, pool, SchoolRecord{ID: 40, Code: "ACME", Name: strPtr("Acme High")})
	require.NoError(t, err)
	require.Equal(t, int64(40), created.ID)
	require.Nil(t, created.SchemaName)
	require.Equal(t, "active", created.Status)

	// A second upsert fills the NULL namespace but keeps the existing name.
	updated, err := store.Upsert(ctx, pool, SchoolRecord{Code: "ACME", Name: strPtr("Renamed"), SchemaName: strPtr("school_acme")})
	require.NoError(t, err)
	require.Equal(t, int64(40), updated.ID)
	require.Equal(t, "Acme High", *updated.Name)
	require.Equal(t, "school_acme", *updated.SchemaName)

	// An assigned namespace is never replaced by an upsert.
	again, err := store.Upsert(ctx, pool, SchoolRecord{Code: "ACME", SchemaName: strPtr("school_other")})
	require.NoError(t, err)
	require.Equal(t, "school_acme", *again.SchemaName)

	ns, err := again.Namespace()
	require.NoError(t, err)
	require.Equal(t, "school_acme", ns.String())

	fetched, err := store.GetByCode(ctx, pool, " ACME ")
	require.NoError(t, err)
	require.Equal(t, created.ID, fetched.ID)

	_, err = store.GetByCode(ctx, pool, "missing")
	require.ErrorIs(t, err, ErrNotFound)

	all, err := store.List(ctx, pool)
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestSchoolStoreAssignSchemaIsImmutable(t *testing.T) {
	pool := pgtest.NewPool(t, 2)
	ctx := context.Background()
	platform := sqlident.MustParse("platform")
	require.NoError(t, BootstrapPlatformSchema(ctx, pool, platform))
	store := NewSchoolStore(platform)

	rec, err := store.Upsert(ctx, pool, SchoolRecord{Code: "BETA"})
	require.NoError(t, err)

	assigned, err := store.AssignSchema(ctx, pool, rec.ID, sqlident.MustParse("school_beta"))
	require.NoError(t, err)
	require.Equal(t, "school_beta", *assigned.SchemaName)

	_, err = store.AssignSchema(ctx, pool, rec.ID, sqlident.MustParse("school_beta"))
	require.NoError(t, err)

	_, err = store.AssignSchema(ctx, pool, rec.ID, sqlident.MustParse("school_gamma"))
	require.ErrorIs(t, err, ErrSchemaImmutable)

	_, err = store.AssignSchema(ctx, pool, 9999, sqlident.MustParse("school_x"))
	require.ErrorIs(t, err, ErrNotFound)

	// The trigger guards direct updates too.
	_, err = pool.Exec(ctx, `UPDATE platform.schools SET schema_name = 'school_gamma' WHERE id = $1`, rec.ID)
	require.Error(t, err)
	require.Contains(t, err.Error(), "immutable")
}
