package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zenGate-Global/schoolspace/platform/go/sqlident"
	"github.com/zenGate-Global/schoolspace/platform/go/tenant"
)

// ErrUnroutableSpace is returned when a scoped call is made without a resolved namespace.
var ErrUnroutableSpace = errors.New("tenant space has no namespace")

const rollbackTimeout = 5 * time.Second

type txBeginner interface {
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// TenantDB wraps a pgx pool to execute queries within a tenant-specific search_path.
//
// Every call checks out a connection, opens a transaction and sets search_path
// with set_config(..., true). The setting is transaction-local, so it is asserted
// again on every checkout and disappears on commit or rollback; a connection is never
// returned to the pool scoped to a tenant. pgxpool discards connections whose
// transaction did not finish cleanly.
type TenantDB struct {
	pool           txBeginner
	platformSchema sqlident.Identifier
}

type TenantDBConfig struct {
	Pool           *pgxpool.Pool
	PlatformSchema sqlident.Identifier
}

func NewTenantDB(cfg TenantDBConfig) *TenantDB {
	if cfg.Pool == nil {
		panic("TenantDB requires pool")
	}
	if cfg.PlatformSchema.IsZero() {
		panic("TenantDB requires platform schema")
	}
	return &TenantDB{pool: cfg.Pool, platformSchema: cfg.PlatformSchema}
}

// PlatformSchema is the shared namespace appended to every tenant search_path.
func (db *TenantDB) PlatformSchema() sqlident.Identifier {
	return db.platformSchema
}

// WithPlatform executes fn inside a transaction scoped to the platform schema only.
func (db *TenantDB) WithPlatform(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return db.run(ctx, db.platformSchema.Quoted(), fn)
}

// WithScope executes fn inside a transaction whose unqualified table references
// resolve against the tenant namespace first and the platform schema second.
func (db *TenantDB) WithScope(ctx context.Context, space tenant.Space, fn func(tx pgx.Tx) error) error {
	if space.SchemaName.IsZero() {
		return ErrUnroutableSpace
	}
	return db.run(ctx, SearchPath(space.SchemaName, db.platformSchema), fn)
}

// WithContextScope is WithScope for the Space attached to ctx by the tenant middleware.
func (db *TenantDB) WithContextScope(ctx context.Context, fn func(tx pgx.Tx) error) error {
	space, ok := tenant.FromContext(ctx)
	if !ok {
		return tenant.ErrMissingTenantContext
	}
	return db.WithScope(ctx, space, fn)
}

func (db *TenantDB) run(ctx context.Context, searchPath string, fn func(tx pgx.Tx) error) error {
	tx, err := db.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		// A cancelled ctx must not prevent the rollback from reaching the server.
		rbCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
		defer cancel()
		_ = tx.Rollback(rbCtx)
	}()

	if _, err := tx.Exec(ctx, `SELECT set_config('search_path', $1, true)`, searchPath); err != nil {
		return fmt.Errorf("set search_path: %w", err)
	}

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// SearchPath renders a search_path value from validated identifiers.
func SearchPath(schemas ...sqlident.Identifier) string {
	return sqlident.QuotedList(schemas)
}

// SetLocalSearchPath scopes an already open transaction, e.g. the migration transaction.
func SetLocalSearchPath(ctx context.Context, q Querier, schemas ...sqlident.Identifier) error {
	if _, err := q.Exec(ctx, `SELECT set_config('search_path', $1, true)`, SearchPath(schemas...)); err != nil {
		return fmt.Errorf("set search_path: %w", err)
	}
	return nil
}
