package persistence

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	sqlassets "github.com/zenGate-Global/schoolspace/database"
	"github.com/zenGate-Global/schoolspace/platform/go/schematemplate"
	"github.com/zenGate-Global/schoolspace/platform/go/sqlident"
)

// PlatformTables lists the platform tables whose identity counters the migration repairs.
var PlatformTables = []string{"schools", "users"}

// BootstrapPlatformSchema creates the platform schema (if missing) and applies the
// platform DDL in a single transaction. The helper is idempotent and intended for the
// CLI bootstrap command and tests.
func BootstrapPlatformSchema(ctx context.Context, pool *pgxpool.Pool, schema sqlident.Identifier) error {
	if pool == nil {
		return fmt.Errorf("bootstrap platform schema: pool is required")
	}

	tx, err := pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if err := ApplyPlatformSchema(ctx, tx, schema); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// ApplyPlatformSchema executes the embedded platform DDL on q, typically inside the
// migration transaction. SQL is embedded at build time so binaries stay self-contained.
func ApplyPlatformSchema(ctx context.Context, q Querier, schema sqlident.Identifier) error {
	if schema.IsZero() {
		return fmt.Errorf("bootstrap platform schema: schema is required")
	}

	tpl, err := schematemplate.Parse("embedded:platform/platform.sql", []byte(sqlassets.PlatformSQL))
	if err != nil {
		return fmt.Errorf("parse platform ddl: %w", err)
	}

	for _, stmt := range tpl.RenderIdentifier(schema).Statements() {
		if _, err := q.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply platform ddl: %w", err)
		}
	}
	return nil
}
