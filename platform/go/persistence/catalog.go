package persistence

import (
	"context"
	"fmt"

	"github.com/zenGate-Global/schoolspace/platform/go/sqlident"
)

// Column is one row of information_schema.columns.
type Column struct {
	Name             string
	DataType         string
	UDTName          string
	CharMaxLength    *int32
	NumericPrecision *int32
	NumericScale     *int32
	Nullable         bool
}

// SchemaExists checks pg_namespace for the schema.
func SchemaExists(ctx context.Context, q Querier, schema sqlident.Identifier) (bool, error) {
	var exists bool
	if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM pg_namespace WHERE nspname = $1)`, schema.String()).Scan(&exists); err != nil {
		return false, fmt.Errorf("check schema %s: %w", schema, err)
	}
	return exists, nil
}

// TableExists checks pg_class for an ordinary or partitioned table.
func TableExists(ctx context.Context, q Querier, schema, table sqlident.Identifier) (bool, error) {
	var exists bool
	if err := q.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM pg_class c
			JOIN pg_namespace n ON n.oid = c.relnamespace
			WHERE n.nspname = $1 AND c.relname = $2 AND c.relkind IN ('r', 'p')
		)`, schema.String(), table.String()).Scan(&exists); err != nil {
		return false, fmt.Errorf("check table %s.%s: %w", schema, table, err)
	}
	return exists, nil
}

// TableColumns lists the table's columns in declaration order. A missing table yields no columns.
func TableColumns(ctx context.Context, q Querier, schema, table sqlident.Identifier) ([]Column, error) {
	rows, err := q.Query(ctx, `
		SELECT column_name::text, data_type::text, udt_name::text,
		       character_maximum_length::int, numeric_precision::int, numeric_scale::int,
		       is_nullable = 'YES'
		FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position`, schema.String(), table.String())
	if err != nil {
		return nil, fmt.Errorf("list columns %s.%s: %w", schema, table, err)
	}
	defer rows.Close()

	var cols []Column
	for rows.Next() {
		var c Column
		if err := rows.Scan(&c.Name, &c.DataType, &c.UDTName, &c.CharMaxLength, &c.NumericPrecision, &c.NumericScale, &c.Nullable); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		cols = append(cols, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate columns %s.%s: %w", schema, table, err)
	}
	return cols, nil
}

// PrimaryKeyColumns returns the primary key columns in key order.
func PrimaryKeyColumns(ctx context.Context, q Querier, schema, table sqlident.Identifier) ([]string, error) {
	rows, err := q.Query(ctx, `
		SELECT a.attname::text
		FROM pg_index i
		JOIN pg_class c ON c.oid = i.indrelid
		JOIN pg_namespace n ON n.oid = c.relnamespace
		JOIN pg_attribute a ON a.attrelid = c.oid AND a.attnum = ANY (i.indkey)
		WHERE i.indisprimary AND n.nspname = $1 AND c.relname = $2
		ORDER BY array_position(i.indkey::int2[], a.attnum)`, schema.String(), table.String())
	if err != nil {
		return nil, fmt.Errorf("list primary key %s.%s: %w", schema, table, err)
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan primary key column: %w", err)
		}
		cols = append(cols, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate primary key %s.%s: %w", schema, table, err)
	}
	return cols, nil
}

// SerialSequence returns the sequence owned by schema.table.column, or "" when the
// column is not backed by a sequence.
func SerialSequence(ctx context.Context, q Querier, schema, table sqlident.Identifier, column string) (string, error) {
	var seq *string
	if err := q.QueryRow(ctx, `SELECT pg_get_serial_sequence($1, $2)`, sqlident.Qualified(schema, table), column).Scan(&seq); err != nil {
		return "", fmt.Errorf("lookup sequence %s.%s.%s: %w", schema, table, column, err)
	}
	if seq == nil {
		return "", nil
	}
	return *seq, nil
}
