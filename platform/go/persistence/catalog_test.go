package persistence

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"

	"github.com/zenGate-Global/schoolspace/platform/go/persistence/pgtest"
	"github.com/zenGate-Global/schoolspace/platform/go/sqlident"
)

func TestCatalogLookups(t *testing.T) {
	pool := pgtest.NewPool(t, 2)
	ctx := context.Background()

	_, err := pool.Exec(ctx, `
		CREATE SCHEMA legacy;
		CREATE TABLE legacy.grades (
			student_id BIGINT NOT NULL,
			term       VARCHAR(12) NOT NULL,
			score      NUMERIC(6,2),
			id         BIGSERIAL,
			PRIMARY KEY (term, student_id)
		);`)
	require.NoError(t, err)

	legacy := sqlident.MustParse("legacy")
	grades := sqlident.MustParse("grades")

	ok, err := SchemaExists(ctx, pool, legacy)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = SchemaExists(ctx, pool, sqlident.MustParse("nope"))
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = TableExists(ctx, pool, legacy, grades)
	require.NoError(t, err)
	require.True(t, ok)

	cols, err := TableColumns(ctx, pool, legacy, grades)
	require.NoError(t, err)
	require.Len(t, cols, 4)
	require.Equal(t, "student_id", cols[0].Name)
	require.Equal(t, "term", cols[1].Name)
	require.Equal(t, "character varying", cols[1].DataType)
	require.EqualValues(t, 12, *cols[1].CharMaxLength)
	require.Equal(t, "numeric", cols[2].DataType)
	require.EqualValues(t, 6, *cols[2].NumericPrecision)
	require.EqualValues(t, 2, *cols[2].NumericScale)

	pk, err := PrimaryKeyColumns(ctx, pool, legacy, grades)
	require.NoError(t, err)
	require.Equal(t, []string{"term", "student_id"}, pk)

	seq, err := SerialSequence(ctx, pool, legacy, grades, "id")
	require.NoError(t, err)
	require.Equal(t, "legacy.grades_id_seq", seq)

	seq, err = SerialSequence(ctx, pool, legacy, grades, "term")
	require.NoError(t, err)
	require.Empty(t, seq)

	missing, err := TableColumns(ctx, pool, legacy, sqlident.MustParse("absent"))
	require.NoError(t, err)
	require.Empty(t, missing)
}

func TestInSavepointKeepsTransactionUsable(t *testing.T) {
	pool := pgtest.NewPool(t, 1)
	ctx := context.Background()

	_, err := pool.Exec(ctx, `CREATE TABLE notes (id INT PRIMARY KEY)`)
	require.NoError(t, err)

	tx, err := pool.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback(ctx) // nolint:errcheck

	require.NoError(t, InSavepoint(ctx, tx, func(sp pgx.Tx) error {
		_, err := sp.Exec(ctx, `INSERT INTO notes VALUES (1)`)
		return err
	}))

	err = InSavepoint(ctx, tx, func(sp pgx.Tx) error {
		_, err := sp.Exec(ctx, `INSERT INTO notes VALUES (1)`)
		return err
	})
	require.True(t, IsUniqueViolation(err))
	require.False(t, errors.Is(err, ErrSavepoint))

	_, err = tx.Exec(ctx, `INSERT INTO notes VALUES (2)`)
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	var n int
	require.NoError(t, pool.QueryRow(ctx, `SELECT count(*) FROM notes`).Scan(&n))
	require.Equal(t, 2, n)
}
