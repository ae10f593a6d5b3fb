package persistence

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

func pgErr(code string) error {
	return fmt.Errorf("exec: %w", &pgconn.PgError{Code: code, Message: "test"})
}

func TestClassification(t *testing.T) {
	for _, code := range []string{"42P06", "42P07", "42710", "42723", "42701", "23505"} {
		require.True(t, IsAlreadyExists(pgErr(code)), code)
		require.True(t, IsBenign(pgErr(code)), code)
	}
	for _, code := range []string{"42P01", "42703", "3F000"} {
		require.True(t, IsUndefined(pgErr(code)), code)
		require.True(t, IsBenign(pgErr(code)), code)
	}

	require.True(t, IsUniqueViolation(pgErr("23505")))
	require.False(t, IsUniqueViolation(pgErr("23503")))

	for _, err := range []error{pgErr("42601"), pgErr("22001"), errors.New("plain"), nil} {
		require.False(t, IsBenign(err))
	}
	require.Equal(t, "", PgCode(errors.New("plain")))
}
