package persistence

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// SQLSTATE codes the migration engine classifies.
const (
	codeUniqueViolation   = "23505"
	codeDuplicateSchema   = "42P06"
	codeDuplicateTable    = "42P07"
	codeDuplicateObject   = "42710"
	codeDuplicateFunction = "42723"
	codeDuplicateColumn   = "42701"
	codeUndefinedTable    = "42P01"
	codeUndefinedColumn   = "42703"
	codeInvalidSchemaName = "3F000"
)

// PgCode returns the SQLSTATE of err, or "" when err did not come from the server.
func PgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// IsAlreadyExists reports "object already exists" and duplicate-key failures.
// Both are expected when DDL or seed data is applied a second time.
func IsAlreadyExists(err error) bool {
	switch PgCode(err) {
	case codeDuplicateSchema, codeDuplicateTable, codeDuplicateObject,
		codeDuplicateFunction, codeDuplicateColumn, codeUniqueViolation:
		return true
	}
	return false
}

// IsUndefined reports a missing table, column or schema.
func IsUndefined(err error) bool {
	switch PgCode(err) {
	case codeUndefinedTable, codeUndefinedColumn, codeInvalidSchemaName:
		return true
	}
	return false
}

// IsUniqueViolation reports a duplicate key.
func IsUniqueViolation(err error) bool {
	return PgCode(err) == codeUniqueViolation
}

// IsBenign reports failures the migration treats as expected rather than as warnings.
func IsBenign(err error) bool {
	return IsAlreadyExists(err) || IsUndefined(err)
}
