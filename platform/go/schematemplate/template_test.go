package schematemplate

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zenGate-Global/schoolspace/platform/go/sqlident"
)

const sampleTemplate = `
-- sample
CREATE SCHEMA IF NOT EXISTS {{schema}};
CREATE TABLE IF NOT EXISTS {{schema}}.students (id BIGSERIAL PRIMARY KEY, note TEXT DEFAULT 'a;b');
CREATE TABLE {{schema}}."classes" (id BIGSERIAL PRIMARY KEY);
CREATE INDEX IF NOT EXISTS students_note_idx ON {{schema}}.students (note);
`

func TestParseRequiresPlaceholder(t *testing.T) {
	_, err := Parse("no-token", []byte("CREATE TABLE foo (id int);"))
	require.ErrorIs(t, err, ErrMissingPlaceholder)

	_, err = Parse("empty", []byte("   \n"))
	require.Error(t, err)
}

func TestRenderIsDeterministic(t *testing.T) {
	tpl, err := Parse("sample", []byte(sampleTemplate))
	require.NoError(t, err)

	first, err := tpl.Render("school_acme")
	require.NoError(t, err)
	second, err := tpl.Render("school_acme")
	require.NoError(t, err)

	require.Equal(t, first.SQL, second.SQL)
	require.NotContains(t, first.SQL, Placeholder)
	require.Contains(t, first.SQL, `CREATE SCHEMA IF NOT EXISTS "school_acme";`)
	require.Contains(t, first.SQL, `"school_acme".students`)
	require.Equal(t, "school_acme", first.Namespace.String())
	require.Equal(t, tpl.Version(), tpl.Version())
}

func TestRenderRejectsUnsafeNamespace(t *testing.T) {
	tpl, err := Parse("sample", []byte(sampleTemplate))
	require.NoError(t, err)

	for _, ns := range []string{"", "acme-high", `x"; DROP SCHEMA public CASCADE; --`, "9lives", "a b"} {
		_, err := tpl.Render(ns)
		require.ErrorIs(t, err, sqlident.ErrInvalidIdentifier, ns)
	}
}

func TestTables(t *testing.T) {
	tpl, err := Parse("sample", []byte(sampleTemplate))
	require.NoError(t, err)
	require.Equal(t, []string{"students", "classes"}, tpl.Tables())
}

func TestDefaultTemplate(t *testing.T) {
	tpl := Default()
	require.Equal(t, []string{
		"students", "teachers", "classes", "enrollments",
		"attendance", "grades", "fee_invoices", "payments",
	}, tpl.Tables())

	rendered, err := tpl.Render("school_demo")
	require.NoError(t, err)

	stmts := rendered.Statements()
	require.NotEmpty(t, stmts)
	require.True(t, strings.HasPrefix(stmts[0], `CREATE SCHEMA IF NOT EXISTS "school_demo"`))

	// The trigger function body must survive splitting as one statement.
	var fn string
	for _, s := range stmts {
		if strings.Contains(s, "touch_updated_at() RETURNS trigger") {
			fn = s
		}
	}
	require.NotEmpty(t, fn)
	require.Contains(t, fn, "NEW.updated_at := now();")
	require.Contains(t, fn, "LANGUAGE plpgsql")
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tenant.sql")
	require.NoError(t, os.WriteFile(path, []byte(sampleTemplate), 0o600))

	tpl, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, path, tpl.Name())

	_, err = Load(filepath.Join(dir, "missing.sql"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestSplitStatements(t *testing.T) {
	script := `
CREATE TABLE a (v TEXT DEFAULT 'x;y'); -- trailing; comment
/* block; /* nested; */ still comment */
CREATE FUNCTION f() RETURNS int AS $body$ SELECT 1; $body$ LANGUAGE sql;
CREATE TABLE "odd;name" (id int);
SELECT $$a;b$$;
SELECT 'it''s; fine';
;;
`
	stmts := SplitStatements(script)
	require.Equal(t, []string{
		"CREATE TABLE a (v TEXT DEFAULT 'x;y')",
		"CREATE FUNCTION f() RETURNS int AS $body$ SELECT 1; $body$ LANGUAGE sql",
		`CREATE TABLE "odd;name" (id int)`,
		"SELECT $$a;b$$",
		"SELECT 'it''s; fine'",
	}, stmts)
}

func TestSplitStatementsKeepsPositionalParams(t *testing.T) {
	stmts := SplitStatements("SELECT $1::int; SELECT 2")
	require.Equal(t, []string{"SELECT $1::int", "SELECT 2"}, stmts)
}
