package sqlident

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	cases := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "simple", input: "school_acme", want: "school_acme"},
		{name: "trimmed", input: "  students ", want: "students"},
		{name: "mixed case", input: "Legacy_Users", want: "Legacy_Users"},
		{name: "leading underscore", input: "_tmp", want: "_tmp"},
		{name: "empty", input: "   ", wantErr: true},
		{name: "leading digit", input: "1school", wantErr: true},
		{name: "quote injection", input: `acme"; DROP SCHEMA public; --`, wantErr: true},
		{name: "dot", input: "public.users", wantErr: true},
		{name: "hyphen", input: "acme-high", wantErr: true},
		{name: "too long", input: strings.Repeat("a", MaxLength+1), wantErr: true},
		{name: "max length", input: strings.Repeat("a", MaxLength), want: strings.Repeat("a", MaxLength)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			id, err := Parse(tc.input)
			if tc.wantErr {
				require.ErrorIs(t, err, ErrInvalidIdentifier)
				require.True(t, id.IsZero())
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, id.String())
		})
	}
}

func TestQuoting(t *testing.T) {
	schema := MustParse("school_acme")
	table := MustParse("students")

	require.Equal(t, `"school_acme"`, schema.Quoted())
	require.Equal(t, `"school_acme"."students"`, Qualified(schema, table))
	require.Equal(t, `"school_acme", "students"`, QuotedList([]Identifier{schema, table}))
}

func TestParseAllStopsAtFirstInvalid(t *testing.T) {
	_, err := ParseAll([]string{"students", "bad name", "teachers"})
	require.ErrorIs(t, err, ErrInvalidIdentifier)
	require.Contains(t, err.Error(), "bad name")

	ids, err := ParseAll([]string{"students", "teachers"})
	require.NoError(t, err)
	require.Len(t, ids, 2)
}

func TestMustParsePanics(t *testing.T) {
	require.Panics(t, func() { MustParse("no spaces allowed") })
}
