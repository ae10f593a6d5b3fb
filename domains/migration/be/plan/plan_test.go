package plan

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zenGate-Global/schoolspace/platform/go/schematemplate"
)

func TestParseValidPlan(t *testing.T) {
	p, err := Parse([]byte(`{
		"ownerColumns": ["campus_id"],
		"tables": [
			{"name": "students"},
			{"name": "teachers", "source": "staff", "ownerColumn": "school_id"},
			{"name": "payments", "skip": true}
		]
	}`))
	require.NoError(t, err)

	steps, err := p.Steps()
	require.NoError(t, err)
	require.Len(t, steps, 2)

	require.Equal(t, "students", steps[0].Dest.String())
	require.Equal(t, "students", steps[0].Source.String())
	require.Equal(t, []string{"campus_id"}, steps[0].OwnerColumns)
	require.False(t, steps[0].OwnerRequired)

	require.Equal(t, "teachers", steps[1].Dest.String())
	require.Equal(t, "staff", steps[1].Source.String())
	require.Equal(t, []string{"school_id"}, steps[1].OwnerColumns)
	require.True(t, steps[1].OwnerRequired)

	require.Equal(t, []string{"students", "teachers"}, p.TableNames())
}

func TestParseRejectsInvalidPlans(t *testing.T) {
	cases := map[string]string{
		"unsafe name":   `{"tables": [{"name": "students; DROP TABLE x"}]}`,
		"unknown field": `{"tables": [{"name": "students", "where": "1=1"}]}`,
		"empty list":    `{"tables": []}`,
		"missing name":  `{"tables": [{"source": "students"}]}`,
		"not json":      `tables: [students]`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(raw))
			require.Error(t, err)
		})
	}
}

func TestStepsRejectsDuplicates(t *testing.T) {
	p := Plan{Tables: []Table{{Name: "students"}, {Name: "students"}}}
	_, err := p.Steps()
	require.Error(t, err)
}

func TestFromTemplateUsesDefaultOwners(t *testing.T) {
	p := FromTemplate(schematemplate.Default(), nil)
	steps, err := p.Steps()
	require.NoError(t, err)
	require.Len(t, steps, len(schematemplate.Default().Tables()))
	require.Equal(t, DefaultOwnerColumns, steps[0].OwnerColumns)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"tables":[{"name":"grades"}]}`), 0o600))

	p, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, []string{"grades"}, p.TableNames())

	_, err = Load(filepath.Join(t.TempDir(), "absent.json"))
	require.ErrorIs(t, err, os.ErrNotExist)
}
