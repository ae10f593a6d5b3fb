// Package plan describes which shared tables a migration run copies, in which order.
package plan

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/zenGate-Global/schoolspace/platform/go/schematemplate"
	"github.com/zenGate-Global/schoolspace/platform/go/sqlident"
)

//go:embed plan.schema.json
var planSchema []byte

const planSchemaURL = "memory://schemas/migration-plan.json"

var (
	compileOnce sync.Once
	compiled    *jsonschema.Schema
	compileErr  error
)

// DefaultOwnerColumns are tried, in order, when a table names no owner column.
var DefaultOwnerColumns = []string{"school_id", "tenant_id"}

// Table is one entry of the fixed table list.
type Table struct {
	// Name is the destination table inside the tenant namespace.
	Name string `json:"name"`
	// Source is the shared table; defaults to Name.
	Source string `json:"source,omitempty"`
	// OwnerColumn overrides owner column detection.
	OwnerColumn string `json:"ownerColumn,omitempty"`
	Skip        bool   `json:"skip,omitempty"`
}

// Plan is the ordered table list plus owner column candidates.
type Plan struct {
	OwnerColumns []string `json:"ownerColumns,omitempty"`
	Tables       []Table  `json:"tables"`
}

// Step is a validated, ready to execute table entry.
type Step struct {
	Dest         sqlident.Identifier
	Source       sqlident.Identifier
	OwnerColumns []string
	// OwnerRequired is set when the plan names the owner column explicitly; a source
	// table without it is not copied.
	OwnerRequired bool
}

// FromTemplate builds the default plan: every template table, copied from the
// same-named shared table.
func FromTemplate(tpl schematemplate.Template, ownerColumns []string) Plan {
	p := Plan{OwnerColumns: ownerColumns}
	for _, name := range tpl.Tables() {
		p.Tables = append(p.Tables, Table{Name: name})
	}
	return p
}

// Load reads and validates a JSON plan file.
func Load(path string) (Plan, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Plan{}, fmt.Errorf("read plan %s: %w", path, err)
	}
	return Parse(raw)
}

// Parse validates raw against the plan JSON Schema and decodes it.
func Parse(raw []byte) (Plan, error) {
	schema, err := compiledSchema()
	if err != nil {
		return Plan{}, err
	}

	var document any
	if err := json.Unmarshal(raw, &document); err != nil {
		return Plan{}, fmt.Errorf("decode plan: %w", err)
	}
	if err := schema.Validate(document); err != nil {
		return Plan{}, fmt.Errorf("plan validation: %w", err)
	}

	var p Plan
	if err := json.Unmarshal(raw, &p); err != nil {
		return Plan{}, fmt.Errorf("decode plan: %w", err)
	}
	return p, nil
}

// Steps returns the executable entries in plan order, skipping disabled ones.
func (p Plan) Steps() ([]Step, error) {
	owners := p.OwnerColumns
	if len(owners) == 0 {
		owners = DefaultOwnerColumns
	}

	steps := make([]Step, 0, len(p.Tables))
	seen := make(map[string]bool)
	for _, t := range p.Tables {
		if t.Skip {
			continue
		}
		dest, err := sqlident.Parse(t.Name)
		if err != nil {
			return nil, fmt.Errorf("plan table: %w", err)
		}
		if seen[dest.String()] {
			return nil, fmt.Errorf("plan table %s listed twice", dest)
		}
		seen[dest.String()] = true

		source := dest
		if strings.TrimSpace(t.Source) != "" {
			if source, err = sqlident.Parse(t.Source); err != nil {
				return nil, fmt.Errorf("plan table %s source: %w", dest, err)
			}
		}

		step := Step{Dest: dest, Source: source, OwnerColumns: owners}
		if owner := strings.TrimSpace(t.OwnerColumn); owner != "" {
			step.OwnerColumns, step.OwnerRequired = []string{owner}, true
		}
		steps = append(steps, step)
	}
	return steps, nil
}

// TableNames lists destination tables of the executable steps.
func (p Plan) TableNames() []string {
	var out []string
	for _, t := range p.Tables {
		if !t.Skip {
			out = append(out, t.Name)
		}
	}
	return out
}

func compiledSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(planSchemaURL, bytes.NewReader(planSchema)); err != nil {
			compileErr = fmt.Errorf("register plan schema: %w", err)
			return
		}
		compiled, compileErr = compiler.Compile(planSchemaURL)
		if compileErr != nil {
			compileErr = fmt.Errorf("compile plan schema: %w", compileErr)
		}
	})
	return compiled, compileErr
}
