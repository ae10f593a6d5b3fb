// Package schematemplate renders the per-tenant DDL template for one namespace.
package schematemplate

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	sqlassets "github.com/zenGate-Global/schoolspace/database"
	"github.com/zenGate-Global/schoolspace/platform/go/sqlident"
)

// Placeholder is the single substitution token a template may contain (any number of times).
const Placeholder = "{{schema}}"

// ErrMissingPlaceholder is returned when a template never references the namespace.
var ErrMissingPlaceholder = errors.New("template does not reference " + Placeholder)

var createTablePattern = regexp.MustCompile(`(?is)^CREATE\s+(?:UNLOGGED\s+)?TABLE\s+(?:IF\s+NOT\s+EXISTS\s+)?\{\{schema\}\}\."?([A-Za-z_][A-Za-z0-9_]*)"?`)

// Template is a parsed DDL document parameterised by the namespace identifier.
type Template struct {
	name string
	body string
}

// Rendered is the concrete DDL for one namespace.
type Rendered struct {
	Namespace sqlident.Identifier
	SQL       string
}

// Parse validates the template body. Other placeholders are not interpreted.
func Parse(name string, body []byte) (Template, error) {
	text := string(body)
	if strings.TrimSpace(text) == "" {
		return Template{}, fmt.Errorf("template %s is empty", name)
	}
	if !strings.Contains(text, Placeholder) {
		return Template{}, fmt.Errorf("template %s: %w", name, ErrMissingPlaceholder)
	}
	return Template{name: name, body: text}, nil
}

// Load reads a template from disk. A missing file is reported as is so callers can treat it as fatal.
func Load(path string) (Template, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Template{}, fmt.Errorf("read template %s: %w", path, err)
	}
	return Parse(path, raw)
}

// Default returns the tenant template embedded at build time.
func Default() Template {
	tpl, err := Parse("embedded:tenant_space/template.sql", []byte(sqlassets.TenantTemplateSQL))
	if err != nil {
		panic(err)
	}
	return tpl
}

// Name identifies where the template came from.
func (t Template) Name() string { return t.name }

// Version is a content fingerprint, stable across hosts and runs.
func (t Template) Version() string {
	sum := sha256.Sum256([]byte(t.body))
	return "sha256:" + hex.EncodeToString(sum[:])[:16]
}

// Render substitutes the quoted namespace identifier for every placeholder.
func (t Template) Render(namespace string) (Rendered, error) {
	ns, err := sqlident.Parse(namespace)
	if err != nil {
		return Rendered{}, err
	}
	return t.RenderIdentifier(ns), nil
}

// RenderIdentifier is Render for an already validated identifier.
func (t Template) RenderIdentifier(ns sqlident.Identifier) Rendered {
	return Rendered{
		Namespace: ns,
		SQL:       strings.ReplaceAll(t.body, Placeholder, ns.Quoted()),
	}
}

// Tables lists, in declaration order, the tables the template creates inside the namespace.
func (t Template) Tables() []string {
	var tables []string
	seen := make(map[string]bool)
	for _, stmt := range SplitStatements(t.body) {
		m := createTablePattern.FindStringSubmatch(stmt)
		if m == nil || seen[m[1]] {
			continue
		}
		seen[m[1]] = true
		tables = append(tables, m[1])
	}
	return tables
}

// Statements splits the rendered DDL into executable statements.
func (r Rendered) Statements() []string {
	return SplitStatements(r.SQL)
}
