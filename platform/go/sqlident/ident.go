// Package sqlident holds identifiers that have been validated against a strict
// allow-list and are therefore safe to interpolate into DDL/DML.
package sqlident

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
)

// MaxLength mirrors PostgreSQL's NAMEDATALEN-1; longer names are silently truncated by the server.
const MaxLength = 63

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ErrInvalidIdentifier is returned when a candidate identifier contains disallowed characters.
var ErrInvalidIdentifier = errors.New("invalid identifier")

// Identifier is a schema, table or column name that passed validation.
// The zero value is not a valid identifier.
type Identifier struct {
	name string
}

// Parse trims the input and validates it against ^[A-Za-z_][A-Za-z0-9_]*$ (max 63 bytes).
func Parse(input string) (Identifier, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return Identifier{}, fmt.Errorf("%w: identifier is required", ErrInvalidIdentifier)
	}
	if len(trimmed) > MaxLength {
		return Identifier{}, fmt.Errorf("%w: %q exceeds %d bytes", ErrInvalidIdentifier, trimmed, MaxLength)
	}
	if !identifierPattern.MatchString(trimmed) {
		return Identifier{}, fmt.Errorf("%w: %q must match ^[A-Za-z_][A-Za-z0-9_]*$", ErrInvalidIdentifier, trimmed)
	}
	return Identifier{name: trimmed}, nil
}

// MustParse is Parse for compile-time constants; it panics on invalid input.
func MustParse(input string) Identifier {
	id, err := Parse(input)
	if err != nil {
		panic(err)
	}
	return id
}

// ParseAll validates every element, failing on the first invalid one.
func ParseAll(inputs []string) ([]Identifier, error) {
	out := make([]Identifier, 0, len(inputs))
	for _, in := range inputs {
		id, err := Parse(in)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}

// String returns the raw (unquoted) name, suitable for catalog lookups by value.
func (i Identifier) String() string { return i.name }

// IsZero reports whether the identifier was never parsed.
func (i Identifier) IsZero() bool { return i.name == "" }

// Quoted returns the double-quoted form for interpolation into SQL text.
func (i Identifier) Quoted() string {
	return pgx.Identifier{i.name}.Sanitize()
}

// Qualified returns "schema"."name".
func Qualified(schema, name Identifier) string {
	return pgx.Identifier{schema.name, name.name}.Sanitize()
}

// QuotedList joins quoted identifiers with ", ".
func QuotedList(ids []Identifier) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = id.Quoted()
	}
	return strings.Join(parts, ", ")
}
