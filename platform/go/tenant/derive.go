package tenant

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/gosimple/slug"

	"github.com/zenGate-Global/schoolspace/platform/go/sqlident"
)

// ErrEmptyCode is returned when a namespace is requested for a blank tenant code.
var ErrEmptyCode = errors.New("tenant code is required")

// ToSnake converts a kebab-case slug into snake_case for schema names.
func ToSnake(s string) string {
	return strings.ReplaceAll(strings.ToLower(s), "-", "_")
}

// BuildSchemaName derives the namespace for a tenant code: <prefix><code_as_snake>.
// The result is deterministic. Names that would exceed the PostgreSQL identifier
// limit are cut and suffixed with a short hash of the full name so two long codes
// sharing a prefix still map to different namespaces.
func BuildSchemaName(prefix, code string) (sqlident.Identifier, error) {
	base := ToSnake(slug.Make(strings.TrimSpace(code)))
	if base == "" {
		return sqlident.Identifier{}, ErrEmptyCode
	}

	name := strings.TrimSpace(prefix) + base
	if name[0] >= '0' && name[0] <= '9' {
		name = "_" + name
	}

	if len(name) > sqlident.MaxLength {
		sum := sha256.Sum256([]byte(name))
		suffix := "_" + hex.EncodeToString(sum[:])[:8]
		name = strings.TrimRight(name[:sqlident.MaxLength-len(suffix)], "_") + suffix
	}

	return sqlident.Parse(name)
}
