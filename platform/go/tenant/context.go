package tenant

import (
	"context"

	"github.com/zenGate-Global/schoolspace/platform/go/sqlident"
)

// Lifecycle states of a school.
const (
	StatusActive    = "active"
	StatusInactive  = "inactive"
	StatusSuspended = "suspended"
)

// Space captures the resolved tenant routing metadata for a request.
// It is attached to the context by middleware once the principal has been
// resolved and is read-only for the rest of the request.
type Space struct {
	TenantID   int64
	Code       string
	SchemaName sqlident.Identifier
	Status     string
}

// Active reports whether queries may be issued on behalf of the tenant.
func (s Space) Active() bool {
	return s.Status == StatusActive
}

// Routable reports whether the space carries a namespace to scope queries to.
func (s Space) Routable() bool {
	return s.TenantID > 0 && !s.SchemaName.IsZero()
}

type ctxKey string

const spaceKey ctxKey = "SCHOOLSPACE_TENANT_SPACE"

// WithSpace returns a derived context carrying the tenant Space.
func WithSpace(ctx context.Context, space Space) context.Context {
	return context.WithValue(ctx, spaceKey, space)
}

// FromContext extracts the tenant Space and a boolean indicating presence.
func FromContext(ctx context.Context) (Space, bool) {
	v := ctx.Value(spaceKey)
	if v == nil {
		return Space{}, false
	}

	space, ok := v.(Space)
	return space, ok
}

const principalKey ctxKey = "SCHOOLSPACE_PRINCIPAL"

// WithPrincipal is used by the authentication layer to hand the verified identity over.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFromContext returns the authenticated principal, if any.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	return p, ok
}
