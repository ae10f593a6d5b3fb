package tenant

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnknownPrincipal means the principal is not present (or not active) in the unified directory.
	ErrUnknownPrincipal = errors.New("principal not found in directory")
	// ErrMissingTenantContext means the principal is known but has no resolvable namespace,
	// typically a legacy account whose school was never migrated. Callers must force
	// re-authentication rather than fall back to any namespace.
	ErrMissingTenantContext = errors.New("principal has no tenant namespace")
	// ErrTenantDisabled means the resolved school is inactive or suspended.
	ErrTenantDisabled = errors.New("tenant is not active")
)

// Principal is the authenticated identity handed over by the auth layer.
type Principal struct {
	UserID int64
	Email  string
}

// Key is a stable cache key for the principal.
func (p Principal) Key() string {
	if p.UserID > 0 {
		return fmt.Sprintf("uid:%d", p.UserID)
	}
	return "email:" + strings.ToLower(strings.TrimSpace(p.Email))
}

// Membership is what the directory knows about a principal.
// Space is nil when no school with a namespace is linked to the user.
type Membership struct {
	UserID     int64
	UserActive bool
	Space      *Space
}

// Directory looks up principals in the unified user directory.
// Implementations return ErrUnknownPrincipal when the user does not exist.
type Directory interface {
	LookupMembership(ctx context.Context, principal Principal) (Membership, error)
}

// Resolver maps an authenticated principal to its tenant Space.
type Resolver struct {
	dir Directory
}

func NewResolver(dir Directory) *Resolver {
	if dir == nil {
		panic("tenant resolver requires directory")
	}
	return &Resolver{dir: dir}
}

// Resolve returns the principal's Space or one of ErrUnknownPrincipal,
// ErrMissingTenantContext or ErrTenantDisabled.
func (r *Resolver) Resolve(ctx context.Context, principal Principal) (Space, error) {
	if principal.UserID <= 0 && strings.TrimSpace(principal.Email) == "" {
		return Space{}, ErrUnknownPrincipal
	}

	m, err := r.dir.LookupMembership(ctx, principal)
	if err != nil {
		return Space{}, err
	}
	if !m.UserActive {
		return Space{}, ErrUnknownPrincipal
	}
	if m.Space == nil || !m.Space.Routable() {
		return Space{}, fmt.Errorf("user %d: %w", m.UserID, ErrMissingTenantContext)
	}
	if !m.Space.Active() {
		return Space{}, fmt.Errorf("school %s is %s: %w", m.Space.Code, m.Space.Status, ErrTenantDisabled)
	}

	return *m.Space, nil
}
