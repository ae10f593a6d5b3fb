package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/zenGate-Global/schoolspace/platform/go/logging"
	"github.com/zenGate-Global/schoolspace/platform/go/tenant"
)

// ReauthenticateHeader tells clients that the session must be re-established.
const ReauthenticateHeader = "X-Reauthenticate"

// Resolver defines the minimal lookup capability required to populate a Tenant Space.
// Implemented by tenant.Resolver.
type Resolver interface {
	Resolve(ctx context.Context, principal tenant.Principal) (tenant.Space, error)
}

// PrincipalFunc extracts the authenticated principal from the request.
type PrincipalFunc func(r *http.Request) (tenant.Principal, bool)

// Config controls middleware behavior.
type Config struct {
	// Principal defaults to tenant.PrincipalFromContext.
	Principal PrincipalFunc
	// Cache is optional; nil disables caching.
	Cache Cache
	// CacheTTL applies to entries written by the middleware. It bounds how long a
	// status change goes unnoticed unless the entry is invalidated.
	CacheTTL time.Duration
}

// WithTenantSpace resolves the principal's tenant and attaches tenant.Space to the context.
//
// Failures map to distinct responses: a principal without a resolvable namespace gets
// 401 with X-Reauthenticate so the client forces a fresh login, unknown principals get
// a plain 401, and suspended or inactive schools get 403. No request proceeds without a Space.
func WithTenantSpace(resolver Resolver, cfg Config) func(http.Handler) http.Handler {
	if resolver == nil {
		panic("tenant middleware: resolver is required")
	}
	principalOf := cfg.Principal
	if principalOf == nil {
		principalOf = func(r *http.Request) (tenant.Principal, bool) {
			return tenant.PrincipalFromContext(r.Context())
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			logger := logging.Ctx(ctx)

			principal, ok := principalOf(r)
			if !ok {
				http.Error(w, "authentication required", http.StatusUnauthorized)
				return
			}

			key := principal.Key()
			space, hit := cacheGet(ctx, cfg.Cache, key)
			if hit && !(space.Active() && space.Routable()) {
				// Never serve a cached school that is not active; the directory decides.
				cacheDrop(ctx, cfg.Cache, key, logger)
				hit = false
			}
			if !hit {
				var err error
				space, err = resolver.Resolve(ctx, principal)
				if err != nil {
					writeResolveError(w, logger, principal, err)
					return
				}
				cachePut(ctx, cfg.Cache, key, space, cfg.CacheTTL)
			}

			ctx = tenant.WithSpace(ctx, space)
			ctx = logging.WithTenant(ctx, space.TenantID, space.SchemaName.String())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeResolveError(w http.ResponseWriter, logger *zap.Logger, principal tenant.Principal, err error) {
	fields := []zap.Field{zap.Int64("user_id", principal.UserID), zap.Error(err)}

	switch {
	case errors.Is(err, tenant.ErrMissingTenantContext):
		logger.Warn("principal has no tenant namespace", fields...)
		w.Header().Set(ReauthenticateHeader, "true")
		http.Error(w, "tenant context missing, please sign in again", http.StatusUnauthorized)
	case errors.Is(err, tenant.ErrUnknownPrincipal):
		logger.Info("unknown principal", fields...)
		http.Error(w, "unknown user", http.StatusUnauthorized)
	case errors.Is(err, tenant.ErrTenantDisabled):
		logger.Info("tenant disabled", fields...)
		http.Error(w, "school is not active", http.StatusForbidden)
	default:
		logger.Error("resolve tenant space", fields...)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func cacheGet(ctx context.Context, c Cache, key string) (tenant.Space, bool) {
	if c == nil {
		return tenant.Space{}, false
	}
	return c.Get(ctx, key)
}

func cacheDrop(ctx context.Context, c Cache, key string, logger *zap.Logger) {
	if err := c.Invalidate(ctx, key); err != nil {
		logger.Warn("invalidate cached space", zap.String("key", key), zap.Error(err))
	}
}

func cachePut(ctx context.Context, c Cache, key string, space tenant.Space, ttl time.Duration) {
	if c == nil {
		return
	}
	c.Set(ctx, key, space, ttl)
}
