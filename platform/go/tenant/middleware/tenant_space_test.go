package middleware

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zenGate-Global/schoolspace/platform/go/sqlident"
	"github.com/zenGate-Global/schoolspace/platform/go/tenant"
)

type stubResolver struct {
	mu    sync.Mutex
	space tenant.Space
	err   error
	calls int
}

func (s *stubResolver) Resolve(ctx context.Context, principal tenant.Principal) (tenant.Space, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.space, s.err
}

var acme = tenant.Space{TenantID: 7, Code: "ACME", SchemaName: sqlident.MustParse("school_acme"), Status: tenant.StatusActive}

func serve(t *testing.T, mw func(http.Handler) http.Handler, req *http.Request) (*httptest.ResponseRecorder, *tenant.Space) {
	t.Helper()
	var seen *tenant.Space
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		space, ok := tenant.FromContext(r.Context())
		require.True(t, ok)
		seen = &space
		w.WriteHeader(http.StatusNoContent)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec, seen
}

func authedRequest(p tenant.Principal) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/students", nil)
	return req.WithContext(tenant.WithPrincipal(req.Context(), p))
}

func TestWithTenantSpaceAttachesSpace(t *testing.T) {
	res := &stubResolver{space: acme}
	rec, seen := serve(t, WithTenantSpace(res, Config{}), authedRequest(tenant.Principal{UserID: 1}))

	require.Equal(t, http.StatusNoContent, rec.Code)
	require.NotNil(t, seen)
	require.Equal(t, "school_acme", seen.SchemaName.String())
}

func TestWithTenantSpaceErrorMapping(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantReauth bool
	}{
		{name: "missing tenant context", err: fmt.Errorf("user 4: %w", tenant.ErrMissingTenantContext), wantStatus: http.StatusUnauthorized, wantReauth: true},
		{name: "unknown principal", err: tenant.ErrUnknownPrincipal, wantStatus: http.StatusUnauthorized},
		{name: "disabled", err: tenant.ErrTenantDisabled, wantStatus: http.StatusForbidden},
		{name: "internal", err: fmt.Errorf("db down"), wantStatus: http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := &stubResolver{err: tc.err}
			rec, seen := serve(t, WithTenantSpace(res, Config{}), authedRequest(tenant.Principal{UserID: 4}))

			require.Nil(t, seen)
			require.Equal(t, tc.wantStatus, rec.Code)
			if tc.wantReauth {
				require.Equal(t, "true", rec.Header().Get(ReauthenticateHeader))
			} else {
				require.Empty(t, rec.Header().Get(ReauthenticateHeader))
			}
		})
	}
}

func TestWithTenantSpaceRequiresPrincipal(t *testing.T) {
	res := &stubResolver{space: acme}
	rec, seen := serve(t, WithTenantSpace(res, Config{}), httptest.NewRequest(http.MethodGet, "/", nil))
	require.Nil(t, seen)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Zero(t, res.calls)
}

func TestWithTenantSpaceCustomPrincipalFunc(t *testing.T) {
	res := &stubResolver{space: acme}
	cfg := Config{Principal: func(r *http.Request) (tenant.Principal, bool) {
		return tenant.Principal{Email: r.Header.Get("X-Test-User")}, r.Header.Get("X-Test-User") != ""
	}}
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Test-User", "a@b.c")

	rec, seen := serve(t, WithTenantSpace(res, cfg), req)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.NotNil(t, seen)
}

func TestWithTenantSpaceUsesCache(t *testing.T) {
	res := &stubResolver{space: acme}
	mw := WithTenantSpace(res, Config{Cache: NewMemoryCache(), CacheTTL: time.Minute})

	for i := 0; i < 3; i++ {
		rec, _ := serve(t, mw, authedRequest(tenant.Principal{UserID: 1}))
		require.Equal(t, http.StatusNoContent, rec.Code)
	}
	require.Equal(t, 1, res.calls)

	// Failures are never cached.
	failing := &stubResolver{err: tenant.ErrMissingTenantContext}
	mw = WithTenantSpace(failing, Config{Cache: NewMemoryCache(), CacheTTL: time.Minute})
	for i := 0; i < 2; i++ {
		serve(t, mw, authedRequest(tenant.Principal{UserID: 2}))
	}
	require.Equal(t, 2, failing.calls)
}

func TestMemoryCacheExpiry(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewMemoryCache()
	c.now = func() time.Time { return now }
	ctx := context.Background()

	c.Set(ctx, "uid:1", acme, time.Minute)
	got, ok := c.Get(ctx, "uid:1")
	require.True(t, ok)
	require.Equal(t, acme, got)

	now = now.Add(2 * time.Minute)
	_, ok = c.Get(ctx, "uid:1")
	require.False(t, ok)

	c.Set(ctx, "uid:2", acme, 0)
	_, ok = c.Get(ctx, "uid:2")
	require.False(t, ok)
}

func TestMemoryCacheConcurrentAccess(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("uid:%d", i%5)
			c.Set(ctx, key, acme, time.Minute)
			_, _ = c.Get(ctx, key)
		}(i)
	}
	wg.Wait()

	_, ok := c.Get(ctx, "uid:3")
	require.True(t, ok)
}

func TestWithTenantSpaceRevalidatesInactiveCacheHit(t *testing.T) {
	ctx := context.Background()
	principal := tenant.Principal{UserID: 1}
	cache := NewMemoryCache()

	suspended := acme
	suspended.Status = tenant.StatusSuspended
	cache.Set(ctx, principal.Key(), suspended, time.Minute)

	res := &stubResolver{err: tenant.ErrTenantDisabled}
	rec, seen := serve(t, WithTenantSpace(res, Config{Cache: cache, CacheTTL: time.Minute}), authedRequest(principal))

	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Nil(t, seen)
	require.Equal(t, 1, res.calls)
	_, ok := cache.Get(ctx, principal.Key())
	require.False(t, ok)
}

func TestMemoryCacheSweepsExpiredEntriesOnSet(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewMemoryCache()
	c.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < minSweepSize; i++ {
		c.Set(ctx, fmt.Sprintf("uid:%d", i), acme, time.Minute)
	}
	require.Equal(t, minSweepSize, c.Len())

	now = now.Add(2 * time.Minute)
	c.Set(ctx, "uid:fresh", acme, time.Minute)
	require.Equal(t, 1, c.Len())

	require.NoError(t, c.Invalidate(ctx, "uid:fresh"))
	require.Zero(t, c.Len())
}
