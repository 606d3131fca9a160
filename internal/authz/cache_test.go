package authz

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/keystone-pm/keystone/internal/observability"
)

type stubDirectory struct {
	principals []Principal
	err        error
}

func (s *stubDirectory) PrincipalsForRole(context.Context, CanonicalRole) ([]Principal, error) {
	return s.principals, s.err
}

func TestMemoryBackendExpiresEntries(t *testing.T) {
	backend := NewMemoryBackend()
	now := time.Now()
	backend.clock = func() time.Time { return now }

	ctx := context.Background()
	if err := backend.Set(ctx, "k", true, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	value, ok, err := backend.Get(ctx, "k")
	if err != nil || !ok || !value {
		t.Fatalf("expected fresh hit, got value=%v ok=%v err=%v", value, ok, err)
	}

	now = now.Add(2 * time.Minute)
	if _, ok, _ := backend.Get(ctx, "k"); ok {
		t.Fatal("expired entry must not be served")
	}
}

func TestMemoryBackendVersions(t *testing.T) {
	backend := NewMemoryBackend()
	ctx := context.Background()

	v, err := backend.Version(ctx, "global")
	if err != nil || v != 1 {
		t.Fatalf("expected initial version 1, got %d err=%v", v, err)
	}
	if err := backend.Bump(ctx, "global"); err != nil {
		t.Fatalf("bump: %v", err)
	}
	v, _ = backend.Version(ctx, "global")
	if v != 2 {
		t.Fatalf("expected version 2 after bump, got %d", v)
	}
}

func TestRedisBackendRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	backend := NewRedisBackend(client)
	ctx := context.Background()

	if _, ok, err := backend.Get(ctx, "missing"); ok || err != nil {
		t.Fatalf("expected clean miss, got ok=%v err=%v", ok, err)
	}
	if err := backend.Set(ctx, "k", false, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	value, ok, err := backend.Get(ctx, "k")
	if err != nil || !ok || value {
		t.Fatalf("expected stored false, got value=%v ok=%v err=%v", value, ok, err)
	}

	mr.FastForward(2 * time.Minute)
	if _, ok, _ := backend.Get(ctx, "k"); ok {
		t.Fatal("expired entry must not be served")
	}

	v, err := backend.Version(ctx, "global")
	if err != nil || v != 1 {
		t.Fatalf("expected initial version 1, got %d err=%v", v, err)
	}
	if err := backend.Bump(ctx, "global"); err != nil {
		t.Fatalf("bump: %v", err)
	}
	if v, _ = backend.Version(ctx, "global"); v != 2 {
		t.Fatalf("expected version 2 after bump, got %d", v)
	}
}

func newTestService(t *testing.T, store *stubStore, directory AssignmentDirectory) *Service {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	resolver := newTestResolver(store, fixtureRels())
	cache := NewDecisionCache(NewRedisBackend(client), time.Minute)
	return NewService(resolver, cache, directory, slog.Default(), observability.NewMetrics())
}

func TestServiceCachesDecisions(t *testing.T) {
	store := &stubStore{grants: map[string][]RoleGrant{
		"pmc:pmc-3": {{Role: "PMC_ADMIN"}},
	}}
	svc := newTestService(t, store, &stubDirectory{})
	req := CheckRequest{
		Principal: Principal{ID: "pmc-3", Kind: KindPMC},
		Category:  CategoryLease,
		Resource:  "lease",
		Action:    ActionCreate,
		Scope:     &Scope{Type: ScopeProperty, ID: "property-7"},
	}
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, err := svc.HasPermission(ctx, req)
		if err != nil {
			t.Fatalf("check %d: %v", i, err)
		}
		if !allowed {
			t.Fatalf("check %d: expected allow", i)
		}
	}
	if store.grantCalls != 1 {
		t.Fatalf("expected a single resolver computation, got %d", store.grantCalls)
	}
}

func TestInvalidatePrincipalForcesRecompute(t *testing.T) {
	store := &stubStore{grants: map[string][]RoleGrant{
		"pmc:pmc-3": {{Role: "PMC_ADMIN"}},
	}}
	svc := newTestService(t, store, &stubDirectory{})
	principal := Principal{ID: "pmc-3", Kind: KindPMC}
	req := CheckRequest{
		Principal: principal,
		Category:  CategoryLease,
		Resource:  "lease",
		Action:    ActionCreate,
	}
	ctx := context.Background()

	if _, err := svc.HasPermission(ctx, req); err != nil {
		t.Fatalf("first check: %v", err)
	}
	if err := svc.InvalidatePrincipal(ctx, principal); err != nil {
		t.Fatalf("invalidate: %v", err)
	}

	// Revoke the grant; a cached decision would now be stale.
	store.grants = map[string][]RoleGrant{}
	allowed, err := svc.HasPermission(ctx, req)
	if err != nil {
		t.Fatalf("second check: %v", err)
	}
	if allowed {
		t.Fatal("revoked grant must deny after invalidation")
	}
	if store.grantCalls != 2 {
		t.Fatalf("expected recompute after invalidation, got %d calls", store.grantCalls)
	}
}

func TestInvalidateRoleBumpsEveryHolder(t *testing.T) {
	store := &stubStore{grants: map[string][]RoleGrant{
		"pmc:pmc-3": {{Role: "PMC_ADMIN"}},
	}}
	directory := &stubDirectory{principals: []Principal{{ID: "pmc-3", Kind: KindPMC}}}
	svc := newTestService(t, store, directory)
	req := CheckRequest{
		Principal: Principal{ID: "pmc-3", Kind: KindPMC},
		Category:  CategoryLease,
		Resource:  "lease",
		Action:    ActionCreate,
	}
	ctx := context.Background()

	if _, err := svc.HasPermission(ctx, req); err != nil {
		t.Fatalf("first check: %v", err)
	}
	if err := svc.InvalidateRole(ctx, RolePMCAdmin); err != nil {
		t.Fatalf("invalidate role: %v", err)
	}
	if _, err := svc.HasPermission(ctx, req); err != nil {
		t.Fatalf("second check: %v", err)
	}
	if store.grantCalls != 2 {
		t.Fatalf("expected recompute after role invalidation, got %d calls", store.grantCalls)
	}
}

func TestInvalidateRoleFlushesAllWhenListingFails(t *testing.T) {
	store := &stubStore{grants: map[string][]RoleGrant{
		"pmc:pmc-3": {{Role: "PMC_ADMIN"}},
	}}
	directory := &stubDirectory{err: errors.New("directory down")}
	svc := newTestService(t, store, directory)
	req := CheckRequest{
		Principal: Principal{ID: "pmc-3", Kind: KindPMC},
		Category:  CategoryLease,
		Resource:  "lease",
		Action:    ActionCreate,
	}
	ctx := context.Background()

	if _, err := svc.HasPermission(ctx, req); err != nil {
		t.Fatalf("first check: %v", err)
	}
	if err := svc.InvalidateRole(ctx, RolePMCAdmin); err != nil {
		t.Fatalf("invalidate role: %v", err)
	}
	if _, err := svc.HasPermission(ctx, req); err != nil {
		t.Fatalf("second check: %v", err)
	}
	if store.grantCalls != 2 {
		t.Fatalf("expected global flush to force recompute, got %d calls", store.grantCalls)
	}
}
