package authority_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"PosCache/internal/authority"
	"PosCache/internal/fault"
)

type stubRoles struct {
	writers map[authority.Identity]bool
	admins  map[authority.Identity]bool
	err     error
}

func (s *stubRoles) HasRole(ctx context.Context, action authority.Action, identity authority.Identity) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	switch action {
	case authority.ActionWritePositions:
		return s.writers[identity], nil
	case authority.ActionAdminister:
		return s.admins[identity], nil
	}
	return false, nil
}

type stubRegistry struct {
	mu       sync.Mutex
	resolved map[string]authority.Identity
	err      error
	calls    int
}

func (s *stubRegistry) Resolve(ctx context.Context, logicalKey string) (authority.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return s.resolved[logicalKey], nil
}

func (s *stubRegistry) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func newCache(ttl time.Duration) (*authority.ModuleCache, *stubRoles, *stubRegistry, *time.Time) {
	roles := &stubRoles{
		writers: map[authority.Identity]bool{"mod-a": true, "mod-b": true},
		admins:  map[authority.Identity]bool{},
	}
	registry := &stubRegistry{resolved: map[string]authority.Identity{
		"collateral_ledger": "mod-a",
		"debt_ledger":       "mod-b",
		"router":            "mod-c",
		"business_logic":    "mod-d",
	}}
	mc := authority.NewModuleCache(roles, registry, ttl)
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	clock := &now
	mc.SetClock(func() time.Time { return *clock })
	return mc, roles, registry, clock
}

func TestAuthorizeWriter_RequiresRoleAndListing(t *testing.T) {
	mc, roles, _, _ := newCache(time.Minute)
	ctx := context.Background()

	if err := mc.AuthorizeWriter(ctx, "mod-a"); err != nil {
		t.Fatalf("listed writer with role: %v", err)
	}

	// Listed but no role grant.
	err := mc.AuthorizeWriter(ctx, "mod-c")
	if fault.CodeOf(err) != fault.CodeMissingRole {
		t.Fatalf("got %v, want MissingRole", err)
	}

	// Role grant but not listed.
	roles.writers["ghost"] = true
	err = mc.AuthorizeWriter(ctx, "ghost")
	if fault.CodeOf(err) != fault.CodeUnauthorized {
		t.Fatalf("got %v, want Unauthorized", err)
	}
}

func TestAuthorizeWriter_CachesWithinTTL(t *testing.T) {
	mc, _, registry, _ := newCache(time.Minute)
	ctx := context.Background()

	if err := mc.AuthorizeWriter(ctx, "mod-a"); err != nil {
		t.Fatalf("first: %v", err)
	}
	calls := registry.callCount()

	if err := mc.AuthorizeWriter(ctx, "mod-a"); err != nil {
		t.Fatalf("second: %v", err)
	}
	if got := registry.callCount(); got != calls {
		t.Errorf("second authorization resolved %d modules, want 0", got-calls)
	}
}

func TestAuthorizeWriter_StaleEntryReResolves(t *testing.T) {
	mc, roles, registry, clock := newCache(time.Minute)
	ctx := context.Background()

	if err := mc.AuthorizeWriter(ctx, "mod-a"); err != nil {
		t.Fatalf("warmup: %v", err)
	}

	roles.writers["mod-a2"] = true
	registry.resolved["collateral_ledger"] = "mod-a2"

	// Within TTL the old binding holds.
	err := mc.AuthorizeWriter(ctx, "mod-a2")
	if fault.CodeOf(err) != fault.CodeUnauthorized {
		t.Fatalf("within TTL: got %v, want Unauthorized", err)
	}

	// Past TTL the stale entries re-resolve before the decision.
	*clock = clock.Add(time.Minute + time.Second)
	if err := mc.AuthorizeWriter(ctx, "mod-a2"); err != nil {
		t.Fatalf("past TTL: %v", err)
	}
}

func TestRefresh_ForcesResolution(t *testing.T) {
	mc, roles, registry, clock := newCache(time.Hour)
	ctx := context.Background()

	if err := mc.AuthorizeWriter(ctx, "mod-a"); err != nil {
		t.Fatalf("warmup: %v", err)
	}
	roles.writers["mod-a2"] = true
	registry.resolved["collateral_ledger"] = "mod-a2"

	if err := mc.Refresh(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if err := mc.AuthorizeWriter(ctx, "mod-a2"); err != nil {
		t.Fatalf("after refresh: %v", err)
	}
	if got := mc.LastRefresh(); !got.Equal(*clock) {
		t.Errorf("last refresh = %s, want %s", got, *clock)
	}
}

func TestRefresh_RegistryFailurePropagates(t *testing.T) {
	mc, _, registry, _ := newCache(time.Minute)
	registry.err = errors.New("registry down")

	if err := mc.Refresh(context.Background()); err == nil {
		t.Fatal("expected refresh to fail")
	}
	if !mc.LastRefresh().IsZero() {
		t.Error("failed refresh must not update the refresh time")
	}
}

func TestRequireAdmin(t *testing.T) {
	mc, roles, _, _ := newCache(time.Minute)
	ctx := context.Background()

	err := mc.RequireAdmin(ctx, "mod-a")
	if fault.CodeOf(err) != fault.CodeOnlyAdmin {
		t.Fatalf("got %v, want OnlyAdmin", err)
	}

	roles.admins["ops"] = true
	if err := mc.RequireAdmin(ctx, "ops"); err != nil {
		t.Fatalf("admin: %v", err)
	}
}
