package cache_test

import (
	"context"
	"testing"
	"time"

	"PosCache/internal/fault"
)

// ============================================================================
// Test: read path
// ============================================================================

func TestGet_ServesValidEntryWithoutLedger(t *testing.T) {
	f := newFixture(t)
	key := testKey()
	ctx := context.Background()

	f.seed(t, key, 100, 40)
	reads := f.ledger.readCount()

	collateral, debt, valid, err := f.svc.GetWithValidity(ctx, key.Account, key.Instrument)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if collateral != 100 || debt != 40 || !valid {
		t.Errorf("got (%d, %d, %t), want (100, 40, true)", collateral, debt, valid)
	}
	if got := f.ledger.readCount(); got != reads {
		t.Errorf("cache hit performed %d ledger reads, want 0", got-reads)
	}
}

func TestGet_TTLBoundaryInclusive(t *testing.T) {
	f := newFixture(t)
	key := testKey()
	ctx := context.Background()

	f.seed(t, key, 100, 40)

	// Aged exactly TTL: still served from cache.
	f.clock.Advance(cacheTTL)
	_, _, valid, err := f.svc.GetWithValidity(ctx, key.Account, key.Instrument)
	if err != nil {
		t.Fatalf("get at TTL: %v", err)
	}
	if !valid {
		t.Error("entry aged exactly TTL must still be valid")
	}

	// One instant past: fallback.
	f.clock.Advance(time.Nanosecond)
	f.ledger.set(key, 999, 1)
	collateral, debt, valid, err := f.svc.GetWithValidity(ctx, key.Account, key.Instrument)
	if err != nil {
		t.Fatalf("get past TTL: %v", err)
	}
	if valid {
		t.Error("entry past TTL must not be valid")
	}
	if collateral != 999 || debt != 1 {
		t.Errorf("fallback got (%d, %d), want live ledger (999, 1)", collateral, debt)
	}
}

func TestGet_MissingKeyEqualsLedgerRead(t *testing.T) {
	f := newFixture(t)
	key := testKey()
	ctx := context.Background()

	f.ledger.set(key, 55, 5)
	collateral, debt, valid, err := f.svc.GetWithValidity(ctx, key.Account, key.Instrument)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if collateral != 55 || debt != 5 || valid {
		t.Errorf("got (%d, %d, %t), want (55, 5, false)", collateral, debt, valid)
	}

	// The fallback must not populate the cache.
	if _, ok := f.store.Lookup(key); ok {
		t.Error("read fallback mutated the store")
	}
}

func TestGet_FallbackLedgerDownFails(t *testing.T) {
	f := newFixture(t)
	key := testKey()
	ctx := context.Background()

	f.ledger.setFailing(true)
	_, _, _, err := f.svc.GetWithValidity(ctx, key.Account, key.Instrument)
	if fault.CodeOf(err) != fault.CodeLedgerUnavailable {
		t.Fatalf("got %v, want LedgerUnavailable", err)
	}
}

func TestGet_ValuesOnlyVariant(t *testing.T) {
	f := newFixture(t)
	key := testKey()
	ctx := context.Background()

	f.seed(t, key, 42, 7)
	collateral, debt, err := f.svc.Get(ctx, key.Account, key.Instrument)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if collateral != 42 || debt != 7 {
		t.Errorf("got (%d, %d), want (42, 7)", collateral, debt)
	}
}
