package cache_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"PosCache/internal/authority"
	"PosCache/internal/cache"
	"PosCache/internal/event"
	"PosCache/internal/position"
)

const (
	cacheTTL  = 5 * time.Minute
	moduleTTL = 1 * time.Minute

	writerID = authority.Identity("module-collateral-ledger")
	adminID  = authority.Identity("ops-admin")
)

var errLedgerDown = errors.New("ledger unreachable")

// ============================================================================
// Fakes
// ============================================================================

type fakeLedger struct {
	mu         sync.Mutex
	collateral map[position.Key]uint64
	debt       map[position.Key]uint64
	failing    bool
	reads      int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		collateral: make(map[position.Key]uint64),
		debt:       make(map[position.Key]uint64),
	}
}

func (f *fakeLedger) set(key position.Key, collateral, debt uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.collateral[key] = collateral
	f.debt[key] = debt
}

func (f *fakeLedger) setFailing(failing bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failing = failing
}

func (f *fakeLedger) readCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads
}

func (f *fakeLedger) Collateral(ctx context.Context, account position.AccountID, instrument position.Instrument) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	if f.failing {
		return 0, errLedgerDown
	}
	return f.collateral[position.Key{Account: account, Instrument: instrument}], nil
}

func (f *fakeLedger) Debt(ctx context.Context, account position.AccountID, instrument position.Instrument) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	if f.failing {
		return 0, errLedgerDown
	}
	return f.debt[position.Key{Account: account, Instrument: instrument}], nil
}

type fakeRoles struct {
	mu      sync.Mutex
	writers map[authority.Identity]bool
	admins  map[authority.Identity]bool
	err     error
}

func (f *fakeRoles) HasRole(ctx context.Context, action authority.Action, identity authority.Identity) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	switch action {
	case authority.ActionWritePositions:
		return f.writers[identity], nil
	case authority.ActionAdminister:
		return f.admins[identity], nil
	}
	return false, nil
}

func (f *fakeRoles) grantWriter(identity authority.Identity) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writers[identity] = true
}

type fakeRegistry struct {
	mu       sync.Mutex
	resolved map[string]authority.Identity
	err      error
	calls    int
}

func (f *fakeRegistry) Resolve(ctx context.Context, logicalKey string) (authority.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.resolved[logicalKey], nil
}

func (f *fakeRegistry) rebind(logicalKey string, identity authority.Identity) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resolved[logicalKey] = identity
}

// testClock is a manually advanced wall clock shared by the store and the
// allow-list cache.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// ============================================================================
// Fixture
// ============================================================================

type fixture struct {
	svc      *cache.Service
	store    *cache.Store
	ledger   *fakeLedger
	roles    *fakeRoles
	registry *fakeRegistry
	auth     *authority.ModuleCache
	clock    *testClock
	events   chan event.Notification
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	clock := newTestClock()
	ledger := newFakeLedger()
	roles := &fakeRoles{
		writers: map[authority.Identity]bool{writerID: true},
		admins:  map[authority.Identity]bool{adminID: true},
	}
	registry := &fakeRegistry{resolved: map[string]authority.Identity{
		"collateral_ledger": writerID,
		"debt_ledger":       "module-debt-ledger",
		"router":            "module-router",
		"business_logic":    "module-business-logic",
	}}

	auth := authority.NewModuleCache(roles, registry, moduleTTL)
	auth.SetClock(clock.Now)

	store := cache.NewStore(cacheTTL)
	store.SetClock(clock.Now)

	events := make(chan event.Notification, 64)
	svc := cache.NewService(store, ledger, auth, events, zerolog.Nop(), nil)

	return &fixture{
		svc:      svc,
		store:    store,
		ledger:   ledger,
		roles:    roles,
		registry: registry,
		auth:     auth,
		clock:    clock,
		events:   events,
	}
}

// seed writes (collateral, debt) for key into the ledger and pushes the
// same values through the gate so the cache holds a fresh valid entry.
func (f *fixture) seed(t *testing.T, key position.Key, collateral, debt uint64) {
	t.Helper()
	f.ledger.set(key, collateral, debt)
	if err := f.svc.PushAbsolute(context.Background(), writerID,
		key.Account, key.Instrument, collateral, debt, cache.PushOptions{}); err != nil {
		t.Fatalf("seed push: %v", err)
	}
	f.drainEvents()
}

func (f *fixture) drainEvents() {
	for {
		select {
		case <-f.events:
		default:
			return
		}
	}
}

// nextEvent pops one notification or fails the test.
func (f *fixture) nextEvent(t *testing.T) event.Notification {
	t.Helper()
	select {
	case n := <-f.events:
		return n
	default:
		t.Fatal("expected a notification, channel empty")
		return nil
	}
}

func uintPtr(v uint64) *uint64 {
	return &v
}

func testKey() position.Key {
	return position.Key{
		Account:    uuid.MustParse("2f1c8e6a-9d34-4c1b-8a1e-5b6f7c8d9e0f"),
		Instrument: "USDC",
	}
}
