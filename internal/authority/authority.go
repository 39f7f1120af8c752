// Package authority decides who may write to the position cache.
//
// Two independent checks both must pass: the caller must hold the writer
// role grant (AuthorityPort) and must be one of the identities currently
// resolved from the module registry (RegistryPort). Resolved identities are
// cached with their own short TTL so a registry lookup is not paid on every
// write; a stale entry triggers a synchronous re-resolution before the
// authorization decision is made.
package authority

import (
	"context"
	"fmt"
	"sync"
	"time"

	"PosCache/internal/fault"
)

// Identity is a resolved module or user identity (a registry address for
// modules, the canonical account string for users).
type Identity string

// Action names a permission evaluated by the authority service.
type Action string

const (
	ActionWritePositions Action = "positions.cache.write"
	ActionAdminister     Action = "positions.cache.admin"
)

// WriterModules are the logical registry keys whose resolved identities
// form the writer allow-list.
var WriterModules = []string{
	"collateral_ledger",
	"debt_ledger",
	"router",
	"business_logic",
}

// AuthorityPort evaluates role grants. External collaborator; may fail.
type AuthorityPort interface {
	HasRole(ctx context.Context, action Action, identity Identity) (bool, error)
}

// RegistryPort resolves a logical module key to its live identity.
// A failed resolution aborts the calling operation.
type RegistryPort interface {
	Resolve(ctx context.Context, logicalKey string) (Identity, error)
}

type allowEntry struct {
	identity Identity
	cachedAt time.Time
}

// ModuleCache is the short-TTL cache of resolved writer identities.
type ModuleCache struct {
	authority AuthorityPort
	registry  RegistryPort
	ttl       time.Duration
	now       func() time.Time

	mu          sync.Mutex
	entries     map[string]allowEntry
	lastRefresh time.Time
}

func NewModuleCache(authority AuthorityPort, registry RegistryPort, ttl time.Duration) *ModuleCache {
	return &ModuleCache{
		authority: authority,
		registry:  registry,
		ttl:       ttl,
		now:       time.Now,
		entries:   make(map[string]allowEntry, len(WriterModules)),
	}
}

// SetClock replaces the wall clock. Intended for tests.
func (mc *ModuleCache) SetClock(now func() time.Time) {
	mc.now = now
}

// AuthorizeWriter returns nil only when identity both holds the writer role
// and appears in the freshly-resolved allow-list. Role grant without
// allow-list membership (or the reverse) is rejected.
func (mc *ModuleCache) AuthorizeWriter(ctx context.Context, identity Identity) error {
	ok, err := mc.authority.HasRole(ctx, ActionWritePositions, identity)
	if err != nil {
		return fmt.Errorf("role check: %w", err)
	}
	if !ok {
		return fault.MissingRole(string(ActionWritePositions), string(identity))
	}

	allowed, err := mc.isAllowListed(ctx, identity)
	if err != nil {
		return err
	}
	if !allowed {
		return fault.Unauthorized(string(identity))
	}
	return nil
}

// RequireAdmin returns nil when identity holds the administrative role.
func (mc *ModuleCache) RequireAdmin(ctx context.Context, identity Identity) error {
	ok, err := mc.authority.HasRole(ctx, ActionAdminister, identity)
	if err != nil {
		return fmt.Errorf("role check: %w", err)
	}
	if !ok {
		return fault.OnlyAdmin(string(identity))
	}
	return nil
}

// IsAdmin is RequireAdmin without the typed failure, for callers that
// branch rather than abort (the owner-or-admin check on clear).
func (mc *ModuleCache) IsAdmin(ctx context.Context, identity Identity) (bool, error) {
	ok, err := mc.authority.HasRole(ctx, ActionAdminister, identity)
	if err != nil {
		return false, fmt.Errorf("role check: %w", err)
	}
	return ok, nil
}

func (mc *ModuleCache) isAllowListed(ctx context.Context, identity Identity) (bool, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	now := mc.now()
	for _, key := range WriterModules {
		entry, ok := mc.entries[key]
		if !ok || now.Sub(entry.cachedAt) > mc.ttl {
			resolved, err := mc.registry.Resolve(ctx, key)
			if err != nil {
				return false, fmt.Errorf("resolve module %s: %w", key, err)
			}
			entry = allowEntry{identity: resolved, cachedAt: now}
			mc.entries[key] = entry
		}
		if entry.identity == identity {
			return true, nil
		}
	}
	return false, nil
}

// Refresh force-resolves every writer module regardless of entry age.
// It is the only way to react to a registry change before natural expiry.
func (mc *ModuleCache) Refresh(ctx context.Context) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	now := mc.now()
	fresh := make(map[string]allowEntry, len(WriterModules))
	for _, key := range WriterModules {
		resolved, err := mc.registry.Resolve(ctx, key)
		if err != nil {
			return fmt.Errorf("resolve module %s: %w", key, err)
		}
		fresh[key] = allowEntry{identity: resolved, cachedAt: now}
	}

	mc.entries = fresh
	mc.lastRefresh = now
	return nil
}

// LastRefresh returns when Refresh last completed (zero if never).
func (mc *ModuleCache) LastRefresh() time.Time {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return mc.lastRefresh
}

// TTL returns the allow-list entry lifetime.
func (mc *ModuleCache) TTL() time.Duration {
	return mc.ttl
}
