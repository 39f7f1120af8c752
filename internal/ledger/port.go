// Package ledger exposes read-only access to the authoritative position
// balances. The cache consults it to cross-check pushed values, to serve
// reads whose cached entry is stale, and to resync entries administratively.
package ledger

import (
	"context"

	"PosCache/internal/position"
)

// Port reads the ledger's current truth for one side of a position.
// Either call may fail; callers treat a failure as the ledger being
// unavailable, never as a zero balance.
type Port interface {
	Collateral(ctx context.Context, account position.AccountID, instrument position.Instrument) (uint64, error)
	Debt(ctx context.Context, account position.AccountID, instrument position.Instrument) (uint64, error)
}
