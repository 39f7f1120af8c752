package cache

import (
	"context"
	"time"

	"PosCache/internal/fault"
	"PosCache/internal/position"
)

// Get returns the (collateral, debt) for one key. A valid cached entry is
// served lock-free from the read snapshot; a missing or expired entry falls
// back to a direct ledger read without mutating the cache. A fallback that
// cannot reach the ledger fails the whole read.
func (s *Service) Get(
	ctx context.Context,
	account position.AccountID,
	instrument position.Instrument,
) (uint64, uint64, error) {
	collateral, debt, _, err := s.GetWithValidity(ctx, account, instrument)
	return collateral, debt, err
}

// GetWithValidity is Get plus a flag telling the caller whether the values
// came from a live cache entry (true) or straight from the ledger (false).
func (s *Service) GetWithValidity(
	ctx context.Context,
	account position.AccountID,
	instrument position.Instrument,
) (uint64, uint64, bool, error) {
	start := time.Now()
	collateral, debt, live, err := s.get(ctx, account, instrument)
	s.observeRead(readOutcome(live, err), start)
	return collateral, debt, live, err
}

func (s *Service) get(
	ctx context.Context,
	account position.AccountID,
	instrument position.Instrument,
) (uint64, uint64, bool, error) {
	if err := position.ValidateKey(account, instrument); err != nil {
		return 0, 0, false, err
	}

	key := position.Key{Account: account, Instrument: instrument}
	e, ok := s.store.Lookup(key)
	if s.store.Valid(e, ok) {
		return e.Collateral, e.Debt, true, nil
	}

	collateral, err := s.ledger.Collateral(ctx, account, instrument)
	if err != nil {
		return 0, 0, false, fault.LedgerUnavailable(err)
	}
	debt, err := s.ledger.Debt(ctx, account, instrument)
	if err != nil {
		return 0, 0, false, fault.LedgerUnavailable(err)
	}
	return collateral, debt, false, nil
}

func (s *Service) observeRead(outcome string, start time.Time) {
	if s.metrics == nil {
		return
	}
	s.metrics.Reads.WithLabelValues(outcome).Inc()
	s.metrics.ReadDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
}

func readOutcome(live bool, err error) string {
	switch {
	case err != nil:
		return "error"
	case live:
		return "hit"
	default:
		return "fallback"
	}
}
