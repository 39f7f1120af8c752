package cache

import (
	"context"
	"time"

	"github.com/google/uuid"

	"PosCache/internal/authority"
	"PosCache/internal/event"
	"PosCache/internal/fault"
	"PosCache/internal/position"
)

// Stats is a point-in-time summary of store and allow-list state. Validity
// is computed at call time against the TTL, not maintained incrementally.
type Stats struct {
	TotalKeys         int
	ValidEntries      int
	CacheTTL          time.Duration
	ModuleTTL         time.Duration
	LastModuleRefresh time.Time
}

// ClearExpired drops the account's entries that have outlived the TTL.
// Entries still within TTL are untouched and an account with nothing
// expired is a no-op, not an error. Version floors and dedup records
// survive, so later writes still face the same ordering rules.
func (s *Service) ClearExpired(ctx context.Context, account position.AccountID) (int, error) {
	if account == uuid.Nil {
		return 0, fault.InvalidInput("account must not be the zero identity")
	}

	removed := 0
	err := s.store.Update(func(tx *Tx) error {
		for _, key := range tx.AccountKeys(account) {
			e, ok := tx.Entry(key)
			if tx.Valid(e, ok) {
				continue
			}
			tx.Delete(key)
			removed++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if removed > 0 && s.metrics != nil {
		s.metrics.EntriesCleared.WithLabelValues("expired").Add(float64(removed))
	}
	return removed, nil
}

// Clear drops every entry for the account regardless of TTL. Only the
// account owner or an administrator may call it.
func (s *Service) Clear(ctx context.Context, caller authority.Identity, account position.AccountID) error {
	if account == uuid.Nil {
		return fault.InvalidInput("account must not be the zero identity")
	}
	if err := s.requireOwnerOrAdmin(ctx, caller, account); err != nil {
		return err
	}

	removed := 0
	err := s.store.Update(func(tx *Tx) error {
		for _, key := range tx.AccountKeys(account) {
			tx.Delete(key)
			removed++
		}
		return nil
	})
	if err != nil {
		return err
	}

	if removed > 0 && s.metrics != nil {
		s.metrics.EntriesCleared.WithLabelValues("manual").Add(float64(removed))
	}
	s.emit(event.CacheCleared{Account: account, Timestamp: s.store.Now()})
	s.log.Info().
		Str("account", account.String()).
		Str("caller", string(caller)).
		Int("removed", removed).
		Msg("account cache cleared")
	return nil
}

// Retry re-reads one key straight from the ledger and commits the totals
// absolutely with an auto-incremented version. It is the recovery path for
// a position stuck behind ledger unavailability, so no equality cross-check
// applies. Administrators only.
func (s *Service) Retry(
	ctx context.Context,
	caller authority.Identity,
	account position.AccountID,
	instrument position.Instrument,
) error {
	start := time.Now()
	err := s.retry(ctx, caller, account, instrument)
	s.observeWrite("retry", start, err)
	return err
}

func (s *Service) retry(
	ctx context.Context,
	caller authority.Identity,
	account position.AccountID,
	instrument position.Instrument,
) error {
	if err := s.auth.RequireAdmin(ctx, caller); err != nil {
		return err
	}
	if err := position.ValidateKey(account, instrument); err != nil {
		return err
	}

	key := position.Key{Account: account, Instrument: instrument}
	var collateral, debt uint64

	err := s.store.Update(func(tx *Tx) error {
		var err error
		collateral, debt, err = s.ledgerRead(ctx, key, caller, 0, 0)
		if err != nil {
			return err
		}
		tx.Put(key, collateral, debt, tx.CurrentVersion(key)+1)
		return nil
	})
	if err != nil {
		s.log.Warn().
			Str("account", account.String()).
			Str("instrument", instrument).
			Err(err).
			Msg("administrative retry failed")
		return err
	}

	s.emitCached(key, collateral, debt)
	return nil
}

// RefreshModules force-resolves the writer allow-list. Administrators only;
// this is the one immediate reaction to a registry change.
func (s *Service) RefreshModules(ctx context.Context, caller authority.Identity) error {
	if err := s.auth.RequireAdmin(ctx, caller); err != nil {
		return err
	}
	if err := s.auth.Refresh(ctx); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.AuthorityRefreshes.Inc()
	}
	s.emit(event.ModuleCacheRefreshed{Timestamp: s.store.Now()})
	return nil
}

// Stats summarizes the store and allow-list, updating the size gauges as a
// side effect.
func (s *Service) Stats(ctx context.Context) Stats {
	total, valid := s.store.Counts()
	if s.metrics != nil {
		s.metrics.CachedKeys.Set(float64(total))
		s.metrics.ValidEntries.Set(float64(valid))
	}
	return Stats{
		TotalKeys:         total,
		ValidEntries:      valid,
		CacheTTL:          s.store.TTL(),
		ModuleTTL:         s.auth.TTL(),
		LastModuleRefresh: s.auth.LastRefresh(),
	}
}

// requireOwnerOrAdmin admits the account owner (identity equal to the
// account's canonical string) or any administrator.
func (s *Service) requireOwnerOrAdmin(ctx context.Context, caller authority.Identity, account position.AccountID) error {
	if string(caller) == account.String() {
		return nil
	}
	admin, err := s.auth.IsAdmin(ctx, caller)
	if err != nil {
		return err
	}
	if !admin {
		if s.metrics != nil {
			s.metrics.AuthorityRejections.WithLabelValues(fault.CodeOnlyUserOrAdmin.String()).Inc()
		}
		return fault.OnlyUserOrAdmin(string(caller))
	}
	return nil
}
