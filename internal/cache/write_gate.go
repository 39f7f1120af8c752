package cache

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"

	"PosCache/internal/authority"
	"PosCache/internal/event"
	"PosCache/internal/fault"
	"PosCache/internal/position"
)

// RequestToken carries the idempotency pair for an ordered write. RequestID
// must be globally unique per logical request; Seq is the writer's strictly
// increasing counter for the key.
type RequestToken struct {
	RequestID uuid.UUID
	Seq       uint64
}

// PushOptions selects the versioning mode of a push. A nil Version means
// auto-increment from the current version. A non-nil Token makes the push
// an ordered write subject to replay suppression and seq checking.
type PushOptions struct {
	Version *uint64
	Token   *RequestToken
}

// PushAbsolute commits a full (collateral, debt) snapshot for one key after
// cross-checking both values against the ledger. Version and ordering
// checks run before the ledger is touched, so a replayed or stale push
// never causes a ledger read.
func (s *Service) PushAbsolute(
	ctx context.Context,
	writer authority.Identity,
	account position.AccountID,
	instrument position.Instrument,
	collateral, debt uint64,
	opts PushOptions,
) error {
	start := time.Now()
	err := s.pushAbsolute(ctx, writer, account, instrument, collateral, debt, opts)
	s.observeWrite("absolute", start, err)
	return err
}

func (s *Service) pushAbsolute(
	ctx context.Context,
	writer authority.Identity,
	account position.AccountID,
	instrument position.Instrument,
	collateral, debt uint64,
	opts PushOptions,
) error {
	if err := s.authorizeWriter(ctx, writer); err != nil {
		return err
	}
	if err := position.ValidateKey(account, instrument); err != nil {
		return err
	}

	key := position.Key{Account: account, Instrument: instrument}
	var replayed bool

	err := s.store.Update(func(tx *Tx) error {
		version, replay, err := s.gateOrdered(tx, key, opts)
		if err != nil {
			return err
		}
		if replay {
			replayed = true
			return nil
		}
		if err := s.crossCheck(ctx, tx, key, writer, collateral, debt); err != nil {
			return err
		}
		tx.Put(key, collateral, debt, version)
		if opts.Token != nil {
			tx.SetDedup(key, position.DedupRecord{
				LastRequestID: opts.Token.RequestID,
				LastSeq:       opts.Token.Seq,
			})
		}
		return nil
	})
	if err != nil {
		s.log.Debug().
			Str("account", account.String()).
			Str("instrument", instrument).
			Str("writer", string(writer)).
			Err(err).
			Msg("absolute push rejected")
		return err
	}

	if replayed {
		s.noteReplay(key, opts)
		return nil
	}

	s.emitCached(key, collateral, debt)
	return nil
}

// PushDelta applies signed adjustments on top of a valid cached entry. On a
// missing or expired entry the deltas are discarded and the entry is
// resynced from the ledger instead, same as an administrative retry.
func (s *Service) PushDelta(
	ctx context.Context,
	writer authority.Identity,
	account position.AccountID,
	instrument position.Instrument,
	collateralDelta, debtDelta int64,
	opts PushOptions,
) error {
	start := time.Now()
	mode, err := s.pushDelta(ctx, writer, account, instrument, collateralDelta, debtDelta, opts)
	s.observeWrite(mode, start, err)
	return err
}

func (s *Service) pushDelta(
	ctx context.Context,
	writer authority.Identity,
	account position.AccountID,
	instrument position.Instrument,
	collateralDelta, debtDelta int64,
	opts PushOptions,
) (string, error) {
	mode := "delta"
	if err := s.authorizeWriter(ctx, writer); err != nil {
		return mode, err
	}
	if err := position.ValidateKey(account, instrument); err != nil {
		return mode, err
	}

	key := position.Key{Account: account, Instrument: instrument}
	var (
		replayed            bool
		committedCollateral uint64
		committedDebt       uint64
	)

	err := s.store.Update(func(tx *Tx) error {
		version, replay, err := s.gateOrdered(tx, key, opts)
		if err != nil {
			return err
		}
		if replay {
			replayed = true
			return nil
		}

		cur, ok := tx.Entry(key)
		if tx.Valid(cur, ok) {
			collateral, err := applyDelta(cur.Collateral, collateralDelta, "collateral")
			if err != nil {
				return err
			}
			debt, err := applyDelta(cur.Debt, debtDelta, "debt")
			if err != nil {
				return err
			}
			committedCollateral, committedDebt = collateral, debt
		} else {
			// Stale base: the deltas are meaningless, resync from the ledger.
			mode = "delta_degraded"
			collateral, debt, err := s.ledgerRead(ctx, key, writer,
				attempted(cur.Collateral, collateralDelta), attempted(cur.Debt, debtDelta))
			if err != nil {
				return err
			}
			committedCollateral, committedDebt = collateral, debt
		}

		tx.Put(key, committedCollateral, committedDebt, version)
		if opts.Token != nil {
			tx.SetDedup(key, position.DedupRecord{
				LastRequestID: opts.Token.RequestID,
				LastSeq:       opts.Token.Seq,
			})
		}
		return nil
	})
	if err != nil {
		s.log.Debug().
			Str("account", account.String()).
			Str("instrument", instrument).
			Str("writer", string(writer)).
			Err(err).
			Msg("delta push rejected")
		return mode, err
	}

	if replayed {
		s.noteReplay(key, opts)
		return mode, nil
	}

	s.emitCached(key, committedCollateral, committedDebt)
	return mode, nil
}

// gateOrdered resolves the commit version and enforces replay and seq
// rules. It returns replay=true when the push is a byte-for-byte idempotent
// repeat that must be suppressed without touching state.
//
// Evaluation order matters: the replay check runs before the seq check, so
// a replayed request whose seq was already consumed is still reported as a
// replay, not an ordering violation.
func (s *Service) gateOrdered(tx *Tx, key position.Key, opts PushOptions) (uint64, bool, error) {
	current := tx.CurrentVersion(key)

	var version uint64
	if opts.Version == nil {
		if opts.Token != nil {
			if rec, ok := tx.Dedup(key); ok && rec.LastRequestID == opts.Token.RequestID {
				return current, true, nil
			}
		}
		version = current + 1
	} else {
		version = *opts.Version
		if version < current {
			return 0, false, fault.StaleVersion(version, current)
		}
		if version == current {
			if opts.Token != nil {
				if rec, ok := tx.Dedup(key); ok && rec.LastRequestID == opts.Token.RequestID {
					return version, true, nil
				}
			}
			return 0, false, fault.StaleVersion(version, current)
		}
	}

	if opts.Token != nil {
		rec, ok := tx.Dedup(key)
		if ok && opts.Token.Seq <= rec.LastSeq {
			return 0, false, fault.OutOfOrderSeq(opts.Token.Seq, rec.LastSeq)
		}
	}

	if s.metrics != nil && version > current+1 {
		s.metrics.VersionSkips.Inc()
	}
	return version, false, nil
}

// crossCheck verifies an absolute push against the authoritative ledger.
// Any ledger read failure aborts the write; a value disagreement is a hard
// consistency failure, never coerced.
func (s *Service) crossCheck(
	ctx context.Context,
	tx *Tx,
	key position.Key,
	writer authority.Identity,
	collateral, debt uint64,
) error {
	ledgerCollateral, ledgerDebt, err := s.ledgerRead(ctx, key, writer, collateral, debt)
	if err != nil {
		return err
	}
	if ledgerCollateral != collateral || ledgerDebt != debt {
		if s.metrics != nil {
			s.metrics.LedgerCrossChecks.WithLabelValues("mismatch").Inc()
		}
		return fault.LedgerMismatch(
			"pushed (%d, %d) disagrees with ledger (%d, %d) for %s/%s",
			collateral, debt, ledgerCollateral, ledgerDebt, key.Account, key.Instrument)
	}
	if s.metrics != nil {
		s.metrics.LedgerCrossChecks.WithLabelValues("match").Inc()
	}
	return nil
}

// ledgerRead fetches both balances, emitting CacheUpdateFailed with the
// attempted values when either read fails.
func (s *Service) ledgerRead(
	ctx context.Context,
	key position.Key,
	writer authority.Identity,
	attemptedCollateral, attemptedDebt uint64,
) (uint64, uint64, error) {
	collateral, err := s.ledger.Collateral(ctx, key.Account, key.Instrument)
	if err == nil {
		var debt uint64
		debt, err = s.ledger.Debt(ctx, key.Account, key.Instrument)
		if err == nil {
			return collateral, debt, nil
		}
	}

	if s.metrics != nil {
		s.metrics.LedgerCrossChecks.WithLabelValues("unavailable").Inc()
	}
	s.emit(event.CacheUpdateFailed{
		Account:             key.Account,
		Instrument:          key.Instrument,
		Writer:              string(writer),
		AttemptedCollateral: attemptedCollateral,
		AttemptedDebt:       attemptedDebt,
		Reason:              err.Error(),
		Timestamp:           s.store.Now(),
	})
	return 0, 0, fault.LedgerUnavailable(err)
}

func (s *Service) authorizeWriter(ctx context.Context, writer authority.Identity) error {
	err := s.auth.AuthorizeWriter(ctx, writer)
	if err != nil && s.metrics != nil {
		s.metrics.AuthorityRejections.WithLabelValues(fault.CodeOf(err).String()).Inc()
	}
	return err
}

func (s *Service) emitCached(key position.Key, collateral, debt uint64) {
	e, ok := s.store.Lookup(key)
	if !ok {
		return
	}
	s.emit(event.PositionCached{
		Account:    key.Account,
		Instrument: key.Instrument,
		Collateral: collateral,
		Debt:       debt,
		Version:    e.Version,
		Timestamp:  e.LastWrite,
	})
}

func (s *Service) noteReplay(key position.Key, opts PushOptions) {
	if s.metrics != nil {
		s.metrics.ReplaysIgnored.Inc()
	}
	s.emit(event.IdempotentRequestIgnored{
		Account:    key.Account,
		Instrument: key.Instrument,
		RequestID:  opts.Token.RequestID,
		Seq:        opts.Token.Seq,
		Timestamp:  s.store.Now(),
	})
}

// applyDelta adds a signed delta to an unsigned balance, rejecting
// underflow and overflow.
func applyDelta(base uint64, delta int64, field string) (uint64, error) {
	if delta >= 0 {
		d := uint64(delta)
		if base > math.MaxUint64-d {
			return 0, fault.InvalidDelta("%s delta %d overflows balance %d", field, delta, base)
		}
		return base + d, nil
	}
	d := uint64(-(delta + 1)) + 1 // safe for math.MinInt64
	if d > base {
		return 0, fault.InvalidDelta("%s delta %d drives balance %d below zero", field, delta, base)
	}
	return base - d, nil
}

// attempted estimates the value a delta push was trying to commit, for
// failure notifications only. The stale base is clamped at zero.
func attempted(base uint64, delta int64) uint64 {
	v, err := applyDelta(base, delta, "")
	if err != nil {
		return 0
	}
	return v
}

func rejectReason(err error) string {
	return fault.CodeOf(err).String()
}
