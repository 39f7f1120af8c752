package cache

import (
	"context"
	"time"

	"PosCache/internal/authority"
	"PosCache/internal/fault"
	"PosCache/internal/position"
)

// BatchResult carries one batch read's parallel outputs, index-aligned
// with the request slices.
type BatchResult struct {
	Collateral []uint64
	Debt       []uint64
	Valid      []bool
}

// BatchGetWithValidity resolves many keys in request order. Items are
// independent: a key whose fallback ledger read fails yields zero values
// and valid=false instead of aborting its neighbors.
func (s *Service) BatchGetWithValidity(
	ctx context.Context,
	accounts []position.AccountID,
	instruments []position.Instrument,
) (*BatchResult, error) {
	start := time.Now()
	res, err := s.batchGet(ctx, accounts, instruments)
	s.observeBatch("get", len(accounts), start, err)
	return res, err
}

// BatchGet is BatchGetWithValidity without the validity flags.
func (s *Service) BatchGet(
	ctx context.Context,
	accounts []position.AccountID,
	instruments []position.Instrument,
) ([]uint64, []uint64, error) {
	res, err := s.BatchGetWithValidity(ctx, accounts, instruments)
	if err != nil {
		return nil, nil, err
	}
	return res.Collateral, res.Debt, nil
}

func (s *Service) batchGet(
	ctx context.Context,
	accounts []position.AccountID,
	instruments []position.Instrument,
) (*BatchResult, error) {
	if err := checkBatchShape(len(accounts), len(instruments)); err != nil {
		return nil, err
	}

	res := &BatchResult{
		Collateral: make([]uint64, len(accounts)),
		Debt:       make([]uint64, len(accounts)),
		Valid:      make([]bool, len(accounts)),
	}
	for i := range accounts {
		collateral, debt, live, err := s.get(ctx, accounts[i], instruments[i])
		if err != nil {
			continue
		}
		res.Collateral[i] = collateral
		res.Debt[i] = debt
		res.Valid[i] = live
	}
	return res, nil
}

// BatchPushAbsolute commits many absolute snapshots as one atomic unit in
// auto-version mode. Every item passes authorization, validation, and its
// ledger cross-check before anything commits; the first failure aborts the
// whole batch with no state change. Duplicate keys within the batch are
// applied in order, each advancing the version again.
func (s *Service) BatchPushAbsolute(
	ctx context.Context,
	writer authority.Identity,
	accounts []position.AccountID,
	instruments []position.Instrument,
	collateral, debt []uint64,
) error {
	start := time.Now()
	err := s.batchPushAbsolute(ctx, writer, accounts, instruments, collateral, debt)
	s.observeBatch("push_absolute", len(accounts), start, err)
	return err
}

func (s *Service) batchPushAbsolute(
	ctx context.Context,
	writer authority.Identity,
	accounts []position.AccountID,
	instruments []position.Instrument,
	collateral, debt []uint64,
) error {
	if err := checkBatchShape(len(accounts), len(instruments), len(collateral), len(debt)); err != nil {
		return err
	}
	if err := s.authorizeWriter(ctx, writer); err != nil {
		return err
	}

	committed := make([]position.Key, 0, len(accounts))
	err := s.store.Update(func(tx *Tx) error {
		for i := range accounts {
			if err := position.ValidateKey(accounts[i], instruments[i]); err != nil {
				return err
			}
			key := position.Key{Account: accounts[i], Instrument: instruments[i]}
			if err := s.crossCheck(ctx, tx, key, writer, collateral[i], debt[i]); err != nil {
				return err
			}
			tx.Put(key, collateral[i], debt[i], tx.CurrentVersion(key)+1)
			committed = append(committed, key)
		}
		return nil
	})
	if err != nil {
		s.log.Debug().
			Str("writer", string(writer)).
			Int("items", len(accounts)).
			Err(err).
			Msg("batch absolute push rejected")
		return err
	}

	for i, key := range committed {
		s.emitCached(key, collateral[i], debt[i])
	}
	return nil
}

// BatchPushDelta applies many signed adjustments as one atomic unit in
// auto-version mode, with the same per-item semantics as PushDelta
// (including the degraded ledger-resync path for stale entries).
func (s *Service) BatchPushDelta(
	ctx context.Context,
	writer authority.Identity,
	accounts []position.AccountID,
	instruments []position.Instrument,
	collateralDelta, debtDelta []int64,
) error {
	start := time.Now()
	err := s.batchPushDelta(ctx, writer, accounts, instruments, collateralDelta, debtDelta)
	s.observeBatch("push_delta", len(accounts), start, err)
	return err
}

func (s *Service) batchPushDelta(
	ctx context.Context,
	writer authority.Identity,
	accounts []position.AccountID,
	instruments []position.Instrument,
	collateralDelta, debtDelta []int64,
) error {
	if err := checkBatchShape(len(accounts), len(instruments), len(collateralDelta), len(debtDelta)); err != nil {
		return err
	}
	if err := s.authorizeWriter(ctx, writer); err != nil {
		return err
	}

	type commit struct {
		key        position.Key
		collateral uint64
		debt       uint64
	}
	committed := make([]commit, 0, len(accounts))

	err := s.store.Update(func(tx *Tx) error {
		for i := range accounts {
			if err := position.ValidateKey(accounts[i], instruments[i]); err != nil {
				return err
			}
			key := position.Key{Account: accounts[i], Instrument: instruments[i]}

			var nextCollateral, nextDebt uint64
			cur, ok := tx.Entry(key)
			if tx.Valid(cur, ok) {
				var err error
				nextCollateral, err = applyDelta(cur.Collateral, collateralDelta[i], "collateral")
				if err != nil {
					return err
				}
				nextDebt, err = applyDelta(cur.Debt, debtDelta[i], "debt")
				if err != nil {
					return err
				}
			} else {
				var err error
				nextCollateral, nextDebt, err = s.ledgerRead(ctx, key, writer,
					attempted(cur.Collateral, collateralDelta[i]), attempted(cur.Debt, debtDelta[i]))
				if err != nil {
					return err
				}
			}

			tx.Put(key, nextCollateral, nextDebt, tx.CurrentVersion(key)+1)
			committed = append(committed, commit{key, nextCollateral, nextDebt})
		}
		return nil
	})
	if err != nil {
		s.log.Debug().
			Str("writer", string(writer)).
			Int("items", len(accounts)).
			Err(err).
			Msg("batch delta push rejected")
		return err
	}

	for _, c := range committed {
		s.emitCached(c.key, c.collateral, c.debt)
	}
	return nil
}

// checkBatchShape validates the parallel-slice contract shared by every
// batch operation. The first length is the reference; the rest must match.
func checkBatchShape(lengths ...int) error {
	n := lengths[0]
	if n == 0 {
		return fault.EmptyArray()
	}
	if n > MaxBatch {
		return fault.BatchTooLarge(n, MaxBatch)
	}
	for _, l := range lengths[1:] {
		if l != n {
			return fault.ArrayLengthMismatch(n, l)
		}
	}
	return nil
}

func (s *Service) observeBatch(op string, size int, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	if op != "get" {
		s.metrics.WriteDuration.WithLabelValues("batch_"+op).Observe(time.Since(start).Seconds())
	}
	status := "ok"
	if err != nil {
		status = rejectReason(err)
	} else {
		s.metrics.BatchSize.Observe(float64(size))
	}
	s.metrics.BatchRequests.WithLabelValues(op, status).Inc()
}
