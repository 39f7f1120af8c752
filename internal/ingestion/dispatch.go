package ingestion

import (
	"context"

	"github.com/rs/zerolog"

	"PosCache/internal/cache"
	"PosCache/internal/fault"
)

// Dispatcher drains the request channel and applies each request to the
// cache service.
//
// Ack policy: deterministic rejections (bad payloads, validation,
// authorization, consistency faults) are acked, since redelivery would
// only repeat the rejection. Availability faults are nacked so JetStream
// redelivers once the ledger is back.
type Dispatcher struct {
	svc      *cache.Service
	requests <-chan RawRequest
	log      zerolog.Logger
}

func NewDispatcher(svc *cache.Service, requests <-chan RawRequest, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		svc:      svc,
		requests: requests,
		log:      log,
	}
}

func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-d.requests:
			if !ok {
				return nil
			}
			d.handle(ctx, raw)
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, raw RawRequest) {
	err := d.apply(ctx, raw)
	if err == nil {
		raw.Ack()
		return
	}

	if fault.IsClass(err, fault.ClassAvailability) {
		d.log.Warn().Str("op", string(raw.Op)).Err(err).Msg("request deferred, ledger unavailable")
		raw.Nak()
		return
	}

	d.log.Warn().Str("op", string(raw.Op)).Err(err).Msg("request rejected")
	raw.Ack()
}

func (d *Dispatcher) apply(ctx context.Context, raw RawRequest) error {
	switch raw.Op {
	case OpPushAbsolute:
		req, err := ParsePushAbsolute(raw.Data)
		if err != nil {
			return err
		}
		return d.svc.PushAbsolute(ctx, req.Writer, req.Account, req.Instrument, req.Collateral, req.Debt, req.Opts)

	case OpPushDelta:
		req, err := ParsePushDelta(raw.Data)
		if err != nil {
			return err
		}
		return d.svc.PushDelta(ctx, req.Writer, req.Account, req.Instrument, req.CollateralDelta, req.DebtDelta, req.Opts)

	case OpBatchPushAbsolute:
		req, err := ParseBatchPushAbsolute(raw.Data)
		if err != nil {
			return err
		}
		return d.svc.BatchPushAbsolute(ctx, req.Writer, req.Accounts, req.Instruments, req.Collateral, req.Debt)

	case OpBatchPushDelta:
		req, err := ParseBatchPushDelta(raw.Data)
		if err != nil {
			return err
		}
		return d.svc.BatchPushDelta(ctx, req.Writer, req.Accounts, req.Instruments, req.CollateralDelta, req.DebtDelta)

	case OpClear:
		req, err := ParseClear(raw.Data)
		if err != nil {
			return err
		}
		if req.ExpiredOnly {
			_, err := d.svc.ClearExpired(ctx, req.Account)
			return err
		}
		return d.svc.Clear(ctx, req.Caller, req.Account)

	case OpRetry:
		req, err := ParseRetry(raw.Data)
		if err != nil {
			return err
		}
		return d.svc.Retry(ctx, req.Caller, req.Account, req.Instrument)

	case OpRefreshModules:
		req, err := ParseRefreshModules(raw.Data)
		if err != nil {
			return err
		}
		return d.svc.RefreshModules(ctx, req.Caller)
	}

	d.log.Error().Str("op", string(raw.Op)).Str("subject", raw.Subject).Msg("unknown operation")
	return nil
}
