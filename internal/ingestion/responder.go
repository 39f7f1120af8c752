package ingestion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"PosCache/internal/cache"
	"PosCache/internal/fault"
)

// Responder serves read queries over core NATS request-reply. Reads do not
// need JetStream durability; a caller that gets no reply retries.
type Responder struct {
	nc   *nats.Conn
	svc  *cache.Service
	log  zerolog.Logger
	subs []*nats.Subscription
}

const (
	SubjectQueryGet   = "poscache.query.get"
	SubjectQueryBatch = "poscache.query.batch"
	SubjectQueryStats = "poscache.query.stats"

	queryQueueGroup = "poscache-query"
)

type getQueryJSON struct {
	Account    string `json:"account"`
	Instrument string `json:"instrument"`
}

type batchQueryJSON struct {
	Accounts    []string `json:"accounts"`
	Instruments []string `json:"instruments"`
}

type errorJSON struct {
	Class  string `json:"class"`
	Code   string `json:"code"`
	Detail string `json:"detail"`
}

type getReplyJSON struct {
	Collateral uint64     `json:"collateral"`
	Debt       uint64     `json:"debt"`
	Valid      bool       `json:"valid"`
	Error      *errorJSON `json:"error,omitempty"`
}

type batchReplyJSON struct {
	Collateral []uint64   `json:"collateral,omitempty"`
	Debt       []uint64   `json:"debt,omitempty"`
	Valid      []bool     `json:"valid,omitempty"`
	Error      *errorJSON `json:"error,omitempty"`
}

type statsReplyJSON struct {
	TotalKeys         int    `json:"total_keys"`
	ValidEntries      int    `json:"valid_entries"`
	CacheTTLSec       int    `json:"cache_ttl_sec"`
	ModuleTTLSec      int    `json:"module_ttl_sec"`
	LastModuleRefresh string `json:"last_module_refresh,omitempty"`
}

func NewResponder(nc *nats.Conn, svc *cache.Service, log zerolog.Logger) *Responder {
	return &Responder{
		nc:  nc,
		svc: svc,
		log: log,
	}
}

// Start registers the queue subscriptions. ctx bounds the service calls
// made on behalf of in-flight requests.
func (r *Responder) Start(ctx context.Context) error {
	handlers := map[string]nats.MsgHandler{
		SubjectQueryGet:   func(msg *nats.Msg) { r.handleGet(ctx, msg) },
		SubjectQueryBatch: func(msg *nats.Msg) { r.handleBatch(ctx, msg) },
		SubjectQueryStats: func(msg *nats.Msg) { r.handleStats(ctx, msg) },
	}
	for subject, handler := range handlers {
		sub, err := r.nc.QueueSubscribe(subject, queryQueueGroup, handler)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", subject, err)
		}
		r.subs = append(r.subs, sub)
		r.log.Info().Str("subject", subject).Msg("query responder listening")
	}
	return nil
}

func (r *Responder) Stop() {
	for _, sub := range r.subs {
		sub.Unsubscribe()
	}
}

func (r *Responder) handleGet(ctx context.Context, msg *nats.Msg) {
	var q getQueryJSON
	if err := json.Unmarshal(msg.Data, &q); err != nil {
		r.reply(msg, getReplyJSON{Error: wireError(fault.InvalidInput("malformed query: %v", err))})
		return
	}
	account, err := uuid.Parse(q.Account)
	if err != nil {
		r.reply(msg, getReplyJSON{Error: wireError(fault.InvalidInput("parse account: %v", err))})
		return
	}

	collateral, debt, valid, err := r.svc.GetWithValidity(ctx, account, q.Instrument)
	if err != nil {
		r.reply(msg, getReplyJSON{Error: wireError(err)})
		return
	}
	r.reply(msg, getReplyJSON{Collateral: collateral, Debt: debt, Valid: valid})
}

func (r *Responder) handleBatch(ctx context.Context, msg *nats.Msg) {
	var q batchQueryJSON
	if err := json.Unmarshal(msg.Data, &q); err != nil {
		r.reply(msg, batchReplyJSON{Error: wireError(fault.InvalidInput("malformed query: %v", err))})
		return
	}
	accounts, err := parseAccounts(q.Accounts)
	if err != nil {
		r.reply(msg, batchReplyJSON{Error: wireError(fault.InvalidInput("%v", err))})
		return
	}

	res, err := r.svc.BatchGetWithValidity(ctx, accounts, q.Instruments)
	if err != nil {
		r.reply(msg, batchReplyJSON{Error: wireError(err)})
		return
	}
	r.reply(msg, batchReplyJSON{Collateral: res.Collateral, Debt: res.Debt, Valid: res.Valid})
}

func (r *Responder) handleStats(ctx context.Context, msg *nats.Msg) {
	stats := r.svc.Stats(ctx)
	reply := statsReplyJSON{
		TotalKeys:    stats.TotalKeys,
		ValidEntries: stats.ValidEntries,
		CacheTTLSec:  int(stats.CacheTTL.Seconds()),
		ModuleTTLSec: int(stats.ModuleTTL.Seconds()),
	}
	if !stats.LastModuleRefresh.IsZero() {
		reply.LastModuleRefresh = stats.LastModuleRefresh.UTC().Format(time.RFC3339Nano)
	}
	r.reply(msg, reply)
}

func (r *Responder) reply(msg *nats.Msg, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		r.log.Error().Err(err).Msg("marshal reply")
		return
	}
	if err := msg.Respond(data); err != nil {
		r.log.Warn().Err(err).Msg("respond failed")
	}
}

func wireError(err error) *errorJSON {
	var fe *fault.Error
	if errors.As(err, &fe) {
		return &errorJSON{
			Class:  fe.Class.String(),
			Code:   fe.Code.String(),
			Detail: fe.Detail,
		}
	}
	return &errorJSON{Class: "unknown", Code: "Unknown", Detail: err.Error()}
}
