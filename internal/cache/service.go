package cache

import (
	"time"

	"github.com/rs/zerolog"

	"PosCache/internal/authority"
	"PosCache/internal/event"
	"PosCache/internal/ledger"
	"PosCache/internal/observability"
)

// MaxBatch is the largest number of items a batch operation accepts.
const MaxBatch = 100

// Service wires the store to the ledger, the writer allow-list, and the
// notification channel, and exposes every cache operation.
type Service struct {
	store   *Store
	ledger  ledger.Port
	auth    *authority.ModuleCache
	events  chan<- event.Notification
	log     zerolog.Logger
	metrics *observability.Metrics
}

func NewService(
	store *Store,
	ledgerPort ledger.Port,
	auth *authority.ModuleCache,
	events chan<- event.Notification,
	log zerolog.Logger,
	metrics *observability.Metrics,
) *Service {
	return &Service{
		store:   store,
		ledger:  ledgerPort,
		auth:    auth,
		events:  events,
		log:     log,
		metrics: metrics,
	}
}

// Store exposes the underlying store, mainly for readiness probing and
// tests.
func (s *Service) Store() *Store {
	return s.store
}

// emit delivers a notification without blocking the write path. A full
// channel drops the notification and counts the drop.
func (s *Service) emit(n event.Notification) {
	if s.events == nil {
		return
	}
	select {
	case s.events <- n:
		if s.metrics != nil {
			s.metrics.EventsEmitted.WithLabelValues(n.Type().String()).Inc()
		}
	default:
		if s.metrics != nil {
			s.metrics.EventDrops.Inc()
		}
		s.log.Warn().Str("event_type", n.Type().String()).Msg("notification channel full, dropping")
	}
}

// observeWrite records write metrics for one gate decision.
func (s *Service) observeWrite(mode string, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	s.metrics.WriteDuration.WithLabelValues(mode).Observe(time.Since(start).Seconds())
	if err == nil {
		s.metrics.WritesAccepted.WithLabelValues(mode).Inc()
		return
	}
	s.metrics.WritesRejected.WithLabelValues(mode, rejectReason(err)).Inc()
}
