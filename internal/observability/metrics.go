package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the position cache.
type Metrics struct {
	// --- Write gate ---
	WritesAccepted  *prometheus.CounterVec // mode: absolute|delta|delta_degraded|retry
	WritesRejected  *prometheus.CounterVec // mode, reason (fault code)
	WriteDuration   *prometheus.HistogramVec
	ReplaysIgnored  prometheus.Counter
	VersionSkips    prometheus.Counter
	LedgerCrossChecks *prometheus.CounterVec // outcome: match|mismatch|unavailable

	// --- Read path ---
	Reads        *prometheus.CounterVec // outcome: hit|fallback|error
	ReadDuration *prometheus.HistogramVec

	// --- Batch gateway ---
	BatchRequests *prometheus.CounterVec // op, status
	BatchSize     prometheus.Histogram

	// --- Store ---
	CachedKeys   prometheus.Gauge
	ValidEntries prometheus.Gauge
	EntriesCleared *prometheus.CounterVec // reason: expired|manual

	// --- Authority cache ---
	AuthorityResolutions *prometheus.CounterVec // trigger: stale|refresh
	AuthorityRefreshes   prometheus.Counter
	AuthorityRejections  *prometheus.CounterVec // reason

	// --- Notifications ---
	EventsEmitted *prometheus.CounterVec // event_type
	EventDrops    prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	latencyBuckets := []float64{
		0.000005, 0.00001, 0.000025, 0.00005, 0.0001,
		0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.05,
	}

	return &Metrics{
		WritesAccepted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "poscache_writes_accepted_total",
			Help: "Writes committed to the cache",
		}, []string{"mode"}),

		WritesRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "poscache_writes_rejected_total",
			Help: "Writes rejected before commit",
		}, []string{"mode", "reason"}),

		WriteDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "poscache_write_duration_seconds",
			Help:    "Write gate end-to-end latency (includes ledger cross-check)",
			Buckets: latencyBuckets,
		}, []string{"mode"}),

		ReplaysIgnored: promauto.NewCounter(prometheus.CounterOpts{
			Name: "poscache_idempotent_replays_ignored_total",
			Help: "Ordered writes suppressed as idempotent replays",
		}),

		VersionSkips: promauto.NewCounter(prometheus.CounterOpts{
			Name: "poscache_version_skips_total",
			Help: "Accepted writes whose version advanced by more than one",
		}),

		LedgerCrossChecks: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "poscache_ledger_cross_checks_total",
			Help: "Ledger cross-check outcomes on absolute writes",
		}, []string{"outcome"}),

		Reads: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "poscache_reads_total",
			Help: "Read path outcomes",
		}, []string{"outcome"}),

		ReadDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "poscache_read_duration_seconds",
			Help:    "Read latency by outcome",
			Buckets: latencyBuckets,
		}, []string{"outcome"}),

		BatchRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "poscache_batch_requests_total",
			Help: "Batch gateway calls",
		}, []string{"op", "status"}),

		BatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "poscache_batch_size",
			Help:    "Items per accepted batch call",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100},
		}),

		CachedKeys: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "poscache_cached_keys",
			Help: "Total keys currently in the cache store",
		}),

		ValidEntries: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "poscache_valid_entries",
			Help: "Entries within TTL at last stats computation",
		}),

		EntriesCleared: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "poscache_entries_cleared_total",
			Help: "Entries removed from the store",
		}, []string{"reason"}),

		AuthorityResolutions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "poscache_authority_resolutions_total",
			Help: "Registry resolutions of writer modules",
		}, []string{"trigger"}),

		AuthorityRefreshes: promauto.NewCounter(prometheus.CounterOpts{
			Name: "poscache_authority_refreshes_total",
			Help: "Explicit allow-list refreshes",
		}),

		AuthorityRejections: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "poscache_authority_rejections_total",
			Help: "Rejected authorization attempts",
		}, []string{"reason"}),

		EventsEmitted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "poscache_events_emitted_total",
			Help: "Notifications handed to the outbound publisher",
		}, []string{"event_type"}),

		EventDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "poscache_event_drops_total",
			Help: "Notifications dropped due to a full outbound channel",
		}),
	}
}
