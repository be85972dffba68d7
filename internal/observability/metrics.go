package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the funding engine.
type Metrics struct {
	// --- Core Processing ---
	CoreEventsApplied  *prometheus.CounterVec
	CoreEventsRejected *prometheus.CounterVec
	CoreEventDuration  *prometheus.HistogramVec
	CoreRecords        *prometheus.CounterVec
	CoreStateHashDur   prometheus.Histogram
	CoreSequence       prometheus.Gauge

	// --- Channel & Backpressure ---
	ChannelSize         *prometheus.GaugeVec
	ChannelCapacity     *prometheus.GaugeVec
	ChannelUtilization  *prometheus.GaugeVec
	ProjectionDrops     *prometheus.CounterVec
	PublishDrops        prometheus.Counter
	PersistBackpressure prometheus.Counter

	// --- Idempotency & Ordering ---
	IdempotencyDuplicates *prometheus.CounterVec
	DedupLRUSize          prometheus.Gauge
	DedupLRUEvictions     prometheus.Counter
	DedupTier2Duration    prometheus.Histogram
	EventOutOfOrder       *prometheus.CounterVec
	OracleSlotStale       *prometheus.CounterVec

	// --- Funding ---
	FundingUpdates          *prometheus.CounterVec
	FundingRate             *prometheus.GaugeVec
	FundingHouseBalance     *prometheus.GaugeVec
	FundingPaymentsSettled  *prometheus.CounterVec
	FundingTotalPaid        *prometheus.CounterVec
	FundingTotalReceived    *prometheus.CounterVec
	FundingOracleDivergence *prometheus.GaugeVec
	FundingPoolBalance      *prometheus.GaugeVec
	FundingLedgerErrors     prometheus.Counter

	// --- Persistence ---
	PersistRecordsWritten *prometheus.CounterVec
	PersistBatchSize      prometheus.Histogram
	PersistBatchDur       prometheus.Histogram
	PersistErrors         *prometheus.CounterVec
	PersistRetry          prometheus.Counter
	PersistLastSequence   prometheus.Gauge

	// --- Snapshot ---
	SnapshotTaken     prometheus.Counter
	SnapshotDuration  prometheus.Histogram
	SnapshotSizeBytes prometheus.Gauge
	SnapshotLastSeq   prometheus.Gauge

	// --- Publisher ---
	PublishErrors       *prometheus.CounterVec
	PublishBreakerState prometheus.Gauge

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
	QueryErrors   *prometheus.CounterVec
	CacheHits     *prometheus.CounterVec
	CacheMisses   *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg. Pass
// prometheus.DefaultRegisterer in production and a fresh
// prometheus.NewRegistry() in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		// Core Processing
		CoreEventsApplied: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_funding_core_events_applied_total",
			Help: "Commands successfully applied by core",
		}, []string{"event_type"}),

		CoreEventsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_funding_core_events_rejected_total",
			Help: "Commands rejected (dedup, ordering, validation)",
		}, []string{"event_type", "reason"}),

		CoreEventDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "perp_funding_core_event_apply_duration_seconds",
			Help:    "Time to apply a single command in core",
			Buckets: latencyBuckets,
		}, []string{"event_type"}),

		CoreRecords: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_funding_core_records_emitted_total",
			Help: "Funding records emitted",
		}, []string{"record_type"}),

		CoreStateHashDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "perp_funding_core_state_hash_duration_seconds",
			Help:    "Time to compute state hash",
			Buckets: latencyBuckets,
		}),

		CoreSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "perp_funding_core_sequence",
			Help: "Current global sequence number",
		}),

		// Channel & Backpressure
		ChannelSize: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "perp_funding_channel_size",
			Help: "Current items in channel",
		}, []string{"name"}),

		ChannelCapacity: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "perp_funding_channel_capacity",
			Help: "Channel capacity (constant)",
		}, []string{"name"}),

		ChannelUtilization: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "perp_funding_channel_utilization",
			Help: "Channel size / capacity (0.0-1.0)",
		}, []string{"name"}),

		ProjectionDrops: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_funding_projection_drops_total",
			Help: "Outputs dropped due to full projection channel",
		}, []string{"projection"}),

		PublishDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "perp_funding_publish_drops_total",
			Help: "Records dropped due to full publish channel",
		}),

		PersistBackpressure: f.NewCounter(prometheus.CounterOpts{
			Name: "perp_funding_persist_backpressure_total",
			Help: "Times core blocked on persist channel",
		}),

		// Idempotency & Ordering
		IdempotencyDuplicates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_funding_idempotency_duplicates_total",
			Help: "Duplicates caught (lru/postgres)",
		}, []string{"event_type", "tier"}),

		DedupLRUSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "perp_funding_dedup_lru_size",
			Help: "Current LRU occupancy",
		}),

		DedupLRUEvictions: f.NewCounter(prometheus.CounterOpts{
			Name: "perp_funding_dedup_lru_evictions_total",
			Help: "LRU evictions",
		}),

		DedupTier2Duration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "perp_funding_dedup_tier2_duration_seconds",
			Help:    "Postgres dedup lookup latency",
			Buckets: latencyBuckets,
		}),

		EventOutOfOrder: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_funding_event_out_of_order_total",
			Help: "Out-of-order rejections",
		}, []string{"partition"}),

		OracleSlotStale: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_funding_oracle_slot_stale_total",
			Help: "Oracle account updates ignored because a newer slot was already applied",
		}, []string{"market_index"}),

		// Funding
		FundingUpdates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_funding_rate_updates_total",
			Help: "Funding rate update attempts by outcome",
		}, []string{"market_index", "outcome"}),

		FundingRate: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "perp_funding_last_rate",
			Help: "Last funding rate applied (quote per base, 1e14 scaled down)",
		}, []string{"market_index"}),

		FundingHouseBalance: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "perp_funding_fee_pool",
			Help: "Total fee minus distributions after the last update (quote)",
		}, []string{"market_index"}),

		FundingPaymentsSettled: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_funding_payments_settled_total",
			Help: "Positions settled",
		}, []string{"market_index"}),

		FundingTotalPaid: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_funding_total_paid",
			Help: "Total funding paid by users (absolute, quote)",
		}, []string{"market_index"}),

		FundingTotalReceived: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_funding_total_received",
			Help: "Total funding received by users (absolute, quote)",
		}, []string{"market_index"}),

		FundingOracleDivergence: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "perp_funding_oracle_mark_spread_pct",
			Help: "Last observed mark/oracle spread (fraction)",
		}, []string{"market_index"}),
		FundingPoolBalance: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "perp_funding_pool_balance",
			Help: "Funding owed by (negative) or to unsettled positions, quote units",
		}, []string{"market_index"}),
		FundingLedgerErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "perp_funding_ledger_errors_total",
			Help: "Journal batches the read-side ledger rejected",
		}),

		// Persistence
		PersistRecordsWritten: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_funding_persist_records_written_total",
			Help: "Records written to Postgres",
		}, []string{"record_type"}),

		PersistBatchSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "perp_funding_persist_batch_size",
			Help:    "Outputs per batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistBatchDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "perp_funding_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		PersistErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_funding_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistRetry: f.NewCounter(prometheus.CounterOpts{
			Name: "perp_funding_persist_retry_total",
			Help: "Persistence retries",
		}),

		PersistLastSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "perp_funding_persist_last_sequence",
			Help: "Last persisted sequence",
		}),

		// Snapshot
		SnapshotTaken: f.NewCounter(prometheus.CounterOpts{
			Name: "perp_funding_snapshot_taken_total",
			Help: "Snapshots created",
		}),

		SnapshotDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "perp_funding_snapshot_duration_seconds",
			Help:    "Snapshot creation time",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0},
		}),

		SnapshotSizeBytes: f.NewGauge(prometheus.GaugeOpts{
			Name: "perp_funding_snapshot_size_bytes",
			Help: "Last snapshot size",
		}),

		SnapshotLastSeq: f.NewGauge(prometheus.GaugeOpts{
			Name: "perp_funding_snapshot_last_sequence",
			Help: "Sequence of last snapshot",
		}),

		// Publisher
		PublishErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_funding_publish_errors_total",
			Help: "Record publish failures",
		}, []string{"reason"}),

		PublishBreakerState: f.NewGauge(prometheus.GaugeOpts{
			Name: "perp_funding_publish_breaker_state",
			Help: "Publisher circuit breaker state (0 closed, 1 half-open, 2 open)",
		}),

		// Query API
		QueryRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_funding_query_requests_total",
			Help: "Query requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "perp_funding_query_duration_seconds",
			Help:    "Query latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),

		QueryErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_funding_query_errors_total",
			Help: "Query errors",
		}, []string{"endpoint", "code"}),

		CacheHits: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_funding_cache_hits_total",
			Help: "Cache hits",
		}, []string{"cache"}),

		CacheMisses: f.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_funding_cache_misses_total",
			Help: "Cache misses",
		}, []string{"cache"}),
	}
}

// SetChannelMetrics updates channel utilization metrics.
func (m *Metrics) SetChannelMetrics(name string, size, capacity int) {
	m.ChannelSize.WithLabelValues(name).Set(float64(size))
	m.ChannelCapacity.WithLabelValues(name).Set(float64(capacity))
	if capacity > 0 {
		m.ChannelUtilization.WithLabelValues(name).Set(float64(size) / float64(capacity))
	}
}
