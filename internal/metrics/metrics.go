// Package metrics provides Prometheus metrics for the document session engine
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the engine.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Page cache metrics
	CacheHitsTotal      prometheus.Counter
	CacheMissesTotal    prometheus.Counter
	CacheEvictionsTotal *prometheus.CounterVec
	CacheRejectedTotal  prometheus.Counter
	CacheBytes          prometheus.Gauge
	CacheEntries        prometheus.Gauge

	// Decode metrics
	DecodesTotal   *prometheus.CounterVec
	DecodeDuration prometheus.Histogram
	StaleDecodes   prometheus.Counter

	// Bookmark store metrics
	StoreOperationsTotal   *prometheus.CounterVec
	StoreOperationDuration *prometheus.HistogramVec
	StoreRetriesTotal      prometheus.Counter
	StoreCorruptRecords    prometheus.Counter
	StoreCompactionsTotal  prometheus.Counter

	// Session metrics
	NavigationsTotal *prometheus.CounterVec
	SessionsOpen     prometheus.Gauge
	SyncEventsTotal  *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	m := &Metrics{}

	m.CacheHitsTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "docsession_cache_hits_total",
			Help: "Total number of page cache hits",
		},
	)

	m.CacheMissesTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "docsession_cache_misses_total",
			Help: "Total number of page cache misses",
		},
	)

	m.CacheEvictionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docsession_cache_evictions_total",
			Help: "Total number of evicted page artifacts",
		},
		[]string{"reason"},
	)

	m.CacheRejectedTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "docsession_cache_rejected_total",
			Help: "Artifacts not cached because the budget could not fit them",
		},
	)

	m.CacheBytes = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "docsession_cache_bytes",
			Help: "Sum of footprints of live cache entries",
		},
	)

	m.CacheEntries = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "docsession_cache_entries",
			Help: "Number of live cache entries",
		},
	)

	m.DecodesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docsession_decodes_total",
			Help: "Total number of page decodes by outcome",
		},
		[]string{"outcome"},
	)

	m.DecodeDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "docsession_decode_duration_seconds",
			Help:    "Duration of page decodes in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
	)

	m.StaleDecodes = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "docsession_stale_decodes_total",
			Help: "Decodes discarded because navigation moved past them",
		},
	)

	m.StoreOperationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docsession_store_operations_total",
			Help: "Total number of bookmark store operations",
		},
		[]string{"operation", "status"},
	)

	m.StoreOperationDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docsession_store_operation_duration_seconds",
			Help:    "Duration of bookmark store operations in seconds",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"operation"},
	)

	m.StoreRetriesTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "docsession_store_retries_total",
			Help: "Bookmark writes retried after an I/O failure",
		},
	)

	m.StoreCorruptRecords = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "docsession_store_corrupt_records_total",
			Help: "Bookmark records dropped as corrupt during load",
		},
	)

	m.StoreCompactionsTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "docsession_store_compactions_total",
			Help: "Bookmark logs rewritten by compaction",
		},
	)

	m.NavigationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docsession_navigations_total",
			Help: "Page changes by cause",
		},
		[]string{"cause"},
	)

	m.SessionsOpen = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "docsession_sessions_open",
			Help: "Number of open document sessions",
		},
	)

	m.SyncEventsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docsession_sync_events_total",
			Help: "Playback synchronization events by kind",
		},
		[]string{"kind"},
	)

	return m
}

// RecordCacheLookup records a cache hit or miss
func (m *Metrics) RecordCacheLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHitsTotal.Inc()
	} else {
		m.CacheMissesTotal.Inc()
	}
}

// RecordEviction records evicted entries
func (m *Metrics) RecordEviction(reason string, count int) {
	if m == nil || count == 0 {
		return
	}
	m.CacheEvictionsTotal.WithLabelValues(reason).Add(float64(count))
}

// RecordRejected records an artifact the cache refused
func (m *Metrics) RecordRejected() {
	if m == nil {
		return
	}
	m.CacheRejectedTotal.Inc()
}

// UpdateCacheStats updates cache size gauges
func (m *Metrics) UpdateCacheStats(bytes int64, entries int) {
	if m == nil {
		return
	}
	m.CacheBytes.Set(float64(bytes))
	m.CacheEntries.Set(float64(entries))
}

// RecordDecode records a decode with its outcome
func (m *Metrics) RecordDecode(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.DecodesTotal.WithLabelValues(outcome).Inc()
	m.DecodeDuration.Observe(duration.Seconds())
}

// RecordStaleDecode records a discarded decode result
func (m *Metrics) RecordStaleDecode() {
	if m == nil {
		return
	}
	m.StaleDecodes.Inc()
}

// RecordStoreOperation records a bookmark store operation
func (m *Metrics) RecordStoreOperation(operation string, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.StoreOperationsTotal.WithLabelValues(operation, status).Inc()
	m.StoreOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordStoreRetry records a retried write
func (m *Metrics) RecordStoreRetry() {
	if m == nil {
		return
	}
	m.StoreRetriesTotal.Inc()
}

// RecordCorruptRecords records records dropped during load
func (m *Metrics) RecordCorruptRecords(n int) {
	if m == nil || n == 0 {
		return
	}
	m.StoreCorruptRecords.Add(float64(n))
}

// RecordCompaction records a log compaction
func (m *Metrics) RecordCompaction() {
	if m == nil {
		return
	}
	m.StoreCompactionsTotal.Inc()
}

// RecordNavigation records a page change
func (m *Metrics) RecordNavigation(cause string) {
	if m == nil {
		return
	}
	m.NavigationsTotal.WithLabelValues(cause).Inc()
}

// SessionOpened tracks open sessions
func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.SessionsOpen.Inc()
}

// SessionClosed tracks open sessions
func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.SessionsOpen.Dec()
}

// RecordSyncEvent records a playback synchronization event
func (m *Metrics) RecordSyncEvent(kind string) {
	if m == nil {
		return
	}
	m.SyncEventsTotal.WithLabelValues(kind).Inc()
}
