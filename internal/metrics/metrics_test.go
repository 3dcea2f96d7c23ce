package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordersUpdateCollectors(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordCacheLookup(true)
	m.RecordCacheLookup(true)
	m.RecordCacheLookup(false)
	m.RecordEviction("budget", 3)
	m.RecordDecode("ok", 10*time.Millisecond)
	m.RecordStoreOperation("upsert", "success", time.Millisecond)

	if got := testutil.ToFloat64(m.CacheHitsTotal); got != 2 {
		t.Errorf("Expected 2 hits, got %v", got)
	}
	if got := testutil.ToFloat64(m.CacheMissesTotal); got != 1 {
		t.Errorf("Expected 1 miss, got %v", got)
	}
	if got := testutil.ToFloat64(m.CacheEvictionsTotal.WithLabelValues("budget")); got != 3 {
		t.Errorf("Expected 3 evictions, got %v", got)
	}
	if got := testutil.ToFloat64(m.DecodesTotal.WithLabelValues("ok")); got != 1 {
		t.Errorf("Expected 1 decode, got %v", got)
	}
	if got := testutil.ToFloat64(m.StoreOperationsTotal.WithLabelValues("upsert", "success")); got != 1 {
		t.Errorf("Expected 1 store op, got %v", got)
	}
}

func TestSeparateRegistries(t *testing.T) {
	// Two engines in one process must not collide on registration
	NewMetrics(prometheus.NewRegistry())
	NewMetrics(prometheus.NewRegistry())
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.RecordCacheLookup(true)
	m.RecordEviction("budget", 1)
	m.UpdateCacheStats(10, 1)
	m.RecordDecode("ok", time.Second)
	m.RecordStoreRetry()
	m.SessionOpened()
	m.RecordSyncEvent("desync")
}
