package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	storeWriteTotal    *prometheus.CounterVec
	storeWriteDuration prometheus.Histogram
	storeReadDuration  prometheus.Histogram
	storeVersionsTotal prometheus.Gauge

	cacheRequestsTotal  *prometheus.CounterVec
	cacheEvictionsTotal *prometheus.CounterVec
	cacheEntriesTotal   prometheus.Gauge

	snapshotLoadsTotal   *prometheus.CounterVec
	snapshotRoutesTotal  prometheus.Gauge
	snapshotEvictedTotal prometheus.Counter
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			storeWriteTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "memstore_writes_total",
					Help: "Total versioned store writes by kind.",
				},
				[]string{"kind"},
			),
			storeWriteDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "memstore_write_duration_seconds",
					Help:    "Versioned store write duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			storeReadDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "memstore_read_duration_seconds",
					Help:    "Versioned store read duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			storeVersionsTotal: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "memstore_versions_total",
					Help: "Total versioned rows persisted.",
				},
			),
			cacheRequestsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "cache_requests_total",
					Help: "Total cache lookups by index and outcome.",
				},
				[]string{"index", "outcome"},
			),
			cacheEvictionsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "cache_evictions_total",
					Help: "Total cache evictions by reason.",
				},
				[]string{"reason"},
			),
			cacheEntriesTotal: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "cache_entries_total",
					Help: "Current in-memory cache entry count.",
				},
			),
			snapshotLoadsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "snapshot_loads_total",
					Help: "Total snapshot loads by source.",
				},
				[]string{"source"},
			),
			snapshotRoutesTotal: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "snapshot_routes_total",
					Help: "Current route state entry count in the snapshot.",
				},
			),
			snapshotEvictedTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "snapshot_routes_evicted_total",
					Help: "Total route state entries removed by batch eviction.",
				},
			),
		}

		prometheus.MustRegister(
			m.storeWriteTotal,
			m.storeWriteDuration,
			m.storeReadDuration,
			m.storeVersionsTotal,
			m.cacheRequestsTotal,
			m.cacheEvictionsTotal,
			m.cacheEntriesTotal,
			m.snapshotLoadsTotal,
			m.snapshotRoutesTotal,
			m.snapshotEvictedTotal,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

// MetricsHandler exposes the default Prometheus scrape endpoint.
func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func RecordStoreWrite(kind string, duration time.Duration) {
	m := getMetrics()
	m.storeWriteTotal.WithLabelValues(kind).Inc()
	m.storeWriteDuration.Observe(duration.Seconds())
}

func RecordStoreRead(duration time.Duration) {
	getMetrics().storeReadDuration.Observe(duration.Seconds())
}

func SetStoreVersions(total int) {
	getMetrics().storeVersionsTotal.Set(float64(total))
}

func RecordCacheLookup(index string, hit bool) {
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	getMetrics().cacheRequestsTotal.WithLabelValues(index, outcome).Inc()
}

func RecordCacheEviction(reason string, count int) {
	getMetrics().cacheEvictionsTotal.WithLabelValues(reason).Add(float64(count))
}

func SetCacheEntries(count int) {
	getMetrics().cacheEntriesTotal.Set(float64(count))
}

func RecordSnapshotLoad(source string) {
	getMetrics().snapshotLoadsTotal.WithLabelValues(source).Inc()
}

func SetSnapshotRoutes(count int) {
	getMetrics().snapshotRoutesTotal.Set(float64(count))
}

func RecordSnapshotEviction(count int) {
	getMetrics().snapshotEvictedTotal.Add(float64(count))
}
