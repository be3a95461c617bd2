package observability

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"method", "route", "status"},
	)

	upstreamLatencySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstream_latency_seconds",
			Help:    "Latency of upstream calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"upstream", "outcome"},
	)

	cacheResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geoquery_cache_results_total",
			Help: "Cache lookups by outcome and data type.",
		},
		[]string{"outcome", "data_type"},
	)

	fetchFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geoquery_fetch_fallback_total",
			Help: "Fetches answered with a synthetic fallback because the upstream failed.",
		},
		[]string{"data_type"},
	)

	storeOpSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "geoquery_store_operation_duration_seconds",
			Help:    "Latency of cache store operations.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
		},
		[]string{"driver", "op", "status"},
	)

	retentionPurged = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geoquery_retention_purged_total",
			Help: "Cache entries removed by the retention job.",
		},
		[]string{"status"},
	)

	invalidations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "geoquery_invalidations_total",
			Help: "Invalidation events processed.",
		},
		[]string{"status"},
	)

	invalidatedEntries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "geoquery_invalidated_entries_total",
			Help: "Cache entries removed by invalidation events.",
		},
	)

	kafkaConsumerErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_consumer_errors_total",
			Help: "Kafka consumer errors by kind.",
		},
		[]string{"kind"},
	)

	hotKeys = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "geoquery_hot_keys",
			Help: "Number of (data type, cell) keys tracked by the demand tracker.",
		},
	)
)

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

func ObserveUpstreamLatency(upstream string, err error, durationSeconds float64) {
	upstreamLatencySeconds.WithLabelValues(upstream, status(err)).Observe(durationSeconds)
}

func IncCacheHit(dataType string) {
	cacheResults.WithLabelValues("hit", dataType).Inc()
}

func IncCacheMiss(dataType string) {
	cacheResults.WithLabelValues("miss", dataType).Inc()
}

func IncFetchFallback(dataType string) {
	fetchFallbacks.WithLabelValues(dataType).Inc()
}

func ObserveStoreOp(driver, op string, err error, durationSeconds float64) {
	storeOpSeconds.WithLabelValues(driver, op, status(err)).Observe(durationSeconds)
}

func AddRetentionPurged(n int64, err error) {
	if err != nil {
		retentionPurged.WithLabelValues("error").Inc()
		return
	}
	retentionPurged.WithLabelValues("ok").Add(float64(n))
}

func ObserveInvalidation(removed int64, err error) {
	invalidations.WithLabelValues(status(err)).Inc()
	if err == nil && removed > 0 {
		invalidatedEntries.Add(float64(removed))
	}
}

func IncKafkaConsumerError(kind string) {
	kafkaConsumerErrors.WithLabelValues(kind).Inc()
}

func SetHotKeysGauge(n int) {
	hotKeys.Set(float64(n))
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
