package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/radiusdt/vector-analytics/internal/storage"
)

// Metrics holds all Prometheus metrics for the analytics service.
type Metrics struct {
	// Query metrics
	QueryRequests *prometheus.CounterVec
	QueryLatency  *prometheus.HistogramVec
	CacheLookups  *prometheus.CounterVec

	// Fact store metrics
	FactQueryLatency *prometheus.HistogramVec
	FactQueryErrors  *prometheus.CounterVec

	// Snapshot metrics
	SnapshotGeneration prometheus.Gauge
	SnapshotLoadedAt   prometheus.Gauge
	Reloads            *prometheus.CounterVec
	ReloadLatency      prometheus.Histogram

	// HTTP metrics
	HTTPRequests  *prometheus.CounterVec
	HTTPLatency   *prometheus.HistogramVec
	RateLimitHits *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// NewMetrics creates all metrics and registers them with reg. A nil reg
// uses the default registry.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	var gatherer prometheus.Gatherer = prometheus.DefaultGatherer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	} else if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}
	factory := promauto.With(reg)

	return &Metrics{
		QueryRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "query_requests_total",
				Help:      "Analytics queries by operation and outcome",
			},
			[]string{"operation", "status"},
		),
		QueryLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "query_latency_seconds",
				Help:      "End to end query latency in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"operation"},
		),
		CacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_lookups_total",
				Help:      "Result cache lookups by operation and outcome",
			},
			[]string{"operation", "result"},
		),

		FactQueryLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "fact_query_latency_seconds",
				Help:      "Fact store read latency per collection",
				Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"collection"},
		),
		FactQueryErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fact_query_errors_total",
				Help:      "Failed fact store reads per collection",
			},
			[]string{"collection"},
		),

		SnapshotGeneration: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "snapshot_reloads_applied",
				Help:      "Number of snapshots installed since start",
			},
		),
		SnapshotLoadedAt: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "snapshot_loaded_timestamp_seconds",
				Help:      "Unix time the current snapshot was installed",
			},
		),
		Reloads: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "snapshot_reloads_total",
				Help:      "Snapshot reload attempts by outcome",
			},
			[]string{"status"},
		),
		ReloadLatency: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "snapshot_reload_seconds",
				Help:      "Time to materialize a snapshot",
				Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 15, 30, 60, 120},
			},
		),

		HTTPRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "HTTP requests by route and status code",
			},
			[]string{"route", "code"},
		),
		HTTPLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_latency_seconds",
				Help:      "HTTP handler latency in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"route"},
		),
		RateLimitHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limit_hits_total",
				Help:      "Rate limit rejections",
			},
			[]string{"endpoint", "scope"},
		),

		gatherer: gatherer,
	}
}

// Handler returns the Prometheus HTTP handler for the registry the metrics
// were created with.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// RecordQuery records one finished query.
func (m *Metrics) RecordQuery(operation, status string, d time.Duration) {
	m.QueryRequests.WithLabelValues(operation, status).Inc()
	m.QueryLatency.WithLabelValues(operation).Observe(d.Seconds())
}

// RecordCacheLookup records a result cache hit or miss.
func (m *Metrics) RecordCacheLookup(operation string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(operation, result).Inc()
}

// ObserveFactQuery records one fact store read.
func (m *Metrics) ObserveFactQuery(collection string, d time.Duration, err error) {
	m.FactQueryLatency.WithLabelValues(collection).Observe(d.Seconds())
	if err != nil {
		m.FactQueryErrors.WithLabelValues(collection).Inc()
	}
}

// ObserveReload records one snapshot reload attempt.
func (m *Metrics) ObserveReload(v storage.Version, d time.Duration, err error) {
	m.ReloadLatency.Observe(d.Seconds())
	if err != nil {
		m.Reloads.WithLabelValues("error").Inc()
		return
	}
	m.Reloads.WithLabelValues("ok").Inc()
	m.SnapshotGeneration.Inc()
	m.SnapshotLoadedAt.Set(float64(v.LoadedAt.Unix()))
}

// RecordHTTP records one served request.
func (m *Metrics) RecordHTTP(route string, code int, d time.Duration) {
	m.HTTPRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	m.HTTPLatency.WithLabelValues(route).Observe(d.Seconds())
}

// RecordRateLimitHit records a rate limit hit.
func (m *Metrics) RecordRateLimitHit(endpoint, scope string) {
	m.RateLimitHits.WithLabelValues(endpoint, scope).Inc()
}
