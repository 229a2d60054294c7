// Package metrics defines the Prometheus collectors for the sync pipeline,
// the search path and the HTTP binding, and exposes a handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the service.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	SearchQueriesTotal *prometheus.CounterVec
	SearchLatency      *prometheus.HistogramVec
	SearchResultsCount prometheus.Histogram
	CacheHitsTotal     prometheus.Counter
	CacheMissesTotal   prometheus.Counter

	SyncJobsTotal       *prometheus.CounterVec
	SyncDuration        *prometheus.HistogramVec
	SyncActiveJobs      prometheus.Gauge
	SyncQueuedJobs      prometheus.Gauge
	SyncRejectedTotal   prometheus.Counter
	DocsIndexedTotal    *prometheus.CounterVec
	ExtractionFailures  *prometheus.CounterVec
	SnapshotGeneration  *prometheus.GaugeVec
	SnapshotDocuments   *prometheus.GaugeVec
	CircuitBreakerState *prometheus.GaugeVec
}

// New creates all collectors and registers them with reg. A nil reg means
// the default Prometheus registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		SearchQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docsearch_queries_total",
				Help: "Total search queries by tenant and outcome (hit, zero_result, error).",
			},
			[]string{"tenant", "result_type"},
		),
		SearchLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "docsearch_query_latency_seconds",
				Help:    "Search query latency in seconds.",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"cache_status"},
		),
		SearchResultsCount: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "docsearch_query_results",
				Help:    "Number of results returned per search query.",
				Buckets: []float64{0, 1, 5, 10, 25, 50, 100},
			},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "docsearch_cache_hits_total",
				Help: "Total number of search cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "docsearch_cache_misses_total",
				Help: "Total number of search cache misses.",
			},
		),
		SyncJobsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docsearch_sync_jobs_total",
				Help: "Sync jobs reaching a terminal state, by tenant, state and error kind.",
			},
			[]string{"tenant", "state", "error_kind"},
		),
		SyncDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "docsearch_sync_duration_seconds",
				Help:    "Wall time of a single sync attempt.",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
			},
			[]string{"tenant"},
		),
		SyncActiveJobs: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "docsearch_sync_active_jobs",
				Help: "Sync jobs currently holding an execution slot.",
			},
		),
		SyncQueuedJobs: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "docsearch_sync_queued_jobs",
				Help: "Sync jobs waiting for an execution slot.",
			},
		),
		SyncRejectedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "docsearch_sync_rejected_total",
				Help: "Sync submissions rejected by backpressure.",
			},
		),
		DocsIndexedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docsearch_documents_indexed_total",
				Help: "Documents extracted and indexed, by tenant and change type.",
			},
			[]string{"tenant", "change"},
		),
		ExtractionFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docsearch_extraction_failures_total",
				Help: "Source units skipped because text extraction failed.",
			},
			[]string{"tenant"},
		),
		SnapshotGeneration: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "docsearch_snapshot_generation",
				Help: "Generation of the currently published snapshot.",
			},
			[]string{"tenant"},
		),
		SnapshotDocuments: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "docsearch_snapshot_documents",
				Help: "Documents in the currently published snapshot.",
			},
			[]string{"tenant"},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.SearchQueriesTotal,
		m.SearchLatency,
		m.SearchResultsCount,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.SyncJobsTotal,
		m.SyncDuration,
		m.SyncActiveJobs,
		m.SyncQueuedJobs,
		m.SyncRejectedTotal,
		m.DocsIndexedTotal,
		m.ExtractionFailures,
		m.SnapshotGeneration,
		m.SnapshotDocuments,
		m.CircuitBreakerState,
	)

	return m
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
