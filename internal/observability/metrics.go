package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics bundles every Prometheus collector the service exports. One value
// is created at startup and shared by injection.
type Metrics struct {
	Registry *prometheus.Registry

	HTTPRequests  *prometheus.CounterVec
	HTTPDuration  *prometheus.HistogramVec
	SearchStageMS *prometheus.HistogramVec
	SearchIssues  *prometheus.CounterVec
	SearchResults prometheus.Histogram
	JobsClaimed   *prometheus.CounterVec
	JobsCompleted *prometheus.CounterVec
	JobsFailed    *prometheus.CounterVec
	JobDuration   *prometheus.HistogramVec
	QueueDepth    prometheus.Gauge
	CacheHits     *prometheus.CounterVec
	CacheMisses   *prometheus.CounterVec
	AdapterCalls  *prometheus.CounterVec
	AdapterErrors *prometheus.CounterVec
}

// NewMetrics creates and registers all collectors on a private registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "llc_http_requests_total",
			Help: "HTTP requests by route, method, and status.",
		}, []string{"route", "method", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "llc_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		SearchStageMS: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "llc_search_stage_duration_ms",
			Help:    "Retrieval stage latency in milliseconds.",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		}, []string{"stage"}),
		SearchIssues: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "llc_search_issues_total",
			Help: "Issue codes recorded on search responses.",
		}, []string{"issue"}),
		SearchResults: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "llc_search_results_returned",
			Help:    "Result count per search response.",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 50},
		}),
		JobsClaimed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "llc_jobs_claimed_total",
			Help: "Jobs claimed by kind.",
		}, []string{"kind"}),
		JobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "llc_jobs_completed_total",
			Help: "Jobs completed by kind.",
		}, []string{"kind"}),
		JobsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "llc_jobs_failed_total",
			Help: "Job failures by kind and retryability.",
		}, []string{"kind", "retryable"}),
		JobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "llc_job_duration_seconds",
			Help:    "Job execution time by kind.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300},
		}, []string{"kind"}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "llc_job_queue_depth",
			Help: "Queued jobs awaiting a worker.",
		}),
		CacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "llc_cache_hits_total",
			Help: "Cache hits by cache name.",
		}, []string{"cache"}),
		CacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "llc_cache_misses_total",
			Help: "Cache misses by cache name.",
		}, []string{"cache"}),
		AdapterCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "llc_adapter_calls_total",
			Help: "External adapter calls by adapter.",
		}, []string{"adapter"}),
		AdapterErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "llc_adapter_errors_total",
			Help: "External adapter failures by adapter and code.",
		}, []string{"adapter", "code"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.HTTPRequests, m.HTTPDuration,
		m.SearchStageMS, m.SearchIssues, m.SearchResults,
		m.JobsClaimed, m.JobsCompleted, m.JobsFailed, m.JobDuration, m.QueueDepth,
		m.CacheHits, m.CacheMisses,
		m.AdapterCalls, m.AdapterErrors,
	)
	return m
}
