package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every Prometheus collector the scanner exports,
// registered against a private registry (rather than the global
// default) so repeated construction in tests doesn't panic on
// duplicate registration. Grounded on the teacher's
// `internal/api/handlers/metrics.go` (same promhttp.Handler-serves-
// /metrics shape), generalized from the teacher's ad hoc
// MetricsAggregator to typed prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	QueueDepth         *prometheus.GaugeVec
	QueueJobsProcessed *prometheus.CounterVec
	QueueJobDuration    *prometheus.HistogramVec

	ScanDuration     *prometheus.HistogramVec
	VulnFeedRequests *prometheus.CounterVec
	VulnCacheHits    *prometheus.CounterVec
}

// NewMetrics constructs and registers all collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "surfacescan_http_requests_total",
			Help: "Total HTTP requests served by the API gateway.",
		}, []string{"method", "route", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "surfacescan_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "surfacescan_queue_depth",
			Help: "Current job count per queue and status.",
		}, []string{"queue", "status"}),
		QueueJobsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "surfacescan_queue_jobs_total",
			Help: "Total jobs processed per queue and outcome.",
		}, []string{"queue", "outcome"}),
		QueueJobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "surfacescan_queue_job_duration_seconds",
			Help:    "Job processing duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"queue"}),
		ScanDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "surfacescan_scan_duration_seconds",
			Help:    "End-to-end scan duration in seconds, from submission to completion.",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"status"}),
		VulnFeedRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "surfacescan_vuln_feed_requests_total",
			Help: "Vulnerability feed lookups by outcome.",
		}, []string{"outcome"}),
		VulnCacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "surfacescan_vuln_cache_total",
			Help: "Vulnerability cache lookups by hit/miss.",
		}, []string{"result"}),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal, m.HTTPRequestDuration,
		m.QueueDepth, m.QueueJobsProcessed, m.QueueJobDuration,
		m.ScanDuration, m.VulnFeedRequests, m.VulnCacheHits,
	)
	return m
}

// Handler serves the registered collectors in Prometheus exposition
// format, mounted at cfg.MetricsPath.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
