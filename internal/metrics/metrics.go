// Package metrics provides Prometheus metrics for the proxy.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Default histogram buckets for request latency.
var defaultBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}

// Metrics holds all Prometheus metric collectors for the proxy.
type Metrics struct {
	Registry *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	UpstreamDuration  *prometheus.HistogramVec
	UpstreamResponses *prometheus.CounterVec

	DedupDuplicates prometheus.Counter
	DedupErrors     *prometheus.CounterVec
	RateLimited     prometheus.Counter

	RetryEnqueued *prometheus.CounterVec
	RetryBatches  *prometheus.CounterVec
	RetryMessages *prometheus.CounterVec

	prefixes []string
}

// New creates a Metrics instance with a custom registry and all collectors
// registered. routes are the webhook path prefixes used as path labels.
func New(routes ...string) *Metrics {
	reg := prometheus.NewRegistry()

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,

		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "webhook_proxy_http_requests_total",
			Help: "Total inbound HTTP requests.",
		}, []string{"method", "status_code", "path_prefix"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "webhook_proxy_http_request_duration_seconds",
			Help:    "Inbound HTTP request latency in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method", "status_code", "path_prefix"}),

		RequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "webhook_proxy_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed.",
		}),

		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "webhook_proxy_upstream_request_duration_seconds",
			Help:    "Upstream call latency in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method"}),

		UpstreamResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "webhook_proxy_upstream_responses_total",
			Help: "Total upstream responses by method and status code.",
		}, []string{"method", "status_code"}),

		DedupDuplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "webhook_proxy_dedup_duplicates_total",
			Help: "Write requests rejected as duplicates.",
		}),

		DedupErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "webhook_proxy_dedup_errors_total",
			Help: "Dedup store failures by operation.",
		}, []string{"op"}),

		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "webhook_proxy_rate_limited_total",
			Help: "Requests rejected by the rate limiter.",
		}),

		RetryEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "webhook_proxy_retry_enqueued_total",
			Help: "Requests handed to the retry queue, by result.",
		}, []string{"result"}),

		RetryBatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "webhook_proxy_retry_batches_total",
			Help: "Retry batches processed, by result (acked, retried).",
		}, []string{"result"}),

		RetryMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "webhook_proxy_retry_messages_total",
			Help: "Retry messages processed, by result.",
		}, []string{"result"}),

		prefixes: append(routes, "/healthz", "/proxy/status", "/metrics"),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.RequestsInFlight,
		m.UpstreamDuration,
		m.UpstreamResponses,
		m.DedupDuplicates,
		m.DedupErrors,
		m.RateLimited,
		m.RetryEnqueued,
		m.RetryBatches,
		m.RetryMessages,
	)

	return m
}

// The helpers below are safe on a nil *Metrics.

func (m *Metrics) IncDuplicate() {
	if m != nil {
		m.DedupDuplicates.Inc()
	}
}

func (m *Metrics) IncDedupError(op string) {
	if m != nil {
		m.DedupErrors.WithLabelValues(op).Inc()
	}
}

func (m *Metrics) IncRateLimited() {
	if m != nil {
		m.RateLimited.Inc()
	}
}

func (m *Metrics) IncEnqueued(result string) {
	if m != nil {
		m.RetryEnqueued.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) IncRetryBatch(result string) {
	if m != nil {
		m.RetryBatches.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) IncRetryMessage(result string) {
	if m != nil {
		m.RetryMessages.WithLabelValues(result).Inc()
	}
}

// knownMethods lists the allowed HTTP method label values (bounded cardinality).
var knownMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true,
	"PATCH": true, "HEAD": true, "OPTIONS": true,
}

// NormalizeMethod returns a bounded HTTP method label for Prometheus metrics.
// Non-standard methods are mapped to "other" to prevent cardinality explosion.
func NormalizeMethod(method string) string {
	if knownMethods[method] {
		return method
	}
	return "other"
}

// NormalizePath returns a bounded path label: the matching route prefix or "other".
func (m *Metrics) NormalizePath(path string) string {
	for _, prefix := range m.prefixes {
		if path == prefix || strings.HasPrefix(path, prefix+"/") || strings.HasPrefix(path, prefix+"?") {
			return prefix
		}
	}
	return "other"
}
