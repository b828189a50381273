// Package metrics provides Prometheus metrics for the proxy.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Default histogram buckets for request latency.
var defaultBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60}

// Metrics holds all Prometheus metric collectors for the proxy.
type Metrics struct {
	Registry *prometheus.Registry

	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	UpstreamDuration  *prometheus.HistogramVec
	UpstreamResponses *prometheus.CounterVec
	UpstreamRetries   prometheus.Counter
	UpstreamFailures  *prometheus.CounterVec

	RangesClamped     prometheus.Counter
	ResponsesReframed prometheus.Counter
	GuardRejections   *prometheus.CounterVec
}

// New creates a Metrics instance with a custom registry and all collectors registered.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		Registry: reg,

		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "laeproxy_http_requests_total",
			Help: "Total inbound HTTP requests.",
		}, []string{"method", "status_code", "path_prefix"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "laeproxy_http_request_duration_seconds",
			Help:    "Inbound HTTP request latency in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method", "status_code", "path_prefix"}),

		RequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "laeproxy_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed.",
		}),

		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "laeproxy_upstream_request_duration_seconds",
			Help:    "Upstream attempt latency in seconds.",
			Buckets: defaultBuckets,
		}, []string{"method"}),

		UpstreamResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "laeproxy_upstream_responses_total",
			Help: "Total upstream responses by method and status code.",
		}, []string{"method", "status_code"}),

		UpstreamRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "laeproxy_upstream_retries_total",
			Help: "Upstream attempts beyond the first, caused by transport failures.",
		}),

		UpstreamFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "laeproxy_upstream_failures_total",
			Help: "Upstream fetches that produced no response, by reason.",
		}, []string{"reason"}),

		RangesClamped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "laeproxy_ranges_clamped_total",
			Help: "GET requests whose range was narrowed to the chunk size.",
		}),

		ResponsesReframed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "laeproxy_responses_reframed_total",
			Help: "Upstream 200 responses rewritten to 206 partial content.",
		}),

		GuardRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "laeproxy_size_guard_rejections_total",
			Help: "Requests rejected by the size guard, by direction.",
		}, []string{"direction"}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.RequestsInFlight,
		m.UpstreamDuration,
		m.UpstreamResponses,
		m.UpstreamRetries,
		m.UpstreamFailures,
		m.RangesClamped,
		m.ResponsesReframed,
		m.GuardRejections,
	)

	return m
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

// knownPrefixes lists the allowed path label values (bounded cardinality).
// Target hosts are never used as labels.
var knownPrefixes = []string{"/http", "/https", "/healthz", "/proxy/status", "/metrics"}

// NormalizePath returns a bounded path label for Prometheus metrics.
func NormalizePath(path string) string {
	for _, prefix := range knownPrefixes {
		if path == prefix || strings.HasPrefix(path, prefix+"/") || strings.HasPrefix(path, prefix+"?") {
			return prefix
		}
	}
	return "other"
}
