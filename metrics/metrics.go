// Package metrics provides Prometheus metrics for the CBETA MCP server.
// It tracks tool calls, upstream API latency, tool discovery, and cache performance.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace for all metrics
const (
	Namespace = "cbeta_mcp"
)

var (
	// RequestsTotal counts total MCP tool calls by tool name and status
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "requests_total",
		Help:      "Total number of MCP tool calls",
	}, []string{"tool", "status"})

	// RequestDuration measures request latency distribution
	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: Namespace,
		Name:      "request_duration_seconds",
		Help:      "Request latency distribution by tool",
		Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 20, 30},
	}, []string{"tool"})

	// RequestInFlight tracks currently executing requests
	RequestInFlight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "requests_in_flight",
		Help:      "Number of requests currently being processed",
	}, []string{"tool"})

	// CacheHits counts cache hits
	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "cache_hits_total",
		Help:      "Total cache hit count",
	})

	// CacheMisses counts cache misses
	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "cache_misses_total",
		Help:      "Total cache miss count",
	})

	// CacheSize tracks current cache entry count
	CacheSize = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "cache_entries",
		Help:      "Current number of cache entries",
	})

	// UpstreamLatency measures CBETA API call latency by endpoint
	UpstreamLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: Namespace,
		Name:      "upstream_latency_seconds",
		Help:      "CBETA API call latency by endpoint",
		Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 20, 30},
	}, []string{"endpoint"})

	// UpstreamRequestsTotal counts CBETA API requests
	UpstreamRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "upstream_requests_total",
		Help:      "Total CBETA API requests by endpoint and status",
	}, []string{"endpoint", "status"})

	// UpstreamErrors counts CBETA API errors by error code
	UpstreamErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "upstream_errors_total",
		Help:      "CBETA API errors by endpoint and error code",
	}, []string{"endpoint", "error_code"})

	// UpstreamCoalesced counts requests served by an identical in-flight request
	UpstreamCoalesced = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "upstream_coalesced_total",
		Help:      "CBETA API requests that shared the result of an identical in-flight request",
	}, []string{"endpoint"})

	// RateLimitRejections counts requests rejected due to rate limiting
	RateLimitRejections = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "rate_limit_rejections_total",
		Help:      "Requests rejected due to rate limiting",
	})

	// PanicsRecovered counts recovered panics
	PanicsRecovered = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "panics_recovered_total",
		Help:      "Number of panics recovered in tool handlers",
	}, []string{"tool"})

	// HTTPRequestsTotal counts HTTP transport requests
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by method and status",
	}, []string{"method", "status"})

	// HTTPRequestDuration measures HTTP request latency
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: Namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency distribution",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"method", "path"})

	// DiscoveryUnits counts tool units seen during discovery by outcome
	DiscoveryUnits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "discovery_units_total",
		Help:      "Tool units seen during discovery by outcome (loaded, skipped, failed)",
	}, []string{"outcome"})

	// DuplicateRegistrations counts tool names declared more than once
	DuplicateRegistrations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "duplicate_registrations_total",
		Help:      "Tool registrations rejected or replaced because the name was taken",
	}, []string{"tool"})

	// RegisteredTools tracks the number of tools in the registry
	RegisteredTools = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "registered_tools",
		Help:      "Number of tools currently registered",
	})
)

// Discovery outcomes
const (
	OutcomeLoaded  = "loaded"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
)

// RecordRequest records a completed request with its duration and status
func RecordRequest(tool string, duration float64, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	RequestsTotal.WithLabelValues(tool, status).Inc()
	RequestDuration.WithLabelValues(tool).Observe(duration)
}

// RecordUpstreamCall records a CBETA API call
func RecordUpstreamCall(endpoint string, duration float64, success bool, errorCode string) {
	status := "success"
	if !success {
		status = "error"
	}
	UpstreamRequestsTotal.WithLabelValues(endpoint, status).Inc()
	UpstreamLatency.WithLabelValues(endpoint).Observe(duration)
	if errorCode != "" {
		UpstreamErrors.WithLabelValues(endpoint, errorCode).Inc()
	}
}

// RecordCacheAccess records a cache hit or miss
func RecordCacheAccess(hit bool) {
	if hit {
		CacheHits.Inc()
	} else {
		CacheMisses.Inc()
	}
}

// SetCacheSize updates the current cache size gauge
func SetCacheSize(size int64) {
	CacheSize.Set(float64(size))
}

// RecordDiscovery records the outcome of loading one tool unit
func RecordDiscovery(outcome string) {
	DiscoveryUnits.WithLabelValues(outcome).Inc()
}
