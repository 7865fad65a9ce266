package main

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/olgasafonova/cbeta-mcp-server/internal/gateway"
	"github.com/olgasafonova/cbeta-mcp-server/metrics"
	"github.com/olgasafonova/cbeta-mcp-server/tools"
)

// HealthStatus is the /health response body.
type HealthStatus struct {
	Status  string `json:"status"`
	Name    string `json:"name"`
	Version string `json:"version"`
	Tools   int    `json:"tools"`
	Locale  string `json:"locale"`
	// Upstream is the circuit breaker state of the CBETA API client.
	Upstream string `json:"upstream"`
}

// newRouter mounts the MCP endpoint and the operational routes.
func newRouter(gw *gateway.Gateway, server *mcp.Server) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(instrument)

	mcpHandler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return server
	}, nil)
	r.Handle("/mcp", mcpHandler)
	r.Handle("/mcp/*", mcpHandler)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		status := HealthStatus{
			Status:   "ok",
			Name:     ServerName,
			Version:  ServerVersion,
			Tools:    gw.Registry.Len(),
			Locale:   gw.Locale,
			Upstream: gw.API.BreakerState(),
		}
		if status.Tools == 0 {
			status.Status = "degraded"
		}
		writeJSON(w, http.StatusOK, status)
	})
	r.Get("/tools", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, tools.Specs(gw.Registry, gw.Locale))
	})
	r.Handle("/metrics", promhttp.Handler())

	return r
}

// instrument records HTTP request counts and latency by route pattern.
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		pattern := chi.RouteContext(r.Context()).RoutePattern()
		if pattern == "" {
			pattern = "unmatched"
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(r.Method, pattern).Observe(time.Since(start).Seconds())
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
