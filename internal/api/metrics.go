package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lakerun_http_requests_total",
			Help: "Completed HTTP requests by method, route, and status.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "lakerun_http_request_duration_seconds",
			Help: "HTTP request latency. Wait endpoints block for the full poll, so the upper buckets run into minutes.",
			// Wait endpoints legitimately take minutes; stretch well past DefBuckets.
			Buckets: prometheus.ExponentialBuckets(0.005, 3, 12),
		},
		[]string{"method", "route"},
	)

	// Unlabeled: the route pattern is only known after the mux has run, and
	// long-poll waits are what this gauge exists to expose.
	httpInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "lakerun_http_inflight_requests",
			Help: "Requests currently being served. Long-poll waits dominate this gauge.",
		},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal, httpRequestDuration, httpInflight)
}

// metricsMiddleware instruments every request with count, latency, and an
// in-flight gauge. Labels use the matched chi route pattern rather than the
// raw URL so operation IDs never explode metric cardinality.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		httpInflight.Inc()
		next.ServeHTTP(ww, r)
		httpInflight.Dec()

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

func metricsHandler() http.Handler {
	return promhttp.Handler()
}
