package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	streamsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "log_streams_active",
			Help: "Number of currently open log stream connections",
		},
		[]string{"transport"},
	)

	entriesStreamedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "log_entries_streamed_total",
			Help: "Log entries delivered to stream consumers",
		},
		[]string{"transport"},
	)

	entriesIngestedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "log_entries_ingested_total",
			Help: "Log entries accepted from agents",
		},
	)
)

// MetricsMiddleware records request counts and latencies. Streaming endpoints
// are skipped: their durations are connection lifetimes, not request times.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Upgrade") == "websocket" || r.Header.Get("Accept") == "text/event-stream" {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		path := chi.RouteContext(r.Context()).RoutePattern()
		if path == "" {
			path = r.URL.Path
		}

		httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush keeps the wrapped writer usable for SSE responses.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

func recordStreamOpen(transport string) {
	streamsActive.WithLabelValues(transport).Inc()
}

func recordStreamClose(transport string) {
	streamsActive.WithLabelValues(transport).Dec()
}

func recordEntryStreamed(transport string) {
	entriesStreamedTotal.WithLabelValues(transport).Inc()
}

func recordEntriesIngested(n int) {
	entriesIngestedTotal.Add(float64(n))
}
