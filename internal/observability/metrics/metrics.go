// Package metrics exposes Prometheus collectors for the HTTP surface, the bot
// entry points and the swap job processor.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "swapbot"

// Metrics owns a private registry so several instances can coexist in tests.
type Metrics struct {
	registry *prometheus.Registry

	requests   *prometheus.CounterVec
	reqErrors  *prometheus.CounterVec
	reqLatency *prometheus.HistogramVec
	operations *prometheus.CounterVec
	opLatency  *prometheus.HistogramVec
	jobs       *prometheus.CounterVec
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests processed.",
		}, []string{"handler", "method", "code"}),
		reqErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_request_errors_total",
			Help:      "Total number of HTTP requests that resulted in a server error.",
		}, []string{"handler", "method"}),
		reqLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"handler", "method"}),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bot_operations_total",
			Help:      "Bot entry point invocations by outcome code.",
		}, []string{"operation", "result"}),
		opLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "bot_operation_duration_seconds",
			Help:      "Bot entry point latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "swap_jobs_total",
			Help:      "Swap jobs that reached a recorded status.",
		}, []string{"mode", "status"}),
	}
	m.registry.MustRegister(m.requests, m.reqErrors, m.reqLatency, m.operations, m.opLatency, m.jobs)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveOperation implements bot.Recorder.
func (m *Metrics) ObserveOperation(op, result string, elapsed time.Duration) {
	m.operations.WithLabelValues(op, result).Inc()
	m.opLatency.WithLabelValues(op).Observe(elapsed.Seconds())
}

// ObserveJob implements task.Recorder.
func (m *Metrics) ObserveJob(mode, status string) {
	m.jobs.WithLabelValues(mode, status).Inc()
}

// ObserveHTTPRequest records metrics about an HTTP request lifecycle.
func (m *Metrics) ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	m.requests.WithLabelValues(handler, method, strconv.Itoa(status)).Inc()
	if status >= 500 {
		m.reqErrors.WithLabelValues(handler, method).Inc()
	}
	m.reqLatency.WithLabelValues(handler, method).Observe(duration.Seconds())
}

// Handler exposes the registry in Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware labels requests by their chi route pattern to keep cardinality bounded.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		handler := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				handler = pattern
			}
		}
		m.ObserveHTTPRequest(handler, r.Method, sw.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
