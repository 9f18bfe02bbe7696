// Package obs registers Prometheus metrics and HTTP instrumentation.
package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	issuanceTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credential_issuance_total",
			Help: "Credential issuance attempts by outcome.",
		},
		[]string{"outcome"},
	)

	verificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "credential_verifications_total",
			Help: "Presented-credential verifications by outcome.",
		},
		[]string{"outcome"},
	)

	sweepTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sweep_transitions_total",
			Help: "Credential transitions applied by the lifecycle sweeper.",
		},
		[]string{"transition"},
	)
)

// Init registers all metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		httpRequestsTotal, httpRequestDuration,
		issuanceTotal, verificationsTotal, sweepTransitionsTotal,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// CountIssuance records one issuance attempt outcome.
func CountIssuance(outcome string) { issuanceTotal.WithLabelValues(outcome).Inc() }

// CountVerification records one presentation outcome.
func CountVerification(outcome string) { verificationsTotal.WithLabelValues(outcome).Inc() }

// AddSweepTransitions records transitions applied by one sweep run.
func AddSweepTransitions(transition string, n int) {
	if n > 0 {
		sweepTransitionsTotal.WithLabelValues(transition).Add(float64(n))
	}
}

// Instrument wraps an HTTP handler with request counters and latency.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		status := strconv.Itoa(sw.code)
		httpRequestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
		httpRequestDuration.WithLabelValues(r.Method, r.URL.Path, status).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
