// Package metrics exposes prometheus collectors for the session lifecycle.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SessionsTotal counts finished sessions by outcome.
	SessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pairbot",
			Name:      "sessions_total",
			Help:      "Finished session runs by outcome",
		},
		[]string{"outcome"},
	)

	// SessionRestarts counts retryable disconnects that restarted a session.
	SessionRestarts = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "pairbot",
			Name:      "session_restarts_total",
			Help:      "Session attempts restarted after a retryable disconnect",
		},
	)

	// TransientErrors counts asynchronous failures by class; class "" is unclassified.
	TransientErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pairbot",
			Name:      "transient_errors_total",
			Help:      "Asynchronous transport failures seen by the error filter",
		},
		[]string{"class", "suppressed"},
	)

	// CleanupsTotal counts session directory removals by result.
	CleanupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pairbot",
			Name:      "cleanups_total",
			Help:      "Session directory cleanup calls by result",
		},
		[]string{"result"},
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pairbot",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "pairbot",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds. GET / spans the wait for the pairing code.",
			Buckets:   []float64{.05, .25, 1, 2.5, 5, 10, 20, 30, 60},
		},
		[]string{"method", "path", "status"},
	)
)

// RecordHTTPRequest observes one served request.
func RecordHTTPRequest(method, path string, status int, d time.Duration) {
	code := strconv.Itoa(status)
	HTTPRequests.WithLabelValues(method, path, code).Inc()
	HTTPDuration.WithLabelValues(method, path, code).Observe(d.Seconds())
}
