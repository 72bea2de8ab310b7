package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ExecutionsTotal counts Execute calls by render mode and outcome.
	ExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xquery_executions_total",
			Help: "Total number of query executions",
		},
		[]string{"mode", "status"},
	)
	// ExecutionDuration is the latency of Execute calls.
	ExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "xquery_execution_duration_seconds",
			Help:    "Query execution latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"mode"},
	)
	// FailuresTotal counts failed executions by error kind.
	FailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xquery_failures_total",
			Help: "Total number of failed executions by error kind",
		},
		[]string{"kind"},
	)
	// DocumentResolutions counts doc() lookups.
	DocumentResolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xquery_document_resolutions_total",
			Help: "Total number of doc() resolutions",
		},
		[]string{"status"},
	)
	// RequestTotal counts HTTP requests by method, route and status.
	RequestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "xquery_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
)

// ObserveExecution records one finished Execute call. kind is empty on
// success.
func ObserveExecution(mode, kind string, elapsed time.Duration) {
	status := "success"
	if kind != "" {
		status = "failure"
		FailuresTotal.WithLabelValues(kind).Inc()
	}
	ExecutionsTotal.WithLabelValues(mode, status).Inc()
	ExecutionDuration.WithLabelValues(mode).Observe(elapsed.Seconds())
}
