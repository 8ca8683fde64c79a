// Package metrics registers the service's Prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SessionsActive is the number of live sessions held in memory.
	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "evaluation_sessions_active",
			Help: "Current number of live evaluation sessions",
		},
	)

	// SessionsStarted counts session starts; mode is fresh, resumed or resubmit.
	SessionsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evaluation_sessions_started_total",
			Help: "Total number of evaluation sessions started",
		},
		[]string{"mode"},
	)

	// SessionLoadFailures counts sessions that ended in Failed during load.
	SessionLoadFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "evaluation_session_load_failures_total",
			Help: "Total number of sessions that failed to load their evaluation",
		},
	)

	// AttemptsSubmitted counts submissions by trigger (MANUAL/TIMEOUT) and status.
	AttemptsSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evaluation_attempts_submitted_total",
			Help: "Total number of attempt submissions",
		},
		[]string{"trigger", "status"},
	)

	// AttemptScore observes the overall score of each completed attempt.
	AttemptScore = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "evaluation_attempt_score_percent",
			Help:    "Overall score of completed attempts",
			Buckets: prometheus.LinearBuckets(0, 10, 11),
		},
	)

	// Autosaves counts snapshot writes by status.
	Autosaves = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evaluation_autosaves_total",
			Help: "Total number of session autosaves",
		},
		[]string{"status"},
	)

	// DefinitionCacheLookups counts evaluation cache lookups by result (hit/miss).
	DefinitionCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evaluation_definition_cache_lookups_total",
			Help: "Total number of evaluation definition cache lookups",
		},
		[]string{"result"},
	)

	// WorkerFlushDuration tracks worker batch flushes.
	WorkerFlushDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "evaluation_worker_flush_duration_seconds",
			Help:    "Time spent flushing a worker batch to PostgreSQL",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"worker", "status"},
	)

	// HTTPRequestDuration tracks API latency per route.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "evaluation_http_request_duration_seconds",
			Help:    "Time spent serving HTTP requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)

// ObserveFlush records one worker flush.
func ObserveFlush(worker string, started time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	WorkerFlushDuration.WithLabelValues(worker, status).Observe(time.Since(started).Seconds())
}
