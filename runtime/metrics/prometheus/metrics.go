// Package prometheus provides Prometheus metrics for the orchestration
// runtime: connection pool activity, agent dispatch, phase and node
// durations, and quality validation outcomes.
package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "agentic"

var (
	// poolSessionsCreated counts pool sessions built per endpoint.
	poolSessionsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pool_sessions_created_total",
			Help:      "Total number of pool sessions created",
		},
		[]string{"endpoint"},
	)

	// poolSessionsReused counts pool session reuses per endpoint.
	poolSessionsReused = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pool_sessions_reused_total",
			Help:      "Total number of pool session reuses",
		},
		[]string{"endpoint"},
	)

	// poolSessionsClosed counts pool sessions closed or evicted.
	poolSessionsClosed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pool_sessions_closed_total",
			Help:      "Total number of pool sessions closed",
		},
		[]string{"endpoint"},
	)

	// poolHealthChecks counts health probes by outcome.
	poolHealthChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pool_health_checks_total",
			Help:      "Total number of pool health probes",
		},
		[]string{"endpoint", "status"}, // status: healthy, unhealthy
	)

	// dispatchDuration is a histogram of outbound agent call duration.
	dispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Duration of outbound agent calls in seconds",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 180},
		},
		[]string{"method"},
	)

	// dispatchesTotal counts outbound agent calls by outcome.
	dispatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatches_total",
			Help:      "Total number of outbound agent calls",
		},
		[]string{"method", "status"}, // status: success, error
	)

	// sessionsActive is a gauge of currently running orchestration sessions.
	sessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of currently active orchestration sessions",
		},
	)

	// sessionDuration is a histogram of full session duration.
	sessionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Histogram of total orchestration session duration in seconds",
			Buckets:   []float64{1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"status"}, // status: success, error, cancelled
	)

	// phaseDuration is a histogram of per-phase duration.
	phaseDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "phase_duration_seconds",
			Help:      "Histogram of orchestration phase duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"phase"},
	)

	// nodeDuration is a histogram of workflow node execution duration.
	nodeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "node_duration_seconds",
			Help:      "Duration of workflow node execution in seconds",
			Buckets:   []float64{.25, .5, 1, 2.5, 5, 10, 30, 60, 180},
		},
		[]string{"agent"},
	)

	// nodesTotal counts executed workflow nodes by outcome.
	nodesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "nodes_total",
			Help:      "Total number of executed workflow nodes",
		},
		[]string{"agent", "status"}, // status: success, error, skipped, cancelled
	)

	// validationDuration is a histogram of quality validation duration.
	validationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "validation_duration_seconds",
			Help:      "Duration of quality validations in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"domain"},
	)

	// validationsTotal counts quality validations by outcome.
	validationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validations_total",
			Help:      "Total number of quality validations",
		},
		[]string{"domain", "status"}, // status: passed, failed
	)

	// allMetrics is a list of all metrics for registration.
	allMetrics = []prometheus.Collector{
		poolSessionsCreated,
		poolSessionsReused,
		poolSessionsClosed,
		poolHealthChecks,
		dispatchDuration,
		dispatchesTotal,
		sessionsActive,
		sessionDuration,
		phaseDuration,
		nodeDuration,
		nodesTotal,
		validationDuration,
		validationsTotal,
	}
)

// RecordPoolSessionCreated records a pool session creation.
func RecordPoolSessionCreated(endpoint string) {
	poolSessionsCreated.WithLabelValues(endpoint).Inc()
}

// RecordPoolSessionReused records a pool session reuse.
func RecordPoolSessionReused(endpoint string) {
	poolSessionsReused.WithLabelValues(endpoint).Inc()
}

// RecordPoolSessionClosed records a pool session close or eviction.
func RecordPoolSessionClosed(endpoint string) {
	poolSessionsClosed.WithLabelValues(endpoint).Inc()
}

// RecordPoolHealthCheck records a health probe outcome.
func RecordPoolHealthCheck(endpoint string, healthy bool) {
	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}
	poolHealthChecks.WithLabelValues(endpoint, status).Inc()
}

// RecordDispatch records an outbound agent call.
func RecordDispatch(method, status string, durationSeconds float64) {
	dispatchDuration.WithLabelValues(method).Observe(durationSeconds)
	dispatchesTotal.WithLabelValues(method, status).Inc()
}

// RecordSessionStart records an orchestration session start.
func RecordSessionStart() {
	sessionsActive.Inc()
}

// RecordSessionEnd records an orchestration session completion.
func RecordSessionEnd(status string, durationSeconds float64) {
	sessionsActive.Dec()
	sessionDuration.WithLabelValues(status).Observe(durationSeconds)
}

// RecordPhase records the duration of one orchestration phase.
func RecordPhase(phase string, durationSeconds float64) {
	phaseDuration.WithLabelValues(phase).Observe(durationSeconds)
}

// RecordNode records a workflow node execution.
func RecordNode(agent, status string, durationSeconds float64) {
	nodeDuration.WithLabelValues(agent).Observe(durationSeconds)
	nodesTotal.WithLabelValues(agent, status).Inc()
}

// RecordValidation records a quality validation.
func RecordValidation(domain, status string, durationSeconds float64) {
	validationDuration.WithLabelValues(domain).Observe(durationSeconds)
	validationsTotal.WithLabelValues(domain, status).Inc()
}
