// Package metrics exposes Prometheus collectors for pipeline activity.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RunsTotal counts runs reaching a resting status.
	// Labels: status (completed, aborted, failed, waiting_for_human)
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "devlution",
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Total number of runs by resting status",
		},
		[]string{"status"},
	)

	// NodeDuration tracks how long each node's step takes.
	NodeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "devlution",
			Subsystem: "pipeline",
			Name:      "node_duration_seconds",
			Help:      "Duration of pipeline node executions in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"node"},
	)

	// NodeOutcomes counts routed outcomes per node.
	NodeOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "devlution",
			Subsystem: "pipeline",
			Name:      "node_outcomes_total",
			Help:      "Routed outcomes per node",
		},
		[]string{"node", "outcome"},
	)

	// GateDecisions counts gate resolutions.
	// Labels: decision (approved, rejected, timeout), method (external, auto, timeout_policy)
	GateDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "devlution",
			Subsystem: "pipeline",
			Name:      "gate_decisions_total",
			Help:      "Gate decisions by outcome and resolution method",
		},
		[]string{"decision", "method"},
	)

	// LLMTokens counts tokens consumed per model.
	LLMTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "devlution",
			Subsystem: "llm",
			Name:      "tokens_total",
			Help:      "Total LLM tokens consumed",
		},
		[]string{"model", "direction"},
	)

	// LLMRetries counts retried LLM requests.
	LLMRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "devlution",
			Subsystem: "llm",
			Name:      "retries_total",
			Help:      "LLM requests retried after a transient failure",
		},
	)

	// AuditEntries counts audit records per actor.
	AuditEntries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "devlution",
			Subsystem: "audit",
			Name:      "entries_total",
			Help:      "Audit entries recorded per actor",
		},
		[]string{"actor"},
	)

	// HTTPRequests counts API requests.
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "devlution",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP API requests by method, route and status code",
		},
		[]string{"method", "route", "status"},
	)
)
