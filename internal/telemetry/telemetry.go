// Package telemetry registers the orchestrator's Prometheus metrics:
// Gateway call counts, Status Reconciler ticks/outcomes, and Progress
// Stream terminations.
package telemetry

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles every counter/histogram the orchestrator's
// components record against. A single instance is constructed at
// startup and passed explicitly to whatever needs it.
type Metrics struct {
	Registry *prometheus.Registry

	GatewayCalls      *prometheus.CounterVec
	ReconcilerTicks   *prometheus.CounterVec
	ReconcilerOutcome *prometheus.CounterVec
	StreamTerminal    *prometheus.CounterVec
	LifecycleOps      *prometheus.CounterVec
}

// New constructs and registers every metric.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		Registry: registry,
		GatewayCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kubdev_gateway_calls_total",
			Help: "Cluster Gateway calls by operation and result status.",
		}, []string{"operation", "status"}),
		ReconcilerTicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kubdev_reconciler_ticks_total",
			Help: "Status Reconciler poll ticks.",
		}, []string{"result"}),
		ReconcilerOutcome: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kubdev_reconciler_outcomes_total",
			Help: "Status Reconciler terminal outcomes by new state.",
		}, []string{"state"}),
		StreamTerminal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kubdev_progress_stream_terminations_total",
			Help: "Progress Stream terminations by terminal stage.",
		}, []string{"stage"}),
		LifecycleOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kubdev_lifecycle_operations_total",
			Help: "Orchestrator lifecycle operations by name and error kind (empty on success).",
		}, []string{"operation", "error_kind"}),
	}

	registry.MustRegister(m.GatewayCalls, m.ReconcilerTicks, m.ReconcilerOutcome, m.StreamTerminal, m.LifecycleOps)
	return m
}
