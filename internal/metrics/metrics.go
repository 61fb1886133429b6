// Package metrics exposes the scheduler's observability counters via
// Prometheus. Everything here is reporting only; nothing reads these values
// back into scheduling decisions.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the scheduler's collectors.
type Metrics struct {
	registry *prometheus.Registry

	QueueDepth       prometheus.Gauge
	RunningInstances prometheus.Gauge
	TasksTerminal    *prometheus.CounterVec // labelled by outcome (completed / failure reason)
	ScaleDecisions   *prometheus.CounterVec // labelled by direction
	AssignmentRisk   prometheus.Histogram
	LockDeferrals    prometheus.Counter
	LowConfidence    prometheus.Counter
	ResourceAlerts   *prometheus.CounterVec // labelled by kind
}

// New creates and registers the collectors on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "agentsched_queue_depth",
			Help: "Number of tasks waiting for assignment.",
		}),
		RunningInstances: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "agentsched_running_instances",
			Help: "Agent instances currently occupying host resources.",
		}),
		TasksTerminal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentsched_tasks_terminal_total",
			Help: "Tasks reaching a terminal state, by outcome.",
		}, []string{"outcome"}),
		ScaleDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentsched_scale_decisions_total",
			Help: "Actionable scale decisions, by direction.",
		}, []string{"direction"}),
		AssignmentRisk: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "agentsched_assignment_risk",
			Help:    "Conflict risk score of granted assignments.",
			Buckets: prometheus.LinearBuckets(0, 0.5, 10),
		}),
		LockDeferrals: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agentsched_lock_deferrals_total",
			Help: "Assignments deferred due to lock contention.",
		}),
		LowConfidence: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agentsched_low_confidence_assignments_total",
			Help: "Assignments that fell back to round-robin.",
		}),
		ResourceAlerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentsched_resource_alerts_total",
			Help: "Resource threshold alerts, by kind.",
		}, []string{"kind"}),
	}

	reg.MustRegister(
		m.QueueDepth,
		m.RunningInstances,
		m.TasksTerminal,
		m.ScaleDecisions,
		m.AssignmentRisk,
		m.LockDeferrals,
		m.LowConfidence,
		m.ResourceAlerts,
	)
	return m
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
