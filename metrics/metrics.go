// Package metrics exposes defense decision counters for Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds its own registry so multiple instances (tests, embedded
// use) never collide.
type Metrics struct {
	registry *prometheus.Registry

	// Decisions counts defense outcomes by component and outcome
	// ("allowed" or "denied").
	Decisions *prometheus.CounterVec

	// AnomalyFindings counts detector findings by type.
	AnomalyFindings *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shieldcore",
			Subsystem: "defense",
			Name:      "decisions_total",
			Help:      "Defense check outcomes by component.",
		}, []string{"component", "outcome"}),
		AnomalyFindings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shieldcore",
			Subsystem: "defense",
			Name:      "anomaly_findings_total",
			Help:      "Anomaly detector findings by type.",
		}, []string{"type"}),
	}

	m.registry.MustRegister(
		m.Decisions,
		m.AnomalyFindings,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveDecision records one allow/deny outcome for a component.
func (m *Metrics) ObserveDecision(component string, allowed bool) {
	outcome := "allowed"
	if !allowed {
		outcome = "denied"
	}
	m.Decisions.WithLabelValues(component, outcome).Inc()
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
