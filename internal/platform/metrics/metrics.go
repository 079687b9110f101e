package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the audit pipeline. Methods are
// nil-safe so wiring metrics stays optional in one-shot CLI invocations.
type Metrics struct {
	ProbesTotal    *prometheus.CounterVec
	RunsTotal      *prometheus.CounterVec
	IntegrityScore prometheus.Gauge
	BrokenLinks    prometheus.Gauge
	GateFailures   prometheus.Counter
	GateViolations prometheus.Gauge
}

// New creates and registers all metrics on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ProbesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kaisou_probes_total",
			Help: "Total link probes by classified result",
		}, []string{"result"}),
		RunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kaisou_link_check_runs_total",
			Help: "Total link check runs by terminal status",
		}, []string{"status"}),
		IntegrityScore: factory.NewGauge(prometheus.GaugeOpts{
			Name: "kaisou_integrity_score",
			Help: "Percentage of entities with a live guide or PDF link, from the last run",
		}),
		BrokenLinks: factory.NewGauge(prometheus.GaugeOpts{
			Name: "kaisou_broken_links",
			Help: "Broken link count from the last run",
		}),
		GateFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "kaisou_quality_gate_failures_total",
			Help: "Total quality gate executions that failed a hard invariant",
		}),
		GateViolations: factory.NewGauge(prometheus.GaugeOpts{
			Name: "kaisou_quality_gate_violations",
			Help: "Hard invariant violations found by the last quality gate run",
		}),
	}
}

// ObserveProbe records one classified probe outcome.
func (m *Metrics) ObserveProbe(result string) {
	if m == nil {
		return
	}
	m.ProbesTotal.WithLabelValues(result).Inc()
}

// ObserveRun records a finished run and its aggregates.
func (m *Metrics) ObserveRun(status string, integrityScore float64, brokenCount int) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(status).Inc()
	m.IntegrityScore.Set(integrityScore)
	m.BrokenLinks.Set(float64(brokenCount))
}

// ObserveGate records a quality gate outcome.
func (m *Metrics) ObserveGate(passed bool, violations int) {
	if m == nil {
		return
	}
	if !passed {
		m.GateFailures.Inc()
	}
	m.GateViolations.Set(float64(violations))
}
