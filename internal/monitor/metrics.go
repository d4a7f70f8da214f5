package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's Prometheus instruments.
type Metrics struct {
	TicksTotal         prometheus.Counter
	ProposalsExecuted  prometheus.Counter
	CircuitTransitions prometheus.Counter
	RestrikesTotal     prometheus.Counter
	ActiveExitPlans    prometheus.Gauge
}

// NewMetrics creates and registers the instruments on the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "optionspilot",
			Name:      "engine_ticks_total",
			Help:      "Completed orchestration ticks.",
		}),
		ProposalsExecuted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "optionspilot",
			Name:      "proposals_executed_total",
			Help:      "Trade proposals executed by the tick loop.",
		}),
		CircuitTransitions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "optionspilot",
			Name:      "circuit_transitions_total",
			Help:      "Risk circuit open/close transitions.",
		}),
		RestrikesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "optionspilot",
			Name:      "restrikes_total",
			Help:      "Exit proposals synthesized by the re-strike manager.",
		}),
		ActiveExitPlans: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "optionspilot",
			Name:      "active_exit_plans",
			Help:      "Exit plans currently held in the store.",
		}),
	}
	reg.MustRegister(m.TicksTotal, m.ProposalsExecuted, m.CircuitTransitions, m.RestrikesTotal, m.ActiveExitPlans)
	return m
}
