package spam

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus collectors for the submission gate.
type Metrics struct {
	Verdicts *prometheus.CounterVec
	Outcomes *prometheus.CounterVec
	Bypasses *prometheus.CounterVec
	Reloads  prometheus.Counter
}

func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Verdicts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ilm_spam_flags_total",
			Help: "Submissions flagged as spam, labeled by the rule that matched",
		}, []string{"reason"}),
		Outcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ilm_spam_gate_outcomes_total",
			Help: "Submission gate decisions, labeled by outcome",
		}, []string{"outcome"}),
		Bypasses: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ilm_spam_bypass_total",
			Help: "Bypass actions chosen by visitors",
		}, []string{"action"}),
		Reloads: factory.NewCounter(prometheus.CounterOpts{
			Name: "ilm_spam_rules_reloads_total",
			Help: "Successful spam rule reloads",
		}),
	}
}

func (m *Metrics) observeVerdict(v Verdict) {
	if m == nil {
		return
	}
	for _, r := range v.Reasons {
		m.Verdicts.WithLabelValues(string(r)).Inc()
	}
}

func (m *Metrics) observeOutcome(o Outcome) {
	if m == nil {
		return
	}
	m.Outcomes.WithLabelValues(string(o)).Inc()
}

func (m *Metrics) observeBypass(a BypassAction) {
	if m == nil {
		return
	}
	m.Bypasses.WithLabelValues(string(a)).Inc()
}

// ObserveReload counts a rules reload. It matches Loader.OnChange.
func (m *Metrics) ObserveReload(Rules) {
	if m == nil {
		return
	}
	m.Reloads.Inc()
}
