package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus collectors for the analytics write path, the
// forwarder and the collector.
type Metrics struct {
	EventsRecorded *prometheus.CounterVec
	EventsSkipped  *prometheus.CounterVec
	Purges         *prometheus.CounterVec

	Forwarded      *prometheus.CounterVec
	ForwardQueue   prometheus.Gauge
	CircuitState   *prometheus.GaugeVec
	ForwardLatency *prometheus.HistogramVec

	Collected *prometheus.CounterVec
}

// New registers analytics collectors with the default registry.
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith registers analytics collectors with reg.
func NewWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		EventsRecorded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ilm_analytics_events_recorded_total",
			Help: "Analytics events written to a local log, labeled by event type",
		}, []string{"type"}),
		EventsSkipped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ilm_analytics_events_skipped_total",
			Help: "Analytics events not written, labeled by reason",
		}, []string{"reason"}),
		Purges: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ilm_analytics_purges_total",
			Help: "Analytics logs deleted, labeled by trigger",
		}, []string{"trigger"}),
		Forwarded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ilm_analytics_forwarded_total",
			Help: "Forwarding attempts, labeled by sink and result",
		}, []string{"sink", "result"}),
		ForwardQueue: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ilm_analytics_forward_queue_depth",
			Help: "Events waiting to be forwarded",
		}),
		CircuitState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ilm_analytics_forward_circuit_open",
			Help: "1 while a sink's circuit breaker is open",
		}, []string{"sink"}),
		ForwardLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ilm_analytics_forward_latency_seconds",
			Help:    "Latency of forwarding calls in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"sink"}),
		Collected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ilm_analytics_collected_total",
			Help: "Events received by the collector, labeled by event type and source",
		}, []string{"type", "source"}),
	}
}

func (m *Metrics) IncrementRecorded(eventType string) {
	m.EventsRecorded.WithLabelValues(eventType).Inc()
}

func (m *Metrics) IncrementSkipped(reason string) {
	m.EventsSkipped.WithLabelValues(reason).Inc()
}

func (m *Metrics) IncrementPurge(trigger string) {
	m.Purges.WithLabelValues(trigger).Inc()
}

func (m *Metrics) IncrementForwarded(sink, result string) {
	m.Forwarded.WithLabelValues(sink, result).Inc()
}

func (m *Metrics) SetQueueDepth(n int) {
	m.ForwardQueue.Set(float64(n))
}

func (m *Metrics) SetCircuitOpen(sink string, open bool) {
	v := 0.0
	if open {
		v = 1
	}
	m.CircuitState.WithLabelValues(sink).Set(v)
}

func (m *Metrics) ObserveForwardLatency(sink string, seconds float64) {
	m.ForwardLatency.WithLabelValues(sink).Observe(seconds)
}

func (m *Metrics) IncrementCollected(eventType, source string) {
	m.Collected.WithLabelValues(eventType, source).Inc()
}
