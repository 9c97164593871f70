package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus collectors for consent operations.
type Metrics struct {
	ChoicesTotal    *prometheus.CounterVec
	ResetsTotal     prometheus.Counter
	StorageFailures *prometheus.CounterVec
	SessionFallback prometheus.Gauge

	StoreOperationLatency *prometheus.HistogramVec
}

// New registers consent collectors with the default registry.
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith registers consent collectors with reg.
func NewWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ChoicesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ilm_consent_choices_total",
			Help: "Consent decisions saved, labeled by resulting state",
		}, []string{"state"}),
		ResetsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "ilm_consent_resets_total",
			Help: "Consent records reset to default",
		}),
		StorageFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ilm_consent_storage_failures_total",
			Help: "Consent storage failures that degraded to session-only records, labeled by operation",
		}, []string{"operation"}),
		SessionFallback: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ilm_consent_session_records",
			Help: "Visitors whose consent is currently held in memory only",
		}),
		StoreOperationLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ilm_consent_store_operation_latency_seconds",
			Help:    "Latency of consent store operations in seconds",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"operation"}),
	}
}

func (m *Metrics) IncrementChoice(state string) {
	m.ChoicesTotal.WithLabelValues(state).Inc()
}

func (m *Metrics) IncrementReset() {
	m.ResetsTotal.Inc()
}

func (m *Metrics) IncrementStorageFailure(operation string) {
	m.StorageFailures.WithLabelValues(operation).Inc()
}

func (m *Metrics) SetSessionRecords(n int) {
	m.SessionFallback.Set(float64(n))
}

// ObserveStoreOperationLatency records the latency of a store operation.
func (m *Metrics) ObserveStoreOperationLatency(operation string, durationSeconds float64) {
	m.StoreOperationLatency.WithLabelValues(operation).Observe(durationSeconds)
}
