package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the process-wide HTTP and housekeeping metrics.
type Metrics struct {
	Requests        *prometheus.CounterVec
	EndpointLatency *prometheus.HistogramVec
	TrackersEvicted prometheus.Counter
	StorageBackend  *prometheus.GaugeVec

	factory promauto.Factory
}

// New creates and registers all metrics on the default registry.
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith registers on reg so tests can use an isolated registry.
func NewWith(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		factory: f,
		Requests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ilm_http_requests_total",
			Help: "HTTP requests by route pattern, method and status code",
		}, []string{"route", "method", "status"}),
		EndpointLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ilm_http_request_duration_seconds",
			Help:    "Latency of endpoints in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		TrackersEvicted: f.NewCounter(prometheus.CounterOpts{
			Name: "ilm_behavior_trackers_evicted_total",
			Help: "Idle form behaviour trackers removed by the sweeper",
		}),
		StorageBackend: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ilm_storage_backend_info",
			Help: "Configured key-value backend (value is always 1)",
		}, []string{"backend"}),
	}
}

// ObserveEndpointLatency records the latency for a given route.
func (m *Metrics) ObserveEndpointLatency(route string, durationSeconds float64) {
	m.EndpointLatency.WithLabelValues(route).Observe(durationSeconds)
}

// TrackActiveTrackers exposes count as the live tracker gauge, sampled on scrape.
func (m *Metrics) TrackActiveTrackers(count func() int) prometheus.GaugeFunc {
	return m.factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "ilm_behavior_trackers_active",
		Help: "Form behaviour trackers currently attached",
	}, func() float64 { return float64(count()) })
}

func (m *Metrics) IncrementTrackersEvicted() {
	m.TrackersEvicted.Inc()
}

func (m *Metrics) SetStorageBackend(backend string) {
	m.StorageBackend.WithLabelValues(backend).Set(1)
}

// Middleware counts requests by chi route pattern so path parameters such as
// form ids do not explode label cardinality.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		m.Requests.WithLabelValues(route, r.Method, strconv.Itoa(rec.status)).Inc()
		m.ObserveEndpointLatency(route, time.Since(start).Seconds())
	})
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
