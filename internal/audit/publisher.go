package audit

import (
	"context"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	consentmodels "ilm/internal/consent/models"
	"ilm/internal/platform/middleware"
	"ilm/pkg/platform/clock"
)

// Metrics counts trail entries.
type Metrics struct {
	EventsEmitted *prometheus.CounterVec
	EventsDropped prometheus.Counter
}

func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		EventsEmitted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ilm_audit_events_total",
			Help: "Audit trail entries accepted, by action",
		}, []string{"action"}),
		EventsDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "ilm_audit_events_dropped_total",
			Help: "Audit trail entries dropped because the buffer was full",
		}),
	}
}

// Publisher captures audit events. It is append-only and uses the storage
// layer for persistence so tests can swap sinks easily.
type Publisher struct {
	store   Store
	events  chan Event
	wg      sync.WaitGroup
	logger  *slog.Logger
	metrics *Metrics
	async   bool
}

// PublisherOption configures the Publisher.
type PublisherOption func(*Publisher)

// WithAsyncBuffer enables async processing with the specified buffer size.
// Events are queued and persisted in a background goroutine.
func WithAsyncBuffer(size int) PublisherOption {
	return func(p *Publisher) {
		if size > 0 {
			p.events = make(chan Event, size)
			p.async = true
		}
	}
}

// WithPublisherLogger sets a logger for async error reporting.
func WithPublisherLogger(logger *slog.Logger) PublisherOption {
	return func(p *Publisher) {
		p.logger = logger
	}
}

func WithMetrics(m *Metrics) PublisherOption {
	return func(p *Publisher) {
		p.metrics = m
	}
}

func NewPublisher(store Store, opts ...PublisherOption) *Publisher {
	p := &Publisher{store: store}
	for _, opt := range opts {
		opt(p)
	}
	if p.async {
		p.wg.Add(1)
		go p.processEvents()
	}
	return p
}

// processEvents runs in a goroutine and persists events from the channel.
func (p *Publisher) processEvents() {
	defer p.wg.Done()
	for event := range p.events {
		p.persist(context.Background(), event)
	}
}

func (p *Publisher) persist(ctx context.Context, event Event) {
	if err := p.store.Append(ctx, event); err != nil {
		if p.logger != nil {
			p.logger.ErrorContext(ctx, "failed to persist audit event",
				"error", err,
				"action", event.Action,
				"visitor", event.Visitor,
			)
		}
		return
	}
	if p.metrics != nil {
		p.metrics.EventsEmitted.WithLabelValues(string(event.Action)).Inc()
	}
}

// Close shuts down the async publisher and waits for pending events to drain.
func (p *Publisher) Close() {
	if p.async && p.events != nil {
		close(p.events)
		p.wg.Wait()
	}
}

// Emit records event. The timestamp and request id are filled from ctx when
// unset. A full async buffer drops the event rather than block the request.
func (p *Publisher) Emit(ctx context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = clock.Now(ctx)
	}
	if event.RequestID == "" {
		event.RequestID = middleware.GetRequestID(ctx)
	}
	if p.async {
		select {
		case p.events <- event:
			return nil
		default:
			if p.metrics != nil {
				p.metrics.EventsDropped.Inc()
			}
			if p.logger != nil {
				p.logger.WarnContext(ctx, "audit buffer full, event dropped",
					"action", event.Action,
					"visitor", event.Visitor,
				)
			}
			return nil
		}
	}
	p.persist(ctx, event)
	return nil
}

func (p *Publisher) List(ctx context.Context, visitor string) ([]Event, error) {
	return p.store.ListByVisitor(ctx, visitor)
}

// ConsentChanged records every decision and reset.
func (p *Publisher) ConsentChanged(ctx context.Context, visitor string, _, curr *consentmodels.Record) {
	event := Event{Visitor: visitor, Action: ActionConsentReset}
	if curr != nil {
		event.Action = ActionConsentRecorded
		event.Consent = string(consentmodels.StateOf(curr))
		event.Version = curr.Version
	}
	_ = p.Emit(ctx, event)
}
