// Package forwarder ships anonymized analytics events to remote collectors off
// the write path. Delivery is best effort: a full queue drops the event, an open
// circuit skips the sink and failures are only logged and counted.
package forwarder

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"ilm/internal/analytics/metrics"
	"ilm/pkg/platform/circuit"
)

const (
	defaultWorkers   = 4
	defaultQueueSize = 1024
	defaultTimeout   = 5 * time.Second
)

type sinkEntry struct {
	sink    Sink
	breaker *circuit.Breaker
}

// Forwarder fans envelopes out to its sinks from a bounded queue served by a
// fixed set of workers.
type Forwarder struct {
	sinks   []sinkEntry
	queue   chan Envelope
	workers int
	timeout time.Duration
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

type Option func(*Forwarder)

// WithSink adds a sink guarded by its own circuit breaker.
func WithSink(s Sink, opts ...circuit.Option) Option {
	return func(f *Forwarder) {
		f.sinks = append(f.sinks, sinkEntry{sink: s, breaker: circuit.New(s.Name(), opts...)})
	}
}

func WithWorkers(n int) Option {
	return func(f *Forwarder) {
		if n > 0 {
			f.workers = n
		}
	}
}

func WithQueueSize(n int) Option {
	return func(f *Forwarder) {
		if n > 0 {
			f.queue = make(chan Envelope, n)
		}
	}
}

// WithTimeout bounds each sink call.
func WithTimeout(d time.Duration) Option {
	return func(f *Forwarder) {
		if d > 0 {
			f.timeout = d
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(f *Forwarder) { f.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(f *Forwarder) {
		if now != nil {
			f.now = now
		}
	}
}

func New(logger *slog.Logger, opts ...Option) *Forwarder {
	f := &Forwarder{
		queue:   make(chan Envelope, defaultQueueSize),
		workers: defaultWorkers,
		timeout: defaultTimeout,
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Enabled reports whether any sink is configured.
func (f *Forwarder) Enabled() bool {
	return len(f.sinks) > 0
}

// Forward enqueues env without blocking and reports whether it was accepted.
func (f *Forwarder) Forward(ctx context.Context, env Envelope) bool {
	if !f.Enabled() {
		return false
	}
	select {
	case f.queue <- env:
		f.observeQueue()
		return true
	default:
		f.logger.WarnContext(ctx, "analytics forward queue full, dropping event", "type", env.Type)
		if f.metrics != nil {
			f.metrics.IncrementForwarded("queue", "dropped")
		}
		return false
	}
}

// Run serves the queue until ctx is cancelled. Events still queued at that
// point are dropped.
func (f *Forwarder) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < f.workers; i++ {
		wg.Go(func() { f.work(ctx) })
	}
	wg.Wait()

	if n := len(f.queue); n > 0 {
		f.logger.Warn("analytics forwarder stopped with queued events", "dropped", n)
	}
	return nil
}

func (f *Forwarder) work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-f.queue:
			f.observeQueue()
			f.deliver(ctx, env)
		}
	}
}

// deliver sends env to every sink whose circuit admits it.
func (f *Forwarder) deliver(ctx context.Context, env Envelope) {
	for _, e := range f.sinks {
		name := e.sink.Name()
		if !e.breaker.Allow(f.now()) {
			f.count(name, "skipped")
			continue
		}

		sendCtx, cancel := context.WithTimeout(ctx, f.timeout)
		start := time.Now()
		err := e.sink.Send(sendCtx, env)
		cancel()
		if f.metrics != nil {
			f.metrics.ObserveForwardLatency(name, time.Since(start).Seconds())
		}

		if err != nil {
			f.count(name, "failed")
			change := e.breaker.RecordFailure(f.now())
			f.logger.DebugContext(ctx, "analytics upload deferred", "sink", name, "type", env.Type, "error", err)
			if change.Opened {
				f.logger.WarnContext(ctx, "analytics sink circuit opened", "sink", name, "error", err)
				f.setCircuit(name, true)
			}
			continue
		}

		f.count(name, "sent")
		if e.breaker.RecordSuccess().Closed {
			f.logger.InfoContext(ctx, "analytics sink circuit closed", "sink", name)
			f.setCircuit(name, false)
		}
	}
}

func (f *Forwarder) count(sink, result string) {
	if f.metrics != nil {
		f.metrics.IncrementForwarded(sink, result)
	}
}

func (f *Forwarder) setCircuit(sink string, open bool) {
	if f.metrics != nil {
		f.metrics.SetCircuitOpen(sink, open)
	}
}

func (f *Forwarder) observeQueue() {
	if f.metrics != nil {
		f.metrics.SetQueueDepth(len(f.queue))
	}
}
