package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	consentmodels "ilm/internal/consent/models"
	"ilm/internal/platform/middleware"
	"ilm/pkg/platform/clock"
)

func counterValue(c prometheus.Counter) float64 {
	var m dto.Metric
	_ = c.Write(&m)
	return m.GetCounter().GetValue()
}

type failingStore struct{}

func (failingStore) Append(context.Context, Event) error { return errors.New("disk full") }
func (failingStore) ListByVisitor(context.Context, string) ([]Event, error) {
	return nil, nil
}

// blockingStore holds Append until release is closed.
type blockingStore struct {
	*InMemoryStore
	release chan struct{}
}

func (b blockingStore) Append(ctx context.Context, e Event) error {
	<-b.release
	return b.InMemoryStore.Append(ctx, e)
}

func TestEmitFillsContextFields(t *testing.T) {
	at := time.Date(2024, 1, 15, 13, 47, 12, 0, time.UTC)
	ctx := clock.WithTime(context.Background(), at)
	ctx = middleware.WithRequestID(ctx, "req-1")

	p := NewPublisher(NewInMemoryStore())
	require.NoError(t, p.Emit(ctx, Event{Visitor: "v1", Action: ActionDataExported}))

	events, err := p.List(ctx, "v1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, at, events[0].Timestamp)
	assert.Equal(t, "req-1", events[0].RequestID)
}

func TestConsentChanged(t *testing.T) {
	ctx := context.Background()
	p := NewPublisher(NewInMemoryStore())
	granted := true
	rec := consentmodels.NewRecord(consentmodels.Preferences{Analytics: &granted}, time.Now())

	p.ConsentChanged(ctx, "v1", nil, &rec)
	p.ConsentChanged(ctx, "v1", &rec, nil)

	events, err := p.List(ctx, "v1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, ActionConsentRecorded, events[0].Action)
	assert.Equal(t, string(consentmodels.StateCustomized), events[0].Consent)
	assert.Equal(t, consentmodels.Version, events[0].Version)
	assert.Equal(t, ActionConsentReset, events[1].Action)
	assert.Empty(t, events[1].Consent)
}

func TestAsyncPublisherDrainsOnClose(t *testing.T) {
	store := NewInMemoryStore()
	m := NewMetricsWith(prometheus.NewRegistry())
	p := NewPublisher(store, WithAsyncBuffer(10), WithMetrics(m))

	for range 5 {
		require.NoError(t, p.Emit(context.Background(), Event{Visitor: "v1", Action: ActionDataExported}))
	}
	p.Close()

	events, err := store.ListByVisitor(context.Background(), "v1")
	require.NoError(t, err)
	assert.Len(t, events, 5)
	assert.Equal(t, 5.0, counterValue(m.EventsEmitted.WithLabelValues(string(ActionDataExported))))
}

func TestAsyncPublisherDropsWhenFull(t *testing.T) {
	store := blockingStore{InMemoryStore: NewInMemoryStore(), release: make(chan struct{})}
	m := NewMetricsWith(prometheus.NewRegistry())
	p := NewPublisher(store, WithAsyncBuffer(1), WithMetrics(m))

	// The first event may be picked up by the worker and block there, so at
	// most two fit before emits start dropping.
	for range 5 {
		require.NoError(t, p.Emit(context.Background(), Event{Visitor: "v1", Action: ActionDataDeleted}))
	}
	assert.GreaterOrEqual(t, counterValue(m.EventsDropped), 3.0)

	close(store.release)
	p.Close()
}

func TestPersistFailureIsNotCounted(t *testing.T) {
	m := NewMetricsWith(prometheus.NewRegistry())
	p := NewPublisher(failingStore{}, WithMetrics(m))

	require.NoError(t, p.Emit(context.Background(), Event{Visitor: "v1", Action: ActionDataDeleted}))
	assert.Equal(t, 0.0, counterValue(m.EventsEmitted.WithLabelValues(string(ActionDataDeleted))))
}
