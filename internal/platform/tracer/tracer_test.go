package tracer_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"ilm/internal/platform/tracer"
)

func TestNoopTracer(t *testing.T) {
	tr := tracer.NewNoop()
	ctx := context.Background()

	newCtx, span := tr.Start(ctx, tracer.SpanBookingSubmit, tracer.String("key", "value"))
	assert.Equal(t, ctx, newCtx)
	require.NotNil(t, span)

	span.SetAttributes(tracer.Int(tracer.AttrStatusCode, 200))
	span.AddEvent("retry", tracer.Bool("flag", true))
	span.End(errors.New("boom"))
}

func TestOTelTracerWithNoopProvider(t *testing.T) {
	tr := tracer.NewOTel(tracer.WithOTelTracer(noop.NewTracerProvider().Tracer("test")))

	_, span := tr.Start(context.Background(), tracer.SpanBookingCall,
		tracer.String(tracer.AttrApplicationID, "RH-ILM-12345678"),
		tracer.Duration("timeout", 30*time.Second),
	)
	span.SetAttributes(tracer.Int(tracer.AttrStatusCode, 502))
	span.End(errors.New("upstream"))
}

func TestHashEmail(t *testing.T) {
	assert.Empty(t, tracer.HashEmail(""))
	h := tracer.HashEmail("sarah@example.com")
	assert.Len(t, h, 16)
	assert.Equal(t, h, tracer.HashEmail("sarah@example.com"))
	assert.NotEqual(t, h, tracer.HashEmail("omar@example.com"))
}

func TestDurationIsMilliseconds(t *testing.T) {
	assert.Equal(t, int64(150), tracer.Duration("latency", 150*time.Millisecond).Value)
}
