// Package collector is the receiving side of analytics forwarding. It accepts
// envelopes over HTTP or from the Kafka topic, counts them by type and logs
// only the sender's anonymized network.
package collector

import (
	"context"
	"encoding/json"
	"log/slog"
	"maps"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"

	"ilm/internal/analytics/metrics"
	"ilm/internal/analytics/models"
	"ilm/internal/platform/kafka/consumer"
	"ilm/internal/platform/middleware"
	"ilm/internal/platform/privacy"
	dErrors "ilm/pkg/domain-errors"
	"ilm/pkg/platform/httputil"
)

const (
	SourceHTTP  = "http"
	SourceKafka = "kafka"

	maxBodyBytes = 64 << 10
)

// Envelope is the forwarded body. Data stays raw since the collector never
// interprets payloads.
type Envelope struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

type Collector struct {
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu     sync.Mutex
	counts map[string]int
}

func New(logger *slog.Logger, m *metrics.Metrics) *Collector {
	return &Collector{logger: logger, metrics: m, counts: make(map[string]int)}
}

// Ingest decodes and counts one envelope.
func (c *Collector) Ingest(ctx context.Context, source, sender string, body []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, dErrors.New(dErrors.CodeBadRequest, "invalid envelope")
	}
	if !models.ValidType(env.Type) {
		return nil, dErrors.New(dErrors.CodeValidation, "invalid event type")
	}

	c.mu.Lock()
	c.counts[env.Type]++
	c.mu.Unlock()
	if c.metrics != nil {
		c.metrics.IncrementCollected(env.Type, source)
	}

	attrs := []any{"type", env.Type, "source", source}
	if sender != "" {
		attrs = append(attrs, "sender", privacy.AnonymizeIP(sender))
	}
	c.logger.InfoContext(ctx, "analytics event collected", attrs...)
	return &env, nil
}

// Counts returns a copy of the per-type totals.
func (c *Collector) Counts() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return maps.Clone(c.counts)
}

// Handle implements consumer.Handler for records read from the topic.
func (c *Collector) Handle(ctx context.Context, msg *consumer.Message) error {
	_, err := c.Ingest(ctx, SourceKafka, "", msg.Value)
	return err
}

// Register registers the collector routes with the chi router.
func (c *Collector) Register(r chi.Router) {
	r.Post("/collect", c.HandleCollect)
	r.Get("/collect/stats", c.HandleStats)
}

// HandleCollect accepts one forwarded envelope.
func (c *Collector) HandleCollect(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	body, err := readBody(w, r)
	if err != nil {
		c.logger.WarnContext(ctx, "failed to read collect body",
			"request_id", middleware.GetRequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	if _, err := c.Ingest(ctx, SourceHTTP, middleware.GetClientIP(ctx), body); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// HandleStats returns the per-type totals.
func (c *Collector) HandleStats(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"counts": c.Counts()})
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	var raw json.RawMessage
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	return raw, nil
}
