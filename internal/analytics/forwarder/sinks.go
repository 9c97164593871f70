package forwarder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"ilm/internal/analytics/models"
	"ilm/internal/platform/kafka/producer"
)

// Envelope is the body shipped to a remote collector.
type Envelope struct {
	Type      string         `json:"type"`
	Data      models.Payload `json:"data"`
	Timestamp int64          `json:"timestamp"`
}

// Sink delivers one envelope. Errors are counted and swallowed by the caller.
type Sink interface {
	Name() string
	Send(ctx context.Context, env Envelope) error
}

// HTTPSink POSTs envelopes as JSON.
type HTTPSink struct {
	url    string
	client *http.Client
}

// NewHTTPSink posts to url. A nil client gets a 5 second timeout.
func NewHTTPSink(url string, client *http.Client) *HTTPSink {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &HTTPSink{url: url, client: client}
}

func (s *HTTPSink) Name() string { return "http" }

func (s *HTTPSink) Send(ctx context.Context, env Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post envelope: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("collector returned %d", resp.StatusCode)
	}
	return nil
}

// Publisher is the part of the Kafka producer the sink needs.
type Publisher interface {
	Produce(ctx context.Context, msg *producer.Message) error
}

// KafkaSink produces envelopes keyed by event type.
type KafkaSink struct {
	publisher Publisher
}

func NewKafkaSink(p Publisher) *KafkaSink {
	return &KafkaSink{publisher: p}
}

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) Send(ctx context.Context, env Envelope) error {
	value, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	return s.publisher.Produce(ctx, &producer.Message{
		Key:   []byte(env.Type),
		Value: value,
		Headers: map[string]string{
			"content-type": "application/json",
			"category":     string(env.Data.Category()),
		},
	})
}
