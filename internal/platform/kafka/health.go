package kafka

import (
	"context"
	"fmt"
	"net"
	"time"
)

// HealthChecker dials the configured brokers.
type HealthChecker struct {
	brokers []string
	timeout time.Duration
}

func NewHealthChecker(cfg Config) *HealthChecker {
	return &HealthChecker{
		brokers: cfg.BrokerList(),
		timeout: 2 * time.Second,
	}
}

// Check returns nil if at least one broker accepts a TCP connection.
func (h *HealthChecker) Check(ctx context.Context) error {
	if len(h.brokers) == 0 {
		return fmt.Errorf("kafka brokers not configured")
	}
	var lastErr error
	for _, broker := range h.brokers {
		dialer := net.Dialer{Timeout: h.timeout}
		conn, err := dialer.DialContext(ctx, "tcp", broker)
		if err != nil {
			lastErr = err
			continue
		}
		_ = conn.Close()
		return nil
	}
	return fmt.Errorf("no kafka brokers reachable: %w", lastErr)
}

func (h *HealthChecker) Name() string {
	return "kafka"
}
