// Package kafka holds the franz-go plumbing shared by the analytics event
// producer and the collector's consumer.
package kafka

import (
	"strings"
	"time"
)

// Config holds the broker settings for both directions.
type Config struct {
	Brokers         string
	Topic           string
	ClientID        string
	Acks            string
	Retries         int
	DeliveryTimeout time.Duration
	GroupID         string
}

// DefaultConfig returns the settings used when only brokers and topic are set.
func DefaultConfig() Config {
	return Config{
		Topic:           "ilm.analytics.events",
		ClientID:        "ilm",
		Acks:            "1",
		Retries:         3,
		DeliveryTimeout: 10 * time.Second,
		GroupID:         "ilm-collector",
	}
}

// BrokerList splits the comma separated broker string.
func (c Config) BrokerList() []string {
	var out []string
	for _, b := range strings.Split(c.Brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// Enabled reports whether brokers are configured.
func (c Config) Enabled() bool {
	return len(c.BrokerList()) > 0
}
