package config

import (
	"bytes"
	"log/slog"
	"net/netip"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, StorageMemory, cfg.Storage.Backend)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.Equal(t, []string{"bookingForm"}, cfg.Booking.FormIDs)
	assert.False(t, cfg.Booking.Enabled())
	assert.False(t, cfg.Kafka.Enabled())
	assert.Equal(t, "ilm.analytics.events", cfg.Kafka.Topic)
	assert.Greater(t, cfg.RequestTimeout, cfg.Booking.Timeout)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("ILM_ADDR", ":9000")
	t.Setenv("ILM_STORAGE", "SQLite")
	t.Setenv("ILM_SQLITE_PATH", "/tmp/visitors.db")
	t.Setenv("ILM_LOG_LEVEL", "debug")
	t.Setenv("ILM_TRUSTED_PROXIES", "10.0.0.0/8, 192.168.0.0/16")
	t.Setenv("ILM_BOOKING_URL", "https://example.test/functions/v1/submit")
	t.Setenv("ILM_BOOKING_ANON_KEY", "anon")
	t.Setenv("ILM_BOOKING_FORMS", "bookingForm, viewingForm")
	t.Setenv("KAFKA_BROKERS", "localhost:9092")
	t.Setenv("KAFKA_TOPIC", "site.events")
	t.Setenv("ILM_FORWARD_TIMEOUT", "2s")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Addr)
	assert.Equal(t, StorageSQLite, cfg.Storage.Backend)
	assert.Equal(t, "/tmp/visitors.db", cfg.Storage.SQLitePath)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Equal(t, []netip.Prefix{
		netip.MustParsePrefix("10.0.0.0/8"),
		netip.MustParsePrefix("192.168.0.0/16"),
	}, cfg.TrustedProxies)
	assert.True(t, cfg.Booking.Enabled())
	assert.Equal(t, []string{"bookingForm", "viewingForm"}, cfg.Booking.FormIDs)
	assert.True(t, cfg.Kafka.Enabled())
	assert.Equal(t, "site.events", cfg.Kafka.Topic)
	assert.Equal(t, 2*time.Second, cfg.Forwarder.Timeout)
}

func TestFromEnvRejects(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown backend", map[string]string{"ILM_STORAGE": "etcd"}},
		{"redis without url", map[string]string{"ILM_STORAGE": "redis"}},
		{"booking without key", map[string]string{"ILM_BOOKING_URL": "https://example.test"}},
		{"bad proxy", map[string]string{"ILM_TRUSTED_PROXIES": "not-a-cidr"}},
		{"bad log level", map[string]string{"ILM_LOG_LEVEL": "loud"}},
		{"request timeout not above booking timeout", map[string]string{
			"ILM_BOOKING_URL":      "https://example.test",
			"ILM_BOOKING_ANON_KEY": "anon",
			"ILM_REQUEST_TIMEOUT":  "30s",
			"ILM_BOOKING_TIMEOUT":  "30s",
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := FromEnv()
			assert.Error(t, err)
		})
	}
}

func signedKey(t *testing.T, exp *time.Time) string {
	t.Helper()
	claims := jwt.MapClaims{"role": "anon"}
	if exp != nil {
		claims["exp"] = exp.Unix()
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("backend-secret"))
	require.NoError(t, err)
	return token
}

func TestAnonKeyExpiry(t *testing.T) {
	exp := time.Date(2034, 1, 1, 0, 0, 0, 0, time.UTC)

	got, ok, err := AnonKeyExpiry(signedKey(t, &exp))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, exp.Equal(got))

	_, ok, err = AnonKeyExpiry(signedKey(t, nil))
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = AnonKeyExpiry("not.a.jwt")
	assert.Error(t, err)
}

func TestCheckAnonKey(t *testing.T) {
	now := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	expired := now.Add(-time.Hour)
	soon := now.Add(7 * 24 * time.Hour)
	later := now.Add(365 * 24 * time.Hour)

	tests := []struct {
		name string
		key  string
		want string
	}{
		{"expired", signedKey(t, &expired), "has expired"},
		{"expiring soon", signedKey(t, &soon), "expires soon"},
		{"unreadable", "garbage", "not a readable JWT"},
		{"healthy", signedKey(t, &later), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			CheckAnonKey(slog.New(slog.NewTextHandler(&buf, nil)), tt.key, now)
			if tt.want == "" {
				assert.Empty(t, buf.String())
				return
			}
			assert.Contains(t, buf.String(), tt.want)
		})
	}
}
