package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"ilm/internal/platform/kafka"
	s "ilm/pkg/string"
)

// Storage backends accepted by ILM_STORAGE.
const (
	StorageMemory = "memory"
	StorageRedis  = "redis"
	StorageSQLite = "sqlite"
)

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string
	Environment     string
	LogLevel        slog.Level
	SecureCookies   bool
	TrustedProxies  []netip.Prefix
	ShutdownTimeout time.Duration
	RequestTimeout  time.Duration

	Storage   StorageConfig
	Redis     RedisConfig
	Kafka     kafka.Config
	Booking   BookingConfig
	Forwarder ForwarderConfig
	Spam      SpamConfig
}

// StorageConfig selects the key-value backend behind every visitor namespace.
type StorageConfig struct {
	Backend    string
	SQLitePath string
	// QuotaBytes caps the in-memory backend; 0 means unlimited.
	QuotaBytes int
}

// RedisConfig holds connection settings for the shared Redis client.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// BookingConfig points at the remote accommodation application endpoint.
type BookingConfig struct {
	Endpoint string
	AnonKey  string
	Timeout  time.Duration
	FormIDs  []string
}

// Enabled reports whether booking forms are forwarded.
func (b BookingConfig) Enabled() bool {
	return b.Endpoint != ""
}

// ForwarderConfig configures the optional analytics forwarding hook.
type ForwarderConfig struct {
	URL       string
	Workers   int
	QueueSize int
	Timeout   time.Duration
}

// SpamConfig holds the rules file and tracker housekeeping settings.
type SpamConfig struct {
	RulesFile     string
	SweepInterval time.Duration
	IdleTTL       time.Duration
}

// DefaultRedisConfig returns the pool settings used when only the URL is set.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() (Server, error) {
	cfg := Server{
		Addr:            envOr("ILM_ADDR", ":8080"),
		Environment:     envOr("ILM_ENV", "development"),
		SecureCookies:   os.Getenv("ILM_SECURE_COOKIES") == "true",
		ShutdownTimeout: envDuration("ILM_SHUTDOWN_TIMEOUT", 10*time.Second),
		RequestTimeout:  envDuration("ILM_REQUEST_TIMEOUT", 40*time.Second),
		Storage: StorageConfig{
			Backend:    strings.ToLower(envOr("ILM_STORAGE", StorageMemory)),
			SQLitePath: envOr("ILM_SQLITE_PATH", "ilm.db"),
			QuotaBytes: envInt("ILM_STORAGE_QUOTA_BYTES", 5<<20),
		},
		Redis: DefaultRedisConfig(),
		Kafka: kafka.DefaultConfig(),
		Booking: BookingConfig{
			Endpoint: os.Getenv("ILM_BOOKING_URL"),
			AnonKey:  os.Getenv("ILM_BOOKING_ANON_KEY"),
			Timeout:  envDuration("ILM_BOOKING_TIMEOUT", 30*time.Second),
			FormIDs:  splitList(envOr("ILM_BOOKING_FORMS", "bookingForm")),
		},
		Forwarder: ForwarderConfig{
			URL:       os.Getenv("ILM_FORWARD_URL"),
			Workers:   envInt("ILM_FORWARD_WORKERS", 2),
			QueueSize: envInt("ILM_FORWARD_QUEUE", 256),
			Timeout:   envDuration("ILM_FORWARD_TIMEOUT", 5*time.Second),
		},
		Spam: SpamConfig{
			RulesFile:     os.Getenv("ILM_SPAM_RULES"),
			SweepInterval: envDuration("ILM_TRACKER_SWEEP", time.Minute),
			IdleTTL:       envDuration("ILM_TRACKER_IDLE_TTL", 30*time.Minute),
		},
	}

	cfg.Redis.URL = os.Getenv("REDIS_URL")
	cfg.Kafka.Brokers = os.Getenv("KAFKA_BROKERS")
	if topic := os.Getenv("KAFKA_TOPIC"); topic != "" {
		cfg.Kafka.Topic = topic
	}

	if err := cfg.LogLevel.UnmarshalText([]byte(envOr("ILM_LOG_LEVEL", "info"))); err != nil {
		return Server{}, fmt.Errorf("parse ILM_LOG_LEVEL: %w", err)
	}

	proxies, err := parsePrefixes(os.Getenv("ILM_TRUSTED_PROXIES"))
	if err != nil {
		return Server{}, err
	}
	cfg.TrustedProxies = proxies

	if err := cfg.Validate(); err != nil {
		return Server{}, err
	}
	return cfg, nil
}

// Validate rejects combinations the server cannot start with.
func (s Server) Validate() error {
	switch s.Storage.Backend {
	case StorageMemory, StorageSQLite:
	case StorageRedis:
		if s.Redis.URL == "" {
			return errors.New("ILM_STORAGE=redis requires REDIS_URL")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", s.Storage.Backend)
	}
	if s.Booking.Enabled() && s.Booking.AnonKey == "" {
		return errors.New("ILM_BOOKING_URL requires ILM_BOOKING_ANON_KEY")
	}
	// A submit request waits on the booking call; it must outlive it so the
	// visitor gets the classified timeout rather than a bare 503.
	if s.Booking.Enabled() && s.RequestTimeout > 0 && s.RequestTimeout <= s.Booking.Timeout {
		return fmt.Errorf("ILM_REQUEST_TIMEOUT (%s) must exceed ILM_BOOKING_TIMEOUT (%s)",
			s.RequestTimeout, s.Booking.Timeout)
	}
	return nil
}

// AnonKeyExpiry reads the exp claim of the booking anon key without verifying
// its signature; the key is signed by the booking backend, not by us.
// ok is false when the token carries no expiry.
func AnonKeyExpiry(key string) (exp time.Time, ok bool, err error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(key, claims); err != nil {
		return time.Time{}, false, fmt.Errorf("parse anon key: %w", err)
	}
	date, err := claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, false, fmt.Errorf("read anon key expiry: %w", err)
	}
	if date == nil {
		return time.Time{}, false, nil
	}
	return date.Time, true, nil
}

// CheckAnonKey logs a warning when the booking anon key is unreadable, expired
// or close to expiry. Submissions are still attempted.
func CheckAnonKey(logger *slog.Logger, key string, now time.Time) {
	if key == "" {
		return
	}
	exp, ok, err := AnonKeyExpiry(key)
	switch {
	case err != nil:
		logger.Warn("booking anon key is not a readable JWT", "error", err)
	case !ok:
		logger.Info("booking anon key has no expiry")
	case !exp.After(now):
		logger.Warn("booking anon key has expired", "expired_at", exp.UTC().Format(time.RFC3339))
	case exp.Sub(now) < 30*24*time.Hour:
		logger.Warn("booking anon key expires soon", "expires_at", exp.UTC().Format(time.RFC3339))
	}
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func splitList(list string) []string {
	return s.DedupeAndTrim(strings.Split(list, ","))
}

func parsePrefixes(list string) ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, part := range splitList(list) {
		p, err := netip.ParsePrefix(part)
		if err != nil {
			return nil, fmt.Errorf("parse ILM_TRUSTED_PROXIES: %w", err)
		}
		out = append(out, p)
	}
	return out, nil
}
