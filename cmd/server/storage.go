package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"ilm/internal/platform/config"
	"ilm/internal/platform/database"
	"ilm/internal/platform/health"
	"ilm/internal/platform/kvstore"
	redisclient "ilm/internal/platform/redis"
	"ilm/internal/ratelimit"
)

// backends is everything the storage choice decides, plus what must be
// closed on shutdown.
type backends struct {
	kv      kvstore.Store
	limiter ratelimit.Limiter
	// local is set when limits are kept in process and need sweeping.
	local   *ratelimit.Memory
	checks  []health.Checker
	redis   *redisclient.Client
	closers []func() error
}

func (b *backends) Close(logger *slog.Logger) {
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			logger.Warn("failed to close backend", "error", err)
		}
	}
}

// openBackends picks the key-value store. Redis, when configured, also backs
// the submission rate limiter so limits hold across instances.
func openBackends(ctx context.Context, cfg config.Server) (*backends, error) {
	local := ratelimit.NewMemory()
	b := &backends{limiter: local, local: local}

	rc, err := redisclient.New(ctx, cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	if rc != nil {
		b.redis = rc
		b.limiter = ratelimit.NewRedis(rc.Client, "")
		b.local = nil
		b.checks = append(b.checks, rc)
		b.closers = append(b.closers, rc.Close)
	}

	switch cfg.Storage.Backend {
	case config.StorageRedis:
		b.kv = kvstore.NewRedis(rc.Client, "")
	case config.StorageSQLite:
		dbCfg := database.DefaultConfig()
		dbCfg.Path = cfg.Storage.SQLitePath
		pool, err := database.New(ctx, dbCfg)
		if err != nil {
			b.Close(slog.Default())
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		b.closers = append(b.closers, pool.Close)
		b.checks = append(b.checks, pool)
		store, err := kvstore.NewSQLite(ctx, pool.DB())
		if err != nil {
			b.Close(slog.Default())
			return nil, err
		}
		b.kv = store
	default:
		b.kv = kvstore.NewMemory(kvstore.WithQuota(cfg.Storage.QuotaBytes))
	}
	return b, nil
}

// sweepLimits drops expired in-process rate-limit windows until ctx is done.
func sweepLimits(ctx context.Context, m *ratelimit.Memory, interval time.Duration, logger *slog.Logger) error {
	if interval <= 0 {
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			if n := m.Sweep(now); n > 0 {
				logger.Debug("rate limit windows swept", "removed", n)
			}
		}
	}
}
