package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "ilm:ratelimit:"

// Redis is a sliding-window limiter shared across instances. Each key is a
// sorted set of event times scored in milliseconds.
type Redis struct {
	client redis.UniversalClient
	prefix string
}

// NewRedis creates a Redis limiter. An empty prefix uses "ilm:ratelimit:".
func NewRedis(client redis.UniversalClient, prefix string) *Redis {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) Allow(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (Result, error) {
	k := r.prefix + key
	nowMS := now.UnixMilli()
	cutoff := now.Add(-window).UnixMilli()

	var oldest *redis.ZSliceCmd
	var count *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZRemRangeByScore(ctx, k, "-inf", strconv.FormatInt(cutoff, 10))
		count = p.ZCard(ctx, k)
		oldest = p.ZRangeWithScores(ctx, k, 0, 0)
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("rate limit read %s: %w", key, err)
	}

	resetAt := now.Add(window)
	if zs := oldest.Val(); len(zs) > 0 {
		resetAt = time.UnixMilli(int64(zs[0].Score)).Add(window)
	}
	if int(count.Val()) >= limit {
		return refused(limit, resetAt, now), nil
	}

	member := strconv.FormatInt(now.UnixNano(), 10)
	_, err = r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZAdd(ctx, k, redis.Z{Score: float64(nowMS), Member: member})
		p.PExpire(ctx, k, window)
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("rate limit record %s: %w", key, err)
	}
	return Result{
		Allowed:   true,
		Limit:     limit,
		Remaining: limit - int(count.Val()) - 1,
		ResetAt:   resetAt,
	}, nil
}

func (r *Redis) Reset(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.prefix+key).Err(); err != nil {
		return fmt.Errorf("rate limit reset %s: %w", key, err)
	}
	return nil
}
