package kvstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "ilm:kv:"

// Redis persists values as plain Redis strings under a fixed key prefix.
// Values never expire; retention is enforced by the callers (bounded logs, purge).
type Redis struct {
	client redis.UniversalClient
	prefix string
}

// NewRedis constructs a Redis-backed store. An empty prefix uses "ilm:kv:".
func NewRedis(client redis.UniversalClient, prefix string) *Redis {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) Get(ctx context.Context, key string) (string, error) {
	v, err := r.client.Get(ctx, r.prefix+key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("get %s: %w: %w", key, ErrUnavailable, err)
	}
	return v, nil
}

func (r *Redis) Set(ctx context.Context, key, value string) error {
	if err := r.client.Set(ctx, r.prefix+key, value, 0).Err(); err != nil {
		if strings.Contains(err.Error(), "OOM") {
			return fmt.Errorf("set %s: %w: %w", key, ErrQuotaExceeded, err)
		}
		return fmt.Errorf("set %s: %w: %w", key, ErrUnavailable, err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.prefix+key).Err(); err != nil {
		return fmt.Errorf("delete %s: %w: %w", key, ErrUnavailable, err)
	}
	return nil
}

func (r *Redis) Keys(ctx context.Context) ([]string, error) {
	return r.KeysWithPrefix(ctx, "")
}

// KeysWithPrefix scans only the keys under prefix so a namespaced listing does not
// walk every visitor's data.
func (r *Redis) KeysWithPrefix(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := r.client.Scan(ctx, 0, r.prefix+prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), r.prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan keys: %w: %w", ErrUnavailable, err)
	}
	return keys, nil
}
