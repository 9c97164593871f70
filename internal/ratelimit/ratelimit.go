// Package ratelimit counts submissions in a rolling window.
package ratelimit

import (
	"context"
	"time"
)

// Result is the outcome of one Allow call. RetryAfter is set only when the
// event was refused.
type Result struct {
	Allowed    bool          `json:"allowed"`
	Limit      int           `json:"limit"`
	Remaining  int           `json:"remaining"`
	ResetAt    time.Time     `json:"reset_at"`
	RetryAfter time.Duration `json:"-"`
}

// Limiter decides whether another event fits in key's window.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (Result, error)
	Reset(ctx context.Context, key string) error
}

func refused(limit int, resetAt, now time.Time) Result {
	retry := resetAt.Sub(now)
	if retry < 0 {
		retry = 0
	}
	return Result{Allowed: false, Limit: limit, ResetAt: resetAt, RetryAfter: retry}
}
