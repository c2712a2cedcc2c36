package redis

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// RateLimitConfig defines rate limiting parameters.
type RateLimitConfig struct {
	Limit  int           // Maximum requests allowed
	Window time.Duration // Time window for the limit
}

// RateLimitResult contains the result of a rate limit check.
type RateLimitResult struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// RateLimiter implements fixed-window rate limiting using Redis. It guards
// the on-demand run endpoint so an operator script stuck in a loop cannot
// keep triggering runs.
type RateLimiter struct {
	client *Client
	logger *zap.Logger
	config RateLimitConfig
}

// NewRateLimiter creates a new rate limiter with the given configuration.
func NewRateLimiter(client *Client, logger *zap.Logger, config RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		client: client,
		logger: logger,
		config: config,
	}
}

// Allow checks if a request is allowed under the rate limit.
func (r *RateLimiter) Allow(ctx context.Context, key string) (*RateLimitResult, error) {
	now := time.Now()
	window := now.Truncate(r.config.Window)
	resetAt := window.Add(r.config.Window)

	redisKey := fmt.Sprintf("ratelimit:%s:%d", key, window.Unix())

	count, err := r.client.rdb.Incr(ctx, redisKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis incr failed: %w", err)
	}

	if count == 1 {
		if err := r.client.rdb.Expire(ctx, redisKey, r.config.Window+time.Second).Err(); err != nil {
			return nil, fmt.Errorf("redis expire failed: %w", err)
		}
	}

	remaining := r.config.Limit - int(count)
	if remaining < 0 {
		remaining = 0
	}

	if int(count) > r.config.Limit {
		r.logger.Debug("rate limit exceeded",
			zap.String("key", key),
			zap.Int64("current", count),
			zap.Int("limit", r.config.Limit),
		)
		return &RateLimitResult{
			Allowed:   false,
			Remaining: remaining,
			ResetAt:   resetAt,
		}, nil
	}

	return &RateLimitResult{
		Allowed:   true,
		Remaining: remaining,
		ResetAt:   resetAt,
	}, nil
}
