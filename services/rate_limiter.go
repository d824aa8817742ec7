package services

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimiter is a fixed-window counter kept in Redis so every server
// instance shares the same budget.
type RateLimiter struct {
	client *redis.Client
	window time.Duration
	now    func() time.Time
}

func NewRateLimiter(client *redis.Client, window time.Duration) *RateLimiter {
	return &RateLimiter{client: client, window: window, now: time.Now}
}

type RateDecision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Allow counts one hit for key in the current window.
func (l *RateLimiter) Allow(ctx context.Context, key string, limit int) (RateDecision, error) {
	now := l.now()
	windowStart := now.Truncate(l.window)
	redisKey := fmt.Sprintf("ratelimit:%s:%d", key, windowStart.Unix())

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.Expire(ctx, redisKey, 2*l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return RateDecision{Allowed: true, Limit: limit, Remaining: limit}, err
	}

	count := int(incr.Val())
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return RateDecision{
		Allowed:   count <= limit,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   windowStart.Add(l.window),
	}, nil
}
