package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiterFixedWindow(t *testing.T) {
	mr, rdb := newTestRedis(t)
	limiter := NewRateLimiter(rdb, time.Minute)
	now := time.Date(2026, 3, 1, 10, 0, 5, 0, time.UTC)
	limiter.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		d, err := limiter.Allow(ctx, "generate:1.2.3.4", 3)
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.Equal(t, 3-i, d.Remaining)
		assert.Equal(t, time.Date(2026, 3, 1, 10, 1, 0, 0, time.UTC), d.ResetAt)
	}

	d, err := limiter.Allow(ctx, "generate:1.2.3.4", 3)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Zero(t, d.Remaining)

	other, err := limiter.Allow(ctx, "generate:5.6.7.8", 3)
	require.NoError(t, err)
	assert.True(t, other.Allowed, "budgets are per key")

	key := "ratelimit:generate:1.2.3.4:" + "1772359200"
	assert.True(t, mr.Exists(key))
	assert.Equal(t, 2*time.Minute, mr.TTL(key))

	now = now.Add(time.Minute)
	d, err = limiter.Allow(ctx, "generate:1.2.3.4", 3)
	require.NoError(t, err)
	assert.True(t, d.Allowed, "a new window starts fresh")
}

func TestRateLimiterFailsOpen(t *testing.T) {
	mr, rdb := newTestRedis(t)
	limiter := NewRateLimiter(rdb, time.Minute)
	mr.Close()

	d, err := limiter.Allow(context.Background(), "quiz:1.2.3.4", 1)
	assert.Error(t, err)
	assert.True(t, d.Allowed)
}
