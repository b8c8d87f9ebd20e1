// Copyright 2026 Kaizen Studio
// SPDX-License-Identifier: BUSL-1.1

package invocation

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func limiterForTest(t *testing.T) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewLimiter(rdb), mr
}

func TestLimiterAllowsWithinMinuteWindow(t *testing.T) {
	l, _ := limiterForTest(t)
	agent := &ExternalAgent{RateLimitPerMinute: 3, RateLimitPerHour: Unlimited, RateLimitPerDay: Unlimited}

	for i := 0; i < 3; i++ {
		res, err := l.Check(context.Background(), "agent-1", "user:u1", agent)
		require.NoError(t, err)
		assert.True(t, res.Allowed, "call %d", i+1)
	}

	res, err := l.Check(context.Background(), "agent-1", "user:u1", agent)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, WindowMinute, res.Window)
	assert.Equal(t, 3, res.Limit)
	assert.Greater(t, res.RetryAfter.Seconds(), 0.0)
}

func TestLimiterWindowsAreIndependentPerUser(t *testing.T) {
	l, _ := limiterForTest(t)
	agent := &ExternalAgent{RateLimitPerMinute: 1, RateLimitPerHour: Unlimited, RateLimitPerDay: Unlimited}

	res, err := l.Check(context.Background(), "agent-1", "user:u1", agent)
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	// A different caller has its own bucket.
	res, err = l.Check(context.Background(), "agent-1", "user:u2", agent)
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	res, err = l.Check(context.Background(), "agent-1", "user:u1", agent)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
}

func TestLimiterHourWindowTriggers(t *testing.T) {
	l, _ := limiterForTest(t)
	agent := &ExternalAgent{RateLimitPerMinute: Unlimited, RateLimitPerHour: 2, RateLimitPerDay: Unlimited}

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		res, err := l.Check(ctx, "agent-1", "key:k1", agent)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
	}
	res, err := l.Check(ctx, "agent-1", "key:k1", agent)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, WindowHour, res.Window)
}

func TestLimiterNoConfiguredLimits(t *testing.T) {
	l, _ := limiterForTest(t)
	agent := &ExternalAgent{RateLimitPerMinute: Unlimited, RateLimitPerHour: Unlimited, RateLimitPerDay: Unlimited}

	res, err := l.Check(context.Background(), "agent-1", "user:u1", agent)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestLimiterFailsClosedWhenRedisDown(t *testing.T) {
	l, mr := limiterForTest(t)
	mr.Close()
	agent := &ExternalAgent{RateLimitPerMinute: 10, RateLimitPerHour: Unlimited, RateLimitPerDay: Unlimited}

	res, err := l.Check(context.Background(), "agent-1", "user:u1", agent)
	require.Error(t, err)
	assert.False(t, res.Allowed)
}
