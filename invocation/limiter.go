// Copyright 2026 Kaizen Studio
// SPDX-License-Identifier: BUSL-1.1

package invocation

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// LimitWindow names one of the three independent windows.
type LimitWindow string

const (
	WindowMinute LimitWindow = "minute"
	WindowHour   LimitWindow = "hour"
	WindowDay    LimitWindow = "day"
)

// LimitResult is the outcome of a pre-invocation rate check.
type LimitResult struct {
	Allowed bool
	// Window is the tightest window that triggered, when denied.
	Window     LimitWindow
	Limit      int
	Current    int64
	RetryAfter time.Duration
}

// Limiter caps invocations per (agent, user) over minute, hour and day
// windows. Each window is a fixed bucket keyed by its epoch; buckets are
// counted with INCR and expired a little after the window closes.
type Limiter struct {
	rdb *redis.Client
}

// NewLimiter creates an invocation rate limiter.
func NewLimiter(rdb *redis.Client) *Limiter {
	return &Limiter{rdb: rdb}
}

type windowSpec struct {
	name     LimitWindow
	duration time.Duration
	limit    int
}

// Check consumes one slot in every configured window and reports the
// tightest window that denies. Windows with an Unlimited or zero cap are
// skipped. Fails closed when the counter service is unreachable.
func (l *Limiter) Check(ctx context.Context, agentID, userKey string, agent *ExternalAgent) (*LimitResult, error) {
	now := time.Now()
	specs := []windowSpec{
		{WindowMinute, time.Minute, agent.RateLimitPerMinute},
		{WindowHour, time.Hour, agent.RateLimitPerHour},
		{WindowDay, 24 * time.Hour, agent.RateLimitPerDay},
	}

	pipe := l.rdb.Pipeline()
	incrs := make(map[LimitWindow]*redis.IntCmd, len(specs))
	for _, spec := range specs {
		if spec.limit <= 0 {
			continue
		}
		key := l.key(agentID, userKey, spec, now)
		incrs[spec.name] = pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, spec.duration+10*time.Second)
	}
	if len(incrs) == 0 {
		return &LimitResult{Allowed: true}, nil
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return &LimitResult{Allowed: false}, fmt.Errorf("rate limit check failed: %w", err)
	}

	for _, spec := range specs {
		cmd, ok := incrs[spec.name]
		if !ok {
			continue
		}
		count := cmd.Val()
		if count > int64(spec.limit) {
			return &LimitResult{
				Allowed:    false,
				Window:     spec.name,
				Limit:      spec.limit,
				Current:    count,
				RetryAfter: untilWindowEnd(now, spec.duration),
			}, nil
		}
	}
	return &LimitResult{Allowed: true}, nil
}

func (l *Limiter) key(agentID, userKey string, spec windowSpec, now time.Time) string {
	epoch := now.Unix() / int64(spec.duration/time.Second)
	return fmt.Sprintf("invlimit:%s:%s:%s:%d", agentID, userKey, spec.name, epoch)
}

func untilWindowEnd(now time.Time, d time.Duration) time.Duration {
	bucket := now.Truncate(d)
	return bucket.Add(d).Sub(now)
}
