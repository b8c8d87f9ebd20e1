// Copyright 2026 Kaizen Studio
// SPDX-License-Identifier: BUSL-1.1

package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"kaizenstudio/platform/shared/logger"
	"kaizenstudio/platform/shared/principal"
)

// counterTimeout bounds every counter-service round trip.
const counterTimeout = 1 * time.Second

// anonymousAuthLimits are per-minute IP limits on the unauthenticated
// auth endpoints.
var anonymousAuthLimits = map[string]int{
	"/api/v1/auth/login":           10,
	"/api/v1/auth/register":        5,
	"/api/v1/auth/forgot-password": 3,
	"/api/v1/auth/reset-password":  5,
	"/api/v1/auth/refresh":         30,
}

// RateLimiter enforces a per-principal sliding-window cap, bucketed by
// wall-clock minute over Redis.
type RateLimiter struct {
	client       *redis.Client
	defaultLimit int
	log          *logger.Logger
}

// NewRateLimiter creates the gateway rate limiter.
func NewRateLimiter(client *redis.Client, defaultLimit int, log *logger.Logger) *RateLimiter {
	return &RateLimiter{client: client, defaultLimit: defaultLimit, log: log}
}

// Check reports whether another request fits under the limit and how
// much headroom remains, without consuming it.
func (l *RateLimiter) Check(ctx context.Context, key string, limit int) (bool, int, error) {
	ctx, cancel := context.WithTimeout(ctx, counterTimeout)
	defer cancel()

	count, err := l.client.Get(ctx, key).Int()
	if err == redis.Nil {
		count = 0
	} else if err != nil {
		return false, 0, err
	}
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return count < limit, remaining, nil
}

// Increment consumes one slot. Failures are logged, not propagated: the
// admission decision was already made by Check.
func (l *RateLimiter) Increment(ctx context.Context, key string) {
	ctx, cancel := context.WithTimeout(ctx, counterTimeout)
	defer cancel()

	pipe := l.client.Pipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, time.Minute+10*time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		l.log.Warn("", "", "rate limit increment failed", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
	}
}

// ResetTime returns seconds until the current minute bucket rolls over.
func ResetTime(now time.Time) int {
	next := now.Truncate(time.Minute).Add(time.Minute)
	return int(next.Sub(now).Seconds())
}

// Flush drops the current counters for a principal. Admin operation.
func (l *RateLimiter) Flush(ctx context.Context, principalKey string) error {
	ctx, cancel := context.WithTimeout(ctx, counterTimeout)
	defer cancel()

	epoch := time.Now().Truncate(time.Minute).Unix()
	keys := []string{
		rateLimitKey(principalKey, epoch),
		rateLimitKey(principalKey, epoch-60),
	}
	if err := l.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to flush rate limit counters: %w", err)
	}
	return nil
}

func rateLimitKey(principalKey string, minuteEpoch int64) string {
	return fmt.Sprintf("ratelimit:%s:%d", principalKey, minuteEpoch)
}

// limitFor resolves the applicable tier. A zero limit means the request
// is not rate limited (anonymous off the auth endpoints; authorization
// rejects those later).
func (l *RateLimiter) limitFor(p *principal.Principal, r *http.Request) (string, int) {
	switch {
	case p.IsAPIKey():
		limit := p.RateLimit
		if limit <= 0 {
			limit = l.defaultLimit
		}
		return p.Key(), limit
	case !p.Anonymous:
		return p.Key(), l.defaultLimit
	default:
		if limit, ok := anonymousAuthLimits[r.URL.Path]; ok {
			return "ip:" + ClientIP(r) + ":" + r.URL.Path, limit
		}
		return "", 0
	}
}

// Middleware applies the tiered limits and stamps X-RateLimit-* headers
// on every limited response. The counter service being unreachable
// rejects the request: fail closed.
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isRateLimitExempt(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		caller := principal.FromContext(r.Context())
		principalKey, limit := l.limitFor(caller, r)
		if limit <= 0 {
			next.ServeHTTP(w, r)
			return
		}

		now := time.Now()
		key := rateLimitKey(principalKey, now.Truncate(time.Minute).Unix())
		reset := ResetTime(now)

		allowed, remaining, err := l.Check(r.Context(), key, limit)
		if err != nil {
			l.log.Error(caller.OrgID, "", "rate limit check failed, rejecting", map[string]interface{}{
				"key":   principalKey,
				"error": err.Error(),
			})
			writeRateLimited(w, limit, 0, reset)
			return
		}
		if !allowed {
			writeRateLimited(w, limit, 0, reset)
			return
		}

		l.Increment(r.Context(), key)
		if remaining > 0 {
			remaining--
		}
		setRateLimitHeaders(w, limit, remaining, reset)
		next.ServeHTTP(w, r)
	})
}

// isRateLimitExempt excludes the always-open paths except the auth
// endpoints, which carry their own anonymous limits.
func isRateLimitExempt(path string) bool {
	if _, ok := anonymousAuthLimits[path]; ok {
		return false
	}
	return isExcluded(path)
}

func setRateLimitHeaders(w http.ResponseWriter, limit, remaining, reset int) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.Itoa(reset))
}

func writeRateLimited(w http.ResponseWriter, limit, remaining, reset int) {
	setRateLimitHeaders(w, limit, remaining, reset)
	w.Header().Set("Retry-After", strconv.Itoa(reset))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"error":       "rate_limit_exceeded",
		"retry_after": reset,
	})
}
