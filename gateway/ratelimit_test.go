// Copyright 2026 Kaizen Studio
// SPDX-License-Identifier: BUSL-1.1

package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kaizenstudio/platform/shared/logger"
	"kaizenstudio/platform/shared/principal"
)

func limiterFixture(t *testing.T, defaultLimit int) (*RateLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRateLimiter(client, defaultLimit, logger.New("gateway-test")), mr
}

func doRequest(t *testing.T, l *RateLimiter, p *principal.Principal, path string) *httptest.ResponseRecorder {
	t.Helper()
	h := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodPost, path, nil)
	req.RemoteAddr = "203.0.113.7:4567"
	if p != nil {
		req = req.WithContext(principal.WithPrincipal(req.Context(), p))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRateLimiterEnforcesAPIKeyTier(t *testing.T) {
	l, _ := limiterFixture(t, 1000)
	p := &principal.Principal{OrgID: "org-1", APIKeyID: "key-1", RateLimit: 3}

	for i := 0; i < 3; i++ {
		rec := doRequest(t, l, p, "/api/v1/policies")
		require.Equal(t, http.StatusOK, rec.Code, "request %d", i+1)
		assert.Equal(t, "3", rec.Header().Get("X-RateLimit-Limit"))
	}

	rec := doRequest(t, l, p, "/api/v1/policies")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), "rate_limit_exceeded")
}

func TestRateLimiterDefaultsForJWTUsers(t *testing.T) {
	l, _ := limiterFixture(t, 2)
	p := &principal.Principal{UserID: "u-1", OrgID: "org-1", Role: "developer"}

	require.Equal(t, http.StatusOK, doRequest(t, l, p, "/api/v1/policies").Code)
	require.Equal(t, http.StatusOK, doRequest(t, l, p, "/api/v1/policies").Code)
	assert.Equal(t, http.StatusTooManyRequests, doRequest(t, l, p, "/api/v1/policies").Code)
}

func TestRateLimiterAnonymousLoginLimit(t *testing.T) {
	l, _ := limiterFixture(t, 1000)

	for i := 0; i < 10; i++ {
		require.Equal(t, http.StatusOK, doRequest(t, l, nil, "/api/v1/auth/login").Code, "attempt %d", i+1)
	}
	assert.Equal(t, http.StatusTooManyRequests, doRequest(t, l, nil, "/api/v1/auth/login").Code)

	// A different auth path has its own bucket and limit.
	require.Equal(t, http.StatusOK, doRequest(t, l, nil, "/api/v1/auth/register").Code)
}

func TestRateLimiterAnonymousOffAuthPathsUnlimited(t *testing.T) {
	l, _ := limiterFixture(t, 1)
	// Authorization rejects these later; the limiter lets them through.
	for i := 0; i < 5; i++ {
		require.Equal(t, http.StatusOK, doRequest(t, l, nil, "/api/v1/policies").Code)
	}
}

func TestRateLimiterFailsClosedWhenRedisDown(t *testing.T) {
	l, mr := limiterFixture(t, 1000)
	mr.Close()

	p := &principal.Principal{UserID: "u-1", OrgID: "org-1"}
	rec := doRequest(t, l, p, "/api/v1/policies")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestRateLimiterWindowRollsOver(t *testing.T) {
	l, mr := limiterFixture(t, 1)
	p := &principal.Principal{UserID: "u-1", OrgID: "org-1"}

	require.Equal(t, http.StatusOK, doRequest(t, l, p, "/api/v1/policies").Code)
	require.Equal(t, http.StatusTooManyRequests, doRequest(t, l, p, "/api/v1/policies").Code)

	// The next minute bucket is a fresh counter. Simulate the rollover by
	// clearing the store rather than sleeping out the bucket.
	mr.FlushAll()
	assert.Equal(t, http.StatusOK, doRequest(t, l, p, "/api/v1/policies").Code)
}

func TestRateLimiterFlushReopensBucket(t *testing.T) {
	l, _ := limiterFixture(t, 1)
	p := &principal.Principal{UserID: "u-1", OrgID: "org-1"}

	require.Equal(t, http.StatusOK, doRequest(t, l, p, "/api/v1/policies").Code)
	require.Equal(t, http.StatusTooManyRequests, doRequest(t, l, p, "/api/v1/policies").Code)

	require.NoError(t, l.Flush(context.Background(), p.Key()))
	assert.Equal(t, http.StatusOK, doRequest(t, l, p, "/api/v1/policies").Code)
}

func TestResetTime(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 15, 0, time.UTC)
	assert.Equal(t, 45, ResetTime(now))
}
