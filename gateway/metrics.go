// Copyright 2026 Kaizen Studio
// SPDX-License-Identifier: BUSL-1.1

package gateway

import (
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus metrics
var (
	promRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "path", "status"},
	)
	promRequestLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "request_latency_seconds",
			Help:    "Request latency in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)
	promAuthAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_attempts_total",
			Help: "Total number of authentication attempts",
		},
		[]string{"method", "outcome"},
	)
	promActiveUsers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "active_users",
			Help: "Number of active users",
		},
	)
	promPendingInvitations = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pending_invitations",
			Help: "Number of pending invitations",
		},
	)
)

func init() {
	prometheus.MustRegister(promRequestsTotal)
	prometheus.MustRegister(promRequestLatency)
	prometheus.MustRegister(promAuthAttemptsTotal)
	prometheus.MustRegister(promActiveUsers)
	prometheus.MustRegister(promPendingInvitations)
}

// SetPlatformStats updates the gauges the stats collector refreshes
// periodically.
func SetPlatformStats(activeUsers, pendingInvitations int64) {
	promActiveUsers.Set(float64(activeUsers))
	promPendingInvitations.Set(float64(pendingInvitations))
}

var (
	uuidSegment    = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)
	numericSegment = regexp.MustCompile(`^\d+$`)
)

// NormalizePath replaces UUID and numeric path segments with {id} to
// bound metric cardinality.
func NormalizePath(path string) string {
	segments := strings.Split(path, "/")
	for i, seg := range segments {
		if uuidSegment.MatchString(seg) || numericSegment.MatchString(seg) {
			segments[i] = "{id}"
		}
	}
	return strings.Join(segments, "/")
}

// Metrics instruments every request with the request counter and the
// latency histogram.
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := newStatusRecorder(w)
		next.ServeHTTP(rec, r)

		path := NormalizePath(r.URL.Path)
		promRequestsTotal.WithLabelValues(r.Method, path, statusClass(rec.status)).Inc()
		promRequestLatency.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
