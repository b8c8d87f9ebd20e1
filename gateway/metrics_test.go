// Copyright 2026 Kaizen Studio
// SPDX-License-Identifier: BUSL-1.1

package gateway

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNormalizePath(t *testing.T) {
	assert.Equal(t, "/api/v1/external-agents/{id}/invoke",
		NormalizePath("/api/v1/external-agents/6b1f8c0a-8d9e-4f3b-a2c1-0d9e8f7a6b5c/invoke"))

	cases := map[string]string{
		"/api/v1/policies/12345":      "/api/v1/policies/{id}",
		"/api/v1/webhooks":            "/api/v1/webhooks",
		"/health":                     "/health",
		"/api/v1/approvals/not-an-id": "/api/v1/approvals/not-an-id",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizePath(in), in)
	}
}

func TestSetPlatformStats(t *testing.T) {
	SetPlatformStats(12, 3)
	assert.Equal(t, 12.0, testutil.ToFloat64(promActiveUsers))
	assert.Equal(t, 3.0, testutil.ToFloat64(promPendingInvitations))
}

func TestStatusClass(t *testing.T) {
	assert.Equal(t, "2xx", statusClass(200))
	assert.Equal(t, "3xx", statusClass(302))
	assert.Equal(t, "4xx", statusClass(422))
	assert.Equal(t, "5xx", statusClass(503))
}
