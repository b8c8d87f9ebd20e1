// Copyright 2026 Kaizen Studio
// SPDX-License-Identifier: BUSL-1.1

// Package invocation manages external agents and the enforcement
// pipeline that guards every call to them: authorization, rate limits,
// budget, approval, dispatch, usage and lineage.
package invocation

import (
	"encoding/json"
	"time"
)

// Platforms an external agent can live on.
const (
	PlatformTeams      = "teams"
	PlatformDiscord    = "discord"
	PlatformSlack      = "slack"
	PlatformTelegram   = "telegram"
	PlatformNotion     = "notion"
	PlatformCustomHTTP = "custom_http"
)

// ValidPlatform reports whether the platform is supported.
func ValidPlatform(p string) bool {
	switch p {
	case PlatformTeams, PlatformDiscord, PlatformSlack, PlatformTelegram, PlatformNotion, PlatformCustomHTTP:
		return true
	}
	return false
}

// Auth types for dispatching to the upstream endpoint.
const (
	AuthNone   = "none"
	AuthBearer = "bearer"
	AuthAPIKey = "api_key"
	AuthBasic  = "basic"
)

// Agent statuses
const (
	AgentActive   = "active"
	AgentInactive = "inactive"
	AgentDeleted  = "deleted"
)

// Invocation statuses
const (
	InvocationPending = "pending"
	InvocationSuccess = "success"
	InvocationFailed  = "failed"
)

// Webhook delivery statuses mirrored on the invocation row.
const (
	DeliveryPending   = "pending"
	DeliveryDelivered = "delivered"
	DeliveryFailed    = "failed"
)

// Unlimited marks a rate or budget cap that is not enforced.
const Unlimited = -1

// ExternalAgent is a governed endpoint on a third-party platform.
// Credentials are stored encrypted; the plaintext never leaves the
// dispatcher.
type ExternalAgent struct {
	ID          string `json:"id"`
	OrgID       string `json:"org_id"`
	WorkspaceID string `json:"workspace_id,omitempty"`
	Name        string `json:"name"`
	Platform    string `json:"platform"`

	AuthType             string          `json:"auth_type"`
	EncryptedCredentials string          `json:"-"`
	PlatformConfig       json.RawMessage `json:"platform_config,omitempty"`
	WebhookURL           string          `json:"webhook_url,omitempty"`
	EndpointURL          string          `json:"endpoint_url"`

	BudgetLimitDaily   float64 `json:"budget_limit_daily"`
	BudgetLimitMonthly float64 `json:"budget_limit_monthly"`
	RateLimitPerMinute int     `json:"rate_limit_per_minute"`
	RateLimitPerHour   int     `json:"rate_limit_per_hour"`
	RateLimitPerDay    int     `json:"rate_limit_per_day"`

	// RequireApproval forces every invocation through the approval gate.
	RequireApproval       bool    `json:"require_approval"`
	ApprovalCostThreshold float64 `json:"approval_cost_threshold"`
	BaseCostPerInvocation float64 `json:"base_cost_per_invocation"`

	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Invocation is one attempt against an external agent. Rows are
// append-only once the status is terminal.
type Invocation struct {
	ID              string `json:"id"`
	OrgID           string `json:"org_id"`
	ExternalAgentID string `json:"external_agent_id"`
	UserID          string `json:"user_id,omitempty"`
	APIKeyID        string `json:"api_key_id,omitempty"`

	RequestPayload   json.RawMessage `json:"request_payload,omitempty"`
	RequestIP        string          `json:"request_ip,omitempty"`
	RequestUserAgent string          `json:"request_user_agent,omitempty"`

	ResponsePayload    json.RawMessage `json:"response_payload,omitempty"`
	ResponseStatusCode int             `json:"response_status_code,omitempty"`
	ExecutionTimeMS    int64           `json:"execution_time_ms"`

	AuthPassed      bool `json:"auth_passed"`
	BudgetPassed    bool `json:"budget_passed"`
	RateLimitPassed bool `json:"rate_limit_passed"`

	Status                string     `json:"status"`
	ErrorMessage          string     `json:"error_message,omitempty"`
	TraceID               string     `json:"trace_id"`
	ApprovalID            string     `json:"approval_id,omitempty"`
	WebhookDeliveryStatus string     `json:"webhook_delivery_status"`
	InvokedAt             time.Time  `json:"invoked_at"`
	CompletedAt           *time.Time `json:"completed_at,omitempty"`
}

// Lineage joins the five identity layers of one terminal invocation.
// The row id equals the invocation id; rows are append-only.
type Lineage struct {
	ID string `json:"id"`

	// Layer 1-2: external caller identity from X-External-* headers.
	ExternalUserID    string `json:"external_user_id,omitempty"`
	ExternalUserEmail string `json:"external_user_email,omitempty"`
	ExternalUserName  string `json:"external_user_name,omitempty"`
	ExternalSystem    string `json:"external_system,omitempty"`
	ExternalSessionID string `json:"external_session_id,omitempty"`
	ExternalTraceID   string `json:"external_trace_id,omitempty"`

	// Layer 3: platform identity.
	APIKeyID string `json:"api_key_id,omitempty"`
	OrgID    string `json:"org_id"`
	TeamID   string `json:"team_id,omitempty"`
	UserID   string `json:"user_id,omitempty"`

	// Layer 4: target.
	ExternalAgentID string `json:"external_agent_id"`
	Endpoint        string `json:"endpoint,omitempty"`

	// Layer 5: tracing.
	TraceID string `json:"trace_id"`
	SpanID  string `json:"span_id,omitempty"`

	RequestSnapshot  json.RawMessage `json:"request_snapshot,omitempty"`
	ResponseSnapshot json.RawMessage `json:"response_snapshot,omitempty"`

	CostUSD float64 `json:"cost_usd"`
	Tokens  int64   `json:"tokens"`
	Status  string  `json:"status"`

	BudgetBefore   float64 `json:"budget_before"`
	BudgetAfter    float64 `json:"budget_after"`
	BudgetWarning  bool    `json:"budget_warning"`
	ApprovalID     string  `json:"approval_id,omitempty"`
	ApprovalStatus string  `json:"approval_status,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}
