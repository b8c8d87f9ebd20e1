// Copyright 2026 Kaizen Studio
// SPDX-License-Identifier: BUSL-1.1

// Package approval gates expensive or high-risk invocations behind a
// human decision. Requests expire on a TTL; terminal decisions are
// immutable once written.
package approval

import "time"

// Statuses. pending is the only non-terminal status.
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusRejected = "rejected"
	StatusExpired  = "expired"
)

// Trigger kinds recorded on the request.
const (
	TriggerCostThreshold = "cost_threshold"
	TriggerPolicy        = "policy"
	TriggerAgentFlag     = "agent_flag"
)

// DefaultTTL bounds how long a request stays approvable.
const DefaultTTL = 24 * time.Hour

// Request is one pending or decided approval.
type Request struct {
	ID              string  `json:"id"`
	OrgID           string  `json:"org_id"`
	ExternalAgentID string  `json:"external_agent_id"`
	RequestedBy     string  `json:"requested_by"`
	Trigger         string  `json:"trigger"`
	Reason          string  `json:"reason,omitempty"`
	EstimatedCost   float64 `json:"estimated_cost"`

	// RequestPayload is the invocation body held for replay after approval.
	RequestPayload []byte `json:"request_payload,omitempty"`

	Status       string     `json:"status"`
	DecidedBy    string     `json:"decided_by,omitempty"`
	DecidedAt    *time.Time `json:"decided_at,omitempty"`
	DecisionNote string     `json:"decision_note,omitempty"`

	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// Expired reports whether the TTL has passed.
func (r *Request) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// Terminal reports whether the request can still change.
func (r *Request) Terminal() bool {
	return r.Status != StatusPending
}
