// Copyright 2026 Kaizen Studio
// SPDX-License-Identifier: BUSL-1.1

// Package budget enforces per-agent cost, token and invocation caps over
// deterministic period windows, and records usage for accounting.
package budget

import "time"

// Periods
const (
	PeriodDaily   = "daily"
	PeriodWeekly  = "weekly"
	PeriodMonthly = "monthly"
)

// Enforcement modes. Hard budgets block the invocation once a cap is
// crossed; soft budgets allow it and raise a warning instead.
const (
	EnforcementHard = "hard"
	EnforcementSoft = "soft"
)

// Unlimited is the sentinel for a cap that is not enforced.
const Unlimited = -1

// DefaultThresholds are the utilization fractions that raise alerts.
var DefaultThresholds = []float64{0.50, 0.75, 0.90, 1.00}

// Budget caps one external agent's spend per period.
type Budget struct {
	ID              string `json:"id"`
	OrgID           string `json:"org_id"`
	ExternalAgentID string `json:"external_agent_id"`

	Period   string `json:"period"`
	Timezone string `json:"timezone"`

	// -1 on any cap means that dimension is unlimited.
	MaxCostPerPeriod        float64 `json:"max_cost_per_period"`
	MaxTokensPerPeriod      int64   `json:"max_tokens_per_period"`
	MaxInvocationsPerPeriod int64   `json:"max_invocations_per_period"`

	Thresholds      []float64 `json:"thresholds"`
	EnforcementMode string    `json:"enforcement_mode"`
	RolloverUnused  bool      `json:"rollover_unused"`

	InputTokenRate  float64 `json:"input_token_rate"`
	OutputTokenRate float64 `json:"output_token_rate"`
	BaseCost        float64 `json:"base_cost"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks a budget before persistence.
func (b *Budget) Validate() error {
	switch b.Period {
	case PeriodDaily, PeriodWeekly, PeriodMonthly:
	default:
		return ErrInvalidPeriod
	}
	switch b.EnforcementMode {
	case EnforcementHard, EnforcementSoft:
	default:
		return ErrInvalidEnforcementMode
	}
	return nil
}

// EstimateCost applies the cost formula to an invocation shape.
func (b *Budget) EstimateCost(inputTokens, outputTokens int64, invocations int64) float64 {
	return float64(inputTokens)*b.InputTokenRate +
		float64(outputTokens)*b.OutputTokenRate +
		float64(invocations)*b.BaseCost
}

// UsageRecord is one immutable accounting entry.
type UsageRecord struct {
	ID              string    `json:"id"`
	OrgID           string    `json:"org_id"`
	ExternalAgentID string    `json:"external_agent_id"`
	InvocationID    string    `json:"invocation_id,omitempty"`
	ResourceType    string    `json:"resource_type"`
	Quantity        float64   `json:"quantity"`
	Unit            string    `json:"unit"`
	UnitCost        float64   `json:"unit_cost"`
	TotalCost       float64   `json:"total_cost"`
	InputTokens     int64     `json:"input_tokens"`
	OutputTokens    int64     `json:"output_tokens"`
	RecordedAt      time.Time `json:"recorded_at"`
}

// Usage is the aggregate over a period window.
type Usage struct {
	Cost        float64 `json:"cost"`
	Tokens      int64   `json:"tokens"`
	Invocations int64   `json:"invocations"`
}

// CheckResult is the outcome of a budget pre-check.
type CheckResult struct {
	Allowed       bool      `json:"allowed"`
	Warning       bool      `json:"warning"`
	Reason        string    `json:"reason,omitempty"`
	CurrentCost   float64   `json:"current_cost"`
	EstimatedCost float64   `json:"estimated_cost"`
	ProjectedCost float64   `json:"projected_cost"`
	CostLimit     float64   `json:"cost_limit"`
	PeriodStart   time.Time `json:"period_start"`
	PeriodEnd     time.Time `json:"period_end"`
}

// Denial reasons
const (
	ReasonCostLimitExceeded       = "limit_exceeded"
	ReasonTokenLimitExceeded      = "token_limit_exceeded"
	ReasonInvocationLimitExceeded = "invocation_limit_exceeded"
)

// Alert is a persisted threshold crossing. Alerts are acknowledged, not
// deleted, so the crossing history survives.
type Alert struct {
	ID              string    `json:"id"`
	OrgID           string    `json:"org_id"`
	ExternalAgentID string    `json:"external_agent_id"`
	BudgetID        string    `json:"budget_id"`
	Threshold       float64   `json:"threshold"`
	Utilization     float64   `json:"utilization"`
	PeriodStart     time.Time `json:"period_start"`
	Acknowledged    bool      `json:"acknowledged"`
	CreatedAt       time.Time `json:"created_at"`
}
