// Copyright 2026 Kaizen Studio
// SPDX-License-Identifier: BUSL-1.1

package budget

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"kaizenstudio/platform/shared/logger"
)

// Service enforces budgets and records usage.
type Service struct {
	repo Repository
	log  *logger.Logger
}

// NewService creates a budget service.
func NewService(repo Repository, log *logger.Logger) *Service {
	return &Service{repo: repo, log: log}
}

// CheckBudget runs the pre-invocation budget check. An agent with no
// configured budget is unconstrained. Hard budgets deny once a cap would
// be crossed; soft budgets allow with Warning set. Reaching the cost cap
// exactly warns without denying. Threshold crossings raise alerts as a
// side effect and never block the caller.
func (s *Service) CheckBudget(ctx context.Context, orgID, agentID string, estimatedCost float64, estimatedTokens int64) (*CheckResult, error) {
	b, err := s.repo.GetBudgetByAgent(ctx, orgID, agentID)
	if err == ErrBudgetNotFound {
		return &CheckResult{Allowed: true, EstimatedCost: estimatedCost}, nil
	}
	if err != nil {
		return nil, err
	}

	loc, err := b.Location()
	if err != nil {
		return nil, err
	}
	start, end := PeriodWindow(b.Period, loc, time.Now())

	usage, err := s.repo.AggregateUsage(ctx, agentID, start, end)
	if err != nil {
		return nil, err
	}

	result := &CheckResult{
		Allowed:       true,
		CurrentCost:   usage.Cost,
		EstimatedCost: estimatedCost,
		ProjectedCost: usage.Cost + estimatedCost,
		CostLimit:     b.MaxCostPerPeriod,
		PeriodStart:   start,
		PeriodEnd:     end,
	}

	reason := ""
	switch {
	case b.MaxCostPerPeriod != Unlimited && result.ProjectedCost > b.MaxCostPerPeriod:
		reason = ReasonCostLimitExceeded
	case b.MaxTokensPerPeriod != Unlimited && usage.Tokens+estimatedTokens > b.MaxTokensPerPeriod:
		reason = ReasonTokenLimitExceeded
	case b.MaxInvocationsPerPeriod != Unlimited && usage.Invocations+1 > b.MaxInvocationsPerPeriod:
		reason = ReasonInvocationLimitExceeded
	}

	if reason != "" {
		result.Reason = reason
		if b.EnforcementMode == EnforcementHard {
			result.Allowed = false
		} else {
			result.Warning = true
		}
	}

	// A projected spend that reaches the cap is still allowed but warns,
	// so a caller at exactly 100% utilization hears about it.
	if result.Allowed && b.MaxCostPerPeriod != Unlimited && b.MaxCostPerPeriod > 0 &&
		result.ProjectedCost >= b.MaxCostPerPeriod {
		result.Warning = true
	}

	s.raiseThresholdAlerts(b, result)
	return result, nil
}

// raiseThresholdAlerts persists one alert per newly crossed threshold.
// Detached from the request context so a client disconnect doesn't lose
// the crossing.
func (s *Service) raiseThresholdAlerts(b *Budget, result *CheckResult) {
	if b.MaxCostPerPeriod == Unlimited || b.MaxCostPerPeriod <= 0 {
		return
	}
	thresholds := b.Thresholds
	if len(thresholds) == 0 {
		thresholds = DefaultThresholds
	}
	utilization := result.ProjectedCost / b.MaxCostPerPeriod

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		for _, t := range thresholds {
			if utilization < t {
				continue
			}
			fired, err := s.repo.HasAlert(ctx, b.ID, t, result.PeriodStart)
			if err != nil || fired {
				continue
			}
			alert := &Alert{
				ID:              uuid.NewString(),
				OrgID:           b.OrgID,
				ExternalAgentID: b.ExternalAgentID,
				BudgetID:        b.ID,
				Threshold:       t,
				Utilization:     utilization,
				PeriodStart:     result.PeriodStart,
				CreatedAt:       time.Now().UTC(),
			}
			if err := s.repo.CreateAlert(ctx, alert); err != nil {
				s.log.Warn(b.OrgID, "", "failed to persist budget alert",
					map[string]interface{}{"budget_id": b.ID, "threshold": t, "error": err.Error()})
				continue
			}
			s.log.Warn(b.OrgID, "", "budget threshold crossed", map[string]interface{}{
				"external_agent_id": b.ExternalAgentID,
				"threshold":         t,
				"utilization":       fmt.Sprintf("%.2f", utilization),
			})
		}
	}()
}

// RecordUsage appends a usage record for an invocation.
func (s *Service) RecordUsage(ctx context.Context, rec *UsageRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now().UTC()
	}
	return s.repo.RecordUsage(ctx, rec)
}

// UpsertInput carries the writable budget fields.
type UpsertInput struct {
	Period                  string    `json:"period"`
	Timezone                string    `json:"timezone"`
	MaxCostPerPeriod        *float64  `json:"max_cost_per_period"`
	MaxTokensPerPeriod      *int64    `json:"max_tokens_per_period"`
	MaxInvocationsPerPeriod *int64    `json:"max_invocations_per_period"`
	Thresholds              []float64 `json:"thresholds"`
	EnforcementMode         string    `json:"enforcement_mode"`
	RolloverUnused          bool      `json:"rollover_unused"`
	InputTokenRate          float64   `json:"input_token_rate"`
	OutputTokenRate         float64   `json:"output_token_rate"`
	BaseCost                float64   `json:"base_cost"`
}

// Upsert creates or replaces the budget for an agent.
func (s *Service) Upsert(ctx context.Context, orgID, agentID string, in UpsertInput) (*Budget, error) {
	now := time.Now().UTC()
	b := &Budget{
		ID:              uuid.NewString(),
		OrgID:           orgID,
		ExternalAgentID: agentID,
		Period:          in.Period,
		Timezone:        in.Timezone,

		MaxCostPerPeriod:        Unlimited,
		MaxTokensPerPeriod:      Unlimited,
		MaxInvocationsPerPeriod: Unlimited,

		Thresholds:      in.Thresholds,
		EnforcementMode: in.EnforcementMode,
		RolloverUnused:  in.RolloverUnused,
		InputTokenRate:  in.InputTokenRate,
		OutputTokenRate: in.OutputTokenRate,
		BaseCost:        in.BaseCost,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if in.MaxCostPerPeriod != nil {
		b.MaxCostPerPeriod = *in.MaxCostPerPeriod
	}
	if in.MaxTokensPerPeriod != nil {
		b.MaxTokensPerPeriod = *in.MaxTokensPerPeriod
	}
	if in.MaxInvocationsPerPeriod != nil {
		b.MaxInvocationsPerPeriod = *in.MaxInvocationsPerPeriod
	}
	if b.Period == "" {
		b.Period = PeriodDaily
	}
	if b.EnforcementMode == "" {
		b.EnforcementMode = EnforcementHard
	}
	if len(b.Thresholds) == 0 {
		b.Thresholds = DefaultThresholds
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	if _, err := b.Location(); err != nil {
		return nil, err
	}

	existing, err := s.repo.GetBudgetByAgent(ctx, orgID, agentID)
	switch err {
	case nil:
		b.ID = existing.ID
		b.CreatedAt = existing.CreatedAt
		if err := s.repo.UpdateBudget(ctx, b); err != nil {
			return nil, err
		}
	case ErrBudgetNotFound:
		if err := s.repo.CreateBudget(ctx, b); err != nil {
			return nil, err
		}
	default:
		return nil, err
	}
	return b, nil
}

// Get returns the budget configured for an agent.
func (s *Service) Get(ctx context.Context, orgID, agentID string) (*Budget, error) {
	return s.repo.GetBudgetByAgent(ctx, orgID, agentID)
}

// Delete removes the budget for an agent.
func (s *Service) Delete(ctx context.Context, orgID, agentID string) error {
	return s.repo.DeleteBudget(ctx, orgID, agentID)
}

// Usage returns the current-period aggregate plus recent records.
func (s *Service) Usage(ctx context.Context, orgID, agentID string) (*Usage, []UsageRecord, error) {
	b, err := s.repo.GetBudgetByAgent(ctx, orgID, agentID)
	period := PeriodDaily
	loc := time.UTC
	if err == nil {
		period = b.Period
		if l, lerr := b.Location(); lerr == nil {
			loc = l
		}
	} else if err != ErrBudgetNotFound {
		return nil, nil, err
	}

	start, end := PeriodWindow(period, loc, time.Now())
	usage, err := s.repo.AggregateUsage(ctx, agentID, start, end)
	if err != nil {
		return nil, nil, err
	}
	records, err := s.repo.ListUsage(ctx, orgID, agentID, start, end, 100)
	if err != nil {
		return nil, nil, err
	}
	return usage, records, nil
}

// Alerts lists the org's budget alerts.
func (s *Service) Alerts(ctx context.Context, orgID string, unacknowledgedOnly bool) ([]Alert, error) {
	return s.repo.ListAlerts(ctx, orgID, unacknowledgedOnly)
}

// AcknowledgeAlert marks an alert as seen.
func (s *Service) AcknowledgeAlert(ctx context.Context, orgID, alertID string) error {
	return s.repo.AcknowledgeAlert(ctx, orgID, alertID)
}
