// Copyright 2026 Kaizen Studio
// SPDX-License-Identifier: BUSL-1.1

package budget

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kaizenstudio/platform/shared/logger"
)

// memRepo is an in-memory Repository for service tests.
type memRepo struct {
	mu      sync.Mutex
	budgets map[string]*Budget
	records []UsageRecord
	alerts  []Alert
}

func newMemRepo() *memRepo {
	return &memRepo{budgets: make(map[string]*Budget)}
}

func (m *memRepo) CreateBudget(_ context.Context, b *Budget) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.budgets[b.ExternalAgentID]; ok {
		return ErrBudgetExists
	}
	m.budgets[b.ExternalAgentID] = b
	return nil
}

func (m *memRepo) GetBudgetByAgent(_ context.Context, _, agentID string) (*Budget, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.budgets[agentID]
	if !ok {
		return nil, ErrBudgetNotFound
	}
	return b, nil
}

func (m *memRepo) UpdateBudget(_ context.Context, b *Budget) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.budgets[b.ExternalAgentID]; !ok {
		return ErrBudgetNotFound
	}
	m.budgets[b.ExternalAgentID] = b
	return nil
}

func (m *memRepo) DeleteBudget(_ context.Context, _, agentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.budgets[agentID]; !ok {
		return ErrBudgetNotFound
	}
	delete(m.budgets, agentID)
	return nil
}

func (m *memRepo) RecordUsage(_ context.Context, rec *UsageRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, *rec)
	return nil
}

func (m *memRepo) AggregateUsage(_ context.Context, agentID string, start, end time.Time) (*Usage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var u Usage
	for _, rec := range m.records {
		if rec.ExternalAgentID != agentID {
			continue
		}
		if rec.RecordedAt.Before(start) || !rec.RecordedAt.Before(end) {
			continue
		}
		u.Cost += rec.TotalCost
		u.Tokens += rec.InputTokens + rec.OutputTokens
		u.Invocations++
	}
	return &u, nil
}

func (m *memRepo) ListUsage(_ context.Context, _, agentID string, start, end time.Time, _ int) ([]UsageRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []UsageRecord
	for _, rec := range m.records {
		if rec.ExternalAgentID == agentID && !rec.RecordedAt.Before(start) && rec.RecordedAt.Before(end) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (m *memRepo) CreateAlert(_ context.Context, a *Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = append(m.alerts, *a)
	return nil
}

func (m *memRepo) HasAlert(_ context.Context, budgetID string, threshold float64, periodStart time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.alerts {
		if a.BudgetID == budgetID && a.Threshold == threshold && a.PeriodStart.Equal(periodStart) {
			return true, nil
		}
	}
	return false, nil
}

func (m *memRepo) ListAlerts(_ context.Context, orgID string, unackedOnly bool) ([]Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Alert
	for _, a := range m.alerts {
		if a.OrgID == orgID && (!unackedOnly || !a.Acknowledged) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memRepo) AcknowledgeAlert(_ context.Context, orgID, alertID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.alerts {
		if m.alerts[i].OrgID == orgID && m.alerts[i].ID == alertID {
			m.alerts[i].Acknowledged = true
			return nil
		}
	}
	return ErrAlertNotFound
}

func hardBudget(maxCost float64) *Budget {
	return &Budget{
		ID: "b-1", OrgID: "org-1", ExternalAgentID: "agent-1",
		Period: PeriodDaily, Timezone: "UTC",
		MaxCostPerPeriod:        maxCost,
		MaxTokensPerPeriod:      Unlimited,
		MaxInvocationsPerPeriod: Unlimited,
		EnforcementMode:         EnforcementHard,
		BaseCost:                0.01,
	}
}

func TestCheckBudgetSequentialCallsAgainstHardCap(t *testing.T) {
	repo := newMemRepo()
	repo.budgets["agent-1"] = hardBudget(0.02)
	svc := NewService(repo, logger.New("budget-test"))
	ctx := context.Background()

	for call := 1; call <= 3; call++ {
		result, err := svc.CheckBudget(ctx, "org-1", "agent-1", 0.01, 0)
		require.NoError(t, err)

		if call <= 2 {
			assert.True(t, result.Allowed, "call %d should pass", call)
			require.NoError(t, svc.RecordUsage(ctx, &UsageRecord{
				OrgID: "org-1", ExternalAgentID: "agent-1",
				ResourceType: "external_agent_invocation",
				Quantity:     1, Unit: "invocation", UnitCost: 0.01, TotalCost: 0.01,
			}))
		} else {
			assert.False(t, result.Allowed, "call %d should be denied", call)
			assert.Equal(t, ReasonCostLimitExceeded, result.Reason)
		}
	}
}

func TestCheckBudgetSoftModeAllowsWithWarning(t *testing.T) {
	repo := newMemRepo()
	b := hardBudget(0.02)
	b.EnforcementMode = EnforcementSoft
	repo.budgets["agent-1"] = b
	svc := NewService(repo, logger.New("budget-test"))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		require.NoError(t, svc.RecordUsage(ctx, &UsageRecord{
			OrgID: "org-1", ExternalAgentID: "agent-1",
			ResourceType: "external_agent_invocation",
			Quantity:     1, Unit: "invocation", UnitCost: 0.01, TotalCost: 0.01,
		}))
	}

	result, err := svc.CheckBudget(ctx, "org-1", "agent-1", 0.01, 0)
	require.NoError(t, err)
	assert.True(t, result.Allowed)
	assert.True(t, result.Warning)
	assert.Equal(t, ReasonCostLimitExceeded, result.Reason)
}

func TestCheckBudgetSoftModeWarnsAtExactCap(t *testing.T) {
	repo := newMemRepo()
	b := hardBudget(0.02)
	b.EnforcementMode = EnforcementSoft
	repo.budgets["agent-1"] = b
	svc := NewService(repo, logger.New("budget-test"))
	ctx := context.Background()

	// First call lands at half the cap, no warning.
	result, err := svc.CheckBudget(ctx, "org-1", "agent-1", 0.01, 0)
	require.NoError(t, err)
	assert.True(t, result.Allowed)
	assert.False(t, result.Warning)
	require.NoError(t, svc.RecordUsage(ctx, &UsageRecord{
		OrgID: "org-1", ExternalAgentID: "agent-1",
		ResourceType: "external_agent_invocation",
		Quantity:     1, Unit: "invocation", UnitCost: 0.01, TotalCost: 0.01,
	}))

	// Second call projects to exactly the cap: allowed, with warning.
	result, err = svc.CheckBudget(ctx, "org-1", "agent-1", 0.01, 0)
	require.NoError(t, err)
	assert.True(t, result.Allowed)
	assert.True(t, result.Warning)
	assert.InDelta(t, 0.02, result.ProjectedCost, 1e-9)
}

func TestCheckBudgetHardModeWarnsAtExactCap(t *testing.T) {
	repo := newMemRepo()
	repo.budgets["agent-1"] = hardBudget(0.01)
	svc := NewService(repo, logger.New("budget-test"))

	result, err := svc.CheckBudget(context.Background(), "org-1", "agent-1", 0.01, 0)
	require.NoError(t, err)
	assert.True(t, result.Allowed)
	assert.True(t, result.Warning)
}

func TestCheckBudgetNoBudgetMeansUnconstrained(t *testing.T) {
	svc := NewService(newMemRepo(), logger.New("budget-test"))
	result, err := svc.CheckBudget(context.Background(), "org-1", "agent-x", 99.0, 0)
	require.NoError(t, err)
	assert.True(t, result.Allowed)
}

func TestCheckBudgetUnlimitedCostSentinel(t *testing.T) {
	repo := newMemRepo()
	repo.budgets["agent-1"] = hardBudget(Unlimited)
	svc := NewService(repo, logger.New("budget-test"))

	result, err := svc.CheckBudget(context.Background(), "org-1", "agent-1", 1000.0, 0)
	require.NoError(t, err)
	assert.True(t, result.Allowed)
}

func TestCheckBudgetInvocationCap(t *testing.T) {
	repo := newMemRepo()
	b := hardBudget(Unlimited)
	b.MaxInvocationsPerPeriod = 1
	repo.budgets["agent-1"] = b
	svc := NewService(repo, logger.New("budget-test"))
	ctx := context.Background()

	require.NoError(t, svc.RecordUsage(ctx, &UsageRecord{
		OrgID: "org-1", ExternalAgentID: "agent-1",
		ResourceType: "external_agent_invocation",
		Quantity:     1, Unit: "invocation", TotalCost: 0,
	}))

	result, err := svc.CheckBudget(ctx, "org-1", "agent-1", 0, 0)
	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.Equal(t, ReasonInvocationLimitExceeded, result.Reason)
}

func TestUpsertDefaultsAndValidation(t *testing.T) {
	svc := NewService(newMemRepo(), logger.New("budget-test"))
	ctx := context.Background()

	b, err := svc.Upsert(ctx, "org-1", "agent-1", UpsertInput{})
	require.NoError(t, err)
	assert.Equal(t, PeriodDaily, b.Period)
	assert.Equal(t, EnforcementHard, b.EnforcementMode)
	assert.Equal(t, float64(Unlimited), b.MaxCostPerPeriod)
	assert.Equal(t, DefaultThresholds, b.Thresholds)

	_, err = svc.Upsert(ctx, "org-1", "agent-1", UpsertInput{Period: "hourly"})
	assert.ErrorIs(t, err, ErrInvalidPeriod)

	_, err = svc.Upsert(ctx, "org-1", "agent-1", UpsertInput{Timezone: "Not/AZone"})
	assert.ErrorIs(t, err, ErrInvalidTimezone)
}
