// Copyright 2026 Kaizen Studio
// SPDX-License-Identifier: BUSL-1.1

package budget

import (
	"context"
	"time"
)

// Repository defines the interface for budget persistence
type Repository interface {
	CreateBudget(ctx context.Context, b *Budget) error
	GetBudgetByAgent(ctx context.Context, orgID, agentID string) (*Budget, error)
	UpdateBudget(ctx context.Context, b *Budget) error
	DeleteBudget(ctx context.Context, orgID, agentID string) error

	RecordUsage(ctx context.Context, rec *UsageRecord) error
	AggregateUsage(ctx context.Context, agentID string, start, end time.Time) (*Usage, error)
	ListUsage(ctx context.Context, orgID, agentID string, start, end time.Time, limit int) ([]UsageRecord, error)

	CreateAlert(ctx context.Context, a *Alert) error
	// HasAlert reports whether the threshold already fired in this period.
	HasAlert(ctx context.Context, budgetID string, threshold float64, periodStart time.Time) (bool, error)
	ListAlerts(ctx context.Context, orgID string, unacknowledgedOnly bool) ([]Alert, error)
	AcknowledgeAlert(ctx context.Context, orgID, alertID string) error
}
