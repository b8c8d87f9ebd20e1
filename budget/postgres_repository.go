// Copyright 2026 Kaizen Studio
// SPDX-License-Identifier: BUSL-1.1

package budget

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// PostgresRepository implements Repository using PostgreSQL
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a new PostgreSQL budget repository
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// CreateSchema creates the budget tables if they don't exist
func CreateSchema(db *sql.DB) error {
	query := `
	CREATE TABLE IF NOT EXISTS budgets (
		id VARCHAR(255) PRIMARY KEY,
		org_id VARCHAR(255) NOT NULL,
		external_agent_id VARCHAR(255) NOT NULL UNIQUE,
		period VARCHAR(20) NOT NULL,
		timezone VARCHAR(64) NOT NULL DEFAULT 'UTC',
		max_cost_per_period DOUBLE PRECISION NOT NULL DEFAULT -1,
		max_tokens_per_period BIGINT NOT NULL DEFAULT -1,
		max_invocations_per_period BIGINT NOT NULL DEFAULT -1,
		thresholds JSONB NOT NULL DEFAULT '[0.5, 0.75, 0.9, 1.0]',
		enforcement_mode VARCHAR(10) NOT NULL DEFAULT 'hard',
		rollover_unused BOOLEAN NOT NULL DEFAULT FALSE,
		input_token_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
		output_token_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
		base_cost DOUBLE PRECISION NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMP NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS usage_records (
		id VARCHAR(255) PRIMARY KEY,
		org_id VARCHAR(255) NOT NULL,
		external_agent_id VARCHAR(255) NOT NULL,
		invocation_id VARCHAR(255),
		resource_type VARCHAR(100) NOT NULL,
		quantity DOUBLE PRECISION NOT NULL,
		unit VARCHAR(50) NOT NULL,
		unit_cost DOUBLE PRECISION NOT NULL,
		total_cost DOUBLE PRECISION NOT NULL,
		input_tokens BIGINT NOT NULL DEFAULT 0,
		output_tokens BIGINT NOT NULL DEFAULT 0,
		recorded_at TIMESTAMP NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_usage_agent_period
		ON usage_records(external_agent_id, recorded_at);

	CREATE TABLE IF NOT EXISTS budget_alerts (
		id VARCHAR(255) PRIMARY KEY,
		org_id VARCHAR(255) NOT NULL,
		external_agent_id VARCHAR(255) NOT NULL,
		budget_id VARCHAR(255) NOT NULL,
		threshold DOUBLE PRECISION NOT NULL,
		utilization DOUBLE PRECISION NOT NULL,
		period_start TIMESTAMP NOT NULL,
		acknowledged BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMP NOT NULL DEFAULT NOW(),
		UNIQUE (budget_id, threshold, period_start)
	);
	`
	_, err := db.Exec(query)
	return err
}

const budgetSelect = `
	SELECT id, org_id, external_agent_id, period, timezone,
	       max_cost_per_period, max_tokens_per_period, max_invocations_per_period,
	       thresholds, enforcement_mode, rollover_unused,
	       input_token_rate, output_token_rate, base_cost,
	       created_at, updated_at
	FROM budgets`

// CreateBudget inserts a budget for an agent
func (r *PostgresRepository) CreateBudget(ctx context.Context, b *Budget) error {
	thresholds, err := json.Marshal(b.Thresholds)
	if err != nil {
		return fmt.Errorf("failed to marshal thresholds: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO budgets (id, org_id, external_agent_id, period, timezone,
			max_cost_per_period, max_tokens_per_period, max_invocations_per_period,
			thresholds, enforcement_mode, rollover_unused,
			input_token_rate, output_token_rate, base_cost, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`, b.ID, b.OrgID, b.ExternalAgentID, b.Period, b.Timezone,
		b.MaxCostPerPeriod, b.MaxTokensPerPeriod, b.MaxInvocationsPerPeriod,
		thresholds, b.EnforcementMode, b.RolloverUnused,
		b.InputTokenRate, b.OutputTokenRate, b.BaseCost, b.CreatedAt, b.UpdatedAt)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return ErrBudgetExists
		}
		return fmt.Errorf("failed to create budget: %w", err)
	}
	return nil
}

// GetBudgetByAgent retrieves the budget configured for an agent
func (r *PostgresRepository) GetBudgetByAgent(ctx context.Context, orgID, agentID string) (*Budget, error) {
	row := r.db.QueryRowContext(ctx,
		budgetSelect+` WHERE org_id = $1 AND external_agent_id = $2`, orgID, agentID)

	var b Budget
	var thresholds []byte
	err := row.Scan(&b.ID, &b.OrgID, &b.ExternalAgentID, &b.Period, &b.Timezone,
		&b.MaxCostPerPeriod, &b.MaxTokensPerPeriod, &b.MaxInvocationsPerPeriod,
		&thresholds, &b.EnforcementMode, &b.RolloverUnused,
		&b.InputTokenRate, &b.OutputTokenRate, &b.BaseCost,
		&b.CreatedAt, &b.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrBudgetNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get budget: %w", err)
	}
	if len(thresholds) > 0 {
		if err := json.Unmarshal(thresholds, &b.Thresholds); err != nil {
			return nil, fmt.Errorf("failed to unmarshal thresholds: %w", err)
		}
	}
	return &b, nil
}

// UpdateBudget updates a budget's caps and configuration
func (r *PostgresRepository) UpdateBudget(ctx context.Context, b *Budget) error {
	thresholds, err := json.Marshal(b.Thresholds)
	if err != nil {
		return fmt.Errorf("failed to marshal thresholds: %w", err)
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE budgets
		SET period = $1, timezone = $2,
			max_cost_per_period = $3, max_tokens_per_period = $4, max_invocations_per_period = $5,
			thresholds = $6, enforcement_mode = $7, rollover_unused = $8,
			input_token_rate = $9, output_token_rate = $10, base_cost = $11,
			updated_at = $12
		WHERE org_id = $13 AND external_agent_id = $14
	`, b.Period, b.Timezone,
		b.MaxCostPerPeriod, b.MaxTokensPerPeriod, b.MaxInvocationsPerPeriod,
		thresholds, b.EnforcementMode, b.RolloverUnused,
		b.InputTokenRate, b.OutputTokenRate, b.BaseCost,
		time.Now().UTC(), b.OrgID, b.ExternalAgentID)
	if err != nil {
		return fmt.Errorf("failed to update budget: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrBudgetNotFound
	}
	return nil
}

// DeleteBudget removes the budget for an agent
func (r *PostgresRepository) DeleteBudget(ctx context.Context, orgID, agentID string) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM budgets WHERE org_id = $1 AND external_agent_id = $2`, orgID, agentID)
	if err != nil {
		return fmt.Errorf("failed to delete budget: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrBudgetNotFound
	}
	return nil
}

// RecordUsage appends an immutable usage record
func (r *PostgresRepository) RecordUsage(ctx context.Context, rec *UsageRecord) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO usage_records (id, org_id, external_agent_id, invocation_id,
			resource_type, quantity, unit, unit_cost, total_cost,
			input_tokens, output_tokens, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, rec.ID, rec.OrgID, rec.ExternalAgentID, nullString(rec.InvocationID),
		rec.ResourceType, rec.Quantity, rec.Unit, rec.UnitCost, rec.TotalCost,
		rec.InputTokens, rec.OutputTokens, rec.RecordedAt)
	if err != nil {
		return fmt.Errorf("failed to record usage: %w", err)
	}
	return nil
}

// AggregateUsage sums cost, tokens and invocation count over [start, end)
func (r *PostgresRepository) AggregateUsage(ctx context.Context, agentID string, start, end time.Time) (*Usage, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(total_cost), 0),
		       COALESCE(SUM(input_tokens + output_tokens), 0),
		       COUNT(*)
		FROM usage_records
		WHERE external_agent_id = $1 AND recorded_at >= $2 AND recorded_at < $3
	`, agentID, start, end)

	var u Usage
	if err := row.Scan(&u.Cost, &u.Tokens, &u.Invocations); err != nil {
		return nil, fmt.Errorf("failed to aggregate usage: %w", err)
	}
	return &u, nil
}

// ListUsage returns usage records for an agent within a window, newest first
func (r *PostgresRepository) ListUsage(ctx context.Context, orgID, agentID string, start, end time.Time, limit int) ([]UsageRecord, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, org_id, external_agent_id, COALESCE(invocation_id, ''),
		       resource_type, quantity, unit, unit_cost, total_cost,
		       input_tokens, output_tokens, recorded_at
		FROM usage_records
		WHERE org_id = $1 AND external_agent_id = $2
		  AND recorded_at >= $3 AND recorded_at < $4
		ORDER BY recorded_at DESC
		LIMIT $5
	`, orgID, agentID, start, end, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list usage: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []UsageRecord
	for rows.Next() {
		var rec UsageRecord
		if err := rows.Scan(&rec.ID, &rec.OrgID, &rec.ExternalAgentID, &rec.InvocationID,
			&rec.ResourceType, &rec.Quantity, &rec.Unit, &rec.UnitCost, &rec.TotalCost,
			&rec.InputTokens, &rec.OutputTokens, &rec.RecordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan usage record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// CreateAlert persists a threshold crossing. A duplicate for the same
// (budget, threshold, period) is silently dropped.
func (r *PostgresRepository) CreateAlert(ctx context.Context, a *Alert) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO budget_alerts (id, org_id, external_agent_id, budget_id,
			threshold, utilization, period_start, acknowledged, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (budget_id, threshold, period_start) DO NOTHING
	`, a.ID, a.OrgID, a.ExternalAgentID, a.BudgetID,
		a.Threshold, a.Utilization, a.PeriodStart, a.Acknowledged, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create alert: %w", err)
	}
	return nil
}

// HasAlert reports whether the threshold already fired in this period
func (r *PostgresRepository) HasAlert(ctx context.Context, budgetID string, threshold float64, periodStart time.Time) (bool, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM budget_alerts
		WHERE budget_id = $1 AND threshold = $2 AND period_start = $3
	`, budgetID, threshold, periodStart).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check alert: %w", err)
	}
	return count > 0, nil
}

// ListAlerts returns an org's alerts, newest first
func (r *PostgresRepository) ListAlerts(ctx context.Context, orgID string, unacknowledgedOnly bool) ([]Alert, error) {
	query := `
		SELECT id, org_id, external_agent_id, budget_id, threshold, utilization,
		       period_start, acknowledged, created_at
		FROM budget_alerts
		WHERE org_id = $1`
	if unacknowledgedOnly {
		query += ` AND acknowledged = FALSE`
	}
	query += ` ORDER BY created_at DESC LIMIT 200`

	rows, err := r.db.QueryContext(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var alerts []Alert
	for rows.Next() {
		var a Alert
		if err := rows.Scan(&a.ID, &a.OrgID, &a.ExternalAgentID, &a.BudgetID,
			&a.Threshold, &a.Utilization, &a.PeriodStart, &a.Acknowledged, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// AcknowledgeAlert marks an alert as seen
func (r *PostgresRepository) AcknowledgeAlert(ctx context.Context, orgID, alertID string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE budget_alerts SET acknowledged = TRUE
		WHERE org_id = $1 AND id = $2
	`, orgID, alertID)
	if err != nil {
		return fmt.Errorf("failed to acknowledge alert: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrAlertNotFound
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
