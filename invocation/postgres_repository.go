// Copyright 2026 Kaizen Studio
// SPDX-License-Identifier: BUSL-1.1

package invocation

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PostgresRepository implements Repository using PostgreSQL
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a new PostgreSQL invocation repository
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// CreateSchema creates the external-agent tables if they don't exist
func CreateSchema(db *sql.DB) error {
	query := `
	CREATE TABLE IF NOT EXISTS external_agents (
		id VARCHAR(255) PRIMARY KEY,
		org_id VARCHAR(255) NOT NULL,
		workspace_id VARCHAR(255),
		name VARCHAR(255) NOT NULL,
		platform VARCHAR(50) NOT NULL,
		auth_type VARCHAR(50) NOT NULL DEFAULT 'none',
		encrypted_credentials TEXT,
		platform_config JSONB NOT NULL DEFAULT '{}',
		webhook_url TEXT,
		endpoint_url TEXT NOT NULL,
		budget_limit_daily DOUBLE PRECISION NOT NULL DEFAULT -1,
		budget_limit_monthly DOUBLE PRECISION NOT NULL DEFAULT -1,
		rate_limit_per_minute INTEGER NOT NULL DEFAULT -1,
		rate_limit_per_hour INTEGER NOT NULL DEFAULT -1,
		rate_limit_per_day INTEGER NOT NULL DEFAULT -1,
		require_approval BOOLEAN NOT NULL DEFAULT FALSE,
		approval_cost_threshold DOUBLE PRECISION NOT NULL DEFAULT -1,
		base_cost_per_invocation DOUBLE PRECISION NOT NULL DEFAULT 0,
		status VARCHAR(50) NOT NULL DEFAULT 'active',
		created_at TIMESTAMP NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMP NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS external_agent_invocations (
		id VARCHAR(255) PRIMARY KEY,
		org_id VARCHAR(255) NOT NULL,
		external_agent_id VARCHAR(255) NOT NULL,
		user_id VARCHAR(255),
		api_key_id VARCHAR(255),
		request_payload JSONB,
		request_ip VARCHAR(64),
		request_user_agent TEXT,
		response_payload JSONB,
		response_status_code INTEGER,
		execution_time_ms BIGINT NOT NULL DEFAULT 0,
		auth_passed BOOLEAN NOT NULL DEFAULT FALSE,
		budget_passed BOOLEAN NOT NULL DEFAULT FALSE,
		rate_limit_passed BOOLEAN NOT NULL DEFAULT FALSE,
		status VARCHAR(20) NOT NULL DEFAULT 'pending',
		error_message TEXT,
		trace_id VARCHAR(255) NOT NULL,
		approval_id VARCHAR(255),
		webhook_delivery_status VARCHAR(20) NOT NULL DEFAULT 'pending',
		invoked_at TIMESTAMP NOT NULL DEFAULT NOW(),
		completed_at TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_invocations_agent_time
		ON external_agent_invocations(external_agent_id, invoked_at);

	CREATE TABLE IF NOT EXISTS invocation_lineage (
		id VARCHAR(255) PRIMARY KEY,
		external_user_id VARCHAR(255),
		external_user_email VARCHAR(255),
		external_user_name VARCHAR(255),
		external_system VARCHAR(255),
		external_session_id VARCHAR(255),
		external_trace_id VARCHAR(255),
		api_key_id VARCHAR(255),
		org_id VARCHAR(255) NOT NULL,
		team_id VARCHAR(255),
		user_id VARCHAR(255),
		external_agent_id VARCHAR(255) NOT NULL,
		endpoint TEXT,
		trace_id VARCHAR(255) NOT NULL,
		span_id VARCHAR(255),
		request_snapshot JSONB,
		response_snapshot JSONB,
		cost_usd DOUBLE PRECISION NOT NULL DEFAULT 0,
		tokens BIGINT NOT NULL DEFAULT 0,
		status VARCHAR(20) NOT NULL,
		budget_before DOUBLE PRECISION NOT NULL DEFAULT 0,
		budget_after DOUBLE PRECISION NOT NULL DEFAULT 0,
		budget_warning BOOLEAN NOT NULL DEFAULT FALSE,
		approval_id VARCHAR(255),
		approval_status VARCHAR(20),
		created_at TIMESTAMP NOT NULL DEFAULT NOW()
	);
	`
	_, err := db.Exec(query)
	return err
}

const agentSelect = `
	SELECT id, org_id, COALESCE(workspace_id, ''), name, platform, auth_type,
	       COALESCE(encrypted_credentials, ''), platform_config,
	       COALESCE(webhook_url, ''), endpoint_url,
	       budget_limit_daily, budget_limit_monthly,
	       rate_limit_per_minute, rate_limit_per_hour, rate_limit_per_day,
	       require_approval, approval_cost_threshold, base_cost_per_invocation,
	       status, created_at, updated_at
	FROM external_agents`

// CreateAgent inserts an external agent
func (r *PostgresRepository) CreateAgent(ctx context.Context, a *ExternalAgent) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO external_agents (id, org_id, workspace_id, name, platform,
			auth_type, encrypted_credentials, platform_config, webhook_url, endpoint_url,
			budget_limit_daily, budget_limit_monthly,
			rate_limit_per_minute, rate_limit_per_hour, rate_limit_per_day,
			require_approval, approval_cost_threshold, base_cost_per_invocation,
			status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
	`, a.ID, a.OrgID, nullString(a.WorkspaceID), a.Name, a.Platform,
		a.AuthType, a.EncryptedCredentials, platformConfigOrEmpty(a), nullString(a.WebhookURL), a.EndpointURL,
		a.BudgetLimitDaily, a.BudgetLimitMonthly,
		a.RateLimitPerMinute, a.RateLimitPerHour, a.RateLimitPerDay,
		a.RequireApproval, a.ApprovalCostThreshold, a.BaseCostPerInvocation,
		a.Status, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create external agent: %w", err)
	}
	return nil
}

// GetAgent retrieves a non-deleted agent by id
func (r *PostgresRepository) GetAgent(ctx context.Context, orgID, id string) (*ExternalAgent, error) {
	row := r.db.QueryRowContext(ctx,
		agentSelect+` WHERE org_id = $1 AND id = $2 AND status != 'deleted'`, orgID, id)
	a, err := scanAgent(row)
	if err == sql.ErrNoRows {
		return nil, ErrAgentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get external agent: %w", err)
	}
	return a, nil
}

// ListAgents returns an org's non-deleted agents
func (r *PostgresRepository) ListAgents(ctx context.Context, orgID string) ([]ExternalAgent, error) {
	rows, err := r.db.QueryContext(ctx,
		agentSelect+` WHERE org_id = $1 AND status != 'deleted' ORDER BY created_at DESC`, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list external agents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var agents []ExternalAgent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan external agent: %w", err)
		}
		agents = append(agents, *a)
	}
	return agents, rows.Err()
}

// UpdateAgent updates an agent's mutable fields
func (r *PostgresRepository) UpdateAgent(ctx context.Context, a *ExternalAgent) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE external_agents
		SET name = $1, platform = $2, auth_type = $3, encrypted_credentials = $4,
			platform_config = $5, webhook_url = $6, endpoint_url = $7,
			budget_limit_daily = $8, budget_limit_monthly = $9,
			rate_limit_per_minute = $10, rate_limit_per_hour = $11, rate_limit_per_day = $12,
			require_approval = $13, approval_cost_threshold = $14, base_cost_per_invocation = $15,
			status = $16, updated_at = $17
		WHERE org_id = $18 AND id = $19 AND status != 'deleted'
	`, a.Name, a.Platform, a.AuthType, a.EncryptedCredentials,
		platformConfigOrEmpty(a), nullString(a.WebhookURL), a.EndpointURL,
		a.BudgetLimitDaily, a.BudgetLimitMonthly,
		a.RateLimitPerMinute, a.RateLimitPerHour, a.RateLimitPerDay,
		a.RequireApproval, a.ApprovalCostThreshold, a.BaseCostPerInvocation,
		a.Status, time.Now().UTC(), a.OrgID, a.ID)
	if err != nil {
		return fmt.Errorf("failed to update external agent: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrAgentNotFound
	}
	return nil
}

// SoftDeleteAgent marks an agent deleted
func (r *PostgresRepository) SoftDeleteAgent(ctx context.Context, orgID, id string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE external_agents SET status = 'deleted', updated_at = $1
		WHERE org_id = $2 AND id = $3 AND status != 'deleted'
	`, time.Now().UTC(), orgID, id)
	if err != nil {
		return fmt.Errorf("failed to delete external agent: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrAgentNotFound
	}
	return nil
}

// CreateInvocation inserts a pending invocation row
func (r *PostgresRepository) CreateInvocation(ctx context.Context, inv *Invocation) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO external_agent_invocations (id, org_id, external_agent_id,
			user_id, api_key_id, request_payload, request_ip, request_user_agent,
			auth_passed, budget_passed, rate_limit_passed, status, trace_id,
			approval_id, webhook_delivery_status, invoked_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`, inv.ID, inv.OrgID, inv.ExternalAgentID,
		nullString(inv.UserID), nullString(inv.APIKeyID),
		nullBytes(inv.RequestPayload), inv.RequestIP, inv.RequestUserAgent,
		inv.AuthPassed, inv.BudgetPassed, inv.RateLimitPassed, inv.Status, inv.TraceID,
		nullString(inv.ApprovalID), inv.WebhookDeliveryStatus, inv.InvokedAt)
	if err != nil {
		return fmt.Errorf("failed to create invocation: %w", err)
	}
	return nil
}

// CompleteInvocation writes the terminal fields of a pending row
func (r *PostgresRepository) CompleteInvocation(ctx context.Context, inv *Invocation) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE external_agent_invocations
		SET response_payload = $1, response_status_code = $2, execution_time_ms = $3,
			status = $4, error_message = $5, completed_at = $6
		WHERE id = $7 AND status = 'pending'
	`, nullBytes(inv.ResponsePayload), inv.ResponseStatusCode, inv.ExecutionTimeMS,
		inv.Status, nullString(inv.ErrorMessage), inv.CompletedAt, inv.ID)
	if err != nil {
		return fmt.Errorf("failed to complete invocation: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrInvocationNotFound
	}
	return nil
}

const invocationSelect = `
	SELECT id, org_id, external_agent_id, COALESCE(user_id, ''), COALESCE(api_key_id, ''),
	       request_payload, COALESCE(request_ip, ''), COALESCE(request_user_agent, ''),
	       response_payload, COALESCE(response_status_code, 0), execution_time_ms,
	       auth_passed, budget_passed, rate_limit_passed, status,
	       COALESCE(error_message, ''), trace_id, COALESCE(approval_id, ''),
	       webhook_delivery_status, invoked_at, completed_at
	FROM external_agent_invocations`

// GetInvocation retrieves one invocation
func (r *PostgresRepository) GetInvocation(ctx context.Context, orgID, id string) (*Invocation, error) {
	row := r.db.QueryRowContext(ctx, invocationSelect+` WHERE org_id = $1 AND id = $2`, orgID, id)
	inv, err := scanInvocation(row)
	if err == sql.ErrNoRows {
		return nil, ErrInvocationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get invocation: %w", err)
	}
	return inv, nil
}

// ListInvocations returns recent invocations for an agent, newest first
func (r *PostgresRepository) ListInvocations(ctx context.Context, orgID, agentID string, limit int) ([]Invocation, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, invocationSelect+`
		WHERE org_id = $1 AND external_agent_id = $2
		ORDER BY invoked_at DESC LIMIT $3`, orgID, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list invocations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var invocations []Invocation
	for rows.Next() {
		inv, err := scanInvocation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invocation: %w", err)
		}
		invocations = append(invocations, *inv)
	}
	return invocations, rows.Err()
}

// UpdateDeliveryStatus records the webhook fan-out outcome
func (r *PostgresRepository) UpdateDeliveryStatus(ctx context.Context, invocationID, status string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE external_agent_invocations SET webhook_delivery_status = $1 WHERE id = $2
	`, status, invocationID)
	if err != nil {
		return fmt.Errorf("failed to update delivery status: %w", err)
	}
	return nil
}

// CreateLineage appends a lineage row
func (r *PostgresRepository) CreateLineage(ctx context.Context, l *Lineage) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO invocation_lineage (id,
			external_user_id, external_user_email, external_user_name,
			external_system, external_session_id, external_trace_id,
			api_key_id, org_id, team_id, user_id,
			external_agent_id, endpoint, trace_id, span_id,
			request_snapshot, response_snapshot, cost_usd, tokens, status,
			budget_before, budget_after, budget_warning,
			approval_id, approval_status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
			$14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26)
	`, l.ID,
		nullString(l.ExternalUserID), nullString(l.ExternalUserEmail), nullString(l.ExternalUserName),
		nullString(l.ExternalSystem), nullString(l.ExternalSessionID), nullString(l.ExternalTraceID),
		nullString(l.APIKeyID), l.OrgID, nullString(l.TeamID), nullString(l.UserID),
		l.ExternalAgentID, nullString(l.Endpoint), l.TraceID, nullString(l.SpanID),
		nullBytes(l.RequestSnapshot), nullBytes(l.ResponseSnapshot), l.CostUSD, l.Tokens, l.Status,
		l.BudgetBefore, l.BudgetAfter, l.BudgetWarning,
		nullString(l.ApprovalID), nullString(l.ApprovalStatus), l.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create lineage: %w", err)
	}
	return nil
}

// GetLineage retrieves the lineage row of an invocation
func (r *PostgresRepository) GetLineage(ctx context.Context, orgID, invocationID string) (*Lineage, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, COALESCE(external_user_id, ''), COALESCE(external_user_email, ''),
		       COALESCE(external_user_name, ''), COALESCE(external_system, ''),
		       COALESCE(external_session_id, ''), COALESCE(external_trace_id, ''),
		       COALESCE(api_key_id, ''), org_id, COALESCE(team_id, ''), COALESCE(user_id, ''),
		       external_agent_id, COALESCE(endpoint, ''), trace_id, COALESCE(span_id, ''),
		       request_snapshot, response_snapshot, cost_usd, tokens, status,
		       budget_before, budget_after, budget_warning,
		       COALESCE(approval_id, ''), COALESCE(approval_status, ''), created_at
		FROM invocation_lineage
		WHERE org_id = $1 AND id = $2
	`, orgID, invocationID)

	var l Lineage
	var reqSnap, respSnap []byte
	err := row.Scan(&l.ID, &l.ExternalUserID, &l.ExternalUserEmail,
		&l.ExternalUserName, &l.ExternalSystem,
		&l.ExternalSessionID, &l.ExternalTraceID,
		&l.APIKeyID, &l.OrgID, &l.TeamID, &l.UserID,
		&l.ExternalAgentID, &l.Endpoint, &l.TraceID, &l.SpanID,
		&reqSnap, &respSnap, &l.CostUSD, &l.Tokens, &l.Status,
		&l.BudgetBefore, &l.BudgetAfter, &l.BudgetWarning,
		&l.ApprovalID, &l.ApprovalStatus, &l.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrInvocationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get lineage: %w", err)
	}
	l.RequestSnapshot = reqSnap
	l.ResponseSnapshot = respSnap
	return &l, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAgent(row rowScanner) (*ExternalAgent, error) {
	var a ExternalAgent
	var config []byte
	err := row.Scan(&a.ID, &a.OrgID, &a.WorkspaceID, &a.Name, &a.Platform, &a.AuthType,
		&a.EncryptedCredentials, &config, &a.WebhookURL, &a.EndpointURL,
		&a.BudgetLimitDaily, &a.BudgetLimitMonthly,
		&a.RateLimitPerMinute, &a.RateLimitPerHour, &a.RateLimitPerDay,
		&a.RequireApproval, &a.ApprovalCostThreshold, &a.BaseCostPerInvocation,
		&a.Status, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.PlatformConfig = config
	return &a, nil
}

func scanInvocation(row rowScanner) (*Invocation, error) {
	var inv Invocation
	var reqPayload, respPayload []byte
	var completedAt sql.NullTime
	err := row.Scan(&inv.ID, &inv.OrgID, &inv.ExternalAgentID, &inv.UserID, &inv.APIKeyID,
		&reqPayload, &inv.RequestIP, &inv.RequestUserAgent,
		&respPayload, &inv.ResponseStatusCode, &inv.ExecutionTimeMS,
		&inv.AuthPassed, &inv.BudgetPassed, &inv.RateLimitPassed, &inv.Status,
		&inv.ErrorMessage, &inv.TraceID, &inv.ApprovalID,
		&inv.WebhookDeliveryStatus, &inv.InvokedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	inv.RequestPayload = reqPayload
	inv.ResponsePayload = respPayload
	if completedAt.Valid {
		inv.CompletedAt = &completedAt.Time
	}
	return &inv, nil
}

func platformConfigOrEmpty(a *ExternalAgent) []byte {
	if len(a.PlatformConfig) == 0 {
		return []byte("{}")
	}
	return a.PlatformConfig
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullBytes(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return b
}
