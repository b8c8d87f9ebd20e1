// Copyright 2026 Kaizen Studio
// SPDX-License-Identifier: BUSL-1.1

package approval

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

// NewPostgresRepository creates a new PostgreSQL approval repository
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// CreateSchema creates the approval tables if they don't exist
func CreateSchema(db *sql.DB) error {
	query := `
	CREATE TABLE IF NOT EXISTS approval_requests (
		id VARCHAR(255) PRIMARY KEY,
		org_id VARCHAR(255) NOT NULL,
		external_agent_id VARCHAR(255) NOT NULL,
		requested_by VARCHAR(255) NOT NULL,
		trigger_kind VARCHAR(50) NOT NULL,
		reason TEXT,
		estimated_cost DOUBLE PRECISION NOT NULL DEFAULT 0,
		request_payload BYTEA,
		status VARCHAR(20) NOT NULL DEFAULT 'pending',
		decided_by VARCHAR(255),
		decided_at TIMESTAMP,
		decision_note TEXT,
		expires_at TIMESTAMP NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_approvals_org_status
		ON approval_requests(org_id, status, created_at);
	`
	_, err := db.Exec(query)
	return err
}

const requestSelect = `
	SELECT id, org_id, external_agent_id, requested_by, trigger_kind,
	       COALESCE(reason, ''), estimated_cost, request_payload, status,
	       COALESCE(decided_by, ''), decided_at, COALESCE(decision_note, ''),
	       expires_at, created_at
	FROM approval_requests`

// CreateRequest inserts a pending approval request
func (r *PostgresRepository) CreateRequest(ctx context.Context, req *Request) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO approval_requests (id, org_id, external_agent_id, requested_by,
			trigger_kind, reason, estimated_cost, request_payload, status,
			expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, req.ID, req.OrgID, req.ExternalAgentID, req.RequestedBy,
		req.Trigger, req.Reason, req.EstimatedCost, req.RequestPayload, req.Status,
		req.ExpiresAt, req.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create approval request: %w", err)
	}
	return nil
}

// GetRequest retrieves one approval request
func (r *PostgresRepository) GetRequest(ctx context.Context, orgID, id string) (*Request, error) {
	row := r.db.QueryRowContext(ctx, requestSelect+` WHERE org_id = $1 AND id = $2`, orgID, id)
	req, err := scanRequest(row)
	if err == sql.ErrNoRows {
		return nil, ErrApprovalNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get approval request: %w", err)
	}
	return req, nil
}

// ListRequests returns an org's approval requests, newest first
func (r *PostgresRepository) ListRequests(ctx context.Context, orgID, status string, limit int) ([]Request, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	query := requestSelect + ` WHERE org_id = $1`
	args := []interface{}{orgID}
	if status != "" {
		query += ` AND status = $2`
		args = append(args, status)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d`, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list approval requests: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var requests []Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan approval request: %w", err)
		}
		requests = append(requests, *req)
	}
	return requests, rows.Err()
}

// Decide writes a terminal decision iff the request is still pending.
// The WHERE status='pending' guard makes the transition single-shot under
// concurrent deciders.
func (r *PostgresRepository) Decide(ctx context.Context, orgID, id, status, decidedBy, note string, decidedAt time.Time) (*Request, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE approval_requests
		SET status = $1, decided_by = $2, decision_note = $3, decided_at = $4
		WHERE org_id = $5 AND id = $6 AND status = 'pending'
		RETURNING id, org_id, external_agent_id, requested_by, trigger_kind,
		          COALESCE(reason, ''), estimated_cost, request_payload, status,
		          COALESCE(decided_by, ''), decided_at, COALESCE(decision_note, ''),
		          expires_at, created_at
	`, status, decidedBy, note, decidedAt, orgID, id)

	req, err := scanRequest(row)
	if err == sql.ErrNoRows {
		// Either missing or already terminal; look again to tell them apart.
		existing, gerr := r.GetRequest(ctx, orgID, id)
		if gerr != nil {
			return nil, gerr
		}
		_ = existing
		return nil, ErrAlreadyDecided
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decide approval request: %w", err)
	}
	return req, nil
}

// ExpirePending flips pending requests past their TTL to expired
func (r *PostgresRepository) ExpirePending(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE approval_requests
		SET status = 'expired'
		WHERE status = 'pending' AND expires_at < $1
	`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to expire approval requests: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRequest(row rowScanner) (*Request, error) {
	var req Request
	var decidedAt sql.NullTime
	err := row.Scan(&req.ID, &req.OrgID, &req.ExternalAgentID, &req.RequestedBy,
		&req.Trigger, &req.Reason, &req.EstimatedCost, &req.RequestPayload, &req.Status,
		&req.DecidedBy, &decidedAt, &req.DecisionNote, &req.ExpiresAt, &req.CreatedAt)
	if err != nil {
		return nil, err
	}
	if decidedAt.Valid {
		req.DecidedAt = &decidedAt.Time
	}
	return &req, nil
}
