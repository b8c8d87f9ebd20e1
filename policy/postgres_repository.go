// Copyright 2026 Kaizen Studio
// SPDX-License-Identifier: BUSL-1.1

package policy

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
)

// PostgresRepository implements Repository using PostgreSQL
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository creates a new PostgreSQL policy repository
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// CreateSchema creates the policy tables if they don't exist
func CreateSchema(db *sql.DB) error {
	query := `
	CREATE TABLE IF NOT EXISTS policies (
		id VARCHAR(255) PRIMARY KEY,
		org_id VARCHAR(255) NOT NULL,
		name VARCHAR(255) NOT NULL,
		resource_type VARCHAR(255) NOT NULL,
		action VARCHAR(255) NOT NULL,
		effect VARCHAR(10) NOT NULL,
		conditions JSONB NOT NULL DEFAULT '{}',
		resource_refs JSONB NOT NULL DEFAULT '[]',
		priority INTEGER NOT NULL DEFAULT 0,
		status VARCHAR(50) NOT NULL DEFAULT 'active',
		created_at TIMESTAMP NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMP NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_policies_org_lookup
		ON policies(org_id, resource_type, action) WHERE status = 'active';

	CREATE TABLE IF NOT EXISTS policy_assignments (
		id VARCHAR(255) PRIMARY KEY,
		policy_id VARCHAR(255) NOT NULL REFERENCES policies(id) ON DELETE CASCADE,
		principal_type VARCHAR(20) NOT NULL,
		principal_id VARCHAR(255) NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT NOW(),
		UNIQUE (policy_id, principal_type, principal_id)
	);
	`
	_, err := db.Exec(query)
	return err
}

const policySelect = `
	SELECT id, org_id, name, resource_type, action, effect,
	       conditions, resource_refs, priority, status, created_at, updated_at
	FROM policies`

// CreatePolicy inserts a new policy
func (r *PostgresRepository) CreatePolicy(ctx context.Context, p *Policy) error {
	conditions, err := json.Marshal(p.Conditions)
	if err != nil {
		return fmt.Errorf("failed to marshal conditions: %w", err)
	}
	refs, err := json.Marshal(p.ResourceRefs)
	if err != nil {
		return fmt.Errorf("failed to marshal resource refs: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO policies (id, org_id, name, resource_type, action, effect,
			conditions, resource_refs, priority, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, p.ID, p.OrgID, p.Name, p.ResourceType, p.Action, p.Effect,
		conditions, refs, p.Priority, p.Status, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create policy: %w", err)
	}
	return nil
}

// GetPolicy retrieves a policy by id within an org
func (r *PostgresRepository) GetPolicy(ctx context.Context, orgID, id string) (*Policy, error) {
	row := r.db.QueryRowContext(ctx, policySelect+` WHERE org_id = $1 AND id = $2`, orgID, id)
	p, err := scanPolicy(row)
	if err == sql.ErrNoRows {
		return nil, ErrPolicyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get policy: %w", err)
	}
	return p, nil
}

// ListPolicies returns all policies for an org, highest priority first
func (r *PostgresRepository) ListPolicies(ctx context.Context, orgID string) ([]Policy, error) {
	rows, err := r.db.QueryContext(ctx, policySelect+`
		WHERE org_id = $1 ORDER BY priority DESC, created_at DESC`, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list policies: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanPolicies(rows)
}

// UpdatePolicy updates a policy's mutable fields
func (r *PostgresRepository) UpdatePolicy(ctx context.Context, p *Policy) error {
	conditions, err := json.Marshal(p.Conditions)
	if err != nil {
		return fmt.Errorf("failed to marshal conditions: %w", err)
	}
	refs, err := json.Marshal(p.ResourceRefs)
	if err != nil {
		return fmt.Errorf("failed to marshal resource refs: %w", err)
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE policies
		SET name = $1, resource_type = $2, action = $3, effect = $4,
			conditions = $5, resource_refs = $6, priority = $7, status = $8,
			updated_at = $9
		WHERE org_id = $10 AND id = $11
	`, p.Name, p.ResourceType, p.Action, p.Effect, conditions, refs,
		p.Priority, p.Status, time.Now().UTC(), p.OrgID, p.ID)
	if err != nil {
		return fmt.Errorf("failed to update policy: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrPolicyNotFound
	}
	return nil
}

// DeletePolicy removes a policy and, through the FK, its assignments
func (r *PostgresRepository) DeletePolicy(ctx context.Context, orgID, id string) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM policies WHERE org_id = $1 AND id = $2`, orgID, id)
	if err != nil {
		return fmt.Errorf("failed to delete policy: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrPolicyNotFound
	}
	return nil
}

// CreateAssignment attaches a policy to a principal
func (r *PostgresRepository) CreateAssignment(ctx context.Context, a *PolicyAssignment) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO policy_assignments (id, policy_id, principal_type, principal_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, a.ID, a.PolicyID, a.PrincipalType, a.PrincipalID, a.CreatedAt)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return ErrAssignmentExists
		}
		return fmt.Errorf("failed to create assignment: %w", err)
	}
	return nil
}

// ListAssignments returns the assignments of a policy
func (r *PostgresRepository) ListAssignments(ctx context.Context, policyID string) ([]PolicyAssignment, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, policy_id, principal_type, principal_id, created_at
		FROM policy_assignments WHERE policy_id = $1 ORDER BY created_at
	`, policyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list assignments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var assignments []PolicyAssignment
	for rows.Next() {
		var a PolicyAssignment
		if err := rows.Scan(&a.ID, &a.PolicyID, &a.PrincipalType, &a.PrincipalID, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan assignment: %w", err)
		}
		assignments = append(assignments, a)
	}
	return assignments, rows.Err()
}

// DeleteAssignment removes a single assignment
func (r *PostgresRepository) DeleteAssignment(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM policy_assignments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete assignment: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrPolicyNotFound
	}
	return nil
}

// GetApplicablePolicies returns active policies for the resource type and
// action that either carry no assignments (org-wide) or have at least one
// assignment matching the principal.
func (r *PostgresRepository) GetApplicablePolicies(ctx context.Context, orgID, resourceType, action string, ref PrincipalRef) ([]Policy, error) {
	teamIDs := ref.TeamIDs
	if teamIDs == nil {
		teamIDs = []string{}
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT DISTINCT p.id, p.org_id, p.name, p.resource_type, p.action, p.effect,
		       p.conditions, p.resource_refs, p.priority, p.status, p.created_at, p.updated_at
		FROM policies p
		LEFT JOIN policy_assignments a ON a.policy_id = p.id
		WHERE p.org_id = $1
		  AND p.status = 'active'
		  AND (p.resource_type = $2 OR p.resource_type = '*')
		  AND (p.action = $3 OR p.action = '*')
		  AND (a.id IS NULL
		       OR (a.principal_type = 'user' AND a.principal_id = $4)
		       OR (a.principal_type = 'role' AND a.principal_id = $5)
		       OR (a.principal_type = 'team' AND a.principal_id = ANY($6)))
	`, orgID, resourceType, action, ref.UserID, ref.Role, pq.Array(teamIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to query applicable policies: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanPolicies(rows)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPolicy(row rowScanner) (*Policy, error) {
	var p Policy
	var conditions, refs []byte
	err := row.Scan(&p.ID, &p.OrgID, &p.Name, &p.ResourceType, &p.Action, &p.Effect,
		&conditions, &refs, &p.Priority, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(conditions) > 0 {
		if err := json.Unmarshal(conditions, &p.Conditions); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidCondition, err)
		}
	}
	if len(refs) > 0 {
		if err := json.Unmarshal(refs, &p.ResourceRefs); err != nil {
			return nil, fmt.Errorf("failed to unmarshal resource refs: %w", err)
		}
	}
	return &p, nil
}

func scanPolicies(rows *sql.Rows) ([]Policy, error) {
	var policies []Policy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan policy: %w", err)
		}
		policies = append(policies, *p)
	}
	return policies, rows.Err()
}
