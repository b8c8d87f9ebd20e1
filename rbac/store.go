// Copyright 2026 Kaizen Studio
// SPDX-License-Identifier: BUSL-1.1

package rbac

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// Store materializes the declarative matrix into permissions and
// role_permissions rows so external tooling can query role→permission
// edges with plain SQL.
type Store struct {
	db *sql.DB
}

// NewStore creates a new RBAC store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateSchema creates the RBAC tables if they don't exist.
func CreateSchema(db *sql.DB) error {
	query := `
	CREATE TABLE IF NOT EXISTS permissions (
		id VARCHAR(255) PRIMARY KEY,
		name VARCHAR(255) NOT NULL UNIQUE,
		resource VARCHAR(255) NOT NULL,
		action VARCHAR(255) NOT NULL
	);

	CREATE TABLE IF NOT EXISTS role_permissions (
		role VARCHAR(50) NOT NULL,
		permission_id VARCHAR(255) NOT NULL,
		UNIQUE (role, permission_id)
	);
	`
	_, err := db.Exec(query)
	return err
}

// Seed writes the matrix to the database. Idempotent: existing rows are
// left in place.
func (s *Store) Seed(ctx context.Context) error {
	// Collect the distinct permission names across all roles.
	names := make(map[string]bool)
	for _, perms := range Matrix {
		for _, p := range perms {
			names[p] = true
		}
	}

	sorted := make([]string, 0, len(names))
	for n := range names {
		sorted = append(sorted, n)
	}
	sort.Strings(sorted)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	ids := make(map[string]string, len(sorted))
	for _, name := range sorted {
		resource, action := splitPermission(name)
		id := uuid.NewString()

		var existing string
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM permissions WHERE name = $1`, name,
		).Scan(&existing)
		switch {
		case err == sql.ErrNoRows:
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO permissions (id, name, resource, action) VALUES ($1, $2, $3, $4)`,
				id, name, resource, action,
			); err != nil {
				return fmt.Errorf("failed to seed permission %s: %w", name, err)
			}
			ids[name] = id
		case err != nil:
			return fmt.Errorf("failed to check permission %s: %w", name, err)
		default:
			ids[name] = existing
		}
	}

	for role, perms := range Matrix {
		for _, p := range perms {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO role_permissions (role, permission_id)
				VALUES ($1, $2)
				ON CONFLICT (role, permission_id) DO NOTHING
			`, role, ids[p]); err != nil {
				return fmt.Errorf("failed to seed role permission %s/%s: %w", role, p, err)
			}
		}
	}

	return tx.Commit()
}

// PermissionsForRole reads the materialized role→permission fan-out.
func (s *Store) PermissionsForRole(ctx context.Context, role string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.name
		FROM role_permissions rp
		JOIN permissions p ON p.id = rp.permission_id
		WHERE rp.role = $1
		ORDER BY p.name
	`, role)
	if err != nil {
		return nil, fmt.Errorf("failed to query role permissions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var perms []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		perms = append(perms, name)
	}
	return perms, rows.Err()
}

func splitPermission(name string) (resource, action string) {
	if idx := strings.IndexByte(name, ':'); idx > 0 {
		return name[:idx], name[idx+1:]
	}
	return name, ""
}
