// Copyright 2026 Kaizen Studio
// SPDX-License-Identifier: BUSL-1.1

package identity

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

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// CreateOrganization creates a new organization
func (r *PostgresRepository) CreateOrganization(ctx context.Context, org *Organization) error {
	settings, err := json.Marshal(org.Settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	query := `
		INSERT INTO organizations (
			id, name, slug, status, plan_tier, sso_domain,
			allow_domain_join, settings, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err = r.db.ExecContext(ctx, query,
		org.ID, org.Name, org.Slug, org.Status, org.PlanTier,
		nullString(org.SSODomain), org.AllowDomainJoin, settings,
		org.CreatedAt, org.UpdatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return ErrSlugTaken
		}
		return fmt.Errorf("failed to create organization: %w", err)
	}

	return nil
}

// GetOrganization retrieves a non-deleted organization by ID
func (r *PostgresRepository) GetOrganization(ctx context.Context, id string) (*Organization, error) {
	return r.getOrganization(ctx, "id = $1", id)
}

// GetOrganizationBySlug retrieves a non-deleted organization by slug
func (r *PostgresRepository) GetOrganizationBySlug(ctx context.Context, slug string) (*Organization, error) {
	return r.getOrganization(ctx, "slug = $1", slug)
}

func (r *PostgresRepository) getOrganization(ctx context.Context, where string, arg interface{}) (*Organization, error) {
	query := `
		SELECT id, name, slug, status, plan_tier, sso_domain,
			   allow_domain_join, settings, created_at, updated_at
		FROM organizations
		WHERE ` + where + ` AND status != 'deleted'
	`

	var org Organization
	var ssoDomain sql.NullString
	var settings []byte

	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&org.ID, &org.Name, &org.Slug, &org.Status, &org.PlanTier,
		&ssoDomain, &org.AllowDomainJoin, &settings,
		&org.CreatedAt, &org.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrOrgNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}

	org.SSODomain = ssoDomain.String
	if len(settings) > 0 {
		_ = json.Unmarshal(settings, &org.Settings)
	}

	return &org, nil
}

// UpdateOrganizationStatus updates the status of an organization. Deleting
// an organization is this with status=deleted; rows are never removed.
func (r *PostgresRepository) UpdateOrganizationStatus(ctx context.Context, id, status string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE organizations SET status = $2, updated_at = $3 WHERE id = $1`,
		id, status, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to update organization status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check affected rows: %w", err)
	}
	if rows == 0 {
		return ErrOrgNotFound
	}
	return nil
}

// CreateDomain creates an organization domain mapping
func (r *PostgresRepository) CreateDomain(ctx context.Context, domain *OrganizationDomain) error {
	query := `
		INSERT INTO organization_domains (
			id, org_id, domain, is_verified, auto_join_enabled, default_role, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.db.ExecContext(ctx, query,
		domain.ID, domain.OrgID, domain.Domain, domain.IsVerified,
		domain.AutoJoinEnabled, domain.DefaultRole, domain.CreatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return ErrInvalidInput
		}
		return fmt.Errorf("failed to create domain: %w", err)
	}
	return nil
}

// FindVerifiedDomain finds a verified domain mapping for auto-join
func (r *PostgresRepository) FindVerifiedDomain(ctx context.Context, domain string) (*OrganizationDomain, error) {
	query := `
		SELECT id, org_id, domain, is_verified, auto_join_enabled, default_role, created_at
		FROM organization_domains
		WHERE domain = $1 AND is_verified = true
	`
	var d OrganizationDomain
	err := r.db.QueryRowContext(ctx, query, domain).Scan(
		&d.ID, &d.OrgID, &d.Domain, &d.IsVerified,
		&d.AutoJoinEnabled, &d.DefaultRole, &d.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find domain: %w", err)
	}
	return &d, nil
}

// ListDomains lists domains for an organization
func (r *PostgresRepository) ListDomains(ctx context.Context, orgID string) ([]OrganizationDomain, error) {
	query := `
		SELECT id, org_id, domain, is_verified, auto_join_enabled, default_role, created_at
		FROM organization_domains
		WHERE org_id = $1
		ORDER BY created_at
	`
	rows, err := r.db.QueryContext(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list domains: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var domains []OrganizationDomain
	for rows.Next() {
		var d OrganizationDomain
		if err := rows.Scan(&d.ID, &d.OrgID, &d.Domain, &d.IsVerified,
			&d.AutoJoinEnabled, &d.DefaultRole, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan domain: %w", err)
		}
		domains = append(domains, d)
	}
	return domains, rows.Err()
}

// CreateUser creates a new user
func (r *PostgresRepository) CreateUser(ctx context.Context, user *User) error {
	query := `
		INSERT INTO users (
			id, org_id, email, name, password_hash, status, role,
			mfa_enabled, is_super_admin, primary_organization_id,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := r.db.ExecContext(ctx, query,
		user.ID, user.OrgID, user.Email, user.Name,
		nullString(user.PasswordHash), user.Status, user.Role,
		user.MFAEnabled, user.IsSuperAdmin, nullString(user.PrimaryOrganizationID),
		user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return ErrEmailTaken
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// GetUser retrieves a user by ID
func (r *PostgresRepository) GetUser(ctx context.Context, id string) (*User, error) {
	return r.getUser(ctx, "id = $1", id)
}

// GetUserByEmail retrieves a user by email
func (r *PostgresRepository) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return r.getUser(ctx, "email = $1", email)
}

func (r *PostgresRepository) getUser(ctx context.Context, where string, arg interface{}) (*User, error) {
	query := `
		SELECT id, org_id, email, name, password_hash, status, role,
			   mfa_enabled, is_super_admin, primary_organization_id,
			   created_at, updated_at
		FROM users
		WHERE ` + where

	var user User
	var passwordHash, primaryOrg sql.NullString

	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&user.ID, &user.OrgID, &user.Email, &user.Name, &passwordHash,
		&user.Status, &user.Role, &user.MFAEnabled, &user.IsSuperAdmin,
		&primaryOrg, &user.CreatedAt, &user.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	user.PasswordHash = passwordHash.String
	user.PrimaryOrganizationID = primaryOrg.String
	return &user, nil
}

// UpdateUserStatus updates a user's status
func (r *PostgresRepository) UpdateUserStatus(ctx context.Context, id, status string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET status = $2, updated_at = $3 WHERE id = $1`,
		id, status, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to update user status: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrUserNotFound
	}
	return nil
}

// UpdateUserRole updates the legacy org/role columns and the membership edge
func (r *PostgresRepository) UpdateUserRole(ctx context.Context, id, orgID, role string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`UPDATE users SET role = $2, updated_at = $3 WHERE id = $1`,
		id, role, time.Now().UTC(),
	); err != nil {
		return fmt.Errorf("failed to update user role: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE user_organizations SET role = $3 WHERE user_id = $1 AND org_id = $2`,
		id, orgID, role,
	); err != nil {
		return fmt.Errorf("failed to update membership role: %w", err)
	}

	return tx.Commit()
}

// CreateMembership creates a user-organization membership
func (r *PostgresRepository) CreateMembership(ctx context.Context, m *UserOrganization) error {
	query := `
		INSERT INTO user_organizations (
			id, user_id, org_id, role, is_primary, joined_via, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.db.ExecContext(ctx, query,
		m.ID, m.UserID, m.OrgID, m.Role, m.IsPrimary, m.JoinedVia, m.CreatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return ErrInvalidInput
		}
		return fmt.Errorf("failed to create membership: %w", err)
	}
	return nil
}

// GetMembership retrieves a membership edge
func (r *PostgresRepository) GetMembership(ctx context.Context, userID, orgID string) (*UserOrganization, error) {
	query := `
		SELECT id, user_id, org_id, role, is_primary, joined_via, created_at
		FROM user_organizations
		WHERE user_id = $1 AND org_id = $2
	`
	var m UserOrganization
	err := r.db.QueryRowContext(ctx, query, userID, orgID).Scan(
		&m.ID, &m.UserID, &m.OrgID, &m.Role, &m.IsPrimary, &m.JoinedVia, &m.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get membership: %w", err)
	}
	return &m, nil
}

// ListMemberships lists all memberships for a user
func (r *PostgresRepository) ListMemberships(ctx context.Context, userID string) ([]UserOrganization, error) {
	query := `
		SELECT id, user_id, org_id, role, is_primary, joined_via, created_at
		FROM user_organizations
		WHERE user_id = $1
		ORDER BY created_at
	`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list memberships: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var memberships []UserOrganization
	for rows.Next() {
		var m UserOrganization
		if err := rows.Scan(&m.ID, &m.UserID, &m.OrgID, &m.Role,
			&m.IsPrimary, &m.JoinedVia, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan membership: %w", err)
		}
		memberships = append(memberships, m)
	}
	return memberships, rows.Err()
}

// CreateInvitation creates a new invitation
func (r *PostgresRepository) CreateInvitation(ctx context.Context, inv *Invitation) error {
	query := `
		INSERT INTO invitations (
			id, org_id, email, role, invited_by, token, status, expires_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.db.ExecContext(ctx, query,
		inv.ID, inv.OrgID, inv.Email, inv.Role, inv.InvitedBy,
		inv.Token, inv.Status, inv.ExpiresAt, inv.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create invitation: %w", err)
	}
	return nil
}

// GetInvitationByToken retrieves an invitation by its token
func (r *PostgresRepository) GetInvitationByToken(ctx context.Context, token string) (*Invitation, error) {
	query := `
		SELECT id, org_id, email, role, invited_by, status, expires_at, created_at
		FROM invitations
		WHERE token = $1
	`
	var inv Invitation
	err := r.db.QueryRowContext(ctx, query, token).Scan(
		&inv.ID, &inv.OrgID, &inv.Email, &inv.Role, &inv.InvitedBy,
		&inv.Status, &inv.ExpiresAt, &inv.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrInvitationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get invitation: %w", err)
	}
	return &inv, nil
}

// AcceptInvitation atomically transitions a pending invitation to accepted.
// The WHERE clause guarantees the pending→accepted transition happens at
// most once even under concurrent accepts.
func (r *PostgresRepository) AcceptInvitation(ctx context.Context, token string, now time.Time) (*Invitation, error) {
	query := `
		UPDATE invitations
		SET status = 'accepted'
		WHERE token = $1 AND status = 'pending' AND expires_at > $2
		RETURNING id, org_id, email, role, invited_by, status, expires_at, created_at
	`
	var inv Invitation
	err := r.db.QueryRowContext(ctx, query, token, now).Scan(
		&inv.ID, &inv.OrgID, &inv.Email, &inv.Role, &inv.InvitedBy,
		&inv.Status, &inv.ExpiresAt, &inv.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrInvitationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to accept invitation: %w", err)
	}
	return &inv, nil
}

// CreateSSOConnection creates an SSO connection
func (r *PostgresRepository) CreateSSOConnection(ctx context.Context, conn *SSOConnection) error {
	domains, err := json.Marshal(conn.AllowedDomains)
	if err != nil {
		return fmt.Errorf("failed to marshal allowed domains: %w", err)
	}

	query := `
		INSERT INTO sso_connections (
			id, org_id, provider, client_id, client_secret_encrypted,
			is_default, auto_provision, default_role, allowed_domains,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err = r.db.ExecContext(ctx, query,
		conn.ID, conn.OrgID, conn.Provider, conn.ClientID,
		conn.ClientSecretEncrypted, conn.IsDefault, conn.AutoProvision,
		conn.DefaultRole, domains, conn.CreatedAt, conn.UpdatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return ErrDefaultConnectionExists
		}
		return fmt.Errorf("failed to create sso connection: %w", err)
	}
	return nil
}

// ListSSOConnections lists SSO connections for an org
func (r *PostgresRepository) ListSSOConnections(ctx context.Context, orgID string) ([]SSOConnection, error) {
	query := `
		SELECT id, org_id, provider, client_id, client_secret_encrypted,
			   is_default, auto_provision, default_role, allowed_domains,
			   created_at, updated_at
		FROM sso_connections
		WHERE org_id = $1
		ORDER BY created_at
	`
	rows, err := r.db.QueryContext(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sso connections: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var conns []SSOConnection
	for rows.Next() {
		var c SSOConnection
		var domains []byte
		if err := rows.Scan(&c.ID, &c.OrgID, &c.Provider, &c.ClientID,
			&c.ClientSecretEncrypted, &c.IsDefault, &c.AutoProvision,
			&c.DefaultRole, &domains, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan sso connection: %w", err)
		}
		if len(domains) > 0 {
			_ = json.Unmarshal(domains, &c.AllowedDomains)
		}
		conns = append(conns, c)
	}
	return conns, rows.Err()
}

// GetDefaultSSOConnection returns the default connection for an org
func (r *PostgresRepository) GetDefaultSSOConnection(ctx context.Context, orgID string) (*SSOConnection, error) {
	conns, err := r.ListSSOConnections(ctx, orgID)
	if err != nil {
		return nil, err
	}
	for i := range conns {
		if conns[i].IsDefault {
			return &conns[i], nil
		}
	}
	return nil, ErrSSOConnectionNotFound
}

// CreateUserIdentity links a user to an external identity
func (r *PostgresRepository) CreateUserIdentity(ctx context.Context, ident *UserIdentity) error {
	query := `
		INSERT INTO user_identities (id, user_id, provider, provider_user_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := r.db.ExecContext(ctx, query,
		ident.ID, ident.UserID, ident.Provider, ident.ProviderUserID, ident.CreatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return ErrInvalidInput
		}
		return fmt.Errorf("failed to create user identity: %w", err)
	}
	return nil
}

// GetUserIdentity looks up a user by external identity
func (r *PostgresRepository) GetUserIdentity(ctx context.Context, provider, providerUserID string) (*UserIdentity, error) {
	query := `
		SELECT id, user_id, provider, provider_user_id, created_at
		FROM user_identities
		WHERE provider = $1 AND provider_user_id = $2
	`
	var ident UserIdentity
	err := r.db.QueryRowContext(ctx, query, provider, providerUserID).Scan(
		&ident.ID, &ident.UserID, &ident.Provider, &ident.ProviderUserID, &ident.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user identity: %w", err)
	}
	return &ident, nil
}

// CreateAPIKey creates an API key
func (r *PostgresRepository) CreateAPIKey(ctx context.Context, key *APIKey) error {
	scopes, err := json.Marshal(key.Scopes)
	if err != nil {
		return fmt.Errorf("failed to marshal scopes: %w", err)
	}

	query := `
		INSERT INTO api_keys (
			id, org_id, name, key_hash, key_prefix, scopes, rate_limit,
			expires_at, status, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err = r.db.ExecContext(ctx, query,
		key.ID, key.OrgID, key.Name, key.KeyHash, key.KeyPrefix,
		scopes, key.RateLimit, key.ExpiresAt, key.Status, key.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create api key: %w", err)
	}
	return nil
}

// GetAPIKey retrieves an API key by ID
func (r *PostgresRepository) GetAPIKey(ctx context.Context, id string) (*APIKey, error) {
	query := apiKeySelect + ` WHERE id = $1`

	rows, err := r.db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get api key: %w", err)
	}
	defer func() { _ = rows.Close() }()

	keys, err := scanAPIKeys(rows)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, ErrAPIKeyNotFound
	}
	return &keys[0], nil
}

// GetAPIKeysByPrefix retrieves candidate keys for verification. The prefix
// is the first 8 characters of the plaintext, so collisions are possible
// and the caller must hash-compare each candidate.
func (r *PostgresRepository) GetAPIKeysByPrefix(ctx context.Context, prefix string) ([]APIKey, error) {
	query := apiKeySelect + ` WHERE key_prefix = $1`

	rows, err := r.db.QueryContext(ctx, query, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to get api keys by prefix: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanAPIKeys(rows)
}

// ListAPIKeys lists keys for an organization
func (r *PostgresRepository) ListAPIKeys(ctx context.Context, orgID string) ([]APIKey, error) {
	query := apiKeySelect + ` WHERE org_id = $1 ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list api keys: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanAPIKeys(rows)
}

const apiKeySelect = `
	SELECT id, org_id, name, key_hash, key_prefix, scopes, rate_limit,
		   expires_at, status, last_used_at, created_at
	FROM api_keys`

func scanAPIKeys(rows *sql.Rows) ([]APIKey, error) {
	var keys []APIKey
	for rows.Next() {
		var k APIKey
		var scopes []byte
		var expiresAt, lastUsedAt sql.NullTime
		if err := rows.Scan(&k.ID, &k.OrgID, &k.Name, &k.KeyHash, &k.KeyPrefix,
			&scopes, &k.RateLimit, &expiresAt, &k.Status, &lastUsedAt, &k.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan api key: %w", err)
		}
		if len(scopes) > 0 {
			_ = json.Unmarshal(scopes, &k.Scopes)
		}
		if expiresAt.Valid {
			t := expiresAt.Time
			k.ExpiresAt = &t
		}
		if lastUsedAt.Valid {
			t := lastUsedAt.Time
			k.LastUsedAt = &t
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// RevokeAPIKey revokes a key within its organization. Revoked keys are
// never resurrected.
func (r *PostgresRepository) RevokeAPIKey(ctx context.Context, orgID, id string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE api_keys SET status = 'revoked' WHERE id = $1 AND org_id = $2`, id, orgID,
	)
	if err != nil {
		return fmt.Errorf("failed to revoke api key: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrAPIKeyNotFound
	}
	return nil
}

// TouchAPIKey updates last_used_at. Called fire-and-forget after auth.
func (r *PostgresRepository) TouchAPIKey(ctx context.Context, id string, usedAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE api_keys SET last_used_at = $2 WHERE id = $1`, id, usedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to touch api key: %w", err)
	}
	return nil
}

// CountActiveUsers counts users whose account is active.
func (r *PostgresRepository) CountActiveUsers(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM users WHERE status = 'active'`,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count active users: %w", err)
	}
	return n, nil
}

// CountPendingInvitations counts invitations still open for acceptance.
func (r *PostgresRepository) CountPendingInvitations(ctx context.Context, now time.Time) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM invitations WHERE status = 'pending' AND expires_at > $1`, now,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending invitations: %w", err)
	}
	return n, nil
}

// Ping checks database connectivity
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// nullString converts an empty string to NULL for database insertion
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// CreateSchema creates the identity tables if they don't exist
func CreateSchema(db *sql.DB) error {
	query := `
	CREATE TABLE IF NOT EXISTS organizations (
		id VARCHAR(255) PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		slug VARCHAR(255) NOT NULL UNIQUE,
		status VARCHAR(50) NOT NULL DEFAULT 'active',
		plan_tier VARCHAR(50) NOT NULL DEFAULT 'free',
		sso_domain VARCHAR(255),
		allow_domain_join BOOLEAN NOT NULL DEFAULT false,
		settings JSONB,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS organization_domains (
		id VARCHAR(255) PRIMARY KEY,
		org_id VARCHAR(255) NOT NULL,
		domain VARCHAR(255) NOT NULL,
		is_verified BOOLEAN NOT NULL DEFAULT false,
		auto_join_enabled BOOLEAN NOT NULL DEFAULT false,
		default_role VARCHAR(50) NOT NULL DEFAULT 'viewer',
		created_at TIMESTAMPTZ NOT NULL,
		UNIQUE (org_id, domain)
	);

	CREATE TABLE IF NOT EXISTS users (
		id VARCHAR(255) PRIMARY KEY,
		org_id VARCHAR(255) NOT NULL,
		email VARCHAR(255) NOT NULL UNIQUE,
		name VARCHAR(255) NOT NULL,
		password_hash VARCHAR(255),
		status VARCHAR(50) NOT NULL DEFAULT 'active',
		role VARCHAR(50) NOT NULL DEFAULT 'viewer',
		mfa_enabled BOOLEAN NOT NULL DEFAULT false,
		is_super_admin BOOLEAN NOT NULL DEFAULT false,
		primary_organization_id VARCHAR(255),
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS user_organizations (
		id VARCHAR(255) PRIMARY KEY,
		user_id VARCHAR(255) NOT NULL,
		org_id VARCHAR(255) NOT NULL,
		role VARCHAR(50) NOT NULL,
		is_primary BOOLEAN NOT NULL DEFAULT false,
		joined_via VARCHAR(50) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		UNIQUE (user_id, org_id)
	);

	CREATE TABLE IF NOT EXISTS invitations (
		id VARCHAR(255) PRIMARY KEY,
		org_id VARCHAR(255) NOT NULL,
		email VARCHAR(255) NOT NULL,
		role VARCHAR(50) NOT NULL,
		invited_by VARCHAR(255) NOT NULL,
		token VARCHAR(255) NOT NULL UNIQUE,
		status VARCHAR(50) NOT NULL DEFAULT 'pending',
		expires_at TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sso_connections (
		id VARCHAR(255) PRIMARY KEY,
		org_id VARCHAR(255) NOT NULL,
		provider VARCHAR(50) NOT NULL,
		client_id VARCHAR(255) NOT NULL,
		client_secret_encrypted TEXT NOT NULL,
		is_default BOOLEAN NOT NULL DEFAULT false,
		auto_provision BOOLEAN NOT NULL DEFAULT false,
		default_role VARCHAR(50) NOT NULL DEFAULT 'viewer',
		allowed_domains JSONB,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_sso_default_per_org
		ON sso_connections(org_id) WHERE is_default;

	CREATE TABLE IF NOT EXISTS user_identities (
		id VARCHAR(255) PRIMARY KEY,
		user_id VARCHAR(255) NOT NULL,
		provider VARCHAR(50) NOT NULL,
		provider_user_id VARCHAR(255) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		UNIQUE (provider, provider_user_id)
	);

	CREATE TABLE IF NOT EXISTS api_keys (
		id VARCHAR(255) PRIMARY KEY,
		org_id VARCHAR(255) NOT NULL,
		name VARCHAR(255) NOT NULL,
		key_hash VARCHAR(255) NOT NULL,
		key_prefix VARCHAR(8) NOT NULL,
		scopes JSONB,
		rate_limit INTEGER NOT NULL DEFAULT 60,
		expires_at TIMESTAMPTZ,
		status VARCHAR(50) NOT NULL DEFAULT 'active',
		last_used_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_api_keys_prefix ON api_keys(key_prefix);
	CREATE INDEX IF NOT EXISTS idx_user_organizations_user ON user_organizations(user_id);
	`

	_, err := db.Exec(query)
	return err
}
