// Copyright 2026 Kaizen Studio
// SPDX-License-Identifier: BUSL-1.1

// Package identity persists organizations, users, memberships, invitations,
// SSO connections, and API keys, and issues the tokens the gateway verifies.
package identity

import (
	"regexp"
	"time"
)

// Organization status values
const (
	OrgStatusActive    = "active"
	OrgStatusSuspended = "suspended"
	OrgStatusDeleted   = "deleted"
)

// Plan tiers
const (
	PlanFree       = "free"
	PlanPro        = "pro"
	PlanEnterprise = "enterprise"
)

// User status values
const (
	UserStatusActive    = "active"
	UserStatusInvited   = "invited"
	UserStatusSuspended = "suspended"
	UserStatusDeleted   = "deleted"
)

// Membership roles, strongest first
const (
	RoleOrgOwner    = "org_owner"
	RoleTenantAdmin = "tenant_admin"
	RoleOrgAdmin    = "org_admin"
	RoleDeveloper   = "developer"
	RoleViewer      = "viewer"
)

// JoinedVia values for UserOrganization
const (
	JoinedViaInvitation  = "invitation"
	JoinedViaSSO         = "sso"
	JoinedViaDomainMatch = "domain_match"
	JoinedViaCreated     = "created"
)

// Invitation status values
const (
	InvitationPending  = "pending"
	InvitationAccepted = "accepted"
	InvitationExpired  = "expired"
)

// API key status values
const (
	APIKeyActive  = "active"
	APIKeyRevoked = "revoked"
)

// APIKeyPrefixLive is the required prefix for live API keys. The stored
// key_prefix is the first 8 characters of the plaintext, which always
// includes this string.
const APIKeyPrefixLive = "sk_live_"

// SSO providers
const (
	ProviderAzure  = "azure"
	ProviderGoogle = "google"
	ProviderOkta   = "okta"
	ProviderAuth0  = "auth0"
	ProviderCustom = "custom"
)

var slugPattern = regexp.MustCompile(`^[a-z0-9-]+$`)

// ValidSlug reports whether s is a legal organization slug.
func ValidSlug(s string) bool {
	return s != "" && slugPattern.MatchString(s)
}

// Organization is a tenant. Deletion is soft: status flips to deleted and
// all reads filter on status.
type Organization struct {
	ID              string                 `json:"id"`
	Name            string                 `json:"name"`
	Slug            string                 `json:"slug"`
	Status          string                 `json:"status"`
	PlanTier        string                 `json:"plan_tier"`
	SSODomain       string                 `json:"sso_domain,omitempty"`
	AllowDomainJoin bool                   `json:"allow_domain_join"`
	Settings        map[string]interface{} `json:"settings,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
	UpdatedAt       time.Time              `json:"updated_at"`
}

// OrganizationDomain is a verified email domain for auto-join.
type OrganizationDomain struct {
	ID              string    `json:"id"`
	OrgID           string    `json:"org_id"`
	Domain          string    `json:"domain"`
	IsVerified      bool      `json:"is_verified"`
	AutoJoinEnabled bool      `json:"auto_join_enabled"`
	DefaultRole     string    `json:"default_role"`
	CreatedAt       time.Time `json:"created_at"`
}

// User is a globally unique identity scoped into orgs via UserOrganization.
// PasswordHash is empty for SSO-only users. OrgID and Role are the legacy
// single-org fields kept for stale-JWT detection.
type User struct {
	ID                    string    `json:"id"`
	OrgID                 string    `json:"org_id"`
	Email                 string    `json:"email"`
	Name                  string    `json:"name"`
	PasswordHash          string    `json:"-"`
	Status                string    `json:"status"`
	Role                  string    `json:"role"`
	MFAEnabled            bool      `json:"mfa_enabled"`
	IsSuperAdmin          bool      `json:"is_super_admin"`
	PrimaryOrganizationID string    `json:"primary_organization_id,omitempty"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// UserOrganization is a membership edge. Exactly one membership per user
// carries IsPrimary.
type UserOrganization struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	OrgID     string    `json:"org_id"`
	Role      string    `json:"role"`
	IsPrimary bool      `json:"is_primary"`
	JoinedVia string    `json:"joined_via"`
	CreatedAt time.Time `json:"created_at"`
}

// Invitation is a single-use, token-gated org join. The token is returned
// exactly once on create.
type Invitation struct {
	ID        string    `json:"id"`
	OrgID     string    `json:"org_id"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	InvitedBy string    `json:"invited_by"`
	Token     string    `json:"token,omitempty"`
	Status    string    `json:"status"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// SSOConnection is a per-org identity provider configuration. The client
// secret is stored encrypted and never returned by the API.
type SSOConnection struct {
	ID                    string    `json:"id"`
	OrgID                 string    `json:"org_id"`
	Provider              string    `json:"provider"`
	ClientID              string    `json:"client_id"`
	ClientSecretEncrypted string    `json:"-"`
	IsDefault             bool      `json:"is_default"`
	AutoProvision         bool      `json:"auto_provision"`
	DefaultRole           string    `json:"default_role"`
	AllowedDomains        []string  `json:"allowed_domains,omitempty"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// UserIdentity links a user to an external SSO identity.
type UserIdentity struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	Provider       string    `json:"provider"`
	ProviderUserID string    `json:"provider_user_id"`
	CreatedAt      time.Time `json:"created_at"`
}

// APIKey is a long-lived machine credential. The plaintext is returned
// exactly once on create; verification is prefix lookup plus bcrypt compare.
type APIKey struct {
	ID         string     `json:"id"`
	OrgID      string     `json:"org_id"`
	Name       string     `json:"name"`
	KeyHash    string     `json:"-"`
	KeyPrefix  string     `json:"key_prefix"`
	Scopes     []string   `json:"scopes"`
	RateLimit  int        `json:"rate_limit"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	Status     string     `json:"status"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Expired reports whether the key is past its expiry.
func (k *APIKey) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && now.After(*k.ExpiresAt)
}

// TokenPair is returned on register and login.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}
