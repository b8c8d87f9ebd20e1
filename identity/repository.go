// Copyright 2026 Kaizen Studio
// SPDX-License-Identifier: BUSL-1.1

package identity

import (
	"context"
	"time"
)

// Repository defines the interface for identity data persistence
type Repository interface {
	// Organization operations
	CreateOrganization(ctx context.Context, org *Organization) error
	GetOrganization(ctx context.Context, id string) (*Organization, error)
	GetOrganizationBySlug(ctx context.Context, slug string) (*Organization, error)
	UpdateOrganizationStatus(ctx context.Context, id, status string) error

	// Domain operations
	CreateDomain(ctx context.Context, domain *OrganizationDomain) error
	FindVerifiedDomain(ctx context.Context, domain string) (*OrganizationDomain, error)
	ListDomains(ctx context.Context, orgID string) ([]OrganizationDomain, error)

	// User operations
	CreateUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	UpdateUserStatus(ctx context.Context, id, status string) error
	UpdateUserRole(ctx context.Context, id, orgID, role string) error

	// Membership operations
	CreateMembership(ctx context.Context, membership *UserOrganization) error
	GetMembership(ctx context.Context, userID, orgID string) (*UserOrganization, error)
	ListMemberships(ctx context.Context, userID string) ([]UserOrganization, error)

	// Invitation operations
	CreateInvitation(ctx context.Context, inv *Invitation) error
	GetInvitationByToken(ctx context.Context, token string) (*Invitation, error)
	// AcceptInvitation atomically flips a pending, unexpired invitation to
	// accepted. Returns ErrInvitationNotFound when the token is unknown,
	// already spent, or expired.
	AcceptInvitation(ctx context.Context, token string, now time.Time) (*Invitation, error)

	// SSO operations
	CreateSSOConnection(ctx context.Context, conn *SSOConnection) error
	ListSSOConnections(ctx context.Context, orgID string) ([]SSOConnection, error)
	GetDefaultSSOConnection(ctx context.Context, orgID string) (*SSOConnection, error)
	CreateUserIdentity(ctx context.Context, ident *UserIdentity) error
	GetUserIdentity(ctx context.Context, provider, providerUserID string) (*UserIdentity, error)

	// API key operations
	CreateAPIKey(ctx context.Context, key *APIKey) error
	GetAPIKey(ctx context.Context, id string) (*APIKey, error)
	GetAPIKeysByPrefix(ctx context.Context, prefix string) ([]APIKey, error)
	ListAPIKeys(ctx context.Context, orgID string) ([]APIKey, error)
	RevokeAPIKey(ctx context.Context, orgID, id string) error
	TouchAPIKey(ctx context.Context, id string, usedAt time.Time) error

	// Platform stats
	CountActiveUsers(ctx context.Context) (int64, error)
	CountPendingInvitations(ctx context.Context, now time.Time) (int64, error)

	// Utility
	Ping(ctx context.Context) error
}
