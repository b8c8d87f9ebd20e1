// Copyright 2026 Kaizen Studio
// SPDX-License-Identifier: BUSL-1.1

package identity

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AddDomain registers an email domain for an organization. Domains start
// unverified; verification (DNS, email, or manual) flips is_verified out
// of band, and only verified domains participate in auto-join.
func (s *Service) AddDomain(ctx context.Context, orgID, domain string, autoJoin bool, defaultRole string) (*OrganizationDomain, error) {
	domain = strings.ToLower(strings.TrimSpace(domain))
	if domain == "" || !strings.Contains(domain, ".") || strings.Contains(domain, "@") {
		return nil, ErrInvalidInput
	}
	switch defaultRole {
	case "":
		defaultRole = RoleViewer
	case RoleDeveloper, RoleViewer:
	default:
		return nil, ErrInvalidInput
	}

	d := &OrganizationDomain{
		ID:              uuid.NewString(),
		OrgID:           orgID,
		Domain:          domain,
		AutoJoinEnabled: autoJoin,
		DefaultRole:     defaultRole,
		CreatedAt:       time.Now().UTC(),
	}
	if err := s.repo.CreateDomain(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

// ListDomains lists an organization's registered domains.
func (s *Service) ListDomains(ctx context.Context, orgID string) ([]OrganizationDomain, error) {
	return s.repo.ListDomains(ctx, orgID)
}

// SSOConnectionInput carries the writable connection fields. The client
// secret arrives in plaintext and is encrypted before persistence.
type SSOConnectionInput struct {
	Provider       string   `json:"provider"`
	ClientID       string   `json:"client_id"`
	ClientSecret   string   `json:"client_secret"`
	IsDefault      bool     `json:"is_default"`
	AutoProvision  bool     `json:"auto_provision"`
	DefaultRole    string   `json:"default_role"`
	AllowedDomains []string `json:"allowed_domains,omitempty"`
}

// CreateSSOConnection configures an identity provider for an org. At most
// one connection per org may be the default.
func (s *Service) CreateSSOConnection(ctx context.Context, orgID string, in SSOConnectionInput) (*SSOConnection, error) {
	switch in.Provider {
	case ProviderAzure, ProviderGoogle, ProviderOkta, ProviderAuth0, ProviderCustom:
	default:
		return nil, ErrInvalidInput
	}
	if in.ClientID == "" || in.ClientSecret == "" {
		return nil, ErrInvalidInput
	}
	switch in.DefaultRole {
	case "":
		in.DefaultRole = RoleDeveloper
	case RoleTenantAdmin, RoleOrgAdmin, RoleDeveloper, RoleViewer:
	default:
		return nil, ErrInvalidInput
	}

	if in.IsDefault {
		existing, err := s.repo.GetDefaultSSOConnection(ctx, orgID)
		if err != nil && err != ErrSSOConnectionNotFound {
			return nil, err
		}
		if existing != nil {
			return nil, ErrDefaultConnectionExists
		}
	}

	encrypted, err := s.tokens.Keys().EncryptSecret(in.ClientSecret)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	conn := &SSOConnection{
		ID:                    uuid.NewString(),
		OrgID:                 orgID,
		Provider:              in.Provider,
		ClientID:              in.ClientID,
		ClientSecretEncrypted: encrypted,
		IsDefault:             in.IsDefault,
		AutoProvision:         in.AutoProvision,
		DefaultRole:           in.DefaultRole,
		AllowedDomains:        in.AllowedDomains,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if err := s.repo.CreateSSOConnection(ctx, conn); err != nil {
		return nil, err
	}
	return conn, nil
}

// ListSSOConnections lists an organization's SSO connections. Secrets are
// never included.
func (s *Service) ListSSOConnections(ctx context.Context, orgID string) ([]SSOConnection, error) {
	return s.repo.ListSSOConnections(ctx, orgID)
}

// SSOLoginInput is the identity asserted by the provider after the
// callback code exchange.
type SSOLoginInput struct {
	Provider       string
	ProviderUserID string
	Email          string
	Name           string
}

// LoginSSO resolves a provider-asserted identity to a local user. A known
// identity logs straight in. An unknown identity either links to the
// existing user with that email or, when the org's default connection
// auto-provisions, creates a passwordless user joined via sso.
func (s *Service) LoginSSO(ctx context.Context, orgID string, in SSOLoginInput) (*User, *TokenPair, error) {
	if in.Provider == "" || in.ProviderUserID == "" || in.Email == "" {
		return nil, nil, ErrInvalidInput
	}

	ident, err := s.repo.GetUserIdentity(ctx, in.Provider, in.ProviderUserID)
	if err == nil {
		user, err := s.repo.GetUser(ctx, ident.UserID)
		if err != nil {
			return nil, nil, err
		}
		return s.issueSSOPair(user)
	}
	if err != ErrUserNotFound {
		return nil, nil, err
	}

	conn, err := s.repo.GetDefaultSSOConnection(ctx, orgID)
	if err != nil {
		return nil, nil, err
	}
	if conn.Provider != in.Provider {
		return nil, nil, ErrInvalidCredentials
	}
	if !domainAllowed(conn.AllowedDomains, in.Email) {
		return nil, nil, ErrInvalidCredentials
	}

	now := time.Now().UTC()
	email := strings.ToLower(in.Email)

	user, err := s.repo.GetUserByEmail(ctx, email)
	if err == ErrUserNotFound {
		if !conn.AutoProvision {
			return nil, nil, ErrInvalidCredentials
		}
		user = &User{
			ID:                    uuid.NewString(),
			OrgID:                 orgID,
			Email:                 email,
			Name:                  in.Name,
			Status:                UserStatusActive,
			Role:                  conn.DefaultRole,
			PrimaryOrganizationID: orgID,
			CreatedAt:             now,
			UpdatedAt:             now,
		}
		if cerr := s.repo.CreateUser(ctx, user); cerr != nil {
			return nil, nil, cerr
		}
		membership := &UserOrganization{
			ID:        uuid.NewString(),
			UserID:    user.ID,
			OrgID:     orgID,
			Role:      conn.DefaultRole,
			IsPrimary: true,
			JoinedVia: JoinedViaSSO,
			CreatedAt: now,
		}
		if merr := s.repo.CreateMembership(ctx, membership); merr != nil {
			return nil, nil, merr
		}
	} else if err != nil {
		return nil, nil, err
	}

	if err := s.repo.CreateUserIdentity(ctx, &UserIdentity{
		ID:             uuid.NewString(),
		UserID:         user.ID,
		Provider:       in.Provider,
		ProviderUserID: in.ProviderUserID,
		CreatedAt:      now,
	}); err != nil {
		return nil, nil, err
	}

	return s.issueSSOPair(user)
}

func (s *Service) issueSSOPair(user *User) (*User, *TokenPair, error) {
	if user.Status != UserStatusActive {
		return nil, nil, ErrUserSuspended
	}
	pair, err := s.tokens.IssuePair(user)
	if err != nil {
		return nil, nil, err
	}
	return user, pair, nil
}

func domainAllowed(allowed []string, email string) bool {
	if len(allowed) == 0 {
		return true
	}
	at := strings.LastIndexByte(email, '@')
	if at < 0 {
		return false
	}
	domain := strings.ToLower(email[at+1:])
	for _, a := range allowed {
		if strings.ToLower(a) == domain {
			return true
		}
	}
	return false
}
