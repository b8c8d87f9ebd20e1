// Copyright 2026 Kaizen Studio
// SPDX-License-Identifier: BUSL-1.1

package identity

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// InvitationTTL is the default invitation validity window.
const InvitationTTL = 7 * 24 * time.Hour

// Service provides identity business logic on top of the repository.
type Service struct {
	repo   Repository
	tokens *TokenIssuer
}

// NewService creates a new identity service.
func NewService(repo Repository, tokens *TokenIssuer) *Service {
	return &Service{repo: repo, tokens: tokens}
}

// Tokens exposes the token issuer for the gateway authenticator.
func (s *Service) Tokens() *TokenIssuer {
	return s.tokens
}

// Repo exposes the repository for the gateway authenticator's user lookups.
func (s *Service) Repo() Repository {
	return s.repo
}

// RegisterInput is the input for self-service registration.
type RegisterInput struct {
	Email            string
	Password         string
	Name             string
	OrganizationName string
}

// Register creates an organization and its owner in one step. The first
// user of an organization is always org_owner.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*User, *Organization, *TokenPair, error) {
	if in.Email == "" || in.Password == "" || in.OrganizationName == "" {
		return nil, nil, nil, ErrInvalidInput
	}

	slug := Slugify(in.OrganizationName)
	if !ValidSlug(slug) {
		return nil, nil, nil, ErrInvalidSlug
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := time.Now().UTC()
	org := &Organization{
		ID:        uuid.NewString(),
		Name:      in.OrganizationName,
		Slug:      slug,
		Status:    OrgStatusActive,
		PlanTier:  PlanFree,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.CreateOrganization(ctx, org); err != nil {
		return nil, nil, nil, err
	}

	user := &User{
		ID:                    uuid.NewString(),
		OrgID:                 org.ID,
		Email:                 strings.ToLower(in.Email),
		Name:                  in.Name,
		PasswordHash:          string(hash),
		Status:                UserStatusActive,
		Role:                  RoleOrgOwner,
		PrimaryOrganizationID: org.ID,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if err := s.repo.CreateUser(ctx, user); err != nil {
		return nil, nil, nil, err
	}

	membership := &UserOrganization{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		OrgID:     org.ID,
		Role:      RoleOrgOwner,
		IsPrimary: true,
		JoinedVia: JoinedViaCreated,
		CreatedAt: now,
	}
	if err := s.repo.CreateMembership(ctx, membership); err != nil {
		return nil, nil, nil, err
	}

	// A verified auto-join domain also lands the user a membership in the
	// domain's organization. Failure here never fails the registration.
	if at := strings.LastIndexByte(user.Email, '@'); at >= 0 {
		if d, derr := s.repo.FindVerifiedDomain(ctx, user.Email[at+1:]); derr == nil && d != nil && d.AutoJoinEnabled && d.OrgID != org.ID {
			if merr := s.repo.CreateMembership(ctx, &UserOrganization{
				ID:        uuid.NewString(),
				UserID:    user.ID,
				OrgID:     d.OrgID,
				Role:      d.DefaultRole,
				JoinedVia: JoinedViaDomainMatch,
				CreatedAt: now,
			}); merr != nil {
				log.Printf("[identity] Failed to create domain-match membership: %v", merr)
			}
		}
	}

	pair, err := s.tokens.IssuePair(user)
	if err != nil {
		return nil, nil, nil, err
	}
	return user, org, pair, nil
}

// Login authenticates by email and password.
func (s *Service) Login(ctx context.Context, email, password string) (*User, *TokenPair, error) {
	user, err := s.repo.GetUserByEmail(ctx, strings.ToLower(email))
	if err != nil {
		// Burn a bcrypt comparison so response timing does not reveal
		// whether the email exists.
		_ = bcrypt.CompareHashAndPassword(
			[]byte("$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"),
			[]byte(password))
		return nil, nil, ErrInvalidCredentials
	}

	if user.Status == UserStatusSuspended || user.Status == UserStatusDeleted {
		return nil, nil, ErrUserSuspended
	}
	if user.PasswordHash == "" {
		return nil, nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, nil, ErrInvalidCredentials
	}

	pair, err := s.tokens.IssuePair(user)
	if err != nil {
		return nil, nil, err
	}
	return user, pair, nil
}

// Refresh exchanges a valid refresh token for a new access token. The
// access token is minted from current database state, not the old claims.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (string, error) {
	claims, err := s.tokens.VerifyRefresh(refreshToken)
	if err != nil {
		return "", err
	}

	user, err := s.repo.GetUser(ctx, claims.Subject)
	if err != nil {
		return "", ErrTokenInvalid
	}
	if user.Status == UserStatusDeleted || user.Status == UserStatusSuspended {
		return "", ErrTokenInvalid
	}

	return s.tokens.IssueAccess(user)
}

// Invite creates a pending invitation. The token is returned exactly once
// via the returned Invitation.
func (s *Service) Invite(ctx context.Context, orgID, email, role, invitedBy string) (*Invitation, error) {
	if email == "" || role == "" {
		return nil, ErrInvalidInput
	}

	token, err := generateToken(32)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	inv := &Invitation{
		ID:        uuid.NewString(),
		OrgID:     orgID,
		Email:     strings.ToLower(email),
		Role:      role,
		InvitedBy: invitedBy,
		Token:     token,
		Status:    InvitationPending,
		ExpiresAt: now.Add(InvitationTTL),
		CreatedAt: now,
	}
	if err := s.repo.CreateInvitation(ctx, inv); err != nil {
		return nil, err
	}
	return inv, nil
}

// AcceptInvitation redeems an invitation token, creating the user if
// necessary. The pending→accepted transition happens at most once.
func (s *Service) AcceptInvitation(ctx context.Context, token, name, password string) (*User, *TokenPair, error) {
	inv, err := s.repo.AcceptInvitation(ctx, token, time.Now().UTC())
	if err != nil {
		return nil, nil, err
	}

	now := time.Now().UTC()
	user, err := s.repo.GetUserByEmail(ctx, inv.Email)
	if err == ErrUserNotFound {
		hash, herr := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if herr != nil {
			return nil, nil, fmt.Errorf("failed to hash password: %w", herr)
		}
		user = &User{
			ID:                    uuid.NewString(),
			OrgID:                 inv.OrgID,
			Email:                 inv.Email,
			Name:                  name,
			PasswordHash:          string(hash),
			Status:                UserStatusActive,
			Role:                  inv.Role,
			PrimaryOrganizationID: inv.OrgID,
			CreatedAt:             now,
			UpdatedAt:             now,
		}
		if cerr := s.repo.CreateUser(ctx, user); cerr != nil {
			return nil, nil, cerr
		}
	} else if err != nil {
		return nil, nil, err
	}

	// First membership is primary.
	memberships, err := s.repo.ListMemberships(ctx, user.ID)
	if err != nil {
		return nil, nil, err
	}
	membership := &UserOrganization{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		OrgID:     inv.OrgID,
		Role:      inv.Role,
		IsPrimary: len(memberships) == 0,
		JoinedVia: JoinedViaInvitation,
		CreatedAt: now,
	}
	if err := s.repo.CreateMembership(ctx, membership); err != nil {
		return nil, nil, err
	}

	pair, err := s.tokens.IssuePair(user)
	if err != nil {
		return nil, nil, err
	}
	return user, pair, nil
}

// CreateAPIKey mints a new API key. The plaintext is returned only here.
func (s *Service) CreateAPIKey(ctx context.Context, orgID, name string, scopes []string, rateLimit int, expiresAt *time.Time) (*APIKey, string, error) {
	if name == "" {
		return nil, "", ErrInvalidInput
	}
	if rateLimit <= 0 {
		rateLimit = 60
	}

	random, err := generateToken(24)
	if err != nil {
		return nil, "", err
	}
	plaintext := APIKeyPrefixLive + random

	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", fmt.Errorf("failed to hash api key: %w", err)
	}

	key := &APIKey{
		ID:        uuid.NewString(),
		OrgID:     orgID,
		Name:      name,
		KeyHash:   string(hash),
		KeyPrefix: plaintext[:8],
		Scopes:    scopes,
		RateLimit: rateLimit,
		ExpiresAt: expiresAt,
		Status:    APIKeyActive,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.repo.CreateAPIKey(ctx, key); err != nil {
		return nil, "", err
	}
	return key, plaintext, nil
}

// VerifyAPIKey authenticates a plaintext API key: prefix lookup, then
// bcrypt compare against each candidate, then status and expiry checks.
// On success the last_used_at update is fired on a detached goroutine.
func (s *Service) VerifyAPIKey(ctx context.Context, plaintext string) (*APIKey, error) {
	if len(plaintext) < 8 || !strings.HasPrefix(plaintext, APIKeyPrefixLive) {
		return nil, ErrAPIKeyInvalid
	}

	candidates, err := s.repo.GetAPIKeysByPrefix(ctx, plaintext[:8])
	if err != nil {
		return nil, err
	}

	for i := range candidates {
		key := &candidates[i]
		if bcrypt.CompareHashAndPassword([]byte(key.KeyHash), []byte(plaintext)) != nil {
			continue
		}
		// Constant-time prefix re-check; bcrypt already dominates timing
		// but this keeps the comparison uniform.
		if subtle.ConstantTimeCompare([]byte(key.KeyPrefix), []byte(plaintext[:8])) != 1 {
			continue
		}
		if key.Status != APIKeyActive {
			return nil, ErrAPIKeyRevoked
		}
		if key.Expired(time.Now().UTC()) {
			return nil, ErrAPIKeyExpired
		}

		go func(id string) {
			touchCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := s.repo.TouchAPIKey(touchCtx, id, time.Now().UTC()); err != nil {
				log.Printf("[identity] Failed to update api key last_used_at: %v", err)
			}
		}(key.ID)

		return key, nil
	}

	return nil, ErrAPIKeyInvalid
}

// GetUser loads a user by ID.
func (s *Service) GetUser(ctx context.Context, id string) (*User, error) {
	return s.repo.GetUser(ctx, id)
}

// ListAPIKeys lists keys for an organization.
func (s *Service) ListAPIKeys(ctx context.Context, orgID string) ([]APIKey, error) {
	return s.repo.ListAPIKeys(ctx, orgID)
}

// PlatformStats returns the counts the metrics collector exports.
func (s *Service) PlatformStats(ctx context.Context) (activeUsers, pendingInvitations int64, err error) {
	activeUsers, err = s.repo.CountActiveUsers(ctx)
	if err != nil {
		return 0, 0, err
	}
	pendingInvitations, err = s.repo.CountPendingInvitations(ctx, time.Now().UTC())
	if err != nil {
		return 0, 0, err
	}
	return activeUsers, pendingInvitations, nil
}

// RevokeAPIKey revokes a key belonging to the organization. Keys of
// other organizations are reported as not found.
func (s *Service) RevokeAPIKey(ctx context.Context, orgID, id string) error {
	return s.repo.RevokeAPIKey(ctx, orgID, id)
}

// Slugify lowercases a name and collapses non [a-z0-9] runs into hyphens.
func Slugify(name string) string {
	var b strings.Builder
	lastHyphen := true
	for _, r := range strings.ToLower(name) {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}

// generateToken returns n bytes of URL-safe randomness.
func generateToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
