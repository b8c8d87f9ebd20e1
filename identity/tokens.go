// Copyright 2026 Kaizen Studio
// SPDX-License-Identifier: BUSL-1.1

package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"kaizenstudio/platform/shared/keystore"
)

// Token TTLs. The jti on the refresh token is the revocation key.
const (
	AccessTokenTTL  = 15 * time.Minute
	RefreshTokenTTL = 7 * 24 * time.Hour
)

// Claims are the custom JWT claims carried on access and refresh tokens.
// Role and OrgID are convenience claims only: the authenticator re-checks
// them against the database and never elevates from the token.
type Claims struct {
	OrgID     string `json:"org_id"`
	Role      string `json:"role"`
	TokenType string `json:"token_type"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and verifies RS256 tokens using the process keystore.
type TokenIssuer struct {
	keys *keystore.Keystore
}

// NewTokenIssuer creates a token issuer backed by the given keystore.
func NewTokenIssuer(keys *keystore.Keystore) *TokenIssuer {
	return &TokenIssuer{keys: keys}
}

// Keys exposes the backing keystore for secret encryption.
func (t *TokenIssuer) Keys() *keystore.Keystore {
	return t.keys
}

// IssuePair issues an access/refresh token pair for a user.
func (t *TokenIssuer) IssuePair(user *User) (*TokenPair, error) {
	access, err := t.issue(user, "access", AccessTokenTTL)
	if err != nil {
		return nil, err
	}
	refresh, err := t.issue(user, "refresh", RefreshTokenTTL)
	if err != nil {
		return nil, err
	}
	return &TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// IssueAccess issues a fresh access token, used by the refresh flow.
func (t *TokenIssuer) IssueAccess(user *User) (string, error) {
	return t.issue(user, "access", AccessTokenTTL)
}

func (t *TokenIssuer) issue(user *User, tokenType string, ttl time.Duration) (string, error) {
	key, err := t.keys.SigningKey()
	if err != nil {
		return "", err
	}

	now := time.Now().UTC()
	claims := Claims{
		OrgID:     user.OrgID,
		Role:      user.Role,
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Verify parses and verifies a token. The algorithm is pinned to RS256.
func (t *TokenIssuer) Verify(tokenString string) (*Claims, error) {
	key, err := t.keys.VerificationKey()
	if err != nil {
		return nil, err
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return key, nil
	}, jwt.WithValidMethods([]string{"RS256"}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}
	if !token.Valid {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

// VerifyRefresh verifies a refresh token specifically.
func (t *TokenIssuer) VerifyRefresh(tokenString string) (*Claims, error) {
	claims, err := t.Verify(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.TokenType != "refresh" {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}
