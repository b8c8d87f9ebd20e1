// Copyright 2026 Kaizen Studio
// SPDX-License-Identifier: BUSL-1.1

package identity

import "errors"

var (
	// ErrOrgNotFound is returned when an organization is not found
	ErrOrgNotFound = errors.New("organization not found")

	// ErrSlugTaken is returned when an organization slug already exists
	ErrSlugTaken = errors.New("organization slug already exists")

	// ErrInvalidSlug is returned for a slug outside [a-z0-9-]+
	ErrInvalidSlug = errors.New("invalid organization slug")

	// ErrUserNotFound is returned when a user is not found
	ErrUserNotFound = errors.New("user not found")

	// ErrEmailTaken is returned when an email is already registered
	ErrEmailTaken = errors.New("email already registered")

	// ErrInvalidCredentials is returned for a bad email/password pair
	ErrInvalidCredentials = errors.New("invalid email or password")

	// ErrUserSuspended is returned when a suspended or deleted user signs in
	ErrUserSuspended = errors.New("user account is suspended")

	// ErrInvitationNotFound is returned for an unknown or spent invitation token
	ErrInvitationNotFound = errors.New("invalid or expired invitation")

	// ErrInvitationExpired is returned when an invitation is past its TTL
	ErrInvitationExpired = errors.New("invalid or expired invitation")

	// ErrAPIKeyNotFound is returned when an API key does not exist
	ErrAPIKeyNotFound = errors.New("api key not found")

	// ErrAPIKeyInvalid is returned when key verification fails
	ErrAPIKeyInvalid = errors.New("invalid api key")

	// ErrAPIKeyRevoked is returned for a revoked key
	ErrAPIKeyRevoked = errors.New("api key revoked")

	// ErrAPIKeyExpired is returned for an expired key
	ErrAPIKeyExpired = errors.New("api key expired")

	// ErrSSOConnectionNotFound is returned when an SSO connection is missing
	ErrSSOConnectionNotFound = errors.New("sso connection not found")

	// ErrDefaultConnectionExists is returned when a second default SSO
	// connection would be created for one org
	ErrDefaultConnectionExists = errors.New("organization already has a default sso connection")

	// ErrTokenInvalid is returned when a JWT fails verification
	ErrTokenInvalid = errors.New("invalid token")

	// ErrTokenExpired is returned for an expired JWT
	ErrTokenExpired = errors.New("token expired")

	// ErrInvalidInput is returned for general invalid input
	ErrInvalidInput = errors.New("invalid input")
)
