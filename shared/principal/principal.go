// Copyright 2026 Kaizen Studio
// SPDX-License-Identifier: BUSL-1.1

// Package principal carries the authenticated caller and the external
// identity chain through the request context. The gateway writes these
// values; every downstream handler reads them.
package principal

import "context"

// Principal is the authenticated caller plus organizational context.
// A zero Principal with Anonymous=true means no credentials were presented.
type Principal struct {
	UserID    string   `json:"user_id,omitempty"`
	OrgID     string   `json:"org_id,omitempty"`
	Role      string   `json:"role,omitempty"`
	APIKeyID  string   `json:"api_key_id,omitempty"`
	Scopes    []string `json:"scopes,omitempty"`
	RateLimit int      `json:"rate_limit,omitempty"`
	// RoleStale is set when a valid-signature JWT carried role/org claims
	// that disagree with the database. The database values win.
	RoleStale bool `json:"role_stale,omitempty"`
	Anonymous bool `json:"anonymous,omitempty"`
}

// IsAPIKey reports whether the caller authenticated with an API key.
func (p *Principal) IsAPIKey() bool {
	return p != nil && p.APIKeyID != ""
}

// HasScope reports whether an API-key principal carries the given scope.
// User principals pass scope checks; scopes bind API keys only.
func (p *Principal) HasScope(scope string) bool {
	if p == nil {
		return false
	}
	if !p.IsAPIKey() {
		return true
	}
	for _, s := range p.Scopes {
		if s == scope || s == "*" {
			return true
		}
	}
	return false
}

// Key identifies the principal for rate limiting.
func (p *Principal) Key() string {
	switch {
	case p == nil || p.Anonymous:
		return ""
	case p.APIKeyID != "":
		return "key:" + p.APIKeyID
	default:
		return "user:" + p.UserID
	}
}

// ExternalIdentity is the Layer 1-2 identity captured from X-External-*
// headers on invocation endpoints.
type ExternalIdentity struct {
	UserID    string `json:"external_user_id,omitempty"`
	UserEmail string `json:"external_user_email,omitempty"`
	UserName  string `json:"external_user_name,omitempty"`
	System    string `json:"external_system,omitempty"`
	SessionID string `json:"external_session_id,omitempty"`
	TraceID   string `json:"external_trace_id,omitempty"`
	Context   string `json:"external_context,omitempty"`
}

type contextKey int

const (
	principalKey contextKey = iota
	externalIdentityKey
	requestIDKey
)

// WithPrincipal returns a context carrying the principal.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// FromContext extracts the principal. Returns an anonymous principal when
// none was set.
func FromContext(ctx context.Context) *Principal {
	if p, ok := ctx.Value(principalKey).(*Principal); ok && p != nil {
		return p
	}
	return &Principal{Anonymous: true}
}

// WithExternalIdentity returns a context carrying the external identity.
func WithExternalIdentity(ctx context.Context, id *ExternalIdentity) context.Context {
	return context.WithValue(ctx, externalIdentityKey, id)
}

// ExternalIdentityFromContext extracts the external identity, or nil.
func ExternalIdentityFromContext(ctx context.Context) *ExternalIdentity {
	if id, ok := ctx.Value(externalIdentityKey).(*ExternalIdentity); ok {
		return id
	}
	return nil
}

// WithRequestID returns a context carrying the request correlation id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext extracts the request id, or "".
func RequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}
