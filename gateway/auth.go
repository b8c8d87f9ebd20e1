// Copyright 2026 Kaizen Studio
// SPDX-License-Identifier: BUSL-1.1

package gateway

import (
	"net/http"
	"strings"

	"kaizenstudio/platform/identity"
	"kaizenstudio/platform/rbac"
	"kaizenstudio/platform/shared/logger"
	"kaizenstudio/platform/shared/principal"
)

// Authenticator resolves the request principal. The first matching
// credential wins; later checks are skipped once a principal is set.
type Authenticator struct {
	identity *identity.Service
	cfg      *Config
	log      *logger.Logger
}

// NewAuthenticator creates the authenticator middleware.
func NewAuthenticator(identitySvc *identity.Service, cfg *Config, log *logger.Logger) *Authenticator {
	return &Authenticator{identity: identitySvc, cfg: cfg, log: log}
}

// Middleware authenticates the request and stores the principal in the
// context. Requests without credentials proceed as anonymous; rejection
// is the authorization gate's job.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isExcluded(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		p := a.authenticate(r)
		next.ServeHTTP(w, r.WithContext(principal.WithPrincipal(r.Context(), p)))
	})
}

func (a *Authenticator) authenticate(r *http.Request) *principal.Principal {
	// 1. Test harness headers, refused in production.
	if !a.cfg.IsProduction() {
		if userID := r.Header.Get("X-User-ID"); userID != "" {
			role := r.Header.Get("X-Role")
			if role == "" {
				role = rbac.RoleOrgOwner
			}
			promAuthAttemptsTotal.WithLabelValues("test_header", "success").Inc()
			return &principal.Principal{
				UserID: userID,
				OrgID:  r.Header.Get("X-Org-ID"),
				Role:   role,
			}
		}
	}

	// 2. X-API-Key header.
	if key := r.Header.Get("X-API-Key"); strings.HasPrefix(key, identity.APIKeyPrefixLive) {
		return a.fromAPIKey(r, key)
	}

	// 3. Authorization bearer: an sk_live_ token is an API key, anything
	// else is treated as a JWT.
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		token := strings.TrimPrefix(auth, "Bearer ")
		if strings.HasPrefix(token, identity.APIKeyPrefixLive) {
			return a.fromAPIKey(r, token)
		}
		return a.fromJWT(r, token)
	}

	// 4. No credentials.
	return &principal.Principal{Anonymous: true}
}

func (a *Authenticator) fromAPIKey(r *http.Request, plaintext string) *principal.Principal {
	key, err := a.identity.VerifyAPIKey(r.Context(), plaintext)
	if err != nil {
		promAuthAttemptsTotal.WithLabelValues("api_key", "failure").Inc()
		return &principal.Principal{Anonymous: true}
	}
	promAuthAttemptsTotal.WithLabelValues("api_key", "success").Inc()
	return &principal.Principal{
		OrgID:     key.OrgID,
		APIKeyID:  key.ID,
		Scopes:    key.Scopes,
		RateLimit: key.RateLimit,
	}
}

// fromJWT verifies the signature, then re-reads role and org from the
// database. When the claims disagree, the database wins and the
// principal is flagged stale; claims never elevate.
func (a *Authenticator) fromJWT(r *http.Request, token string) *principal.Principal {
	claims, err := a.identity.Tokens().Verify(token)
	if err != nil {
		promAuthAttemptsTotal.WithLabelValues("jwt", "failure").Inc()
		return &principal.Principal{Anonymous: true}
	}

	user, err := a.identity.GetUser(r.Context(), claims.Subject)
	if err != nil || user.Status == identity.UserStatusDeleted {
		promAuthAttemptsTotal.WithLabelValues("jwt", "failure").Inc()
		return &principal.Principal{Anonymous: true}
	}

	stale := user.OrgID != claims.OrgID || user.Role != claims.Role
	if stale {
		a.log.Warn(user.OrgID, r.Header.Get("X-Request-ID"), "stale JWT claims, using database values", map[string]interface{}{
			"user_id":    user.ID,
			"claim_org":  claims.OrgID,
			"claim_role": claims.Role,
		})
	}

	promAuthAttemptsTotal.WithLabelValues("jwt", "success").Inc()
	return &principal.Principal{
		UserID:    user.ID,
		OrgID:     user.OrgID,
		Role:      user.Role,
		RoleStale: stale,
	}
}
