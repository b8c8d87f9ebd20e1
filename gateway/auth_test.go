// Copyright 2026 Kaizen Studio
// SPDX-License-Identifier: BUSL-1.1

package gateway

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kaizenstudio/platform/identity"
	"kaizenstudio/platform/rbac"
	"kaizenstudio/platform/shared/keystore"
	"kaizenstudio/platform/shared/logger"
	"kaizenstudio/platform/shared/principal"
)

// fakeIdentityRepo implements the identity methods the authenticator
// touches; everything else panics through the embedded nil interface.
type fakeIdentityRepo struct {
	identity.Repository
	mu      sync.Mutex
	users   map[string]*identity.User
	apiKeys map[string][]identity.APIKey
}

func newFakeIdentityRepo() *fakeIdentityRepo {
	return &fakeIdentityRepo{
		users:   make(map[string]*identity.User),
		apiKeys: make(map[string][]identity.APIKey),
	}
}

func (f *fakeIdentityRepo) GetUser(_ context.Context, id string) (*identity.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[id]
	if !ok {
		return nil, identity.ErrUserNotFound
	}
	cp := *user
	return &cp, nil
}

func (f *fakeIdentityRepo) CreateAPIKey(_ context.Context, key *identity.APIKey) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.apiKeys[key.KeyPrefix] = append(f.apiKeys[key.KeyPrefix], *key)
	return nil
}

func (f *fakeIdentityRepo) GetAPIKeysByPrefix(_ context.Context, prefix string) ([]identity.APIKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]identity.APIKey(nil), f.apiKeys[prefix]...), nil
}

func (f *fakeIdentityRepo) TouchAPIKey(context.Context, string, time.Time) error { return nil }

func authKeystore(t *testing.T) *keystore.Keystore {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	privPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(priv),
	})
	keys, err := keystore.New(privPEM, nil, "secret-key", "credential-key")
	require.NoError(t, err)
	return keys
}

type authFixture struct {
	auth *Authenticator
	repo *fakeIdentityRepo
	svc  *identity.Service
}

func newAuthFixture(t *testing.T, env string) *authFixture {
	t.Helper()
	repo := newFakeIdentityRepo()
	svc := identity.NewService(repo, identity.NewTokenIssuer(authKeystore(t)))
	cfg := &Config{Environment: env}
	return &authFixture{
		auth: NewAuthenticator(svc, cfg, logger.New("gateway-test")),
		repo: repo,
		svc:  svc,
	}
}

// principalFor runs the middleware and captures the resolved principal.
func (f *authFixture) principalFor(req *http.Request) *principal.Principal {
	var got *principal.Principal
	h := f.auth.Middleware(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		got = principal.FromContext(r.Context())
	}))
	h.ServeHTTP(httptest.NewRecorder(), req)
	return got
}

func TestAuthenticateTestHeadersInDevelopment(t *testing.T) {
	f := newAuthFixture(t, EnvDevelopment)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/policies", nil)
	req.Header.Set("X-User-ID", "u-1")
	req.Header.Set("X-Org-ID", "org-1")

	p := f.principalFor(req)
	require.NotNil(t, p)
	assert.Equal(t, "u-1", p.UserID)
	assert.Equal(t, "org-1", p.OrgID)
	assert.Equal(t, rbac.RoleOrgOwner, p.Role)
	assert.False(t, p.Anonymous)
}

func TestAuthenticateTestHeadersRefusedInProduction(t *testing.T) {
	f := newAuthFixture(t, EnvProduction)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/policies", nil)
	req.Header.Set("X-User-ID", "u-1")

	p := f.principalFor(req)
	assert.True(t, p.Anonymous)
}

func TestAuthenticateAPIKeyHeader(t *testing.T) {
	f := newAuthFixture(t, EnvProduction)

	key, plaintext, err := f.svc.CreateAPIKey(context.Background(), "org-1", "ci", []string{"*"}, 500, nil)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/policies", nil)
	req.Header.Set("X-API-Key", plaintext)

	p := f.principalFor(req)
	assert.Equal(t, key.ID, p.APIKeyID)
	assert.Equal(t, "org-1", p.OrgID)
	assert.Equal(t, 500, p.RateLimit)
	assert.True(t, p.IsAPIKey())
}

func TestAuthenticateBearerAPIKey(t *testing.T) {
	f := newAuthFixture(t, EnvProduction)

	key, plaintext, err := f.svc.CreateAPIKey(context.Background(), "org-1", "ci", nil, 60, nil)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/policies", nil)
	req.Header.Set("Authorization", "Bearer "+plaintext)

	p := f.principalFor(req)
	assert.Equal(t, key.ID, p.APIKeyID)
}

func TestAuthenticateJWT(t *testing.T) {
	f := newAuthFixture(t, EnvProduction)

	user := &identity.User{
		ID:     "u-1",
		OrgID:  "org-1",
		Email:  "dev@example.com",
		Role:   identity.RoleDeveloper,
		Status: identity.UserStatusActive,
	}
	f.repo.users[user.ID] = user
	pair, err := f.svc.Tokens().IssuePair(user)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/policies", nil)
	req.Header.Set("Authorization", "Bearer "+pair.AccessToken)

	p := f.principalFor(req)
	assert.Equal(t, "u-1", p.UserID)
	assert.Equal(t, identity.RoleDeveloper, p.Role)
	assert.False(t, p.RoleStale)
}

func TestAuthenticateStaleJWTUsesDatabaseValues(t *testing.T) {
	f := newAuthFixture(t, EnvProduction)

	user := &identity.User{
		ID:     "u-1",
		OrgID:  "org-1",
		Role:   identity.RoleOrgOwner,
		Status: identity.UserStatusActive,
	}
	f.repo.users[user.ID] = user
	pair, err := f.svc.Tokens().IssuePair(user)
	require.NoError(t, err)

	// Demote after issuing; the token still claims org_owner.
	f.repo.users[user.ID].Role = identity.RoleViewer

	req := httptest.NewRequest(http.MethodGet, "/api/v1/policies", nil)
	req.Header.Set("Authorization", "Bearer "+pair.AccessToken)

	p := f.principalFor(req)
	assert.Equal(t, identity.RoleViewer, p.Role)
	assert.True(t, p.RoleStale)
}

func TestAuthenticateDeletedUserIsAnonymous(t *testing.T) {
	f := newAuthFixture(t, EnvProduction)

	user := &identity.User{
		ID:     "u-1",
		OrgID:  "org-1",
		Role:   identity.RoleDeveloper,
		Status: identity.UserStatusActive,
	}
	f.repo.users[user.ID] = user
	pair, err := f.svc.Tokens().IssuePair(user)
	require.NoError(t, err)

	f.repo.users[user.ID].Status = identity.UserStatusDeleted

	req := httptest.NewRequest(http.MethodGet, "/api/v1/policies", nil)
	req.Header.Set("Authorization", "Bearer "+pair.AccessToken)

	p := f.principalFor(req)
	assert.True(t, p.Anonymous)
}

func TestAuthenticateGarbageBearerIsAnonymous(t *testing.T) {
	f := newAuthFixture(t, EnvProduction)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/policies", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")

	p := f.principalFor(req)
	assert.True(t, p.Anonymous)
}

func TestAuthenticateExcludedPathSkipsLookup(t *testing.T) {
	f := newAuthFixture(t, EnvProduction)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Authorization", "Bearer whatever")

	p := f.principalFor(req)
	// Middleware never set a principal; context falls back to anonymous.
	assert.True(t, p.Anonymous)
}
