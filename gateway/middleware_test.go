// Copyright 2026 Kaizen Studio
// SPDX-License-Identifier: BUSL-1.1

package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kaizenstudio/platform/audit"
	"kaizenstudio/platform/rbac"
	"kaizenstudio/platform/shared/logger"
	"kaizenstudio/platform/shared/principal"
)

func TestResourceFromPath(t *testing.T) {
	cases := []struct {
		path         string
		resourceType string
		resourceID   string
	}{
		{"/api/v1/policies", "policies", ""},
		{"/api/v1/policies/p-1", "policies", "p-1"},
		{"/api/v1/external-agents/a-1/invoke", "external-agents", "a-1"},
		{"/health", "", ""},
	}
	for _, c := range cases {
		rt, id := resourceFromPath(c.path)
		assert.Equal(t, c.resourceType, rt, c.path)
		assert.Equal(t, c.resourceID, id, c.path)
	}
}

func TestPermissionFor(t *testing.T) {
	cases := []struct {
		method string
		path   string
		want   string
	}{
		{http.MethodGet, "/api/v1/policies", "policies:read"},
		{http.MethodPost, "/api/v1/policies", "policies:create"},
		{http.MethodPut, "/api/v1/budgets/b-1", "budgets:update"},
		{http.MethodDelete, "/api/v1/webhooks/w-1", "webhooks:delete"},
		{http.MethodPost, "/api/v1/external-agents/a-1/invoke", "external_agents:invoke"},
		{http.MethodPost, "/api/v1/approvals/r-1/approve", "approvals:decide"},
		{http.MethodGet, "/api/v1/audit/logs", "audit:read"},
	}
	for _, c := range cases {
		req := httptest.NewRequest(c.method, c.path, nil)
		assert.Equal(t, c.want, permissionFor(req), c.method+" "+c.path)
	}
}

func gateRequest(t *testing.T, p *principal.Principal, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	h := RBACGate(rbac.NewChecker())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(method, path, nil)
	if p != nil {
		req = req.WithContext(principal.WithPrincipal(req.Context(), p))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRBACGateAnonymousUnauthorized(t *testing.T) {
	rec := gateRequest(t, nil, http.MethodGet, "/api/v1/policies")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "UNAUTHORIZED")
}

func TestRBACGateViewerCannotCreate(t *testing.T) {
	viewer := &principal.Principal{UserID: "u-1", OrgID: "org-1", Role: rbac.RoleViewer}

	rec := gateRequest(t, viewer, http.MethodGet, "/api/v1/budgets")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = gateRequest(t, viewer, http.MethodPost, "/api/v1/policies")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "policies:create")
}

func TestRBACGateAdminWildcard(t *testing.T) {
	admin := &principal.Principal{UserID: "u-1", OrgID: "org-1", Role: rbac.RoleOrgAdmin}

	rec := gateRequest(t, admin, http.MethodPost, "/api/v1/policies")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = gateRequest(t, admin, http.MethodGet, "/api/v1/audit/logs")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRBACGateViewerCannotReadAudit(t *testing.T) {
	viewer := &principal.Principal{UserID: "u-1", OrgID: "org-1", Role: rbac.RoleViewer}
	rec := gateRequest(t, viewer, http.MethodGet, "/api/v1/audit/logs")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRBACGateAPIKeyScopes(t *testing.T) {
	scoped := &principal.Principal{OrgID: "org-1", APIKeyID: "key-1", Scopes: []string{"external_agents:invoke"}}

	rec := gateRequest(t, scoped, http.MethodPost, "/api/v1/external-agents/a-1/invoke")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = gateRequest(t, scoped, http.MethodPost, "/api/v1/policies")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	wildcard := &principal.Principal{OrgID: "org-1", APIKeyID: "key-2", Scopes: []string{"*"}}
	rec = gateRequest(t, wildcard, http.MethodPost, "/api/v1/policies")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRBACGateSkipsExcludedPaths(t *testing.T) {
	rec := gateRequest(t, nil, http.MethodPost, "/api/v1/auth/login")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestExtractExternalIdentity(t *testing.T) {
	var got *principal.ExternalIdentity
	h := ExtractExternalIdentity(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		got = principal.ExternalIdentityFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/external-agents/a-1/invoke", nil)
	req.Header.Set("X-External-User-ID", "ext-u-1")
	req.Header.Set("X-External-System", "helpdesk")
	req.Header.Set("X-External-Session-ID", "sess-9")
	h.ServeHTTP(httptest.NewRecorder(), req)

	require.NotNil(t, got)
	assert.Equal(t, "ext-u-1", got.UserID)
	assert.Equal(t, "helpdesk", got.System)
	assert.Equal(t, "sess-9", got.SessionID)

	got = nil
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/policies", nil))
	assert.Nil(t, got)
}

type captureSink struct {
	mu      sync.Mutex
	entries []*audit.Entry
}

func (s *captureSink) InsertBatch(_ context.Context, entries []*audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entries...)
	return nil
}

func (s *captureSink) all() []*audit.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*audit.Entry(nil), s.entries...)
}

func TestAuditTapRecordsStateChanges(t *testing.T) {
	sink := &captureSink{}
	writer := audit.NewWriter(sink, logger.New("gateway-test"))

	h := AuditTap(writer)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	p := &principal.Principal{UserID: "u-1", OrgID: "org-1", Role: rbac.RoleOrgAdmin}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/policies/p-1?dry_run=1", nil)
	req.Header.Set("User-Agent", "test-agent")
	req.Header.Set("X-Forwarded-For", "198.51.100.4, 10.0.0.1")
	req = req.WithContext(principal.WithPrincipal(req.Context(), p))
	h.ServeHTTP(httptest.NewRecorder(), req)

	writer.Close()
	entries := sink.all()
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, "create", e.Action)
	assert.Equal(t, "policies", e.ResourceType)
	assert.Equal(t, "p-1", e.ResourceID)
	assert.Equal(t, "org-1", e.OrgID)
	assert.Equal(t, "198.51.100.4", e.IPAddress)
	assert.Equal(t, "test-agent", e.UserAgent)
	assert.Equal(t, audit.StatusSuccess, e.Status)
	assert.Equal(t, http.StatusCreated, e.Details["status_code"])
}

func TestAuditTapSkipsReadsAndAnonymous(t *testing.T) {
	sink := &captureSink{}
	writer := audit.NewWriter(sink, logger.New("gateway-test"))

	h := AuditTap(writer)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// Read: never audited.
	p := &principal.Principal{UserID: "u-1", OrgID: "org-1"}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/policies", nil)
	req = req.WithContext(principal.WithPrincipal(req.Context(), p))
	h.ServeHTTP(httptest.NewRecorder(), req)

	// Anonymous write: never audited.
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/v1/policies", nil))

	writer.Close()
	assert.Empty(t, sink.all())
}

func TestAuditTapMarksFailures(t *testing.T) {
	sink := &captureSink{}
	writer := audit.NewWriter(sink, logger.New("gateway-test"))

	h := AuditTap(writer)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))

	p := &principal.Principal{UserID: "u-1", OrgID: "org-1"}
	req := httptest.NewRequest(http.MethodDelete, "/api/v1/webhooks/w-1", nil)
	req = req.WithContext(principal.WithPrincipal(req.Context(), p))
	h.ServeHTTP(httptest.NewRecorder(), req)

	writer.Close()
	entries := sink.all()
	require.Len(t, entries, 1)
	assert.Equal(t, audit.StatusFailure, entries[0].Status)
	assert.Equal(t, "delete", entries[0].Action)
}

func TestErrorBoundaryRecoversPanics(t *testing.T) {
	h := ErrorBoundary(logger.New("gateway-test"))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/policies", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "INTERNAL_ERROR")
}

func TestRequestIDGeneratedAndEchoed(t *testing.T) {
	var fromCtx string
	h := RequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		fromCtx = principal.RequestIDFromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.Equal(t, rec.Header().Get("X-Request-ID"), fromCtx)

	// A caller-provided id is preserved.
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:1234"
	assert.Equal(t, "192.0.2.1", ClientIP(req))

	req.Header.Set("X-Forwarded-For", "198.51.100.9, 10.1.1.1")
	assert.Equal(t, "198.51.100.9", ClientIP(req))
}
