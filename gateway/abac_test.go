// Copyright 2026 Kaizen Studio
// SPDX-License-Identifier: BUSL-1.1

package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kaizenstudio/platform/policy"
	"kaizenstudio/platform/rbac"
	"kaizenstudio/platform/shared/logger"
	"kaizenstudio/platform/shared/principal"
)

// stubPolicyRepo serves a fixed policy set; the embedded interface
// panics on anything the engine doesn't call.
type stubPolicyRepo struct {
	policy.Repository
	policies []policy.Policy
	err      error
}

func (s *stubPolicyRepo) GetApplicablePolicies(context.Context, string, string, string, policy.PrincipalRef) ([]policy.Policy, error) {
	return s.policies, s.err
}

func denyViewerPolicy(t *testing.T) policy.Policy {
	t.Helper()
	var cond policy.Condition
	require.NoError(t, json.Unmarshal([]byte(`{"field":"subject.role","op":"eq","value":"viewer"}`), &cond))
	return policy.Policy{
		ID:         "p-deny-viewer",
		Name:       "deny viewers",
		Effect:     policy.EffectDeny,
		Conditions: cond,
		Status:     policy.StatusActive,
	}
}

func abacRequest(t *testing.T, repo *stubPolicyRepo, p *principal.Principal) *httptest.ResponseRecorder {
	t.Helper()
	engine := policy.NewEngine(repo, logger.New("gateway-test"))
	h := ABACGate(engine)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/policies", nil)
	if p != nil {
		req = req.WithContext(principal.WithPrincipal(req.Context(), p))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestABACGateDenyByPolicy(t *testing.T) {
	repo := &stubPolicyRepo{policies: []policy.Policy{denyViewerPolicy(t)}}
	viewer := &principal.Principal{UserID: "u-1", OrgID: "org-1", Role: rbac.RoleViewer}

	rec := abacRequest(t, repo, viewer)
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "by_policy")
	assert.Contains(t, rec.Body.String(), "p-deny-viewer")
}

func TestABACGateNotApplicablePasses(t *testing.T) {
	repo := &stubPolicyRepo{policies: []policy.Policy{denyViewerPolicy(t)}}
	admin := &principal.Principal{UserID: "u-1", OrgID: "org-1", Role: rbac.RoleOrgAdmin}

	rec := abacRequest(t, repo, admin)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestABACGateFailsClosedOnEngineError(t *testing.T) {
	repo := &stubPolicyRepo{err: assert.AnError}
	admin := &principal.Principal{UserID: "u-1", OrgID: "org-1", Role: rbac.RoleOrgAdmin}

	rec := abacRequest(t, repo, admin)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

// recordingPolicyRepo captures the lookup key the gate evaluates with.
type recordingPolicyRepo struct {
	policy.Repository
	resourceType string
	action       string
	policies     []policy.Policy
}

func (s *recordingPolicyRepo) GetApplicablePolicies(_ context.Context, _, resourceType, action string, _ policy.PrincipalRef) ([]policy.Policy, error) {
	s.resourceType = resourceType
	s.action = action
	return s.policies, nil
}

func TestABACGateInvokeUsesSingularResourceType(t *testing.T) {
	var cond policy.Condition
	require.NoError(t, json.Unmarshal([]byte(`{"field":"subject.role","op":"eq","value":"developer"}`), &cond))
	repo := &recordingPolicyRepo{policies: []policy.Policy{{
		ID:         "p-deny-invoke",
		Name:       "deny developer invokes",
		Effect:     policy.EffectDeny,
		Conditions: cond,
		Status:     policy.StatusActive,
	}}}
	engine := policy.NewEngine(repo, logger.New("gateway-test"))
	h := ABACGate(engine)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/external-agents/agent-1/invoke", nil)
	dev := &principal.Principal{UserID: "u-1", OrgID: "org-1", Role: rbac.RoleDeveloper}
	req = req.WithContext(principal.WithPrincipal(req.Context(), dev))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "external_agent", repo.resourceType)
	assert.Equal(t, "invoke", repo.action)
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "p-deny-invoke")
}

func TestABACGateSkipsAnonymous(t *testing.T) {
	repo := &stubPolicyRepo{err: assert.AnError}
	rec := abacRequest(t, repo, nil)
	// Anonymous callers are the RBAC gate's problem; ABAC passes through.
	assert.Equal(t, http.StatusOK, rec.Code)
}
