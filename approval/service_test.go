// Copyright 2026 Kaizen Studio
// SPDX-License-Identifier: BUSL-1.1

package approval

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kaizenstudio/platform/rbac"
	"kaizenstudio/platform/shared/logger"
)

type memRepo struct {
	mu       sync.Mutex
	requests map[string]*Request
}

func newMemRepo() *memRepo {
	return &memRepo{requests: make(map[string]*Request)}
}

func (m *memRepo) CreateRequest(_ context.Context, req *Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *req
	m.requests[req.ID] = &cp
	return nil
}

func (m *memRepo) GetRequest(_ context.Context, orgID, id string) (*Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[id]
	if !ok || req.OrgID != orgID {
		return nil, ErrApprovalNotFound
	}
	cp := *req
	return &cp, nil
}

func (m *memRepo) ListRequests(_ context.Context, orgID, status string, _ int) ([]Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Request
	for _, req := range m.requests {
		if req.OrgID == orgID && (status == "" || req.Status == status) {
			out = append(out, *req)
		}
	}
	return out, nil
}

func (m *memRepo) Decide(_ context.Context, orgID, id, status, decidedBy, note string, decidedAt time.Time) (*Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[id]
	if !ok || req.OrgID != orgID {
		return nil, ErrApprovalNotFound
	}
	if req.Status != StatusPending {
		return nil, ErrAlreadyDecided
	}
	req.Status = status
	req.DecidedBy = decidedBy
	req.DecisionNote = note
	req.DecidedAt = &decidedAt
	cp := *req
	return &cp, nil
}

func (m *memRepo) ExpirePending(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, req := range m.requests {
		if req.Status == StatusPending && req.ExpiresAt.Before(now) {
			req.Status = StatusExpired
			n++
		}
	}
	return n, nil
}

type recordingNotifier struct {
	mu        sync.Mutex
	requested int
	decided   int
}

func (n *recordingNotifier) NotifyRequested(context.Context, *Request) {
	n.mu.Lock()
	n.requested++
	n.mu.Unlock()
}

func (n *recordingNotifier) NotifyDecided(context.Context, *Request) {
	n.mu.Lock()
	n.decided++
	n.mu.Unlock()
}

func newTestService(repo Repository, notifier Notifier) *Service {
	return NewService(repo, rbac.NewChecker(), notifier, logger.New("approval-test"))
}

func pendingRequest(t *testing.T, svc *Service) *Request {
	t.Helper()
	req, err := svc.Create(context.Background(), "org-1", CreateInput{
		ExternalAgentID: "agent-1",
		RequestedBy:     "user-requester",
		Trigger:         TriggerCostThreshold,
		EstimatedCost:   5.00,
	})
	require.NoError(t, err)
	return req
}

func TestApproveHappyPath(t *testing.T) {
	notifier := &recordingNotifier{}
	svc := newTestService(newMemRepo(), notifier)
	req := pendingRequest(t, svc)

	decided, err := svc.Approve(context.Background(), "org-1", req.ID, "user-admin", rbac.RoleOrgAdmin, "lgtm")
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, decided.Status)
	assert.Equal(t, "user-admin", decided.DecidedBy)
	assert.NotNil(t, decided.DecidedAt)
	assert.Equal(t, 1, notifier.requested)
	assert.Equal(t, 1, notifier.decided)
}

func TestDecisionIsImmutable(t *testing.T) {
	svc := newTestService(newMemRepo(), nil)
	req := pendingRequest(t, svc)

	_, err := svc.Approve(context.Background(), "org-1", req.ID, "user-admin", rbac.RoleOrgAdmin, "")
	require.NoError(t, err)

	_, err = svc.Reject(context.Background(), "org-1", req.ID, "user-admin", rbac.RoleOrgAdmin, "")
	assert.ErrorIs(t, err, ErrAlreadyDecided)
}

func TestSelfApprovalRejected(t *testing.T) {
	svc := newTestService(newMemRepo(), nil)
	req := pendingRequest(t, svc)

	_, err := svc.Approve(context.Background(), "org-1", req.ID, "user-requester", rbac.RoleOrgAdmin, "")
	assert.ErrorIs(t, err, ErrSelfApprovalNotAllowed)
}

func TestUnauthorizedApproverRejected(t *testing.T) {
	svc := newTestService(newMemRepo(), nil)
	req := pendingRequest(t, svc)

	_, err := svc.Approve(context.Background(), "org-1", req.ID, "user-dev", rbac.RoleDeveloper, "")
	assert.ErrorIs(t, err, ErrUnauthorizedApprover)
}

func TestExpiredRequestCannotBeDecided(t *testing.T) {
	repo := newMemRepo()
	svc := newTestService(repo, nil)
	req := pendingRequest(t, svc)

	repo.mu.Lock()
	repo.requests[req.ID].ExpiresAt = time.Now().UTC().Add(-time.Hour)
	repo.mu.Unlock()

	_, err := svc.Approve(context.Background(), "org-1", req.ID, "user-admin", rbac.RoleOrgAdmin, "")
	assert.ErrorIs(t, err, ErrApprovalExpired)
}

func TestDecideUnknownRequest(t *testing.T) {
	svc := newTestService(newMemRepo(), nil)
	_, err := svc.Approve(context.Background(), "org-1", "nope", "user-admin", rbac.RoleOrgAdmin, "")
	assert.ErrorIs(t, err, ErrApprovalNotFound)
}

func TestConsumeRequiresApprovedStatusAndRequester(t *testing.T) {
	svc := newTestService(newMemRepo(), nil)
	ctx := context.Background()
	req := pendingRequest(t, svc)

	_, err := svc.Consume(ctx, "org-1", req.ID, "user-requester")
	assert.ErrorIs(t, err, ErrNotApproved)

	_, err = svc.Approve(ctx, "org-1", req.ID, "user-admin", rbac.RoleOrgAdmin, "")
	require.NoError(t, err)

	_, err = svc.Consume(ctx, "org-1", req.ID, "user-other")
	assert.ErrorIs(t, err, ErrUnauthorizedApprover)

	got, err := svc.Consume(ctx, "org-1", req.ID, "user-requester")
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, got.Status)
}
