// Copyright 2026 Kaizen Studio
// SPDX-License-Identifier: BUSL-1.1

package approval

import (
	"context"
	"time"

	"github.com/google/uuid"

	"kaizenstudio/platform/rbac"
	"kaizenstudio/platform/shared/logger"
)

// Notifier fans a lifecycle event out to configured channels. Delivery is
// best-effort; failures never block the approval lifecycle.
type Notifier interface {
	NotifyRequested(ctx context.Context, req *Request)
	NotifyDecided(ctx context.Context, req *Request)
}

// NopNotifier discards every event.
type NopNotifier struct{}

func (NopNotifier) NotifyRequested(context.Context, *Request) {}
func (NopNotifier) NotifyDecided(context.Context, *Request)   {}

// Service owns the approval lifecycle.
type Service struct {
	repo     Repository
	checker  *rbac.Checker
	notifier Notifier
	log      *logger.Logger
	ttl      time.Duration
}

// NewService creates an approval service.
func NewService(repo Repository, checker *rbac.Checker, notifier Notifier, log *logger.Logger) *Service {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Service{repo: repo, checker: checker, notifier: notifier, log: log, ttl: DefaultTTL}
}

// CreateInput carries the fields of a new approval request.
type CreateInput struct {
	ExternalAgentID string
	RequestedBy     string
	Trigger         string
	Reason          string
	EstimatedCost   float64
	RequestPayload  []byte
}

// Create opens a pending request and notifies approvers.
func (s *Service) Create(ctx context.Context, orgID string, in CreateInput) (*Request, error) {
	now := time.Now().UTC()
	req := &Request{
		ID:              uuid.NewString(),
		OrgID:           orgID,
		ExternalAgentID: in.ExternalAgentID,
		RequestedBy:     in.RequestedBy,
		Trigger:         in.Trigger,
		Reason:          in.Reason,
		EstimatedCost:   in.EstimatedCost,
		RequestPayload:  in.RequestPayload,
		Status:          StatusPending,
		ExpiresAt:       now.Add(s.ttl),
		CreatedAt:       now,
	}
	if err := s.repo.CreateRequest(ctx, req); err != nil {
		return nil, err
	}
	s.notifier.NotifyRequested(ctx, req)
	return req, nil
}

// Get returns one request.
func (s *Service) Get(ctx context.Context, orgID, id string) (*Request, error) {
	return s.repo.GetRequest(ctx, orgID, id)
}

// List returns the org's requests, optionally filtered by status.
func (s *Service) List(ctx context.Context, orgID, status string, limit int) ([]Request, error) {
	return s.repo.ListRequests(ctx, orgID, status, limit)
}

// Approve records an approve decision.
func (s *Service) Approve(ctx context.Context, orgID, id, approverID, approverRole, note string) (*Request, error) {
	return s.decide(ctx, orgID, id, StatusApproved, approverID, approverRole, note)
}

// Reject records a reject decision.
func (s *Service) Reject(ctx context.Context, orgID, id, approverID, approverRole, note string) (*Request, error) {
	return s.decide(ctx, orgID, id, StatusRejected, approverID, approverRole, note)
}

func (s *Service) decide(ctx context.Context, orgID, id, status, approverID, approverRole, note string) (*Request, error) {
	req, err := s.repo.GetRequest(ctx, orgID, id)
	if err != nil {
		return nil, err
	}

	if req.Terminal() {
		if req.Status == StatusExpired {
			return nil, ErrApprovalExpired
		}
		return nil, ErrAlreadyDecided
	}

	now := time.Now().UTC()
	if req.Expired(now) {
		// Persist the expiry lazily; the decision is still refused.
		if _, eerr := s.repo.ExpirePending(ctx, now); eerr != nil {
			s.log.Warn(orgID, "", "failed to expire approval requests",
				map[string]interface{}{"error": eerr.Error()})
		}
		return nil, ErrApprovalExpired
	}

	if approverID == req.RequestedBy {
		return nil, ErrSelfApprovalNotAllowed
	}
	if !s.checker.Has(approverRole, "approvals:decide") {
		return nil, ErrUnauthorizedApprover
	}

	decided, err := s.repo.Decide(ctx, orgID, id, status, approverID, note, now)
	if err != nil {
		return nil, err
	}
	s.notifier.NotifyDecided(ctx, decided)
	return decided, nil
}

// Consume validates that an approval id authorizes an invocation replay.
// Only the original requester may consume an approved request.
func (s *Service) Consume(ctx context.Context, orgID, id, requesterID string) (*Request, error) {
	req, err := s.repo.GetRequest(ctx, orgID, id)
	if err != nil {
		return nil, err
	}
	if req.Status != StatusApproved {
		if req.Status == StatusExpired || req.Expired(time.Now().UTC()) {
			return nil, ErrApprovalExpired
		}
		return nil, ErrNotApproved
	}
	if req.RequestedBy != requesterID {
		return nil, ErrUnauthorizedApprover
	}
	return req, nil
}

// ExpireLoop flips stale pending requests on an interval until the
// context ends. Run it from main.
func (s *Service) ExpireLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.repo.ExpirePending(ctx, time.Now().UTC())
			if err != nil {
				s.log.Warn("", "", "approval expiry sweep failed",
					map[string]interface{}{"error": err.Error()})
				continue
			}
			if n > 0 {
				s.log.Info("", "", "expired stale approval requests",
					map[string]interface{}{"count": n})
			}
		}
	}
}
