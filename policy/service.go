// Copyright 2026 Kaizen Studio
// SPDX-License-Identifier: BUSL-1.1

package policy

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Service owns policy lifecycle and wraps the engine for enforcement.
type Service struct {
	repo   Repository
	engine *Engine
}

// NewService creates a policy service.
func NewService(repo Repository, engine *Engine) *Service {
	return &Service{repo: repo, engine: engine}
}

// Engine exposes the evaluation engine for the enforcement chain.
func (s *Service) Engine() *Engine {
	return s.engine
}

// CreateInput carries the writable policy fields.
type CreateInput struct {
	Name         string    `json:"name"`
	ResourceType string    `json:"resource_type"`
	Action       string    `json:"action"`
	Effect       string    `json:"effect"`
	Conditions   Condition `json:"conditions"`
	ResourceRefs []string  `json:"resource_refs"`
	Priority     int       `json:"priority"`
	Status       string    `json:"status"`
}

// Create validates and persists a new policy.
func (s *Service) Create(ctx context.Context, orgID string, in CreateInput) (*Policy, error) {
	now := time.Now().UTC()
	p := &Policy{
		ID:           uuid.NewString(),
		OrgID:        orgID,
		Name:         in.Name,
		ResourceType: in.ResourceType,
		Action:       in.Action,
		Effect:       in.Effect,
		Conditions:   in.Conditions,
		ResourceRefs: in.ResourceRefs,
		Priority:     in.Priority,
		Status:       in.Status,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if p.Status == "" {
		p.Status = StatusActive
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if err := s.repo.CreatePolicy(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Get returns one policy.
func (s *Service) Get(ctx context.Context, orgID, id string) (*Policy, error) {
	return s.repo.GetPolicy(ctx, orgID, id)
}

// List returns the org's policies, highest priority first.
func (s *Service) List(ctx context.Context, orgID string) ([]Policy, error) {
	return s.repo.ListPolicies(ctx, orgID)
}

// Update replaces the writable fields of a policy.
func (s *Service) Update(ctx context.Context, orgID, id string, in CreateInput) (*Policy, error) {
	p, err := s.repo.GetPolicy(ctx, orgID, id)
	if err != nil {
		return nil, err
	}
	p.Name = in.Name
	p.ResourceType = in.ResourceType
	p.Action = in.Action
	p.Effect = in.Effect
	p.Conditions = in.Conditions
	p.ResourceRefs = in.ResourceRefs
	p.Priority = in.Priority
	if in.Status != "" {
		p.Status = in.Status
	}
	p.UpdatedAt = time.Now().UTC()
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if err := s.repo.UpdatePolicy(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Delete removes a policy and its assignments.
func (s *Service) Delete(ctx context.Context, orgID, id string) error {
	return s.repo.DeletePolicy(ctx, orgID, id)
}

// Assign attaches a policy to a principal.
func (s *Service) Assign(ctx context.Context, orgID, policyID, principalType, principalID string) (*PolicyAssignment, error) {
	if principalType != PrincipalUser && principalType != PrincipalTeam && principalType != PrincipalRole {
		return nil, ErrInvalidPolicy
	}
	// Ownership check before writing the assignment.
	if _, err := s.repo.GetPolicy(ctx, orgID, policyID); err != nil {
		return nil, err
	}
	a := &PolicyAssignment{
		ID:            uuid.NewString(),
		PolicyID:      policyID,
		PrincipalType: principalType,
		PrincipalID:   principalID,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.repo.CreateAssignment(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// Assignments lists the assignments of a policy.
func (s *Service) Assignments(ctx context.Context, orgID, policyID string) ([]PolicyAssignment, error) {
	if _, err := s.repo.GetPolicy(ctx, orgID, policyID); err != nil {
		return nil, err
	}
	return s.repo.ListAssignments(ctx, policyID)
}

// Unassign removes one assignment.
func (s *Service) Unassign(ctx context.Context, orgID, policyID, assignmentID string) error {
	if _, err := s.repo.GetPolicy(ctx, orgID, policyID); err != nil {
		return err
	}
	return s.repo.DeleteAssignment(ctx, assignmentID)
}
