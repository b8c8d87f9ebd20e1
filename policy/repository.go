// Copyright 2026 Kaizen Studio
// SPDX-License-Identifier: BUSL-1.1

package policy

import "context"

// Repository defines the interface for policy persistence
type Repository interface {
	CreatePolicy(ctx context.Context, p *Policy) error
	GetPolicy(ctx context.Context, orgID, id string) (*Policy, error)
	ListPolicies(ctx context.Context, orgID string) ([]Policy, error)
	UpdatePolicy(ctx context.Context, p *Policy) error
	DeletePolicy(ctx context.Context, orgID, id string) error

	CreateAssignment(ctx context.Context, a *PolicyAssignment) error
	ListAssignments(ctx context.Context, policyID string) ([]PolicyAssignment, error)
	DeleteAssignment(ctx context.Context, id string) error

	// GetApplicablePolicies returns active policies for the org, resource
	// type and action whose assignments match the principal, plus policies
	// with no assignments at all.
	GetApplicablePolicies(ctx context.Context, orgID, resourceType, action string, ref PrincipalRef) ([]Policy, error)
}
