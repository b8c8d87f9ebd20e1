// Copyright 2026 Kaizen Studio
// SPDX-License-Identifier: BUSL-1.1

package invocation

import "context"

// Repository defines the interface for external-agent persistence
type Repository interface {
	CreateAgent(ctx context.Context, a *ExternalAgent) error
	GetAgent(ctx context.Context, orgID, id string) (*ExternalAgent, error)
	ListAgents(ctx context.Context, orgID string) ([]ExternalAgent, error)
	UpdateAgent(ctx context.Context, a *ExternalAgent) error
	// SoftDeleteAgent flips the agent to deleted; rows are never removed.
	SoftDeleteAgent(ctx context.Context, orgID, id string) error

	CreateInvocation(ctx context.Context, inv *Invocation) error
	// CompleteInvocation writes the terminal fields of a pending row.
	CompleteInvocation(ctx context.Context, inv *Invocation) error
	GetInvocation(ctx context.Context, orgID, id string) (*Invocation, error)
	ListInvocations(ctx context.Context, orgID, agentID string, limit int) ([]Invocation, error)
	UpdateDeliveryStatus(ctx context.Context, invocationID, status string) error

	CreateLineage(ctx context.Context, l *Lineage) error
	GetLineage(ctx context.Context, orgID, invocationID string) (*Lineage, error)
}
