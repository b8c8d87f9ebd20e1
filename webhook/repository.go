// Copyright 2026 Kaizen Studio
// SPDX-License-Identifier: BUSL-1.1

package webhook

import "context"

// Repository defines the interface for webhook persistence
type Repository interface {
	CreateSubscription(ctx context.Context, s *Subscription) error
	GetSubscription(ctx context.Context, orgID, id string) (*Subscription, error)
	ListSubscriptions(ctx context.Context, orgID string, activeOnly bool) ([]Subscription, error)
	UpdateSubscription(ctx context.Context, s *Subscription) error
	DeleteSubscription(ctx context.Context, orgID, id string) error

	CreateDelivery(ctx context.Context, d *Delivery) error
	// HasDelivery reports whether a successful delivery already exists for
	// (webhook, invocation, event); used for idempotency.
	HasDelivery(ctx context.Context, webhookID, invocationID, event string) (bool, error)
	ListDeliveries(ctx context.Context, orgID, webhookID string, limit int) ([]Delivery, error)
}
