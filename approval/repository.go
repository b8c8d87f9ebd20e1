// Copyright 2026 Kaizen Studio
// SPDX-License-Identifier: BUSL-1.1

package approval

import (
	"context"
	"time"
)

// Repository defines the interface for approval persistence
type Repository interface {
	CreateRequest(ctx context.Context, req *Request) error
	GetRequest(ctx context.Context, orgID, id string) (*Request, error)
	ListRequests(ctx context.Context, orgID, status string, limit int) ([]Request, error)

	// Decide writes a terminal decision iff the request is still pending.
	// Returns ErrAlreadyDecided when another decision won the race.
	Decide(ctx context.Context, orgID, id, status, decidedBy, note string, decidedAt time.Time) (*Request, error)

	// ExpirePending flips pending requests past their TTL to expired and
	// returns how many were flipped.
	ExpirePending(ctx context.Context, now time.Time) (int64, error)
}
