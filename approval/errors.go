// Copyright 2026 Kaizen Studio
// SPDX-License-Identifier: BUSL-1.1

package approval

import "errors"

var (
	// ErrApprovalNotFound is returned when the request doesn't exist
	ErrApprovalNotFound = errors.New("approval request not found")

	// ErrAlreadyDecided is returned when a terminal decision exists
	ErrAlreadyDecided = errors.New("approval request already decided")

	// ErrApprovalExpired is returned when the TTL passed before a decision
	ErrApprovalExpired = errors.New("approval request expired")

	// ErrSelfApprovalNotAllowed is returned when the requester decides
	ErrSelfApprovalNotAllowed = errors.New("self-approval not allowed")

	// ErrUnauthorizedApprover is returned when the approver's role cannot decide
	ErrUnauthorizedApprover = errors.New("approver not authorized")

	// ErrNotApproved is returned when an invocation references a
	// non-approved request
	ErrNotApproved = errors.New("approval request not approved")
)
