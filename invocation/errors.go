// Copyright 2026 Kaizen Studio
// SPDX-License-Identifier: BUSL-1.1

package invocation

import "errors"

var (
	// ErrAgentNotFound is returned when the external agent doesn't exist
	ErrAgentNotFound = errors.New("external agent not found")

	// ErrAgentInactive is returned when invoking a non-active agent
	ErrAgentInactive = errors.New("external agent is not active")

	// ErrInvalidPlatform is returned for an unsupported platform
	ErrInvalidPlatform = errors.New("unsupported platform")

	// ErrInvalidAuthType is returned for an unsupported auth type
	ErrInvalidAuthType = errors.New("unsupported auth type")

	// ErrInvocationNotFound is returned when the invocation doesn't exist
	ErrInvocationNotFound = errors.New("invocation not found")

	// ErrRateLimited is returned when a minute/hour/day window is exhausted
	ErrRateLimited = errors.New("invocation rate limit exceeded")

	// ErrBudgetExceeded is returned when the hard budget pre-check denies
	ErrBudgetExceeded = errors.New("budget exceeded")

	// ErrApprovalRequired is returned when the invocation needs a human
	// decision before it can run
	ErrApprovalRequired = errors.New("approval required")

	// ErrDispatchFailed wraps upstream transport failures
	ErrDispatchFailed = errors.New("dispatch to external platform failed")
)
