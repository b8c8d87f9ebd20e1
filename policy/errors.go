// Copyright 2026 Kaizen Studio
// SPDX-License-Identifier: BUSL-1.1

package policy

import "errors"

var (
	// ErrPolicyNotFound is returned when a policy doesn't exist
	ErrPolicyNotFound = errors.New("policy not found")

	// ErrInvalidPolicy is returned for a policy failing validation
	ErrInvalidPolicy = errors.New("invalid policy")

	// ErrInvalidEffect is returned for an effect outside allow/deny
	ErrInvalidEffect = errors.New("policy effect must be allow or deny")

	// ErrInvalidCondition is returned when the condition DSL fails to parse
	ErrInvalidCondition = errors.New("invalid policy condition")

	// ErrAssignmentExists is returned on a duplicate principal assignment
	ErrAssignmentExists = errors.New("policy assignment already exists")

	// ErrEvaluation is returned when a condition cannot be evaluated.
	// Enforcement treats this as a hard failure, never as an allow.
	ErrEvaluation = errors.New("policy evaluation failed")
)
