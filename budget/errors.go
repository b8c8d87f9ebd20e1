// Copyright 2026 Kaizen Studio
// SPDX-License-Identifier: BUSL-1.1

package budget

import "errors"

var (
	// ErrBudgetNotFound is returned when no budget exists for the agent
	ErrBudgetNotFound = errors.New("budget not found")

	// ErrBudgetExists is returned when the agent already has a budget
	ErrBudgetExists = errors.New("budget already exists for agent")

	// ErrInvalidPeriod is returned for a period outside daily/weekly/monthly
	ErrInvalidPeriod = errors.New("period must be daily, weekly or monthly")

	// ErrInvalidEnforcementMode is returned for a mode outside hard/soft
	ErrInvalidEnforcementMode = errors.New("enforcement mode must be hard or soft")

	// ErrInvalidTimezone is returned when the timezone cannot be loaded
	ErrInvalidTimezone = errors.New("invalid timezone")

	// ErrAlertNotFound is returned when an alert doesn't exist
	ErrAlertNotFound = errors.New("budget alert not found")
)
