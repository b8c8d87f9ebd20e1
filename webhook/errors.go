// Copyright 2026 Kaizen Studio
// SPDX-License-Identifier: BUSL-1.1

package webhook

import "errors"

var (
	// ErrSubscriptionNotFound is returned when the subscription doesn't exist
	ErrSubscriptionNotFound = errors.New("webhook subscription not found")

	// ErrInvalidSubscription is returned for a subscription failing validation
	ErrInvalidSubscription = errors.New("invalid webhook subscription")

	// ErrUnknownPlatform is returned for a platform with no adapter
	ErrUnknownPlatform = errors.New("no adapter for platform")

	// ErrDeliveryFailed is returned after every retry attempt failed
	ErrDeliveryFailed = errors.New("webhook delivery failed")
)
