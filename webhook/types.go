// Copyright 2026 Kaizen Studio
// SPDX-License-Identifier: BUSL-1.1

// Package webhook fans terminal invocation results out to subscribed
// consumers, formatted per destination platform. Deliveries are signed,
// retried with backoff, and recorded per attempt.
package webhook

import (
	"encoding/json"
	"time"
)

// Events a subscription can filter on.
const (
	EventInvocationCompleted = "invocation.completed"
	EventInvocationFailed    = "invocation.failed"
)

// Subscription is one configured consumer endpoint. The signing secret
// is stored encrypted.
type Subscription struct {
	ID       string `json:"id"`
	OrgID    string `json:"org_id"`
	Name     string `json:"name"`
	URL      string `json:"url"`
	Platform string `json:"platform"`

	EncryptedSecret string   `json:"-"`
	Events          []string `json:"events"`
	Active          bool     `json:"active"`

	// Config carries platform specifics: telegram chat_id, notion
	// database_id, custom header overrides.
	Config json.RawMessage `json:"config,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Accepts reports whether the subscription wants the event. An empty
// filter accepts everything.
func (s *Subscription) Accepts(event string) bool {
	if len(s.Events) == 0 {
		return true
	}
	for _, e := range s.Events {
		if e == event {
			return true
		}
	}
	return false
}

// Delivery statuses
const (
	DeliverySucceeded = "succeeded"
	DeliveryFailed    = "failed"
)

// Delivery is one attempt record. Deliveries are idempotent per
// (webhook_id, invocation_id, event).
type Delivery struct {
	ID           string    `json:"id"`
	WebhookID    string    `json:"webhook_id"`
	OrgID        string    `json:"org_id"`
	InvocationID string    `json:"invocation_id"`
	Event        string    `json:"event"`
	Status       string    `json:"status"`
	StatusCode   int       `json:"status_code,omitempty"`
	Attempts     int       `json:"attempts"`
	DurationMS   int64     `json:"duration_ms"`
	ErrorMessage string    `json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}
