// Copyright 2026 Kaizen Studio
// SPDX-License-Identifier: BUSL-1.1

// Package audit records every state-changing API call. Entries are
// queued, batched and written off the request path; a write failure
// never fails the request that produced the entry.
package audit

import "time"

// Statuses
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Entry is one append-only audit log row.
type Entry struct {
	ID           string                 `json:"id"`
	OrgID        string                 `json:"org_id"`
	UserID       string                 `json:"user_id"`
	Action       string                 `json:"action"`
	ResourceType string                 `json:"resource_type"`
	ResourceID   string                 `json:"resource_id,omitempty"`
	Details      map[string]interface{} `json:"details,omitempty"`
	IPAddress    string                 `json:"ip_address"`
	UserAgent    string                 `json:"user_agent"`
	Status       string                 `json:"status"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	RequestID    string                 `json:"request_id,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
}

// Query filters a log search. Zero values are ignored.
type Query struct {
	OrgID        string
	UserID       string
	Action       string
	ResourceType string
	Status       string
	Start        time.Time
	End          time.Time
	Limit        int
	Offset       int
}
