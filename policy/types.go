// Copyright 2026 Kaizen Studio
// SPDX-License-Identifier: BUSL-1.1

// Package policy evaluates per-tenant attribute-based policies on top of
// RBAC. Policies carry a JSON condition DSL composed of all/any/not
// groups over field comparisons; deny overrides allow.
package policy

import (
	"encoding/json"
	"fmt"
	"time"
)

// Effects
const (
	EffectAllow = "allow"
	EffectDeny  = "deny"
)

// Policy statuses
const (
	StatusActive   = "active"
	StatusInactive = "inactive"
)

// Principal types for assignments
const (
	PrincipalUser = "user"
	PrincipalTeam = "team"
	PrincipalRole = "role"
)

// Comparison operators accepted by the DSL. Unknown operators are
// rejected when the condition is parsed, not at evaluation time.
var validOps = map[string]bool{
	"eq": true, "ne": true,
	"in": true, "nin": true,
	"gt": true, "ge": true, "lt": true, "le": true,
	"regex": true, "contains": true,
}

// Condition is the tagged union for the condition DSL. At most one of
// All, Any, Not, or the Field/Op pair is set; the empty condition
// matches everything, so an unconditioned policy round-trips.
type Condition struct {
	All []Condition `json:"all,omitempty"`
	Any []Condition `json:"any,omitempty"`
	Not *Condition  `json:"not,omitempty"`

	Field string      `json:"field,omitempty"`
	Op    string      `json:"op,omitempty"`
	Value interface{} `json:"value,omitempty"`
}

// UnmarshalJSON parses a condition and rejects malformed shapes and
// unknown operators at load time.
func (c *Condition) UnmarshalJSON(data []byte) error {
	type alias Condition
	var raw alias
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*c = Condition(raw)

	set := 0
	if len(c.All) > 0 {
		set++
	}
	if len(c.Any) > 0 {
		set++
	}
	if c.Not != nil {
		set++
	}
	if c.Field != "" || c.Op != "" {
		set++
		if c.Field == "" || c.Op == "" {
			return fmt.Errorf("condition requires both field and op")
		}
		if !validOps[c.Op] {
			return fmt.Errorf("unknown condition operator: %q", c.Op)
		}
	}
	if set > 1 {
		return fmt.Errorf("condition must be at most one of all/any/not/compare")
	}
	return nil
}

// Policy is a per-tenant ABAC rule. Higher priority evaluates first;
// a matching deny wins over any matching allow.
type Policy struct {
	ID           string    `json:"id"`
	OrgID        string    `json:"org_id"`
	Name         string    `json:"name"`
	ResourceType string    `json:"resource_type"`
	Action       string    `json:"action"`
	Effect       string    `json:"effect"`
	Conditions   Condition `json:"conditions"`
	ResourceRefs []string  `json:"resource_refs,omitempty"`
	Priority     int       `json:"priority"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Validate checks a policy before persistence.
func (p *Policy) Validate() error {
	if p.ResourceType == "" || p.Action == "" {
		return ErrInvalidPolicy
	}
	if p.Effect != EffectAllow && p.Effect != EffectDeny {
		return ErrInvalidEffect
	}
	if p.Status != StatusActive && p.Status != StatusInactive {
		return ErrInvalidPolicy
	}
	return nil
}

// PolicyAssignment attaches a policy to a principal. A policy with no
// assignments applies org-wide.
type PolicyAssignment struct {
	ID            string    `json:"id"`
	PolicyID      string    `json:"policy_id"`
	PrincipalType string    `json:"principal_type"`
	PrincipalID   string    `json:"principal_id"`
	CreatedAt     time.Time `json:"created_at"`
}

// Input is the attribute bundle a policy evaluates over.
type Input struct {
	Subject      map[string]interface{} `json:"subject"`
	Action       string                 `json:"action"`
	ResourceType string                 `json:"resource_type"`
	Resource     map[string]interface{} `json:"resource"`
	Environment  map[string]interface{} `json:"environment"`
}

// Decision outcomes
const (
	DecisionAllow         = "allow"
	DecisionDeny          = "deny"
	DecisionNotApplicable = "not_applicable"
)

// Decision is the result of an evaluation. When no policy matches the
// outcome is not_applicable and the RBAC result stands.
type Decision struct {
	Outcome  string `json:"outcome"`
	PolicyID string `json:"policy_id,omitempty"`
	Policy   string `json:"policy,omitempty"`
}
