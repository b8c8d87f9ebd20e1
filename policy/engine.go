// Copyright 2026 Kaizen Studio
// SPDX-License-Identifier: BUSL-1.1

package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"kaizenstudio/platform/shared/logger"
)

// Engine evaluates the active policies of an org against a request.
type Engine struct {
	repo Repository
	log  *logger.Logger
}

// NewEngine creates a policy engine.
func NewEngine(repo Repository, log *logger.Logger) *Engine {
	return &Engine{repo: repo, log: log}
}

// PrincipalRef identifies the caller for assignment matching.
type PrincipalRef struct {
	UserID  string
	TeamIDs []string
	Role    string
}

// Evaluate runs every applicable policy against the input. Policies are
// visited in descending priority; a matching deny wins over any matching
// allow regardless of priority. When no policy matches, the outcome is
// not_applicable and the RBAC decision stands. Any evaluation failure is
// returned as an error so enforcement can fail closed.
func (e *Engine) Evaluate(ctx context.Context, orgID string, ref PrincipalRef, input Input) (Decision, error) {
	policies, err := e.repo.GetApplicablePolicies(ctx, orgID, input.ResourceType, input.Action, ref)
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrEvaluation, err)
	}

	sort.SliceStable(policies, func(i, j int) bool {
		return policies[i].Priority > policies[j].Priority
	})

	var allow *Policy
	for i := range policies {
		p := &policies[i]
		matched, err := evalCondition(&p.Conditions, input)
		if err != nil {
			e.log.Error(orgID, "", "policy evaluation failed",
				map[string]interface{}{"policy_id": p.ID, "error": err.Error()})
			return Decision{}, fmt.Errorf("%w: policy %s: %v", ErrEvaluation, p.ID, err)
		}
		if !matched {
			continue
		}
		if p.Effect == EffectDeny {
			return Decision{Outcome: DecisionDeny, PolicyID: p.ID, Policy: p.Name}, nil
		}
		if allow == nil {
			allow = p
		}
	}

	if allow != nil {
		return Decision{Outcome: DecisionAllow, PolicyID: allow.ID, Policy: allow.Name}, nil
	}
	return Decision{Outcome: DecisionNotApplicable}, nil
}

// evalCondition evaluates one node of the condition tree. An empty
// condition matches everything.
func evalCondition(c *Condition, input Input) (bool, error) {
	switch {
	case len(c.All) > 0:
		for i := range c.All {
			ok, err := evalCondition(&c.All[i], input)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	case len(c.Any) > 0:
		for i := range c.Any {
			ok, err := evalCondition(&c.Any[i], input)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case c.Not != nil:
		ok, err := evalCondition(c.Not, input)
		return !ok, err
	case c.Field != "":
		return evalCompare(c, input)
	default:
		return true, nil
	}
}

// evalCompare resolves the field path and applies the operator. A field
// path that resolves to nothing compares as null: equality against null
// can still match, ordering and membership never do, and no error is
// raised for the missing path itself.
func evalCompare(c *Condition, input Input) (bool, error) {
	actual := lookupField(c.Field, input)

	switch c.Op {
	case "eq":
		return looseEqual(actual, c.Value), nil
	case "ne":
		return !looseEqual(actual, c.Value), nil
	case "in":
		return membership(actual, c.Value)
	case "nin":
		ok, err := membership(actual, c.Value)
		return !ok, err
	case "gt", "ge", "lt", "le":
		return ordered(c.Op, actual, c.Value)
	case "regex":
		pattern, ok := c.Value.(string)
		if !ok {
			return false, fmt.Errorf("regex operator requires a string pattern")
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return false, fmt.Errorf("invalid regex %q: %w", pattern, err)
		}
		s, ok := actual.(string)
		if !ok {
			return false, nil
		}
		return re.MatchString(s), nil
	case "contains":
		return contains(actual, c.Value)
	default:
		return false, fmt.Errorf("unknown operator %q", c.Op)
	}
}

// lookupField walks a dotted path through the input attribute maps.
// The first segment selects the bundle (subject, resource, environment);
// the remaining segments descend through nested maps.
func lookupField(path string, input Input) interface{} {
	parts := strings.Split(path, ".")
	var cur interface{}
	switch parts[0] {
	case "subject":
		cur = input.Subject
	case "resource":
		cur = input.Resource
	case "environment":
		cur = input.Environment
	case "action":
		return input.Action
	default:
		return nil
	}
	for _, part := range parts[1:] {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil
		}
		cur, ok = m[part]
		if !ok {
			return nil
		}
	}
	return cur
}

// looseEqual compares with JSON-number normalization: 3 and 3.0 are equal.
func looseEqual(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if fa, aok := asFloat(a); aok {
		if fb, bok := asFloat(b); bok {
			return fa == fb
		}
		return false
	}
	return a == b
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func membership(actual, value interface{}) (bool, error) {
	list, ok := value.([]interface{})
	if !ok {
		return false, fmt.Errorf("in/nin operator requires a list value")
	}
	if actual == nil {
		return false, nil
	}
	for _, item := range list {
		if looseEqual(actual, item) {
			return true, nil
		}
	}
	return false, nil
}

func ordered(op string, actual, value interface{}) (bool, error) {
	fv, ok := asFloat(value)
	if !ok {
		return false, fmt.Errorf("%s operator requires a numeric value", op)
	}
	fa, ok := asFloat(actual)
	if !ok {
		// null or non-numeric never satisfies an ordering check
		return false, nil
	}
	switch op {
	case "gt":
		return fa > fv, nil
	case "ge":
		return fa >= fv, nil
	case "lt":
		return fa < fv, nil
	default:
		return fa <= fv, nil
	}
}

// contains matches a substring when the field is a string, or membership
// when the field is a list.
func contains(actual, value interface{}) (bool, error) {
	switch a := actual.(type) {
	case string:
		s, ok := value.(string)
		if !ok {
			return false, fmt.Errorf("contains on a string field requires a string value")
		}
		return strings.Contains(a, s), nil
	case []interface{}:
		for _, item := range a {
			if looseEqual(item, value) {
				return true, nil
			}
		}
		return false, nil
	case nil:
		return false, nil
	default:
		return false, fmt.Errorf("contains requires a string or list field")
	}
}
