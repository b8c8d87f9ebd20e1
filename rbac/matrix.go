// Copyright 2026 Kaizen Studio
// SPDX-License-Identifier: BUSL-1.1

// Package rbac decides whether a role includes a required permission.
// Permission names are literal "resource:action" strings or "resource:*"
// wildcards; the role matrix is declarative and seeded into the database
// once per deployment.
package rbac

import (
	"errors"
	"strings"
)

var (
	// ErrForbidden is returned when the role lacks the permission
	ErrForbidden = errors.New("permission denied")

	// ErrUnknownRole is returned for a role outside the matrix
	ErrUnknownRole = errors.New("unknown role")
)

// Roles ordered strongest to weakest. org_owner is a strict superset of
// org_admin, which is a superset of developer, which is a superset of
// viewer. tenant_admin matches org_owner except for gdpr, which stays
// owner-only.
const (
	RoleOrgOwner    = "org_owner"
	RoleTenantAdmin = "tenant_admin"
	RoleOrgAdmin    = "org_admin"
	RoleDeveloper   = "developer"
	RoleViewer      = "viewer"
)

// viewerPermissions is the base read-only set.
var viewerPermissions = []string{
	"organizations:read",
	"workspaces:read",
	"teams:read",
	"agents:read",
	"pipelines:read",
	"external_agents:read",
	"budgets:read",
	"usage:read",
	"webhooks:read",
}

// developerPermissions extends viewer with build-and-run rights.
var developerPermissions = append([]string{
	"agents:create", "agents:update",
	"pipelines:create", "pipelines:update", "pipelines:execute",
	"external_agents:invoke",
	"api_keys:read",
	"connectors:read",
	"deployments:read",
}, viewerPermissions...)

// adminPermissions extends developer with tenant administration.
var adminPermissions = append([]string{
	"organizations:update",
	"workspaces:*",
	"teams:*",
	"agents:*",
	"pipelines:*",
	"external_agents:*",
	"budgets:*",
	"api_keys:*",
	"invitations:*",
	"users:*",
	"policies:*",
	"webhooks:*",
	"connectors:*",
	"deployments:*",
	"approvals:*",
	"audit:read",
	"sso:*",
	"domains:*",
}, developerPermissions...)

// ownerPermissions extends admin with destructive org operations and GDPR.
var ownerPermissions = append([]string{
	"organizations:*",
	"gdpr:*",
	"billing:*",
}, adminPermissions...)

// Matrix is the declarative role→permission mapping.
var Matrix = map[string][]string{
	RoleOrgOwner:    ownerPermissions,
	RoleTenantAdmin: adminPermissions,
	RoleOrgAdmin:    adminPermissions,
	RoleDeveloper:   developerPermissions,
	RoleViewer:      viewerPermissions,
}

// Checker answers permission questions against the matrix. The matrix is
// immutable after process start, so Checker needs no locking.
type Checker struct {
	// effective[role] holds the expanded permission set
	effective map[string]map[string]bool
}

// NewChecker expands the matrix into lookup sets.
func NewChecker() *Checker {
	effective := make(map[string]map[string]bool, len(Matrix))
	for role, perms := range Matrix {
		set := make(map[string]bool, len(perms))
		for _, p := range perms {
			set[p] = true
		}
		effective[role] = set
	}
	return &Checker{effective: effective}
}

// Has reports whether the role includes the permission, either literally
// or through the matching "resource:*" wildcard.
func (c *Checker) Has(role, permission string) bool {
	set, ok := c.effective[role]
	if !ok {
		return false
	}
	if set[permission] {
		return true
	}
	if idx := strings.IndexByte(permission, ':'); idx > 0 {
		return set[permission[:idx]+":*"]
	}
	return false
}

// Require returns nil when the role includes the permission.
func (c *Checker) Require(role, permission string) error {
	if _, ok := c.effective[role]; !ok {
		return ErrUnknownRole
	}
	if !c.Has(role, permission) {
		return ErrForbidden
	}
	return nil
}

// EffectivePermissions returns the expanded permission list for a role.
func (c *Checker) EffectivePermissions(role string) []string {
	set, ok := c.effective[role]
	if !ok {
		return nil
	}
	perms := make([]string, 0, len(set))
	for p := range set {
		perms = append(perms, p)
	}
	return perms
}
