// Copyright 2026 Kaizen Studio
// SPDX-License-Identifier: BUSL-1.1

package rbac

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckerHas(t *testing.T) {
	c := NewChecker()

	cases := []struct {
		role       string
		permission string
		want       bool
	}{
		{RoleViewer, "budgets:read", true},
		{RoleViewer, "budgets:create", false},
		{RoleViewer, "external_agents:invoke", false},
		{RoleDeveloper, "external_agents:invoke", true},
		{RoleDeveloper, "policies:create", false},
		{RoleOrgAdmin, "policies:create", true}, // via policies:*
		{RoleOrgAdmin, "audit:read", true},
		{RoleOrgAdmin, "gdpr:export", false},
		{RoleTenantAdmin, "gdpr:export", false},
		{RoleOrgOwner, "gdpr:export", true}, // via gdpr:*
		{RoleOrgOwner, "billing:update", true},
		{"intruder", "budgets:read", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, c.Has(tc.role, tc.permission), "%s %s", tc.role, tc.permission)
	}
}

func TestCheckerRequire(t *testing.T) {
	c := NewChecker()

	assert.NoError(t, c.Require(RoleDeveloper, "pipelines:execute"))
	assert.ErrorIs(t, c.Require(RoleViewer, "pipelines:execute"), ErrForbidden)
	assert.ErrorIs(t, c.Require("intruder", "budgets:read"), ErrUnknownRole)
}

func TestRoleHierarchyIsStrictlyNested(t *testing.T) {
	c := NewChecker()

	subset := func(weaker, stronger string) {
		t.Helper()
		for _, p := range c.EffectivePermissions(weaker) {
			require.True(t, c.Has(stronger, p), "%s missing %s held by %s", stronger, p, weaker)
		}
	}
	subset(RoleViewer, RoleDeveloper)
	subset(RoleDeveloper, RoleOrgAdmin)
	subset(RoleOrgAdmin, RoleOrgOwner)
}
