// Aegis - Security Decision and Response Engine
// Copyright 2026 Aegis Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/aegis-sec/aegis

package access

import (
	"sort"

	"github.com/aegis-sec/aegis/internal/models"
)

// rolePermissions is the fixed role to permission-set mapping. Assigning
// multiple roles yields the union of each role's permissions.
var rolePermissions = map[models.Role][]string{
	models.RoleAdmin: {
		"system:admin",
		"system:read",
		"system:write",
		"users:*",
		"content:*",
		"payments:*",
		"audit:read",
		"security:*",
	},
	models.RoleModerator: {
		"content:read",
		"content:write",
		"content:delete",
		"users:read",
		"users:suspend",
		"reports:read",
		"reports:write",
	},
	models.RoleAuditor: {
		"audit:read",
		"security:read",
		"users:read",
		"content:read",
		"reports:read",
	},
	models.RoleCreator: {
		"content:read",
		"content:write",
		"content:delete",
		"content:publish",
		"media:read",
		"media:write",
	},
	models.RoleContributor: {
		"content:read",
		"content:write",
		"media:read",
	},
	models.RoleUser: {
		"content:read",
		"profile:read",
		"profile:write",
		"media:read",
	},
}

// roleRiskWeights contribute to the decision risk score; broader privilege
// means a compromised credential does more damage.
var roleRiskWeights = map[models.Role]int{
	models.RoleAdmin:       30,
	models.RoleModerator:   25,
	models.RoleAuditor:     20,
	models.RoleCreator:     15,
	models.RoleContributor: 10,
	models.RoleUser:        5,
}

// PermissionsForRoles returns the sorted union of permissions for a role set.
// Unknown roles contribute nothing.
func PermissionsForRoles(roles []models.Role) []string {
	seen := make(map[string]struct{})
	for _, role := range roles {
		for _, perm := range rolePermissions[role] {
			seen[perm] = struct{}{}
		}
	}
	perms := make([]string, 0, len(seen))
	for perm := range seen {
		perms = append(perms, perm)
	}
	sort.Strings(perms)
	return perms
}

// ValidRole reports whether the role is one of the platform roles.
func ValidRole(role models.Role) bool {
	_, ok := rolePermissions[role]
	return ok
}

// maxRoleWeight returns the largest risk weight among the held roles.
func maxRoleWeight(roles []models.Role) int {
	weight := 0
	for _, role := range roles {
		if w := roleRiskWeights[role]; w > weight {
			weight = w
		}
	}
	return weight
}
