// Aegis - Security Decision and Response Engine
// Copyright 2026 Aegis Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/aegis-sec/aegis

package access

import (
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/aegis-sec/aegis/internal/models"
)

// checkTimeRestrictions evaluates the grant's day/hour window against the
// request timestamp. Overnight ranges (start > end) wrap past midnight.
func checkTimeRestrictions(window *models.TimeWindow, at time.Time) (bool, string) {
	if window == nil {
		return true, ""
	}
	local := at.In(window.Location())
	if !window.AllowsDay(at) {
		return false, fmt.Sprintf("Access not permitted on %s", local.Weekday())
	}
	if !window.AllowsHour(at) {
		return false, fmt.Sprintf("Access not permitted at hour %02d (window %02d-%02d)",
			local.Hour(), window.StartHour, window.EndHour)
	}
	return true, ""
}

// checkIPRestrictions evaluates the allowlist: exact address match or
// prefix containment. Malformed allowlist entries are skipped rather than
// failing the whole check.
func checkIPRestrictions(allowed []string, sourceIP string) (bool, string) {
	if len(allowed) == 0 {
		return true, ""
	}
	source, sourceErr := netip.ParseAddr(sourceIP)
	for _, entry := range allowed {
		if entry == sourceIP {
			return true, ""
		}
		if sourceErr != nil || !strings.Contains(entry, "/") {
			continue
		}
		prefix, err := netip.ParsePrefix(entry)
		if err != nil {
			continue
		}
		if prefix.Contains(source.Unmap()) {
			return true, ""
		}
	}
	return false, fmt.Sprintf("Source address %s not in allowlist", sourceIP)
}

// checkOwnership denies cross-identity access to private resources. GET on
// a resource explicitly marked public is always allowed; identities holding
// an administrative permission bypass the check.
func checkOwnership(grant *models.IdentityGrant, rc *models.RequestContext) (bool, string) {
	res := rc.Resource
	if res.OwnerID == "" || res.OwnerID == grant.IdentityID {
		return true, ""
	}
	if res.Public() && strings.ToUpper(rc.Action) == "GET" {
		return true, ""
	}
	if holdsPermission(grant.HeldPermissions(), "system:admin") {
		return true, ""
	}
	return false, fmt.Sprintf("Resource %s belongs to another identity", res.ID)
}
