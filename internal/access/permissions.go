// Aegis - Security Decision and Response Engine
// Copyright 2026 Aegis Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/aegis-sec/aegis

package access

import (
	"regexp"
	"strings"
	"sync"
)

// endpointRule maps an endpoint (exact path or glob pattern) to the
// permissions required to call it.
type endpointRule struct {
	pattern     string
	regex       *regexp.Regexp // nil for exact-match rules
	permissions []string
}

// permissionResolver resolves the permissions required for an endpoint:
// exact match first, then glob patterns in registration order, then a
// verb-based default.
type permissionResolver struct {
	mu    sync.RWMutex
	exact map[string][]string
	globs []endpointRule
}

func newPermissionResolver() *permissionResolver {
	r := &permissionResolver{exact: make(map[string][]string)}
	for _, seed := range defaultEndpointRules {
		r.register(seed.pattern, seed.permissions)
	}
	return r
}

// defaultEndpointRules protect the platform's sensitive surfaces out of the
// box. Operators extend the table through RegisterEndpoint.
var defaultEndpointRules = []struct {
	pattern     string
	permissions []string
}{
	{"/admin/*", []string{"system:admin"}},
	{"/system/*", []string{"system:admin"}},
	{"/payments/refund", []string{"payments:refund"}},
	{"/payments/*", []string{"payments:read"}},
	{"/audit/*", []string{"audit:read"}},
	{"/security/*", []string{"security:read"}},
	{"/users/*/suspend", []string{"users:suspend"}},
}

func (r *permissionResolver) register(pattern string, permissions []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !strings.Contains(pattern, "*") {
		r.exact[pattern] = permissions
		return
	}
	r.globs = append(r.globs, endpointRule{
		pattern:     pattern,
		regex:       globToRegex(pattern),
		permissions: permissions,
	})
}

// resolve returns the permissions required for the endpoint. The verb
// default applies when no rule matches: GET needs read, POST/PUT/PATCH need
// write, DELETE needs delete and write, all on the owning service.
func (r *permissionResolver) resolve(service, endpoint, verb string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if perms, ok := r.exact[endpoint]; ok {
		return perms
	}
	for _, rule := range r.globs {
		if rule.regex.MatchString(endpoint) {
			return rule.permissions
		}
	}
	return verbDefault(service, verb)
}

func verbDefault(service, verb string) []string {
	if service == "" {
		service = "api"
	}
	switch strings.ToUpper(verb) {
	case "GET", "HEAD":
		return []string{service + ":read"}
	case "POST", "PUT", "PATCH":
		return []string{service + ":write"}
	case "DELETE":
		return []string{service + ":delete", service + ":write"}
	default:
		return []string{service + ":read"}
	}
}

// globToRegex compiles a glob pattern into an anchored regular expression,
// mapping * to .* and quoting everything else.
func globToRegex(pattern string) *regexp.Regexp {
	parts := strings.Split(pattern, "*")
	for i, part := range parts {
		parts[i] = regexp.QuoteMeta(part)
	}
	return regexp.MustCompile("^" + strings.Join(parts, ".*") + "$")
}

// holdsPermission reports whether a held permission satisfies a required
// one. Wildcards on the held side (users:* or *:*) match any verb or any
// resource respectively.
func holdsPermission(held []string, required string) bool {
	resource, _, _ := strings.Cut(required, ":")
	for _, h := range held {
		if h == required || h == "*:*" || h == resource+":*" {
			return true
		}
	}
	return false
}

// missingPermissions returns required minus held, preserving order.
func missingPermissions(held, required []string) []string {
	var missing []string
	for _, req := range required {
		if !holdsPermission(held, req) {
			missing = append(missing, req)
		}
	}
	return missing
}
