// Aegis - Security Decision and Response Engine
// Copyright 2026 Aegis Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/aegis-sec/aegis

package access

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/aegis-sec/aegis/internal/models"
	st "github.com/aegis-sec/aegis/internal/store"
)

// faultStore fails every query, for fail-closed checks.
type faultStore struct {
	st.Store
}

func (f *faultStore) Query(ctx context.Context, spec st.QuerySpec) ([]json.RawMessage, error) {
	return nil, errors.New("backend unavailable")
}

func userGrant(id string, restrictions *models.Restrictions) *models.IdentityGrant {
	roles := []models.Role{models.RoleUser}
	return &models.IdentityGrant{
		IdentityID:   id,
		Roles:        roles,
		Permissions:  PermissionsForRoles(roles),
		Restrictions: restrictions,
	}
}

func request(identityID, endpoint, action string) *models.RequestContext {
	return &models.RequestContext{
		IdentityID: identityID,
		SourceIP:   "198.51.100.7",
		Service:    "content",
		Endpoint:   endpoint,
		Action:     action,
		Timestamp:  time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC), // Monday noon
	}
}

func TestDecide_MissingPermissions(t *testing.T) {
	d := NewDecider(st.NewMemoryStore(), nil, nil)
	grant := userGrant("user-1", nil)

	decision := d.Decide(context.Background(), grant, request("user-1", "/admin/settings", "GET"))
	if decision.Allowed {
		t.Fatal("user role was allowed into /admin")
	}
	if decision.Reason != "Insufficient permissions" {
		t.Errorf("reason = %q", decision.Reason)
	}
	found := false
	for _, p := range decision.MissingPermissions {
		if p == "system:admin" {
			found = true
		}
	}
	if !found {
		t.Errorf("MissingPermissions = %v, want system:admin listed", decision.MissingPermissions)
	}
}

func TestDecide_AdminBypass(t *testing.T) {
	d := NewDecider(st.NewMemoryStore(), nil, nil)
	roles := []models.Role{models.RoleAdmin}
	grant := &models.IdentityGrant{
		IdentityID:  "admin-1",
		Roles:       roles,
		Permissions: PermissionsForRoles(roles),
	}

	decision := d.Decide(context.Background(), grant, request("admin-1", "/admin/settings", "GET"))
	if !decision.Allowed {
		t.Errorf("admin denied: %s", decision.Reason)
	}
}

func TestDecide_TimeWindow(t *testing.T) {
	d := NewDecider(st.NewMemoryStore(), nil, nil)

	weekdayBusiness := &models.Restrictions{TimeWindow: &models.TimeWindow{
		AllowedDays: []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday},
		StartHour:   9,
		EndHour:     17,
	}}
	overnight := &models.Restrictions{TimeWindow: &models.TimeWindow{
		StartHour: 22,
		EndHour:   6,
	}}

	tests := []struct {
		name       string
		restr      *models.Restrictions
		at         time.Time
		wantAllow  bool
		wantReason string
	}{
		{
			name:      "weekday business hours",
			restr:     weekdayBusiness,
			at:        time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC), // Monday
			wantAllow: true,
		},
		{
			name:       "saturday rejected",
			restr:      weekdayBusiness,
			at:         time.Date(2026, 3, 7, 12, 0, 0, 0, time.UTC),
			wantAllow:  false,
			wantReason: "Saturday",
		},
		{
			name:       "after hours rejected",
			restr:      weekdayBusiness,
			at:         time.Date(2026, 3, 2, 20, 0, 0, 0, time.UTC),
			wantAllow:  false,
			wantReason: "hour 20",
		},
		{
			name:      "overnight window late evening",
			restr:     overnight,
			at:        time.Date(2026, 3, 2, 23, 0, 0, 0, time.UTC),
			wantAllow: true,
		},
		{
			name:      "overnight window early morning",
			restr:     overnight,
			at:        time.Date(2026, 3, 2, 3, 0, 0, 0, time.UTC),
			wantAllow: true,
		},
		{
			name:       "overnight window midday rejected",
			restr:      overnight,
			at:         time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
			wantAllow:  false,
			wantReason: "hour 10",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rc := request("user-1", "/content/list", "GET")
			rc.Timestamp = tt.at
			decision := d.Decide(context.Background(), userGrant("user-1", tt.restr), rc)
			if decision.Allowed != tt.wantAllow {
				t.Fatalf("Allowed = %v (%s), want %v", decision.Allowed, decision.Reason, tt.wantAllow)
			}
			if !tt.wantAllow && !strings.Contains(decision.Reason, tt.wantReason) {
				t.Errorf("reason = %q, want mention of %q", decision.Reason, tt.wantReason)
			}
		})
	}
}

func TestDecide_IPAllowlist(t *testing.T) {
	d := NewDecider(st.NewMemoryStore(), nil, nil)
	restr := &models.Restrictions{AllowedIPs: []string{"192.168.1.0/24", "10.0.0.5"}}

	tests := []struct {
		name      string
		source    string
		wantAllow bool
	}{
		{"inside cidr", "192.168.1.50", true},
		{"exact match", "10.0.0.5", true},
		{"outside cidr", "203.0.113.1", false},
		{"adjacent network", "192.168.2.1", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rc := request("user-1", "/content/list", "GET")
			rc.SourceIP = tt.source
			decision := d.Decide(context.Background(), userGrant("user-1", restr), rc)
			if decision.Allowed != tt.wantAllow {
				t.Errorf("Allowed = %v (%s), want %v", decision.Allowed, decision.Reason, tt.wantAllow)
			}
			if !tt.wantAllow && !strings.Contains(decision.Reason, tt.source) {
				t.Errorf("reason = %q, want source address named", decision.Reason)
			}
		})
	}
}

func TestDecide_Ownership(t *testing.T) {
	d := NewDecider(st.NewMemoryStore(), nil, nil)

	tests := []struct {
		name      string
		identity  string
		resource  models.ResourceDescriptor
		action    string
		roles     []models.Role
		wantAllow bool
	}{
		{"owner reads own", "user-1", models.ResourceDescriptor{ID: "doc-1", OwnerID: "user-1"}, "GET", []models.Role{models.RoleUser}, true},
		{"stranger reads private", "user-2", models.ResourceDescriptor{ID: "doc-1", OwnerID: "user-1"}, "GET", []models.Role{models.RoleUser}, false},
		{"stranger reads public", "user-2", models.ResourceDescriptor{ID: "doc-1", OwnerID: "user-1", Visibility: "public"}, "GET", []models.Role{models.RoleUser}, true},
		{"stranger writes public", "user-2", models.ResourceDescriptor{ID: "doc-1", OwnerID: "user-1", Visibility: "public"}, "PUT", []models.Role{models.RoleCreator}, false},
		{"admin reads private", "admin-1", models.ResourceDescriptor{ID: "doc-1", OwnerID: "user-1"}, "GET", []models.Role{models.RoleAdmin}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			grant := &models.IdentityGrant{
				IdentityID:  tt.identity,
				Roles:       tt.roles,
				Permissions: PermissionsForRoles(tt.roles),
			}
			rc := request(tt.identity, "/content/item", tt.action)
			rc.Resource = tt.resource
			decision := d.Decide(context.Background(), grant, rc)
			if decision.Allowed != tt.wantAllow {
				t.Errorf("Allowed = %v (%s), want %v", decision.Allowed, decision.Reason, tt.wantAllow)
			}
		})
	}
}

func TestDecide_Suspended(t *testing.T) {
	d := NewDecider(st.NewMemoryStore(), nil, nil)
	grant := userGrant("user-1", nil)
	grant.Suspended = true

	decision := d.Decide(context.Background(), grant, request("user-1", "/content/list", "GET"))
	if decision.Allowed {
		t.Fatal("suspended identity was allowed")
	}
	if decision.RiskScore != 100 {
		t.Errorf("RiskScore = %d, want 100", decision.RiskScore)
	}
}

func TestDecide_QuotaFaultFailsClosed(t *testing.T) {
	d := NewDecider(&faultStore{Store: st.NewMemoryStore()}, nil, nil)
	grant := userGrant("user-1", &models.Restrictions{
		Quotas: &models.Quotas{APICallsPerHour: 100},
	})

	decision := d.Decide(context.Background(), grant, request("user-1", "/content/list", "GET"))
	if decision.Allowed {
		t.Fatal("quota read fault did not fail closed")
	}
	if decision.Reason != "Access evaluation failed" {
		t.Errorf("reason = %q", decision.Reason)
	}
}

func TestDecide_QuotaExceeded(t *testing.T) {
	mem := st.NewMemoryStore()
	d := NewDecider(mem, nil, nil)
	ctx := context.Background()

	// Seed three prior events inside the hour.
	for _, id := range []string{"e1", "e2", "e3"} {
		event := &models.SecurityEvent{
			ID:         id,
			Type:       models.EventAuthorization,
			IdentityID: "user-1",
			Timestamp:  time.Now().UTC().Add(-10 * time.Minute),
		}
		if err := mem.Set(ctx, EventCollection, id, event); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	grant := userGrant("user-1", &models.Restrictions{
		Quotas: &models.Quotas{APICallsPerHour: 3},
	})
	rc := request("user-1", "/content/list", "GET")
	rc.Timestamp = time.Now().UTC()

	decision := d.Decide(ctx, grant, rc)
	if decision.Allowed {
		t.Fatal("exceeded quota was allowed")
	}
	if !strings.Contains(decision.Reason, "quota") {
		t.Errorf("reason = %q, want quota mention", decision.Reason)
	}
}

func TestGrantFor_Fallbacks(t *testing.T) {
	mem := st.NewMemoryStore()
	d := NewDecider(mem, nil, nil)
	ctx := context.Background()

	// No stored grant: default user grant.
	grant, err := d.GrantFor(ctx, "unknown")
	if err != nil {
		t.Fatalf("GrantFor: %v", err)
	}
	if len(grant.Roles) != 1 || grant.Roles[0] != models.RoleUser {
		t.Errorf("default grant roles = %v, want [user]", grant.Roles)
	}

	// Revoked grant: also the default.
	revoked := userGrant("user-1", nil)
	revoked.Roles = []models.Role{models.RoleAdmin}
	revoked.Revoked = true
	if err := mem.Set(ctx, GrantCollection, "user-1", revoked); err != nil {
		t.Fatalf("seed: %v", err)
	}
	grant, err = d.GrantFor(ctx, "user-1")
	if err != nil {
		t.Fatalf("GrantFor: %v", err)
	}
	if len(grant.Roles) != 1 || grant.Roles[0] != models.RoleUser {
		t.Errorf("revoked grant resolved to %v, want default [user]", grant.Roles)
	}

	// Expired grant: the default again.
	past := time.Now().Add(-time.Hour)
	expired := userGrant("user-2", nil)
	expired.Roles = []models.Role{models.RoleModerator}
	expired.ExpiresAt = &past
	if err := mem.Set(ctx, GrantCollection, "user-2", expired); err != nil {
		t.Fatalf("seed: %v", err)
	}
	grant, err = d.GrantFor(ctx, "user-2")
	if err != nil {
		t.Fatalf("GrantFor: %v", err)
	}
	if len(grant.Roles) != 1 || grant.Roles[0] != models.RoleUser {
		t.Errorf("expired grant resolved to %v, want default [user]", grant.Roles)
	}
}

func TestAssignRoles(t *testing.T) {
	mem := st.NewMemoryStore()
	d := NewDecider(mem, nil, nil)
	ctx := context.Background()

	grant, err := d.AssignRoles(ctx, "user-1", []models.Role{models.RoleCreator, models.RoleAuditor}, "admin-1", nil)
	if err != nil {
		t.Fatalf("AssignRoles: %v", err)
	}
	if len(grant.Permissions) == 0 {
		t.Error("assigned grant has no computed permissions")
	}

	if _, err := d.AssignRoles(ctx, "user-1", []models.Role{"superuser"}, "admin-1", nil); err == nil {
		t.Error("unknown role accepted")
	}

	loaded, err := d.GrantFor(ctx, "user-1")
	if err != nil {
		t.Fatalf("GrantFor: %v", err)
	}
	if len(loaded.Roles) != 2 {
		t.Errorf("stored roles = %v", loaded.Roles)
	}
}

func TestPermissionsForRoles_SortedUnion(t *testing.T) {
	perms := PermissionsForRoles([]models.Role{models.RoleUser, models.RoleCreator})
	for i := 1; i < len(perms); i++ {
		if perms[i] < perms[i-1] {
			t.Fatalf("permissions not sorted: %v", perms)
		}
		if perms[i] == perms[i-1] {
			t.Fatalf("duplicate permission %q", perms[i])
		}
	}
}
