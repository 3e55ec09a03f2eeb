// Aegis - Security Decision and Response Engine
// Copyright 2026 Aegis Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/aegis-sec/aegis

// Package access implements the authorization decider: role and permission
// resolution layered with contextual restrictions (time windows, IP
// allowlists, resource ownership, per-identity quotas). The decider fails
// closed: any internal fault produces a deny.
package access

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aegis-sec/aegis/internal/errs"
	"github.com/aegis-sec/aegis/internal/identity"
	"github.com/aegis-sec/aegis/internal/logging"
	"github.com/aegis-sec/aegis/internal/metrics"
	"github.com/aegis-sec/aegis/internal/models"
	"github.com/aegis-sec/aegis/internal/store"
)

// GrantCollection is the store collection holding identity grants.
const GrantCollection = "grants"

// EventCollection is the store collection holding security events; the
// decider reads it for quota counting.
const EventCollection = "events"

// EventSink receives the security events the decider emits for every
// decision, allow or deny.
type EventSink interface {
	Ingest(ctx context.Context, event *models.SecurityEvent) error
}

// Decider makes access decisions and manages identity grants.
type Decider struct {
	store    store.Store
	provider identity.Provider
	resolver *permissionResolver
	sink     EventSink
	now      func() time.Time
}

// NewDecider builds a decider. The identity provider and event sink are
// optional; a nil provider disables claims mirroring and a nil sink
// disables event emission.
func NewDecider(st store.Store, provider identity.Provider, sink EventSink) *Decider {
	return &Decider{
		store:    st,
		provider: provider,
		resolver: newPermissionResolver(),
		sink:     sink,
		now:      time.Now,
	}
}

// RegisterEndpoint adds an endpoint permission rule. Patterns may contain *
// wildcards.
func (d *Decider) RegisterEndpoint(pattern string, permissions []string) {
	d.resolver.register(pattern, permissions)
}

// DefaultGrant synthesizes the low-privilege grant used when an identity has
// no stored grant, or its grant is revoked or expired.
func DefaultGrant(identityID string) *models.IdentityGrant {
	roles := []models.Role{models.RoleUser}
	return &models.IdentityGrant{
		IdentityID:  identityID,
		Roles:       roles,
		Permissions: PermissionsForRoles(roles),
		AssignedBy:  "system",
		AssignedAt:  time.Now().UTC(),
	}
}

// GrantFor loads the identity's grant, treating revoked and expired grants
// as absent and falling back to the default grant.
func (d *Decider) GrantFor(ctx context.Context, identityID string) (*models.IdentityGrant, error) {
	if identityID == "" {
		return DefaultGrant(""), nil
	}
	var grant models.IdentityGrant
	found, err := d.store.GetOptional(ctx, GrantCollection, identityID, &grant)
	if err != nil {
		return nil, errs.Storage("grant read", err)
	}
	if !found || grant.Revoked || grant.Expired(d.now()) {
		return DefaultGrant(identityID), nil
	}
	return &grant, nil
}

// Decide evaluates the request against the grant. Checks run in a fixed
// order and short-circuit on the first failure.
func (d *Decider) Decide(ctx context.Context, grant *models.IdentityGrant, rc *models.RequestContext) models.AccessDecision {
	timer := time.Now()
	defer func() {
		metrics.EvaluationDuration.WithLabelValues("access").Observe(time.Since(timer).Seconds())
	}()

	if grant == nil {
		grant = DefaultGrant(rc.IdentityID)
	}
	if grant.Revoked || grant.Expired(d.now()) {
		grant = DefaultGrant(grant.IdentityID)
	}

	decision := d.decide(ctx, grant, rc)

	if decision.Allowed {
		metrics.AccessDecisions.WithLabelValues("allow").Inc()
	} else {
		metrics.AccessDecisions.WithLabelValues("deny").Inc()
	}
	d.recordDecision(ctx, grant, rc, decision)
	return decision
}

func (d *Decider) decide(ctx context.Context, grant *models.IdentityGrant, rc *models.RequestContext) models.AccessDecision {
	if grant.Suspended {
		return models.AccessDecision{
			Allowed:   false,
			Reason:    "Identity is suspended",
			RiskScore: 100,
		}
	}

	required := d.resolver.resolve(rc.Service, rc.Endpoint, rc.Action)
	held := grant.HeldPermissions()
	if missing := missingPermissions(held, required); len(missing) > 0 {
		return models.AccessDecision{
			Allowed:             false,
			Reason:              "Insufficient permissions",
			RequiredPermissions: required,
			MissingPermissions:  missing,
			RiskScore:           d.riskScore(grant, rc),
		}
	}

	var applied []string
	if r := grant.Restrictions; r != nil {
		if r.TimeWindow != nil {
			applied = append(applied, "time_window")
			if ok, reason := checkTimeRestrictions(r.TimeWindow, rc.Timestamp); !ok {
				return d.deny(reason, required, applied, grant, rc)
			}
		}
		if len(r.AllowedIPs) > 0 {
			applied = append(applied, "ip_allowlist")
			if ok, reason := checkIPRestrictions(r.AllowedIPs, rc.SourceIP); !ok {
				return d.deny(reason, required, applied, grant, rc)
			}
		}
	}

	if ok, reason := checkOwnership(grant, rc); !ok {
		return d.deny(reason, required, applied, grant, rc)
	}

	if r := grant.Restrictions; r != nil && r.Quotas != nil {
		applied = append(applied, "quotas")
		ok, reason, err := d.checkQuotas(ctx, r.Quotas, grant.IdentityID, rc)
		if err != nil {
			// Fail closed: a quota we cannot count is a quota we cannot
			// verify.
			logging.Err(err).Str("identity_id", grant.IdentityID).Msg("quota check failed")
			metrics.EvaluationFaults.WithLabelValues("access").Inc()
			return d.deny("Access evaluation failed", required, applied, grant, rc)
		}
		if !ok {
			return d.deny(reason, required, applied, grant, rc)
		}
	}

	return models.AccessDecision{
		Allowed:             true,
		Reason:              "Access granted",
		RequiredPermissions: required,
		AppliedRestrictions: applied,
		RiskScore:           d.riskScore(grant, rc),
	}
}

func (d *Decider) deny(reason string, required, applied []string, grant *models.IdentityGrant, rc *models.RequestContext) models.AccessDecision {
	risk := d.riskScore(grant, rc) + 15
	if risk > 100 {
		risk = 100
	}
	return models.AccessDecision{
		Allowed:             false,
		Reason:              reason,
		RequiredPermissions: required,
		AppliedRestrictions: applied,
		RiskScore:           risk,
	}
}

// checkQuotas counts the identity's recent activity from the persistence
// layer and compares it against the grant's numeric limits.
func (d *Decider) checkQuotas(ctx context.Context, q *models.Quotas, identityID string, rc *models.RequestContext) (bool, string, error) {
	if identityID == "" {
		return true, "", nil
	}
	now := d.now().UTC()

	if q.APICallsPerHour > 0 {
		count, err := d.countEvents(ctx, identityID, now.Add(-time.Hour), nil)
		if err != nil {
			return false, "", err
		}
		if count >= q.APICallsPerHour {
			return false, fmt.Sprintf("API call quota exceeded (%d/hour)", q.APICallsPerHour), nil
		}
	}

	if q.ResourceCreatesPerDay > 0 && strings.ToUpper(rc.Action) == "POST" {
		creates := store.Filter{Field: "action", Op: store.OpEqual, Value: "POST"}
		count, err := d.countEvents(ctx, identityID, now.Add(-24*time.Hour), &creates)
		if err != nil {
			return false, "", err
		}
		if count >= q.ResourceCreatesPerDay {
			return false, fmt.Sprintf("Resource creation quota exceeded (%d/day)", q.ResourceCreatesPerDay), nil
		}
	}

	return true, "", nil
}

// countEvents counts stored security events for the identity since the
// cutoff. Timestamps are persisted in UTC RFC 3339 form, so the range
// filter compares correctly as strings.
func (d *Decider) countEvents(ctx context.Context, identityID string, since time.Time, extra *store.Filter) (int, error) {
	filters := []store.Filter{
		{Field: "identity_id", Op: store.OpEqual, Value: identityID},
		{Field: "timestamp", Op: store.OpGreaterEqual, Value: since.Format(time.RFC3339Nano)},
	}
	if extra != nil {
		filters = append(filters, *extra)
	}
	raws, err := d.store.Query(ctx, store.QuerySpec{Collection: EventCollection, Filters: filters})
	if err != nil {
		return 0, errs.Storage("quota count", err)
	}
	return len(raws), nil
}

// sensitiveFragments weight endpoints whose compromise is costly.
var sensitiveFragments = map[string]int{
	"admin":    30,
	"payments": 25,
	"security": 25,
	"config":   20,
	"users":    15,
}

// riskScore estimates the blast radius of the request: broadest held role,
// endpoint sensitivity, verb weight, and an off-hours bonus, capped at 100.
func (d *Decider) riskScore(grant *models.IdentityGrant, rc *models.RequestContext) int {
	score := maxRoleWeight(grant.Roles)

	sensitivity := 0
	endpoint := strings.ToLower(rc.Endpoint)
	for fragment, weight := range sensitiveFragments {
		if strings.Contains(endpoint, fragment) && weight > sensitivity {
			sensitivity = weight
		}
	}
	score += sensitivity

	switch strings.ToUpper(rc.Action) {
	case "DELETE":
		score += 20
	case "POST", "PUT", "PATCH":
		score += 10
	default:
		score += 5
	}

	hour := rc.Timestamp.UTC().Hour()
	if hour < 6 || hour >= 22 {
		score += 10
	}

	if score > 100 {
		score = 100
	}
	return score
}

// recordDecision persists and forwards the decision as a security event.
// Event emission is best effort and never blocks or fails the decision.
func (d *Decider) recordDecision(ctx context.Context, grant *models.IdentityGrant, rc *models.RequestContext, decision models.AccessDecision) {
	if d.sink == nil {
		return
	}
	outcome := "allowed"
	severity := models.SeverityLow
	if !decision.Allowed {
		outcome = "denied"
		severity = models.SeverityMedium
	}
	event := &models.SecurityEvent{
		ID:         uuid.NewString(),
		Type:       models.EventAuthorization,
		Severity:   severity,
		IdentityID: grant.IdentityID,
		SourceIP:   rc.SourceIP,
		Service:    rc.Service,
		Endpoint:   rc.Endpoint,
		Action:     rc.Action,
		Outcome:    outcome,
		Detail:     decision.Reason,
		Risk: models.RiskAssessment{
			Score:      decision.RiskScore,
			Factors:    decision.AppliedRestrictions,
			Confidence: 0.95,
		},
		Timestamp: rc.Timestamp.UTC(),
	}
	if err := d.sink.Ingest(ctx, event); err != nil {
		logging.Err(err).Str("event_id", event.ID).Msg("access event ingestion failed")
	}
}
