// Aegis - Security Decision and Response Engine
// Copyright 2026 Aegis Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/aegis-sec/aegis

// Package models defines the domain types shared by the engine components:
// request contexts, grants, decisions, findings, events, policies, rules,
// alerts, incidents, and playbooks.
package models

import (
	"time"

	"github.com/goccy/go-json"
)

// Severity indicates the severity of a finding, event, alert, or incident.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// severityRanks orders severities for comparison.
var severityRanks = map[Severity]int{
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// Rank returns the ordinal rank of the severity (unknown severities rank 0).
func (s Severity) Rank() int {
	return severityRanks[s]
}

// MaxSeverity returns the higher of two severities.
func MaxSeverity(a, b Severity) Severity {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// EventType classifies a security event.
type EventType string

const (
	EventAuthentication EventType = "authentication"
	EventAuthorization  EventType = "authorization"
	EventDataAccess     EventType = "data_access"
	EventThreatDetected EventType = "threat_detected"
	EventPolicyViolated EventType = "policy_violation"
	EventConfigChange   EventType = "config_change"
	EventIncidentUpdate EventType = "incident_update"
)

// RelatedEventTypes is the symmetric table used by correlation: events of
// related types from the same source or identity within the correlation
// window are linked.
var RelatedEventTypes = map[EventType][]EventType{
	EventAuthentication: {EventAuthorization, EventDataAccess},
	EventAuthorization:  {EventAuthentication, EventDataAccess, EventPolicyViolated},
	EventDataAccess:     {EventAuthentication, EventAuthorization, EventThreatDetected},
	EventThreatDetected: {EventDataAccess, EventPolicyViolated},
	EventPolicyViolated: {EventAuthorization, EventThreatDetected},
}

// ResourceDescriptor describes the resource a request targets.
type ResourceDescriptor struct {
	ID         string `json:"id,omitempty"`
	OwnerID    string `json:"owner_id,omitempty"`
	Visibility string `json:"visibility,omitempty"` // private, public
}

// Public reports whether the resource is explicitly marked public.
func (r ResourceDescriptor) Public() bool {
	return r.Visibility == "public"
}

// RequestContext carries everything the engine needs to evaluate one inbound
// action. It is constructed once by the caller and treated as immutable for
// the duration of the evaluation.
type RequestContext struct {
	IdentityID string             `json:"identity_id,omitempty"`
	SourceIP   string             `json:"source_ip"`
	UserAgent  string             `json:"user_agent,omitempty"`
	Service    string             `json:"service"`
	Endpoint   string             `json:"endpoint"`
	Action     string             `json:"action"` // HTTP-style verb: GET, POST, PUT, PATCH, DELETE
	Resource   ResourceDescriptor `json:"resource"`
	Payload    json.RawMessage    `json:"payload,omitempty"`
	Timestamp  time.Time          `json:"timestamp"`
}

// Role is one of the fixed platform roles.
type Role string

const (
	RoleAdmin       Role = "admin"
	RoleModerator   Role = "moderator"
	RoleAuditor     Role = "auditor"
	RoleCreator     Role = "creator"
	RoleContributor Role = "contributor"
	RoleUser        Role = "user"
)

// Restrictions constrain when and from where an identity may act.
type Restrictions struct {
	// AllowedIPs lists exact addresses or CIDR ranges.
	AllowedIPs []string `json:"allowed_ips,omitempty"`

	// TimeWindow limits access to certain days and hours.
	TimeWindow *TimeWindow `json:"time_window,omitempty"`

	// Quotas caps request volume per identity per window.
	Quotas *Quotas `json:"quotas,omitempty"`
}

// TimeWindow describes an allowed access window. StartHour > EndHour denotes
// an overnight range that wraps midnight (e.g. 22..6).
type TimeWindow struct {
	AllowedDays []time.Weekday `json:"allowed_days,omitempty"` // empty = all days
	StartHour   int            `json:"start_hour"`
	EndHour     int            `json:"end_hour"`
	Timezone    string         `json:"timezone,omitempty"` // IANA name, default UTC
}

// Location resolves the window's timezone, defaulting to UTC.
func (w *TimeWindow) Location() *time.Location {
	if w.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(w.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// AllowsDay reports whether t falls on an allowed weekday. An empty
// AllowedDays list allows every day.
func (w *TimeWindow) AllowsDay(t time.Time) bool {
	if len(w.AllowedDays) == 0 {
		return true
	}
	day := t.In(w.Location()).Weekday()
	for _, d := range w.AllowedDays {
		if d == day {
			return true
		}
	}
	return false
}

// AllowsHour reports whether t falls inside the hour range. A StartHour
// greater than EndHour wraps past midnight.
func (w *TimeWindow) AllowsHour(t time.Time) bool {
	hour := t.In(w.Location()).Hour()
	if w.StartHour <= w.EndHour {
		return hour >= w.StartHour && hour < w.EndHour
	}
	return hour >= w.StartHour || hour < w.EndHour
}

// Contains reports whether t is inside the window on both axes.
func (w *TimeWindow) Contains(t time.Time) bool {
	return w.AllowsDay(t) && w.AllowsHour(t)
}

// Quotas are per-identity numeric limits counted over sliding windows.
type Quotas struct {
	APICallsPerHour       int `json:"api_calls_per_hour,omitempty"`
	ResourceCreatesPerDay int `json:"resource_creates_per_day,omitempty"`
}

// IdentityGrant binds an identity to roles, computed permissions, and
// restrictions. A grant past its expiry is treated as absent at read time.
type IdentityGrant struct {
	IdentityID   string        `json:"identity_id"`
	Roles        []Role        `json:"roles"`
	Permissions  []string      `json:"permissions"` // role-derived union
	Overrides    []string      `json:"overrides,omitempty"`
	Restrictions *Restrictions `json:"restrictions,omitempty"`
	Suspended    bool          `json:"suspended"`
	AssignedBy   string        `json:"assigned_by,omitempty"`
	AssignedAt   time.Time     `json:"assigned_at"`
	ExpiresAt    *time.Time    `json:"expires_at,omitempty"`
	Revoked      bool          `json:"revoked"`
}

// Expired reports whether the grant has passed its expiry.
func (g *IdentityGrant) Expired(now time.Time) bool {
	return g.ExpiresAt != nil && now.After(*g.ExpiresAt)
}

// HeldPermissions returns the union of role-derived permissions and custom
// overrides.
func (g *IdentityGrant) HeldPermissions() []string {
	seen := make(map[string]struct{}, len(g.Permissions)+len(g.Overrides))
	held := make([]string, 0, len(g.Permissions)+len(g.Overrides))
	for _, p := range g.Permissions {
		if _, ok := seen[p]; !ok {
			seen[p] = struct{}{}
			held = append(held, p)
		}
	}
	for _, p := range g.Overrides {
		if _, ok := seen[p]; !ok {
			seen[p] = struct{}{}
			held = append(held, p)
		}
	}
	return held
}

// AccessDecision is the result of one access evaluation. It is logged, not
// persisted as an entity.
type AccessDecision struct {
	Allowed             bool     `json:"allowed"`
	Reason              string   `json:"reason"`
	RequiredPermissions []string `json:"required_permissions,omitempty"`
	MissingPermissions  []string `json:"missing_permissions,omitempty"`
	AppliedRestrictions []string `json:"applied_restrictions,omitempty"`
	RiskScore           int      `json:"risk_score"` // 0-100
}

// ThreatType classifies a threat finding.
type ThreatType string

const (
	ThreatRateLimit          ThreatType = "rate_limit"
	ThreatBruteForce         ThreatType = "brute_force"
	ThreatSuspiciousBehavior ThreatType = "suspicious_behavior"
	ThreatGeoAnomaly         ThreatType = "geo_anomaly"
	ThreatInjectionAttempt   ThreatType = "injection_attempt"
	ThreatDataExfiltration   ThreatType = "data_exfiltration"
)

// ResponseTaken records the enforcement applied to a finding.
type ResponseTaken string

const (
	ResponseLogged      ResponseTaken = "logged"
	ResponseBlocked     ResponseTaken = "blocked"
	ResponseRateLimited ResponseTaken = "rate_limited"
)

// ThreatFinding is one detector's conclusion about a request. Findings are
// persisted and never mutated except to record the enforcement action taken.
type ThreatFinding struct {
	ID            string        `json:"id"`
	Type          ThreatType    `json:"type"`
	Severity      Severity      `json:"severity"`
	Source        string        `json:"source"` // source IP or identity descriptor
	Detail        string        `json:"detail"`
	RiskScore     int           `json:"risk_score"`                 // 0-100
	Confidence    float64       `json:"confidence"`                 // 0-1
	FalsePositive float64       `json:"false_positive_probability"` // 0-1
	Response      ResponseTaken `json:"response"`
	DetectedAt    time.Time     `json:"detected_at"`
}

// RiskAssessment quantifies the risk attached to a security event.
type RiskAssessment struct {
	Score      int      `json:"score"` // 0-100
	Factors    []string `json:"factors,omitempty"`
	Confidence float64  `json:"confidence"` // 0-1
}

// EventCorrelation carries the event's correlation hooks: session key, trace
// id, and links to related events attached by the correlator.
type EventCorrelation struct {
	SessionKey      string   `json:"session_key,omitempty"`
	TraceID         string   `json:"trace_id,omitempty"`
	RelatedEventIDs []string `json:"related_event_ids,omitempty"`
	AlertIDs        []string `json:"alert_ids,omitempty"`
}

// SecurityEvent is the normalized record of a security-relevant occurrence.
// Immutable once created, except for correlation links and alert references.
type SecurityEvent struct {
	ID          string           `json:"id"`
	Type        EventType        `json:"type"`
	Severity    Severity         `json:"severity"`
	IdentityID  string           `json:"identity_id,omitempty"`
	SourceIP    string           `json:"source_ip,omitempty"`
	Service     string           `json:"service,omitempty"`
	Endpoint    string           `json:"endpoint,omitempty"`
	Action      string           `json:"action,omitempty"`
	Outcome     string           `json:"outcome,omitempty"` // allowed, denied, blocked, flagged
	Detail      string           `json:"detail,omitempty"`
	Risk        RiskAssessment   `json:"risk"`
	Correlation EventCorrelation `json:"correlation"`
	Timestamp   time.Time        `json:"timestamp"`
}

// GroupKey extracts the value of a named field for rule group-by
// partitioning. Supported paths mirror the queryable event fields.
func (e *SecurityEvent) GroupKey(field string) string {
	switch field {
	case "identity_id":
		return e.IdentityID
	case "source_ip":
		return e.SourceIP
	case "service":
		return e.Service
	case "endpoint":
		return e.Endpoint
	case "action":
		return e.Action
	case "outcome":
		return e.Outcome
	case "correlation.session_key":
		return e.Correlation.SessionKey
	default:
		return ""
	}
}
