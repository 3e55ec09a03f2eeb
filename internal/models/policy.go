// Aegis - Security Decision and Response Engine
// Copyright 2026 Aegis Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/aegis-sec/aegis

package models

import "time"

// PolicyCategory groups policies for risk weighting.
type PolicyCategory string

const (
	CategoryAccessControl  PolicyCategory = "access_control"
	CategoryDataProtection PolicyCategory = "data_protection"
	CategoryThreatResponse PolicyCategory = "threat_response"
	CategoryCompliance     PolicyCategory = "compliance"
	CategoryOperational    PolicyCategory = "operational"
)

// PolicyPriority weights a fired policy's risk contribution.
type PolicyPriority string

const (
	PriorityLow      PolicyPriority = "low"
	PriorityMedium   PolicyPriority = "medium"
	PriorityHigh     PolicyPriority = "high"
	PriorityCritical PolicyPriority = "critical"
)

// EnforcementMode controls whether a fired policy can deny a request.
type EnforcementMode string

const (
	EnforcementAdvisory  EnforcementMode = "advisory"
	EnforcementBlocking  EnforcementMode = "blocking"
	EnforcementAuditOnly EnforcementMode = "audit_only"
)

// TargetType selects what a scope matcher applies to.
type TargetType string

const (
	TargetIdentity TargetType = "identity"
	TargetRole     TargetType = "role"
	TargetIP       TargetType = "ip"
	TargetEndpoint TargetType = "endpoint"
	TargetResource TargetType = "resource"
	TargetService  TargetType = "service"
	TargetGlobal   TargetType = "global"
)

// TargetMatcher matches one aspect of a request. Endpoint values may be glob
// patterns or anchored regular expressions.
type TargetMatcher struct {
	Type  TargetType `json:"type"`
	Value string     `json:"value,omitempty"` // unused for global
}

// PolicyScope selects which requests a policy applies to. Exclusions override
// inclusions.
type PolicyScope struct {
	Targets    []TargetMatcher `json:"targets"`
	Exclusions []TargetMatcher `json:"exclusions,omitempty"`
}

// TriggerType selects how a trigger fires.
type TriggerType string

const (
	TriggerEventMatch     TriggerType = "event_match"
	TriggerFieldCondition TriggerType = "field_condition"
	TriggerThreshold      TriggerType = "threshold"
	TriggerSequence       TriggerType = "sequence"
	TriggerSchedule       TriggerType = "schedule"
)

// ConditionOperator compares a field value against a reference.
type ConditionOperator string

const (
	OpEquals      ConditionOperator = "equals"
	OpNotEquals   ConditionOperator = "not_equals"
	OpGreaterThan ConditionOperator = "greater_than"
	OpLessThan    ConditionOperator = "less_than"
	OpContains    ConditionOperator = "contains"
	OpRegex       ConditionOperator = "regex"
)

// PolicyTrigger fires when its condition is met. A policy fires when any of
// its triggers fire.
type PolicyTrigger struct {
	Type TriggerType `json:"type"`

	// EventType for event_match triggers.
	EventType EventType `json:"event_type,omitempty"`

	// FieldPath/Operator/Value for field_condition triggers. FieldPath is a
	// dotted path into the request payload or context.
	FieldPath string            `json:"field_path,omitempty"`
	Operator  ConditionOperator `json:"operator,omitempty"`
	Value     string            `json:"value,omitempty"`

	// Metric/Threshold/WindowMinutes for threshold triggers against a named
	// sliding-window metric.
	Metric        string `json:"metric,omitempty"`
	Threshold     int    `json:"threshold,omitempty"`
	WindowMinutes int    `json:"window_minutes,omitempty"`

	// Sequence is an ordered action pattern matched as a subsequence of the
	// identity's recent event actions.
	Sequence []string `json:"sequence,omitempty"`

	// Schedule for schedule triggers: fire inside this window.
	Schedule *TimeWindow `json:"schedule,omitempty"`
}

// PolicyActionType enumerates enforcement actions a policy can request.
type PolicyActionType string

const (
	ActionBlock       PolicyActionType = "block"
	ActionAlert       PolicyActionType = "alert"
	ActionLog         PolicyActionType = "log"
	ActionRedirect    PolicyActionType = "redirect"
	ActionThrottle    PolicyActionType = "throttle"
	ActionQuarantine  PolicyActionType = "quarantine"
	ActionRequireAuth PolicyActionType = "require_auth"
	ActionRequireMFA  PolicyActionType = "require_mfa"
)

// PolicyAction is one enforcement action with optional parameters
// (e.g. a redirect target or throttle rate).
type PolicyAction struct {
	Type   PolicyActionType  `json:"type"`
	Params map[string]string `json:"params,omitempty"`
}

// PolicyException exempts a target from the policy until it expires.
// Exemptions always force allow.
type PolicyException struct {
	ID        string        `json:"id"`
	Target    TargetMatcher `json:"target"`
	Reason    string        `json:"reason,omitempty"`
	GrantedBy string        `json:"granted_by,omitempty"`
	ExpiresAt time.Time     `json:"expires_at"`
}

// Valid reports whether the exception is still in force.
func (e *PolicyException) Valid(now time.Time) bool {
	return now.Before(e.ExpiresAt)
}

// PolicyMetrics carries rolling bookkeeping counters for a policy.
type PolicyMetrics struct {
	TriggerCount   int64      `json:"trigger_count"`
	ViolationCount int64      `json:"violation_count"`
	ExemptionCount int64      `json:"exemption_count"`
	LastTriggered  *time.Time `json:"last_triggered,omitempty"`
}

// EscalationConfig controls violation escalation: when ViolationThreshold
// violations accumulate within WindowMinutes, the violation is marked
// escalated and the escalation actions fire.
type EscalationConfig struct {
	ViolationThreshold int            `json:"violation_threshold"`
	WindowMinutes      int            `json:"window_minutes"`
	Actions            []PolicyAction `json:"actions,omitempty"`
}

// SecurityPolicy is an operator-defined trigger/scope/action rule. Policies
// are archived (disabled) rather than hard-deleted to preserve the audit
// trail.
type SecurityPolicy struct {
	ID          string            `json:"id"`
	Name        string            `json:"name" validate:"required"`
	Description string            `json:"description,omitempty"`
	Category    PolicyCategory    `json:"category" validate:"required"`
	Priority    PolicyPriority    `json:"priority" validate:"required,oneof=low medium high critical"`
	Enabled     bool              `json:"enabled"`
	Archived    bool              `json:"archived"`
	Scope       PolicyScope       `json:"scope"`
	Triggers    []PolicyTrigger   `json:"triggers"`
	Actions     []PolicyAction    `json:"actions"`
	Enforcement EnforcementMode   `json:"enforcement"`
	Exceptions  []PolicyException `json:"exceptions,omitempty"`
	Escalation  *EscalationConfig `json:"escalation,omitempty"`
	Metrics     PolicyMetrics     `json:"metrics"`
	ValidFrom   *time.Time        `json:"valid_from,omitempty"`
	ValidUntil  *time.Time        `json:"valid_until,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// InWindow reports whether the policy is inside its validity window.
func (p *SecurityPolicy) InWindow(now time.Time) bool {
	if p.ValidFrom != nil && now.Before(*p.ValidFrom) {
		return false
	}
	if p.ValidUntil != nil && now.After(*p.ValidUntil) {
		return false
	}
	return true
}

// PolicyViolation records one fired policy for asynchronous persistence and
// escalation bookkeeping.
type PolicyViolation struct {
	ID         string         `json:"id"`
	PolicyID   string         `json:"policy_id"`
	IdentityID string         `json:"identity_id,omitempty"`
	SourceIP   string         `json:"source_ip,omitempty"`
	Endpoint   string         `json:"endpoint,omitempty"`
	Actions    []PolicyAction `json:"actions"`
	RiskScore  int            `json:"risk_score"`
	Escalated  bool           `json:"escalated"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Recommendation summarizes the policy engine's verdict.
type Recommendation string

const (
	RecommendAllow   Recommendation = "allow"
	RecommendMonitor Recommendation = "monitor"
	RecommendWarn    Recommendation = "warn"
	RecommendBlock   Recommendation = "block"
)

// EnforcementResult is the outcome of one policy evaluation pass.
type EnforcementResult struct {
	Allowed          bool           `json:"allowed"`
	ViolatedPolicies []string       `json:"violated_policies"`
	AppliedActions   []PolicyAction `json:"applied_actions"`
	Exemptions       []string       `json:"exemptions"`
	RiskScore        int            `json:"risk_score"`
	Recommendation   Recommendation `json:"recommendation"`
}
