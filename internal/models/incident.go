// Aegis - Security Decision and Response Engine
// Copyright 2026 Aegis Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/aegis-sec/aegis

package models

import "time"

// IncidentStatus is a state in the incident lifecycle.
type IncidentStatus string

const (
	IncidentNew           IncidentStatus = "new"
	IncidentAssigned      IncidentStatus = "assigned"
	IncidentInvestigating IncidentStatus = "investigating"
	IncidentContained     IncidentStatus = "contained"
	IncidentResolved      IncidentStatus = "resolved"
	IncidentClosed        IncidentStatus = "closed"
)

// IncidentCategory classifies an incident for playbook selection.
type IncidentCategory string

const (
	CategoryIntrusion       IncidentCategory = "intrusion"
	CategoryCredentialAbuse IncidentCategory = "credential_abuse"
	CategoryDataBreach      IncidentCategory = "data_breach"
	CategoryAbuse           IncidentCategory = "abuse"
	CategoryPolicyBreach    IncidentCategory = "policy_breach"
)

// IncidentTimeline stamps each lifecycle transition.
type IncidentTimeline struct {
	DetectedAt     time.Time  `json:"detected_at"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
	InvestigatedAt *time.Time `json:"investigated_at,omitempty"`
	ContainedAt    *time.Time `json:"contained_at,omitempty"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
	ClosedAt       *time.Time `json:"closed_at,omitempty"`
}

// IncidentSource records where an incident came from.
type IncidentSource struct {
	AlertID    string  `json:"alert_id,omitempty"`
	EventID    string  `json:"event_id,omitempty"`
	EventType  string  `json:"event_type,omitempty"`
	Confidence float64 `json:"confidence"` // 0-1
}

// IncidentScope estimates the blast radius.
type IncidentScope struct {
	AffectedSystems    []string `json:"affected_systems,omitempty"`
	AffectedIdentities []string `json:"affected_identities,omitempty"`
	DataTypes          []string `json:"data_types,omitempty"`
	ImpactEstimate     string   `json:"impact_estimate,omitempty"`
}

// CustodyEntry is one append-only chain-of-custody record on an artifact.
type CustodyEntry struct {
	Action    string    `json:"action"` // collected, transferred, analyzed, archived
	Actor     string    `json:"actor"`
	Timestamp time.Time `json:"timestamp"`
	Note      string    `json:"note,omitempty"`
}

// EvidenceArtifact is a collected artifact with its custody log. Artifacts
// are never removed, only appended to.
type EvidenceArtifact struct {
	ID         string         `json:"id"`
	IncidentID string         `json:"incident_id"`
	Kind       string         `json:"kind"` // log_excerpt, pcap, snapshot, hash
	Reference  string         `json:"reference"`
	Custody    []CustodyEntry `json:"custody"`
	AddedAt    time.Time      `json:"added_at"`
}

// IncidentEvidence links events, alerts, and collected artifacts.
type IncidentEvidence struct {
	EventIDs  []string           `json:"event_ids,omitempty"`
	AlertIDs  []string           `json:"alert_ids,omitempty"`
	Artifacts []EvidenceArtifact `json:"artifacts,omitempty"`
}

// ResponseActionType enumerates playbook response steps.
type ResponseActionType string

const (
	RespInvestigate ResponseActionType = "investigate"
	RespContain     ResponseActionType = "contain"
	RespEradicate   ResponseActionType = "eradicate"
	RespRecover     ResponseActionType = "recover"
	RespDocument    ResponseActionType = "document"
	RespNotify      ResponseActionType = "notify"
)

// ActionState tracks a response action's progress.
type ActionState string

const (
	ActionPending   ActionState = "pending"
	ActionExecuting ActionState = "executing"
	ActionCompleted ActionState = "completed"
	ActionFailed    ActionState = "failed"
)

// ResponseAction is a concrete step instantiated from a playbook template.
type ResponseAction struct {
	ID          string             `json:"id"`
	Type        ResponseActionType `json:"type"`
	Description string             `json:"description"`
	AssignedTo  string             `json:"assigned_to,omitempty"`
	Automated   bool               `json:"automated"`
	DependsOn   []string           `json:"depends_on,omitempty"`
	State       ActionState        `json:"state"`
	StartedAt   *time.Time         `json:"started_at,omitempty"`
	CompletedAt *time.Time         `json:"completed_at,omitempty"`
	Result      string             `json:"result,omitempty"`
}

// ContainmentType enumerates automated containment actions.
type ContainmentType string

const (
	ContainIsolateSystem  ContainmentType = "isolate_system"
	ContainBlockIP        ContainmentType = "block_ip"
	ContainDisableAccount ContainmentType = "disable_account"
	ContainQuarantineFile ContainmentType = "quarantine_file"
	ContainSegmentNetwork ContainmentType = "segment_network"
	ContainBackupData     ContainmentType = "backup_data"
)

// ContainmentAction records one executed containment with its outcome
// contract: success, effectiveness estimate, and declared side effects.
type ContainmentAction struct {
	ID            string          `json:"id"`
	Type          ContainmentType `json:"type"`
	Target        string          `json:"target"`
	Success       bool            `json:"success"`
	Effectiveness float64         `json:"effectiveness"` // 0-1
	SideEffects   []string        `json:"side_effects,omitempty"`
	Error         string          `json:"error,omitempty"`
	ExecutedAt    time.Time       `json:"executed_at"`
}

// IncidentResponse groups assignment and executed actions.
type IncidentResponse struct {
	Assignee     string              `json:"assignee,omitempty"`
	Team         []TeamMember        `json:"team,omitempty"`
	Actions      []ResponseAction    `json:"actions,omitempty"`
	Containments []ContainmentAction `json:"containments,omitempty"`
}

// TeamMember is a responder with the roles they can fill.
type TeamMember struct {
	ID    string   `json:"id"`
	Name  string   `json:"name"`
	Roles []string `json:"roles,omitempty"`
}

// IncidentAnalysis captures investigation conclusions.
type IncidentAnalysis struct {
	RootCause  string   `json:"root_cause,omitempty"`
	Tactics    []string `json:"attack_tactics,omitempty"`    // ATT&CK tactic names
	Techniques []string `json:"attack_techniques,omitempty"` // ATT&CK technique ids
	IOCs       []string `json:"indicators_of_compromise,omitempty"`
}

// IncidentRemediation lists follow-up work by horizon.
type IncidentRemediation struct {
	Immediate []string `json:"immediate,omitempty"`
	ShortTerm []string `json:"short_term,omitempty"`
	LongTerm  []string `json:"long_term,omitempty"`
}

// IncidentMetrics are derived latencies, recomputed on every transition.
// A latency is unset (nil) until its timeline field is stamped.
type IncidentMetrics struct {
	ResponseTime    *time.Duration `json:"response_time,omitempty"`    // acknowledged - detected
	ContainmentTime *time.Duration `json:"containment_time,omitempty"` // contained - detected
	ResolutionTime  *time.Duration `json:"resolution_time,omitempty"`  // resolved - detected
}

// SecurityIncident is the tracked response record. All substructures are
// mutated only through IncidentManager methods.
type SecurityIncident struct {
	ID          string              `json:"id"`
	Title       string              `json:"title"`
	Description string              `json:"description"`
	Severity    Severity            `json:"severity"`
	Status      IncidentStatus      `json:"status"`
	Category    IncidentCategory    `json:"category"`
	Timeline    IncidentTimeline    `json:"timeline"`
	Source      IncidentSource      `json:"source"`
	Scope       IncidentScope       `json:"scope"`
	Evidence    IncidentEvidence    `json:"evidence"`
	Response    IncidentResponse    `json:"response"`
	Analysis    IncidentAnalysis    `json:"analysis"`
	Remediation IncidentRemediation `json:"remediation"`
	Metrics     IncidentMetrics     `json:"metrics"`
	Priority    int                 `json:"priority"` // 0-100
	Notes       []IncidentNote      `json:"notes,omitempty"`
	PlaybookID  string              `json:"playbook_id,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

// IncidentNote is an investigator comment on the timeline.
type IncidentNote struct {
	Author    string    `json:"author"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// ActionTemplate is a playbook step template.
type ActionTemplate struct {
	Type          ResponseActionType `json:"type"`
	Description   string             `json:"description"`
	RequiredRoles []string           `json:"required_roles,omitempty"`
	Automated     bool               `json:"automated"`
	DependsOn     []string           `json:"depends_on,omitempty"`
}

// EscalationRuleType enumerates playbook escalation conditions.
type EscalationRuleType string

const (
	EscalateTimeExceeded      EscalationRuleType = "time_exceeded"
	EscalateSeverityIncreased EscalationRuleType = "severity_increased"
	EscalateContainmentFailed EscalationRuleType = "containment_failed"
)

// EscalationRule describes when and to whom a playbook escalates.
type EscalationRule struct {
	Type       EscalationRuleType `json:"type"`
	AfterMins  int                `json:"after_minutes,omitempty"`
	Recipients []string           `json:"recipients,omitempty"`
}

// SLATargets are response deadlines in minutes.
type SLATargets struct {
	AcknowledgmentMins int `json:"acknowledgment_minutes"`
	ContainmentMins    int `json:"containment_minutes"`
	ResolutionMins     int `json:"resolution_minutes"`
}

// Playbook templates the response to a class of incident, keyed by category
// and applicable severities. First matching playbook wins.
type Playbook struct {
	ID         string           `json:"id"`
	Name       string           `json:"name" validate:"required"`
	Category   IncidentCategory `json:"category" validate:"required"`
	Severities []Severity       `json:"severities" validate:"min=1"`
	Actions    []ActionTemplate `json:"actions" validate:"min=1"`
	Escalation []EscalationRule `json:"escalation,omitempty"`
	SLA        SLATargets       `json:"sla"`
}

// AppliesTo reports whether the playbook covers the category and severity.
func (p *Playbook) AppliesTo(category IncidentCategory, severity Severity) bool {
	if p.Category != category {
		return false
	}
	for _, s := range p.Severities {
		if s == severity {
			return true
		}
	}
	return false
}
