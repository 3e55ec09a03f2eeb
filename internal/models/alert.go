// Aegis - Security Decision and Response Engine
// Copyright 2026 Aegis Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/aegis-sec/aegis

package models

import "time"

// RuleActionType enumerates what a monitoring rule does when it fires.
type RuleActionType string

const (
	RuleActionAlert    RuleActionType = "alert"
	RuleActionBlock    RuleActionType = "block"
	RuleActionEscalate RuleActionType = "escalate"
	RuleActionNotify   RuleActionType = "notify"
)

// RuleAction is one firing action; Recipients applies to notify actions.
type RuleAction struct {
	Type       RuleActionType `json:"type"`
	Recipients []string       `json:"recipients,omitempty"`
}

// MonitoringRule matches events against a sliding-window threshold and
// produces alerts. Only the trigger-count bookkeeping mutates after creation.
type MonitoringRule struct {
	ID            string       `json:"id"`
	Name          string       `json:"name" validate:"required"`
	Enabled       bool         `json:"enabled"`
	EventTypes    []EventType  `json:"event_types" validate:"min=1"`
	MinSeverity   Severity     `json:"min_severity,omitempty"` // empty = any
	WindowMinutes int          `json:"window_minutes" validate:"min=1"`
	Threshold     int          `json:"threshold" validate:"min=1"`
	GroupBy       string       `json:"group_by,omitempty"` // event field path
	Actions       []RuleAction `json:"actions"`
	TriggerCount  int64        `json:"trigger_count"`
	LastTriggered *time.Time   `json:"last_triggered,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
}

// Matches reports whether the rule's event-type set and severity filter
// accept the event.
func (r *MonitoringRule) Matches(event *SecurityEvent) bool {
	if !r.Enabled {
		return false
	}
	typeOK := false
	for _, t := range r.EventTypes {
		if t == event.Type {
			typeOK = true
			break
		}
	}
	if !typeOK {
		return false
	}
	if r.MinSeverity != "" && event.Severity.Rank() < r.MinSeverity.Rank() {
		return false
	}
	return true
}

// AlertStatus tracks investigation state of an alert.
type AlertStatus string

const (
	AlertActive        AlertStatus = "active"
	AlertInvestigating AlertStatus = "investigating"
	AlertResolved      AlertStatus = "resolved"
	AlertFalsePositive AlertStatus = "false_positive"
)

// AlertResponse records what was done about an alert.
type AlertResponse struct {
	Automated    bool          `json:"automated"`
	ActionsTaken []string      `json:"actions_taken,omitempty"`
	Escalated    bool          `json:"escalated"`
	NotifiedTo   []string      `json:"notified_to,omitempty"`
	Latency      time.Duration `json:"latency_ms,omitempty"`
}

// SecurityAlert aggregates correlated events that satisfied one or more
// monitoring rules. Severity is the maximum among constituent events.
type SecurityAlert struct {
	ID          string        `json:"id"`
	Severity    Severity      `json:"severity"`
	Title       string        `json:"title"`
	Description string        `json:"description"`
	EventIDs    []string      `json:"event_ids"`
	RuleIDs     []string      `json:"rule_ids"`
	Status      AlertStatus   `json:"status"`
	Response    AlertResponse `json:"response"`
	// DedupKey identifies the rule firing this alert is bound to, so
	// re-ingesting the same events does not produce a duplicate.
	DedupKey  string    `json:"dedup_key,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
