// Aegis - Security Decision and Response Engine
// Copyright 2026 Aegis Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/aegis-sec/aegis

package correlate

import "github.com/aegis-sec/aegis/internal/models"

// DefaultMonitoringRules returns a baseline rule set covering the common
// attack shapes. Callers register these through AddRule, typically once at
// first startup; deployments replace or extend them at runtime.
func DefaultMonitoringRules() []*models.MonitoringRule {
	return []*models.MonitoringRule{
		{
			ID:            "default-auth-failures",
			Name:          "Repeated authentication failures",
			Enabled:       true,
			EventTypes:    []models.EventType{models.EventAuthentication},
			MinSeverity:   models.SeverityMedium,
			WindowMinutes: 15,
			Threshold:     5,
			GroupBy:       "source_ip",
			Actions: []models.RuleAction{
				{Type: models.RuleActionAlert},
				{Type: models.RuleActionBlock},
			},
		},
		{
			ID:            "default-access-denials",
			Name:          "Burst of permission denials",
			Enabled:       true,
			EventTypes:    []models.EventType{models.EventAuthorization},
			MinSeverity:   models.SeverityMedium,
			WindowMinutes: 10,
			Threshold:     10,
			GroupBy:       "identity_id",
			Actions: []models.RuleAction{
				{Type: models.RuleActionAlert},
			},
		},
		{
			ID:            "default-threat-findings",
			Name:          "Clustered threat findings",
			Enabled:       true,
			EventTypes:    []models.EventType{models.EventThreatDetected},
			MinSeverity:   models.SeverityHigh,
			WindowMinutes: 30,
			Threshold:     3,
			GroupBy:       "source_ip",
			Actions: []models.RuleAction{
				{Type: models.RuleActionAlert},
				{Type: models.RuleActionEscalate},
			},
		},
		{
			ID:            "default-data-access-spike",
			Name:          "Data access volume spike",
			Enabled:       true,
			EventTypes:    []models.EventType{models.EventDataAccess},
			WindowMinutes: 5,
			Threshold:     50,
			GroupBy:       "identity_id",
			Actions: []models.RuleAction{
				{Type: models.RuleActionAlert},
			},
		},
		{
			ID:            "default-policy-violations",
			Name:          "Repeated policy violations",
			Enabled:       true,
			EventTypes:    []models.EventType{models.EventPolicyViolated},
			MinSeverity:   models.SeverityMedium,
			WindowMinutes: 60,
			Threshold:     5,
			GroupBy:       "identity_id",
			Actions: []models.RuleAction{
				{Type: models.RuleActionAlert},
			},
		},
	}
}
