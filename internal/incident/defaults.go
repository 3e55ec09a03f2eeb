// Aegis - Security Decision and Response Engine
// Copyright 2026 Aegis Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/aegis-sec/aegis

package incident

import "github.com/aegis-sec/aegis/internal/models"

// DefaultPlaybooks returns baseline response playbooks for the built-in
// incident categories. Register them through RegisterPlaybook; a deployment
// usually replaces these with organization-specific runbooks.
func DefaultPlaybooks() []*models.Playbook {
	return []*models.Playbook{
		{
			ID:         "pb-credential-abuse",
			Name:       "Credential abuse response",
			Category:   models.CategoryCredentialAbuse,
			Severities: []models.Severity{models.SeverityMedium, models.SeverityHigh, models.SeverityCritical},
			Actions: []models.ActionTemplate{
				{Type: models.RespContain, Description: "Block the offending source and suspend the targeted account", Automated: true},
				{Type: models.RespInvestigate, Description: "Review authentication history for the targeted identity", RequiredRoles: []string{"analyst"}},
				{Type: models.RespNotify, Description: "Notify the account owner of the attempted compromise", RequiredRoles: []string{"responder"}},
				{Type: models.RespDocument, Description: "Record findings and credential rotation status"},
			},
			Escalation: []models.EscalationRule{
				{Type: models.EscalateTimeExceeded, AfterMins: 60},
			},
			SLA: models.SLATargets{AcknowledgmentMins: 15, ContainmentMins: 60, ResolutionMins: 720},
		},
		{
			ID:         "pb-intrusion",
			Name:       "Intrusion response",
			Category:   models.CategoryIntrusion,
			Severities: []models.Severity{models.SeverityHigh, models.SeverityCritical},
			Actions: []models.ActionTemplate{
				{Type: models.RespContain, Description: "Block attacking sources and isolate affected services", Automated: true},
				{Type: models.RespInvestigate, Description: "Establish the intrusion vector and affected scope", RequiredRoles: []string{"analyst"}},
				{Type: models.RespEradicate, Description: "Remove attacker footholds and rotate exposed credentials", RequiredRoles: []string{"responder"}},
				{Type: models.RespRecover, Description: "Restore affected services and verify integrity", RequiredRoles: []string{"responder"}},
				{Type: models.RespDocument, Description: "Write the post-incident report"},
			},
			Escalation: []models.EscalationRule{
				{Type: models.EscalateTimeExceeded, AfterMins: 30},
				{Type: models.EscalateContainmentFailed},
			},
			SLA: models.SLATargets{AcknowledgmentMins: 10, ContainmentMins: 30, ResolutionMins: 480},
		},
		{
			ID:         "pb-data-breach",
			Name:       "Data breach response",
			Category:   models.CategoryDataBreach,
			Severities: []models.Severity{models.SeverityMedium, models.SeverityHigh, models.SeverityCritical},
			Actions: []models.ActionTemplate{
				{Type: models.RespContain, Description: "Revoke the exfiltrating identity's access", Automated: true},
				{Type: models.RespInvestigate, Description: "Determine what data was accessed and by whom", RequiredRoles: []string{"analyst"}},
				{Type: models.RespNotify, Description: "Engage legal and notify affected parties as required", RequiredRoles: []string{"responder"}},
				{Type: models.RespDocument, Description: "Record the exposure assessment and disclosure decisions"},
			},
			Escalation: []models.EscalationRule{
				{Type: models.EscalateTimeExceeded, AfterMins: 30},
				{Type: models.EscalateSeverityIncreased},
			},
			SLA: models.SLATargets{AcknowledgmentMins: 10, ContainmentMins: 45, ResolutionMins: 1440},
		},
		{
			ID:         "pb-policy-breach",
			Name:       "Policy breach review",
			Category:   models.CategoryPolicyBreach,
			Severities: []models.Severity{models.SeverityLow, models.SeverityMedium, models.SeverityHigh},
			Actions: []models.ActionTemplate{
				{Type: models.RespInvestigate, Description: "Review the violated policy and the triggering activity", RequiredRoles: []string{"analyst"}},
				{Type: models.RespNotify, Description: "Inform the identity's owner of the violation"},
				{Type: models.RespDocument, Description: "Record the disposition and any policy adjustments"},
			},
			SLA: models.SLATargets{AcknowledgmentMins: 60, ContainmentMins: 240, ResolutionMins: 2880},
		},
		{
			ID:         "pb-abuse",
			Name:       "Service abuse response",
			Category:   models.CategoryAbuse,
			Severities: []models.Severity{models.SeverityMedium, models.SeverityHigh, models.SeverityCritical},
			Actions: []models.ActionTemplate{
				{Type: models.RespContain, Description: "Rate limit or block the abusive source", Automated: true},
				{Type: models.RespInvestigate, Description: "Classify the abuse pattern and check for related accounts", RequiredRoles: []string{"analyst"}},
				{Type: models.RespDocument, Description: "Record the abuse signature for future detection"},
			},
			SLA: models.SLATargets{AcknowledgmentMins: 30, ContainmentMins: 120, ResolutionMins: 1440},
		},
	}
}
