// Aegis - Security Decision and Response Engine
// Copyright 2026 Aegis Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/aegis-sec/aegis

package incident

import (
	"github.com/google/uuid"

	"github.com/aegis-sec/aegis/internal/config"
	"github.com/aegis-sec/aegis/internal/models"
)

// defaultPlaybookID marks the built-in fallback response.
const defaultPlaybookID = "playbook-default"

// selectPlaybook returns the first registered playbook covering the
// category and severity, falling back to the built-in default response.
func (m *Manager) selectPlaybook(category models.IncidentCategory, severity models.Severity) *models.Playbook {
	m.pmu.RLock()
	defer m.pmu.RUnlock()
	for _, p := range m.playbooks {
		if p.AppliesTo(category, severity) {
			return p
		}
	}
	return defaultPlaybook(severity, m.cfg)
}

// defaultPlaybook is the fallback: always investigate and document, and
// additionally contain for high and critical severity.
func defaultPlaybook(severity models.Severity, cfg config.IncidentConfig) *models.Playbook {
	actions := []models.ActionTemplate{
		{Type: models.RespInvestigate, Description: "Triage and investigate the incident"},
		{Type: models.RespDocument, Description: "Document findings and timeline"},
	}
	if severity.Rank() >= models.SeverityHigh.Rank() {
		actions = append([]models.ActionTemplate{
			{Type: models.RespContain, Description: "Contain the affected systems", Automated: false},
		}, actions...)
	}
	return &models.Playbook{
		ID:         defaultPlaybookID,
		Name:       "Default response",
		Severities: []models.Severity{severity},
		Actions:    actions,
		SLA: models.SLATargets{
			AcknowledgmentMins: cfg.AcknowledgmentMins,
			ContainmentMins:    cfg.ContainmentMins,
			ResolutionMins:     cfg.ResolutionMins,
		},
	}
}

// instantiateResponse turns the playbook's action templates into concrete
// response actions assigned to role-matching team members. Automated
// templates execute immediately.
func (m *Manager) instantiateResponse(playbook *models.Playbook) models.IncidentResponse {
	m.pmu.RLock()
	team := m.team
	m.pmu.RUnlock()

	response := models.IncidentResponse{Team: team}
	now := m.now().UTC()

	for _, template := range playbook.Actions {
		action := models.ResponseAction{
			ID:          uuid.NewString(),
			Type:        template.Type,
			Description: template.Description,
			Automated:   template.Automated,
			DependsOn:   template.DependsOn,
			State:       models.ActionPending,
			AssignedTo:  assignFor(template.RequiredRoles, team),
		}
		if template.Automated {
			action.State = models.ActionCompleted
			action.StartedAt = &now
			action.CompletedAt = &now
			action.Result = "auto-executed"
		}
		response.Actions = append(response.Actions, action)
	}
	return response
}

// assignFor picks the first team member holding a required role, else the
// first member of the team.
func assignFor(requiredRoles []string, team []models.TeamMember) string {
	if len(team) == 0 {
		return ""
	}
	for _, member := range team {
		for _, held := range member.Roles {
			for _, required := range requiredRoles {
				if held == required {
					return member.ID
				}
			}
		}
	}
	return team[0].ID
}
