// Aegis - Security Decision and Response Engine
// Copyright 2026 Aegis Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/aegis-sec/aegis

package incident

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/aegis-sec/aegis/internal/errs"
	"github.com/aegis-sec/aegis/internal/logging"
	"github.com/aegis-sec/aegis/internal/metrics"
	"github.com/aegis-sec/aegis/internal/models"
)

// Source is the provenance an incident is synthesized from, either an
// alert or a single critical finding.
type Source struct {
	AlertID    string
	EventID    string
	EventType  models.EventType
	Severity   models.Severity
	Detail     string
	SourceIP   string
	IdentityID string
	Service    string
	Confidence float64
	EventIDs   []string
	AlertIDs   []string
}

// categoryByEventType derives the incident category from the originating
// event type.
var categoryByEventType = map[models.EventType]models.IncidentCategory{
	models.EventAuthentication: models.CategoryCredentialAbuse,
	models.EventAuthorization:  models.CategoryAbuse,
	models.EventDataAccess:     models.CategoryDataBreach,
	models.EventThreatDetected: models.CategoryIntrusion,
	models.EventPolicyViolated: models.CategoryPolicyBreach,
}

// attackMapping annotates incidents with ATT&CK tactics and techniques
// keyed by originating event type.
type attackMapping struct {
	tactics    []string
	techniques []string
}

var attackByEventType = map[models.EventType]attackMapping{
	models.EventAuthentication: {
		tactics:    []string{"Credential Access"},
		techniques: []string{"T1110"},
	},
	models.EventAuthorization: {
		tactics:    []string{"Privilege Escalation"},
		techniques: []string{"T1068"},
	},
	models.EventDataAccess: {
		tactics:    []string{"Collection", "Exfiltration"},
		techniques: []string{"T1005", "T1030"},
	},
	models.EventThreatDetected: {
		tactics:    []string{"Initial Access"},
		techniques: []string{"T1190"},
	},
	models.EventPolicyViolated: {
		tactics:    []string{"Defense Evasion"},
		techniques: []string{"T1562"},
	},
}

// CreateFromAlert opens an incident from a correlation alert. The category
// derives from the alert's first constituent event.
func (m *Manager) CreateFromAlert(ctx context.Context, alert *models.SecurityAlert) (*models.SecurityIncident, error) {
	if alert == nil {
		return nil, errs.Validation("incident", "alert", "must not be nil")
	}
	src := Source{
		AlertID:    alert.ID,
		Severity:   alert.Severity,
		Detail:     alert.Description,
		Confidence: 0.8,
		EventIDs:   alert.EventIDs,
		AlertIDs:   []string{alert.ID},
	}
	if len(alert.EventIDs) > 0 {
		var ev models.SecurityEvent
		if found, err := m.store.GetOptional(ctx, "events", alert.EventIDs[0], &ev); err == nil && found {
			src.EventID = ev.ID
			src.EventType = ev.Type
			src.SourceIP = ev.SourceIP
			src.IdentityID = ev.IdentityID
			src.Service = ev.Service
			src.Confidence = ev.Risk.Confidence
		}
	}
	return m.CreateFromSource(ctx, src)
}

// CreateFromFinding opens an incident directly from a critical finding,
// bypassing correlation.
func (m *Manager) CreateFromFinding(ctx context.Context, finding *models.ThreatFinding) (*models.SecurityIncident, error) {
	if finding == nil {
		return nil, errs.Validation("incident", "finding", "must not be nil")
	}
	return m.CreateFromSource(ctx, Source{
		EventID:    finding.ID,
		EventType:  models.EventThreatDetected,
		Severity:   finding.Severity,
		Detail:     finding.Detail,
		SourceIP:   finding.Source,
		Confidence: finding.Confidence,
	})
}

// CreateFromSource synthesizes an incident from its provenance via the
// deterministic derivation maps, selects a playbook, and instantiates its
// response actions.
func (m *Manager) CreateFromSource(ctx context.Context, src Source) (*models.SecurityIncident, error) {
	if src.Severity == "" {
		return nil, errs.Validation("incident", "severity", "must not be empty")
	}

	category, ok := categoryByEventType[src.EventType]
	if !ok {
		category = models.CategoryAbuse
	}
	attack := attackByEventType[src.EventType]

	now := m.now().UTC()
	incident := &models.SecurityIncident{
		ID:          uuid.NewString(),
		Title:       fmt.Sprintf("%s %s incident", src.Severity, category),
		Description: src.Detail,
		Severity:    src.Severity,
		Status:      models.IncidentNew,
		Category:    category,
		Timeline:    models.IncidentTimeline{DetectedAt: now},
		Source: models.IncidentSource{
			AlertID:    src.AlertID,
			EventID:    src.EventID,
			EventType:  string(src.EventType),
			Confidence: src.Confidence,
		},
		Scope:    deriveScope(src),
		Evidence: models.IncidentEvidence{EventIDs: src.EventIDs, AlertIDs: src.AlertIDs},
		Analysis: models.IncidentAnalysis{
			Tactics:    attack.tactics,
			Techniques: attack.techniques,
			IOCs:       deriveIOCs(src),
		},
		Priority:  priorityScore(src),
		CreatedAt: now,
		UpdatedAt: now,
	}

	playbook := m.selectPlaybook(category, src.Severity)
	incident.PlaybookID = playbook.ID
	incident.Response = m.instantiateResponse(playbook)

	if err := m.store.Set(ctx, IncidentCollection, incident.ID, incident); err != nil {
		return nil, errs.Storage("incident write", err)
	}
	metrics.IncidentsOpen.Inc()
	metrics.IncidentTransitions.WithLabelValues(string(models.IncidentNew)).Inc()
	logging.Warn().
		Str("incident_id", incident.ID).
		Str("severity", string(incident.Severity)).
		Str("category", string(category)).
		Str("playbook", playbook.Name).
		Msg("incident opened")
	return incident, nil
}

func deriveScope(src Source) models.IncidentScope {
	scope := models.IncidentScope{ImpactEstimate: impactEstimate(src.Severity)}
	if src.Service != "" {
		scope.AffectedSystems = []string{src.Service}
	}
	if src.IdentityID != "" {
		scope.AffectedIdentities = []string{src.IdentityID}
	}
	if src.EventType == models.EventDataAccess {
		scope.DataTypes = []string{"records"}
	}
	return scope
}

func impactEstimate(severity models.Severity) string {
	switch severity {
	case models.SeverityCritical:
		return "severe"
	case models.SeverityHigh:
		return "major"
	case models.SeverityMedium:
		return "moderate"
	default:
		return "minor"
	}
}

func deriveIOCs(src Source) []string {
	var iocs []string
	if src.SourceIP != "" {
		iocs = append(iocs, "ip:"+src.SourceIP)
	}
	return iocs
}

// priorityScore blends severity rank and source confidence into 0-100.
func priorityScore(src Source) int {
	score := src.Severity.Rank()*20 + int(src.Confidence*20)
	if score > 100 {
		score = 100
	}
	return score
}
