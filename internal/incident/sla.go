// Aegis - Security Decision and Response Engine
// Copyright 2026 Aegis Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/aegis-sec/aegis

package incident

import (
	"context"
	"fmt"
	"time"

	"github.com/aegis-sec/aegis/internal/logging"
	"github.com/aegis-sec/aegis/internal/metrics"
	"github.com/aegis-sec/aegis/internal/models"
	"github.com/aegis-sec/aegis/internal/notify"
)

// slaTargets resolves the incident's SLA: the playbook's targets when it
// has any, else the configured defaults.
func (m *Manager) slaTargets(incident *models.SecurityIncident) models.SLATargets {
	m.pmu.RLock()
	defer m.pmu.RUnlock()
	for _, p := range m.playbooks {
		if p.ID == incident.PlaybookID && p.SLA.AcknowledgmentMins > 0 {
			return p.SLA
		}
	}
	return models.SLATargets{
		AcknowledgmentMins: m.cfg.AcknowledgmentMins,
		ContainmentMins:    m.cfg.ContainmentMins,
		ResolutionMins:     m.cfg.ResolutionMins,
	}
}

// CheckSLAs sweeps open incidents and escalates any whose acknowledgment,
// containment, or resolution target has passed while the corresponding
// timeline field is still unset. Each breach escalates once. Wired to a
// periodic task; safe to skip a tick.
func (m *Manager) CheckSLAs(ctx context.Context) {
	incidents, err := m.ListOpen(ctx)
	if err != nil {
		logging.Err(err).Msg("sla sweep query failed")
		return
	}
	now := m.now().UTC()

	for _, incident := range incidents {
		targets := m.slaTargets(incident)
		elapsed := now.Sub(incident.Timeline.DetectedAt)

		if incident.Timeline.AcknowledgedAt == nil &&
			elapsed > time.Duration(targets.AcknowledgmentMins)*time.Minute {
			m.escalateSLA(ctx, incident, "acknowledgment", targets.AcknowledgmentMins, elapsed)
		}
		if incident.Timeline.ContainedAt == nil &&
			elapsed > time.Duration(targets.ContainmentMins)*time.Minute {
			m.escalateSLA(ctx, incident, "containment", targets.ContainmentMins, elapsed)
		}
		if incident.Timeline.ResolvedAt == nil &&
			elapsed > time.Duration(targets.ResolutionMins)*time.Minute {
			m.escalateSLA(ctx, incident, "resolution", targets.ResolutionMins, elapsed)
		}

		m.checkPlaybookEscalation(ctx, incident, elapsed)
	}
}

// playbookFor returns the incident's playbook, or nil when none is bound.
func (m *Manager) playbookFor(incident *models.SecurityIncident) *models.Playbook {
	m.pmu.RLock()
	defer m.pmu.RUnlock()
	for _, p := range m.playbooks {
		if p.ID == incident.PlaybookID {
			return p
		}
	}
	return nil
}

// checkPlaybookEscalation evaluates the playbook's time-exceeded rules
// against the incident age. Severity-increase and containment-failure
// rules fire from their own mutation paths.
func (m *Manager) checkPlaybookEscalation(ctx context.Context, incident *models.SecurityIncident, elapsed time.Duration) {
	playbook := m.playbookFor(incident)
	if playbook == nil || incident.Timeline.ResolvedAt != nil {
		return
	}
	for _, rule := range playbook.Escalation {
		if rule.Type != models.EscalateTimeExceeded || rule.AfterMins <= 0 {
			continue
		}
		if elapsed > time.Duration(rule.AfterMins)*time.Minute {
			m.escalateRule(ctx, incident, rule,
				fmt.Sprintf("incident open for %s against a %dm playbook limit", elapsed.Round(time.Minute), rule.AfterMins))
		}
	}
}

// escalateRule fires one playbook escalation rule, at most once per
// incident and rule type. Recipients fall back to the configured
// escalation recipients when the rule names none.
func (m *Manager) escalateRule(ctx context.Context, incident *models.SecurityIncident, rule models.EscalationRule, reason string) {
	key := incident.ID + ":playbook:" + string(rule.Type)
	m.smu.Lock()
	if _, done := m.slaNotified[key]; done {
		m.smu.Unlock()
		return
	}
	m.slaNotified[key] = struct{}{}
	m.smu.Unlock()

	metrics.SLABreaches.WithLabelValues(string(rule.Type)).Inc()
	logging.Warn().
		Str("incident_id", incident.ID).
		Str("rule", string(rule.Type)).
		Str("reason", reason).
		Msg("playbook escalation fired")

	if err := m.AddNote(ctx, incident.ID, "sla-checker",
		fmt.Sprintf("playbook escalation (%s): %s", rule.Type, reason)); err != nil {
		logging.Err(err).Str("incident_id", incident.ID).Msg("escalation note failed")
	}

	if !m.cfg.AutoEscalate || m.notifier == nil {
		return
	}
	recipients := rule.Recipients
	if len(recipients) == 0 {
		recipients = m.cfg.EscalationRecipients
	}
	m.notifier.Send(ctx, notify.Notification{
		Recipients: recipients,
		Severity:   incident.Severity,
		Subject:    fmt.Sprintf("Escalation: incident %s (%s)", incident.ID, rule.Type),
		Message:    fmt.Sprintf("%s (%s, %s): %s", incident.Title, incident.Severity, incident.Status, reason),
		Timestamp:  m.now().UTC(),
	})
}

// escalateSLA notifies the configured recipients about a missed target.
func (m *Manager) escalateSLA(ctx context.Context, incident *models.SecurityIncident, kind string, targetMins int, elapsed time.Duration) {
	key := incident.ID + ":" + kind
	m.smu.Lock()
	if _, done := m.slaNotified[key]; done {
		m.smu.Unlock()
		return
	}
	m.slaNotified[key] = struct{}{}
	m.smu.Unlock()

	metrics.SLABreaches.WithLabelValues(kind).Inc()
	logging.Warn().
		Str("incident_id", incident.ID).
		Str("sla", kind).
		Int("target_minutes", targetMins).
		Dur("elapsed", elapsed).
		Msg("sla target missed, escalating")

	if err := m.AddNote(ctx, incident.ID, "sla-checker",
		fmt.Sprintf("%s SLA missed: %s elapsed against a %dm target", kind, elapsed.Round(time.Minute), targetMins)); err != nil {
		logging.Err(err).Str("incident_id", incident.ID).Msg("sla note failed")
	}

	if !m.cfg.AutoEscalate || m.notifier == nil {
		return
	}
	m.notifier.Send(ctx, notify.Notification{
		Recipients: m.cfg.EscalationRecipients,
		Severity:   incident.Severity,
		Subject:    fmt.Sprintf("SLA breach: incident %s missed its %s target", incident.ID, kind),
		Message: fmt.Sprintf("%s (%s, %s) has gone %s since detection against a %dm %s target.",
			incident.Title, incident.Severity, incident.Status, elapsed.Round(time.Minute), targetMins, kind),
		Timestamp: m.now().UTC(),
	})
}
