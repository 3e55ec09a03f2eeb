// Aegis - Security Decision and Response Engine
// Copyright 2026 Aegis Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/aegis-sec/aegis

package incident

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/aegis-sec/aegis/internal/errs"
	"github.com/aegis-sec/aegis/internal/logging"
	"github.com/aegis-sec/aegis/internal/models"
)

// containmentBlockDuration is how long a block-ip containment holds.
const containmentBlockDuration = 24 * time.Hour

// Executor performs one containment action and reports its outcome.
type Executor interface {
	Execute(ctx context.Context, action models.ContainmentType, target string) models.ContainmentAction
}

// SourceBlocker is the block-ip containment primitive.
type SourceBlocker interface {
	BlockSource(source, reason string, duration time.Duration)
}

// AccountSuspender is the disable-account containment primitive.
type AccountSuspender interface {
	Suspend(ctx context.Context, identityID string) error
}

// Delegate integrates one external containment system (firewall, EDR,
// file quarantine).
type Delegate func(ctx context.Context, target string) error

// DefaultExecutor wires block-ip and disable-account to the engine's own
// primitives. The remaining action types require an external integration
// registered through RegisterDelegate; without one they report failure
// rather than a hollow success.
type DefaultExecutor struct {
	blocker   SourceBlocker
	suspender AccountSuspender
	delegates map[models.ContainmentType]Delegate
}

// NewDefaultExecutor builds the executor over the engine primitives.
func NewDefaultExecutor(blocker SourceBlocker, suspender AccountSuspender) *DefaultExecutor {
	return &DefaultExecutor{
		blocker:   blocker,
		suspender: suspender,
		delegates: make(map[models.ContainmentType]Delegate),
	}
}

// RegisterDelegate attaches an external integration for a containment
// type, overriding the built-in behavior.
func (e *DefaultExecutor) RegisterDelegate(action models.ContainmentType, delegate Delegate) {
	e.delegates[action] = delegate
}

// Execute runs one containment action. Every outcome carries the declared
// effectiveness and side-effect contract for its type.
func (e *DefaultExecutor) Execute(ctx context.Context, action models.ContainmentType, target string) models.ContainmentAction {
	result := models.ContainmentAction{
		ID:         uuid.NewString(),
		Type:       action,
		Target:     target,
		ExecutedAt: time.Now().UTC(),
	}

	if delegate, ok := e.delegates[action]; ok {
		if err := delegate(ctx, target); err != nil {
			result.Error = err.Error()
			return result
		}
		result.Success = true
		result.Effectiveness = 0.85
		return result
	}

	switch action {
	case models.ContainBlockIP:
		if e.blocker == nil {
			result.Error = "no source blocker configured"
			return result
		}
		e.blocker.BlockSource(target, "incident containment", containmentBlockDuration)
		result.Success = true
		result.Effectiveness = 0.9
		result.SideEffects = []string{"legitimate traffic from shared addresses may be blocked"}
	case models.ContainDisableAccount:
		if e.suspender == nil {
			result.Error = "no account suspender configured"
			return result
		}
		if err := e.suspender.Suspend(ctx, target); err != nil {
			result.Error = err.Error()
			return result
		}
		result.Success = true
		result.Effectiveness = 0.95
		result.SideEffects = []string{"active sessions for the account are terminated"}
	default:
		result.Error = "no integration configured for " + string(action)
	}
	return result
}

// ExecuteContainment runs a containment action for an incident and records
// the outcome. The first successful containment while the incident is
// investigating auto-advances it to contained, exactly once.
func (m *Manager) ExecuteContainment(ctx context.Context, incidentID string, action models.ContainmentType, target string) (*models.ContainmentAction, error) {
	if m.executor == nil {
		return nil, errNoExecutor
	}

	lock := m.lockFor(incidentID)
	lock.Lock()

	incident, err := m.Get(ctx, incidentID)
	if err != nil {
		lock.Unlock()
		return nil, err
	}

	outcome := m.executor.Execute(ctx, action, target)
	incident.Response.Containments = append(incident.Response.Containments, outcome)
	incident.UpdatedAt = m.now().UTC()

	advance := outcome.Success &&
		incident.Status == models.IncidentInvestigating &&
		incident.Timeline.ContainedAt == nil

	if err := m.store.Set(ctx, IncidentCollection, incidentID, incident); err != nil {
		lock.Unlock()
		return nil, errs.Storage("incident write", err)
	}
	lock.Unlock()

	logging.Info().
		Str("incident_id", incidentID).
		Str("action", string(action)).
		Str("target", target).
		Bool("success", outcome.Success).
		Msg("containment executed")

	if advance {
		if err := m.UpdateStatus(ctx, incidentID, models.IncidentContained, "containment"); err != nil {
			logging.Err(err).Str("incident_id", incidentID).Msg("auto-advance to contained failed")
		}
	}
	if !outcome.Success {
		m.escalateContainmentFailure(ctx, incident, outcome)
	}
	return &outcome, nil
}

// escalateContainmentFailure fires the playbook's containment-failed rule,
// if it has one.
func (m *Manager) escalateContainmentFailure(ctx context.Context, incident *models.SecurityIncident, outcome models.ContainmentAction) {
	playbook := m.playbookFor(incident)
	if playbook == nil {
		return
	}
	for _, rule := range playbook.Escalation {
		if rule.Type != models.EscalateContainmentFailed {
			continue
		}
		m.escalateRule(ctx, incident, rule,
			fmt.Sprintf("containment %s against %s failed: %s", outcome.Type, outcome.Target, outcome.Error))
		return
	}
}

var errNoExecutor = errs.Validation("incident", "executor", "no containment executor configured")
