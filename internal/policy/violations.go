// Aegis - Security Decision and Response Engine
// Copyright 2026 Aegis Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/aegis-sec/aegis

package policy

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aegis-sec/aegis/internal/logging"
	"github.com/aegis-sec/aegis/internal/models"
	"github.com/aegis-sec/aegis/internal/notify"
	"github.com/aegis-sec/aegis/internal/store"
)

// escalationBlockDuration is the default hold for an escalation block
// action without an explicit duration parameter.
const escalationBlockDuration = time.Hour

// recordViolation queues a violation for asynchronous persistence and
// updates the policy's in-memory bookkeeping. The synchronous decision
// path never waits on violation storage.
func (e *Engine) recordViolation(ctx context.Context, p *models.SecurityPolicy, rc *models.RequestContext, risk int) {
	now := e.now().UTC()

	e.mu.Lock()
	p.Metrics.TriggerCount++
	p.Metrics.ViolationCount++
	p.Metrics.LastTriggered = &now
	e.mu.Unlock()

	violation := &models.PolicyViolation{
		ID:         uuid.NewString(),
		PolicyID:   p.ID,
		IdentityID: rc.IdentityID,
		SourceIP:   rc.SourceIP,
		Endpoint:   rc.Endpoint,
		Actions:    p.Actions,
		RiskScore:  risk,
		OccurredAt: now,
	}
	e.vmu.Lock()
	e.pending = append(e.pending, violation)
	e.vmu.Unlock()

	if e.sink == nil {
		return
	}
	event := &models.SecurityEvent{
		ID:         uuid.NewString(),
		Type:       models.EventPolicyViolated,
		Severity:   violationSeverity(p.Priority),
		IdentityID: rc.IdentityID,
		SourceIP:   rc.SourceIP,
		Service:    rc.Service,
		Endpoint:   rc.Endpoint,
		Action:     rc.Action,
		Outcome:    "violated",
		Detail:     fmt.Sprintf("policy %q fired", p.Name),
		Risk: models.RiskAssessment{
			Score:      risk,
			Factors:    []string{string(p.Category)},
			Confidence: 0.9,
		},
		Timestamp: now,
	}
	if err := e.sink.Ingest(ctx, event); err != nil {
		logging.Err(err).Str("event_id", event.ID).Msg("violation event ingestion failed")
	}
}

// violationSeverity maps policy priority onto event severity.
func violationSeverity(priority models.PolicyPriority) models.Severity {
	switch priority {
	case models.PriorityCritical:
		return models.SeverityCritical
	case models.PriorityHigh:
		return models.SeverityHigh
	case models.PriorityMedium:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}

// recordExemption bumps the policy's exemption counter.
func (e *Engine) recordExemption(_ context.Context, p *models.SecurityPolicy) {
	e.mu.Lock()
	p.Metrics.ExemptionCount++
	e.mu.Unlock()
}

// FlushViolations drains the pending queue: persists each violation, runs
// escalation-threshold bookkeeping, and syncs policy metrics to storage.
// Wired to a periodic maintenance task; safe to skip a tick.
func (e *Engine) FlushViolations(ctx context.Context) {
	e.vmu.Lock()
	pending := e.pending
	e.pending = nil
	e.vmu.Unlock()
	if len(pending) == 0 {
		return
	}

	touched := make(map[string]struct{}, len(pending))
	for _, violation := range pending {
		e.escalateIfDue(ctx, violation)
		if err := e.store.Set(ctx, ViolationCollection, violation.ID, violation); err != nil {
			logging.Err(err).Str("violation_id", violation.ID).Msg("violation persist failed")
			continue
		}
		touched[violation.PolicyID] = struct{}{}
	}

	// Sync metrics for every policy that violated this pass.
	e.mu.RLock()
	for policyID := range touched {
		p, ok := e.policies[policyID]
		if !ok {
			continue
		}
		fields := map[string]interface{}{"metrics": p.Metrics}
		if err := e.store.Update(ctx, PolicyCollection, policyID, fields); err != nil {
			logging.Err(err).Str("policy_id", policyID).Msg("policy metrics sync failed")
		}
	}
	e.mu.RUnlock()
}

// escalateIfDue marks the violation escalated when the policy's escalation
// threshold is crossed within its window, and emits the escalation.
func (e *Engine) escalateIfDue(ctx context.Context, violation *models.PolicyViolation) {
	e.mu.RLock()
	p, ok := e.policies[violation.PolicyID]
	e.mu.RUnlock()
	if !ok || p.Escalation == nil || p.Escalation.ViolationThreshold <= 0 {
		return
	}

	cutoff := violation.OccurredAt.Add(-time.Duration(p.Escalation.WindowMinutes) * time.Minute)
	raws, err := e.store.Query(ctx, store.QuerySpec{
		Collection: ViolationCollection,
		Filters: []store.Filter{
			{Field: "policy_id", Op: store.OpEqual, Value: violation.PolicyID},
			{Field: "occurred_at", Op: store.OpGreaterEqual, Value: cutoff.Format(time.RFC3339Nano)},
		},
	})
	if err != nil {
		logging.Err(err).Str("policy_id", violation.PolicyID).Msg("escalation count query failed")
		return
	}

	// The current violation is not yet stored; count it in.
	if len(raws)+1 < p.Escalation.ViolationThreshold {
		return
	}
	violation.Escalated = true
	logging.Warn().
		Str("policy_id", p.ID).
		Str("policy", p.Name).
		Int("violations", len(raws)+1).
		Msg("policy escalation threshold crossed")

	if len(p.Escalation.Actions) > 0 {
		violation.Actions = append(violation.Actions, p.Escalation.Actions...)
		e.fireEscalationActions(ctx, p, violation)
	}

	if e.sink == nil {
		return
	}
	event := &models.SecurityEvent{
		ID:         uuid.NewString(),
		Type:       models.EventPolicyViolated,
		Severity:   models.SeverityHigh,
		IdentityID: violation.IdentityID,
		SourceIP:   violation.SourceIP,
		Endpoint:   violation.Endpoint,
		Outcome:    "escalated",
		Detail: fmt.Sprintf("policy %q crossed its escalation threshold (%d in %dm)",
			p.Name, p.Escalation.ViolationThreshold, p.Escalation.WindowMinutes),
		Risk: models.RiskAssessment{
			Score:      violation.RiskScore,
			Factors:    []string{"policy_escalation"},
			Confidence: 0.9,
		},
		Timestamp: violation.OccurredAt,
	}
	if err := e.sink.Ingest(ctx, event); err != nil {
		logging.Err(err).Str("event_id", event.ID).Msg("escalation event ingestion failed")
	}
}

// fireEscalationActions executes the policy's configured escalation
// actions. Block and alert have engine-side effects; the remaining types
// are recorded on the violation for the enforcement layer to honor.
func (e *Engine) fireEscalationActions(ctx context.Context, p *models.SecurityPolicy, violation *models.PolicyViolation) {
	for _, action := range p.Escalation.Actions {
		switch action.Type {
		case models.ActionBlock:
			if e.blocker == nil || violation.SourceIP == "" {
				continue
			}
			duration := escalationBlockDuration
			if raw, ok := action.Params["duration"]; ok {
				if parsed, err := time.ParseDuration(raw); err == nil && parsed > 0 {
					duration = parsed
				}
			}
			e.blocker.BlockSource(violation.SourceIP, "policy "+p.Name+" escalation", duration)
		case models.ActionAlert:
			if e.notifier == nil {
				continue
			}
			var recipients []string
			if raw, ok := action.Params["recipients"]; ok && raw != "" {
				recipients = strings.Split(raw, ",")
			}
			e.notifier.Send(ctx, notify.Notification{
				Recipients: recipients,
				Severity:   violationSeverity(p.Priority),
				Subject:    fmt.Sprintf("Policy escalation: %s", p.Name),
				Message: fmt.Sprintf("policy %q crossed its escalation threshold (%d violations in %dm), latest from %s",
					p.Name, p.Escalation.ViolationThreshold, p.Escalation.WindowMinutes, violation.SourceIP),
				Timestamp: violation.OccurredAt,
			})
		case models.ActionLog:
			logging.Warn().
				Str("policy_id", p.ID).
				Str("identity_id", violation.IdentityID).
				Str("source_ip", violation.SourceIP).
				Msg("escalation log action")
		}
	}
}

// PendingViolations reports the queue depth, for tests and introspection.
func (e *Engine) PendingViolations() int {
	e.vmu.Lock()
	defer e.vmu.Unlock()
	return len(e.pending)
}
