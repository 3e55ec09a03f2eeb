// Aegis - Security Decision and Response Engine
// Copyright 2026 Aegis Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/aegis-sec/aegis

// Package incident tracks security incidents through their lifecycle:
// creation from alerts or findings, a strict status state machine with
// timeline stamping, playbook-driven response actions, automated
// containment, SLA timers, and append-only evidence custody.
package incident

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/aegis-sec/aegis/internal/config"
	"github.com/aegis-sec/aegis/internal/errs"
	"github.com/aegis-sec/aegis/internal/logging"
	"github.com/aegis-sec/aegis/internal/metrics"
	"github.com/aegis-sec/aegis/internal/models"
	"github.com/aegis-sec/aegis/internal/notify"
	"github.com/aegis-sec/aegis/internal/store"
	"github.com/aegis-sec/aegis/internal/validation"
)

const (
	// IncidentCollection holds incident documents.
	IncidentCollection = "incidents"

	// CustodySubCollection is the per-incident sub-collection mirroring
	// every chain-of-custody entry for collection-group audit queries.
	CustodySubCollection = "custody"
)

// timeFormat renders timestamps for stored custody records.
const timeFormat = time.RFC3339Nano

// validTransitions is the incident state machine. Closed is terminal.
var validTransitions = map[models.IncidentStatus][]models.IncidentStatus{
	models.IncidentNew:           {models.IncidentAssigned, models.IncidentInvestigating, models.IncidentClosed},
	models.IncidentAssigned:      {models.IncidentInvestigating, models.IncidentClosed},
	models.IncidentInvestigating: {models.IncidentContained, models.IncidentResolved, models.IncidentClosed},
	models.IncidentContained:     {models.IncidentResolved, models.IncidentClosed},
	models.IncidentResolved:      {models.IncidentClosed},
	models.IncidentClosed:        {},
}

// Manager owns all incident mutations. Mutations on one incident are
// serialized through a per-incident lock; no two transitions on the same
// id interleave.
type Manager struct {
	cfg      config.IncidentConfig
	store    store.Store
	notifier *notify.Fanout
	executor Executor

	lmu   sync.Mutex
	locks map[string]*sync.Mutex

	pmu       sync.RWMutex
	playbooks []*models.Playbook
	team      []models.TeamMember

	smu         sync.Mutex
	slaNotified map[string]struct{}

	now func() time.Time
}

// NewManager builds an incident manager. The executor performs containment
// actions; pass nil to leave containment unwired until SetExecutor.
func NewManager(cfg config.IncidentConfig, st store.Store, notifier *notify.Fanout, executor Executor) *Manager {
	return &Manager{
		cfg:         cfg,
		store:       st,
		notifier:    notifier,
		executor:    executor,
		locks:       make(map[string]*sync.Mutex),
		slaNotified: make(map[string]struct{}),
		now:         time.Now,
	}
}

// SetExecutor attaches the containment executor.
func (m *Manager) SetExecutor(executor Executor) {
	m.executor = executor
}

// SetTeam configures the response team members available for action
// assignment.
func (m *Manager) SetTeam(team []models.TeamMember) {
	m.pmu.Lock()
	defer m.pmu.Unlock()
	m.team = team
}

// RegisterPlaybook validates and registers a playbook. Selection order is
// registration order; the first playbook matching (category, severity)
// wins.
func (m *Manager) RegisterPlaybook(p *models.Playbook) error {
	if serr := validation.ValidateStruct(p); serr != nil {
		first := serr.First()
		return errs.Validation("playbook", first.Field(), first.Error())
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	m.pmu.Lock()
	defer m.pmu.Unlock()
	m.playbooks = append(m.playbooks, p)
	return nil
}

// lockFor returns the mutex serializing mutations for one incident id.
func (m *Manager) lockFor(id string) *sync.Mutex {
	m.lmu.Lock()
	defer m.lmu.Unlock()
	lock, ok := m.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[id] = lock
	}
	return lock
}

// Get loads an incident by id.
func (m *Manager) Get(ctx context.Context, id string) (*models.SecurityIncident, error) {
	var incident models.SecurityIncident
	if err := m.store.Get(ctx, IncidentCollection, id, &incident); err != nil {
		return nil, err
	}
	return &incident, nil
}

// ListOpen returns incidents that have not reached a terminal or resolved
// state.
func (m *Manager) ListOpen(ctx context.Context) ([]*models.SecurityIncident, error) {
	open := []interface{}{
		string(models.IncidentNew),
		string(models.IncidentAssigned),
		string(models.IncidentInvestigating),
		string(models.IncidentContained),
	}
	raws, err := m.store.Query(ctx, store.QuerySpec{
		Collection: IncidentCollection,
		Filters:    []store.Filter{{Field: "status", Op: store.OpIn, Value: open}},
	})
	if err != nil {
		return nil, errs.Storage("incident query", err)
	}
	incidents := make([]*models.SecurityIncident, 0, len(raws))
	for _, raw := range raws {
		var incident models.SecurityIncident
		if err := json.Unmarshal(raw, &incident); err != nil {
			continue
		}
		incidents = append(incidents, &incident)
	}
	return incidents, nil
}

// UpdateStatus drives the state machine. Each transition stamps its
// timeline field and recomputes the derived latency metrics.
func (m *Manager) UpdateStatus(ctx context.Context, id string, status models.IncidentStatus, actor string) error {
	lock := m.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	incident, err := m.Get(ctx, id)
	if err != nil {
		return err
	}
	if !transitionAllowed(incident.Status, status) {
		return errs.Validation("incident", "status",
			"cannot transition from "+string(incident.Status)+" to "+string(status))
	}

	now := m.now().UTC()
	m.stampTimeline(incident, status, now)
	incident.Status = status
	recomputeMetrics(incident)
	incident.UpdatedAt = now

	if err := m.store.Set(ctx, IncidentCollection, id, incident); err != nil {
		return errs.Storage("incident write", err)
	}

	metrics.IncidentTransitions.WithLabelValues(string(status)).Inc()
	if status == models.IncidentClosed {
		metrics.IncidentsOpen.Dec()
	}
	logging.Info().
		Str("incident_id", id).
		Str("status", string(status)).
		Str("actor", actor).
		Msg("incident status updated")
	return nil
}

// Assign sets the assignee and advances a new incident to assigned,
// stamping acknowledgment.
func (m *Manager) Assign(ctx context.Context, id, assignee string) error {
	lock := m.lockFor(id)
	lock.Lock()

	incident, err := m.Get(ctx, id)
	if err != nil {
		lock.Unlock()
		return err
	}
	incident.Response.Assignee = assignee
	incident.UpdatedAt = m.now().UTC()
	if err := m.store.Set(ctx, IncidentCollection, id, incident); err != nil {
		lock.Unlock()
		return errs.Storage("incident write", err)
	}
	needsTransition := incident.Status == models.IncidentNew
	lock.Unlock()

	if needsTransition {
		return m.UpdateStatus(ctx, id, models.IncidentAssigned, assignee)
	}
	return nil
}

// AddNote appends an investigator note.
func (m *Manager) AddNote(ctx context.Context, id, author, text string) error {
	lock := m.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	incident, err := m.Get(ctx, id)
	if err != nil {
		return err
	}
	incident.Notes = append(incident.Notes, models.IncidentNote{
		Author:    author,
		Text:      text,
		CreatedAt: m.now().UTC(),
	})
	incident.UpdatedAt = m.now().UTC()
	if err := m.store.Set(ctx, IncidentCollection, id, incident); err != nil {
		return errs.Storage("incident write", err)
	}
	return nil
}

// UpdateSeverity reclassifies the incident. Raising the severity fires the
// playbook's severity-increased escalation rule when it has one; lowering
// is a plain reclassification.
func (m *Manager) UpdateSeverity(ctx context.Context, id string, severity models.Severity, actor string) error {
	lock := m.lockFor(id)
	lock.Lock()

	incident, err := m.Get(ctx, id)
	if err != nil {
		lock.Unlock()
		return err
	}
	previous := incident.Severity
	if severity == previous {
		lock.Unlock()
		return nil
	}
	incident.Severity = severity
	incident.UpdatedAt = m.now().UTC()
	if err := m.store.Set(ctx, IncidentCollection, id, incident); err != nil {
		lock.Unlock()
		return errs.Storage("incident write", err)
	}
	lock.Unlock()

	logging.Info().
		Str("incident_id", id).
		Str("from", string(previous)).
		Str("to", string(severity)).
		Str("actor", actor).
		Msg("incident severity updated")

	if models.MaxSeverity(previous, severity) != severity {
		return nil
	}
	playbook := m.playbookFor(incident)
	if playbook == nil {
		return nil
	}
	for _, rule := range playbook.Escalation {
		if rule.Type != models.EscalateSeverityIncreased {
			continue
		}
		m.escalateRule(ctx, incident, rule,
			fmt.Sprintf("severity raised from %s to %s by %s", previous, severity, actor))
		break
	}
	return nil
}

// SetAnalysis records investigation conclusions.
func (m *Manager) SetAnalysis(ctx context.Context, id string, analysis models.IncidentAnalysis) error {
	lock := m.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	incident, err := m.Get(ctx, id)
	if err != nil {
		return err
	}
	incident.Analysis = analysis
	incident.UpdatedAt = m.now().UTC()
	if err := m.store.Set(ctx, IncidentCollection, id, incident); err != nil {
		return errs.Storage("incident write", err)
	}
	return nil
}

func transitionAllowed(from, to models.IncidentStatus) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// stampTimeline records the transition timestamp. A field already stamped
// is never overwritten.
func (m *Manager) stampTimeline(incident *models.SecurityIncident, status models.IncidentStatus, now time.Time) {
	tl := &incident.Timeline
	switch status {
	case models.IncidentAssigned:
		if tl.AcknowledgedAt == nil {
			tl.AcknowledgedAt = &now
		}
	case models.IncidentInvestigating:
		if tl.InvestigatedAt == nil {
			tl.InvestigatedAt = &now
		}
	case models.IncidentContained:
		if tl.ContainedAt == nil {
			tl.ContainedAt = &now
		}
	case models.IncidentResolved:
		if tl.ResolvedAt == nil {
			tl.ResolvedAt = &now
		}
	case models.IncidentClosed:
		if tl.ClosedAt == nil {
			tl.ClosedAt = &now
		}
	}
}

// recomputeMetrics derives the latency metrics from the timeline. A metric
// stays unset until its timeline field is stamped.
func recomputeMetrics(incident *models.SecurityIncident) {
	detected := incident.Timeline.DetectedAt
	if t := incident.Timeline.AcknowledgedAt; t != nil {
		d := t.Sub(detected)
		incident.Metrics.ResponseTime = &d
	}
	if t := incident.Timeline.ContainedAt; t != nil {
		d := t.Sub(detected)
		incident.Metrics.ContainmentTime = &d
	}
	if t := incident.Timeline.ResolvedAt; t != nil {
		d := t.Sub(detected)
		incident.Metrics.ResolutionTime = &d
	}
}
