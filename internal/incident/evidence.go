// Aegis - Security Decision and Response Engine
// Copyright 2026 Aegis Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/aegis-sec/aegis

package incident

import (
	"context"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/aegis-sec/aegis/internal/errs"
	"github.com/aegis-sec/aegis/internal/logging"
	"github.com/aegis-sec/aegis/internal/models"
	"github.com/aegis-sec/aegis/internal/store"
)

// CustodyRecord mirrors one chain-of-custody entry into the incident's
// custody sub-collection, queryable across incidents.
type CustodyRecord struct {
	IncidentID string `json:"incident_id"`
	ArtifactID string `json:"artifact_id"`
	Action     string `json:"action"`
	Actor      string `json:"actor"`
	Timestamp  string `json:"timestamp"`
	Note       string `json:"note,omitempty"`
}

// AddArtifact collects a new evidence artifact with its initial custody
// entry. Artifacts are never removed.
func (m *Manager) AddArtifact(ctx context.Context, incidentID, kind, reference, actor string) (*models.EvidenceArtifact, error) {
	lock := m.lockFor(incidentID)
	lock.Lock()
	defer lock.Unlock()

	incident, err := m.Get(ctx, incidentID)
	if err != nil {
		return nil, err
	}

	now := m.now().UTC()
	artifact := models.EvidenceArtifact{
		ID:         uuid.NewString(),
		IncidentID: incidentID,
		Kind:       kind,
		Reference:  reference,
		AddedAt:    now,
		Custody: []models.CustodyEntry{{
			Action:    "collected",
			Actor:     actor,
			Timestamp: now,
		}},
	}
	incident.Evidence.Artifacts = append(incident.Evidence.Artifacts, artifact)
	incident.UpdatedAt = now
	if err := m.store.Set(ctx, IncidentCollection, incidentID, incident); err != nil {
		return nil, errs.Storage("incident write", err)
	}

	m.mirrorCustody(ctx, CustodyRecord{
		IncidentID: incidentID,
		ArtifactID: artifact.ID,
		Action:     "collected",
		Actor:      actor,
		Timestamp:  now.Format(timeFormat),
	})
	return &artifact, nil
}

// AppendCustody appends a chain-of-custody entry to an artifact. Existing
// entries are immutable; this is the only permitted mutation.
func (m *Manager) AppendCustody(ctx context.Context, incidentID, artifactID, action, actor, note string) error {
	lock := m.lockFor(incidentID)
	lock.Lock()
	defer lock.Unlock()

	incident, err := m.Get(ctx, incidentID)
	if err != nil {
		return err
	}

	index := -1
	for i := range incident.Evidence.Artifacts {
		if incident.Evidence.Artifacts[i].ID == artifactID {
			index = i
			break
		}
	}
	if index < 0 {
		return errs.NotFound("artifact", artifactID)
	}

	now := m.now().UTC()
	incident.Evidence.Artifacts[index].Custody = append(incident.Evidence.Artifacts[index].Custody,
		models.CustodyEntry{
			Action:    action,
			Actor:     actor,
			Timestamp: now,
			Note:      note,
		})
	incident.UpdatedAt = now
	if err := m.store.Set(ctx, IncidentCollection, incidentID, incident); err != nil {
		return errs.Storage("incident write", err)
	}

	m.mirrorCustody(ctx, CustodyRecord{
		IncidentID: incidentID,
		ArtifactID: artifactID,
		Action:     action,
		Actor:      actor,
		Timestamp:  now.Format(timeFormat),
		Note:       note,
	})
	return nil
}

// LinkEvidence attaches event and alert ids to the incident's evidence.
func (m *Manager) LinkEvidence(ctx context.Context, incidentID string, eventIDs, alertIDs []string) error {
	lock := m.lockFor(incidentID)
	lock.Lock()
	defer lock.Unlock()

	incident, err := m.Get(ctx, incidentID)
	if err != nil {
		return err
	}
	incident.Evidence.EventIDs = appendMissing(incident.Evidence.EventIDs, eventIDs)
	incident.Evidence.AlertIDs = appendMissing(incident.Evidence.AlertIDs, alertIDs)
	incident.UpdatedAt = m.now().UTC()
	if err := m.store.Set(ctx, IncidentCollection, incidentID, incident); err != nil {
		return errs.Storage("incident write", err)
	}
	return nil
}

// mirrorCustody appends the entry to the incident's custody sub-collection
// so the full audit trail is queryable across incidents. Best effort: the
// in-document custody log stays authoritative.
func (m *Manager) mirrorCustody(ctx context.Context, record CustodyRecord) {
	if err := m.store.Append(ctx, IncidentCollection, record.IncidentID, CustodySubCollection, record); err != nil {
		logging.Err(err).
			Str("incident_id", record.IncidentID).
			Str("artifact_id", record.ArtifactID).
			Msg("custody mirror failed")
	}
}

// CustodyAudit queries custody entries across every incident, optionally
// filtered by actor.
func (m *Manager) CustodyAudit(ctx context.Context, actor string) ([]CustodyRecord, error) {
	var filters []store.Filter
	if actor != "" {
		filters = append(filters, store.Filter{Field: "actor", Op: store.OpEqual, Value: actor})
	}
	raws, err := m.store.QueryGroup(ctx, CustodySubCollection, store.QuerySpec{
		Filters: filters,
		OrderBy: "timestamp",
	})
	if err != nil {
		return nil, errs.Storage("custody audit", err)
	}
	records := make([]CustodyRecord, 0, len(raws))
	for _, raw := range raws {
		var record CustodyRecord
		if err := json.Unmarshal(raw, &record); err != nil {
			continue
		}
		records = append(records, record)
	}
	return records, nil
}

func appendMissing(existing, incoming []string) []string {
	seen := make(map[string]struct{}, len(existing))
	for _, id := range existing {
		seen[id] = struct{}{}
	}
	for _, id := range incoming {
		if _, ok := seen[id]; !ok {
			existing = append(existing, id)
			seen[id] = struct{}{}
		}
	}
	return existing
}
