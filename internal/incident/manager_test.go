// Aegis - Security Decision and Response Engine
// Copyright 2026 Aegis Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/aegis-sec/aegis

package incident

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aegis-sec/aegis/internal/config"
	"github.com/aegis-sec/aegis/internal/models"
	"github.com/aegis-sec/aegis/internal/notify"
	"github.com/aegis-sec/aegis/internal/store"
)

func testIncidentConfig() config.IncidentConfig {
	return config.IncidentConfig{
		AcknowledgmentMins:   30,
		ContainmentMins:      120,
		ResolutionMins:       1440,
		SLACheckInterval:     time.Minute,
		AutoEscalate:         true,
		EscalationRecipients: []string{"oncall@example.com"},
	}
}

func testManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(testIncidentConfig(), store.NewMemoryStore(), nil, nil)
}

func criticalFinding() *models.ThreatFinding {
	return &models.ThreatFinding{
		ID:       "f-1",
		Type:     models.ThreatInjectionAttempt,
		Severity: models.SeverityCritical,
		Source:   "203.0.113.5",
		Detail:   "sql injection in request payload",
	}
}

func openIncident(t *testing.T, m *Manager) *models.SecurityIncident {
	t.Helper()
	incident, err := m.CreateFromFinding(context.Background(), criticalFinding())
	if err != nil {
		t.Fatalf("CreateFromFinding: %v", err)
	}
	return incident
}

func TestCreateFromFinding(t *testing.T) {
	m := testManager(t)
	incident := openIncident(t, m)

	if incident.Status != models.IncidentNew {
		t.Errorf("status = %s, want new", incident.Status)
	}
	if incident.Category != models.CategoryIntrusion {
		t.Errorf("category = %s, want intrusion", incident.Category)
	}
	if incident.Timeline.DetectedAt.IsZero() {
		t.Error("DetectedAt not stamped")
	}
	if incident.PlaybookID == "" {
		t.Error("no playbook selected")
	}
	if len(incident.Analysis.IOCs) != 1 || incident.Analysis.IOCs[0] != "ip:203.0.113.5" {
		t.Errorf("IOCs = %v", incident.Analysis.IOCs)
	}

	got, err := m.Get(context.Background(), incident.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Severity != models.SeverityCritical {
		t.Errorf("persisted severity = %s", got.Severity)
	}
}

func TestCreateFromAlert(t *testing.T) {
	mem := store.NewMemoryStore()
	m := NewManager(testIncidentConfig(), mem, nil, nil)
	ctx := context.Background()

	event := &models.SecurityEvent{
		ID:         "ev-1",
		Type:       models.EventAuthentication,
		Severity:   models.SeverityHigh,
		SourceIP:   "198.51.100.4",
		IdentityID: "user-9",
		Service:    "auth",
		Timestamp:  time.Now().UTC(),
	}
	if err := mem.Set(ctx, "events", event.ID, event); err != nil {
		t.Fatalf("seed event: %v", err)
	}

	alert := &models.SecurityAlert{
		ID:       "al-1",
		Severity: models.SeverityHigh,
		Title:    "high activity: 5 events",
		EventIDs: []string{"ev-1"},
		Status:   models.AlertActive,
	}
	incident, err := m.CreateFromAlert(ctx, alert)
	if err != nil {
		t.Fatalf("CreateFromAlert: %v", err)
	}
	if incident.Category != models.CategoryCredentialAbuse {
		t.Errorf("category = %s, want credential_abuse", incident.Category)
	}
	if incident.Source.AlertID != "al-1" {
		t.Errorf("Source.AlertID = %s", incident.Source.AlertID)
	}
	if len(incident.Scope.AffectedIdentities) != 1 || incident.Scope.AffectedIdentities[0] != "user-9" {
		t.Errorf("affected identities = %v", incident.Scope.AffectedIdentities)
	}
}

func TestUpdateStatus_Transitions(t *testing.T) {
	tests := []struct {
		name string
		path []models.IncidentStatus
		ok   bool
	}{
		{"full lifecycle", []models.IncidentStatus{
			models.IncidentAssigned, models.IncidentInvestigating,
			models.IncidentContained, models.IncidentResolved, models.IncidentClosed,
		}, true},
		{"skip to investigating", []models.IncidentStatus{models.IncidentInvestigating}, true},
		{"close immediately", []models.IncidentStatus{models.IncidentClosed}, true},
		{"new to contained", []models.IncidentStatus{models.IncidentContained}, false},
		{"new to resolved", []models.IncidentStatus{models.IncidentResolved}, false},
		{"reopen after close", []models.IncidentStatus{
			models.IncidentClosed, models.IncidentInvestigating,
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := testManager(t)
			incident := openIncident(t, m)
			ctx := context.Background()

			var err error
			for _, status := range tt.path {
				if err = m.UpdateStatus(ctx, incident.ID, status, "analyst"); err != nil {
					break
				}
			}
			if tt.ok && err != nil {
				t.Errorf("path rejected: %v", err)
			}
			if !tt.ok && err == nil {
				t.Error("invalid path accepted")
			}
		})
	}
}

func TestUpdateStatus_StampsMetrics(t *testing.T) {
	m := testManager(t)
	incident := openIncident(t, m)
	ctx := context.Background()

	before, err := m.Get(ctx, incident.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if before.Metrics.ResponseTime != nil {
		t.Error("ResponseTime set before acknowledgment")
	}

	if err := m.UpdateStatus(ctx, incident.ID, models.IncidentAssigned, "analyst"); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	after, err := m.Get(ctx, incident.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if after.Timeline.AcknowledgedAt == nil {
		t.Fatal("AcknowledgedAt not stamped")
	}
	if after.Metrics.ResponseTime == nil {
		t.Fatal("ResponseTime not derived")
	}
	want := after.Timeline.AcknowledgedAt.Sub(after.Timeline.DetectedAt)
	if *after.Metrics.ResponseTime != want {
		t.Errorf("ResponseTime = %s, want %s", *after.Metrics.ResponseTime, want)
	}
}

func TestAssign_AdvancesNewIncident(t *testing.T) {
	m := testManager(t)
	incident := openIncident(t, m)
	ctx := context.Background()

	if err := m.Assign(ctx, incident.ID, "analyst-1"); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	got, err := m.Get(ctx, incident.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != models.IncidentAssigned {
		t.Errorf("status = %s, want assigned", got.Status)
	}
	if got.Response.Assignee != "analyst-1" {
		t.Errorf("assignee = %s", got.Response.Assignee)
	}
}

type stubExecutor struct {
	mu    sync.Mutex
	calls int
	fail  bool
}

func (e *stubExecutor) Execute(_ context.Context, action models.ContainmentType, target string) models.ContainmentAction {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	return models.ContainmentAction{
		Type:    action,
		Target:  target,
		Success: !e.fail,
	}
}

func TestExecuteContainment_AdvancesOnce(t *testing.T) {
	executor := &stubExecutor{}
	m := NewManager(testIncidentConfig(), store.NewMemoryStore(), nil, executor)
	incident := openIncident(t, m)
	ctx := context.Background()

	if err := m.UpdateStatus(ctx, incident.ID, models.IncidentInvestigating, "analyst"); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	outcome, err := m.ExecuteContainment(ctx, incident.ID, models.ContainBlockIP, "203.0.113.5")
	if err != nil {
		t.Fatalf("ExecuteContainment: %v", err)
	}
	if !outcome.Success {
		t.Fatal("containment reported failure")
	}

	got, err := m.Get(ctx, incident.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != models.IncidentContained {
		t.Errorf("status = %s, want contained after first success", got.Status)
	}
	firstContained := got.Timeline.ContainedAt

	// A second containment on an already-contained incident records the
	// action but never re-stamps the timeline.
	if _, err := m.ExecuteContainment(ctx, incident.ID, models.ContainDisableAccount, "user-9"); err != nil {
		t.Fatalf("second ExecuteContainment: %v", err)
	}
	got, err = m.Get(ctx, incident.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got.Response.Containments) != 2 {
		t.Errorf("containments recorded = %d, want 2", len(got.Response.Containments))
	}
	if !got.Timeline.ContainedAt.Equal(*firstContained) {
		t.Error("ContainedAt re-stamped by second containment")
	}
}

func TestExecuteContainment_FailureDoesNotAdvance(t *testing.T) {
	executor := &stubExecutor{fail: true}
	m := NewManager(testIncidentConfig(), store.NewMemoryStore(), nil, executor)
	incident := openIncident(t, m)
	ctx := context.Background()

	if err := m.UpdateStatus(ctx, incident.ID, models.IncidentInvestigating, "analyst"); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if _, err := m.ExecuteContainment(ctx, incident.ID, models.ContainBlockIP, "203.0.113.5"); err != nil {
		t.Fatalf("ExecuteContainment: %v", err)
	}

	got, err := m.Get(ctx, incident.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != models.IncidentInvestigating {
		t.Errorf("status = %s, failed containment must not advance", got.Status)
	}
}

type recordingSuspender struct {
	suspended []string
}

func (s *recordingSuspender) Suspend(_ context.Context, identityID string) error {
	s.suspended = append(s.suspended, identityID)
	return nil
}

type recordingSourceBlocker struct {
	blocked []string
}

func (b *recordingSourceBlocker) BlockSource(source, reason string, duration time.Duration) {
	b.blocked = append(b.blocked, source)
}

func TestDefaultExecutor(t *testing.T) {
	blocker := &recordingSourceBlocker{}
	suspender := &recordingSuspender{}
	executor := NewDefaultExecutor(blocker, suspender)
	ctx := context.Background()

	outcome := executor.Execute(ctx, models.ContainBlockIP, "203.0.113.7")
	if !outcome.Success || len(blocker.blocked) != 1 {
		t.Errorf("block-ip outcome = %+v, blocked = %v", outcome, blocker.blocked)
	}

	outcome = executor.Execute(ctx, models.ContainDisableAccount, "user-3")
	if !outcome.Success || len(suspender.suspended) != 1 {
		t.Errorf("disable-account outcome = %+v, suspended = %v", outcome, suspender.suspended)
	}

	// No built-in integration and no delegate: report failure honestly.
	outcome = executor.Execute(ctx, models.ContainIsolateSystem, "host-1")
	if outcome.Success || outcome.Error == "" {
		t.Errorf("unwired action reported success: %+v", outcome)
	}

	executor.RegisterDelegate(models.ContainIsolateSystem, func(context.Context, string) error { return nil })
	outcome = executor.Execute(ctx, models.ContainIsolateSystem, "host-1")
	if !outcome.Success {
		t.Errorf("delegate outcome = %+v", outcome)
	}
}

func TestPlaybookSelection(t *testing.T) {
	m := testManager(t)

	playbook := &models.Playbook{
		ID:         "pb-test",
		Name:       "intrusion response",
		Category:   models.CategoryIntrusion,
		Severities: []models.Severity{models.SeverityCritical},
		Actions: []models.ActionTemplate{
			{Type: models.RespContain, Description: "Block the source", Automated: true},
			{Type: models.RespInvestigate, Description: "Investigate", RequiredRoles: []string{"analyst"}},
		},
		SLA: models.SLATargets{AcknowledgmentMins: 10, ContainmentMins: 30, ResolutionMins: 240},
	}
	if err := m.RegisterPlaybook(playbook); err != nil {
		t.Fatalf("RegisterPlaybook: %v", err)
	}
	m.SetTeam([]models.TeamMember{
		{ID: "tm-lead", Roles: []string{"lead"}},
		{ID: "tm-analyst", Roles: []string{"analyst"}},
	})

	incident := openIncident(t, m)
	if incident.PlaybookID != "pb-test" {
		t.Fatalf("PlaybookID = %s, want pb-test", incident.PlaybookID)
	}
	if len(incident.Response.Actions) != 2 {
		t.Fatalf("instantiated %d actions, want 2", len(incident.Response.Actions))
	}
	automated := incident.Response.Actions[0]
	if automated.State != models.ActionCompleted || automated.CompletedAt == nil {
		t.Errorf("automated action not auto-completed: %+v", automated)
	}
	manual := incident.Response.Actions[1]
	if manual.State != models.ActionPending {
		t.Errorf("manual action state = %s, want pending", manual.State)
	}
	if manual.AssignedTo != "tm-analyst" {
		t.Errorf("assigned to %s, want the role-matching member", manual.AssignedTo)
	}
}

func TestPlaybookFallback(t *testing.T) {
	m := testManager(t)
	incident := openIncident(t, m)

	if incident.PlaybookID != defaultPlaybookID {
		t.Errorf("PlaybookID = %s, want the built-in default", incident.PlaybookID)
	}
	// Critical severity prepends a containment action to the default two.
	if len(incident.Response.Actions) != 3 {
		t.Errorf("default response has %d actions, want 3", len(incident.Response.Actions))
	}
}

func TestEvidenceCustody(t *testing.T) {
	m := testManager(t)
	incident := openIncident(t, m)
	ctx := context.Background()

	artifact, err := m.AddArtifact(ctx, incident.ID, "pcap", "s3://evidence/capture.pcap", "analyst-1")
	if err != nil {
		t.Fatalf("AddArtifact: %v", err)
	}
	if len(artifact.Custody) != 1 || artifact.Custody[0].Action != "collected" {
		t.Fatalf("initial custody = %+v", artifact.Custody)
	}

	if err := m.AppendCustody(ctx, incident.ID, artifact.ID, "transferred", "analyst-2", "handed to forensics"); err != nil {
		t.Fatalf("AppendCustody: %v", err)
	}
	if err := m.AppendCustody(ctx, incident.ID, "missing", "transferred", "analyst-2", ""); err == nil {
		t.Error("custody append on unknown artifact accepted")
	}

	got, err := m.Get(ctx, incident.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	custody := got.Evidence.Artifacts[0].Custody
	if len(custody) != 2 {
		t.Fatalf("custody chain length = %d, want 2", len(custody))
	}
	if custody[1].Actor != "analyst-2" || custody[1].Note != "handed to forensics" {
		t.Errorf("appended entry = %+v", custody[1])
	}

	records, err := m.CustodyAudit(ctx, "analyst-2")
	if err != nil {
		t.Fatalf("CustodyAudit: %v", err)
	}
	if len(records) != 1 || records[0].Action != "transferred" {
		t.Errorf("audit records = %+v", records)
	}
	all, err := m.CustodyAudit(ctx, "")
	if err != nil {
		t.Fatalf("CustodyAudit all: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("full audit has %d records, want 2", len(all))
	}
}

func TestLinkEvidence_Dedups(t *testing.T) {
	m := testManager(t)
	incident := openIncident(t, m)
	ctx := context.Background()

	if err := m.LinkEvidence(ctx, incident.ID, []string{"ev-1", "ev-2"}, []string{"al-1"}); err != nil {
		t.Fatalf("LinkEvidence: %v", err)
	}
	if err := m.LinkEvidence(ctx, incident.ID, []string{"ev-2", "ev-3"}, []string{"al-1"}); err != nil {
		t.Fatalf("LinkEvidence: %v", err)
	}

	got, err := m.Get(ctx, incident.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got.Evidence.EventIDs) != 3 {
		t.Errorf("EventIDs = %v, want 3 unique", got.Evidence.EventIDs)
	}
	if len(got.Evidence.AlertIDs) != 1 {
		t.Errorf("AlertIDs = %v, want 1 unique", got.Evidence.AlertIDs)
	}
}

type countingNotifier struct {
	mu    sync.Mutex
	sent  []notify.Notification
	ready chan struct{}
}

func (n *countingNotifier) Send(_ context.Context, notification notify.Notification) error {
	n.mu.Lock()
	n.sent = append(n.sent, notification)
	n.mu.Unlock()
	select {
	case n.ready <- struct{}{}:
	default:
	}
	return nil
}

func (n *countingNotifier) Name() string  { return "counting" }
func (n *countingNotifier) Enabled() bool { return true }

func (n *countingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

func TestCheckSLAs_EscalatesOnce(t *testing.T) {
	sink := &countingNotifier{ready: make(chan struct{}, 1)}
	m := NewManager(testIncidentConfig(), store.NewMemoryStore(), notify.NewFanout(sink), nil)
	incident := openIncident(t, m)
	ctx := context.Background()

	// Move the manager clock past the acknowledgment target but inside
	// the containment and resolution targets.
	m.now = func() time.Time {
		return incident.Timeline.DetectedAt.Add(45 * time.Minute)
	}

	m.CheckSLAs(ctx)
	select {
	case <-sink.ready:
	case <-time.After(2 * time.Second):
		t.Fatal("no escalation notification delivered")
	}
	if got := sink.count(); got != 1 {
		t.Fatalf("notifications = %d, want 1", got)
	}

	// The same breach never escalates twice.
	m.CheckSLAs(ctx)
	time.Sleep(50 * time.Millisecond)
	if got := sink.count(); got != 1 {
		t.Errorf("notifications after second sweep = %d, want still 1", got)
	}

	got, err := m.Get(ctx, incident.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	var noted bool
	for _, note := range got.Notes {
		noted = noted || note.Author == "sla-checker"
	}
	if !noted {
		t.Error("sla breach left no incident note")
	}
}

func TestCheckSLAs_PlaybookTargets(t *testing.T) {
	sink := &countingNotifier{ready: make(chan struct{}, 1)}
	m := NewManager(testIncidentConfig(), store.NewMemoryStore(), notify.NewFanout(sink), nil)

	playbook := &models.Playbook{
		ID:         "pb-tight",
		Name:       "tight sla",
		Category:   models.CategoryIntrusion,
		Severities: []models.Severity{models.SeverityCritical},
		Actions:    []models.ActionTemplate{{Type: models.RespInvestigate, Description: "triage"}},
		SLA:        models.SLATargets{AcknowledgmentMins: 5, ContainmentMins: 60, ResolutionMins: 240},
	}
	if err := m.RegisterPlaybook(playbook); err != nil {
		t.Fatalf("RegisterPlaybook: %v", err)
	}
	incident := openIncident(t, m)
	ctx := context.Background()

	// 10 minutes breaches the playbook's 5-minute acknowledgment target
	// but not the 30-minute configured default.
	m.now = func() time.Time {
		return incident.Timeline.DetectedAt.Add(10 * time.Minute)
	}
	m.CheckSLAs(ctx)
	select {
	case <-sink.ready:
	case <-time.After(2 * time.Second):
		t.Fatal("playbook sla target not applied")
	}
}

func escalatingPlaybook(rules ...models.EscalationRule) *models.Playbook {
	return &models.Playbook{
		ID:         "pb-escalating",
		Name:       "escalating response",
		Category:   models.CategoryIntrusion,
		Severities: []models.Severity{models.SeverityHigh, models.SeverityCritical},
		Actions:    []models.ActionTemplate{{Type: models.RespInvestigate, Description: "triage"}},
		Escalation: rules,
		SLA:        models.SLATargets{AcknowledgmentMins: 120, ContainmentMins: 240, ResolutionMins: 480},
	}
}

func TestCheckSLAs_PlaybookTimeRule(t *testing.T) {
	sink := &countingNotifier{ready: make(chan struct{}, 1)}
	m := NewManager(testIncidentConfig(), store.NewMemoryStore(), notify.NewFanout(sink), nil)

	playbook := escalatingPlaybook(models.EscalationRule{
		Type:       models.EscalateTimeExceeded,
		AfterMins:  20,
		Recipients: []string{"resp-team"},
	})
	if err := m.RegisterPlaybook(playbook); err != nil {
		t.Fatalf("RegisterPlaybook: %v", err)
	}
	incident := openIncident(t, m)
	ctx := context.Background()

	// 30 minutes breaches the 20-minute escalation rule but none of the
	// playbook's SLA targets.
	m.now = func() time.Time {
		return incident.Timeline.DetectedAt.Add(30 * time.Minute)
	}
	m.CheckSLAs(ctx)
	select {
	case <-sink.ready:
	case <-time.After(2 * time.Second):
		t.Fatal("time-exceeded escalation rule never fired")
	}
	if got := sink.count(); got != 1 {
		t.Fatalf("notifications = %d, want 1", got)
	}

	sink.mu.Lock()
	recipients := sink.sent[0].Recipients
	sink.mu.Unlock()
	if len(recipients) != 1 || recipients[0] != "resp-team" {
		t.Errorf("recipients = %v, want the rule's own", recipients)
	}

	// The same rule never fires twice for one incident.
	m.CheckSLAs(ctx)
	time.Sleep(50 * time.Millisecond)
	if got := sink.count(); got != 1 {
		t.Errorf("notifications after second sweep = %d, want still 1", got)
	}
}

func TestExecuteContainment_FailureEscalates(t *testing.T) {
	sink := &countingNotifier{ready: make(chan struct{}, 1)}
	executor := &stubExecutor{fail: true}
	m := NewManager(testIncidentConfig(), store.NewMemoryStore(), notify.NewFanout(sink), executor)

	playbook := escalatingPlaybook(models.EscalationRule{Type: models.EscalateContainmentFailed})
	if err := m.RegisterPlaybook(playbook); err != nil {
		t.Fatalf("RegisterPlaybook: %v", err)
	}
	incident := openIncident(t, m)
	ctx := context.Background()

	if _, err := m.ExecuteContainment(ctx, incident.ID, models.ContainBlockIP, "203.0.113.5"); err != nil {
		t.Fatalf("ExecuteContainment: %v", err)
	}
	select {
	case <-sink.ready:
	case <-time.After(2 * time.Second):
		t.Fatal("containment failure never escalated")
	}

	// Recipients fall back to the configured escalation recipients.
	sink.mu.Lock()
	recipients := sink.sent[0].Recipients
	sink.mu.Unlock()
	if len(recipients) != 1 || recipients[0] != "oncall@example.com" {
		t.Errorf("recipients = %v, want the configured fallback", recipients)
	}

	// A second failure on the same incident does not re-escalate.
	if _, err := m.ExecuteContainment(ctx, incident.ID, models.ContainBlockIP, "203.0.113.6"); err != nil {
		t.Fatalf("ExecuteContainment: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if got := sink.count(); got != 1 {
		t.Errorf("notifications = %d, want 1", got)
	}
}

func TestUpdateSeverity_EscalatesOnIncrease(t *testing.T) {
	sink := &countingNotifier{ready: make(chan struct{}, 1)}
	m := NewManager(testIncidentConfig(), store.NewMemoryStore(), notify.NewFanout(sink), nil)

	playbook := escalatingPlaybook(models.EscalationRule{Type: models.EscalateSeverityIncreased})
	if err := m.RegisterPlaybook(playbook); err != nil {
		t.Fatalf("RegisterPlaybook: %v", err)
	}
	incident := openIncident(t, m)
	ctx := context.Background()

	// Lowering the severity is a plain reclassification.
	if err := m.UpdateSeverity(ctx, incident.ID, models.SeverityHigh, "analyst"); err != nil {
		t.Fatalf("UpdateSeverity: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if got := sink.count(); got != 0 {
		t.Fatalf("notifications after downgrade = %d, want 0", got)
	}

	if err := m.UpdateSeverity(ctx, incident.ID, models.SeverityCritical, "analyst"); err != nil {
		t.Fatalf("UpdateSeverity: %v", err)
	}
	select {
	case <-sink.ready:
	case <-time.After(2 * time.Second):
		t.Fatal("severity increase never escalated")
	}

	got, err := m.Get(ctx, incident.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Severity != models.SeverityCritical {
		t.Errorf("severity = %s, want critical", got.Severity)
	}
}

func TestRegisterPlaybook_Validation(t *testing.T) {
	m := testManager(t)

	err := m.RegisterPlaybook(&models.Playbook{
		Name:       "no actions",
		Category:   models.CategoryIntrusion,
		Severities: []models.Severity{models.SeverityHigh},
	})
	if err == nil {
		t.Error("playbook without actions accepted")
	}
}

func TestDefaultPlaybooks_Valid(t *testing.T) {
	m := testManager(t)
	for _, p := range DefaultPlaybooks() {
		if err := m.RegisterPlaybook(p); err != nil {
			t.Errorf("default playbook %s rejected: %v", p.ID, err)
		}
	}
}

func TestListOpen(t *testing.T) {
	m := testManager(t)
	ctx := context.Background()

	first := openIncident(t, m)
	second := openIncident(t, m)
	if err := m.UpdateStatus(ctx, second.ID, models.IncidentClosed, "analyst"); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	open, err := m.ListOpen(ctx)
	if err != nil {
		t.Fatalf("ListOpen: %v", err)
	}
	if len(open) != 1 || open[0].ID != first.ID {
		t.Errorf("open incidents = %d, want only the unclosed one", len(open))
	}
}
