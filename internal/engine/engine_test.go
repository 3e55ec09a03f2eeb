// Aegis - Security Decision and Response Engine
// Copyright 2026 Aegis Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/aegis-sec/aegis

package engine

import (
	"context"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/aegis-sec/aegis/internal/config"
	"github.com/aegis-sec/aegis/internal/models"
	"github.com/aegis-sec/aegis/internal/store"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := New(config.Default(), WithStore(store.NewMemoryStore()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

func pipelineRequest(identityID, source, endpoint, action string) *models.RequestContext {
	return &models.RequestContext{
		IdentityID: identityID,
		SourceIP:   source,
		UserAgent:  "Mozilla/5.0 (X11; Linux x86_64) Gecko/20100101 Firefox/140.0",
		Service:    "content",
		Endpoint:   endpoint,
		Action:     action,
		Timestamp:  time.Now().UTC(),
	}
}

func TestProcess_AllowsBenignRequest(t *testing.T) {
	e := newTestEngine(t)

	result, err := e.Process(context.Background(), pipelineRequest("user-1", "192.0.2.10", "/content/list", "GET"))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !result.Allowed {
		t.Fatalf("benign request denied: %s", result.Reason)
	}
	if result.Threat == nil || result.Access == nil || result.Enforcement == nil {
		t.Error("stage outputs missing from the result")
	}
	if !result.Access.Allowed || !result.Enforcement.Allowed {
		t.Error("stage verdicts disagree with the combined verdict")
	}
}

func TestProcess_NilRequest(t *testing.T) {
	e := newTestEngine(t)
	if _, err := e.Process(context.Background(), nil); err == nil {
		t.Error("nil request accepted")
	}
}

func TestProcess_BlockedSourceShortCircuits(t *testing.T) {
	e := newTestEngine(t)
	e.Threat().BlockSource("203.0.113.66", "manual block", time.Hour)

	result, err := e.Process(context.Background(), pipelineRequest("user-1", "203.0.113.66", "/content/list", "GET"))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if result.Allowed {
		t.Fatal("blocked source allowed through")
	}
	if result.Access != nil || result.Enforcement != nil {
		t.Error("later stages ran for a blocked source")
	}
	if result.RiskScore < 80 {
		t.Errorf("RiskScore = %d for a blocked source", result.RiskScore)
	}
}

func TestProcess_CriticalFindingOpensIncident(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	rc := pipelineRequest("user-1", "203.0.113.67", "/content/search", "POST")
	rc.Payload = json.RawMessage(`{"q": "1 UNION SELECT password FROM users", "cb": "<script>document.location='http://evil'</script>"}`)

	result, err := e.Process(ctx, rc)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if result.Allowed {
		t.Fatal("critical injection allowed")
	}

	open, err := e.Incidents().ListOpen(ctx)
	if err != nil {
		t.Fatalf("ListOpen: %v", err)
	}
	if len(open) != 1 {
		t.Fatalf("open incidents = %d, want 1", len(open))
	}
	if open[0].Category != models.CategoryIntrusion {
		t.Errorf("category = %s, want intrusion", open[0].Category)
	}
}

func TestProcess_AccessDenialReported(t *testing.T) {
	e := newTestEngine(t)

	result, err := e.Process(context.Background(), pipelineRequest("user-1", "192.0.2.11", "/admin/settings", "GET"))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if result.Allowed {
		t.Fatal("default grant reached an admin endpoint")
	}
	if result.Access == nil || result.Access.Allowed {
		t.Error("access stage did not deny")
	}
	if result.Reason != result.Access.Reason {
		t.Errorf("Reason = %q, want the access denial reason %q", result.Reason, result.Access.Reason)
	}
}

func TestProcess_PolicyDenyReported(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	err := e.Policies().CreatePolicy(ctx, &models.SecurityPolicy{
		Name:     "no deletes",
		Category: models.CategoryOperational,
		Priority: models.PriorityHigh,
		Enabled:  true,
		Scope: models.PolicyScope{
			Targets: []models.TargetMatcher{{Type: models.TargetEndpoint, Value: "/content/*"}},
		},
		Triggers: []models.PolicyTrigger{{
			Type:      models.TriggerFieldCondition,
			FieldPath: "action",
			Operator:  models.OpEquals,
			Value:     "DELETE",
		}},
		Actions:     []models.PolicyAction{{Type: models.ActionBlock}},
		Enforcement: models.EnforcementBlocking,
	})
	if err != nil {
		t.Fatalf("CreatePolicy: %v", err)
	}

	// The grant must survive the access stage for the policy stage to be
	// the denier: creators may delete their own resources.
	if _, err := e.Access().AssignRoles(ctx, "user-1", []models.Role{models.RoleCreator}, "test", nil); err != nil {
		t.Fatalf("AssignRoles: %v", err)
	}
	rc := pipelineRequest("user-1", "192.0.2.12", "/content/42", "DELETE")
	rc.Resource = models.ResourceDescriptor{ID: "42", OwnerID: "user-1", Visibility: "private"}

	result, err := e.Process(ctx, rc)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if result.Allowed {
		t.Fatal("blocking policy did not deny")
	}
	if result.Access == nil || !result.Access.Allowed {
		t.Fatalf("access stage denied first: %s", result.Reason)
	}
	if result.Enforcement == nil || result.Enforcement.Allowed {
		t.Error("policy stage did not deny")
	}
}

func TestProcess_Cancellation(t *testing.T) {
	e := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := e.Process(ctx, pipelineRequest("user-1", "192.0.2.13", "/content/list", "GET"))
	if err == nil {
		t.Fatal("canceled context produced a result")
	}
	if result != nil {
		t.Errorf("result = %+v, want nil on cancellation", result)
	}
}

func TestInitCloseLifecycle(t *testing.T) {
	e, err := New(config.Default(), WithStore(store.NewMemoryStore()), WithDefaults())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()

	if err := e.Init(ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := e.Init(ctx); err == nil {
		t.Error("second Init accepted")
	}

	snap := e.Snapshot()
	if snap.ActiveRules == 0 {
		t.Error("defaults not seeded")
	}

	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestSeedIdempotent(t *testing.T) {
	mem := store.NewMemoryStore()
	ctx := context.Background()

	first, err := New(config.Default(), WithStore(mem), WithDefaults())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := first.Init(ctx); err != nil {
		t.Fatalf("first Init: %v", err)
	}
	rules := first.Snapshot().ActiveRules
	if err := first.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}

	second, err := New(config.Default(), WithStore(mem), WithDefaults())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := second.Init(ctx); err != nil {
		t.Fatalf("second Init: %v", err)
	}
	defer second.Close()

	if got := second.Snapshot().ActiveRules; got != rules {
		t.Errorf("rules after reseed = %d, want %d", got, rules)
	}
}

func TestSnapshot(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	e.Threat().BlockSource("203.0.113.70", "test", time.Hour)
	if err := e.Correlator().Ingest(ctx, &models.SecurityEvent{
		Type:     models.EventDataAccess,
		Severity: models.SeverityLow,
		SourceIP: "203.0.113.70",
	}); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	snap := e.Snapshot()
	if snap.BlockedSources != 1 {
		t.Errorf("BlockedSources = %d", snap.BlockedSources)
	}
	if snap.BufferedEvents != 1 {
		t.Errorf("BufferedEvents = %d", snap.BufferedEvents)
	}
}
