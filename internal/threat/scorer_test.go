// Aegis - Security Decision and Response Engine
// Copyright 2026 Aegis Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/aegis-sec/aegis

package threat

import (
	"context"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/aegis-sec/aegis/internal/config"
	"github.com/aegis-sec/aegis/internal/models"
	"github.com/aegis-sec/aegis/internal/store"
)

func testThreatConfig() config.ThreatConfig {
	return config.ThreatConfig{
		RateLimitRequests:        3,
		RateLimitWindow:          time.Minute,
		BlockDuration:            time.Hour,
		BruteForceThreshold:      5,
		SuspiciousScoreThreshold: 50,
		AutoBlock:                true,
	}
}

func benignRequest(source string) *models.RequestContext {
	return &models.RequestContext{
		IdentityID: "user-1",
		SourceIP:   source,
		UserAgent:  "Mozilla/5.0 (X11; Linux x86_64) Gecko/20100101 Firefox/140.0",
		Service:    "content",
		Endpoint:   "/content/list",
		Action:     "GET",
		Timestamp:  time.Now().UTC(),
	}
}

func TestScorer_RateLimitCrossing(t *testing.T) {
	s := NewScorer(testThreatConfig(), store.NewMemoryStore(), nil)
	ctx := context.Background()

	// The first three requests are inside the budget.
	for i := 0; i < 3; i++ {
		result := s.Evaluate(ctx, benignRequest("198.51.100.9"))
		if result.Blocked {
			t.Fatalf("request %d blocked inside the budget: %+v", i+1, result.Findings)
		}
	}

	// The fourth crosses the threshold and is blocked at risk 80.
	result := s.Evaluate(ctx, benignRequest("198.51.100.9"))
	if !result.Blocked {
		t.Fatal("crossing request not blocked")
	}
	if result.RiskScore < 60 {
		t.Errorf("RiskScore = %d, want >= 60", result.RiskScore)
	}
	var found bool
	for _, f := range result.Findings {
		if f.Type == models.ThreatRateLimit {
			found = true
			if f.Response != models.ResponseBlocked {
				t.Errorf("finding response = %s, want blocked", f.Response)
			}
		}
	}
	if !found {
		t.Errorf("no rate_limit finding in %+v", result.Findings)
	}

	// The source is now on the block set: the fast path short-circuits.
	if !s.IsBlocked("198.51.100.9") {
		t.Error("IsBlocked = false after auto-block")
	}
	result = s.Evaluate(ctx, benignRequest("198.51.100.9"))
	if !result.Blocked || len(result.Findings) != 1 {
		t.Errorf("blocked fast path returned %+v", result)
	}
}

func TestScorer_InjectionDetection(t *testing.T) {
	s := NewScorer(testThreatConfig(), store.NewMemoryStore(), nil)
	ctx := context.Background()

	rc := benignRequest("203.0.113.20")
	rc.Payload = json.RawMessage(`{"query": "'; DROP TABLE users; --"}`)

	result := s.Evaluate(ctx, rc)
	var finding *models.ThreatFinding
	for i := range result.Findings {
		if result.Findings[i].Type == models.ThreatInjectionAttempt {
			finding = &result.Findings[i]
		}
	}
	if finding == nil {
		t.Fatalf("no injection finding in %+v", result.Findings)
	}
	if finding.Severity != models.SeverityHigh && finding.Severity != models.SeverityCritical {
		t.Errorf("severity = %s, want high or critical", finding.Severity)
	}
	if finding.Confidence <= 0 || finding.Confidence > 1 {
		t.Errorf("confidence = %f, want (0, 1]", finding.Confidence)
	}
}

func TestScorer_MultiFamilyInjectionBlocks(t *testing.T) {
	s := NewScorer(testThreatConfig(), store.NewMemoryStore(), nil)
	ctx := context.Background()

	rc := benignRequest("203.0.113.21")
	rc.Payload = json.RawMessage(`{"q": "1 UNION SELECT password FROM users", "cb": "<script>document.location='http://evil'</script>"}`)

	result := s.Evaluate(ctx, rc)
	if result.Level != models.SeverityCritical {
		t.Errorf("level = %s, want critical for multi-family injection", result.Level)
	}
	if !result.Blocked {
		t.Error("critical finding did not trigger a block")
	}
}

func TestScorer_BruteForce(t *testing.T) {
	mem := store.NewMemoryStore()
	s := NewScorer(testThreatConfig(), mem, nil)
	ctx := context.Background()

	// Seed failed logins beyond the threshold.
	for i := 0; i < 6; i++ {
		event := &models.SecurityEvent{
			ID:        string(rune('a' + i)),
			Type:      models.EventAuthentication,
			Severity:  models.SeverityMedium,
			SourceIP:  "198.51.100.30",
			Outcome:   "denied",
			Timestamp: time.Now().UTC().Add(-time.Minute),
		}
		if err := mem.Set(ctx, "events", event.ID, event); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	rc := benignRequest("198.51.100.30")
	rc.Endpoint = "/auth/login"
	rc.Action = "POST"

	result := s.Evaluate(ctx, rc)
	var found bool
	for _, f := range result.Findings {
		if f.Type == models.ThreatBruteForce {
			found = true
		}
	}
	if !found {
		t.Errorf("no brute_force finding in %+v", result.Findings)
	}
}

type stubGeoResolver struct {
	regions map[string]string
}

func (r *stubGeoResolver) Region(sourceIP string) string {
	return r.regions[sourceIP]
}

func TestScorer_GeoBlockedRegion(t *testing.T) {
	cfg := testThreatConfig()
	cfg.BlockedRegions = []string{"XX"}
	s := NewScorer(cfg, store.NewMemoryStore(), nil)
	s.SetGeoResolver(&stubGeoResolver{regions: map[string]string{"203.0.113.40": "XX"}})

	result := s.Evaluate(context.Background(), benignRequest("203.0.113.40"))
	if !result.Blocked {
		t.Fatal("blocked-region source not blocked")
	}
	if result.Level != models.SeverityCritical {
		t.Errorf("level = %s, want critical", result.Level)
	}
}

func TestScorer_BlockUnblock(t *testing.T) {
	s := NewScorer(testThreatConfig(), store.NewMemoryStore(), nil)

	s.BlockSource("198.51.100.50", "manual", time.Hour)
	if !s.IsBlocked("198.51.100.50") {
		t.Fatal("IsBlocked = false after BlockSource")
	}
	s.UnblockSource("198.51.100.50")
	if s.IsBlocked("198.51.100.50") {
		t.Error("IsBlocked = true after UnblockSource")
	}
}

func TestScorer_BlockExpiry(t *testing.T) {
	s := NewScorer(testThreatConfig(), store.NewMemoryStore(), nil)

	s.BlockSource("198.51.100.51", "short", 10*time.Millisecond)
	time.Sleep(25 * time.Millisecond)
	if s.IsBlocked("198.51.100.51") {
		t.Error("block survived its duration")
	}
}

func TestScorer_DetectorToggle(t *testing.T) {
	s := NewScorer(testThreatConfig(), store.NewMemoryStore(), nil)
	ctx := context.Background()

	for _, d := range s.Detectors() {
		if d.Type() == models.ThreatInjectionAttempt {
			d.SetEnabled(false)
		}
	}

	rc := benignRequest("203.0.113.60")
	rc.Payload = json.RawMessage(`{"query": "'; DROP TABLE users; --"}`)
	result := s.Evaluate(ctx, rc)
	for _, f := range result.Findings {
		if f.Type == models.ThreatInjectionAttempt {
			t.Error("disabled detector still produced a finding")
		}
	}
}

func TestCalibrate_Bounds(t *testing.T) {
	finding := models.ThreatFinding{Type: models.ThreatRateLimit, RiskScore: 100}
	calibrate(&finding)
	if finding.Confidence <= 0 || finding.Confidence > 0.99 {
		t.Errorf("confidence = %f, want (0, 0.99]", finding.Confidence)
	}
	if finding.FalsePositive < 0.01 || finding.FalsePositive > 1 {
		t.Errorf("false positive = %f, want [0.01, 1]", finding.FalsePositive)
	}
}
