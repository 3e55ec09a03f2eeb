// Aegis - Security Decision and Response Engine
// Copyright 2026 Aegis Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/aegis-sec/aegis

package threat

import (
	"context"
	"fmt"
	"strings"

	"github.com/aegis-sec/aegis/internal/cache"
	"github.com/aegis-sec/aegis/internal/models"
)

// automationAgents are user-agent substrings of known automation tooling.
var automationAgents = []string{
	"curl", "wget", "python-requests", "go-http-client", "scrapy",
	"bot", "crawler", "scanner", "sqlmap", "nikto", "nmap",
}

// sensitivePathFragments add suspicion points when accessed.
var sensitivePathFragments = []string{
	"/admin", "/config", "/secret", "/internal", "/backup", "/.env", "/.git",
}

// temporalAnomalyFloor is the request count in the last minute above which
// the temporal-anomaly signal fires.
const temporalAnomalyFloor = 30

// SuspiciousBehaviorDetector accumulates suspicion points across weak
// signals; none alone is conclusive, but a cumulative score at the floor
// produces a finding.
type SuspiciousBehaviorDetector struct {
	toggle
	floor  int
	recent *cache.SlidingWindowStore
}

// NewSuspiciousBehaviorDetector builds the detector over the shared
// 60-second request window.
func NewSuspiciousBehaviorDetector(floor int, recent *cache.SlidingWindowStore) *SuspiciousBehaviorDetector {
	return &SuspiciousBehaviorDetector{
		toggle: toggle{enabled: true},
		floor:  floor,
		recent: recent,
	}
}

// Type returns the threat class.
func (d *SuspiciousBehaviorDetector) Type() models.ThreatType {
	return models.ThreatSuspiciousBehavior
}

func (d *SuspiciousBehaviorDetector) Check(_ context.Context, rc *models.RequestContext) (*models.ThreatFinding, error) {
	score := 0
	var signals []string

	agent := strings.ToLower(rc.UserAgent)
	switch {
	case agent == "":
		score += 20
		signals = append(signals, "missing user-agent")
	case len(agent) < 10:
		score += 10
		signals = append(signals, "short user-agent")
	}
	for _, tool := range automationAgents {
		if strings.Contains(agent, tool) {
			score += 25
			signals = append(signals, "automation user-agent: "+tool)
			break
		}
	}

	if len(rc.Payload) > 0 && sqlInjectionPattern.MatchString(string(rc.Payload)) {
		score += 30
		signals = append(signals, "sql pattern in payload")
	}

	endpoint := strings.ToLower(rc.Endpoint)
	for _, fragment := range sensitivePathFragments {
		if strings.Contains(endpoint, fragment) {
			score += 15
			signals = append(signals, "sensitive path: "+fragment)
			break
		}
	}

	if rc.SourceIP != "" && d.recent.Count(rc.SourceIP) > temporalAnomalyFloor {
		score += 20
		signals = append(signals, "request burst in last minute")
	}

	if score < d.floor {
		return nil, nil
	}

	severity := models.SeverityMedium
	if score >= 80 {
		severity = models.SeverityHigh
	}
	if score > 100 {
		score = 100
	}
	return &models.ThreatFinding{
		Type:      models.ThreatSuspiciousBehavior,
		Severity:  severity,
		Source:    rc.SourceIP,
		Detail:    fmt.Sprintf("suspicion score %d: %s", score, strings.Join(signals, "; ")),
		RiskScore: score,
	}, nil
}
