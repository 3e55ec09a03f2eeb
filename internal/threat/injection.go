// Aegis - Security Decision and Response Engine
// Copyright 2026 Aegis Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/aegis-sec/aegis

package threat

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/aegis-sec/aegis/internal/models"
)

// patternFamily groups injection signatures of one attack class with the
// points a hit contributes.
type patternFamily struct {
	name     string
	points   int
	patterns []*regexp.Regexp
}

// sqlInjectionPattern is shared with the suspicious-behavior detector.
var sqlInjectionPattern = regexp.MustCompile(`(?i)('\s*(or|and)\s+'?\d+'?\s*=\s*'?\d+|'\s*;\s*|union\s+(all\s+)?select|drop\s+table|insert\s+into|delete\s+from|--\s|/\*.*\*/|xp_cmdshell)`)

var injectionFamilies = []patternFamily{
	{
		name:   "sql",
		points: 50,
		patterns: []*regexp.Regexp{
			sqlInjectionPattern,
			regexp.MustCompile(`(?i)(sleep\s*\(\s*\d+\s*\)|benchmark\s*\(|waitfor\s+delay)`),
		},
	},
	{
		name:   "nosql_operator",
		points: 40,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`"\$(where|ne|gt|lt|gte|lte|regex|nin|in)"\s*:`),
			regexp.MustCompile(`(?i)\$\{.*\}`),
		},
	},
	{
		name:   "xss",
		points: 35,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)(<script\b|javascript\s*:|on(error|load|click|mouseover)\s*=)`),
			regexp.MustCompile(`(?i)(document\.cookie|eval\s*\()`),
		},
	},
	{
		name:   "command",
		points: 45,
		patterns: []*regexp.Regexp{
			regexp.MustCompile("(;|&&|\\|\\|)\\s*(rm|cat|wget|curl|nc|bash|sh|powershell)\\b"),
			regexp.MustCompile("(\\$\\(|`)[^`]*(`|\\))"),
		},
	},
}

// InjectionDetector scores the serialized payload across the injection
// pattern families. Points are additive across families; multiple distinct
// families escalate severity to critical.
type InjectionDetector struct {
	toggle
}

func NewInjectionDetector() *InjectionDetector {
	return &InjectionDetector{toggle: toggle{enabled: true}}
}

// Type returns the threat class.
func (d *InjectionDetector) Type() models.ThreatType {
	return models.ThreatInjectionAttempt
}

func (d *InjectionDetector) Check(_ context.Context, rc *models.RequestContext) (*models.ThreatFinding, error) {
	haystack := string(rc.Payload)
	if rc.Endpoint != "" {
		haystack += " " + rc.Endpoint
	}
	if haystack == "" {
		return nil, nil
	}

	score := 0
	var hits []string
	for _, family := range injectionFamilies {
		for _, pattern := range family.patterns {
			if pattern.MatchString(haystack) {
				score += family.points
				hits = append(hits, family.name)
				break
			}
		}
	}
	if score == 0 {
		return nil, nil
	}

	severity := models.SeverityHigh
	if len(hits) >= 2 || score >= 80 {
		severity = models.SeverityCritical
	}
	if score > 100 {
		score = 100
	}
	return &models.ThreatFinding{
		Type:      models.ThreatInjectionAttempt,
		Severity:  severity,
		Source:    rc.SourceIP,
		Detail:    fmt.Sprintf("injection patterns matched: %s", strings.Join(hits, ", ")),
		RiskScore: score,
	}, nil
}
