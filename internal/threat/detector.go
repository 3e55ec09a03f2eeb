// Aegis - Security Decision and Response Engine
// Copyright 2026 Aegis Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/aegis-sec/aegis

// Package threat implements the heuristic threat scorer: independent
// detectors run concurrently over each request and their findings merge
// into a blocked/not-blocked verdict with a risk score. A time-bounded
// block set short-circuits repeat offenders.
package threat

import (
	"context"
	"sync"

	"github.com/aegis-sec/aegis/internal/models"
)

// Detector is one pluggable heuristic. Check returns a nil finding when the
// request is clean. A detector error discards that detector's vote only;
// the remaining detectors still run.
type Detector interface {
	// Type identifies the threat class this detector reports.
	Type() models.ThreatType

	// Check evaluates the request. Returns (nil, nil) for no finding.
	Check(ctx context.Context, rc *models.RequestContext) (*models.ThreatFinding, error)

	// Enabled reports whether the detector participates in evaluation.
	Enabled() bool

	// SetEnabled toggles the detector at runtime.
	SetEnabled(enabled bool)
}

// calibration fixes the baseline confidence and false-positive probability
// per threat class. A finding's own risk score nudges both: high risk adds
// confidence and shaves false-positive probability.
type calibration struct {
	confidence    float64
	falsePositive float64
}

var calibrations = map[models.ThreatType]calibration{
	models.ThreatRateLimit:          {confidence: 0.95, falsePositive: 0.02},
	models.ThreatBruteForce:         {confidence: 0.90, falsePositive: 0.05},
	models.ThreatSuspiciousBehavior: {confidence: 0.70, falsePositive: 0.20},
	models.ThreatGeoAnomaly:         {confidence: 0.80, falsePositive: 0.10},
	models.ThreatInjectionAttempt:   {confidence: 0.85, falsePositive: 0.08},
	models.ThreatDataExfiltration:   {confidence: 0.75, falsePositive: 0.15},
}

// calibrate stamps confidence and false-positive probability onto a finding.
func calibrate(finding *models.ThreatFinding) {
	cal, ok := calibrations[finding.Type]
	if !ok {
		cal = calibration{confidence: 0.5, falsePositive: 0.25}
	}
	confidence := cal.confidence + float64(finding.RiskScore)/500
	if confidence > 0.99 {
		confidence = 0.99
	}
	falsePositive := cal.falsePositive - float64(finding.RiskScore)/1000
	if falsePositive < 0.01 {
		falsePositive = 0.01
	}
	finding.Confidence = confidence
	finding.FalsePositive = falsePositive
}

// toggle is the shared enabled-flag implementation embedded by detectors.
// Safe for concurrent use.
type toggle struct {
	mu      sync.RWMutex
	enabled bool
}

func (t *toggle) Enabled() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.enabled
}

func (t *toggle) SetEnabled(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = enabled
}
