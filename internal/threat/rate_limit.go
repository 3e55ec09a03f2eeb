// Aegis - Security Decision and Response Engine
// Copyright 2026 Aegis Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/aegis-sec/aegis

package threat

import (
	"context"
	"fmt"

	"github.com/aegis-sec/aegis/internal/cache"
	"github.com/aegis-sec/aegis/internal/models"
)

// RateLimitDetector flags sources exceeding the per-window request budget.
// The scorer records every attempt into the shared window store before
// detectors run, so the count seen here includes the current request.
type RateLimitDetector struct {
	toggle
	threshold int
	attempts  *cache.SlidingWindowStore
}

// NewRateLimitDetector builds the detector over the shared attempt windows.
func NewRateLimitDetector(threshold int, attempts *cache.SlidingWindowStore) *RateLimitDetector {
	return &RateLimitDetector{
		toggle:    toggle{enabled: true},
		threshold: threshold,
		attempts:  attempts,
	}
}

// Type returns the threat class.
func (d *RateLimitDetector) Type() models.ThreatType {
	return models.ThreatRateLimit
}

// Check compares the source's window count against the threshold. Risk
// starts at 80 on the crossing request and grows with the overage.
func (d *RateLimitDetector) Check(_ context.Context, rc *models.RequestContext) (*models.ThreatFinding, error) {
	if rc.SourceIP == "" || d.threshold <= 0 {
		return nil, nil
	}
	count := d.attempts.Count(rc.SourceIP)
	if count <= int64(d.threshold) {
		return nil, nil
	}
	overage := count - int64(d.threshold)
	risk := 60 + int(overage)*20
	if risk > 100 {
		risk = 100
	}
	return &models.ThreatFinding{
		Type:      models.ThreatRateLimit,
		Severity:  models.SeverityMedium,
		Source:    rc.SourceIP,
		Detail:    fmt.Sprintf("%d requests in window (limit %d)", count, d.threshold),
		RiskScore: risk,
	}, nil
}
