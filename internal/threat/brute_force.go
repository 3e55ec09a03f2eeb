// Aegis - Security Decision and Response Engine
// Copyright 2026 Aegis Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/aegis-sec/aegis

package threat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aegis-sec/aegis/internal/models"
	"github.com/aegis-sec/aegis/internal/store"
)

// authEndpointFragments mark authentication-class endpoints; brute-force
// detection only applies there.
var authEndpointFragments = []string{"/login", "/auth", "/signin", "/token", "/password"}

// bruteForceLookback bounds the failure-count query window.
const bruteForceLookback = 15 * time.Minute

// BruteForceDetector counts recent authentication failures from storage.
// Crossing the threshold yields a medium finding; twice the threshold
// escalates to high.
type BruteForceDetector struct {
	toggle
	threshold int
	store     store.Store
}

func NewBruteForceDetector(threshold int, st store.Store) *BruteForceDetector {
	return &BruteForceDetector{
		toggle:    toggle{enabled: true},
		threshold: threshold,
		store:     st,
	}
}

// Type returns the threat class.
func (d *BruteForceDetector) Type() models.ThreatType {
	return models.ThreatBruteForce
}

func (d *BruteForceDetector) Check(ctx context.Context, rc *models.RequestContext) (*models.ThreatFinding, error) {
	if !isAuthEndpoint(rc.Endpoint) || rc.SourceIP == "" || d.threshold <= 0 {
		return nil, nil
	}

	cutoff := rc.Timestamp.UTC().Add(-bruteForceLookback)
	raws, err := d.store.Query(ctx, store.QuerySpec{
		Collection: "events",
		Filters: []store.Filter{
			{Field: "type", Op: store.OpEqual, Value: string(models.EventAuthentication)},
			{Field: "source_ip", Op: store.OpEqual, Value: rc.SourceIP},
			{Field: "outcome", Op: store.OpEqual, Value: "denied"},
			{Field: "timestamp", Op: store.OpGreaterEqual, Value: cutoff.Format(time.RFC3339Nano)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failure count query: %w", err)
	}

	failures := len(raws)
	if failures < d.threshold {
		return nil, nil
	}

	severity := models.SeverityMedium
	risk := 50 + (failures-d.threshold)*5
	if failures >= 2*d.threshold {
		severity = models.SeverityHigh
		risk = 75 + (failures-2*d.threshold)*5
	}
	if risk > 100 {
		risk = 100
	}
	return &models.ThreatFinding{
		Type:      models.ThreatBruteForce,
		Severity:  severity,
		Source:    rc.SourceIP,
		Detail:    fmt.Sprintf("%d authentication failures in %s", failures, bruteForceLookback),
		RiskScore: risk,
	}, nil
}

func isAuthEndpoint(endpoint string) bool {
	lower := strings.ToLower(endpoint)
	for _, fragment := range authEndpointFragments {
		if strings.Contains(lower, fragment) {
			return true
		}
	}
	return false
}
