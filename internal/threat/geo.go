// Aegis - Security Decision and Response Engine
// Copyright 2026 Aegis Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/aegis-sec/aegis

package threat

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aegis-sec/aegis/internal/cache"
	"github.com/aegis-sec/aegis/internal/models"
)

// GeoResolver maps a source address to a region code. Resolution itself is
// a collaborator (GeoIP database, edge header); the detector only consumes
// the region.
type GeoResolver interface {
	Region(sourceIP string) string
}

// travelWindow is the horizon for the impossible-travel heuristic: the same
// identity appearing in two regions within it is flagged.
const travelWindow = 2 * time.Hour

// lastSeen records where an identity was last observed.
type lastSeen struct {
	Region string
	At     time.Time
}

// GeoAnomalyDetector checks origin regions against a hard block list and a
// soft suspicious list, and flags impossible travel for identities that
// hop regions faster than travel allows.
type GeoAnomalyDetector struct {
	toggle
	mu         sync.RWMutex
	blocked    map[string]struct{}
	suspicious map[string]struct{}
	resolver   GeoResolver
	seen       *cache.Cache
	now        func() time.Time
}

func NewGeoAnomalyDetector(blockedRegions, suspiciousRegions []string, resolver GeoResolver) *GeoAnomalyDetector {
	d := &GeoAnomalyDetector{
		toggle:     toggle{enabled: true},
		blocked:    make(map[string]struct{}, len(blockedRegions)),
		suspicious: make(map[string]struct{}, len(suspiciousRegions)),
		resolver:   resolver,
		seen:       cache.New(travelWindow),
		now:        time.Now,
	}
	for _, region := range blockedRegions {
		d.blocked[region] = struct{}{}
	}
	for _, region := range suspiciousRegions {
		d.suspicious[region] = struct{}{}
	}
	return d
}

// Type returns the threat class.
func (d *GeoAnomalyDetector) Type() models.ThreatType {
	return models.ThreatGeoAnomaly
}

// SetResolver attaches the region resolver. Without one the detector is
// inert.
func (d *GeoAnomalyDetector) SetResolver(resolver GeoResolver) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.resolver = resolver
}

func (d *GeoAnomalyDetector) Check(_ context.Context, rc *models.RequestContext) (*models.ThreatFinding, error) {
	d.mu.RLock()
	resolver := d.resolver
	d.mu.RUnlock()
	if resolver == nil || rc.SourceIP == "" {
		return nil, nil
	}
	region := resolver.Region(rc.SourceIP)
	if region == "" {
		return nil, nil
	}

	if _, hard := d.blocked[region]; hard {
		return &models.ThreatFinding{
			Type:      models.ThreatGeoAnomaly,
			Severity:  models.SeverityCritical,
			Source:    rc.SourceIP,
			Detail:    fmt.Sprintf("origin region %s is blocked", region),
			RiskScore: 90,
		}, nil
	}

	if finding := d.checkTravel(rc, region); finding != nil {
		return finding, nil
	}

	if _, soft := d.suspicious[region]; soft {
		return &models.ThreatFinding{
			Type:      models.ThreatGeoAnomaly,
			Severity:  models.SeverityMedium,
			Source:    rc.SourceIP,
			Detail:    fmt.Sprintf("origin region %s is on the watch list", region),
			RiskScore: 40,
		}, nil
	}
	return nil, nil
}

// checkTravel flags the same identity appearing in two different regions
// inside the travel window, then records the current sighting.
func (d *GeoAnomalyDetector) checkTravel(rc *models.RequestContext, region string) *models.ThreatFinding {
	if rc.IdentityID == "" {
		return nil
	}
	now := d.now()
	defer d.seen.SetWithTTL(rc.IdentityID, lastSeen{Region: region, At: now}, travelWindow)

	value, ok := d.seen.Get(rc.IdentityID)
	if !ok {
		return nil
	}
	prev, ok := value.(lastSeen)
	if !ok || prev.Region == region {
		return nil
	}
	elapsed := now.Sub(prev.At)
	if elapsed > travelWindow {
		return nil
	}
	return &models.ThreatFinding{
		Type:     models.ThreatGeoAnomaly,
		Severity: models.SeverityHigh,
		Source:   rc.SourceIP,
		Detail: fmt.Sprintf("identity %s seen in %s and %s within %s",
			rc.IdentityID, prev.Region, region, elapsed.Round(time.Second)),
		RiskScore: 75,
	}
}
