// Aegis - Security Decision and Response Engine
// Copyright 2026 Aegis Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/aegis-sec/aegis

package threat

import (
	"context"
	"fmt"
	"strings"

	"github.com/goccy/go-json"

	"github.com/aegis-sec/aegis/internal/cache"
	"github.com/aegis-sec/aegis/internal/models"
)

// dataEndpointFragments mark endpoints that return bulk data.
var dataEndpointFragments = []string{
	"/export", "/download", "/data", "/report", "/users", "/records", "/backup",
}

const (
	// oversizedPageFloor is the requested page size above which a single
	// read is considered oversized.
	oversizedPageFloor = 500

	// burstFloor is the data-endpoint hit count within the burst window
	// that flags a scraping pattern.
	burstFloor = 20
)

// ExfiltrationDetector flags oversized paginated reads on data-bearing
// endpoints and bursts of data-endpoint hits from one source.
type ExfiltrationDetector struct {
	toggle
	hits *cache.SlidingWindowStore
}

// NewExfiltrationDetector builds the detector over the shared data-endpoint
// hit window.
func NewExfiltrationDetector(hits *cache.SlidingWindowStore) *ExfiltrationDetector {
	return &ExfiltrationDetector{
		toggle: toggle{enabled: true},
		hits:   hits,
	}
}

// Type returns the threat class.
func (d *ExfiltrationDetector) Type() models.ThreatType {
	return models.ThreatDataExfiltration
}

func (d *ExfiltrationDetector) Check(_ context.Context, rc *models.RequestContext) (*models.ThreatFinding, error) {
	if !isDataEndpoint(rc.Endpoint) {
		return nil, nil
	}
	if rc.SourceIP != "" {
		d.hits.Increment(rc.SourceIP)
	}

	if size, ok := requestedPageSize(rc.Payload); ok && size > oversizedPageFloor {
		risk := 60 + size/100
		if risk > 100 {
			risk = 100
		}
		return &models.ThreatFinding{
			Type:      models.ThreatDataExfiltration,
			Severity:  models.SeverityHigh,
			Source:    rc.SourceIP,
			Detail:    fmt.Sprintf("oversized read of %d records on %s", size, rc.Endpoint),
			RiskScore: risk,
		}, nil
	}

	if rc.SourceIP != "" {
		if count := d.hits.Count(rc.SourceIP); count >= burstFloor {
			return &models.ThreatFinding{
				Type:      models.ThreatDataExfiltration,
				Severity:  models.SeverityMedium,
				Source:    rc.SourceIP,
				Detail:    fmt.Sprintf("%d data-endpoint requests in burst window", count),
				RiskScore: 55,
			}, nil
		}
	}
	return nil, nil
}

func isDataEndpoint(endpoint string) bool {
	lower := strings.ToLower(endpoint)
	for _, fragment := range dataEndpointFragments {
		if strings.Contains(lower, fragment) {
			return true
		}
	}
	return false
}

// requestedPageSize pulls a pagination size out of the payload, accepting
// the common parameter spellings.
func requestedPageSize(payload json.RawMessage) (int, bool) {
	if len(payload) == 0 {
		return 0, false
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(payload, &doc); err != nil {
		return 0, false
	}
	for _, key := range []string{"limit", "page_size", "pageSize", "per_page", "count"} {
		if value, ok := doc[key]; ok {
			if number, ok := value.(float64); ok {
				return int(number), true
			}
		}
	}
	return 0, false
}
