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

	"github.com/google/uuid"

	"github.com/aegis-sec/aegis/internal/cache"
	"github.com/aegis-sec/aegis/internal/config"
	"github.com/aegis-sec/aegis/internal/logging"
	"github.com/aegis-sec/aegis/internal/metrics"
	"github.com/aegis-sec/aegis/internal/models"
	"github.com/aegis-sec/aegis/internal/store"
)

// FindingCollection is the store collection holding persisted findings.
const FindingCollection = "findings"

// autoBlockRiskFloor blocks a request outright when the merged risk score
// reaches it.
const autoBlockRiskFloor = 80

// EventSink receives the threat events the scorer emits.
type EventSink interface {
	Ingest(ctx context.Context, event *models.SecurityEvent) error
}

// Result is the merged outcome of one evaluation pass.
type Result struct {
	Blocked   bool                   `json:"blocked"`
	Level     models.Severity        `json:"level"`
	Findings  []models.ThreatFinding `json:"findings"`
	RiskScore int                    `json:"risk_score"`
}

// blockEntry records why and until when a source is blocked.
type blockEntry struct {
	Reason    string
	BlockedAt time.Time
	Until     time.Time
}

// Scorer runs the registered detectors and maintains the block set and
// per-source attempt history. Block-set membership expires both lazily on
// lookup and proactively via Sweep.
type Scorer struct {
	cfg       config.ThreatConfig
	store     store.Store
	sink      EventSink
	blocked   *cache.Cache
	attempts  *cache.SlidingWindowStore
	recent    *cache.SlidingWindowStore // 60s temporal-anomaly window
	dataHits  *cache.SlidingWindowStore // data-endpoint burst window
	detectors []Detector
	mu        sync.RWMutex
	now       func() time.Time
}

// NewScorer builds a scorer with the standard detector set. A nil sink
// disables event emission; geo detection stays dormant until a resolver is
// attached with SetGeoResolver.
func NewScorer(cfg config.ThreatConfig, st store.Store, sink EventSink) *Scorer {
	s := &Scorer{
		cfg:      cfg,
		store:    st,
		sink:     sink,
		blocked:  cache.New(cfg.BlockDuration),
		attempts: cache.NewSlidingWindowStore(cfg.RateLimitWindow, 60, 100000),
		recent:   cache.NewSlidingWindowStore(time.Minute, 12, 100000),
		dataHits: cache.NewSlidingWindowStore(5*time.Minute, 30, 100000),
		now:      time.Now,
	}
	s.detectors = []Detector{
		NewRateLimitDetector(cfg.RateLimitRequests, s.attempts),
		NewBruteForceDetector(cfg.BruteForceThreshold, st),
		NewSuspiciousBehaviorDetector(cfg.SuspiciousScoreThreshold, s.recent),
		NewGeoAnomalyDetector(cfg.BlockedRegions, cfg.SuspiciousRegions, nil),
		NewInjectionDetector(),
		NewExfiltrationDetector(s.dataHits),
	}
	return s
}

// SetGeoResolver attaches an IP-to-region resolver, activating the
// geo-anomaly detector.
func (s *Scorer) SetGeoResolver(resolver GeoResolver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.detectors {
		if geo, ok := d.(*GeoAnomalyDetector); ok {
			geo.SetResolver(resolver)
		}
	}
}

// AddDetector registers an additional detector.
func (s *Scorer) AddDetector(d Detector) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.detectors = append(s.detectors, d)
}

// Detectors returns a snapshot of the registered detectors.
func (s *Scorer) Detectors() []Detector {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Detector, len(s.detectors))
	copy(out, s.detectors)
	return out
}

// Evaluate scores one request. Detectors run concurrently; their findings
// merge by max severity and max risk. An already-blocked source
// short-circuits with a single high-severity finding.
func (s *Scorer) Evaluate(ctx context.Context, rc *models.RequestContext) *Result {
	timer := time.Now()
	defer func() {
		metrics.EvaluationDuration.WithLabelValues("threat").Observe(time.Since(timer).Seconds())
	}()

	// Fast path: source already on the block set.
	if entry, blocked := s.blockedEntry(rc.SourceIP); blocked {
		finding := models.ThreatFinding{
			ID:         uuid.NewString(),
			Type:       models.ThreatRateLimit,
			Severity:   models.SeverityHigh,
			Source:     rc.SourceIP,
			Detail:     "Source is blocked: " + entry.Reason,
			RiskScore:  90,
			Response:   models.ResponseBlocked,
			DetectedAt: s.now().UTC(),
		}
		calibrate(&finding)
		return &Result{
			Blocked:   true,
			Level:     models.SeverityHigh,
			Findings:  []models.ThreatFinding{finding},
			RiskScore: finding.RiskScore,
		}
	}

	s.recordAttempt(rc)

	findings := s.runDetectors(ctx, rc)
	result := s.merge(findings)

	if s.shouldBlock(result) {
		result.Blocked = true
		if s.cfg.AutoBlock && rc.SourceIP != "" {
			s.BlockSource(rc.SourceIP, blockReason(result.Findings), s.cfg.BlockDuration)
		}
		for i := range result.Findings {
			result.Findings[i].Response = models.ResponseBlocked
		}
	}

	s.persistFindings(ctx, result.Findings)
	s.emitEvents(ctx, rc, result)
	return result
}

// runDetectors fans the request out to every enabled detector and collects
// findings. A failed detector contributes nothing and the rest continue.
func (s *Scorer) runDetectors(ctx context.Context, rc *models.RequestContext) []models.ThreatFinding {
	detectors := s.Detectors()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		findings []models.ThreatFinding
	)
	for _, d := range detectors {
		if !d.Enabled() {
			continue
		}
		wg.Add(1)
		go func(d Detector) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					logging.Error().
						Str("detector", string(d.Type())).
						Interface("panic", r).
						Msg("detector panicked")
					metrics.EvaluationFaults.WithLabelValues("threat").Inc()
				}
			}()
			finding, err := d.Check(ctx, rc)
			if err != nil {
				logging.Err(err).Str("detector", string(d.Type())).Msg("detector failed")
				metrics.EvaluationFaults.WithLabelValues("threat").Inc()
				return
			}
			if finding == nil {
				return
			}
			finding.ID = uuid.NewString()
			finding.DetectedAt = s.now().UTC()
			finding.Response = models.ResponseLogged
			calibrate(finding)
			mu.Lock()
			findings = append(findings, *finding)
			mu.Unlock()
		}(d)
	}
	wg.Wait()
	return findings
}

// merge combines findings into one result: max severity and max risk.
func (s *Scorer) merge(findings []models.ThreatFinding) *Result {
	result := &Result{Level: models.SeverityLow, Findings: findings}
	for _, f := range findings {
		result.Level = models.MaxSeverity(result.Level, f.Severity)
		if f.RiskScore > result.RiskScore {
			result.RiskScore = f.RiskScore
		}
		metrics.ThreatFindings.WithLabelValues(string(f.Type), string(f.Severity)).Inc()
	}
	return result
}

// shouldBlock applies the automatic blocking rules: any critical finding, a
// merged risk at or above the floor, or two or more high-severity findings.
func (s *Scorer) shouldBlock(result *Result) bool {
	if result.RiskScore >= autoBlockRiskFloor {
		return true
	}
	high := 0
	for _, f := range result.Findings {
		switch f.Severity {
		case models.SeverityCritical:
			return true
		case models.SeverityHigh:
			high++
		}
	}
	return high >= 2
}

func blockReason(findings []models.ThreatFinding) string {
	for _, f := range findings {
		if f.Severity == models.SeverityCritical || f.Severity == models.SeverityHigh {
			return string(f.Type)
		}
	}
	if len(findings) > 0 {
		return string(findings[0].Type)
	}
	return "risk threshold exceeded"
}

// BlockSource adds the source to the block set for the given duration.
// Also serves as the block-ip containment primitive.
func (s *Scorer) BlockSource(source, reason string, duration time.Duration) {
	if source == "" {
		return
	}
	now := s.now()
	s.blocked.SetWithTTL(source, blockEntry{
		Reason:    reason,
		BlockedAt: now,
		Until:     now.Add(duration),
	}, duration)
	metrics.BlockedSources.Set(float64(s.blocked.Len()))
	logging.Warn().
		Str("source", source).
		Str("reason", reason).
		Dur("duration", duration).
		Msg("source blocked")
}

// UnblockSource removes a source from the block set.
func (s *Scorer) UnblockSource(source string) {
	s.blocked.Delete(source)
	metrics.BlockedSources.Set(float64(s.blocked.Len()))
}

// IsBlocked reports whether the source is currently blocked. Expired
// entries evict lazily on lookup.
func (s *Scorer) IsBlocked(source string) bool {
	_, blocked := s.blockedEntry(source)
	return blocked
}

func (s *Scorer) blockedEntry(source string) (blockEntry, bool) {
	if source == "" {
		return blockEntry{}, false
	}
	value, ok := s.blocked.Get(source)
	if !ok {
		return blockEntry{}, false
	}
	entry, ok := value.(blockEntry)
	return entry, ok
}

// Sweep expires stale block entries and idle attempt windows. Wired to a
// periodic maintenance task; safe to skip a tick.
func (s *Scorer) Sweep() {
	s.blocked.Sweep()
	s.attempts.Sweep()
	s.recent.Sweep()
	s.dataHits.Sweep()
	metrics.BlockedSources.Set(float64(s.blocked.Len()))
}

// BlockedCount reports the current block-set size, counting entries that
// have expired but not yet been swept.
func (s *Scorer) BlockedCount() int {
	return s.blocked.Len()
}

// recordAttempt feeds the per-source sliding windows consumed by the
// rate-limit and temporal-anomaly heuristics.
func (s *Scorer) recordAttempt(rc *models.RequestContext) {
	if rc.SourceIP == "" {
		return
	}
	s.attempts.Increment(rc.SourceIP)
	s.recent.Increment(rc.SourceIP)
}

// persistFindings stores findings best effort; a storage fault never blocks
// the decision path.
func (s *Scorer) persistFindings(ctx context.Context, findings []models.ThreatFinding) {
	for i := range findings {
		if err := s.store.Set(ctx, FindingCollection, findings[i].ID, &findings[i]); err != nil {
			logging.Err(err).Str("finding_id", findings[i].ID).Msg("finding persist failed")
		}
	}
}

// emitEvents forwards a threat event per evaluation that produced findings.
func (s *Scorer) emitEvents(ctx context.Context, rc *models.RequestContext, result *Result) {
	if s.sink == nil || len(result.Findings) == 0 {
		return
	}
	outcome := "flagged"
	if result.Blocked {
		outcome = "blocked"
	}
	factors := make([]string, 0, len(result.Findings))
	for _, f := range result.Findings {
		factors = append(factors, string(f.Type))
	}
	event := &models.SecurityEvent{
		ID:         uuid.NewString(),
		Type:       models.EventThreatDetected,
		Severity:   result.Level,
		IdentityID: rc.IdentityID,
		SourceIP:   rc.SourceIP,
		Service:    rc.Service,
		Endpoint:   rc.Endpoint,
		Action:     rc.Action,
		Outcome:    outcome,
		Detail:     fmt.Sprintf("%d finding(s), max risk %d", len(result.Findings), result.RiskScore),
		Risk: models.RiskAssessment{
			Score:      result.RiskScore,
			Factors:    factors,
			Confidence: maxConfidence(result.Findings),
		},
		Timestamp: rc.Timestamp.UTC(),
	}
	if err := s.sink.Ingest(ctx, event); err != nil {
		logging.Err(err).Str("event_id", event.ID).Msg("threat event ingestion failed")
	}
}

func maxConfidence(findings []models.ThreatFinding) float64 {
	max := 0.0
	for _, f := range findings {
		if f.Confidence > max {
			max = f.Confidence
		}
	}
	return max
}
