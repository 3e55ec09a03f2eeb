// Aegis - Security Decision and Response Engine
// Copyright 2026 Aegis Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/aegis-sec/aegis

package policy

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/aegis-sec/aegis/internal/cache"
	"github.com/aegis-sec/aegis/internal/errs"
	"github.com/aegis-sec/aegis/internal/fieldpath"
	"github.com/aegis-sec/aegis/internal/logging"
	"github.com/aegis-sec/aegis/internal/metrics"
	"github.com/aegis-sec/aegis/internal/models"
	"github.com/aegis-sec/aegis/internal/store"
)

// Inputs carries the earlier pipeline stages' outputs; policies may trigger
// on them without re-deriving anything.
type Inputs struct {
	Roles    []models.Role
	Decision *models.AccessDecision
	Findings []models.ThreatFinding
}

// priorityWeights is the base risk contribution of a fired policy.
var priorityWeights = map[models.PolicyPriority]int{
	models.PriorityLow:      10,
	models.PriorityMedium:   25,
	models.PriorityHigh:     50,
	models.PriorityCritical: 75,
}

// categoryMultipliers scale the priority weight by policy category.
var categoryMultipliers = map[models.PolicyCategory]float64{
	models.CategoryOperational:    1.0,
	models.CategoryCompliance:     1.1,
	models.CategoryAccessControl:  1.2,
	models.CategoryThreatResponse: 1.4,
	models.CategoryDataProtection: 1.5,
}

// defaultEventMatchWindow bounds event_match trigger lookback when no
// window is configured.
const defaultEventMatchWindow = 60 * time.Minute

// cacheKeyFields is the structural cache key: requests identical on these
// five axes share an evaluation result for the cache TTL.
type cacheKeyFields struct {
	Identity string
	Source   string
	Service  string
	Endpoint string
	Action   string
}

// Evaluate runs the request through every active policy. All matching
// policies evaluate independently; the union of their effects applies. On
// internal failure the engine fails open with a monitor recommendation.
func (e *Engine) Evaluate(ctx context.Context, rc *models.RequestContext, in *Inputs) *models.EnforcementResult {
	timer := time.Now()
	defer func() {
		metrics.EvaluationDuration.WithLabelValues("policy").Observe(time.Since(timer).Seconds())
	}()

	key := cache.GenerateKey("policy.eval", cacheKeyFields{
		Identity: rc.IdentityID,
		Source:   rc.SourceIP,
		Service:  rc.Service,
		Endpoint: rc.Endpoint,
		Action:   rc.Action,
	})
	if value, ok := e.cache.Get(key); ok {
		if cached, ok := value.(models.EnforcementResult); ok {
			metrics.PolicyCacheHits.WithLabelValues("hit").Inc()
			return &cached
		}
	}
	metrics.PolicyCacheHits.WithLabelValues("miss").Inc()

	result, err := e.evaluate(ctx, rc, in)
	if err != nil {
		logging.Err(errs.Evaluation("policy", err)).
			Str("identity_id", rc.IdentityID).
			Str("source_ip", rc.SourceIP).
			Str("endpoint", rc.Endpoint).
			Msg("policy evaluation failed open")
		metrics.EvaluationFaults.WithLabelValues("policy").Inc()
		return &models.EnforcementResult{
			Allowed:          true,
			ViolatedPolicies: []string{},
			AppliedActions:   []models.PolicyAction{},
			Exemptions:       []string{},
			Recommendation:   models.RecommendMonitor,
		}
	}

	e.cache.Set(key, *result)
	return result
}

func (e *Engine) evaluate(ctx context.Context, rc *models.RequestContext, in *Inputs) (result *models.EnforcementResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			result, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()

	now := e.now()
	result = &models.EnforcementResult{
		Allowed:          true,
		ViolatedPolicies: []string{},
		AppliedActions:   []models.PolicyAction{},
		Exemptions:       []string{},
	}

	doc := requestDocument(rc)
	blocking := false

	for _, p := range e.snapshot() {
		if !p.Enabled || p.Archived || !p.InWindow(now) {
			continue
		}
		if !matchesScope(&p.Scope, rc, in) {
			continue
		}
		if exc := matchingException(p, rc, now); exc != nil {
			result.Exemptions = append(result.Exemptions, p.ID)
			e.recordExemption(ctx, p)
			continue
		}

		fired, fireErr := e.triggersFire(ctx, p, rc, in, doc, now)
		if fireErr != nil {
			return nil, fireErr
		}
		if !fired {
			continue
		}

		risk := policyRisk(p)
		result.ViolatedPolicies = append(result.ViolatedPolicies, p.ID)
		result.AppliedActions = append(result.AppliedActions, p.Actions...)
		result.RiskScore += risk
		if p.Enforcement == models.EnforcementBlocking || hasBlockAction(p.Actions) {
			blocking = true
		}

		metrics.PolicyViolations.WithLabelValues(string(p.Enforcement)).Inc()
		e.recordViolation(ctx, p, rc, risk)
	}

	if result.RiskScore > 100 {
		result.RiskScore = 100
	}
	if blocking {
		result.Allowed = false
	}
	result.Recommendation = recommend(result, blocking)
	return result, nil
}

func recommend(result *models.EnforcementResult, blocking bool) models.Recommendation {
	switch {
	case len(result.ViolatedPolicies) == 0:
		return models.RecommendAllow
	case blocking || result.RiskScore >= 80:
		return models.RecommendBlock
	case result.RiskScore >= 50:
		return models.RecommendWarn
	default:
		return models.RecommendMonitor
	}
}

// policyRisk is the priority base weight scaled by the category multiplier.
func policyRisk(p *models.SecurityPolicy) int {
	multiplier, ok := categoryMultipliers[p.Category]
	if !ok {
		multiplier = 1.0
	}
	return int(float64(priorityWeights[p.Priority]) * multiplier)
}

func hasBlockAction(actions []models.PolicyAction) bool {
	for _, a := range actions {
		if a.Type == models.ActionBlock {
			return true
		}
	}
	return false
}

// matchesScope applies the target matchers; exclusions override inclusions.
func matchesScope(scope *models.PolicyScope, rc *models.RequestContext, in *Inputs) bool {
	included := false
	for _, t := range scope.Targets {
		if matchTarget(t, rc, in) {
			included = true
			break
		}
	}
	if !included {
		return false
	}
	for _, t := range scope.Exclusions {
		if matchTarget(t, rc, in) {
			return false
		}
	}
	return true
}

func matchTarget(m models.TargetMatcher, rc *models.RequestContext, in *Inputs) bool {
	switch m.Type {
	case models.TargetGlobal:
		return true
	case models.TargetIdentity:
		return m.Value != "" && m.Value == rc.IdentityID
	case models.TargetIP:
		return m.Value != "" && m.Value == rc.SourceIP
	case models.TargetService:
		return m.Value != "" && m.Value == rc.Service
	case models.TargetResource:
		return m.Value != "" && m.Value == rc.Resource.ID
	case models.TargetEndpoint:
		return matchEndpoint(m.Value, rc.Endpoint)
	case models.TargetRole:
		if in == nil {
			return false
		}
		for _, role := range in.Roles {
			if string(role) == m.Value {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// matchEndpoint accepts glob patterns, anchored regular expressions
// (leading ^), or exact paths.
func matchEndpoint(pattern, endpoint string) bool {
	if pattern == "" {
		return false
	}
	if strings.HasPrefix(pattern, "^") {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return false
		}
		return re.MatchString(endpoint)
	}
	if strings.Contains(pattern, "*") {
		parts := strings.Split(pattern, "*")
		for i, part := range parts {
			parts[i] = regexp.QuoteMeta(part)
		}
		re, err := regexp.Compile("^" + strings.Join(parts, ".*") + "$")
		if err != nil {
			return false
		}
		return re.MatchString(endpoint)
	}
	return pattern == endpoint
}

// matchingException returns a still-valid exception covering the request.
func matchingException(p *models.SecurityPolicy, rc *models.RequestContext, now time.Time) *models.PolicyException {
	for i := range p.Exceptions {
		exc := &p.Exceptions[i]
		if exc.Valid(now) && matchTarget(exc.Target, rc, nil) {
			return exc
		}
	}
	return nil
}

// triggersFire evaluates each trigger; a policy fires when any one fires.
func (e *Engine) triggersFire(ctx context.Context, p *models.SecurityPolicy, rc *models.RequestContext, in *Inputs, doc map[string]interface{}, now time.Time) (bool, error) {
	for i := range p.Triggers {
		fired, err := e.triggerFires(ctx, &p.Triggers[i], rc, in, doc, now)
		if err != nil {
			return false, err
		}
		if fired {
			return true, nil
		}
	}
	return false, nil
}

func (e *Engine) triggerFires(ctx context.Context, t *models.PolicyTrigger, rc *models.RequestContext, in *Inputs, doc map[string]interface{}, now time.Time) (bool, error) {
	switch t.Type {
	case models.TriggerEventMatch:
		return e.eventMatchFires(ctx, t, rc, in, now)
	case models.TriggerFieldCondition:
		return fieldConditionFires(t, doc), nil
	case models.TriggerThreshold:
		return e.thresholdFires(ctx, t, now)
	case models.TriggerSequence:
		return e.sequenceFires(ctx, t, rc)
	case models.TriggerSchedule:
		return t.Schedule != nil && t.Schedule.Contains(rc.Timestamp), nil
	default:
		return false, nil
	}
}

// eventMatchFires checks the current pipeline outputs first, then recent
// stored events for the identity or source.
func (e *Engine) eventMatchFires(ctx context.Context, t *models.PolicyTrigger, rc *models.RequestContext, in *Inputs, now time.Time) (bool, error) {
	if in != nil {
		if t.EventType == models.EventThreatDetected && len(in.Findings) > 0 {
			return true, nil
		}
		if t.EventType == models.EventAuthorization && in.Decision != nil && !in.Decision.Allowed {
			return true, nil
		}
	}

	window := defaultEventMatchWindow
	if t.WindowMinutes > 0 {
		window = time.Duration(t.WindowMinutes) * time.Minute
	}
	filters := []store.Filter{
		{Field: "type", Op: store.OpEqual, Value: string(t.EventType)},
		{Field: "timestamp", Op: store.OpGreaterEqual, Value: now.UTC().Add(-window).Format(time.RFC3339Nano)},
	}
	if rc.IdentityID != "" {
		filters = append(filters, store.Filter{Field: "identity_id", Op: store.OpEqual, Value: rc.IdentityID})
	} else if rc.SourceIP != "" {
		filters = append(filters, store.Filter{Field: "source_ip", Op: store.OpEqual, Value: rc.SourceIP})
	}
	raws, err := e.store.Query(ctx, store.QuerySpec{Collection: "events", Filters: filters, Limit: 1})
	if err != nil {
		return false, errs.Storage("event match query", err)
	}
	return len(raws) > 0, nil
}

func fieldConditionFires(t *models.PolicyTrigger, doc map[string]interface{}) bool {
	value, found := fieldpath.Lookup(doc, t.FieldPath)

	switch t.Operator {
	case models.OpEquals:
		return found && fieldpath.Render(value) == t.Value
	case models.OpNotEquals:
		return !found || fieldpath.Render(value) != t.Value
	case models.OpGreaterThan, models.OpLessThan:
		if !found {
			return false
		}
		number, ok := fieldpath.LookupNumber(doc, t.FieldPath)
		if !ok {
			return false
		}
		reference, err := strconv.ParseFloat(t.Value, 64)
		if err != nil {
			return false
		}
		if t.Operator == models.OpGreaterThan {
			return number > reference
		}
		return number < reference
	case models.OpContains:
		return found && strings.Contains(fieldpath.Render(value), t.Value)
	case models.OpRegex:
		if !found {
			return false
		}
		re, err := regexp.Compile(t.Value)
		if err != nil {
			return false
		}
		return re.MatchString(fieldpath.Render(value))
	default:
		return false
	}
}

// thresholdFires counts recent samples of the named metric.
func (e *Engine) thresholdFires(ctx context.Context, t *models.PolicyTrigger, now time.Time) (bool, error) {
	cutoff := now.UTC().Add(-time.Duration(t.WindowMinutes) * time.Minute)
	raws, err := e.store.Query(ctx, store.QuerySpec{
		Collection: MetricSampleCollection,
		Filters: []store.Filter{
			{Field: "metric", Op: store.OpEqual, Value: t.Metric},
			{Field: "timestamp", Op: store.OpGreaterEqual, Value: cutoff.Format(time.RFC3339Nano)},
		},
	})
	if err != nil {
		return false, errs.Storage("threshold query", err)
	}
	return len(raws) >= t.Threshold, nil
}

// sequenceFires matches the trigger's ordered pattern as a subsequence of
// the identity's recent event actions.
func (e *Engine) sequenceFires(ctx context.Context, t *models.PolicyTrigger, rc *models.RequestContext) (bool, error) {
	if rc.IdentityID == "" {
		return false, nil
	}
	raws, err := e.store.Query(ctx, store.QuerySpec{
		Collection: "events",
		Filters: []store.Filter{
			{Field: "identity_id", Op: store.OpEqual, Value: rc.IdentityID},
		},
		OrderBy: "timestamp",
		Limit:   100,
	})
	if err != nil {
		return false, errs.Storage("sequence query", err)
	}
	actions := make([]string, 0, len(raws))
	for _, raw := range raws {
		var ev struct {
			Action string `json:"action"`
		}
		if err := json.Unmarshal(raw, &ev); err == nil && ev.Action != "" {
			actions = append(actions, ev.Action)
		}
	}
	return isSubsequence(t.Sequence, actions), nil
}

// isSubsequence reports whether pattern appears in order (not necessarily
// contiguously) within actions.
func isSubsequence(pattern, actions []string) bool {
	if len(pattern) == 0 {
		return false
	}
	i := 0
	for _, action := range actions {
		if action == pattern[i] {
			i++
			if i == len(pattern) {
				return true
			}
		}
	}
	return false
}

// requestDocument flattens the request into a field-path addressable map,
// with the payload parsed under "payload" when it is a JSON object.
func requestDocument(rc *models.RequestContext) map[string]interface{} {
	doc := map[string]interface{}{
		"identity_id": rc.IdentityID,
		"source_ip":   rc.SourceIP,
		"user_agent":  rc.UserAgent,
		"service":     rc.Service,
		"endpoint":    rc.Endpoint,
		"action":      rc.Action,
		"resource": map[string]interface{}{
			"id":         rc.Resource.ID,
			"owner_id":   rc.Resource.OwnerID,
			"visibility": rc.Resource.Visibility,
		},
	}
	if len(rc.Payload) > 0 {
		var payload interface{}
		if err := json.Unmarshal(rc.Payload, &payload); err == nil {
			doc["payload"] = payload
		}
	}
	return doc
}

func unmarshalPolicy(raw json.RawMessage, p *models.SecurityPolicy) error {
	return json.Unmarshal(raw, p)
}
