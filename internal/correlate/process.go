// Aegis - Security Decision and Response Engine
// Copyright 2026 Aegis Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/aegis-sec/aegis

package correlate

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/aegis-sec/aegis/internal/cache"
	"github.com/aegis-sec/aegis/internal/logging"
	"github.com/aegis-sec/aegis/internal/metrics"
	"github.com/aegis-sec/aegis/internal/models"
	"github.com/aegis-sec/aegis/internal/notify"
	"github.com/aegis-sec/aegis/internal/store"
)

// firedRule pairs a rule with the event group that satisfied it.
type firedRule struct {
	rule   *models.MonitoringRule
	events []*models.SecurityEvent
}

// processEvent evaluates every candidate rule against the event's window
// and produces at most one combined alert for all rules that fire. It also
// links the event to related recent events from the same source or
// identity.
func (c *Correlator) processEvent(ctx context.Context, event *models.SecurityEvent) {
	var fired []firedRule
	for _, rule := range c.ruleSnapshot() {
		if !rule.Matches(event) {
			continue
		}
		group, err := c.ruleWindowGroup(ctx, rule, event)
		if err != nil {
			logging.Err(err).Str("rule_id", rule.ID).Msg("rule window query failed")
			metrics.EvaluationFaults.WithLabelValues("correlate").Inc()
			continue
		}
		if len(group) >= rule.Threshold {
			fired = append(fired, firedRule{rule: rule, events: group})
		}
	}

	if len(fired) > 0 {
		c.fireAlert(ctx, event, fired)
	}
	c.linkRelated(ctx, event)
}

// ruleWindowGroup queries events of the rule's types inside its window and
// applies the optional group-by, returning the largest partition.
func (c *Correlator) ruleWindowGroup(ctx context.Context, rule *models.MonitoringRule, event *models.SecurityEvent) ([]*models.SecurityEvent, error) {
	types := make([]interface{}, len(rule.EventTypes))
	for i, t := range rule.EventTypes {
		types[i] = string(t)
	}
	cutoff := event.Timestamp.Add(-time.Duration(rule.WindowMinutes) * time.Minute)
	raws, err := c.store.Query(ctx, store.QuerySpec{
		Collection: EventCollection,
		Filters: []store.Filter{
			{Field: "type", Op: store.OpIn, Value: types},
			{Field: "timestamp", Op: store.OpGreaterEqual, Value: cutoff.Format(time.RFC3339Nano)},
		},
		OrderBy: "timestamp",
	})
	if err != nil {
		return nil, err
	}

	events := make([]*models.SecurityEvent, 0, len(raws))
	for _, raw := range raws {
		var ev models.SecurityEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			continue
		}
		if rule.MinSeverity != "" && ev.Severity.Rank() < rule.MinSeverity.Rank() {
			continue
		}
		events = append(events, &ev)
	}

	if rule.GroupBy == "" {
		return events, nil
	}
	partitions := make(map[string][]*models.SecurityEvent)
	for _, ev := range events {
		partitions[ev.GroupKey(rule.GroupBy)] = append(partitions[ev.GroupKey(rule.GroupBy)], ev)
	}
	var largest []*models.SecurityEvent
	for _, partition := range partitions {
		if len(partition) > len(largest) {
			largest = partition
		}
	}
	return largest, nil
}

// fireAlert creates one combined alert for all rules that fired in this
// pass. The dedup key covers the fired rules and the exact event set, so
// re-processing the same events never duplicates the alert.
func (c *Correlator) fireAlert(ctx context.Context, trigger *models.SecurityEvent, fired []firedRule) {
	// With auto-alert disabled, rule trigger bookkeeping still runs but no
	// alert (and none of its actions) is produced.
	if !c.cfg.AutoAlert {
		c.bumpRuleCounters(ctx, fired, c.now().UTC())
		logging.Debug().
			Int("rules", len(fired)).
			Str("trigger_event", trigger.ID).
			Msg("auto-alert disabled, alert creation suppressed")
		return
	}

	eventSet := make(map[string]*models.SecurityEvent)
	ruleIDs := make([]string, 0, len(fired))
	for _, f := range fired {
		ruleIDs = append(ruleIDs, f.rule.ID)
		for _, ev := range f.events {
			eventSet[ev.ID] = ev
		}
	}
	sort.Strings(ruleIDs)

	eventIDs := make([]string, 0, len(eventSet))
	for id := range eventSet {
		eventIDs = append(eventIDs, id)
	}
	sort.Strings(eventIDs)

	dedupKey := cache.GenerateKey("alert.dedup", struct {
		Rules  []string
		Events []string
	}{Rules: ruleIDs, Events: eventIDs})

	if _, seen := c.dedup.Get(dedupKey); seen {
		return
	}
	if c.alertExists(ctx, dedupKey) {
		c.dedup.Set(dedupKey, struct{}{})
		return
	}

	severity := models.SeverityLow
	sources := make(map[string]struct{})
	var earliest, latest time.Time
	for _, ev := range eventSet {
		severity = models.MaxSeverity(severity, ev.Severity)
		if ev.SourceIP != "" {
			sources[ev.SourceIP] = struct{}{}
		}
		if earliest.IsZero() || ev.Timestamp.Before(earliest) {
			earliest = ev.Timestamp
		}
		if ev.Timestamp.After(latest) {
			latest = ev.Timestamp
		}
	}

	now := c.now().UTC()
	alert := &models.SecurityAlert{
		ID:       uuid.NewString(),
		Severity: severity,
		Title:    fmt.Sprintf("%s activity: %d events", severity, len(eventSet)),
		Description: fmt.Sprintf("%d correlated events from %d source(s) over %s matched %d rule(s)",
			len(eventSet), len(sources), latest.Sub(earliest).Round(time.Second), len(fired)),
		EventIDs:  eventIDs,
		RuleIDs:   ruleIDs,
		Status:    models.AlertActive,
		DedupKey:  dedupKey,
		CreatedAt: now,
		UpdatedAt: now,
	}
	alert.Response = c.applyRuleActions(ctx, alert, fired, sources)
	alert.Response.Latency = now.Sub(trigger.Timestamp)

	if err := c.store.Set(ctx, AlertCollection, alert.ID, alert); err != nil {
		logging.Err(err).Str("alert_id", alert.ID).Msg("alert persist failed")
		return
	}
	c.dedup.Set(dedupKey, struct{}{})
	metrics.AlertsCreated.WithLabelValues(string(severity)).Inc()
	logging.Warn().
		Str("alert_id", alert.ID).
		Str("severity", string(severity)).
		Int("events", len(eventIDs)).
		Strs("rules", ruleIDs).
		Msg("alert created")

	c.bumpRuleCounters(ctx, fired, now)
	c.backlinkAlert(ctx, alert)

	if c.onAlert != nil {
		c.onAlert(ctx, alert)
	}
}

// alertExists checks storage for an alert bound to the same rule firing.
func (c *Correlator) alertExists(ctx context.Context, dedupKey string) bool {
	raws, err := c.store.Query(ctx, store.QuerySpec{
		Collection: AlertCollection,
		Filters:    []store.Filter{{Field: "dedup_key", Op: store.OpEqual, Value: dedupKey}},
		Limit:      1,
	})
	if err != nil {
		logging.Err(err).Msg("alert dedup query failed")
		return false
	}
	return len(raws) > 0
}

// applyRuleActions executes the union of the fired rules' actions.
func (c *Correlator) applyRuleActions(ctx context.Context, alert *models.SecurityAlert, fired []firedRule, sources map[string]struct{}) models.AlertResponse {
	response := models.AlertResponse{Automated: true}
	seen := make(map[models.RuleActionType]struct{})

	for _, f := range fired {
		for _, action := range f.rule.Actions {
			switch action.Type {
			case models.RuleActionBlock:
				if _, done := seen[action.Type]; done {
					continue
				}
				if c.blocker != nil {
					for source := range sources {
						c.blocker.BlockSource(source, "rule "+f.rule.Name, time.Hour)
					}
					response.ActionsTaken = append(response.ActionsTaken,
						fmt.Sprintf("blocked %d source(s)", len(sources)))
				}
			case models.RuleActionEscalate:
				response.Escalated = true
				response.ActionsTaken = append(response.ActionsTaken, "escalated")
			case models.RuleActionNotify:
				response.NotifiedTo = append(response.NotifiedTo, action.Recipients...)
			case models.RuleActionAlert:
				// The alert itself is the action.
			}
			seen[action.Type] = struct{}{}
		}
	}

	if len(response.NotifiedTo) > 0 && c.notifier != nil {
		c.notifier.Send(ctx, notify.Notification{
			Recipients: response.NotifiedTo,
			Severity:   alert.Severity,
			Subject:    alert.Title,
			Message:    alert.Description,
			Timestamp:  alert.CreatedAt,
		})
		response.ActionsTaken = append(response.ActionsTaken,
			fmt.Sprintf("notified %d recipient(s)", len(response.NotifiedTo)))
	}
	return response
}

// bumpRuleCounters updates trigger bookkeeping in memory and storage.
func (c *Correlator) bumpRuleCounters(ctx context.Context, fired []firedRule, at time.Time) {
	c.mu.Lock()
	for _, f := range fired {
		f.rule.TriggerCount++
		f.rule.LastTriggered = &at
	}
	c.mu.Unlock()
	for _, f := range fired {
		fields := map[string]interface{}{
			"trigger_count":  f.rule.TriggerCount,
			"last_triggered": at.Format(time.RFC3339Nano),
		}
		if err := c.store.Update(ctx, RuleCollection, f.rule.ID, fields); err != nil {
			logging.Err(err).Str("rule_id", f.rule.ID).Msg("rule counter sync failed")
		}
	}
}

// backlinkAlert attaches the alert id to each constituent event.
func (c *Correlator) backlinkAlert(ctx context.Context, alert *models.SecurityAlert) {
	for _, eventID := range alert.EventIDs {
		var ev models.SecurityEvent
		if err := c.store.Get(ctx, EventCollection, eventID, &ev); err != nil {
			continue
		}
		if containsString(ev.Correlation.AlertIDs, alert.ID) {
			continue
		}
		ev.Correlation.AlertIDs = append(ev.Correlation.AlertIDs, alert.ID)
		if err := c.store.Set(ctx, EventCollection, eventID, &ev); err != nil {
			logging.Err(err).Str("event_id", eventID).Msg("alert backlink failed")
		}
	}
}

// linkRelated correlates the event against recent events from the same
// source or identity whose types are related, linking both directions.
func (c *Correlator) linkRelated(ctx context.Context, event *models.SecurityEvent) {
	related := models.RelatedEventTypes[event.Type]
	if len(related) == 0 || (event.IdentityID == "" && event.SourceIP == "") {
		return
	}
	relatedSet := make(map[models.EventType]struct{}, len(related))
	for _, t := range related {
		relatedSet[t] = struct{}{}
	}

	cutoff := event.Timestamp.Add(-c.cfg.CorrelationWindow).Format(time.RFC3339Nano)
	candidates := make(map[string]*models.SecurityEvent)
	for _, filter := range c.relatedFilters(event) {
		raws, err := c.store.Query(ctx, store.QuerySpec{
			Collection: EventCollection,
			Filters: []store.Filter{
				filter,
				{Field: "timestamp", Op: store.OpGreaterEqual, Value: cutoff},
			},
		})
		if err != nil {
			logging.Err(err).Msg("related event query failed")
			return
		}
		for _, raw := range raws {
			var ev models.SecurityEvent
			if err := json.Unmarshal(raw, &ev); err != nil {
				continue
			}
			if ev.ID == event.ID {
				continue
			}
			if _, ok := relatedSet[ev.Type]; !ok {
				continue
			}
			candidates[ev.ID] = &ev
		}
	}

	for _, other := range candidates {
		c.linkPair(ctx, event, other)
	}
	if len(candidates) > 0 {
		if err := c.store.Set(ctx, EventCollection, event.ID, event); err != nil {
			logging.Err(err).Str("event_id", event.ID).Msg("correlation link persist failed")
		}
	}
}

func (c *Correlator) relatedFilters(event *models.SecurityEvent) []store.Filter {
	var filters []store.Filter
	if event.IdentityID != "" {
		filters = append(filters, store.Filter{Field: "identity_id", Op: store.OpEqual, Value: event.IdentityID})
	}
	if event.SourceIP != "" {
		filters = append(filters, store.Filter{Field: "source_ip", Op: store.OpEqual, Value: event.SourceIP})
	}
	return filters
}

// linkPair records the bidirectional correlation link.
func (c *Correlator) linkPair(ctx context.Context, event, other *models.SecurityEvent) {
	if !containsString(event.Correlation.RelatedEventIDs, other.ID) {
		event.Correlation.RelatedEventIDs = append(event.Correlation.RelatedEventIDs, other.ID)
	}
	if containsString(other.Correlation.RelatedEventIDs, event.ID) {
		return
	}
	other.Correlation.RelatedEventIDs = append(other.Correlation.RelatedEventIDs, event.ID)
	if err := c.store.Set(ctx, EventCollection, other.ID, other); err != nil {
		logging.Err(err).Str("event_id", other.ID).Msg("correlation link persist failed")
	}
}

func containsString(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}
