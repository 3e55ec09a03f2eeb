// Aegis - Security Decision and Response Engine
// Copyright 2026 Aegis Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/aegis-sec/aegis

// Package correlate ingests normalized security events, matches them
// against monitoring rules over sliding windows, and emits deduplicated
// alerts. Critical events process synchronously; everything else buffers
// and drains on an interval.
package correlate

import (
	"context"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/aegis-sec/aegis/internal/cache"
	"github.com/aegis-sec/aegis/internal/config"
	"github.com/aegis-sec/aegis/internal/errs"
	"github.com/aegis-sec/aegis/internal/logging"
	"github.com/aegis-sec/aegis/internal/metrics"
	"github.com/aegis-sec/aegis/internal/models"
	"github.com/aegis-sec/aegis/internal/notify"
	"github.com/aegis-sec/aegis/internal/store"
	"github.com/aegis-sec/aegis/internal/validation"
)

const (
	// EventCollection holds ingested events.
	EventCollection = "events"

	// AlertCollection holds emitted alerts.
	AlertCollection = "alerts"

	// RuleCollection holds monitoring rules.
	RuleCollection = "rules"
)

// Blocker is the defensive callback for rules with a block action.
type Blocker interface {
	BlockSource(source, reason string, duration time.Duration)
}

// AlertHandler receives each newly created alert.
type AlertHandler func(ctx context.Context, alert *models.SecurityAlert)

// Correlator matches events against monitoring rules and links related
// events. Safe for concurrent ingestion.
type Correlator struct {
	cfg      config.CorrelationConfig
	store    store.Store
	notifier *notify.Fanout
	blocker  Blocker
	onAlert  AlertHandler

	mu    sync.RWMutex
	rules map[string]*models.MonitoringRule

	bmu    sync.Mutex
	buffer []*models.SecurityEvent

	dedup *cache.Cache
	now   func() time.Time
}

// NewCorrelator builds a correlator. Call Init to load stored rules.
func NewCorrelator(cfg config.CorrelationConfig, st store.Store, notifier *notify.Fanout) *Correlator {
	return &Correlator{
		cfg:      cfg,
		store:    st,
		notifier: notifier,
		rules:    make(map[string]*models.MonitoringRule),
		dedup:    cache.New(time.Duration(24) * time.Hour),
		now:      time.Now,
	}
}

// SetBlocker attaches the block-action callback.
func (c *Correlator) SetBlocker(b Blocker) {
	c.blocker = b
}

// SetAlertHandler attaches the new-alert callback.
func (c *Correlator) SetAlertHandler(h AlertHandler) {
	c.onAlert = h
}

// Init loads the stored monitoring rules.
func (c *Correlator) Init(ctx context.Context) error {
	raws, err := c.store.Query(ctx, store.QuerySpec{Collection: RuleCollection})
	if err != nil {
		return errs.Storage("rule load", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, raw := range raws {
		var rule models.MonitoringRule
		if err := json.Unmarshal(raw, &rule); err != nil {
			logging.Err(err).Msg("skipping unreadable rule document")
			continue
		}
		c.rules[rule.ID] = &rule
	}
	logging.Info().Int("rules", len(c.rules)).Msg("correlator initialized")
	return nil
}

// Ingest accepts one event. Critical events process synchronously; the
// rest buffer for the next drain. Persistence is best effort and never
// fails ingestion.
func (c *Correlator) Ingest(ctx context.Context, event *models.SecurityEvent) error {
	if event == nil {
		return errs.Validation("event", "event", "must not be nil")
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = c.now()
	}
	event.Timestamp = event.Timestamp.UTC()

	if err := c.store.Set(ctx, EventCollection, event.ID, event); err != nil {
		logging.Err(errs.Storage("event write", err)).Str("event_id", event.ID).Msg("event persist failed")
	}

	if event.Severity == models.SeverityCritical {
		metrics.EventsIngested.WithLabelValues("sync").Inc()
		c.processEvent(ctx, event)
		return nil
	}

	metrics.EventsIngested.WithLabelValues("buffered").Inc()
	c.bmu.Lock()
	if len(c.buffer) >= c.cfg.BufferSize {
		// Bounded buffer: shed the oldest entry to keep fresh signal.
		dropped := c.buffer[0]
		c.buffer = c.buffer[1:]
		logging.Warn().Str("event_id", dropped.ID).Msg("event buffer full, oldest dropped")
	}
	c.buffer = append(c.buffer, event)
	c.bmu.Unlock()
	return nil
}

// Drain batch-processes buffered events oldest-first, bounded by the
// configured batch size. Wired to a periodic task; safe to skip a tick.
func (c *Correlator) Drain(ctx context.Context) {
	c.bmu.Lock()
	n := len(c.buffer)
	if n == 0 {
		c.bmu.Unlock()
		return
	}
	if n > c.cfg.BatchSize {
		n = c.cfg.BatchSize
	}
	batch := c.buffer[:n]
	c.buffer = append([]*models.SecurityEvent(nil), c.buffer[n:]...)
	c.bmu.Unlock()

	for _, event := range batch {
		if ctx.Err() != nil {
			return
		}
		c.processEvent(ctx, event)
	}
}

// BufferedEvents reports the buffer depth, for tests and introspection.
func (c *Correlator) BufferedEvents() int {
	c.bmu.Lock()
	defer c.bmu.Unlock()
	return len(c.buffer)
}

// AddRule validates and stores a monitoring rule.
func (c *Correlator) AddRule(ctx context.Context, rule *models.MonitoringRule) error {
	if serr := validation.ValidateStruct(rule); serr != nil {
		first := serr.First()
		return errs.Validation("rule", first.Field(), first.Error())
	}
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	rule.CreatedAt = c.now().UTC()
	if err := c.store.Set(ctx, RuleCollection, rule.ID, rule); err != nil {
		return errs.Storage("rule write", err)
	}
	c.mu.Lock()
	c.rules[rule.ID] = rule
	c.mu.Unlock()
	return nil
}

// UpdateRule validates and replaces a rule.
func (c *Correlator) UpdateRule(ctx context.Context, rule *models.MonitoringRule) error {
	if rule.ID == "" {
		return errs.Validation("rule", "id", "must not be empty")
	}
	if serr := validation.ValidateStruct(rule); serr != nil {
		first := serr.First()
		return errs.Validation("rule", first.Field(), first.Error())
	}
	var existing models.MonitoringRule
	if err := c.store.Get(ctx, RuleCollection, rule.ID, &existing); err != nil {
		return err
	}
	rule.CreatedAt = existing.CreatedAt
	if err := c.store.Set(ctx, RuleCollection, rule.ID, rule); err != nil {
		return errs.Storage("rule write", err)
	}
	c.mu.Lock()
	c.rules[rule.ID] = rule
	c.mu.Unlock()
	return nil
}

// RemoveRule disables a rule, preserving its history.
func (c *Correlator) RemoveRule(ctx context.Context, id string) error {
	var rule models.MonitoringRule
	if err := c.store.Get(ctx, RuleCollection, id, &rule); err != nil {
		return err
	}
	rule.Enabled = false
	if err := c.store.Set(ctx, RuleCollection, id, &rule); err != nil {
		return errs.Storage("rule write", err)
	}
	c.mu.Lock()
	delete(c.rules, id)
	c.mu.Unlock()
	return nil
}

// ListRules returns a snapshot of the active rules.
func (c *Correlator) ListRules() []*models.MonitoringRule {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*models.MonitoringRule, 0, len(c.rules))
	for _, rule := range c.rules {
		out = append(out, rule)
	}
	return out
}

func (c *Correlator) ruleSnapshot() []*models.MonitoringRule {
	return c.ListRules()
}
