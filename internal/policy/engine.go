// Aegis - Security Decision and Response Engine
// Copyright 2026 Aegis Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/aegis-sec/aegis

// Package policy implements the generalized trigger/scope/action evaluator
// over operator-defined policies. The engine fails open: an internal fault
// yields allow with a monitor recommendation, never a platform outage.
package policy

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aegis-sec/aegis/internal/cache"
	"github.com/aegis-sec/aegis/internal/config"
	"github.com/aegis-sec/aegis/internal/errs"
	"github.com/aegis-sec/aegis/internal/logging"
	"github.com/aegis-sec/aegis/internal/models"
	"github.com/aegis-sec/aegis/internal/notify"
	"github.com/aegis-sec/aegis/internal/store"
	"github.com/aegis-sec/aegis/internal/validation"
)

const (
	// PolicyCollection holds policy documents.
	PolicyCollection = "policies"

	// ViolationCollection holds persisted violations.
	ViolationCollection = "violations"

	// MetricSampleCollection holds named-metric samples consumed by
	// threshold triggers.
	MetricSampleCollection = "metric_samples"
)

// EventSink receives policy-violation events.
type EventSink interface {
	Ingest(ctx context.Context, event *models.SecurityEvent) error
}

// Blocker is the defensive callback for escalation block actions.
type Blocker interface {
	BlockSource(source, reason string, duration time.Duration)
}

// metricSample is one increment of a named metric.
type metricSample struct {
	Metric    string `json:"metric"`
	Timestamp string `json:"timestamp"`
}

// Engine evaluates requests against the active policy set. The active map
// is read-mostly; any mutation invalidates the whole evaluation cache.
type Engine struct {
	cfg      config.PolicyConfig
	store    store.Store
	sink     EventSink
	cache    *cache.Cache
	blocker  Blocker
	notifier *notify.Fanout

	mu       sync.RWMutex
	policies map[string]*models.SecurityPolicy

	vmu     sync.Mutex
	pending []*models.PolicyViolation

	now func() time.Time
}

// NewEngine builds a policy engine. Call Init to load stored policies.
func NewEngine(cfg config.PolicyConfig, st store.Store, sink EventSink) *Engine {
	return &Engine{
		cfg:      cfg,
		store:    st,
		sink:     sink,
		cache:    cache.New(cfg.CacheTTL),
		policies: make(map[string]*models.SecurityPolicy),
		now:      time.Now,
	}
}

// SetBlocker attaches the callback for escalation block actions.
func (e *Engine) SetBlocker(b Blocker) {
	e.blocker = b
}

// SetNotifier attaches the notification fanout for escalation alert
// actions.
func (e *Engine) SetNotifier(n *notify.Fanout) {
	e.notifier = n
}

// Init loads the non-archived policy set from storage.
func (e *Engine) Init(ctx context.Context) error {
	raws, err := e.store.Query(ctx, store.QuerySpec{
		Collection: PolicyCollection,
		Filters:    []store.Filter{{Field: "archived", Op: store.OpEqual, Value: false}},
	})
	if err != nil {
		return errs.Storage("policy load", err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, raw := range raws {
		var p models.SecurityPolicy
		if err := unmarshalPolicy(raw, &p); err != nil {
			logging.Err(err).Msg("skipping unreadable policy document")
			continue
		}
		e.policies[p.ID] = &p
	}
	logging.Info().Int("policies", len(e.policies)).Msg("policy engine initialized")
	return nil
}

// CreatePolicy validates and stores a new policy. Malformed policies are
// rejected whole; nothing is partially stored.
func (e *Engine) CreatePolicy(ctx context.Context, p *models.SecurityPolicy) error {
	if err := validatePolicy(p); err != nil {
		return err
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := e.now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	if err := e.store.Set(ctx, PolicyCollection, p.ID, p); err != nil {
		return errs.Storage("policy write", err)
	}
	e.mu.Lock()
	e.policies[p.ID] = p
	e.mu.Unlock()
	e.cache.Clear()
	return nil
}

// UpdatePolicy validates and replaces an existing policy.
func (e *Engine) UpdatePolicy(ctx context.Context, p *models.SecurityPolicy) error {
	if p.ID == "" {
		return errs.Validation("policy", "id", "must not be empty")
	}
	if err := validatePolicy(p); err != nil {
		return err
	}
	var existing models.SecurityPolicy
	if err := e.store.Get(ctx, PolicyCollection, p.ID, &existing); err != nil {
		return err
	}
	p.CreatedAt = existing.CreatedAt
	p.UpdatedAt = e.now().UTC()
	if err := e.store.Set(ctx, PolicyCollection, p.ID, p); err != nil {
		return errs.Storage("policy write", err)
	}
	e.mu.Lock()
	if p.Archived {
		delete(e.policies, p.ID)
	} else {
		e.policies[p.ID] = p
	}
	e.mu.Unlock()
	e.cache.Clear()
	return nil
}

// DeletePolicy archives the policy, disabling it while preserving the
// audit trail. Archived policies never evaluate.
func (e *Engine) DeletePolicy(ctx context.Context, id string) error {
	var p models.SecurityPolicy
	if err := e.store.Get(ctx, PolicyCollection, id, &p); err != nil {
		return err
	}
	p.Enabled = false
	p.Archived = true
	p.UpdatedAt = e.now().UTC()
	if err := e.store.Set(ctx, PolicyCollection, id, &p); err != nil {
		return errs.Storage("policy write", err)
	}
	e.mu.Lock()
	delete(e.policies, id)
	e.mu.Unlock()
	e.cache.Clear()
	return nil
}

// GetPolicy reads a policy by id, archived or not.
func (e *Engine) GetPolicy(ctx context.Context, id string) (*models.SecurityPolicy, error) {
	var p models.SecurityPolicy
	if err := e.store.Get(ctx, PolicyCollection, id, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// ListPolicies returns the active policy set.
func (e *Engine) ListPolicies() []*models.SecurityPolicy {
	return e.snapshot()
}

func (e *Engine) snapshot() []*models.SecurityPolicy {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*models.SecurityPolicy, 0, len(e.policies))
	for _, p := range e.policies {
		out = append(out, p)
	}
	return out
}

// Sweep evicts expired evaluation-cache entries. Wired to a periodic task.
func (e *Engine) Sweep() {
	e.cache.Sweep()
}

// RecordMetric appends one sample of a named metric for threshold triggers.
func (e *Engine) RecordMetric(ctx context.Context, name string) error {
	sample := metricSample{
		Metric:    name,
		Timestamp: e.now().UTC().Format(time.RFC3339Nano),
	}
	if err := e.store.Set(ctx, MetricSampleCollection, uuid.NewString(), sample); err != nil {
		return errs.Storage("metric sample write", err)
	}
	return nil
}

// validatePolicy rejects structurally unusable policies.
func validatePolicy(p *models.SecurityPolicy) error {
	if serr := validation.ValidateStruct(p); serr != nil {
		first := serr.First()
		return errs.Validation("policy", first.Field(), first.Error())
	}
	if len(p.Scope.Targets) == 0 {
		return errs.Validation("policy", "scope.targets", "at least one target required")
	}
	if len(p.Triggers) == 0 {
		return errs.Validation("policy", "triggers", "at least one trigger required")
	}
	if len(p.Actions) == 0 {
		return errs.Validation("policy", "actions", "at least one action required")
	}
	for i, t := range p.Triggers {
		switch t.Type {
		case models.TriggerEventMatch:
			if t.EventType == "" {
				return errs.Validation("policy", "triggers", "event_match trigger missing event_type")
			}
		case models.TriggerFieldCondition:
			if t.FieldPath == "" || t.Operator == "" {
				return errs.Validation("policy", "triggers", "field_condition trigger missing field_path or operator")
			}
		case models.TriggerThreshold:
			if t.Metric == "" {
				return errs.Validation("policy", "triggers", "threshold trigger missing metric")
			}
			if t.Threshold <= 0 || t.WindowMinutes <= 0 {
				return errs.Validation("policy", "triggers", "threshold trigger needs positive threshold and window")
			}
		case models.TriggerSequence:
			if len(t.Sequence) < 2 {
				return errs.Validation("policy", "triggers", "sequence trigger needs at least two steps")
			}
		case models.TriggerSchedule:
			if t.Schedule == nil {
				return errs.Validation("policy", "triggers", "schedule trigger missing schedule window")
			}
		default:
			return errs.Validation("policy", "triggers", "unknown trigger type at index "+strconv.Itoa(i))
		}
	}
	return nil
}
