// Aegis - Security Decision and Response Engine
// Copyright 2026 Aegis Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/aegis-sec/aegis

// Package engine composes the security components into one service object:
// threat scoring, access decisions, policy enforcement, event correlation,
// and incident response, wired together with shared storage and a supervised
// set of background tasks. The embedding application constructs an Engine,
// calls Init, and feeds requests through Process.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aegis-sec/aegis/internal/access"
	"github.com/aegis-sec/aegis/internal/config"
	"github.com/aegis-sec/aegis/internal/correlate"
	"github.com/aegis-sec/aegis/internal/identity"
	"github.com/aegis-sec/aegis/internal/incident"
	"github.com/aegis-sec/aegis/internal/logging"
	"github.com/aegis-sec/aegis/internal/models"
	"github.com/aegis-sec/aegis/internal/notify"
	"github.com/aegis-sec/aegis/internal/policy"
	"github.com/aegis-sec/aegis/internal/store"
	"github.com/aegis-sec/aegis/internal/supervisor"
	"github.com/aegis-sec/aegis/internal/threat"
)

// maintenanceSweepInterval paces the threat, policy-cache, and dedup
// sweeps. Sweeps are cheap and idempotent.
const maintenanceSweepInterval = time.Minute

// violationFlushInterval paces policy violation persistence.
const violationFlushInterval = 15 * time.Second

// Option customizes engine construction.
type Option func(*Engine)

// WithStore injects a pre-built store instead of opening one from config.
// The caller keeps ownership; Close will not close an injected store.
func WithStore(st store.Store) Option {
	return func(e *Engine) {
		e.store = st
		e.ownsStore = false
	}
}

// WithIdentityProvider attaches the identity collaborator for grant claims
// mirroring.
func WithIdentityProvider(p identity.Provider) Option {
	return func(e *Engine) { e.provider = p }
}

// WithGeoResolver enables geographic anomaly detection.
func WithGeoResolver(r threat.GeoResolver) Option {
	return func(e *Engine) { e.geo = r }
}

// WithNotifier adds an outbound notifier alongside any configured webhook.
func WithNotifier(n notify.Notifier) Option {
	return func(e *Engine) { e.extraNotifiers = append(e.extraNotifiers, n) }
}

// WithTeam sets the incident response team used for action assignment.
func WithTeam(team []models.TeamMember) Option {
	return func(e *Engine) { e.team = team }
}

// WithDefaults seeds the built-in monitoring rules and playbooks at Init.
func WithDefaults() Option {
	return func(e *Engine) { e.seedDefaults = true }
}

// Engine owns the component graph and its background tasks.
type Engine struct {
	cfg       *config.Config
	store     store.Store
	ownsStore bool

	notifier       *notify.Fanout
	extraNotifiers []notify.Notifier
	provider       identity.Provider
	geo            threat.GeoResolver
	team           []models.TeamMember
	seedDefaults   bool

	scorer     *threat.Scorer
	decider    *access.Decider
	policies   *policy.Engine
	correlator *correlate.Correlator
	incidents  *incident.Manager

	tree    *supervisor.Tree
	treeErr <-chan error
	cancel  context.CancelFunc

	mu      sync.Mutex
	started bool
}

// New builds the component graph from config. Call Init to load stored
// state and launch background tasks.
func New(cfg *config.Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("engine config: %w", err)
	}

	e := &Engine{cfg: cfg, ownsStore: true}
	for _, opt := range opts {
		opt(e)
	}

	if e.store == nil {
		st, err := openStore(cfg.Storage)
		if err != nil {
			return nil, err
		}
		e.store = st
	}

	e.notifier = notify.NewFanout(e.extraNotifiers...)
	if cfg.Notify.Webhook.Enabled {
		e.notifier.Add(notify.NewWebhookNotifier(notify.WebhookConfig{
			URL:     cfg.Notify.Webhook.URL,
			Headers: cfg.Notify.Webhook.Headers,
			Enabled: true,
		}))
	}

	// The correlator is the event sink for every producer; the scorer is
	// both the correlator's block callback and the containment executor's
	// source blocker.
	e.correlator = correlate.NewCorrelator(cfg.Correlation, e.store, e.notifier)
	e.scorer = threat.NewScorer(cfg.Threat, e.store, e.correlator)
	e.decider = access.NewDecider(e.store, e.provider, e.correlator)
	e.policies = policy.NewEngine(cfg.Policy, e.store, e.correlator)
	e.incidents = incident.NewManager(cfg.Incident, e.store, e.notifier,
		incident.NewDefaultExecutor(e.scorer, e.decider))

	e.correlator.SetBlocker(e.scorer)
	e.correlator.SetAlertHandler(e.handleAlert)
	e.policies.SetBlocker(e.scorer)
	e.policies.SetNotifier(e.notifier)

	if e.geo != nil {
		e.scorer.SetGeoResolver(e.geo)
	}
	if e.team != nil {
		e.incidents.SetTeam(e.team)
	}
	return e, nil
}

func openStore(cfg config.StorageConfig) (store.Store, error) {
	switch cfg.Backend {
	case "badger":
		return store.OpenBadger(cfg.Dir)
	default:
		return store.NewMemoryStore(), nil
	}
}

// Init loads stored policies and rules, seeds defaults when requested, and
// launches the supervised background tasks. Init is not idempotent; call
// it once.
func (e *Engine) Init(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return fmt.Errorf("engine already started")
	}

	if err := e.policies.Init(ctx); err != nil {
		return err
	}
	if err := e.correlator.Init(ctx); err != nil {
		return err
	}
	if e.seedDefaults {
		if err := e.seed(ctx); err != nil {
			return err
		}
	}

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddEngineService(supervisor.NewPeriodicService(
		"correlator-drain", e.cfg.Correlation.DrainInterval,
		e.correlator.Drain))
	tree.AddMaintenanceService(supervisor.NewPeriodicService(
		"threat-sweep", maintenanceSweepInterval,
		func(context.Context) { e.scorer.Sweep() }))
	tree.AddMaintenanceService(supervisor.NewPeriodicService(
		"policy-sweep", maintenanceSweepInterval,
		func(context.Context) { e.policies.Sweep() }))
	tree.AddMaintenanceService(supervisor.NewPeriodicService(
		"dedup-sweep", maintenanceSweepInterval,
		func(context.Context) { e.correlator.Sweep() }))
	tree.AddMaintenanceService(supervisor.NewPeriodicService(
		"violation-flush", violationFlushInterval,
		e.policies.FlushViolations))
	tree.AddMaintenanceService(supervisor.NewPeriodicService(
		"sla-check", e.cfg.Incident.SLACheckInterval,
		e.incidents.CheckSLAs))

	treeCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e.tree = tree
	e.cancel = cancel
	e.treeErr = tree.ServeBackground(treeCtx)
	e.started = true

	logging.Info().
		Str("storage", e.cfg.Storage.Backend).
		Int("policies", len(e.policies.ListPolicies())).
		Int("rules", len(e.correlator.ListRules())).
		Msg("engine started")
	return nil
}

// seed registers the built-in monitoring rules and playbooks, skipping
// rules that already exist.
func (e *Engine) seed(ctx context.Context) error {
	existing := make(map[string]struct{})
	for _, rule := range e.correlator.ListRules() {
		existing[rule.ID] = struct{}{}
	}
	for _, rule := range correlate.DefaultMonitoringRules() {
		if _, ok := existing[rule.ID]; ok {
			continue
		}
		if err := e.correlator.AddRule(ctx, rule); err != nil {
			return err
		}
	}
	for _, pb := range incident.DefaultPlaybooks() {
		if err := e.incidents.RegisterPlaybook(pb); err != nil {
			return err
		}
	}
	return nil
}

// handleAlert promotes qualifying alerts to incidents. Low-noise alerts
// stay in the alert queue for manual triage.
func (e *Engine) handleAlert(ctx context.Context, alert *models.SecurityAlert) {
	if alert.Severity != models.SeverityHigh && alert.Severity != models.SeverityCritical && !alert.Response.Escalated {
		return
	}
	inc, err := e.incidents.CreateFromAlert(ctx, alert)
	if err != nil {
		logging.Err(err).Str("alert_id", alert.ID).Msg("incident creation from alert failed")
		return
	}
	logging.Info().
		Str("alert_id", alert.ID).
		Str("incident_id", inc.ID).
		Str("severity", string(inc.Severity)).
		Msg("alert promoted to incident")
}

// Close stops background tasks and releases the store. Safe to call once,
// whether or not Init succeeded.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		e.cancel()
		select {
		case <-e.treeErr:
		case <-time.After(15 * time.Second):
			logging.Warn().Msg("supervisor shutdown timed out")
		}
		e.cancel = nil
	}
	if e.ownsStore && e.store != nil {
		return e.store.Close()
	}
	return nil
}

// Access returns the access decider for grant management.
func (e *Engine) Access() *access.Decider { return e.decider }

// Threat returns the threat scorer for block-set management.
func (e *Engine) Threat() *threat.Scorer { return e.scorer }

// Policies returns the policy engine for policy CRUD.
func (e *Engine) Policies() *policy.Engine { return e.policies }

// Correlator returns the event correlator for rule and alert management.
func (e *Engine) Correlator() *correlate.Correlator { return e.correlator }

// Incidents returns the incident manager.
func (e *Engine) Incidents() *incident.Manager { return e.incidents }

// Metrics is a cheap point-in-time snapshot of component state, for
// introspection beside the prometheus collectors.
type Metrics struct {
	BlockedSources    int `json:"blocked_sources"`
	BufferedEvents    int `json:"buffered_events"`
	ActivePolicies    int `json:"active_policies"`
	ActiveRules       int `json:"active_rules"`
	PendingViolations int `json:"pending_violations"`
}

// Snapshot collects the current component counters.
func (e *Engine) Snapshot() Metrics {
	return Metrics{
		BlockedSources:    e.scorer.BlockedCount(),
		BufferedEvents:    e.correlator.BufferedEvents(),
		ActivePolicies:    len(e.policies.ListPolicies()),
		ActiveRules:       len(e.correlator.ListRules()),
		PendingViolations: e.policies.PendingViolations(),
	}
}
