// Aegis - Security Decision and Response Engine
// Copyright 2026 Aegis Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/aegis-sec/aegis

// Package config loads engine configuration with koanf: struct defaults
// first, then an optional YAML file, then AEGIS_-prefixed environment
// variables. Every recognized option has a default; a zero-config engine
// runs with in-memory storage and conservative thresholds.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration.
type Config struct {
	Logging     LoggingConfig     `koanf:"logging"`
	Storage     StorageConfig     `koanf:"storage"`
	Threat      ThreatConfig      `koanf:"threat"`
	Policy      PolicyConfig      `koanf:"policy"`
	Correlation CorrelationConfig `koanf:"correlation"`
	Incident    IncidentConfig    `koanf:"incident"`
	Notify      NotifyConfig      `koanf:"notify"`
}

// LoggingConfig configures the zerolog facade.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	// Backend is "badger" or "memory".
	Backend string `koanf:"backend"`

	// Dir is the badger data directory. Empty opens badger in-memory.
	Dir string `koanf:"dir"`
}

// ThreatConfig tunes the threat scorer.
type ThreatConfig struct {
	// RateLimitRequests is the allowed requests per source per window.
	RateLimitRequests int `koanf:"rate_limit_requests"`

	// RateLimitWindow is the sliding window for the rate-limit detector.
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`

	// BlockDuration is how long an auto-blocked source stays blocked.
	BlockDuration time.Duration `koanf:"block_duration"`

	// BruteForceThreshold is the failed-auth count that triggers a finding;
	// twice the threshold escalates to high severity.
	BruteForceThreshold int `koanf:"brute_force_threshold"`

	// SuspiciousScoreThreshold is the cumulative point floor for the
	// suspicious-behavior detector.
	SuspiciousScoreThreshold int `koanf:"suspicious_score_threshold"`

	// BlockedRegions deny requests outright; SuspiciousRegions only add risk.
	BlockedRegions    []string `koanf:"blocked_regions"`
	SuspiciousRegions []string `koanf:"suspicious_regions"`

	// AutoBlock enables automatic source blocking on critical findings.
	AutoBlock bool `koanf:"auto_block"`
}

// PolicyConfig tunes the policy engine.
type PolicyConfig struct {
	// CacheTTL bounds how long an evaluation result may be served from cache.
	CacheTTL time.Duration `koanf:"cache_ttl"`
}

// CorrelationConfig tunes the event correlator.
type CorrelationConfig struct {
	// BufferSize bounds the non-critical event buffer.
	BufferSize int `koanf:"buffer_size"`

	// DrainInterval is how often the buffer is batch-processed.
	DrainInterval time.Duration `koanf:"drain_interval"`

	// BatchSize bounds one drain pass.
	BatchSize int `koanf:"batch_size"`

	// CorrelationWindow is the (short) window for related-event linking.
	CorrelationWindow time.Duration `koanf:"correlation_window"`

	// AutoAlert enables alert creation from rule firings.
	AutoAlert bool `koanf:"auto_alert"`
}

// IncidentConfig tunes incident response.
type IncidentConfig struct {
	// Default SLA targets, in minutes, used when no playbook supplies them.
	AcknowledgmentMins int `koanf:"acknowledgment_minutes"`
	ContainmentMins    int `koanf:"containment_minutes"`
	ResolutionMins     int `koanf:"resolution_minutes"`

	// SLACheckInterval is how often the SLA sweep runs.
	SLACheckInterval time.Duration `koanf:"sla_check_interval"`

	// AutoEscalate enables escalation when an SLA target is missed.
	AutoEscalate bool `koanf:"auto_escalate"`

	// EscalationRecipients receive SLA escalation notifications.
	EscalationRecipients []string `koanf:"escalation_recipients"`
}

// NotifyConfig configures outbound notification.
type NotifyConfig struct {
	Webhook WebhookConfig `koanf:"webhook"`
}

// WebhookConfig mirrors notify.WebhookConfig at the configuration surface.
type WebhookConfig struct {
	URL     string            `koanf:"url"`
	Enabled bool              `koanf:"enabled"`
	Headers map[string]string `koanf:"headers"`
}

// Default returns the full default configuration.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Storage: StorageConfig{
			Backend: "memory",
			Dir:     "",
		},
		Threat: ThreatConfig{
			RateLimitRequests:        100,
			RateLimitWindow:          15 * time.Minute,
			BlockDuration:            time.Hour,
			BruteForceThreshold:      5,
			SuspiciousScoreThreshold: 50,
			BlockedRegions:           []string{},
			SuspiciousRegions:        []string{},
			AutoBlock:                true,
		},
		Policy: PolicyConfig{
			CacheTTL: 30 * time.Second,
		},
		Correlation: CorrelationConfig{
			BufferSize:        4096,
			DrainInterval:     5 * time.Second,
			BatchSize:         256,
			CorrelationWindow: 5 * time.Minute,
			AutoAlert:         true,
		},
		Incident: IncidentConfig{
			AcknowledgmentMins: 30,
			ContainmentMins:    120,
			ResolutionMins:     1440,
			SLACheckInterval:   time.Minute,
			AutoEscalate:       true,
		},
		Notify: NotifyConfig{
			Webhook: WebhookConfig{Enabled: false},
		},
	}
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.Storage.Backend != "memory" && c.Storage.Backend != "badger" {
		return fmt.Errorf("storage.backend must be memory or badger, got %q", c.Storage.Backend)
	}
	if c.Threat.RateLimitRequests <= 0 {
		return fmt.Errorf("threat.rate_limit_requests must be positive")
	}
	if c.Threat.RateLimitWindow <= 0 {
		return fmt.Errorf("threat.rate_limit_window must be positive")
	}
	if c.Threat.BruteForceThreshold <= 0 {
		return fmt.Errorf("threat.brute_force_threshold must be positive")
	}
	if c.Correlation.BufferSize <= 0 {
		return fmt.Errorf("correlation.buffer_size must be positive")
	}
	if c.Correlation.BatchSize <= 0 {
		return fmt.Errorf("correlation.batch_size must be positive")
	}
	if c.Incident.AcknowledgmentMins <= 0 || c.Incident.ContainmentMins <= 0 || c.Incident.ResolutionMins <= 0 {
		return fmt.Errorf("incident SLA minutes must be positive")
	}
	if c.Notify.Webhook.Enabled && c.Notify.Webhook.URL == "" {
		return fmt.Errorf("notify.webhook.url required when webhook is enabled")
	}
	return nil
}
