// Aegis - Security Decision and Response Engine
// Copyright 2026 Aegis Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/aegis-sec/aegis

package notify

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/aegis-sec/aegis/internal/logging"
)

// WebhookConfig configures the webhook notifier.
type WebhookConfig struct {
	URL         string            `json:"url"`
	Headers     map[string]string `json:"headers,omitempty"` // custom headers (e.g. auth)
	Enabled     bool              `json:"enabled"`
	RatePerSec  float64           `json:"rate_per_sec"`  // outbound rate limit, default 2
	BurstSize   int               `json:"burst_size"`    // default 5
	MaxFailures uint32            `json:"max_failures"`  // breaker trip threshold, default 5
	OpenTimeout time.Duration     `json:"open_timeout"`  // breaker open duration, default 30s
	SendTimeout time.Duration     `json:"send_timeout"`  // per-request timeout, default 10s
}

// WebhookPayload is the JSON body posted to the webhook endpoint.
type WebhookPayload struct {
	Notification Notification `json:"notification"`
	Source       string       `json:"source"` // aegis
	Timestamp    time.Time    `json:"timestamp"`
}

// WebhookNotifier posts notifications to a webhook endpoint behind a
// circuit breaker and a token-bucket rate limit.
type WebhookNotifier struct {
	url     string
	headers map[string]string
	client  *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[struct{}]

	mu      sync.RWMutex
	enabled bool
}

// NewWebhookNotifier creates a webhook notifier from config, applying
// defaults for zero values.
func NewWebhookNotifier(cfg WebhookConfig) *WebhookNotifier {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 2
	}
	if cfg.BurstSize <= 0 {
		cfg.BurstSize = 5
	}
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}

	headers := make(map[string]string, len(cfg.Headers))
	for k, v := range cfg.Headers {
		headers[k] = v
	}

	breaker := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:    "webhook-notifier",
		Timeout: cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("notifier", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("webhook circuit breaker state change")
		},
	})

	return &WebhookNotifier{
		url:     cfg.URL,
		headers: headers,
		client:  &http.Client{Timeout: cfg.SendTimeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.BurstSize),
		breaker: breaker,
		enabled: cfg.Enabled && cfg.URL != "",
	}
}

// Name returns "webhook".
func (w *WebhookNotifier) Name() string { return "webhook" }

// Enabled reports whether the notifier is enabled.
func (w *WebhookNotifier) Enabled() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.enabled
}

// SetEnabled enables or disables the notifier.
func (w *WebhookNotifier) SetEnabled(enabled bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.enabled = enabled
}

// Send posts the notification. The rate limiter smooths bursts; the breaker
// drops sends fast while the sink is unhealthy.
func (w *WebhookNotifier) Send(ctx context.Context, n Notification) error {
	if !w.Enabled() {
		return nil
	}

	if err := w.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("webhook rate limit wait: %w", err)
	}

	payload := WebhookPayload{
		Notification: n,
		Source:       "aegis",
		Timestamp:    time.Now(),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	_, err = w.breaker.Execute(func() (struct{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
		if err != nil {
			return struct{}{}, err
		}
		req.Header.Set("Content-Type", "application/json")
		for k, v := range w.headers {
			req.Header.Set(k, v)
		}

		resp, err := w.client.Do(req)
		if err != nil {
			return struct{}{}, err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return struct{}{}, fmt.Errorf("webhook returned status %d", resp.StatusCode)
		}
		return struct{}{}, nil
	})
	return err
}

// logSendFailure records a failed delivery. Kept package-private so Fanout
// does not import logging at every call site.
func logSendFailure(name string, err error) {
	logging.Error().Err(err).Str("notifier", name).Msg("notification delivery failed")
}
