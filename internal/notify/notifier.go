// Aegis - Security Decision and Response Engine
// Copyright 2026 Aegis Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/aegis-sec/aegis

// Package notify defines the notification collaborator boundary. Delivery is
// fire-and-forget from the engine's perspective: a dead sink must never stall
// a decision path, so the webhook notifier carries a circuit breaker and an
// outbound rate limit.
package notify

import (
	"context"
	"time"

	"github.com/aegis-sec/aegis/internal/models"
)

// Notification is one outbound message.
type Notification struct {
	Recipients []string        `json:"recipients,omitempty"`
	Severity   models.Severity `json:"severity"`
	Subject    string          `json:"subject"`
	Message    string          `json:"message"`
	Timestamp  time.Time       `json:"timestamp"`
}

// Notifier delivers notifications to an external channel.
type Notifier interface {
	// Send delivers a notification. Implementations should bound their own
	// latency; callers treat delivery as best-effort.
	Send(ctx context.Context, n Notification) error

	// Name returns the notifier name (e.g. "webhook").
	Name() string

	// Enabled returns whether this notifier is enabled.
	Enabled() bool
}

// Fanout sends a notification to every enabled notifier on its own
// goroutine, logging failures without surfacing them.
type Fanout struct {
	notifiers []Notifier
}

// NewFanout bundles notifiers for fire-and-forget delivery.
func NewFanout(notifiers ...Notifier) *Fanout {
	return &Fanout{notifiers: notifiers}
}

// Add registers another notifier.
func (f *Fanout) Add(n Notifier) {
	f.notifiers = append(f.notifiers, n)
}

// Send dispatches to all enabled notifiers asynchronously.
func (f *Fanout) Send(ctx context.Context, n Notification) {
	for _, notifier := range f.notifiers {
		if !notifier.Enabled() {
			continue
		}
		go func(nt Notifier) {
			sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			defer cancel()
			if err := nt.Send(sendCtx, n); err != nil {
				logSendFailure(nt.Name(), err)
			}
		}(notifier)
	}
}
