// Aegis - Security Decision and Response Engine
// Copyright 2026 Aegis Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/aegis-sec/aegis

package supervisor

import (
	"context"
	"time"

	"github.com/aegis-sec/aegis/internal/logging"
)

// TickFunc is one unit of periodic work. It must be idempotent: the schedule
// guarantees at-most-once per interval, not exactly-once, and a skipped tick
// is recovered on the next one.
type TickFunc func(ctx context.Context)

// PeriodicService runs a TickFunc on a fixed interval under suture
// supervision. It replaces setInterval-style loops hidden inside components:
// the owning lifecycle decides when the task starts and stops.
type PeriodicService struct {
	name     string
	interval time.Duration
	tick     TickFunc

	// runOnStart fires the first tick immediately instead of waiting one
	// interval.
	runOnStart bool
}

// NewPeriodicService creates a periodic service.
func NewPeriodicService(name string, interval time.Duration, tick TickFunc) *PeriodicService {
	return &PeriodicService{
		name:     name,
		interval: interval,
		tick:     tick,
	}
}

// WithRunOnStart makes the first tick fire immediately after the service
// starts.
func (p *PeriodicService) WithRunOnStart() *PeriodicService {
	p.runOnStart = true
	return p
}

// Serve implements suture.Service. Returns ctx.Err() on normal shutdown.
func (p *PeriodicService) Serve(ctx context.Context) error {
	logging.Debug().Str("task", p.name).Dur("interval", p.interval).Msg("periodic task started")

	if p.runOnStart {
		p.safeTick(ctx)
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.Debug().Str("task", p.name).Msg("periodic task stopped")
			return ctx.Err()
		case <-ticker.C:
			p.safeTick(ctx)
		}
	}
}

// safeTick runs one tick, converting a panic into a logged fault so a bad
// tick does not crash the supervisor's whole restart budget.
func (p *PeriodicService) safeTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error().Str("task", p.name).Interface("panic", r).Msg("periodic task panicked")
		}
	}()
	p.tick(ctx)
}

// String implements fmt.Stringer for suture logging.
func (p *PeriodicService) String() string {
	return p.name
}
