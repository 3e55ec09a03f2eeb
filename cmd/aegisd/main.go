// Aegis - Security Decision and Response Engine
// Copyright 2026 Aegis Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/aegis-sec/aegis

// Package main is the minimal aegisd daemon: it loads configuration,
// constructs the engine, and runs it until SIGINT or SIGTERM.
//
// Aegis is a library-first security decision and response engine; most
// deployments embed internal/engine directly. aegisd exists for running
// the engine standalone, typically with the badger backend:
//
//	export AEGIS_STORAGE_BACKEND=badger
//	export AEGIS_STORAGE_DIR=/var/lib/aegis
//	./aegisd
//
// Configuration is loaded via koanf with layered sources (highest priority
// wins): AEGIS_-prefixed environment variables, then a config file
// (aegis.yaml, or the path in AEGIS_CONFIG), then built-in defaults.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/aegis-sec/aegis/internal/config"
	"github.com/aegis-sec/aegis/internal/engine"
	"github.com/aegis-sec/aegis/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("configuration load failed")
	}

	logging.Init(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Caller:    cfg.Logging.Caller,
		Timestamp: true,
	})

	eng, err := engine.New(cfg, engine.WithDefaults())
	if err != nil {
		logging.Fatal().Err(err).Msg("engine construction failed")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := eng.Init(ctx); err != nil {
		logging.Fatal().Err(err).Msg("engine initialization failed")
	}

	<-ctx.Done()
	logging.Info().Msg("shutdown signal received")

	if err := eng.Close(); err != nil {
		logging.Err(err).Msg("engine shutdown error")
		os.Exit(1)
	}
	logging.Info().Msg("shutdown complete")
}
