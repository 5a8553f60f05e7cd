// Baytrack - Live Regatta Tracking and Safety Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/baytrack

// Package main is the entry point for the baytrack server.
//
// Baytrack relays live position updates from race participants to
// organizer dashboards over WebSocket, tracks SOS distress signals, and
// keeps the race roster and last-known positions in JSON snapshots on
// disk so a restart never loses the picture of who is on the water.
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: environment variables and optional config file (Koanf v2)
//  2. State store: JSON snapshots loaded from the data directory
//  3. Connection registry and relay hub: WebSocket fan-out
//  4. Liveness supervisor: heartbeat probes and two-cycle eviction
//  5. HTTP server: health, participant admin API, metrics, /ws endpoint
//
// All long-running components run under a suture supervisor tree so a
// crashed service restarts without taking the process down.
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest
// priority wins): environment variables, then a YAML config file named
// by CONFIG_PATH, then built-in defaults. Commonly used variables:
//
//	PORT                 listen port (default 3000)
//	ORGANIZER_PASSWORD   organizer shared secret, plaintext or bcrypt hash
//	DATA_DIR             snapshot directory (default ./data)
//	CORS_ORIGINS         comma-separated allowed origins (default *)
//	LOG_LEVEL            trace..panic (default info)
//
// # Signal Handling
//
// SIGINT and SIGTERM trigger graceful shutdown: the HTTP listener
// drains, connected WebSocket clients receive a close frame, and a
// final state snapshot is written before exit.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/tomtom215/baytrack/internal/api"
	"github.com/tomtom215/baytrack/internal/config"
	"github.com/tomtom215/baytrack/internal/liveness"
	"github.com/tomtom215/baytrack/internal/logging"
	"github.com/tomtom215/baytrack/internal/registry"
	"github.com/tomtom215/baytrack/internal/relay"
	"github.com/tomtom215/baytrack/internal/store"
	"github.com/tomtom215/baytrack/internal/supervisor"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Config not yet available, use the default logger.
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if err := cfg.Validate(); err != nil {
		logging.Fatal().Err(err).Msg("Invalid configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("data_dir", cfg.Storage.DataDir).
		Int("port", cfg.Server.Port).
		Bool("organizer_auth", cfg.Security.OrganizerAuthEnabled()).
		Msg("Starting baytrack")
	if !cfg.Security.OrganizerAuthEnabled() {
		logging.Warn().Msg("ORGANIZER_PASSWORD is not set: organizer authentication will reject all attempts")
	}

	// State store, loaded from the last on-disk snapshot if present.
	st := store.New(cfg.Storage.DataDir)
	if err := st.Load(); err != nil {
		logging.Fatal().Err(err).Str("data_dir", cfg.Storage.DataDir).Msg("Failed to load state snapshots")
	}
	_, total := st.Stats()
	logging.Info().Int("participants", total).Msg("State loaded")

	reg := registry.New()
	persister := store.NewPersister(st, cfg.Storage.PersistInterval)
	hub := relay.NewHub(reg, st, persister, cfg.Security.CheckOrganizerPassword)
	livenessSup := liveness.New(reg, hub, cfg.Liveness.Interval)

	handler := api.NewHandler(cfg, st, reg, hub)
	router := api.NewRouter(cfg, handler)
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
		IdleTimeout:  2 * cfg.Server.Timeout,
	}

	// suture logs through slog, bridged back into zerolog.
	slogLogger := slog.New(logging.NewSlogHandler())
	tree, err := supervisor.NewTree(slogLogger, supervisor.DefaultTreeConfig())
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create supervisor tree")
	}

	tree.AddMessagingService(hub)
	tree.AddMessagingService(livenessSup)
	tree.AddMessagingService(persister)
	tree.AddAPIService(supervisor.NewHTTPServerService(server, 10*time.Second))
	logging.Info().Str("addr", server.Addr).Msg("HTTP server service added")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logging.Info().Msg("Starting supervisor tree")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Shutdown signal received, waiting for supervisor to finish")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	// Drain until the supervisor has fully stopped.
	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}

	// Final best-effort snapshot in case the persister's shutdown flush failed.
	if st.Dirty() {
		if err := st.Persist(); err != nil {
			logging.Error().Err(err).Msg("Final snapshot failed")
		}
	}

	logging.Info().Msg("Application stopped gracefully")
}
