// IdPWatch - Identity Provider Activity Monitoring and Anomaly Detection
// Copyright 2026 M. Reyes (mreyes-ops)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mreyes-ops/idpwatch

// Command agent runs the IdPWatch monitoring agent: it consumes
// identity-provider activity batches, geolocates login origins, detects
// impossible travel, out-of-region new devices, and phishing-style
// document shares, and persists and delivers the resulting alerts.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mreyes-ops/idpwatch/internal/alert"
	"github.com/mreyes-ops/idpwatch/internal/config"
	"github.com/mreyes-ops/idpwatch/internal/detection"
	"github.com/mreyes-ops/idpwatch/internal/geo"
	"github.com/mreyes-ops/idpwatch/internal/logging"
	"github.com/mreyes-ops/idpwatch/internal/metrics"
	"github.com/mreyes-ops/idpwatch/internal/poller"
	"github.com/mreyes-ops/idpwatch/internal/retention"
	"github.com/mreyes-ops/idpwatch/internal/sharing"
	"github.com/mreyes-ops/idpwatch/internal/store"
	"github.com/mreyes-ops/idpwatch/internal/supervisor"
)

func main() {
	cfg, err := config.LoadWithKoanf()
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logging.Info().
		Str("domain", cfg.Workspace.Domain).
		Dur("poll_interval", cfg.Workspace.PollInterval).
		Msg("idpwatch agent starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(cfg.Database, logging.With().Str("component", "store").Logger())
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to open store")
	}
	defer func() { _ = db.Close() }()

	resolver, err := geo.NewResolver(cfg.Geo.DBPath)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to open geo database")
	}
	defer func() { _ = resolver.Close() }()

	var notifier alert.Notifier
	if cfg.Alerts.EnableEmail {
		notifier = alert.NewEmailNotifier(cfg.Alerts, logging.With().Str("component", "email").Logger())
	} else {
		logging.Info().Msg("email delivery disabled, alerts are persisted only")
	}
	sink := alert.NewSink(db, notifier, logging.With().Str("component", "alert").Logger())

	cache := detection.NewLastSeenCache()
	travel := detection.NewTravelDetector(cfg.Travel.ThresholdMPH, cache, db,
		logging.With().Str("component", "travel").Logger())
	policy := detection.NewDevicePolicy(cfg.Device.RegionCheckEnabled, cfg.Device.AllowedRegions)
	scorer := sharing.NewScorer(cfg.Workspace.Domain, cfg.Phishing)
	engine := detection.NewEngine(resolver, db, sink, travel, policy, scorer,
		logging.With().Str("component", "engine").Logger())

	feed, err := poller.NewFileFeed(cfg.Workspace.SpoolDir, logging.With().Str("component", "feed").Logger())
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to open spool directory")
	}
	var signalFeed poller.SignalFeed
	if cfg.Workspace.UseAlertCenter {
		signalFeed = feed
	}
	p := poller.New(engine, feed, signalFeed,
		cfg.Workspace.PollInterval, cfg.Workspace.MaxAlerts,
		logging.With().Str("component", "poller").Logger())

	tree := supervisor.NewTree(slog.New(logging.NewSlogHandler()), supervisor.DefaultTreeConfig())
	tree.AddPipelineService(p)
	if cfg.Retention.Enabled {
		tree.AddMaintenanceService(retention.NewService(db, cfg.Retention,
			logging.With().Str("component", "retention").Logger()))
	}
	if cfg.Metrics.Enabled {
		tree.AddMaintenanceService(metrics.NewServer(cfg.Metrics.ListenAddr,
			logging.With().Str("component", "metrics").Logger()))
	}

	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("supervisor exited")
		os.Exit(1)
	}
	logging.Info().Msg("shutdown complete")
}
