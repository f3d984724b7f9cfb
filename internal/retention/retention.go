// IdPWatch - Identity Provider Activity Monitoring and Anomaly Detection
// Copyright 2026 M. Reyes (mreyes-ops)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mreyes-ops/idpwatch

// Package retention prunes aged login history on a cron schedule,
// archiving rows to Parquet before deletion.
package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/mreyes-ops/idpwatch/internal/config"
)

// Pruner is the store operation the job depends on.
type Pruner interface {
	PruneOlderThan(ctx context.Context, cutoff time.Time, archiveDir string) (int64, error)
}

// Service runs the scheduled prune job as a supervised service.
type Service struct {
	store  Pruner
	cfg    config.RetentionConfig
	logger zerolog.Logger
}

// NewService creates the retention service.
func NewService(store Pruner, cfg config.RetentionConfig, logger zerolog.Logger) *Service {
	return &Service{store: store, cfg: cfg, logger: logger}
}

// Serve schedules the prune job and blocks until the context is canceled.
// A running prune is allowed to finish before Serve returns.
func (s *Service) Serve(ctx context.Context) error {
	c := cron.New()
	if _, err := c.AddFunc(s.cfg.Schedule, func() { s.runOnce(ctx) }); err != nil {
		return fmt.Errorf("invalid retention schedule %q: %w", s.cfg.Schedule, err)
	}

	c.Start()
	s.logger.Info().
		Str("schedule", s.cfg.Schedule).
		Int("days", s.cfg.Days).
		Msg("retention job scheduled")

	<-ctx.Done()
	stopCtx := c.Stop()
	<-stopCtx.Done()
	return ctx.Err()
}

// runOnce executes one prune. Errors are logged; the next scheduled run
// retries.
func (s *Service) runOnce(ctx context.Context) {
	cutoff := time.Now().UTC().AddDate(0, 0, -s.cfg.Days)

	deleted, err := s.store.PruneOlderThan(ctx, cutoff, s.cfg.ArchiveDir)
	if err != nil {
		s.logger.Error().Err(err).
			Time("cutoff", cutoff).
			Msg("retention prune failed")
		return
	}
	if deleted > 0 {
		s.logger.Info().
			Int64("rows", deleted).
			Time("cutoff", cutoff).
			Msg("aged login rows pruned")
	}
}
