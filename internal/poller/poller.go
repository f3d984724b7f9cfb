// IdPWatch - Identity Provider Activity Monitoring and Anomaly Detection
// Copyright 2026 M. Reyes (mreyes-ops)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mreyes-ops/idpwatch

// Package poller drives the detection engine: it periodically pulls
// activity and alert-center signals from collaborator feeds and replays
// them through the engine in feed order.
package poller

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/mreyes-ops/idpwatch/internal/activity"
	"github.com/mreyes-ops/idpwatch/internal/detection"
	"github.com/mreyes-ops/idpwatch/internal/metrics"
)

// ActivityFeed supplies raw activity records. Implementations wrap the
// provider's reports API; records must arrive oldest first per identity.
type ActivityFeed interface {
	Logins(ctx context.Context, since time.Time) ([]activity.Record, error)
	Shares(ctx context.Context, since time.Time) ([]activity.Record, error)
}

// SignalFeed supplies raw alert-center items for new-device correlation.
type SignalFeed interface {
	Signals(ctx context.Context, since time.Time, max int) ([]RawSignal, error)
}

// Poller is a supervised service running the poll loop.
type Poller struct {
	engine    *detection.Engine
	feed      ActivityFeed
	signals   SignalFeed // nil when alert-center correlation is disabled
	interval  time.Duration
	maxAlerts int
	logger    zerolog.Logger

	lastPoll time.Time
}

// New creates a poller. signals may be nil.
func New(engine *detection.Engine, feed ActivityFeed, signals SignalFeed, interval time.Duration, maxAlerts int, logger zerolog.Logger) *Poller {
	return &Poller{
		engine:    engine,
		feed:      feed,
		signals:   signals,
		interval:  interval,
		maxAlerts: maxAlerts,
		logger:    logger,
		lastPoll:  time.Now().Add(-interval),
	}
}

// Serve runs poll cycles until the context is canceled. It satisfies the
// suture service contract; a panic inside a cycle is the supervisor's
// problem, a feed error is ours and only skips that feed for the cycle.
func (p *Poller) Serve(ctx context.Context) error {
	p.logger.Info().Dur("interval", p.interval).Msg("poller started")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.runCycle(ctx)
	for {
		select {
		case <-ctx.Done():
			p.logger.Info().Msg("poller stopping")
			return ctx.Err()
		case <-ticker.C:
			p.runCycle(ctx)
		}
	}
}

// runCycle executes one poll: signals, then logins, then shares.
func (p *Poller) runCycle(ctx context.Context) {
	start := time.Now()
	since := p.lastPoll

	deviceSignals := p.fetchSignals(ctx, since)

	logins, err := p.feed.Logins(ctx, since)
	if err != nil {
		metrics.PollCycleErrors.WithLabelValues("login").Inc()
		p.logger.Error().Err(err).Msg("login feed failed, retrying next cycle")
	} else {
		for i := range logins {
			rec := &logins[i]
			p.engine.ProcessLogin(ctx, rec, deviceSignals[rec.Actor.Email])
		}
	}

	shares, err := p.feed.Shares(ctx, since)
	if err != nil {
		metrics.PollCycleErrors.WithLabelValues("drive").Inc()
		p.logger.Error().Err(err).Msg("share feed failed, retrying next cycle")
	} else {
		for i := range shares {
			p.engine.ProcessShare(ctx, &shares[i])
		}
	}

	p.lastPoll = start
	metrics.ObservePollCycle(start)
	p.logger.Debug().
		Int("logins", len(logins)).
		Int("shares", len(shares)).
		Int("signals", len(deviceSignals)).
		Dur("took", time.Since(start)).
		Msg("poll cycle complete")
}

// fetchSignals pulls and correlates alert-center items. Failures degrade to
// an empty signal set; login processing continues without device hints.
func (p *Poller) fetchSignals(ctx context.Context, since time.Time) map[string]*detection.NewDeviceSignal {
	if p.signals == nil {
		return nil
	}
	raw, err := p.signals.Signals(ctx, since, p.maxAlerts)
	if err != nil {
		metrics.PollCycleErrors.WithLabelValues("signals").Inc()
		p.logger.Error().Err(err).Msg("signal feed failed, processing logins without device hints")
		return nil
	}
	return CorrelateSignals(raw)
}
