// IdPWatch - Identity Provider Activity Monitoring and Anomaly Detection
// Copyright 2026 M. Reyes (mreyes-ops)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mreyes-ops/idpwatch

// Package alert persists and delivers security alerts. Persistence always
// happens; email delivery is severity-gated and best-effort.
package alert

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/mreyes-ops/idpwatch/internal/detection"
)

// Recorder persists alerts. The store implements this.
type Recorder interface {
	InsertSecurityAlert(ctx context.Context, alert detection.SecurityAlert) error
}

// Notifier delivers alerts out of process.
type Notifier interface {
	Notify(ctx context.Context, alert detection.SecurityAlert) error
}

// Sink couples a recorder with an optional notifier. A failure on either
// path is logged and swallowed: losing an email must not lose the row, and
// a dead store must not silence delivery.
type Sink struct {
	recorder Recorder
	notifier Notifier
	logger   zerolog.Logger
}

// NewSink creates a sink. notifier may be nil when email is disabled.
func NewSink(recorder Recorder, notifier Notifier, logger zerolog.Logger) *Sink {
	return &Sink{recorder: recorder, notifier: notifier, logger: logger}
}

// Raise persists the alert and, for warning severity and above, hands it to
// the notifier. It always returns nil; the detection pipeline has nothing
// useful to do with a delivery failure.
func (s *Sink) Raise(ctx context.Context, a detection.SecurityAlert) error {
	if err := s.recorder.InsertSecurityAlert(ctx, a); err != nil {
		s.logger.Error().Err(err).
			Str("alert_id", a.ID).
			Str("alert_type", string(a.Type)).
			Str("identity", a.Identity).
			Msg("failed to persist alert")
	}

	if s.notifier == nil || a.Severity == detection.SeverityInfo {
		return nil
	}

	if err := s.notifier.Notify(ctx, a); err != nil {
		s.logger.Error().Err(err).
			Str("alert_id", a.ID).
			Str("alert_type", string(a.Type)).
			Msg("alert delivery failed")
	}
	return nil
}
