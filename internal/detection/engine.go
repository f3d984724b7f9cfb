// IdPWatch - Identity Provider Activity Monitoring and Anomaly Detection
// Copyright 2026 M. Reyes (mreyes-ops)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mreyes-ops/idpwatch

package detection

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/mreyes-ops/idpwatch/internal/activity"
	"github.com/mreyes-ops/idpwatch/internal/geo"
	"github.com/mreyes-ops/idpwatch/internal/metrics"
	"github.com/mreyes-ops/idpwatch/internal/sharing"
)

// GeoResolver is the geolocation contract the engine depends on.
type GeoResolver interface {
	Resolve(address string) geo.Point
}

// Engine orchestrates normalization, geolocation, and the detectors over
// raw activity records. A failure while processing one event is logged and
// isolated; it never affects sibling events or the batch.
type Engine struct {
	resolver GeoResolver
	history  LocationHistory
	sink     AlertSink
	travel   *TravelDetector
	policy   *DevicePolicy
	scorer   *sharing.Scorer
	logger   zerolog.Logger
}

// NewEngine wires the detectors together.
func NewEngine(
	resolver GeoResolver,
	history LocationHistory,
	sink AlertSink,
	travel *TravelDetector,
	policy *DevicePolicy,
	scorer *sharing.Scorer,
	logger zerolog.Logger,
) *Engine {
	return &Engine{
		resolver: resolver,
		history:  history,
		sink:     sink,
		travel:   travel,
		policy:   policy,
		scorer:   scorer,
		logger:   logger,
	}
}

// ProcessLogin runs the login pipeline over one raw record. When signal is
// non-nil the record has been correlated with a new-device hint and the
// region policy applies.
func (e *Engine) ProcessLogin(ctx context.Context, rec *activity.Record, signal *NewDeviceSignal) {
	events, err := activity.Normalize(rec)
	if err != nil {
		e.reportParseFailure(err)
		return
	}

	for i := range events {
		ev := &events[i]
		if ev.Kind != activity.KindLoginSuccess && ev.Kind != activity.KindLoginFailure {
			continue
		}
		metrics.EventsProcessed.WithLabelValues(string(ev.Kind)).Inc()
		e.processLoginEvent(ctx, ev, signal)
	}
}

// processLoginEvent handles one normalized login event end to end.
func (e *Engine) processLoginEvent(ctx context.Context, ev *activity.Event, signal *NewDeviceSignal) {
	point := e.resolver.Resolve(ev.SourceAddress)

	if point.Classification == geo.ClassLookupError {
		detail := ""
		if point.Err != nil {
			detail = point.Err.Error()
		}
		alert := newAlert(AlertGeoLookupFailure, ev.Identity,
			fmt.Sprintf("Geolocation failed for login from %s", ev.SourceAddress),
			detail, ev.Timestamp)
		alert.SourceAddress = ev.SourceAddress
		e.raise(ctx, alert)
	}

	prev, hasPrior := e.travel.LastKnown(ctx, ev.Identity)

	if signal != nil && signal.IsNewDevice {
		e.applyDevicePolicy(ctx, ev, point, hasPrior)
	}

	if point.Located && hasPrior {
		if anomaly := e.travel.Check(ev.Identity, prev, point, ev.Timestamp); anomaly != nil {
			e.raiseTravelAlert(ctx, ev, point, anomaly)
		}
	}

	e.travel.Observe(ev.Identity, point, ev.Timestamp)

	rec := LocationRecord{
		Identity:      ev.Identity,
		LoginTime:     ev.Timestamp,
		SourceAddress: ev.SourceAddress,
		City:          point.City,
		Region:        point.Region,
		Country:       point.Country,
		EventName:     ev.Name,
	}
	if point.Located {
		lat, lon := point.Latitude, point.Longitude
		rec.Latitude, rec.Longitude = &lat, &lon
	}
	if err := e.history.Append(ctx, rec); err != nil {
		e.logger.Error().Err(err).
			Str("identity", ev.Identity).
			Time("login_time", ev.Timestamp).
			Str("source_address", ev.SourceAddress).
			Msg("failed to persist login, history has a gap for this identity")
	}
}

// applyDevicePolicy evaluates the region policy for a signaled new-device
// login and raises the resulting alert, if any.
func (e *Engine) applyDevicePolicy(ctx context.Context, ev *activity.Event, point geo.Point, hasPrior bool) {
	verdict := e.policy.Evaluate(point.Region, hasPrior)
	switch {
	case verdict.Alert:
		alert := newAlert(AlertNewDeviceOutRegion, ev.Identity, verdict.Message,
			fmt.Sprintf("Login from %s (%s)", point.Describe(), ev.SourceAddress), ev.Timestamp)
		alert.SourceAddress = ev.SourceAddress
		alert.Location = point.Describe()
		e.raise(ctx, alert)
	case verdict.Informational:
		alert := newAlert(AlertNewDeviceLogin, ev.Identity, verdict.Message,
			fmt.Sprintf("Login from %s (%s)", point.Describe(), ev.SourceAddress), ev.Timestamp)
		alert.SourceAddress = ev.SourceAddress
		alert.Location = point.Describe()
		e.raise(ctx, alert)
	}
}

// raiseTravelAlert formats and raises an impossible-travel alert.
func (e *Engine) raiseTravelAlert(ctx context.Context, ev *activity.Event, point geo.Point, anomaly *TravelAnomaly) {
	summary := fmt.Sprintf("Impossible travel: %.0f miles in %s (%.0f mph)",
		anomaly.DistanceMiles,
		anomaly.CurrTime.Sub(anomaly.PrevTime).Round(time.Second),
		anomaly.SpeedMPH)
	details := fmt.Sprintf(
		"Previous login: %s (%.4f,%.4f) at %s. Current login: %s (%.4f,%.4f) at %s.",
		anomaly.PrevLocation, anomaly.PrevLatitude, anomaly.PrevLongitude,
		anomaly.PrevTime.Format("2006-01-02T15:04:05Z"),
		anomaly.CurrLocation, anomaly.CurrLatitude, anomaly.CurrLongitude,
		anomaly.CurrTime.Format("2006-01-02T15:04:05Z"))

	alert := newAlert(AlertImpossibleTravel, ev.Identity, summary, details, ev.Timestamp)
	alert.SourceAddress = ev.SourceAddress
	alert.Location = point.Describe()
	e.raise(ctx, alert)
}

// ProcessShare runs the sharing pipeline over one raw record.
func (e *Engine) ProcessShare(ctx context.Context, rec *activity.Record) {
	events, err := activity.Normalize(rec)
	if err != nil {
		e.reportParseFailure(err)
		return
	}

	for i := range events {
		ev := &events[i]
		if ev.Kind != activity.KindShare {
			continue
		}
		metrics.EventsProcessed.WithLabelValues(string(ev.Kind)).Inc()

		assessment := e.scorer.Evaluate(ev)
		if !assessment.Relevant {
			continue
		}

		if assessment.Risky {
			alert := newAlert(AlertPhishingShare, ev.Identity,
				fmt.Sprintf("Suspicious share: %s", assessment.DocTitle),
				shareAlertDetails(assessment),
				ev.Timestamp)
			alert.SourceAddress = ev.SourceAddress
			e.raise(ctx, alert)
			continue
		}

		if len(assessment.Reasons) > 0 {
			e.logger.Info().
				Str("identity", ev.Identity).
				Str("doc_title", assessment.DocTitle).
				Strs("reasons", assessment.Reasons).
				Msg("share flagged informationally")
		}
	}
}

// shareAlertDetails renders the scoring reasons plus the owner identity the
// responder needs for triage.
func shareAlertDetails(a sharing.Assessment) string {
	owner := a.OwnerName
	if owner == "" {
		owner = "unknown"
	}
	if a.OwnerDomain != "" {
		owner += " (" + a.OwnerDomain + ")"
	}
	return strings.Join(a.Reasons, "; ") + " | Owner: " + owner + " | " + a.FileLink
}

// raise hands an alert to the sink. Sink failures are logged and swallowed
// so one dead delivery path cannot halt the pipeline.
func (e *Engine) raise(ctx context.Context, alert SecurityAlert) {
	metrics.AlertsRaised.WithLabelValues(string(alert.Type), string(alert.Severity)).Inc()
	if err := e.sink.Raise(ctx, alert); err != nil {
		e.logger.Error().Err(err).
			Str("alert_id", alert.ID).
			Str("alert_type", string(alert.Type)).
			Str("identity", alert.Identity).
			Msg("alert sink failed")
	}
}

// reportParseFailure records and logs a rejected record.
func (e *Engine) reportParseFailure(err error) {
	var parseErr *activity.ParseError
	reason := "unknown"
	if errors.As(err, &parseErr) {
		reason = string(parseErr.Reason)
	}
	metrics.EventParseFailures.WithLabelValues(reason).Inc()
	e.logger.Warn().Err(err).Msg("record rejected during normalization")
}
