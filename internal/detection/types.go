// IdPWatch - Identity Provider Activity Monitoring and Anomaly Detection
// Copyright 2026 M. Reyes (mreyes-ops)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mreyes-ops/idpwatch

// Package detection implements the anomaly detectors and the engine that
// orchestrates them over normalized activity events.
package detection

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// AlertType identifies the anomaly class of a security alert.
type AlertType string

const (
	AlertImpossibleTravel   AlertType = "impossible_travel"
	AlertNewDeviceOutRegion AlertType = "new_device_outside_allowed_region"
	AlertNewDeviceLogin     AlertType = "new_device_login"
	AlertPhishingShare      AlertType = "phishing_share"
	AlertGeoLookupFailure   AlertType = "geo_lookup_failure"
)

// Severity orders alerts for delivery policy. Informational alerts are
// recorded but never emailed.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// severityFor maps alert types onto their fixed severities.
func severityFor(t AlertType) Severity {
	switch t {
	case AlertImpossibleTravel, AlertNewDeviceOutRegion, AlertPhishingShare:
		return SeverityCritical
	case AlertGeoLookupFailure:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

// SecurityAlert is one raised anomaly, ready for persistence and delivery.
type SecurityAlert struct {
	ID            string
	Type          AlertType
	Severity      Severity
	Identity      string
	Summary       string
	Details       string
	SourceAddress string
	Location      string
	OccurredAt    time.Time
	CreatedAt     time.Time
}

// newAlert stamps identity, time, and severity onto a fresh alert.
func newAlert(t AlertType, identity, summary, details string, occurredAt time.Time) SecurityAlert {
	return SecurityAlert{
		ID:         uuid.NewString(),
		Type:       t,
		Severity:   severityFor(t),
		Identity:   identity,
		Summary:    summary,
		Details:    details,
		OccurredAt: occurredAt,
		CreatedAt:  time.Now().UTC(),
	}
}

// LocationRecord is one persisted login observation. Latitude and Longitude
// are nil when the source address did not resolve to a geographic point.
type LocationRecord struct {
	Identity      string
	LoginTime     time.Time
	SourceAddress string
	Latitude      *float64
	Longitude     *float64
	City          string
	Region        string
	Country       string
	EventName     string
}

// LocationHistory is the persistence contract the detectors rely on.
type LocationHistory interface {
	// Append stores one login observation. Rows are never mutated.
	Append(ctx context.Context, rec LocationRecord) error

	// LatestFor returns the most recent observation for an identity that
	// carries resolved coordinates, or nil when none exists.
	LatestFor(ctx context.Context, identity string) (*LocationRecord, error)
}

// AlertSink receives raised alerts for persistence and delivery.
type AlertSink interface {
	Raise(ctx context.Context, alert SecurityAlert) error
}

// NewDeviceSignal is an externally correlated hint that a login came from a
// device not previously seen for the identity.
type NewDeviceSignal struct {
	Identity    string
	Title       string
	Type        string
	IsNewDevice bool
	CreateTime  time.Time
}
