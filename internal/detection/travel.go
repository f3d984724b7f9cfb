// IdPWatch - Identity Provider Activity Monitoring and Anomaly Detection
// Copyright 2026 M. Reyes (mreyes-ops)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mreyes-ops/idpwatch

package detection

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/mreyes-ops/idpwatch/internal/geo"
	"github.com/mreyes-ops/idpwatch/internal/metrics"
)

// TravelAnomaly describes a login pair whose implied travel speed exceeds
// the configured threshold.
type TravelAnomaly struct {
	PrevLatitude  float64
	PrevLongitude float64
	PrevLocation  string
	PrevTime      time.Time
	CurrLatitude  float64
	CurrLongitude float64
	CurrLocation  string
	CurrTime      time.Time
	DistanceMiles float64
	SpeedMPH      float64
}

// TravelDetector flags logins whose distance from the identity's previous
// located login implies travel faster than the threshold speed. The cache
// is caller-owned and advisory; on a miss the detector falls back to the
// location history, which makes detection survive restarts.
type TravelDetector struct {
	thresholdMPH float64
	cache        *LastSeenCache
	history      LocationHistory
	logger       zerolog.Logger
}

// NewTravelDetector creates a detector with the given speed threshold in
// miles per hour.
func NewTravelDetector(thresholdMPH float64, cache *LastSeenCache, history LocationHistory, logger zerolog.Logger) *TravelDetector {
	return &TravelDetector{
		thresholdMPH: thresholdMPH,
		cache:        cache,
		history:      history,
		logger:       logger,
	}
}

// LastKnown returns the identity's previous located login, consulting the
// cache first and the history on a miss. A history read failure is logged
// and treated as no prior; the login is still processed.
func (d *TravelDetector) LastKnown(ctx context.Context, identity string) (LastSeen, bool) {
	if seen, ok := d.cache.Get(identity); ok {
		return seen, true
	}

	rec, err := d.history.LatestFor(ctx, identity)
	if err != nil {
		d.logger.Error().Err(err).Str("identity", identity).
			Msg("location history read failed, treating as first login")
		return LastSeen{}, false
	}
	if rec == nil || rec.Latitude == nil || rec.Longitude == nil {
		return LastSeen{}, false
	}

	seen := LastSeen{
		Latitude:  *rec.Latitude,
		Longitude: *rec.Longitude,
		Timestamp: rec.LoginTime,
		Location:  locationLabel(rec.City, rec.Region, rec.Country),
	}
	return seen, true
}

// Check evaluates one located login against the previous observation.
// It returns nil when no anomaly is present. Zero or negative elapsed time
// (out-of-order or replayed events) never produces an anomaly.
func (d *TravelDetector) Check(identity string, prev LastSeen, point geo.Point, ts time.Time) *TravelAnomaly {
	metrics.TravelChecks.Inc()

	elapsed := ts.Sub(prev.Timestamp)
	if elapsed <= 0 {
		return nil
	}

	distance := geo.Distance(prev.Latitude, prev.Longitude, point.Latitude, point.Longitude)
	speed := distance / elapsed.Hours()
	if speed <= d.thresholdMPH {
		return nil
	}

	d.logger.Warn().
		Str("identity", identity).
		Float64("distance_miles", distance).
		Float64("speed_mph", speed).
		Float64("threshold_mph", d.thresholdMPH).
		Msg("impossible travel detected")

	return &TravelAnomaly{
		PrevLatitude:  prev.Latitude,
		PrevLongitude: prev.Longitude,
		PrevLocation:  prev.Location,
		PrevTime:      prev.Timestamp,
		CurrLatitude:  point.Latitude,
		CurrLongitude: point.Longitude,
		CurrLocation:  point.Describe(),
		CurrTime:      ts,
		DistanceMiles: distance,
		SpeedMPH:      speed,
	}
}

// Observe updates the cache with a located login. The entry is overwritten
// regardless of whether the check fired, so a stolen-credential burst is
// measured hop to hop rather than against a stale origin.
func (d *TravelDetector) Observe(identity string, point geo.Point, ts time.Time) {
	if !point.Located {
		return
	}
	d.cache.Put(identity, LastSeen{
		Latitude:  point.Latitude,
		Longitude: point.Longitude,
		Timestamp: ts,
		Location:  point.Describe(),
	})
}

// locationLabel mirrors geo.Point.Describe for history rows.
func locationLabel(city, region, country string) string {
	label := ""
	for _, s := range []string{city, region, country} {
		if s == "" {
			continue
		}
		if label != "" {
			label += ", "
		}
		label += s
	}
	return label
}
