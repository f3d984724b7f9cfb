// IdPWatch - Identity Provider Activity Monitoring and Anomaly Detection
// Copyright 2026 M. Reyes (mreyes-ops)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mreyes-ops/idpwatch

// Package geo resolves network source addresses to geographic points using
// a local MaxMind-format database and computes great-circle distances.
package geo

import (
	"fmt"
	"net"
	"strings"

	"github.com/oschwald/geoip2-golang"

	"github.com/mreyes-ops/idpwatch/internal/metrics"
)

// Classification describes the outcome of resolving a source address.
type Classification string

const (
	// ClassPublic means the address resolved to a usable geographic point.
	ClassPublic Classification = "public"

	// ClassPrivate means the address is in a private/loopback range.
	// Private addresses are never looked up and never alert.
	ClassPrivate Classification = "private"

	// ClassUnresolved means no address was present or the database had no
	// location data for it. Unresolved addresses never alert.
	ClassUnresolved Classification = "unresolved"

	// ClassLookupError means the lookup itself failed. This classification
	// is alertable; Err carries the detail.
	ClassLookupError Classification = "lookup_error"
)

// Point is the result of a geolocation attempt. Latitude and Longitude are
// only meaningful when Located is true.
type Point struct {
	Classification Classification
	Located        bool
	Latitude       float64
	Longitude      float64
	City           string
	Region         string
	Country        string

	// Err holds lookup failure detail when Classification is ClassLookupError.
	Err error
}

// privatePrefixes are address prefixes treated as internal networks.
// Matching is a textual prefix test, mirroring how the upstream feed
// presents addresses.
var privatePrefixes = []string{
	"10.", "192.168.", "127.",
	"172.16.", "172.17.", "172.18.", "172.19.", "172.20.",
}

// Resolver resolves addresses against a MaxMind city database.
// The reader is opened once at construction and is safe for concurrent use.
type Resolver struct {
	reader *geoip2.Reader
}

// NewResolver opens the city database at dbPath.
func NewResolver(dbPath string) (*Resolver, error) {
	reader, err := geoip2.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open geo database %s: %w", dbPath, err)
	}
	return &Resolver{reader: reader}, nil
}

// Close releases the database reader.
func (r *Resolver) Close() error {
	return r.reader.Close()
}

// Resolve classifies and geolocates a source address. It never returns an
// error; failures are expressed through the Classification so callers can
// apply per-class policy (alert on lookup errors, ignore private ranges).
func (r *Resolver) Resolve(address string) Point {
	point := r.resolve(address)
	metrics.GeoResolutions.WithLabelValues(string(point.Classification)).Inc()
	return point
}

func (r *Resolver) resolve(address string) Point {
	address = strings.TrimSpace(address)
	if address == "" {
		return Point{Classification: ClassUnresolved}
	}

	if isPrivate(address) {
		return Point{Classification: ClassPrivate}
	}

	ip := net.ParseIP(address)
	if ip == nil {
		return Point{
			Classification: ClassLookupError,
			Err:            fmt.Errorf("invalid source address %q", address),
		}
	}

	record, err := r.reader.City(ip)
	if err != nil {
		return Point{
			Classification: ClassLookupError,
			Err:            fmt.Errorf("city lookup for %s: %w", address, err),
		}
	}
	return pointFromRecord(record)
}

// pointFromRecord classifies a database record. The database returns a
// zero record, not an error, for addresses it has no data for, and can
// return a country with no coordinates; either way there is no point to
// measure travel against, so the address is unresolved.
func pointFromRecord(record *geoip2.City) Point {
	if record.Location.Latitude == 0 && record.Location.Longitude == 0 {
		return Point{Classification: ClassUnresolved}
	}

	point := Point{
		Classification: ClassPublic,
		Located:        true,
		Latitude:       record.Location.Latitude,
		Longitude:      record.Location.Longitude,
		City:           record.City.Names["en"],
		Country:        record.Country.Names["en"],
	}
	if len(record.Subdivisions) > 0 {
		point.Region = record.Subdivisions[0].Names["en"]
	}
	return point
}

// isPrivate reports whether an address falls in one of the masked
// internal-network prefixes.
func isPrivate(address string) bool {
	for _, prefix := range privatePrefixes {
		if strings.HasPrefix(address, prefix) {
			return true
		}
	}
	return false
}

// Describe renders a point as a short human-readable location string for
// alert bodies. Unlocated points render as their classification.
func (p Point) Describe() string {
	if !p.Located {
		return string(p.Classification)
	}
	parts := make([]string, 0, 3)
	for _, s := range []string{p.City, p.Region, p.Country} {
		if s != "" {
			parts = append(parts, s)
		}
	}
	if len(parts) == 0 {
		return fmt.Sprintf("%.4f,%.4f", p.Latitude, p.Longitude)
	}
	return strings.Join(parts, ", ")
}
