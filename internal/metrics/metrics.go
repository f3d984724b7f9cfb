// IdPWatch - Identity Provider Activity Monitoring and Anomaly Detection
// Copyright 2026 M. Reyes (mreyes-ops)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mreyes-ops/idpwatch

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus instrumentation for the detection pipeline:
// - Event intake and normalization outcomes
// - Geolocation outcomes by classification
// - Alerts raised by anomaly type
// - Store and email delivery health
// - Poll cycle timing

var (
	// Pipeline Metrics
	EventsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "idpwatch_events_processed_total",
			Help: "Total number of activity events processed",
		},
		[]string{"kind"}, // "login_success", "login_failure", "share", "unknown"
	)

	EventParseFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "idpwatch_event_parse_failures_total",
			Help: "Total number of events skipped due to normalization failures",
		},
		[]string{"reason"}, // "missing_identity", "bad_timestamp"
	)

	// Geolocation Metrics
	GeoResolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "idpwatch_geo_resolutions_total",
			Help: "Total number of source address geolocation attempts",
		},
		[]string{"classification"}, // "public", "private", "unresolved", "lookup_error"
	)

	// Detection Metrics
	AlertsRaised = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "idpwatch_alerts_raised_total",
			Help: "Total number of security alerts raised",
		},
		[]string{"type", "severity"},
	)

	TravelChecks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "idpwatch_travel_checks_total",
			Help: "Total number of impossible-travel evaluations",
		},
	)

	// Store Metrics
	StoreWriteDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "idpwatch_store_write_duration_seconds",
			Help:    "Duration of DuckDB writes in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"table"},
	)

	StoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "idpwatch_store_errors_total",
			Help: "Total number of DuckDB operation errors",
		},
		[]string{"operation", "table"},
	)

	RetentionPrunedRows = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "idpwatch_retention_pruned_rows_total",
			Help: "Total number of rows pruned by the retention job",
		},
	)

	// Delivery Metrics
	EmailDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "idpwatch_email_deliveries_total",
			Help: "Total number of alert email delivery attempts",
		},
		[]string{"status"}, // "sent", "failed", "rate_limited", "breaker_open"
	)

	// Poll Cycle Metrics
	PollCycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "idpwatch_poll_cycle_duration_seconds",
			Help:    "Duration of a full poll cycle in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	PollCycleErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "idpwatch_poll_cycle_errors_total",
			Help: "Total number of poll cycle errors by source feed",
		},
		[]string{"feed"}, // "login", "drive", "signals"
	)
)

// ObserveStoreWrite records the duration of a store write.
func ObserveStoreWrite(table string, start time.Time) {
	StoreWriteDuration.WithLabelValues(table).Observe(time.Since(start).Seconds())
}

// ObservePollCycle records the duration of a completed poll cycle.
func ObservePollCycle(start time.Time) {
	PollCycleDuration.Observe(time.Since(start).Seconds())
}
