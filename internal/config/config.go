// IdPWatch - Identity Provider Activity Monitoring and Anomaly Detection
// Copyright 2026 M. Reyes (mreyes-ops)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mreyes-ops/idpwatch

// Package config defines the IdPWatch configuration model.
//
// Configuration is a single immutable value assembled once at startup from
// layered sources (defaults, optional YAML file, environment variables) and
// validated before any component sees it. Components receive the sections
// they need by value; nothing re-reads global state at runtime.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for the agent.
type Config struct {
	Workspace WorkspaceConfig `koanf:"workspace"`
	Geo       GeoConfig       `koanf:"geo"`
	Travel    TravelConfig    `koanf:"travel"`
	Device    DeviceConfig    `koanf:"device"`
	Phishing  PhishingConfig  `koanf:"phishing"`
	Alerts    AlertsConfig    `koanf:"alerts"`
	Database  DatabaseConfig  `koanf:"database"`
	Retention RetentionConfig `koanf:"retention"`
	Metrics   MetricsConfig   `koanf:"metrics"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// WorkspaceConfig describes the monitored identity-provider tenant.
type WorkspaceConfig struct {
	// Domain is the organization's primary domain. Owners whose domain does
	// not contain this string are treated as external.
	Domain string `koanf:"domain"`

	// PollInterval is how often the activity feeds are queried.
	PollInterval time.Duration `koanf:"poll_interval"`

	// SpoolDir is where the collector drops activity batches for pickup.
	// Subdirectories logins/, shares/, and signals/ each hold JSON files.
	SpoolDir string `koanf:"spool_dir"`

	// UseAlertCenter enables correlation with the provider's alert-center
	// feed (the source of new-device signals).
	UseAlertCenter bool `koanf:"use_alert_center"`

	// MaxAlerts is the page size for alert-center queries.
	MaxAlerts int `koanf:"max_alerts"`
}

// GeoConfig configures network-address geolocation.
type GeoConfig struct {
	// DBPath is the path to a MaxMind-format city database file.
	DBPath string `koanf:"db_path"`
}

// TravelConfig configures the impossible-travel detector.
type TravelConfig struct {
	// ThresholdMPH is the implied travel speed above which a login pair is
	// flagged. The default of 500 mph is faster than commercial air travel.
	ThresholdMPH float64 `koanf:"threshold_mph"`
}

// DeviceConfig configures the new-device region policy.
type DeviceConfig struct {
	// RegionCheckEnabled toggles the allow-list check. When disabled,
	// new-device logins are still recorded informationally.
	RegionCheckEnabled bool `koanf:"region_check_enabled"`

	// AllowedRegions are region names treated as home. Matching is a
	// case-insensitive substring test against the resolved region.
	AllowedRegions []string `koanf:"allowed_regions"`
}

// PhishingConfig configures the sharing risk scorer.
type PhishingConfig struct {
	// PublicSharingMarkers are visibility values that mean "anyone with
	// the link" (case-insensitive substring match).
	PublicSharingMarkers []string `koanf:"public_sharing_markers"`

	// ImpersonationKeywords are high-priority leadership title markers.
	ImpersonationKeywords []string `koanf:"impersonation_keywords"`

	// LeadershipKeywords are medium-priority leadership-adjacent markers.
	LeadershipKeywords []string `koanf:"leadership_keywords"`

	// SuspiciousExtensions are file-title markers for executable payloads.
	SuspiciousExtensions []string `koanf:"suspicious_extensions"`
}

// AlertsConfig configures alert delivery.
type AlertsConfig struct {
	// EnableEmail toggles SMTP delivery. Alerts are always persisted.
	EnableEmail bool `koanf:"enable_email"`

	// SubjectPrefix is prepended to every alert subject.
	SubjectPrefix string `koanf:"subject_prefix"`

	// Recipient is the address alert mail is sent to.
	Recipient string `koanf:"recipient"`

	SMTPHost     string `koanf:"smtp_host"`
	SMTPPort     int    `koanf:"smtp_port"`
	SMTPUser     string `koanf:"smtp_user"`
	SMTPPassword string `koanf:"smtp_password"`
	SMTPFrom     string `koanf:"smtp_from"`
	UseTLS       bool   `koanf:"use_tls"`

	// RatePerMinute caps outbound alert mail to protect the relay.
	RatePerMinute int `koanf:"rate_per_minute"`
}

// DatabaseConfig configures the embedded DuckDB store.
type DatabaseConfig struct {
	// Path is the database file. ":memory:" is accepted for tests.
	Path string `koanf:"path"`

	// MaxMemory is DuckDB's memory ceiling (e.g. "1GB").
	MaxMemory string `koanf:"max_memory"`

	// Threads is the DuckDB thread count. 0 means runtime.NumCPU().
	Threads int `koanf:"threads"`
}

// RetentionConfig configures the prune/archive job.
type RetentionConfig struct {
	Enabled bool `koanf:"enabled"`

	// Days is the retention window; rows older than this are archived
	// and deleted.
	Days int `koanf:"days"`

	// ArchiveDir receives Parquet archives before deletion. Empty disables
	// archiving (prune proceeds without it).
	ArchiveDir string `koanf:"archive_dir"`

	// Schedule is a cron expression for when the job runs.
	Schedule string `koanf:"schedule"`
}

// MetricsConfig configures the Prometheus scrape endpoint.
type MetricsConfig struct {
	Enabled bool `koanf:"enabled"`

	// ListenAddr is the address the /metrics endpoint binds to.
	ListenAddr string `koanf:"listen_addr"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// Validate checks that required configuration is present and valid.
func (c *Config) Validate() error {
	if c.Workspace.Domain == "" {
		return fmt.Errorf("WORKSPACE_DOMAIN is required")
	}
	if c.Workspace.PollInterval <= 0 {
		return fmt.Errorf("workspace.poll_interval must be positive")
	}
	if c.Workspace.SpoolDir == "" {
		return fmt.Errorf("workspace.spool_dir is required")
	}
	if c.Geo.DBPath == "" {
		return fmt.Errorf("GEO_DB_PATH is required")
	}
	if c.Travel.ThresholdMPH <= 0 {
		return fmt.Errorf("travel.threshold_mph must be positive")
	}
	if c.Device.RegionCheckEnabled && len(c.Device.AllowedRegions) == 0 {
		return fmt.Errorf("device.allowed_regions must be non-empty when region check is enabled")
	}
	if err := c.validateAlerts(); err != nil {
		return err
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Retention.Enabled && c.Retention.Days <= 0 {
		return fmt.Errorf("retention.days must be positive when retention is enabled")
	}
	if c.Metrics.Enabled && c.Metrics.ListenAddr == "" {
		return fmt.Errorf("METRICS_LISTEN_ADDR is required when metrics are enabled")
	}
	return c.validateLogging()
}

// validateAlerts validates SMTP settings, which are only required when
// email delivery is enabled.
func (c *Config) validateAlerts() error {
	if !c.Alerts.EnableEmail {
		return nil
	}
	if c.Alerts.SMTPHost == "" {
		return fmt.Errorf("ALERT_SMTP_HOST is required when email alerts are enabled")
	}
	if c.Alerts.SMTPPort <= 0 || c.Alerts.SMTPPort > 65535 {
		return fmt.Errorf("alerts.smtp_port must be between 1 and 65535")
	}
	if c.Alerts.SMTPFrom == "" {
		return fmt.Errorf("ALERT_SMTP_FROM is required when email alerts are enabled")
	}
	if c.Alerts.Recipient == "" {
		return fmt.Errorf("ALERT_RECIPIENT is required when email alerts are enabled")
	}
	return nil
}

// validateLogging validates log settings.
func (c *Config) validateLogging() error {
	switch c.Logging.Level {
	case "", "trace", "debug", "info", "warn", "warning", "error", "fatal", "disabled":
	default:
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "", "json", "console":
	default:
		return fmt.Errorf("invalid log format: %s (must be json or console)", c.Logging.Format)
	}
	return nil
}
