// IdPWatch - Identity Provider Activity Monitoring and Anomaly Detection
// Copyright 2026 M. Reyes (mreyes-ops)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mreyes-ops/idpwatch

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in order
// of priority. The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/idpwatch/config.yaml",
	"/etc/idpwatch/config.yml",
}

// ConfigPathEnvVar is the environment variable that can override the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config struct with all default values.
// These defaults are applied first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Workspace: WorkspaceConfig{
			Domain:         "",
			PollInterval:   10 * time.Minute,
			SpoolDir:       "/data/spool",
			UseAlertCenter: true,
			MaxAlerts:      50,
		},
		Geo: GeoConfig{
			DBPath: "/data/GeoLite2-City.mmdb",
		},
		Travel: TravelConfig{
			ThresholdMPH: 500,
		},
		Device: DeviceConfig{
			RegionCheckEnabled: true,
			AllowedRegions:     []string{"VA", "Virginia"},
		},
		Phishing: PhishingConfig{
			PublicSharingMarkers: []string{
				"anyoneWithLink", "anyone_with_link", "anyone",
				"public", "anyoneWithTheLink", "anyone_with_the_link",
			},
			ImpersonationKeywords: []string{
				"superintendent", "principal", "superintendant", "prinicipal",
			},
			LeadershipKeywords: []string{
				"finance", "hr", "human resources", "chief", "director", "executive",
			},
			SuspiciousExtensions: []string{
				".exe", ".scr", ".bat", ".zip", ".js", ".vbs", ".cmd",
			},
		},
		Alerts: AlertsConfig{
			EnableEmail:   false, // Opt-in - alerts are always persisted regardless
			SubjectPrefix: "[IdPWatch]",
			Recipient:     "",
			SMTPHost:      "",
			SMTPPort:      587,
			SMTPUser:      "",
			SMTPPassword:  "",
			SMTPFrom:      "",
			UseTLS:        true,
			RatePerMinute: 10,
		},
		Database: DatabaseConfig{
			Path:      "/data/idpwatch.duckdb",
			MaxMemory: "1GB",
			Threads:   0, // 0 = use runtime.NumCPU()
		},
		Retention: RetentionConfig{
			Enabled:    true,
			Days:       90,
			ArchiveDir: "/data/archive",
			Schedule:   "0 3 * * *", // daily at 03:00
		},
		Metrics: MetricsConfig{
			Enabled:    true,
			ListenAddr: ":9090",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// LoadWithKoanf loads configuration using Koanf v2 with layered sources:
//  1. Defaults: Built-in sensible defaults
//  2. Config File: Optional YAML config file (if exists)
//  3. Environment Variables: Override any setting
//
// Precedence is ENV > File > Defaults. The result is validated before return.
func LoadWithKoanf() (*Config, error) {
	k := koanf.New(".")

	// Layer 1: Load defaults from struct
	defaults := defaultConfig()
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// Layer 2: Load config file (optional)
	configPath := findConfigFile()
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Layer 3: Load environment variables (highest priority)
	// Transform environment variable names to koanf paths:
	// WORKSPACE_DOMAIN -> workspace.domain
	// TRAVEL_THRESHOLD_MPH -> travel.threshold_mph
	envProvider := env.Provider("", ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	// Post-process slice fields from comma-separated strings
	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile searches for a config file in the default paths.
// Returns the path to the first file found, or empty string if none found.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// sliceConfigPaths defines which config paths should be parsed as comma-separated slices
var sliceConfigPaths = []string{
	"device.allowed_regions",
	"phishing.public_sharing_markers",
	"phishing.impersonation_keywords",
	"phishing.leadership_keywords",
	"phishing.suspicious_extensions",
}

// processSliceFields converts comma-separated string values to slices for known slice fields.
// This is necessary because env vars come in as strings, but the config expects slices.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}

		// If it's already a slice (from YAML file), skip
		if _, ok := val.([]interface{}); ok {
			continue
		}
		if _, ok := val.([]string); ok {
			continue
		}

		if strVal, ok := val.(string); ok {
			if strVal == "" {
				continue
			}
			parts := strings.Split(strVal, ",")
			trimmed := make([]string, 0, len(parts))
			for _, p := range parts {
				p = strings.TrimSpace(p)
				if p != "" {
					trimmed = append(trimmed, p)
				}
			}
			if len(trimmed) > 0 {
				if err := k.Set(path, trimmed); err != nil {
					return fmt.Errorf("failed to set %s: %w", path, err)
				}
			}
		}
	}
	return nil
}

// envTransformFunc transforms environment variable names to koanf config paths.
//
// Examples:
//   - WORKSPACE_DOMAIN -> workspace.domain
//   - GEO_DB_PATH -> geo.db_path
//   - ALERT_SMTP_HOST -> alerts.smtp_host
//   - DUCKDB_PATH -> database.path
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	envMappings := map[string]string{
		// Workspace mappings
		"workspace_domain":     "workspace.domain",
		"poll_interval":        "workspace.poll_interval",
		"spool_dir":            "workspace.spool_dir",
		"use_alert_center":     "workspace.use_alert_center",
		"workspace_max_alerts": "workspace.max_alerts",

		// Geo mappings
		"geo_db_path": "geo.db_path",

		// Detection mappings
		"travel_threshold_mph": "travel.threshold_mph",
		"region_check_enabled": "device.region_check_enabled",
		"allowed_regions":      "device.allowed_regions",

		// Phishing mappings
		"public_sharing_markers": "phishing.public_sharing_markers",
		"impersonation_keywords": "phishing.impersonation_keywords",
		"leadership_keywords":    "phishing.leadership_keywords",
		"suspicious_extensions":  "phishing.suspicious_extensions",

		// Alert delivery mappings
		"enable_email_alerts":   "alerts.enable_email",
		"alert_subject_prefix":  "alerts.subject_prefix",
		"alert_recipient":       "alerts.recipient",
		"alert_smtp_host":       "alerts.smtp_host",
		"alert_smtp_port":       "alerts.smtp_port",
		"alert_smtp_user":       "alerts.smtp_user",
		"alert_smtp_password":   "alerts.smtp_password",
		"alert_smtp_from":       "alerts.smtp_from",
		"alert_smtp_tls":        "alerts.use_tls",
		"alert_rate_per_minute": "alerts.rate_per_minute",

		// Database mappings
		"duckdb_path":       "database.path",
		"duckdb_max_memory": "database.max_memory",
		"duckdb_threads":    "database.threads",

		// Retention mappings
		"retention_enabled":     "retention.enabled",
		"retention_days":        "retention.days",
		"retention_archive_dir": "retention.archive_dir",
		"retention_schedule":    "retention.schedule",

		// Metrics mappings
		"metrics_enabled":     "metrics.enabled",
		"metrics_listen_addr": "metrics.listen_addr",

		// Logging mappings
		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}

	// For unmapped keys, return empty string to skip them.
	// This prevents random environment variables from polluting config.
	return ""
}
