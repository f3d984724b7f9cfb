// IdPWatch - Identity Provider Activity Monitoring and Anomaly Detection
// Copyright 2026 M. Reyes (mreyes-ops)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mreyes-ops/idpwatch

// Package store persists login history and alerts in an embedded DuckDB
// database. Rows are append-only; the retention job is the only deleter.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/rs/zerolog"

	"github.com/mreyes-ops/idpwatch/internal/config"
	"github.com/mreyes-ops/idpwatch/internal/detection"
	"github.com/mreyes-ops/idpwatch/internal/metrics"
)

// Store wraps the DuckDB connection.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

// Open opens (creating if needed) the database and ensures the schema.
func Open(cfg config.DatabaseConfig, logger zerolog.Logger) (*Store, error) {
	threads := cfg.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	maxMemory := cfg.MaxMemory
	if maxMemory == "" {
		maxMemory = "1GB"
	}

	connStr := fmt.Sprintf("%s?access_mode=read_write&threads=%d&max_memory=%s&autoinstall_known_extensions=false&autoload_known_extensions=false",
		cfg.Path, threads, maxMemory)

	db, err := sql.Open("duckdb", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// DuckDB is embedded; a single writer connection avoids lock contention.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, logger: logger}
	if err := s.ensureSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ensureSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS login_history (
			identity       VARCHAR NOT NULL,
			login_time     TIMESTAMP NOT NULL,
			source_address VARCHAR,
			latitude       DOUBLE,
			longitude      DOUBLE,
			city           VARCHAR,
			region         VARCHAR,
			country        VARCHAR,
			event_name     VARCHAR,
			recorded_at    TIMESTAMP DEFAULT current_timestamp
		)`,
		`CREATE TABLE IF NOT EXISTS security_alerts (
			id             VARCHAR PRIMARY KEY,
			alert_type     VARCHAR NOT NULL,
			severity       VARCHAR NOT NULL,
			identity       VARCHAR NOT NULL,
			summary        VARCHAR,
			details        VARCHAR,
			source_address VARCHAR,
			location       VARCHAR,
			occurred_at    TIMESTAMP,
			created_at     TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_login_history_identity
			ON login_history (identity, login_time)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to ensure schema: %w", err)
		}
	}
	return nil
}

// Append stores one login observation. Every processed login lands here,
// located or not; unlocated rows carry NULL coordinates.
func (s *Store) Append(ctx context.Context, rec detection.LocationRecord) error {
	start := time.Now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO login_history
			(identity, login_time, source_address, latitude, longitude, city, region, country, event_name)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Identity, rec.LoginTime, rec.SourceAddress,
		nullableFloat(rec.Latitude), nullableFloat(rec.Longitude),
		rec.City, rec.Region, rec.Country, rec.EventName)
	if err != nil {
		metrics.StoreErrors.WithLabelValues("insert", "login_history").Inc()
		return fmt.Errorf("failed to append login for %s: %w", rec.Identity, err)
	}
	metrics.ObserveStoreWrite("login_history", start)
	return nil
}

// LatestFor returns the most recent located login for an identity, or nil
// when the identity has no located history.
func (s *Store) LatestFor(ctx context.Context, identity string) (*detection.LocationRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT identity, login_time, source_address, latitude, longitude, city, region, country, event_name
		 FROM login_history
		 WHERE identity = ? AND latitude IS NOT NULL AND longitude IS NOT NULL
		 ORDER BY login_time DESC
		 LIMIT 1`,
		identity)

	var rec detection.LocationRecord
	var lat, lon sql.NullFloat64
	var source, city, region, country, eventName sql.NullString
	err := row.Scan(&rec.Identity, &rec.LoginTime, &source, &lat, &lon, &city, &region, &country, &eventName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		metrics.StoreErrors.WithLabelValues("select", "login_history").Inc()
		return nil, fmt.Errorf("failed to read latest login for %s: %w", identity, err)
	}

	rec.SourceAddress = source.String
	rec.City = city.String
	rec.Region = region.String
	rec.Country = country.String
	rec.EventName = eventName.String
	if lat.Valid && lon.Valid {
		rec.Latitude, rec.Longitude = &lat.Float64, &lon.Float64
	}
	return &rec, nil
}

// InsertSecurityAlert persists one raised alert.
func (s *Store) InsertSecurityAlert(ctx context.Context, a detection.SecurityAlert) error {
	start := time.Now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO security_alerts
			(id, alert_type, severity, identity, summary, details, source_address, location, occurred_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, string(a.Type), string(a.Severity), a.Identity,
		a.Summary, a.Details, a.SourceAddress, a.Location, a.OccurredAt, a.CreatedAt)
	if err != nil {
		metrics.StoreErrors.WithLabelValues("insert", "security_alerts").Inc()
		return fmt.Errorf("failed to persist alert %s: %w", a.ID, err)
	}
	metrics.ObserveStoreWrite("security_alerts", start)
	return nil
}

// CountLoginsBefore returns the number of login rows older than the cutoff.
func (s *Store) CountLoginsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM login_history WHERE login_time < ?`, cutoff).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count rows before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	return n, nil
}

// PruneOlderThan archives and deletes login rows older than the cutoff.
// When archiveDir is non-empty the rows are first copied to a Parquet file
// there; an archive failure aborts the prune so data is never dropped
// unarchived. Returns the number of rows deleted.
func (s *Store) PruneOlderThan(ctx context.Context, cutoff time.Time, archiveDir string) (int64, error) {
	n, err := s.CountLoginsBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}

	if archiveDir != "" {
		if err := s.archiveBefore(ctx, cutoff, archiveDir); err != nil {
			metrics.StoreErrors.WithLabelValues("archive", "login_history").Inc()
			return 0, fmt.Errorf("archive failed, prune aborted: %w", err)
		}
	}

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM login_history WHERE login_time < ?`, cutoff)
	if err != nil {
		metrics.StoreErrors.WithLabelValues("delete", "login_history").Inc()
		return 0, fmt.Errorf("failed to prune rows before %s: %w", cutoff.Format(time.RFC3339), err)
	}

	deleted, err := res.RowsAffected()
	if err != nil {
		deleted = n
	}
	metrics.RetentionPrunedRows.Add(float64(deleted))
	return deleted, nil
}

// archiveBefore copies aged rows to a timestamped Parquet file.
func (s *Store) archiveBefore(ctx context.Context, cutoff time.Time, archiveDir string) error {
	if err := os.MkdirAll(archiveDir, 0o750); err != nil {
		return fmt.Errorf("failed to create archive directory: %w", err)
	}

	name := fmt.Sprintf("login_history_%s.parquet", time.Now().UTC().Format("20060102T150405"))
	path := filepath.Join(archiveDir, name)

	// DuckDB COPY has no parameter binding for the file target; the path is
	// built locally from config, not user input.
	query := fmt.Sprintf(
		`COPY (SELECT * FROM login_history WHERE login_time < ?) TO '%s' (FORMAT 'parquet')`,
		path)
	if _, err := s.db.ExecContext(ctx, query, cutoff); err != nil {
		return fmt.Errorf("failed to archive to %s: %w", path, err)
	}

	s.logger.Info().Str("archive", path).Msg("aged login rows archived")
	return nil
}

func nullableFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}
