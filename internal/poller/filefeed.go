// IdPWatch - Identity Provider Activity Monitoring and Anomaly Detection
// Copyright 2026 M. Reyes (mreyes-ops)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mreyes-ops/idpwatch

package poller

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/mreyes-ops/idpwatch/internal/activity"
)

// FileFeed reads activity batches from a spool directory. A collector
// (outside this process) writes JSON files into logins/, shares/, and
// signals/ subdirectories; each file holds one JSON array. Files are
// deleted after a successful read, so every batch is consumed once.
//
// FileFeed implements both ActivityFeed and SignalFeed.
type FileFeed struct {
	dir    string
	logger zerolog.Logger
}

// NewFileFeed creates a feed over the given spool directory, creating the
// subdirectories if needed.
func NewFileFeed(dir string, logger zerolog.Logger) (*FileFeed, error) {
	for _, sub := range []string{"logins", "shares", "signals"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o750); err != nil {
			return nil, fmt.Errorf("failed to create spool directory: %w", err)
		}
	}
	return &FileFeed{dir: dir, logger: logger}, nil
}

// Logins consumes queued login batches.
func (f *FileFeed) Logins(ctx context.Context, _ time.Time) ([]activity.Record, error) {
	return f.consumeRecords(ctx, "logins")
}

// Shares consumes queued sharing batches.
func (f *FileFeed) Shares(ctx context.Context, _ time.Time) ([]activity.Record, error) {
	return f.consumeRecords(ctx, "shares")
}

// Signals consumes queued alert-center batches, capped at max items.
func (f *FileFeed) Signals(ctx context.Context, _ time.Time, max int) ([]RawSignal, error) {
	var all []RawSignal
	err := f.consumeFiles(ctx, "signals", func(data []byte) error {
		var batch []RawSignal
		if err := json.Unmarshal(data, &batch); err != nil {
			return err
		}
		all = append(all, batch...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if max > 0 && len(all) > max {
		all = all[:max]
	}
	return all, nil
}

func (f *FileFeed) consumeRecords(ctx context.Context, sub string) ([]activity.Record, error) {
	var all []activity.Record
	err := f.consumeFiles(ctx, sub, func(data []byte) error {
		batch, err := activity.ParseRecords(data)
		if err != nil {
			return err
		}
		all = append(all, batch...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return all, nil
}

// consumeFiles reads every .json file in a spool subdirectory in name
// order, applies decode, and deletes the file on success. A file that
// fails to decode is renamed aside with a .rejected suffix so one bad
// batch cannot wedge the queue.
func (f *FileFeed) consumeFiles(ctx context.Context, sub string, decode func([]byte) error) error {
	paths, err := filepath.Glob(filepath.Join(f.dir, sub, "*.json"))
	if err != nil {
		return fmt.Errorf("failed to list spool %s: %w", sub, err)
	}
	sort.Strings(paths)

	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return err
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}

		if err := decode(data); err != nil {
			rejected := path + ".rejected"
			f.logger.Error().Err(err).
				Str("file", path).
				Str("moved_to", rejected).
				Msg("undecodable spool batch set aside")
			if renameErr := os.Rename(path, rejected); renameErr != nil {
				return fmt.Errorf("failed to set aside %s: %w", path, renameErr)
			}
			continue
		}

		if err := os.Remove(path); err != nil {
			return fmt.Errorf("failed to remove consumed batch %s: %w", path, err)
		}
	}
	return nil
}
