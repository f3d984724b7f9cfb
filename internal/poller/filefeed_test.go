// IdPWatch - Identity Provider Activity Monitoring and Anomaly Detection
// Copyright 2026 M. Reyes (mreyes-ops)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mreyes-ops/idpwatch

package poller

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestFeed(t *testing.T) *FileFeed {
	t.Helper()
	feed, err := NewFileFeed(t.TempDir(), zerolog.Nop())
	if err != nil {
		t.Fatalf("NewFileFeed() error: %v", err)
	}
	return feed
}

func writeSpool(t *testing.T, feed *FileFeed, sub, name, content string) string {
	t.Helper()
	path := filepath.Join(feed.dir, sub, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write spool file: %v", err)
	}
	return path
}

const loginBatch = `[
	{
		"id": {"time": "2026-08-20T14:30:00.000Z", "applicationName": "login"},
		"actor": {"email": "jdoe@school.edu"},
		"ipAddress": "203.0.113.7",
		"events": [{"name": "login_success"}]
	}
]`

func TestLoginsConsumesBatches(t *testing.T) {
	feed := newTestFeed(t)
	path := writeSpool(t, feed, "logins", "batch1.json", loginBatch)

	records, err := feed.Logins(context.Background(), time.Time{})
	if err != nil {
		t.Fatalf("Logins() error: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	if records[0].Actor.Email != "jdoe@school.edu" {
		t.Errorf("Actor.Email = %q", records[0].Actor.Email)
	}

	// The batch is consumed exactly once.
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("consumed batch file still present")
	}
	records, err = feed.Logins(context.Background(), time.Time{})
	if err != nil {
		t.Fatalf("second Logins() error: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("second read returned %d records, want 0", len(records))
	}
}

func TestBatchesReadInNameOrder(t *testing.T) {
	feed := newTestFeed(t)
	second := `[{"id": {"time": "2026-08-20T15:00:00.000Z", "applicationName": "login"}, "actor": {"email": "second@school.edu"}, "events": [{"name": "login_success"}]}]`
	writeSpool(t, feed, "logins", "b.json", second)
	writeSpool(t, feed, "logins", "a.json", loginBatch)

	records, err := feed.Logins(context.Background(), time.Time{})
	if err != nil {
		t.Fatalf("Logins() error: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if records[0].Actor.Email != "jdoe@school.edu" || records[1].Actor.Email != "second@school.edu" {
		t.Errorf("order = [%s, %s]", records[0].Actor.Email, records[1].Actor.Email)
	}
}

func TestUndecodableBatchIsSetAside(t *testing.T) {
	feed := newTestFeed(t)
	bad := writeSpool(t, feed, "logins", "bad.json", "{not json")
	writeSpool(t, feed, "logins", "good.json", loginBatch)

	records, err := feed.Logins(context.Background(), time.Time{})
	if err != nil {
		t.Fatalf("Logins() error: %v", err)
	}
	if len(records) != 1 {
		t.Errorf("got %d records, want 1 (the good batch)", len(records))
	}

	if _, err := os.Stat(bad + ".rejected"); err != nil {
		t.Errorf("rejected file not set aside: %v", err)
	}
	if _, err := os.Stat(bad); !os.IsNotExist(err) {
		t.Error("bad batch still in the queue")
	}
}

func TestSignalsCap(t *testing.T) {
	feed := newTestFeed(t)
	writeSpool(t, feed, "signals", "s.json", `[
		{"title": "New device sign in", "data": {"userEmail": "a@x.org"}},
		{"title": "New device sign in", "data": {"userEmail": "b@x.org"}},
		{"title": "New device sign in", "data": {"userEmail": "c@x.org"}}
	]`)

	signals, err := feed.Signals(context.Background(), time.Time{}, 2)
	if err != nil {
		t.Fatalf("Signals() error: %v", err)
	}
	if len(signals) != 2 {
		t.Errorf("got %d signals, want 2 (capped)", len(signals))
	}
}
