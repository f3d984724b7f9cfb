// IdPWatch - Identity Provider Activity Monitoring and Anomaly Detection
// Copyright 2026 M. Reyes (mreyes-ops)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mreyes-ops/idpwatch

package poller

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/mreyes-ops/idpwatch/internal/activity"
	"github.com/mreyes-ops/idpwatch/internal/config"
	"github.com/mreyes-ops/idpwatch/internal/detection"
	"github.com/mreyes-ops/idpwatch/internal/geo"
	"github.com/mreyes-ops/idpwatch/internal/sharing"
)

type stubResolver struct{}

func (stubResolver) Resolve(_ string) geo.Point {
	return geo.Point{
		Classification: geo.ClassPublic, Located: true,
		Latitude: 38.9, Longitude: -77.5, Region: "Virginia",
	}
}

type stubHistory struct {
	appended []detection.LocationRecord
}

func (s *stubHistory) Append(_ context.Context, rec detection.LocationRecord) error {
	s.appended = append(s.appended, rec)
	return nil
}

func (s *stubHistory) LatestFor(_ context.Context, _ string) (*detection.LocationRecord, error) {
	return nil, nil
}

type stubSink struct {
	alerts []detection.SecurityAlert
}

func (s *stubSink) Raise(_ context.Context, a detection.SecurityAlert) error {
	s.alerts = append(s.alerts, a)
	return nil
}

type stubFeed struct {
	logins    []activity.Record
	shares    []activity.Record
	loginsErr error
	sharesErr error
}

func (f *stubFeed) Logins(_ context.Context, _ time.Time) ([]activity.Record, error) {
	return f.logins, f.loginsErr
}

func (f *stubFeed) Shares(_ context.Context, _ time.Time) ([]activity.Record, error) {
	return f.shares, f.sharesErr
}

type stubSignals struct {
	raw []RawSignal
	err error
}

func (s *stubSignals) Signals(_ context.Context, _ time.Time, _ int) ([]RawSignal, error) {
	return s.raw, s.err
}

func newTestEngine(history *stubHistory, sink *stubSink) *detection.Engine {
	cache := detection.NewLastSeenCache()
	travel := detection.NewTravelDetector(500, cache, history, zerolog.Nop())
	policy := detection.NewDevicePolicy(true, []string{"VA", "Virginia"})
	scorer := sharing.NewScorer("school.edu", config.PhishingConfig{
		PublicSharingMarkers: []string{"anyone"},
	})
	return detection.NewEngine(stubResolver{}, history, sink, travel, policy, scorer, zerolog.Nop())
}

func loginRec(email string) activity.Record {
	return activity.Record{
		ID:        activity.Envelope{Time: "2026-08-20T12:00:00.000Z", ApplicationName: "login"},
		Actor:     activity.Actor{Email: email},
		IPAddress: "203.0.113.7",
		Events:    []activity.SubEvent{{Name: "login_success"}},
	}
}

func TestRunCycleProcessesFeeds(t *testing.T) {
	history := &stubHistory{}
	sink := &stubSink{}
	feed := &stubFeed{
		logins: []activity.Record{loginRec("jdoe@school.edu"), loginRec("asmith@school.edu")},
		shares: []activity.Record{{
			ID:    activity.Envelope{Time: "2026-08-20T12:05:00.000Z", ApplicationName: "drive"},
			Actor: activity.Actor{Email: "jdoe@school.edu"},
			Events: []activity.SubEvent{{
				Name: "change_document_visibility",
				Parameters: []activity.Parameter{
					{Name: "new_value", Value: "anyone"},
					{Name: "owner_domain", Value: "attacker.net"},
				},
			}},
		}},
	}

	p := New(newTestEngine(history, sink), feed, nil, time.Minute, 50, zerolog.Nop())
	p.runCycle(context.Background())

	if len(history.appended) != 2 {
		t.Errorf("appended %d login rows, want 2", len(history.appended))
	}
	// The external public share raises a phishing alert.
	found := false
	for _, a := range sink.alerts {
		if a.Type == detection.AlertPhishingShare {
			found = true
		}
	}
	if !found {
		t.Errorf("no phishing alert raised; alerts: %+v", sink.alerts)
	}
}

func TestRunCycleCorrelatesSignals(t *testing.T) {
	history := &stubHistory{}
	sink := &stubSink{}
	feed := &stubFeed{logins: []activity.Record{loginRec("jdoe@school.edu")}}
	signals := &stubSignals{raw: []RawSignal{{
		Title: "New device sign in",
		Data:  map[string]string{"userEmail": "jdoe@school.edu"},
	}}}

	p := New(newTestEngine(history, sink), feed, signals, time.Minute, 50, zerolog.Nop())
	p.runCycle(context.Background())

	// Virginia is in the allow list and the identity has no history, so the
	// signal produces no alert; the point is that processing consumed the
	// signal without error and recorded the login.
	if len(history.appended) != 1 {
		t.Errorf("appended %d rows, want 1", len(history.appended))
	}
	for _, a := range sink.alerts {
		if a.Type == detection.AlertNewDeviceOutRegion {
			t.Errorf("in-region new device alerted: %+v", a)
		}
	}
}

func TestRunCycleFeedErrorsAreIsolated(t *testing.T) {
	history := &stubHistory{}
	sink := &stubSink{}
	feed := &stubFeed{
		loginsErr: errors.New("api quota exceeded"),
		shares: []activity.Record{{
			ID:    activity.Envelope{Time: "2026-08-20T12:05:00.000Z", ApplicationName: "drive"},
			Actor: activity.Actor{Email: "jdoe@school.edu"},
			Events: []activity.SubEvent{{
				Name: "change_document_visibility",
				Parameters: []activity.Parameter{
					{Name: "new_value", Value: "anyone"},
					{Name: "owner_domain", Value: "attacker.net"},
				},
			}},
		}},
	}

	p := New(newTestEngine(history, sink), feed, &stubSignals{err: errors.New("alert center down")}, time.Minute, 50, zerolog.Nop())
	p.runCycle(context.Background())

	// Login feed and signal feed both failed; the share feed still ran.
	found := false
	for _, a := range sink.alerts {
		if a.Type == detection.AlertPhishingShare {
			found = true
		}
	}
	if !found {
		t.Error("share processing skipped after sibling feed failures")
	}
}

func TestServeStopsOnContextCancel(t *testing.T) {
	p := New(newTestEngine(&stubHistory{}, &stubSink{}), &stubFeed{}, nil, 50*time.Millisecond, 50, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Serve(ctx) }()

	time.Sleep(120 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve() = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve() did not return after cancel")
	}
}
