// IdPWatch - Identity Provider Activity Monitoring and Anomaly Detection
// Copyright 2026 M. Reyes (mreyes-ops)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mreyes-ops/idpwatch

package activity

import (
	"fmt"
	"strings"
	"time"
)

// TimestampLayout is the provider's activity timestamp format. Parsing is
// strict; records with any other shape are rejected.
const TimestampLayout = "2006-01-02T15:04:05.999Z"

// Kind classifies a normalized event for routing in the pipeline.
type Kind string

const (
	KindLoginSuccess Kind = "login_success"
	KindLoginFailure Kind = "login_failure"
	KindShare        Kind = "share"
	KindUnknown      Kind = "unknown"
)

// failureMarkers flag a login-family event name as a failed attempt.
var failureMarkers = []string{"failure", "denied", "blocked"}

// Event is one normalized activity event, ready for detection.
type Event struct {
	Identity      string
	Timestamp     time.Time
	SourceAddress string
	Application   string
	Name          string
	Kind          Kind
	Params        map[string]ParamValue
}

// ParseReason classifies why a record could not be normalized.
type ParseReason string

const (
	ReasonMissingIdentity ParseReason = "missing_identity"
	ReasonBadTimestamp    ParseReason = "bad_timestamp"
)

// ParseError reports a record that could not be normalized. The record is
// skipped; the batch continues.
type ParseError struct {
	Reason ParseReason
	Detail string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("record rejected (%s): %s", e.Reason, e.Detail)
}

// Normalize converts one raw record into normalized events, one per
// sub-event. A record without an actor email or with an unparseable
// timestamp is rejected whole with a *ParseError. A record carrying no
// sub-events still yields one event built from the record-level fields,
// so the login is recorded rather than silently dropped.
//
// Parameter maps merge the record's top-level parameters with each
// sub-event's own; on a name collision the top-level value wins.
func Normalize(rec *Record) ([]Event, error) {
	identity := strings.TrimSpace(rec.Actor.Email)
	if identity == "" {
		return nil, &ParseError{
			Reason: ReasonMissingIdentity,
			Detail: fmt.Sprintf("no actor email (application=%s)", rec.ID.ApplicationName),
		}
	}

	if rec.ID.Time == "" {
		return nil, &ParseError{
			Reason: ReasonBadTimestamp,
			Detail: fmt.Sprintf("no timestamp (identity=%s)", identity),
		}
	}
	ts, err := time.Parse(TimestampLayout, rec.ID.Time)
	if err != nil {
		return nil, &ParseError{
			Reason: ReasonBadTimestamp,
			Detail: fmt.Sprintf("bad timestamp %q (identity=%s)", rec.ID.Time, identity),
		}
	}

	if len(rec.Events) == 0 {
		params := mergeParams(rec.Parameters, nil)
		return []Event{{
			Identity:      identity,
			Timestamp:     ts,
			SourceAddress: sourceAddress(rec, params),
			Application:   rec.ID.ApplicationName,
			Kind:          classify(rec.ID.ApplicationName, ""),
			Params:        params,
		}}, nil
	}

	events := make([]Event, 0, len(rec.Events))
	for i := range rec.Events {
		sub := &rec.Events[i]
		params := mergeParams(rec.Parameters, sub.Parameters)
		events = append(events, Event{
			Identity:      identity,
			Timestamp:     ts,
			SourceAddress: sourceAddress(rec, params),
			Application:   rec.ID.ApplicationName,
			Name:          sub.Name,
			Kind:          classify(rec.ID.ApplicationName, sub.Name),
			Params:        params,
		})
	}
	return events, nil
}

// mergeParams builds the event parameter map. Top-level parameters are
// applied first and win on collision; within each list the first occurrence
// of a name wins.
func mergeParams(topLevel, nested []Parameter) map[string]ParamValue {
	params := make(map[string]ParamValue, len(topLevel)+len(nested))
	for _, p := range topLevel {
		if _, seen := params[p.Name]; !seen {
			params[p.Name] = paramValue(p)
		}
	}
	for _, p := range nested {
		if _, seen := params[p.Name]; !seen {
			params[p.Name] = paramValue(p)
		}
	}
	return params
}

// sourceAddress resolves the event's network origin through the fallback
// chain: parameter ipAddress, record ipAddress, actor caller address,
// envelope caller address. Empty means no origin was reported.
func sourceAddress(rec *Record, params map[string]ParamValue) string {
	if v, ok := params["ipAddress"]; ok && v.AsString() != "" {
		return v.AsString()
	}
	if rec.IPAddress != "" {
		return rec.IPAddress
	}
	if rec.Actor.CallerIP != "" {
		return rec.Actor.CallerIP
	}
	return rec.ID.CallerIP
}

// classify maps an application/event-name pair onto an event kind.
func classify(application, name string) Kind {
	switch strings.ToLower(application) {
	case "login":
		lower := strings.ToLower(name)
		for _, marker := range failureMarkers {
			if strings.Contains(lower, marker) {
				return KindLoginFailure
			}
		}
		return KindLoginSuccess
	case "drive":
		return KindShare
	default:
		return KindUnknown
	}
}
