// IdPWatch - Identity Provider Activity Monitoring and Anomaly Detection
// Copyright 2026 M. Reyes (mreyes-ops)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mreyes-ops/idpwatch

package activity

import (
	"errors"
	"testing"
	"time"
)

func loginRecord() *Record {
	return &Record{
		ID: Envelope{
			Time:            "2026-08-20T14:30:00.000Z",
			ApplicationName: "login",
		},
		Actor:     Actor{Email: "jdoe@school.edu"},
		IPAddress: "203.0.113.7",
		Events: []SubEvent{
			{Name: "login_success", Type: "login"},
		},
	}
}

func TestNormalizeLogin(t *testing.T) {
	events, err := Normalize(loginRecord())
	if err != nil {
		t.Fatalf("Normalize() error: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}

	ev := events[0]
	if ev.Identity != "jdoe@school.edu" {
		t.Errorf("Identity = %q", ev.Identity)
	}
	want := time.Date(2026, 8, 20, 14, 30, 0, 0, time.UTC)
	if !ev.Timestamp.Equal(want) {
		t.Errorf("Timestamp = %v, want %v", ev.Timestamp, want)
	}
	if ev.SourceAddress != "203.0.113.7" {
		t.Errorf("SourceAddress = %q", ev.SourceAddress)
	}
	if ev.Kind != KindLoginSuccess {
		t.Errorf("Kind = %v, want %v", ev.Kind, KindLoginSuccess)
	}
}

func TestNormalizeRecordWithoutSubEvents(t *testing.T) {
	// Some feed items carry only record-level fields. The login must still
	// produce one event rather than vanish from the history.
	rec := loginRecord()
	rec.Events = nil
	rec.Parameters = []Parameter{{Name: "login_type", Value: "saml"}}

	events, err := Normalize(rec)
	if err != nil {
		t.Fatalf("Normalize() error: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1 synthesized from record fields", len(events))
	}

	ev := events[0]
	if ev.Identity != "jdoe@school.edu" {
		t.Errorf("Identity = %q", ev.Identity)
	}
	if ev.Kind != KindLoginSuccess {
		t.Errorf("Kind = %v, want %v", ev.Kind, KindLoginSuccess)
	}
	if ev.SourceAddress != "203.0.113.7" {
		t.Errorf("SourceAddress = %q", ev.SourceAddress)
	}
	if got := ev.Params["login_type"].AsString(); got != "saml" {
		t.Errorf("login_type = %q, want saml", got)
	}
}

func TestNormalizeRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Record)
		reason ParseReason
	}{
		{
			name:   "missing identity",
			mutate: func(r *Record) { r.Actor.Email = "" },
			reason: ReasonMissingIdentity,
		},
		{
			name:   "whitespace identity",
			mutate: func(r *Record) { r.Actor.Email = "   " },
			reason: ReasonMissingIdentity,
		},
		{
			name:   "missing timestamp",
			mutate: func(r *Record) { r.ID.Time = "" },
			reason: ReasonBadTimestamp,
		},
		{
			name:   "wrong timestamp shape",
			mutate: func(r *Record) { r.ID.Time = "2026-08-20 14:30:00" },
			reason: ReasonBadTimestamp,
		},
		{
			name:   "epoch timestamp",
			mutate: func(r *Record) { r.ID.Time = "1755700200" },
			reason: ReasonBadTimestamp,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := loginRecord()
			tt.mutate(rec)

			events, err := Normalize(rec)
			if events != nil {
				t.Errorf("got %d events, want none", len(events))
			}
			var parseErr *ParseError
			if !errors.As(err, &parseErr) {
				t.Fatalf("error = %v, want *ParseError", err)
			}
			if parseErr.Reason != tt.reason {
				t.Errorf("Reason = %v, want %v", parseErr.Reason, tt.reason)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		application string
		name        string
		want        Kind
	}{
		{"login", "login_success", KindLoginSuccess},
		{"login", "login_failure", KindLoginFailure},
		{"login", "Login_FAILURE", KindLoginFailure},
		{"login", "access_denied", KindLoginFailure},
		{"login", "account_blocked", KindLoginFailure},
		{"login", "logout", KindLoginSuccess},
		{"drive", "change_document_visibility", KindShare},
		{"drive", "download", KindShare},
		{"calendar", "event_created", KindUnknown},
		{"", "login_success", KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.application+"/"+tt.name, func(t *testing.T) {
			if got := classify(tt.application, tt.name); got != tt.want {
				t.Errorf("classify(%q, %q) = %v, want %v", tt.application, tt.name, got, tt.want)
			}
		})
	}
}

func TestSourceAddressFallbackChain(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Record)
		want   string
	}{
		{
			name: "parameter wins",
			mutate: func(r *Record) {
				r.Events[0].Parameters = []Parameter{{Name: "ipAddress", Value: "198.51.100.9"}}
			},
			want: "198.51.100.9",
		},
		{
			name:   "record address",
			mutate: func(_ *Record) {},
			want:   "203.0.113.7",
		},
		{
			name: "actor caller address",
			mutate: func(r *Record) {
				r.IPAddress = ""
				r.Actor.CallerIP = "198.51.100.20"
			},
			want: "198.51.100.20",
		},
		{
			name: "envelope caller address",
			mutate: func(r *Record) {
				r.IPAddress = ""
				r.ID.CallerIP = "198.51.100.30"
			},
			want: "198.51.100.30",
		},
		{
			name: "no origin at all",
			mutate: func(r *Record) {
				r.IPAddress = ""
			},
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := loginRecord()
			tt.mutate(rec)

			events, err := Normalize(rec)
			if err != nil {
				t.Fatalf("Normalize() error: %v", err)
			}
			if events[0].SourceAddress != tt.want {
				t.Errorf("SourceAddress = %q, want %q", events[0].SourceAddress, tt.want)
			}
		})
	}
}

func TestMergeParamsTopLevelWins(t *testing.T) {
	rec := loginRecord()
	rec.Parameters = []Parameter{
		{Name: "login_type", Value: "saml"},
		{Name: "login_type", Value: "second-occurrence-ignored"},
	}
	rec.Events[0].Parameters = []Parameter{
		{Name: "login_type", Value: "google_password"},
		{Name: "is_suspicious", BoolValue: boolPtr(true)},
	}

	events, err := Normalize(rec)
	if err != nil {
		t.Fatalf("Normalize() error: %v", err)
	}

	params := events[0].Params
	if got := params["login_type"].AsString(); got != "saml" {
		t.Errorf("login_type = %q, want saml (top-level first occurrence)", got)
	}
	if v := params["is_suspicious"]; v.Kind != ValueBool || !v.Bool {
		t.Errorf("is_suspicious = %+v, want bool true", v)
	}
}

func TestParamValueProbeOrder(t *testing.T) {
	n := int64(42)
	b := false

	tests := []struct {
		name  string
		param Parameter
		want  ParamValue
	}{
		{
			name:  "string slot",
			param: Parameter{Name: "p", Value: "hello"},
			want:  ParamValue{Kind: ValueString, Str: "hello"},
		},
		{
			name:  "stringValue slot",
			param: Parameter{Name: "p", StringValue: "alt"},
			want:  ParamValue{Kind: ValueString, Str: "alt"},
		},
		{
			name:  "int slot",
			param: Parameter{Name: "p", IntValue: &n},
			want:  ParamValue{Kind: ValueInt, Int: 42},
		},
		{
			name:  "bool slot even when false",
			param: Parameter{Name: "p", BoolValue: &b},
			want:  ParamValue{Kind: ValueBool, Bool: false},
		},
		{
			name:  "list slot",
			param: Parameter{Name: "p", MultiValue: []string{"a", "b"}},
			want:  ParamValue{Kind: ValueList, List: []string{"a", "b"}},
		},
		{
			name:  "string beats int when both set",
			param: Parameter{Name: "p", Value: "s", IntValue: &n},
			want:  ParamValue{Kind: ValueString, Str: "s"},
		},
		{
			name:  "value beats stringValue when both set",
			param: Parameter{Name: "p", Value: "primary", StringValue: "alt"},
			want:  ParamValue{Kind: ValueString, Str: "primary"},
		},
		{
			name:  "stringValue beats int when both set",
			param: Parameter{Name: "p", StringValue: "alt", IntValue: &n},
			want:  ParamValue{Kind: ValueString, Str: "alt"},
		},
		{
			name:  "empty parameter",
			param: Parameter{Name: "p"},
			want:  ParamValue{Kind: ValueString},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := paramValue(tt.param)
			if got.Kind != tt.want.Kind || got.Str != tt.want.Str ||
				got.Int != tt.want.Int || got.Bool != tt.want.Bool {
				t.Errorf("paramValue() = %+v, want %+v", got, tt.want)
			}
			if len(got.List) != len(tt.want.List) {
				t.Errorf("List = %v, want %v", got.List, tt.want.List)
			}
		})
	}
}

func TestParseRecords(t *testing.T) {
	data := []byte(`[
		{
			"id": {"time": "2026-08-20T14:30:00.000Z", "applicationName": "login"},
			"actor": {"email": "jdoe@school.edu"},
			"ipAddress": "203.0.113.7",
			"events": [
				{"name": "login_success", "parameters": [
					{"name": "login_type", "value": "google_password"},
					{"name": "login_challenge_count", "intValue": "2"},
					{"name": "is_suspicious", "boolValue": false}
				]}
			]
		}
	]`)

	records, err := ParseRecords(data)
	if err != nil {
		t.Fatalf("ParseRecords() error: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}

	params := records[0].Events[0].Parameters
	if len(params) != 3 {
		t.Fatalf("got %d parameters, want 3", len(params))
	}
	if params[1].IntValue == nil || *params[1].IntValue != 2 {
		t.Errorf("intValue = %v, want 2", params[1].IntValue)
	}
	if params[2].BoolValue == nil || *params[2].BoolValue {
		t.Errorf("boolValue = %v, want false", params[2].BoolValue)
	}
}

func boolPtr(b bool) *bool { return &b }
