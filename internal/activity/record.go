// IdPWatch - Identity Provider Activity Monitoring and Anomaly Detection
// Copyright 2026 M. Reyes (mreyes-ops)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mreyes-ops/idpwatch

// Package activity models raw identity-provider activity records and
// normalizes them into typed events for the detection pipeline.
package activity

import (
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
)

// Record is one raw activity record as reported by the provider's admin
// reports feed. A record wraps one or more sub-events that share an actor,
// a timestamp envelope, and a network origin.
type Record struct {
	ID         Envelope    `json:"id"`
	Actor      Actor       `json:"actor"`
	IPAddress  string      `json:"ipAddress"`
	Parameters []Parameter `json:"parameters"`
	Events     []SubEvent  `json:"events"`
}

// Envelope carries the record's identifying metadata.
type Envelope struct {
	Time            string `json:"time"`
	ApplicationName string `json:"applicationName"`
	CallerIP        string `json:"callerIpAddress"`
	UniqueQualifier string `json:"uniqueQualifier"`
}

// Actor identifies who performed the activity.
type Actor struct {
	Email      string `json:"email"`
	ProfileID  string `json:"profileId"`
	CallerIP   string `json:"callerIpAddress"`
	CallerType string `json:"callerType"`
}

// SubEvent is one named action inside a record with its own parameter list.
type SubEvent struct {
	Type       string      `json:"type"`
	Name       string      `json:"name"`
	Parameters []Parameter `json:"parameters"`
}

// Parameter is a raw feed parameter. Exactly one value slot is populated;
// intValue arrives as a quoted string on the wire. Some feed versions use
// stringValue instead of value.
type Parameter struct {
	Name        string   `json:"name"`
	Value       string   `json:"value,omitempty"`
	StringValue string   `json:"stringValue,omitempty"`
	IntValue    *int64   `json:"intValue,string,omitempty"`
	BoolValue   *bool    `json:"boolValue,omitempty"`
	MultiValue  []string `json:"multiValue,omitempty"`
}

// ValueKind discriminates the populated slot of a ParamValue.
type ValueKind int

const (
	ValueString ValueKind = iota
	ValueInt
	ValueBool
	ValueList
)

// ParamValue is the typed value of a normalized parameter.
type ParamValue struct {
	Kind ValueKind
	Str  string
	Int  int64
	Bool bool
	List []string
}

// paramValue extracts the typed value of a raw parameter, probing the value
// slots in a fixed order: value, stringValue, int, bool, multi-value. A
// parameter with no populated slot yields an empty string value.
func paramValue(p Parameter) ParamValue {
	switch {
	case p.Value != "":
		return ParamValue{Kind: ValueString, Str: p.Value}
	case p.StringValue != "":
		return ParamValue{Kind: ValueString, Str: p.StringValue}
	case p.IntValue != nil:
		return ParamValue{Kind: ValueInt, Int: *p.IntValue}
	case p.BoolValue != nil:
		return ParamValue{Kind: ValueBool, Bool: *p.BoolValue}
	case len(p.MultiValue) > 0:
		return ParamValue{Kind: ValueList, List: p.MultiValue}
	default:
		return ParamValue{Kind: ValueString}
	}
}

// AsString renders the value for display and comparison. Lists join with
// commas.
func (v ParamValue) AsString() string {
	switch v.Kind {
	case ValueInt:
		return strconv.FormatInt(v.Int, 10)
	case ValueBool:
		return strconv.FormatBool(v.Bool)
	case ValueList:
		return strings.Join(v.List, ",")
	default:
		return v.Str
	}
}

// ParseRecords decodes a JSON array of raw records.
func ParseRecords(data []byte) ([]Record, error) {
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, err
	}
	return records, nil
}
