// IdPWatch - Identity Provider Activity Monitoring and Anomaly Detection
// Copyright 2026 M. Reyes (mreyes-ops)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mreyes-ops/idpwatch

package detection

import (
	"strings"
	"testing"
)

func TestDevicePolicyEvaluate(t *testing.T) {
	allowed := []string{"VA", "Virginia"}

	tests := []struct {
		name      string
		enabled   bool
		region    string
		hasPrior  bool
		wantAlert bool
		wantInfo  bool
		wantInMsg string
	}{
		{
			name:    "out of region with history alerts",
			enabled: true, region: "California", hasPrior: true,
			wantAlert: true, wantInMsg: "California",
		},
		{
			name:    "out of region without history still alerts",
			enabled: true, region: "California", hasPrior: false,
			wantAlert: true, wantInMsg: "(No Previous Login Found)",
		},
		{
			name:    "in region with history is informational",
			enabled: true, region: "Virginia", hasPrior: true,
			wantInfo: true, wantInMsg: "Virginia",
		},
		{
			name:    "in region without history is silent",
			enabled: true, region: "Virginia", hasPrior: false,
		},
		{
			name:    "abbreviation matches as substring",
			enabled: true, region: "VA", hasPrior: true,
			wantInfo: true,
		},
		{
			name:    "match is case-insensitive",
			enabled: true, region: "virginia", hasPrior: true,
			wantInfo: true,
		},
		{
			name:    "empty region is out of region",
			enabled: true, region: "", hasPrior: true,
			wantAlert: true, wantInMsg: "unknown region",
		},
		{
			name:    "disabled with history is informational",
			enabled: false, region: "California", hasPrior: true,
			wantInfo: true,
		},
		{
			name:    "disabled without history is silent",
			enabled: false, region: "California", hasPrior: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewDevicePolicy(tt.enabled, allowed)
			v := p.Evaluate(tt.region, tt.hasPrior)

			if v.Alert != tt.wantAlert {
				t.Errorf("Alert = %v, want %v", v.Alert, tt.wantAlert)
			}
			if v.Informational != tt.wantInfo {
				t.Errorf("Informational = %v, want %v", v.Informational, tt.wantInfo)
			}
			if tt.wantInMsg != "" && !strings.Contains(v.Message, tt.wantInMsg) {
				t.Errorf("Message = %q, want substring %q", v.Message, tt.wantInMsg)
			}
		})
	}
}

// "West Virginia" contains "Virginia" and therefore matches the allow list.
// That is the documented cost of substring matching; the test pins the
// behavior so a change to exact matching is a deliberate decision.
func TestDevicePolicySubstringQuirk(t *testing.T) {
	p := NewDevicePolicy(true, []string{"VA", "Virginia"})
	v := p.Evaluate("West Virginia", true)
	if v.Alert {
		t.Error("West Virginia alerted, substring matching should allow it")
	}
	if !v.Informational {
		t.Error("expected informational record for allowed region with history")
	}
}
