// IdPWatch - Identity Provider Activity Monitoring and Anomaly Detection
// Copyright 2026 M. Reyes (mreyes-ops)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mreyes-ops/idpwatch

package detection

import (
	"fmt"
	"strings"
)

// DevicePolicy evaluates new-device logins against a region allow list.
// It only runs when an external signal has flagged the login as coming
// from a previously unseen device.
type DevicePolicy struct {
	enabled        bool
	allowedRegions []string
}

// NewDevicePolicy creates a policy. When enabled is false, out-of-region
// logins are never alerted; new devices with login history are still
// recorded informationally.
func NewDevicePolicy(enabled bool, allowedRegions []string) *DevicePolicy {
	return &DevicePolicy{enabled: enabled, allowedRegions: allowedRegions}
}

// DeviceVerdict is the outcome of evaluating a new-device login.
type DeviceVerdict struct {
	// Alert means the login violates the region policy.
	Alert bool

	// Informational means the login should be recorded without delivery.
	Informational bool

	Message string
}

// Evaluate applies the region policy to a new-device login.
//
// The policy is deliberately asymmetric: an out-of-region new device always
// alerts, even on an identity with no login history, while an in-region new
// device is only worth recording when history exists to compare against.
func (p *DevicePolicy) Evaluate(region string, hasPrior bool) DeviceVerdict {
	if !p.enabled {
		if hasPrior {
			return DeviceVerdict{
				Informational: true,
				Message:       fmt.Sprintf("New device login from %s", displayRegion(region)),
			}
		}
		return DeviceVerdict{}
	}

	if !p.regionAllowed(region) {
		msg := fmt.Sprintf("New device login from outside allowed regions: %s", displayRegion(region))
		if !hasPrior {
			msg += " (No Previous Login Found)"
		}
		return DeviceVerdict{Alert: true, Message: msg}
	}

	if hasPrior {
		return DeviceVerdict{
			Informational: true,
			Message:       fmt.Sprintf("New device login from %s", displayRegion(region)),
		}
	}
	return DeviceVerdict{}
}

// regionAllowed reports whether any allow-list entry appears in the region
// name, case-insensitively. An empty region never matches.
func (p *DevicePolicy) regionAllowed(region string) bool {
	lower := strings.ToLower(region)
	if lower == "" {
		return false
	}
	for _, allowed := range p.allowedRegions {
		if allowed == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(allowed)) {
			return true
		}
	}
	return false
}

func displayRegion(region string) string {
	if region == "" {
		return "unknown region"
	}
	return region
}
