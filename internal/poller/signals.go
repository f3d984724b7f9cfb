// IdPWatch - Identity Provider Activity Monitoring and Anomaly Detection
// Copyright 2026 M. Reyes (mreyes-ops)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mreyes-ops/idpwatch

package poller

import (
	"strings"
	"time"

	"github.com/mreyes-ops/idpwatch/internal/detection"
)

// RawSignal is one raw alert-center item from the provider. The payload
// shape varies by alert source, so identity extraction probes several
// locations.
type RawSignal struct {
	Title      string            `json:"title"`
	Type       string            `json:"type"`
	Source     string            `json:"source"`
	CreateTime time.Time         `json:"createTime"`
	Data       map[string]string `json:"data"`
	Metadata   map[string]string `json:"metadata"`
}

// emailDataKeys are probed in order when extracting the affected identity
// from a signal's data payload.
var emailDataKeys = []string{"userEmail", "email", "actorEmail", "userKey"}

// CorrelateSignals filters raw alert-center items down to login-relevant
// signals and indexes them by identity. Items without an extractable
// identity are dropped; later signals for the same identity overwrite
// earlier ones.
func CorrelateSignals(raw []RawSignal) map[string]*detection.NewDeviceSignal {
	signals := make(map[string]*detection.NewDeviceSignal)
	for i := range raw {
		sig := &raw[i]
		if !isLoginSignal(sig) {
			continue
		}
		identity := extractIdentity(sig)
		if identity == "" {
			continue
		}
		signals[identity] = &detection.NewDeviceSignal{
			Identity:    identity,
			Title:       sig.Title,
			Type:        sig.Type,
			IsNewDevice: strings.Contains(strings.ToLower(sig.Title), "new device"),
			CreateTime:  sig.CreateTime,
		}
	}
	return signals
}

// isLoginSignal reports whether an alert-center item concerns logins or
// devices.
func isLoginSignal(sig *RawSignal) bool {
	title := strings.ToLower(sig.Title)
	if strings.Contains(title, "new device") || strings.Contains(title, "suspicious login") {
		return true
	}
	return strings.Contains(strings.ToLower(sig.Type), "login")
}

// extractIdentity probes the signal for the affected identity: known data
// keys first, then metadata, then the source field when it looks like an
// address.
func extractIdentity(sig *RawSignal) string {
	for _, key := range emailDataKeys {
		if v := sig.Data[key]; strings.Contains(v, "@") {
			return v
		}
	}
	for _, key := range emailDataKeys {
		if v := sig.Metadata[key]; strings.Contains(v, "@") {
			return v
		}
	}
	if strings.Contains(sig.Source, "@") {
		return sig.Source
	}
	return ""
}
