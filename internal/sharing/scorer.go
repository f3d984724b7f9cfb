// IdPWatch - Identity Provider Activity Monitoring and Anomaly Detection
// Copyright 2026 M. Reyes (mreyes-ops)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mreyes-ops/idpwatch

// Package sharing scores document-sharing events for phishing and
// impersonation risk.
package sharing

import (
	"strings"

	"github.com/mreyes-ops/idpwatch/internal/activity"
	"github.com/mreyes-ops/idpwatch/internal/config"
)

// Assessment is the outcome of scoring one sharing event. Reasons
// accumulate across all rules in evaluation order; Risky is true when at
// least one rule found actionable risk (some reasons are informational).
type Assessment struct {
	// Relevant is false when the event produced no signal at all: no
	// visibility value and no rule matched. Such events are skipped.
	Relevant bool

	Risky   bool
	Reasons []string

	DocTitle    string
	DocID       string
	FileLink    string
	Visibility  string
	OwnerName   string
	OwnerDomain string
	External    bool
	Public      bool
}

// Scorer evaluates sharing events against the configured rule lists.
// All matching is case-insensitive substring or suffix matching.
type Scorer struct {
	homeDomain            string
	publicMarkers         []string
	impersonationKeywords []string
	leadershipKeywords    []string
	suspiciousExtensions  []string
}

// NewScorer builds a scorer for the given home domain and rule lists.
func NewScorer(homeDomain string, cfg config.PhishingConfig) *Scorer {
	return &Scorer{
		homeDomain:            strings.ToLower(homeDomain),
		publicMarkers:         cfg.PublicSharingMarkers,
		impersonationKeywords: cfg.ImpersonationKeywords,
		leadershipKeywords:    cfg.LeadershipKeywords,
		suspiciousExtensions:  cfg.SuspiciousExtensions,
	}
}

// Evaluate scores one normalized sharing event. Four rules run
// independently and their reasons accumulate in order: public exposure,
// impersonation, suspicious extension, and the compounding rule for public
// sharing combined with impersonation.
func (s *Scorer) Evaluate(ev *activity.Event) Assessment {
	a := Assessment{
		DocTitle:   paramString(ev, "doc_title"),
		DocID:      paramString(ev, "doc_id"),
		Visibility: visibility(ev),
		OwnerName:  paramString(ev, "owner_display_name"),
	}
	if a.DocTitle == "" {
		a.DocTitle = "Untitled Document"
	}
	if a.DocID != "" {
		a.FileLink = "https://drive.google.com/open?id=" + a.DocID
	} else {
		a.FileLink = "N/A"
	}

	// Rules run independently: impersonation and extension risk do not
	// depend on a visibility value being present.
	a.Public = s.isPublic(a.Visibility)
	a.OwnerDomain = ownerDomain(ev)
	a.External = s.isExternal(a.OwnerDomain)

	// Rule 1: public exposure. External owners making a document public is
	// actionable; the same change by an internal owner is only noted.
	if a.Public {
		if a.External {
			a.Risky = true
			a.Reasons = append(a.Reasons,
				"External user shared document with 'anyone with the link' visibility: "+a.Visibility)
		} else {
			a.Reasons = append(a.Reasons,
				"Document shared with 'anyone with the link' visibility: "+a.Visibility)
		}
	}

	// Rule 2: impersonation by display name, tiered by keyword list.
	impersonation := false
	nameLower := strings.ToLower(a.OwnerName)
	switch {
	case containsAny(nameLower, s.impersonationKeywords):
		if a.External {
			a.Risky = true
			impersonation = true
			a.Reasons = append(a.Reasons,
				"HIGH PRIORITY: External user impersonating leadership role: "+a.OwnerName)
		} else if a.Public {
			a.Risky = true
			impersonation = true
			a.Reasons = append(a.Reasons,
				"Potential impersonation attempt (internal user): "+a.OwnerName)
		}
	case containsAny(nameLower, s.leadershipKeywords):
		if a.External && a.Public {
			a.Risky = true
			a.Reasons = append(a.Reasons,
				"External user with leadership-sounding name: "+a.OwnerName)
		}
	}

	// Rule 3: suspicious file extension reachable outside the organization.
	if s.hasSuspiciousExtension(a.DocTitle) && (a.External || a.Public) {
		a.Risky = true
		a.Reasons = append(a.Reasons, "Suspicious file extension: "+a.DocTitle)
	}

	// Rule 4: compounding signal.
	if a.Public && impersonation && a.External {
		a.Risky = true
		a.Reasons = append(a.Reasons,
			"CRITICAL: Public sharing combined with impersonation attempt")
	}

	a.Relevant = a.Visibility != "" || len(a.Reasons) > 0
	return a
}

// visibility resolves the document visibility from the event, preferring
// the new value of a visibility change.
func visibility(ev *activity.Event) string {
	if v := paramString(ev, "new_value"); v != "" {
		return v
	}
	return paramString(ev, "visibility_change")
}

// isPublic reports whether a visibility value means anyone with the link.
func (s *Scorer) isPublic(vis string) bool {
	lower := strings.ToLower(vis)
	for _, marker := range s.publicMarkers {
		if strings.Contains(lower, strings.ToLower(marker)) {
			return true
		}
	}
	return false
}

// ownerDomain extracts the document owner's domain, falling back to the
// primary owner address. Empty means the feed reported no owner.
func ownerDomain(ev *activity.Event) string {
	if domain := paramString(ev, "owner_domain"); domain != "" {
		return domain
	}
	if owner := paramString(ev, "primary_owner"); owner != "" {
		if _, domain, ok := strings.Cut(owner, "@"); ok {
			return domain
		}
	}
	return ""
}

// isExternal reports whether an owner domain is outside the home domain.
// An owner with no domain information counts as external.
func (s *Scorer) isExternal(domain string) bool {
	if domain == "" {
		return true
	}
	return !strings.Contains(strings.ToLower(domain), s.homeDomain)
}

// hasSuspiciousExtension reports whether one of the configured executable
// extensions appears anywhere in the document title. Double extensions
// like "invoice.exe.pdf" are a common disguise, so this is a contains
// test, not a suffix test.
func (s *Scorer) hasSuspiciousExtension(title string) bool {
	lower := strings.ToLower(title)
	for _, ext := range s.suspiciousExtensions {
		if strings.Contains(lower, strings.ToLower(ext)) {
			return true
		}
	}
	return false
}

// containsAny reports whether any keyword appears in s (already lowered).
func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		if strings.Contains(s, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// paramString fetches a parameter rendered as a string, empty when absent.
func paramString(ev *activity.Event, name string) string {
	if v, ok := ev.Params[name]; ok {
		return v.AsString()
	}
	return ""
}
