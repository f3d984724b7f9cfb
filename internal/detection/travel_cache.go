// IdPWatch - Identity Provider Activity Monitoring and Anomaly Detection
// Copyright 2026 M. Reyes (mreyes-ops)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mreyes-ops/idpwatch

package detection

import (
	"sync"
	"time"
)

// LastSeen is the most recent located login observation for an identity.
type LastSeen struct {
	Latitude  float64
	Longitude float64
	Timestamp time.Time
	Location  string
}

// LastSeenCache is an in-memory advisory cache of each identity's last
// located login. It avoids a store read per login on the hot path; the
// store remains the source of truth across restarts. Entries are
// overwritten on every located login and never expire.
type LastSeenCache struct {
	mu      sync.RWMutex
	entries map[string]LastSeen
}

// NewLastSeenCache creates an empty cache.
func NewLastSeenCache() *LastSeenCache {
	return &LastSeenCache{entries: make(map[string]LastSeen)}
}

// Get returns the cached observation for an identity.
func (c *LastSeenCache) Get(identity string) (LastSeen, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	seen, ok := c.entries[identity]
	return seen, ok
}

// Put records an observation, replacing any previous entry.
func (c *LastSeenCache) Put(identity string, seen LastSeen) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[identity] = seen
}

// Len returns the number of cached identities.
func (c *LastSeenCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
