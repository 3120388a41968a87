// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package cache implements the fixed-capacity, slotted managed-torrent
// cache: O(1) insert/update/remove/lookup over a hash-index plus
// array-of-structs column storage, with free-slot reuse on eviction.
//
// This generalizes the Python reference's numpy-parallel-array TorrentCache
// (original_source/src/allocation.py) — the column-store layout there is an
// optimization, not a contract (spec.md §9): only the O(1) lookup and
// fixed-capacity slot reuse need to survive the port.
package cache

import (
	"sync"

	"github.com/autobrr/qbitgov/internal/domain"
)

type row struct {
	hash        string
	occupied    bool
	trackerID   string
	upSpeedBps  int64
	currentLim  int64
	lastSeen    int64
	needsUpdate bool
}

// Cache is the fixed-capacity managed-torrent cache. It must be mutated by a
// single writer (the cycle orchestrator, plus serialized webhook hooks); all
// methods are safe for concurrent readers under that discipline via an
// internal RWMutex.
type Cache struct {
	mu        sync.RWMutex
	capacity  int
	rows      []row
	index     map[string]int
	freeSlots []int
}

// New creates a cache with the given fixed capacity (spec.md §4.2 default 5000).
func New(capacity int) *Cache {
	if capacity <= 0 {
		capacity = 5000
	}
	freeSlots := make([]int, capacity)
	for i := range freeSlots {
		freeSlots[i] = capacity - 1 - i
	}
	return &Cache{
		capacity:  capacity,
		rows:      make([]row, capacity),
		index:     make(map[string]int, capacity),
		freeSlots: freeSlots,
	}
}

// Insert adds a new row. Returns false when the cache is full or the hash
// already exists (use Update for the latter).
func (c *Cache) Insert(hash, trackerID string, uploadSpeedBps, currentLimitBps, now int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.index[hash]; exists {
		return false
	}
	if len(c.freeSlots) == 0 {
		return false
	}

	idx := c.freeSlots[len(c.freeSlots)-1]
	c.freeSlots = c.freeSlots[:len(c.freeSlots)-1]

	c.rows[idx] = row{
		hash:       hash,
		occupied:   true,
		trackerID:  trackerID,
		upSpeedBps: uploadSpeedBps,
		currentLim: currentLimitBps,
		lastSeen:   now,
	}
	c.index[hash] = idx
	return true
}

// Update refreshes an existing row's volatile fields and last-seen epoch.
// Returns false if the hash is not present.
func (c *Cache) Update(hash string, uploadSpeedBps, currentLimitBps, now int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx, ok := c.index[hash]
	if !ok {
		return false
	}
	c.rows[idx].upSpeedBps = uploadSpeedBps
	c.rows[idx].currentLim = currentLimitBps
	c.rows[idx].lastSeen = now
	return true
}

// SetCurrentLimit records the limit the system believes the client now
// holds for hash, used by the diff-apply step after a confirmed write.
func (c *Cache) SetCurrentLimit(hash string, limitBps int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx, ok := c.index[hash]
	if !ok {
		return false
	}
	c.rows[idx].currentLim = limitBps
	c.rows[idx].needsUpdate = false
	return true
}

// SetNeedsUpdate flags hash as needing a refreshed limit on the next cycle,
// e.g. from an add/complete webhook's mark-for-check hook.
func (c *Cache) SetNeedsUpdate(hash string, needsUpdate bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx, ok := c.index[hash]
	if !ok {
		return false
	}
	c.rows[idx].needsUpdate = needsUpdate
	return true
}

// Remove evicts hash, returning its slot to the free list. Returns false if
// the hash was not present.
func (c *Cache) Remove(hash string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx, ok := c.index[hash]
	if !ok {
		return false
	}
	delete(c.index, hash)
	c.rows[idx] = row{}
	c.freeSlots = append(c.freeSlots, idx)
	return true
}

// GetLimit returns the cached current limit and whether hash is present.
func (c *Cache) GetLimit(hash string) (int64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	idx, ok := c.index[hash]
	if !ok {
		return 0, false
	}
	return c.rows[idx].currentLim, true
}

// GetTracker returns the cached tracker-id and whether hash is present.
func (c *Cache) GetTracker(hash string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	idx, ok := c.index[hash]
	if !ok {
		return "", false
	}
	return c.rows[idx].trackerID, true
}

// Get returns a copy of hash's ManagedEntry and whether it was present.
func (c *Cache) Get(hash string) (domain.ManagedEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	idx, ok := c.index[hash]
	if !ok {
		return domain.ManagedEntry{}, false
	}
	return toEntry(c.rows[idx]), true
}

// Has reports whether hash is currently present in the cache.
func (c *Cache) Has(hash string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.index[hash]
	return ok
}

// ByTracker returns every row belonging to trackerID — an O(N) scan used
// only for stats (spec.md §4.2).
func (c *Cache) ByTracker(trackerID string) []domain.ManagedEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []domain.ManagedEntry
	for _, r := range c.rows {
		if r.occupied && r.trackerID == trackerID {
			out = append(out, toEntry(r))
		}
	}
	return out
}

// All returns every occupied row — used by the cycle orchestrator to merge
// cached-but-idle hashes back into the active set (spec.md §4.6 phase 1).
func (c *Cache) All() []domain.ManagedEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]domain.ManagedEntry, 0, c.capacity-len(c.freeSlots))
	for _, r := range c.rows {
		if r.occupied {
			out = append(out, toEntry(r))
		}
	}
	return out
}

// Sweep evicts rows whose last-seen epoch is older than now-ttlSeconds,
// returning the number evicted (spec.md §4.2).
func (c *Cache) Sweep(now int64, ttlSeconds int64) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := now - ttlSeconds
	evicted := 0
	for idx := range c.rows {
		r := &c.rows[idx]
		if !r.occupied {
			continue
		}
		if r.lastSeen < cutoff {
			delete(c.index, r.hash)
			*r = row{}
			c.freeSlots = append(c.freeSlots, idx)
			evicted++
		}
	}
	return evicted
}

// Len returns the number of occupied rows.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.index)
}

// Capacity returns the cache's fixed capacity.
func (c *Cache) Capacity() int {
	return c.capacity
}

// UtilizationPercent reports occupied/capacity*100, used by GET /stats
// (supplemented per original_source's get_detailed_stats).
func (c *Cache) UtilizationPercent() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.capacity == 0 {
		return 0
	}
	return float64(len(c.index)) / float64(c.capacity) * 100
}

// EstimatedMemoryBytes is a rough per-row size estimate, supplemented per
// original_source's get_detailed_stats.
func (c *Cache) EstimatedMemoryBytes() int64 {
	const perRowBytes = 96 // hash string header + 5 numeric columns + bookkeeping
	return int64(c.capacity) * perRowBytes
}

func toEntry(r row) domain.ManagedEntry {
	return domain.ManagedEntry{
		Hash:            r.hash,
		TrackerID:       r.trackerID,
		UploadSpeedBps:  r.upSpeedBps,
		CurrentLimitBps: r.currentLim,
		LastSeenEpoch:   r.lastSeen,
		NeedsUpdate:     r.needsUpdate,
	}
}
