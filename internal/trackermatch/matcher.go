// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package trackermatch maps a tracker announce URL to a configured
// tracker-id via an ordered, mandatory-catch-all regex list.
package trackermatch

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/autobrr/qbitgov/internal/domain"
)

const catchAllPattern = ".*"

type compiledPattern struct {
	id      string
	pattern string
	re      *regexp.Regexp
}

// CacheStats reports the matcher's lookup cache hit/miss counters, restored
// from the Python reference's get_cache_stats helper (original_source/src/tracker_matcher.py).
type CacheStats struct {
	Hits         int64
	Misses       int64
	PatternHits  int64
	CatchAllHits int64
}

// Matcher maps tracker URLs to tracker-ids. It is safe for concurrent use;
// hot-reload (UpdateConfigs) clears the cache and recompiles atomically.
type Matcher struct {
	mu       sync.RWMutex
	patterns []compiledPattern
	catchAll string
	cache    map[string]string

	statsMu sync.Mutex
	stats   CacheStats
}

// New compiles and validates trackers, returning an error if validation
// fails (spec.md §4.1: at least one catch-all, last position, unique IDs,
// every regex compiles).
func New(trackers []domain.TrackerConfig) (*Matcher, error) {
	m := &Matcher{cache: make(map[string]string)}
	if err := m.compile(trackers); err != nil {
		return nil, err
	}
	return m, nil
}

// UpdateConfigs hot-reloads the tracker list. On failure, the previous
// compiled set remains live and an error is returned.
func (m *Matcher) UpdateConfigs(trackers []domain.TrackerConfig) error {
	next := &Matcher{cache: make(map[string]string)}
	if err := next.compile(trackers); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.patterns = next.patterns
	m.catchAll = next.catchAll
	m.cache = make(map[string]string)
	return nil
}

func (m *Matcher) compile(trackers []domain.TrackerConfig) error {
	if len(trackers) == 0 {
		return fmt.Errorf("trackermatch: at least one tracker config is required")
	}

	seen := make(map[string]struct{}, len(trackers))
	compiled := make([]compiledPattern, 0, len(trackers))
	catchAllIdx := -1

	for i, tc := range trackers {
		if tc.ID == "" {
			return fmt.Errorf("trackermatch: tracker at index %d has an empty id", i)
		}
		if _, dup := seen[tc.ID]; dup {
			return fmt.Errorf("trackermatch: duplicate tracker id %q", tc.ID)
		}
		seen[tc.ID] = struct{}{}

		normalized := normalizePattern(tc.Pattern)
		re, err := regexp.Compile(normalized)
		if err != nil {
			return fmt.Errorf("trackermatch: tracker %q: invalid pattern %q: %w", tc.ID, tc.Pattern, err)
		}

		if normalized == catchAllPattern {
			catchAllIdx = i
		}

		compiled = append(compiled, compiledPattern{id: tc.ID, pattern: normalized, re: re})
	}

	if catchAllIdx == -1 {
		return fmt.Errorf("trackermatch: no catch-all (%q) pattern present", catchAllPattern)
	}
	if catchAllIdx != len(trackers)-1 {
		return fmt.Errorf("trackermatch: catch-all pattern must be the last entry")
	}

	m.patterns = compiled
	m.catchAll = compiled[catchAllIdx].id
	return nil
}

// normalizePattern applies spec.md §4.1's normalization: explicit anchors
// disable normalization; a bare leading/trailing '.' becomes '.*'; an
// otherwise unanchored pattern is wrapped in '.*' on both ends.
func normalizePattern(pattern string) string {
	p := strings.TrimSpace(pattern)
	if p == "" {
		return catchAllPattern
	}
	if strings.HasPrefix(p, "^") || strings.HasSuffix(p, "$") {
		return p
	}

	if strings.HasPrefix(p, ".") && !strings.HasPrefix(p, ".*") {
		p = ".*" + strings.TrimPrefix(p, ".")
	}
	if strings.HasSuffix(p, ".") {
		p = strings.TrimSuffix(p, ".") + ".*"
	}

	if !strings.Contains(p, ".*") {
		p = ".*" + p + ".*"
	}
	return p
}

// Match returns the tracker-id of the first configured pattern (in
// declaration order, excluding the catch-all) whose regex matches the
// lowercased URL; falls back to the catch-all. Results are cached under a
// digest of the URL's lowercased host+path. An empty URL maps to the
// catch-all.
func (m *Matcher) Match(trackerURL string) string {
	key := cacheKey(trackerURL)

	m.mu.RLock()
	if id, ok := m.cache[key]; ok {
		m.mu.RUnlock()
		m.recordHit()
		return id
	}
	patterns := m.patterns
	catchAll := m.catchAll
	m.mu.RUnlock()

	m.recordMiss()

	id := catchAll
	matchedPattern := false
	if trackerURL != "" {
		lowered := strings.ToLower(trackerURL)
		for _, cp := range patterns {
			if cp.pattern == catchAllPattern {
				continue
			}
			if cp.re.MatchString(lowered) {
				id = cp.id
				matchedPattern = true
				break
			}
		}
	}

	if matchedPattern {
		m.recordPatternHit()
	} else {
		m.recordCatchAllHit()
	}

	m.mu.Lock()
	m.cache[key] = id
	m.mu.Unlock()

	return id
}

// TestMatchResult is what TestMatch reports: the tracker-id a URL resolves
// to and which declared pattern, if any, fired — supplementing the Python
// reference's test_pattern_match debug helper
// (original_source/src/tracker_matcher.py). TestMatch applies the same
// ordered matching as Match but bypasses the lookup cache and its counters.
type TestMatchResult struct {
	TrackerID      string
	MatchedPattern string
	IsCatchAll     bool
}

func (m *Matcher) TestMatch(trackerURL string) TestMatchResult {
	m.mu.RLock()
	patterns := m.patterns
	catchAll := m.catchAll
	m.mu.RUnlock()

	if trackerURL != "" {
		lowered := strings.ToLower(trackerURL)
		for _, cp := range patterns {
			if cp.pattern == catchAllPattern {
				continue
			}
			if cp.re.MatchString(lowered) {
				return TestMatchResult{TrackerID: cp.id, MatchedPattern: cp.pattern}
			}
		}
	}
	return TestMatchResult{TrackerID: catchAll, MatchedPattern: catchAllPattern, IsCatchAll: true}
}

// GetCacheStats returns a snapshot of the lookup-cache counters.
func (m *Matcher) GetCacheStats() CacheStats {
	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	return m.stats
}

func (m *Matcher) recordHit() {
	m.statsMu.Lock()
	m.stats.Hits++
	m.statsMu.Unlock()
}

func (m *Matcher) recordMiss() {
	m.statsMu.Lock()
	m.stats.Misses++
	m.statsMu.Unlock()
}

func (m *Matcher) recordPatternHit() {
	m.statsMu.Lock()
	m.stats.PatternHits++
	m.statsMu.Unlock()
}

func (m *Matcher) recordCatchAllHit() {
	m.statsMu.Lock()
	m.stats.CatchAllHits++
	m.statsMu.Unlock()
}

// cacheKey produces the 16-hex-character digest spec.md §4.1 requires,
// keyed on the URL's lowercased host+path. xxhash.Sum64 naturally yields a
// 64-bit value that hex-encodes to exactly 16 characters.
func cacheKey(trackerURL string) string {
	if trackerURL == "" {
		return fmt.Sprintf("%016x", xxhash.Sum64String(""))
	}
	lowered := strings.ToLower(trackerURL)
	parsed, err := url.Parse(lowered)
	if err != nil {
		return fmt.Sprintf("%016x", xxhash.Sum64String(lowered))
	}
	return fmt.Sprintf("%016x", xxhash.Sum64String(parsed.Host+parsed.Path))
}
