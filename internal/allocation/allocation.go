// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package allocation implements the three pure allocation strategies —
// equal, weighted, and soft cross-tracker borrowing — described in
// spec.md §4.5. Each strategy is a pure function: torrent snapshots plus
// tracker configs in, {hash -> new limit} out.
package allocation

import (
	"github.com/autobrr/qbitgov/internal/domain"
)

const (
	kib = 1024
	mib = 1024 * 1024

	floorBps = 10 * kib
)

// Limits is the output of every strategy: hash -> new upload limit bps.
type Limits map[string]int64

// groupByTracker buckets torrents by the tracker-id resolved for each, and
// returns the tracker configs keyed by id for convenience. Torrents whose
// tracker-id has no matching config are skipped (spec.md §4.5: "unknown
// tracker-ids are skipped entirely").
func groupByTracker(torrents []domain.TorrentSnapshot, trackerOf func(domain.TorrentSnapshot) string, trackers []domain.TrackerConfig) (map[string][]domain.TorrentSnapshot, map[string]domain.TrackerConfig) {
	byID := make(map[string]domain.TrackerConfig, len(trackers))
	for _, tc := range trackers {
		byID[tc.ID] = tc
	}

	groups := make(map[string][]domain.TorrentSnapshot)
	for _, snap := range torrents {
		id := trackerOf(snap)
		if _, known := byID[id]; !known {
			continue
		}
		groups[id] = append(groups[id], snap)
	}
	return groups, byID
}

func clampInt64(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
