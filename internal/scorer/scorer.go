// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package scorer implements the activity scorer and selection cap used by
// the weighted/soft strategies' cycle-orchestrator selection phase
// (spec.md §4.8).
package scorer

import "github.com/autobrr/qbitgov/internal/domain"

const highSpeedThresholdBps = 10 * 1024

// Score computes a torrent's activity score in [0,1] as of nowEpoch, per
// spec.md §4.8: a recency baseline, an immediate-1.0 override for
// meaningfully-uploading torrents, and a peer-count boost.
func Score(t domain.TorrentSnapshot, nowEpoch int64) float64 {
	if t.UpspeedBps > highSpeedThresholdBps {
		return 1.0
	}

	ageSeconds := nowEpoch - t.LastActivityEpoch
	if ageSeconds < 0 {
		ageSeconds = 0
	}

	var base float64
	switch {
	case ageSeconds < 3600:
		base = 0.8
	case ageSeconds < 6*3600:
		base = 0.5
	case ageSeconds < 24*3600:
		base = 0.2
	default:
		base = 0
	}

	peers := t.NumPeers()
	switch {
	case peers > 20:
		base += 0.3
	case peers > 5:
		base += 0.1
	}

	if base > 1.0 {
		base = 1.0
	}
	return base
}

// Bucket classifies a score into the spec's named buckets, used for the
// {high, medium, low, ignored} stats distribution (spec.md §4.6 phase 3).
func Bucket(score float64) string {
	switch {
	case score >= domain.ScoreHigh:
		return "high"
	case score >= domain.ScoreMedium:
		return "medium"
	case score >= domain.ScoreLow:
		return "low"
	default:
		return "ignored"
	}
}

// ShouldManage implements spec.md §4.8's should_manage admission rule:
// always admit >=0.8; admit >=0.5 when slots remain; admit >0.3 only when
// many slots remain (>500).
func ShouldManage(score float64, slotsRemaining int) bool {
	if score >= domain.ScoreHigh {
		return true
	}
	if score >= domain.ScoreMedium && slotsRemaining > 0 {
		return true
	}
	if score > 0.3 && slotsRemaining > 500 {
		return true
	}
	return false
}

// Distribution is the {high, medium, low, ignored} count breakdown.
type Distribution struct {
	High    int
	Medium  int
	Low     int
	Ignored int
}

// Add tallies score's bucket into the distribution.
func (d *Distribution) Add(score float64) {
	switch Bucket(score) {
	case "high":
		d.High++
	case "medium":
		d.Medium++
	case "low":
		d.Low++
	default:
		d.Ignored++
	}
}
