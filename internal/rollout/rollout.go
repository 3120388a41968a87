// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package rollout implements the deterministic hash-modulo rollout gate
// (spec.md §4.8), replacing the Python reference's
// md5(hash)[:8]-as-int-mod-100 (original_source/src/allocation.py
// GradualRollout) with xxhash, matching internal/trackermatch's digest
// choice.
package rollout

import "github.com/cespare/xxhash/v2"

// Gate admits a torrent hash into the rollout subset when its digest modulo
// 100 is below the configured percentage.
type Gate struct {
	percentage int
}

// New creates a Gate, clamping percentage into [1, 100] per spec.md §4.8.
func New(percentage int) *Gate {
	if percentage < 1 {
		percentage = 1
	}
	if percentage > 100 {
		percentage = 100
	}
	return &Gate{percentage: percentage}
}

// Percentage returns the gate's current rollout percentage.
func (g *Gate) Percentage() int {
	return g.percentage
}

// SetPercentage updates the rollout percentage, clamping into [1, 100].
func (g *Gate) SetPercentage(percentage int) {
	if percentage < 1 {
		percentage = 1
	}
	if percentage > 100 {
		percentage = 100
	}
	g.percentage = percentage
}

// Admit reports whether hash is admitted under the current percentage. It
// is deterministic: the same hash always yields the same decision for a
// fixed percentage (spec.md §8 invariant 7).
func (g *Gate) Admit(hash string) bool {
	return Admit(hash, g.percentage)
}

// Admit is the pure, stateless form of the rollout decision, used directly
// by tests and by callers that don't need a long-lived Gate.
func Admit(hash string, percentage int) bool {
	if percentage >= 100 {
		return true
	}
	return int(xxhash.Sum64String(hash)%100) < percentage
}
