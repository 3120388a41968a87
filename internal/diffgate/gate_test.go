// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package diffgate

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUnlimitedBoundaryAlwaysTriggers(t *testing.T) {
	assert.True(t, NeedsUpdate(1_000_000, -1, 0.2))
	assert.True(t, NeedsUpdate(-1, 1_000_000, 0.2))
}

func TestBothUnlimitedNeverTriggers(t *testing.T) {
	assert.False(t, NeedsUpdate(-1, -1, 0.2))
	assert.False(t, NeedsUpdate(0, -1, 0.2))
}

func TestEqualValuesNeverTrigger(t *testing.T) {
	assert.False(t, NeedsUpdate(1_000_000, 1_000_000, 0.2))
}

func TestLowBandAbsoluteOnly(t *testing.T) {
	assert.False(t, NeedsUpdate(20*kib, 25*kib, 0.2))
	assert.True(t, NeedsUpdate(20*kib, 35*kib, 0.2))
}

func TestMidBandAbsoluteOrRelative(t *testing.T) {
	assert.True(t, NeedsUpdate(200*kib, 260*kib, 0.2))  // abs > 50KiB
	assert.False(t, NeedsUpdate(800*kib, 820*kib, 0.9)) // neither abs nor rel
}

func TestHighBandRequiresBothAbsoluteAndRelative(t *testing.T) {
	// S5 from spec.md §8: current=1,000,000, new=1,100,000, threshold=0.2 -> false
	assert.False(t, NeedsUpdate(1_000_000, 1_100_000, 0.2))
}
