// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package qbittorrent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsForbidden(t *testing.T) {
	assert.True(t, isForbidden(errAssertString("qbittorrent: request failed: 403")))
	assert.False(t, isForbidden(errAssertString("qbittorrent: request failed: 500")))
	assert.False(t, isForbidden(nil))
}

func TestIsPseudoTracker(t *testing.T) {
	assert.True(t, isPseudoTracker("**[DHT]**"))
	assert.True(t, isPseudoTracker(""))
	assert.False(t, isPseudoTracker("https://tracker.example.com/announce"))
}

func TestBreakerTripsAfterConsecutiveFailures(t *testing.T) {
	c := &Client{breakerThreshold: 3, breakerCooldown: 0, isHealthy: true}

	c.recordFailure()
	assert.False(t, c.BreakerOpen())
	c.recordFailure()
	assert.False(t, c.BreakerOpen())
	c.recordFailure()
	assert.True(t, c.consecutiveFailures >= 3)

	c.recordSuccess()
	assert.Equal(t, 0, c.consecutiveFailures)
	assert.True(t, c.IsHealthy())
}

func TestBreakerClosesAfterCooldown(t *testing.T) {
	c := &Client{breakerThreshold: 1, breakerCooldown: 0}
	c.recordFailure()
	assert.False(t, c.BreakerOpen(), "zero cooldown should close the breaker immediately")
}

type errAssertString string

func (e errAssertString) Error() string { return string(e) }
