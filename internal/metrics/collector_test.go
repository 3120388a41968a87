// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorExportsCycleAndTrackerMetrics(t *testing.T) {
	c := NewCollector(func() CycleSnapshot {
		return CycleSnapshot{
			CycleDurationSeconds: 1.5,
			CycleCount:           3,
			ManagedTorrents:      42,
			CacheUtilization:     0.1,
			Trackers: []TrackerSnapshot{
				{TrackerID: "private-a", ManagedCount: 10, EffectiveCapBps: 1_000_000, BorrowedBps: 100_000},
			},
		}
	})

	reg := Registry(c)
	metricFamilies, err := reg.Gather()
	require.NoError(t, err)

	var gotCap, gotManaged bool
	for _, mf := range metricFamilies {
		switch mf.GetName() {
		case "qbitgov_tracker_effective_cap_bps":
			require.Len(t, mf.Metric, 1)
			assert.Equal(t, float64(1_000_000), mf.Metric[0].GetGauge().GetValue())
			gotCap = true
		case "qbitgov_managed_torrents":
			require.Len(t, mf.Metric, 1)
			assert.Equal(t, float64(42), mf.Metric[0].GetGauge().GetValue())
			gotManaged = true
		}
	}
	assert.True(t, gotCap, "expected qbitgov_tracker_effective_cap_bps to be registered")
	assert.True(t, gotManaged, "expected qbitgov_managed_torrents to be registered")
}
