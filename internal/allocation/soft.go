// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package allocation

import (
	"sync"

	"github.com/autobrr/qbitgov/internal/domain"
)

// SoftParams carries the tunables of spec.md §4.5.3, sourced from
// domain.GlobalSettings.
type SoftParams struct {
	BorrowThresholdRatio float64
	MaxBorrowFraction    float64
	SmoothingAlpha       float64
	MinEffectiveDelta    float64
}

// TrackerBorrowStats reports one tracker's borrow outcome for a cycle,
// consumed by the preview endpoint and by GET /stats/trackers.
type TrackerBorrowStats struct {
	TrackerID    string
	BaseCapBps   int64
	EffectiveCap int64
	BorrowedBps  int64
}

// SoftEngine computes the soft (cross-tracker borrowing with smoothing)
// strategy. Unlike Equal and Weighted it carries state — the previous
// cycle's smoothed effective cap per tracker — so it is a struct rather
// than a free function (spec.md §5: "private to the orchestrator, mutated
// only inside phase 5/6 of a real, non-preview cycle").
type SoftEngine struct {
	mu        sync.Mutex
	smoothing map[string]float64
}

// NewSoftEngine creates an engine with empty smoothing state.
func NewSoftEngine() *SoftEngine {
	return &SoftEngine{smoothing: make(map[string]float64)}
}

// ResetTracker clears one tracker's smoothing state.
func (e *SoftEngine) ResetTracker(trackerID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.smoothing, trackerID)
}

// ResetAll clears every tracker's smoothing state.
func (e *SoftEngine) ResetAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.smoothing = make(map[string]float64)
}

// Compute runs the soft strategy. When preview is true, smoothing state is
// read but never mutated (spec.md §4.5.3 "Preview mode").
func (e *SoftEngine) Compute(
	torrents []domain.TorrentSnapshot,
	trackerOf func(domain.TorrentSnapshot) string,
	trackers []domain.TrackerConfig,
	params SoftParams,
	preview bool,
) (Limits, []TrackerBorrowStats) {
	groups, _ := groupByTracker(torrents, trackerOf, trackers)
	out := make(Limits, len(torrents))

	type trackerCalc struct {
		tc      domain.TrackerConfig
		group   []domain.TorrentSnapshot
		usage   float64
		slack   float64
		demand  float64
		unlimited bool
	}

	calcs := make(map[string]*trackerCalc, len(trackers))
	var pool float64
	var demandTotal float64

	for _, tc := range trackers {
		group := groups[tc.ID]
		c := &trackerCalc{tc: tc, group: group}
		calcs[tc.ID] = c

		if tc.MaxUploadBps <= 0 {
			c.unlimited = true
			continue
		}

		for _, t := range group {
			c.usage += float64(t.UpspeedBps)
		}

		threshold := float64(tc.MaxUploadBps) * params.BorrowThresholdRatio
		c.slack = maxFloat(0, threshold-c.usage)
		pool += c.slack

		if c.usage > threshold {
			c.demand = float64(tc.Priority) * maxFloat(0, c.usage-threshold)
			demandTotal += c.demand
		}
	}

	stats := make([]TrackerBorrowStats, 0, len(trackers))

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, tc := range trackers {
		c := calcs[tc.ID]

		if c.unlimited {
			for _, t := range c.group {
				out[t.Hash] = domain.Unlimited
			}
			stats = append(stats, TrackerBorrowStats{TrackerID: tc.ID, BaseCapBps: tc.MaxUploadBps, EffectiveCap: domain.Unlimited})
			continue
		}

		var borrowGrant float64
		if c.demand > 0 && demandTotal > 0 {
			borrowGrant = minFloat(float64(tc.MaxUploadBps)*params.MaxBorrowFraction, pool*c.demand/demandTotal)
		}

		rawEffectiveCap := float64(tc.MaxUploadBps) + borrowGrant

		previous, hadPrevious := e.smoothing[tc.ID]
		var effectiveCap float64
		if !hadPrevious {
			effectiveCap = rawEffectiveCap
		} else {
			smoothed := params.SmoothingAlpha*rawEffectiveCap + (1-params.SmoothingAlpha)*previous
			relDelta := 0.0
			if previous != 0 {
				relDelta = absFloat(smoothed-previous) / absFloat(previous)
			}
			if relDelta < params.MinEffectiveDelta {
				effectiveCap = previous
			} else {
				effectiveCap = smoothed
			}
		}

		if !preview {
			e.smoothing[tc.ID] = effectiveCap
		}

		effectiveCapInt := int64(effectiveCap)
		allocateWeighted(c.group, effectiveCapInt, out)

		stats = append(stats, TrackerBorrowStats{
			TrackerID:    tc.ID,
			BaseCapBps:   tc.MaxUploadBps,
			EffectiveCap: effectiveCapInt,
			BorrowedBps:  effectiveCapInt - tc.MaxUploadBps,
		})
	}

	return out, stats
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func absFloat(a float64) float64 {
	if a < 0 {
		return -a
	}
	return a
}
