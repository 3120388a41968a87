// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package allocation

import "github.com/autobrr/qbitgov/internal/domain"

// score computes the intra-tracker weighted score of spec.md §4.5.2:
// s = 0.6*min(peers/20, 1) + 0.4*min(upspeed/1MiB, 1).
func score(t domain.TorrentSnapshot) float64 {
	peerComponent := float64(t.NumPeers()) / 20.0
	if peerComponent > 1 {
		peerComponent = 1
	}
	speedComponent := float64(t.UpspeedBps) / float64(mib)
	if speedComponent > 1 {
		speedComponent = 1
	}
	return 0.6*peerComponent + 0.4*speedComponent
}

// Weighted implements spec.md §4.5.2.
func Weighted(torrents []domain.TorrentSnapshot, trackerOf func(domain.TorrentSnapshot) string, trackers []domain.TrackerConfig) Limits {
	groups, byID := groupByTracker(torrents, trackerOf, trackers)
	out := make(Limits, len(torrents))

	for id, group := range groups {
		tc := byID[id]
		if tc.MaxUploadBps <= 0 {
			for _, t := range group {
				out[t.Hash] = domain.Unlimited
			}
			continue
		}
		allocateWeighted(group, tc.MaxUploadBps, out)
	}

	return out
}

// allocateWeighted distributes cap across group per spec.md §4.5.2 steps 1-6,
// writing each torrent's hash -> limit into out.
func allocateWeighted(group []domain.TorrentSnapshot, cap int64, out Limits) {
	if len(group) == 1 {
		out[group[0].Hash] = cap
		return
	}

	ceiling := int64(0.6 * float64(cap))
	if ceiling < floorBps {
		ceiling = floorBps
	}

	scores := make([]float64, len(group))
	var sumScore float64
	for i, t := range group {
		scores[i] = score(t)
		sumScore += scores[i]
	}

	alloc := make([]float64, len(group))
	if sumScore == 0 {
		// Step 2: fall back to equal split.
		per := float64(cap) / float64(len(group))
		for i := range group {
			alloc[i] = per
		}
	} else {
		// Step 3: proportional allocation, then clamp.
		for i := range group {
			alloc[i] = float64(cap) * scores[i] / sumScore
		}
	}

	for i := range alloc {
		alloc[i] = clampFloat(alloc[i], floorBps, float64(ceiling))
	}

	redistribute(alloc, float64(cap), float64(ceiling), floorBps)

	limits := roundAndCorrect(alloc, cap, floorBps, ceiling)
	for i, t := range group {
		out[t.Hash] = limits[i]
	}
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// redistribute performs spec.md §4.5.2 steps 4-5: if the sum is under cap,
// spread the deficit proportionally to remaining headroom (ceiling-a_i); if
// over, reduce proportionally to the reducible amount (a_i-floor). Single
// pass, matching the spec's "one pass" wording.
func redistribute(alloc []float64, cap, ceiling, floor float64) {
	var sum float64
	for _, a := range alloc {
		sum += a
	}

	if sum < cap {
		deficit := cap - sum
		var headroomTotal float64
		headroom := make([]float64, len(alloc))
		for i, a := range alloc {
			headroom[i] = ceiling - a
			headroomTotal += headroom[i]
		}
		if headroomTotal <= 0 {
			return
		}
		for i := range alloc {
			alloc[i] += deficit * (headroom[i] / headroomTotal)
			if alloc[i] > ceiling {
				alloc[i] = ceiling
			}
		}
	} else if sum > cap {
		excess := sum - cap
		var reducibleTotal float64
		reducible := make([]float64, len(alloc))
		for i, a := range alloc {
			reducible[i] = a - floor
			if reducible[i] < 0 {
				reducible[i] = 0
			}
			reducibleTotal += reducible[i]
		}
		if reducibleTotal <= 0 {
			return
		}
		for i := range alloc {
			alloc[i] -= excess * (reducible[i] / reducibleTotal)
			if alloc[i] < floor {
				alloc[i] = floor
			}
		}
	}
}

// roundAndCorrect rounds alloc to integer bps, re-clamps into [floor,
// ceiling], then applies a final 1-bps-increment correction pass so the sum
// equals cap exactly while respecting bounds (spec.md §4.5.2 step 6).
func roundAndCorrect(alloc []float64, cap int64, floor, ceiling int64) []int64 {
	limits := make([]int64, len(alloc))
	var sum int64
	for i, a := range alloc {
		v := clampInt64(int64(a+0.5), floor, ceiling)
		limits[i] = v
		sum += v
	}

	diff := cap - sum
	if diff == 0 || len(limits) == 0 {
		return limits
	}

	step := int64(1)
	if diff < 0 {
		step = -1
	}
	remaining := diff
	for remaining != 0 {
		progressed := false
		for i := range limits {
			if remaining == 0 {
				break
			}
			next := limits[i] + step
			if next < floor || next > ceiling {
				continue
			}
			limits[i] = next
			remaining -= step
			progressed = true
		}
		if !progressed {
			// Bounds prevent exact correction (every limit already at
			// floor or ceiling); stop rather than loop forever, leaving the
			// sum off cap by whatever the bounds cannot absorb.
			break
		}
	}
	return limits
}
