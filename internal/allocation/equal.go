// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package allocation

import "github.com/autobrr/qbitgov/internal/domain"

// Equal implements spec.md §4.5.1: within a group of size k and cap C, a
// single torrent gets C; otherwise each gets max(floor(C/k), floorBps). The
// floor may push the sum above C; that is accepted (spec.md §8 invariant 2
// and Open Question (a)).
func Equal(torrents []domain.TorrentSnapshot, trackerOf func(domain.TorrentSnapshot) string, trackers []domain.TrackerConfig) Limits {
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

		k := int64(len(group))
		if k == 1 {
			out[group[0].Hash] = tc.MaxUploadBps
			continue
		}

		per := tc.MaxUploadBps / k
		if per < floorBps {
			per = floorBps
		}
		for _, t := range group {
			out[t.Hash] = per
		}
	}

	return out
}
