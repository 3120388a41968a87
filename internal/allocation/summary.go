// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package allocation

import (
	"fmt"
	"sort"

	humanize "github.com/dustin/go-humanize"

	"github.com/autobrr/qbitgov/internal/domain"
)

// Summarize renders the topN largest proposed changes in entries as short
// human-readable lines, largest absolute delta first (spec.md §4.5.3, §6 GET
// /preview/next-cycle "a humanized summary of the top changes"). topN <= 0
// means no cap.
func Summarize(entries []domain.RollbackEntry, topN int) []string {
	if len(entries) == 0 {
		return nil
	}

	sorted := make([]domain.RollbackEntry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool {
		return absDelta(sorted[i]) > absDelta(sorted[j])
	})

	if topN > 0 && len(sorted) > topN {
		sorted = sorted[:topN]
	}

	lines := make([]string, 0, len(sorted))
	for _, e := range sorted {
		lines = append(lines, fmt.Sprintf("%s (%s): %s -> %s",
			e.TorrentHash, e.TrackerID, humanizeLimit(e.OldLimit), humanizeLimit(e.NewLimit)))
	}
	return lines
}

func humanizeLimit(limitBps int64) string {
	if limitBps == domain.Unlimited {
		return "unlimited"
	}
	return humanize.Bytes(uint64(limitBps)) + "/s"
}

func absDelta(e domain.RollbackEntry) int64 {
	d := e.NewLimit - e.OldLimit
	if d < 0 {
		return -d
	}
	return d
}
