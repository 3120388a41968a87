// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

import "time"

// RollbackEntry is one durable row of the rollback journal.
type RollbackEntry struct {
	ID         int64
	TorrentHash string
	OldLimit   int64
	NewLimit   int64
	TrackerID  string
	Timestamp  float64
	Reason     string
	Restored   bool
	CreatedAt  time.Time
}
