// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package rollback

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/qbitgov/internal/database"
	"github.com/autobrr/qbitgov/internal/domain"
)

func newTestJournal(t *testing.T) *Journal {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rollback.db")
	db, err := database.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db)
}

// S6 — Rollback journal.
func TestS6RollbackJournal(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	n, err := j.RecordBatch(ctx, []domain.RollbackEntry{
		{TorrentHash: "hA", OldLimit: -1, NewLimit: 2_000_000, TrackerID: "t", Timestamp: 1},
		{TorrentHash: "hB", OldLimit: -1, NewLimit: 1_500_000, TrackerID: "t", Timestamp: 1},
		{TorrentHash: "hC", OldLimit: 500_000, NewLimit: 250_000, TrackerID: "t", Timestamp: 1},
	}, true)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	unrestored, err := j.UnrestoredByHash(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"hA": -1, "hB": -1, "hC": 500_000}, unrestored)

	affected, err := j.MarkRestored(ctx, []string{"hA", "hB", "hC"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), affected)

	unrestored, err = j.UnrestoredByHash(ctx)
	require.NoError(t, err)
	assert.Empty(t, unrestored)
}

func TestRecordBatchSkipsNoOps(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	n, err := j.RecordBatch(ctx, []domain.RollbackEntry{
		{TorrentHash: "h1", OldLimit: 1000, NewLimit: 1000, TrackerID: "t", Timestamp: 1},
	}, true)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestUnrestoredByHashReturnsEarliestEntry(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	_, err := j.RecordBatch(ctx, []domain.RollbackEntry{
		{TorrentHash: "h1", OldLimit: 1_000_000, NewLimit: 800_000, TrackerID: "t", Timestamp: 1},
	}, true)
	require.NoError(t, err)

	_, err = j.RecordBatch(ctx, []domain.RollbackEntry{
		{TorrentHash: "h1", OldLimit: 800_000, NewLimit: 600_000, TrackerID: "t", Timestamp: 2},
	}, true)
	require.NoError(t, err)

	unrestored, err := j.UnrestoredByHash(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1_000_000), unrestored["h1"], "must restore to the original pre-management limit, not an intermediate one")
}

func TestCleanupOnlyDeletesRestoredRows(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	_, err := j.RecordBatch(ctx, []domain.RollbackEntry{
		{TorrentHash: "h1", OldLimit: -1, NewLimit: 1000, TrackerID: "t", Timestamp: 1},
	}, true)
	require.NoError(t, err)

	affected, err := j.Cleanup(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(0), affected, "unrestored rows must never be cleaned up")
}
