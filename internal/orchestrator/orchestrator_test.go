// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package orchestrator

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	qbt "github.com/autobrr/go-qbittorrent"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/qbitgov/internal/allocation"
	"github.com/autobrr/qbitgov/internal/cache"
	"github.com/autobrr/qbitgov/internal/crossseed"
	"github.com/autobrr/qbitgov/internal/database"
	"github.com/autobrr/qbitgov/internal/domain"
	"github.com/autobrr/qbitgov/internal/dryrun"
	"github.com/autobrr/qbitgov/internal/rollback"
	"github.com/autobrr/qbitgov/internal/rollout"
	"github.com/autobrr/qbitgov/internal/trackermatch"
)

type fakeClient struct {
	torrents      []qbt.Torrent
	allTorrents   []qbt.Torrent
	trackerURLs   map[string]string
	appliedLimits map[string]int64
	applyErr      error
}

func (f *fakeClient) ActiveTorrents(ctx context.Context) ([]qbt.Torrent, error) {
	return f.torrents, nil
}

func (f *fakeClient) AllTorrents(ctx context.Context) ([]qbt.Torrent, error) {
	if f.allTorrents != nil {
		return f.allTorrents, nil
	}
	return f.torrents, nil
}

func (f *fakeClient) PrimaryTrackerURL(ctx context.Context, hash string) (string, error) {
	return f.trackerURLs[hash], nil
}

func (f *fakeClient) SetUploadLimits(ctx context.Context, limits map[string]int64) error {
	if f.applyErr != nil {
		return f.applyErr
	}
	if f.appliedLimits == nil {
		f.appliedLimits = make(map[string]int64)
	}
	for h, l := range limits {
		f.appliedLimits[h] = l
	}
	return nil
}

func newTestOrchestrator(t *testing.T, client TorrentClient, cfg domain.GlobalSettings, trackers []domain.TrackerConfig) *Orchestrator {
	t.Helper()
	matcher, err := trackermatch.New(trackers)
	require.NoError(t, err)

	c := cache.New(100)

	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	journal := rollback.New(db)

	dryStore, err := dryrun.Open(filepath.Join(t.TempDir(), "dry.json"))
	require.NoError(t, err)

	return New(client, matcher, c, journal, allocation.NewSoftEngine(), rollout.New(100), crossseed.New("", time.Second, 1), dryStore, cfg, trackers)
}

func testTrackers() []domain.TrackerConfig {
	return []domain.TrackerConfig{
		{ID: "private-a", Pattern: "private-a\\.example\\.com", MaxUploadBps: 1_000_000, Priority: 1},
		{ID: "default", Pattern: ".*"},
	}
}

func TestRunCycleAppliesAllocatedLimits(t *testing.T) {
	now := time.Now().Unix()
	client := &fakeClient{
		torrents: []qbt.Torrent{
			{Hash: "h1", Name: "t1", UpSpeed: 50_000, NumSeeds: 10, LastActivity: now},
			{Hash: "h2", Name: "t2", UpSpeed: 50_000, NumSeeds: 10, LastActivity: now},
		},
		trackerURLs: map[string]string{
			"h1": "https://private-a.example.com/announce",
			"h2": "https://private-a.example.com/announce",
		},
	}

	cfg := domain.DefaultConfig().Global
	cfg.RolloutPercentage = 100
	cfg.DifferentialThreshold = 0.0
	cfg.MaxAPICallsPerCycle = 500

	o := newTestOrchestrator(t, client, cfg, testTrackers())

	snap := o.RunCycle(context.Background(), false)
	require.NoError(t, snap.Err)
	assert.Equal(t, 2, snap.ManagedCount)
	assert.Len(t, client.appliedLimits, 2)
	assert.Equal(t, int64(500_000), client.appliedLimits["h1"])
	assert.Equal(t, int64(500_000), client.appliedLimits["h2"])
}

func TestPreviewDoesNotApplyOrJournal(t *testing.T) {
	now := time.Now().Unix()
	client := &fakeClient{
		torrents: []qbt.Torrent{
			{Hash: "h1", Name: "t1", UpSpeed: 50_000, NumSeeds: 10, LastActivity: now},
		},
		trackerURLs: map[string]string{"h1": "https://private-a.example.com/announce"},
	}

	cfg := domain.DefaultConfig().Global
	cfg.RolloutPercentage = 100
	cfg.DifferentialThreshold = 0.0

	o := newTestOrchestrator(t, client, cfg, testTrackers())

	snap := o.RunCycle(context.Background(), true)
	require.NoError(t, snap.Err)
	assert.Empty(t, client.appliedLimits, "preview must never push limits to the client")
}

func TestRunCycleMergesIdleCachedTorrents(t *testing.T) {
	now := time.Now().Unix()
	client := &fakeClient{
		torrents: []qbt.Torrent{
			{Hash: "h1", Name: "t1", UpSpeed: 50_000, NumSeeds: 10, LastActivity: now},
		},
		allTorrents: []qbt.Torrent{
			{Hash: "h1", Name: "t1", UpSpeed: 50_000, NumSeeds: 10, LastActivity: now},
			{Hash: "h2", Name: "t2", UpSpeed: 0, NumSeeds: 10, LastActivity: now},
		},
		trackerURLs: map[string]string{
			"h1": "https://private-a.example.com/announce",
			"h2": "https://private-a.example.com/announce",
		},
	}

	cfg := domain.DefaultConfig().Global
	cfg.RolloutPercentage = 100
	cfg.DifferentialThreshold = 0.0
	cfg.MaxAPICallsPerCycle = 500

	o := newTestOrchestrator(t, client, cfg, testTrackers())
	o.cache.Insert("h2", "private-a", 0, 200_000, now)

	snap := o.RunCycle(context.Background(), false)
	require.NoError(t, snap.Err)
	assert.Equal(t, 2, snap.ManagedCount, "idle-but-cached h2 must still be observed and managed this cycle")
}

func TestRunCycleSkipsCacheMirrorOnFailedApply(t *testing.T) {
	now := time.Now().Unix()
	client := &fakeClient{
		torrents: []qbt.Torrent{
			{Hash: "h1", Name: "t1", UpSpeed: 50_000, NumSeeds: 10, LastActivity: now},
		},
		trackerURLs: map[string]string{"h1": "https://private-a.example.com/announce"},
		applyErr:    errors.New("qbittorrent unreachable"),
	}

	cfg := domain.DefaultConfig().Global
	cfg.RolloutPercentage = 100
	cfg.DifferentialThreshold = 0.0
	cfg.MaxAPICallsPerCycle = 500

	o := newTestOrchestrator(t, client, cfg, testTrackers())

	snap := o.RunCycle(context.Background(), false)
	require.Error(t, snap.Err)

	_, ok := o.cache.Get("h1")
	assert.False(t, ok, "cache must not mirror a limit the client never confirmed applying")
}

func TestWebhookHooksMutateCache(t *testing.T) {
	client := &fakeClient{trackerURLs: map[string]string{}}
	cfg := domain.DefaultConfig().Global
	o := newTestOrchestrator(t, client, cfg, testTrackers())

	o.cache.Insert("h1", "private-a", 1000, 5000, time.Now().Unix())
	require.True(t, o.cache.Has("h1"))

	o.MarkForCheck("h1")
	entry, ok := o.cache.Get("h1")
	require.True(t, ok)
	assert.True(t, entry.NeedsUpdate)

	o.HandleDelete("h1")
	assert.False(t, o.cache.Has("h1"))
}
