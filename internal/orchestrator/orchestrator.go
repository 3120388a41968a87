// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package orchestrator runs the governing cycle (spec.md §4.6): on every
// tick it lists torrents, matches trackers, scores activity, computes
// allocation, applies the differential gate, pushes limits, and journals
// rollback entries. Loop shape (ticker + Start(ctx) + select-driven
// goroutine) is grounded on the teacher's internal/services/reannounce/
// service.go Start/loop pattern.
package orchestrator

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	qbt "github.com/autobrr/go-qbittorrent"

	"github.com/autobrr/qbitgov/internal/allocation"
	"github.com/autobrr/qbitgov/internal/cache"
	"github.com/autobrr/qbitgov/internal/crossseed"
	"github.com/autobrr/qbitgov/internal/diffgate"
	"github.com/autobrr/qbitgov/internal/domain"
	"github.com/autobrr/qbitgov/internal/dryrun"
	"github.com/autobrr/qbitgov/internal/rollback"
	"github.com/autobrr/qbitgov/internal/rollout"
	"github.com/autobrr/qbitgov/internal/scorer"
	"github.com/autobrr/qbitgov/internal/trackermatch"
)

// Clock abstracts "now" for testability.
type Clock func() time.Time

// TorrentClient is the subset of *qbittorrent.Client the orchestrator
// drives, narrowed to an interface so cycle logic is testable without a
// live qBittorrent instance.
type TorrentClient interface {
	ActiveTorrents(ctx context.Context) ([]qbt.Torrent, error)
	AllTorrents(ctx context.Context) ([]qbt.Torrent, error)
	PrimaryTrackerURL(ctx context.Context, hash string) (string, error)
	SetUploadLimits(ctx context.Context, limits map[string]int64) error
}

// Orchestrator runs the governing cycle on a timer.
type Orchestrator struct {
	client    TorrentClient
	matcher   *trackermatch.Matcher
	cache     *cache.Cache
	journal   *rollback.Journal
	soft      *allocation.SoftEngine
	rollout   *rollout.Gate
	forwarder *crossseed.Forwarder
	dryStore  *dryrun.Store
	clock     Clock

	mu           sync.RWMutex
	cfg          domain.GlobalSettings
	trackers     []domain.TrackerConfig
	lastSnapshot Snapshot
}

// Snapshot is the most recently completed cycle's reporting state, read by
// the API and metrics layers (spec.md §6 GET /stats, GET /preview/next-cycle).
type Snapshot struct {
	StartedAt       time.Time
	DurationSeconds float64
	ManagedCount    int
	APICallsUsed    int
	Limits          allocation.Limits
	BorrowStats     []allocation.TrackerBorrowStats
	Summary         []string
	Err             error
	CycleCount      int64
	CycleErrors     int64
}

// New builds an Orchestrator.
func New(client TorrentClient, matcher *trackermatch.Matcher, c *cache.Cache, journal *rollback.Journal,
	soft *allocation.SoftEngine, gate *rollout.Gate, forwarder *crossseed.Forwarder, dryStore *dryrun.Store,
	cfg domain.GlobalSettings, trackers []domain.TrackerConfig) *Orchestrator {
	return &Orchestrator{
		client:    client,
		matcher:   matcher,
		cache:     c,
		journal:   journal,
		soft:      soft,
		rollout:   gate,
		forwarder: forwarder,
		dryStore:  dryStore,
		clock:     time.Now,
		cfg:       cfg,
		trackers:  trackers,
	}
}

// UpdateConfig hot-swaps the active config/tracker set between cycles
// (spec.md §7 hot reload).
func (o *Orchestrator) UpdateConfig(cfg domain.GlobalSettings, trackers []domain.TrackerConfig) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cfg = cfg
	o.trackers = trackers
}

func (o *Orchestrator) snapshotConfig() (domain.GlobalSettings, []domain.TrackerConfig) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.cfg, o.trackers
}

// Start runs the cycle on cfg.UpdateInterval until ctx is cancelled.
func (o *Orchestrator) Start(ctx context.Context) error {
	cfg, _ := o.snapshotConfig()
	ticker := time.NewTicker(cfg.UpdateIntervalDuration())
	defer ticker.Stop()

	o.RunCycle(ctx, false)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			o.RunCycle(ctx, false)
		}
	}
}

// MarkForCheck sets the cached row's needs-update flag for hash, the
// "add"/"complete" webhook hook from spec.md §4.7. The flag is reported
// through GET /stats/managed; the cycle re-evaluates every admitted torrent
// on each run and does not read it. A hash not in the cache is ignored.
func (o *Orchestrator) MarkForCheck(hash string) {
	o.cache.SetNeedsUpdate(hash, true)
}

// ScheduleTrackerUpdate is the "add" event's tracker-URL hook named in
// spec.md §4.7. It calls MarkForCheck(hash) and does not use trackerURL:
// the cycle looks up the primary tracker of every rollout-admitted torrent
// on each run, and the matcher cache is keyed on URL, not hash, so there is
// nothing per-hash to invalidate.
func (o *Orchestrator) ScheduleTrackerUpdate(hash, trackerURL string) {
	o.MarkForCheck(hash)
}

// HandleDelete removes hash from the managed cache, the "delete" webhook
// hook from spec.md §4.7.
func (o *Orchestrator) HandleDelete(hash string) {
	o.cache.Remove(hash)
}

// ForwardComplete notifies the cross-seed coordinator of a completed
// torrent's current limit, the "complete" webhook hook from spec.md §4.7.
func (o *Orchestrator) ForwardComplete(ctx context.Context, hash string) {
	if !o.forwarder.Enabled() {
		return
	}
	entry, ok := o.cache.Get(hash)
	if !ok {
		return
	}
	o.forwarder.Forward(ctx, crossseed.Event{
		TorrentHash: hash,
		TrackerID:   entry.TrackerID,
		OldLimit:    entry.CurrentLimitBps,
		NewLimit:    entry.CurrentLimitBps,
		Timestamp:   o.clock().Unix(),
	})
}

// LastSnapshot returns the most recently completed cycle's state.
func (o *Orchestrator) LastSnapshot() Snapshot {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.lastSnapshot
}

// RunCycle executes the 11-phase governing cycle once. When preview is
// true, no limits are pushed to qBittorrent and no rollback entries or
// smoothing state are persisted (spec.md §6 GET /preview/next-cycle).
func (o *Orchestrator) RunCycle(ctx context.Context, preview bool) Snapshot {
	start := o.clock()
	cfg, trackers := o.snapshotConfig()
	snap := Snapshot{StartedAt: start}

	// Phase 1: list active torrents, merge in cached-but-now-idle hashes so
	// they can be swept/auto-unlimited instead of going stale in the cache
	// mid-TTL (spec.md §4.6 phase 1).
	active, err := o.client.ActiveTorrents(ctx)
	if err != nil {
		snap.Err = err
		snap.DurationSeconds = time.Since(start).Seconds()
		o.commitSnapshot(snap)
		return snap
	}
	snap.APICallsUsed++

	now := o.clock().Unix()
	snapshots := make([]domain.TorrentSnapshot, 0, len(active))
	activeHashes := make(map[string]struct{}, len(active))
	for _, t := range active {
		activeHashes[t.Hash] = struct{}{}
		snapshots = append(snapshots, toSnapshot(t))
	}

	var idleCached []string
	for _, entry := range o.cache.All() {
		if _, ok := activeHashes[entry.Hash]; !ok {
			idleCached = append(idleCached, entry.Hash)
		}
	}
	if len(idleCached) > 0 {
		all, err := o.client.AllTorrents(ctx)
		if err != nil {
			log.Error().Err(err).Msg("orchestrator: fetching all torrents for idle-cache merge failed")
		} else {
			snap.APICallsUsed++
			idleSet := make(map[string]struct{}, len(idleCached))
			for _, h := range idleCached {
				idleSet[h] = struct{}{}
			}
			for _, t := range all {
				if _, ok := idleSet[t.Hash]; ok {
					snapshots = append(snapshots, toSnapshot(t))
				}
			}
		}
	}

	// Phase 2: tracker matching, with a rollout gate deciding whether each
	// hash is under management this cycle at all (spec.md §4.5).
	trackerByHash := make(map[string]string, len(snapshots))
	managed := make([]domain.TorrentSnapshot, 0, len(snapshots))
	for i, s := range snapshots {
		if !o.rollout.Admit(s.Hash) {
			continue
		}
		primary, err := o.client.PrimaryTrackerURL(ctx, s.Hash)
		if err != nil {
			continue
		}
		snap.APICallsUsed++
		trackerID := o.matcher.Match(primary)
		snapshots[i].TrackerURL = primary
		trackerByHash[s.Hash] = trackerID
		managed = append(managed, snapshots[i])
	}
	trackerOf := func(t domain.TorrentSnapshot) string { return trackerByHash[t.Hash] }

	// Phase 3: activity scoring and admission (spec.md §4.2). Selection
	// applies to the weighted and soft strategies; under equal every
	// rollout-admitted torrent is managed.
	slotsRemaining := cfg.MaxManagedTorrents - o.cache.Len()
	admitted := make([]domain.TorrentSnapshot, 0, len(managed))
	for _, s := range managed {
		if cfg.AllocationStrategy == domain.StrategyEqual {
			admitted = append(admitted, s)
			continue
		}
		score := scorer.Score(s, now)
		if scorer.ShouldManage(score, slotsRemaining) {
			admitted = append(admitted, s)
			slotsRemaining--
		}
	}
	snap.ManagedCount = len(admitted)

	// Phase 4: allocation (spec.md §4.4).
	var limits allocation.Limits
	var borrowStats []allocation.TrackerBorrowStats
	switch cfg.AllocationStrategy {
	case domain.StrategyWeighted:
		limits = allocation.Weighted(admitted, trackerOf, trackers)
	case domain.StrategySoft:
		limits, borrowStats = o.soft.Compute(admitted, trackerOf, trackers, allocation.SoftParams{
			BorrowThresholdRatio: cfg.BorrowThresholdRatio,
			MaxBorrowFraction:    cfg.MaxBorrowFraction,
			SmoothingAlpha:       cfg.SmoothingAlpha,
			MinEffectiveDelta:    cfg.MinEffectiveDelta,
		}, preview)
	default:
		limits = allocation.Equal(admitted, trackerOf, trackers)
	}
	snap.Limits = limits
	snap.BorrowStats = borrowStats

	// Phase 5: differential gate — only push changes that clear the
	// threshold (spec.md §4.4).
	toApply := make(map[string]int64)
	var rollbackEntries []domain.RollbackEntry
	for _, s := range admitted {
		newLimit, ok := limits[s.Hash]
		if !ok {
			continue
		}
		current, hasCurrent := o.cache.GetLimit(s.Hash)
		if !hasCurrent {
			current = s.CurrentLimitBps
		}
		if !diffgate.NeedsUpdate(current, newLimit, cfg.DifferentialThreshold) {
			continue
		}
		toApply[s.Hash] = newLimit
		rollbackEntries = append(rollbackEntries, domain.RollbackEntry{
			TorrentHash: s.Hash,
			OldLimit:    current,
			NewLimit:    newLimit,
			TrackerID:   trackerByHash[s.Hash],
			Timestamp:   float64(now),
		})
	}

	// Phase 6: auto-unlimit torrents that fell out of management entirely.
	if cfg.AutoUnlimitOnInactive {
		admittedSet := make(map[string]struct{}, len(admitted))
		for _, s := range admitted {
			admittedSet[s.Hash] = struct{}{}
		}
		for _, entry := range o.cache.All() {
			if _, stillManaged := admittedSet[entry.Hash]; stillManaged {
				continue
			}
			if entry.CurrentLimitBps == domain.Unlimited {
				continue
			}
			toApply[entry.Hash] = domain.Unlimited
			rollbackEntries = append(rollbackEntries, domain.RollbackEntry{
				TorrentHash: entry.Hash,
				OldLimit:    entry.CurrentLimitBps,
				NewLimit:    domain.Unlimited,
				TrackerID:   entry.TrackerID,
				Timestamp:   float64(now),
				Reason:      "auto_unlimit_inactive",
			})
		}
	}

	snap.Summary = allocation.Summarize(rollbackEntries, 5)

	// Phase 7: apply limits — to the dry-run store or to qBittorrent.
	pushed := false
	if len(toApply) > 0 && snap.APICallsUsed+len(toApply) <= cfg.MaxAPICallsPerCycle {
		if cfg.DryRun || preview {
			if cfg.DryRun && !preview {
				pushed = o.dryStore.SetMany(toApply) == nil
			}
		} else {
			if err := o.client.SetUploadLimits(ctx, toApply); err != nil {
				log.Error().Err(err).Msg("orchestrator: applying upload limits failed")
				snap.Err = err
			} else {
				pushed = true
			}
			snap.APICallsUsed++
		}
	}

	// Phase 8: journal rollback entries (skipped entirely for previews).
	if !preview && !cfg.DryRun && len(rollbackEntries) > 0 {
		if _, err := o.journal.RecordBatch(ctx, rollbackEntries, true); err != nil {
			log.Error().Err(err).Msg("orchestrator: recording rollback batch failed")
		}
	}

	// Phase 9: forward changes to the cross-seed coordinator.
	if !preview && o.forwarder.Enabled() {
		for hash, newLimit := range toApply {
			old, _ := o.cache.GetLimit(hash)
			o.forwarder.Forward(ctx, crossseed.Event{
				TorrentHash: hash,
				TrackerID:   trackerByHash[hash],
				OldLimit:    old,
				NewLimit:    newLimit,
				Timestamp:   now,
			})
		}
	}

	// Phase 10: refresh the cache with this cycle's observed state. A hash's
	// mirror write happens-after the client (or dry-run store) confirms that
	// hash's write, so a batch that failed or was never sent must not mirror
	// the limits it carried (spec.md §5). A hash with no change to ship keeps
	// the limit the client is believed to hold.
	if !preview {
		for _, s := range admitted {
			limit, proposed := toApply[s.Hash]
			if proposed && !pushed {
				continue
			}
			if !proposed {
				limit = s.CurrentLimitBps
				if cached, ok := o.cache.GetLimit(s.Hash); ok {
					limit = cached
				}
			}
			if o.cache.Has(s.Hash) {
				o.cache.Update(s.Hash, s.UpspeedBps, limit, now)
			} else {
				o.cache.Insert(s.Hash, trackerByHash[s.Hash], s.UpspeedBps, limit, now)
			}
		}
		o.cache.Sweep(now, int64(cfg.CacheTTL().Seconds()))
	}

	// Phase 11: publish the cycle snapshot.
	snap.DurationSeconds = time.Since(start).Seconds()
	if !preview {
		o.commitSnapshot(snap)
	}
	return snap
}

// toSnapshot converts a qBittorrent API torrent record into the domain
// shape the cycle scores and allocates against.
func toSnapshot(t qbt.Torrent) domain.TorrentSnapshot {
	var tags []string
	if t.Tags != "" {
		tags = strings.Split(t.Tags, ", ")
	}
	currentLimit := t.UpLimit
	if currentLimit <= 0 {
		currentLimit = domain.Unlimited
	}
	return domain.TorrentSnapshot{
		Hash:              t.Hash,
		Name:              t.Name,
		State:             string(t.State),
		UpspeedBps:        t.UpSpeed,
		NumSeeds:          int(t.NumSeeds),
		NumLeeches:        int(t.NumLeechs),
		Ratio:             t.Ratio,
		LastActivityEpoch: t.LastActivity,
		Category:          t.Category,
		Tags:              tags,
		CurrentLimitBps:   currentLimit,
	}
}

func (o *Orchestrator) commitSnapshot(s Snapshot) {
	o.mu.Lock()
	s.CycleCount = o.lastSnapshot.CycleCount + 1
	s.CycleErrors = o.lastSnapshot.CycleErrors
	if s.Err != nil {
		s.CycleErrors++
	}
	o.lastSnapshot = s
	o.mu.Unlock()
}
