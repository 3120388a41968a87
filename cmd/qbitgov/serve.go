// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/autobrr/qbitgov/internal/allocation"
	"github.com/autobrr/qbitgov/internal/api"
	"github.com/autobrr/qbitgov/internal/cache"
	"github.com/autobrr/qbitgov/internal/config"
	"github.com/autobrr/qbitgov/internal/crossseed"
	"github.com/autobrr/qbitgov/internal/database"
	"github.com/autobrr/qbitgov/internal/dryrun"
	"github.com/autobrr/qbitgov/internal/metrics"
	"github.com/autobrr/qbitgov/internal/orchestrator"
	"github.com/autobrr/qbitgov/internal/qbittorrent"
	"github.com/autobrr/qbitgov/internal/rollback"
	"github.com/autobrr/qbitgov/internal/rollout"
	"github.com/autobrr/qbitgov/internal/supervisor"
	"github.com/autobrr/qbitgov/internal/trackermatch"
	"github.com/autobrr/qbitgov/internal/webhook"
)

func runServeCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the governing cycle, webhook ingress and HTTP API (default command)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), *configPath)
		},
	}
}

func serve(ctx context.Context, configPath string) error {
	cfg, err := config.New(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	configureLogging(cfg.Config.Logging)
	log.Info().Str("config", configPath).Msg("qbitgov: starting")

	db, err := database.Open(cfg.GetDatabasePath())
	if err != nil {
		return fmt.Errorf("opening rollback database: %w", err)
	}
	defer db.Close()
	journal := rollback.New(db)

	qbtHost := fmt.Sprintf("http://%s:%d", cfg.Config.QBittorrent.Host, cfg.Config.QBittorrent.Port)
	client, err := qbittorrent.New(qbtHost, cfg.Config.QBittorrent.Username, cfg.Config.QBittorrent.Password, cfg.Config.QBittorrent.Timeout)
	if err != nil {
		return fmt.Errorf("connecting to qBittorrent: %w", err)
	}

	matcher, err := trackermatch.New(cfg.Config.Trackers)
	if err != nil {
		return fmt.Errorf("compiling tracker patterns: %w", err)
	}

	torrentCache := cache.New(cfg.Config.Global.MaxManagedTorrents)
	soft := allocation.NewSoftEngine()
	gate := rollout.New(cfg.Config.Global.RolloutPercentage)

	forwarder := crossseed.New(cfg.Config.CrossSeed.URL, time.Duration(cfg.Config.CrossSeed.Timeout)*time.Second, 3)
	if !cfg.Config.CrossSeed.Enabled {
		forwarder = crossseed.New("", time.Second, 0)
	}

	dryStore, err := dryrun.Open(cfg.Config.Global.DryRunStorePath)
	if err != nil {
		return fmt.Errorf("opening dry-run store: %w", err)
	}

	orch := orchestrator.New(client, matcher, torrentCache, journal, soft, gate, forwarder, dryStore,
		cfg.Config.Global, cfg.Config.Trackers)

	webhookQueue := webhook.New(1000, webhookHandler(orch))

	watcher := config.NewWatcher(configPath, 5*time.Second, func(reloaded *config.Config) {
		if err := matcher.UpdateConfigs(reloaded.Config.Trackers); err != nil {
			log.Error().Err(err).Msg("qbitgov: hot-reload rejected invalid tracker patterns, keeping previous set")
			return
		}
		gate.SetPercentage(reloaded.Config.Global.RolloutPercentage)
		orch.UpdateConfig(reloaded.Config.Global, reloaded.Config.Trackers)
	})

	collector := metrics.NewCollector(func() metrics.CycleSnapshot {
		snap := orch.LastSnapshot()
		trackers := make([]metrics.TrackerSnapshot, 0, len(snap.BorrowStats))
		for _, t := range snap.BorrowStats {
			trackers = append(trackers, metrics.TrackerSnapshot{
				TrackerID:       t.TrackerID,
				ManagedCount:    len(torrentCache.ByTracker(t.TrackerID)),
				EffectiveCapBps: t.EffectiveCap,
				BorrowedBps:     t.BorrowedBps,
			})
		}
		return metrics.CycleSnapshot{
			CycleDurationSeconds: snap.DurationSeconds,
			CycleCount:           snap.CycleCount,
			CycleErrors:          snap.CycleErrors,
			ManagedTorrents:      snap.ManagedCount,
			CacheUtilization:     torrentCache.UtilizationPercent() / 100,
			APICallsLastCycle:    snap.APICallsUsed,
			Trackers:             trackers,
		}
	})
	registry := metrics.Registry(collector)

	handlers := &api.Handlers{
		Orchestrator: orch,
		Cache:        torrentCache,
		Journal:      journal,
		Matcher:      matcher,
		Rollout:      gate,
		SoftEngine:   soft,
		Webhook:      webhookQueue,
		Config:       cfg,
		Client:       client,
		DryStore:     dryStore,
		OnReload:     watcher.Reload,
		StartedAt:    time.Now(),
	}
	router := api.NewRouter(api.Deps{Handlers: handlers, Registry: registry})

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Config.Global.Host, cfg.Config.Global.Port),
		Handler: router,
	}

	sv := supervisor.New(orch, webhookQueue, watcher, server)
	return sv.Run(ctx)
}

// webhookHandler dispatches queue-drained events to the orchestrator hooks
// named in spec.md §4.7 ("add" → mark-for-check + schedule-tracker-update,
// "complete" → forward-to-cross-seed + mark-for-check, "delete" → cache
// remove).
func webhookHandler(orch *orchestrator.Orchestrator) webhook.Handler {
	return func(ctx context.Context, ev webhook.Event) {
		switch ev.Type {
		case webhook.EventAdded:
			if ev.Tracker != "" {
				orch.ScheduleTrackerUpdate(ev.Hash, ev.Tracker)
			} else {
				orch.MarkForCheck(ev.Hash)
			}
		case webhook.EventComplete:
			orch.ForwardComplete(ctx, ev.Hash)
			orch.MarkForCheck(ev.Hash)
		case webhook.EventDeleted:
			orch.HandleDelete(ev.Hash)
		}
	}
}
