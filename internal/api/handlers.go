// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	humanize "github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/qbitgov/internal/allocation"
	"github.com/autobrr/qbitgov/internal/cache"
	"github.com/autobrr/qbitgov/internal/config"
	"github.com/autobrr/qbitgov/internal/domain"
	"github.com/autobrr/qbitgov/internal/dryrun"
	"github.com/autobrr/qbitgov/internal/orchestrator"
	"github.com/autobrr/qbitgov/internal/rollback"
	"github.com/autobrr/qbitgov/internal/rollout"
	"github.com/autobrr/qbitgov/internal/trackermatch"
	"github.com/autobrr/qbitgov/internal/webhook"
)

// Handlers holds the collaborators the HTTP surface delegates to.
type Handlers struct {
	Orchestrator *orchestrator.Orchestrator
	Cache        *cache.Cache
	Journal      *rollback.Journal
	Matcher      *trackermatch.Matcher
	Rollout      *rollout.Gate
	SoftEngine   *allocation.SoftEngine
	Webhook      *webhook.Queue
	Config       *config.Config
	Client       orchestrator.TorrentClient
	DryStore     *dryrun.Store
	OnReload     func() error
	StartedAt    time.Time
}

// applyLimits pushes limits to the dry-run store when dry-run mode is
// active, or to the live client otherwise (spec.md §6 "/limits/reset ...
// respects dry-run", "/rollback ... applies it to the client in batches").
// The dry-run flag is read from h.Config, the document loaded at startup; a
// hot reload does not change it here.
func (h *Handlers) applyLimits(ctx context.Context, limits map[string]int64) error {
	if h.Config.Config.Global.DryRun {
		return h.DryStore.SetMany(limits)
	}
	return h.Client.SetUploadLimits(ctx, limits)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("api: encoding response failed")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// Health reports process liveness: status, uptime, rollout percentage,
// update interval, dry-run flag, and last-cycle stats (spec.md §6 GET
// /health). Status is "starting" until the first cycle completes, then
// "healthy", or "degraded" when the last cycle ended with an error; the
// handler never reports "unhealthy".
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	snap := h.Orchestrator.LastSnapshot()

	status := "starting"
	if snap.CycleCount > 0 {
		status = "healthy"
		if snap.Err != nil {
			status = "degraded"
		}
	}

	var uptimeSeconds float64
	if !h.StartedAt.IsZero() {
		uptimeSeconds = time.Since(h.StartedAt).Seconds()
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":           status,
		"uptime_seconds":   uptimeSeconds,
		"rollout_percent":  h.Rollout.Percentage(),
		"update_interval":  h.Config.Config.Global.UpdateInterval,
		"dry_run":          h.Config.Config.Global.DryRun,
		"cycle_count":      snap.CycleCount,
		"cycle_errors":     snap.CycleErrors,
		"last_cycle_at":    snap.StartedAt,
		"managed_torrents": snap.ManagedCount,
	})
}

// Stats reports the last cycle's aggregate state plus cache utilization
// (spec.md §6 GET /stats, supplemented with cache utilization/memory per
// original_source's get_detailed_stats).
func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	snap := h.Orchestrator.LastSnapshot()
	journalStats, err := h.Journal.GetStats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"cycle_started_at":       snap.StartedAt,
		"cycle_duration_seconds": snap.DurationSeconds,
		"managed_torrents":       snap.ManagedCount,
		"api_calls_used":         snap.APICallsUsed,
		"cache_len":              h.Cache.Len(),
		"cache_capacity":         h.Cache.Capacity(),
		"cache_utilization_pct":  h.Cache.UtilizationPercent(),
		"cache_memory_bytes":     h.Cache.EstimatedMemoryBytes(),
		"cache_memory_human":     humanize.IBytes(uint64(h.Cache.EstimatedMemoryBytes())),
		"rollback_total_entries": journalStats.TotalEntries,
		"rollback_unrestored":    journalStats.UnrestoredEntries,
		"matcher_cache_stats":    h.Matcher.GetCacheStats(),
	})
}

// TrackerStats reports per-tracker borrow/allocation state from the last
// cycle (spec.md §6 GET /stats/trackers, supplemented per original_source's
// per-tracker stats).
func (h *Handlers) TrackerStats(w http.ResponseWriter, r *http.Request) {
	snap := h.Orchestrator.LastSnapshot()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"trackers": snap.BorrowStats,
	})
}

// ManagedStats lists every currently cached managed-torrent row (spec.md §6
// GET /stats/managed).
func (h *Handlers) ManagedStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"managed": h.Cache.All(),
	})
}

// PreviewNextCycle runs a cycle in preview mode — no writes to qBittorrent,
// no rollback journaling, no smoothing mutation — and returns the proposed
// limits, per-tracker caps, and a humanized summary of the top changes
// (spec.md §4.5.3, §6 GET /preview/next-cycle).
func (h *Handlers) PreviewNextCycle(w http.ResponseWriter, r *http.Request) {
	snap := h.Orchestrator.RunCycle(r.Context(), true)
	writeJSON(w, http.StatusOK, snap)
}

// ForceCycle runs a real cycle immediately, outside its normal timer
// (spec.md §6 POST /cycle/force).
func (h *Handlers) ForceCycle(w http.ResponseWriter, r *http.Request) {
	snap := h.Orchestrator.RunCycle(r.Context(), false)
	writeJSON(w, http.StatusOK, snap)
}

// Webhook enqueues a torrent lifecycle event for asynchronous processing,
// acknowledging before the event is actually handled (spec.md §6 POST
// /webhook (form), §4.7 bounded-channel ingress). The public contract is
// form-encoded ({event, hash, name, tracker, category, tags, save_path})
// and always acks accepted — even on a parse error or a full queue — so a
// misbehaving or retrying client never sees a failure status (spec.md §4.7,
// §7 "Webhook parse errors: respond accepted, increment a parse-error
// counter, drop the event").
func (h *Handlers) Webhook(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.Webhook.IncParseError()
		writeJSON(w, http.StatusAccepted, map[string]bool{"accepted": true})
		return
	}

	hash := r.FormValue("hash")
	evType, err := webhook.ParseEventType(r.FormValue("event"))
	if hash == "" || err != nil {
		h.Webhook.IncParseError()
		writeJSON(w, http.StatusAccepted, map[string]bool{"accepted": true})
		return
	}

	accepted := h.Webhook.Enqueue(webhook.Event{
		Type:    evType,
		Hash:    hash,
		Tracker: r.FormValue("tracker"),
	})
	writeJSON(w, http.StatusAccepted, map[string]bool{"accepted": accepted})
}

type rollbackRequest struct {
	Confirm bool   `json:"confirm"`
	Reason  string `json:"reason"`
}

// Rollback restores every unrestored previously-managed torrent to its
// pre-management upload limit: resolves unrestored_by_hash, applies the
// result to the client (or dry-run store) in one batch, then marks the
// journal rows restored (spec.md §6 POST /rollback). Refuses without
// explicit confirmation (spec.md §6, §7).
func (h *Handlers) Rollback(w http.ResponseWriter, r *http.Request) {
	var req rollbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if !req.Confirm {
		writeError(w, http.StatusBadRequest, "rollback requires confirmation: set confirm=true")
		return
	}

	ctx := r.Context()
	limits, err := h.Journal.UnrestoredByHash(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if len(limits) == 0 {
		writeJSON(w, http.StatusOK, map[string]int64{"restored": 0})
		return
	}

	if err := h.applyLimits(ctx, limits); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	hashes := make([]string, 0, len(limits))
	for hash := range limits {
		hashes = append(hashes, hash)
	}
	affected, err := h.Journal.MarkRestored(ctx, hashes)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"restored": affected, "limits": limits, "reason": req.Reason})
}

type limitsResetRequest struct {
	Confirm      bool   `json:"confirm"`
	Scope        string `json:"scope"`
	MarkRestored bool   `json:"mark_restored"`
}

// ResetLimits sets the upload limit back to unlimited (-1) for a scoped set
// of hashes recorded in the rollback journal — "unrestored" (default) or
// "all" — applying to the client or dry-run store as appropriate, then
// optionally marking those journal rows restored (spec.md §6 POST
// /limits/reset). Refuses without explicit confirmation (spec.md §6, §7).
func (h *Handlers) ResetLimits(w http.ResponseWriter, r *http.Request) {
	var req limitsResetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if !req.Confirm {
		writeError(w, http.StatusBadRequest, "limits reset requires confirmation: set confirm=true")
		return
	}

	ctx := r.Context()
	includeRestored := req.Scope == "all"
	hashes, err := h.Journal.DistinctHashes(ctx, includeRestored)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if len(hashes) == 0 {
		writeJSON(w, http.StatusOK, map[string]int{"cleared": 0})
		return
	}

	limits := make(map[string]int64, len(hashes))
	for _, hash := range hashes {
		limits[hash] = domain.Unlimited
	}
	if err := h.applyLimits(ctx, limits); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	for _, hash := range hashes {
		h.Cache.SetCurrentLimit(hash, domain.Unlimited)
	}

	var restored int64
	if req.MarkRestored {
		restored, err = h.Journal.MarkRestored(ctx, hashes)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"cleared": len(hashes), "restored": restored})
}

type rolloutRequest struct {
	Percentage int `json:"percentage"`
}

// SetRollout adjusts the live rollout percentage gate (spec.md §4.5, §6
// POST /rollout).
func (h *Handlers) SetRollout(w http.ResponseWriter, r *http.Request) {
	var req rolloutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	h.Rollout.SetPercentage(req.Percentage)
	writeJSON(w, http.StatusOK, map[string]int{"percentage": h.Rollout.Percentage()})
}

type smoothingResetRequest struct {
	TrackerID string `json:"tracker_id"`
}

// ResetSmoothing clears soft-strategy smoothing state, globally or for one
// tracker (spec.md §6 POST /smoothing/reset).
func (h *Handlers) ResetSmoothing(w http.ResponseWriter, r *http.Request) {
	var req smoothingResetRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	if req.TrackerID == "" {
		h.SoftEngine.ResetAll()
	} else {
		h.SoftEngine.ResetTracker(req.TrackerID)
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// GetConfig returns the configuration document the process was started
// with (spec.md §6 GET /config). A hot reload updates the matcher, rollout
// gate and orchestrator settings but does not replace this document, so
// reloaded values are not shown here.
func (h *Handlers) GetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Config.Config)
}

// ReloadConfig re-reads the config file from disk and swaps it in if valid
// (spec.md §6 POST /config/reload, §7 hot reload).
func (h *Handlers) ReloadConfig(w http.ResponseWriter, r *http.Request) {
	if h.OnReload == nil {
		writeError(w, http.StatusNotImplemented, "reload not wired")
		return
	}
	if err := h.OnReload(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"reloaded": true})
}

// MatchTest reports how a given tracker URL would be classified, with an
// optional detailed breakdown (spec.md §6 GET /match/test, supplemented
// per original_source's test_pattern_match).
func (h *Handlers) MatchTest(w http.ResponseWriter, r *http.Request) {
	url := r.URL.Query().Get("url")
	if url == "" {
		writeError(w, http.StatusBadRequest, "url query parameter is required")
		return
	}

	detailed, _ := strconv.ParseBool(r.URL.Query().Get("detailed"))
	if !detailed {
		writeJSON(w, http.StatusOK, map[string]string{"tracker_id": h.Matcher.Match(url)})
		return
	}

	result := h.Matcher.TestMatch(url)
	writeJSON(w, http.StatusOK, result)
}
