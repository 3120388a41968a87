// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	qbt "github.com/autobrr/go-qbittorrent"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/qbitgov/internal/allocation"
	"github.com/autobrr/qbitgov/internal/cache"
	"github.com/autobrr/qbitgov/internal/config"
	"github.com/autobrr/qbitgov/internal/crossseed"
	"github.com/autobrr/qbitgov/internal/database"
	"github.com/autobrr/qbitgov/internal/domain"
	"github.com/autobrr/qbitgov/internal/dryrun"
	"github.com/autobrr/qbitgov/internal/orchestrator"
	"github.com/autobrr/qbitgov/internal/rollback"
	"github.com/autobrr/qbitgov/internal/rollout"
	"github.com/autobrr/qbitgov/internal/trackermatch"
	"github.com/autobrr/qbitgov/internal/webhook"
)

type stubClient struct {
	applied map[string]int64
}

func (stubClient) ActiveTorrents(ctx context.Context) ([]qbt.Torrent, error) { return nil, nil }
func (stubClient) AllTorrents(ctx context.Context) ([]qbt.Torrent, error)    { return nil, nil }
func (stubClient) PrimaryTrackerURL(ctx context.Context, hash string) (string, error) {
	return "", nil
}
func (s *stubClient) SetUploadLimits(ctx context.Context, limits map[string]int64) error {
	if s.applied == nil {
		s.applied = make(map[string]int64)
	}
	for h, l := range limits {
		s.applied[h] = l
	}
	return nil
}

func newTestHandlers(t *testing.T) *Handlers {
	t.Helper()

	trackers := []domain.TrackerConfig{
		{ID: "private-a", Pattern: "private-a\\.example\\.com", MaxUploadBps: 1_000_000, Priority: 1},
		{ID: "default", Pattern: ".*"},
	}
	matcher, err := trackermatch.New(trackers)
	require.NoError(t, err)

	c := cache.New(10)

	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	journal := rollback.New(db)

	dryStore, err := dryrun.Open(filepath.Join(t.TempDir(), "dry.json"))
	require.NoError(t, err)

	client := &stubClient{}
	cfg := domain.DefaultConfig().Global
	orch := orchestrator.New(client, matcher, c, journal, allocation.NewSoftEngine(),
		rollout.New(100), crossseed.New("", time.Second, 1), dryStore, cfg, trackers)

	qCfg := &config.Config{Config: domain.DefaultConfig()}

	return &Handlers{
		Orchestrator: orch,
		Cache:        c,
		Journal:      journal,
		Matcher:      matcher,
		Rollout:      rollout.New(100),
		SoftEngine:   allocation.NewSoftEngine(),
		Webhook:      webhook.New(10, func(ctx context.Context, ev webhook.Event) {}),
		Config:       qCfg,
		Client:       client,
		DryStore:     dryStore,
		StartedAt:    time.Now(),
	}
}

func TestHealthHandler(t *testing.T) {
	h := newTestHandlers(t)
	r := NewRouter(Deps{Handlers: h})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMatchTestHandler(t *testing.T) {
	h := newTestHandlers(t)
	r := NewRouter(Deps{Handlers: h})

	req := httptest.NewRequest(http.MethodGet, "/match/test?url=https://private-a.example.com/announce", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, "private-a", body["tracker_id"])
}

func TestMatchTestHandlerRequiresURL(t *testing.T) {
	h := newTestHandlers(t)
	r := NewRouter(Deps{Handlers: h})

	req := httptest.NewRequest(http.MethodGet, "/match/test", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func formRequest(method, target string, form url.Values) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func TestWebhookHandlerAcceptsValidEvent(t *testing.T) {
	h := newTestHandlers(t)
	r := NewRouter(Deps{Handlers: h})

	form := url.Values{"event": {"add"}, "hash": {"abc123"}}
	req := formRequest(http.MethodPost, "/webhook", form)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusAccepted, w.Code)
	var body map[string]bool
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.True(t, body["accepted"])
}

// TestWebhookHandlerAcksMalformedRequests covers spec.md §7's "Webhook
// parse errors: respond accepted, increment a parse-error counter, drop
// the event" — a client must never see a failure status from /webhook,
// even when the event kind is unknown or the hash is missing.
func TestWebhookHandlerAcksMalformedRequests(t *testing.T) {
	h := newTestHandlers(t)
	r := NewRouter(Deps{Handlers: h})

	cases := []url.Values{
		{"event": {"add"}},              // missing hash
		{"event": {"bogus"}, "hash": {"abc123"}}, // unknown event kind
	}

	for _, form := range cases {
		req := formRequest(http.MethodPost, "/webhook", form)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusAccepted, w.Code)
	}

	assert.Equal(t, int64(len(cases)), h.Webhook.ParseErrorCount())
}

func jsonRequest(method, target string, body map[string]interface{}) *http.Request {
	raw, _ := json.Marshal(body)
	req := httptest.NewRequest(method, target, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestRollbackRequiresConfirmation(t *testing.T) {
	h := newTestHandlers(t)
	r := NewRouter(Deps{Handlers: h})

	req := jsonRequest(http.MethodPost, "/rollback", map[string]interface{}{})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRollbackAppliesUnrestoredLimitsAndMarksRestored(t *testing.T) {
	h := newTestHandlers(t)
	r := NewRouter(Deps{Handlers: h})

	ctx := context.Background()
	_, err := h.Journal.RecordBatch(ctx, []domain.RollbackEntry{
		{TorrentHash: "h1", OldLimit: 500_000, NewLimit: 100_000, TrackerID: "private-a"},
	}, true)
	require.NoError(t, err)

	req := jsonRequest(http.MethodPost, "/rollback", map[string]interface{}{"confirm": true})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	client := h.Client.(*stubClient)
	assert.Equal(t, int64(500_000), client.applied["h1"], "rollback must push the pre-management limit back to the client")

	remaining, err := h.Journal.UnrestoredByHash(ctx)
	require.NoError(t, err)
	assert.Empty(t, remaining, "rollback must mark the journal row restored after applying")
}

func TestResetLimitsRequiresConfirmation(t *testing.T) {
	h := newTestHandlers(t)
	r := NewRouter(Deps{Handlers: h})

	req := jsonRequest(http.MethodPost, "/limits/reset", map[string]interface{}{"scope": "all"})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestResetLimitsPushesUnlimitedForScope(t *testing.T) {
	h := newTestHandlers(t)
	r := NewRouter(Deps{Handlers: h})

	ctx := context.Background()
	_, err := h.Journal.RecordBatch(ctx, []domain.RollbackEntry{
		{TorrentHash: "h1", OldLimit: 500_000, NewLimit: 100_000, TrackerID: "private-a"},
	}, true)
	require.NoError(t, err)
	h.Cache.Insert("h1", "private-a", 0, 100_000, time.Now().Unix())

	req := jsonRequest(http.MethodPost, "/limits/reset", map[string]interface{}{
		"confirm":       true,
		"scope":         "unrestored",
		"mark_restored": true,
	})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	client := h.Client.(*stubClient)
	assert.Equal(t, domain.Unlimited, client.applied["h1"])

	entry, ok := h.Cache.Get("h1")
	require.True(t, ok)
	assert.Equal(t, domain.Unlimited, entry.CurrentLimitBps)

	remaining, err := h.Journal.UnrestoredByHash(ctx)
	require.NoError(t, err)
	assert.Empty(t, remaining, "mark_restored=true must clear the journal rows")
}

func TestRolloutHandlerUpdatesPercentage(t *testing.T) {
	h := newTestHandlers(t)
	r := NewRouter(Deps{Handlers: h})

	body, _ := json.Marshal(map[string]int{"percentage": 42})
	req := httptest.NewRequest(http.MethodPost, "/rollout", bytes.NewReader(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 42, h.Rollout.Percentage())
}

func TestPreviewNextCycleDoesNotTouchClient(t *testing.T) {
	h := newTestHandlers(t)
	r := NewRouter(Deps{Handlers: h})

	req := httptest.NewRequest(http.MethodGet, "/preview/next-cycle", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	client := h.Client.(*stubClient)
	assert.Empty(t, client.applied, "preview must never push limits to the client")
}

func TestGetConfigReturnsLoadedConfig(t *testing.T) {
	h := newTestHandlers(t)
	r := NewRouter(Deps{Handlers: h})

	req := httptest.NewRequest(http.MethodGet, "/config", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}
