// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package crossseed forwards limit-change notifications to an external
// cross-seed coordinator as a one-shot, best-effort POST with bounded
// retries (spec.md §4.7). Retry shape is grounded on the teacher's
// go-qbittorrent http.go retryDo pattern (retry.Do/retry.Attempts/
// retry.OnRetry), adapted from an HTTP-client internal to a fire-and-
// forget external notification.
package crossseed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/avast/retry-go"
	"github.com/rs/zerolog/log"
)

// Event is the payload forwarded on every limit change (spec.md §4.7).
type Event struct {
	TorrentHash string `json:"torrent_hash"`
	TrackerID   string `json:"tracker_id"`
	OldLimit    int64  `json:"old_limit"`
	NewLimit    int64  `json:"new_limit"`
	Timestamp   int64  `json:"timestamp"`
}

// Forwarder posts Events to a configured webhook URL.
type Forwarder struct {
	url     string
	client  *http.Client
	enabled bool
	retries uint
}

// New builds a Forwarder. An empty url disables forwarding entirely.
func New(url string, timeout time.Duration, retries uint) *Forwarder {
	return &Forwarder{
		url:     url,
		client:  &http.Client{Timeout: timeout},
		enabled: url != "",
		retries: retries,
	}
}

// Enabled reports whether a forward URL was configured.
func (f *Forwarder) Enabled() bool {
	return f != nil && f.enabled
}

// Forward posts ev to the configured URL, retrying transient failures.
// It never blocks the caller beyond its own retry budget and never
// returns an error that should abort the governing cycle (spec.md §7:
// "cross-seed forwarding failures are logged and otherwise ignored").
func (f *Forwarder) Forward(ctx context.Context, ev Event) {
	if !f.Enabled() {
		return
	}

	body, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Str("hash", ev.TorrentHash).Msg("crossseed: encoding event failed")
		return
	}

	err = retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, bytes.NewReader(body))
			if err != nil {
				return retry.Unrecoverable(err)
			}
			req.Header.Set("Content-Type", "application/json")

			resp, err := f.client.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			if resp.StatusCode >= 500 {
				return fmt.Errorf("crossseed: server error %d", resp.StatusCode)
			}
			if resp.StatusCode >= 400 {
				return retry.Unrecoverable(fmt.Errorf("crossseed: client error %d", resp.StatusCode))
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(f.retries),
		retry.MaxJitter(500*time.Millisecond),
		retry.OnRetry(func(n uint, err error) {
			log.Warn().Err(err).Uint("attempt", n).Str("hash", ev.TorrentHash).Msg("crossseed: retrying forward")
		}),
	)
	if err != nil {
		log.Error().Err(err).Str("hash", ev.TorrentHash).Msg("crossseed: forward failed, giving up")
	}
}
