// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package qbittorrent wraps github.com/autobrr/go-qbittorrent for the
// single qBittorrent instance this governor manages. Authentication,
// re-auth-on-403, and the consecutive-failure circuit breaker are the only
// in-scope collaborator behavior (spec.md §1 Out of Scope names the
// client's auth/rate-limit/breaker as an external collaborator specified
// only by interface; this package is that collaborator's concrete, trivial
// implementation, grounded on the teacher's internal/qbittorrent/client.go
// single-instance Client wrapper).
package qbittorrent

import (
	"context"
	"fmt"
	"io"
	stdlog "log"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	qbt "github.com/autobrr/go-qbittorrent"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// filteredWriter wraps stderr to filter out HTTP "unsolicited response"
// errors. qBittorrent occasionally sends extra HTTP responses after the
// main request completes; Go's HTTP client logs "Unsolicited response
// received on idle HTTP channel" for these. It's cosmetic noise.
type filteredWriter struct {
	writer io.Writer
}

func (fw *filteredWriter) Write(p []byte) (int, error) {
	if strings.Contains(string(p), "Unsolicited response received on idle HTTP channel") {
		return len(p), nil
	}
	return fw.writer.Write(p)
}

func init() {
	stdlog.SetOutput(&filteredWriter{writer: os.Stderr})
}

const maxUploadLimitBatchSize = 50

// Client wraps a single qBittorrent Web API v2 session with re-auth-on-403
// and a consecutive-failure circuit breaker.
type Client struct {
	*qbt.Client

	webAPIVersion   string
	supportsBatched bool

	mu                  sync.RWMutex
	isHealthy           bool
	lastHealthCheck     time.Time
	consecutiveFailures int
	breakerTrippedAt    time.Time
	breakerThreshold    int
	breakerCooldown     time.Duration
}

// New authenticates against host with username/password and returns a
// ready Client.
func New(host, username, password string, timeoutSeconds int) (*Client, error) {
	if timeoutSeconds <= 0 {
		timeoutSeconds = 30
	}

	qbtClient := qbt.NewClient(qbt.Config{
		Host:     host,
		Username: username,
		Password: password,
		Timeout:  timeoutSeconds,
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeoutSeconds)*time.Second)
	defer cancel()

	if err := qbtClient.LoginCtx(ctx); err != nil {
		return nil, errors.Wrap(err, "qbittorrent: login failed")
	}

	webAPIVersion, err := qbtClient.GetWebAPIVersionCtx(ctx)
	if err != nil {
		webAPIVersion = ""
	}

	supportsBatched := true
	if webAPIVersion != "" {
		if v, err := semver.NewVersion(webAPIVersion); err == nil {
			minVersion := semver.MustParse("2.8.1")
			supportsBatched = !v.LessThan(minVersion)
		}
	}

	c := &Client{
		Client:           qbtClient,
		webAPIVersion:    webAPIVersion,
		supportsBatched:  supportsBatched,
		isHealthy:        true,
		lastHealthCheck:  time.Now(),
		breakerThreshold: 5,
		breakerCooldown:  60 * time.Second,
	}

	log.Info().Str("host", host).Str("webAPIVersion", webAPIVersion).Msg("qbittorrent: authenticated")
	return c, nil
}

// IsHealthy reports the client's last known health state.
func (c *Client) IsHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isHealthy
}

// BreakerOpen reports whether the circuit breaker is currently open —
// tripped after breakerThreshold consecutive failures, re-closing after
// breakerCooldown (spec.md §5, §7).
func (c *Client) BreakerOpen() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.consecutiveFailures < c.breakerThreshold {
		return false
	}
	return time.Since(c.breakerTrippedAt) < c.breakerCooldown
}

func (c *Client) recordSuccess() {
	c.mu.Lock()
	c.consecutiveFailures = 0
	c.isHealthy = true
	c.lastHealthCheck = time.Now()
	c.mu.Unlock()
}

func (c *Client) recordFailure() {
	c.mu.Lock()
	c.consecutiveFailures++
	if c.consecutiveFailures >= c.breakerThreshold {
		c.breakerTrippedAt = time.Now()
		c.isHealthy = false
	}
	c.lastHealthCheck = time.Now()
	c.mu.Unlock()
}

// withReauth retries fn exactly once after a fresh login if fn's
// first attempt failed with a 403 (spec.md §7 "Auth expiry (403):
// transparently re-authenticated once; the original request is retried
// exactly once").
func (c *Client) withReauth(ctx context.Context, fn func(context.Context) error) error {
	if c.BreakerOpen() {
		return fmt.Errorf("qbittorrent: circuit breaker open")
	}

	err := fn(ctx)
	if err == nil {
		c.recordSuccess()
		return nil
	}
	if !isForbidden(err) {
		c.recordFailure()
		return err
	}

	if loginErr := c.LoginCtx(ctx); loginErr != nil {
		c.recordFailure()
		return errors.Wrap(loginErr, "qbittorrent: re-auth after 403 failed")
	}
	if err := fn(ctx); err != nil {
		c.recordFailure()
		return err
	}
	c.recordSuccess()
	return nil
}

func isForbidden(err error) bool {
	return err != nil && strings.Contains(err.Error(), fmt.Sprintf("%d", http.StatusForbidden))
}

// ActiveTorrents lists torrents with filter=active (spec.md §6).
func (c *Client) ActiveTorrents(ctx context.Context) ([]qbt.Torrent, error) {
	var out []qbt.Torrent
	err := c.withReauth(ctx, func(ctx context.Context) error {
		torrents, err := c.GetTorrentsCtx(ctx, qbt.TorrentFilterOptions{Filter: qbt.TorrentFilterActive})
		if err != nil {
			return err
		}
		out = torrents
		return nil
	})
	return out, err
}

// AllTorrents lists every torrent known to the client, regardless of
// activity (spec.md §4.6 phase 1: merging cached-but-idle hashes).
func (c *Client) AllTorrents(ctx context.Context) ([]qbt.Torrent, error) {
	var out []qbt.Torrent
	err := c.withReauth(ctx, func(ctx context.Context) error {
		torrents, err := c.GetTorrentsCtx(ctx, qbt.TorrentFilterOptions{})
		if err != nil {
			return err
		}
		out = torrents
		return nil
	})
	return out, err
}

// PrimaryTrackerURL selects the torrent's first working tracker (status=2)
// else the first non-DHT/PeX/LSD pseudo-tracker URL (spec.md §6).
func (c *Client) PrimaryTrackerURL(ctx context.Context, hash string) (string, error) {
	var trackers []qbt.TorrentTracker
	err := c.withReauth(ctx, func(ctx context.Context) error {
		t, err := c.GetTorrentTrackersCtx(ctx, hash)
		if err != nil {
			return err
		}
		trackers = t
		return nil
	})
	if err != nil {
		return "", err
	}

	for _, tr := range trackers {
		if tr.Status == qbt.TrackerStatusOK {
			return tr.Url, nil
		}
	}
	for _, tr := range trackers {
		if !isPseudoTracker(tr.Url) {
			return tr.Url, nil
		}
	}
	return "", nil
}

func isPseudoTracker(url string) bool {
	return strings.HasPrefix(url, "**") || url == "" || strings.Contains(url, "[DHT]") || strings.Contains(url, "[PeX]") || strings.Contains(url, "[LSD]")
}

// SetUploadLimits pushes limits in batches, grouping hashes by identical
// limit value and paging into batches of 50 with a small inter-batch
// delay (spec.md §6).
func (c *Client) SetUploadLimits(ctx context.Context, limits map[string]int64) error {
	byLimit := make(map[int64][]string)
	for hash, limit := range limits {
		byLimit[limit] = append(byLimit[limit], hash)
	}

	for limit, hashes := range byLimit {
		for start := 0; start < len(hashes); start += maxUploadLimitBatchSize {
			end := start + maxUploadLimitBatchSize
			if end > len(hashes) {
				end = len(hashes)
			}
			batch := hashes[start:end]

			err := c.withReauth(ctx, func(ctx context.Context) error {
				return c.SetTorrentUploadLimitCtx(ctx, batch, limit)
			})
			if err != nil {
				return errors.Wrapf(err, "qbittorrent: setting upload limit for %d hashes", len(batch))
			}

			if end < len(hashes) {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(100 * time.Millisecond):
				}
			}
		}
	}
	return nil
}

