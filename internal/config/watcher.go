// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package config

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog/log"
)

// Watcher polls a config file's modification time and invokes onChange
// with a freshly loaded Config whenever it changes. This is an
// external-collaborator concern per spec.md §1/§5 ("Config watcher: polls
// the config file's modification time") — a polling design, not an
// fsnotify event watcher, matching original_source/src/main.py's
// documented behavior for this component.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(*Config)
}

// NewWatcher creates a Watcher for path, checked every interval.
func NewWatcher(path string, interval time.Duration, onChange func(*Config)) *Watcher {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Watcher{path: path, interval: interval, onChange: onChange}
}

// Reload forces an immediate reload, bypassing the mtime check, so
// POST /config/reload doesn't have to wait out the poll interval.
func (w *Watcher) Reload() error {
	cfg, err := New(w.path)
	if err != nil {
		return err
	}
	w.onChange(cfg)
	return nil
}

// Run polls until ctx is cancelled. Reload failures are logged and do not
// stop the watcher; the previously loaded config remains live
// (spec.md §7: "Config errors at runtime: the reload is rejected and the
// previous config remains live").
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	var lastMod time.Time
	if info, err := os.Stat(w.path); err == nil {
		lastMod = info.ModTime()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			info, err := os.Stat(w.path)
			if err != nil {
				log.Warn().Err(err).Str("path", w.path).Msg("config watcher: stat failed")
				continue
			}
			if !info.ModTime().After(lastMod) {
				continue
			}

			cfg, err := New(w.path)
			if err != nil {
				log.Error().Err(err).Str("path", w.path).Msg("config watcher: reload rejected, previous config remains live")
				continue
			}

			lastMod = info.ModTime()
			log.Info().Str("path", w.path).Msg("config watcher: reloaded")
			w.onChange(cfg)
		}
	}
}
