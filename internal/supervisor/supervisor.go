// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package supervisor runs the governor's long-lived background loops
// (cycle orchestrator, webhook worker, config poller, HTTP server) under a
// single errgroup so that any one of them exiting tears the rest down,
// grounded on the errgroup.WithContext/eg.Go fan-out shape used for
// component supervision in the retrieved reference pack.
package supervisor

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const gracefulShutdownTimeout = 10 * time.Second

// Cycle is the narrow interface the cycle orchestrator satisfies.
type Cycle interface {
	Start(ctx context.Context) error
}

// WebhookWorker is the narrow interface the webhook queue satisfies.
type WebhookWorker interface {
	Run(ctx context.Context) error
}

// ConfigPoller is the narrow interface the config watcher satisfies.
type ConfigPoller interface {
	Run(ctx context.Context)
}

// Supervisor owns the governor's background tasks and its HTTP server.
type Supervisor struct {
	cycle   Cycle
	webhook WebhookWorker
	poller  ConfigPoller
	server  *http.Server
}

// New assembles a Supervisor. poller may be nil when hot-reload is disabled.
func New(cycle Cycle, webhook WebhookWorker, poller ConfigPoller, server *http.Server) *Supervisor {
	return &Supervisor{cycle: cycle, webhook: webhook, poller: poller, server: server}
}

// Run starts every component and blocks until one exits or ctx is
// cancelled, then shuts the HTTP server down gracefully and returns the
// first non-context-cancellation error encountered.
func (s *Supervisor) Run(ctx context.Context) error {
	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		return s.cycle.Start(egCtx)
	})

	eg.Go(func() error {
		return s.webhook.Run(egCtx)
	})

	if s.poller != nil {
		eg.Go(func() error {
			s.poller.Run(egCtx)
			return nil
		})
	}

	eg.Go(func() error {
		log.Info().Str("addr", s.server.Addr).Msg("supervisor: starting HTTP server")
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	eg.Go(func() error {
		<-egCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("supervisor: HTTP server shutdown error")
		}
		return nil
	})

	err := eg.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
