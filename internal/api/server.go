// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package api wires the governor's HTTP surface (spec.md §6): health,
// stats, preview, force-cycle, webhook ingress, rollback, rollout, and
// config endpoints. Router assembly (chi + CORS + compression + recoverer)
// is grounded on the teacher's internal/api/router.go NewRouter.
package api

import (
	"net/http"
	"time"

	"github.com/CAFxX/httpcompression"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
)

// Deps bundles everything the HTTP handlers need.
type Deps struct {
	Handlers *Handlers
	Registry *prometheus.Registry
}

// NewRouter builds the chi router for the governor's HTTP API.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))

	if compressor, err := httpcompression.DefaultAdapter(); err != nil {
		log.Error().Err(err).Msg("api: failed to create HTTP compression adapter")
	} else {
		r.Use(compressor)
	}

	r.Use(cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
	}).Handler)

	h := deps.Handlers

	r.Get("/health", h.Health)
	r.Get("/stats", h.Stats)
	r.Get("/stats/trackers", h.TrackerStats)
	r.Get("/stats/managed", h.ManagedStats)
	r.Get("/preview/next-cycle", h.PreviewNextCycle)
	r.Post("/cycle/force", h.ForceCycle)
	r.Post("/webhook", h.Webhook)
	r.Post("/rollback", h.Rollback)
	r.Post("/limits/reset", h.ResetLimits)
	r.Post("/rollout", h.SetRollout)
	r.Post("/smoothing/reset", h.ResetSmoothing)
	r.Get("/config", h.GetConfig)
	r.Post("/config/reload", h.ReloadConfig)
	r.Get("/match/test", h.MatchTest)

	if deps.Registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{}))
	}

	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("api: request")
	})
}
