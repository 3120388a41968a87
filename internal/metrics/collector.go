// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package metrics exposes the governor's Prometheus metrics (spec.md §6
// GET /metrics). Grounded on the teacher's internal/metrics/collector's
// custom-Collector-with-Desc-fields pattern (internal/metrics/collector/
// torrent.go), adapted from instance-scoped qBittorrent gauges to
// cycle/tracker/cache governor gauges.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// TrackerSnapshot is one tracker's allocation state as of the last cycle.
type TrackerSnapshot struct {
	TrackerID      string
	ManagedCount   int
	EffectiveCapBps int64
	BorrowedBps    int64
}

// CycleSnapshot is the governor's state as of the last completed cycle,
// read by Collect on every /metrics scrape.
type CycleSnapshot struct {
	CycleDurationSeconds float64
	CycleCount           int64
	CycleErrors          int64
	ManagedTorrents      int
	CacheUtilization     float64
	APICallsLastCycle    int
	Trackers             []TrackerSnapshot
}

// Collector implements prometheus.Collector by reading a caller-supplied
// snapshot function on every scrape, avoiding a separate update path.
type Collector struct {
	mu       sync.Mutex
	snapshot func() CycleSnapshot

	cycleDurationDesc   *prometheus.Desc
	cycleCountDesc      *prometheus.Desc
	cycleErrorsDesc     *prometheus.Desc
	managedTorrentsDesc *prometheus.Desc
	cacheUtilDesc       *prometheus.Desc
	apiCallsDesc        *prometheus.Desc
	trackerManagedDesc  *prometheus.Desc
	trackerCapDesc      *prometheus.Desc
	trackerBorrowedDesc *prometheus.Desc
}

// NewCollector builds a Collector that calls snapshot() on each scrape.
func NewCollector(snapshot func() CycleSnapshot) *Collector {
	return &Collector{
		snapshot: snapshot,

		cycleDurationDesc: prometheus.NewDesc(
			"qbitgov_cycle_duration_seconds", "Duration of the most recent governing cycle", nil, nil),
		cycleCountDesc: prometheus.NewDesc(
			"qbitgov_cycles_total", "Total governing cycles completed", nil, nil),
		cycleErrorsDesc: prometheus.NewDesc(
			"qbitgov_cycle_errors_total", "Total governing cycles that ended with an error", nil, nil),
		managedTorrentsDesc: prometheus.NewDesc(
			"qbitgov_managed_torrents", "Number of torrents currently under management", nil, nil),
		cacheUtilDesc: prometheus.NewDesc(
			"qbitgov_cache_utilization_ratio", "Fraction of the torrent cache's capacity in use", nil, nil),
		apiCallsDesc: prometheus.NewDesc(
			"qbitgov_api_calls_last_cycle", "qBittorrent API calls made during the last cycle", nil, nil),
		trackerManagedDesc: prometheus.NewDesc(
			"qbitgov_tracker_managed_torrents", "Torrents managed per tracker", []string{"tracker_id"}, nil),
		trackerCapDesc: prometheus.NewDesc(
			"qbitgov_tracker_effective_cap_bps", "Effective upload cap per tracker in bytes/sec", []string{"tracker_id"}, nil),
		trackerBorrowedDesc: prometheus.NewDesc(
			"qbitgov_tracker_borrowed_bps", "Bandwidth borrowed from the shared pool per tracker in bytes/sec", []string{"tracker_id"}, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.cycleDurationDesc
	ch <- c.cycleCountDesc
	ch <- c.cycleErrorsDesc
	ch <- c.managedTorrentsDesc
	ch <- c.cacheUtilDesc
	ch <- c.apiCallsDesc
	ch <- c.trackerManagedDesc
	ch <- c.trackerCapDesc
	ch <- c.trackerBorrowedDesc
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.mu.Lock()
	snap := c.snapshot()
	c.mu.Unlock()

	ch <- prometheus.MustNewConstMetric(c.cycleDurationDesc, prometheus.GaugeValue, snap.CycleDurationSeconds)
	ch <- prometheus.MustNewConstMetric(c.cycleCountDesc, prometheus.CounterValue, float64(snap.CycleCount))
	ch <- prometheus.MustNewConstMetric(c.cycleErrorsDesc, prometheus.CounterValue, float64(snap.CycleErrors))
	ch <- prometheus.MustNewConstMetric(c.managedTorrentsDesc, prometheus.GaugeValue, float64(snap.ManagedTorrents))
	ch <- prometheus.MustNewConstMetric(c.cacheUtilDesc, prometheus.GaugeValue, snap.CacheUtilization)
	ch <- prometheus.MustNewConstMetric(c.apiCallsDesc, prometheus.GaugeValue, float64(snap.APICallsLastCycle))

	for _, tr := range snap.Trackers {
		ch <- prometheus.MustNewConstMetric(c.trackerManagedDesc, prometheus.GaugeValue, float64(tr.ManagedCount), tr.TrackerID)
		ch <- prometheus.MustNewConstMetric(c.trackerCapDesc, prometheus.GaugeValue, float64(tr.EffectiveCapBps), tr.TrackerID)
		ch <- prometheus.MustNewConstMetric(c.trackerBorrowedDesc, prometheus.GaugeValue, float64(tr.BorrowedBps), tr.TrackerID)
	}
}

// Registry builds a fresh prometheus.Registry with Go/process collectors
// plus our Collector registered, mirroring the teacher's manager.go setup.
func Registry(c *Collector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	reg.MustRegister(c)
	return reg
}
