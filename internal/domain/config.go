// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

import "time"

// AllocationStrategy names one of the three pure allocation strategies.
type AllocationStrategy string

const (
	StrategyEqual    AllocationStrategy = "equal"
	StrategyWeighted AllocationStrategy = "weighted"
	StrategySoft      AllocationStrategy = "soft"
)

// GlobalSettings is the [global] config section.
type GlobalSettings struct {
	UpdateInterval           int                `toml:"updateInterval" mapstructure:"updateInterval"`
	ActiveTorrentThresholdKB int                `toml:"activeTorrentThresholdKb" mapstructure:"activeTorrentThresholdKb"`
	MaxAPICallsPerCycle      int                `toml:"maxApiCallsPerCycle" mapstructure:"maxApiCallsPerCycle"`
	DifferentialThreshold    float64            `toml:"differentialThreshold" mapstructure:"differentialThreshold"`
	RolloutPercentage        int                `toml:"rolloutPercentage" mapstructure:"rolloutPercentage"`
	CacheTTLSeconds          int                `toml:"cacheTtlSeconds" mapstructure:"cacheTtlSeconds"`
	AllocationStrategy       AllocationStrategy `toml:"allocationStrategy" mapstructure:"allocationStrategy"`
	BorrowThresholdRatio     float64            `toml:"borrowThresholdRatio" mapstructure:"borrowThresholdRatio"`
	MaxBorrowFraction        float64            `toml:"maxBorrowFraction" mapstructure:"maxBorrowFraction"`
	SmoothingAlpha           float64            `toml:"smoothingAlpha" mapstructure:"smoothingAlpha"`
	MinEffectiveDelta        float64            `toml:"minEffectiveDelta" mapstructure:"minEffectiveDelta"`
	DryRun                   bool               `toml:"dryRun" mapstructure:"dryRun"`
	DryRunStorePath          string             `toml:"dryRunStorePath" mapstructure:"dryRunStorePath"`
	AutoUnlimitOnInactive    bool               `toml:"autoUnlimitOnInactive" mapstructure:"autoUnlimitOnInactive"`
	MaxManagedTorrents       int                `toml:"maxManagedTorrents" mapstructure:"maxManagedTorrents"`
	Host                     string             `toml:"host" mapstructure:"host"`
	Port                     int                `toml:"port" mapstructure:"port"`
}

// UpdateIntervalDuration returns the global update interval as a time.Duration.
func (g GlobalSettings) UpdateIntervalDuration() time.Duration {
	return time.Duration(g.UpdateInterval) * time.Second
}

// CacheTTL returns the managed-torrent cache TTL as a time.Duration.
func (g GlobalSettings) CacheTTL() time.Duration {
	return time.Duration(g.CacheTTLSeconds) * time.Second
}

// QBittorrentSettings is the [qbittorrent] config section.
type QBittorrentSettings struct {
	Host     string `toml:"host" mapstructure:"host"`
	Port     int    `toml:"port" mapstructure:"port"`
	Username string `toml:"username" mapstructure:"username"`
	Password string `toml:"password" mapstructure:"password"`
	Timeout  int    `toml:"timeout" mapstructure:"timeout"`
}

// CrossSeedSettings is the [cross_seed] config section.
type CrossSeedSettings struct {
	Enabled bool   `toml:"enabled" mapstructure:"enabled"`
	URL     string `toml:"url" mapstructure:"url"`
	APIKey  string `toml:"apiKey" mapstructure:"apiKey"`
	Timeout int    `toml:"timeout" mapstructure:"timeout"`
}

// TrackerConfig describes one entry of the [[trackers]] ordered list.
type TrackerConfig struct {
	ID            string `toml:"id" mapstructure:"id"`
	Name          string `toml:"name" mapstructure:"name"`
	Pattern       string `toml:"pattern" mapstructure:"pattern"`
	MaxUploadBps  int64  `toml:"maxUploadBps" mapstructure:"maxUploadBps"`
	Priority      int    `toml:"priority" mapstructure:"priority"`
}

// RollbackSettings is the [rollback] config section.
type RollbackSettings struct {
	DatabasePath    string `toml:"databasePath" mapstructure:"databasePath"`
	TrackAllChanges bool   `toml:"trackAllChanges" mapstructure:"trackAllChanges"`
}

// LoggingSettings is the [logging] config section.
type LoggingSettings struct {
	Level       string `toml:"level" mapstructure:"level"`
	File        string `toml:"file" mapstructure:"file"`
	MaxSizeMB   int    `toml:"maxSizeMb" mapstructure:"maxSizeMb"`
	BackupCount int    `toml:"backupCount" mapstructure:"backupCount"`
}

// Config is the top-level configuration document.
type Config struct {
	Global      GlobalSettings      `toml:"global" mapstructure:"global"`
	QBittorrent QBittorrentSettings `toml:"qbittorrent" mapstructure:"qbittorrent"`
	CrossSeed   CrossSeedSettings   `toml:"cross_seed" mapstructure:"cross_seed"`
	Trackers    []TrackerConfig     `toml:"trackers" mapstructure:"trackers"`
	Rollback    RollbackSettings    `toml:"rollback" mapstructure:"rollback"`
	Logging     LoggingSettings     `toml:"logging" mapstructure:"logging"`
}

// DefaultConfig returns a Config populated with the spec's defaults, mirroring
// the Python reference's pydantic field defaults.
func DefaultConfig() Config {
	return Config{
		Global: GlobalSettings{
			UpdateInterval:           300,
			ActiveTorrentThresholdKB: 1,
			MaxAPICallsPerCycle:      500,
			DifferentialThreshold:    0.2,
			RolloutPercentage:        10,
			CacheTTLSeconds:          3600,
			AllocationStrategy:       StrategyEqual,
			BorrowThresholdRatio:     0.8,
			MaxBorrowFraction:        0.5,
			SmoothingAlpha:           0.3,
			MinEffectiveDelta:        0.05,
			DryRun:                   false,
			DryRunStorePath:          "./data/dry_run.json",
			AutoUnlimitOnInactive:    false,
			MaxManagedTorrents:       5000,
			Host:                     "0.0.0.0",
			Port:                     8090,
		},
		QBittorrent: QBittorrentSettings{
			Host:     "localhost",
			Port:     8080,
			Timeout:  30,
		},
		CrossSeed: CrossSeedSettings{
			Enabled: false,
			Timeout: 15,
		},
		Rollback: RollbackSettings{
			DatabasePath:    "./data/rollback.db",
			TrackAllChanges: true,
		},
		Logging: LoggingSettings{
			Level:       "info",
			File:        "./logs/qbitgov.log",
			MaxSizeMB:   50,
			BackupCount: 5,
		},
	}
}
