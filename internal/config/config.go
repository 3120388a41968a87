// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package config loads the TOML configuration document described in
// spec.md §6 via viper, applies the ${NAME} environment substitution pass
// (matching original_source/src/config.py's ConfigLoader), and validates
// the tracker list. Config loading itself is an external-collaborator
// concern per spec.md §1 — this package is the trivial framing around it.
package config

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/spf13/viper"

	"github.com/autobrr/qbitgov/internal/domain"
)

// Config wraps the loaded domain.Config plus the path it was loaded from,
// so callers (e.g. the hot-reload watcher) can stat the same file again.
type Config struct {
	path   string
	Config domain.Config
}

// New loads path (a TOML document), applying defaults for anything unset,
// then the ${NAME} environment substitution pass, matching the test
// expectations of internal/config/config_test.go in the teacher pack's
// convention (New(path) -> *Config, GetDatabasePath()).
func New(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")

	v.SetEnvPrefix("QBITGOV")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "__"))
	v.AutomaticEnv()

	def := domain.DefaultConfig()
	setDefaults(v, "global", def.Global)
	setDefaults(v, "qbittorrent", def.QBittorrent)
	setDefaults(v, "cross_seed", def.CrossSeed)
	setDefaults(v, "rollback", def.Rollback)
	setDefaults(v, "logging", def.Logging)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	var cfg domain.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decoding %s: %w", path, err)
	}

	substituteEnvVars(reflect.ValueOf(&cfg))

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &Config{path: path, Config: cfg}, nil
}

// Path returns the file this Config was loaded from.
func (c *Config) Path() string {
	return c.path
}

// GetDatabasePath returns the rollback journal's configured database path.
func (c *Config) GetDatabasePath() string {
	return c.Config.Rollback.DatabasePath
}

// Validate checks structural invariants that must hold before the
// governor starts: at least one tracker, non-empty unique ids, the last
// entry being the literal ".*" catch-all, and sane global bounds (spec.md
// §6). Pattern compilation is left to trackermatch.New at call sites that
// also need the compiled matcher.
func Validate(cfg *domain.Config) error {
	if cfg.Global.UpdateInterval < 60 {
		return fmt.Errorf("config: global.updateInterval must be >= 60 seconds")
	}
	if cfg.Global.DifferentialThreshold < 0.05 || cfg.Global.DifferentialThreshold > 1.0 {
		return fmt.Errorf("config: global.differentialThreshold must be in [0.05, 1.0]")
	}
	if cfg.Global.RolloutPercentage < 1 || cfg.Global.RolloutPercentage > 100 {
		return fmt.Errorf("config: global.rolloutPercentage must be in [1, 100]")
	}
	if cfg.Global.BorrowThresholdRatio < 0.5 || cfg.Global.BorrowThresholdRatio > 1.0 {
		return fmt.Errorf("config: global.borrowThresholdRatio must be in [0.5, 1.0]")
	}
	if cfg.Global.MaxBorrowFraction < 0 || cfg.Global.MaxBorrowFraction > 1 {
		return fmt.Errorf("config: global.maxBorrowFraction must be in [0, 1]")
	}
	if cfg.Global.MaxAPICallsPerCycle < 100 {
		return fmt.Errorf("config: global.maxApiCallsPerCycle must be >= 100")
	}
	switch cfg.Global.AllocationStrategy {
	case domain.StrategyEqual, domain.StrategyWeighted, domain.StrategySoft:
	default:
		return fmt.Errorf("config: global.allocationStrategy %q is not one of equal|weighted|soft", cfg.Global.AllocationStrategy)
	}

	if len(cfg.Trackers) == 0 {
		return fmt.Errorf("config: at least one [[trackers]] entry is required")
	}

	seen := make(map[string]struct{}, len(cfg.Trackers))
	for i, tc := range cfg.Trackers {
		if tc.ID == "" {
			return fmt.Errorf("config: trackers[%d] has an empty id", i)
		}
		if _, dup := seen[tc.ID]; dup {
			return fmt.Errorf("config: duplicate tracker id %q", tc.ID)
		}
		seen[tc.ID] = struct{}{}
		if tc.Priority != 0 && (tc.Priority < 1 || tc.Priority > 10) {
			return fmt.Errorf("config: tracker %q priority must be in [1, 10]", tc.ID)
		}
	}
	last := cfg.Trackers[len(cfg.Trackers)-1]
	if strings.TrimSpace(last.Pattern) != ".*" {
		return fmt.Errorf("config: the last [[trackers]] entry must be the catch-all pattern \".*\"")
	}

	return nil
}

// setDefaults mirrors viper's nested SetDefault idiom used throughout the
// pack's config loaders, walking a defaults struct's exported fields.
func setDefaults(v *viper.Viper, section string, defaults interface{}) {
	rv := reflect.ValueOf(defaults)
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		tag := rt.Field(i).Tag.Get("mapstructure")
		if tag == "" {
			continue
		}
		key := section + "." + tag
		v.SetDefault(key, rv.Field(i).Interface())
	}
}
