// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"github.com/spf13/cobra"

	"github.com/autobrr/qbitgov/internal/config"
	"github.com/autobrr/qbitgov/internal/trackermatch"
)

func runConfigCommand(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration operations",
	}
	cmd.AddCommand(runConfigValidateCommand(configPath))
	return cmd
}

func runConfigValidateCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load and validate config.toml without starting the governor",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.New(*configPath)
			if err != nil {
				return err
			}

			if _, err := trackermatch.New(cfg.Config.Trackers); err != nil {
				return err
			}

			cmd.Printf("config valid: %s\n", *configPath)
			cmd.Printf("trackers: %d\n", len(cfg.Config.Trackers))
			cmd.Printf("update_interval: %ds\n", cfg.Config.Global.UpdateInterval)
			cmd.Printf("allocation_strategy: %s\n", cfg.Config.Global.AllocationStrategy)
			return nil
		},
	}
}
