// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/autobrr/qbitgov/internal/config"
	"github.com/autobrr/qbitgov/internal/database"
	"github.com/autobrr/qbitgov/internal/rollback"
)

func runRollbackCommand(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rollback",
		Short: "Rollback journal operations",
	}
	cmd.AddCommand(runRollbackExportCommand(configPath))
	return cmd
}

func runRollbackExportCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Print every unrestored rollback entry as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.New(*configPath)
			if err != nil {
				return err
			}

			db, err := database.Open(cfg.GetDatabasePath())
			if err != nil {
				return err
			}
			defer db.Close()

			journal := rollback.New(db)
			entries, err := journal.Export(cmd.Context())
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(entries)
		},
	}
}
