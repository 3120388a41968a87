// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "qbitgov",
		Short: "Per-tracker upload bandwidth governor for qBittorrent",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), configPath)
		},
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", "./config.toml", "path to config.toml")

	cmd.AddCommand(runServeCommand(&configPath))
	cmd.AddCommand(runConfigCommand(&configPath))
	cmd.AddCommand(runRollbackCommand(&configPath))

	return cmd
}
