// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/autobrr/qbitgov/internal/domain"
)

// configureLogging wires the global zerolog logger per SPEC_FULL.md's
// ambient logging section: a console writer when attached to a terminal,
// otherwise a rotating file via lumberjack, level parsed from
// logging.level.
func configureLogging(cfg domain.LoggingSettings) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var out io.Writer
	if term.IsTerminal(int(os.Stdout.Fd())) {
		out = zerolog.ConsoleWriter{Out: os.Stdout}
	} else if cfg.File != "" {
		out = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.BackupCount,
			Compress:   true,
		}
	} else {
		out = os.Stdout
	}

	log.Logger = zerolog.New(out).With().Timestamp().Logger()
}
