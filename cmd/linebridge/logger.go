// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"io"
	"log/slog"
	"os"

	"golang.org/x/term"

	"github.com/bureau-foundation/linebridge/lib/config"
)

// newLogger builds the process logger: human-readable text on a
// terminal, JSON lines otherwise, unless the configuration forces one.
func newLogger(output io.Writer, isTerminal bool, settings config.LogConfig, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	switch settings.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}

	options := &slog.HandlerOptions{Level: level}
	useText := isTerminal
	switch settings.Format {
	case "text":
		useText = true
	case "json":
		useText = false
	}

	var handler slog.Handler
	if useText {
		handler = slog.NewTextHandler(output, options)
	} else {
		handler = slog.NewJSONHandler(output, options)
	}
	return slog.New(handler)
}

func stderrIsTerminal() bool {
	return term.IsTerminal(int(os.Stderr.Fd()))
}
