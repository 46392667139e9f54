// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"io"
	"log/slog"
	"os"

	"golang.org/x/term"
)

// NewLogger creates the structured logger for a binary and installs it
// as the slog default. When stderr is a terminal it uses
// slog.TextHandler for human-readable output; otherwise (CI, docker
// logs, pipes) slog.JSONHandler. verbose lowers the level to Debug.
func NewLogger(verbose bool) *slog.Logger {
	logger := newLogger(os.Stderr, term.IsTerminal(int(os.Stderr.Fd())), verbose)
	slog.SetDefault(logger)
	return logger
}

func newLogger(w io.Writer, terminal, verbose bool) *slog.Logger {
	options := &slog.HandlerOptions{Level: slog.LevelInfo}
	if verbose {
		options.Level = slog.LevelDebug
	}
	var handler slog.Handler
	if terminal {
		handler = slog.NewTextHandler(w, options)
	} else {
		handler = slog.NewJSONHandler(w, options)
	}
	return slog.New(handler)
}
