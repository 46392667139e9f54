// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/buildjail/lib/config"
	"github.com/bureau-foundation/buildjail/lib/process"
	"github.com/bureau-foundation/buildjail/lib/version"
	"github.com/bureau-foundation/buildjail/supervisor"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		configPath  string
		document    string
		verbose     bool
		showVersion bool
	)

	flagSet := pflag.NewFlagSet("buildjail", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to config file (default: $BUILDJAIL_CONFIG)")
	flagSet.StringVar(&document, "document", "", "plan document, overriding the config file")
	flagSet.BoolVarP(&verbose, "verbose", "v", false, "enable debug logging in buildjail and the worker")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
	flagSet.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: buildjail [flags] [plan [args...]]\n\n")
		flagSet.PrintDefaults()
	}

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}
	if showVersion {
		version.Print("buildjail")
		return nil
	}

	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if document != "" {
		cfg.Document = document
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger := process.NewLogger(verbose)
	logger.Info("starting buildjail", "version", version.Info(), "environment", cfg.Environment)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var workerArgs []string
	if verbose {
		workerArgs = append(workerArgs, "--verbose")
	}
	driver := &supervisor.Supervisor{
		Config:     cfg,
		Args:       flagSet.Args(),
		WorkerArgs: workerArgs,
		Stdout:     os.Stdout,
		Stderr:     os.Stderr,
		Logger:     logger,
	}
	report, err := driver.Run(ctx)
	if err != nil {
		return err
	}
	logger.Info("build succeeded", "run", report.RunID, "message", report.Outcome.Message)
	return nil
}
