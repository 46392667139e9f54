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

	"github.com/bureau-foundation/buildjail/lib/process"
	"github.com/bureau-foundation/buildjail/lib/version"
	"github.com/bureau-foundation/buildjail/sandbox"
	"github.com/bureau-foundation/buildjail/worker"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var verbose bool
	var showVersion bool

	flagSet := pflag.NewFlagSet("buildjail-worker", pflag.ContinueOnError)
	flagSet.BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}
	if showVersion {
		version.Print("buildjail-worker")
		return nil
	}

	if err := sandbox.RestrictPrivileges(); err != nil {
		return err
	}

	socketPath := os.Getenv(sandbox.SocketEnv)
	if socketPath == "" {
		return fmt.Errorf("%s is not set; buildjail-worker is started by buildjail", sandbox.SocketEnv)
	}

	logger := process.NewLogger(verbose)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	w := &worker.Worker{
		Host:   worker.Dial(socketPath),
		Output: os.Stdout,
		Logger: logger,
	}
	return w.Run(ctx)
}
