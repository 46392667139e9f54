// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/buildjail/lib/config"
	"github.com/bureau-foundation/buildjail/lib/process"
	"github.com/bureau-foundation/buildjail/lib/version"
	"github.com/bureau-foundation/buildjail/tunnel"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		configPath  string
		verbose     bool
		showVersion bool
	)
	defaults := config.Default().Tunnel

	flagSet := pflag.NewFlagSet("buildjail-tunnel", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to config file (default: $BUILDJAIL_CONFIG if set)")
	listenAddr := flagSet.String("listen", defaults.ListenAddr, "TCP address to accept CONNECT requests on")
	headerLimit := flagSet.Int("header-limit", defaults.HeaderLimit, "maximum CONNECT preamble size in bytes")
	headerTimeout := flagSet.Duration("header-timeout", time.Duration(defaults.HeaderTimeout), "time allowed to send the preamble")
	dialTimeout := flagSet.Duration("dial-timeout", time.Duration(defaults.DialTimeout), "upstream connect timeout")
	maxConnections := flagSet.Int("max-connections", defaults.MaxConnections, "concurrent tunnel limit (0 = unbounded)")
	flagSet.BoolVarP(&verbose, "verbose", "v", false, "log every connection state transition")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}
	if showVersion {
		version.Print("buildjail-tunnel")
		return nil
	}

	settings := defaults
	if configPath == "" {
		configPath = os.Getenv(config.EnvironmentVariable)
	}
	if configPath != "" {
		cfg, err := config.LoadFile(configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		settings = cfg.Tunnel
	}
	if flagSet.Changed("listen") {
		settings.ListenAddr = *listenAddr
	}
	if flagSet.Changed("header-limit") {
		settings.HeaderLimit = *headerLimit
	}
	if flagSet.Changed("header-timeout") {
		settings.HeaderTimeout = config.Duration(*headerTimeout)
	}
	if flagSet.Changed("dial-timeout") {
		settings.DialTimeout = config.Duration(*dialTimeout)
	}
	if flagSet.Changed("max-connections") {
		settings.MaxConnections = *maxConnections
	}
	validation := config.Default()
	validation.Tunnel = settings
	if err := validation.Validate(); err != nil {
		return fmt.Errorf("invalid tunnel settings: %w", err)
	}

	logger := process.NewLogger(verbose)
	options := tunnel.Options{
		HeaderLimit:   settings.HeaderLimit,
		HeaderTimeout: time.Duration(settings.HeaderTimeout),
		DialTimeout:   time.Duration(settings.DialTimeout),
		DrainTimeout:  time.Duration(settings.DrainTimeout),
		Logger:        logger,
	}
	if verbose {
		options.StateHook = func(connectionID int64, from, to tunnel.State) {
			logger.Debug("tunnel state", "connection", connectionID, "from", from, "to", to)
		}
	}
	listener := &tunnel.Listener{
		ListenAddr:     settings.ListenAddr,
		Relay:          options,
		MaxConnections: settings.MaxConnections,
		Logger:         logger,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := listener.Start(ctx); err != nil {
		return err
	}
	logger.Info("buildjail-tunnel listening", "addr", listener.Addr().String(), "version", version.Info())

	<-ctx.Done()
	logger.Info("received shutdown signal")
	listener.Stop()
	logger.Info("shutdown complete")
	return nil
}
