// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"
)

var (
	available   = &Capabilities{BwrapAvailable: true, BwrapPath: "/usr/bin/bwrap", UserNamespacesEnabled: true}
	unavailable = &Capabilities{}
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// scriptWorker writes an executable shell script standing in for the
// worker binary.
func scriptWorker(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "worker")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestParseFallback(t *testing.T) {
	for input, want := range map[string]Fallback{"": FallbackError, "error": FallbackError, "warn": FallbackWarn} {
		got, err := ParseFallback(input)
		if err != nil || got != want {
			t.Errorf("ParseFallback(%q) = %q, %v; want %q", input, got, err, want)
		}
	}
	if _, err := ParseFallback("ignore"); err == nil {
		t.Error("ParseFallback(ignore) succeeded")
	}
}

func TestNewConfined(t *testing.T) {
	worker := scriptWorker(t, "exit 0")
	sandbox, err := New(Config{
		Options:      Options{WorkerBinary: worker, SocketPath: "/run/buildjail/m.sock"},
		Capabilities: available,
		Logger:       quietLogger(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if !sandbox.Confined() {
		t.Fatal("expected confined sandbox")
	}

	command, err := sandbox.Command(context.Background())
	if err != nil {
		t.Fatalf("Command: %v", err)
	}
	if command.Path != "/usr/bin/bwrap" {
		t.Errorf("Path = %q, want bwrap", command.Path)
	}
	if !slices.Contains(command.Args, "--unshare-all") {
		t.Errorf("Args lack --unshare-all: %v", command.Args)
	}
	for _, entry := range command.Env {
		if !strings.HasPrefix(entry, "PATH=") {
			t.Errorf("bwrap environment carries %q", entry)
		}
	}
}

func TestNewUnavailableRefuses(t *testing.T) {
	worker := scriptWorker(t, "exit 0")
	_, err := New(Config{
		Options:      Options{WorkerBinary: worker, SocketPath: "/run/buildjail/m.sock"},
		Capabilities: unavailable,
		Logger:       quietLogger(),
	})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
	if !strings.Contains(err.Error(), "bubblewrap not installed") {
		t.Errorf("err = %v, want the skip reason", err)
	}
}

func TestNewMissingWorker(t *testing.T) {
	_, err := New(Config{
		Options:      Options{WorkerBinary: "/nonexistent/buildjail-worker", SocketPath: "/run/m.sock"},
		Capabilities: available,
	})
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("err = %v, want ErrNotExist", err)
	}
}

// TestFallbackWarnRunsWithSocketOnly runs a stand-in worker unconfined
// and checks that it sees the socket variable and nothing inherited.
func TestFallbackWarnRunsWithSocketOnly(t *testing.T) {
	t.Setenv("BUILDJAIL_TEST_SECRET", "leak")
	worker := scriptWorker(t, `echo "socket=$BUILDJAIL_SOCKET secret=$BUILDJAIL_TEST_SECRET arg=$1"`)
	sandbox, err := New(Config{
		Options: Options{
			WorkerBinary: worker,
			SocketPath:   "/run/buildjail/m.sock",
			Args:         []string{"release"},
		},
		Fallback:     FallbackWarn,
		Capabilities: unavailable,
		Logger:       quietLogger(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if sandbox.Confined() {
		t.Fatal("expected unconfined sandbox")
	}

	var stdout bytes.Buffer
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := sandbox.Run(ctx, &stdout, io.Discard); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got, want := stdout.String(), "socket=/run/buildjail/m.sock secret= arg=release\n"; got != want {
		t.Errorf("worker output = %q, want %q", got, want)
	}
}

func TestRunReportsExitCode(t *testing.T) {
	worker := scriptWorker(t, "exit 7")
	sandbox, err := New(Config{
		Options:      Options{WorkerBinary: worker, SocketPath: "/run/m.sock"},
		Fallback:     FallbackWarn,
		Capabilities: unavailable,
		Logger:       quietLogger(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	err = sandbox.Run(context.Background(), io.Discard, io.Discard)
	if code, ok := IsExitError(err); !ok || code != 7 {
		t.Errorf("err = %v, want exit code 7", err)
	}
}

func TestRunKilledOnCancel(t *testing.T) {
	worker := scriptWorker(t, "sleep 60")
	sandbox, err := New(Config{
		Options:      Options{WorkerBinary: worker, SocketPath: "/run/m.sock"},
		Fallback:     FallbackWarn,
		Capabilities: unavailable,
		Logger:       quietLogger(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	err = sandbox.Run(ctx, io.Discard, io.Discard)
	if err == nil {
		t.Fatal("Run succeeded after cancellation")
	}
	if _, ok := IsExitError(err); ok {
		t.Errorf("err = %v, want a cancellation error", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Run took %v after cancellation", elapsed)
	}
}
