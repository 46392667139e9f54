// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package rpc

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/bureau-foundation/buildjail/lib/testutil"
)

const testTimeout = 5 * time.Second

type echoArgs struct {
	Text string `cbor:"text"`
}

type countArgs struct {
	N    int  `cbor:"n"`
	Fail bool `cbor:"fail,omitempty"`
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testRegistry returns a registry with the commands most tests use.
// stopped receives once each time a "forever" handler returns.
func testRegistry(stopped chan<- struct{}) *Registry {
	return NewRegistry(map[string]Handler{
		"echo": Unary(func(_ context.Context, args echoArgs) (echoArgs, error) {
			return args, nil
		}),
		"count": Streaming(func(_ context.Context, args countArgs, yield func(int) error) error {
			for i := 1; i <= args.N; i++ {
				if err := yield(i); err != nil {
					return err
				}
			}
			if args.Fail {
				return Errorf(CodeStepFailed, "failed after %d", args.N)
			}
			return nil
		}),
		"forever": Streaming(func(ctx context.Context, _ struct{}, yield func(int) error) error {
			defer func() {
				if stopped != nil {
					stopped <- struct{}{}
				}
			}()
			for i := 0; ; i++ {
				if err := yield(i); err != nil {
					return err
				}
			}
		}),
		"panic": Unary(func(context.Context, struct{}) (struct{}, error) {
			panic("handler exploded")
		}),
		"deny": Unary(func(context.Context, struct{}) (struct{}, error) {
			return struct{}{}, Errorf(CodeAccessDenied, "not allowed")
		}),
	})
}

// serveSocket runs a SocketServer for registry until the test ends and
// returns its socket path.
func serveSocket(t *testing.T, registry *Registry, configure func(*SocketServer)) string {
	t.Helper()
	socketPath := filepath.Join(testutil.SocketDir(t), "rpc.sock")
	server := NewSocketServer(socketPath, registry, discardLogger())
	if configure != nil {
		configure(server)
	}
	if err := server.Listen(); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := testutil.RequireReceive(t, done, testTimeout, "server shutdown"); err != nil {
			t.Errorf("Serve: %v", err)
		}
	})
	return socketPath
}

// clients returns a client per transport, all serving registry.
func clients(t *testing.T, registry *Registry) map[string]*Client {
	t.Helper()
	return map[string]*Client{
		"local":  NewClient(&Local{Registry: registry, Logger: discardLogger()}),
		"socket": NewSocketClient(serveSocket(t, registry, nil)),
	}
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	t.Cleanup(cancel)
	return ctx
}
