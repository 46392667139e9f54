// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tunnel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/semaphore"
)

// Listener accepts CONNECT clients and runs one Relay per connection.
type Listener struct {
	// ListenAddr is the TCP address to listen on (e.g. "0.0.0.0:3000").
	ListenAddr string

	// Relay configures every relay this listener starts. Its Logger
	// defaults to the listener's.
	Relay Options

	// MaxConnections caps concurrently running relays. Zero means
	// unbounded. When the cap is reached the listener stops accepting
	// until a relay finishes.
	MaxConnections int

	// Logger receives structured log output. If nil, slog.Default() is
	// used. Per-connection events are logged at Debug level; errors and
	// lifecycle events at Info/Error.
	Logger *slog.Logger

	listener    net.Listener
	cancel      context.CancelFunc
	done        chan struct{}
	connections sync.WaitGroup
	stopOnce    sync.Once
}

func (l *Listener) logger() *slog.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return slog.Default()
}

// Start binds the listener and begins accepting in the background. It
// returns once the socket is bound, or an error if binding fails. The
// listener runs until Stop is called or ctx is cancelled.
func (l *Listener) Start(ctx context.Context) error {
	if l.ListenAddr == "" {
		return fmt.Errorf("tunnel: ListenAddr is required")
	}
	if l.MaxConnections < 0 {
		return fmt.Errorf("tunnel: MaxConnections must not be negative")
	}

	listener, err := net.Listen("tcp", l.ListenAddr)
	if err != nil {
		return fmt.Errorf("tunnel: failed to listen on %s: %w", l.ListenAddr, err)
	}
	l.listener = listener

	ctx, l.cancel = context.WithCancel(ctx)
	l.done = make(chan struct{})

	// Unblock Accept when the context is cancelled.
	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	go func() {
		defer close(l.done)
		l.acceptLoop(ctx)
	}()

	l.logger().Info("tunnel listening",
		"listen_addr", listener.Addr().String(),
		"header_limit", l.Relay.withDefaults().HeaderLimit,
		"max_connections", l.MaxConnections,
	)
	return nil
}

// Addr returns the listener's address, useful when binding to port 0.
// Returns nil if the listener has not been started.
func (l *Listener) Addr() net.Addr {
	if l.listener == nil {
		return nil
	}
	return l.listener.Addr()
}

// Stop closes the listener, tears down every active tunnel, and waits
// for all relays to finish. Safe to call more than once.
func (l *Listener) Stop() {
	l.stopOnce.Do(func() {
		if l.cancel != nil {
			l.cancel()
		}
	})
	l.Wait()
}

// Wait blocks until the listener has stopped and all relays are done.
func (l *Listener) Wait() {
	if l.done != nil {
		<-l.done
	}
}

// acceptLoop accepts connections until the context is cancelled. Accept
// failures other than shutdown (EMFILE, ENFILE, ECONNABORTED) are
// logged and retried with exponential backoff. The loop waits for all
// relays before returning, so closing done signals full quiescence.
func (l *Listener) acceptLoop(ctx context.Context) {
	defer l.connections.Wait()

	var slots *semaphore.Weighted
	if l.MaxConnections > 0 {
		slots = semaphore.NewWeighted(int64(l.MaxConnections))
	}

	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = 5 * time.Millisecond
	retry.MaxInterval = time.Second
	retry.MaxElapsedTime = 0
	retry.Reset()

	relayOptions := l.Relay
	if relayOptions.Logger == nil {
		relayOptions.Logger = l.logger()
	}

	var connectionCount int64
	for {
		if slots != nil {
			if err := slots.Acquire(ctx, 1); err != nil {
				return
			}
		}

		connection, err := l.listener.Accept()
		if err != nil {
			if slots != nil {
				slots.Release(1)
			}
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			delay := retry.NextBackOff()
			l.logger().Error("accept failed", "error", err, "retry_in", delay)
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}
		retry.Reset()

		connectionCount++
		relay := NewRelay(connection, connectionCount, relayOptions)
		l.connections.Add(1)
		go func() {
			defer l.connections.Done()
			if slots != nil {
				defer slots.Release(1)
			}
			l.logger().Debug("connection accepted",
				"connection_id", relay.connectionID,
				"remote_addr", connection.RemoteAddr(),
			)
			if err := relay.Run(ctx); err != nil {
				l.logger().Debug("tunnel not opened",
					"connection_id", relay.connectionID,
					"error", err,
				)
			}
		}()
	}
}
