// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tunnel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bureau-foundation/buildjail/lib/netutil"
)

// Status lines written to the client. The success line is exact: some
// clients compare it byte for byte.
const (
	responseEstablished = "HTTP/1.1 200 Connection established\r\n\r\n"
	responseBadRequest  = "HTTP/1.1 400 Bad Request\r\n\r\n"
	responseTooLarge    = "HTTP/1.1 431 Request Header Fields Too Large\r\n\r\n"
	responseBadGateway  = "HTTP/1.1 502 Bad Gateway\r\n\r\n"
)

// Defaults for zero-valued Options fields.
const (
	DefaultHeaderLimit   = 8192
	DefaultHeaderTimeout = 30 * time.Second
	DefaultDialTimeout   = 15 * time.Second
	DefaultDrainTimeout  = 2 * time.Minute

	// replyTimeout bounds writes of status lines to a client that has
	// stopped reading.
	replyTimeout = 5 * time.Second

	copyBufferSize = 32 * 1024
)

// ErrUpstreamConnect wraps a failure to dial the CONNECT target.
var ErrUpstreamConnect = errors.New("tunnel: upstream connect failed")

// Dialer opens outbound connections. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Options configures a Relay. The zero value is usable.
type Options struct {
	// HeaderLimit is the capacity of the preamble buffer in bytes.
	HeaderLimit int

	// HeaderTimeout bounds the time a client may take to send its
	// complete preamble.
	HeaderTimeout time.Duration

	// DialTimeout bounds the outbound connect.
	DialTimeout time.Duration

	// DrainTimeout is how long the second relay direction may keep
	// running after the first has finished.
	DrainTimeout time.Duration

	// Dialer opens the outbound connection. Defaults to a net.Dialer.
	Dialer Dialer

	// Logger receives structured log output. If nil, slog.Default()
	// is used.
	Logger *slog.Logger

	// StateHook, if set, is called synchronously on every state
	// transition.
	StateHook func(connectionID int64, from, to State)
}

func (o Options) withDefaults() Options {
	if o.HeaderLimit <= 0 {
		o.HeaderLimit = DefaultHeaderLimit
	}
	if o.HeaderTimeout <= 0 {
		o.HeaderTimeout = DefaultHeaderTimeout
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = DefaultDialTimeout
	}
	if o.DrainTimeout <= 0 {
		o.DrainTimeout = DefaultDrainTimeout
	}
	if o.Dialer == nil {
		o.Dialer = &net.Dialer{}
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Relay is the per-connection CONNECT state machine. A Relay owns its
// inbound and outbound sockets for its entire lifetime and shares no
// mutable state with other relays.
type Relay struct {
	options      Options
	connectionID int64
	inbound      net.Conn
	logger       *slog.Logger

	mutex    sync.Mutex
	outbound net.Conn
	state    State
}

// NewRelay prepares a Relay for an accepted inbound connection. The
// relay takes ownership of inbound.
func NewRelay(inbound net.Conn, connectionID int64, options Options) *Relay {
	options = options.withDefaults()
	return &Relay{
		options:      options,
		connectionID: connectionID,
		inbound:      inbound,
		logger:       options.Logger.With("connection_id", connectionID),
		state:        StateAwaitingPreamble,
	}
}

// State returns the relay's current state.
func (r *Relay) State() State {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.state
}

// Run drives the relay to StateClosed. It returns nil when a tunnel was
// established and later closed, and an error wrapping
// ErrPreambleTooLarge, ErrPreambleIncomplete, ErrMalformedRequest or
// ErrUpstreamConnect when the tunnel never opened. Cancelling ctx closes
// both sockets.
func (r *Relay) Run(ctx context.Context) error {
	defer r.closeAll()
	stop := context.AfterFunc(ctx, r.closeAll)
	defer stop()

	r.inbound.SetReadDeadline(time.Now().Add(r.options.HeaderTimeout))
	head, err := readPreamble(r.inbound, r.options.HeaderLimit)
	if err != nil {
		r.reject(err)
		return err
	}
	r.inbound.SetReadDeadline(time.Time{})

	r.transition(StateEstablished)
	r.logger.Debug("connect requested",
		"target", head.target,
		"leftover_bytes", len(head.leftover),
	)

	dialContext, cancel := context.WithTimeout(ctx, r.options.DialTimeout)
	outbound, err := r.options.Dialer.DialContext(dialContext, "tcp", head.target)
	cancel()
	if err != nil {
		r.logger.Info("upstream connect failed", "target", head.target, "error", err)
		r.reply(responseBadGateway)
		r.transition(StateClosed)
		return fmt.Errorf("%w: %s: %w", ErrUpstreamConnect, head.target, err)
	}
	r.setOutbound(outbound)

	if err := r.reply(responseEstablished); err != nil {
		r.transition(StateClosed)
		return nil
	}
	if len(head.leftover) > 0 {
		if _, err := outbound.Write(head.leftover); err != nil {
			if !netutil.IsExpectedCloseError(err) {
				r.logger.Info("flushing leftover payload failed", "error", err)
			}
			r.transition(StateClosed)
			return nil
		}
	}

	r.transition(StateRelaying)
	if err := r.relay(outbound); err != nil {
		r.logger.Info("forwarding error", "target", head.target, "error", err)
	}
	r.transition(StateClosed)
	r.logger.Debug("tunnel closed", "target", head.target)
	return nil
}

// reject answers a bad preamble with a status line where one applies
// and closes the inbound socket. Upstream is never contacted.
func (r *Relay) reject(cause error) {
	r.transition(StateRejected)
	r.logger.Debug("preamble rejected", "error", cause)
	switch {
	case errors.Is(cause, ErrPreambleTooLarge):
		r.reply(responseTooLarge)
	case errors.Is(cause, ErrMalformedRequest):
		r.reply(responseBadRequest)
	}
	r.inbound.Close()
	r.transition(StateClosed)
}

func (r *Relay) reply(status string) error {
	r.inbound.SetWriteDeadline(time.Now().Add(replyTimeout))
	_, err := io.WriteString(r.inbound, status)
	r.inbound.SetWriteDeadline(time.Time{})
	return err
}

// relay copies both directions concurrently until both have finished
// or the drain timer closes the stragglers. It returns the first
// forwarding failure other than a normal close.
func (r *Relay) relay(outbound net.Conn) error {
	var once sync.Once
	var drainTimer *time.Timer
	firstDone := func() {
		once.Do(func() {
			drainTimer = time.AfterFunc(r.options.DrainTimeout, func() {
				r.logger.Debug("drain timeout, closing tunnel")
				r.closeAll()
			})
		})
	}

	var group errgroup.Group
	group.Go(func() error {
		defer firstDone()
		return r.pump("inbound->outbound", outbound, r.inbound)
	})
	group.Go(func() error {
		defer firstDone()
		return r.pump("outbound->inbound", r.inbound, outbound)
	})
	err := group.Wait()

	if drainTimer != nil {
		drainTimer.Stop()
	}
	return err
}

// pump copies src to dst until EOF or error. EOF is propagated as a
// half-close of dst; an error additionally stops reading src. Where a
// half-close is unavailable the whole socket is closed.
func (r *Relay) pump(direction string, dst, src net.Conn) error {
	buffer := make([]byte, copyBufferSize)
	bytesCopied, err := io.CopyBuffer(dst, src, buffer)
	r.logger.Debug("direction finished",
		"direction", direction,
		"bytes_copied", bytesCopied,
		"error", err,
	)

	if !netutil.CloseWrite(dst) {
		dst.Close()
	}
	if err != nil && !netutil.CloseRead(src) {
		src.Close()
	}
	if err != nil && !netutil.IsExpectedCloseError(err) {
		return fmt.Errorf("%s after %d bytes: %w", direction, bytesCopied, err)
	}
	return nil
}

// setOutbound records the dialed connection so that closeAll (from
// cancellation or the deferred cleanup in Run) releases it.
func (r *Relay) setOutbound(conn net.Conn) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.outbound = conn
}

func (r *Relay) closeAll() {
	r.mutex.Lock()
	outbound := r.outbound
	r.mutex.Unlock()

	r.inbound.Close()
	if outbound != nil {
		outbound.Close()
	}
}

func (r *Relay) transition(to State) {
	r.mutex.Lock()
	from := r.state
	if from == to || from == StateClosed {
		r.mutex.Unlock()
		return
	}
	r.state = to
	r.mutex.Unlock()

	if r.options.StateHook != nil {
		r.options.StateHook(r.connectionID, from, to)
	}
}
