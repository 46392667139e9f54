// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package rpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/bureau-foundation/buildjail/lib/codec"
)

// readTimeout is how long the server waits for the request after a
// client connects. A well-behaved client sends it immediately.
const readTimeout = 30 * time.Second

// writeTimeout bounds each frame write. A caller that stops reading for
// longer than this loses the call.
const writeTimeout = 30 * time.Second

// dialTimeout covers only the connect phase of SocketTransport.Open.
const dialTimeout = 5 * time.Second

// Accept retry bounds. Failures such as EMFILE persist until a call
// finishes and releases its descriptor.
const (
	acceptRetryInitial = 5 * time.Millisecond
	acceptRetryMax     = time.Second
)

// DefaultMaxRequestSize caps a single CBOR request. Requests carry file
// contents for writeFile, so this is larger than a control protocol
// would need.
const DefaultMaxRequestSize = 64 << 20

// SocketServer serves a Registry on a Unix socket. Each connection
// carries exactly one call: the client writes a Request, the server
// writes the reply frames as a CBOR sequence and closes the connection.
// The connection is the call's dedicated reply channel.
type SocketServer struct {
	socketPath string
	registry   *Registry
	logger     *slog.Logger

	// Compression and CompressThreshold apply to value payloads. A
	// threshold of zero disables compression.
	Compression       codec.CompressionTag
	CompressThreshold int

	// MaxRequestSize caps one request. Zero means
	// DefaultMaxRequestSize.
	MaxRequestSize int64

	listener net.Listener

	// activeConnections tracks in-flight calls. Serve waits for them
	// before returning.
	activeConnections sync.WaitGroup
}

// NewSocketServer creates a server for registry that will listen on
// socketPath.
func NewSocketServer(socketPath string, registry *Registry, logger *slog.Logger) *SocketServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &SocketServer{
		socketPath: socketPath,
		registry:   registry,
		logger:     logger,
	}
}

// SocketPath returns the path the server listens on.
func (s *SocketServer) SocketPath() string {
	return s.socketPath
}

// Listen binds the socket without accepting. Callers that must know the
// socket exists before starting a client (the supervisor launching a
// worker) call Listen, then Serve. Any stale socket file at the path is
// removed first.
func (s *SocketServer) Listen() error {
	if s.listener != nil {
		return nil
	}
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing stale socket %s: %w", s.socketPath, err)
	}
	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.socketPath, err)
	}
	s.listener = listener
	return nil
}

// Close releases the socket if Listen succeeded but Serve will not run.
// Serve closes it itself on return.
func (s *SocketServer) Close() error {
	if s.listener == nil {
		return nil
	}
	err := s.listener.Close()
	os.Remove(s.socketPath)
	return err
}

// Serve accepts calls until ctx is cancelled, then stops accepting,
// cancels in-flight handlers, and waits for them to finish. It binds
// the socket first if Listen was not called. The socket file is
// removed on return.
func (s *SocketServer) Serve(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	listener := s.listener
	defer func() {
		listener.Close()
		os.Remove(s.socketPath)
	}()

	// Unblock Accept when the context is cancelled.
	stop := context.AfterFunc(ctx, func() { listener.Close() })
	defer stop()

	s.logger.Info("rpc server listening",
		"path", s.socketPath,
		"commands", len(s.registry.Names()),
	)

	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = acceptRetryInitial
	retry.MaxInterval = acceptRetryMax
	retry.MaxElapsedTime = 0
	retry.Reset()

accept:
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			delay := retry.NextBackOff()
			s.logger.Error("accept failed", "error", err, "retry_in", delay)
			select {
			case <-ctx.Done():
				break accept
			case <-time.After(delay):
			}
			continue
		}
		retry.Reset()

		s.activeConnections.Add(1)
		go func() {
			defer s.activeConnections.Done()
			s.handleConnection(ctx, conn)
		}()
	}

	s.activeConnections.Wait()
	return nil
}

// handleConnection serves one call.
func (s *SocketServer) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	maxRequestSize := s.MaxRequestSize
	if maxRequestSize <= 0 {
		maxRequestSize = DefaultMaxRequestSize
	}

	conn.SetReadDeadline(time.Now().Add(readTimeout))
	var request Request
	if err := codec.NewDecoder(io.LimitReader(conn, maxRequestSize)).Decode(&request); err != nil {
		if errors.Is(err, io.EOF) {
			// Client connected but sent nothing.
			return
		}
		failure := Errorf(CodeProtocolViolation, "invalid request: %v", err)
		s.logger.Debug("rejecting request", "error", err)
		NewReplies(&connectionSink{conn: conn}, codec.CompressionNone, 0).Fail(ctx, failure)
		return
	}
	conn.SetReadDeadline(time.Time{})

	// The client writes nothing after its request, so any read
	// completing (EOF, reset, or stray bytes) means it has hung up.
	callContext, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		conn.Read(make([]byte, 1))
		cancel()
	}()

	started := time.Now()
	replies := NewReplies(&connectionSink{conn: conn}, s.Compression, s.CompressThreshold)
	failure := s.registry.Serve(callContext, request, replies)
	if failure != nil {
		s.logger.Debug("call failed",
			"command", request.Command,
			"code", failure.Code,
			"error", failure.Message,
			"duration", time.Since(started),
		)
		return
	}
	s.logger.Debug("call completed",
		"command", request.Command,
		"values", replies.Values(),
		"duration", time.Since(started),
	)
}

// connectionSink writes frames to a connection as a CBOR sequence.
type connectionSink struct {
	conn    net.Conn
	encoder *codec.Encoder
}

func (c *connectionSink) Send(ctx context.Context, frame Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.encoder == nil {
		c.encoder = codec.NewEncoder(c.conn)
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.encoder.Encode(frame); err != nil {
		return fmt.Errorf("writing frame: %w", err)
	}
	return nil
}

// SocketTransport opens calls on a SocketServer, one connection per
// call.
type SocketTransport struct {
	SocketPath string
}

// NewSocketClient returns a Client that calls the server at socketPath.
func NewSocketClient(socketPath string) *Client {
	return NewClient(&SocketTransport{SocketPath: socketPath})
}

// Open connects, writes request, and returns the connection as the
// call's frame source.
func (t *SocketTransport) Open(ctx context.Context, request Request) (FrameSource, error) {
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "unix", t.SocketPath)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", t.SocketPath, err)
	}

	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := codec.NewEncoder(conn).Encode(request); err != nil {
		conn.Close()
		return nil, fmt.Errorf("writing request: %w", err)
	}
	conn.SetWriteDeadline(time.Time{})

	return &connectionSource{conn: conn, decoder: codec.NewDecoder(conn)}, nil
}

type connectionSource struct {
	conn      net.Conn
	decoder   *codec.Decoder
	closeOnce sync.Once
}

func (c *connectionSource) Receive(ctx context.Context) (Frame, error) {
	stop := context.AfterFunc(ctx, func() {
		c.conn.SetReadDeadline(time.Unix(1, 0))
	})
	defer stop()

	var frame Frame
	if err := c.decoder.Decode(&frame); err != nil {
		if ctx.Err() != nil {
			return Frame{}, ctx.Err()
		}
		if errors.Is(err, io.EOF) {
			return Frame{}, Errorf(CodeUnavailable, "connection closed before a terminal frame")
		}
		return Frame{}, fmt.Errorf("reading frame: %w", err)
	}
	return frame, nil
}

// Close hangs up. If the call is still running, the server sees the
// close and cancels the handler.
func (c *connectionSource) Close() error {
	var err error
	c.closeOnce.Do(func() { err = c.conn.Close() })
	return err
}
