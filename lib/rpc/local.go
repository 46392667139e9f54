// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package rpc

import (
	"context"
	"log/slog"

	"github.com/bureau-foundation/buildjail/lib/codec"
)

// defaultLocalBuffer is the number of frames a Local reply channel
// holds before the producer blocks.
const defaultLocalBuffer = 16

// Local is an in-process Transport. Each call runs its handler on a new
// goroutine and gets a fresh buffered frame channel. Closing the
// caller's source cancels the handler's context, which is how the
// producer learns the caller has gone away.
type Local struct {
	Registry *Registry

	// Buffer is the frame channel capacity. Zero means 16.
	Buffer int

	// Compression and CompressThreshold apply to value payloads, as
	// for SocketServer.
	Compression       codec.CompressionTag
	CompressThreshold int

	// Logger receives per-call Debug output. If nil, slog.Default() is
	// used.
	Logger *slog.Logger
}

func (l *Local) logger() *slog.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return slog.Default()
}

// Open starts the handler for request.
func (l *Local) Open(ctx context.Context, request Request) (FrameSource, error) {
	buffer := l.Buffer
	if buffer <= 0 {
		buffer = defaultLocalBuffer
	}
	frames := make(chan Frame, buffer)
	handlerContext, cancel := context.WithCancel(ctx)

	go func() {
		defer close(frames)
		replies := NewReplies(channelSink(frames), l.Compression, l.CompressThreshold)
		if failure := l.Registry.Serve(handlerContext, request, replies); failure != nil {
			l.logger().Debug("call failed",
				"command", request.Command,
				"code", failure.Code,
				"error", failure.Message,
			)
		}
	}()

	return &channelSource{frames: frames, cancel: cancel}, nil
}

type channelSink chan<- Frame

func (c channelSink) Send(ctx context.Context, frame Frame) error {
	select {
	case c <- frame:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type channelSource struct {
	frames <-chan Frame
	cancel context.CancelFunc
}

func (c *channelSource) Receive(ctx context.Context) (Frame, error) {
	select {
	case frame, ok := <-c.frames:
		if !ok {
			if err := ctx.Err(); err != nil {
				return Frame{}, err
			}
			return Frame{}, Errorf(CodeUnavailable, "reply channel closed without a terminal frame")
		}
		return frame, nil
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

func (c *channelSource) Close() error {
	c.cancel()
	return nil
}
