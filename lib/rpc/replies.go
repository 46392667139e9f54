// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package rpc

import (
	"context"
	"fmt"
	"sync"

	"github.com/bureau-foundation/buildjail/lib/codec"
)

// FrameSink delivers frames to the caller of one call. Send blocks
// until the frame is handed off or ctx is done.
type FrameSink interface {
	Send(ctx context.Context, frame Frame) error
}

// Replies is the producer side of one reply channel. It enforces the
// framing rules: values in order, exactly one terminal frame, nothing
// after it. Safe for concurrent use.
type Replies struct {
	sink        FrameSink
	compression codec.CompressionTag
	threshold   int

	mutex  sync.Mutex
	closed bool
	values int
}

// NewReplies wraps sink. Value payloads of at least threshold bytes are
// compressed with compression; a threshold of zero or less disables
// compression.
func NewReplies(sink FrameSink, compression codec.CompressionTag, threshold int) *Replies {
	return &Replies{sink: sink, compression: compression, threshold: threshold}
}

// Value encodes v and sends it as a FrameValue.
func (r *Replies) Value(ctx context.Context, v any) error {
	payload, err := codec.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding reply value: %w", err)
	}
	frame := Frame{Kind: FrameValue, Payload: payload}
	if r.compression != codec.CompressionNone && r.threshold > 0 && len(payload) >= r.threshold {
		compressed, err := codec.Compress(r.compression, payload)
		if err != nil {
			return err
		}
		frame.Payload = compressed
		frame.Compression = r.compression
	}
	return r.send(ctx, frame)
}

// Done sends the successful terminal frame.
func (r *Replies) Done(ctx context.Context) error {
	return r.send(ctx, Frame{Kind: FrameDone})
}

// Fail sends the failed terminal frame.
func (r *Replies) Fail(ctx context.Context, failure *Error) error {
	return r.send(ctx, Frame{Kind: FrameError, Error: failure})
}

// Closed reports whether a terminal frame has been sent.
func (r *Replies) Closed() bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.closed
}

// Values returns the number of value frames sent so far.
func (r *Replies) Values() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.values
}

// send holds the mutex across the sink hand-off so that concurrent
// producers cannot reorder frames.
func (r *Replies) send(ctx context.Context, frame Frame) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if r.closed {
		return ErrChannelClosed
	}
	if frame.Kind.Terminal() {
		r.closed = true
	}
	if err := r.sink.Send(ctx, frame); err != nil {
		r.closed = true
		return err
	}
	if frame.Kind == FrameValue {
		r.values++
	}
	return nil
}
