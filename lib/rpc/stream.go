// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package rpc

import (
	"context"
	"iter"
	"sync"
)

// Stream is the caller's view of a streaming reply. Use it like a
// scanner:
//
//	for stream.Next() {
//		use(stream.Value())
//	}
//	if err := stream.Err(); err != nil { ... }
//
// A Stream is not safe for concurrent use.
type Stream[R any] struct {
	ctx     context.Context
	command string
	source  FrameSource

	value     R
	err       error
	finished  bool
	closeOnce sync.Once
}

// Next advances to the next value. Values already delivered are
// returned immediately; otherwise Next blocks until the producer sends
// one or the stream ends. It returns false after Done, an error frame,
// a transport failure, or Close.
func (s *Stream[R]) Next() bool {
	if s.finished {
		return false
	}
	frame, err := receive(s.ctx, s.source)
	if err != nil {
		s.finish(err)
		return false
	}
	switch frame.Kind {
	case FrameValue:
		var value R
		if err := frame.decodePayload(&value); err != nil {
			s.finish(Errorf(CodeProtocolViolation, "decoding %s value: %v", s.command, err))
			return false
		}
		s.value = value
		return true
	case FrameDone:
		s.finish(nil)
		return false
	default:
		s.finish(frame.Error)
		return false
	}
}

// Value returns the value read by the last successful Next.
func (s *Stream[R]) Value() R {
	return s.value
}

// Err returns the error that ended the stream, or nil if it ended with
// Done or was closed by the caller.
func (s *Stream[R]) Err() error {
	return s.err
}

// Close releases the reply channel. If the producer is still running it
// is told to stop. Values not yet read are discarded.
func (s *Stream[R]) Close() error {
	s.finished = true
	var err error
	s.closeOnce.Do(func() { err = s.source.Close() })
	return err
}

// All returns an iterator over the remaining values. A terminal error
// is yielded once as the final pair. Breaking out of the loop closes
// the stream.
func (s *Stream[R]) All() iter.Seq2[R, error] {
	return func(yield func(R, error) bool) {
		defer s.Close()
		for s.Next() {
			if !yield(s.Value(), nil) {
				return
			}
		}
		if s.err != nil {
			var zero R
			yield(zero, s.err)
		}
	}
}

// Collect drains the stream into a slice. On error it returns the
// values received before the error along with it.
func (s *Stream[R]) Collect() ([]R, error) {
	var values []R
	for value, err := range s.All() {
		if err != nil {
			return values, err
		}
		values = append(values, value)
	}
	return values, nil
}

func (s *Stream[R]) finish(err error) {
	s.err = err
	s.Close()
}
