// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package rpc

import (
	"context"
	"errors"

	"github.com/bureau-foundation/buildjail/lib/codec"
)

// Transport opens reply channels. Each Open issues one call and returns
// the source its frames arrive on.
type Transport interface {
	Open(ctx context.Context, request Request) (FrameSource, error)
}

// FrameSource is the caller side of one reply channel. Close releases
// the channel and tells the producer to stop; it is safe to call more
// than once and after a terminal frame.
type FrameSource interface {
	Receive(ctx context.Context) (Frame, error)
	Close() error
}

// Client issues calls over a Transport. Every call gets a fresh reply
// channel, so a Client is safe for concurrent use.
type Client struct {
	transport Transport
}

// NewClient returns a client that issues calls over transport.
func NewClient(transport Transport) *Client {
	return &Client{transport: transport}
}

// Call issues a single-result command and decodes the one value into
// result (which may be nil to discard it). It returns the call's *Error
// on failure, or a CodeProtocolViolation *Error if the reply was not
// exactly one value followed by Done.
func (c *Client) Call(ctx context.Context, command string, args any, result any) error {
	source, err := c.open(ctx, command, args)
	if err != nil {
		return err
	}
	defer source.Close()

	first, err := receive(ctx, source)
	if err != nil {
		return err
	}
	switch first.Kind {
	case FrameError:
		return first.Error
	case FrameDone:
		return Errorf(CodeProtocolViolation, "%s finished without a value", command)
	}

	second, err := receive(ctx, source)
	if err != nil {
		return err
	}
	switch second.Kind {
	case FrameError:
		return second.Error
	case FrameValue:
		return Errorf(CodeProtocolViolation, "%s produced more than one value", command)
	}

	if result == nil {
		return nil
	}
	if err := first.decodePayload(result); err != nil {
		return Errorf(CodeProtocolViolation, "decoding %s result: %v", command, err)
	}
	return nil
}

// Stream issues a command and returns its values undecoded.
func (c *Client) Stream(ctx context.Context, command string, args any) (*Stream[codec.RawMessage], error) {
	return CallStream[codec.RawMessage](ctx, c, command, args)
}

// Call is the typed form of Client.Call.
func Call[R any](ctx context.Context, client *Client, command string, args any) (R, error) {
	var result R
	err := client.Call(ctx, command, args, &result)
	return result, err
}

// CallStream issues command and returns a stream of typed values. The
// caller must Close the stream (or drain it) to release the channel.
func CallStream[R any](ctx context.Context, client *Client, command string, args any) (*Stream[R], error) {
	source, err := client.open(ctx, command, args)
	if err != nil {
		return nil, err
	}
	return &Stream[R]{ctx: ctx, command: command, source: source}, nil
}

func (c *Client) open(ctx context.Context, command string, args any) (FrameSource, error) {
	request := Request{Command: command}
	if args != nil {
		encoded, err := codec.Marshal(args)
		if err != nil {
			return nil, Errorf(CodeInvalidArgument, "encoding %s arguments: %v", command, err)
		}
		request.Args = encoded
	}
	source, err := c.transport.Open(ctx, request)
	if err != nil {
		return nil, unavailable(err)
	}
	return source, nil
}

// receive reads one frame and checks its shape. Transport failures are
// reported as CodeUnavailable, malformed frames as
// CodeProtocolViolation.
func receive(ctx context.Context, source FrameSource) (Frame, error) {
	frame, err := source.Receive(ctx)
	if err != nil {
		var rpcError *Error
		if errors.As(err, &rpcError) {
			return Frame{}, rpcError
		}
		return Frame{}, unavailable(err)
	}
	if err := frame.validate(); err != nil {
		return Frame{}, Errorf(CodeProtocolViolation, "%v", err)
	}
	return frame, nil
}
