// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package rpc

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/bureau-foundation/buildjail/lib/codec"
)

// HandlerFunc serves one call. args is the CBOR-encoded argument
// struct. Each call to yield sends one value frame; yield returns an
// error when the caller has gone away or the channel is closed, and the
// handler should stop producing. Returning an error sends an error
// frame; returning nil sends Done.
type HandlerFunc func(ctx context.Context, args []byte, yield func(any) error) error

// Handler pairs a HandlerFunc with its reply shape.
type Handler struct {
	Kind Kind
	Func HandlerFunc
}

// Unary adapts a typed single-result function.
func Unary[A, R any](fn func(ctx context.Context, args A) (R, error)) Handler {
	return Handler{
		Kind: KindSingle,
		Func: func(ctx context.Context, raw []byte, yield func(any) error) error {
			args, err := decodeArgs[A](raw)
			if err != nil {
				return err
			}
			result, err := fn(ctx, args)
			if err != nil {
				return err
			}
			return yield(result)
		},
	}
}

// Streaming adapts a typed producer. fn calls yield once per result,
// in order, and must stop when yield returns an error.
func Streaming[A, R any](fn func(ctx context.Context, args A, yield func(R) error) error) Handler {
	return Handler{
		Kind: KindStreaming,
		Func: func(ctx context.Context, raw []byte, yield func(any) error) error {
			args, err := decodeArgs[A](raw)
			if err != nil {
				return err
			}
			return fn(ctx, args, func(value R) error { return yield(value) })
		},
	}
}

func decodeArgs[A any](raw []byte) (A, error) {
	var args A
	if len(raw) == 0 {
		return args, nil
	}
	if err := codec.Unmarshal(raw, &args); err != nil {
		return args, Errorf(CodeInvalidArgument, "decoding arguments: %v", err)
	}
	return args, nil
}

// Registry maps command names to handlers. It is immutable after
// NewRegistry returns and safe for concurrent use.
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry copies handlers into a new registry. It panics on a
// handler with no Func or an unknown Kind: those are programming errors
// in the code assembling the registry.
func NewRegistry(handlers map[string]Handler) *Registry {
	for name, handler := range handlers {
		if handler.Func == nil {
			panic(fmt.Sprintf("rpc.NewRegistry: command %q has no handler func", name))
		}
		if handler.Kind != KindSingle && handler.Kind != KindStreaming {
			panic(fmt.Sprintf("rpc.NewRegistry: command %q has invalid kind %s", name, handler.Kind))
		}
	}
	return &Registry{handlers: maps.Clone(handlers)}
}

// Lookup returns the handler registered for name.
func (r *Registry) Lookup(name string) (Handler, bool) {
	handler, ok := r.handlers[name]
	return handler, ok
}

// Names returns the registered command names, sorted.
func (r *Registry) Names() []string {
	return slices.Sorted(maps.Keys(r.handlers))
}

// Serve runs the handler for request and writes its frames to replies,
// always ending with exactly one terminal frame unless the caller has
// gone away. It returns the error sent to the caller, or nil on
// success.
func (r *Registry) Serve(ctx context.Context, request Request, replies *Replies) *Error {
	handler, ok := r.handlers[request.Command]
	if !ok {
		failure := Errorf(CodeProtocolViolation, "unknown command %q", request.Command)
		replies.Fail(ctx, failure)
		return failure
	}

	err := invoke(ctx, request.Command, handler, request.Args, replies)
	if err == nil && handler.Kind == KindSingle && replies.Values() != 1 {
		err = Errorf(CodeHandlerFailed, "%s produced %d values, want 1", request.Command, replies.Values())
	}
	if err != nil {
		failure := AsError(err)
		replies.Fail(ctx, failure)
		return failure
	}
	replies.Done(ctx)
	return nil
}

func invoke(ctx context.Context, command string, handler Handler, args []byte, replies *Replies) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = Errorf(CodeHandlerFailed, "%s panicked: %v", command, recovered)
		}
	}()
	return handler.Func(ctx, args, func(value any) error {
		if handler.Kind == KindSingle && replies.Values() > 0 {
			return Errorf(CodeHandlerFailed, "%s produced more than one value", command)
		}
		return replies.Value(ctx, value)
	})
}
