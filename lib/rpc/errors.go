// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package rpc

import (
	"context"
	"errors"
	"fmt"
)

// ErrorCode classifies a failed call.
type ErrorCode string

const (
	// CodeProtocolViolation: the call broke the protocol (unknown
	// command, malformed request, a single call that produced zero or
	// several values, frames after a terminal frame).
	CodeProtocolViolation ErrorCode = "protocol_violation"

	// CodeAccessDenied: the request was well-formed but a capability
	// check refused it.
	CodeAccessDenied ErrorCode = "access_denied"

	CodeNotFound        ErrorCode = "not_found"
	CodeInvalidArgument ErrorCode = "invalid_argument"

	// CodeStepFailed: a subprocess step exited nonzero and stopped the
	// command. The failing step's result was delivered before the error.
	CodeStepFailed ErrorCode = "step_failed"

	// CodeHandlerFailed: the handler returned an unclassified error or
	// panicked.
	CodeHandlerFailed ErrorCode = "handler_failed"

	// CodeSandboxFault: the worker reported that its own logic failed.
	CodeSandboxFault ErrorCode = "sandbox_fault"

	// CodeUnavailable: the transport failed or the call was cancelled
	// before a terminal frame arrived.
	CodeUnavailable ErrorCode = "unavailable"
)

// Error is the payload of a FrameError and the error type every failed
// call returns.
type Error struct {
	Code    ErrorCode `cbor:"code"`
	Message string    `cbor:"message"`

	// cause is the local error this one was built from. It does not
	// cross the wire.
	cause error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches another *Error with the same code. An empty Message in
// target matches any message, so callers can test a class:
//
//	errors.Is(err, &rpc.Error{Code: rpc.CodeAccessDenied})
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return other.Code == e.Code && (other.Message == "" || other.Message == e.Message)
}

// Unwrap returns the local cause, if any.
func (e *Error) Unwrap() error {
	return e.cause
}

// Errorf builds an *Error with a formatted message.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// AsError converts any handler error into the *Error sent on the wire.
// Errors that already carry an *Error keep its code; context errors
// become CodeUnavailable; everything else is CodeHandlerFailed.
func AsError(err error) *Error {
	var rpcError *Error
	if errors.As(err, &rpcError) {
		return rpcError
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return unavailable(err)
	}
	return &Error{Code: CodeHandlerFailed, Message: err.Error(), cause: err}
}

// unavailable wraps a transport or cancellation error.
func unavailable(err error) *Error {
	return &Error{Code: CodeUnavailable, Message: err.Error(), cause: err}
}

// CodeOf returns the code of the *Error in err's chain, or "" if there
// is none.
func CodeOf(err error) ErrorCode {
	var rpcError *Error
	if errors.As(err, &rpcError) {
		return rpcError.Code
	}
	return ""
}

// ErrChannelClosed is returned when a producer sends on a reply channel
// that already carried its terminal frame.
var ErrChannelClosed = errors.New("rpc: reply channel closed")
