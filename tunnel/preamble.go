// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tunnel

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
)

var (
	// ErrPreambleTooLarge is returned when the header buffer fills
	// before the end-of-headers marker arrives.
	ErrPreambleTooLarge = errors.New("tunnel: request headers exceed limit")

	// ErrPreambleIncomplete is returned when the client closes before
	// sending the end-of-headers marker.
	ErrPreambleIncomplete = errors.New("tunnel: connection closed before end of headers")

	// ErrMalformedRequest is returned when the request line is not
	// "CONNECT host:port HTTP/1.x".
	ErrMalformedRequest = errors.New("tunnel: malformed CONNECT request")
)

// preamble is the parsed head of a CONNECT request.
type preamble struct {
	// requestLine is the first header line without its line ending.
	requestLine string

	// target is the host:port to dial, as written by the client.
	target string

	// leftover holds bytes read past the end of the headers. They
	// belong to the tunnel and must reach upstream first.
	leftover []byte
}

// readPreamble reads from reader into a buffer of at most limit bytes
// until the end of the headers ("\r\n\r\n" or "\n\n") is found, then
// parses the request line. The reader is never read past the first
// chunk that contains the terminator.
func readPreamble(reader io.Reader, limit int) (*preamble, error) {
	buffer := make([]byte, limit)
	filled := 0
	for {
		if filled == limit {
			return nil, ErrPreambleTooLarge
		}
		n, readError := reader.Read(buffer[filled:])
		searchFrom := max(filled-3, 0)
		filled += n

		if end, markerLength := headerEnd(buffer[:filled], searchFrom); end >= 0 {
			head := buffer[:end]
			target, requestLine, err := parseRequestLine(head)
			if err != nil {
				return nil, err
			}
			return &preamble{
				requestLine: requestLine,
				target:      target,
				leftover:    bytes.Clone(buffer[end+markerLength : filled]),
			}, nil
		}

		if readError != nil {
			if errors.Is(readError, io.EOF) {
				return nil, ErrPreambleIncomplete
			}
			return nil, fmt.Errorf("tunnel: reading request headers: %w", readError)
		}
	}
}

// headerEnd returns the offset of the earliest end-of-headers marker in
// data at or after from, and the marker's length, or -1.
func headerEnd(data []byte, from int) (int, int) {
	crlf := bytes.Index(data[from:], []byte("\r\n\r\n"))
	lf := bytes.Index(data[from:], []byte("\n\n"))
	switch {
	case crlf < 0 && lf < 0:
		return -1, 0
	case lf < 0 || (crlf >= 0 && crlf < lf):
		return from + crlf, 4
	default:
		return from + lf, 2
	}
}

// parseRequestLine validates the first line of head and returns the
// CONNECT target.
func parseRequestLine(head []byte) (target, requestLine string, err error) {
	line, _, _ := bytes.Cut(head, []byte("\n"))
	requestLine = strings.TrimSuffix(string(line), "\r")

	fields := strings.Fields(requestLine)
	if len(fields) != 3 {
		return "", requestLine, fmt.Errorf("%w: %q", ErrMalformedRequest, requestLine)
	}
	method, target, version := fields[0], fields[1], fields[2]
	if method != "CONNECT" {
		return "", requestLine, fmt.Errorf("%w: method %q", ErrMalformedRequest, method)
	}
	if !strings.HasPrefix(version, "HTTP/1.") || len(version) != len("HTTP/1.1") {
		return "", requestLine, fmt.Errorf("%w: version %q", ErrMalformedRequest, version)
	}

	host, port, splitError := net.SplitHostPort(target)
	if splitError != nil || host == "" {
		return "", requestLine, fmt.Errorf("%w: target %q", ErrMalformedRequest, target)
	}
	portNumber, portError := strconv.Atoi(port)
	if portError != nil || portNumber < 1 || portNumber > 65535 {
		return "", requestLine, fmt.Errorf("%w: port %q", ErrMalformedRequest, port)
	}
	return target, requestLine, nil
}
