// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tunnel

import (
	"context"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"
)

const testTimeout = 5 * time.Second

// recordingDialer records every dial target and delegates the actual
// connection to dial.
type recordingDialer struct {
	mutex   sync.Mutex
	targets []string
	dial    func(address string) (net.Conn, error)
}

func (d *recordingDialer) DialContext(_ context.Context, _, address string) (net.Conn, error) {
	d.mutex.Lock()
	d.targets = append(d.targets, address)
	d.mutex.Unlock()
	return d.dial(address)
}

func (d *recordingDialer) Targets() []string {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return append([]string(nil), d.targets...)
}

// redirectTo returns a dialer that connects every target to address.
func redirectTo(address string) *recordingDialer {
	return &recordingDialer{dial: func(string) (net.Conn, error) {
		return net.Dial("tcp", address)
	}}
}

// pipeDialer returns a dialer that hands the relay one end of a
// net.Pipe and sends the other end on the returned channel.
func pipeDialer() (*recordingDialer, <-chan net.Conn) {
	upstreams := make(chan net.Conn, 4)
	dialer := &recordingDialer{dial: func(string) (net.Conn, error) {
		relaySide, testSide := net.Pipe()
		upstreams <- testSide
		return relaySide, nil
	}}
	return dialer, upstreams
}

// tcpPair returns two ends of a loopback TCP connection.
func tcpPair(t *testing.T) (client, server net.Conn) {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer listener.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, acceptError := listener.Accept()
		if acceptError != nil {
			close(accepted)
			return
		}
		accepted <- conn
	}()

	client, err = net.Dial("tcp", listener.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	server, ok := <-accepted
	if !ok {
		t.Fatal("accept failed")
	}
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return client, server
}

// echoUpstream listens on loopback TCP and echoes everything it reads.
func echoUpstream(t *testing.T) string {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("echoUpstream: listen: %v", err)
	}
	t.Cleanup(func() { listener.Close() })

	go func() {
		for {
			connection, acceptError := listener.Accept()
			if acceptError != nil {
				return
			}
			go func() {
				defer connection.Close()
				io.Copy(connection, connection)
			}()
		}
	}()
	return listener.Addr().String()
}

// prefixUpstream reads everything the client sends, replies with
// prefix+data, then half-closes. It only answers once it sees EOF, so it
// hangs unless the relay propagates the client's half-close.
func prefixUpstream(t *testing.T, prefix string) string {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("prefixUpstream: listen: %v", err)
	}
	t.Cleanup(func() { listener.Close() })

	go func() {
		for {
			connection, acceptError := listener.Accept()
			if acceptError != nil {
				return
			}
			go func() {
				defer connection.Close()
				data, readError := io.ReadAll(connection)
				if readError != nil {
					return
				}
				connection.Write(append([]byte(prefix), data...))
				connection.(*net.TCPConn).CloseWrite()
			}()
		}
	}()
	return listener.Addr().String()
}

// silentUpstream accepts connections and never reads, writes or closes
// them until the test ends.
func silentUpstream(t *testing.T) string {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("silentUpstream: listen: %v", err)
	}
	var held []net.Conn
	var mutex sync.Mutex
	t.Cleanup(func() {
		listener.Close()
		mutex.Lock()
		defer mutex.Unlock()
		for _, connection := range held {
			connection.Close()
		}
	})

	go func() {
		for {
			connection, acceptError := listener.Accept()
			if acceptError != nil {
				return
			}
			mutex.Lock()
			held = append(held, connection)
			mutex.Unlock()
		}
	}()
	return listener.Addr().String()
}

// stateRecorder collects transitions reported through Options.StateHook.
type stateRecorder struct {
	mutex       sync.Mutex
	transitions []State
}

func (s *stateRecorder) hook(_ int64, _, to State) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.transitions = append(s.transitions, to)
}

func (s *stateRecorder) States() []State {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return append([]State(nil), s.transitions...)
}

// readEstablished reads exactly the 200 status line from conn.
func readEstablished(t *testing.T, conn net.Conn) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(testTimeout))
	defer conn.SetReadDeadline(time.Time{})
	response := make([]byte, len(responseEstablished))
	if _, err := io.ReadFull(conn, response); err != nil {
		t.Fatalf("reading CONNECT response: %v", err)
	}
	if string(response) != "HTTP/1.1 200 Connection established\r\n\r\n" {
		t.Fatalf("CONNECT response = %q", response)
	}
}

// runRelay runs a relay over inbound in the background and returns a
// channel that receives Run's result.
func runRelay(inbound net.Conn, options Options) <-chan error {
	result := make(chan error, 1)
	go func() {
		result <- NewRelay(inbound, 1, options).Run(context.Background())
	}()
	return result
}

// logRecorder is a slog.Handler that keeps every record's message and
// error attribute.
type logRecorder struct {
	mutex   sync.Mutex
	records []loggedRecord
}

type loggedRecord struct {
	message string
	err     string
}

func (l *logRecorder) Enabled(context.Context, slog.Level) bool { return true }

func (l *logRecorder) Handle(_ context.Context, record slog.Record) error {
	entry := loggedRecord{message: record.Message}
	record.Attrs(func(attr slog.Attr) bool {
		if attr.Key == "error" {
			entry.err = attr.Value.String()
		}
		return true
	})
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.records = append(l.records, entry)
	return nil
}

func (l *logRecorder) WithAttrs([]slog.Attr) slog.Handler { return l }
func (l *logRecorder) WithGroup(string) slog.Handler      { return l }

// Matching returns the records logged with message.
func (l *logRecorder) Matching(message string) []loggedRecord {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	var matched []loggedRecord
	for _, record := range l.records {
		if record.message == message {
			matched = append(matched, record)
		}
	}
	return matched
}

// brokenConn fails every Read with err.
type brokenConn struct {
	net.Conn
	err error
}

func (b *brokenConn) Read([]byte) (int, error) { return 0, b.err }
