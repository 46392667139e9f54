// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

type codedError int

func (c codedError) Error() string { return fmt.Sprintf("exit %d", int(c)) }
func (c codedError) ExitCode() int { return int(c) }

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, 0},
		{"plain", errors.New("boom"), 1},
		{"coded", codedError(3), 3},
		{"wrapped", fmt.Errorf("run: %w", codedError(4)), 4},
		{"zero code", codedError(0), 1},
	}
	for _, test := range tests {
		if got := ExitCode(test.err); got != test.want {
			t.Errorf("%s: ExitCode = %d, want %d", test.name, got, test.want)
		}
	}
}

func TestNewLoggerHandlers(t *testing.T) {
	var text, json bytes.Buffer
	newLogger(&text, true, false).Info("started", "port", 3128)
	newLogger(&json, false, false).Info("started", "port", 3128)

	if !strings.Contains(text.String(), "msg=started port=3128") {
		t.Errorf("terminal output = %q", text.String())
	}
	if !strings.Contains(json.String(), `"msg":"started","port":3128`) {
		t.Errorf("non-terminal output = %q", json.String())
	}
}

func TestNewLoggerVerbose(t *testing.T) {
	var buffer bytes.Buffer
	if newLogger(&buffer, false, false).Enabled(context.Background(), -4) {
		t.Error("debug enabled without verbose")
	}
	if !newLogger(&buffer, false, true).Enabled(context.Background(), -4) {
		t.Error("debug disabled with verbose")
	}
}
