// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"time"

	"github.com/armon/circbuf"
	"github.com/kballard/go-shellquote"

	"github.com/bureau-foundation/buildjail/lib/schema"
)

// DefaultMaxOutput bounds each captured stream when Exec.MaxOutput is
// zero.
const DefaultMaxOutput = 1 << 20

// waitDelay is how long Run waits for output to drain after the
// process exits or is killed. Grandchildren that inherited the pipes
// can otherwise hold Wait open indefinitely.
const waitDelay = 5 * time.Second

// Step is one subprocess invocation.
type Step struct {
	// Name labels the step in results and logs. Defaults to the
	// shell-quoted argv.
	Name string

	Argv []string

	// Dir overrides the runner's working directory.
	Dir string
}

// Label returns Name, or the quoted argv when Name is empty.
func (s Step) Label() string {
	if s.Name != "" {
		return s.Name
	}
	return shellquote.Join(s.Argv...)
}

// OutputFunc receives live output. Returning an error stops the
// process.
type OutputFunc func(chunk schema.OutputChunk) error

// Runner runs steps.
type Runner interface {
	Run(ctx context.Context, step Step, output OutputFunc) (schema.ProcessResult, error)
}

// Exec runs steps with os/exec.
type Exec struct {
	// Dir is the default working directory.
	Dir string

	// Env is the environment for every step. Nil inherits the
	// mediator's environment.
	Env []string

	// MaxOutput bounds each captured stream, keeping the tail. Zero
	// means DefaultMaxOutput.
	MaxOutput int

	Logger *slog.Logger
}

func (e *Exec) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

// Run starts step, captures its output, and waits for it to exit. If
// ctx is cancelled or output returns an error, the process is killed
// and Run returns the partial result with the error.
func (e *Exec) Run(ctx context.Context, step Step, output OutputFunc) (schema.ProcessResult, error) {
	result := schema.ProcessResult{Step: step.Label(), Argv: step.Argv}
	if len(step.Argv) == 0 {
		return result, fmt.Errorf("step %q has an empty argv", result.Step)
	}

	limit := e.MaxOutput
	if limit <= 0 {
		limit = DefaultMaxOutput
	}
	stdout, err := circbuf.NewBuffer(int64(limit))
	if err != nil {
		return result, err
	}
	stderr, err := circbuf.NewBuffer(int64(limit))
	if err != nil {
		return result, err
	}

	processContext, kill := context.WithCancelCause(ctx)
	defer kill(nil)

	command := exec.CommandContext(processContext, step.Argv[0], step.Argv[1:]...)
	command.Dir = e.Dir
	if step.Dir != "" {
		command.Dir = step.Dir
	}
	command.Env = e.Env
	command.WaitDelay = waitDelay

	// The callback is shared by both stream writers.
	var outputMutex sync.Mutex
	deliver := func(stream string, data []byte) {
		if output == nil {
			return
		}
		outputMutex.Lock()
		defer outputMutex.Unlock()
		if processContext.Err() != nil {
			return
		}
		chunk := schema.OutputChunk{Step: result.Step, Stream: stream, Data: append([]byte(nil), data...)}
		if err := output(chunk); err != nil {
			kill(fmt.Errorf("delivering output: %w", err))
		}
	}
	command.Stdout = &streamWriter{buffer: stdout, stream: schema.StreamStdout, deliver: deliver}
	command.Stderr = &streamWriter{buffer: stderr, stream: schema.StreamStderr, deliver: deliver}

	started := time.Now()
	e.logger().Debug("starting step",
		"step", result.Step,
		"command", shellquote.Join(step.Argv...),
		"dir", command.Dir,
	)
	if err := command.Start(); err != nil {
		return result, fmt.Errorf("starting %q: %w", result.Step, err)
	}
	waitError := command.Wait()

	result.Stdout = stdout.String()
	result.Stderr = stderr.String()
	result.Truncated = stdout.TotalWritten() > stdout.Size() || stderr.TotalWritten() > stderr.Size()

	if cause := context.Cause(processContext); cause != nil {
		result.ExitCode = -1
		return result, cause
	}

	var exitError *exec.ExitError
	switch {
	case waitError == nil, errors.Is(waitError, exec.ErrWaitDelay):
		result.ExitCode = 0
	case errors.As(waitError, &exitError):
		result.ExitCode = exitError.ExitCode()
	default:
		return result, fmt.Errorf("waiting for %q: %w", result.Step, waitError)
	}

	e.logger().Debug("step finished",
		"step", result.Step,
		"exit_code", result.ExitCode,
		"duration", time.Since(started),
		"truncated", result.Truncated,
	)
	return result, nil
}

// streamWriter records one output stream into its bounded buffer and
// forwards each write as a chunk.
type streamWriter struct {
	buffer  *circbuf.Buffer
	stream  string
	deliver func(stream string, data []byte)
}

func (w *streamWriter) Write(data []byte) (int, error) {
	w.buffer.Write(data)
	w.deliver(w.stream, data)
	return len(data), nil
}
