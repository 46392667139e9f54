// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"time"
)

// Fallback selects what happens when bwrap cannot run on the host.
type Fallback string

const (
	// FallbackError refuses to launch the worker.
	FallbackError Fallback = "error"

	// FallbackWarn launches the worker unconfined, with an environment
	// holding only the socket path, and logs a warning.
	FallbackWarn Fallback = "warn"
)

// ParseFallback parses a fallback mode. The empty string means
// FallbackError.
func ParseFallback(value string) (Fallback, error) {
	switch Fallback(value) {
	case "", FallbackError:
		return FallbackError, nil
	case FallbackWarn:
		return FallbackWarn, nil
	default:
		return "", fmt.Errorf("unknown sandbox fallback %q (expected %q or %q)", value, FallbackError, FallbackWarn)
	}
}

// ErrUnavailable is returned by New when bwrap cannot run and the
// fallback is FallbackError.
var ErrUnavailable = errors.New("sandbox unavailable")

// waitDelay bounds how long Run waits for output pipes after the
// worker is killed.
const waitDelay = 5 * time.Second

// Config holds configuration for creating a new Sandbox.
type Config struct {
	Options

	Fallback Fallback

	// Capabilities overrides host detection.
	Capabilities *Capabilities

	Logger *slog.Logger
}

// Sandbox launches the worker, confined when the host allows it.
type Sandbox struct {
	options  Options
	bwrap    string
	confined bool
	logger   *slog.Logger
}

// New checks the launch options and decides between confined and
// unconfined execution.
func New(config Config) (*Sandbox, error) {
	if err := config.Options.validate(); err != nil {
		return nil, err
	}
	if _, err := os.Stat(config.WorkerBinary); err != nil {
		return nil, fmt.Errorf("worker binary: %w", err)
	}
	fallback, err := ParseFallback(string(config.Fallback))
	if err != nil {
		return nil, err
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	capabilities := config.Capabilities
	if capabilities == nil {
		capabilities = DetectCapabilities(context.Background())
	}

	sandbox := &Sandbox{options: config.Options, logger: logger}
	if capabilities.CanRunSandbox() {
		sandbox.bwrap = capabilities.BwrapPath
		sandbox.confined = true
		return sandbox, nil
	}

	reason := capabilities.SkipReason()
	if fallback == FallbackError {
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, reason)
	}
	logger.Warn("running worker without confinement", "reason", reason)
	return sandbox, nil
}

// Confined reports whether the worker will run under bwrap.
func (s *Sandbox) Confined() bool {
	return s.confined
}

// DryRun returns the command line that Command would execute.
func (s *Sandbox) DryRun() ([]string, error) {
	if !s.confined {
		return append([]string{s.options.WorkerBinary}, s.options.Args...), nil
	}
	args, err := NewBuilder().Build(&s.options)
	if err != nil {
		return nil, fmt.Errorf("building bwrap command: %w", err)
	}
	return append([]string{s.bwrap}, args...), nil
}

// Command creates an exec.Cmd for the worker. Cancelling ctx kills the
// worker's whole process group.
func (s *Sandbox) Command(ctx context.Context) (*exec.Cmd, error) {
	argv, err := s.DryRun()
	if err != nil {
		return nil, err
	}
	command := exec.CommandContext(ctx, argv[0], argv[1:]...)

	// A nil Env inherits the supervisor's environment, which would be
	// readable through /proc inside the sandbox.
	if s.confined {
		command.Env = []string{"PATH=/usr/local/bin:/usr/bin:/bin"}
	} else {
		command.Env = []string{}
		for _, pair := range s.options.environment() {
			value := pair[1]
			if pair[0] == SocketEnv {
				value = s.options.SocketPath
			}
			command.Env = append(command.Env, pair[0]+"="+value)
		}
	}
	command.Dir = "/"

	command.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
	command.Cancel = func() error {
		return syscall.Kill(-command.Process.Pid, syscall.SIGKILL)
	}
	command.WaitDelay = waitDelay
	return command, nil
}

// Run starts the worker and waits for it to exit. A nonzero exit is
// returned as *ExitError.
func (s *Sandbox) Run(ctx context.Context, stdout, stderr io.Writer) error {
	command, err := s.Command(ctx)
	if err != nil {
		return err
	}
	command.Stdout = stdout
	command.Stderr = stderr

	s.logger.Info("starting worker",
		"confined", s.confined,
		"worker", s.options.WorkerBinary,
		"socket", s.options.SocketPath,
	)
	if err := command.Start(); err != nil {
		return fmt.Errorf("starting worker: %w", err)
	}
	if err := command.Wait(); err != nil {
		var exitError *exec.ExitError
		if errors.As(err, &exitError) {
			if ctx.Err() != nil {
				return fmt.Errorf("worker killed: %w", context.Cause(ctx))
			}
			return &ExitError{Code: exitError.ExitCode()}
		}
		return fmt.Errorf("waiting for worker: %w", err)
	}
	return nil
}

// ExitError represents a non-zero exit from the worker.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("worker exited with code %d", e.Code)
}

// IsExitError checks if an error is an ExitError and returns the code.
func IsExitError(err error) (int, bool) {
	var exitError *ExitError
	if errors.As(err, &exitError) {
		return exitError.Code, true
	}
	return 0, false
}
