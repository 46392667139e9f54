// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/bureau-foundation/buildjail/lib/codec"
	"github.com/bureau-foundation/buildjail/lib/config"
	"github.com/bureau-foundation/buildjail/lib/rpc"
	"github.com/bureau-foundation/buildjail/lib/schema"
	"github.com/bureau-foundation/buildjail/lib/version"
	"github.com/bureau-foundation/buildjail/mediator"
	"github.com/bureau-foundation/buildjail/runner"
	"github.com/bureau-foundation/buildjail/sandbox"
	"github.com/bureau-foundation/buildjail/topology"
)

// socketName is the mediator socket's file name inside the run
// directory.
const socketName = "mediator.sock"

// shutdownTimeout bounds how long the server waits for in-flight calls
// after the worker exits.
const shutdownTimeout = 10 * time.Second

// Fault is a failed run: the worker reported failure, never reported,
// or exited nonzero.
type Fault struct {
	RunID string

	// Message is the worker's finish message, or a description of how
	// the worker exited.
	Message string

	// ExitCode is the worker's exit code.
	ExitCode int
}

func (f *Fault) Error() string {
	return fmt.Sprintf("run %s failed: %s (worker exit code %d)", f.RunID, f.Message, f.ExitCode)
}

// Report describes a finished run.
type Report struct {
	RunID    string
	Outcome  schema.FinishArgs
	ExitCode int
}

// Supervisor runs builds described by a Config.
type Supervisor struct {
	Config *config.Config

	// Args select the plan and are passed to the worker through
	// bootstrap.
	Args []string

	// WorkerArgs are passed on the worker's command line.
	WorkerArgs []string

	// Stdout and Stderr receive the worker's output. Nil discards it.
	Stdout io.Writer
	Stderr io.Writer

	// Capabilities overrides sandbox capability detection.
	Capabilities *sandbox.Capabilities

	// Runner overrides the subprocess runner for tasks and docker
	// plans.
	Runner runner.Runner

	Logger *slog.Logger
}

func (s *Supervisor) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func writerOrDiscard(w io.Writer) io.Writer {
	if w != nil {
		return w
	}
	return io.Discard
}

// Run performs one build. It returns a Report for every run that got
// as far as starting the worker, along with a *Fault if the run failed.
func (s *Supervisor) Run(ctx context.Context) (*Report, error) {
	runID := uuid.NewString()
	logger := s.logger().With("run", runID)
	cfg := s.Config

	if cfg.Document == "" {
		return nil, fmt.Errorf("no plan document configured")
	}
	document, err := os.ReadFile(cfg.Document)
	if err != nil {
		return nil, fmt.Errorf("reading plan document: %w", err)
	}

	m, err := s.buildMediator(cfg, schema.Bootstrap{
		Document: string(document),
		Entry:    cfg.Entry,
		Args:     s.Args,
	}, logger)
	if err != nil {
		return nil, err
	}

	runDir := filepath.Join(cfg.StateDir, runID)
	if err := os.MkdirAll(runDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating run directory: %w", err)
	}
	defer os.RemoveAll(runDir)

	server := rpc.NewSocketServer(filepath.Join(runDir, socketName), m.Registry(), logger)
	server.Compression, err = codec.ParseCompressionTag(cfg.Mediator.Compression)
	if err != nil {
		return nil, err
	}
	server.CompressThreshold = cfg.Mediator.CompressThreshold

	// Everything that can refuse the run happens before the socket is
	// bound, so a refusal holds no descriptor.
	workerBinary, err := cfg.WorkerBinaryPath()
	if err != nil {
		return nil, err
	}
	workerDigest, err := version.FileDigest(workerBinary)
	if err != nil {
		return nil, err
	}
	fallback, err := sandbox.ParseFallback(cfg.Sandbox.Fallback)
	if err != nil {
		return nil, err
	}
	box, err := sandbox.New(sandbox.Config{
		Options: sandbox.Options{
			WorkerBinary: workerBinary,
			SocketPath:   server.SocketPath(),
			Args:         s.WorkerArgs,
			ReadOnly:     cfg.Sandbox.ReadOnly,
			Env:          cfg.Sandbox.Env,
		},
		Fallback:     fallback,
		Capabilities: s.Capabilities,
		Logger:       logger,
	})
	if err != nil {
		return nil, err
	}
	if err := server.Listen(); err != nil {
		return nil, err
	}

	serveContext, stopServing := context.WithCancel(context.WithoutCancel(ctx))
	served := make(chan error, 1)
	go func() { served <- server.Serve(serveContext) }()

	logger.Info("run started",
		"document", cfg.Document,
		"args", s.Args,
		"confined", box.Confined(),
		"worker", workerBinary,
		"worker_blake3", workerDigest,
	)
	runError := box.Run(ctx, writerOrDiscard(s.Stdout), writerOrDiscard(s.Stderr))

	stopServing()
	select {
	case err := <-served:
		if err != nil {
			logger.Error("rpc server stopped with error", "error", err)
		}
	case <-time.After(shutdownTimeout):
		logger.Error("rpc server did not stop", "timeout", shutdownTimeout)
	}

	exitCode, exited := sandbox.IsExitError(runError)
	if runError != nil && !exited {
		return nil, fmt.Errorf("running worker: %w", runError)
	}
	report := &Report{RunID: runID, ExitCode: exitCode}
	return report, s.judge(report, m, logger)
}

// judge fills the report's outcome and decides whether the run failed.
func (s *Supervisor) judge(report *Report, m *mediator.Mediator, logger *slog.Logger) error {
	outcome, reported := m.Outcome()
	report.Outcome = outcome

	var fault *Fault
	switch {
	case !reported:
		fault = &Fault{Message: "worker exited without reporting an outcome"}
	case !outcome.OK:
		fault = &Fault{Message: outcome.Message}
	case report.ExitCode != 0:
		fault = &Fault{Message: "worker reported success but exited nonzero"}
	}
	if fault == nil {
		logger.Info("run complete")
		return nil
	}
	fault.RunID = report.RunID
	fault.ExitCode = report.ExitCode
	logger.Error("run failed", "message", fault.Message, "exit_code", fault.ExitCode)
	return fault
}

// buildMediator assembles the policy, runner, topology and task table
// from configuration.
func (s *Supervisor) buildMediator(cfg *config.Config, bootstrap schema.Bootstrap, logger *slog.Logger) (*mediator.Mediator, error) {
	rules := make([]mediator.WriteRule, 0, len(cfg.Mediator.WriteRules))
	for _, rule := range cfg.Mediator.WriteRules {
		rules = append(rules, mediator.WriteRule{Root: rule.Root, Extensions: rule.Extensions})
	}
	policy, err := mediator.NewPolicy(cfg.Workspace, cfg.Mediator.ReadRoots, rules)
	if err != nil {
		return nil, err
	}

	stepRunner := s.Runner
	if stepRunner == nil {
		stepRunner = &runner.Exec{
			Dir:       policy.Workspace(),
			MaxOutput: cfg.Mediator.MaxOutputBytes,
			Logger:    logger,
		}
	}

	plans := &topology.Plans{
		Docker: &topology.Docker{
			Binary:   cfg.Topology.Docker,
			Platform: cfg.Topology.Platform,
			Dir:      policy.Workspace(),
			Runner:   stepRunner,
		},
		Layout: topology.Layout{
			InternalNetwork: cfg.Topology.InternalNetwork,
			ExternalNetwork: cfg.Topology.ExternalNetwork,
			ProxyImage:      cfg.Topology.ProxyImage,
			ProxyDockerfile: cfg.Topology.ProxyDockerfile,
			BuildImage:      cfg.Topology.BuildImage,
			BuildDockerfile: cfg.Topology.BuildDockerfile,
			ProxyAlias:      cfg.Topology.ProxyAlias,
			BuildCommand:    cfg.Topology.BuildCommand,
		},
		Logger: logger,
	}

	tasks := make([]mediator.Task, 0, len(cfg.Mediator.Tasks))
	for _, task := range cfg.Mediator.Tasks {
		steps := make([]mediator.TaskStep, 0, len(task.Steps))
		for _, step := range task.Steps {
			steps = append(steps, mediator.TaskStep{
				Name:         step.Name,
				Argv:         step.Argv,
				Dir:          step.Dir,
				AllowFailure: step.AllowFailure,
			})
		}
		tasks = append(tasks, mediator.Task{Name: task.Name, Steps: steps})
	}

	m, err := mediator.New(mediator.Options{
		Policy:       policy,
		Runner:       stepRunner,
		Topology:     plans,
		Tasks:        tasks,
		Commands:     cfg.Mediator.Commands,
		Bootstrap:    bootstrap,
		MaxFileBytes: cfg.Mediator.MaxFileBytes,
		Logger:       logger,
	})
	if err != nil {
		return nil, fmt.Errorf("building mediator: %w", err)
	}
	return m, nil
}

// IsFault reports whether err is a failed run rather than a failure to
// run at all.
func IsFault(err error) bool {
	var fault *Fault
	return errors.As(err, &fault)
}
