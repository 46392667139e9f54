// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mediator

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sync"

	"github.com/bureau-foundation/buildjail/lib/rpc"
	"github.com/bureau-foundation/buildjail/lib/schema"
	"github.com/bureau-foundation/buildjail/runner"
	"github.com/bureau-foundation/buildjail/topology"
)

// Topology runs the docker plans. *topology.Plans implements it.
type Topology interface {
	Clean(ctx context.Context, yield func(schema.ProcessResult) error) error
	BuildImages(ctx context.Context, yield func(schema.ProcessResult) error) error
	CreateNetworks(ctx context.Context, yield func(schema.ProcessResult) error) error
	RunBuild(ctx context.Context, yield func(schema.BuildEvent) error) error
}

// Options configures a Mediator.
type Options struct {
	Policy *Policy

	// Runner executes task steps. Required when runTask is enabled.
	Runner runner.Runner

	// Topology runs the docker plans. Required when any plan command
	// is enabled.
	Topology Topology

	Tasks []Task

	// Commands selects the enabled commands. Empty enables every
	// command whose collaborator is configured. bootstrap and finish
	// are always enabled.
	Commands []string

	// Bootstrap is returned to the worker's bootstrap call.
	Bootstrap schema.Bootstrap

	// MaxFileBytes caps reads and writes. Zero means
	// DefaultMaxFileBytes.
	MaxFileBytes int64

	Logger *slog.Logger
}

// Mediator is the capability holder for one run.
type Mediator struct {
	policy       *Policy
	runner       runner.Runner
	topology     Topology
	tasks        map[string]Task
	bootstrap    schema.Bootstrap
	maxFileBytes int64
	logger       *slog.Logger
	registry     *rpc.Registry

	finishMutex sync.Mutex
	outcome     *schema.FinishArgs
	finished    chan struct{}
}

// New validates options and builds the command registry.
func New(options Options) (*Mediator, error) {
	if options.Policy == nil {
		return nil, fmt.Errorf("mediator: Policy is required")
	}
	m := &Mediator{
		policy:       options.Policy,
		runner:       options.Runner,
		topology:     options.Topology,
		tasks:        make(map[string]Task, len(options.Tasks)),
		bootstrap:    options.Bootstrap,
		maxFileBytes: options.MaxFileBytes,
		logger:       options.Logger,
		finished:     make(chan struct{}),
	}
	if m.maxFileBytes <= 0 {
		m.maxFileBytes = DefaultMaxFileBytes
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}

	for _, task := range options.Tasks {
		if task.Name == "" {
			return nil, fmt.Errorf("mediator: task with empty name")
		}
		if _, exists := m.tasks[task.Name]; exists {
			return nil, fmt.Errorf("mediator: duplicate task %q", task.Name)
		}
		for i, step := range task.Steps {
			if len(step.Argv) == 0 {
				return nil, fmt.Errorf("mediator: task %q step %d has an empty argv", task.Name, i)
			}
			if _, err := cleanRoot(step.Dir); err != nil {
				return nil, fmt.Errorf("mediator: task %q step %d: %w", task.Name, i, err)
			}
		}
		m.tasks[task.Name] = task
	}

	enabled, err := m.enabledCommands(options.Commands)
	if err != nil {
		return nil, err
	}
	handlers := make(map[string]rpc.Handler, len(enabled))
	for _, name := range enabled {
		handlers[name] = m.handler(name)
	}
	m.registry = rpc.NewRegistry(handlers)
	m.logger.Debug("mediator ready", "commands", m.registry.Names(), "tasks", len(m.tasks))
	return m, nil
}

// Registry returns the command registry to serve.
func (m *Mediator) Registry() *rpc.Registry {
	return m.registry
}

// Finished is closed when the worker calls finish.
func (m *Mediator) Finished() <-chan struct{} {
	return m.finished
}

// Outcome returns the worker's finish report, if it has sent one.
func (m *Mediator) Outcome() (schema.FinishArgs, bool) {
	m.finishMutex.Lock()
	defer m.finishMutex.Unlock()
	if m.outcome == nil {
		return schema.FinishArgs{}, false
	}
	return *m.outcome, true
}

func (m *Mediator) enabledCommands(requested []string) ([]string, error) {
	available := func(name string) bool {
		switch {
		case name == schema.CommandRunTask:
			return m.runner != nil
		case schema.IsDockerPlan(name):
			return m.topology != nil
		}
		return true
	}

	if len(requested) == 0 {
		var enabled []string
		for _, command := range schema.Commands {
			if available(command.Name) {
				enabled = append(enabled, command.Name)
			}
		}
		return enabled, nil
	}

	enabled := []string{schema.CommandBootstrap, schema.CommandFinish}
	for _, name := range requested {
		if _, ok := schema.Lookup(name); !ok {
			return nil, fmt.Errorf("mediator: unknown command %q", name)
		}
		if !available(name) {
			return nil, fmt.Errorf("mediator: command %q needs a collaborator that is not configured", name)
		}
		if name != schema.CommandBootstrap && name != schema.CommandFinish {
			enabled = append(enabled, name)
		}
	}
	return enabled, nil
}

func (m *Mediator) handler(name string) rpc.Handler {
	switch name {
	case schema.CommandBootstrap:
		return rpc.Unary(m.bootstrapCall)
	case schema.CommandReadFile:
		return rpc.Unary(classifyUnary(m.readFile))
	case schema.CommandWriteFile:
		return rpc.Unary(classifyUnary(m.writeFile))
	case schema.CommandListFiles:
		return rpc.Streaming(classifyStreaming(m.listFiles))
	case schema.CommandRunTask:
		return rpc.Streaming(classifyStreaming(m.runTask))
	case schema.CommandClean:
		return rpc.Streaming(classifyStreaming(emptyArgs(m.topology.Clean)))
	case schema.CommandBuildImages:
		return rpc.Streaming(classifyStreaming(emptyArgs(m.topology.BuildImages)))
	case schema.CommandCreateNetworks:
		return rpc.Streaming(classifyStreaming(emptyArgs(m.topology.CreateNetworks)))
	case schema.CommandRunBuild:
		return rpc.Streaming(classifyStreaming(emptyArgs(m.topology.RunBuild)))
	case schema.CommandFinish:
		return rpc.Unary(m.finish)
	}
	panic("mediator: no handler for " + name)
}

func (m *Mediator) bootstrapCall(context.Context, schema.Empty) (schema.Bootstrap, error) {
	return m.bootstrap, nil
}

func (m *Mediator) finish(_ context.Context, args schema.FinishArgs) (schema.Empty, error) {
	m.finishMutex.Lock()
	defer m.finishMutex.Unlock()
	if m.outcome != nil {
		return schema.Empty{}, rpc.Errorf(rpc.CodeProtocolViolation, "finish already called")
	}
	m.outcome = &args
	close(m.finished)

	if args.OK {
		m.logger.Info("worker finished", "message", args.Message)
	} else {
		m.logger.Error("worker reported a fault", "message", args.Message)
	}
	return schema.Empty{}, nil
}

func emptyArgs[R any](fn func(context.Context, func(R) error) error) func(context.Context, schema.Empty, func(R) error) error {
	return func(ctx context.Context, _ schema.Empty, yield func(R) error) error {
		return fn(ctx, yield)
	}
}

func classifyUnary[A, R any](fn func(context.Context, A) (R, error)) func(context.Context, A) (R, error) {
	return func(ctx context.Context, args A) (R, error) {
		result, err := fn(ctx, args)
		return result, classify(err)
	}
}

func classifyStreaming[A, R any](fn func(context.Context, A, func(R) error) error) func(context.Context, A, func(R) error) error {
	return func(ctx context.Context, args A, yield func(R) error) error {
		return classify(fn(ctx, args, yield))
	}
}

// classify maps local errors onto wire error codes.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var rpcError *rpc.Error
	var stepError *topology.StepError
	switch {
	case errors.As(err, &rpcError):
		return err
	case errors.Is(err, ErrAccessDenied):
		return rpc.Errorf(rpc.CodeAccessDenied, "%v", err)
	case errors.Is(err, fs.ErrNotExist):
		return rpc.Errorf(rpc.CodeNotFound, "%v", err)
	case errors.As(err, &stepError):
		return rpc.Errorf(rpc.CodeStepFailed, "%v", err)
	}
	return err
}
