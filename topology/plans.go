// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package topology

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/bureau-foundation/buildjail/lib/schema"
)

// DefaultProxyAlias is the name the build container uses to reach the
// proxy on the internal network.
const DefaultProxyAlias = "proxy"

// stopTimeout bounds the proxy stop that runs after a cancelled build.
const stopTimeout = 30 * time.Second

// Layout names the networks and images of the topology.
type Layout struct {
	InternalNetwork string
	ExternalNetwork string

	ProxyImage      string
	ProxyDockerfile string
	BuildImage      string
	BuildDockerfile string

	// ProxyAlias defaults to DefaultProxyAlias.
	ProxyAlias string

	// BuildCommand overrides the build image's default command.
	BuildCommand []string
}

// Plans runs the topology plans over a Docker.
type Plans struct {
	Docker *Docker
	Layout Layout
	Logger *slog.Logger
}

func (p *Plans) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

func (p *Plans) proxyAlias() string {
	if p.Layout.ProxyAlias != "" {
		return p.Layout.ProxyAlias
	}
	return DefaultProxyAlias
}

// Clean removes both networks. Missing networks are not an error, so
// Clean is safe to run before a first build.
func (p *Plans) Clean(ctx context.Context, yield func(schema.ProcessResult) error) error {
	return Sequence(ctx, []SequenceStep{
		{Run: p.removeNetwork(p.Layout.InternalNetwork), AllowFailure: true},
		{Run: p.removeNetwork(p.Layout.ExternalNetwork), AllowFailure: true},
	}, yield)
}

// BuildImages builds the proxy image, then the build image.
func (p *Plans) BuildImages(ctx context.Context, yield func(schema.ProcessResult) error) error {
	return Sequence(ctx, []SequenceStep{
		{Run: func(ctx context.Context) (schema.ProcessResult, error) {
			return p.Docker.BuildImage(ctx, p.Layout.ProxyImage, p.Layout.ProxyDockerfile)
		}},
		{Run: func(ctx context.Context) (schema.ProcessResult, error) {
			return p.Docker.BuildImage(ctx, p.Layout.BuildImage, p.Layout.BuildDockerfile)
		}},
	}, yield)
}

// CreateNetworks creates the internal network (no outside route) and
// the external network.
func (p *Plans) CreateNetworks(ctx context.Context, yield func(schema.ProcessResult) error) error {
	return Sequence(ctx, []SequenceStep{
		{Run: func(ctx context.Context) (schema.ProcessResult, error) {
			return p.Docker.CreateNetwork(ctx, p.Layout.InternalNetwork, true)
		}},
		{Run: func(ctx context.Context) (schema.ProcessResult, error) {
			return p.Docker.CreateNetwork(ctx, p.Layout.ExternalNetwork, false)
		}},
	}, yield)
}

// RunBuild creates the proxy on the internal network under its alias,
// connects it to the external network, starts it, and runs the build
// container on the internal network only, streaming its output. The
// proxy is stopped once it has started, whether or not the build
// succeeds.
func (p *Plans) RunBuild(ctx context.Context, yield func(schema.BuildEvent) error) error {
	yieldResult := func(result schema.ProcessResult) error {
		return yield(schema.BuildEvent{Result: &result})
	}

	var proxyID string
	err := Sequence(ctx, []SequenceStep{
		{Run: func(ctx context.Context) (schema.ProcessResult, error) {
			id, result, err := p.Docker.CreateContainer(ctx, p.Layout.ProxyImage, ContainerOptions{
				Network: p.Layout.InternalNetwork,
				Aliases: []string{p.proxyAlias()},
				Remove:  true,
			})
			proxyID = id
			return result, err
		}},
		{Run: func(ctx context.Context) (schema.ProcessResult, error) {
			return p.Docker.ConnectNetwork(ctx, p.Layout.ExternalNetwork, proxyID)
		}},
		{Run: func(ctx context.Context) (schema.ProcessResult, error) {
			return p.Docker.StartContainer(ctx, proxyID)
		}},
	}, yieldResult)
	if err != nil {
		if proxyID != "" {
			p.stopProxy(ctx, proxyID, yieldResult)
		}
		return err
	}
	p.logger().Info("proxy started", "container", shortID(proxyID), "alias", p.proxyAlias())

	buildError := Sequence(ctx, []SequenceStep{
		{Run: func(ctx context.Context) (schema.ProcessResult, error) {
			return p.Docker.RunContainer(ctx, p.Layout.BuildImage, ContainerOptions{
				Network: p.Layout.InternalNetwork,
				Remove:  true,
				Command: p.Layout.BuildCommand,
			}, func(chunk schema.OutputChunk) error {
				return yield(schema.BuildEvent{Output: &chunk})
			})
		}},
	}, yieldResult)

	stopError := p.stopProxy(ctx, proxyID, yieldResult)
	return errors.Join(buildError, stopError)
}

// stopProxy stops the proxy even when ctx is already cancelled: a
// cancelled build must not leave the proxy running. Its result is
// yielded if the caller is still listening.
func (p *Plans) stopProxy(ctx context.Context, id string, yield func(schema.ProcessResult) error) error {
	stopContext, cancel := context.WithTimeout(context.WithoutCancel(ctx), stopTimeout)
	defer cancel()

	result, err := p.Docker.StopContainer(stopContext, id)
	if err != nil {
		p.logger().Error("stopping proxy failed", "container", shortID(id), "error", err)
		return err
	}
	if ctx.Err() == nil {
		yield(result)
	}
	if !result.OK() {
		p.logger().Error("stopping proxy failed",
			"container", shortID(id),
			"exit_code", result.ExitCode,
			"stderr", result.Stderr,
		)
		return &StepError{Step: result.Step, ExitCode: result.ExitCode}
	}
	return nil
}

func (p *Plans) removeNetwork(name string) Action {
	return func(ctx context.Context) (schema.ProcessResult, error) {
		return p.Docker.RemoveNetwork(ctx, name)
	}
}
