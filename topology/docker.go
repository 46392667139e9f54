// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package topology

import (
	"context"
	"fmt"
	"strings"

	"github.com/bureau-foundation/buildjail/lib/schema"
	"github.com/bureau-foundation/buildjail/runner"
)

// DefaultPlatform is the platform images are built for and containers
// run as.
const DefaultPlatform = "linux/amd64"

// Docker issues docker CLI commands through a Runner.
type Docker struct {
	// Binary is the docker executable. Empty means "docker".
	Binary string

	// Platform is passed to build, create and run. Empty means
	// DefaultPlatform.
	Platform string

	// Dir is the working directory for every command, which is also
	// the image build context.
	Dir string

	Runner runner.Runner
}

// ContainerOptions configures a created or run container.
type ContainerOptions struct {
	// Network is the single network the container starts on.
	Network string

	// Aliases are DNS names for the container on Network.
	Aliases []string

	// Remove deletes the container when it stops.
	Remove bool

	// Command overrides the image's default command.
	Command []string
}

func (d *Docker) binary() string {
	if d.Binary != "" {
		return d.Binary
	}
	return "docker"
}

func (d *Docker) platform() string {
	if d.Platform != "" {
		return d.Platform
	}
	return DefaultPlatform
}

func (d *Docker) run(ctx context.Context, name string, output runner.OutputFunc, args ...string) (schema.ProcessResult, error) {
	step := runner.Step{
		Name: name,
		Argv: append([]string{d.binary()}, args...),
		Dir:  d.Dir,
	}
	return d.Runner.Run(ctx, step, output)
}

// CreateNetwork creates a bridge network. An internal network has no
// route outside the host.
func (d *Docker) CreateNetwork(ctx context.Context, name string, internal bool) (schema.ProcessResult, error) {
	args := []string{"network", "create"}
	if internal {
		args = append(args, "--internal")
	}
	args = append(args, name)
	return d.run(ctx, "create network "+name, nil, args...)
}

// RemoveNetwork removes a network.
func (d *Docker) RemoveNetwork(ctx context.Context, name string) (schema.ProcessResult, error) {
	return d.run(ctx, "remove network "+name, nil, "network", "rm", name)
}

// ConnectNetwork attaches an existing container to a network.
func (d *Docker) ConnectNetwork(ctx context.Context, network, container string) (schema.ProcessResult, error) {
	return d.run(ctx, "connect "+shortID(container)+" to "+network, nil, "network", "connect", network, container)
}

// BuildImage builds tag from dockerfile in the build context.
func (d *Docker) BuildImage(ctx context.Context, tag, dockerfile string) (schema.ProcessResult, error) {
	return d.run(ctx, "build image "+tag, nil,
		"build", "--platform", d.platform(), "-t", tag, "-f", dockerfile, ".")
}

// CreateContainer creates a stopped container and returns its ID,
// which docker prints on stdout.
func (d *Docker) CreateContainer(ctx context.Context, image string, options ContainerOptions) (string, schema.ProcessResult, error) {
	args := append([]string{"create"}, d.containerArgs(options)...)
	args = append(args, image)
	args = append(args, options.Command...)
	result, err := d.run(ctx, "create container "+image, nil, args...)
	if err != nil || !result.OK() {
		return "", result, err
	}
	id := strings.TrimSpace(result.Stdout)
	if id == "" {
		return "", result, fmt.Errorf("docker create %s printed no container ID", image)
	}
	return id, result, nil
}

// StartContainer starts a created container in the background.
func (d *Docker) StartContainer(ctx context.Context, id string) (schema.ProcessResult, error) {
	return d.run(ctx, "start "+shortID(id), nil, "start", id)
}

// StopContainer stops a running container.
func (d *Docker) StopContainer(ctx context.Context, id string) (schema.ProcessResult, error) {
	return d.run(ctx, "stop "+shortID(id), nil, "stop", id)
}

// RunContainer runs image in the foreground, delivering its output as
// it is produced. When output is set the result carries no Stdout or
// Stderr: the caller has already seen every byte.
func (d *Docker) RunContainer(ctx context.Context, image string, options ContainerOptions, output runner.OutputFunc) (schema.ProcessResult, error) {
	args := append([]string{"run"}, d.containerArgs(options)...)
	args = append(args, image)
	args = append(args, options.Command...)
	result, err := d.run(ctx, "run "+image, output, args...)
	if output != nil {
		result.Stdout, result.Stderr, result.Truncated = "", "", false
	}
	return result, err
}

func (d *Docker) containerArgs(options ContainerOptions) []string {
	args := []string{"--platform=" + d.platform()}
	if options.Remove {
		args = append(args, "--rm")
	}
	if options.Network != "" {
		args = append(args, "--network="+options.Network)
	}
	for _, alias := range options.Aliases {
		args = append(args, "--network-alias="+alias)
	}
	return args
}

// shortID abbreviates a container ID for step names the way docker ps
// does.
func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
