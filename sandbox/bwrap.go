// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
)

const (
	// SocketEnv names the variable carrying the mediator socket path
	// inside the sandbox.
	SocketEnv = "BUILDJAIL_SOCKET"

	// WorkerPath is where the worker binary appears inside the sandbox.
	WorkerPath = "/buildjail-worker"

	// SocketMount is the in-sandbox directory the host socket directory
	// is bound to.
	SocketMount = "/run/buildjail"
)

// Options describes one worker launch.
type Options struct {
	// WorkerBinary is the host path of the worker executable.
	WorkerBinary string

	// SocketPath is the host path of the mediator socket. Its directory
	// is bound into the sandbox.
	SocketPath string

	// Args are passed to the worker after its path.
	Args []string

	// ReadOnly lists extra host paths bound read-only at the same
	// location, for workers that are not statically linked. Missing
	// paths are skipped.
	ReadOnly []string

	// Env holds extra variables set inside the sandbox. SocketEnv is
	// always set and cannot be overridden.
	Env map[string]string
}

func (o *Options) validate() error {
	if o.WorkerBinary == "" {
		return fmt.Errorf("worker binary is required")
	}
	if !filepath.IsAbs(o.WorkerBinary) {
		return fmt.Errorf("worker binary %q must be an absolute path", o.WorkerBinary)
	}
	if o.SocketPath == "" {
		return fmt.Errorf("socket path is required")
	}
	if !filepath.IsAbs(o.SocketPath) {
		return fmt.Errorf("socket path %q must be an absolute path", o.SocketPath)
	}
	if _, reserved := o.Env[SocketEnv]; reserved {
		return fmt.Errorf("%s cannot be set through Env", SocketEnv)
	}
	for _, extra := range o.ReadOnly {
		if !filepath.IsAbs(extra) {
			return fmt.Errorf("read-only path %q must be absolute", extra)
		}
	}
	return nil
}

// sandboxSocket returns the socket's path as the worker sees it.
func (o *Options) sandboxSocket() string {
	return path.Join(SocketMount, filepath.Base(o.SocketPath))
}

// environment returns the worker's variables, sorted by key.
func (o *Options) environment() [][2]string {
	keys := make([]string, 0, len(o.Env))
	for key := range o.Env {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	pairs := [][2]string{{SocketEnv, o.sandboxSocket()}}
	for _, key := range keys {
		pairs = append(pairs, [2]string{key, o.Env[key]})
	}
	return pairs
}

// Builder builds bubblewrap command-line arguments.
type Builder struct {
	args []string
}

// NewBuilder creates a new builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Build returns the bwrap arguments (without the bwrap binary itself)
// that run the worker described by options.
func (b *Builder) Build(options *Options) ([]string, error) {
	if err := options.validate(); err != nil {
		return nil, err
	}
	b.args = []string{}

	b.addIsolation()
	b.addBaseMounts()
	b.addReadOnly(options.ReadOnly)

	b.args = append(b.args,
		"--ro-bind", options.WorkerBinary, WorkerPath,
		"--bind", filepath.Dir(options.SocketPath), SocketMount,
		"--chdir", "/",
	)

	b.args = append(b.args, "--clearenv")
	for _, pair := range options.environment() {
		b.args = append(b.args, "--setenv", pair[0], pair[1])
	}

	b.args = append(b.args, "--", WorkerPath)
	b.args = append(b.args, options.Args...)
	return b.args, nil
}

// addIsolation unshares every namespace (network included) and ties the
// sandbox's lifetime to the supervisor.
func (b *Builder) addIsolation() {
	b.args = append(b.args,
		"--unshare-all",
		"--die-with-parent",
		"--new-session",
		"--cap-drop", "ALL",
	)
}

// addBaseMounts adds a private /proc, a minimal /dev, and an empty /tmp.
func (b *Builder) addBaseMounts() {
	b.args = append(b.args,
		"--proc", "/proc",
		"--dev", "/dev",
		"--tmpfs", "/tmp",
	)
}

func (b *Builder) addReadOnly(paths []string) {
	for _, source := range paths {
		if _, err := os.Stat(source); err != nil {
			continue
		}
		b.args = append(b.args, "--ro-bind", source, source)
	}
}

// BwrapPath returns the path to the bwrap binary.
func BwrapPath() (string, error) {
	paths := []string{
		"/usr/bin/bwrap",
		"/usr/local/bin/bwrap",
		"/bin/bwrap",
	}
	for _, candidate := range paths {
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("bwrap not found in standard locations")
}
