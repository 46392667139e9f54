// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"context"
	"os"
	"os/exec"
	"strings"
)

// Capabilities describes what sandbox features are available on this system.
type Capabilities struct {
	// BwrapAvailable is true if bubblewrap is installed.
	BwrapAvailable bool

	// BwrapPath is the path to bwrap if available.
	BwrapPath string

	// BwrapVersion is the bwrap version string.
	BwrapVersion string

	// UserNamespacesEnabled is true if unprivileged user namespaces work.
	UserNamespacesEnabled bool
}

// DetectCapabilities checks what sandbox features are available.
func DetectCapabilities(ctx context.Context) *Capabilities {
	capabilities := &Capabilities{}

	if path, err := BwrapPath(); err == nil {
		capabilities.BwrapAvailable = true
		capabilities.BwrapPath = path
		if out, err := exec.CommandContext(ctx, path, "--version").Output(); err == nil {
			capabilities.BwrapVersion = strings.TrimSpace(string(out))
		}
		capabilities.UserNamespacesEnabled = checkUserNamespaces(ctx, path)
	}

	return capabilities
}

// CanRunSandbox returns true if confined execution is possible.
func (c *Capabilities) CanRunSandbox() bool {
	return c.BwrapAvailable && c.UserNamespacesEnabled
}

// SkipReason returns a human-readable reason why sandboxing isn't available,
// or empty string if it is available.
func (c *Capabilities) SkipReason() string {
	if !c.BwrapAvailable {
		return "bubblewrap not installed"
	}
	if !c.UserNamespacesEnabled {
		return "unprivileged user namespaces not enabled (set kernel.unprivileged_userns_clone=1)"
	}
	return ""
}

// checkUserNamespaces tests if unprivileged user namespaces work.
func checkUserNamespaces(ctx context.Context, bwrapPath string) bool {
	data, err := os.ReadFile("/proc/sys/kernel/unprivileged_userns_clone")
	if err == nil && strings.TrimSpace(string(data)) == "0" {
		return false
	}
	command := exec.CommandContext(ctx, bwrapPath,
		"--unshare-user",
		"--ro-bind", "/", "/",
		"--",
		"true",
	)
	return command.Run() == nil
}
