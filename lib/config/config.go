// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// EnvironmentVariable names the variable Load reads the config path
// from.
const EnvironmentVariable = "BUILDJAIL_CONFIG"

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for local development machines.
	Development Environment = "development"
	// Production is for CI and release builds.
	Production Environment = "production"
)

// Duration is a time.Duration written as a Go duration string ("30s").
type Duration time.Duration

// UnmarshalYAML parses a duration string.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var text string
	if err := node.Decode(&text); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(text)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML writes the duration string.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Config is the master configuration for buildjail.
type Config struct {
	// Environment identifies the deployment type (development, production).
	Environment Environment `yaml:"environment"`

	// Workspace is the directory the build reads from and writes into.
	Workspace string `yaml:"workspace"`

	// Document is the markdown file holding the build plan.
	Document string `yaml:"document"`

	// Entry is the label of the fenced block in Document that holds the
	// plan.
	Entry string `yaml:"entry"`

	// StateDir holds per-run socket directories.
	StateDir string `yaml:"state_dir"`

	Tunnel   TunnelConfig   `yaml:"tunnel"`
	Mediator MediatorConfig `yaml:"mediator"`
	Topology TopologyConfig `yaml:"topology"`
	Sandbox  SandboxConfig  `yaml:"sandbox"`

	// Per-environment sections, decoded over the base values when the
	// environment matches.
	Development yaml.Node `yaml:"development,omitempty"`
	Production  yaml.Node `yaml:"production,omitempty"`
}

// TunnelConfig configures the CONNECT egress proxy.
type TunnelConfig struct {
	// ListenAddr is the proxy's TCP listen address.
	ListenAddr string `yaml:"listen_addr"`

	// HeaderLimit bounds the CONNECT preamble in bytes.
	HeaderLimit int `yaml:"header_limit"`

	HeaderTimeout Duration `yaml:"header_timeout"`
	DialTimeout   Duration `yaml:"dial_timeout"`

	// DrainTimeout bounds a half-closed tunnel's remaining direction.
	DrainTimeout Duration `yaml:"drain_timeout"`

	// MaxConnections caps concurrent tunnels. Zero is unbounded.
	MaxConnections int `yaml:"max_connections"`
}

// MediatorConfig configures the capability mediator.
type MediatorConfig struct {
	// Commands selects the registered commands. Empty registers every
	// command the mediator can serve.
	Commands []string `yaml:"commands"`

	// ReadRoots are workspace-relative directories the worker may read.
	ReadRoots []string `yaml:"read_roots"`

	WriteRules []WriteRule `yaml:"write_rules"`
	Tasks      []Task      `yaml:"tasks"`

	MaxFileBytes   int64 `yaml:"max_file_bytes"`
	MaxOutputBytes int   `yaml:"max_output_bytes"`

	// Compression is the payload compression for large replies: none,
	// lz4, or zstd.
	Compression       string `yaml:"compression"`
	CompressThreshold int    `yaml:"compress_threshold"`
}

// WriteRule grants writes under Root for the listed extensions.
type WriteRule struct {
	Root       string   `yaml:"root"`
	Extensions []string `yaml:"extensions"`
}

// Task is a named fixed sequence of commands.
type Task struct {
	Name  string     `yaml:"name"`
	Steps []TaskStep `yaml:"steps"`
}

// TaskStep is one command of a Task.
type TaskStep struct {
	Name         string   `yaml:"name"`
	Argv         []string `yaml:"argv"`
	Dir          string   `yaml:"dir"`
	AllowFailure bool     `yaml:"allow_failure"`
}

// TopologyConfig configures the docker isolation topology.
type TopologyConfig struct {
	// Docker is the docker CLI binary.
	Docker   string `yaml:"docker"`
	Platform string `yaml:"platform"`

	InternalNetwork string `yaml:"internal_network"`
	ExternalNetwork string `yaml:"external_network"`

	ProxyImage      string `yaml:"proxy_image"`
	ProxyDockerfile string `yaml:"proxy_dockerfile"`
	BuildImage      string `yaml:"build_image"`
	BuildDockerfile string `yaml:"build_dockerfile"`

	ProxyAlias   string   `yaml:"proxy_alias"`
	BuildCommand []string `yaml:"build_command"`
}

// SandboxConfig configures worker confinement.
type SandboxConfig struct {
	// WorkerBinary is the worker executable. Relative paths are
	// resolved against the directory of the running binary.
	WorkerBinary string `yaml:"worker_binary"`

	// Fallback is "error" or "warn": what to do when bubblewrap cannot
	// run.
	Fallback string `yaml:"fallback"`

	// ReadOnly lists extra host paths bound read-only into the sandbox.
	ReadOnly []string `yaml:"read_only"`

	// Env holds extra variables set for the worker.
	Env map[string]string `yaml:"env"`
}

// Default returns the default configuration. Load decodes the file over
// it, so every field the file omits keeps its default.
func Default() *Config {
	return &Config{
		Environment: Development,
		Workspace:   ".",
		Entry:       "build-plan.yaml",
		StateDir:    filepath.Join(os.TempDir(), "buildjail"),
		Tunnel: TunnelConfig{
			ListenAddr:    "0.0.0.0:3128",
			HeaderLimit:   8192,
			HeaderTimeout: Duration(30 * time.Second),
			DialTimeout:   Duration(15 * time.Second),
			DrainTimeout:  Duration(2 * time.Minute),
		},
		Mediator: MediatorConfig{
			MaxFileBytes:      48 << 20,
			MaxOutputBytes:    1 << 20,
			Compression:       "zstd",
			CompressThreshold: 64 << 10,
		},
		Topology: TopologyConfig{
			Docker:          "docker",
			Platform:        "linux/amd64",
			InternalNetwork: "buildjail-internal",
			ExternalNetwork: "buildjail-external",
			ProxyImage:      "buildjail-proxy",
			ProxyDockerfile: "proxy.Dockerfile",
			BuildImage:      "buildjail-build",
			BuildDockerfile: "build.Dockerfile",
			ProxyAlias:      "proxy",
		},
		Sandbox: SandboxConfig{
			WorkerBinary: "buildjail-worker",
			Fallback:     "error",
		},
	}
}

// Load loads configuration from the BUILDJAIL_CONFIG environment
// variable. There are no fallbacks: if it is not set, this fails.
func Load() (*Config, error) {
	configPath := os.Getenv(EnvironmentVariable)
	if configPath == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your buildjail.yaml config file, or use --config flag", EnvironmentVariable)
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		data = jsonc.ToJSON(data)
	}
	config, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return config, nil
}

// Parse decodes YAML (or JSON) configuration over the defaults, applies
// the environment section, and expands variables. Unknown keys are
// errors.
func Parse(data []byte) (*Config, error) {
	config := Default()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(config); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := config.applyEnvironmentOverrides(); err != nil {
		return nil, err
	}
	config.expandVariables()
	return config, nil
}

// applyEnvironmentOverrides decodes the section for the configured
// environment over the current values. Lists in the section replace the
// base lists; maps are merged.
func (c *Config) applyEnvironmentOverrides() error {
	var section *yaml.Node
	switch c.Environment {
	case Development:
		section = &c.Development
	case Production:
		section = &c.Production
	default:
		return nil
	}
	if section.Kind == 0 {
		return nil
	}
	if section.Kind != yaml.MappingNode {
		return fmt.Errorf("%s section must be a mapping", c.Environment)
	}
	for i := 0; i < len(section.Content); i += 2 {
		switch key := section.Content[i].Value; key {
		case "environment", "development", "production":
			return fmt.Errorf("%s section cannot set %q", c.Environment, key)
		}
	}
	encoded, err := yaml.Marshal(section)
	if err != nil {
		return fmt.Errorf("applying %s section: %w", c.Environment, err)
	}
	decoder := yaml.NewDecoder(bytes.NewReader(encoded))
	decoder.KnownFields(true)
	if err := decoder.Decode(c); err != nil {
		return fmt.Errorf("applying %s section: %w", c.Environment, err)
	}
	return nil
}

// expandVariables expands ${VAR} and ${VAR:-default} in path-valued
// fields.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}
	c.Workspace = expandVars(c.Workspace, vars)
	vars["WORKSPACE"] = c.Workspace

	c.Document = expandVars(c.Document, vars)
	c.StateDir = expandVars(c.StateDir, vars)
	c.Sandbox.WorkerBinary = expandVars(c.Sandbox.WorkerBinary, vars)
	for i := range c.Sandbox.ReadOnly {
		c.Sandbox.ReadOnly[i] = expandVars(c.Sandbox.ReadOnly[i], vars)
	}
	for key, value := range c.Sandbox.Env {
		c.Sandbox.Env[key] = expandVars(value, vars)
	}
	c.Topology.ProxyDockerfile = expandVars(c.Topology.ProxyDockerfile, vars)
	c.Topology.BuildDockerfile = expandVars(c.Topology.BuildDockerfile, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default} patterns. Provided vars
// win over the process environment.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}
	if c.Workspace == "" {
		errs = append(errs, fmt.Errorf("workspace is required"))
	}
	if c.Entry == "" {
		errs = append(errs, fmt.Errorf("entry is required"))
	}

	if c.Tunnel.ListenAddr == "" {
		errs = append(errs, fmt.Errorf("tunnel.listen_addr is required"))
	}
	if c.Tunnel.HeaderLimit < 64 {
		errs = append(errs, fmt.Errorf("tunnel.header_limit must be at least 64, got %d", c.Tunnel.HeaderLimit))
	}
	if c.Tunnel.HeaderTimeout <= 0 || c.Tunnel.DialTimeout <= 0 {
		errs = append(errs, fmt.Errorf("tunnel.header_timeout and tunnel.dial_timeout must be positive"))
	}
	if c.Tunnel.MaxConnections < 0 {
		errs = append(errs, fmt.Errorf("tunnel.max_connections must not be negative"))
	}

	compressions := []string{"none", "lz4", "zstd"}
	if !slices.Contains(compressions, c.Mediator.Compression) {
		errs = append(errs, fmt.Errorf("mediator.compression must be one of: %v", compressions))
	}
	if c.Mediator.MaxFileBytes <= 0 || c.Mediator.MaxOutputBytes <= 0 {
		errs = append(errs, fmt.Errorf("mediator.max_file_bytes and mediator.max_output_bytes must be positive"))
	}
	for i, rule := range c.Mediator.WriteRules {
		if rule.Root == "" || len(rule.Extensions) == 0 {
			errs = append(errs, fmt.Errorf("mediator.write_rules[%d] needs a root and at least one extension", i))
		}
	}
	taskNames := make(map[string]bool)
	for i, task := range c.Mediator.Tasks {
		if task.Name == "" {
			errs = append(errs, fmt.Errorf("mediator.tasks[%d] has no name", i))
			continue
		}
		if taskNames[task.Name] {
			errs = append(errs, fmt.Errorf("mediator.tasks: duplicate task %q", task.Name))
		}
		taskNames[task.Name] = true
		for j, step := range task.Steps {
			if len(step.Argv) == 0 {
				errs = append(errs, fmt.Errorf("mediator.tasks %q step %d has an empty argv", task.Name, j))
			}
		}
	}

	fallbacks := []string{"error", "warn"}
	if !slices.Contains(fallbacks, c.Sandbox.Fallback) {
		errs = append(errs, fmt.Errorf("sandbox.fallback must be one of: %v", fallbacks))
	}
	if c.Environment == Production && c.Sandbox.Fallback == "warn" {
		errs = append(errs, fmt.Errorf("sandbox.fallback warn is not allowed in production"))
	}
	if c.Sandbox.WorkerBinary == "" {
		errs = append(errs, fmt.Errorf("sandbox.worker_binary is required"))
	}

	return errors.Join(errs...)
}

// WorkerBinaryPath resolves Sandbox.WorkerBinary. A bare or relative
// name is looked up next to the running executable.
func (c *Config) WorkerBinaryPath() (string, error) {
	if filepath.IsAbs(c.Sandbox.WorkerBinary) {
		return c.Sandbox.WorkerBinary, nil
	}
	executable, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("locating running binary: %w", err)
	}
	path := filepath.Join(filepath.Dir(executable), c.Sandbox.WorkerBinary)
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("worker binary: %w", err)
	}
	return path, nil
}
