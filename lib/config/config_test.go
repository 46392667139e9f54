// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Environment != Development {
		t.Errorf("expected environment=development, got %s", cfg.Environment)
	}
	if cfg.Tunnel.HeaderLimit != 8192 {
		t.Errorf("expected header_limit=8192, got %d", cfg.Tunnel.HeaderLimit)
	}
	if cfg.Entry != "build-plan.yaml" {
		t.Errorf("expected entry=build-plan.yaml, got %s", cfg.Entry)
	}
	if cfg.Sandbox.Fallback != "error" {
		t.Errorf("expected fallback=error, got %s", cfg.Sandbox.Fallback)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config does not validate: %v", err)
	}
}

func TestLoad_RequiresConfigVariable(t *testing.T) {
	t.Setenv(EnvironmentVariable, "")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error when BUILDJAIL_CONFIG not set, got nil")
	}
	if !strings.HasPrefix(err.Error(), "BUILDJAIL_CONFIG environment variable not set") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoad_WithConfigVariable(t *testing.T) {
	path := writeConfig(t, "buildjail.yaml", "workspace: /srv/build\n")
	t.Setenv(EnvironmentVariable, path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Workspace != "/srv/build" {
		t.Errorf("expected workspace=/srv/build, got %s", cfg.Workspace)
	}
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, "buildjail.yaml", `
environment: production
workspace: /srv/build
document: /srv/build/BUILD.md

tunnel:
  listen_addr: 127.0.0.1:8080
  header_limit: 4096
  dial_timeout: 5s
  max_connections: 64

mediator:
  commands: [readFile, writeFile, runTask]
  read_roots: [src, build]
  write_rules:
    - root: build
      extensions: [.js, .map]
  tasks:
    - name: install
      steps:
        - argv: [npm, ci]
        - name: audit
          argv: [npm, audit]
          allow_failure: true
  compression: lz4

sandbox:
  read_only: [/usr/lib]
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if cfg.Environment != Production {
		t.Errorf("expected environment=production, got %s", cfg.Environment)
	}
	if cfg.Tunnel.ListenAddr != "127.0.0.1:8080" || cfg.Tunnel.HeaderLimit != 4096 || cfg.Tunnel.MaxConnections != 64 {
		t.Errorf("tunnel = %+v", cfg.Tunnel)
	}
	if time.Duration(cfg.Tunnel.DialTimeout) != 5*time.Second {
		t.Errorf("expected dial_timeout=5s, got %v", time.Duration(cfg.Tunnel.DialTimeout))
	}
	// Unset fields keep their defaults.
	if time.Duration(cfg.Tunnel.HeaderTimeout) != 30*time.Second {
		t.Errorf("expected header_timeout default, got %v", time.Duration(cfg.Tunnel.HeaderTimeout))
	}
	if !slices.Equal(cfg.Mediator.Commands, []string{"readFile", "writeFile", "runTask"}) {
		t.Errorf("commands = %v", cfg.Mediator.Commands)
	}
	if len(cfg.Mediator.WriteRules) != 1 || !slices.Equal(cfg.Mediator.WriteRules[0].Extensions, []string{".js", ".map"}) {
		t.Errorf("write_rules = %+v", cfg.Mediator.WriteRules)
	}
	if len(cfg.Mediator.Tasks) != 1 || len(cfg.Mediator.Tasks[0].Steps) != 2 || !cfg.Mediator.Tasks[0].Steps[1].AllowFailure {
		t.Errorf("tasks = %+v", cfg.Mediator.Tasks)
	}
	if cfg.Mediator.Compression != "lz4" {
		t.Errorf("expected compression=lz4, got %s", cfg.Mediator.Compression)
	}
}

func TestLoadFileJSONC(t *testing.T) {
	path := writeConfig(t, "buildjail.jsonc", `{
  // Local development setup.
  "workspace": "/srv/build",
  "tunnel": {
    "listen_addr": "127.0.0.1:3128", /* loopback only */
    "header_timeout": "10s",
  },
  "mediator": {"read_roots": ["src"],},
}`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if cfg.Tunnel.ListenAddr != "127.0.0.1:3128" {
		t.Errorf("expected listen_addr=127.0.0.1:3128, got %s", cfg.Tunnel.ListenAddr)
	}
	if time.Duration(cfg.Tunnel.HeaderTimeout) != 10*time.Second {
		t.Errorf("expected header_timeout=10s, got %v", time.Duration(cfg.Tunnel.HeaderTimeout))
	}
	if !slices.Equal(cfg.Mediator.ReadRoots, []string{"src"}) {
		t.Errorf("read_roots = %v", cfg.Mediator.ReadRoots)
	}
}

func TestLoadFileEmpty(t *testing.T) {
	cfg, err := LoadFile(writeConfig(t, "empty.yaml", ""))
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if cfg.Tunnel.HeaderLimit != 8192 {
		t.Errorf("expected defaults, got %+v", cfg.Tunnel)
	}
}

func TestLoadFileRejectsUnknownKeys(t *testing.T) {
	_, err := LoadFile(writeConfig(t, "bad.yaml", "tunnel:\n  listen_adr: :3128\n"))
	if err == nil || !strings.Contains(err.Error(), "listen_adr") {
		t.Errorf("err = %v, want unknown-field error", err)
	}
}

func TestLoadFileBadDuration(t *testing.T) {
	_, err := LoadFile(writeConfig(t, "bad.yaml", "tunnel:\n  dial_timeout: soon\n"))
	if err == nil {
		t.Fatal("expected duration error")
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	content := `
environment: %s
tunnel:
  listen_addr: 0.0.0.0:3128
mediator:
  read_roots: [src]
sandbox:
  env:
    LANG: C
development:
  tunnel:
    listen_addr: 127.0.0.1:3128
  mediator:
    read_roots: [src, test]
  sandbox:
    fallback: warn
    env:
      DEBUG: "1"
production:
  tunnel:
    max_connections: 32
`
	t.Run("development", func(t *testing.T) {
		cfg, err := Parse([]byte(strings.Replace(content, "%s", "development", 1)))
		if err != nil {
			t.Fatalf("Parse: %v", err)
		}
		if cfg.Tunnel.ListenAddr != "127.0.0.1:3128" {
			t.Errorf("listen_addr = %s, want override", cfg.Tunnel.ListenAddr)
		}
		if !slices.Equal(cfg.Mediator.ReadRoots, []string{"src", "test"}) {
			t.Errorf("read_roots = %v, want the override list", cfg.Mediator.ReadRoots)
		}
		if cfg.Sandbox.Fallback != "warn" {
			t.Errorf("fallback = %s, want warn", cfg.Sandbox.Fallback)
		}
		if cfg.Sandbox.Env["LANG"] != "C" || cfg.Sandbox.Env["DEBUG"] != "1" {
			t.Errorf("env = %v, want merged map", cfg.Sandbox.Env)
		}
		if cfg.Tunnel.MaxConnections != 0 {
			t.Errorf("production section applied in development")
		}
	})

	t.Run("production", func(t *testing.T) {
		cfg, err := Parse([]byte(strings.Replace(content, "%s", "production", 1)))
		if err != nil {
			t.Fatalf("Parse: %v", err)
		}
		if cfg.Tunnel.ListenAddr != "0.0.0.0:3128" || cfg.Tunnel.MaxConnections != 32 {
			t.Errorf("tunnel = %+v", cfg.Tunnel)
		}
		if cfg.Sandbox.Fallback != "error" {
			t.Errorf("development section applied in production")
		}
	})
}

func TestEnvironmentOverridesRejectUnknownKeys(t *testing.T) {
	_, err := Parse([]byte("development:\n  tunel:\n    header_limit: 10\n"))
	if err == nil || !strings.Contains(err.Error(), "development") {
		t.Errorf("err = %v, want error naming the section", err)
	}
	_, err = Parse([]byte("development:\n  environment: production\n"))
	if err == nil {
		t.Error("section changing the environment was accepted")
	}
}

func TestExpandVariables(t *testing.T) {
	t.Setenv("HOME", "/home/builder")
	t.Setenv("BUILDJAIL_TEST_CACHE", "/var/cache/bj")

	cfg, err := Parse([]byte(`
workspace: ${HOME}/project
document: ${WORKSPACE}/BUILD.md
state_dir: ${BUILDJAIL_TEST_CACHE}/state
sandbox:
  worker_binary: ${BUILDJAIL_TEST_UNSET:-/usr/libexec/buildjail-worker}
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Workspace != "/home/builder/project" {
		t.Errorf("workspace = %s", cfg.Workspace)
	}
	if cfg.Document != "/home/builder/project/BUILD.md" {
		t.Errorf("document = %s", cfg.Document)
	}
	if cfg.StateDir != "/var/cache/bj/state" {
		t.Errorf("state_dir = %s", cfg.StateDir)
	}
	if cfg.Sandbox.WorkerBinary != "/usr/libexec/buildjail-worker" {
		t.Errorf("worker_binary = %s", cfg.Sandbox.WorkerBinary)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		want   string
	}{
		{"environment", func(c *Config) { c.Environment = "staging" }, "invalid environment"},
		{"header limit", func(c *Config) { c.Tunnel.HeaderLimit = 10 }, "tunnel.header_limit"},
		{"listen addr", func(c *Config) { c.Tunnel.ListenAddr = "" }, "tunnel.listen_addr"},
		{"compression", func(c *Config) { c.Mediator.Compression = "gzip" }, "mediator.compression"},
		{"write rule", func(c *Config) { c.Mediator.WriteRules = []WriteRule{{Root: "build"}} }, "write_rules[0]"},
		{"task argv", func(c *Config) {
			c.Mediator.Tasks = []Task{{Name: "t", Steps: []TaskStep{{Name: "empty"}}}}
		}, "empty argv"},
		{"duplicate task", func(c *Config) {
			c.Mediator.Tasks = []Task{{Name: "t"}, {Name: "t"}}
		}, "duplicate task"},
		{"fallback", func(c *Config) { c.Sandbox.Fallback = "skip" }, "sandbox.fallback"},
		{"production warn", func(c *Config) {
			c.Environment = Production
			c.Sandbox.Fallback = "warn"
		}, "not allowed in production"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := Default()
			test.modify(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), test.want) {
				t.Errorf("Validate() = %v, want error containing %q", err, test.want)
			}
		})
	}
}

func TestWorkerBinaryPath(t *testing.T) {
	cfg := Default()
	cfg.Sandbox.WorkerBinary = "/usr/libexec/buildjail-worker"
	path, err := cfg.WorkerBinaryPath()
	if err != nil || path != "/usr/libexec/buildjail-worker" {
		t.Errorf("WorkerBinaryPath() = %q, %v", path, err)
	}

	cfg.Sandbox.WorkerBinary = "buildjail-worker-that-does-not-exist"
	if _, err := cfg.WorkerBinaryPath(); err == nil {
		t.Error("missing relative worker binary resolved")
	}
}
