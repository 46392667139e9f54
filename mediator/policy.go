// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mediator

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
)

// ErrAccessDenied is wrapped by every policy refusal.
var ErrAccessDenied = errors.New("access denied")

// WriteRule permits writes under Root to files whose extension is in
// Extensions.
type WriteRule struct {
	// Root is a workspace-relative directory ("build"). "." means the
	// whole workspace.
	Root string

	// Extensions are file extensions including the dot (".js"). They
	// are matched exactly, so ".JS" does not match ".js".
	Extensions []string
}

// Policy decides which workspace paths a worker may read and write.
type Policy struct {
	workspace  string
	readRoots  []string
	writeRules []WriteRule
}

// NewPolicy validates the roots and returns a policy over workspace.
// The workspace must exist; symlinks in its own path are resolved once
// here.
func NewPolicy(workspace string, readRoots []string, writeRules []WriteRule) (*Policy, error) {
	absolute, err := filepath.Abs(workspace)
	if err != nil {
		return nil, fmt.Errorf("resolving workspace %s: %w", workspace, err)
	}
	resolved, err := filepath.EvalSymlinks(absolute)
	if err != nil {
		return nil, fmt.Errorf("resolving workspace %s: %w", workspace, err)
	}

	policy := &Policy{workspace: resolved}
	for _, root := range readRoots {
		cleaned, err := cleanRoot(root)
		if err != nil {
			return nil, fmt.Errorf("read root: %w", err)
		}
		policy.readRoots = append(policy.readRoots, cleaned)
	}
	for _, rule := range writeRules {
		cleaned, err := cleanRoot(rule.Root)
		if err != nil {
			return nil, fmt.Errorf("write root: %w", err)
		}
		if len(rule.Extensions) == 0 {
			return nil, fmt.Errorf("write root %q has no extensions", rule.Root)
		}
		extensions := make([]string, len(rule.Extensions))
		for i, extension := range rule.Extensions {
			if !strings.HasPrefix(extension, ".") {
				extension = "." + extension
			}
			if extension == "." || strings.ContainsAny(extension[1:], "./") {
				return nil, fmt.Errorf("write root %q: invalid extension %q", rule.Root, rule.Extensions[i])
			}
			extensions[i] = extension
		}
		policy.writeRules = append(policy.writeRules, WriteRule{Root: cleaned, Extensions: extensions})
	}
	return policy, nil
}

// Workspace returns the resolved workspace directory.
func (p *Policy) Workspace() string {
	return p.workspace
}

// cleanRoot normalizes a configured root to a slash-separated local
// path. "" and "." both mean the workspace itself.
func cleanRoot(root string) (string, error) {
	if root == "" {
		return ".", nil
	}
	cleaned := path.Clean(filepath.ToSlash(root))
	if !filepath.IsLocal(cleaned) && cleaned != "." {
		return "", fmt.Errorf("%q is not inside the workspace", root)
	}
	return cleaned, nil
}

// cleanRequest normalizes a path from the worker. Absolute paths and
// paths that escape the workspace lexically are refused.
func cleanRequest(requested string) (string, error) {
	if requested == "" {
		return "", fmt.Errorf("%w: empty path", ErrAccessDenied)
	}
	if strings.ContainsRune(requested, 0) {
		return "", fmt.Errorf("%w: path contains NUL", ErrAccessDenied)
	}
	slashed := filepath.ToSlash(requested)
	if path.IsAbs(slashed) {
		return "", fmt.Errorf("%w: %s: absolute path", ErrAccessDenied, requested)
	}
	cleaned := path.Clean(slashed)
	if !filepath.IsLocal(cleaned) {
		return "", fmt.Errorf("%w: %s: outside the workspace", ErrAccessDenied, requested)
	}
	return cleaned, nil
}

// under reports whether the slash-separated relative path lies within
// root.
func under(relative, root string) bool {
	if root == "." {
		return true
	}
	return relative == root || strings.HasPrefix(relative, root+"/")
}

// ResolveRead returns the absolute path for a read of requested, or an
// error wrapping ErrAccessDenied. The path must lie under a read root
// both lexically and after symlink resolution. A path that does not
// exist returns an error wrapping fs.ErrNotExist.
func (p *Policy) ResolveRead(requested string) (string, error) {
	relative, err := cleanRequest(requested)
	if err != nil {
		return "", err
	}
	root, ok := p.readRootFor(relative)
	if !ok {
		return "", fmt.Errorf("%w: %s: not under a readable root", ErrAccessDenied, requested)
	}

	resolved, err := filepath.EvalSymlinks(filepath.Join(p.workspace, filepath.FromSlash(relative)))
	if err != nil {
		return "", err
	}
	if !p.contains(resolved, root) {
		return "", fmt.Errorf("%w: %s: resolves outside its root", ErrAccessDenied, requested)
	}
	return resolved, nil
}

// CanRead reports whether requested may be read. It does not require
// the file to exist.
func (p *Policy) CanRead(requested string) bool {
	relative, err := cleanRequest(requested)
	if err != nil {
		return false
	}
	_, ok := p.readRootFor(relative)
	return ok
}

func (p *Policy) readRootFor(relative string) (string, bool) {
	for _, root := range p.readRoots {
		if under(relative, root) {
			return root, true
		}
	}
	return "", false
}

// ResolveWrite computes the write grant for requested: the path must
// lie under a write rule's root AND carry one of that rule's
// extensions. Every failing clause denies. On success it returns the
// absolute target path; the target's existing parent directories must
// resolve inside the rule's root.
func (p *Policy) ResolveWrite(requested string) (string, error) {
	relative, err := cleanRequest(requested)
	if err != nil {
		return "", err
	}
	rule, ok := p.writeRuleFor(relative)
	if !ok {
		return "", fmt.Errorf("%w: %s: not writable", ErrAccessDenied, requested)
	}

	target := filepath.Join(p.workspace, filepath.FromSlash(relative))
	info, err := os.Lstat(target)
	if err == nil && !info.Mode().IsRegular() {
		return "", fmt.Errorf("%w: %s: not a regular file", ErrAccessDenied, requested)
	}
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return "", err
	}

	ancestor, err := p.existingAncestor(filepath.Dir(target))
	if err != nil {
		return "", err
	}
	if !p.contains(ancestor, rule.Root) && !p.isAncestorOfRoot(ancestor, rule.Root) {
		return "", fmt.Errorf("%w: %s: resolves outside its root", ErrAccessDenied, requested)
	}
	return target, nil
}

// CanWrite reports whether requested passes the path and extension
// clauses of the write grant, without touching the filesystem.
func (p *Policy) CanWrite(requested string) bool {
	relative, err := cleanRequest(requested)
	if err != nil {
		return false
	}
	_, ok := p.writeRuleFor(relative)
	return ok
}

func (p *Policy) writeRuleFor(relative string) (WriteRule, bool) {
	extension := path.Ext(relative)
	if extension == "" {
		return WriteRule{}, false
	}
	for _, rule := range p.writeRules {
		if under(relative, rule.Root) && slices.Contains(rule.Extensions, extension) && relative != rule.Root {
			return rule, true
		}
	}
	return WriteRule{}, false
}

// existingAncestor resolves the deepest existing directory at or above
// dir.
func (p *Policy) existingAncestor(dir string) (string, error) {
	for {
		resolved, err := filepath.EvalSymlinks(dir)
		if err == nil {
			return resolved, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", err
		}
		dir = parent
	}
}

// contains reports whether the absolute resolved path lies within the
// workspace-relative root.
func (p *Policy) contains(resolved, root string) bool {
	relative, err := filepath.Rel(p.workspace, resolved)
	if err != nil || !(relative == "." || filepath.IsLocal(relative)) {
		return false
	}
	return under(filepath.ToSlash(relative), root)
}

// isAncestorOfRoot reports whether resolved is the workspace or a
// directory between it and root, which happens when root itself does
// not exist yet.
func (p *Policy) isAncestorOfRoot(resolved, root string) bool {
	relative, err := filepath.Rel(p.workspace, resolved)
	if err != nil {
		return false
	}
	relative = filepath.ToSlash(relative)
	if relative == "." {
		return true
	}
	return filepath.IsLocal(relative) && strings.HasPrefix(root+"/", relative+"/")
}
