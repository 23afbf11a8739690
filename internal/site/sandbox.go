// Package site renders resolved content objects into pages: layout dispatch
// by model name, sandboxed templates, and the markdown widget pipeline.
package site

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// Sandbox constrains layout lookups to the configured templates root so a
// layout name from configuration can never escape into the wider filesystem.
type Sandbox struct {
	root string
}

// NewSandbox initializes a sandbox rooted at the provided directory. The root
// must exist and be a directory so path validation can reliably guard against
// escape attempts via ".." or symlinks.
func NewSandbox(root string) (*Sandbox, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("site: sandbox root required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("site: resolve root: %w", err)
	}
	abs, err = filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("site: eval root symlinks: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("site: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("site: root %q is not a directory", abs)
	}
	return &Sandbox{root: abs}, nil
}

// Root returns the canonical sandbox directory.
func (s *Sandbox) Root() string { return s.root }

// Resolve normalizes the provided template path ensuring it is contained
// within the sandbox root.
func (s *Sandbox) Resolve(path string) (string, error) {
	if s == nil {
		return "", errors.New("site: sandbox is nil")
	}
	cleaned := filepath.Clean(path)
	if cleaned == "." || cleaned == "" {
		return s.root, nil
	}
	if !filepath.IsAbs(cleaned) {
		cleaned = filepath.Join(s.root, cleaned)
	}
	cleaned = filepath.Clean(cleaned)
	evaluated, err := filepath.EvalSymlinks(cleaned)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			// Guard against traversal even when the target does not exist, and
			// surface the original error to callers.
			if !s.contains(cleaned) {
				return "", fmt.Errorf("site: path %q escapes sandbox", path)
			}
			return "", fmt.Errorf("site: resolve %q: %w", path, err)
		}
		return "", fmt.Errorf("site: resolve %q: %w", path, err)
	}
	if !s.contains(evaluated) {
		return "", fmt.Errorf("site: path %q escapes sandbox", path)
	}
	return evaluated, nil
}

func (s *Sandbox) contains(candidate string) bool {
	sandbox := s.root
	if runtime.GOOS == "windows" {
		sandbox = strings.ToLower(sandbox)
		candidate = strings.ToLower(candidate)
	}
	if sandbox == candidate {
		return true
	}
	if !strings.HasSuffix(sandbox, string(os.PathSeparator)) {
		sandbox += string(os.PathSeparator)
	}
	return strings.HasPrefix(candidate, sandbox)
}
