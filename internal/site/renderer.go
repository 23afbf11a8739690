package site

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"sync"
	"text/template"

	sprig "github.com/Masterminds/sprig/v3"
)

// Renderer compiles and executes layout templates through the sandbox.
// Compiled layouts are memoized; a reload drops the memo so edited templates
// take effect.
type Renderer struct {
	sandbox *Sandbox
	funcs   template.FuncMap

	mu       sync.RWMutex
	compiled map[string]*template.Template
}

// NewRenderer constructs a renderer bound to the provided sandbox. Sprig's
// environment and filesystem helpers are removed so layouts cannot read the
// process environment or reach outside the sandbox root.
func NewRenderer(sandbox *Sandbox) *Renderer {
	funcs := sprig.TxtFuncMap()
	restricted := []string{
		"env",
		"expandenv",
		"readDir",
		"mustReadDir",
		"readFile",
		"mustReadFile",
		"glob",
	}
	for _, name := range restricted {
		delete(funcs, name)
	}
	return &Renderer{
		sandbox:  sandbox,
		funcs:    funcs,
		compiled: make(map[string]*template.Template),
	}
}

// Sandbox exposes the renderer's sandbox primarily for observability and
// testing.
func (r *Renderer) Sandbox() *Sandbox { return r.sandbox }

// Invalidate drops every memoized layout, forcing recompilation on next use.
func (r *Renderer) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.compiled = make(map[string]*template.Template)
}

// Render executes the named layout file with the given data.
func (r *Renderer) Render(layout string, data any) (string, error) {
	if r == nil {
		return "", fmt.Errorf("site: renderer is nil")
	}
	tmpl, err := r.layout(layout)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("site: execute layout %q: %w", layout, err)
	}
	return buf.String(), nil
}

func (r *Renderer) layout(name string) (*template.Template, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return nil, fmt.Errorf("site: layout name required")
	}

	r.mu.RLock()
	tmpl, ok := r.compiled[trimmed]
	r.mu.RUnlock()
	if ok {
		return tmpl, nil
	}

	if r.sandbox == nil {
		return nil, fmt.Errorf("site: file layouts require a sandbox")
	}
	resolved, err := r.sandbox.Resolve(trimmed)
	if err != nil {
		return nil, err
	}
	source, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("site: read layout %q: %w", trimmed, err)
	}
	tmpl, err = template.New(trimmed).Funcs(r.funcs).Option("missingkey=zero").Parse(string(source))
	if err != nil {
		return nil, fmt.Errorf("site: compile layout %q: %w", trimmed, err)
	}

	r.mu.Lock()
	r.compiled[trimmed] = tmpl
	r.mu.Unlock()
	return tmpl, nil
}
