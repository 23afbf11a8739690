// Package expr compiles the CEL predicates that gateway classification rules
// may attach alongside their path-substring matchers.
package expr

import (
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
)

// Environment builds and compiles CEL programs against the request attributes
// the classifier exposes.
type Environment struct {
	env *cel.Env
}

// NewEnvironment declares the CEL variables available to classification
// predicates: the request path, raw query, host, and method.
func NewEnvironment() (*Environment, error) {
	env, err := cel.NewEnv(
		cel.Variable("path", cel.StringType),
		cel.Variable("query", cel.StringType),
		cel.Variable("host", cel.StringType),
		cel.Variable("method", cel.StringType),
		cel.HomogeneousAggregateLiterals(),
	)
	if err != nil {
		return nil, fmt.Errorf("expr: build environment: %w", err)
	}
	return &Environment{env: env}, nil
}

// Program wraps a compiled CEL program that yields a boolean result.
type Program struct {
	source  string
	program cel.Program
}

// Compile prepares the predicate for execution, ensuring the expression
// yields a boolean.
func (e *Environment) Compile(expression string) (Program, error) {
	if e == nil || e.env == nil {
		return Program{}, fmt.Errorf("expr: environment not initialized")
	}
	trimmed := strings.TrimSpace(expression)
	if trimmed == "" {
		return Program{}, fmt.Errorf("expr: empty expression")
	}
	ast, issues := e.env.Compile(trimmed)
	if issues != nil && issues.Err() != nil {
		return Program{}, fmt.Errorf("expr: compile %q: %w", trimmed, issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return Program{}, fmt.Errorf("expr: %q must yield a boolean, got %s", trimmed, ast.OutputType())
	}
	program, err := e.env.Program(ast)
	if err != nil {
		return Program{}, fmt.Errorf("expr: program %q: %w", trimmed, err)
	}
	return Program{source: trimmed, program: program}, nil
}

// EvalBool executes the predicate against the provided activation and coerces
// the result to bool.
func (p Program) EvalBool(vars map[string]any) (bool, error) {
	if p.program == nil {
		return false, fmt.Errorf("expr: program not initialized")
	}
	val, _, err := p.program.Eval(vars)
	if err != nil {
		return false, fmt.Errorf("expr: eval %q: %w", p.source, err)
	}
	switch v := val.(type) {
	case types.Bool:
		return bool(v), nil
	case ref.Val:
		if v.Type() == types.BoolType {
			if b, ok := v.Value().(bool); ok {
				return b, nil
			}
		}
	}
	return false, fmt.Errorf("expr: %q yielded non-bool result %T", p.source, val)
}

// Source returns the original CEL expression for logging.
func (p Program) Source() string { return p.source }
