package expr

import "testing"

func TestCompileAndEval(t *testing.T) {
	env, err := NewEnvironment()
	if err != nil {
		t.Fatalf("environment: %v", err)
	}

	program, err := env.Compile(`path.startsWith("/docs/") && method == "GET"`)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	vars := map[string]any{"path": "/docs/algebra", "query": "", "host": "numerist.test", "method": "GET"}
	ok, err := program.EvalBool(vars)
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	if !ok {
		t.Fatalf("expected predicate to match")
	}

	vars["method"] = "POST"
	ok, err = program.EvalBool(vars)
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	if ok {
		t.Fatalf("expected predicate to reject POST")
	}
}

func TestCompileRejectsNonBoolean(t *testing.T) {
	env, err := NewEnvironment()
	if err != nil {
		t.Fatalf("environment: %v", err)
	}
	if _, err := env.Compile(`path + query`); err == nil {
		t.Fatalf("non-boolean expression should be rejected")
	}
}

func TestCompileRejectsEmptyAndInvalid(t *testing.T) {
	env, err := NewEnvironment()
	if err != nil {
		t.Fatalf("environment: %v", err)
	}
	if _, err := env.Compile("  "); err == nil {
		t.Fatalf("empty expression should be rejected")
	}
	if _, err := env.Compile("path ==="); err == nil {
		t.Fatalf("syntax error should be rejected")
	}
	if _, err := env.Compile("unknownVar == 1"); err == nil {
		t.Fatalf("unknown variable should be rejected")
	}
}

func TestEvalUninitializedProgram(t *testing.T) {
	var p Program
	if _, err := p.EvalBool(nil); err == nil {
		t.Fatalf("zero program should error")
	}
}

func TestSourceRoundTrip(t *testing.T) {
	env, err := NewEnvironment()
	if err != nil {
		t.Fatalf("environment: %v", err)
	}
	program, err := env.Compile(`  query != ""  `)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if program.Source() != `query != ""` {
		t.Fatalf("source should be the trimmed expression: %q", program.Source())
	}
}
