package tools

import (
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"
)

type stubTool struct {
	name    string
	execute func(ctx context.Context, args map[string]any) *Result
}

func (s *stubTool) Name() string        { return s.name }
func (s *stubTool) Description() string { return "stub" }

func (s *stubTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{"type": "string"},
			"limit": map[string]any{"type": "integer", "minimum": 1},
		},
		"required": []string{"query"},
	}
}

func (s *stubTool) Execute(ctx context.Context, args map[string]any) *Result {
	if s.execute != nil {
		return s.execute(ctx, args)
	}
	return NewResult("ran " + s.name)
}

func testRegistry(t *testing.T, timeout time.Duration, tools ...Tool) *Registry {
	t.Helper()
	r := NewRegistry(timeout, slog.Default())
	for _, tool := range tools {
		if err := r.Register(tool); err != nil {
			t.Fatalf("register %s: %v", tool.Name(), err)
		}
	}
	return r
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	r := testRegistry(t, 0, &stubTool{name: "search"})
	if err := r.Register(&stubTool{name: "search"}); err == nil {
		t.Fatal("duplicate tool name was accepted")
	}
}

func TestExecuteValidatesArguments(t *testing.T) {
	r := testRegistry(t, 0, &stubTool{name: "search"})
	ctx := context.Background()

	res := r.Execute(ctx, "search", map[string]any{"limit": 5})
	if !res.IsError || !strings.Contains(res.ForLLM, "invalid arguments") {
		t.Errorf("missing required arg: %+v", res)
	}

	res = r.Execute(ctx, "search", map[string]any{"query": "go", "limit": 0})
	if !res.IsError {
		t.Errorf("out-of-range arg accepted: %+v", res)
	}

	res = r.Execute(ctx, "search", map[string]any{"query": "go", "limit": 3})
	if res.IsError || res.ForLLM != "ran search" {
		t.Errorf("valid args rejected: %+v", res)
	}
}

func TestExecuteUnknownTool(t *testing.T) {
	r := testRegistry(t, 0)
	res := r.Execute(context.Background(), "missing", nil)
	if !res.IsError || !strings.Contains(res.ForLLM, "unknown tool") {
		t.Errorf("result = %+v", res)
	}
}

func TestExecuteTimeout(t *testing.T) {
	slow := &stubTool{name: "slow", execute: func(ctx context.Context, _ map[string]any) *Result {
		<-ctx.Done()
		return NewResult("too late")
	}}
	r := testRegistry(t, 50*time.Millisecond, slow)

	res := r.Execute(context.Background(), "slow", map[string]any{"query": "x"})
	if res.Status != "timeout" || !res.IsError {
		t.Errorf("result = %+v, want timeout", res)
	}
}

func TestExecuteRecoversPanic(t *testing.T) {
	boom := &stubTool{name: "boom", execute: func(context.Context, map[string]any) *Result {
		panic("kaboom")
	}}
	r := testRegistry(t, 0, boom)

	res := r.Execute(context.Background(), "boom", map[string]any{"query": "x"})
	if !res.IsError || !strings.Contains(res.ForLLM, "panicked") {
		t.Errorf("result = %+v", res)
	}
}

func TestDefinitionsAreNameOrdered(t *testing.T) {
	r := testRegistry(t, 0,
		&stubTool{name: "zeta"}, &stubTool{name: "alpha"}, &stubTool{name: "mid"})

	defs := r.Definitions()
	if len(defs) != 3 {
		t.Fatalf("definitions = %d, want 3", len(defs))
	}
	for i, want := range []string{"alpha", "mid", "zeta"} {
		if defs[i].Name != want {
			t.Errorf("definitions[%d] = %s, want %s", i, defs[i].Name, want)
		}
	}
}
