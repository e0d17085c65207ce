package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/nextlevelbuilder/goflock/internal/fault"
	"github.com/nextlevelbuilder/goflock/internal/providers"
)

// Tool is the capability surface a tool implementation exposes.
type Tool interface {
	Name() string
	Description() string
	Schema() map[string]any
	Execute(ctx context.Context, args map[string]any) *Result
}

// Registry holds the tool catalog. Arguments are validated against
// each tool's JSON schema before execution.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	schemas map[string]*jsonschema.Schema
	log     *slog.Logger
	timeout time.Duration
}

func NewRegistry(timeout time.Duration, log *slog.Logger) *Registry {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Registry{
		tools:   make(map[string]Tool),
		schemas: make(map[string]*jsonschema.Schema),
		log:     log.With("component", "tools"),
		timeout: timeout,
	}
}

// Register adds a tool, compiling its argument schema.
func (r *Registry) Register(tool Tool) error {
	raw, err := json.Marshal(tool.Schema())
	if err != nil {
		return fault.Wrap(fault.KindInputValidation, err, "tool %s schema", tool.Name())
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(raw)); err != nil {
		return fault.Wrap(fault.KindInputValidation, err, "tool %s schema", tool.Name())
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return fault.Wrap(fault.KindInputValidation, err, "tool %s schema", tool.Name())
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[tool.Name()]; exists {
		return fault.New(fault.KindInputValidation, "tool %q already registered", tool.Name())
	}
	r.tools[tool.Name()] = tool
	r.schemas[tool.Name()] = schema
	return nil
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Definitions returns the catalog in provider format, name-ordered.
func (r *Registry) Definitions() []providers.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]providers.ToolDefinition, 0, len(names))
	for _, name := range names {
		t := r.tools[name]
		out = append(out, providers.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: t.Schema(),
		})
	}
	return out
}

// Execute validates arguments and runs a tool under the registry
// deadline. Failures come back as error results, never panics.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) *Result {
	start := time.Now()

	r.mu.RLock()
	tool, ok := r.tools[name]
	schema := r.schemas[name]
	r.mu.RUnlock()
	if !ok {
		return finish(ErrorResult(fmt.Sprintf("unknown tool %q", name)), start)
	}

	if err := schema.Validate(normalize(args)); err != nil {
		return finish(ErrorResult(fmt.Sprintf("invalid arguments for %s: %v", name, err)), start)
	}

	execCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	resultCh := make(chan *Result, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				resultCh <- ErrorResult(fmt.Sprintf("tool %s panicked: %v", name, rec))
			}
		}()
		resultCh <- tool.Execute(execCtx, args)
	}()

	select {
	case <-execCtx.Done():
		return finish(TimeoutResult(fmt.Sprintf("tool %s timed out", name)), start)
	case result := <-resultCh:
		if result == nil {
			result = ErrorResult(fmt.Sprintf("tool %s returned nothing", name))
		}
		return finish(result, start)
	}
}

func finish(r *Result, start time.Time) *Result {
	r.DurationMS = time.Since(start).Milliseconds()
	return r
}

// normalize round-trips args through JSON so the validator sees plain
// decoded values (float64 numbers, not ints).
func normalize(args map[string]any) any {
	raw, err := json.Marshal(args)
	if err != nil {
		return args
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return args
	}
	return out
}
