// Package tools implements the name-indexed catalog of tool definitions and
// handlers the forced-tool pipeline draws from.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/hostctl/hostctl/internal/errs"
)

// MaxToolNameLength bounds registered tool names to prevent resource abuse.
const MaxToolNameLength = 256

// MaxToolParamsSize bounds the JSON input a tool call may carry (10MB).
const MaxToolParamsSize = 10 << 20

// Definition is the immutable record exposed to the LLM for one tool.
type Definition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
	Category    string          `json:"category,omitempty"`
	Tags        []string        `json:"tags,omitempty"`
	Namespace   string          `json:"namespace,omitempty"`
}

// Result is the output of one tool execution.
type Result struct {
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
	DurationMs int64  `json:"duration_ms,omitempty"`
}

// Handler executes a tool against validated JSON input.
type Handler interface {
	Execute(ctx context.Context, input json.RawMessage) (*Result, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, input json.RawMessage) (*Result, error)

func (f HandlerFunc) Execute(ctx context.Context, input json.RawMessage) (*Result, error) {
	return f(ctx, input)
}

type registered struct {
	def     Definition
	handler Handler
}

// Registry is a thread-safe name-indexed catalog of tool definitions and
// handlers.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]registered
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]registered)}
}

const shellMetacharacters = ";|&$`\\\"'<>()\n\t "

func validateName(name string) error {
	if name == "" {
		return errs.New(errs.KindValidation, "tool name is required")
	}
	if len(name) > MaxToolNameLength {
		return errs.Newf(errs.KindValidation, "tool name exceeds maximum length of %d characters", MaxToolNameLength)
	}
	if strings.ContainsAny(name, shellMetacharacters) {
		return errs.Newf(errs.KindValidation, "tool name %q contains shell metacharacters or whitespace", name)
	}
	return nil
}

// Register adds a tool definition and handler to the registry. It fails
// with a Validation error if the name is reserved-character-laden, if
// InputSchema is not a compilable JSON Schema, or a NotFound-adjacent
// AlreadyRegistered condition (signaled via Kind Validation with a
// descriptive message) if the name already exists.
func (r *Registry) Register(def Definition, handler Handler) error {
	if err := validateName(def.Name); err != nil {
		return err
	}
	if len(def.InputSchema) > 0 {
		if _, err := compileInputSchema(def.Name, def.InputSchema); err != nil {
			return errs.Newf(errs.KindValidation, "tool %q has an invalid input schema: %v", def.Name, err)
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[def.Name]; exists {
		return errs.Newf(errs.KindValidation, "tool %q already registered", def.Name)
	}
	r.entries[def.Name] = registered{def: def, handler: handler}
	return nil
}

var schemaCache sync.Map

// compileInputSchema compiles and caches a tool's input_schema so
// Register rejects malformed schemas before the LLM ever sees them.
func compileInputSchema(name string, schema json.RawMessage) (*jsonschema.Schema, error) {
	key := string(schema)
	if cached, ok := schemaCache.Load(key); ok {
		return cached.(*jsonschema.Schema), nil
	}
	compiled, err := jsonschema.CompileString(fmt.Sprintf("%s.input_schema.json", name), key)
	if err != nil {
		return nil, err
	}
	schemaCache.Store(key, compiled)
	return compiled, nil
}

// validateInput validates a tool call's JSON input against its registered
// input_schema, when one was declared.
func (r *Registry) validateInput(def Definition, input json.RawMessage) error {
	if len(def.InputSchema) == 0 {
		return nil
	}
	compiled, err := compileInputSchema(def.Name, def.InputSchema)
	if err != nil {
		return err
	}
	var decoded any
	if err := json.Unmarshal(input, &decoded); err != nil {
		return fmt.Errorf("decode tool input: %w", err)
	}
	return compiled.Validate(decoded)
}

// Unregister removes a tool by name. No-op if absent.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, name)
}

// Get returns the handler for name.
func (r *Registry) Get(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return nil, false
	}
	return e.handler, true
}

// GetDefinition returns the definition for name.
func (r *Registry) GetDefinition(name string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return Definition{}, false
	}
	return e.def, true
}

// List returns every definition, sorted by name for a stable catalog.
func (r *Registry) List() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Definition, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ListPage returns a paginated, optionally category-filtered projection of
// List(), preserving name order.
func (r *Registry) ListPage(offset, limit int, category string) []Definition {
	all := r.List()
	if category != "" {
		filtered := all[:0:0]
		for _, d := range all {
			if d.Category == category {
				filtered = append(filtered, d)
			}
		}
		all = filtered
	}
	if offset < 0 {
		offset = 0
	}
	if offset >= len(all) {
		return []Definition{}
	}
	end := len(all)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return all[offset:end]
}

// searchCap bounds Search results.
const searchCap = 50

// Search performs a case-insensitive substring match against name,
// description, and category, capped at searchCap results.
func (r *Registry) Search(query string) []Definition {
	q := strings.ToLower(query)
	all := r.List()
	out := make([]Definition, 0, searchCap)
	for _, d := range all {
		if len(out) >= searchCap {
			break
		}
		if strings.Contains(strings.ToLower(d.Name), q) ||
			strings.Contains(strings.ToLower(d.Description), q) ||
			strings.Contains(strings.ToLower(d.Category), q) {
			out = append(out, d)
		}
	}
	return out
}

// Execute validates name and input size, then dispatches to the registered
// handler. An unknown tool name or oversized input is surfaced as an error
// Result (not a Go error) so the caller can feed it back to the LLM,
// matching spec's "tool result with IsError" contract.
func (r *Registry) Execute(ctx context.Context, name string, input json.RawMessage) (*Result, error) {
	if len(name) > MaxToolNameLength {
		return &Result{Content: "tool name exceeds maximum length", IsError: true}, nil
	}
	if len(input) > MaxToolParamsSize {
		return &Result{Content: "tool input exceeds maximum size", IsError: true}, nil
	}
	handler, ok := r.Get(name)
	if !ok {
		return &Result{Content: "tool not found: " + name, IsError: true}, nil
	}
	if def, ok := r.GetDefinition(name); ok {
		if err := r.validateInput(def, input); err != nil {
			return &Result{Content: fmt.Sprintf("tool input failed schema validation: %v", err), IsError: true}, nil
		}
	}
	return handler.Execute(ctx, input)
}

// HasResponseTool reports whether at least one of the given terminator
// names is registered.
func (r *Registry) HasResponseTool(names ...string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, n := range names {
		if _, ok := r.entries[n]; ok {
			return true
		}
	}
	return false
}
