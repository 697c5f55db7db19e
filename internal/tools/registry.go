// ABOUTME: Thread-safe registry of named tools with compiled input schemas.
// ABOUTME: Handles pack registration, collision detection, freezing and per-request subsets.

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ErrDuplicateName indicates a tool with the same name is already registered.
var ErrDuplicateName = errors.New("duplicate tool name")

// ErrInvalidDefinition indicates a definition is missing a name or handler,
// or its schema does not compile.
var ErrInvalidDefinition = errors.New("invalid tool definition")

// ErrFrozen indicates the registry no longer accepts registrations.
var ErrFrozen = errors.New("registry is frozen")

// ErrUnknownTool indicates the requested tool is not registered.
var ErrUnknownTool = errors.New("unknown tool")

// DefaultTimeout is the default timeout for tool execution.
const DefaultTimeout = 30 * time.Second

// Handler executes a tool with validated JSON input.
type Handler func(ctx context.Context, input json.RawMessage) (json.RawMessage, error)

// Definition describes a tool the model may invoke.
type Definition struct {
	Name        string
	Description string
	InputSchema json.RawMessage
	// Timeout overrides the registry default when non-zero.
	Timeout time.Duration
	Execute Handler
}

// Pack is a named group of tools registered together.
type Pack struct {
	ID    string
	Tools []*Definition
}

// Schema is the provider-facing view of a tool.
type Schema struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

type entry struct {
	def    *Definition
	schema *jsonschema.Schema
	packID string
}

// Options configures a Registry.
type Options struct {
	DefaultTimeout time.Duration
	Logger         *slog.Logger
}

// Registry maps tool names to definitions. It is mutable until Freeze and
// read-only afterwards, so it can be shared by concurrent executions.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]*entry
	frozen  bool
	timeout time.Duration
	logger  *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(opts Options) *Registry {
	timeout := opts.DefaultTimeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:   make(map[string]*entry),
		timeout: timeout,
		logger:  logger.With("component", "tools"),
	}
}

// Register adds a single tool.
func (r *Registry) Register(def *Definition) error {
	return r.RegisterPack(&Pack{ID: "", Tools: []*Definition{def}})
}

// RegisterPack adds every tool of a pack, or none of them on error.
func (r *Registry) RegisterPack(pack *Pack) error {
	compiled := make([]*entry, 0, len(pack.Tools))
	seen := make(map[string]struct{}, len(pack.Tools))
	for _, def := range pack.Tools {
		if def == nil || def.Name == "" || def.Execute == nil {
			return fmt.Errorf("%w: tool needs a name and a handler", ErrInvalidDefinition)
		}
		if _, dup := seen[def.Name]; dup {
			return fmt.Errorf("%w: '%s' appears twice in pack '%s'", ErrDuplicateName, def.Name, pack.ID)
		}
		seen[def.Name] = struct{}{}
		schema, err := compileSchema(def.Name, def.InputSchema)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrInvalidDefinition, def.Name, err)
		}
		compiled = append(compiled, &entry{def: def, schema: schema, packID: pack.ID})
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return ErrFrozen
	}
	for _, e := range compiled {
		if existing, exists := r.tools[e.def.Name]; exists {
			return fmt.Errorf("%w: tool '%s' already registered by pack '%s'",
				ErrDuplicateName, e.def.Name, existing.packID)
		}
	}
	for _, e := range compiled {
		r.tools[e.def.Name] = e
	}

	if pack.ID != "" {
		r.logger.Info("=== TOOL PACK REGISTERED ===",
			"pack_id", pack.ID,
			"tool_count", len(compiled),
			"total_tools", len(r.tools),
		)
	} else {
		r.logger.Info("=== TOOL REGISTERED ===",
			"tool_name", compiled[0].def.Name,
			"total_tools", len(r.tools),
		)
	}
	return nil
}

// Freeze makes the registry read-only.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Frozen reports whether Freeze has been called.
func (r *Registry) Frozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}

// Get returns the definition for name.
func (r *Registry) Get(name string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.tools[name]
	if !ok {
		return nil, false
	}
	return e.def, true
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// List returns all definitions sorted by name.
func (r *Registry) List() []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]*Definition, 0, len(r.tools))
	for _, e := range r.tools {
		defs = append(defs, e.def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Schemas returns the provider-facing schemas sorted by name.
func (r *Registry) Schemas() []Schema {
	defs := r.List()
	out := make([]Schema, 0, len(defs))
	for _, d := range defs {
		schema := d.InputSchema
		if len(schema) == 0 {
			schema = json.RawMessage(emptyObjectSchema)
		}
		out = append(out, Schema{Name: d.Name, Description: d.Description, InputSchema: schema})
	}
	return out
}

// Subset returns a frozen registry holding only the named tools. Unknown
// names fail with ErrUnknownTool. A nil names slice selects every tool.
func (r *Registry) Subset(names []string) (*Registry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sub := &Registry{
		tools:   make(map[string]*entry, len(names)),
		frozen:  true,
		timeout: r.timeout,
		logger:  r.logger,
	}
	if names == nil {
		for name, e := range r.tools {
			sub.tools[name] = e
		}
		return sub, nil
	}
	for _, name := range slices.Compact(slices.Sorted(slices.Values(names))) {
		e, ok := r.tools[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
		}
		sub.tools[name] = e
	}
	return sub, nil
}

func (r *Registry) lookup(name string) (*entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	return e, nil
}
