// ABOUTME: Tool Registry: name-keyed, concurrency-safe collection of callable tools.
// ABOUTME: Adapted from agent.ToolRegistry (teacher), generalized to the kernel's Tool interface.

package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Context carries the per-call environment a tool executes under.
type Context struct {
	WorkspaceRoot string
	SessionID     string
}

// Output is what a tool returns on success.
type Output struct {
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Tool is anything callable from a turn's tool phase.
type Tool interface {
	Name() string
	Description() string
	ParametersSchema() json.RawMessage
	Execute(ctx context.Context, args map[string]any, tc Context) (Output, error)
}

// Definition is the provider-facing shape of a tool, independent of its
// implementation.
type Definition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// Registry is a thread-safe collection of registered tools, keyed by name.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds or replaces a tool. Returns an error if its name is empty.
func (r *Registry) Register(t Tool) error {
	if t.Name() == "" {
		return fmt.Errorf("tool name must not be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
	return nil
}

// Unregister removes a tool by name. Returns true if it existed.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[name]; ok {
		delete(r.tools, name)
		return true
	}
	return false
}

// Get returns the tool registered under name, or nil.
func (r *Registry) Get(name string) Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Has reports whether a tool is registered under name.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

// Names returns the names of all registered tools, in no particular order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	return names
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Definitions returns the provider-facing definition of every registered tool.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]Definition, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, Definition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.ParametersSchema(),
		})
	}
	return defs
}
