package tool

import (
	"fmt"
	"sort"
	"sync"

	"github.com/odvcencio/quill/pkg/logging"
)

// ErrToolNotFound is returned by Get for unknown names.
var ErrToolNotFound = fmt.Errorf("tool not found")

// Registry owns the set of callable tools. Read-mostly after startup:
// writes happen at registration and discovery time.
type Registry struct {
	mu       sync.RWMutex
	tools    map[string]Tool
	disabled map[string]bool
	logger   *logging.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:    make(map[string]Tool),
		disabled: make(map[string]bool),
	}
}

// SetLogger wires structured logging for registration warnings.
func (r *Registry) SetLogger(logger *logging.Logger) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logger = logger
}

// Register adds a tool. A duplicate name replaces the previous tool with a
// warning rather than failing.
func (r *Registry) Register(t Tool) {
	if r == nil || t == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name()]; exists && r.logger != nil {
		r.logger.Warn(logging.CategoryTool, "tool_replaced",
			fmt.Sprintf("tool %q registered twice; replacing", t.Name()),
			map[string]any{"tool": t.Name(), "origin": string(t.Origin())})
	}
	r.tools[t.Name()] = t
}

// Get looks up a tool by name. Disabled tools are still returned; callers
// filter on Enabled when advertising.
func (r *Registry) Get(name string) (Tool, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	return t, nil
}

// Disable hides a tool from declarations without removing it.
func (r *Registry) Disable(name string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disabled[name] = true
}

// Enable reverses Disable.
func (r *Registry) Enable(name string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.disabled, name)
}

// Enabled reports whether a tool is advertised.
func (r *Registry) Enabled(name string) bool {
	if r == nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.tools[name]
	return exists && !r.disabled[name]
}

// AllNames returns the sorted names of all registered tools.
func (r *Registry) AllNames() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// List returns all enabled tools sorted by name.
func (r *Registry) List() []Tool {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	tools := make([]Tool, 0, len(r.tools))
	for name, t := range r.tools {
		if r.disabled[name] {
			continue
		}
		tools = append(tools, t)
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name() < tools[j].Name() })
	return tools
}

// Count returns the number of registered tools, disabled included.
func (r *Registry) Count() int {
	if r == nil {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// FunctionDeclarations returns the model-facing schema list for all enabled
// tools.
func (r *Registry) FunctionDeclarations() []map[string]any {
	tools := r.List()
	decls := make([]map[string]any, 0, len(tools))
	for _, t := range tools {
		decls = append(decls, ToFunctionDeclaration(t))
	}
	return decls
}

// FunctionDeclarationsFiltered restricts declarations to an allow-list. An
// empty list means no restriction.
func (r *Registry) FunctionDeclarationsFiltered(allowed []string) []map[string]any {
	if len(allowed) == 0 {
		return r.FunctionDeclarations()
	}
	allowedSet := make(map[string]bool, len(allowed))
	for _, name := range allowed {
		allowedSet[name] = true
	}
	tools := r.List()
	decls := make([]map[string]any, 0, len(allowed))
	for _, t := range tools {
		if allowedSet[t.Name()] {
			decls = append(decls, ToFunctionDeclaration(t))
		}
	}
	return decls
}
