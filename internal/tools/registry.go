// Package tools holds the flat table of registered tool definitions shared
// by every endpoint. Endpoints filter this table by policy; they never own
// tool definitions themselves.
package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// ErrDuplicateTool is returned when a tool name is registered twice.
var ErrDuplicateTool = errors.New("tool already registered")

// Scope constants, ordered by privilege.
const (
	ScopeRead  = "read"
	ScopeWrite = "write"
	ScopeAdmin = "admin"
)

// Handler executes one tool call. Upstream failures are returned as
// error-string results, not Go errors; a Go error means the call itself
// could not be dispatched.
type Handler func(ctx context.Context, args map[string]any) (string, error)

// Definition is one named operation with a JSON-Schema-described input.
type Definition struct {
	Name          string
	Description   string
	InputSchema   map[string]any
	Handler       Handler
	RequiredScope string
	PluginType    string
}

// Registry is the global name -> definition table.
type Registry struct {
	mu         sync.RWMutex
	defs       map[string]*Definition
	namespaces []string // plugin namespaces, longest first
	logger     *zap.Logger
}

// NewRegistry creates an empty tool registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		defs:   make(map[string]*Definition),
		logger: logger,
	}
}

// RegisterNamespace records a plugin namespace used for plugin-type
// extraction from tool names. Safe to call repeatedly.
func (r *Registry) RegisterNamespace(ns string) {
	if ns == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.namespaces {
		if existing == ns {
			return
		}
	}
	r.namespaces = append(r.namespaces, ns)
	// Longest prefix first so wordpress_advanced_ wins over wordpress_.
	sort.Slice(r.namespaces, func(i, j int) bool {
		return len(r.namespaces[i]) > len(r.namespaces[j])
	})
}

// Register installs one definition. Fails with ErrDuplicateTool on a name
// collision, leaving the table unchanged.
func (r *Registry) Register(def *Definition) error {
	if def == nil || def.Name == "" {
		return fmt.Errorf("tool definition requires a name")
	}
	if def.Handler == nil {
		return fmt.Errorf("tool %q has no handler", def.Name)
	}
	if def.RequiredScope == "" {
		def.RequiredScope = ScopeRead
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.defs[def.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, def.Name)
	}
	r.defs[def.Name] = def
	return nil
}

// RegisterMany is best-effort bulk registration: failures are logged and
// skipped. Returns the number of definitions actually registered.
func (r *Registry) RegisterMany(defs []*Definition) int {
	registered := 0
	for _, def := range defs {
		if err := r.Register(def); err != nil {
			name := "<nil>"
			if def != nil {
				name = def.Name
			}
			r.logger.Warn("skipping tool registration", zap.String("tool", name), zap.Error(err))
			continue
		}
		registered++
	}
	return registered
}

// Get returns the definition for a tool name.
func (r *Registry) Get(name string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[name]
	return def, ok
}

// All returns every registered definition, sorted by name.
func (r *Registry) All() []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Definition, 0, len(r.defs))
	for _, def := range r.defs {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.defs)
}

// ExtractPluginType derives the plugin type from a tool name by
// longest-prefix-match over the registered namespaces. Names matching no
// namespace are system tools and return "".
func (r *Registry) ExtractPluginType(toolName string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, ns := range r.namespaces {
		if strings.HasPrefix(toolName, ns+"_") {
			return ns
		}
	}
	return ""
}
