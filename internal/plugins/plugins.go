// Package plugins defines the upstream adapter contract and the built-in
// product families. An adapter exposes a static list of tool specifications
// and a message-passing Call entry point; real upstream behavior lives in
// the product APIs the adapters talk to.
package plugins

import (
	"context"
	"fmt"
)

// Spec describes one operation an adapter offers. InputSchema is a JSON
// Schema fragment for the operation's arguments.
type Spec struct {
	Name        string
	Method      string
	Description string
	InputSchema map[string]any
	Scope       string // read, write, or admin; empty means read
}

// Plugin is one adapter instance bound to a tenant's configuration.
// Call dispatches by method name so handlers stay decoupled from the
// adapter's concrete type.
type Plugin interface {
	Call(ctx context.Context, method string, args map[string]any) (string, error)
}

// HealthChecker is implemented by adapters that can probe their upstream.
type HealthChecker interface {
	HealthCheck(ctx context.Context) (string, error)
}

// Factory constructs an adapter from a tenant configuration map.
type Factory func(config map[string]string) (Plugin, error)

// Family bundles a plugin type with its specifications and constructor.
type Family struct {
	Type  string
	Specs []Spec
	New   Factory
}

// ConfigError reports a missing or malformed tenant configuration value.
type ConfigError struct {
	Field string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("missing or invalid configuration value %q", e.Field)
}

// AuthError reports an upstream authentication failure.
type AuthError struct {
	Detail string
}

func (e *AuthError) Error() string {
	return "upstream authentication failed: " + e.Detail
}

// ErrUnknownMethod is returned by Call for unrecognized method names.
func ErrUnknownMethod(method string) error {
	return fmt.Errorf("unknown method %q", method)
}

// Builtin returns every built-in product family. Order is not significant;
// name-prefix precedence is handled by the tool registry.
func Builtin() []Family {
	return []Family{
		WordPressFamily(),
		WooCommerceFamily(),
		WordPressAdvancedFamily(),
		GiteaFamily(),
		N8NFamily(),
		SupabaseFamily(),
		OpenPanelFamily(),
		AppwriteFamily(),
		DirectusFamily(),
	}
}

// PluginTypes returns the builtin plugin type names.
func PluginTypes() []string {
	families := Builtin()
	out := make([]string, 0, len(families))
	for _, f := range families {
		out = append(out, f.Type)
	}
	return out
}
