// Package endpoint materializes scoped MCP endpoints: each one filters the
// global tool table by policy, wraps the surviving handlers in the
// middleware chain, and serves them over streamable HTTP at its mount path.
package endpoint

import (
	"fmt"
	"strings"
)

// Endpoint types.
const (
	TypeAdmin   = "admin"
	TypeSystem  = "system"
	TypePlugin  = "plugin"
	TypeProject = "project"
)

// defaultMaxTools guards against runaway endpoint tool sets.
const defaultMaxTools = 200

// privilegedSystemTools never appear on plugin or project endpoints.
var privilegedSystemTools = []string{
	"system_create_api_key",
	"system_revoke_api_key",
	"system_list_api_keys",
	"system_rotate_api_keys",
	"system_audit_query",
	"system_rate_limit_stats",
}

// Config is one endpoint's immutable policy.
type Config struct {
	Path             string
	DisplayName      string
	Description      string
	EndpointType     string
	PluginTypes      []string // empty means all
	RequireMasterKey bool
	AllowedScopes    []string // empty means all
	ToolWhitelist    []string // empty means no whitelist
	ToolBlacklist    []string
	SiteFilter       string // full_id forcing every call to one tenant
	MaxTools         int
}

// Validate checks the structural invariants.
func (c *Config) Validate() error {
	if !strings.HasPrefix(c.Path, "/") {
		return fmt.Errorf("endpoint path %q must begin with /", c.Path)
	}
	for _, w := range c.ToolWhitelist {
		for _, b := range c.ToolBlacklist {
			if w == b {
				return fmt.Errorf("tool %q appears in both whitelist and blacklist", w)
			}
		}
	}
	if c.MaxTools <= 0 {
		c.MaxTools = defaultMaxTools
	}
	return nil
}

// AllowsTool applies the blacklist first, then the whitelist.
func (c *Config) AllowsTool(name string) bool {
	for _, b := range c.ToolBlacklist {
		if name == b {
			return false
		}
	}
	if len(c.ToolWhitelist) == 0 {
		return true
	}
	for _, w := range c.ToolWhitelist {
		if name == w {
			return true
		}
	}
	return false
}

// AllowsPluginType reports whether a tool's plugin type fits the policy.
// System tools (empty plugin type) are allowed everywhere except project
// endpoints.
func (c *Config) AllowsPluginType(pluginType string) bool {
	if pluginType == "" {
		return c.EndpointType != TypeProject
	}
	if len(c.PluginTypes) == 0 {
		return true
	}
	for _, pt := range c.PluginTypes {
		if pt == pluginType {
			return true
		}
	}
	return false
}

// AllowsScopeSet reports whether any of the caller's scope tokens is in
// the endpoint's allowed set.
func (c *Config) AllowsScopeSet(callerScope string) bool {
	if len(c.AllowedScopes) == 0 {
		return true
	}
	for _, token := range strings.Fields(callerScope) {
		for _, allowed := range c.AllowedScopes {
			if token == allowed {
				return true
			}
		}
	}
	return false
}

// Presets returns the fixed startup endpoint table: the root admin
// endpoint, the system endpoint, and one endpoint per plugin type.
func Presets(pluginTypes []string) []*Config {
	presets := []*Config{
		{
			Path:             "/",
			DisplayName:      "Unified Gateway",
			Description:      "All tools, master key required",
			EndpointType:     TypeAdmin,
			RequireMasterKey: true,
		},
		{
			Path:          "/system",
			DisplayName:   "System",
			Description:   "Key management, audit, and health tools",
			EndpointType:  TypeSystem,
			PluginTypes:   []string{"system"},
			AllowedScopes: []string{"admin"},
		},
	}
	for _, pt := range pluginTypes {
		presets = append(presets, &Config{
			Path:          "/" + strings.ReplaceAll(pt, "_", "-"),
			DisplayName:   titleCase(pt),
			Description:   fmt.Sprintf("Tools for %s tenants", pt),
			EndpointType:  TypePlugin,
			PluginTypes:   []string{pt},
			ToolBlacklist: append([]string(nil), privilegedSystemTools...),
		})
	}
	return presets
}

func titleCase(pluginType string) string {
	words := strings.Split(pluginType, "_")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// ProjectEndpointConfig builds the dynamic per-tenant endpoint policy.
func ProjectEndpointConfig(pathSuffix, pluginType, fullID string) *Config {
	return &Config{
		Path:          "/project/" + pathSuffix,
		DisplayName:   "Project " + pathSuffix,
		Description:   fmt.Sprintf("Tenant-scoped tools for %s", fullID),
		EndpointType:  TypeProject,
		PluginTypes:   []string{pluginType},
		SiteFilter:    fullID,
		ToolBlacklist: append([]string(nil), privilegedSystemTools...),
	}
}
