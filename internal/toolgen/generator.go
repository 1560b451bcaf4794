// Package toolgen synthesizes tool definitions from plugin families: one
// tool per specification, with a site parameter routing the call to a
// configured tenant and a tenant-isolation check against the request
// context.
package toolgen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/unifiedmcp/gateway/internal/plugins"
	"github.com/unifiedmcp/gateway/internal/reqcontext"
	"github.com/unifiedmcp/gateway/internal/sites"
	"github.com/unifiedmcp/gateway/internal/tools"
)

// descriptionPrefix marks generated tools on the wire.
const descriptionPrefix = "[UNIFIED] "

// typeFallbacks maps a plugin type to a related type whose tenants can
// serve it when no dedicated tenants exist. WooCommerce stores live on
// WordPress installs.
var typeFallbacks = map[string]string{
	"woocommerce": "wordpress",
}

// Generator turns plugin specifications into registered tool definitions.
type Generator struct {
	sites  *sites.Registry
	logger *zap.Logger
}

// NewGenerator creates a generator over the given site registry.
func NewGenerator(registry *sites.Registry, logger *zap.Logger) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{sites: registry, logger: logger}
}

// effectiveType returns the plugin type whose tenants serve pluginType,
// following the fallback mapping when the type has no tenants of its own.
func (g *Generator) effectiveType(pluginType string) string {
	counts := g.sites.GetCountByType()
	if counts[pluginType] > 0 {
		return pluginType
	}
	fallback, ok := typeFallbacks[pluginType]
	if !ok || counts[fallback] == 0 {
		return pluginType
	}
	g.logger.Warn("no dedicated tenants for plugin type, falling back",
		zap.String("plugin_type", pluginType),
		zap.String("fallback", fallback))
	return fallback
}

// Generate builds one tool definition per spec in the family.
func (g *Generator) Generate(family plugins.Family) []*tools.Definition {
	defs := make([]*tools.Definition, 0, len(family.Specs))
	for _, spec := range family.Specs {
		defs = append(defs, g.generateOne(family, spec))
	}
	return defs
}

func (g *Generator) generateOne(family plugins.Family, spec plugins.Spec) *tools.Definition {
	name := family.Type + "_" + spec.Name

	description := spec.Description
	if !strings.HasPrefix(description, descriptionPrefix) {
		description = descriptionPrefix + description
	}

	schema := injectSiteParameter(spec.InputSchema, g.siteChoices(family.Type))

	scope := spec.Scope
	if scope == "" {
		scope = tools.ScopeRead
	}

	return &tools.Definition{
		Name:          name,
		Description:   description,
		InputSchema:   schema,
		Handler:       g.buildHandler(family, spec),
		RequiredScope: scope,
		PluginType:    family.Type,
	}
}

// siteChoices returns the addressable identifiers and the distinct tenant
// count for a plugin type, after fallback resolution.
func (g *Generator) siteChoices(pluginType string) siteChoiceSet {
	effective := g.effectiveType(pluginType)
	names := g.sites.ListSites(effective)
	count := g.sites.GetCountByType()[effective]
	var defaultSite string
	if count == 1 && len(names) > 0 {
		defaultSite = names[0]
	}
	return siteChoiceSet{names: names, distinct: count, defaultSite: defaultSite}
}

type siteChoiceSet struct {
	names       []string
	distinct    int
	defaultSite string
}

// injectSiteParameter adds the site routing parameter to a copy of the
// schema. A single configured tenant makes the parameter optional with a
// default; multiple tenants make it required and enum-constrained.
func injectSiteParameter(schema map[string]any, choices siteChoiceSet) map[string]any {
	out := cloneSchema(schema)
	props, ok := out["properties"].(map[string]any)
	if !ok {
		props = make(map[string]any)
		out["properties"] = props
	}

	if choices.distinct == 1 {
		props["site"] = map[string]any{
			"type":        "string",
			"description": "Site identifier (single site configured, optional)",
			"default":     choices.defaultSite,
		}
		return out
	}

	siteProp := map[string]any{
		"type":        "string",
		"description": "Site identifier selecting the target tenant",
	}
	if len(choices.names) > 0 {
		enum := make([]any, 0, len(choices.names))
		for _, name := range choices.names {
			enum = append(enum, name)
		}
		siteProp["enum"] = enum
	}
	props["site"] = siteProp

	required, _ := out["required"].([]string)
	if required == nil {
		if anyReq, ok := out["required"].([]any); ok {
			for _, r := range anyReq {
				if s, ok := r.(string); ok {
					required = append(required, s)
				}
			}
		}
	}
	out["required"] = append([]string{"site"}, required...)
	return out
}

func cloneSchema(schema map[string]any) map[string]any {
	out := make(map[string]any, len(schema)+2)
	for k, v := range schema {
		out[k] = v
	}
	if props, ok := schema["properties"].(map[string]any); ok {
		copied := make(map[string]any, len(props))
		for k, v := range props {
			copied[k] = v
		}
		out["properties"] = copied
	}
	return out
}

// buildHandler wires site resolution, tenant isolation, argument coercion,
// and upstream dispatch into one tool handler.
func (g *Generator) buildHandler(family plugins.Family, spec plugins.Spec) tools.Handler {
	return func(ctx context.Context, args map[string]any) (string, error) {
		site, _ := args["site"].(string)
		if site == "" {
			choices := g.siteChoices(family.Type)
			switch {
			case choices.distinct == 0:
				return fmt.Sprintf("Error: no %s sites are configured", family.Type), nil
			case choices.distinct == 1:
				site = choices.defaultSite
			default:
				return fmt.Sprintf("Error: 'site' parameter is required; available sites: %s",
					strings.Join(choices.names, ", ")), nil
			}
		}

		cfg, resolvedType, err := g.resolveSite(family.Type, site)
		if err != nil {
			return fmt.Sprintf("Error: site %q is not configured for %s", site, family.Type), nil
		}

		if msg := g.checkTenantIsolation(ctx, resolvedType, cfg); msg != "" {
			return msg, nil
		}

		plugin, err := family.New(cfg.Config)
		if err != nil {
			return translatePluginError(cfg.SiteID, err), nil
		}

		filtered := coerceArgs(args)
		delete(filtered, "site")

		result, err := plugin.Call(ctx, spec.Method, filtered)
		if err != nil {
			var cfgErr *plugins.ConfigError
			var authErr *plugins.AuthError
			if errors.As(err, &cfgErr) || errors.As(err, &authErr) {
				return translatePluginError(cfg.SiteID, err), nil
			}
			return "", err
		}
		return result, nil
	}
}

// resolveSite looks the tenant up under the tool's own plugin type first,
// then under the fallback type.
func (g *Generator) resolveSite(pluginType, site string) (*sites.SiteConfig, string, error) {
	cfg, err := g.sites.GetSiteConfig(pluginType, site)
	if err == nil {
		return cfg, pluginType, nil
	}
	if fallback, ok := typeFallbacks[pluginType]; ok {
		if cfg, fbErr := g.sites.GetSiteConfig(fallback, site); fbErr == nil {
			return cfg, fallback, nil
		}
	}
	return nil, "", err
}

// checkTenantIsolation compares the caller's project against the resolved
// tenant. Returns an error string on mismatch, empty string when allowed.
func (g *Generator) checkTenantIsolation(ctx context.Context, pluginType string, cfg *sites.SiteConfig) string {
	identity := reqcontext.GetIdentity(ctx)
	if identity == nil || identity.IsGlobal || identity.ProjectID == reqcontext.GlobalProject {
		return ""
	}

	callerProject := identity.ProjectID
	// The caller's project may name the tenant by alias; normalize it to
	// the canonical full id before comparing.
	if alias, found := strings.CutPrefix(callerProject, pluginType+"_"); found {
		if resolved, ok := g.sites.ResolveAlias(alias); ok && strings.HasPrefix(resolved, pluginType+"_") {
			callerProject = resolved
		}
	}

	if callerProject != cfg.FullID() {
		return fmt.Sprintf("Error: Access denied. Your API key is scoped to %s", identity.ProjectID)
	}
	return ""
}

// coerceArgs drops nulls and empty strings and parses string values that
// look like JSON objects or arrays.
func coerceArgs(args map[string]any) map[string]any {
	out := make(map[string]any, len(args))
	for key, value := range args {
		if value == nil {
			continue
		}
		if s, ok := value.(string); ok {
			if s == "" {
				continue
			}
			trimmed := strings.TrimSpace(s)
			if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
				var parsed any
				if err := json.Unmarshal([]byte(trimmed), &parsed); err == nil {
					out[key] = parsed
					continue
				}
			}
		}
		out[key] = value
	}
	return out
}

func translatePluginError(siteID string, err error) string {
	var cfgErr *plugins.ConfigError
	if errors.As(err, &cfgErr) {
		return fmt.Sprintf("Error: site %q is misconfigured (%s); check its environment settings", siteID, cfgErr.Field)
	}
	var authErr *plugins.AuthError
	if errors.As(err, &authErr) {
		return fmt.Sprintf("Error: authentication with site %q failed; verify the configured credentials", siteID)
	}
	return "Error: " + err.Error()
}

// FallbackFor returns the related plugin type whose tenants can serve
// pluginType, or "" when there is none.
func FallbackFor(pluginType string) string {
	return typeFallbacks[pluginType]
}
