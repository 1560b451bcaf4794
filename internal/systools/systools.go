// Package systools provides the gateway's management tools: API-key
// lifecycle, audit queries, rate-limit statistics, tenant health, and
// endpoint listing. They register under the "system" namespace and are
// restricted to admin-scoped callers by the system endpoint policy.
package systools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/unifiedmcp/gateway/internal/apikeys"
	"github.com/unifiedmcp/gateway/internal/audit"
	"github.com/unifiedmcp/gateway/internal/endpoint"
	"github.com/unifiedmcp/gateway/internal/health"
	"github.com/unifiedmcp/gateway/internal/ratelimit"
	"github.com/unifiedmcp/gateway/internal/sites"
	"github.com/unifiedmcp/gateway/internal/tools"
)

// Namespace is the plugin namespace for system tools.
const Namespace = "system"

// Deps are the services the system tools operate on.
type Deps struct {
	Keys      *apikeys.Store
	Audit     *audit.Logger
	Limiter   *ratelimit.Limiter
	Health    *health.Monitor
	Sites     *sites.Registry
	Endpoints *endpoint.Registry
	Logger    *zap.Logger
}

func jsonResult(v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode result: %w", err)
	}
	return string(data), nil
}

func strOpt(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func intOpt(args map[string]any, key string, fallback int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return fallback
	}
}

// Definitions builds the system tool set.
func Definitions(deps *Deps) []*tools.Definition {
	return []*tools.Definition{
		createAPIKeyTool(deps),
		revokeAPIKeyTool(deps),
		listAPIKeysTool(deps),
		rotateAPIKeysTool(deps),
		auditQueryTool(deps),
		rateLimitStatsTool(deps),
		healthCheckTool(deps),
		listSitesTool(deps),
		listEndpointsTool(deps),
	}
}

func createAPIKeyTool(deps *Deps) *tools.Definition {
	return &tools.Definition{
		Name:        Namespace + "_create_api_key",
		Description: "[UNIFIED] Create a project-scoped API key; the raw key is returned once",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"project_id":      map[string]any{"type": "string", "description": "Tenant full id, or * for a global key"},
				"scope":           map[string]any{"type": "string", "description": "Space-separated subset of read, write, admin"},
				"description":     map[string]any{"type": "string", "description": "Free-form key description"},
				"expires_in_days": map[string]any{"type": "integer", "description": "Days until expiry, 0 for no expiry"},
			},
			"required": []string{"project_id", "scope"},
		},
		RequiredScope: tools.ScopeAdmin,
		Handler: func(_ context.Context, args map[string]any) (string, error) {
			projectID := strOpt(args, "project_id")
			scope := strOpt(args, "scope")
			var expiresIn time.Duration
			if days := intOpt(args, "expires_in_days", 0); days > 0 {
				expiresIn = time.Duration(days) * 24 * time.Hour
			}
			created, err := deps.Keys.CreateKey(projectID, scope, strOpt(args, "description"), expiresIn)
			if err != nil {
				return "", err
			}
			return jsonResult(map[string]any{
				"key_id":     created.Key.KeyID,
				"api_key":    created.RawKey,
				"project_id": created.Key.ProjectID,
				"scope":      created.Key.Scope,
				"expires_at": created.Key.ExpiresAt,
				"note":       "store the api_key now; it cannot be retrieved again",
			})
		},
	}
}

func revokeAPIKeyTool(deps *Deps) *tools.Definition {
	return &tools.Definition{
		Name:        Namespace + "_revoke_api_key",
		Description: "[UNIFIED] Revoke an API key by key id",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"key_id": map[string]any{"type": "string", "description": "Key id (key_...)"},
			},
			"required": []string{"key_id"},
		},
		RequiredScope: tools.ScopeAdmin,
		Handler: func(_ context.Context, args map[string]any) (string, error) {
			keyID := strOpt(args, "key_id")
			if err := deps.Keys.RevokeKey(keyID); err != nil {
				return "", err
			}
			result := map[string]any{"revoked": keyID}
			if key, ok := deps.Keys.GetKey(keyID); ok {
				result["project_id"] = key.ProjectID
				result["scope"] = key.Scope
			}
			return jsonResult(result)
		},
	}
}

func listAPIKeysTool(deps *Deps) *tools.Definition {
	return &tools.Definition{
		Name:        Namespace + "_list_api_keys",
		Description: "[UNIFIED] List API keys, optionally filtered by project",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"project_id": map[string]any{"type": "string", "description": "Filter by tenant full id"},
			},
		},
		RequiredScope: tools.ScopeAdmin,
		Handler: func(_ context.Context, args map[string]any) (string, error) {
			return jsonResult(deps.Keys.ListKeys(strOpt(args, "project_id")))
		},
	}
}

func rotateAPIKeysTool(deps *Deps) *tools.Definition {
	return &tools.Definition{
		Name:        Namespace + "_rotate_api_keys",
		Description: "[UNIFIED] Revoke and reissue every active key for a project",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"project_id": map[string]any{"type": "string", "description": "Tenant full id"},
			},
			"required": []string{"project_id"},
		},
		RequiredScope: tools.ScopeAdmin,
		Handler: func(_ context.Context, args map[string]any) (string, error) {
			rotated, err := deps.Keys.RotateKeys(strOpt(args, "project_id"))
			if err != nil {
				return "", err
			}
			out := make([]map[string]any, 0, len(rotated))
			for _, created := range rotated {
				out = append(out, map[string]any{
					"key_id":  created.Key.KeyID,
					"api_key": created.RawKey,
					"scope":   created.Key.Scope,
				})
			}
			return jsonResult(out)
		},
	}
}

func auditQueryTool(deps *Deps) *tools.Definition {
	return &tools.Definition{
		Name:        Namespace + "_audit_query",
		Description: "[UNIFIED] Query the audit log with filters",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"event_type": map[string]any{"type": "string", "description": "tool_call, authentication, health_check, error, system"},
				"level":      map[string]any{"type": "string", "description": "INFO, WARNING, ERROR, CRITICAL"},
				"project_id": map[string]any{"type": "string", "description": "Filter by tenant full id"},
				"tool_name":  map[string]any{"type": "string", "description": "Filter by tool name"},
				"limit":      map[string]any{"type": "integer", "description": "Maximum entries, default 50"},
			},
		},
		RequiredScope: tools.ScopeAdmin,
		Handler: func(_ context.Context, args map[string]any) (string, error) {
			entries, err := deps.Audit.Query(audit.Filter{
				EventType: strOpt(args, "event_type"),
				Level:     strOpt(args, "level"),
				ProjectID: strOpt(args, "project_id"),
				ToolName:  strOpt(args, "tool_name"),
				Limit:     intOpt(args, "limit", 50),
			})
			if err != nil {
				return "", err
			}
			return jsonResult(entries)
		},
	}
}

func rateLimitStatsTool(deps *Deps) *tools.Definition {
	return &tools.Definition{
		Name:        Namespace + "_rate_limit_stats",
		Description: "[UNIFIED] Show rate limiter statistics, global or per client",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"client_id": map[string]any{"type": "string", "description": "Client identifier to inspect"},
			},
		},
		RequiredScope: tools.ScopeAdmin,
		Handler: func(_ context.Context, args map[string]any) (string, error) {
			if clientID := strOpt(args, "client_id"); clientID != "" {
				stats, ok := deps.Limiter.Stats(clientID)
				if !ok {
					return jsonResult(map[string]any{"client_id": clientID, "known": false})
				}
				return jsonResult(stats)
			}
			total, rejected := deps.Limiter.GlobalStats()
			return jsonResult(map[string]any{
				"total_requests":    total,
				"rejected_requests": rejected,
			})
		},
	}
}

func healthCheckTool(deps *Deps) *tools.Definition {
	return &tools.Definition{
		Name:        Namespace + "_health_check",
		Description: "[UNIFIED] Report rolling health metrics for all tenants",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
		Handler: func(_ context.Context, _ map[string]any) (string, error) {
			return jsonResult(deps.Health.GetSystemStats())
		},
	}
}

func listSitesTool(deps *Deps) *tools.Definition {
	return &tools.Definition{
		Name:        Namespace + "_list_sites",
		Description: "[UNIFIED] List configured tenants and alias conflicts",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
		Handler: func(_ context.Context, _ map[string]any) (string, error) {
			all := deps.Sites.AllSites()
			summaries := make([]map[string]any, 0, len(all))
			for _, site := range all {
				summaries = append(summaries, map[string]any{
					"full_id":     site.FullID(),
					"plugin_type": site.PluginType,
					"site_id":     site.SiteID,
					"alias":       site.Alias,
					"path_suffix": deps.Sites.GetEffectivePathSuffix(site.FullID()),
				})
			}
			return jsonResult(map[string]any{
				"sites":           summaries,
				"alias_conflicts": deps.Sites.AliasConflicts(),
				"counts_by_type":  deps.Sites.GetCountByType(),
			})
		},
	}
}

func listEndpointsTool(deps *Deps) *tools.Definition {
	return &tools.Definition{
		Name:        Namespace + "_list_endpoints",
		Description: "[UNIFIED] List mounted endpoints and their tool counts",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
		Handler: func(_ context.Context, _ map[string]any) (string, error) {
			all := deps.Endpoints.All()
			out := make([]map[string]any, 0, len(all))
			for _, e := range all {
				out = append(out, map[string]any{
					"path":               e.Config.Path,
					"display_name":       e.Config.DisplayName,
					"endpoint_type":      e.Config.EndpointType,
					"plugin_types":       e.Config.PluginTypes,
					"require_master_key": e.Config.RequireMasterKey,
					"tool_count":         e.ToolCount,
				})
			}
			return jsonResult(out)
		},
	}
}
