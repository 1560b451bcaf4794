package endpoint

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/unifiedmcp/gateway/internal/apikeys"
	"github.com/unifiedmcp/gateway/internal/audit"
	"github.com/unifiedmcp/gateway/internal/config"
	"github.com/unifiedmcp/gateway/internal/hash"
	"github.com/unifiedmcp/gateway/internal/oauth"
	"github.com/unifiedmcp/gateway/internal/ratelimit"
	"github.com/unifiedmcp/gateway/internal/reqcontext"
	"github.com/unifiedmcp/gateway/internal/tools"
)

// clientIDMaxLen bounds the rate-limiter client identifier.
const clientIDMaxLen = 48

// MiddlewareDeps are the shared services the per-endpoint chains close over.
type MiddlewareDeps struct {
	Config  *config.Config
	Keys    *apikeys.Store
	Tokens  *oauth.TokenManager
	Limiter *ratelimit.Limiter
	Audit   *audit.Logger
	Tools   *tools.Registry
	Logger  *zap.Logger
}

// Chain builds the endpoint's tool-handler middleware: Auth outermost,
// then RateLimit, then Audit, then the handler.
func Chain(deps *MiddlewareDeps, cfg *Config) mcpserver.ToolHandlerMiddleware {
	auth := authMiddleware(deps, cfg)
	rate := rateLimitMiddleware(deps, cfg)
	auditMW := auditMiddleware(deps)
	return func(next mcpserver.ToolHandlerFunc) mcpserver.ToolHandlerFunc {
		return auth(rate(auditMW(next)))
	}
}

// authMiddleware resolves the caller's credential, installs the identity,
// and enforces the endpoint policy. The identity is cleared on every exit
// path.
func authMiddleware(deps *MiddlewareDeps, cfg *Config) mcpserver.ToolHandlerMiddleware {
	return func(next mcpserver.ToolHandlerFunc) mcpserver.ToolHandlerFunc {
		return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			toolName := req.Params.Name
			header := strings.TrimSpace(reqcontext.GetAuthHeader(ctx))

			if header == "" {
				if cfg.RequireMasterKey {
					return mcp.NewToolResultError("Authentication required: this endpoint requires the master key"), nil
				}
				if !cfg.AllowsTool(toolName) {
					return mcp.NewToolResultError(fmt.Sprintf("Tool %q is not available on this endpoint", toolName)), nil
				}
				// Anonymous call on an open endpoint; no identity to install.
				return next(ctx, req)
			}

			credential := strings.TrimPrefix(header, "Bearer ")
			identity, errMsg := deps.resolveIdentity(credential, toolName)
			if errMsg != "" {
				reqcontext.ClearIdentity(ctx)
				return mcp.NewToolResultError(errMsg), nil
			}

			if msg := cfg.checkEndpointAccess(identity, toolName); msg != "" {
				reqcontext.ClearIdentity(ctx)
				deps.Audit.LogAuthentication(identity.KeyID, identity.ProjectID, "endpoint_policy", false, msg)
				return mcp.NewToolResultError(msg), nil
			}

			reqcontext.SetIdentity(ctx, identity)
			defer reqcontext.ClearIdentity(ctx)
			return next(ctx, req)
		}
	}
}

// resolveIdentity classifies and validates one credential. Returns the
// identity or a human-readable rejection message.
func (deps *MiddlewareDeps) resolveIdentity(credential, toolName string) (*reqcontext.Identity, string) {
	requiredScope := tools.ScopeRead
	if def, ok := deps.Tools.Get(toolName); ok {
		requiredScope = def.RequiredScope
	}

	switch {
	case strings.HasPrefix(credential, config.MasterKeyPrefix):
		if !hash.SecureCompare(credential, deps.Config.MasterKey) {
			deps.Audit.LogAuthentication("", "", "master_key", false, "master key mismatch")
			return nil, "Authentication failed: invalid master key"
		}
		deps.Audit.LogAuthentication("master", reqcontext.GlobalProject, "master_key", true, "")
		return &reqcontext.Identity{
			KeyID:     "master",
			ProjectID: reqcontext.GlobalProject,
			Scope:     tools.ScopeAdmin,
			IsGlobal:  true,
		}, ""

	case strings.HasPrefix(credential, config.APIKeyPrefix):
		key, err := deps.Keys.ValidateKey(credential, requiredScope, "", true)
		if err != nil {
			deps.Audit.LogAuthentication("", "", "api_key", false, err.Error())
			switch {
			case errors.Is(err, apikeys.ErrKeyRevoked):
				return nil, "Authentication failed: API key has been revoked"
			case errors.Is(err, apikeys.ErrKeyExpired):
				return nil, "Authentication failed: API key has expired"
			case errors.Is(err, apikeys.ErrInsufficientScope):
				return nil, fmt.Sprintf("Authorization failed: this operation requires %s scope", requiredScope)
			default:
				return nil, "Authentication failed: invalid API key"
			}
		}
		deps.Audit.LogAuthentication(key.KeyID, key.ProjectID, "api_key", true, "")
		return &reqcontext.Identity{
			KeyID:     key.KeyID,
			ProjectID: key.ProjectID,
			Scope:     key.Scope,
			IsGlobal:  key.ProjectID == reqcontext.GlobalProject,
		}, ""

	default:
		claims, err := deps.Tokens.ValidateAccessToken(credential)
		if err != nil {
			deps.Audit.LogAuthentication("", "", "oauth", false, err.Error())
			if errors.Is(err, oauth.ErrTokenExpired) {
				return nil, "Authentication failed: access token expired"
			}
			return nil, "Authentication failed: invalid access token"
		}
		if !apikeys.ValidatesScope(claims.Scope, requiredScope) {
			deps.Audit.LogAuthentication(claims.ClientID, claims.ProjectID, "oauth", false, "insufficient scope")
			return nil, fmt.Sprintf("Authorization failed: this operation requires %s scope", requiredScope)
		}
		deps.Audit.LogAuthentication(claims.ClientID, claims.ProjectID, "oauth", true, "")
		return &reqcontext.Identity{
			KeyID:     "oauth:" + claims.ClientID,
			ProjectID: claims.ProjectID,
			Scope:     claims.Scope,
			IsGlobal:  claims.ProjectID == reqcontext.GlobalProject,
		}, ""
	}
}

// checkEndpointAccess enforces the endpoint policy after identification.
func (c *Config) checkEndpointAccess(identity *reqcontext.Identity, toolName string) string {
	if c.RequireMasterKey && identity.KeyID != "master" {
		return "Access denied: this endpoint requires the master key"
	}
	if !c.AllowsScopeSet(identity.Scope) {
		return fmt.Sprintf("Access denied: insufficient scope for this endpoint (have %q)", identity.Scope)
	}
	if identity.ProjectID != reqcontext.GlobalProject && len(c.PluginTypes) > 0 {
		matched := false
		for _, pt := range c.PluginTypes {
			if strings.HasPrefix(identity.ProjectID, pt+"_") {
				matched = true
				break
			}
		}
		if !matched {
			return "Access denied: your project is not served by this endpoint"
		}
	}
	if !c.AllowsTool(toolName) {
		return fmt.Sprintf("Tool %q is not available on this endpoint", toolName)
	}
	return ""
}

// rateLimitMiddleware admits the call through the token buckets. The client
// identifier is the credential itself, truncated, so limits apply per
// caller rather than per connection.
func rateLimitMiddleware(deps *MiddlewareDeps, cfg *Config) mcpserver.ToolHandlerMiddleware {
	return func(next mcpserver.ToolHandlerFunc) mcpserver.ToolHandlerFunc {
		return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			clientID := reqcontext.GetAuthHeader(ctx)
			if clientID == "" {
				clientID = "anonymous"
			} else if len(clientID) > clientIDMaxLen {
				clientID = clientID[:clientIDMaxLen]
			}

			limits := deps.limitsFor(cfg, req.Params.Name)
			result := deps.Limiter.CheckWithLimits(clientID, limits)
			if !result.Allowed {
				deps.Logger.Warn("rate limit exceeded",
					zap.String("tool", req.Params.Name),
					zap.String("reason", result.Reason))
				return mcp.NewToolResultError(fmt.Sprintf(
					"Rate limit exceeded. Retry after %.0f seconds", result.RetryAfter)), nil
			}
			return next(ctx, req)
		}
	}
}

// limitsFor resolves per-plugin overrides for the tool being called.
func (deps *MiddlewareDeps) limitsFor(cfg *Config, toolName string) ratelimit.Limits {
	pluginType := deps.Tools.ExtractPluginType(toolName)
	if pluginType == "" && len(cfg.PluginTypes) == 1 {
		pluginType = cfg.PluginTypes[0]
	}
	rl := deps.Config.LimitsForPlugin(pluginType)
	return ratelimit.Limits{PerMinute: rl.PerMinute, PerHour: rl.PerHour, PerDay: rl.PerDay}
}

// auditMiddleware records one tool_call entry per invocation with wall
// time. Errors re-raise after being recorded.
func auditMiddleware(deps *MiddlewareDeps) mcpserver.ToolHandlerMiddleware {
	return func(next mcpserver.ToolHandlerFunc) mcpserver.ToolHandlerFunc {
		return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			projectID, keyID := "", ""
			if identity := reqcontext.GetIdentity(ctx); identity != nil {
				projectID = identity.ProjectID
				keyID = identity.KeyID
			}

			start := time.Now()
			result, err := next(ctx, req)
			durationMs := float64(time.Since(start).Microseconds()) / 1000.0

			switch {
			case err != nil:
				deps.Audit.LogToolCall(req.Params.Name, projectID, keyID, durationMs, false, err.Error())
				return nil, err
			case result != nil && result.IsError:
				deps.Audit.LogToolCall(req.Params.Name, projectID, keyID, durationMs, false, "tool returned error result")
			default:
				deps.Audit.LogToolCall(req.Params.Name, projectID, keyID, durationMs, true, "")
			}
			return result, nil
		}
	}
}
