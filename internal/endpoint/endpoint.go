package endpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/unifiedmcp/gateway/internal/reqcontext"
	"github.com/unifiedmcp/gateway/internal/tools"
)

const serverVersion = "1.0.0"

// Endpoint is one materialized MCP endpoint: a fresh MCP server holding
// the filtered tool set, served over streamable HTTP.
type Endpoint struct {
	Config    *Config
	ToolCount int

	mcpServer *mcpserver.MCPServer
	handler   http.Handler
}

// Handler returns the endpoint's HTTP handler for mounting.
func (e *Endpoint) Handler() http.Handler {
	return e.handler
}

// New builds an endpoint from its policy: filters the global tool table,
// applies the site-filter shim, attaches the middleware chain, and wraps
// the MCP server for HTTP serving.
func New(deps *MiddlewareDeps, cfg *Config) (*Endpoint, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	mcpServer := mcpserver.NewMCPServer(
		cfg.DisplayName,
		serverVersion,
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithRecovery(),
		mcpserver.WithToolHandlerMiddleware(Chain(deps, cfg)),
	)

	count := 0
	for _, def := range deps.Tools.All() {
		pluginType := deps.Tools.ExtractPluginType(def.Name)
		if !cfg.AllowsPluginType(pluginType) {
			continue
		}
		if !cfg.AllowsTool(def.Name) {
			continue
		}
		if count >= cfg.MaxTools {
			deps.Logger.Warn("endpoint tool cap reached, skipping remaining tools",
				zap.String("path", cfg.Path),
				zap.Int("max_tools", cfg.MaxTools))
			break
		}

		handler := def.Handler
		if cfg.SiteFilter != "" {
			handler = siteFilterShim(handler, pluginType, cfg.SiteFilter)
		}

		if err := addTool(mcpServer, def, handler); err != nil {
			return nil, fmt.Errorf("failed to add tool %s to endpoint %s: %w", def.Name, cfg.Path, err)
		}
		count++
	}

	handler := mcpserver.NewStreamableHTTPServer(
		mcpServer,
		mcpserver.WithHTTPContextFunc(requestContext),
	)

	deps.Logger.Info("endpoint constructed",
		zap.String("path", cfg.Path),
		zap.String("type", cfg.EndpointType),
		zap.Int("tools", count))

	return &Endpoint{
		Config:    cfg,
		ToolCount: count,
		mcpServer: mcpServer,
		handler:   handler,
	}, nil
}

// requestContext installs the per-request state the middleware chain
// consumes: the identity slot and the raw Authorization header.
func requestContext(ctx context.Context, r *http.Request) context.Context {
	ctx = reqcontext.WithIdentitySlot(ctx)
	ctx = reqcontext.WithAuthHeader(ctx, r.Header.Get("Authorization"))
	if id := r.Header.Get(reqcontext.RequestIDHeader); id != "" {
		ctx = reqcontext.WithRequestID(ctx, id)
	}
	return ctx
}

// siteFilterShim pins the site argument to the endpoint's tenant. The wire
// value is discarded; project endpoints must not reach other tenants.
func siteFilterShim(next tools.Handler, pluginType, fullID string) tools.Handler {
	siteID := fullID
	if len(fullID) > len(pluginType)+1 && fullID[:len(pluginType)+1] == pluginType+"_" {
		siteID = fullID[len(pluginType)+1:]
	}
	return func(ctx context.Context, args map[string]any) (string, error) {
		pinned := make(map[string]any, len(args)+1)
		for k, v := range args {
			pinned[k] = v
		}
		pinned["site"] = siteID
		return next(ctx, pinned)
	}
}

// addTool registers one definition with the MCP server, adapting the
// string-result handler contract to the wire result types.
func addTool(s *mcpserver.MCPServer, def *tools.Definition, handler tools.Handler) error {
	rawSchema, err := json.Marshal(def.InputSchema)
	if err != nil {
		return fmt.Errorf("failed to encode input schema: %w", err)
	}
	tool := mcp.NewToolWithRawSchema(def.Name, def.Description, rawSchema)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		result, err := handler(ctx, req.GetArguments())
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(result), nil
	})
	return nil
}

// Registry tracks constructed endpoints by mount path.
type Registry struct {
	mu        sync.RWMutex
	endpoints map[string]*Endpoint
	logger    *zap.Logger
}

// NewEndpointRegistry creates an empty endpoint registry.
func NewEndpointRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		endpoints: make(map[string]*Endpoint),
		logger:    logger,
	}
}

// Register installs an endpoint under its path. Paths are unique.
func (r *Registry) Register(e *Endpoint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.endpoints[e.Config.Path]; exists {
		return fmt.Errorf("endpoint path %q already registered", e.Config.Path)
	}
	r.endpoints[e.Config.Path] = e
	return nil
}

// Get returns the endpoint mounted at path.
func (r *Registry) Get(path string) (*Endpoint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.endpoints[path]
	return e, ok
}

// All returns every endpoint sorted by path.
func (r *Registry) All() []*Endpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Endpoint, 0, len(r.endpoints))
	for _, e := range r.endpoints {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Config.Path < out[j].Config.Path })
	return out
}

// Len returns the number of registered endpoints.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.endpoints)
}
