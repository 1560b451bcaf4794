// Package httpapi assembles the gateway's HTTP surface: the MCP endpoint
// mounts, the OAuth authorization server routes, and the health probe.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/unifiedmcp/gateway/internal/endpoint"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 15 * time.Second

	// mcpSuffix is where the streamable transport lives under each
	// endpoint's path. Clients connect to {path}/mcp.
	mcpSuffix = "/mcp"
)

// RouterDeps are the pieces the router composes.
type RouterDeps struct {
	Endpoints *endpoint.Registry
	OAuth     *OAuthHandlers
	Logger    *zap.Logger
}

// NewRouter builds the chi router with all routes mounted.
func NewRouter(deps *RouterDeps) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(RequestIDMiddleware)
	r.Use(AccessLogMiddleware(deps.Logger))

	r.Get("/healthz", handleHealthz)

	r.Get("/.well-known/oauth-authorization-server", deps.OAuth.HandleDiscovery)
	r.Get("/authorize", deps.OAuth.HandleAuthorizeGet)
	r.Post("/authorize", deps.OAuth.HandleAuthorizePost)
	r.Post("/token", deps.OAuth.HandleToken)
	r.Post("/oauth/register", deps.OAuth.HandleRegister)

	for _, e := range deps.Endpoints.All() {
		mount := strings.TrimSuffix(e.Config.Path, "/") + mcpSuffix
		r.Handle(mount, e.Handler())
		deps.Logger.Info("mounted endpoint",
			zap.String("mount", mount),
			zap.String("type", e.Config.EndpointType),
			zap.Int("tools", e.ToolCount))
	}

	return r
}

func handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// Server wraps the HTTP listener with graceful shutdown.
type Server struct {
	httpServer *http.Server
	logger     *zap.Logger
}

// NewServer builds the listener for the given address and handler.
func NewServer(listen string, handler http.Handler, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		httpServer: &http.Server{
			Addr:              listen,
			Handler:           handler,
			ReadHeaderTimeout: readHeaderTimeout,
		},
		logger: logger,
	}
}

// Start serves until the context is canceled, then drains connections.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
