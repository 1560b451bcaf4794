// Package gateway assembles the whole service: configuration, registries,
// the OAuth server, tool generation, endpoint construction, and the HTTP
// listener lifecycle.
package gateway

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/unifiedmcp/gateway/internal/apikeys"
	"github.com/unifiedmcp/gateway/internal/audit"
	"github.com/unifiedmcp/gateway/internal/config"
	"github.com/unifiedmcp/gateway/internal/endpoint"
	"github.com/unifiedmcp/gateway/internal/health"
	"github.com/unifiedmcp/gateway/internal/httpapi"
	"github.com/unifiedmcp/gateway/internal/oauth"
	"github.com/unifiedmcp/gateway/internal/plugins"
	"github.com/unifiedmcp/gateway/internal/ratelimit"
	"github.com/unifiedmcp/gateway/internal/sites"
	"github.com/unifiedmcp/gateway/internal/systools"
	"github.com/unifiedmcp/gateway/internal/toolgen"
	"github.com/unifiedmcp/gateway/internal/tools"
)

const (
	oauthSweepInterval  = 10 * time.Minute
	healthSweepInterval = 5 * time.Minute
)

// Gateway is the fully wired service.
type Gateway struct {
	cfg    *config.Config
	logger *zap.Logger

	sitesRegistry *sites.Registry
	toolRegistry  *tools.Registry
	keys          *apikeys.Store
	limiter       *ratelimit.Limiter
	auditLog      *audit.Logger
	monitor       *health.Monitor
	oauthStorage  oauth.Storage
	oauthServer   *oauth.AuthorizationServer
	endpoints     *endpoint.Registry
	httpServer    *httpapi.Server
}

// New builds the gateway from configuration. Construction is fail-fast:
// any broken subsystem aborts startup.
func New(cfg *config.Config, logger *zap.Logger) (*Gateway, error) {
	auditLog, err := audit.NewLogger(cfg.LogDir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audit log: %w", err)
	}

	keys, err := apikeys.NewStore(cfg.DataDir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize api key store: %w", err)
	}

	siteRegistry := sites.NewRegistry(logger)
	siteRegistry.Discover(plugins.PluginTypes())

	oauthStorage, err := buildOAuthStorage(cfg, logger)
	if err != nil {
		return nil, err
	}
	clients, err := oauth.NewClientRegistry(cfg.OAuth.StoragePath, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize oauth client registry: %w", err)
	}
	tokenManager, err := oauth.NewTokenManager(oauthStorage, oauth.TokenManagerOptions{
		Secret:          cfg.OAuth.JWTSecretKey,
		Algorithm:       cfg.OAuth.JWTAlgorithm,
		Issuer:          cfg.OAuth.Issuer,
		AccessTokenTTL:  time.Duration(cfg.OAuth.AccessTokenTTL) * time.Second,
		RefreshTokenTTL: time.Duration(cfg.OAuth.RefreshTokenTTL) * time.Second,
		Audit:           auditLog,
		Logger:          logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize token manager: %w", err)
	}
	oauthServer := oauth.NewAuthorizationServer(clients, oauthStorage, tokenManager, auditLog, logger)

	limiter := ratelimit.NewLimiter(ratelimit.Limits{
		PerMinute: cfg.RateLimits.PerMinute,
		PerHour:   cfg.RateLimits.PerHour,
		PerDay:    cfg.RateLimits.PerDay,
	}, logger)
	monitor := health.NewMonitor(logger)

	toolRegistry := tools.NewRegistry(logger)
	endpointRegistry := endpoint.NewEndpointRegistry(logger)

	registerTools(toolRegistry, siteRegistry, endpointRegistry, keys, auditLog, limiter, monitor, logger)

	deps := &endpoint.MiddlewareDeps{
		Config:  cfg,
		Keys:    keys,
		Tokens:  tokenManager,
		Limiter: limiter,
		Audit:   auditLog,
		Tools:   toolRegistry,
		Logger:  logger,
	}
	if err := buildEndpoints(deps, endpointRegistry, siteRegistry, logger); err != nil {
		return nil, err
	}

	csrf := oauth.NewCSRFStore()
	oauthHandlers := httpapi.NewOAuthHandlers(cfg, oauthServer, clients, csrf, keys, logger)
	router := httpapi.NewRouter(&httpapi.RouterDeps{
		Endpoints: endpointRegistry,
		OAuth:     oauthHandlers,
		Logger:    logger,
	})

	return &Gateway{
		cfg:           cfg,
		logger:        logger,
		sitesRegistry: siteRegistry,
		toolRegistry:  toolRegistry,
		keys:          keys,
		limiter:       limiter,
		auditLog:      auditLog,
		monitor:       monitor,
		oauthStorage:  oauthStorage,
		oauthServer:   oauthServer,
		endpoints:     endpointRegistry,
		httpServer:    httpapi.NewServer(cfg.Listen, router, logger),
	}, nil
}

func buildOAuthStorage(cfg *config.Config, logger *zap.Logger) (oauth.Storage, error) {
	if cfg.OAuth.StorageType == "memory" {
		return oauth.NewMemoryStorage(), nil
	}
	storage, err := oauth.NewFileStorage(cfg.OAuth.StoragePath, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize oauth storage: %w", err)
	}
	return storage, nil
}

// registerTools fills the global tool table: system tools first, then one
// generated tool per plugin spec for every family with reachable tenants.
func registerTools(
	toolRegistry *tools.Registry,
	siteRegistry *sites.Registry,
	endpointRegistry *endpoint.Registry,
	keys *apikeys.Store,
	auditLog *audit.Logger,
	limiter *ratelimit.Limiter,
	monitor *health.Monitor,
	logger *zap.Logger,
) {
	toolRegistry.RegisterNamespace(systools.Namespace)
	for _, family := range plugins.Builtin() {
		toolRegistry.RegisterNamespace(family.Type)
	}

	systemDefs := systools.Definitions(&systools.Deps{
		Keys:      keys,
		Audit:     auditLog,
		Limiter:   limiter,
		Health:    monitor,
		Sites:     siteRegistry,
		Endpoints: endpointRegistry,
		Logger:    logger,
	})
	toolRegistry.RegisterMany(systemDefs)

	generator := toolgen.NewGenerator(siteRegistry, logger)
	counts := siteRegistry.GetCountByType()
	for _, family := range plugins.Builtin() {
		if counts[family.Type] == 0 && counts[toolgen.FallbackFor(family.Type)] == 0 {
			logger.Debug("no tenants for plugin type, skipping tool generation",
				zap.String("plugin_type", family.Type))
			continue
		}
		registered := toolRegistry.RegisterMany(generator.Generate(family))
		logger.Info("generated plugin tools",
			zap.String("plugin_type", family.Type),
			zap.Int("tools", registered))
	}
}

// buildEndpoints constructs the preset endpoints plus one project endpoint
// per discovered tenant.
func buildEndpoints(deps *endpoint.MiddlewareDeps, registry *endpoint.Registry, siteRegistry *sites.Registry, logger *zap.Logger) error {
	pluginTypes := siteRegistry.PluginTypes()
	for _, cfg := range endpoint.Presets(pluginTypes) {
		e, err := endpoint.New(deps, cfg)
		if err != nil {
			return fmt.Errorf("failed to build endpoint %s: %w", cfg.Path, err)
		}
		if err := registry.Register(e); err != nil {
			return err
		}
	}

	for _, site := range siteRegistry.AllSites() {
		suffix := siteRegistry.GetEffectivePathSuffix(site.FullID())
		cfg := endpoint.ProjectEndpointConfig(suffix, site.PluginType, site.FullID())
		e, err := endpoint.New(deps, cfg)
		if err != nil {
			return fmt.Errorf("failed to build project endpoint for %s: %w", site.FullID(), err)
		}
		if err := registry.Register(e); err != nil {
			logger.Warn("skipping project endpoint", zap.String("path", cfg.Path), zap.Error(err))
		}
	}
	return nil
}

// Run serves until the context is canceled. Background sweeps run for the
// oauth storage and tenant health while the server is up.
func (g *Gateway) Run(ctx context.Context) error {
	go g.sweepLoop(ctx)
	go g.healthLoop(ctx)
	return g.httpServer.Start(ctx)
}

func (g *Gateway) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(oauthSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := g.oauthStorage.Sweep(time.Now()); removed > 0 {
				g.logger.Debug("swept expired oauth records", zap.Int("removed", removed))
			}
		}
	}
}

// healthLoop probes every tenant periodically so the health monitor has
// rolling metrics even without traffic.
func (g *Gateway) healthLoop(ctx context.Context) {
	ticker := time.NewTicker(healthSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			checks := g.buildHealthChecks()
			if len(checks) == 0 {
				continue
			}
			status := g.monitor.CheckAllProjectsHealth(ctx, checks)
			g.logger.Debug("health sweep complete",
				zap.String("status", status.Status),
				zap.Int("projects", len(status.Projects)))
		}
	}
}

// buildHealthChecks binds each tenant to its adapter's health probe.
func (g *Gateway) buildHealthChecks() map[string]health.CheckFunc {
	families := make(map[string]plugins.Family)
	for _, family := range plugins.Builtin() {
		families[family.Type] = family
	}

	checks := make(map[string]health.CheckFunc)
	for _, site := range g.sitesRegistry.AllSites() {
		family, ok := families[site.PluginType]
		if !ok {
			continue
		}
		siteCfg := site
		fam := family
		checks[site.FullID()] = func(ctx context.Context) (string, error) {
			plugin, err := fam.New(siteCfg.Config)
			if err != nil {
				return "", err
			}
			checker, ok := plugin.(plugins.HealthChecker)
			if !ok {
				return `{"status":"unknown"}`, nil
			}
			return checker.HealthCheck(ctx)
		}
	}
	return checks
}
