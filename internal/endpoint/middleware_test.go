package endpoint

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unifiedmcp/gateway/internal/apikeys"
	"github.com/unifiedmcp/gateway/internal/audit"
	"github.com/unifiedmcp/gateway/internal/config"
	"github.com/unifiedmcp/gateway/internal/oauth"
	"github.com/unifiedmcp/gateway/internal/ratelimit"
	"github.com/unifiedmcp/gateway/internal/reqcontext"
	"github.com/unifiedmcp/gateway/internal/tools"
)

func newTestDeps(t *testing.T) *MiddlewareDeps {
	t.Helper()

	keys, err := apikeys.NewStore(t.TempDir(), nil)
	require.NoError(t, err)
	auditLog, err := audit.NewLogger(t.TempDir(), nil)
	require.NoError(t, err)
	tokens, err := oauth.NewTokenManager(oauth.NewMemoryStorage(), oauth.TokenManagerOptions{
		Secret: "unit-test-secret",
	})
	require.NoError(t, err)

	registry := tools.NewRegistry(nil)
	registry.RegisterNamespace("wordpress")
	require.NoError(t, registry.Register(&tools.Definition{
		Name:          "wordpress_list_posts",
		Handler:       func(context.Context, map[string]any) (string, error) { return "", nil },
		RequiredScope: tools.ScopeRead,
		PluginType:    "wordpress",
	}))
	require.NoError(t, registry.Register(&tools.Definition{
		Name:          "wordpress_create_post",
		Handler:       func(context.Context, map[string]any) (string, error) { return "", nil },
		RequiredScope: tools.ScopeWrite,
		PluginType:    "wordpress",
	}))

	return &MiddlewareDeps{
		Config: &config.Config{
			MasterKey:  "sk-unit-test-master",
			RateLimits: config.RateLimits{PerMinute: 60, PerHour: 1000, PerDay: 10000},
			PluginRateLimits: map[string]config.RateLimits{
				"wordpress": {PerMinute: 5, PerHour: 50, PerDay: 500},
			},
		},
		Keys:    keys,
		Tokens:  tokens,
		Limiter: ratelimit.NewLimiter(ratelimit.DefaultLimits(), nil),
		Audit:   auditLog,
		Tools:   registry,
	}
}

func TestResolveIdentityMasterKey(t *testing.T) {
	deps := newTestDeps(t)

	identity, msg := deps.resolveIdentity("sk-unit-test-master", "wordpress_list_posts")
	require.Empty(t, msg)
	assert.Equal(t, "master", identity.KeyID)
	assert.Equal(t, reqcontext.GlobalProject, identity.ProjectID)
	assert.Equal(t, tools.ScopeAdmin, identity.Scope)
	assert.True(t, identity.IsGlobal)

	_, msg = deps.resolveIdentity("sk-wrong", "wordpress_list_posts")
	assert.Equal(t, "Authentication failed: invalid master key", msg)
}

func TestResolveIdentityAPIKey(t *testing.T) {
	deps := newTestDeps(t)
	created, err := deps.Keys.CreateKey("wordpress_main", "read", "", 0)
	require.NoError(t, err)

	identity, msg := deps.resolveIdentity(created.RawKey, "wordpress_list_posts")
	require.Empty(t, msg)
	assert.Equal(t, created.Key.KeyID, identity.KeyID)
	assert.Equal(t, "wordpress_main", identity.ProjectID)
	assert.False(t, identity.IsGlobal)

	// The tool's required scope gates the key.
	_, msg = deps.resolveIdentity(created.RawKey, "wordpress_create_post")
	assert.Equal(t, "Authorization failed: this operation requires write scope", msg)

	_, msg = deps.resolveIdentity("cmp_unknown", "wordpress_list_posts")
	assert.Equal(t, "Authentication failed: invalid API key", msg)

	require.NoError(t, deps.Keys.RevokeKey(created.Key.KeyID))
	_, msg = deps.resolveIdentity(created.RawKey, "wordpress_list_posts")
	assert.Equal(t, "Authentication failed: API key has been revoked", msg)
}

func TestResolveIdentityOAuthToken(t *testing.T) {
	deps := newTestDeps(t)

	signed, _, err := deps.Tokens.MintAccessToken("client_abc", "write", "wordpress_main", "")
	require.NoError(t, err)

	identity, msg := deps.resolveIdentity(signed, "wordpress_create_post")
	require.Empty(t, msg)
	assert.Equal(t, "oauth:client_abc", identity.KeyID)
	assert.Equal(t, "wordpress_main", identity.ProjectID)

	readOnly, _, err := deps.Tokens.MintAccessToken("client_abc", "read", "wordpress_main", "")
	require.NoError(t, err)
	_, msg = deps.resolveIdentity(readOnly, "wordpress_create_post")
	assert.Equal(t, "Authorization failed: this operation requires write scope", msg)

	_, msg = deps.resolveIdentity("not-a-token", "wordpress_list_posts")
	assert.Equal(t, "Authentication failed: invalid access token", msg)
}

func TestCheckEndpointAccess(t *testing.T) {
	scoped := &reqcontext.Identity{KeyID: "key_1", ProjectID: "wordpress_main", Scope: "read"}
	master := &reqcontext.Identity{KeyID: "master", ProjectID: reqcontext.GlobalProject, Scope: "admin", IsGlobal: true}

	t.Run("master key requirement", func(t *testing.T) {
		cfg := &Config{Path: "/", RequireMasterKey: true}
		assert.Empty(t, cfg.checkEndpointAccess(master, "wordpress_list_posts"))
		assert.Contains(t, cfg.checkEndpointAccess(scoped, "wordpress_list_posts"), "requires the master key")
	})

	t.Run("scope gate", func(t *testing.T) {
		cfg := &Config{Path: "/system", AllowedScopes: []string{"admin"}}
		assert.Empty(t, cfg.checkEndpointAccess(master, "system_health_check"))
		assert.Contains(t, cfg.checkEndpointAccess(scoped, "system_health_check"), "insufficient scope")
	})

	t.Run("project plugin type gate", func(t *testing.T) {
		cfg := &Config{Path: "/gitea", PluginTypes: []string{"gitea"}}
		assert.Contains(t, cfg.checkEndpointAccess(scoped, "gitea_list_repos"), "not served by this endpoint")
		assert.Empty(t, cfg.checkEndpointAccess(master, "gitea_list_repos"), "global callers pass the project gate")
	})

	t.Run("tool filter", func(t *testing.T) {
		cfg := &Config{Path: "/wordpress", ToolBlacklist: []string{"system_audit_query"}}
		assert.Contains(t, cfg.checkEndpointAccess(scoped, "system_audit_query"), "not available on this endpoint")
		assert.Empty(t, cfg.checkEndpointAccess(scoped, "wordpress_list_posts"))
	})
}

func TestLimitsForUsesPluginOverrides(t *testing.T) {
	deps := newTestDeps(t)

	limits := deps.limitsFor(&Config{Path: "/wordpress"}, "wordpress_list_posts")
	assert.Equal(t, ratelimit.Limits{PerMinute: 5, PerHour: 50, PerDay: 500}, limits)

	// System tools on a single-plugin endpoint inherit that plugin's limits.
	limits = deps.limitsFor(&Config{Path: "/wordpress", PluginTypes: []string{"wordpress"}}, "system_health_check")
	assert.Equal(t, 5, limits.PerMinute)

	// Elsewhere they fall back to the defaults.
	limits = deps.limitsFor(&Config{Path: "/"}, "system_health_check")
	assert.Equal(t, 60, limits.PerMinute)
}
