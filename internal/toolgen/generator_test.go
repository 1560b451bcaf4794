package toolgen

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unifiedmcp/gateway/internal/plugins"
	"github.com/unifiedmcp/gateway/internal/reqcontext"
	"github.com/unifiedmcp/gateway/internal/sites"
)

// fakePlugin records the call it received and returns a canned result.
type fakePlugin struct {
	config map[string]string
	method string
	args   map[string]any
	result string
	err    error
}

func (p *fakePlugin) Call(_ context.Context, method string, args map[string]any) (string, error) {
	p.method = method
	p.args = args
	return p.result, p.err
}

func fakeFamily(pluginType string, plugin *fakePlugin) plugins.Family {
	return plugins.Family{
		Type: pluginType,
		Specs: []plugins.Spec{{
			Name:        "list_posts",
			Method:      "list_posts",
			Description: "List posts",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"per_page": map[string]any{"type": "integer"},
				},
			},
		}},
		New: func(config map[string]string) (plugins.Plugin, error) {
			plugin.config = config
			return plugin, nil
		},
	}
}

func registryWith(t *testing.T, configs ...*sites.SiteConfig) *sites.Registry {
	t.Helper()
	r := sites.NewRegistry(nil)
	for _, cfg := range configs {
		require.NoError(t, r.RegisterSite(cfg))
	}
	return r
}

func wpSite(siteID, alias string) *sites.SiteConfig {
	return &sites.SiteConfig{
		SiteID:     siteID,
		PluginType: "wordpress",
		Alias:      alias,
		Config:     map[string]string{"url": "https://" + siteID + ".example.com"},
	}
}

func identityCtx(id *reqcontext.Identity) context.Context {
	ctx := reqcontext.WithIdentitySlot(context.Background())
	reqcontext.SetIdentity(ctx, id)
	return ctx
}

func TestGenerateNamesAndPrefix(t *testing.T) {
	g := NewGenerator(registryWith(t, wpSite("main", "")), nil)
	defs := g.Generate(fakeFamily("wordpress", &fakePlugin{}))
	require.Len(t, defs, 1)

	def := defs[0]
	assert.Equal(t, "wordpress_list_posts", def.Name)
	assert.Equal(t, "[UNIFIED] List posts", def.Description)
	assert.Equal(t, "read", def.RequiredScope, "missing scope defaults to read")
	assert.Equal(t, "wordpress", def.PluginType)
}

func TestSiteParameterSingleTenantOptional(t *testing.T) {
	g := NewGenerator(registryWith(t, wpSite("main", "")), nil)
	def := g.Generate(fakeFamily("wordpress", &fakePlugin{}))[0]

	props := def.InputSchema["properties"].(map[string]any)
	site := props["site"].(map[string]any)
	assert.Equal(t, "main", site["default"])
	_, hasEnum := site["enum"]
	assert.False(t, hasEnum)

	required, _ := def.InputSchema["required"].([]string)
	assert.NotContains(t, required, "site")
}

func TestSiteParameterMultiTenantRequired(t *testing.T) {
	g := NewGenerator(registryWith(t, wpSite("main", "blog"), wpSite("store", "")), nil)
	def := g.Generate(fakeFamily("wordpress", &fakePlugin{}))[0]

	props := def.InputSchema["properties"].(map[string]any)
	site := props["site"].(map[string]any)
	assert.ElementsMatch(t, []any{"blog", "main", "store"}, site["enum"],
		"enum is the union of site ids and aliases")

	required := def.InputSchema["required"].([]string)
	assert.Equal(t, "site", required[0])
}

func TestHandlerAutoSelectsSingleSite(t *testing.T) {
	plugin := &fakePlugin{result: "ok"}
	g := NewGenerator(registryWith(t, wpSite("main", "")), nil)
	handler := g.Generate(fakeFamily("wordpress", plugin))[0].Handler

	out, err := handler(context.Background(), map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, "list_posts", plugin.method)
	assert.Equal(t, "https://main.example.com", plugin.config["url"])
}

func TestHandlerRequiresSiteWithMultipleTenants(t *testing.T) {
	g := NewGenerator(registryWith(t, wpSite("main", ""), wpSite("store", "")), nil)
	handler := g.Generate(fakeFamily("wordpress", &fakePlugin{}))[0].Handler

	out, err := handler(context.Background(), map[string]any{})
	require.NoError(t, err)
	assert.Contains(t, out, "Error: 'site' parameter is required")
	assert.Contains(t, out, "main")
	assert.Contains(t, out, "store")
}

func TestHandlerNoSitesConfigured(t *testing.T) {
	g := NewGenerator(registryWith(t), nil)
	handler := g.Generate(fakeFamily("wordpress", &fakePlugin{}))[0].Handler

	out, err := handler(context.Background(), map[string]any{})
	require.NoError(t, err)
	assert.Contains(t, out, "Error: no wordpress sites are configured")
}

func TestHandlerUnknownSite(t *testing.T) {
	g := NewGenerator(registryWith(t, wpSite("main", "")), nil)
	handler := g.Generate(fakeFamily("wordpress", &fakePlugin{}))[0].Handler

	out, err := handler(context.Background(), map[string]any{"site": "nope"})
	require.NoError(t, err)
	assert.Contains(t, out, `Error: site "nope" is not configured`)
}

func TestTenantIsolation(t *testing.T) {
	plugin := &fakePlugin{result: "ok"}
	g := NewGenerator(registryWith(t, wpSite("main", "blog"), wpSite("store", "")), nil)
	handler := g.Generate(fakeFamily("wordpress", plugin))[0].Handler

	t.Run("scoped key blocked on foreign site", func(t *testing.T) {
		ctx := identityCtx(&reqcontext.Identity{KeyID: "key_1", ProjectID: "wordpress_main", Scope: "read"})
		out, err := handler(ctx, map[string]any{"site": "store"})
		require.NoError(t, err)
		assert.Equal(t, "Error: Access denied. Your API key is scoped to wordpress_main", out)
	})

	t.Run("scoped key allowed on own site", func(t *testing.T) {
		ctx := identityCtx(&reqcontext.Identity{KeyID: "key_1", ProjectID: "wordpress_main", Scope: "read"})
		out, err := handler(ctx, map[string]any{"site": "main"})
		require.NoError(t, err)
		assert.Equal(t, "ok", out)
	})

	t.Run("alias-scoped key matches canonical site", func(t *testing.T) {
		ctx := identityCtx(&reqcontext.Identity{KeyID: "key_1", ProjectID: "wordpress_blog", Scope: "read"})
		out, err := handler(ctx, map[string]any{"site": "main"})
		require.NoError(t, err)
		assert.Equal(t, "ok", out)
	})

	t.Run("global key touches everything", func(t *testing.T) {
		ctx := identityCtx(&reqcontext.Identity{KeyID: "key_m", ProjectID: reqcontext.GlobalProject, IsGlobal: true})
		out, err := handler(ctx, map[string]any{"site": "store"})
		require.NoError(t, err)
		assert.Equal(t, "ok", out)
	})

	t.Run("anonymous context is unrestricted", func(t *testing.T) {
		out, err := handler(context.Background(), map[string]any{"site": "store"})
		require.NoError(t, err)
		assert.Equal(t, "ok", out)
	})
}

func TestHandlerCoercesArguments(t *testing.T) {
	plugin := &fakePlugin{result: "ok"}
	g := NewGenerator(registryWith(t, wpSite("main", "")), nil)
	handler := g.Generate(fakeFamily("wordpress", plugin))[0].Handler

	_, err := handler(context.Background(), map[string]any{
		"site":     "main",
		"empty":    "",
		"null":     nil,
		"json_obj": `{"a": 1}`,
		"json_arr": `[1, 2]`,
		"not_json": "{broken",
		"plain":    "text",
	})
	require.NoError(t, err)

	assert.NotContains(t, plugin.args, "site", "site never reaches the upstream")
	assert.NotContains(t, plugin.args, "empty")
	assert.NotContains(t, plugin.args, "null")
	assert.Equal(t, map[string]any{"a": float64(1)}, plugin.args["json_obj"])
	assert.Equal(t, []any{float64(1), float64(2)}, plugin.args["json_arr"])
	assert.Equal(t, "{broken", plugin.args["not_json"], "unparseable strings pass through")
	assert.Equal(t, "text", plugin.args["plain"])
}

func TestHandlerTranslatesPluginErrors(t *testing.T) {
	g := NewGenerator(registryWith(t, wpSite("main", "")), nil)

	t.Run("config error", func(t *testing.T) {
		plugin := &fakePlugin{err: &plugins.ConfigError{Field: "url"}}
		handler := g.Generate(fakeFamily("wordpress", plugin))[0].Handler
		out, err := handler(context.Background(), map[string]any{})
		require.NoError(t, err)
		assert.Contains(t, out, "misconfigured")
		assert.Contains(t, out, "url")
	})

	t.Run("auth error", func(t *testing.T) {
		plugin := &fakePlugin{err: &plugins.AuthError{Detail: "401"}}
		handler := g.Generate(fakeFamily("wordpress", plugin))[0].Handler
		out, err := handler(context.Background(), map[string]any{})
		require.NoError(t, err)
		assert.Contains(t, out, "authentication")
	})

	t.Run("other errors propagate", func(t *testing.T) {
		plugin := &fakePlugin{err: context.DeadlineExceeded}
		handler := g.Generate(fakeFamily("wordpress", plugin))[0].Handler
		_, err := handler(context.Background(), map[string]any{})
		assert.Error(t, err)
	})
}

func TestWooCommerceFallsBackToWordPressSites(t *testing.T) {
	plugin := &fakePlugin{result: "ok"}
	g := NewGenerator(registryWith(t, wpSite("main", "")), nil)
	family := fakeFamily("woocommerce", plugin)
	def := g.Generate(family)[0]

	assert.Equal(t, "woocommerce_list_posts", def.Name)

	out, err := def.Handler(context.Background(), map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, "ok", out, "single wordpress site serves the woocommerce tool")

	assert.Equal(t, "wordpress", FallbackFor("woocommerce"))
	assert.Empty(t, FallbackFor("gitea"))
}
