package endpoint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	cfg := &Config{Path: "/wordpress"}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, defaultMaxTools, cfg.MaxTools, "zero max tools gets the default")

	assert.Error(t, (&Config{Path: "wordpress"}).Validate(), "path must start with /")

	overlap := &Config{
		Path:          "/x",
		ToolWhitelist: []string{"a", "b"},
		ToolBlacklist: []string{"b"},
	}
	assert.Error(t, overlap.Validate())
}

func TestAllowsToolBlacklistBeatsWhitelist(t *testing.T) {
	cfg := &Config{
		ToolWhitelist: []string{"wordpress_list_posts", "wordpress_create_post"},
		ToolBlacklist: []string{"system_audit_query"},
	}
	assert.True(t, cfg.AllowsTool("wordpress_list_posts"))
	assert.False(t, cfg.AllowsTool("system_audit_query"))
	assert.False(t, cfg.AllowsTool("gitea_list_repos"), "whitelist excludes everything else")

	open := &Config{ToolBlacklist: []string{"system_audit_query"}}
	assert.True(t, open.AllowsTool("anything_else"))
	assert.False(t, open.AllowsTool("system_audit_query"))
}

func TestAllowsPluginType(t *testing.T) {
	plugin := &Config{EndpointType: TypePlugin, PluginTypes: []string{"wordpress"}}
	assert.True(t, plugin.AllowsPluginType("wordpress"))
	assert.False(t, plugin.AllowsPluginType("gitea"))
	assert.True(t, plugin.AllowsPluginType(""), "system tools ride along on plugin endpoints")

	project := &Config{EndpointType: TypeProject, PluginTypes: []string{"wordpress"}}
	assert.False(t, project.AllowsPluginType(""), "project endpoints carry no system tools")

	admin := &Config{EndpointType: TypeAdmin}
	assert.True(t, admin.AllowsPluginType("wordpress"))
	assert.True(t, admin.AllowsPluginType(""))
}

func TestAllowsScopeSet(t *testing.T) {
	cfg := &Config{AllowedScopes: []string{"admin"}}
	assert.True(t, cfg.AllowsScopeSet("read write admin"))
	assert.False(t, cfg.AllowsScopeSet("read write"))

	open := &Config{}
	assert.True(t, open.AllowsScopeSet("read"))
}

func TestPresets(t *testing.T) {
	presets := Presets([]string{"wordpress", "wordpress_advanced"})
	require.Len(t, presets, 4)

	byPath := make(map[string]*Config, len(presets))
	for _, p := range presets {
		require.NoError(t, p.Validate())
		byPath[p.Path] = p
	}

	root := byPath["/"]
	require.NotNil(t, root)
	assert.Equal(t, TypeAdmin, root.EndpointType)
	assert.True(t, root.RequireMasterKey)
	assert.Empty(t, root.PluginTypes, "root endpoint carries everything")

	system := byPath["/system"]
	require.NotNil(t, system)
	assert.Equal(t, []string{"admin"}, system.AllowedScopes)

	wp := byPath["/wordpress"]
	require.NotNil(t, wp)
	assert.Equal(t, TypePlugin, wp.EndpointType)
	assert.Equal(t, []string{"wordpress"}, wp.PluginTypes)
	assert.False(t, wp.AllowsTool("system_create_api_key"), "privileged system tools are blacklisted")
	assert.True(t, wp.AllowsTool("system_health_check"))

	adv := byPath["/wordpress-advanced"]
	require.NotNil(t, adv)
	assert.Equal(t, "Wordpress Advanced", adv.DisplayName)
}

func TestProjectEndpointConfig(t *testing.T) {
	cfg := ProjectEndpointConfig("blog", "wordpress", "wordpress_main")
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "/project/blog", cfg.Path)
	assert.Equal(t, TypeProject, cfg.EndpointType)
	assert.Equal(t, "wordpress_main", cfg.SiteFilter)
	assert.Equal(t, []string{"wordpress"}, cfg.PluginTypes)
	assert.False(t, cfg.AllowsTool("system_rotate_api_keys"))
}
