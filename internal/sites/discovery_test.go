package sites

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscoverFromGroupsKeysBySite(t *testing.T) {
	environ := []string{
		"WORDPRESS_MAIN_URL=https://main.example.com",
		"WORDPRESS_MAIN_USERNAME=admin",
		"WORDPRESS_MAIN_APP_PASSWORD=hunter2",
		"WORDPRESS_STORE_URL=https://store.example.com",
		"GITEA_FORGE_URL=https://git.example.com",
		"GITEA_FORGE_TOKEN=abc",
		"UNRELATED_VALUE=1",
	}

	r := NewRegistry(nil)
	registered := r.discoverFrom(environ, []string{"wordpress", "gitea"})
	assert.Equal(t, 3, registered)

	cfg, err := r.GetSiteConfig("wordpress", "main")
	require.NoError(t, err)
	assert.Equal(t, "https://main.example.com", cfg.Config["url"])
	assert.Equal(t, "admin", cfg.Config["username"])
	assert.Equal(t, "hunter2", cfg.Config["app_password"])

	_, err = r.GetSiteConfig("unrelated", "value")
	assert.Error(t, err)
}

func TestDiscoverFromSkipsReservedWords(t *testing.T) {
	environ := []string{
		// Tuning knobs whose first token collides with the site-id slot.
		"WORDPRESS_LIMIT_PER_MINUTE=100",
		"WORDPRESS_RATE_LIMIT=5",
		"WORDPRESS_DEBUG_MODE=true",
		"WORDPRESS_TIMEOUT_SECONDS=30",
		// A real site among the knobs.
		"WORDPRESS_MAIN_URL=https://main.example.com",
	}

	r := NewRegistry(nil)
	registered := r.discoverFrom(environ, []string{"wordpress"})
	assert.Equal(t, 1, registered)

	for _, reserved := range []string{"limit", "rate", "debug", "timeout"} {
		_, err := r.GetSiteConfig("wordpress", reserved)
		assert.ErrorIs(t, err, ErrSiteNotFound, "reserved token %q must not become a site", reserved)
	}
}

func TestDiscoverFromAliasDirective(t *testing.T) {
	environ := []string{
		"WORDPRESS_MAIN_URL=https://main.example.com",
		"WORDPRESS_MAIN_ALIAS= Blog ",
	}

	r := NewRegistry(nil)
	require.Equal(t, 1, r.discoverFrom(environ, []string{"wordpress"}))

	fullID, ok := r.ResolveAlias("blog")
	require.True(t, ok, "alias is trimmed and lowercased")
	assert.Equal(t, "wordpress_main", fullID)
}

func TestDiscoverFromIgnoresIncompleteKeys(t *testing.T) {
	environ := []string{
		"WORDPRESS_MAIN=orphan",       // no sub-key
		"WORDPRESS_=empty",            // empty site token
		"WORDPRESS_ONLYALIAS_ALIAS=x", // alias with no config keys
	}

	r := NewRegistry(nil)
	assert.Zero(t, r.discoverFrom(environ, []string{"wordpress"}))
}

func TestIsReservedWordCaseInsensitive(t *testing.T) {
	assert.True(t, IsReservedWord("LIMIT"))
	assert.True(t, IsReservedWord("Config"))
	assert.False(t, IsReservedWord("main"))
}
