package tools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noopHandler(context.Context, map[string]any) (string, error) { return "", nil }

func def(name string) *Definition {
	return &Definition{Name: name, Handler: noopHandler}
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Register(def("wordpress_list_posts")))

	err := r.Register(def("wordpress_list_posts"))
	require.ErrorIs(t, err, ErrDuplicateTool)
	assert.Equal(t, 1, r.Len())
}

func TestRegisterValidation(t *testing.T) {
	r := NewRegistry(nil)
	assert.Error(t, r.Register(nil))
	assert.Error(t, r.Register(&Definition{Handler: noopHandler}))
	assert.Error(t, r.Register(&Definition{Name: "no_handler"}))
}

func TestRegisterDefaultsScopeToRead(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Register(def("wordpress_list_posts")))

	got, ok := r.Get("wordpress_list_posts")
	require.True(t, ok)
	assert.Equal(t, ScopeRead, got.RequiredScope)
}

func TestRegisterManyIsBestEffort(t *testing.T) {
	r := NewRegistry(nil)
	n := r.RegisterMany([]*Definition{
		def("a_one"),
		def("a_one"), // duplicate, skipped
		nil,          // skipped
		def("b_two"),
	})
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, r.Len())
}

func TestAllIsSorted(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Register(def("gitea_list_repos")))
	require.NoError(t, r.Register(def("appwrite_list_documents")))
	require.NoError(t, r.Register(def("wordpress_list_posts")))

	all := r.All()
	require.Len(t, all, 3)
	assert.Equal(t, "appwrite_list_documents", all[0].Name)
	assert.Equal(t, "gitea_list_repos", all[1].Name)
	assert.Equal(t, "wordpress_list_posts", all[2].Name)
}

func TestExtractPluginTypeLongestPrefixWins(t *testing.T) {
	r := NewRegistry(nil)
	r.RegisterNamespace("wordpress")
	r.RegisterNamespace("wordpress_advanced")
	r.RegisterNamespace("system")
	r.RegisterNamespace("wordpress") // repeat is a no-op

	assert.Equal(t, "wordpress", r.ExtractPluginType("wordpress_list_posts"))
	assert.Equal(t, "wordpress_advanced", r.ExtractPluginType("wordpress_advanced_list_users"))
	assert.Equal(t, "system", r.ExtractPluginType("system_health_check"))
	assert.Equal(t, "", r.ExtractPluginType("unprefixed"), "unknown prefixes are system tools")
	assert.Equal(t, "", r.ExtractPluginType("wordpress"), "bare namespace without suffix does not match")
}
