package plugins

import (
	"context"
	"net/http"
	"net/url"
)

// WordPressAdvancedFamily exposes user, plugin, and media management on
// top of the WordPress REST API. These operations need elevated
// credentials, so every spec defaults to write or admin scope.
func WordPressAdvancedFamily() Family {
	return Family{
		Type: "wordpress_advanced",
		Specs: []Spec{
			{
				Name:        "list_users",
				Method:      "list_users",
				Description: "List site users",
				InputSchema: objectSchema(nil, map[string]any{
					"search":   propString("User search term"),
					"roles":    propString("Comma-separated role filter"),
					"per_page": propInt("Results per page, max 100"),
				}),
				Scope: "write",
			},
			{
				Name:        "create_user",
				Method:      "create_user",
				Description: "Create a site user",
				InputSchema: objectSchema([]string{"username", "email", "password"}, map[string]any{
					"username": propString("Login name"),
					"email":    propString("Email address"),
					"password": propString("Initial password"),
					"roles":    propString("Comma-separated roles, defaults to subscriber"),
				}),
				Scope: "admin",
			},
			{
				Name:        "list_plugins",
				Method:      "list_plugins",
				Description: "List installed plugins and their activation state",
				InputSchema: objectSchema(nil, map[string]any{
					"status": propString("active or inactive"),
				}),
				Scope: "admin",
			},
			{
				Name:        "upload_media",
				Method:      "upload_media",
				Description: "Register a media item from a URL",
				InputSchema: objectSchema([]string{"source_url"}, map[string]any{
					"source_url": propString("Publicly reachable file URL"),
					"title":      propString("Media title"),
				}),
				Scope: "write",
			},
		},
		New: newWordPressAdvanced,
	}
}

type wordpressAdvancedPlugin struct {
	c *restClient
}

func newWordPressAdvanced(config map[string]string) (Plugin, error) {
	c, err := newRESTClient(config, "url")
	if err != nil {
		return nil, err
	}
	return &wordpressAdvancedPlugin{c: c}, nil
}

func (p *wordpressAdvancedPlugin) Call(ctx context.Context, method string, args map[string]any) (string, error) {
	switch method {
	case "list_users":
		return p.c.do(ctx, http.MethodGet, "/wp-json/wp/v2/users", queryFromArgs(args, "search", "roles", "per_page"), nil)
	case "create_user":
		return p.c.do(ctx, http.MethodPost, "/wp-json/wp/v2/users", nil, args)
	case "list_plugins":
		return p.c.do(ctx, http.MethodGet, "/wp-json/wp/v2/plugins", queryFromArgs(args, "status"), nil)
	case "upload_media":
		return p.c.do(ctx, http.MethodPost, "/wp-json/wp/v2/media", nil, args)
	default:
		return "", ErrUnknownMethod(method)
	}
}

func (p *wordpressAdvancedPlugin) HealthCheck(ctx context.Context) (string, error) {
	return p.c.do(ctx, http.MethodGet, "/wp-json/wp/v2/users/me", url.Values{}, nil)
}
