package plugins

import (
	"context"
	"net/http"
	"net/url"
)

// WordPressFamily covers the core WordPress REST API surface.
func WordPressFamily() Family {
	return Family{
		Type: "wordpress",
		Specs: []Spec{
			{
				Name:        "list_posts",
				Method:      "list_posts",
				Description: "List posts with optional search and pagination",
				InputSchema: objectSchema(nil, map[string]any{
					"search":   propString("Full-text search term"),
					"page":     propInt("Result page, 1-based"),
					"per_page": propInt("Results per page, max 100"),
					"status":   propString("Post status filter (publish, draft, ...)"),
				}),
			},
			{
				Name:        "get_post",
				Method:      "get_post",
				Description: "Fetch a single post by id",
				InputSchema: objectSchema([]string{"id"}, map[string]any{
					"id": propInt("Post id"),
				}),
			},
			{
				Name:        "create_post",
				Method:      "create_post",
				Description: "Create a new post",
				InputSchema: objectSchema([]string{"title"}, map[string]any{
					"title":   propString("Post title"),
					"content": propString("Post body, HTML allowed"),
					"status":  propString("publish or draft, defaults to draft"),
				}),
				Scope: "write",
			},
			{
				Name:        "update_post",
				Method:      "update_post",
				Description: "Update fields of an existing post",
				InputSchema: objectSchema([]string{"id"}, map[string]any{
					"id":      propInt("Post id"),
					"title":   propString("New title"),
					"content": propString("New body"),
					"status":  propString("New status"),
				}),
				Scope: "write",
			},
			{
				Name:        "delete_post",
				Method:      "delete_post",
				Description: "Delete a post by id",
				InputSchema: objectSchema([]string{"id"}, map[string]any{
					"id":    propInt("Post id"),
					"force": map[string]any{"type": "boolean", "description": "Skip trash and delete permanently"},
				}),
				Scope: "admin",
			},
		},
		New: newWordPress,
	}
}

type wordpressPlugin struct {
	c *restClient
}

func newWordPress(config map[string]string) (Plugin, error) {
	c, err := newRESTClient(config, "url")
	if err != nil {
		return nil, err
	}
	return &wordpressPlugin{c: c}, nil
}

func (p *wordpressPlugin) Call(ctx context.Context, method string, args map[string]any) (string, error) {
	switch method {
	case "list_posts":
		return p.c.do(ctx, http.MethodGet, "/wp-json/wp/v2/posts", queryFromArgs(args, "search", "page", "per_page", "status"), nil)
	case "get_post":
		id, err := idArg(args)
		if err != nil {
			return "", err
		}
		return p.c.do(ctx, http.MethodGet, "/wp-json/wp/v2/posts/"+id, nil, nil)
	case "create_post":
		return p.c.do(ctx, http.MethodPost, "/wp-json/wp/v2/posts", nil, args)
	case "update_post":
		id, err := idArg(args)
		if err != nil {
			return "", err
		}
		body := cloneWithout(args, "id")
		return p.c.do(ctx, http.MethodPost, "/wp-json/wp/v2/posts/"+id, nil, body)
	case "delete_post":
		id, err := idArg(args)
		if err != nil {
			return "", err
		}
		return p.c.do(ctx, http.MethodDelete, "/wp-json/wp/v2/posts/"+id, queryFromArgs(args, "force"), nil)
	default:
		return "", ErrUnknownMethod(method)
	}
}

func (p *wordpressPlugin) HealthCheck(ctx context.Context) (string, error) {
	return p.c.do(ctx, http.MethodGet, "/wp-json/wp/v2/types", url.Values{"per_page": []string{"1"}}, nil)
}
