package plugins

import (
	"context"
	"net/http"
	"net/url"
)

// DirectusFamily covers collection item operations on a Directus instance.
func DirectusFamily() Family {
	return Family{
		Type: "directus",
		Specs: []Spec{
			{
				Name:        "list_items",
				Method:      "list_items",
				Description: "List items in a collection",
				InputSchema: objectSchema([]string{"collection"}, map[string]any{
					"collection": propString("Collection name"),
					"limit":      propInt("Maximum items to return"),
					"filter":     propString("Directus filter expression as JSON"),
				}),
			},
			{
				Name:        "get_item",
				Method:      "get_item",
				Description: "Fetch one item by id",
				InputSchema: objectSchema([]string{"collection", "id"}, map[string]any{
					"collection": propString("Collection name"),
					"id":         propString("Item id"),
				}),
			},
			{
				Name:        "create_item",
				Method:      "create_item",
				Description: "Create a collection item",
				InputSchema: objectSchema([]string{"collection", "data"}, map[string]any{
					"collection": propString("Collection name"),
					"data":       map[string]any{"type": "object", "description": "Item payload"},
				}),
				Scope: "write",
			},
			{
				Name:        "delete_item",
				Method:      "delete_item",
				Description: "Delete a collection item",
				InputSchema: objectSchema([]string{"collection", "id"}, map[string]any{
					"collection": propString("Collection name"),
					"id":         propString("Item id"),
				}),
				Scope: "admin",
			},
		},
		New: newDirectus,
	}
}

type directusPlugin struct {
	c *restClient
}

func newDirectus(config map[string]string) (Plugin, error) {
	c, err := newRESTClient(config, "url")
	if err != nil {
		return nil, err
	}
	if c.authHeader == "" {
		return nil, &ConfigError{Field: "token"}
	}
	return &directusPlugin{c: c}, nil
}

func (p *directusPlugin) Call(ctx context.Context, method string, args map[string]any) (string, error) {
	switch method {
	case "list_items":
		collection, err := stringArg(args, "collection")
		if err != nil {
			return "", err
		}
		return p.c.do(ctx, http.MethodGet, "/items/"+url.PathEscape(collection), queryFromArgs(args, "limit", "filter"), nil)
	case "get_item":
		collection, err := stringArg(args, "collection")
		if err != nil {
			return "", err
		}
		id, err := stringArg(args, "id")
		if err != nil {
			return "", err
		}
		return p.c.do(ctx, http.MethodGet, "/items/"+url.PathEscape(collection)+"/"+url.PathEscape(id), nil, nil)
	case "create_item":
		collection, err := stringArg(args, "collection")
		if err != nil {
			return "", err
		}
		data, ok := args["data"].(map[string]any)
		if !ok {
			return "", stringArgErr("data")
		}
		return p.c.do(ctx, http.MethodPost, "/items/"+url.PathEscape(collection), nil, data)
	case "delete_item":
		collection, err := stringArg(args, "collection")
		if err != nil {
			return "", err
		}
		id, err := stringArg(args, "id")
		if err != nil {
			return "", err
		}
		return p.c.do(ctx, http.MethodDelete, "/items/"+url.PathEscape(collection)+"/"+url.PathEscape(id), nil, nil)
	default:
		return "", ErrUnknownMethod(method)
	}
}

func (p *directusPlugin) HealthCheck(ctx context.Context) (string, error) {
	return p.c.do(ctx, http.MethodGet, "/server/health", url.Values{}, nil)
}
