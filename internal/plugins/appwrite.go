package plugins

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

// AppwriteFamily covers database document operations on an Appwrite project.
func AppwriteFamily() Family {
	return Family{
		Type: "appwrite",
		Specs: []Spec{
			{
				Name:        "list_documents",
				Method:      "list_documents",
				Description: "List documents in a collection",
				InputSchema: objectSchema([]string{"database_id", "collection_id"}, map[string]any{
					"database_id":   propString("Database id"),
					"collection_id": propString("Collection id"),
				}),
			},
			{
				Name:        "get_document",
				Method:      "get_document",
				Description: "Fetch one document",
				InputSchema: objectSchema([]string{"database_id", "collection_id", "document_id"}, map[string]any{
					"database_id":   propString("Database id"),
					"collection_id": propString("Collection id"),
					"document_id":   propString("Document id"),
				}),
			},
			{
				Name:        "create_document",
				Method:      "create_document",
				Description: "Create a document",
				InputSchema: objectSchema([]string{"database_id", "collection_id", "data"}, map[string]any{
					"database_id":   propString("Database id"),
					"collection_id": propString("Collection id"),
					"data":          map[string]any{"type": "object", "description": "Document payload"},
				}),
				Scope: "write",
			},
		},
		New: newAppwrite,
	}
}

type appwritePlugin struct {
	c *restClient
}

func newAppwrite(config map[string]string) (Plugin, error) {
	c, err := newRESTClient(config, "url")
	if err != nil {
		return nil, err
	}
	project := config["project_id"]
	if project == "" {
		return nil, &ConfigError{Field: "project_id"}
	}
	key := config["api_key"]
	if key == "" {
		return nil, &ConfigError{Field: "api_key"}
	}
	c.authHeader = ""
	c.headers["X-Appwrite-Project"] = project
	c.headers["X-Appwrite-Key"] = key
	return &appwritePlugin{c: c}, nil
}

func (p *appwritePlugin) collectionPath(args map[string]any) (string, error) {
	db, err := stringArg(args, "database_id")
	if err != nil {
		return "", err
	}
	col, err := stringArg(args, "collection_id")
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("/v1/databases/%s/collections/%s/documents", url.PathEscape(db), url.PathEscape(col)), nil
}

func (p *appwritePlugin) Call(ctx context.Context, method string, args map[string]any) (string, error) {
	switch method {
	case "list_documents":
		path, err := p.collectionPath(args)
		if err != nil {
			return "", err
		}
		return p.c.do(ctx, http.MethodGet, path, nil, nil)
	case "get_document":
		path, err := p.collectionPath(args)
		if err != nil {
			return "", err
		}
		doc, err := stringArg(args, "document_id")
		if err != nil {
			return "", err
		}
		return p.c.do(ctx, http.MethodGet, path+"/"+url.PathEscape(doc), nil, nil)
	case "create_document":
		path, err := p.collectionPath(args)
		if err != nil {
			return "", err
		}
		data, ok := args["data"].(map[string]any)
		if !ok {
			return "", stringArgErr("data")
		}
		return p.c.do(ctx, http.MethodPost, path, nil, map[string]any{
			"documentId": "unique()",
			"data":       data,
		})
	default:
		return "", ErrUnknownMethod(method)
	}
}

func (p *appwritePlugin) HealthCheck(ctx context.Context) (string, error) {
	return p.c.do(ctx, http.MethodGet, "/v1/health", url.Values{}, nil)
}
