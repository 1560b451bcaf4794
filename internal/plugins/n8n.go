package plugins

import (
	"context"
	"net/http"
	"net/url"
)

// N8NFamily covers workflow management on an n8n automation instance.
func N8NFamily() Family {
	return Family{
		Type: "n8n",
		Specs: []Spec{
			{
				Name:        "list_workflows",
				Method:      "list_workflows",
				Description: "List workflows",
				InputSchema: objectSchema(nil, map[string]any{
					"active": map[string]any{"type": "boolean", "description": "Filter by activation state"},
					"limit":  propInt("Maximum number of workflows to return"),
				}),
			},
			{
				Name:        "get_workflow",
				Method:      "get_workflow",
				Description: "Fetch one workflow by id",
				InputSchema: objectSchema([]string{"id"}, map[string]any{
					"id": propString("Workflow id"),
				}),
			},
			{
				Name:        "activate_workflow",
				Method:      "activate_workflow",
				Description: "Activate a workflow",
				InputSchema: objectSchema([]string{"id"}, map[string]any{
					"id": propString("Workflow id"),
				}),
				Scope: "write",
			},
			{
				Name:        "list_executions",
				Method:      "list_executions",
				Description: "List recent workflow executions",
				InputSchema: objectSchema(nil, map[string]any{
					"status": propString("success, error, or waiting"),
					"limit":  propInt("Maximum number of executions to return"),
				}),
			},
		},
		New: newN8N,
	}
}

type n8nPlugin struct {
	c *restClient
}

func newN8N(config map[string]string) (Plugin, error) {
	c, err := newRESTClient(config, "url")
	if err != nil {
		return nil, err
	}
	// n8n uses a dedicated API key header.
	if key := config["api_key"]; key != "" {
		c.authHeader = ""
		c.headers["X-N8N-API-KEY"] = key
	}
	return &n8nPlugin{c: c}, nil
}

func (p *n8nPlugin) Call(ctx context.Context, method string, args map[string]any) (string, error) {
	switch method {
	case "list_workflows":
		return p.c.do(ctx, http.MethodGet, "/api/v1/workflows", queryFromArgs(args, "active", "limit"), nil)
	case "get_workflow":
		id, err := stringArg(args, "id")
		if err != nil {
			return "", err
		}
		return p.c.do(ctx, http.MethodGet, "/api/v1/workflows/"+url.PathEscape(id), nil, nil)
	case "activate_workflow":
		id, err := stringArg(args, "id")
		if err != nil {
			return "", err
		}
		return p.c.do(ctx, http.MethodPost, "/api/v1/workflows/"+url.PathEscape(id)+"/activate", nil, nil)
	case "list_executions":
		return p.c.do(ctx, http.MethodGet, "/api/v1/executions", queryFromArgs(args, "status", "limit"), nil)
	default:
		return "", ErrUnknownMethod(method)
	}
}

func (p *n8nPlugin) HealthCheck(ctx context.Context) (string, error) {
	return p.c.do(ctx, http.MethodGet, "/healthz", url.Values{}, nil)
}
