package plugins

import (
	"context"
	"net/http"
	"net/url"
)

// SupabaseFamily covers table reads and writes through PostgREST.
func SupabaseFamily() Family {
	return Family{
		Type: "supabase",
		Specs: []Spec{
			{
				Name:        "select_rows",
				Method:      "select_rows",
				Description: "Select rows from a table",
				InputSchema: objectSchema([]string{"table"}, map[string]any{
					"table":  propString("Table name"),
					"select": propString("Comma-separated column list, defaults to *"),
					"limit":  propInt("Maximum rows to return"),
				}),
			},
			{
				Name:        "insert_rows",
				Method:      "insert_rows",
				Description: "Insert rows into a table",
				InputSchema: objectSchema([]string{"table", "rows"}, map[string]any{
					"table": propString("Table name"),
					"rows":  map[string]any{"type": "array", "description": "Row objects to insert"},
				}),
				Scope: "write",
			},
			{
				Name:        "rpc",
				Method:      "rpc",
				Description: "Call a Postgres function",
				InputSchema: objectSchema([]string{"function"}, map[string]any{
					"function": propString("Function name"),
					"params":   map[string]any{"type": "object", "description": "Function parameters"},
				}),
				Scope: "write",
			},
		},
		New: newSupabase,
	}
}

type supabasePlugin struct {
	c *restClient
}

func newSupabase(config map[string]string) (Plugin, error) {
	c, err := newRESTClient(config, "url")
	if err != nil {
		return nil, err
	}
	key := config["service_role_key"]
	if key == "" {
		key = config["api_key"]
	}
	if key == "" {
		return nil, &ConfigError{Field: "service_role_key"}
	}
	c.authHeader = "Bearer " + key
	c.headers["apikey"] = key
	return &supabasePlugin{c: c}, nil
}

func (p *supabasePlugin) Call(ctx context.Context, method string, args map[string]any) (string, error) {
	switch method {
	case "select_rows":
		table, err := stringArg(args, "table")
		if err != nil {
			return "", err
		}
		q := queryFromArgs(args, "select", "limit")
		if q.Get("select") == "" {
			q.Set("select", "*")
		}
		return p.c.do(ctx, http.MethodGet, "/rest/v1/"+url.PathEscape(table), q, nil)
	case "insert_rows":
		table, err := stringArg(args, "table")
		if err != nil {
			return "", err
		}
		rows, ok := args["rows"].([]any)
		if !ok || len(rows) == 0 {
			return "", stringArgErr("rows")
		}
		// PostgREST takes the bare row array as the request body.
		return p.c.do(ctx, http.MethodPost, "/rest/v1/"+url.PathEscape(table), nil, rows)
	case "rpc":
		fn, err := stringArg(args, "function")
		if err != nil {
			return "", err
		}
		params, _ := args["params"].(map[string]any)
		if params == nil {
			params = map[string]any{}
		}
		return p.c.do(ctx, http.MethodPost, "/rest/v1/rpc/"+url.PathEscape(fn), nil, params)
	default:
		return "", ErrUnknownMethod(method)
	}
}

func (p *supabasePlugin) HealthCheck(ctx context.Context) (string, error) {
	return p.c.do(ctx, http.MethodGet, "/rest/v1/", url.Values{}, nil)
}
