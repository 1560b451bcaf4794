package plugins

import (
	"context"
	"net/http"
	"net/url"
)

// OpenPanelFamily covers hosting account management on an OpenPanel server.
func OpenPanelFamily() Family {
	return Family{
		Type: "openpanel",
		Specs: []Spec{
			{
				Name:        "list_accounts",
				Method:      "list_accounts",
				Description: "List hosting accounts",
				InputSchema: objectSchema(nil, map[string]any{}),
			},
			{
				Name:        "get_account",
				Method:      "get_account",
				Description: "Fetch one hosting account by username",
				InputSchema: objectSchema([]string{"username"}, map[string]any{
					"username": propString("Account username"),
				}),
			},
			{
				Name:        "suspend_account",
				Method:      "suspend_account",
				Description: "Suspend a hosting account",
				InputSchema: objectSchema([]string{"username"}, map[string]any{
					"username": propString("Account username"),
				}),
				Scope: "admin",
			},
			{
				Name:        "list_domains",
				Method:      "list_domains",
				Description: "List domains on an account",
				InputSchema: objectSchema([]string{"username"}, map[string]any{
					"username": propString("Account username"),
				}),
			},
		},
		New: newOpenPanel,
	}
}

type openpanelPlugin struct {
	c *restClient
}

func newOpenPanel(config map[string]string) (Plugin, error) {
	c, err := newRESTClient(config, "url")
	if err != nil {
		return nil, err
	}
	if c.authHeader == "" {
		return nil, &ConfigError{Field: "api_key"}
	}
	return &openpanelPlugin{c: c}, nil
}

func (p *openpanelPlugin) Call(ctx context.Context, method string, args map[string]any) (string, error) {
	switch method {
	case "list_accounts":
		return p.c.do(ctx, http.MethodGet, "/api/users", nil, nil)
	case "get_account":
		username, err := stringArg(args, "username")
		if err != nil {
			return "", err
		}
		return p.c.do(ctx, http.MethodGet, "/api/users/"+url.PathEscape(username), nil, nil)
	case "suspend_account":
		username, err := stringArg(args, "username")
		if err != nil {
			return "", err
		}
		return p.c.do(ctx, http.MethodPost, "/api/users/"+url.PathEscape(username)+"/suspend", nil, nil)
	case "list_domains":
		username, err := stringArg(args, "username")
		if err != nil {
			return "", err
		}
		return p.c.do(ctx, http.MethodGet, "/api/users/"+url.PathEscape(username)+"/domains", nil, nil)
	default:
		return "", ErrUnknownMethod(method)
	}
}

func (p *openpanelPlugin) HealthCheck(ctx context.Context) (string, error) {
	return p.c.do(ctx, http.MethodGet, "/api/system/info", url.Values{}, nil)
}
