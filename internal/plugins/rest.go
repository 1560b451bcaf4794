package plugins

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultRequestTimeout = 30 * time.Second

// restClient is the shared HTTP plumbing for the builtin adapters: base
// URL, one Authorization header, JSON bodies in and out.
type restClient struct {
	baseURL    string
	authHeader string
	headers    map[string]string
	client     *http.Client
}

// newRESTClient builds a client from a tenant config map. The URL key is
// adapter-specific; authentication is derived from whichever credential
// keys are present.
func newRESTClient(config map[string]string, urlKey string) (*restClient, error) {
	raw := config[urlKey]
	if raw == "" {
		return nil, &ConfigError{Field: urlKey}
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, &ConfigError{Field: urlKey}
	}

	c := &restClient{
		baseURL: strings.TrimRight(raw, "/"),
		headers: make(map[string]string),
		client:  &http.Client{Timeout: defaultRequestTimeout},
	}

	username := config["username"]
	password := config["app_password"]
	if password == "" {
		password = config["password"]
	}
	switch {
	case username != "" && password != "":
		cred := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
		c.authHeader = "Basic " + cred
	case config["api_key"] != "":
		c.authHeader = "Bearer " + config["api_key"]
	case config["token"] != "":
		c.authHeader = "Bearer " + config["token"]
	}
	return c, nil
}

// do issues one JSON request and returns the response body as a string.
// 401 and 403 map to AuthError so handlers can sanitize them.
func (c *restClient) do(ctx context.Context, method, path string, query url.Values, body any) (string, error) {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return "", fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.authHeader != "" {
		req.Header.Set("Authorization", c.authHeader)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("upstream request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read upstream response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", &AuthError{Detail: fmt.Sprintf("upstream returned %d", resp.StatusCode)}
	case resp.StatusCode >= 400:
		return "", fmt.Errorf("upstream returned %d: %s", resp.StatusCode, truncate(string(data), 300))
	}
	return string(data), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// queryFromArgs lifts scalar args into URL query parameters.
func queryFromArgs(args map[string]any, keys ...string) url.Values {
	q := url.Values{}
	for _, k := range keys {
		if v, ok := args[k]; ok && v != nil {
			q.Set(k, fmt.Sprintf("%v", v))
		}
	}
	return q
}

func stringArgErr(key string) error {
	return fmt.Errorf("missing required argument %q", key)
}

// stringArg fetches a required string argument.
func stringArg(args map[string]any, key string) (string, error) {
	v, ok := args[key]
	if !ok {
		return "", fmt.Errorf("missing required argument %q", key)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("argument %q must be a non-empty string", key)
	}
	return s, nil
}

// idArg fetches the "id" argument, accepting JSON numbers and strings.
func idArg(args map[string]any) (string, error) {
	v, ok := args["id"]
	if !ok || v == nil {
		return "", fmt.Errorf("missing required argument %q", "id")
	}
	switch t := v.(type) {
	case string:
		if t == "" {
			return "", fmt.Errorf("argument %q must not be empty", "id")
		}
		return t, nil
	case float64:
		return fmt.Sprintf("%.0f", t), nil
	case int:
		return fmt.Sprintf("%d", t), nil
	default:
		return "", fmt.Errorf("argument %q has unsupported type", "id")
	}
}

// cloneWithout copies args minus the listed keys.
func cloneWithout(args map[string]any, drop ...string) map[string]any {
	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = v
	}
	for _, k := range drop {
		delete(out, k)
	}
	return out
}

// objectSchema is a small helper for building input schemas.
func objectSchema(required []string, props map[string]any) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func propString(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

func propInt(desc string) map[string]any {
	return map[string]any{"type": "integer", "description": desc}
}
