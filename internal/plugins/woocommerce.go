package plugins

import (
	"context"
	"net/http"
	"net/url"
)

// WooCommerceFamily covers the WooCommerce store API. Stores usually live
// on a WordPress install, so the tool generator falls back to WordPress
// tenants when no dedicated WooCommerce sites are configured.
func WooCommerceFamily() Family {
	return Family{
		Type: "woocommerce",
		Specs: []Spec{
			{
				Name:        "list_products",
				Method:      "list_products",
				Description: "List store products with optional search",
				InputSchema: objectSchema(nil, map[string]any{
					"search":   propString("Product search term"),
					"page":     propInt("Result page, 1-based"),
					"per_page": propInt("Results per page, max 100"),
				}),
			},
			{
				Name:        "get_product",
				Method:      "get_product",
				Description: "Fetch a single product by id",
				InputSchema: objectSchema([]string{"id"}, map[string]any{
					"id": propInt("Product id"),
				}),
			},
			{
				Name:        "create_product",
				Method:      "create_product",
				Description: "Create a product",
				InputSchema: objectSchema([]string{"name"}, map[string]any{
					"name":          propString("Product name"),
					"regular_price": propString("Price as a decimal string"),
					"description":   propString("Product description"),
				}),
				Scope: "write",
			},
			{
				Name:        "list_orders",
				Method:      "list_orders",
				Description: "List orders with optional status filter",
				InputSchema: objectSchema(nil, map[string]any{
					"status":   propString("Order status (pending, completed, ...)"),
					"page":     propInt("Result page, 1-based"),
					"per_page": propInt("Results per page, max 100"),
				}),
			},
		},
		New: newWooCommerce,
	}
}

type woocommercePlugin struct {
	c *restClient
}

func newWooCommerce(config map[string]string) (Plugin, error) {
	// WooCommerce authenticates with consumer key/secret as basic auth.
	if ck, cs := config["consumer_key"], config["consumer_secret"]; ck != "" && cs != "" {
		config = cloneConfig(config)
		config["username"] = ck
		config["password"] = cs
	}
	c, err := newRESTClient(config, "url")
	if err != nil {
		return nil, err
	}
	return &woocommercePlugin{c: c}, nil
}

func cloneConfig(config map[string]string) map[string]string {
	out := make(map[string]string, len(config))
	for k, v := range config {
		out[k] = v
	}
	return out
}

func (p *woocommercePlugin) Call(ctx context.Context, method string, args map[string]any) (string, error) {
	switch method {
	case "list_products":
		return p.c.do(ctx, http.MethodGet, "/wp-json/wc/v3/products", queryFromArgs(args, "search", "page", "per_page"), nil)
	case "get_product":
		id, err := idArg(args)
		if err != nil {
			return "", err
		}
		return p.c.do(ctx, http.MethodGet, "/wp-json/wc/v3/products/"+id, nil, nil)
	case "create_product":
		return p.c.do(ctx, http.MethodPost, "/wp-json/wc/v3/products", nil, args)
	case "list_orders":
		return p.c.do(ctx, http.MethodGet, "/wp-json/wc/v3/orders", queryFromArgs(args, "status", "page", "per_page"), nil)
	default:
		return "", ErrUnknownMethod(method)
	}
}

func (p *woocommercePlugin) HealthCheck(ctx context.Context) (string, error) {
	return p.c.do(ctx, http.MethodGet, "/wp-json/wc/v3/system_status", url.Values{}, nil)
}
