// Package shopify provides the Shopify integration driver for online store pages and blog articles.
package shopify

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/lydiehq/lydie-sub003/apps/integrations/drivers"
	"github.com/lydiehq/lydie-sub003/lib/apiclient"
)

const (
	// TypeID is the unique identifier for this integration.
	TypeID = "shopify"
	// DisplayName is the human-readable name.
	DisplayName = "Shopify"

	DefaultAPIVersion = "2024-01"

	ResourcePage    = "page"
	ResourceArticle = "article"

	pageLimit = "250"
)

// DefaultScopes are requested when none are configured.
var DefaultScopes = []string{"read_content", "write_content"}

// Config is the Shopify connection config.
type Config struct {
	Shop         string `json:"shop" validate:"required"`
	AccessToken  string `json:"accessToken" validate:"required"`
	Scope        string `json:"scope,omitempty"`
	ResourceType string `json:"resourceType,omitempty" validate:"omitempty,oneof=page article"`
	// ResourceID is the blog id when ResourceType is "article".
	ResourceID string `json:"resourceId,omitempty"`
}

// Provider implements drivers.ConnectionConfig.
func (*Config) Provider() string {
	return TypeID
}

func (c *Config) resourceType() string {
	if c.ResourceType == "" {
		return ResourcePage
	}
	return c.ResourceType
}

// Driver implements drivers.Integration for Shopify.
type Driver struct {
	clientID     string
	clientSecret string
	scopes       []string
	apiVersion   string
	httpClient   *http.Client
	shopURL      func(shop string) string
	concurrency  int
}

// Option configures a Driver.
type Option func(*Driver)

// WithCredentials sets the app's OAuth client credentials.
func WithCredentials(clientID, clientSecret string) Option {
	return func(d *Driver) {
		d.clientID = clientID
		d.clientSecret = clientSecret
	}
}

// WithScopes overrides the requested access scopes.
func WithScopes(scopes []string) Option {
	return func(d *Driver) {
		if len(scopes) > 0 {
			d.scopes = scopes
		}
	}
}

// WithAPIVersion pins the Admin API version.
func WithAPIVersion(version string) Option {
	return func(d *Driver) {
		if version != "" {
			d.apiVersion = version
		}
	}
}

// WithHTTPClient sets the HTTP client used for API calls and the token exchange.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(d *Driver) {
		if httpClient != nil {
			d.httpClient = httpClient
		}
	}
}

// WithShopURL maps a shop domain to its base URL. Tests point it at a local server.
func WithShopURL(fn func(shop string) string) Option {
	return func(d *Driver) {
		if fn != nil {
			d.shopURL = fn
		}
	}
}

// WithConcurrency bounds how many blogs are read in parallel during a pull.
func WithConcurrency(n int) Option {
	return func(d *Driver) {
		if n > 0 {
			d.concurrency = n
		}
	}
}

// New creates a new Shopify driver.
func New(opts ...Option) *Driver {
	d := &Driver{
		scopes:      DefaultScopes,
		apiVersion:  DefaultAPIVersion,
		httpClient:  &http.Client{Timeout: apiclient.DefaultTimeout},
		shopURL:     func(shop string) string { return "https://" + shop },
		concurrency: 4,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Type returns the unique identifier for this integration type.
func (d *Driver) Type() string {
	return TypeID
}

// Name returns the display name for this integration.
func (d *Driver) Name() string {
	return DisplayName
}

// DecodeConfig parses a stored Shopify config.
func (d *Driver) DecodeConfig(raw []byte) (drivers.ConnectionConfig, error) {
	cfg := &Config{}
	if err := drivers.DecodeJSON(raw, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// config extracts and checks the Shopify config of conn.
func config(conn *drivers.Connection) (*Config, error) {
	cfg, err := drivers.ConfigAs[*Config](conn)
	if err != nil {
		return nil, err
	}
	if err := drivers.ValidateStruct(cfg); err != nil {
		return nil, err
	}
	if !ValidShopDomain(cfg.Shop) {
		return nil, fmt.Errorf("%w: %q is not a myshopify.com domain", drivers.ErrInvalidConfig, cfg.Shop)
	}
	return cfg, nil
}

func (d *Driver) client(cfg *Config) *apiclient.Client {
	return apiclient.New(
		d.shopURL(cfg.Shop)+"/admin/api/"+d.apiVersion,
		apiclient.WithHTTPClient(d.httpClient),
		apiclient.WithHeader("X-Shopify-Access-Token", cfg.AccessToken),
	)
}

// ValidateConnection calls the shop endpoint. A 401 is reported as drivers.ErrInvalidCredentials.
func (d *Driver) ValidateConnection(ctx context.Context, conn *drivers.Connection) error {
	cfg, err := config(conn)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	var resp struct {
		Shop struct {
			Name   string `json:"name"`
			Domain string `json:"domain"`
		} `json:"shop"`
	}
	if _, err := d.client(cfg).Get(ctx, "/shop.json", nil, &resp); err != nil {
		if apiclient.StatusCode(err) == http.StatusUnauthorized {
			return fmt.Errorf("%w: Shopify rejected the access token for %s", drivers.ErrInvalidCredentials, cfg.Shop)
		}
		return fmt.Errorf("failed to reach Shopify store %s: %w", cfg.Shop, err)
	}
	return nil
}

var (
	_ drivers.Integration          = (*Driver)(nil)
	_ drivers.Deleter              = (*Driver)(nil)
	_ drivers.ResourceDiscoverable = (*Driver)(nil)
	_ drivers.OAuthCapable         = (*Driver)(nil)
)
