// Package wordpress provides the WordPress integration driver. It talks to the REST API of a
// self-hosted or hosted site using an application password.
package wordpress

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/lydiehq/lydie-sub003/apps/integrations/drivers"
	"github.com/lydiehq/lydie-sub003/lib/apiclient"
)

const (
	// TypeID is the unique identifier for this integration.
	TypeID = "wordpress"
	// DisplayName is the human-readable name.
	DisplayName = "WordPress"

	ResourcePages = "pages"
	ResourcePosts = "posts"

	apiPath = "/wp-json/wp/v2"
)

// Config is the WordPress connection config.
type Config struct {
	SiteURL             string `json:"siteUrl" validate:"required,url"`
	Username            string `json:"username" validate:"required"`
	ApplicationPassword string `json:"applicationPassword" validate:"required"`
	ResourceType        string `json:"resourceType,omitempty" validate:"omitempty,oneof=pages posts"`
}

// Provider implements drivers.ConnectionConfig.
func (*Config) Provider() string {
	return TypeID
}

func (c *Config) resourceType() string {
	if c.ResourceType == "" {
		return ResourcePosts
	}
	return c.ResourceType
}

// Driver implements drivers.Integration for WordPress.
type Driver struct {
	httpClient *http.Client
}

// Option configures a Driver.
type Option func(*Driver)

// WithHTTPClient sets the HTTP client used for API calls.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(d *Driver) {
		if httpClient != nil {
			d.httpClient = httpClient
		}
	}
}

// New creates a new WordPress driver.
func New(opts ...Option) *Driver {
	d := &Driver{httpClient: &http.Client{Timeout: apiclient.DefaultTimeout}}
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

// DecodeConfig parses a stored WordPress config.
func (d *Driver) DecodeConfig(raw []byte) (drivers.ConnectionConfig, error) {
	cfg := &Config{}
	if err := drivers.DecodeJSON(raw, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func config(conn *drivers.Connection) (*Config, error) {
	cfg, err := drivers.ConfigAs[*Config](conn)
	if err != nil {
		return nil, err
	}
	if err := drivers.ValidateStruct(cfg); err != nil {
		return nil, err
	}
	u, err := url.Parse(cfg.SiteURL)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return nil, fmt.Errorf("%w: siteUrl must be an http(s) URL", drivers.ErrInvalidConfig)
	}
	return cfg, nil
}

func (d *Driver) client(cfg *Config) *apiclient.Client {
	return apiclient.New(
		strings.TrimRight(cfg.SiteURL, "/")+apiPath,
		apiclient.WithHTTPClient(d.httpClient),
		apiclient.WithBasicAuth(cfg.Username, cfg.ApplicationPassword),
	)
}

// ValidateConnection reads the authenticated user. A 401 is reported as
// drivers.ErrInvalidCredentials.
func (d *Driver) ValidateConnection(ctx context.Context, conn *drivers.Connection) error {
	cfg, err := config(conn)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	var me struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
	}
	if _, err := d.client(cfg).Get(ctx, "/users/me", nil, &me); err != nil {
		switch {
		case apiclient.StatusCode(err) == http.StatusUnauthorized:
			return fmt.Errorf("%w: WordPress rejected the application password for %s", drivers.ErrInvalidCredentials, cfg.Username)
		case apiclient.IsNotFound(err):
			return fmt.Errorf("%w: no WordPress REST API at %s", drivers.ErrInvalidConfig, cfg.SiteURL)
		}
		return fmt.Errorf("failed to reach WordPress site %s: %w", cfg.SiteURL, err)
	}
	return nil
}

// OnConnect suggests one link for pages and one for posts.
func (d *Driver) OnConnect() drivers.ConnectResult {
	return drivers.ConnectResult{Links: []drivers.DefaultLink{
		{Name: "Pages", Config: map[string]any{"resourceType": ResourcePages}},
		{Name: "Posts", Config: map[string]any{"resourceType": ResourcePosts}},
	}}
}

// FetchResources returns the pages and posts collections with their item counts.
func (d *Driver) FetchResources(ctx context.Context, conn *drivers.Connection) ([]drivers.ExternalResource, *drivers.CredentialUpdate, error) {
	cfg, err := config(conn)
	if err != nil {
		return nil, nil, err
	}
	client := d.client(cfg)
	host := cfg.SiteURL
	if u, err := url.Parse(cfg.SiteURL); err == nil {
		host = u.Host
	}

	resources := make([]drivers.ExternalResource, 0, 2)
	for _, coll := range []string{ResourcePages, ResourcePosts} {
		resp, err := client.Get(ctx, "/"+coll, url.Values{"per_page": {"1"}, "status": {"any"}}, nil)
		if err != nil {
			if apiclient.StatusCode(err) == http.StatusUnauthorized {
				return nil, nil, fmt.Errorf("%w: WordPress rejected the application password for %s", drivers.ErrInvalidCredentials, cfg.Username)
			}
			return nil, nil, fmt.Errorf("failed to list %s of %s: %w", coll, host, err)
		}
		total, _ := strconv.Atoi(resp.Header.Get("X-WP-Total"))
		name := strings.ToUpper(coll[:1]) + coll[1:]
		resources = append(resources, drivers.ExternalResource{
			ID:       coll,
			Name:     name,
			FullName: host + " / " + name,
			Metadata: map[string]any{"resourceType": coll, "total": total},
		})
	}
	return resources, nil, nil
}

var (
	_ drivers.Integration          = (*Driver)(nil)
	_ drivers.Deleter              = (*Driver)(nil)
	_ drivers.ResourceDiscoverable = (*Driver)(nil)
	_ drivers.ConnectHook          = (*Driver)(nil)
)
