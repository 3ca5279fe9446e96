// Package integrations syncs documents with external platforms through the provider drivers.
package integrations

import (
	"fmt"
	"net/http"

	"github.com/lydiehq/lydie-sub003/apps/integrations/credentials"
	"github.com/lydiehq/lydie-sub003/apps/integrations/drivers"
	"github.com/lydiehq/lydie-sub003/apps/integrations/drivers/github"
	"github.com/lydiehq/lydie-sub003/apps/integrations/drivers/shopify"
	"github.com/lydiehq/lydie-sub003/apps/integrations/drivers/wordpress"
)

// RegisterDrivers adds every provider driver, configured from s, to registry.
func RegisterDrivers(registry *drivers.Registry, s Settings) error {
	httpClient := &http.Client{Timeout: s.HTTPTimeout}

	manager, err := credentials.NewManager(s.GitHub,
		credentials.WithBaseURL(s.GitHubAPIURL),
		credentials.WithHTTPClient(httpClient),
	)
	if err != nil {
		return fmt.Errorf("failed to configure GitHub app credentials: %w", err)
	}

	registry.Register(github.New(manager, github.WithConcurrency(s.PullConcurrency)))
	registry.Register(shopify.New(
		shopify.WithCredentials(s.ShopifyClientID, s.ShopifyClientSecret),
		shopify.WithScopes(s.ShopifyScopes),
		shopify.WithAPIVersion(s.ShopifyAPIVersion),
		shopify.WithHTTPClient(httpClient),
		shopify.WithConcurrency(s.PullConcurrency),
	))
	registry.Register(wordpress.New(wordpress.WithHTTPClient(httpClient)))
	return nil
}

// GetMaskedConfig decodes a stored config and masks its secrets for display.
func GetMaskedConfig(registry *drivers.Registry, provider string, raw []byte) (map[string]any, error) {
	driver, err := registry.MustGet(provider)
	if err != nil {
		return nil, err
	}
	cfg, err := driver.DecodeConfig(raw)
	if err != nil {
		return nil, err
	}
	return drivers.MaskedConfig(cfg), nil
}
