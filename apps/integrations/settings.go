package integrations

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/getevo/evo/v2/lib/settings"

	"github.com/lydiehq/lydie-sub003/apps/integrations/credentials"
	"github.com/lydiehq/lydie-sub003/apps/integrations/drivers/shopify"
)

// Settings is the integrations configuration read from config.yml.
type Settings struct {
	GitHub       credentials.AppConfig
	GitHubAPIURL string

	ShopifyClientID     string
	ShopifyClientSecret string
	ShopifyScopes       []string
	ShopifyAPIVersion   string

	HTTPTimeout      time.Duration
	PullConcurrency  int
	LockTTL          time.Duration
	ResourceCacheTTL time.Duration
	EncryptionKey    string
}

// LoadSettings reads the GITHUB, SHOPIFY and INTEGRATIONS sections.
func LoadSettings() (Settings, error) {
	s := Settings{
		GitHub: credentials.AppConfig{
			AppID:    settings.Get("GITHUB.APP_ID", "").String(),
			ClientID: settings.Get("GITHUB.CLIENT_ID", "").String(),
			Slug:     settings.Get("GITHUB.APP_SLUG", "").String(),
		},
		GitHubAPIURL:        settings.Get("GITHUB.API_URL", credentials.DefaultBaseURL).String(),
		ShopifyClientID:     settings.Get("SHOPIFY.CLIENT_ID", "").String(),
		ShopifyClientSecret: settings.Get("SHOPIFY.CLIENT_SECRET", "").String(),
		ShopifyScopes:       splitList(settings.Get("SHOPIFY.SCOPES", strings.Join(shopify.DefaultScopes, ",")).String()),
		ShopifyAPIVersion:   settings.Get("SHOPIFY.API_VERSION", shopify.DefaultAPIVersion).String(),
		PullConcurrency:     int(settings.Get("INTEGRATIONS.PULL_CONCURRENCY", 4).Int64()),
		EncryptionKey:       settings.Get("INTEGRATIONS.ENCRYPTION_KEY", "").String(),
	}

	var err error
	if s.HTTPTimeout, err = settings.Get("INTEGRATIONS.HTTP_TIMEOUT", "30s").Duration(); err != nil {
		return s, fmt.Errorf("invalid INTEGRATIONS.HTTP_TIMEOUT: %w", err)
	}
	if s.LockTTL, err = settings.Get("INTEGRATIONS.LOCK_TTL", "10m").Duration(); err != nil {
		return s, fmt.Errorf("invalid INTEGRATIONS.LOCK_TTL: %w", err)
	}
	if s.ResourceCacheTTL, err = settings.Get("INTEGRATIONS.RESOURCE_CACHE_TTL", "5m").Duration(); err != nil {
		return s, fmt.Errorf("invalid INTEGRATIONS.RESOURCE_CACHE_TTL: %w", err)
	}

	key, err := privateKey(
		settings.Get("GITHUB.PRIVATE_KEY", "").String(),
		settings.Get("GITHUB.PRIVATE_KEY_PATH", "").String(),
	)
	if err != nil {
		return s, err
	}
	s.GitHub.PrivateKeyPEM = key
	return s, nil
}

// privateKey prefers the inline key. Inline keys may carry literal "\n" sequences.
func privateKey(inline, path string) ([]byte, error) {
	if inline != "" {
		return []byte(strings.ReplaceAll(inline, `\n`, "\n")), nil
	}
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read GITHUB.PRIVATE_KEY_PATH: %w", err)
	}
	return data, nil
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
