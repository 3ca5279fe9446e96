package shopify

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/oauth2"

	"github.com/lydiehq/lydie-sub003/apps/integrations/drivers"
)

var (
	// ErrNotConfigured is returned when the app's client credentials are missing.
	ErrNotConfigured = errors.New("shopify app credentials are not configured")
	// ErrInvalidShop is returned for shop parameters that are not a myshopify.com host.
	ErrInvalidShop = errors.New("invalid shop domain")
	// ErrInvalidSignature is returned when the callback hmac does not match.
	ErrInvalidSignature = errors.New("invalid callback signature")
)

var shopDomainPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9\-]*\.myshopify\.com$`)

// CleanShopDomain normalizes user input such as "https://Acme.myshopify.com/" or "acme"
// to "acme.myshopify.com". The result still has to pass ValidShopDomain.
func CleanShopDomain(shop string) string {
	shop = strings.ToLower(strings.TrimSpace(shop))
	shop = strings.TrimPrefix(shop, "https://")
	shop = strings.TrimPrefix(shop, "http://")
	shop = strings.TrimRight(shop, "/")
	if shop != "" && !strings.Contains(shop, ".") {
		shop += ".myshopify.com"
	}
	return shop
}

// ValidShopDomain reports whether shop is exactly a *.myshopify.com host name.
func ValidShopDomain(shop string) bool {
	return shopDomainPattern.MatchString(shop)
}

// VerifyHMAC checks the hmac parameter Shopify adds to redirects: a hex HMAC-SHA256 over the
// remaining parameters sorted by key and joined as k=v pairs with "&".
func VerifyHMAC(query url.Values, secret string) bool {
	received := query.Get("hmac")
	if received == "" || secret == "" {
		return false
	}
	keys := make([]string, 0, len(query))
	for key := range query {
		if key == "hmac" || key == "signature" {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, key := range keys {
		pairs = append(pairs, key+"="+strings.Join(query[key], ","))
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strings.Join(pairs, "&")))
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(received)))
}

func (d *Driver) oauthConfig(creds drivers.OAuthCredentials, shop, redirectURI string) *oauth2.Config {
	base := d.shopURL(shop)
	return &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		RedirectURL:  redirectURI,
		Endpoint: oauth2.Endpoint{
			AuthURL:   base + "/admin/oauth/authorize",
			TokenURL:  base + "/admin/oauth/access_token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// GetOAuthConfig describes the shop-scoped endpoints. {shop} is substituted per store.
func (d *Driver) GetOAuthConfig() drivers.OAuthConfig {
	return drivers.OAuthConfig{
		AuthURL:  "https://{shop}/admin/oauth/authorize",
		TokenURL: "https://{shop}/admin/oauth/access_token",
		Scopes:   d.scopes,
	}
}

// GetOAuthCredentials returns the app's client credentials.
func (d *Driver) GetOAuthCredentials() (drivers.OAuthCredentials, error) {
	if d.clientID == "" || d.clientSecret == "" {
		return drivers.OAuthCredentials{}, ErrNotConfigured
	}
	return drivers.OAuthCredentials{ClientID: d.clientID, ClientSecret: d.clientSecret}, nil
}

// BuildAuthorizationURL builds the store's authorization URL. params must carry "shop";
// any other entries are passed through.
func (d *Driver) BuildAuthorizationURL(creds drivers.OAuthCredentials, state, redirectURI string, params map[string]string) (string, error) {
	shop := CleanShopDomain(params["shop"])
	if !ValidShopDomain(shop) {
		return "", fmt.Errorf("%w: %q", ErrInvalidShop, params["shop"])
	}

	opts := []oauth2.AuthCodeOption{oauth2.SetAuthURLParam("scope", strings.Join(d.scopes, ","))}
	for key, value := range params {
		if key == "shop" || key == "scope" {
			continue
		}
		opts = append(opts, oauth2.SetAuthURLParam(key, value))
	}
	return d.oauthConfig(creds, shop, redirectURI).AuthCodeURL(state, opts...), nil
}

// HandleOAuthCallback exchanges the authorization code for a permanent access token. The shop
// host is validated before any request is made so a forged shop parameter can never
// redirect the exchange.
func (d *Driver) HandleOAuthCallback(ctx context.Context, query url.Values, creds *drivers.OAuthCredentials) (drivers.ConnectionConfig, error) {
	shop := CleanShopDomain(query.Get("shop"))
	if !ValidShopDomain(shop) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidShop, query.Get("shop"))
	}

	if creds == nil {
		own, err := d.GetOAuthCredentials()
		if err != nil {
			return nil, err
		}
		creds = &own
	}
	if query.Has("hmac") && !VerifyHMAC(query, creds.ClientSecret) {
		return nil, ErrInvalidSignature
	}
	code := query.Get("code")
	if code == "" {
		return nil, fmt.Errorf("%w: code missing from callback", drivers.ErrInvalidConfig)
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, d.httpClient)
	token, err := d.oauthConfig(*creds, shop, "").Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange code for %s: %w", shop, err)
	}

	scope, _ := token.Extra("scope").(string)
	return &Config{
		Shop:         shop,
		AccessToken:  token.AccessToken,
		Scope:        scope,
		ResourceType: ResourcePage,
	}, nil
}
