package github

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"github.com/getevo/evo/v2/lib/log"

	"github.com/lydiehq/lydie-sub003/apps/integrations/credentials"
	"github.com/lydiehq/lydie-sub003/apps/integrations/drivers"
	"github.com/lydiehq/lydie-sub003/lib/apiclient"
)

const installURL = "https://github.com/apps/%s/installations/new"

type installation struct {
	ID      int64 `json:"id"`
	Account struct {
		Login string `json:"login"`
		Type  string `json:"type"`
	} `json:"account"`
}

type repository struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	FullName      string `json:"full_name"`
	DefaultBranch string `json:"default_branch"`
	Private       bool   `json:"private"`
	HTMLURL       string `json:"html_url"`
	Owner         struct {
		Login string `json:"login"`
	} `json:"owner"`
}

func (d *Driver) getInstallation(ctx context.Context, installationID string) (installation, error) {
	var inst installation
	client, err := d.credentials.AppClient()
	if err != nil {
		return inst, err
	}
	if _, err := client.Get(ctx, "/app/installations/"+url.PathEscape(installationID), nil, &inst); err != nil {
		return inst, fmt.Errorf("failed to look up installation %s: %w", installationID, err)
	}
	return inst, nil
}

// GetOAuthConfig describes the app installation flow.
func (d *Driver) GetOAuthConfig() drivers.OAuthConfig {
	return drivers.OAuthConfig{
		AuthURL:  fmt.Sprintf(installURL, url.PathEscape(d.credentials.App().Slug)),
		TokenURL: d.credentials.BaseURL() + "/app/installations/{installation_id}/access_tokens",
	}
}

// GetOAuthCredentials returns the app's client id. Installation tokens are minted with the
// app key, so there is no client secret.
func (d *Driver) GetOAuthCredentials() (drivers.OAuthCredentials, error) {
	app := d.credentials.App()
	if !app.Configured() || app.Slug == "" {
		return drivers.OAuthCredentials{}, credentials.ErrNotConfigured
	}
	return drivers.OAuthCredentials{ClientID: app.Issuer()}, nil
}

// BuildAuthorizationURL returns the app installation page. GitHub redirects to the setup URL
// registered with the app, so redirectURI is not sent.
func (d *Driver) BuildAuthorizationURL(_ drivers.OAuthCredentials, state, _ string, params map[string]string) (string, error) {
	slug := d.credentials.App().Slug
	if slug == "" {
		return "", fmt.Errorf("%w: app slug", credentials.ErrNotConfigured)
	}
	query := url.Values{}
	for key, value := range params {
		query.Set(key, value)
	}
	query.Set("state", state)
	return fmt.Sprintf(installURL, url.PathEscape(slug)) + "?" + query.Encode(), nil
}

// HandleOAuthCallback turns the installation_id of the setup redirect into a connection
// config holding a fresh installation token and the owning account.
func (d *Driver) HandleOAuthCallback(ctx context.Context, query url.Values, _ *drivers.OAuthCredentials) (drivers.ConnectionConfig, error) {
	installationID := query.Get("installation_id")
	if installationID == "" {
		if query.Get("setup_action") == "request" {
			return nil, errors.New("installation is awaiting approval by an organization owner")
		}
		return nil, fmt.Errorf("%w: installation_id missing from callback", drivers.ErrInvalidConfig)
	}
	if _, err := strconv.ParseInt(installationID, 10, 64); err != nil {
		return nil, fmt.Errorf("%w: installation_id %q is not numeric", drivers.ErrInvalidConfig, installationID)
	}

	inst, err := d.getInstallation(ctx, installationID)
	if err != nil {
		return nil, err
	}
	token, err := d.credentials.Exchange(ctx, installationID)
	if err != nil {
		return nil, err
	}

	return &Config{
		InstallationID:    installationID,
		InstallationToken: token.Token,
		TokenExpiresAt:    token.ExpiresAt,
		Owner:             inst.Account.Login,
		AccountType:       inst.Account.Type,
	}, nil
}

// FetchResources lists the repositories the installation can reach.
func (d *Driver) FetchResources(ctx context.Context, conn *drivers.Connection) ([]drivers.ExternalResource, *drivers.CredentialUpdate, error) {
	cfg, err := drivers.ConfigAs[*Config](conn)
	if err != nil {
		return nil, nil, err
	}
	if cfg.InstallationID == "" {
		return nil, nil, fmt.Errorf("%w: installationId", drivers.ErrInvalidConfig)
	}

	inst, err := d.getInstallation(ctx, cfg.InstallationID)
	if err != nil {
		return nil, nil, err
	}
	client, update, err := d.client(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	var repos []repository
	if inst.Account.Type == "Organization" {
		repos, err = listOrgRepos(ctx, client, inst.Account.Login)
	} else {
		repos, err = listInstallationRepos(ctx, client)
	}
	if err != nil {
		return nil, update, err
	}

	resources := make([]drivers.ExternalResource, 0, len(repos))
	for _, repo := range repos {
		resources = append(resources, drivers.ExternalResource{
			ID:       strconv.FormatInt(repo.ID, 10),
			Name:     repo.Name,
			FullName: repo.FullName,
			Metadata: map[string]any{
				"owner":         repo.Owner.Login,
				"defaultBranch": repo.DefaultBranch,
				"private":       repo.Private,
				"url":           repo.HTMLURL,
			},
		})
	}
	return resources, update, nil
}

func listOrgRepos(ctx context.Context, client *apiclient.Client, org string) ([]repository, error) {
	var all []repository
	next := "/orgs/" + url.PathEscape(org) + "/repos?per_page=100"
	for next != "" {
		var page []repository
		resp, err := client.Get(ctx, next, nil, &page)
		if err != nil {
			return nil, fmt.Errorf("failed to list repositories of %s: %w", org, err)
		}
		all = append(all, page...)
		next = apiclient.NextLink(resp.Header)
	}
	return all, nil
}

func listInstallationRepos(ctx context.Context, client *apiclient.Client) ([]repository, error) {
	var all []repository
	next := "/installation/repositories?per_page=100"
	for next != "" {
		var page struct {
			Repositories []repository `json:"repositories"`
		}
		resp, err := client.Get(ctx, next, nil, &page)
		if err != nil {
			return nil, fmt.Errorf("failed to list installation repositories: %w", err)
		}
		all = append(all, page.Repositories...)
		next = apiclient.NextLink(resp.Header)
	}
	return all, nil
}

// OnDisconnect uninstalls the app from the account. Failures are reported in the outcome
// and logged; they never block the disconnect.
func (d *Driver) OnDisconnect(ctx context.Context, conn *drivers.Connection) drivers.CleanupOutcome {
	cfg, err := drivers.ConfigAs[*Config](conn)
	if err != nil || cfg.InstallationID == "" {
		return drivers.CleanupOutcome{Attempted: false, Succeeded: true}
	}

	client, err := d.credentials.AppClient()
	if err != nil {
		log.Warning("GitHub disconnect: cannot authenticate as app to remove installation %s: %v", cfg.InstallationID, err)
		return drivers.CleanupOutcome{Attempted: false, Succeeded: false, Error: err.Error()}
	}

	_, err = client.Delete(ctx, "/app/installations/"+url.PathEscape(cfg.InstallationID), nil, nil)
	if err != nil && !apiclient.IsNotFound(err) {
		log.Warning("GitHub disconnect: failed to remove installation %s: %v", cfg.InstallationID, err)
		return drivers.CleanupOutcome{Attempted: true, Succeeded: false, Error: err.Error()}
	}
	return drivers.CleanupOutcome{Attempted: true, Succeeded: true}
}
