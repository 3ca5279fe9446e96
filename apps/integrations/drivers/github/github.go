// Package github provides the GitHub integration driver. Documents are stored as files in a
// repository and authenticated with GitHub App installation tokens.
package github

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/lydiehq/lydie-sub003/apps/integrations/credentials"
	"github.com/lydiehq/lydie-sub003/apps/integrations/drivers"
	"github.com/lydiehq/lydie-sub003/lib/apiclient"
)

const (
	// TypeID is the unique identifier for this integration.
	TypeID = "github"
	// DisplayName is the human-readable name.
	DisplayName = "GitHub"

	defaultConcurrency = 4
)

// Config is the GitHub connection config. Repo, Branch and BasePath usually come from the
// link a document syncs through.
type Config struct {
	InstallationID    string    `json:"installationId" validate:"required"`
	InstallationToken string    `json:"installationToken,omitempty"`
	TokenExpiresAt    time.Time `json:"tokenExpiresAt"`
	Owner             string    `json:"owner" validate:"required"`
	AccountType       string    `json:"accountType,omitempty"`
	Repo              string    `json:"repo" validate:"required"`
	Branch            string    `json:"branch" validate:"required"`
	BasePath          string    `json:"basePath,omitempty"`
}

// Provider implements drivers.ConnectionConfig.
func (*Config) Provider() string {
	return TypeID
}

// ApplyCredential stores a refreshed installation token.
func (c *Config) ApplyCredential(update drivers.CredentialUpdate) {
	c.InstallationToken = update.AccessToken
	c.TokenExpiresAt = update.ExpiresAt
}

// Driver implements drivers.Integration for GitHub.
type Driver struct {
	credentials *credentials.Manager
	concurrency int
}

// Option configures a Driver.
type Option func(*Driver)

// WithConcurrency bounds the number of files fetched in parallel during a pull.
func WithConcurrency(n int) Option {
	return func(d *Driver) {
		if n > 0 {
			d.concurrency = n
		}
	}
}

// New creates a new GitHub driver backed by the app's credential manager.
func New(manager *credentials.Manager, opts ...Option) *Driver {
	d := &Driver{credentials: manager, concurrency: defaultConcurrency}
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

// DecodeConfig parses a stored GitHub config.
func (d *Driver) DecodeConfig(raw []byte) (drivers.ConnectionConfig, error) {
	cfg := &Config{}
	if err := drivers.DecodeJSON(raw, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ValidateConnection checks the config structurally. It makes no network call; the
// installation token is minted on demand.
func (d *Driver) ValidateConnection(_ context.Context, conn *drivers.Connection) error {
	cfg, err := drivers.ConfigAs[*Config](conn)
	if err != nil {
		return err
	}
	return drivers.ValidateStruct(cfg)
}

// CredentialState reports the lifecycle state of the connection's installation token.
func (d *Driver) CredentialState(conn *drivers.Connection) string {
	cfg, err := drivers.ConfigAs[*Config](conn)
	if err != nil {
		return credentials.Unconfigured.String()
	}
	return d.credentials.State(cfg.InstallationID, cfg.InstallationToken, cfg.TokenExpiresAt).String()
}

// client returns an installation client, refreshing the token first when it is about to expire.
func (d *Driver) client(ctx context.Context, cfg *Config) (*apiclient.Client, *drivers.CredentialUpdate, error) {
	token, refreshed, err := d.credentials.Ensure(ctx, cfg.InstallationID, cfg.InstallationToken, cfg.TokenExpiresAt)
	if err != nil {
		return nil, nil, err
	}
	var update *drivers.CredentialUpdate
	if refreshed {
		update = &drivers.CredentialUpdate{Provider: TypeID, AccessToken: token.Token, ExpiresAt: token.ExpiresAt}
	}
	return d.credentials.InstallationClient(token.Token), update, nil
}

func repoPath(cfg *Config, suffix string) string {
	return fmt.Sprintf("/repos/%s/%s/%s", url.PathEscape(cfg.Owner), url.PathEscape(cfg.Repo), suffix)
}

func contentsPath(cfg *Config, filePath string) string {
	return repoPath(cfg, "contents/"+apiclient.EscapePath(filePath))
}

func refQuery(cfg *Config) url.Values {
	if cfg.Branch == "" {
		return nil
	}
	return url.Values{"ref": {cfg.Branch}}
}

var (
	_ drivers.Integration          = (*Driver)(nil)
	_ drivers.Deleter              = (*Driver)(nil)
	_ drivers.ResourceDiscoverable = (*Driver)(nil)
	_ drivers.ConflictCheckable    = (*Driver)(nil)
	_ drivers.SyncMetadataProvider = (*Driver)(nil)
	_ drivers.DisconnectHook       = (*Driver)(nil)
	_ drivers.OAuthCapable         = (*Driver)(nil)
	_ drivers.CredentialReceiver   = (*Config)(nil)
)
