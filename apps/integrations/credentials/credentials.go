// Package credentials issues and refreshes GitHub App installation tokens.
//
// An installation token is short lived. Before each API call the caller asks the Manager to
// Ensure the token; when it expires within SafetyBuffer a new one is minted by signing an
// RS256 app assertion and exchanging it at the installation token endpoint.
package credentials

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lydiehq/lydie-sub003/lib/apiclient"
)

const (
	// SafetyBuffer is how long before expiry a token is treated as expired.
	SafetyBuffer = 5 * time.Minute
	// AssertionLifetime is the validity of a signed app assertion. GitHub rejects more than 10 minutes.
	AssertionLifetime = 10 * time.Minute
	// ClockDrift backdates the assertion's issued-at claim.
	ClockDrift = 60 * time.Second

	DefaultBaseURL = "https://api.github.com"
	APIVersion     = "2022-11-28"
)

// ErrNotConfigured is returned when no app id or private key is available.
var ErrNotConfigured = errors.New("github app credentials are not configured")

// TokenState is where a connection's installation token sits in its lifecycle.
type TokenState int

const (
	Unconfigured TokenState = iota
	Valid
	NearExpiry
	Refreshing
)

func (s TokenState) String() string {
	switch s {
	case Unconfigured:
		return "unconfigured"
	case Valid:
		return "valid"
	case NearExpiry:
		return "near_expiry"
	case Refreshing:
		return "refreshing"
	}
	return "unknown"
}

// State classifies a stored token at now. Refreshing is only known to a Manager.
func State(token string, expiresAt, now time.Time) TokenState {
	if token == "" {
		return Unconfigured
	}
	if NeedsRefresh(expiresAt, now) {
		return NearExpiry
	}
	return Valid
}

// NeedsRefresh reports whether a token expiring at expiresAt must be replaced at now.
// A zero expiry is always refreshed.
func NeedsRefresh(expiresAt, now time.Time) bool {
	if expiresAt.IsZero() {
		return true
	}
	return expiresAt.Sub(now) < SafetyBuffer
}

// AppConfig identifies the GitHub App.
type AppConfig struct {
	AppID    string
	ClientID string
	Slug     string
	// PrivateKeyPEM is the app's PKCS#1 or PKCS#8 RSA key.
	PrivateKeyPEM []byte
}

// Configured reports whether the app can sign assertions.
func (c AppConfig) Configured() bool {
	return c.Issuer() != "" && len(c.PrivateKeyPEM) > 0
}

// Issuer returns the assertion issuer: the client id, falling back to the numeric app id.
func (c AppConfig) Issuer() string {
	if c.ClientID != "" {
		return c.ClientID
	}
	return c.AppID
}

// InstallationToken is an installation access token and its absolute expiry.
type InstallationToken struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Manager signs app assertions and mints installation tokens.
type Manager struct {
	app        AppConfig
	key        *rsa.PrivateKey
	baseURL    string
	httpClient *http.Client
	now        func() time.Time

	mu         sync.Mutex
	refreshing map[string]int
}

// Option configures a Manager.
type Option func(*Manager)

// WithBaseURL points the manager at another API root.
func WithBaseURL(baseURL string) Option {
	return func(m *Manager) {
		if baseURL != "" {
			m.baseURL = baseURL
		}
	}
}

// WithHTTPClient sets the HTTP client used for token exchange.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(m *Manager) {
		if httpClient != nil {
			m.httpClient = httpClient
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager parses the app key. An unconfigured app yields a Manager whose signing
// operations return ErrNotConfigured.
func NewManager(app AppConfig, opts ...Option) (*Manager, error) {
	m := &Manager{
		app:        app,
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{Timeout: apiclient.DefaultTimeout},
		now:        time.Now,
		refreshing: make(map[string]int),
	}
	for _, opt := range opts {
		opt(m)
	}
	if app.Configured() {
		key, err := jwt.ParseRSAPrivateKeyFromPEM(app.PrivateKeyPEM)
		if err != nil {
			return nil, fmt.Errorf("failed to parse github app private key: %w", err)
		}
		m.key = key
	}
	return m, nil
}

// App returns the app configuration.
func (m *Manager) App() AppConfig {
	return m.app
}

// BaseURL returns the API root the manager talks to.
func (m *Manager) BaseURL() string {
	return m.baseURL
}

// State classifies the stored token of an installation. It reports Refreshing while an
// Ensure call for that installation is exchanging a new token.
func (m *Manager) State(installationID, token string, expiresAt time.Time) TokenState {
	m.mu.Lock()
	inFlight := m.refreshing[installationID] > 0
	m.mu.Unlock()
	if inFlight {
		return Refreshing
	}
	return State(token, expiresAt, m.now())
}

func (m *Manager) beginRefresh(installationID string) func() {
	m.mu.Lock()
	m.refreshing[installationID]++
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		if m.refreshing[installationID]--; m.refreshing[installationID] <= 0 {
			delete(m.refreshing, installationID)
		}
		m.mu.Unlock()
	}
}

// SignAppAssertion returns an RS256 JWT authenticating as the app itself.
func (m *Manager) SignAppAssertion() (string, error) {
	if m.key == nil {
		return "", ErrNotConfigured
	}
	now := m.now()
	claims := jwt.RegisteredClaims{
		Issuer:    m.app.Issuer(),
		IssuedAt:  jwt.NewNumericDate(now.Add(-ClockDrift)),
		ExpiresAt: jwt.NewNumericDate(now.Add(AssertionLifetime - ClockDrift)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(m.key)
	if err != nil {
		return "", fmt.Errorf("failed to sign app assertion: %w", err)
	}
	return signed, nil
}

// AppClient returns an API client authenticated as the app. Used for installation
// lookups and for uninstalling.
func (m *Manager) AppClient() (*apiclient.Client, error) {
	assertion, err := m.SignAppAssertion()
	if err != nil {
		return nil, err
	}
	return m.newClient(assertion), nil
}

// InstallationClient returns an API client authenticated with an installation token.
func (m *Manager) InstallationClient(token string) *apiclient.Client {
	return m.newClient(token)
}

func (m *Manager) newClient(bearer string) *apiclient.Client {
	return apiclient.New(m.baseURL,
		apiclient.WithHTTPClient(m.httpClient),
		apiclient.WithHeader("Accept", "application/vnd.github+json"),
		apiclient.WithHeader("X-GitHub-Api-Version", APIVersion),
		apiclient.WithBearerToken(bearer),
	)
}

// Exchange mints a new installation access token.
func (m *Manager) Exchange(ctx context.Context, installationID string) (InstallationToken, error) {
	if installationID == "" {
		return InstallationToken{}, errors.New("installation id is required")
	}
	client, err := m.AppClient()
	if err != nil {
		return InstallationToken{}, err
	}

	var token InstallationToken
	path := fmt.Sprintf("/app/installations/%s/access_tokens", apiclient.EscapePath(installationID))
	if _, err := client.Post(ctx, path, nil, &token); err != nil {
		return InstallationToken{}, fmt.Errorf("failed to create installation token: %w", err)
	}
	if token.Token == "" {
		return InstallationToken{}, errors.New("installation token response did not contain a token")
	}
	return token, nil
}

// Ensure returns a token usable for at least SafetyBuffer. refreshed is true when a new
// token was minted; the caller must persist it. A failed refresh is returned as an error,
// never papered over with the old token.
func (m *Manager) Ensure(ctx context.Context, installationID, token string, expiresAt time.Time) (current InstallationToken, refreshed bool, err error) {
	if token != "" && !NeedsRefresh(expiresAt, m.now()) {
		return InstallationToken{Token: token, ExpiresAt: expiresAt}, false, nil
	}
	done := m.beginRefresh(installationID)
	defer done()
	fresh, err := m.Exchange(ctx, installationID)
	if err != nil {
		return InstallationToken{}, false, fmt.Errorf("failed to refresh installation token: %w", err)
	}
	return fresh, true, nil
}
