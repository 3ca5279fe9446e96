// Package drivers provides the integration contract, its optional capabilities and common types.
package drivers

import (
	"context"
	"net/url"
)

// Integration is implemented by every provider adapter.
type Integration interface {
	// Type returns the unique identifier for this integration type.
	Type() string

	// Name returns the display name for this integration.
	Name() string

	// DecodeConfig turns a stored config blob into the provider's typed config.
	DecodeConfig(raw []byte) (ConnectionConfig, error)

	// ValidateConnection checks that the connection can be used. A nil error means valid.
	ValidateConnection(ctx context.Context, conn *Connection) error

	// Push creates or updates the external copy of a document.
	Push(ctx context.Context, opts PushOptions) (SyncResult, *CredentialUpdate)

	// Pull lists every importable external item. Per-item failures are reported in the
	// results; the error is reserved for failures that prevent listing at all.
	Pull(ctx context.Context, opts PullOptions) ([]SyncResult, *CredentialUpdate, error)
}

// Deleter removes the external copy of a document. Missing resources count as deleted.
type Deleter interface {
	Delete(ctx context.Context, opts DeleteOptions) (SyncResult, *CredentialUpdate)
}

// ResourceDiscoverable lists the containers a connection can sync into.
type ResourceDiscoverable interface {
	FetchResources(ctx context.Context, conn *Connection) ([]ExternalResource, *CredentialUpdate, error)
}

// ConflictCheckable reports whether the remote copy changed since the last sync.
type ConflictCheckable interface {
	CheckConflicts(ctx context.Context, doc SyncDocument, conn *Connection) (ConflictResult, *CredentialUpdate, error)
}

// SyncMetadataProvider describes the latest remote revision of a synced document.
// A nil result means the remote copy does not exist.
type SyncMetadataProvider interface {
	GetSyncMetadata(ctx context.Context, req SyncMetadataRequest, conn *Connection) (*SyncMetadata, *CredentialUpdate, error)
}

// ConnectHook suggests default links right after a connection is created.
type ConnectHook interface {
	OnConnect() ConnectResult
}

// DisconnectHook cleans up remote state when a connection is removed. It never fails the
// disconnect; the outcome only informs the caller.
type DisconnectHook interface {
	OnDisconnect(ctx context.Context, conn *Connection) CleanupOutcome
}

// CredentialInspector reports where a connection's stored credential sits in its
// lifecycle, e.g. "valid" or "refreshing".
type CredentialInspector interface {
	CredentialState(conn *Connection) string
}

// OAuthCapable is implemented by providers connected through an authorization redirect.
type OAuthCapable interface {
	GetOAuthConfig() OAuthConfig
	GetOAuthCredentials() (OAuthCredentials, error)
	BuildAuthorizationURL(creds OAuthCredentials, state, redirectURI string, params map[string]string) (string, error)
	HandleOAuthCallback(ctx context.Context, query url.Values, creds *OAuthCredentials) (ConnectionConfig, error)
}

// SensitiveFields contains config field names that are masked in output.
var SensitiveFields = map[string]bool{
	"accessToken":         true,
	"installationToken":   true,
	"applicationPassword": true,
	"clientSecret":        true,
	"privateKey":          true,
}
