package drivers

import (
	"time"

	"github.com/lydiehq/lydie-sub003/lib/codec"
)

// SyncDocument is the local document handed to Push.
type SyncDocument struct {
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	Slug       string     `json:"slug"`
	Content    codec.Node `json:"content"`
	FolderPath string     `json:"folderPath,omitempty"`
	// LastSyncedRevision is the remote revision seen at the last successful sync.
	LastSyncedRevision string `json:"lastSyncedRevision,omitempty"`
}

// PushOptions holds the arguments of Integration.Push.
type PushOptions struct {
	Document      SyncDocument
	Connection    *Connection
	CommitMessage string
}

// PullOptions holds the arguments of Integration.Pull.
type PullOptions struct {
	Connection *Connection
}

// DeleteOptions holds the arguments of Deleter.Delete.
type DeleteOptions struct {
	DocumentID    string
	ExternalID    string
	Connection    *Connection
	CommitMessage string
}

// PulledDocument is what a pull result carries for the caller to create a document from.
type PulledDocument struct {
	Title      string     `json:"title"`
	Slug       string     `json:"slug"`
	Content    codec.Node `json:"content"`
	FolderPath string     `json:"folderPath,omitempty"`
}

// SyncResult is the per-item outcome of push, pull and delete.
type SyncResult struct {
	Success          bool            `json:"success"`
	DocumentID       string          `json:"documentId"`
	ExternalID       string          `json:"externalId,omitempty"`
	Message          string          `json:"message,omitempty"`
	Error            string          `json:"error,omitempty"`
	ConflictDetected bool            `json:"conflictDetected,omitempty"`
	ConflictDetails  string          `json:"conflictDetails,omitempty"`
	Document         *PulledDocument `json:"document,omitempty"`
	Metadata         map[string]any  `json:"metadata,omitempty"`
}

// Failed builds an unsuccessful result for documentID.
func Failed(documentID string, err error) SyncResult {
	return SyncResult{Success: false, DocumentID: documentID, Error: err.Error()}
}

// ExternalResource is a selectable container on the remote platform.
type ExternalResource struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	FullName string         `json:"fullName"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// OAuthConfig describes a provider's authorization endpoints.
type OAuthConfig struct {
	AuthURL    string            `json:"authUrl"`
	TokenURL   string            `json:"tokenUrl"`
	Scopes     []string          `json:"scopes"`
	AuthParams map[string]string `json:"authParams,omitempty"`
}

// OAuthCredentials are the client credentials of the product's registered app.
type OAuthCredentials struct {
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
}

// DefaultLink is a sync target suggested right after connecting.
type DefaultLink struct {
	Name   string         `json:"name"`
	Config map[string]any `json:"config"`
}

// ConnectResult is returned by ConnectHook.OnConnect.
type ConnectResult struct {
	Links []DefaultLink `json:"links,omitempty"`
}

// CleanupOutcome reports what a disconnect hook did remotely.
type CleanupOutcome struct {
	Attempted bool   `json:"attempted"`
	Succeeded bool   `json:"succeeded"`
	Error     string `json:"error,omitempty"`
}

// ConflictResult is returned by ConflictCheckable.CheckConflicts.
type ConflictResult struct {
	HasConflict bool   `json:"hasConflict"`
	Details     string `json:"details,omitempty"`
}

// SyncMetadataRequest identifies the document whose remote revision is wanted.
type SyncMetadataRequest struct {
	DocumentID string
	ExternalID string
}

// SyncMetadata describes the latest remote revision of a document.
type SyncMetadata struct {
	ExternalID   string    `json:"externalId"`
	Revision     string    `json:"revision"`
	LastModified time.Time `json:"lastModified"`
	URL          string    `json:"url,omitempty"`
	Message      string    `json:"message,omitempty"`
}
