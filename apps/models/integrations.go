package models

import (
	"time"

	"gorm.io/datatypes"
)

// Connection statuses
const (
	ConnectionStatusActive   = "active"
	ConnectionStatusDisabled = "disabled"
	ConnectionStatusError    = "error"
)

// IntegrationConnection is one authorized account on an external platform
type IntegrationConnection struct {
	ID           string            `gorm:"primaryKey;size:36" json:"id"`
	Provider     string            `gorm:"size:50;not null;index" json:"provider"` // github, shopify, wordpress
	Name         string            `gorm:"size:255;not null" json:"name"`
	Status       string            `gorm:"size:20;not null;default:'active'" json:"status"`
	Config       string            `gorm:"type:text" json:"-"` // sealed JSON config
	Metadata     datatypes.JSONMap `json:"metadata,omitempty"`
	LastError    string            `gorm:"type:text" json:"last_error,omitempty"`
	LastSyncedAt *time.Time        `json:"last_synced_at,omitempty"`
	CreatedAt    time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time         `gorm:"autoUpdateTime" json:"updated_at"`

	Links []IntegrationLink `gorm:"foreignKey:ConnectionID" json:"links,omitempty"`
}

func (IntegrationConnection) TableName() string {
	return "integration_connections"
}

// IntegrationLink is a sync target inside a connection, such as a repository branch or a blog.
// Its config is merged over the connection config before an adapter sees it.
type IntegrationLink struct {
	ID           string         `gorm:"primaryKey;size:36" json:"id"`
	ConnectionID string         `gorm:"size:36;not null;index" json:"connection_id"`
	Name         string         `gorm:"size:255;not null" json:"name"`
	Config       datatypes.JSON `json:"config"`
	LastSyncedAt *time.Time     `json:"last_synced_at,omitempty"`
	CreatedAt    time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

func (IntegrationLink) TableName() string {
	return "integration_links"
}

// SyncRecord remembers where a document lives remotely and which revision was last seen
type SyncRecord struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	LinkID       string    `gorm:"size:36;not null;uniqueIndex:idx_sync_link_document" json:"link_id"`
	DocumentID   string    `gorm:"size:64;not null;uniqueIndex:idx_sync_link_document" json:"document_id"`
	ExternalID   string    `gorm:"size:512;not null" json:"external_id"`
	Revision     string    `gorm:"size:128" json:"revision,omitempty"`
	LastSyncedAt time.Time `json:"last_synced_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (SyncRecord) TableName() string {
	return "integration_sync_records"
}
