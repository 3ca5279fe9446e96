package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lydiehq/lydie-sub003/lib/crypto"
)

var (
	ErrConnectionNotFound = errors.New("integration connection not found")
	ErrLinkNotFound       = errors.New("integration link not found")
)

// SyncState is everything one sync operation persists. It is written in a single transaction
// so a refreshed credential is never stored without the outcome that produced it.
type SyncState struct {
	ConnectionID string
	LinkID       string
	// Config replaces the stored connection config when non-nil.
	Config []byte
	// Status and Error are written only when Status is set.
	Status           string
	Error            string
	Records          []SyncRecord
	DeletedDocuments []string
	SyncedAt         time.Time
}

// IntegrationStore persists connections, links and sync records. Connection configs are
// sealed with the configured key before they reach the database.
type IntegrationStore struct {
	db     *gorm.DB
	sealer *crypto.Sealer
}

// NewIntegrationStore creates a store on conn. A nil sealer stores configs as plain JSON.
func NewIntegrationStore(conn *gorm.DB, sealer *crypto.Sealer) *IntegrationStore {
	if sealer == nil {
		sealer, _ = crypto.NewSealer("")
	}
	return &IntegrationStore{db: conn, sealer: sealer}
}

func (s *IntegrationStore) seal(config []byte) (string, error) {
	sealed, err := s.sealer.Seal(string(config))
	if err != nil {
		return "", fmt.Errorf("failed to seal connection config: %w", err)
	}
	return sealed, nil
}

// CreateConnection stores a new connection together with its initial links.
func (s *IntegrationStore) CreateConnection(ctx context.Context, conn *IntegrationConnection, config []byte, links []IntegrationLink) error {
	if conn.ID == "" {
		conn.ID = uuid.NewString()
	}
	if conn.Status == "" {
		conn.Status = ConnectionStatusActive
	}
	sealed, err := s.seal(config)
	if err != nil {
		return err
	}
	conn.Config = sealed
	conn.Links = nil

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(conn).Error; err != nil {
			return err
		}
		for i := range links {
			if links[i].ID == "" {
				links[i].ID = uuid.NewString()
			}
			links[i].ConnectionID = conn.ID
			if err := tx.Create(&links[i]).Error; err != nil {
				return err
			}
		}
		conn.Links = links
		return nil
	})
}

// GetConnection returns the connection and its opened config.
func (s *IntegrationStore) GetConnection(ctx context.Context, id string) (*IntegrationConnection, []byte, error) {
	var conn IntegrationConnection
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&conn).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, fmt.Errorf("%w: %s", ErrConnectionNotFound, id)
		}
		return nil, nil, err
	}
	config, err := s.sealer.Open(conn.Config)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open config of connection %s: %w", id, err)
	}
	return &conn, []byte(config), nil
}

// ListConnections returns all connections, newest first.
func (s *IntegrationStore) ListConnections(ctx context.Context) ([]IntegrationConnection, error) {
	var conns []IntegrationConnection
	err := s.db.WithContext(ctx).Order("created_at DESC").Find(&conns).Error
	return conns, err
}

func (s *IntegrationStore) GetLink(ctx context.Context, id string) (*IntegrationLink, error) {
	var link IntegrationLink
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&link).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrLinkNotFound, id)
		}
		return nil, err
	}
	return &link, nil
}

func (s *IntegrationStore) ListLinks(ctx context.Context, connectionID string) ([]IntegrationLink, error) {
	var links []IntegrationLink
	err := s.db.WithContext(ctx).Where("connection_id = ?", connectionID).Order("created_at").Find(&links).Error
	return links, err
}

func (s *IntegrationStore) CreateLink(ctx context.Context, link *IntegrationLink) error {
	if link.ID == "" {
		link.ID = uuid.NewString()
	}
	return s.db.WithContext(ctx).Create(link).Error
}

// GetSyncRecord returns nil when the document was never synced through the link.
func (s *IntegrationStore) GetSyncRecord(ctx context.Context, linkID, documentID string) (*SyncRecord, error) {
	var record SyncRecord
	err := s.db.WithContext(ctx).Where("link_id = ? AND document_id = ?", linkID, documentID).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// SaveSync writes the outcome of a sync operation.
func (s *IntegrationStore) SaveSync(ctx context.Context, state SyncState) error {
	updates := map[string]any{"updated_at": time.Now()}
	if state.Status != "" {
		updates["status"] = state.Status
		updates["last_error"] = state.Error
	}
	if !state.SyncedAt.IsZero() {
		updates["last_synced_at"] = state.SyncedAt
	}
	if state.Config != nil {
		sealed, err := s.seal(state.Config)
		if err != nil {
			return err
		}
		updates["config"] = sealed
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&IntegrationConnection{}).
			Where("id = ? AND status <> ?", state.ConnectionID, ConnectionStatusDisabled).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: %s", ErrConnectionNotFound, state.ConnectionID)
		}

		if state.LinkID != "" && !state.SyncedAt.IsZero() {
			if err := tx.Model(&IntegrationLink{}).Where("id = ?", state.LinkID).Update("last_synced_at", state.SyncedAt).Error; err != nil {
				return err
			}
		}

		for i := range state.Records {
			record := state.Records[i]
			if record.LastSyncedAt.IsZero() {
				record.LastSyncedAt = state.SyncedAt
			}
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "link_id"}, {Name: "document_id"}},
				DoUpdates: clause.AssignmentColumns([]string{"external_id", "revision", "last_synced_at", "updated_at"}),
			}).Create(&record).Error
			if err != nil {
				return err
			}
		}

		if len(state.DeletedDocuments) > 0 {
			err := tx.Where("link_id = ? AND document_id IN ?", state.LinkID, state.DeletedDocuments).Delete(&SyncRecord{}).Error
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// DisableConnection marks the connection disabled and drops its credentials.
func (s *IntegrationStore) DisableConnection(ctx context.Context, id, reason string) error {
	res := s.db.WithContext(ctx).Model(&IntegrationConnection{}).Where("id = ?", id).Updates(map[string]any{
		"status":     ConnectionStatusDisabled,
		"config":     "",
		"last_error": reason,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrConnectionNotFound, id)
	}
	return nil
}
