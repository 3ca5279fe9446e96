package github

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/lydiehq/lydie-sub003/apps/integrations/drivers"
)

type commit struct {
	SHA     string `json:"sha"`
	HTMLURL string `json:"html_url"`
	Commit  struct {
		Message   string `json:"message"`
		Committer struct {
			Date time.Time `json:"date"`
		} `json:"committer"`
	} `json:"commit"`
}

// CheckConflicts reports a conflict when the remote file changed since LastSyncedRevision
// and no longer matches what a push would write.
func (d *Driver) CheckConflicts(ctx context.Context, doc drivers.SyncDocument, conn *drivers.Connection) (drivers.ConflictResult, *drivers.CredentialUpdate, error) {
	cfg, err := drivers.ConfigAs[*Config](conn)
	if err != nil {
		return drivers.ConflictResult{}, nil, err
	}
	client, update, err := d.client(ctx, cfg)
	if err != nil {
		return drivers.ConflictResult{}, nil, err
	}

	filePath := FilePath(cfg.BasePath, doc.FolderPath, doc.Title)
	remote, err := getFile(ctx, client, cfg, filePath)
	if err != nil {
		return drivers.ConflictResult{}, update, fmt.Errorf("failed to read %s: %w", filePath, err)
	}
	if remote == nil || remote.SHA == doc.LastSyncedRevision {
		return drivers.ConflictResult{}, update, nil
	}
	if remote.SHA == BlobSHA(serialize(filePath, doc.Content)) {
		return drivers.ConflictResult{}, update, nil
	}

	details := fmt.Sprintf("%s was changed on %s since the last sync", filePath, cfg.Branch)
	if doc.LastSyncedRevision == "" {
		details = fmt.Sprintf("%s already exists on %s with different content", filePath, cfg.Branch)
	}
	return drivers.ConflictResult{HasConflict: true, Details: details}, update, nil
}

// GetSyncMetadata returns the current blob revision of the file and the latest commit that
// touched it. A missing file yields nil.
func (d *Driver) GetSyncMetadata(ctx context.Context, req drivers.SyncMetadataRequest, conn *drivers.Connection) (*drivers.SyncMetadata, *drivers.CredentialUpdate, error) {
	cfg, err := drivers.ConfigAs[*Config](conn)
	if err != nil {
		return nil, nil, err
	}
	if req.ExternalID == "" {
		return nil, nil, errors.New("external id (file path) is required")
	}
	client, update, err := d.client(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	file, err := getFile(ctx, client, cfg, req.ExternalID)
	if err != nil {
		return nil, update, fmt.Errorf("failed to read %s: %w", req.ExternalID, err)
	}
	if file == nil {
		return nil, update, nil
	}

	meta := &drivers.SyncMetadata{ExternalID: req.ExternalID, Revision: file.SHA, URL: file.HTMLURL}
	query := url.Values{"path": {req.ExternalID}, "per_page": {"1"}}
	if cfg.Branch != "" {
		query.Set("sha", cfg.Branch)
	}
	var commits []commit
	if _, err := client.Get(ctx, repoPath(cfg, "commits"), query, &commits); err != nil {
		return nil, update, fmt.Errorf("failed to list commits of %s: %w", req.ExternalID, err)
	}
	if len(commits) > 0 {
		meta.LastModified = commits[0].Commit.Committer.Date
		meta.Message = commits[0].Commit.Message
	}
	return meta, update, nil
}
