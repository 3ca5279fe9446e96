package github

import (
	"context"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/lydiehq/lydie-sub003/apps/integrations/drivers"
	"github.com/lydiehq/lydie-sub003/lib/apiclient"
	"github.com/lydiehq/lydie-sub003/lib/codec"
)

// fileEntry is an item of the contents API.
type fileEntry struct {
	Type        string `json:"type"`
	Name        string `json:"name"`
	Path        string `json:"path"`
	SHA         string `json:"sha"`
	Size        int64  `json:"size"`
	Content     string `json:"content"`
	Encoding    string `json:"encoding"`
	HTMLURL     string `json:"html_url"`
	DownloadURL string `json:"download_url"`
}

type writeResponse struct {
	Content struct {
		Path    string `json:"path"`
		SHA     string `json:"sha"`
		HTMLURL string `json:"html_url"`
	} `json:"content"`
	Commit struct {
		SHA string `json:"sha"`
	} `json:"commit"`
}

var syncableExtensions = map[string]bool{"md": true, "mdx": true, "txt": true}

// FilePath builds the repository path of a document. Titles without a md, mdx or txt
// extension get ".md" appended. Dot segments are dropped so the file always stays below
// basePath.
func FilePath(basePath, folderPath, title string) string {
	name := strings.TrimSpace(strings.ReplaceAll(title, "/", "-"))
	if name == "" {
		name = "untitled"
	}
	if !syncableExtensions[extension(name)] {
		name += ".md"
	}
	parts := append(pathSegments(basePath), pathSegments(folderPath)...)
	return strings.Join(append(parts, name), "/")
}

func pathSegments(p string) []string {
	var out []string
	for _, seg := range strings.Split(p, "/") {
		if seg != "" && seg != "." && seg != ".." {
			out = append(out, seg)
		}
	}
	return out
}

func extension(name string) string {
	return strings.ToLower(strings.TrimPrefix(path.Ext(name), "."))
}

// BlobSHA returns the git blob hash of content, which is what the contents API reports as sha.
func BlobSHA(content []byte) string {
	h := sha1.New()
	fmt.Fprintf(h, "blob %d\x00", len(content))
	h.Write(content)
	return hex.EncodeToString(h.Sum(nil))
}

// serialize writes doc in the format named by the file extension. Every syncable
// extension has a serializer; anything else is written as Markdown.
func serialize(filePath string, doc codec.Node) []byte {
	format, ok := codec.FormatFromExtension(filePath)
	if !ok {
		format = codec.FormatMarkdown
	}
	out, err := codec.Serialize(format, doc)
	if err != nil {
		out = codec.SerializeToMarkdown(doc)
	}
	return []byte(out)
}

// getFile returns the file at filePath, or nil when it does not exist.
func getFile(ctx context.Context, client *apiclient.Client, cfg *Config, filePath string) (*fileEntry, error) {
	var entry fileEntry
	if _, err := client.Get(ctx, contentsPath(cfg, filePath), refQuery(cfg), &entry); err != nil {
		if apiclient.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	if entry.Type != "" && entry.Type != "file" {
		return nil, fmt.Errorf("%s is a %s, not a file", filePath, entry.Type)
	}
	return &entry, nil
}

// Push creates or updates the document's file on the configured branch.
func (d *Driver) Push(ctx context.Context, opts drivers.PushOptions) (drivers.SyncResult, *drivers.CredentialUpdate) {
	doc := opts.Document
	cfg, err := drivers.ConfigAs[*Config](opts.Connection)
	if err != nil {
		return drivers.Failed(doc.ID, err), nil
	}
	client, update, err := d.client(ctx, cfg)
	if err != nil {
		return drivers.Failed(doc.ID, err), nil
	}

	filePath := FilePath(cfg.BasePath, doc.FolderPath, doc.Title)
	content := serialize(filePath, doc.Content)

	existing, err := getFile(ctx, client, cfg, filePath)
	if err != nil {
		return drivers.Failed(doc.ID, fmt.Errorf("failed to read %s: %w", filePath, err)), update
	}

	if existing != nil && existing.SHA == BlobSHA(content) {
		return drivers.SyncResult{
			Success:    true,
			DocumentID: doc.ID,
			ExternalID: filePath,
			Message:    "No changes",
			Metadata:   map[string]any{"sha": existing.SHA, "path": filePath, "url": existing.HTMLURL},
		}, update
	}

	message := opts.CommitMessage
	if message == "" {
		if existing != nil {
			message = "Update " + filePath
		} else {
			message = "Create " + filePath
		}
	}
	body := map[string]any{
		"message": message,
		"content": base64.StdEncoding.EncodeToString(content),
		"branch":  cfg.Branch,
	}
	if existing != nil {
		body["sha"] = existing.SHA
	}

	var written writeResponse
	if _, err := client.Put(ctx, contentsPath(cfg, filePath), body, &written); err != nil {
		return drivers.Failed(doc.ID, fmt.Errorf("failed to write %s: %w", filePath, err)), update
	}

	result := drivers.SyncResult{
		Success:    true,
		DocumentID: doc.ID,
		ExternalID: filePath,
		Message:    "Created " + filePath,
		Metadata: map[string]any{
			"sha":    written.Content.SHA,
			"path":   filePath,
			"url":    written.Content.HTMLURL,
			"commit": written.Commit.SHA,
		},
	}
	if existing != nil {
		result.Message = "Updated " + filePath
	}
	return result, update
}

// Delete removes the document's file. A file that is already gone counts as deleted.
func (d *Driver) Delete(ctx context.Context, opts drivers.DeleteOptions) (drivers.SyncResult, *drivers.CredentialUpdate) {
	cfg, err := drivers.ConfigAs[*Config](opts.Connection)
	if err != nil {
		return drivers.Failed(opts.DocumentID, err), nil
	}
	if opts.ExternalID == "" {
		return drivers.Failed(opts.DocumentID, errors.New("external id (file path) is required")), nil
	}
	client, update, err := d.client(ctx, cfg)
	if err != nil {
		return drivers.Failed(opts.DocumentID, err), nil
	}

	filePath := opts.ExternalID
	gone := drivers.SyncResult{Success: true, DocumentID: opts.DocumentID, ExternalID: filePath, Message: "Already deleted"}

	existing, err := getFile(ctx, client, cfg, filePath)
	if err != nil {
		return drivers.Failed(opts.DocumentID, fmt.Errorf("failed to read %s: %w", filePath, err)), update
	}
	if existing == nil {
		return gone, update
	}

	message := opts.CommitMessage
	if message == "" {
		message = "Delete " + filePath
	}
	body := map[string]any{"message": message, "sha": existing.SHA, "branch": cfg.Branch}
	if _, err := client.Delete(ctx, contentsPath(cfg, filePath), nil, body); err != nil {
		if apiclient.IsNotFound(err) {
			return gone, update
		}
		return drivers.Failed(opts.DocumentID, fmt.Errorf("failed to delete %s: %w", filePath, err)), update
	}
	return drivers.SyncResult{Success: true, DocumentID: opts.DocumentID, ExternalID: filePath, Message: "Deleted " + filePath}, update
}
