package github

import (
	"context"
	"encoding/base64"
	"fmt"
	"path"
	"strings"

	"github.com/getevo/evo/v2/lib/log"
	"golang.org/x/sync/errgroup"

	"github.com/lydiehq/lydie-sub003/apps/integrations/drivers"
	"github.com/lydiehq/lydie-sub003/lib/apiclient"
	"github.com/lydiehq/lydie-sub003/lib/codec"
)

// Pull walks the repository from BasePath and returns one result per md, mdx or txt file.
// A file that cannot be fetched or parsed yields a failed result; the others still import.
func (d *Driver) Pull(ctx context.Context, opts drivers.PullOptions) ([]drivers.SyncResult, *drivers.CredentialUpdate, error) {
	cfg, err := drivers.ConfigAs[*Config](opts.Connection)
	if err != nil {
		return nil, nil, err
	}
	client, update, err := d.client(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	basePath := strings.Trim(cfg.BasePath, "/")
	root, err := listDir(ctx, client, cfg, basePath)
	if err != nil {
		if apiclient.IsNotFound(err) {
			return []drivers.SyncResult{}, update, nil
		}
		return nil, update, fmt.Errorf("failed to list %q: %w", basePath, err)
	}

	var files []fileEntry
	var results []drivers.SyncResult
	d.walk(ctx, client, cfg, root, &files, &results)

	fetched := make([]drivers.SyncResult, len(files))
	var g errgroup.Group
	g.SetLimit(d.concurrency)
	for i, file := range files {
		g.Go(func() error {
			fetched[i] = d.pullFile(ctx, client, cfg, basePath, file)
			return nil
		})
	}
	_ = g.Wait()

	return append(fetched, results...), update, nil
}

// walk collects syncable files below entries. Subdirectories that cannot be listed are
// reported as failed results.
func (d *Driver) walk(ctx context.Context, client *apiclient.Client, cfg *Config, entries []fileEntry, files *[]fileEntry, failures *[]drivers.SyncResult) {
	for _, entry := range entries {
		switch entry.Type {
		case "dir":
			children, err := listDir(ctx, client, cfg, entry.Path)
			if err != nil {
				log.Warning("GitHub pull: failed to list %s/%s:%s: %v", cfg.Owner, cfg.Repo, entry.Path, err)
				*failures = append(*failures, drivers.SyncResult{
					ExternalID: entry.Path,
					Error:      fmt.Sprintf("failed to list directory %s: %v", entry.Path, err),
				})
				continue
			}
			d.walk(ctx, client, cfg, children, files, failures)
		case "file":
			if syncableExtensions[extension(entry.Name)] {
				*files = append(*files, entry)
			}
		}
	}
}

func listDir(ctx context.Context, client *apiclient.Client, cfg *Config, dir string) ([]fileEntry, error) {
	var entries []fileEntry
	target := repoPath(cfg, "contents")
	if dir != "" {
		target = contentsPath(cfg, dir)
	}
	if _, err := client.Get(ctx, target, refQuery(cfg), &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (d *Driver) pullFile(ctx context.Context, client *apiclient.Client, cfg *Config, basePath string, file fileEntry) drivers.SyncResult {
	fail := func(err error) drivers.SyncResult {
		log.Warning("GitHub pull: %s/%s:%s: %v", cfg.Owner, cfg.Repo, file.Path, err)
		return drivers.SyncResult{ExternalID: file.Path, Error: err.Error()}
	}

	data, sha, err := readFile(ctx, client, cfg, file.Path)
	if err != nil {
		return fail(err)
	}
	format, _ := codec.FormatFromExtension(file.Name)
	body, err := codec.Deserialize(format, string(data))
	if err != nil {
		return fail(fmt.Errorf("failed to parse %s: %w", file.Path, err))
	}

	doc := PulledDocument(basePath, file.Path)
	doc.Content = body
	return drivers.SyncResult{
		Success:    true,
		ExternalID: file.Path,
		Document:   &doc,
		Metadata:   map[string]any{"sha": sha, "path": file.Path, "url": file.HTMLURL},
	}
}

// readFile fetches and decodes a file. Files above the contents API size limit come back
// without content and are read through the blob API.
func readFile(ctx context.Context, client *apiclient.Client, cfg *Config, filePath string) ([]byte, string, error) {
	entry, err := getFile(ctx, client, cfg, filePath)
	if err != nil {
		return nil, "", fmt.Errorf("failed to fetch %s: %w", filePath, err)
	}
	if entry == nil {
		return nil, "", fmt.Errorf("%s: %w", filePath, drivers.ErrNotFound)
	}

	content := entry.Content
	if entry.Encoding != "base64" {
		var blob fileEntry
		if _, err := client.Get(ctx, repoPath(cfg, "git/blobs/"+entry.SHA), nil, &blob); err != nil {
			return nil, "", fmt.Errorf("failed to fetch blob of %s: %w", filePath, err)
		}
		content = blob.Content
	}
	data, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(content, "\n", ""))
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode %s: %w", filePath, err)
	}
	return data, entry.SHA, nil
}

// PulledDocument derives title, slug and folder path from a repository path. The folder
// path is relative to basePath and only .md titles drop their extension, so the document
// pushes back to the same file.
func PulledDocument(basePath, filePath string) drivers.PulledDocument {
	rel := strings.TrimPrefix(filePath, "/")
	if base := strings.Trim(basePath, "/"); base != "" {
		rel = strings.TrimPrefix(strings.TrimPrefix(rel, base), "/")
	}
	dir, name := path.Split(rel)
	stem := strings.TrimSuffix(name, path.Ext(name))
	title := name
	if extension(name) == "md" {
		title = stem
	}
	return drivers.PulledDocument{
		Title:      title,
		Slug:       strings.ToLower(stem),
		FolderPath: strings.TrimSuffix(dir, "/"),
	}
}
