package wordpress

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/http"
	"net/url"
	"strconv"

	"github.com/getevo/evo/v2/lib/log"

	"github.com/lydiehq/lydie-sub003/apps/integrations/drivers"
	"github.com/lydiehq/lydie-sub003/lib/apiclient"
	"github.com/lydiehq/lydie-sub003/lib/codec"
)

const perPage = 100

type rendered struct {
	Rendered string `json:"rendered"`
}

// entry is a page or post as returned by the REST API.
type entry struct {
	ID       int64    `json:"id"`
	Slug     string   `json:"slug"`
	Status   string   `json:"status"`
	Link     string   `json:"link"`
	Modified string   `json:"modified_gmt"`
	Title    rendered `json:"title"`
	Content  rendered `json:"content"`
}

// payload is the body of create and update requests.
type payload struct {
	Title   string `json:"title"`
	Slug    string `json:"slug"`
	Content string `json:"content"`
	Status  string `json:"status,omitempty"`
}

func findBySlug(ctx context.Context, client *apiclient.Client, coll, slug string) (*entry, error) {
	var found []entry
	query := url.Values{"slug": {slug}, "status": {"any"}, "per_page": {"1"}}
	if _, err := client.Get(ctx, "/"+coll, query, &found); err != nil {
		if apiclient.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	for _, e := range found {
		if e.Slug == slug {
			return &e, nil
		}
	}
	return nil, nil
}

// Push upserts the document by slug into the configured collection. New items are published;
// updates keep the item's current status.
func (d *Driver) Push(ctx context.Context, opts drivers.PushOptions) (drivers.SyncResult, *drivers.CredentialUpdate) {
	doc := opts.Document
	cfg, err := config(opts.Connection)
	if err != nil {
		return drivers.Failed(doc.ID, err), nil
	}
	coll := cfg.resourceType()
	slug := drivers.DocumentSlug(doc)
	if slug == "" {
		return drivers.Failed(doc.ID, errors.New("document has no slug or title to derive one from")), nil
	}
	client := d.client(cfg)

	existing, err := findBySlug(ctx, client, coll, slug)
	if err != nil {
		return drivers.Failed(doc.ID, fmt.Errorf("failed to look up %s %q: %w", singular(coll), slug, err)), nil
	}

	body := payload{Title: doc.Title, Slug: slug, Content: codec.SerializeToHTML(doc.Content)}
	var saved entry
	message := "Created " + singular(coll)
	if existing != nil {
		message = "Updated " + singular(coll)
		_, err = client.Post(ctx, fmt.Sprintf("/%s/%d", coll, existing.ID), body, &saved)
	} else {
		body.Status = "publish"
		_, err = client.Post(ctx, "/"+coll, body, &saved)
	}
	if err != nil {
		return drivers.Failed(doc.ID, fmt.Errorf("failed to save %s %q: %w", singular(coll), slug, err)), nil
	}

	return drivers.SyncResult{
		Success:    true,
		DocumentID: doc.ID,
		ExternalID: strconv.FormatInt(saved.ID, 10),
		Message:    message,
		Metadata:   map[string]any{"resourceType": coll, "slug": saved.Slug, "url": saved.Link, "status": saved.Status},
	}, nil
}

// Pull imports every page and post. A collection that cannot be listed is reported as one
// failed result; rejected credentials fail the whole pull.
func (d *Driver) Pull(ctx context.Context, opts drivers.PullOptions) ([]drivers.SyncResult, *drivers.CredentialUpdate, error) {
	cfg, err := config(opts.Connection)
	if err != nil {
		return nil, nil, err
	}
	client := d.client(cfg)
	results := []drivers.SyncResult{}

	for _, coll := range []string{ResourcePages, ResourcePosts} {
		entries, err := listAll(ctx, client, coll)
		if err != nil {
			if apiclient.StatusCode(err) == http.StatusUnauthorized {
				return nil, nil, fmt.Errorf("%w: WordPress rejected the application password for %s", drivers.ErrInvalidCredentials, cfg.Username)
			}
			log.Warning("WordPress pull: failed to list %s of %s: %v", coll, cfg.SiteURL, err)
			results = append(results, drivers.SyncResult{Error: fmt.Sprintf("failed to list %s: %v", coll, err)})
		}
		for _, e := range entries {
			results = append(results, pulled(coll, e))
		}
	}
	return results, nil, nil
}

func pulled(coll string, e entry) drivers.SyncResult {
	id := strconv.FormatInt(e.ID, 10)
	body, err := codec.DeserializeFromHTML(e.Content.Rendered)
	if err != nil {
		return drivers.SyncResult{ExternalID: id, Error: fmt.Sprintf("failed to parse %s %q: %v", singular(coll), e.Slug, err)}
	}
	return drivers.SyncResult{
		Success:    true,
		ExternalID: id,
		Document: &drivers.PulledDocument{
			Title:   html.UnescapeString(e.Title.Rendered),
			Slug:    e.Slug,
			Content: body,
		},
		Metadata: map[string]any{"resourceType": coll, "url": e.Link, "status": e.Status, "modified": e.Modified},
	}
}

// listAll reads every page of a collection, stopping at X-WP-TotalPages.
func listAll(ctx context.Context, client *apiclient.Client, coll string) ([]entry, error) {
	var all []entry
	for page, total := 1, 1; page <= total; page++ {
		var batch []entry
		query := url.Values{
			"per_page": {strconv.Itoa(perPage)},
			"page":     {strconv.Itoa(page)},
			"status":   {"any"},
		}
		resp, err := client.Get(ctx, "/"+coll, query, &batch)
		if err != nil {
			return all, err
		}
		all = append(all, batch...)
		if n, err := strconv.Atoi(resp.Header.Get("X-WP-TotalPages")); err == nil {
			total = n
		}
	}
	return all, nil
}

// Delete permanently removes the item, bypassing the trash. 404 and 410 count as deleted.
func (d *Driver) Delete(ctx context.Context, opts drivers.DeleteOptions) (drivers.SyncResult, *drivers.CredentialUpdate) {
	cfg, err := config(opts.Connection)
	if err != nil {
		return drivers.Failed(opts.DocumentID, err), nil
	}
	coll := cfg.resourceType()
	if _, err := strconv.ParseInt(opts.ExternalID, 10, 64); err != nil {
		return drivers.Failed(opts.DocumentID, fmt.Errorf("invalid %s id %q", singular(coll), opts.ExternalID)), nil
	}

	result := drivers.SyncResult{Success: true, DocumentID: opts.DocumentID, ExternalID: opts.ExternalID, Message: "Deleted " + singular(coll)}
	_, err = d.client(cfg).Delete(ctx, "/"+coll+"/"+opts.ExternalID, url.Values{"force": {"true"}}, nil)
	if err != nil {
		if !apiclient.IsNotFound(err) && !apiclient.IsGone(err) {
			return drivers.Failed(opts.DocumentID, fmt.Errorf("failed to delete %s %s: %w", singular(coll), opts.ExternalID, err)), nil
		}
		result.Message = "Already deleted"
	}
	return result, nil
}

func singular(coll string) string {
	if coll == ResourcePages {
		return "page"
	}
	return "post"
}
