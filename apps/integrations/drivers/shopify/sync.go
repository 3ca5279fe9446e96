package shopify

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"github.com/getevo/evo/v2/lib/log"
	"golang.org/x/sync/errgroup"

	"github.com/lydiehq/lydie-sub003/apps/integrations/drivers"
	"github.com/lydiehq/lydie-sub003/lib/apiclient"
	"github.com/lydiehq/lydie-sub003/lib/codec"
)

// item is a page, article or blog of the Admin REST API.
type item struct {
	ID       int64  `json:"id,omitempty"`
	Title    string `json:"title"`
	Handle   string `json:"handle,omitempty"`
	BodyHTML string `json:"body_html,omitempty"`
	BlogID   int64  `json:"blog_id,omitempty"`
}

// collection addresses pages or the articles of one blog.
type collection struct {
	path     string
	singular string
	plural   string
	blogID   string
}

func pagesCollection() collection {
	return collection{path: "/pages", singular: "page", plural: "pages"}
}

func articlesCollection(blogID string) collection {
	return collection{path: "/blogs/" + url.PathEscape(blogID) + "/articles", singular: "article", plural: "articles", blogID: blogID}
}

func (c collection) resourceType() string {
	if c.blogID != "" {
		return ResourceArticle
	}
	return ResourcePage
}

// target resolves the collection a connection writes to.
func target(cfg *Config) (collection, error) {
	if cfg.resourceType() != ResourceArticle {
		return pagesCollection(), nil
	}
	if cfg.ResourceID == "" {
		return collection{}, fmt.Errorf("%w: blog article sync requires resourceId (the blog id)", drivers.ErrInvalidConfig)
	}
	return articlesCollection(cfg.ResourceID), nil
}

func findByHandle(ctx context.Context, client *apiclient.Client, coll collection, handle string) (*item, error) {
	var resp map[string][]item
	query := url.Values{"handle": {handle}, "limit": {"1"}}
	if _, err := client.Get(ctx, coll.path+".json", query, &resp); err != nil {
		if apiclient.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	for _, it := range resp[coll.plural] {
		if it.Handle == handle {
			return &it, nil
		}
	}
	return nil, nil
}

// Push upserts the document by handle into the configured pages collection or blog.
func (d *Driver) Push(ctx context.Context, opts drivers.PushOptions) (drivers.SyncResult, *drivers.CredentialUpdate) {
	doc := opts.Document
	cfg, err := config(opts.Connection)
	if err != nil {
		return drivers.Failed(doc.ID, err), nil
	}
	coll, err := target(cfg)
	if err != nil {
		return drivers.Failed(doc.ID, err), nil
	}
	handle := drivers.DocumentSlug(doc)
	if handle == "" {
		return drivers.Failed(doc.ID, errors.New("document has no slug or title to derive a handle from")), nil
	}
	client := d.client(cfg)

	if coll.blogID != "" {
		var blog map[string]item
		if _, err := client.Get(ctx, "/blogs/"+url.PathEscape(coll.blogID)+".json", nil, &blog); err != nil {
			if apiclient.IsNotFound(err) {
				return drivers.Failed(doc.ID, fmt.Errorf("blog %s does not exist: %w", coll.blogID, drivers.ErrNotFound)), nil
			}
			return drivers.Failed(doc.ID, fmt.Errorf("failed to verify blog %s: %w", coll.blogID, err)), nil
		}
	}

	existing, err := findByHandle(ctx, client, coll, handle)
	if err != nil {
		return drivers.Failed(doc.ID, fmt.Errorf("failed to look up %s %q: %w", coll.singular, handle, err)), nil
	}

	payload := item{Title: doc.Title, Handle: handle, BodyHTML: codec.SerializeToHTML(doc.Content)}
	var saved map[string]item
	message := "Created " + coll.singular
	if existing != nil {
		payload.ID = existing.ID
		message = "Updated " + coll.singular
		_, err = client.Put(ctx, fmt.Sprintf("%s/%d.json", coll.path, existing.ID), map[string]item{coll.singular: payload}, &saved)
	} else {
		_, err = client.Post(ctx, coll.path+".json", map[string]item{coll.singular: payload}, &saved)
	}
	if err != nil {
		return drivers.Failed(doc.ID, fmt.Errorf("failed to save %s %q: %w", coll.singular, handle, err)), nil
	}

	result := saved[coll.singular]
	return drivers.SyncResult{
		Success:    true,
		DocumentID: doc.ID,
		ExternalID: strconv.FormatInt(result.ID, 10),
		Message:    message,
		Metadata:   resultMetadata(coll, result),
	}, nil
}

func resultMetadata(coll collection, it item) map[string]any {
	meta := map[string]any{"resourceType": coll.resourceType(), "handle": it.Handle}
	if coll.blogID != "" {
		meta["blogId"] = coll.blogID
	}
	return meta
}

// Pull imports all pages, then the articles of every blog. A failed listing or item is
// reported as its own failed result.
func (d *Driver) Pull(ctx context.Context, opts drivers.PullOptions) ([]drivers.SyncResult, *drivers.CredentialUpdate, error) {
	cfg, err := config(opts.Connection)
	if err != nil {
		return nil, nil, err
	}
	client := d.client(cfg)
	results := []drivers.SyncResult{}

	pages, err := listAll(ctx, client, "/pages.json", "pages")
	if err != nil {
		log.Warning("Shopify pull: failed to list pages of %s: %v", cfg.Shop, err)
		results = append(results, drivers.SyncResult{Error: fmt.Sprintf("failed to list pages: %v", err)})
	}
	for _, page := range pages {
		results = append(results, pulled(pagesCollection(), page))
	}

	blogs, err := listAll(ctx, client, "/blogs.json", "blogs")
	if err != nil {
		log.Warning("Shopify pull: failed to list blogs of %s: %v", cfg.Shop, err)
		results = append(results, drivers.SyncResult{Error: fmt.Sprintf("failed to list blogs: %v", err)})
		return results, nil, nil
	}

	perBlog := make([][]drivers.SyncResult, len(blogs))
	var g errgroup.Group
	g.SetLimit(d.concurrency)
	for i, blog := range blogs {
		g.Go(func() error {
			coll := articlesCollection(strconv.FormatInt(blog.ID, 10))
			articles, err := listAll(ctx, client, coll.path+".json", "articles")
			if err != nil {
				log.Warning("Shopify pull: failed to list articles of blog %d on %s: %v", blog.ID, cfg.Shop, err)
				perBlog[i] = []drivers.SyncResult{{
					ExternalID: coll.blogID,
					Error:      fmt.Sprintf("failed to list articles of blog %q: %v", blog.Title, err),
				}}
				return nil
			}
			out := make([]drivers.SyncResult, 0, len(articles))
			for _, article := range articles {
				out = append(out, pulled(coll, article))
			}
			perBlog[i] = out
			return nil
		})
	}
	_ = g.Wait()

	for _, blogResults := range perBlog {
		results = append(results, blogResults...)
	}
	return results, nil, nil
}

func pulled(coll collection, it item) drivers.SyncResult {
	id := strconv.FormatInt(it.ID, 10)
	body, err := codec.DeserializeFromHTML(it.BodyHTML)
	if err != nil {
		return drivers.SyncResult{ExternalID: id, Error: fmt.Sprintf("failed to parse %s %q: %v", coll.singular, it.Handle, err)}
	}
	return drivers.SyncResult{
		Success:    true,
		ExternalID: id,
		Document:   &drivers.PulledDocument{Title: it.Title, Slug: it.Handle, Content: body},
		Metadata:   resultMetadata(coll, it),
	}
}

// listAll follows Link rel="next" pagination.
func listAll(ctx context.Context, client *apiclient.Client, path, key string) ([]item, error) {
	var all []item
	next := path
	query := url.Values{"limit": {pageLimit}}
	for next != "" {
		var page map[string][]item
		resp, err := client.Get(ctx, next, query, &page)
		if err != nil {
			return all, err
		}
		all = append(all, page[key]...)
		next = apiclient.NextLink(resp.Header)
		// The next link already carries limit and page_info.
		query = nil
	}
	return all, nil
}

// Delete removes the page or article. A missing resource counts as deleted.
func (d *Driver) Delete(ctx context.Context, opts drivers.DeleteOptions) (drivers.SyncResult, *drivers.CredentialUpdate) {
	cfg, err := config(opts.Connection)
	if err != nil {
		return drivers.Failed(opts.DocumentID, err), nil
	}
	coll, err := target(cfg)
	if err != nil {
		return drivers.Failed(opts.DocumentID, err), nil
	}
	if _, err := strconv.ParseInt(opts.ExternalID, 10, 64); err != nil {
		return drivers.Failed(opts.DocumentID, fmt.Errorf("invalid %s id %q", coll.singular, opts.ExternalID)), nil
	}

	result := drivers.SyncResult{Success: true, DocumentID: opts.DocumentID, ExternalID: opts.ExternalID, Message: "Deleted " + coll.singular}
	if _, err := d.client(cfg).Delete(ctx, coll.path+"/"+opts.ExternalID+".json", nil, nil); err != nil {
		if !apiclient.IsNotFound(err) {
			return drivers.Failed(opts.DocumentID, fmt.Errorf("failed to delete %s %s: %w", coll.singular, opts.ExternalID, err)), nil
		}
		result.Message = "Already deleted"
	}
	return result, nil
}

// FetchResources returns the pages collection and one resource per blog.
func (d *Driver) FetchResources(ctx context.Context, conn *drivers.Connection) ([]drivers.ExternalResource, *drivers.CredentialUpdate, error) {
	cfg, err := config(conn)
	if err != nil {
		return nil, nil, err
	}
	blogs, err := listAll(ctx, d.client(cfg), "/blogs.json", "blogs")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list blogs of %s: %w", cfg.Shop, err)
	}

	resources := []drivers.ExternalResource{{
		ID:       "pages",
		Name:     "Pages",
		FullName: cfg.Shop + " / Pages",
		Metadata: map[string]any{"resourceType": ResourcePage},
	}}
	for _, blog := range blogs {
		resources = append(resources, drivers.ExternalResource{
			ID:       strconv.FormatInt(blog.ID, 10),
			Name:     blog.Title,
			FullName: cfg.Shop + " / " + blog.Title,
			Metadata: map[string]any{"resourceType": ResourceArticle, "handle": blog.Handle},
		})
	}
	return resources, nil, nil
}
