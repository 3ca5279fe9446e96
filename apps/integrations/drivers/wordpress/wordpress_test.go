package wordpress

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lydiehq/lydie-sub003/apps/integrations/drivers"
	"github.com/lydiehq/lydie-sub003/lib/codec"
)

const pageSize = 2

// fakeSite serves the pages and posts collections of the REST API.
type fakeSite struct {
	t             *testing.T
	mu            sync.Mutex
	nextID        int64
	items         map[string]map[int64]entry
	gone          map[int64]bool
	failListing   map[string]bool
	searchMissing bool
	lists         int
}

func newFakeSite(t *testing.T) (*fakeSite, *httptest.Server) {
	f := &fakeSite{
		t:           t,
		nextID:      100,
		items:       map[string]map[int64]entry{ResourcePages: {}, ResourcePosts: {}},
		gone:        map[int64]bool{},
		failListing: map[string]bool{},
	}
	server := httptest.NewServer(f)
	t.Cleanup(server.Close)
	return f, server
}

func (f *fakeSite) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	user, pass, ok := r.BasicAuth()
	if !ok || user != "editor" || pass != "abcd efgh ijkl" {
		w.WriteHeader(http.StatusUnauthorized)
		writeJSON(w, map[string]any{"code": "rest_not_logged_in"})
		return
	}
	path, ok := strings.CutPrefix(r.URL.Path, apiPath+"/")
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if path == "users/me" {
		writeJSON(w, map[string]any{"id": 1, "name": "Editor"})
		return
	}

	parts := strings.Split(path, "/")
	items, ok := f.items[parts[0]]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			if f.searchMissing && r.URL.Query().Get("slug") != "" {
				w.WriteHeader(http.StatusNotFound)
				writeJSON(w, map[string]any{"code": "rest_no_route"})
				return
			}
			f.list(w, r, parts[0], items)
		case http.MethodPost:
			var body payload
			assert.NoError(f.t, json.NewDecoder(r.Body).Decode(&body))
			f.nextID++
			e := entry{ID: f.nextID, Slug: body.Slug, Status: body.Status, Title: rendered{body.Title}, Content: rendered{body.Content}}
			items[e.ID] = e
			w.WriteHeader(http.StatusCreated)
			writeJSON(w, e)
		}
		return
	}

	id, _ := strconv.ParseInt(parts[1], 10, 64)
	if f.gone[id] {
		w.WriteHeader(http.StatusGone)
		return
	}
	e, ok := items[id]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		writeJSON(w, map[string]any{"code": "rest_post_invalid_id"})
		return
	}
	switch r.Method {
	case http.MethodPost:
		var body payload
		assert.NoError(f.t, json.NewDecoder(r.Body).Decode(&body))
		e.Slug, e.Title, e.Content = body.Slug, rendered{body.Title}, rendered{body.Content}
		if body.Status != "" {
			e.Status = body.Status
		}
		items[id] = e
		writeJSON(w, e)
	case http.MethodDelete:
		assert.Equal(f.t, "true", r.URL.Query().Get("force"))
		delete(items, id)
		writeJSON(w, map[string]any{"deleted": true, "previous": e})
	}
}

func (f *fakeSite) list(w http.ResponseWriter, r *http.Request, coll string, items map[int64]entry) {
	f.lists++
	if f.failListing[coll] {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	all := make([]entry, 0, len(items))
	for _, e := range items {
		if slug := r.URL.Query().Get("slug"); slug != "" && e.Slug != slug {
			continue
		}
		all = append(all, e)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })

	size := pageSize
	if n, err := strconv.Atoi(r.URL.Query().Get("per_page")); err == nil && n < size {
		size = n
	}
	pages := (len(all) + size - 1) / size
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	start := min((page-1)*size, len(all))
	end := min(start+size, len(all))

	w.Header().Set("X-WP-Total", strconv.Itoa(len(all)))
	w.Header().Set("X-WP-TotalPages", strconv.Itoa(pages))
	writeJSON(w, all[start:end])
}

func writeJSON(w http.ResponseWriter, v any) {
	_ = json.NewEncoder(w).Encode(v)
}

func newConnection(server *httptest.Server, cfg Config) *drivers.Connection {
	cfg.SiteURL = server.URL + "/"
	if cfg.Username == "" {
		cfg.Username = "editor"
	}
	if cfg.ApplicationPassword == "" {
		cfg.ApplicationPassword = "abcd efgh ijkl"
	}
	return &drivers.Connection{ID: "conn-wp", Provider: TypeID, Config: &cfg}
}

func testDocument(text string) drivers.SyncDocument {
	return drivers.SyncDocument{
		ID:      "doc-1",
		Title:   "Release Notes",
		Content: codec.NewDocument(codec.Paragraph(codec.Text(text, codec.Mark{Type: codec.MarkBold}))),
	}
}

func TestValidateConnection(t *testing.T) {
	_, server := newFakeSite(t)
	d := New()
	ctx := context.Background()

	assert.NoError(t, d.ValidateConnection(ctx, newConnection(server, Config{})))
	assert.ErrorIs(t, d.ValidateConnection(ctx, newConnection(server, Config{ApplicationPassword: "wrong"})), drivers.ErrInvalidCredentials)
	assert.ErrorIs(t, d.ValidateConnection(ctx, newConnection(server, Config{ResourceType: "media"})), drivers.ErrInvalidConfig)

	missing := &drivers.Connection{Provider: TypeID, Config: &Config{SiteURL: server.URL}}
	err := d.ValidateConnection(ctx, missing)
	require.ErrorIs(t, err, drivers.ErrInvalidConfig)
	assert.Contains(t, err.Error(), "username")
	assert.Contains(t, err.Error(), "applicationPassword")
}

func TestOnConnect(t *testing.T) {
	links := New().OnConnect().Links
	require.Len(t, links, 2)
	assert.Equal(t, "Pages", links[0].Name)
	assert.Equal(t, ResourcePages, links[0].Config["resourceType"])
	assert.Equal(t, "Posts", links[1].Name)
	assert.Equal(t, ResourcePosts, links[1].Config["resourceType"])
}

func TestPush_UpsertsBySlug(t *testing.T) {
	fake, server := newFakeSite(t)
	d := New()
	conn := newConnection(server, Config{ResourceType: ResourcePages})

	first, update := d.Push(context.Background(), drivers.PushOptions{Document: testDocument("v1"), Connection: conn})
	require.True(t, first.Success, first.Error)
	assert.Nil(t, update)
	assert.Equal(t, "Created page", first.Message)

	second, _ := d.Push(context.Background(), drivers.PushOptions{Document: testDocument("v2"), Connection: conn})
	require.True(t, second.Success, second.Error)
	assert.Equal(t, "Updated page", second.Message)
	assert.Equal(t, first.ExternalID, second.ExternalID)

	require.Len(t, fake.items[ResourcePages], 1)
	assert.Empty(t, fake.items[ResourcePosts])
	for _, e := range fake.items[ResourcePages] {
		assert.Equal(t, "release-notes", e.Slug)
		assert.Equal(t, "publish", e.Status)
		assert.Contains(t, e.Content.Rendered, "<strong>v2</strong>")
	}
}

func TestPush_SearchNotFoundCreates(t *testing.T) {
	fake, server := newFakeSite(t)
	fake.searchMissing = true
	d := New()
	conn := newConnection(server, Config{ResourceType: ResourcePages})

	result, _ := d.Push(context.Background(), drivers.PushOptions{Document: testDocument("v1"), Connection: conn})
	require.True(t, result.Success, result.Error)
	assert.Equal(t, "Created page", result.Message)
	assert.Len(t, fake.items[ResourcePages], 1)
}

func TestPush_DefaultsToPosts(t *testing.T) {
	fake, server := newFakeSite(t)
	result, _ := New().Push(context.Background(), drivers.PushOptions{Document: testDocument("hello"), Connection: newConnection(server, Config{})})
	require.True(t, result.Success, result.Error)
	assert.Equal(t, "Created post", result.Message)
	assert.Len(t, fake.items[ResourcePosts], 1)
}

func TestDelete(t *testing.T) {
	fake, server := newFakeSite(t)
	d := New()
	conn := newConnection(server, Config{})

	pushed, _ := d.Push(context.Background(), drivers.PushOptions{Document: testDocument("bye"), Connection: conn})
	require.True(t, pushed.Success, pushed.Error)

	opts := drivers.DeleteOptions{DocumentID: "doc-1", ExternalID: pushed.ExternalID, Connection: conn}
	first, _ := d.Delete(context.Background(), opts)
	require.True(t, first.Success, first.Error)
	assert.Equal(t, "Deleted post", first.Message)
	assert.Empty(t, fake.items[ResourcePosts])

	second, _ := d.Delete(context.Background(), opts)
	require.True(t, second.Success, second.Error)
	assert.Equal(t, "Already deleted", second.Message)

	fake.gone[55] = true
	gone, _ := d.Delete(context.Background(), drivers.DeleteOptions{DocumentID: "doc-2", ExternalID: "55", Connection: conn})
	require.True(t, gone.Success, gone.Error)
	assert.Equal(t, "Already deleted", gone.Message)

	invalid, _ := d.Delete(context.Background(), drivers.DeleteOptions{DocumentID: "doc-3", ExternalID: "abc", Connection: conn})
	assert.False(t, invalid.Success)
}

func TestPull(t *testing.T) {
	fake, server := newFakeSite(t)
	fake.items[ResourcePosts][1] = entry{ID: 1, Slug: "hello", Status: "publish", Title: rendered{"Tom &#038; Jerry"}, Content: rendered{"<p>Hi <em>there</em></p>"}}
	fake.items[ResourcePosts][2] = entry{ID: 2, Slug: "draft", Status: "draft", Title: rendered{"Draft"}, Content: rendered{"<p>Later</p>"}}
	fake.items[ResourcePages][4] = entry{ID: 4, Slug: "about", Title: rendered{"About"}, Content: rendered{"<h2>About</h2>"}}

	results, update, err := New().Pull(context.Background(), drivers.PullOptions{Connection: newConnection(server, Config{})})
	require.NoError(t, err)
	assert.Nil(t, update)
	require.Len(t, results, 3)

	byID := map[string]drivers.SyncResult{}
	for _, r := range results {
		byID[r.ExternalID] = r
	}
	assert.Equal(t, ResourcePages, byID["4"].Metadata["resourceType"])
	require.True(t, byID["1"].Success)
	assert.Equal(t, "Tom & Jerry", byID["1"].Document.Title)
	assert.Equal(t, "hello", byID["1"].Document.Slug)
	assert.Equal(t, "Hi there", byID["1"].Document.Content.PlainText())
	assert.True(t, byID["2"].Success)
	assert.Equal(t, "draft", byID["2"].Metadata["status"])
}

func TestPull_IsolatesCollectionFailure(t *testing.T) {
	fake, server := newFakeSite(t)
	fake.items[ResourcePosts][1] = entry{ID: 1, Slug: "hello", Title: rendered{"Hello"}, Content: rendered{"<p>Hi</p>"}}
	fake.failListing[ResourcePages] = true

	results, _, err := New().Pull(context.Background(), drivers.PullOptions{Connection: newConnection(server, Config{})})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.False(t, results[0].Success)
	assert.Contains(t, results[0].Error, "pages")
	assert.True(t, results[1].Success)
}

func TestPull_RejectedCredentials(t *testing.T) {
	_, server := newFakeSite(t)
	_, _, err := New().Pull(context.Background(), drivers.PullOptions{Connection: newConnection(server, Config{ApplicationPassword: "nope"})})
	assert.ErrorIs(t, err, drivers.ErrInvalidCredentials)
}

func TestPull_FollowsTotalPages(t *testing.T) {
	fake, server := newFakeSite(t)
	for i := int64(1); i <= 5; i++ {
		fake.items[ResourcePosts][i] = entry{ID: i, Slug: "post-" + strconv.FormatInt(i, 10), Title: rendered{"Post"}, Content: rendered{"<p>x</p>"}}
	}

	results, _, err := New().Pull(context.Background(), drivers.PullOptions{Connection: newConnection(server, Config{})})
	require.NoError(t, err)
	assert.Len(t, results, 5)
	// one empty pages listing plus three pages of posts
	assert.Equal(t, 4, fake.lists)
}

func TestFetchResources(t *testing.T) {
	fake, server := newFakeSite(t)
	fake.items[ResourcePosts][1] = entry{ID: 1, Slug: "a"}
	fake.items[ResourcePosts][2] = entry{ID: 2, Slug: "b"}

	resources, _, err := New().FetchResources(context.Background(), newConnection(server, Config{}))
	require.NoError(t, err)
	require.Len(t, resources, 2)
	assert.Equal(t, "pages", resources[0].ID)
	assert.Equal(t, 0, resources[0].Metadata["total"])
	assert.Equal(t, "Posts", resources[1].Name)
	assert.Equal(t, 2, resources[1].Metadata["total"])
}

func TestConfigMismatch(t *testing.T) {
	conn := &drivers.Connection{Provider: "shopify", Config: otherConfig{}}
	assert.ErrorIs(t, New().ValidateConnection(context.Background(), conn), drivers.ErrConfigMismatch)
}

type otherConfig struct{}

func (otherConfig) Provider() string { return "shopify" }
