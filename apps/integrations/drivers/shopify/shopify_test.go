package shopify

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
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

const apiPrefix = "/admin/api/" + DefaultAPIVersion

// fakeShop is an in-memory store with pages and blogs.
type fakeShop struct {
	t          *testing.T
	mu         sync.Mutex
	baseURL    string
	nextID     int64
	pages      map[int64]item
	blogs      map[int64]item
	articles   map[int64]map[int64]item
	failBlogs  map[int64]bool
	failPages  bool
	tokenCalls int
}

func newFakeShop(t *testing.T) (*fakeShop, *httptest.Server) {
	f := &fakeShop{
		t:         t,
		nextID:    1000,
		pages:     map[int64]item{},
		blogs:     map[int64]item{},
		articles:  map[int64]map[int64]item{},
		failBlogs: map[int64]bool{},
	}
	server := httptest.NewServer(f)
	f.baseURL = server.URL
	t.Cleanup(server.Close)
	return f, server
}

func (f *fakeShop) addBlog(id int64, title string) {
	f.blogs[id] = item{ID: id, Title: title, Handle: drivers.Slugify(title)}
	f.articles[id] = map[int64]item{}
}

func (f *fakeShop) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if r.URL.Path == "/admin/oauth/access_token" {
		f.tokenCalls++
		assert.NoError(f.t, r.ParseForm())
		assert.Equal(f.t, "client-id", r.PostForm.Get("client_id"))
		assert.Equal(f.t, "client-secret", r.PostForm.Get("client_secret"))
		writeJSON(w, map[string]any{"access_token": "shpat_new", "scope": "read_content,write_content"})
		return
	}

	path, ok := strings.CutPrefix(r.URL.Path, apiPrefix)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if r.Header.Get("X-Shopify-Access-Token") != "shpat_good" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	path = strings.TrimSuffix(path, ".json")
	parts := strings.Split(strings.Trim(path, "/"), "/")

	switch {
	case path == "/shop":
		writeJSON(w, map[string]any{"shop": map[string]any{"name": "Acme", "domain": "acme.myshopify.com"}})
	case path == "/pages" && f.failPages && r.Method == http.MethodGet:
		w.WriteHeader(http.StatusInternalServerError)
	case parts[0] == "pages":
		f.collection(w, r, f.pages, "page", "pages", parts[1:])
	case path == "/blogs":
		writeJSON(w, map[string]any{"blogs": sorted(f.blogs)})
	case parts[0] == "blogs" && len(parts) == 2:
		blog, ok := f.blogs[parseID(parts[1])]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		writeJSON(w, map[string]any{"blog": blog})
	case parts[0] == "blogs" && len(parts) >= 3 && parts[2] == "articles":
		blogID := parseID(parts[1])
		articles, ok := f.articles[blogID]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if f.failBlogs[blogID] {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		f.collection(w, r, articles, "article", "articles", parts[3:])
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakeShop) collection(w http.ResponseWriter, r *http.Request, items map[int64]item, singular, plural string, rest []string) {
	switch {
	case len(rest) == 0 && r.Method == http.MethodGet:
		all := sorted(items)
		if handle := r.URL.Query().Get("handle"); handle != "" {
			var matched []item
			for _, it := range all {
				if it.Handle == handle {
					matched = append(matched, it)
				}
			}
			writeJSON(w, map[string]any{plural: matched})
			return
		}
		// Two items per page, the second page addressed by page_info.
		if r.URL.Query().Get("page_info") == "" && len(all) > 2 {
			w.Header().Set("Link", fmt.Sprintf(`<%s%s?limit=2&page_info=p2>; rel="next"`, f.baseURL, r.URL.Path))
			all = all[:2]
		} else if r.URL.Query().Get("page_info") == "p2" {
			all = all[2:]
		}
		writeJSON(w, map[string]any{plural: all})
	case len(rest) == 0 && r.Method == http.MethodPost:
		var body map[string]item
		assert.NoError(f.t, json.NewDecoder(r.Body).Decode(&body))
		it := body[singular]
		f.nextID++
		it.ID = f.nextID
		items[it.ID] = it
		w.WriteHeader(http.StatusCreated)
		writeJSON(w, map[string]any{singular: it})
	case len(rest) == 1:
		id := parseID(rest[0])
		existing, ok := items[id]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		switch r.Method {
		case http.MethodPut:
			var body map[string]item
			assert.NoError(f.t, json.NewDecoder(r.Body).Decode(&body))
			updated := body[singular]
			updated.ID = existing.ID
			items[id] = updated
			writeJSON(w, map[string]any{singular: updated})
		case http.MethodDelete:
			delete(items, id)
			writeJSON(w, map[string]any{})
		default:
			writeJSON(w, map[string]any{singular: existing})
		}
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func sorted(items map[int64]item) []item {
	out := make([]item, 0, len(items))
	for _, it := range items {
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func parseID(s string) int64 {
	id, _ := strconv.ParseInt(s, 10, 64)
	return id
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func newDriver(server *httptest.Server) *Driver {
	return New(
		WithCredentials("client-id", "client-secret"),
		WithShopURL(func(string) string { return server.URL }),
	)
}

func newConnection(cfg Config) *drivers.Connection {
	if cfg.Shop == "" {
		cfg.Shop = "acme.myshopify.com"
	}
	if cfg.AccessToken == "" {
		cfg.AccessToken = "shpat_good"
	}
	return &drivers.Connection{ID: "conn-1", Provider: TypeID, Config: &cfg}
}

func testDocument(slug, text string) drivers.SyncDocument {
	return drivers.SyncDocument{
		ID:      "doc-1",
		Title:   "About us",
		Slug:    slug,
		Content: codec.NewDocument(codec.Heading(1, codec.Text("About")), codec.Paragraph(codec.Text(text))),
	}
}

func TestCleanShopDomain(t *testing.T) {
	tests := []struct {
		in    string
		clean string
		valid bool
	}{
		{"acme", "acme.myshopify.com", true},
		{"https://Acme.myshopify.com/", "acme.myshopify.com", true},
		{"http://acme-store.myshopify.com", "acme-store.myshopify.com", true},
		{"evil.example.com", "evil.example.com", false},
		{"acme.myshopify.com.evil.com", "acme.myshopify.com.evil.com", false},
		{"evil.com/acme.myshopify.com", "evil.com/acme.myshopify.com", false},
		{"-acme.myshopify.com", "-acme.myshopify.com", false},
		{"", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			clean := CleanShopDomain(tt.in)
			assert.Equal(t, tt.clean, clean)
			assert.Equal(t, tt.valid, ValidShopDomain(clean))
		})
	}
}

func TestBuildAuthorizationURL(t *testing.T) {
	d := New(WithCredentials("client-id", "client-secret"))
	creds, err := d.GetOAuthCredentials()
	require.NoError(t, err)

	raw, err := d.BuildAuthorizationURL(creds, "xyz", "https://app.example.com/callback", map[string]string{"shop": "Acme"})
	require.NoError(t, err)
	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "acme.myshopify.com", u.Host)
	assert.Equal(t, "/admin/oauth/authorize", u.Path)
	q := u.Query()
	assert.Equal(t, "client-id", q.Get("client_id"))
	assert.Equal(t, "xyz", q.Get("state"))
	assert.Equal(t, "read_content,write_content", q.Get("scope"))
	assert.Equal(t, "https://app.example.com/callback", q.Get("redirect_uri"))

	_, err = d.BuildAuthorizationURL(creds, "xyz", "", map[string]string{"shop": "evil.example.com"})
	assert.ErrorIs(t, err, ErrInvalidShop)

	_, err = New().GetOAuthCredentials()
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func signedQuery(values url.Values, secret string) url.Values {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var pairs []string
	for _, k := range keys {
		pairs = append(pairs, k+"="+values.Get(k))
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strings.Join(pairs, "&")))
	values.Set("hmac", hex.EncodeToString(mac.Sum(nil)))
	return values
}

func TestHandleOAuthCallback(t *testing.T) {
	fake, server := newFakeShop(t)
	d := newDriver(server)

	query := signedQuery(url.Values{
		"code":      {"abc"},
		"shop":      {"acme.myshopify.com"},
		"state":     {"xyz"},
		"timestamp": {"1700000000"},
	}, "client-secret")

	cfg, err := d.HandleOAuthCallback(context.Background(), query, nil)
	require.NoError(t, err)
	shopCfg := cfg.(*Config)
	assert.Equal(t, "acme.myshopify.com", shopCfg.Shop)
	assert.Equal(t, "shpat_new", shopCfg.AccessToken)
	assert.Equal(t, "read_content,write_content", shopCfg.Scope)
	assert.Equal(t, 1, fake.tokenCalls)

	query.Set("state", "tampered")
	_, err = d.HandleOAuthCallback(context.Background(), query, nil)
	assert.ErrorIs(t, err, ErrInvalidSignature)
	assert.Equal(t, 1, fake.tokenCalls)
}

func TestHandleOAuthCallback_RejectsForeignShopBeforeExchange(t *testing.T) {
	fake, server := newFakeShop(t)
	d := newDriver(server)

	for _, shop := range []string{"evil.example.com", "acme.myshopify.com.evil.com", "127.0.0.1"} {
		_, err := d.HandleOAuthCallback(context.Background(), url.Values{"shop": {shop}, "code": {"abc"}}, nil)
		assert.ErrorIs(t, err, ErrInvalidShop, shop)
	}
	assert.Zero(t, fake.tokenCalls)
}

func TestValidateConnection(t *testing.T) {
	_, server := newFakeShop(t)
	d := newDriver(server)
	ctx := context.Background()

	assert.NoError(t, d.ValidateConnection(ctx, newConnection(Config{})))
	assert.ErrorIs(t, d.ValidateConnection(ctx, newConnection(Config{AccessToken: "shpat_revoked"})), drivers.ErrInvalidCredentials)
	assert.ErrorIs(t, d.ValidateConnection(ctx, newConnection(Config{Shop: "evil.example.com"})), drivers.ErrInvalidConfig)
	assert.ErrorIs(t, d.ValidateConnection(ctx, newConnection(Config{ResourceType: "product"})), drivers.ErrInvalidConfig)
}

func TestPush_PageIsIdempotent(t *testing.T) {
	fake, server := newFakeShop(t)
	d := newDriver(server)
	conn := newConnection(Config{})

	first, _ := d.Push(context.Background(), drivers.PushOptions{Document: testDocument("about-us", "Hello"), Connection: conn})
	require.True(t, first.Success, first.Error)
	assert.Equal(t, "Created page", first.Message)

	second, _ := d.Push(context.Background(), drivers.PushOptions{Document: testDocument("about-us", "Hello again"), Connection: conn})
	require.True(t, second.Success, second.Error)
	assert.Equal(t, "Updated page", second.Message)
	assert.Equal(t, first.ExternalID, second.ExternalID)

	require.Len(t, fake.pages, 1)
	for _, page := range fake.pages {
		assert.Equal(t, "about-us", page.Handle)
		assert.Contains(t, page.BodyHTML, "<p>Hello again</p>")
	}
}

func TestPush_Article(t *testing.T) {
	fake, server := newFakeShop(t)
	d := newDriver(server)
	fake.addBlog(7, "News")

	result, _ := d.Push(context.Background(), drivers.PushOptions{
		Document:   testDocument("launch", "We launched"),
		Connection: newConnection(Config{ResourceType: ResourceArticle}),
	})
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "resourceId")

	result, _ = d.Push(context.Background(), drivers.PushOptions{
		Document:   testDocument("launch", "We launched"),
		Connection: newConnection(Config{ResourceType: ResourceArticle, ResourceID: "99"}),
	})
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "does not exist")

	result, _ = d.Push(context.Background(), drivers.PushOptions{
		Document:   testDocument("launch", "We launched"),
		Connection: newConnection(Config{ResourceType: ResourceArticle, ResourceID: "7"}),
	})
	require.True(t, result.Success, result.Error)
	assert.Equal(t, "7", result.Metadata["blogId"])
	assert.Len(t, fake.articles[7], 1)
	assert.Empty(t, fake.pages)
}

func TestDelete_Twice(t *testing.T) {
	fake, server := newFakeShop(t)
	d := newDriver(server)
	conn := newConnection(Config{})

	pushed, _ := d.Push(context.Background(), drivers.PushOptions{Document: testDocument("about-us", "Hello"), Connection: conn})
	require.True(t, pushed.Success, pushed.Error)

	opts := drivers.DeleteOptions{DocumentID: "doc-1", ExternalID: pushed.ExternalID, Connection: conn}
	first, _ := d.Delete(context.Background(), opts)
	require.True(t, first.Success, first.Error)
	assert.Empty(t, fake.pages)

	second, _ := d.Delete(context.Background(), opts)
	require.True(t, second.Success, second.Error)
	assert.Equal(t, "Already deleted", second.Message)
}

func TestPull_PagesAndArticles(t *testing.T) {
	fake, server := newFakeShop(t)
	d := newDriver(server)
	for i, handle := range []string{"about", "contact", "faq"} {
		fake.pages[int64(i+1)] = item{ID: int64(i + 1), Title: strings.ToUpper(handle), Handle: handle, BodyHTML: "<p>" + handle + "</p>"}
	}
	fake.addBlog(7, "News")
	fake.addBlog(8, "Broken")
	fake.articles[7][70] = item{ID: 70, Title: "Launch", Handle: "launch", BodyHTML: "<h2>Launch</h2><p>Today</p>", BlogID: 7}
	fake.failBlogs[8] = true

	results, update, err := d.Pull(context.Background(), drivers.PullOptions{Connection: newConnection(Config{})})
	require.NoError(t, err)
	assert.Nil(t, update)
	require.Len(t, results, 5)

	var failures, pages, articles int
	for _, r := range results {
		switch {
		case !r.Success:
			failures++
			assert.Contains(t, r.Error, "Broken")
		case r.Metadata["resourceType"] == ResourcePage:
			pages++
		case r.Metadata["resourceType"] == ResourceArticle:
			articles++
			assert.Equal(t, "launch", r.Document.Slug)
			assert.Equal(t, "Today", r.Document.Content.Content[1].PlainText())
		}
	}
	assert.Equal(t, 1, failures)
	assert.Equal(t, 3, pages)
	assert.Equal(t, 1, articles)
}

func TestPull_PagesFailureKeepsArticles(t *testing.T) {
	fake, server := newFakeShop(t)
	d := newDriver(server)
	fake.pages[1] = item{ID: 1, Title: "About", Handle: "about", BodyHTML: "<p>about</p>"}
	fake.addBlog(7, "News")
	fake.articles[7][70] = item{ID: 70, Title: "Launch", Handle: "launch", BodyHTML: "<p>Today</p>", BlogID: 7}
	fake.articles[7][71] = item{ID: 71, Title: "Roadmap", Handle: "roadmap", BodyHTML: "<p>Soon</p>", BlogID: 7}
	fake.failPages = true

	results, _, err := d.Pull(context.Background(), drivers.PullOptions{Connection: newConnection(Config{})})
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.False(t, results[0].Success)
	assert.Contains(t, results[0].Error, "failed to list pages")
	for _, r := range results[1:] {
		require.True(t, r.Success, r.Error)
		assert.Equal(t, ResourceArticle, r.Metadata["resourceType"])
	}
}

func TestFetchResources(t *testing.T) {
	fake, server := newFakeShop(t)
	d := newDriver(server)
	fake.addBlog(7, "News")

	resources, _, err := d.FetchResources(context.Background(), newConnection(Config{}))
	require.NoError(t, err)
	require.Len(t, resources, 2)
	assert.Equal(t, "pages", resources[0].ID)
	assert.Equal(t, "7", resources[1].ID)
	assert.Equal(t, ResourceArticle, resources[1].Metadata["resourceType"])
}
