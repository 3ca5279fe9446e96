package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientDo_JSONRoundTrip(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/items", r.URL.Path)
		assert.Equal(t, "x", r.URL.Query().Get("q"))
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "yes", r.Header.Get("X-Test"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "hello", body["name"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id": 42}`))
	}))
	defer ts.Close()

	client := New(ts.URL+"/v1/", WithBearerToken("secret"), WithHeader("X-Test", "yes"), WithHTTPClient(ts.Client()))

	var out struct {
		ID int `json:"id"`
	}
	_, err := client.Do(context.Background(), http.MethodPost, "items", url.Values{"q": {"x"}}, map[string]string{"name": "hello"}, &out)
	require.NoError(t, err)
	assert.Equal(t, 42, out.ID)
}

func TestClientDo_ErrorClassification(t *testing.T) {
	tests := []struct {
		status       int
		notFound     bool
		unauthorized bool
		gone         bool
	}{
		{status: http.StatusNotFound, notFound: true},
		{status: http.StatusUnauthorized, unauthorized: true},
		{status: http.StatusForbidden, unauthorized: true},
		{status: http.StatusGone, gone: true},
		{status: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status %d", tt.status), func(t *testing.T) {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"message":"nope"}`))
			}))
			defer ts.Close()

			_, err := New(ts.URL).Get(context.Background(), "/thing", nil, nil)
			require.Error(t, err)

			var apiErr *Error
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Contains(t, err.Error(), "nope")
			assert.Equal(t, tt.notFound, IsNotFound(err))
			assert.Equal(t, tt.unauthorized, IsUnauthorized(err))
			assert.Equal(t, tt.gone, IsGone(err))
		})
	}
}

func TestClientDo_BasicAuth(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "admin", user)
		assert.Equal(t, "app pass", pass)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	_, err := New(ts.URL, WithBasicAuth("admin", "app pass")).Delete(context.Background(), "/x", nil, nil)
	require.NoError(t, err)
}

func TestClientDo_AbsoluteURLMustMatchBaseHost(t *testing.T) {
	var foreignHits int
	foreign := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		foreignHits++
		w.WriteHeader(http.StatusOK)
	}))
	defer foreign.Close()

	home := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		if r.URL.Query().Get("page") == "" {
			w.Header().Set("Link", fmt.Sprintf(`<%s/items?page=2>; rel="next"`, foreign.URL))
		}
		_, _ = w.Write([]byte(`[]`))
	}))
	defer home.Close()

	client := New(home.URL, WithBearerToken("secret"))
	resp, err := client.Get(context.Background(), "/items", nil, nil)
	require.NoError(t, err)

	next := NextLink(resp.Header)
	require.NotEmpty(t, next)
	_, err = client.Get(context.Background(), next, nil, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrForeignHost))
	assert.Equal(t, 0, foreignHits)

	_, err = client.Get(context.Background(), home.URL+"/items?page=2", nil, nil)
	require.NoError(t, err)
}

func TestNextLink(t *testing.T) {
	header := http.Header{}
	header.Add("Link", `<https://shop.example/a?page_info=1>; rel="previous", <https://shop.example/a?page_info=2>; rel="next"`)
	assert.Equal(t, "https://shop.example/a?page_info=2", NextLink(header))
	assert.Equal(t, "", NextLink(http.Header{}))
}

func TestEscapePath(t *testing.T) {
	assert.Equal(t, "docs/my%20notes/intro.md", EscapePath("/docs/my notes/intro.md"))
}
