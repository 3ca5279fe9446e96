// Package apiclient provides a small JSON REST client shared by the integration drivers.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultTimeout is used when no HTTP client is supplied.
const DefaultTimeout = 30 * time.Second

// ErrForeignHost is returned when an absolute URL points away from the client's base URL.
var ErrForeignHost = errors.New("url host does not match the client base url")

// Error is returned for every non-2xx response.
type Error struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *Error) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 512 {
		body = body[:512] + "..."
	}
	if body == "" {
		return fmt.Sprintf("%s %s: HTTP %d", e.Method, e.URL, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: HTTP %d - %s", e.Method, e.URL, e.StatusCode, body)
}

// StatusCode returns the HTTP status carried by err, or 0 when err is not an *Error.
func StatusCode(err error) int {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// IsNotFound reports whether err is an HTTP 404.
func IsNotFound(err error) bool {
	return StatusCode(err) == http.StatusNotFound
}

// IsGone reports whether err is an HTTP 410.
func IsGone(err error) bool {
	return StatusCode(err) == http.StatusGone
}

// IsUnauthorized reports whether err is an HTTP 401 or 403.
func IsUnauthorized(err error) bool {
	code := StatusCode(err)
	return code == http.StatusUnauthorized || code == http.StatusForbidden
}

// Client issues JSON requests against a single base URL.
type Client struct {
	baseURL    string
	httpClient *http.Client
	header     http.Header
	authorize  func(*http.Request)
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithHeader adds a header sent with every request.
func WithHeader(key, value string) Option {
	return func(c *Client) {
		c.header.Set(key, value)
	}
}

// WithBearerToken authenticates requests with "Authorization: Bearer <token>".
func WithBearerToken(token string) Option {
	return func(c *Client) {
		c.authorize = func(req *http.Request) {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}
}

// WithBasicAuth authenticates requests with HTTP Basic credentials.
func WithBasicAuth(username, password string) Option {
	return func(c *Client) {
		c.authorize = func(req *http.Request) {
			req.SetBasicAuth(username, password)
		}
	}
}

// New creates a client for baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: DefaultTimeout},
		header:     make(http.Header),
	}
	c.header.Set("Accept", "application/json")
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the base URL requests are resolved against.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Get performs a GET request and decodes the JSON response into out.
func (c *Client) Get(ctx context.Context, path string, query url.Values, out any) (*http.Response, error) {
	return c.Do(ctx, http.MethodGet, path, query, nil, out)
}

// Post performs a POST request with a JSON body.
func (c *Client) Post(ctx context.Context, path string, body, out any) (*http.Response, error) {
	return c.Do(ctx, http.MethodPost, path, nil, body, out)
}

// Put performs a PUT request with a JSON body.
func (c *Client) Put(ctx context.Context, path string, body, out any) (*http.Response, error) {
	return c.Do(ctx, http.MethodPut, path, nil, body, out)
}

// Delete performs a DELETE request. body may be nil.
func (c *Client) Delete(ctx context.Context, path string, query url.Values, body any) (*http.Response, error) {
	return c.Do(ctx, http.MethodDelete, path, query, body, nil)
}

// Do sends a request. path may be relative to the base URL or absolute.
// The response body is fully consumed and closed; out, when non-nil, receives the decoded JSON.
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, body, out any) (*http.Response, error) {
	target, err := c.resolve(path)
	if err != nil {
		return nil, err
	}
	if len(query) > 0 {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for key, values := range c.header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.authorize != nil {
		c.authorize(req)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, target, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp, &Error{Method: method, URL: target, StatusCode: resp.StatusCode, Body: string(data)}
	}

	if out != nil && len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return resp, fmt.Errorf("failed to parse response from %s: %w", target, err)
		}
	}
	return resp, nil
}

// resolve joins path onto the base URL. Absolute URLs, typically pagination
// links taken from a response, must point at the same scheme and host as the
// base URL so credentials never leave it.
func (c *Client) resolve(path string) (string, error) {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		target, err := url.Parse(path)
		if err != nil {
			return "", fmt.Errorf("invalid url %q: %w", path, err)
		}
		base, err := url.Parse(c.baseURL)
		if err != nil {
			return "", fmt.Errorf("invalid base url %q: %w", c.baseURL, err)
		}
		if !strings.EqualFold(target.Scheme, base.Scheme) || !strings.EqualFold(target.Host, base.Host) {
			return "", fmt.Errorf("%w: %s", ErrForeignHost, target.Host)
		}
		return path, nil
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.baseURL + path, nil
}

// NextLink extracts the rel="next" target from an RFC 5988 Link header.
func NextLink(header http.Header) string {
	for _, link := range header.Values("Link") {
		for _, part := range strings.Split(link, ",") {
			segments := strings.Split(part, ";")
			if len(segments) < 2 {
				continue
			}
			target := strings.Trim(strings.TrimSpace(segments[0]), "<>")
			for _, param := range segments[1:] {
				param = strings.TrimSpace(param)
				if param == `rel="next"` || param == "rel=next" {
					return target
				}
			}
		}
	}
	return ""
}

// EscapePath escapes each segment of a slash separated path.
func EscapePath(p string) string {
	parts := strings.Split(strings.Trim(p, "/"), "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}
