// Package crm is a typed HTTP client for the subset of the CRM's JSON:API
// surface used by the sync engine: calls, prospects and call creation.
package crm

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

const (
	contentType = "application/vnd.api+json"

	// maxBodyBytes bounds how much of a response body is read.
	maxBodyBytes = 8 << 20

	DefaultPageSize   = 100
	DefaultMaxPages   = 10
	DefaultMaxRecords = 1000
)

var errBaseURL = errors.New("invalid crm base url")

// Limits bounds pagination over unbounded remote collections. Zero fields take defaults.
type Limits struct {
	PageSize   int
	MaxPages   int
	MaxRecords int
}

func (l Limits) withDefaults() Limits {
	if l.PageSize <= 0 {
		l.PageSize = DefaultPageSize
	}
	if l.MaxPages <= 0 {
		l.MaxPages = DefaultMaxPages
	}
	if l.MaxRecords <= 0 {
		l.MaxRecords = DefaultMaxRecords
	}
	return l
}

// Client talks to one CRM installation. It holds no token state: the caller
// passes a valid access token on every call.
type Client struct {
	base   *url.URL
	http   *http.Client
	limits Limits
	now    func() time.Time
}

// NewClient constructs a Client for baseURL. A nil httpClient uses a client with a 30s timeout.
func NewClient(baseURL string, httpClient *http.Client, limits Limits) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", errBaseURL, baseURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{base: u, http: httpClient, limits: limits.withDefaults(), now: time.Now}, nil
}

// endpoint joins an API path onto the base URL.
func (c *Client) endpoint(path string) *url.URL {
	u := *c.base
	u.Path = c.base.Path + path
	return &u
}

// resolve turns a pagination link into an absolute URL against the base.
func (c *Client) resolve(link string) (string, error) {
	ref, err := url.Parse(link)
	if err != nil {
		return "", fmt.Errorf("bad next link %q: %w", link, err)
	}
	return c.base.ResolveReference(ref).String(), nil
}

// do performs one request. Non-2xx responses become *APIError.
func (c *Client) do(ctx context.Context, method, rawURL, token string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", contentType)
	if in != nil {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("crm %s %s: %w", method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("crm %s %s: read body: %w", method, req.URL.Path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return newAPIError(resp.StatusCode, data)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrDecode, method, req.URL.Path, err)
	}
	return nil
}
