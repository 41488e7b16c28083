package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jmerrifield20/canapi/pkg/apispec"
)

// maxDocumentBytes bounds a fetched document.
const maxDocumentBytes = 1 << 20

// Remote fetches documents over HTTP from {base}/{name}.json or
// {base}/{name}/{version}.json.
type Remote struct {
	baseURL string
	http    *http.Client
}

// RemoteOption configures a Remote.
type RemoteOption func(*Remote)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) RemoteOption {
	return func(r *Remote) { r.http = c }
}

// NewRemote creates a Remote targeting baseURL. A zero timeout defaults to
// five seconds.
func NewRemote(baseURL string, timeout time.Duration, opts ...RemoteOption) *Remote {
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	r := &Remote{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// BaseURL returns the registry base URL.
func (r *Remote) BaseURL() string { return r.baseURL }

// DocumentURL returns the URL of a document on the remote registry.
func (r *Remote) DocumentURL(name, version string) string {
	if version == "" {
		return r.baseURL + "/" + url.PathEscape(name) + ".json"
	}
	return r.baseURL + "/" + url.PathEscape(name) + "/" + url.PathEscape(version) + ".json"
}

// Lookup implements Source.
func (r *Remote) Lookup(ctx context.Context, name, version string) (*apispec.Document, error) {
	if err := checkNames(name, version); err != nil {
		return nil, err
	}
	target := r.DocumentURL(name, version)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build document request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("document request to %s: %w", r.baseURL, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("remote registry returned status %d for %s", resp.StatusCode, target)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes))
	if err != nil {
		return nil, fmt.Errorf("read document response: %w", err)
	}
	doc, err := apispec.Decode(body, apispec.FormatJSON)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", target, err)
	}
	return doc, nil
}
