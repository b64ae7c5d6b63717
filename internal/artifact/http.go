package artifact

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const maxArtifactSize = 4 << 20

// HTTPStore fetches artifacts from a remote artifact host.
type HTTPStore struct {
	base   *url.URL
	client *http.Client
	layout Layout
}

// NewHTTPStore creates a store rooted at baseURL.
func NewHTTPStore(baseURL string, client *http.Client, layout Layout) (*HTTPStore, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse artifact base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("artifact base url must be http or https, got %q", baseURL)
	}
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPStore{base: u, client: client, layout: layout}, nil
}

// Fetch implements Store.
func (s *HTTPStore) Fetch(ctx context.Context, kind Kind, id string) ([]byte, error) {
	p, err := s.layout.Path(kind, id)
	if err != nil {
		return nil, err
	}
	target := s.base.ResolveReference(&url.URL{Path: p})

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, transportErr(kind, id, err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, transportErr(kind, id, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, notFound(kind, id, fmt.Errorf("%s returned %d", target.Path, resp.StatusCode))
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, transportErr(kind, id, fmt.Errorf("%s returned %d", target.Path, resp.StatusCode))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxArtifactSize))
	if err != nil {
		return nil, transportErr(kind, id, err)
	}
	return data, nil
}
