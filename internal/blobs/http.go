package blobs

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"k8s.io/klog/v2"
)

// HTTPStore reads files below a base URL.
type HTTPStore struct {
	BaseURL *url.URL
	// Client defaults to http.DefaultClient.
	Client *http.Client
}

var _ Reader = (*HTTPStore)(nil)

// ReadFile fetches name relative to BaseURL. Any 2xx response is accepted and a
// 404 maps to os.ErrNotExist.
func (s *HTTPStore) ReadFile(ctx context.Context, name string) ([]byte, error) {
	log := klog.FromContext(ctx)

	if err := checkName(name); err != nil {
		return nil, err
	}
	u := s.BaseURL.JoinPath(name).String()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}

	startedAt := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %q: %w", u, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("fetching %q: %w", u, os.ErrNotExist)
	default:
		return nil, fmt.Errorf("fetching %q: unexpected status %s", u, resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %q: %w", u, err)
	}
	log.V(2).Info("fetched file", "url", u, "bytes", len(data), "duration", time.Since(startedAt))
	return data, nil
}
