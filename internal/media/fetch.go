// Package media retrieves outbound media over plain HTTP and normalizes
// images before they are handed to the transport.
package media

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/nextlevelbuilder/wagate/internal/core"
)

// maxFetchBytes caps a single media download (20 MB).
const maxFetchBytes = 20 << 20

// Fetcher downloads media payloads.
type Fetcher struct {
	client *http.Client
}

// NewFetcher creates a fetcher with a bounded request timeout.
func NewFetcher() *Fetcher {
	return &Fetcher{client: &http.Client{Timeout: 30 * time.Second}}
}

// Fetch retrieves the bytes at url. A non-success response or transport
// failure maps to ErrMediaFetchFailed, so the dispatcher never creates
// partial state for a media-fetch failure.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", core.ErrMediaFetchFailed, err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", core.ErrMediaFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("%w: %s returned %d", core.ErrMediaFetchFailed, url, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("%w: read body: %v", core.ErrMediaFetchFailed, err)
	}
	if len(data) > maxFetchBytes {
		return nil, "", fmt.Errorf("%w: %s exceeds %d bytes", core.ErrMediaFetchFailed, url, maxFetchBytes)
	}
	return data, resp.Header.Get("Content-Type"), nil
}
