package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/noah04091/contract-ai-sub015/internal/pipeline"
)

// Fetcher pulls raw items from one feed endpoint.
type Fetcher interface {
	Fetch(ctx context.Context, feedURL string) ([]json.RawMessage, error)
}

// HTTPFetcher reads JSON feeds over HTTP. Accepted payloads are a bare
// array of items or an object with an "items" array.
type HTTPFetcher struct {
	client *http.Client
}

func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &HTTPFetcher{client: &http.Client{Timeout: timeout}}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, feedURL string) ([]json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build feed request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, pipeline.Transient("feed fetch", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, pipeline.Transient("feed fetch", fmt.Errorf("feed returned %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, pipeline.Transient("feed fetch", fmt.Errorf("read feed body: %w", err))
	}

	return decodeFeedItems(body)
}

func decodeFeedItems(body []byte) ([]json.RawMessage, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(body, &items); err == nil {
		return items, nil
	}

	var wrapped struct {
		Items []json.RawMessage `json:"items"`
	}
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return nil, fmt.Errorf("decode feed payload: %w", err)
	}
	if wrapped.Items == nil {
		return nil, fmt.Errorf("feed payload has no items array")
	}
	return wrapped.Items, nil
}
