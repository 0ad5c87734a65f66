// Package embedding talks to the external embedding endpoint and shields
// callers from its transport quirks: rate limits, transient failures, and
// the two request/response dialects in the wild.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/noah04091/contract-ai-sub015/internal/pipeline"
)

// Options configures a Client.
type Options struct {
	Endpoint   string
	Model      string
	Dimensions int
	BatchLimit int
	Timeout    time.Duration
	RatePerSec float64
	MaxRetries int
	HTTPClient *http.Client
	Logger     zerolog.Logger
}

// Client requests embeddings in batches. All calls share one rate limiter,
// so concurrent indexer workers stay inside the endpoint's quota together.
type Client struct {
	endpoint   string
	model      string
	dimensions int
	batchLimit int
	limiter    *rate.Limiter
	backoff    BackoffPolicy
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewClient builds a Client from Options, applying defaults for anything
// unset.
func NewClient(opts Options) *Client {
	if opts.BatchLimit <= 0 {
		opts.BatchLimit = 32
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 45 * time.Second
	}
	if opts.RatePerSec <= 0 {
		opts.RatePerSec = 2
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 4
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}
	return &Client{
		endpoint:   normalizeEndpoint(opts.Endpoint),
		model:      opts.Model,
		dimensions: opts.Dimensions,
		batchLimit: opts.BatchLimit,
		limiter:    rate.NewLimiter(rate.Limit(opts.RatePerSec), 1),
		backoff:    DefaultBackoff(opts.MaxRetries),
		httpClient: httpClient,
		logger:     opts.Logger,
	}
}

// BatchLimit reports the largest slice Embed accepts per call.
func (c *Client) BatchLimit() int { return c.batchLimit }

// Dimensions reports the expected vector width, 0 when unchecked.
func (c *Client) Dimensions() int { return c.dimensions }

type embedRequest struct {
	Model string   `json:"model,omitempty"`
	Texts []string `json:"texts,omitempty"`
	Input []string `json:"input,omitempty"`
}

type embedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
	Data       []struct {
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

// Embed returns one vector per input text, in input order. It retries
// transient failures per the backoff policy and returns a transient error
// once attempts are exhausted so callers can reschedule instead of marking
// items failed. A count mismatch from the endpoint is a hard error: partial
// results cannot be attributed to texts safely.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if len(texts) > c.batchLimit {
		return nil, fmt.Errorf("batch of %d exceeds limit %d", len(texts), c.batchLimit)
	}

	var lastErr error
	for attempt := 0; attempt < c.backoff.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := c.backoff.Delay(attempt - 1)
			c.logger.Debug().Int("attempt", attempt).Dur("delay", delay).Msg("retrying embedding request")
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		vectors, err := c.requestEmbeddings(ctx, texts)
		if err == nil {
			return vectors, nil
		}
		if !isTransient(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, pipeline.Transient("embed", fmt.Errorf("after %d attempts: %w", c.backoff.MaxAttempts, lastErr))
}

func (c *Client) requestEmbeddings(ctx context.Context, texts []string) ([][]float64, error) {
	// Some endpoints read "texts", OpenAI-compatible ones read "input".
	// Sending both keeps a single request path.
	payload, err := json.Marshal(embedRequest{Model: c.model, Texts: texts, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("encode embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, pipeline.Transient("embed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, pipeline.Transient("embed", fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, pipeline.Transient("embed", fmt.Errorf("endpoint returned %d: %s", resp.StatusCode, truncateBody(body)))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("endpoint returned %d: %s", resp.StatusCode, truncateBody(body))
	}

	var parsed embedResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}

	vectors := parsed.Embeddings
	if len(vectors) == 0 && len(parsed.Data) > 0 {
		vectors = make([][]float64, len(parsed.Data))
		for i, item := range parsed.Data {
			vectors[i] = item.Embedding
		}
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("endpoint returned %d vectors for %d texts", len(vectors), len(texts))
	}
	for i, vec := range vectors {
		if c.dimensions > 0 && len(vec) != c.dimensions {
			return nil, fmt.Errorf("vector %d has %d dimensions, want %d", i, len(vec), c.dimensions)
		}
	}
	return vectors, nil
}

func isTransient(err error) bool {
	return pipeline.IsTransient(err) || errors.Is(err, context.DeadlineExceeded)
}

func truncateBody(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}

func normalizeEndpoint(endpoint string) string {
	trimmed := strings.TrimRight(strings.TrimSpace(endpoint), "/")
	if trimmed == "" {
		return trimmed
	}
	if strings.HasSuffix(trimmed, "/embed") || strings.HasSuffix(trimmed, "/embeddings") {
		return trimmed
	}
	return trimmed + "/embed"
}
