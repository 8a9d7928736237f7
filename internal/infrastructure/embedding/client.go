// Package embedding turns text into vectors through an OpenAI-compatible embeddings API.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sashabaranov/go-openai"

	"KnowledgeScanner/internal/config"
	"KnowledgeScanner/internal/domain"
	"KnowledgeScanner/internal/ports"
	"KnowledgeScanner/internal/textutil"
)

var errMalformedResponse = errors.New("malformed embedding response")

// Client implements ports.Embedder.
type Client struct {
	api           *openai.Client
	model         string
	dimensions    int
	maxChunkChars int
	maxAttempts   uint
	timeout       time.Duration
	newBackOff    func() backoff.BackOff
	logger        *slog.Logger
}

var _ ports.Embedder = (*Client)(nil)

// NewClient builds an embedding client from configuration.
func NewClient(cfg config.EmbeddingConfig, log *slog.Logger) *Client {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 5
	}
	return &Client{
		api:           openai.NewClientWithConfig(clientCfg),
		model:         cfg.Model,
		dimensions:    cfg.Dimensions,
		maxChunkChars: cfg.MaxChunkChars,
		maxAttempts:   uint(attempts),
		timeout:       cfg.Timeout,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxInterval = 10 * time.Second
			return b
		},
		logger: log,
	}
}

// Dimensions reports the configured vector length.
func (c *Client) Dimensions() int {
	return c.dimensions
}

// Embed returns one vector per input text, in input order. Rate limits, server errors
// and transport failures are retried; exhaustion yields domain.ErrEmbeddingUnavailable.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	input := make([]string, len(texts))
	for i, t := range texts {
		input[i] = textutil.TruncateRunes(t, c.maxChunkChars)
	}

	attempt := 0
	vectors, err := backoff.Retry(ctx, func() ([][]float32, error) {
		attempt++
		vectors, err := c.request(ctx, input)
		if err == nil {
			return vectors, nil
		}
		if !retryable(err) {
			return nil, backoff.Permanent(err)
		}
		c.warn("embedding request failed", "attempt", attempt, "error", err)
		return nil, err
	}, backoff.WithBackOff(c.newBackOff()), backoff.WithMaxTries(c.maxAttempts))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, domain.ErrDimensionMismatch) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: after %d attempts: %v", domain.ErrEmbeddingUnavailable, attempt, err)
	}
	return vectors, nil
}

func (c *Client) request(ctx context.Context, input []string) ([][]float32, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	resp, err := c.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: input,
		Model: openai.EmbeddingModel(c.model),
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Data) != len(input) {
		return nil, fmt.Errorf("%w: %d vectors for %d inputs", errMalformedResponse, len(resp.Data), len(input))
	}

	sort.Slice(resp.Data, func(i, j int) bool { return resp.Data[i].Index < resp.Data[j].Index })
	vectors := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		if c.dimensions > 0 && len(d.Embedding) != c.dimensions {
			return nil, fmt.Errorf("%w: got %d, want %d", domain.ErrDimensionMismatch, len(d.Embedding), c.dimensions)
		}
		vectors[i] = d.Embedding
	}
	return vectors, nil
}

// retryable: 429, 5xx and anything that never produced an HTTP status.
func retryable(err error) bool {
	if errors.Is(err, domain.ErrDimensionMismatch) || errors.Is(err, errMalformedResponse) {
		return false
	}
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}
	if status == 0 {
		return true
	}
	return status == http.StatusTooManyRequests || status >= http.StatusInternalServerError
}

func (c *Client) warn(msg string, args ...interface{}) {
	if c.logger != nil {
		c.logger.Warn(msg, args...)
	}
}
