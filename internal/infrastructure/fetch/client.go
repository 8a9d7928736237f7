package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

const maxBodyBytes = 20 << 20

// Client issues GET requests on behalf of source scanners.
type Client struct {
	http      *http.Client
	userAgent string
	delay     time.Duration
}

// NewClient wires an HTTP client; delay is the minimum gap between requests of one session.
func NewClient(httpClient *http.Client, userAgent string, delay time.Duration) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	if userAgent == "" {
		userAgent = "KnowledgeScanner/1.0"
	}
	return &Client{http: httpClient, userAgent: userAgent, delay: delay}
}

// Session returns a request sequence with its own politeness limiter.
// Scanners open one session per source scan.
func (c *Client) Session() *Session {
	limit := rate.Inf
	if c.delay > 0 {
		limit = rate.Every(c.delay)
	}
	return &Session{client: c, limiter: rate.NewLimiter(limit, 1)}
}

// Session spaces consecutive requests by at least the configured delay.
type Session struct {
	client  *Client
	limiter *rate.Limiter
}

// Get fetches url and returns the body; non-2xx statuses are errors.
func (s *Session) Get(ctx context.Context, url string) ([]byte, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("politeness wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", s.client.userAgent)

	resp, err := s.client.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("%s returned %s", url, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}
