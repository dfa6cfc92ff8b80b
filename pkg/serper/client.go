// Package serper provides a client for the Serper web-search API.
package serper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

const (
	defaultBaseURL = "https://google.serper.dev"
	defaultTopK    = 10
)

// Client defines the web-search operation used by the pipeline.
type Client interface {
	// Search runs one query and returns up to topK organic results in rank
	// order.
	Search(ctx context.Context, query string, topK int) ([]SearchResult, error)
}

// SearchResult is one organic web-search hit.
type SearchResult struct {
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	URL     string `json:"link"`
	Rank    int    `json:"position"`
}

// SiteQuery renders the site-restricted query for one employer variant and
// title: "{variant}" {title} site:{host}.
func SiteQuery(variant, title, host string) string {
	return fmt.Sprintf(`"%s" %s site:%s`, variant, title, host)
}

// APIError is returned when Serper responds with a non-2xx status.
type APIError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("serper: HTTP %d: %s", e.StatusCode, e.Body)
}

// Transient reports whether the failure is worth retrying later: rate
// limits and server-side errors are, other rejections are not.
func (e *APIError) Transient() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// RetryAfterHint returns the server-advertised wait, or zero.
func (e *APIError) RetryAfterHint() time.Duration { return e.RetryAfter }

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRetry overrides the transient-failure retry policy.
func WithRetry(attempts int, backoff time.Duration) Option {
	return func(c *httpClient) {
		if attempts > 0 {
			c.maxAttempts = attempts
		}
		if backoff > 0 {
			c.backoff = backoff
		}
	}
}

// WithRateLimit sets a per-second rate limit for search calls. A burst equal
// to the integer portion of rps is allowed.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		}
	}
}

type httpClient struct {
	apiKey      string
	baseURL     string
	http        *http.Client
	limiter     *rate.Limiter
	maxAttempts int
	backoff     time.Duration
}

// NewClient creates a Serper search client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:      apiKey,
		baseURL:     defaultBaseURL,
		maxAttempts: 3,
		backoff:     time.Second,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type searchRequest struct {
	Query string `json:"q"`
	Num   int    `json:"num"`
}

type searchResponse struct {
	Organic []SearchResult `json:"organic"`
}

func (c *httpClient) Search(ctx context.Context, query string, topK int) ([]SearchResult, error) {
	if topK <= 0 {
		topK = defaultTopK
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "serper: rate limit")
		}
	}

	body, err := json.Marshal(searchRequest{Query: query, Num: topK})
	if err != nil {
		return nil, eris.Wrap(err, "serper: marshal request")
	}

	data, err := c.retryDo(ctx, body)
	if err != nil {
		return nil, err
	}

	var result searchResponse
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, eris.Wrap(err, "serper: unmarshal response")
	}

	// Serper can return more organic hits than num asked for.
	if len(result.Organic) > topK {
		result.Organic = result.Organic[:topK]
	}
	return result.Organic, nil
}

// retryableStatusCode returns true if the HTTP status code should trigger a retry.
func retryableStatusCode(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

// retryDo posts the search body with exponential backoff retries on transient
// failures (429, 5xx), honoring an advertised Retry-After. Other non-2xx
// statuses fail fast.
func (c *httpClient) retryDo(ctx context.Context, body []byte) ([]byte, error) {
	backoff := c.backoff
	var lastErr error

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search", bytes.NewReader(body))
		if err != nil {
			return nil, eris.Wrap(err, "serper: create request")
		}
		req.Header.Set("X-API-KEY", c.apiKey)
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = eris.Wrap(err, "serper: send request")
			if attempt < c.maxAttempts {
				if err := sleep(ctx, backoff); err != nil {
					return nil, err
				}
				backoff *= 2
				continue
			}
			return nil, lastErr
		}

		data, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return nil, eris.Wrap(readErr, "serper: read response body")
		}

		if resp.StatusCode == http.StatusOK {
			return data, nil
		}

		apiErr := &APIError{
			StatusCode: resp.StatusCode,
			Body:       string(data),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
		if !retryableStatusCode(resp.StatusCode) {
			return nil, apiErr
		}

		lastErr = apiErr
		if attempt < c.maxAttempts {
			delay := backoff
			if apiErr.RetryAfter > delay {
				delay = apiErr.RetryAfter
			}
			if err := sleep(ctx, delay); err != nil {
				return nil, err
			}
			backoff *= 2
		}
	}

	return nil, lastErr
}

func sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// parseRetryAfter reads a delta-seconds Retry-After value. HTTP-date values
// and garbage yield zero; absurd hints are capped at one hour.
func parseRetryAfter(h string) time.Duration {
	if h == "" {
		return 0
	}
	secs, err := strconv.Atoi(h)
	if err != nil || secs <= 0 {
		return 0
	}
	if secs > 3600 {
		return time.Hour
	}
	return time.Duration(secs) * time.Second
}
