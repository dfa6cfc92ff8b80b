// Package brightdata provides a client for the Bright Data dataset-filter
// and profile-scraper APIs. Both job kinds share the snapshot lifecycle:
// submit, poll until ready, download.
package brightdata

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
)

// Default base URL for the Bright Data API.
const defaultBaseURL = "https://api.brightdata.com"

// Snapshot lifecycle states.
const (
	StatusRunning = "running"
	StatusReady   = "ready"
	StatusFailed  = "failed"
)

// Client defines the Bright Data operations used by the pipeline.
type Client interface {
	// FilterDataset submits a filter expression against a pre-indexed
	// dataset and returns a snapshot handle.
	FilterDataset(ctx context.Context, req FilterRequest) (*SubmitResponse, error)
	// TriggerScrape requests a fresh scrape of the given profile URLs and
	// returns a snapshot handle.
	TriggerScrape(ctx context.Context, req ScrapeRequest) (*SubmitResponse, error)
	// GetSnapshot reports a snapshot's status and advertised record count.
	GetSnapshot(ctx context.Context, id string) (*SnapshotMeta, error)
	// DownloadSnapshot fetches the records of a ready snapshot. Returns
	// ErrNotReady when the snapshot is still materializing.
	DownloadSnapshot(ctx context.Context, id string) ([]ProfileRecord, error)
}

// ErrNotReady indicates a snapshot reported ready but its download has not
// materialized yet. Callers retry briefly.
var ErrNotReady = eris.New("brightdata: snapshot not ready")

// Filter is a node in the dataset filter expression tree. Leaf nodes carry
// Name/Operator/Value; "and"/"or" nodes carry children.
type Filter struct {
	Operator string   `json:"operator"`
	Name     string   `json:"name,omitempty"`
	Value    any      `json:"value,omitempty"`
	Filters  []Filter `json:"filters,omitempty"`
}

// FilterRequest is the body for POST /datasets/filter.
type FilterRequest struct {
	DatasetID string `json:"dataset_id"`
	Filter    Filter `json:"filter"`
}

// ScrapeRequest is the body for POST /scrape/trigger.
type ScrapeRequest struct {
	DatasetID string   `json:"dataset_id"`
	URLs      []string `json:"urls"`
}

// SubmitResponse is the response from both submit endpoints.
type SubmitResponse struct {
	SnapshotID string `json:"snapshot_id"`
}

// SnapshotMeta is the response from GET /datasets/snapshots/{id}.
type SnapshotMeta struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	DatasetSize  int    `json:"dataset_size"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// ProfileRecord is one people-profile record as the dataset returns it.
// Scrape jobs echo the requested URL in InputURL and mark per-URL failures
// with ErrorCode instead of profile fields.
type ProfileRecord struct {
	URL            string             `json:"url"`
	InputURL       string             `json:"input_url,omitempty"`
	Name           string             `json:"name,omitempty"`
	FirstName      string             `json:"first_name,omitempty"`
	LastName       string             `json:"last_name,omitempty"`
	Headline       string             `json:"headline,omitempty"`
	Position       string             `json:"position,omitempty"`
	CurrentCompany string             `json:"current_company,omitempty"`
	City           string             `json:"city,omitempty"`
	Region         string             `json:"region,omitempty"`
	CountryCode    string             `json:"country_code,omitempty"`
	Connections    int                `json:"connections,omitempty"`
	Followers      int                `json:"followers,omitempty"`
	About          string             `json:"about,omitempty"`
	Experience     []ExperienceRecord `json:"experience,omitempty"`
	Education      []EducationRecord  `json:"education,omitempty"`
	Skills         []string           `json:"skills,omitempty"`
	ErrorCode      string             `json:"error_code,omitempty"`
	ErrorMessage   string             `json:"error_message,omitempty"`
}

// Failed reports whether this record is a per-URL failure marker.
func (r ProfileRecord) Failed() bool {
	return r.ErrorCode != ""
}

// RequestedURL returns the URL this record correlates to: the scrape input
// echo when present, otherwise the profile URL itself.
func (r ProfileRecord) RequestedURL() string {
	if r.InputURL != "" {
		return r.InputURL
	}
	return r.URL
}

// ExperienceRecord is one position entry on a profile.
type ExperienceRecord struct {
	Title     string `json:"title"`
	Company   string `json:"company"`
	Location  string `json:"location,omitempty"`
	StartDate string `json:"start_date,omitempty"`
	EndDate   string `json:"end_date,omitempty"`
}

// EducationRecord is one education entry on a profile.
type EducationRecord struct {
	School    string `json:"school"`
	Degree    string `json:"degree,omitempty"`
	Field     string `json:"field,omitempty"`
	StartYear string `json:"start_year,omitempty"`
	EndYear   string `json:"end_year,omitempty"`
}

// ProfileFilterParams are the constraints for a people-profile filter.
type ProfileFilterParams struct {
	Employers      []string
	Titles         []string
	NegativeTitles []string
	MinConnections int
	City           string
}

// BuildProfileFilter renders the params as a dataset filter expression:
// employer in set AND title in set AND title not_contains negatives AND
// connections >= floor AND (optionally) city.
func BuildProfileFilter(p ProfileFilterParams) Filter {
	children := []Filter{
		{Name: "current_company_name", Operator: "in", Value: p.Employers},
		{Name: "position", Operator: "in", Value: p.Titles},
	}
	if len(p.NegativeTitles) > 0 {
		children = append(children, Filter{Name: "position", Operator: "not_contains", Value: p.NegativeTitles})
	}
	if p.MinConnections > 0 {
		children = append(children, Filter{Name: "connections", Operator: ">=", Value: p.MinConnections})
	}
	if p.City != "" {
		children = append(children, Filter{Name: "city", Operator: "=", Value: p.City})
	}
	return Filter{Operator: "and", Filters: children}
}

// APIError is returned when Bright Data responds with a non-2xx status.
type APIError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("brightdata: HTTP %d: %s", e.StatusCode, e.Body)
}

// Transient reports whether the failure is worth retrying later: rate
// limits and server-side errors are, other rejections are not.
func (e *APIError) Transient() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// RetryAfterHint returns the server-advertised wait, or zero.
func (e *APIError) RetryAfterHint() time.Duration { return e.RetryAfter }

// Option configures the httpClient.
type Option func(*httpClient)

// WithBaseURL overrides the default base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient sets a custom *http.Client.
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

// httpClient implements Client using net/http.
type httpClient struct {
	apiKey      string
	baseURL     string
	http        *http.Client
	maxAttempts int
	backoff     time.Duration
}

// NewClient creates a new Bright Data client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:      apiKey,
		baseURL:     defaultBaseURL,
		maxAttempts: 3,
		backoff:     time.Second,
		http: &http.Client{
			Timeout: 60 * time.Second,
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

func (c *httpClient) FilterDataset(ctx context.Context, req FilterRequest) (*SubmitResponse, error) {
	var resp SubmitResponse
	if err := c.post(ctx, "/datasets/filter", req, &resp); err != nil {
		return nil, eris.Wrap(err, "brightdata: submit filter")
	}
	return &resp, nil
}

func (c *httpClient) TriggerScrape(ctx context.Context, req ScrapeRequest) (*SubmitResponse, error) {
	var resp SubmitResponse
	if err := c.post(ctx, "/scrape/trigger", req, &resp); err != nil {
		return nil, eris.Wrap(err, "brightdata: trigger scrape")
	}
	return &resp, nil
}

func (c *httpClient) GetSnapshot(ctx context.Context, id string) (*SnapshotMeta, error) {
	var resp SnapshotMeta
	if err := c.get(ctx, fmt.Sprintf("/datasets/snapshots/%s", id), &resp); err != nil {
		return nil, eris.Wrap(err, fmt.Sprintf("brightdata: get snapshot %s", id))
	}
	return &resp, nil
}

func (c *httpClient) DownloadSnapshot(ctx context.Context, id string) ([]ProfileRecord, error) {
	var records []ProfileRecord
	if err := c.get(ctx, fmt.Sprintf("/datasets/snapshots/%s/download", id), &records); err != nil {
		if eris.Is(err, ErrNotReady) {
			return nil, ErrNotReady
		}
		return nil, eris.Wrap(err, fmt.Sprintf("brightdata: download snapshot %s", id))
	}
	return records, nil
}

func (c *httpClient) post(ctx context.Context, path string, body any, out any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return eris.Wrap(err, "marshal request")
	}
	return c.do(ctx, http.MethodPost, path, buf, out)
}

func (c *httpClient) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

// do executes a request with retries on transient failures (429, 5xx),
// honoring an advertised Retry-After. Non-transient 4xx fail fast. A 202
// means the resource exists but is not materialized yet.
func (c *httpClient) do(ctx context.Context, method, path string, body []byte, out any) error {
	backoff := c.backoff
	var lastErr error

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return eris.Wrap(err, "create request")
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = eris.Wrap(err, "execute request")
			if attempt < c.maxAttempts {
				if err := sleep(ctx, backoff); err != nil {
					return err
				}
				backoff *= 2
				continue
			}
			return lastErr
		}

		data, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return eris.Wrap(readErr, "read response body")
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			apiErr := &APIError{
				StatusCode: resp.StatusCode,
				Body:       string(data),
				RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			}
			lastErr = apiErr
			if attempt < c.maxAttempts {
				delay := backoff
				if apiErr.RetryAfter > delay {
					delay = apiErr.RetryAfter
				}
				if err := sleep(ctx, delay); err != nil {
					return err
				}
				backoff *= 2
				continue
			}
			return lastErr
		}

		if resp.StatusCode == http.StatusAccepted {
			return ErrNotReady
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return &APIError{StatusCode: resp.StatusCode, Body: string(data)}
		}

		if err := json.Unmarshal(data, out); err != nil {
			return eris.Wrap(err, "decode response")
		}
		return nil
	}

	return lastErr
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
