package approval

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/prospector-cli/internal/resilience"
)

// NotionClient defines the Notion API operations the sink uses.
type NotionClient interface {
	QueryDatabase(ctx context.Context, dbID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error)
	CreatePage(ctx context.Context, req *notionapi.PageCreateRequest) (*notionapi.Page, error)
	UpdatePage(ctx context.Context, pageID string, req *notionapi.PageUpdateRequest) (*notionapi.Page, error)
}

// NotionClientOption configures the Notion client.
type NotionClientOption func(*notionClient)

// WithNotionRateLimit overrides the default request rate. Zero or a
// negative value disables throttling.
func WithNotionRateLimit(rps float64) NotionClientOption {
	return func(c *notionClient) {
		c.limiter = nil
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		}
	}
}

// notionRPS is Notion's published average request limit.
const notionRPS = 3

// notionClient implements NotionClient by wrapping a *notionapi.Client.
type notionClient struct {
	inner   *notionapi.Client
	limiter *rate.Limiter
}

// NewNotionClient wraps the notionapi SDK with request throttling at
// Notion's published limit.
func NewNotionClient(token string, opts ...NotionClientOption) NotionClient {
	c := &notionClient{
		inner:   notionapi.NewClient(notionapi.Token(token)),
		limiter: rate.NewLimiter(notionRPS, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// throttle blocks until the limiter admits one request, or ctx ends.
func (c *notionClient) throttle(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

func (c *notionClient) QueryDatabase(ctx context.Context, dbID string, req *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
	if err := c.throttle(ctx); err != nil {
		return nil, eris.Wrap(err, "notion: rate limit")
	}
	resp, err := c.inner.Database.Query(ctx, notionapi.DatabaseID(dbID), req)
	if err != nil {
		return nil, wrapAPIError(err, fmt.Sprintf("notion: query database %s", dbID))
	}
	return resp, nil
}

func (c *notionClient) CreatePage(ctx context.Context, req *notionapi.PageCreateRequest) (*notionapi.Page, error) {
	if err := c.throttle(ctx); err != nil {
		return nil, eris.Wrap(err, "notion: rate limit")
	}
	page, err := c.inner.Page.Create(ctx, req)
	if err != nil {
		return nil, wrapAPIError(err, "notion: create page")
	}
	return page, nil
}

func (c *notionClient) UpdatePage(ctx context.Context, pageID string, req *notionapi.PageUpdateRequest) (*notionapi.Page, error) {
	if err := c.throttle(ctx); err != nil {
		return nil, eris.Wrap(err, "notion: rate limit")
	}
	page, err := c.inner.Page.Update(ctx, notionapi.PageID(pageID), req)
	if err != nil {
		return nil, wrapAPIError(err, fmt.Sprintf("notion: update page %s", pageID))
	}
	return page, nil
}

// wrapAPIError keeps the operation context and marks 429 and 5xx
// responses transient so the sink's retry and breaker react to them.
// Transport failures already classify themselves.
func wrapAPIError(err error, op string) error {
	wrapped := eris.Wrap(err, op)
	var ne *notionapi.Error
	if errors.As(err, &ne) && (ne.Status == http.StatusTooManyRequests || ne.Status >= 500) {
		return resilience.NewTransientError(wrapped, ne.Status)
	}
	return wrapped
}

// pageRequest builds the query for one page of results, carrying the
// caller's filter, sorts, and page size along with the cursor.
func pageRequest(filter *notionapi.DatabaseQueryRequest, cursor notionapi.Cursor) *notionapi.DatabaseQueryRequest {
	req := &notionapi.DatabaseQueryRequest{StartCursor: cursor}
	if filter != nil {
		req.Filter = filter.Filter
		req.Sorts = filter.Sorts
		req.PageSize = filter.PageSize
	}
	return req
}

// queryAll walks a paginated database query to the end. The fetch for the
// next page goes out before the current page is consumed, so a board that
// spans many pages costs about half the wall time of strict round trips.
func queryAll(ctx context.Context, c NotionClient, dbID string, filter *notionapi.DatabaseQueryRequest) ([]notionapi.Page, error) {
	type fetched struct {
		resp *notionapi.DatabaseQueryResponse
		err  error
	}
	fetch := func(req *notionapi.DatabaseQueryRequest) <-chan fetched {
		ch := make(chan fetched, 1)
		go func() {
			resp, err := c.QueryDatabase(ctx, dbID, req)
			ch <- fetched{resp, err}
		}()
		return ch
	}

	var all []notionapi.Page
	var pending <-chan fetched
	for {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "notion: query all cancelled")
		}
		if pending == nil {
			pending = fetch(pageRequest(filter, ""))
		}

		page := <-pending
		if page.err != nil {
			return nil, eris.Wrap(page.err, "notion: query all page")
		}

		all = append(all, page.resp.Results...)
		if !page.resp.HasMore {
			return all, nil
		}
		pending = fetch(pageRequest(filter, page.resp.NextCursor))
	}
}
