// Package salesforce adapts go-salesforce/v3 to the two roles the CRM
// plays here: the pipeline reads accounts through it, and the write-back
// utility inserts approved leads and contacts through it. Everything else
// the REST API offers stays out of the interface.
package salesforce

import (
	"context"

	"github.com/k-capehart/go-salesforce/v3"
	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// Client is the slice of the Salesforce API this repo touches. Reads go
// through Query; the typed helpers in query.go and crud.go build on these
// three methods rather than widening the interface.
type Client interface {
	Query(ctx context.Context, soql string, out any) error
	InsertOne(ctx context.Context, sObjectName string, record map[string]any) (string, error)
	UpdateOne(ctx context.Context, sObjectName string, id string, fields map[string]any) error
}

// ClientOption configures the Salesforce client.
type ClientOption func(*sfClient)

// WithRateLimit caps outbound API calls at rps per second, with a burst
// of the integer part of rps (minimum one).
func WithRateLimit(rps float64) ClientOption {
	return func(c *sfClient) {
		if rps <= 0 {
			return
		}
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// sfClient wraps a go-salesforce/v3 session.
//
// go-salesforce does not thread context.Context through its calls, so the
// ctx parameter only governs the rate limiter wait. A cancelled ctx stops
// a queued call from starting; it cannot interrupt one already in flight.
type sfClient struct {
	session *salesforce.Salesforce
	limiter *rate.Limiter
}

// NewClient wraps an authenticated go-salesforce session.
func NewClient(session *salesforce.Salesforce, opts ...ClientOption) Client {
	c := sfClient{session: session}
	for _, opt := range opts {
		opt(&c)
	}
	return &c
}

// throttle blocks until the limiter admits one call, or ctx ends. The
// returned error already carries the rate limit context.
func (c *sfClient) throttle(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return eris.Wrap(err, "sf: rate limit")
	}
	return nil
}

func (c *sfClient) Query(ctx context.Context, soql string, out any) error {
	if err := c.throttle(ctx); err != nil {
		return err
	}
	if err := c.session.Query(soql, out); err != nil {
		return eris.Wrap(err, "sf: query")
	}
	return nil
}

func (c *sfClient) InsertOne(ctx context.Context, sObjectName string, record map[string]any) (string, error) {
	if err := c.throttle(ctx); err != nil {
		return "", err
	}
	result, err := c.session.InsertOne(sObjectName, record)
	if err != nil {
		return "", eris.Wrapf(err, "sf: insert %s", sObjectName)
	}
	if !result.Success {
		return "", eris.Errorf("sf: insert %s rejected: %v", sObjectName, result.Errors)
	}
	return result.Id, nil
}

func (c *sfClient) UpdateOne(ctx context.Context, sObjectName string, id string, fields map[string]any) error {
	if err := c.throttle(ctx); err != nil {
		return err
	}
	fields["Id"] = id
	if err := c.session.UpdateOne(sObjectName, fields); err != nil {
		return eris.Wrapf(err, "sf: update %s %s", sObjectName, id)
	}
	return nil
}
