package brightdata

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
)

const (
	defaultPollInitial = 2 * time.Second
	defaultPollCap     = 15 * time.Second
	defaultPollTimeout = 5 * time.Minute

	// downloadRetries bounds the ready-but-cold window: a snapshot can
	// report ready while its download is still materializing.
	downloadRetries         = 3
	defaultDownloadRetryGap = 2 * time.Second
)

// OverflowError reports an advertised record count above the download cap.
type OverflowError struct {
	SnapshotID string
	Count      int
	Cap        int
}

func (e *OverflowError) Error() string {
	return fmt.Sprintf("brightdata: snapshot %s holds %d records, cap is %d", e.SnapshotID, e.Count, e.Cap)
}

// PollOption configures polling behavior.
type PollOption func(*pollConfig)

type pollConfig struct {
	initial     time.Duration
	cap         time.Duration
	timeout     time.Duration
	downloadGap time.Duration
	preDownload func(count int) error
}

func defaultPollConfig() pollConfig {
	return pollConfig{
		initial:     defaultPollInitial,
		cap:         defaultPollCap,
		timeout:     defaultPollTimeout,
		downloadGap: defaultDownloadRetryGap,
	}
}

// WithPollInterval overrides the initial poll interval.
func WithPollInterval(d time.Duration) PollOption {
	return func(c *pollConfig) {
		c.initial = d
	}
}

// WithPollCap overrides the maximum poll interval.
func WithPollCap(d time.Duration) PollOption {
	return func(c *pollConfig) {
		c.cap = d
	}
}

// WithPollTimeout overrides the default timeout (applied only if the parent
// context has no deadline).
func WithPollTimeout(d time.Duration) PollOption {
	return func(c *pollConfig) {
		c.timeout = d
	}
}

// WithDownloadRetryGap overrides the wait between download attempts on a
// ready-but-cold snapshot.
func WithDownloadRetryGap(d time.Duration) PollOption {
	return func(c *pollConfig) {
		c.downloadGap = d
	}
}

// WithPreDownload registers a gate called with the advertised record count
// after a filter snapshot passes the cap check and before its download. A
// non-nil return aborts the collection without downloading; callers use it
// to reserve per-record spend once the count is known.
func WithPreDownload(fn func(count int) error) PollOption {
	return func(c *pollConfig) {
		c.preDownload = fn
	}
}

// PollSnapshot polls GetSnapshot until the snapshot is ready, failed, or the
// context expires. Uses exponential backoff: 2s -> 4s -> 8s -> 15s (capped).
func PollSnapshot(ctx context.Context, client Client, id string, opts ...PollOption) (*SnapshotMeta, error) {
	cfg := defaultPollConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.timeout)
		defer cancel()
	}

	interval := cfg.initial
	for {
		meta, err := client.GetSnapshot(ctx, id)
		if err != nil {
			return nil, eris.Wrap(err, fmt.Sprintf("brightdata: poll snapshot %s", id))
		}

		switch meta.Status {
		case StatusReady:
			return meta, nil
		case StatusFailed:
			return nil, eris.Errorf("brightdata: snapshot %s failed: %s", id, meta.ErrorMessage)
		}

		select {
		case <-ctx.Done():
			return nil, eris.Wrap(ctx.Err(), fmt.Sprintf("brightdata: poll snapshot %s timed out", id))
		case <-time.After(interval):
		}

		interval *= 2
		if interval > cfg.cap {
			interval = cfg.cap
		}
	}
}

// CollectFilter submits a dataset filter, waits for its snapshot, and
// downloads the records. When the ready snapshot advertises more records
// than recordCap, the download is refused and an OverflowError is returned
// with the snapshot id so callers can report it.
func CollectFilter(ctx context.Context, client Client, req FilterRequest, recordCap int, opts ...PollOption) (string, []ProfileRecord, error) {
	cfg := defaultPollConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	submitted, err := client.FilterDataset(ctx, req)
	if err != nil {
		return "", nil, err
	}

	meta, err := PollSnapshot(ctx, client, submitted.SnapshotID, opts...)
	if err != nil {
		return submitted.SnapshotID, nil, err
	}

	if recordCap > 0 && meta.DatasetSize > recordCap {
		return submitted.SnapshotID, nil, &OverflowError{
			SnapshotID: submitted.SnapshotID,
			Count:      meta.DatasetSize,
			Cap:        recordCap,
		}
	}

	if cfg.preDownload != nil {
		if err := cfg.preDownload(meta.DatasetSize); err != nil {
			return submitted.SnapshotID, nil, err
		}
	}

	records, err := downloadReady(ctx, client, submitted.SnapshotID, cfg.downloadGap)
	if err != nil {
		return submitted.SnapshotID, nil, err
	}
	return submitted.SnapshotID, records, nil
}

// CollectScrape triggers a scrape job for the URLs and waits for its results.
// Records come back in request order, keyed by the echoed input URL; URLs the
// job dropped entirely are synthesized as failure markers.
func CollectScrape(ctx context.Context, client Client, req ScrapeRequest, opts ...PollOption) (string, []ProfileRecord, error) {
	cfg := defaultPollConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	submitted, err := client.TriggerScrape(ctx, req)
	if err != nil {
		return "", nil, err
	}

	if _, err := PollSnapshot(ctx, client, submitted.SnapshotID, opts...); err != nil {
		return submitted.SnapshotID, nil, err
	}

	records, err := downloadReady(ctx, client, submitted.SnapshotID, cfg.downloadGap)
	if err != nil {
		return submitted.SnapshotID, nil, err
	}

	byURL := make(map[string]ProfileRecord, len(records))
	for _, r := range records {
		byURL[r.RequestedURL()] = r
	}

	ordered := make([]ProfileRecord, 0, len(req.URLs))
	for _, u := range req.URLs {
		if r, ok := byURL[u]; ok {
			ordered = append(ordered, r)
			continue
		}
		ordered = append(ordered, ProfileRecord{
			InputURL:     u,
			ErrorCode:    "missing",
			ErrorMessage: "no record returned for url",
		})
	}
	return submitted.SnapshotID, ordered, nil
}

// downloadReady downloads a snapshot that just reported ready, absorbing the
// short window where the download endpoint still answers not-ready.
func downloadReady(ctx context.Context, client Client, id string, gap time.Duration) ([]ProfileRecord, error) {
	var lastErr error
	for attempt := 0; attempt <= downloadRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, eris.Wrap(ctx.Err(), fmt.Sprintf("brightdata: download snapshot %s", id))
			case <-time.After(gap):
			}
		}

		records, err := client.DownloadSnapshot(ctx, id)
		if err == nil {
			return records, nil
		}
		if !eris.Is(err, ErrNotReady) {
			return nil, err
		}
		lastErr = err
	}
	return nil, eris.Wrap(lastErr, fmt.Sprintf("brightdata: snapshot %s never materialized", id))
}
