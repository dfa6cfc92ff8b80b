package approval

import (
	"context"
	"strings"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospector-cli/internal/model"
	"github.com/sells-group/prospector-cli/internal/resilience"
	"github.com/sells-group/prospector-cli/internal/store"
)

// Property names in the pending-updates Notion database. The integration
// owns the schema; reviewers only move Status.
const (
	propName      = "Name"
	propTitle     = "Title"
	propCompany   = "Company"
	propLocation  = "Location"
	propProfile   = "Profile"
	propPersona   = "Persona"
	propScore     = "Score"
	propRationale = "Rationale"
	propAccount   = "Account"
	propRun       = "Run"
	propStatus    = "Status"
)

// Status values reviewers move pages through. The sink writes Queued; the
// write-back utility advances Approved pages to Written.
const (
	statusQueued   = "Queued"
	statusApproved = "Approved"
	statusRejected = "Rejected"
	statusWritten  = "Written"
)

// syncListLimit bounds one SyncDecisions pass over queued store records.
const syncListLimit = 1000

// NotionSink queues pending updates as pages in a Notion database. It wraps
// StoreSink so every update is durably persisted before the page is
// created; a Notion outage therefore loses nothing, the record just waits
// in the store without a queued id.
type NotionSink struct {
	inner   *StoreSink
	store   store.Store
	client  NotionClient
	dbID    string
	breaker *resilience.CircuitBreaker
	retry   resilience.RetryConfig
}

// NotionSinkOption configures the sink.
type NotionSinkOption func(*NotionSink)

// WithRetryConfig overrides the page-creation retry policy.
func WithRetryConfig(cfg resilience.RetryConfig) NotionSinkOption {
	return func(s *NotionSink) { s.retry = cfg }
}

// WithBreaker overrides the circuit breaker guarding Notion calls.
func WithBreaker(cb *resilience.CircuitBreaker) NotionSinkOption {
	return func(s *NotionSink) { s.breaker = cb }
}

// WithBreakerConfig retunes the breaker while keeping the sink's
// state-transition logging.
func WithBreakerConfig(cfg resilience.CircuitBreakerConfig) NotionSinkOption {
	return func(s *NotionSink) {
		cfg.OnStateChange = notionBreakerLog
		s.breaker = resilience.NewCircuitBreaker(cfg)
	}
}

// NewNotionSink creates a sink that persists to the store and mirrors each
// update into the given Notion database.
func NewNotionSink(st store.Store, client NotionClient, dbID string, opts ...NotionSinkOption) *NotionSink {
	s := &NotionSink{
		inner:   NewStoreSink(st),
		store:   st,
		client:  client,
		dbID:    dbID,
		breaker: resilience.NewCircuitBreaker(notionBreakerConfig()),
		retry:   resilience.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.retry.OnRetry == nil {
		s.retry.OnRetry = resilience.RetryLogger("notion", "create_page")
	}
	return s
}

// notionBreakerConfig logs breaker transitions so a stalled review queue
// shows up in the logs rather than as silently missing pages.
func notionBreakerConfig() resilience.CircuitBreakerConfig {
	cfg := resilience.DefaultCircuitBreakerConfig()
	cfg.OnStateChange = notionBreakerLog
	return cfg
}

func notionBreakerLog(from, to resilience.CircuitState) {
	zap.L().Warn("notion circuit state changed",
		zap.Stringer("from", from),
		zap.Stringer("to", to))
}

// Enqueue persists the update, creates its review page, and records the
// page id back on the stored record. The returned id is the Notion page id.
func (s *NotionSink) Enqueue(ctx context.Context, pu *model.PendingUpdate) (string, error) {
	if _, err := s.inner.Enqueue(ctx, pu); err != nil {
		return "", err
	}

	page, err := resilience.ExecuteVal(ctx, s.breaker, func(ctx context.Context) (*notionapi.Page, error) {
		return resilience.DoVal(ctx, s.retry, func(ctx context.Context) (*notionapi.Page, error) {
			return s.client.CreatePage(ctx, s.pageRequest(pu))
		})
	})
	if err != nil {
		return "", eris.Wrapf(err, "approval: notion page for pending update %s", pu.ID)
	}

	pu.QueuedID = string(page.ID)
	if err := s.store.SavePendingUpdate(ctx, pu); err != nil {
		return "", eris.Wrapf(err, "approval: record queued id for %s", pu.ID)
	}

	zap.L().Debug("pending update queued",
		zap.String("pending_id", pu.ID),
		zap.String("page_id", pu.QueuedID),
		zap.String("run_id", pu.RunID))
	return pu.QueuedID, nil
}

// SyncDecisions pulls reviewer decisions out of the Notion database and
// applies them to the store. Pages moved to Approved or Rejected flip the
// matching queued record; everything else is left alone.
func (s *NotionSink) SyncDecisions(ctx context.Context) (approved, rejected int, err error) {
	approvedIDs, err := s.pagesByStatus(ctx, statusApproved)
	if err != nil {
		return 0, 0, eris.Wrap(err, "approval: query approved pages")
	}
	rejectedIDs, err := s.pagesByStatus(ctx, statusRejected)
	if err != nil {
		return 0, 0, eris.Wrap(err, "approval: query rejected pages")
	}

	queued, err := s.store.ListPendingUpdates(ctx, store.PendingFilter{
		Status: model.PendingQueued,
		Limit:  syncListLimit,
	})
	if err != nil {
		return 0, 0, eris.Wrap(err, "approval: list queued updates")
	}

	for i := range queued {
		pu := &queued[i]
		if pu.QueuedID == "" {
			continue
		}
		if _, ok := approvedIDs[pu.QueuedID]; ok {
			if err := s.store.UpdatePendingUpdateStatus(ctx, pu.ID, model.PendingApproved); err != nil {
				return approved, rejected, eris.Wrapf(err, "approval: mark %s approved", pu.ID)
			}
			approved++
			continue
		}
		if _, ok := rejectedIDs[pu.QueuedID]; ok {
			if err := s.store.UpdatePendingUpdateStatus(ctx, pu.ID, model.PendingRejected); err != nil {
				return approved, rejected, eris.Wrapf(err, "approval: mark %s rejected", pu.ID)
			}
			rejected++
		}
	}

	zap.L().Info("reviewer decisions synced",
		zap.Int("approved", approved),
		zap.Int("rejected", rejected))
	return approved, rejected, nil
}

// MarkWritten flips the Notion page for a written update so reviewers see
// the write-back completed.
func (s *NotionSink) MarkWritten(ctx context.Context, queuedID string) error {
	_, err := s.client.UpdatePage(ctx, queuedID, &notionapi.PageUpdateRequest{
		Properties: notionapi.Properties{
			propStatus: notionapi.StatusProperty{
				Status: notionapi.Status{Name: statusWritten},
			},
		},
	})
	return eris.Wrapf(err, "approval: mark page %s written", queuedID)
}

// pagesByStatus returns the ids of all pages currently in the given status.
func (s *NotionSink) pagesByStatus(ctx context.Context, status string) (map[string]struct{}, error) {
	pages, err := queryAll(ctx, s.client, s.dbID, &notionapi.DatabaseQueryRequest{
		Filter: notionapi.PropertyFilter{
			Property: propStatus,
			Status:   &notionapi.StatusFilterCondition{Equals: status},
		},
	})
	if err != nil {
		return nil, err
	}
	ids := make(map[string]struct{}, len(pages))
	for _, p := range pages {
		ids[string(p.ID)] = struct{}{}
	}
	return ids, nil
}

// pageRequest builds the create request for one pending update.
func (s *NotionSink) pageRequest(pu *model.PendingUpdate) *notionapi.PageCreateRequest {
	name := strings.TrimSpace(fieldString(pu, model.FieldGivenName) + " " + fieldString(pu, model.FieldFamilyName))
	if name == "" {
		name = fieldString(pu, model.FieldProfileURL)
	}

	props := notionapi.Properties{
		propName: notionapi.TitleProperty{
			Type:  notionapi.PropertyTypeTitle,
			Title: richText(name),
		},
		propStatus: notionapi.StatusProperty{
			Status: notionapi.Status{Name: statusQueued},
		},
		propProfile: notionapi.URLProperty{
			Type: notionapi.PropertyTypeURL,
			URL:  fieldString(pu, model.FieldProfileURL),
		},
		propPersona: notionapi.SelectProperty{
			Type:   notionapi.PropertyTypeSelect,
			Select: notionapi.Option{Name: fieldString(pu, model.FieldPersona)},
		},
		propScore: notionapi.NumberProperty{
			Type:   notionapi.PropertyTypeNumber,
			Number: fieldNumber(pu, model.FieldScore),
		},
	}

	setRichText(props, propTitle, fieldString(pu, model.FieldTitle))
	setRichText(props, propCompany, fieldString(pu, model.FieldEmployer))
	setRichText(props, propLocation, fieldString(pu, model.FieldLocation))
	setRichText(props, propRationale, fieldString(pu, model.FieldRationale))
	setRichText(props, propAccount, pu.AccountID)
	setRichText(props, propRun, pu.RunID)

	return &notionapi.PageCreateRequest{
		Parent: notionapi.Parent{
			Type:       notionapi.ParentTypeDatabaseID,
			DatabaseID: notionapi.DatabaseID(s.dbID),
		},
		Properties: props,
	}
}

// setRichText adds a rich_text property, skipping empty values.
func setRichText(props notionapi.Properties, key, value string) {
	if value == "" {
		return
	}
	props[key] = notionapi.RichTextProperty{
		Type:     notionapi.PropertyTypeRichText,
		RichText: richText(value),
	}
}

func richText(s string) []notionapi.RichText {
	return []notionapi.RichText{
		{Type: notionapi.ObjectTypeText, Text: &notionapi.Text{Content: s}},
	}
}

// fieldString reads a string field from the update's field map.
func fieldString(pu *model.PendingUpdate, key string) string {
	v, _ := pu.Fields[key].(string)
	return v
}

// fieldNumber reads a numeric field. Scores arrive as ints from the
// pipeline and as float64 after a store round trip.
func fieldNumber(pu *model.PendingUpdate, key string) float64 {
	switch v := pu.Fields[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}
