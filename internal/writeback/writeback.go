// Package writeback pushes approved pending updates into the CRM. The
// pipeline never writes to Salesforce itself: Stage 4 queues, a reviewer
// approves, and this utility performs the inserts and closes the loop on
// each record's status.
package writeback

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospector-cli/internal/model"
	"github.com/sells-group/prospector-cli/internal/store"
	"github.com/sells-group/prospector-cli/pkg/salesforce"
)

// drainPage bounds one store read while draining the approved queue.
const drainPage = 100

// ReviewBoard is the optional review surface notified after a write, so
// reviewers see Written instead of a stale Approved. NotionSink satisfies
// it.
type ReviewBoard interface {
	MarkWritten(ctx context.Context, queuedID string) error
}

// Writer moves approved pending updates into the CRM.
type Writer struct {
	st    store.Store
	crm   salesforce.Client
	board ReviewBoard
}

// Option configures a Writer.
type Option func(*Writer)

// WithReviewBoard attaches a review surface to notify after each write.
func WithReviewBoard(board ReviewBoard) Option {
	return func(w *Writer) { w.board = board }
}

// New builds a Writer.
func New(st store.Store, crm salesforce.Client, opts ...Option) (*Writer, error) {
	if st == nil {
		return nil, eris.New("writeback: store is required")
	}
	if crm == nil {
		return nil, eris.New("writeback: salesforce client is required")
	}
	w := &Writer{st: st, crm: crm}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Options bound one Run invocation.
type Options struct {
	// Limit caps how many updates this invocation processes. Zero drains
	// the whole approved queue.
	Limit int

	// AccountID restricts processing to one account's updates.
	AccountID string

	// DryRun resolves duplicates and reports what would happen without
	// writing to the CRM or flipping statuses.
	DryRun bool
}

// Result summarizes one Run invocation.
type Result struct {
	Processed int      `json:"processed"`
	Written   int      `json:"written"`
	Skipped   int      `json:"skipped"`
	Failed    int      `json:"failed"`
	Errors    []string `json:"errors,omitempty"`
}

// Run lists approved updates and writes each to the CRM: leads insert as
// Lead records, contacts as Contact records attached to the account. A
// person already present among the account's contacts is skipped and
// marked written. Per-record failures mark the record failed and the run
// continues; only store failures abort. Inserts go through CreateLead and
// CreateContact so their required-field checks run first.
func (w *Writer) Run(ctx context.Context, opts Options) (*Result, error) {
	res := &Result{}
	contacts := newContactCache(w.crm)

	offset := 0
	for {
		page := drainPage
		if opts.Limit > 0 {
			if remaining := opts.Limit - res.Processed; remaining < page {
				page = remaining
			}
		}
		if page <= 0 {
			return res, nil
		}

		updates, err := w.st.ListPendingUpdates(ctx, store.PendingFilter{
			Status:    model.PendingApproved,
			AccountID: opts.AccountID,
			Limit:     page,
			Offset:    offset,
		})
		if err != nil {
			return res, eris.Wrap(err, "writeback: list approved updates")
		}
		if len(updates) == 0 {
			return res, nil
		}

		for i := range updates {
			if err := ctx.Err(); err != nil {
				return res, eris.Wrap(err, "writeback: cancelled")
			}
			if err := w.process(ctx, &updates[i], contacts, opts.DryRun, res); err != nil {
				return res, err
			}
		}

		if opts.DryRun {
			// Statuses do not flip on a dry run, so page forward instead
			// of re-listing the same records.
			offset += len(updates)
		}
	}
}

// process writes one update. The returned error is a store failure; CRM
// failures land in the result and the record's status.
func (w *Writer) process(ctx context.Context, pu *model.PendingUpdate, contacts *contactCache, dryRun bool, res *Result) error {
	res.Processed++

	dup, err := contacts.exists(ctx, pu)
	if err != nil {
		// Treat an unreadable contact list as a per-record failure; the
		// insert could create a duplicate otherwise.
		return w.finish(ctx, pu, model.PendingFailed, dryRun, res, eris.Wrap(err, "writeback: check existing contacts"))
	}
	if dup {
		res.Skipped++
		zap.L().Info("writeback: already in crm, skipping",
			zap.String("id", pu.ID),
			zap.String("account_id", pu.AccountID),
		)
		if dryRun {
			return nil
		}
		return w.setStatus(ctx, pu.ID, model.PendingWritten)
	}

	if dryRun {
		res.Written++
		return nil
	}

	sObject, record := crmRecord(pu)
	var crmID string
	if sObject == "Contact" {
		crmID, err = salesforce.CreateContact(ctx, w.crm, pu.AccountID, record)
	} else {
		crmID, err = salesforce.CreateLead(ctx, w.crm, record)
	}
	if err != nil {
		return w.finish(ctx, pu, model.PendingFailed, dryRun, res, eris.Wrapf(err, "writeback: insert %s for update %s", sObject, pu.ID))
	}

	res.Written++
	zap.L().Info("writeback: record created",
		zap.String("id", pu.ID),
		zap.String("sobject", sObject),
		zap.String("crm_id", crmID),
	)

	if w.board != nil && pu.QueuedID != "" {
		if err := w.board.MarkWritten(ctx, pu.QueuedID); err != nil {
			zap.L().Warn("writeback: review board update failed",
				zap.String("queued_id", pu.QueuedID),
				zap.Error(err),
			)
		}
	}

	return w.setStatus(ctx, pu.ID, model.PendingWritten)
}

// finish records a per-record failure and flips the record's status.
func (w *Writer) finish(ctx context.Context, pu *model.PendingUpdate, status model.PendingStatus, dryRun bool, res *Result, cause error) error {
	res.Failed++
	res.Errors = append(res.Errors, cause.Error())
	zap.L().Error("writeback: update failed",
		zap.String("id", pu.ID),
		zap.Error(cause),
	)
	if dryRun {
		return nil
	}
	return w.setStatus(ctx, pu.ID, status)
}

// setStatus flips a record's status. Failure here aborts the run: leaving
// a processed record approved would reprocess it forever.
func (w *Writer) setStatus(ctx context.Context, id string, status model.PendingStatus) error {
	if err := w.st.UpdatePendingUpdateStatus(ctx, id, status); err != nil {
		return eris.Wrapf(err, "writeback: mark update %s %s", id, status)
	}
	return nil
}

// crmRecord maps a pending update onto the CRM object it creates. A
// contact approved without an account id has nothing to attach to, so it
// falls back to the lead shape; CreateContact supplies AccountId for the
// rest.
func crmRecord(pu *model.PendingUpdate) (string, map[string]any) {
	given := fieldStr(pu, model.FieldGivenName)
	family := fieldStr(pu, model.FieldFamilyName)
	if family == "" {
		// Salesforce requires a last name on both Lead and Contact.
		family = "(unknown)"
	}

	record := map[string]any{
		"FirstName":   given,
		"LastName":    family,
		"Title":       fieldStr(pu, model.FieldTitle),
		"Description": description(pu),
	}

	if pu.RecordType == model.RecordTypeContact && pu.AccountID != "" {
		return "Contact", record
	}

	company := fieldStr(pu, model.FieldEmployer)
	if company == "" {
		company = "(unknown)"
	}
	record["Company"] = company
	record["LeadSource"] = "Prospect Discovery"
	return "Lead", record
}

// description carries the ranking evidence into the CRM record.
func description(pu *model.PendingUpdate) string {
	var sb strings.Builder
	if rationale := fieldStr(pu, model.FieldRationale); rationale != "" {
		sb.WriteString(rationale)
	}
	if url := fieldStr(pu, model.FieldProfileURL); url != "" {
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString("Profile: " + url)
	}
	if score, ok := pu.Fields[model.FieldScore]; ok {
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "Fit score: %v (%s)", score, fieldStr(pu, model.FieldPersona))
	}
	return sb.String()
}

func fieldStr(pu *model.PendingUpdate, key string) string {
	v, ok := pu.Fields[key]
	if !ok || v == nil {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return fmt.Sprintf("%v", v)
	}
	return s
}

// contactCache fetches each account's existing contacts once per run.
type contactCache struct {
	crm   salesforce.Client
	byAcc map[string]map[string]struct{}
}

func newContactCache(crm salesforce.Client) *contactCache {
	return &contactCache{crm: crm, byAcc: make(map[string]map[string]struct{})}
}

// exists reports whether the update's person already appears among the
// account's contacts, matching on case-folded given+family name. Updates
// without an account id have nothing to check against.
func (c *contactCache) exists(ctx context.Context, pu *model.PendingUpdate) (bool, error) {
	if pu.AccountID == "" {
		return false, nil
	}

	names, ok := c.byAcc[pu.AccountID]
	if !ok {
		contacts, err := salesforce.FindContactsByAccountID(ctx, c.crm, pu.AccountID)
		if err != nil {
			return false, err
		}
		names = make(map[string]struct{}, len(contacts))
		for _, contact := range contacts {
			names[nameKey(contact.FirstName, contact.LastName)] = struct{}{}
		}
		c.byAcc[pu.AccountID] = names
	}

	key := nameKey(fieldStr(pu, model.FieldGivenName), fieldStr(pu, model.FieldFamilyName))
	if key == "" {
		return false, nil
	}
	_, dup := names[key]
	return dup, nil
}

func nameKey(given, family string) string {
	key := strings.ToLower(strings.TrimSpace(given + " " + family))
	if strings.TrimSpace(key) == "" {
		return ""
	}
	return key
}
