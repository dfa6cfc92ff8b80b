package model

import "time"

// RecordType is the CRM object a pending update targets.
type RecordType string

const (
	RecordTypeLead    RecordType = "lead"
	RecordTypeContact RecordType = "contact"
)

// PendingStatus tracks a pending update through the approval flow. The
// pipeline only ever creates records in the queued state; the approval
// system and the write-back utility own the rest of the lifecycle.
type PendingStatus string

const (
	PendingQueued   PendingStatus = "queued"
	PendingApproved PendingStatus = "approved"
	PendingRejected PendingStatus = "rejected"
	PendingWritten  PendingStatus = "written"
	PendingFailed   PendingStatus = "failed"
)

// PendingUpdate is the Stage 4 hand-off record: a CRM-field-shaped
// projection of one qualified prospect awaiting human approval.
type PendingUpdate struct {
	ID         string         `json:"id"`
	RecordType RecordType     `json:"record_type"`
	AccountID  string         `json:"account_id"`
	RunID      string         `json:"run_id"`
	Fields     map[string]any `json:"fields"`
	Provenance []string       `json:"provenance,omitempty"`
	Status     PendingStatus  `json:"status"`
	QueuedID   string         `json:"queued_id,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Pending-update field keys. The Stage 4 projection writes exactly these.
const (
	FieldGivenName  = "given_name"
	FieldFamilyName = "family_name"
	FieldTitle      = "title"
	FieldEmployer   = "employer"
	FieldLocation   = "location"
	FieldProfileURL = "profile_url"
	FieldPersona    = "persona"
	FieldScore      = "score"
	FieldRationale  = "rationale"
	FieldRunID      = "run_id"
)
