// Package approval queues pending CRM updates for human review. The
// pipeline never writes to the CRM directly: every accepted prospect
// becomes a PendingUpdate that a reviewer approves or rejects before the
// write-back utility touches Salesforce.
package approval

import (
	"context"
	"strings"

	"github.com/sells-group/prospector-cli/internal/model"
)

// Sink accepts pending updates from Stage 4. Enqueue returns the id the
// queue assigned to the record. Implementations may retry transient
// failures internally; they never write to the CRM.
type Sink interface {
	Enqueue(ctx context.Context, pu *model.PendingUpdate) (string, error)
}

// Project maps one qualified prospect onto the fixed pending-update field
// set. New prospects become leads; callers that matched the profile to an
// existing CRM contact switch RecordType before enqueueing.
func Project(account model.AccountRef, runID string, p model.QualifiedProspect) *model.PendingUpdate {
	given, family := p.Profile.GivenName, p.Profile.FamilyName
	if given == "" && family == "" {
		given, family = splitFullName(p.Profile.FullName)
	}

	return &model.PendingUpdate{
		RecordType: model.RecordTypeLead,
		AccountID:  account.ID,
		RunID:      runID,
		Fields: map[string]any{
			model.FieldGivenName:  given,
			model.FieldFamilyName: family,
			model.FieldTitle:      p.Profile.Title,
			model.FieldEmployer:   p.Profile.Employer,
			model.FieldLocation:   p.Profile.Location(),
			model.FieldProfileURL: p.ProfileURL,
			model.FieldPersona:    string(p.Persona),
			model.FieldScore:      p.Score,
			model.FieldRationale:  p.Rationale,
			model.FieldRunID:      runID,
		},
		Provenance: []string{p.ProfileURL},
	}
}

// splitFullName falls back to a first-token/rest split when the profile
// carries only a display name. Single tokens become the given name.
func splitFullName(full string) (given, family string) {
	parts := strings.Fields(strings.TrimSpace(full))
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return parts[0], ""
	}
	return parts[0], strings.Join(parts[1:], " ")
}
