package salesforce

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
)

// Typed write helpers for the write-back utility. Each one front-loads the
// field checks Salesforce would otherwise reject server-side, so a bad
// record fails before spending an API call.

func missingField(fields map[string]any, name string) bool {
	v, ok := fields[name]
	return !ok || v == nil || v == ""
}

func updateFields(ctx context.Context, c Client, sObject, id string, fields map[string]any) error {
	if len(fields) == 0 {
		return eris.New("sf: no fields to update")
	}
	if err := c.UpdateOne(ctx, sObject, id, fields); err != nil {
		return eris.Wrapf(err, "sf: update %s %s", strings.ToLower(sObject), id)
	}
	return nil
}

// CreateLead inserts a Lead and returns its new id. Salesforce requires
// LastName and Company on every lead.
func CreateLead(ctx context.Context, c Client, fields map[string]any) (string, error) {
	for _, required := range []string{"LastName", "Company"} {
		if missingField(fields, required) {
			return "", eris.Errorf("sf: lead %s is required", required)
		}
	}
	id, err := c.InsertOne(ctx, "Lead", fields)
	if err != nil {
		return "", eris.Wrap(err, "sf: create lead")
	}
	return id, nil
}

// UpdateLead writes the given fields onto an existing Lead.
func UpdateLead(ctx context.Context, c Client, leadID string, fields map[string]any) error {
	if leadID == "" {
		return eris.New("sf: lead id is required")
	}
	return updateFields(ctx, c, "Lead", leadID, fields)
}

// CreateContact inserts a Contact under the given Account and returns its
// new id. Contacts always hang off an account; use CreateLead for people
// with no CRM account to attach to.
func CreateContact(ctx context.Context, c Client, accountID string, fields map[string]any) (string, error) {
	if accountID == "" {
		return "", eris.New("sf: account id is required for contact")
	}
	if fields == nil {
		fields = make(map[string]any)
	}
	fields["AccountId"] = accountID
	id, err := c.InsertOne(ctx, "Contact", fields)
	if err != nil {
		return "", eris.Wrapf(err, "sf: create contact for account %s", accountID)
	}
	return id, nil
}

// UpdateContact writes the given fields onto an existing Contact.
func UpdateContact(ctx context.Context, c Client, contactID string, fields map[string]any) error {
	if contactID == "" {
		return eris.New("sf: contact id is required")
	}
	return updateFields(ctx, c, "Contact", contactID, fields)
}
