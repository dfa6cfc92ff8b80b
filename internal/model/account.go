// Package model defines the entities shared across the discovery pipeline:
// accounts, candidates, profiles, qualified prospects, runs, and pending
// updates.
package model

// AccountRef identifies the target organization for a pipeline run. It is
// immutable once a run starts.
type AccountRef struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Parent   string `json:"parent,omitempty"`
	City     string `json:"city,omitempty"`
	State    string `json:"state,omitempty"`
	Industry string `json:"industry,omitempty"`
}

// HasLocation reports whether the account carries any location hint usable
// by the dataset filter or the location filter.
func (a AccountRef) HasLocation() bool {
	return a.City != "" || a.State != ""
}
