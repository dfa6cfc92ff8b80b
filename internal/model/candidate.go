package model

import (
	"net/url"
	"strings"
)

// CandidateSource identifies which Stage 1 path discovered a candidate.
type CandidateSource string

const (
	SourceDataset CandidateSource = "dataset"
	SourceSearch  CandidateSource = "search"
)

// sourcePriority orders candidate sources for deterministic merging.
// Dataset records sort before search records because they arrive
// pre-enriched.
func (s CandidateSource) priority() int {
	if s == SourceDataset {
		return 0
	}
	return 1
}

// Less orders sources by priority (dataset before search).
func (s CandidateSource) Less(other CandidateSource) bool {
	return s.priority() < other.priority()
}

// Candidate is a possible prospect discovered in Stage 1. ProfileURL is the
// primary key within a run: two candidates with equal URL are the same
// person.
type Candidate struct {
	ProfileURL string          `json:"profile_url"`
	Source     CandidateSource `json:"source"`
	HasProfile bool            `json:"has_profile"`
	Profile    *Profile        `json:"profile,omitempty"`
	Search     *SearchMeta     `json:"search,omitempty"`
}

// SearchMeta preserves the raw web-search context a search-path candidate
// came from.
type SearchMeta struct {
	Query   string `json:"query"`
	Title   string `json:"title,omitempty"`
	Snippet string `json:"snippet,omitempty"`
	Rank    int    `json:"rank"`
}

// CanonicalProfileURL normalizes a profile URL into the candidate key form:
// lowercased host and path, https scheme, query string and fragment
// dropped, trailing slash trimmed. Returns "" for unparseable or empty
// input.
func CanonicalProfileURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ""
	}
	host := strings.ToLower(u.Host)
	host = strings.TrimPrefix(host, "www.")
	path := strings.TrimRight(strings.ToLower(u.Path), "/")
	return "https://" + host + path
}
