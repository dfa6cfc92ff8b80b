package model

// MatchGrade records how confidently a profile's employer matched the
// company name set in Stage 2. The ranker converts it into a deterministic
// score bonus.
type MatchGrade string

const (
	MatchExact   MatchGrade = "exact"
	MatchVariant MatchGrade = "variant"
	MatchNone    MatchGrade = "none"
)

// Bonus is the deterministic score adjustment applied before the ranking
// threshold: exact company matches get +5, variant matches +3.
func (g MatchGrade) Bonus() int {
	switch g {
	case MatchExact:
		return 5
	case MatchVariant:
		return 3
	}
	return 0
}

// EnrichedCandidate pairs a surviving Stage 1 candidate with its enriched
// profile. Stage 2 emits these in Stage 1 order.
type EnrichedCandidate struct {
	Candidate Candidate  `json:"candidate"`
	Profile   Profile    `json:"profile"`
	Match     MatchGrade `json:"match"`
}

// RejectReason is the closed set of Stage 2 rejection codes.
type RejectReason string

const (
	RejectScrapeFailed  RejectReason = "scrape_failed"
	RejectWrongCompany  RejectReason = "wrong_company"
	RejectWrongLocation RejectReason = "wrong_location"
	RejectLowNetwork    RejectReason = "low_network"
	RejectNonTargetRole RejectReason = "non_target_role"
)

// Rejection is one entry in the Stage 2 rejection log.
type Rejection struct {
	ProfileURL string       `json:"profile_url"`
	Reason     RejectReason `json:"reason"`
	Evidence   string       `json:"evidence,omitempty"`
}

// PersonaTag labels which buyer persona a qualified prospect fits.
type PersonaTag string

const (
	PersonaFacilities PersonaTag = "facilities-decision-maker"
	PersonaFinance    PersonaTag = "finance-decision-maker"
	PersonaOperations PersonaTag = "operations-decision-maker"
	PersonaEnergy     PersonaTag = "energy-sustainability-lead"
	PersonaOther      PersonaTag = "other"
)

// NormalizePersona maps free-form model output onto the closed tag set.
func NormalizePersona(s string) PersonaTag {
	switch PersonaTag(s) {
	case PersonaFacilities, PersonaFinance, PersonaOperations, PersonaEnergy:
		return PersonaTag(s)
	}
	return PersonaOther
}

// QualifiedProspect is a candidate that passed validation and ranking.
// Score includes the match bonus and is only set when the ranker ran
// successfully.
type QualifiedProspect struct {
	ProfileURL string     `json:"profile_url"`
	Profile    Profile    `json:"profile"`
	Score      int        `json:"score"`
	Bonus      int        `json:"bonus"`
	Persona    PersonaTag `json:"persona"`
	Rationale  string     `json:"rationale,omitempty"`
}
