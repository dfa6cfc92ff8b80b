// Package persona holds the buyer-persona configuration: which job titles
// the pipeline targets, which it excludes, and the rubric the ranker scores
// against.
package persona

import "strings"

// Persona is the full persona configuration for a pipeline run.
type Persona struct {
	// TargetTitles are the decision-maker titles the dataset filter and
	// search queries look for, ordered by seniority.
	TargetTitles []string `yaml:"target_titles"`

	// NegativeTitles exclude clinical and training roles. Matching is
	// token-level: a keyword matches only when its words appear as
	// consecutive whole tokens in the title.
	NegativeTitles []string `yaml:"negative_titles"`

	// PositiveKeywords is the weak allow-list a validated title must hit.
	PositiveKeywords []string `yaml:"positive_keywords"`

	// Rubric is the scoring guidance handed to the ranker.
	Rubric string `yaml:"rubric"`
}

// Default returns the built-in hospital facilities/operations/finance
// persona.
func Default() *Persona {
	return &Persona{
		TargetTitles: []string{
			"Chief Operating Officer",
			"Chief Financial Officer",
			"Chief Administrative Officer",
			"VP of Operations",
			"VP of Finance",
			"VP of Facilities",
			"VP of Support Services",
			"Executive Director",
			"Director of Facilities",
			"Director of Plant Operations",
			"Director of Engineering",
			"Director of Operations",
			"Director of Finance",
			"Director of Construction",
			"Facilities Manager",
			"Plant Operations Manager",
			"Energy Manager",
			"Sustainability Manager",
			"Controller",
			"Hospital Administrator",
		},
		NegativeTitles: []string{
			"nurse",
			"nursing",
			"clinical",
			"patient care",
			"intern",
			"student",
			"physician",
			"therapist",
			"resident",
			"fellow",
			"pharmacist",
			"technician",
		},
		PositiveKeywords: []string{
			"facilities",
			"facility",
			"plant",
			"operations",
			"engineering",
			"maintenance",
			"construction",
			"energy",
			"sustainability",
			"finance",
			"financial",
			"controller",
			"administrator",
			"administrative",
			"support services",
			"cfo",
			"coo",
			"chief",
			"president",
			"director",
			"manager",
			"supervisor",
		},
		Rubric: defaultRubric,
	}
}

const defaultRubric = `Score each person 0-100 on fit as a buyer contact for hospital facilities and energy infrastructure projects. Weigh:
- Decision authority: does the title carry budget or signing authority (C-suite, VP, executive director score high; individual contributors low)?
- Relevance to facilities and energy capital expenditure: plant operations, facilities, engineering, construction, energy, sustainability responsibilities score high.
- Finance influence: CFO, VP finance, controller roles that approve capital projects score high.
- Current-employment confidence: penalize profiles whose current role looks stale or whose employer is ambiguous.`

// tokenize lowercases a title and splits it into word tokens. Punctuation
// and symbols act as separators, so "VP, Patient-Care Services" becomes
// [vp patient care services].
func tokenize(s string) []string {
	s = strings.ToLower(s)
	return strings.FieldsFunc(s, func(r rune) bool {
		return !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9')
	})
}

// containsPhrase reports whether phrase's tokens appear consecutively in
// tokens.
func containsPhrase(tokens, phrase []string) bool {
	if len(phrase) == 0 || len(phrase) > len(tokens) {
		return false
	}
outer:
	for i := 0; i+len(phrase) <= len(tokens); i++ {
		for j, p := range phrase {
			if tokens[i+j] != p {
				continue outer
			}
		}
		return true
	}
	return false
}

// MatchesNegative reports whether the title hits any excluded keyword.
// Matching is whole-token, so a COO whose title mentions "care coordination
// oversight" is not rejected by the "patient care" keyword.
func (p *Persona) MatchesNegative(title string) bool {
	tokens := tokenize(title)
	for _, kw := range p.NegativeTitles {
		if containsPhrase(tokens, tokenize(kw)) {
			return true
		}
	}
	return false
}

// MatchesPositive reports whether the title hits the weak allow-list.
func (p *Persona) MatchesPositive(title string) bool {
	tokens := tokenize(title)
	for _, kw := range p.PositiveKeywords {
		if containsPhrase(tokens, tokenize(kw)) {
			return true
		}
	}
	return false
}
