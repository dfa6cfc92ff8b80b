package company

import (
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/prospector-cli/internal/model"
)

// Matcher grades self-reported employer strings against a company name set.
// Build one per run; Match is safe for concurrent use.
type Matcher struct {
	exact    map[string]struct{}
	variants []variantTokens
}

type variantTokens struct {
	display string
	tokens  map[string]struct{}
}

// NewMatcher pre-normalizes the name set. Entries that normalize to nothing
// are skipped.
func NewMatcher(nameSet []string) *Matcher {
	m := &Matcher{exact: make(map[string]struct{}, len(nameSet))}
	for _, name := range nameSet {
		normalized := Normalize(name)
		if normalized == "" {
			continue
		}
		if _, ok := m.exact[normalized]; ok {
			continue
		}
		m.exact[normalized] = struct{}{}
		m.variants = append(m.variants, variantTokens{
			display: name,
			tokens:  tokenSet(normalized),
		})
	}
	return m
}

// Match grades an employer string against the name set.
//
// Exact: the normalized employer equals a normalized set entry.
// Variant: every employer token appears in some entry, or every token of a
// multi-token entry appears in the employer. A single-token entry buried in a
// longer employer string is not enough evidence on its own.
func (m *Matcher) Match(employer string) model.MatchGrade {
	normalized := Normalize(employer)
	if normalized == "" {
		return model.MatchNone
	}

	if _, ok := m.exact[normalized]; ok {
		return model.MatchExact
	}

	empTokens := tokenSet(normalized)
	for _, v := range m.variants {
		if containsAll(v.tokens, empTokens) || (len(v.tokens) >= 2 && containsAll(empTokens, v.tokens)) {
			zap.L().Debug("match: variant",
				zap.String("employer", employer),
				zap.String("variant", v.display),
			)
			return model.MatchVariant
		}
	}

	zap.L().Debug("match: employer not in name set",
		zap.String("employer", employer),
		zap.String("normalized", normalized),
	)
	return model.MatchNone
}

// Size reports how many distinct normalized entries the matcher holds.
func (m *Matcher) Size() int {
	return len(m.variants)
}

// containsAll reports whether every key of sub is present in super.
// An empty sub never matches.
func containsAll(super, sub map[string]struct{}) bool {
	if len(sub) == 0 || len(sub) > len(super) {
		return false
	}
	for k := range sub {
		if _, ok := super[k]; !ok {
			return false
		}
	}
	return true
}

// MatchesLocation reports whether a profile location string mentions the
// account's city. Used by the optional location filter; blank inputs pass.
func MatchesLocation(location, city string) bool {
	city = strings.TrimSpace(city)
	if city == "" || strings.TrimSpace(location) == "" {
		return true
	}
	return strings.Contains(strings.ToLower(location), strings.ToLower(city))
}
