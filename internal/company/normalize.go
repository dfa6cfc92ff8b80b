// Package company builds and matches employer-name variants for an account.
package company

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// suffixPattern matches trailing legal entity suffixes for name normalization.
var suffixPattern = regexp.MustCompile(`(?i)[,\s]+(inc\.?|incorporated|llc|l\.l\.c\.?|ltd\.?|limited|co\.?|corp\.?|corporation|company|group|holdings|llp|lp|pllc|plc|p\.?c\.?|p\.?a\.?|n\.?a\.?)$`)

var multiSpaceRe = regexp.MustCompile(`\s{2,}`)

// foldTransformer strips combining marks so accented and plain spellings
// compare equal.
var foldTransformer = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Normalize standardizes an employer name for matching:
//  1. Trim whitespace and fold diacritics
//  2. Strip legal suffixes (Inc, LLC, Corporation, Group, ...) repeatedly
//  3. Lowercase
//  4. Replace punctuation (& becomes "and", separators become spaces)
//  5. Canonicalize "St"/"St." tokens to "saint"
//  6. Collapse multiple spaces
func Normalize(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}

	if folded, _, err := transform.String(foldTransformer, name); err == nil {
		name = folded
	}

	name = StripSuffix(name)
	name = strings.ToLower(name)

	name = strings.NewReplacer(
		",", " ",
		".", "",
		"'", "",
		"’", "",
		"\"", "",
		"&", " and ",
		"-", " ",
		"/", " ",
		"(", " ",
		")", " ",
	).Replace(name)

	toks := strings.Fields(name)
	for i, tok := range toks {
		if tok == "st" {
			toks[i] = "saint"
		}
	}
	return strings.Join(toks, " ")
}

// StripSuffix removes trailing legal entity suffixes while preserving case.
// Stacked suffixes like "Health Co, Inc." are stripped in turn.
func StripSuffix(name string) string {
	name = strings.TrimSpace(name)
	for {
		stripped := strings.TrimSpace(suffixPattern.ReplaceAllString(name, ""))
		stripped = strings.TrimRight(stripped, ",")
		if stripped == name || stripped == "" {
			return name
		}
		name = stripped
	}
}

// SaintExpand rewrites abbreviated "St"/"St." tokens as "Saint". Returns the
// input unchanged when no abbreviation is present.
func SaintExpand(name string) string {
	fields := strings.Fields(name)
	changed := false
	for i, f := range fields {
		if strings.EqualFold(f, "st") || strings.EqualFold(f, "st.") {
			fields[i] = "Saint"
			changed = true
		}
	}
	if !changed {
		return name
	}
	return strings.Join(fields, " ")
}

// Tokens returns the whitespace-separated tokens of a normalized name.
func Tokens(name string) []string {
	return strings.Fields(Normalize(name))
}

func tokenSet(normalized string) map[string]struct{} {
	fields := strings.Fields(normalized)
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

// multiSpace collapse is shared by display-level helpers.
func collapseSpaces(s string) string {
	return strings.TrimSpace(multiSpaceRe.ReplaceAllString(s, " "))
}
