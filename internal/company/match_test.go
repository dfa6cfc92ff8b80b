package company

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/prospector-cli/internal/model"
)

func benefisNameSet() []string {
	return []string{
		"Benefis Hospitals Inc",
		"Benefis Hospitals",
		"Benefis Health System",
		"Benefis Health",
	}
}

func TestMatcher_Exact(t *testing.T) {
	t.Parallel()
	m := NewMatcher(benefisNameSet())

	assert.Equal(t, model.MatchExact, m.Match("Benefis Hospitals"))
	// Suffix and punctuation differences still normalize to the same form.
	assert.Equal(t, model.MatchExact, m.Match("Benefis Hospitals, Inc."))
	assert.Equal(t, model.MatchExact, m.Match("benefis health system"))
}

func TestMatcher_Variant(t *testing.T) {
	t.Parallel()
	m := NewMatcher(benefisNameSet())

	// Short self-description contained in a set entry.
	assert.Equal(t, model.MatchVariant, m.Match("Benefis"))
	// Longer self-description containing a full multi-token entry.
	assert.Equal(t, model.MatchVariant, m.Match("Benefis Health System Great Falls"))
	assert.Equal(t, model.MatchVariant, m.Match("Benefis Health System - Great Falls, MT"))
}

func TestMatcher_WrongCompany(t *testing.T) {
	t.Parallel()
	m := NewMatcher(benefisNameSet())

	// Shares a token with the set but is a different organization.
	assert.Equal(t, model.MatchNone, m.Match("Benefis Mobile Services"))
	assert.Equal(t, model.MatchNone, m.Match("Mercy Hospital"))
	assert.Equal(t, model.MatchNone, m.Match("Great Falls Clinic"))
	assert.Equal(t, model.MatchNone, m.Match(""))
	assert.Equal(t, model.MatchNone, m.Match("   "))
}

func TestMatcher_SingleTokenEntryRequiresExact(t *testing.T) {
	t.Parallel()
	m := NewMatcher([]string{"Benefis"})

	assert.Equal(t, model.MatchExact, m.Match("Benefis"))
	// A one-word entry inside a longer employer string is not enough.
	assert.Equal(t, model.MatchNone, m.Match("Benefis Mobile Services"))
}

func TestMatcher_SaintExpansion(t *testing.T) {
	t.Parallel()
	m := NewMatcher([]string{"St. Vincent Healthcare"})

	assert.Equal(t, model.MatchExact, m.Match("Saint Vincent Healthcare"))
	assert.Equal(t, model.MatchExact, m.Match("St Vincent Healthcare"))
	assert.Equal(t, model.MatchVariant, m.Match("Saint Vincent Healthcare Billings"))
}

func TestMatcher_SkipsUnusableEntries(t *testing.T) {
	t.Parallel()
	m := NewMatcher([]string{"", "  ", "Benefis Hospitals", "benefis hospitals"})

	assert.Equal(t, 1, m.Size())
	assert.Equal(t, model.MatchExact, m.Match("Benefis Hospitals"))
}

func TestMatchGradeBonus(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 5, model.MatchExact.Bonus())
	assert.Equal(t, 3, model.MatchVariant.Bonus())
	assert.Equal(t, 0, model.MatchNone.Bonus())
}

func TestMatchesLocation(t *testing.T) {
	t.Parallel()

	assert.True(t, MatchesLocation("Great Falls, Montana, United States", "Great Falls"))
	assert.True(t, MatchesLocation("great falls metro area", "Great Falls"))
	assert.False(t, MatchesLocation("Billings, Montana", "Great Falls"))
	// Blank inputs never reject.
	assert.True(t, MatchesLocation("", "Great Falls"))
	assert.True(t, MatchesLocation("Billings, Montana", ""))
}
