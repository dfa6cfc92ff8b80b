package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanonicalProfileURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"already canonical", "https://linkedin.com/in/jane-doe", "https://linkedin.com/in/jane-doe"},
		{"uppercase host and path", "HTTPS://LinkedIn.com/in/Jane-Doe", "https://linkedin.com/in/jane-doe"},
		{"strips www", "https://www.linkedin.com/in/jane-doe", "https://linkedin.com/in/jane-doe"},
		{"strips query string", "https://linkedin.com/in/jane-doe?trk=people-search", "https://linkedin.com/in/jane-doe"},
		{"strips fragment", "https://linkedin.com/in/jane-doe#about", "https://linkedin.com/in/jane-doe"},
		{"strips trailing slash", "https://linkedin.com/in/jane-doe/", "https://linkedin.com/in/jane-doe"},
		{"adds scheme", "linkedin.com/in/jane-doe", "https://linkedin.com/in/jane-doe"},
		{"http becomes https", "http://linkedin.com/in/jane-doe", "https://linkedin.com/in/jane-doe"},
		{"surrounding whitespace", "  https://linkedin.com/in/jane-doe  ", "https://linkedin.com/in/jane-doe"},
		{"empty", "", ""},
		{"garbage", "://", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, CanonicalProfileURL(tt.in))
		})
	}
}

func TestCandidateSourceOrdering(t *testing.T) {
	t.Parallel()

	assert.True(t, SourceDataset.Less(SourceSearch))
	assert.False(t, SourceSearch.Less(SourceDataset))
	assert.False(t, SourceDataset.Less(SourceDataset))
}
