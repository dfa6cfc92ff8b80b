package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/prospector-cli/internal/model"
	"github.com/sells-group/prospector-cli/pkg/brightdata"
)

func TestSearchQueries_CrossesVariantsWithTitles(t *testing.T) {
	st := newTestStore(t)

	p, err := New(testSettings(), st, nil, Clients{Data: new(mockDataset), AI: new(mockAI)}, nil)
	require.NoError(t, err)

	queries := p.searchQueries([]string{"Benefis Hospitals Inc"})

	require.Len(t, queries, 20)
	assert.Equal(t, `"Benefis Hospitals Inc" Chief Operating Officer site:linkedin.com/in`, queries[0])
	assert.Equal(t, `"Benefis Hospitals Inc" Hospital Administrator site:linkedin.com/in`, queries[19])
}

func TestSearchQueries_CapStopsMidVariant(t *testing.T) {
	st := newTestStore(t)
	settings := testSettings()
	settings.MaxSearchQueries = 3

	p, err := New(settings, st, nil, Clients{Data: new(mockDataset), AI: new(mockAI)}, nil)
	require.NoError(t, err)

	queries := p.searchQueries([]string{"Benefis Hospitals Inc", "Benefis Health System"})

	// The first variant has 20 titles, so a cap of 3 never reaches the
	// second variant.
	require.Len(t, queries, 3)
	assert.Equal(t, `"Benefis Hospitals Inc" Chief Operating Officer site:linkedin.com/in`, queries[0])
	assert.Equal(t, `"Benefis Hospitals Inc" Chief Financial Officer site:linkedin.com/in`, queries[1])
	assert.Equal(t, `"Benefis Hospitals Inc" Chief Administrative Officer site:linkedin.com/in`, queries[2])
}

func TestMergeCandidates_DatasetCopyWinsAndOrderIsDeterministic(t *testing.T) {
	dataset := []model.Candidate{
		{ProfileURL: "https://linkedin.com/in/bo-chen", Source: model.SourceDataset, HasProfile: true},
		{ProfileURL: "https://linkedin.com/in/ana-ibarra", Source: model.SourceDataset, HasProfile: true,
			Profile: &model.Profile{FullName: "Ana Ibarra"}},
	}
	search := []model.Candidate{
		{ProfileURL: "https://linkedin.com/in/cy-holt", Source: model.SourceSearch,
			Search: &model.SearchMeta{Query: "q1", Rank: 1}},
		{ProfileURL: "https://linkedin.com/in/ana-ibarra", Source: model.SourceSearch,
			Search: &model.SearchMeta{Query: "q2", Rank: 3}},
	}

	merged := mergeCandidates(dataset, search)

	require.Len(t, merged, 3)

	// Dataset block first, URL order inside each block.
	assert.Equal(t, "https://linkedin.com/in/ana-ibarra", merged[0].ProfileURL)
	assert.Equal(t, "https://linkedin.com/in/bo-chen", merged[1].ProfileURL)
	assert.Equal(t, "https://linkedin.com/in/cy-holt", merged[2].ProfileURL)

	// Both paths found Ana; the dataset copy carries the profile and wins.
	assert.Equal(t, model.SourceDataset, merged[0].Source)
	assert.True(t, merged[0].HasProfile)
	require.NotNil(t, merged[0].Profile)
	assert.Equal(t, "Ana Ibarra", merged[0].Profile.FullName)
	assert.Nil(t, merged[0].Search)

	assert.Equal(t, model.SourceSearch, merged[2].Source)
}

func TestMergeCandidates_HigherPrioritySourceReplacesEarlierCopy(t *testing.T) {
	merged := mergeCandidates(nil, []model.Candidate{
		{ProfileURL: "https://linkedin.com/in/dee-okoro", Source: model.SourceSearch},
		{ProfileURL: "https://linkedin.com/in/dee-okoro", Source: model.SourceDataset, HasProfile: true},
	})

	require.Len(t, merged, 1)
	assert.Equal(t, model.SourceDataset, merged[0].Source)
	assert.True(t, merged[0].HasProfile)
}

func TestProfileFromRecord(t *testing.T) {
	rec := brightdata.ProfileRecord{
		URL:         "https://linkedin.com/in/pat-walsh",
		Name:        "Pat Walsh",
		FirstName:   "Pat",
		LastName:    "Walsh",
		Headline:    "Facilities leader",
		City:        "Great Falls",
		Region:      "Montana",
		CountryCode: "US",
		Connections: 320,
		Followers:   410,
		About:       "Keeps the lights on.",
		Skills:      []string{"HVAC", "Capital planning"},
		Experience: []brightdata.ExperienceRecord{
			{Title: "Director of Facilities", Company: "Benefis Health System", StartDate: "2019"},
			{Title: "Plant Engineer", Company: "Billings Clinic", StartDate: "2012", EndDate: "2019"},
		},
		Education: []brightdata.EducationRecord{
			{School: "Montana State University", Degree: "BS", Field: "Mechanical Engineering"},
		},
	}

	profile := profileFromRecord(rec)

	assert.Equal(t, "Pat Walsh", profile.FullName)
	assert.Equal(t, "Pat", profile.GivenName)
	assert.Equal(t, "Walsh", profile.FamilyName)
	assert.Equal(t, "Facilities leader", profile.Headline)
	assert.Equal(t, "Great Falls, Montana, US", profile.Location())
	assert.Equal(t, 320, profile.Connections)
	assert.Equal(t, 410, profile.Followers)
	assert.Equal(t, "Keeps the lights on.", profile.Summary)
	assert.Equal(t, []string{"HVAC", "Capital planning"}, profile.Skills)

	// The record carried no top-level position; the open-ended experience
	// entry fills it.
	assert.Equal(t, "Director of Facilities", profile.Title)
	assert.Equal(t, "Benefis Health System", profile.Employer)

	require.Len(t, profile.Experience, 2)
	assert.True(t, profile.Experience[0].Current())
	assert.False(t, profile.Experience[1].Current())
	assert.Equal(t, "Billings Clinic", profile.Experience[1].Employer)

	require.Len(t, profile.Education, 1)
	assert.Equal(t, "Montana State University", profile.Education[0].School)
	assert.Equal(t, "BS", profile.Education[0].Degree)

	assert.Equal(t, model.ProfileScores{Completeness: 100, Authority: 62, Engagement: 54}, profile.Scores)
}

func TestProfileFromRecord_ExplicitPositionIsKept(t *testing.T) {
	rec := brightdata.ProfileRecord{
		URL:            "https://linkedin.com/in/jo-marsh",
		Name:           "Jo Marsh",
		Position:       "Chief Financial Officer",
		CurrentCompany: "Benefis Hospitals",
		Experience: []brightdata.ExperienceRecord{
			{Title: "CFO", Company: "Benefis Hospitals Inc", StartDate: "2020"},
		},
	}

	profile := profileFromRecord(rec)

	assert.Equal(t, "Chief Financial Officer", profile.Title)
	assert.Equal(t, "Benefis Hospitals", profile.Employer)
}
