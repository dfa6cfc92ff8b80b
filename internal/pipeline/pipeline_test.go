package pipeline

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/prospector-cli/internal/approval"
	"github.com/sells-group/prospector-cli/internal/company"
	"github.com/sells-group/prospector-cli/internal/model"
	"github.com/sells-group/prospector-cli/internal/store"
	"github.com/sells-group/prospector-cli/pkg/anthropic"
	"github.com/sells-group/prospector-cli/pkg/brightdata"
	"github.com/sells-group/prospector-cli/pkg/salesforce"
	"github.com/sells-group/prospector-cli/pkg/serper"
)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func benefisRef() model.AccountRef {
	return model.AccountRef{
		ID:     "001A1",
		Name:   "Benefis Hospitals Inc",
		Parent: "Benefis Health System",
		City:   "Great Falls",
		State:  "MT",
	}
}

func testSettings() Settings {
	return Settings{DatasetID: "gd_people"}
}

// benefisRecords is the dataset seed: twelve profiles, three whose employer
// normalizes into the name set, all three above the connection floor, two of
// those with on-target titles.
func benefisRecords() []brightdata.ProfileRecord {
	return []brightdata.ProfileRecord{
		{
			URL:            "https://www.linkedin.com/in/pat-walsh",
			Name:           "Pat Walsh",
			Position:       "Director of Facilities",
			CurrentCompany: "Benefis Health System",
			City:           "Great Falls",
			Region:         "Montana",
			CountryCode:    "US",
			Connections:    320,
			Followers:      410,
			About:          "Directs plant operations and capital projects across the Benefis campus.",
			Experience: []brightdata.ExperienceRecord{
				{Title: "Director of Facilities", Company: "Benefis Health System", StartDate: "2019-03"},
				{Title: "Facilities Manager", Company: "Kalispell Regional", StartDate: "2014-01", EndDate: "2019-02"},
			},
		},
		{
			URL:            "https://www.linkedin.com/in/jordan-lee",
			Name:           "Jordan Lee",
			Position:       "Chief Financial Officer",
			CurrentCompany: "Benefis Health System",
			City:           "Great Falls",
			Connections:    510,
		},
		{
			URL:            "https://linkedin.com/in/dana-hart",
			Name:           "Dana Hart",
			Position:       "Nurse Manager",
			CurrentCompany: "Benefis Health System",
			Connections:    200,
		},
		{
			URL:            "https://linkedin.com/in/morgan-reyes",
			Name:           "Morgan Reyes",
			Position:       "Director of Facilities",
			CurrentCompany: "Billings Clinic",
			Connections:    280,
		},
		{
			URL:            "https://linkedin.com/in/rowan-price",
			Name:           "Rowan Price",
			Position:       "Operations Manager",
			CurrentCompany: "Benefis Mobile Services",
			Connections:    150,
		},
		{
			URL:            "https://linkedin.com/in/sam-okafor",
			Name:           "Sam Okafor",
			Position:       "Plant Operations Manager",
			CurrentCompany: "Providence St Patrick Hospital",
			Connections:    140,
		},
		{
			URL:            "https://linkedin.com/in/lee-caruso",
			Name:           "Lee Caruso",
			Position:       "Director of Operations",
			CurrentCompany: "Logan Health",
			Connections:    300,
		},
		{
			URL:            "https://linkedin.com/in/avery-stone",
			Name:           "Avery Stone",
			Position:       "VP of Operations",
			CurrentCompany: "Bozeman Health",
			Connections:    430,
		},
		{
			URL:            "https://linkedin.com/in/casey-nguyen",
			Name:           "Casey Nguyen",
			Position:       "Director of Facilities",
			CurrentCompany: "St Vincent Healthcare",
			Connections:    260,
		},
		{
			URL:            "https://linkedin.com/in/devon-clark",
			Name:           "Devon Clark",
			Position:       "Facilities Manager",
			CurrentCompany: "Great Falls Clinic",
			Connections:    190,
		},
		{
			URL:            "https://linkedin.com/in/harper-diaz",
			Name:           "Harper Diaz",
			Position:       "Chief Operating Officer",
			CurrentCompany: "Community Medical Center",
			Connections:    380,
		},
		{
			URL:            "https://linkedin.com/in/quinn-foster",
			Name:           "Quinn Foster",
			Position:       "Director of Plant Operations",
			CurrentCompany: "Kalispell Regional Healthcare",
			Connections:    220,
		},
	}
}

func stageStatus(t *testing.T, run *model.PipelineRun, stage model.Stage) model.StageStatus {
	t.Helper()
	for _, res := range run.Stages {
		if res.Stage == stage {
			return res.Status
		}
	}
	t.Fatalf("stage %s not recorded", stage)
	return ""
}

func TestRun_DatasetHappyPath(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	md := new(mockDataset)
	md.On("FilterDataset", mock.Anything, mock.MatchedBy(func(req brightdata.FilterRequest) bool {
		return req.DatasetID == "gd_people"
	})).Return(submitted("snap-filter-1"), nil)
	md.On("GetSnapshot", mock.Anything, "snap-filter-1").Return(readyMeta("snap-filter-1", 12), nil)
	md.On("DownloadSnapshot", mock.Anything, "snap-filter-1").Return(benefisRecords(), nil)

	ma := new(mockAI)
	ma.On("CreateMessage", mock.Anything, mock.Anything).Return(textReply(
		`{"prospects":[`+
			`{"index":0,"score":72,"persona_tag":"finance-decision-maker","rationale":"CFO signs off on capital projects"},`+
			`{"index":1,"score":85,"persona_tag":"facilities-decision-maker","rationale":"Owns plant operations and capital planning"}`+
			`]}`), nil)

	p, err := New(testSettings(), st, approval.NewStoreSink(st), Clients{Data: md, AI: ma}, nil)
	require.NoError(t, err)

	run, err := p.Run(ctx, benefisRef(), model.RunOptions{})
	require.NoError(t, err)
	require.NotNil(t, run)

	assert.Equal(t, model.RunStatusOK, run.Status)
	assert.Nil(t, run.FirstError)
	assert.Equal(t, "snap-filter-1", run.SnapshotID)
	assert.Equal(t, company.Fallback(benefisRef()), run.NameSet)

	require.Len(t, run.Stages, 5)
	for _, res := range run.Stages {
		assert.Equal(t, model.StageStatusOK, res.Status, "stage %s", res.Stage)
	}

	found, kept := run.StageCount(model.StageAcquire)
	assert.Equal(t, 12, found)
	assert.Equal(t, 12, kept)
	found, kept = run.StageCount(model.StageValidate)
	assert.Equal(t, 12, found)
	assert.Equal(t, 2, kept)
	found, kept = run.StageCount(model.StageEnqueue)
	assert.Equal(t, 2, found)
	assert.Equal(t, 2, kept)

	// Merged candidates are source-then-URL ordered.
	require.Len(t, run.Candidates, 12)
	assert.Equal(t, "https://linkedin.com/in/avery-stone", run.Candidates[0].ProfileURL)
	assert.Equal(t, "https://linkedin.com/in/sam-okafor", run.Candidates[11].ProfileURL)

	// Rejections follow candidate order with the evidence that tripped them:
	// nine employer mismatches and one company match in an off-target role.
	require.Len(t, run.Rejections, 10)
	assert.Equal(t, []model.Rejection{
		{ProfileURL: "https://linkedin.com/in/avery-stone", Reason: model.RejectWrongCompany, Evidence: "Bozeman Health"},
		{ProfileURL: "https://linkedin.com/in/casey-nguyen", Reason: model.RejectWrongCompany, Evidence: "St Vincent Healthcare"},
		{ProfileURL: "https://linkedin.com/in/dana-hart", Reason: model.RejectNonTargetRole, Evidence: "Nurse Manager"},
		{ProfileURL: "https://linkedin.com/in/devon-clark", Reason: model.RejectWrongCompany, Evidence: "Great Falls Clinic"},
		{ProfileURL: "https://linkedin.com/in/harper-diaz", Reason: model.RejectWrongCompany, Evidence: "Community Medical Center"},
		{ProfileURL: "https://linkedin.com/in/lee-caruso", Reason: model.RejectWrongCompany, Evidence: "Logan Health"},
		{ProfileURL: "https://linkedin.com/in/morgan-reyes", Reason: model.RejectWrongCompany, Evidence: "Billings Clinic"},
		{ProfileURL: "https://linkedin.com/in/quinn-foster", Reason: model.RejectWrongCompany, Evidence: "Kalispell Regional Healthcare"},
		{ProfileURL: "https://linkedin.com/in/rowan-price", Reason: model.RejectWrongCompany, Evidence: "Benefis Mobile Services"},
		{ProfileURL: "https://linkedin.com/in/sam-okafor", Reason: model.RejectWrongCompany, Evidence: "Providence St Patrick Hospital"},
	}, run.Rejections)

	// The exact-match bonus lands before ordering: 85+5 outranks 72+5.
	require.Len(t, run.Qualified, 2)
	assert.Equal(t, "https://linkedin.com/in/pat-walsh", run.Qualified[0].ProfileURL)
	assert.Equal(t, 90, run.Qualified[0].Score)
	assert.Equal(t, 5, run.Qualified[0].Bonus)
	assert.Equal(t, model.PersonaFacilities, run.Qualified[0].Persona)
	assert.Equal(t, "Pat Walsh", run.Qualified[0].Profile.FullName)
	assert.Equal(t, 77, run.Qualified[1].Score)
	assert.Equal(t, model.PersonaFinance, run.Qualified[1].Persona)

	require.Len(t, run.QueuedIDs, 2)
	assert.InDelta(t, 0.17645, run.TotalCost, 1e-6)

	pending, err := st.ListPendingUpdates(ctx, store.PendingFilter{RunID: run.ID})
	require.NoError(t, err)
	require.Len(t, pending, 2)
	for _, pu := range pending {
		assert.Equal(t, model.RecordTypeLead, pu.RecordType)
		assert.Equal(t, model.PendingQueued, pu.Status)
		assert.Equal(t, run.ID, pu.RunID)
	}

	// Stage artifacts are durable and decodable.
	body, err := st.GetArtifact(ctx, run.ID, model.StageResolve)
	require.NoError(t, err)
	var names []string
	require.NoError(t, json.Unmarshal(body, &names))
	assert.Equal(t, run.NameSet, names)

	body, err = st.GetArtifact(ctx, run.ID, model.StageValidate)
	require.NoError(t, err)
	var art stageTwoArtifact
	require.NoError(t, json.Unmarshal(body, &art))
	assert.Len(t, art.Profiles, 2)
	assert.Len(t, art.Rejections, 10)

	stored, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, model.RunStatusOK, stored.Status)
	require.NotNil(t, stored.CompletedAt)

	md.AssertNotCalled(t, "TriggerScrape", mock.Anything, mock.Anything)
	md.AssertExpectations(t)
	ma.AssertExpectations(t)
}

func TestRun_DatasetDropsFailedRecords(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	md := new(mockDataset)
	md.On("FilterDataset", mock.Anything, mock.Anything).Return(submitted("snap-err"), nil)
	md.On("GetSnapshot", mock.Anything, "snap-err").Return(readyMeta("snap-err", 2), nil)
	md.On("DownloadSnapshot", mock.Anything, "snap-err").Return([]brightdata.ProfileRecord{
		{
			URL:            "https://linkedin.com/in/pat-walsh",
			Name:           "Pat Walsh",
			Position:       "Director of Facilities",
			CurrentCompany: "Benefis Health System",
			Connections:    320,
		},
		{URL: "https://linkedin.com/in/broken", ErrorCode: "crawl_failed", ErrorMessage: "profile removed"},
	}, nil)

	ma := new(mockAI)
	ma.On("CreateMessage", mock.Anything, mock.Anything).Return(textReply(
		`{"prospects":[{"index":0,"score":85,"persona_tag":"facilities-decision-maker","rationale":"owns facilities"}]}`), nil)

	p, err := New(testSettings(), st, approval.NewStoreSink(st), Clients{Data: md, AI: ma}, nil)
	require.NoError(t, err)

	run, err := p.Run(ctx, benefisRef(), model.RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, model.RunStatusOK, run.Status)
	found, kept := run.StageCount(model.StageAcquire)
	assert.Equal(t, 1, found, "failed dataset records are dropped before counting")
	assert.Equal(t, 1, kept)
	require.Len(t, run.Candidates, 1)
	assert.Equal(t, "https://linkedin.com/in/pat-walsh", run.Candidates[0].ProfileURL)
	require.Len(t, run.Qualified, 1)
}

func TestRun_OverflowStopsBeforeDownload(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	md := new(mockDataset)
	md.On("FilterDataset", mock.Anything, mock.Anything).Return(submitted("snap-wide"), nil)
	md.On("GetSnapshot", mock.Anything, "snap-wide").Return(readyMeta("snap-wide", 120), nil)

	ma := new(mockAI)
	sink := new(mockSink)

	p, err := New(testSettings(), st, sink, Clients{Data: md, AI: ma}, nil)
	require.NoError(t, err)

	run, err := p.Run(ctx, benefisRef(), model.RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, model.RunStatusPartial, run.Status)
	require.NotNil(t, run.FirstError)
	assert.Equal(t, model.ErrOverflow, run.FirstError.Kind)
	assert.Equal(t, model.StageAcquire, run.FirstError.Stage)

	assert.Equal(t, "snap-wide", run.SnapshotID, "the snapshot handle survives for a narrowed rerun")
	assert.Contains(t, run.Recommendation, "120")
	assert.Contains(t, run.Recommendation, "tighten")

	assert.Equal(t, model.StageStatusFailed, stageStatus(t, run, model.StageAcquire))
	assert.Equal(t, model.StageStatusSkipped, stageStatus(t, run, model.StageValidate))
	assert.Equal(t, model.StageStatusSkipped, stageStatus(t, run, model.StageRank))
	assert.Equal(t, model.StageStatusSkipped, stageStatus(t, run, model.StageEnqueue))

	md.AssertNotCalled(t, "DownloadSnapshot", mock.Anything, mock.Anything)
	ma.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything)
	sink.AssertNotCalled(t, "Enqueue", mock.Anything, mock.Anything)
}

func TestRun_SearchModeDeduplicates(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	// Two queries surface the same person under differently-decorated URLs.
	ms := new(mockSearch)
	ms.On("Search", mock.Anything, mock.AnythingOfType("string"), 10).Return([]serper.SearchResult{
		{Title: "Casey Diaz - Director of Facilities", URL: "https://www.linkedin.com/in/casey-diaz?utm=feed", Rank: 1},
		{Title: "Robin Vance", URL: "https://linkedin.com/in/robin-vance", Rank: 2},
	}, nil).Once()
	ms.On("Search", mock.Anything, mock.AnythingOfType("string"), 10).Return([]serper.SearchResult{
		{Title: "Casey Diaz", URL: "https://linkedin.com/in/casey-diaz/", Rank: 1},
		{Title: "Press release", URL: "https://example.com/mercy-news", Rank: 2},
	}, nil).Once()

	md := new(mockDataset)
	md.On("TriggerScrape", mock.Anything, mock.MatchedBy(func(req brightdata.ScrapeRequest) bool {
		return len(req.URLs) == 2 &&
			req.URLs[0] == "https://linkedin.com/in/casey-diaz" &&
			req.URLs[1] == "https://linkedin.com/in/robin-vance"
	})).Return(submitted("snap-scrape-1"), nil).Once()
	md.On("GetSnapshot", mock.Anything, "snap-scrape-1").Return(readyMeta("snap-scrape-1", 2), nil)
	md.On("DownloadSnapshot", mock.Anything, "snap-scrape-1").Return([]brightdata.ProfileRecord{
		{
			InputURL:       "https://linkedin.com/in/casey-diaz",
			URL:            "https://www.linkedin.com/in/casey-diaz",
			Name:           "Casey Diaz",
			Position:       "Director of Facilities",
			CurrentCompany: "Mercy Regional Medical Center",
			Connections:    200,
		},
		{
			InputURL:       "https://linkedin.com/in/robin-vance",
			URL:            "https://www.linkedin.com/in/robin-vance",
			Name:           "Robin Vance",
			Position:       "Director of Facilities",
			CurrentCompany: "Billings Clinic",
			Connections:    340,
		},
	}, nil)

	ma := new(mockAI)
	ma.On("CreateMessage", mock.Anything, mock.Anything).Return(textReply(
		`{"prospects":[{"index":0,"score":78,"persona_tag":"facilities-decision-maker","rationale":"runs the physical plant"}]}`), nil)

	settings := testSettings()
	settings.MaxSearchQueries = 2

	p, err := New(settings, st, approval.NewStoreSink(st), Clients{Data: md, Search: ms, AI: ma}, nil)
	require.NoError(t, err)

	acct := model.AccountRef{ID: "001M1", Name: "Mercy Regional Medical Center", City: "Durango", State: "CO"}
	run, err := p.Run(ctx, acct, model.RunOptions{Mode: model.ModeSearch})
	require.NoError(t, err)

	assert.Equal(t, model.RunStatusOK, run.Status)

	found, kept := run.StageCount(model.StageAcquire)
	assert.Equal(t, 3, found, "off-host results are filtered, duplicates are counted once merged")
	assert.Equal(t, 2, kept)

	require.Len(t, run.Candidates, 2)
	assert.Equal(t, model.SourceSearch, run.Candidates[0].Source)
	assert.False(t, run.Candidates[0].HasProfile)

	require.Len(t, run.Profiles, 1)
	assert.Equal(t, "Casey Diaz", run.Profiles[0].Profile.FullName)
	assert.Equal(t, model.MatchExact, run.Profiles[0].Match)

	require.Len(t, run.Qualified, 1)
	assert.Equal(t, 83, run.Qualified[0].Score)

	ms.AssertNumberOfCalls(t, "Search", 2)
	md.AssertNumberOfCalls(t, "TriggerScrape", 1)
	md.AssertNotCalled(t, "FilterDataset", mock.Anything, mock.Anything)
}

func TestRun_WrongEmployerNeverReachesRanker(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	md := new(mockDataset)
	md.On("FilterDataset", mock.Anything, mock.Anything).Return(submitted("snap-2"), nil)
	md.On("GetSnapshot", mock.Anything, "snap-2").Return(readyMeta("snap-2", 2), nil)
	md.On("DownloadSnapshot", mock.Anything, "snap-2").Return([]brightdata.ProfileRecord{
		{
			URL:            "https://linkedin.com/in/pat-walsh",
			Name:           "Pat Walsh",
			Position:       "Director of Facilities",
			CurrentCompany: "Benefis Health System",
			Connections:    320,
		},
		{
			URL:            "https://linkedin.com/in/rowan-price",
			Name:           "Rowan Price",
			Position:       "Operations Manager",
			CurrentCompany: "Benefis Mobile Services",
			Connections:    150,
		},
	}, nil)

	var prompt string
	ma := new(mockAI)
	ma.On("CreateMessage", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			req := args.Get(1).(anthropic.MessageRequest)
			prompt = req.Messages[0].Content
		}).
		Return(textReply(`{"prospects":[{"index":0,"score":85,"persona_tag":"facilities-decision-maker","rationale":"owns facilities"}]}`), nil)

	p, err := New(testSettings(), st, approval.NewStoreSink(st), Clients{Data: md, AI: ma}, nil)
	require.NoError(t, err)

	run, err := p.Run(ctx, benefisRef(), model.RunOptions{})
	require.NoError(t, err)

	require.Len(t, run.Rejections, 1)
	assert.Equal(t, model.RejectWrongCompany, run.Rejections[0].Reason)
	assert.Equal(t, "Benefis Mobile Services", run.Rejections[0].Evidence)

	assert.Contains(t, prompt, "Pat Walsh")
	assert.NotContains(t, prompt, "Mobile Services", "rejected candidates stay out of the scoring prompt")
	assert.NotContains(t, prompt, "Rowan Price")
}

func TestRun_RankParseError(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	md := new(mockDataset)
	md.On("FilterDataset", mock.Anything, mock.Anything).Return(submitted("snap-3"), nil)
	md.On("GetSnapshot", mock.Anything, "snap-3").Return(readyMeta("snap-3", 1), nil)
	md.On("DownloadSnapshot", mock.Anything, "snap-3").Return([]brightdata.ProfileRecord{
		{
			URL:            "https://linkedin.com/in/pat-walsh",
			Name:           "Pat Walsh",
			Position:       "Director of Facilities",
			CurrentCompany: "Benefis Health System",
			Connections:    320,
		},
	}, nil)

	ma := new(mockAI)
	ma.On("CreateMessage", mock.Anything, mock.Anything).Return(textReply("I cannot rank these people."), nil)

	sink := new(mockSink)
	p, err := New(testSettings(), st, sink, Clients{Data: md, AI: ma}, nil)
	require.NoError(t, err)

	run, err := p.Run(ctx, benefisRef(), model.RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, model.RunStatusPartial, run.Status)
	require.NotNil(t, run.FirstError)
	assert.Equal(t, model.ErrParse, run.FirstError.Kind)
	assert.Equal(t, model.StageRank, run.FirstError.Stage)

	assert.Equal(t, model.StageStatusFailed, stageStatus(t, run, model.StageRank))
	assert.Equal(t, model.StageStatusSkipped, stageStatus(t, run, model.StageEnqueue))
	assert.Empty(t, run.Qualified)
	assert.Empty(t, run.QueuedIDs)

	// The failed call still billed tokens.
	for _, res := range run.Stages {
		if res.Stage == model.StageRank {
			assert.Greater(t, res.Cost, 0.0)
		}
	}

	sink.AssertNotCalled(t, "Enqueue", mock.Anything, mock.Anything)
}

func TestRun_RankWrongSchemaIsParseError(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	md := new(mockDataset)
	md.On("FilterDataset", mock.Anything, mock.Anything).Return(submitted("snap-3b"), nil)
	md.On("GetSnapshot", mock.Anything, "snap-3b").Return(readyMeta("snap-3b", 1), nil)
	md.On("DownloadSnapshot", mock.Anything, "snap-3b").Return([]brightdata.ProfileRecord{
		{
			URL:            "https://linkedin.com/in/pat-walsh",
			Name:           "Pat Walsh",
			Position:       "Director of Facilities",
			CurrentCompany: "Benefis Health System",
			Connections:    320,
		},
	}, nil)

	// Valid JSON in the wrong schema must fail the stage, not read as an
	// empty ranking.
	ma := new(mockAI)
	ma.On("CreateMessage", mock.Anything, mock.Anything).
		Return(textReply(`{"results":[{"index":0,"score":90}]}`), nil)

	sink := new(mockSink)
	p, err := New(testSettings(), st, sink, Clients{Data: md, AI: ma}, nil)
	require.NoError(t, err)

	run, err := p.Run(ctx, benefisRef(), model.RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, model.RunStatusPartial, run.Status)
	require.NotNil(t, run.FirstError)
	assert.Equal(t, model.ErrParse, run.FirstError.Kind)
	assert.Equal(t, model.StageRank, run.FirstError.Stage)
	assert.Empty(t, run.Qualified)
	sink.AssertNotCalled(t, "Enqueue", mock.Anything, mock.Anything)
}

func TestRun_TieBreakPrefersLargerNetwork(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	md := new(mockDataset)
	md.On("FilterDataset", mock.Anything, mock.Anything).Return(submitted("snap-4"), nil)
	md.On("GetSnapshot", mock.Anything, "snap-4").Return(readyMeta("snap-4", 2), nil)
	md.On("DownloadSnapshot", mock.Anything, "snap-4").Return([]brightdata.ProfileRecord{
		{
			URL:            "https://linkedin.com/in/avery-stone",
			Name:           "Avery Stone",
			Position:       "Director of Facilities",
			CurrentCompany: "Benefis Health System",
			Connections:    300,
		},
		{
			URL:            "https://linkedin.com/in/blake-munro",
			Name:           "Blake Munro",
			Position:       "Director of Engineering",
			CurrentCompany: "Benefis Health System",
			Connections:    500,
		},
	}, nil)

	ma := new(mockAI)
	ma.On("CreateMessage", mock.Anything, mock.Anything).Return(textReply(
		`{"prospects":[`+
			`{"index":0,"score":80,"persona_tag":"facilities-decision-maker","rationale":"facilities lead"},`+
			`{"index":1,"score":80,"persona_tag":"operations-decision-maker","rationale":"engineering lead"}`+
			`]}`), nil)

	p, err := New(testSettings(), st, approval.NewStoreSink(st), Clients{Data: md, AI: ma}, nil)
	require.NoError(t, err)

	run, err := p.Run(ctx, benefisRef(), model.RunOptions{})
	require.NoError(t, err)

	require.Len(t, run.Qualified, 2)
	assert.Equal(t, "Blake Munro", run.Qualified[0].Profile.FullName, "equal scores break on connection count")
	assert.Equal(t, "Avery Stone", run.Qualified[1].Profile.FullName)
	assert.Equal(t, run.Qualified[0].Score, run.Qualified[1].Score)
}

func TestRun_CancelledRunFails(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	st := newTestStore(t)

	md := new(mockDataset)
	md.On("FilterDataset", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { cancel() }).
		Return(nil, context.Canceled)

	ma := new(mockAI)
	sink := new(mockSink)

	p, err := New(testSettings(), st, sink, Clients{Data: md, AI: ma}, nil)
	require.NoError(t, err)

	run, err := p.Run(ctx, benefisRef(), model.RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, model.RunStatusFailed, run.Status)
	require.NotNil(t, run.FirstError)
	assert.Equal(t, model.ErrCancelled, run.FirstError.Kind)
	assert.Len(t, run.Stages, 2, "the walk stops at the cancelled stage")

	sink.AssertNotCalled(t, "Enqueue", mock.Anything, mock.Anything)
	ma.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything)

	// The terminal state is persisted even though the caller's context died.
	stored, err := st.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, model.RunStatusFailed, stored.Status)
	assert.NotNil(t, stored.CompletedAt)
}

func TestRun_BudgetRefusalBeforeSpend(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	md := new(mockDataset)
	ma := new(mockAI)
	sink := new(mockSink)

	p, err := New(testSettings(), st, sink, Clients{Data: md, AI: ma}, nil)
	require.NoError(t, err)

	// Ceiling below the flat snapshot charge: the reservation must refuse
	// before any provider call happens.
	run, err := p.Run(ctx, benefisRef(), model.RunOptions{CostCeiling: 0.04})
	require.NoError(t, err)

	assert.Equal(t, model.RunStatusPartial, run.Status)
	require.NotNil(t, run.FirstError)
	assert.Equal(t, model.ErrBudgetExhausted, run.FirstError.Kind)
	assert.Equal(t, model.StageAcquire, run.FirstError.Stage)
	assert.Zero(t, run.TotalCost)

	assert.Equal(t, model.StageStatusOK, stageStatus(t, run, model.StageResolve))
	assert.Equal(t, model.StageStatusFailed, stageStatus(t, run, model.StageAcquire))
	assert.Equal(t, model.StageStatusSkipped, stageStatus(t, run, model.StageValidate))

	md.AssertNotCalled(t, "FilterDataset", mock.Anything, mock.Anything)
}

func TestRun_ResolvesAccountFromCRM(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	crm := new(mockCRM)
	crm.On("Query", mock.Anything, mock.MatchedBy(func(soql string) bool {
		return strings.Contains(soql, "'001xx'")
	}), mock.Anything).Run(func(args mock.Arguments) {
		out := args.Get(2).(*[]salesforce.Account)
		*out = []salesforce.Account{{
			ID:           "001xx",
			Name:         "Benefis Hospitals Inc",
			ParentID:     "001pp",
			BillingCity:  "Great Falls",
			BillingState: "MT",
			Industry:     "Healthcare",
		}}
	}).Return(nil).Once()
	crm.On("Query", mock.Anything, mock.MatchedBy(func(soql string) bool {
		return strings.Contains(soql, "'001pp'")
	}), mock.Anything).Run(func(args mock.Arguments) {
		out := args.Get(2).(*[]salesforce.Account)
		*out = []salesforce.Account{{ID: "001pp", Name: "Benefis Health System"}}
	}).Return(nil).Once()

	md := new(mockDataset)
	md.On("FilterDataset", mock.Anything, mock.Anything).Return(submitted("snap-5"), nil)
	md.On("GetSnapshot", mock.Anything, "snap-5").Return(readyMeta("snap-5", 0), nil)
	md.On("DownloadSnapshot", mock.Anything, "snap-5").Return([]brightdata.ProfileRecord{}, nil)

	ma := new(mockAI)

	p, err := New(testSettings(), st, approval.NewStoreSink(st), Clients{Data: md, AI: ma, CRM: crm}, nil)
	require.NoError(t, err)

	run, err := p.Run(ctx, model.AccountRef{ID: "001xx"}, model.RunOptions{})
	require.NoError(t, err)

	assert.Equal(t, model.RunStatusOK, run.Status)
	assert.Equal(t, "Benefis Hospitals Inc", run.Account.Name)
	assert.Equal(t, "Benefis Health System", run.Account.Parent)
	assert.Equal(t, "Great Falls", run.Account.City)
	assert.Equal(t, "MT", run.Account.State)
	assert.Len(t, run.NameSet, 4)

	crm.AssertNumberOfCalls(t, "Query", 2)
	// No candidates means the ranker has nothing to score.
	ma.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything)
}

func TestRun_DryRunSkipsEnqueue(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	md := new(mockDataset)
	md.On("FilterDataset", mock.Anything, mock.Anything).Return(submitted("snap-6"), nil)
	md.On("GetSnapshot", mock.Anything, "snap-6").Return(readyMeta("snap-6", 1), nil)
	md.On("DownloadSnapshot", mock.Anything, "snap-6").Return([]brightdata.ProfileRecord{
		{
			URL:            "https://linkedin.com/in/pat-walsh",
			Name:           "Pat Walsh",
			Position:       "Director of Facilities",
			CurrentCompany: "Benefis Health System",
			Connections:    320,
		},
	}, nil)

	ma := new(mockAI)
	ma.On("CreateMessage", mock.Anything, mock.Anything).Return(textReply(
		`{"prospects":[{"index":0,"score":85,"persona_tag":"facilities-decision-maker","rationale":"owns facilities"}]}`), nil)

	// No sink at all: dry runs must not need one.
	p, err := New(testSettings(), st, nil, Clients{Data: md, AI: ma}, nil)
	require.NoError(t, err)

	run, err := p.Run(ctx, benefisRef(), model.RunOptions{DryRun: true})
	require.NoError(t, err)

	assert.Equal(t, model.RunStatusOK, run.Status)
	require.Len(t, run.Qualified, 1)
	assert.Empty(t, run.QueuedIDs)
	assert.Equal(t, model.StageStatusSkipped, stageStatus(t, run, model.StageEnqueue))

	pending, err := st.ListPendingUpdates(ctx, store.PendingFilter{RunID: run.ID})
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestResume_FromRankAfterParseError(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	sink := approval.NewStoreSink(st)

	md := new(mockDataset)
	md.On("FilterDataset", mock.Anything, mock.Anything).Return(submitted("snap-7"), nil)
	md.On("GetSnapshot", mock.Anything, "snap-7").Return(readyMeta("snap-7", 1), nil)
	md.On("DownloadSnapshot", mock.Anything, "snap-7").Return([]brightdata.ProfileRecord{
		{
			URL:            "https://linkedin.com/in/pat-walsh",
			Name:           "Pat Walsh",
			Position:       "Director of Facilities",
			CurrentCompany: "Benefis Health System",
			Connections:    320,
		},
	}, nil)

	badAI := new(mockAI)
	badAI.On("CreateMessage", mock.Anything, mock.Anything).Return(textReply("no json here"), nil)

	p1, err := New(testSettings(), st, sink, Clients{Data: md, AI: badAI}, nil)
	require.NoError(t, err)
	first, err := p1.Run(ctx, benefisRef(), model.RunOptions{})
	require.NoError(t, err)
	require.Equal(t, model.RunStatusPartial, first.Status)

	goodAI := new(mockAI)
	goodAI.On("CreateMessage", mock.Anything, mock.Anything).Return(textReply(
		`{"prospects":[{"index":0,"score":85,"persona_tag":"facilities-decision-maker","rationale":"owns facilities"}]}`), nil)

	p2, err := New(testSettings(), st, sink, Clients{Data: new(mockDataset), AI: goodAI}, nil)
	require.NoError(t, err)

	resumed, err := p2.Resume(ctx, first.ID, model.StageRank)
	require.NoError(t, err)

	assert.Equal(t, model.RunStatusOK, resumed.Status)
	assert.Nil(t, resumed.FirstError)
	require.Len(t, resumed.Qualified, 1)
	assert.Equal(t, 90, resumed.Qualified[0].Score)
	require.Len(t, resumed.QueuedIDs, 1)
	require.Len(t, resumed.Stages, 5)
	assert.Equal(t, model.StageStatusOK, stageStatus(t, resumed, model.StageRank))
	assert.Equal(t, model.StageStatusOK, stageStatus(t, resumed, model.StageEnqueue))

	// Upstream spend is carried; the failed rank attempt's spend is not.
	assert.InDelta(t, 0.06645, resumed.TotalCost, 1e-6)

	// The rerun replaced the failed rank row.
	results, err := st.ListStageResults(ctx, first.ID)
	require.NoError(t, err)
	require.Len(t, results, 5)
	for _, res := range results {
		if res.Stage == model.StageRank {
			assert.Equal(t, model.StageStatusOK, res.Status)
		}
	}
}

func TestResume_FromInterruptedRunUsesArtifacts(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	// Simulate a run that died mid-flight: stage rows exist, the run
	// document was never attached.
	seed, err := st.CreateRun(ctx, benefisRef(), withRunDefaults(model.RunOptions{}))
	require.NoError(t, err)

	nameSet := company.Fallback(benefisRef())
	body, err := json.Marshal(nameSet)
	require.NoError(t, err)
	require.NoError(t, st.SaveStageArtifact(ctx, seed.ID, model.StageResult{
		Stage: model.StageResolve, Status: model.StageStatusOK, Found: 4, Kept: 4,
	}, body))

	cands := []model.Candidate{{
		ProfileURL: "https://linkedin.com/in/pat-walsh",
		Source:     model.SourceDataset,
		HasProfile: true,
		Profile: &model.Profile{
			FullName:    "Pat Walsh",
			Title:       "Director of Facilities",
			Employer:    "Benefis Health System",
			Connections: 320,
		},
	}}
	body, err = json.Marshal(cands)
	require.NoError(t, err)
	require.NoError(t, st.SaveStageArtifact(ctx, seed.ID, model.StageResult{
		Stage: model.StageAcquire, Status: model.StageStatusOK, Found: 1, Kept: 1, Cost: 0.06,
	}, body))

	ma := new(mockAI)
	ma.On("CreateMessage", mock.Anything, mock.Anything).Return(textReply(
		`{"prospects":[{"index":0,"score":85,"persona_tag":"facilities-decision-maker","rationale":"owns facilities"}]}`), nil)

	p, err := New(testSettings(), st, approval.NewStoreSink(st), Clients{Data: new(mockDataset), AI: ma}, nil)
	require.NoError(t, err)

	resumed, err := p.Resume(ctx, seed.ID, model.StageValidate)
	require.NoError(t, err)

	assert.Equal(t, model.RunStatusOK, resumed.Status)
	assert.Equal(t, nameSet, resumed.NameSet)
	require.Len(t, resumed.Stages, 5)
	require.Len(t, resumed.Qualified, 1)
	assert.Equal(t, 90, resumed.Qualified[0].Score)
	assert.InDelta(t, 0.06+0.00645, resumed.TotalCost, 1e-6)

	pending, err := st.ListPendingUpdates(ctx, store.PendingFilter{RunID: seed.ID})
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestResume_Validation(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	p, err := New(testSettings(), st, new(mockSink), Clients{Data: new(mockDataset), AI: new(mockAI)}, nil)
	require.NoError(t, err)

	_, err = p.Resume(ctx, "missing-run", model.StageAcquire)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")

	seed, err := st.CreateRun(ctx, benefisRef(), withRunDefaults(model.RunOptions{}))
	require.NoError(t, err)

	_, err = p.Resume(ctx, seed.ID, model.StageResolve)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot resume")

	// No resolve artifact was ever written.
	_, err = p.Resume(ctx, seed.ID, model.StageAcquire)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no resolve artifact")
}

func TestNew_Validation(t *testing.T) {
	st := newTestStore(t)
	md := new(mockDataset)
	ma := new(mockAI)

	_, err := New(testSettings(), nil, nil, Clients{Data: md, AI: ma}, nil)
	assert.Error(t, err)

	_, err = New(testSettings(), st, nil, Clients{AI: ma}, nil)
	assert.Error(t, err)

	_, err = New(testSettings(), st, nil, Clients{Data: md}, nil)
	assert.Error(t, err)
}

func TestRun_Validation(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	p, err := New(testSettings(), st, nil, Clients{Data: new(mockDataset), AI: new(mockAI)}, nil)
	require.NoError(t, err)

	_, err = p.Run(ctx, benefisRef(), model.RunOptions{Mode: "bogus"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown acquire mode")

	_, err = p.Run(ctx, model.AccountRef{}, model.RunOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "id or a name")

	_, err = p.Run(ctx, benefisRef(), model.RunOptions{Mode: model.ModeSearch})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "search client")

	_, err = p.Run(ctx, benefisRef(), model.RunOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "approval sink")
}

func TestTerminalStatus(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  *model.RunError
		want model.RunStatus
	}{
		{"no error", nil, model.RunStatusOK},
		{"cancelled", &model.RunError{Stage: model.StageValidate, Kind: model.ErrCancelled}, model.RunStatusFailed},
		{"resolve failure", &model.RunError{Stage: model.StageResolve, Kind: model.ErrBadResponse}, model.RunStatusFailed},
		{"downstream failure", &model.RunError{Stage: model.StageRank, Kind: model.ErrParse}, model.RunStatusPartial},
		{"overflow", &model.RunError{Stage: model.StageAcquire, Kind: model.ErrOverflow}, model.RunStatusPartial},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			run := &model.PipelineRun{FirstError: tc.err}
			assert.Equal(t, tc.want, terminalStatus(run))
		})
	}
}

func TestWithRunDefaults(t *testing.T) {
	t.Parallel()

	opts := withRunDefaults(model.RunOptions{})
	assert.Equal(t, model.ModeDataset, opts.Mode)
	assert.Equal(t, 65, opts.MinScore)
	assert.Equal(t, 10, opts.MaxProspects)
	assert.Equal(t, 50, opts.MinConnections)
	assert.Zero(t, opts.CostCeiling)
	assert.Equal(t, 10*time.Minute, opts.StageTimeouts.Acquire)
	assert.Equal(t, 10*time.Minute, opts.StageTimeouts.Validate)
	assert.Equal(t, 2*time.Minute, opts.StageTimeouts.Rank)
	assert.Equal(t, time.Minute, opts.StageTimeouts.Enqueue)

	opts = withRunDefaults(model.RunOptions{MinScore: 130, CostCeiling: -4})
	assert.Equal(t, 100, opts.MinScore)
	assert.Zero(t, opts.CostCeiling)

	opts = withRunDefaults(model.RunOptions{MinScore: 40, MaxProspects: 3})
	assert.Equal(t, 40, opts.MinScore)
	assert.Equal(t, 3, opts.MaxProspects)
}
