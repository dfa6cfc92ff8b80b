package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/prospector-cli/internal/cost"
	"github.com/sells-group/prospector-cli/internal/model"
	"github.com/sells-group/prospector-cli/pkg/brightdata"
	"github.com/sells-group/prospector-cli/pkg/serper"
)

// acquire runs Stage 1 under its deadline and records the result. The
// returned slice is the deduped, ordered candidate set; on a path failure
// it holds whatever the other path produced.
func (p *Pipeline) acquire(ctx context.Context, run *model.PipelineRun, meter *cost.Meter, nameSet []string, timeout time.Duration) []model.Candidate {
	var out []model.Candidate
	p.runStage(ctx, run, meter, model.StageAcquire, timeout, func(ctx context.Context) (int, int, any, error) {
		found, candidates, err := p.acquireCandidates(ctx, run, meter, nameSet)
		out = candidates
		return found, len(candidates), candidates, err
	})
	return out
}

// acquireCandidates dispatches the mode's paths, merges their output, and
// surfaces the first path error. In combined mode the paths run in
// parallel; a failed path does not stop the other.
func (p *Pipeline) acquireCandidates(ctx context.Context, run *model.PipelineRun, meter *cost.Meter, nameSet []string) (int, []model.Candidate, error) {
	mode := run.Options.Mode

	var (
		snapshotID string
		dataset    []model.Candidate
		search     []model.Candidate
		datasetErr error
		searchErr  error
	)

	g, gctx := errgroup.WithContext(ctx)
	if mode == model.ModeDataset || mode == model.ModeCombined {
		g.Go(func() error {
			snapshotID, dataset, datasetErr = p.acquireDataset(gctx, run.Options, run.Account, meter, nameSet)
			return nil
		})
	}
	if mode == model.ModeSearch || mode == model.ModeCombined {
		g.Go(func() error {
			search, searchErr = p.acquireSearch(gctx, meter, nameSet)
			return nil
		})
	}
	_ = g.Wait()

	if snapshotID != "" {
		run.SnapshotID = snapshotID
	}

	err := datasetErr
	if err == nil {
		err = searchErr
	}

	var ovf *brightdata.OverflowError
	if errors.As(err, &ovf) {
		run.Recommendation = fmt.Sprintf(
			"dataset filter matched %d profiles against a cap of %d; tighten the title set or add a city constraint and rerun",
			ovf.Count, ovf.Cap,
		)
	}

	found := len(dataset) + len(search)
	return found, mergeCandidates(dataset, search), err
}

// acquireDataset submits the people-dataset filter and downloads the
// snapshot records. The snapshot id comes back even when the filter
// overflows the record cap so the operator can inspect what matched; an
// overflow never downloads.
func (p *Pipeline) acquireDataset(ctx context.Context, opts model.RunOptions, acct model.AccountRef, meter *cost.Meter, nameSet []string) (string, []model.Candidate, error) {
	if p.settings.DatasetID == "" {
		return "", nil, model.NewRunError(model.StageAcquire, model.ErrBadResponse, "dataset id not configured")
	}
	if err := meter.Reserve(p.calc.Snapshot()); err != nil {
		return "", nil, err
	}

	req := brightdata.FilterRequest{
		DatasetID: p.settings.DatasetID,
		Filter: brightdata.BuildProfileFilter(brightdata.ProfileFilterParams{
			Employers:      nameSet,
			Titles:         p.persona.TargetTitles,
			NegativeTitles: p.persona.NegativeTitles,
			MinConnections: opts.MinConnections,
			City:           acct.City,
		}),
	}

	snapshotID, records, err := brightdata.CollectFilter(ctx, p.data, req, p.settings.RecordCap,
		brightdata.WithPreDownload(func(count int) error {
			return meter.Reserve(p.calc.Download(count))
		}),
	)
	if err != nil {
		return snapshotID, nil, err
	}

	candidates := make([]model.Candidate, 0, len(records))
	for _, rec := range records {
		if rec.Failed() {
			zap.L().Warn("acquire: dataset record error",
				zap.String("url", rec.RequestedURL()),
				zap.String("code", rec.ErrorCode),
			)
			continue
		}
		url := model.CanonicalProfileURL(rec.RequestedURL())
		if url == "" {
			continue
		}
		profile := profileFromRecord(rec)
		candidates = append(candidates, model.Candidate{
			ProfileURL: url,
			Source:     model.SourceDataset,
			HasProfile: true,
			Profile:    &profile,
		})
	}
	return snapshotID, candidates, nil
}

// acquireSearch walks the (variant, title) query grid against the web
// search API. Queries run sequentially inside the stage deadline; the first
// query error ends the path with what earlier queries returned.
func (p *Pipeline) acquireSearch(ctx context.Context, meter *cost.Meter, nameSet []string) ([]model.Candidate, error) {
	var candidates []model.Candidate
	for _, q := range p.searchQueries(nameSet) {
		if err := meter.Reserve(p.calc.SearchQuery()); err != nil {
			return candidates, err
		}
		results, err := p.search.Search(ctx, q, p.settings.ResultsPerQuery)
		if err != nil {
			return candidates, err
		}
		for _, r := range results {
			url := model.CanonicalProfileURL(r.URL)
			if url == "" || !strings.Contains(url, p.settings.ProfileHost) {
				continue
			}
			candidates = append(candidates, model.Candidate{
				ProfileURL: url,
				Source:     model.SourceSearch,
				HasProfile: false,
				Search: &model.SearchMeta{
					Query:   q,
					Title:   r.Title,
					Snippet: r.Snippet,
					Rank:    r.Rank,
				},
			})
		}
	}
	return candidates, nil
}

// searchQueries builds the site-restricted grid: every name variant crossed
// with every target title, capped at MaxSearchQueries.
func (p *Pipeline) searchQueries(nameSet []string) []string {
	queries := make([]string, 0, len(nameSet)*len(p.persona.TargetTitles))
	for _, variant := range nameSet {
		for _, title := range p.persona.TargetTitles {
			if len(queries) >= p.settings.MaxSearchQueries {
				return queries
			}
			queries = append(queries, serper.SiteQuery(variant, title, p.settings.ProfileHost))
		}
	}
	return queries
}

// mergeCandidates dedupes the path outputs by canonical URL, keeping the
// dataset record when both paths found the same person, and orders the
// result by source priority then URL.
func mergeCandidates(dataset, search []model.Candidate) []model.Candidate {
	merged := make([]model.Candidate, 0, len(dataset)+len(search))
	seen := make(map[string]int, len(dataset)+len(search))

	for _, list := range [][]model.Candidate{dataset, search} {
		for _, c := range list {
			idx, ok := seen[c.ProfileURL]
			if !ok {
				seen[c.ProfileURL] = len(merged)
				merged = append(merged, c)
				continue
			}
			if c.Source.Less(merged[idx].Source) {
				merged[idx] = c
			}
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].Source != merged[j].Source {
			return merged[i].Source.Less(merged[j].Source)
		}
		return merged[i].ProfileURL < merged[j].ProfileURL
	})
	return merged
}

// profileFromRecord maps one scraper record onto the profile model and
// fills the derived fields.
func profileFromRecord(rec brightdata.ProfileRecord) model.Profile {
	profile := model.Profile{
		FullName:    rec.Name,
		GivenName:   rec.FirstName,
		FamilyName:  rec.LastName,
		Headline:    rec.Headline,
		Title:       rec.Position,
		Employer:    rec.CurrentCompany,
		City:        rec.City,
		Region:      rec.Region,
		Country:     rec.CountryCode,
		Connections: rec.Connections,
		Followers:   rec.Followers,
		Summary:     rec.About,
		Skills:      rec.Skills,
	}
	for _, e := range rec.Experience {
		profile.Experience = append(profile.Experience, model.Experience{
			Title:     e.Title,
			Employer:  e.Company,
			Location:  e.Location,
			StartDate: e.StartDate,
			EndDate:   e.EndDate,
		})
	}
	for _, e := range rec.Education {
		profile.Education = append(profile.Education, model.Education{
			School:    e.School,
			Degree:    e.Degree,
			Field:     e.Field,
			StartDate: e.StartYear,
			EndDate:   e.EndYear,
		})
	}
	profile.FillCurrent()
	profile.ComputeScores()
	return profile
}
