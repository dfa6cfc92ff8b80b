package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/prospector-cli/internal/company"
	"github.com/sells-group/prospector-cli/internal/cost"
	"github.com/sells-group/prospector-cli/internal/model"
	"github.com/sells-group/prospector-cli/pkg/brightdata"
)

// stageTwoArtifact is the persisted Stage 2 output: surviving profiles plus
// the rejection log, in a fixed field order so replays compare byte for
// byte.
type stageTwoArtifact struct {
	Profiles   []model.EnrichedCandidate `json:"profiles"`
	Rejections []model.Rejection         `json:"rejections"`
}

// validate runs Stage 2 under its deadline: dedupe, scrape enrichment, then
// the filter chain. Output preserves Stage 1 order.
func (p *Pipeline) validate(ctx context.Context, run *model.PipelineRun, meter *cost.Meter, nameSet []string, candidates []model.Candidate, timeout time.Duration) ([]model.EnrichedCandidate, []model.Rejection) {
	var (
		enriched   []model.EnrichedCandidate
		rejections []model.Rejection
	)
	p.runStage(ctx, run, meter, model.StageValidate, timeout, func(ctx context.Context) (int, int, any, error) {
		var err error
		enriched, rejections, err = p.validateCandidates(ctx, run.Options, run.Account, meter, nameSet, candidates)
		return len(candidates), len(enriched), stageTwoArtifact{Profiles: enriched, Rejections: rejections}, err
	})
	return enriched, rejections
}

// pairing carries a candidate with its final profile through the filter
// chain.
type pairing struct {
	candidate model.Candidate
	profile   model.Profile
}

// validateCandidates makes every candidate profile-bearing, then applies
// the filter chain in order: employment, optional location, connection
// floor, role fit. Each drop lands in the rejection log with its evidence.
// The returned error is a wholesale enrichment failure such as a refused
// budget reservation; profile-bearing candidates still flow through.
func (p *Pipeline) validateCandidates(ctx context.Context, opts model.RunOptions, acct model.AccountRef, meter *cost.Meter, nameSet []string, candidates []model.Candidate) ([]model.EnrichedCandidate, []model.Rejection, error) {
	candidates = dedupeCandidates(candidates)

	pairs, rejections, scrapeErr := p.enrichProfiles(ctx, meter, candidates)

	matcher := company.NewMatcher(nameSet)
	enriched := make([]model.EnrichedCandidate, 0, len(pairs))
	for _, pair := range pairs {
		grade := matcher.Match(pair.profile.Employer)
		if grade == model.MatchNone {
			rejections = append(rejections, model.Rejection{
				ProfileURL: pair.candidate.ProfileURL,
				Reason:     model.RejectWrongCompany,
				Evidence:   pair.profile.Employer,
			})
			continue
		}
		if opts.UseLocationFilter && !matchesAccountLocation(pair.profile, acct) {
			rejections = append(rejections, model.Rejection{
				ProfileURL: pair.candidate.ProfileURL,
				Reason:     model.RejectWrongLocation,
				Evidence:   pair.profile.Location(),
			})
			continue
		}
		if pair.profile.Connections < opts.MinConnections {
			rejections = append(rejections, model.Rejection{
				ProfileURL: pair.candidate.ProfileURL,
				Reason:     model.RejectLowNetwork,
				Evidence:   fmt.Sprintf("%d connections", pair.profile.Connections),
			})
			continue
		}
		title := roleTitle(pair.profile)
		if p.persona.MatchesNegative(title) || !p.persona.MatchesPositive(title) {
			rejections = append(rejections, model.Rejection{
				ProfileURL: pair.candidate.ProfileURL,
				Reason:     model.RejectNonTargetRole,
				Evidence:   title,
			})
			continue
		}
		enriched = append(enriched, model.EnrichedCandidate{
			Candidate: pair.candidate,
			Profile:   pair.profile,
			Match:     grade,
		})
	}
	return enriched, rejections, scrapeErr
}

// enrichProfiles makes candidates profile-bearing: dataset candidates
// already carry one, search candidates get scraped. Output preserves the
// candidate order. Per-URL scrape failures become rejections; a wholesale
// failure is returned so the stage records it while the profile-bearing
// candidates continue.
func (p *Pipeline) enrichProfiles(ctx context.Context, meter *cost.Meter, candidates []model.Candidate) ([]pairing, []model.Rejection, error) {
	var need []string
	for _, c := range candidates {
		if !c.HasProfile || c.Profile == nil {
			need = append(need, c.ProfileURL)
		}
	}

	scraped := make(map[string]model.Profile, len(need))
	rejections := []model.Rejection{}
	var scrapeErr error
	if len(need) > 0 {
		scraped, rejections, scrapeErr = p.scrapeProfiles(ctx, meter, need)
		if rejections == nil {
			rejections = []model.Rejection{}
		}
	}

	pairs := make([]pairing, 0, len(candidates))
	for _, c := range candidates {
		if c.HasProfile && c.Profile != nil {
			pairs = append(pairs, pairing{candidate: c, profile: *c.Profile})
			continue
		}
		profile, ok := scraped[c.ProfileURL]
		if !ok {
			continue // rejected above, or the whole scrape failed
		}
		c.HasProfile = true
		pairs = append(pairs, pairing{candidate: c, profile: profile})
	}
	return pairs, rejections, scrapeErr
}

// scrapeProfiles fetches profiles for the given URLs, batched first, then
// one snapshot per URL when the batch fails. Records come back keyed by
// their requested URL; failure markers become scrape_failed rejections.
func (p *Pipeline) scrapeProfiles(ctx context.Context, meter *cost.Meter, urls []string) (map[string]model.Profile, []model.Rejection, error) {
	if err := meter.Reserve(p.calc.Scrape(len(urls))); err != nil {
		return nil, nil, err
	}

	req := brightdata.ScrapeRequest{DatasetID: p.settings.DatasetID, URLs: urls}
	_, records, err := brightdata.CollectScrape(ctx, p.data, req)
	if err != nil {
		zap.L().Warn("validate: batch scrape failed, falling back to per-url",
			zap.Int("urls", len(urls)),
			zap.Error(err),
		)
		records = p.scrapeEach(ctx, urls)
	}

	profiles := make(map[string]model.Profile, len(records))
	var rejections []model.Rejection
	for _, rec := range records {
		url := model.CanonicalProfileURL(rec.RequestedURL())
		if rec.Failed() {
			rejections = append(rejections, model.Rejection{
				ProfileURL: url,
				Reason:     model.RejectScrapeFailed,
				Evidence:   rec.ErrorCode,
			})
			continue
		}
		if url == "" {
			continue
		}
		profiles[url] = profileFromRecord(rec)
	}
	return profiles, rejections, nil
}

// scrapeEach is the degraded path: one scrape snapshot per URL, fanned out
// under MaxScrapeConcurrency. A URL whose scrape fails yields a failure
// marker rather than an error so the rest of the batch survives.
func (p *Pipeline) scrapeEach(ctx context.Context, urls []string) []brightdata.ProfileRecord {
	records := make([]brightdata.ProfileRecord, len(urls))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.settings.MaxScrapeConcurrency)
	for i, url := range urls {
		g.Go(func() error {
			req := brightdata.ScrapeRequest{DatasetID: p.settings.DatasetID, URLs: []string{url}}
			_, recs, err := brightdata.CollectScrape(gctx, p.data, req)
			if err != nil {
				zap.L().Warn("validate: scrape failed",
					zap.String("url", url),
					zap.Error(err),
				)
				records[i] = brightdata.ProfileRecord{InputURL: url, ErrorCode: "scrape_error", ErrorMessage: err.Error()}
				return nil
			}
			if len(recs) == 0 {
				records[i] = brightdata.ProfileRecord{InputURL: url, ErrorCode: "missing"}
				return nil
			}
			records[i] = recs[0]
			return nil
		})
	}
	_ = g.Wait()
	return records
}

// dedupeCandidates drops duplicate URLs, keeping the dataset-sourced record
// when both paths found the same person. Order is otherwise preserved.
// Stage 1 output already honors this; re-establishing it here keeps resumed
// artifacts safe.
func dedupeCandidates(candidates []model.Candidate) []model.Candidate {
	out := make([]model.Candidate, 0, len(candidates))
	seen := make(map[string]int, len(candidates))
	for _, c := range candidates {
		url := model.CanonicalProfileURL(c.ProfileURL)
		if url == "" {
			continue
		}
		c.ProfileURL = url
		if idx, ok := seen[url]; ok {
			if c.Source.Less(out[idx].Source) {
				out[idx] = c
			}
			continue
		}
		seen[url] = len(out)
		out = append(out, c)
	}
	return out
}

// matchesAccountLocation accepts a profile whose location mentions the
// account's city or state. A profile without any location passes; absence
// is not evidence of mismatch.
func matchesAccountLocation(profile model.Profile, acct model.AccountRef) bool {
	loc := profile.Location()
	if !acct.HasLocation() || strings.TrimSpace(loc) == "" {
		return true
	}
	return (acct.City != "" && company.MatchesLocation(loc, acct.City)) ||
		(acct.State != "" && company.MatchesLocation(loc, acct.State))
}

// roleTitle picks the string the persona filters judge: the current title
// when present, otherwise the headline.
func roleTitle(profile model.Profile) string {
	if profile.Title != "" {
		return profile.Title
	}
	return profile.Headline
}
