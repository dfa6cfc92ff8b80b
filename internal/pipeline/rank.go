package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospector-cli/internal/cost"
	"github.com/sells-group/prospector-cli/internal/model"
	"github.com/sells-group/prospector-cli/pkg/anthropic"
)

// Prompt projection bounds. Profiles are summarized, never sent whole.
const (
	maxPromptExperience = 3
	maxPromptSummary    = 400
)

const rankSystemPrompt = `You score sales prospects. Reply with only a JSON object shaped as
{"prospects":[{"index":0,"score":0,"persona_tag":"...","rationale":"..."}]}.
Use each input index at most once, exactly as numbered. Scores are integers
from 0 to 100. persona_tag is one of: facilities-decision-maker,
finance-decision-maker, operations-decision-maker,
energy-sustainability-lead, other. Score only the people listed; never
invent people, fields, or facts not present in the input.`

type rankedEntry struct {
	Index     int    `json:"index"`
	Score     int    `json:"score"`
	Persona   string `json:"persona_tag"`
	Rationale string `json:"rationale"`
}

type rankResponse struct {
	Prospects []rankedEntry `json:"prospects"`
}

// rank runs Stage 3 under its deadline: one generative call scoring every
// enriched candidate, then the deterministic bonus, threshold, ordering,
// and truncation.
func (p *Pipeline) rank(ctx context.Context, run *model.PipelineRun, meter *cost.Meter, enriched []model.EnrichedCandidate, timeout time.Duration) []model.QualifiedProspect {
	out := []model.QualifiedProspect{}
	p.runStage(ctx, run, meter, model.StageRank, timeout, func(ctx context.Context) (int, int, any, error) {
		qualified, err := p.rankCandidates(ctx, run.Account, run.Options, meter, enriched)
		if qualified != nil {
			out = qualified
		}
		return len(enriched), len(out), out, err
	})
	return out
}

// rankCandidates asks the model to score the candidates and applies the
// deterministic post-processing: employment-confidence bonus before the
// threshold, score-descending order with connections then input position
// breaking ties, truncation to the prospect cap. An empty input returns
// without a call.
func (p *Pipeline) rankCandidates(ctx context.Context, acct model.AccountRef, opts model.RunOptions, meter *cost.Meter, enriched []model.EnrichedCandidate) ([]model.QualifiedProspect, error) {
	if len(enriched) == 0 {
		return []model.QualifiedProspect{}, nil
	}

	prompt := p.rankPrompt(acct, enriched)
	estimate := p.claudeEstimate(p.settings.RankModel, len(prompt)+len(p.rankSystemText()), p.settings.RankMaxTokens)
	if err := meter.Reserve(estimate); err != nil {
		return nil, err
	}

	var resp rankResponse
	usage, err := anthropic.CompleteJSON(ctx, p.ai, anthropic.MessageRequest{
		Model:     p.settings.RankModel,
		MaxTokens: p.settings.RankMaxTokens,
		System:    p.rankSystem(),
		Messages:  []anthropic.Message{{Role: anthropic.RoleUser, Content: prompt}},
	}, &resp)
	p.settleClaude(meter, p.settings.RankModel, usage, estimate)
	if err != nil {
		return nil, err
	}
	if resp.Prospects == nil {
		return nil, eris.Wrap(anthropic.ErrMalformedJSON, "rank: reply carries no prospects field")
	}
	usage.LogCost(p.settings.RankModel, "rank")

	scores := make(map[int]rankedEntry, len(resp.Prospects))
	for _, entry := range resp.Prospects {
		if entry.Index < 0 || entry.Index >= len(enriched) {
			zap.L().Warn("rank: index out of range",
				zap.Int("index", entry.Index),
				zap.Int("candidates", len(enriched)),
			)
			continue
		}
		if _, dup := scores[entry.Index]; dup {
			zap.L().Warn("rank: duplicate index", zap.Int("index", entry.Index))
			continue
		}
		scores[entry.Index] = entry
	}

	// Unranked candidates score zero; the bonus still applies.
	qualified := make([]model.QualifiedProspect, 0, len(enriched))
	for i, ec := range enriched {
		entry := scores[i]
		bonus := ec.Match.Bonus()
		total := clampScore(clampScore(entry.Score) + bonus)
		if total < opts.MinScore {
			continue
		}
		qualified = append(qualified, model.QualifiedProspect{
			ProfileURL: ec.Candidate.ProfileURL,
			Profile:    ec.Profile,
			Score:      total,
			Bonus:      bonus,
			Persona:    model.NormalizePersona(entry.Persona),
			Rationale:  entry.Rationale,
		})
	}

	sort.SliceStable(qualified, func(i, j int) bool {
		if qualified[i].Score != qualified[j].Score {
			return qualified[i].Score > qualified[j].Score
		}
		return qualified[i].Profile.Connections > qualified[j].Profile.Connections
	})
	if len(qualified) > opts.MaxProspects {
		qualified = qualified[:opts.MaxProspects]
	}
	return qualified, nil
}

// rankSystemText joins the scoring instructions with the persona rubric.
// Every account in a batch shares this text, which is what makes the cache
// breakpoint in rankSystem worth writing.
func (p *Pipeline) rankSystemText() string {
	return rankSystemPrompt + "\n\nScoring rubric:\n" + p.persona.Rubric
}

// rankSystem wraps the shared system text in a cached block so concurrent
// runs read one warm copy instead of each resending the rubric.
func (p *Pipeline) rankSystem() []anthropic.SystemBlock {
	return anthropic.BuildCachedSystemBlocks(p.rankSystemText())
}

// WarmRankCache sends one small rank-shaped request so the cached system
// blocks are written before a batch fans out. Failures are safe to ignore;
// runs fall back to writing the cache themselves.
func (p *Pipeline) WarmRankCache(ctx context.Context) error {
	resp, err := anthropic.PrimerRequest(ctx, p.ai, anthropic.MessageRequest{
		Model:     p.settings.RankModel,
		MaxTokens: 8,
		System:    p.rankSystem(),
		Messages:  []anthropic.Message{{Role: anthropic.RoleUser, Content: "ok"}},
	})
	if err != nil {
		return err
	}
	resp.Usage.LogCost(p.settings.RankModel, "warmup")
	return nil
}

// rankPrompt renders the target company and the numbered profile
// projections. The rubric travels in the system blocks, not here.
func (p *Pipeline) rankPrompt(acct model.AccountRef, enriched []model.EnrichedCandidate) string {
	var sb strings.Builder
	sb.WriteString("Target company: " + acct.Name + "\n")
	if acct.Parent != "" {
		sb.WriteString("Parent organization: " + acct.Parent + "\n")
	}
	if acct.HasLocation() {
		sb.WriteString("Location: " + joinLocation(acct.City, acct.State) + "\n")
	}
	sb.WriteString("\nCandidates:\n")
	for i, ec := range enriched {
		writeProjection(&sb, i, ec.Profile)
	}
	return sb.String()
}

// writeProjection appends one bounded profile projection.
func writeProjection(sb *strings.Builder, index int, profile model.Profile) {
	name := profile.FullName
	if name == "" {
		name = strings.TrimSpace(profile.GivenName + " " + profile.FamilyName)
	}
	if name == "" {
		name = "(name withheld)"
	}
	fmt.Fprintf(sb, "[%d] %s\n", index, name)
	fmt.Fprintf(sb, "    title: %s at %s\n", profile.Title, profile.Employer)
	if loc := profile.Location(); loc != "" {
		fmt.Fprintf(sb, "    location: %s\n", loc)
	}
	fmt.Fprintf(sb, "    connections: %d\n", profile.Connections)
	for i, exp := range profile.Experience {
		if i >= maxPromptExperience {
			break
		}
		fmt.Fprintf(sb, "    experience: %s at %s%s\n", exp.Title, exp.Employer, expSpan(exp))
	}
	if s := truncateText(profile.Summary, maxPromptSummary); s != "" {
		fmt.Fprintf(sb, "    summary: %s\n", s)
	}
}

func expSpan(e model.Experience) string {
	end := strings.TrimSpace(e.EndDate)
	if e.Current() {
		end = "present"
	}
	if e.StartDate == "" && end == "" {
		return ""
	}
	return fmt.Sprintf(" (%s to %s)", e.StartDate, end)
}

func joinLocation(city, state string) string {
	switch {
	case city != "" && state != "":
		return city + ", " + state
	case city != "":
		return city
	default:
		return state
	}
}

func truncateText(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	// Back up to a rune boundary so the cut never splits a character.
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return strings.TrimSpace(s[:n]) + "..."
}

func clampScore(n int) int {
	if n < 0 {
		return 0
	}
	if n > 100 {
		return 100
	}
	return n
}
