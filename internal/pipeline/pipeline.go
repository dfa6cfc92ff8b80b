// Package pipeline orchestrates the prospect discovery flow: resolve the
// account and its employer-name set, acquire candidate profiles, validate
// and enrich them, rank the survivors with one generative call, and queue
// pending updates for human review. One Pipeline serves many runs; each run
// gets its own cost meter and run record, and only the orchestrator mutates
// the record.
package pipeline

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospector-cli/internal/approval"
	"github.com/sells-group/prospector-cli/internal/company"
	"github.com/sells-group/prospector-cli/internal/cost"
	"github.com/sells-group/prospector-cli/internal/model"
	"github.com/sells-group/prospector-cli/internal/persona"
	"github.com/sells-group/prospector-cli/internal/store"
	"github.com/sells-group/prospector-cli/pkg/anthropic"
	"github.com/sells-group/prospector-cli/pkg/brightdata"
	"github.com/sells-group/prospector-cli/pkg/salesforce"
	"github.com/sells-group/prospector-cli/pkg/serper"
)

// Per-run option defaults. Timeouts bound each stage through a child
// context deadline.
const (
	defaultMinScore       = 65
	defaultMaxProspects   = 10
	defaultMinConnections = 50

	resolveTimeout         = 2 * time.Minute
	defaultAcquireTimeout  = 10 * time.Minute
	defaultValidateTimeout = 10 * time.Minute
	defaultRankTimeout     = 2 * time.Minute
	defaultEnqueueTimeout  = 1 * time.Minute
)

// Settings is the process-level pipeline configuration. The core reads no
// environment; the CLI maps its config file onto this struct once at setup.
type Settings struct {
	// DatasetID selects the pre-indexed people dataset used by both the
	// filter and scrape endpoints.
	DatasetID string

	// RecordCap aborts a dataset filter whose advertised result count
	// exceeds it, before any download.
	RecordCap int

	// ProfileHost restricts search results and site queries to one
	// profile host, such as "linkedin.com/in".
	ProfileHost string

	// ResultsPerQuery and MaxSearchQueries bound the search path.
	ResultsPerQuery  int
	MaxSearchQueries int

	// MaxScrapeConcurrency caps the per-URL scrape fallback fan-out.
	MaxScrapeConcurrency int

	// RankModel scores prospects; NameSetModel expands employer names.
	RankModel        string
	RankMaxTokens    int64
	NameSetModel     string
	NameSetMaxTokens int64

	// UseGenerativeNameSet enables the generative name-set pass. Off, the
	// deterministic expansion serves every run.
	UseGenerativeNameSet bool

	// Rates price chargeable adapter calls for the cost meter.
	Rates cost.Rates
}

func (s Settings) withDefaults() Settings {
	if s.RecordCap <= 0 {
		s.RecordCap = 75
	}
	if s.ProfileHost == "" {
		s.ProfileHost = "linkedin.com/in"
	}
	s.ProfileHost = strings.ToLower(s.ProfileHost)
	if s.ResultsPerQuery <= 0 {
		s.ResultsPerQuery = 10
	}
	if s.MaxSearchQueries <= 0 {
		s.MaxSearchQueries = 60
	}
	if s.MaxScrapeConcurrency <= 0 {
		s.MaxScrapeConcurrency = 5
	}
	if s.RankModel == "" {
		s.RankModel = "claude-sonnet-4-5-20250929"
	}
	if s.RankMaxTokens <= 0 {
		s.RankMaxTokens = 4096
	}
	if s.NameSetModel == "" {
		s.NameSetModel = "claude-haiku-4-5-20251001"
	}
	if s.NameSetMaxTokens <= 0 {
		s.NameSetMaxTokens = 1024
	}
	if s.Rates.Anthropic == nil {
		s.Rates = cost.DefaultRates()
	}
	return s
}

// Clients groups the external-service adapters a Pipeline consumes. Data
// and AI are required. Search is needed only for the search and combined
// acquire modes; CRM only when runs start from a bare account id.
type Clients struct {
	Data   brightdata.Client
	Search serper.Client
	AI     anthropic.Client
	CRM    salesforce.Client
}

// Pipeline executes discovery runs. Construct once with New and share
// across goroutines; per-run state lives in the PipelineRun and the meter.
type Pipeline struct {
	settings Settings
	store    store.Store
	sink     approval.Sink
	data     brightdata.Client
	search   serper.Client
	ai       anthropic.Client
	crm      salesforce.Client
	persona  *persona.Persona
	names    *company.Builder
	calc     *cost.Calculator
}

// New wires a Pipeline. A nil sink is allowed for dry-run-only use; a nil
// persona selects the built-in default.
func New(settings Settings, st store.Store, sink approval.Sink, clients Clients, pers *persona.Persona) (*Pipeline, error) {
	if st == nil {
		return nil, eris.New("pipeline: store is required")
	}
	if clients.Data == nil {
		return nil, eris.New("pipeline: dataset client is required")
	}
	if clients.AI == nil {
		return nil, eris.New("pipeline: generative client is required")
	}
	settings = settings.withDefaults()
	if pers == nil {
		pers = persona.Default()
	}

	var names *company.Builder
	if settings.UseGenerativeNameSet {
		names = company.NewBuilder(clients.AI, settings.NameSetModel, settings.NameSetMaxTokens)
	} else {
		names = company.NewBuilder(nil, "", 0)
	}

	return &Pipeline{
		settings: settings,
		store:    st,
		sink:     sink,
		data:     clients.Data,
		search:   clients.Search,
		ai:       clients.AI,
		crm:      clients.CRM,
		persona:  pers,
		names:    names,
		calc:     cost.NewCalculator(settings.Rates),
	}, nil
}

// Run executes a full discovery run for the account. Once the run record
// exists every failure is recorded on it and Run returns the record with a
// nil error; callers read run.Status and run.FirstError. A non-nil error
// means the run could not start at all.
func (p *Pipeline) Run(ctx context.Context, account model.AccountRef, opts model.RunOptions) (*model.PipelineRun, error) {
	opts = withRunDefaults(opts)
	if !opts.Mode.Valid() {
		return nil, eris.Errorf("pipeline: unknown acquire mode %q", opts.Mode)
	}
	if account.ID == "" && strings.TrimSpace(account.Name) == "" {
		return nil, eris.New("pipeline: account ref needs an id or a name")
	}
	if opts.Mode != model.ModeDataset && p.search == nil {
		return nil, eris.Errorf("pipeline: %s mode requires a search client", opts.Mode)
	}
	if !opts.DryRun && p.sink == nil {
		return nil, eris.New("pipeline: approval sink is required outside dry-run")
	}

	run, err := p.store.CreateRun(ctx, account, opts)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: create run")
	}
	meter := cost.NewMeter(opts.CostCeiling)

	zap.L().Info("pipeline: run started",
		zap.String("run_id", run.ID),
		zap.String("account_id", account.ID),
		zap.String("account", account.Name),
		zap.String("mode", string(opts.Mode)),
		zap.Bool("dry_run", opts.DryRun),
	)

	nameSet, err := p.resolve(ctx, run, meter)
	if err != nil {
		p.finalize(ctx, run, meter)
		return run, nil
	}

	p.execute(ctx, run, meter, model.StageAcquire, stageInputs{nameSet: nameSet})
	return run, nil
}

// Resume re-executes a stored run from the given stage. Inputs for the
// stages before it come from the run document or their persisted artifacts;
// results from the resume point onward are replaced, results before it are
// kept. Resolve is not resumable: a fresh Run rebuilds the name set.
func (p *Pipeline) Resume(ctx context.Context, runID string, from model.Stage) (*model.PipelineRun, error) {
	idx := stageIndex(from)
	if idx < stageIndex(model.StageAcquire) || idx > stageIndex(model.StageEnqueue) {
		return nil, eris.Errorf("pipeline: cannot resume from stage %q", from)
	}

	run, err := p.store.GetRun(ctx, runID)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: load run %s", runID)
	}
	if run == nil {
		return nil, eris.Errorf("pipeline: run %s not found", runID)
	}

	run.Options = withRunDefaults(run.Options)
	if run.Options.Mode != model.ModeDataset && p.search == nil {
		return nil, eris.Errorf("pipeline: %s mode requires a search client", run.Options.Mode)
	}
	if !run.Options.DryRun && p.sink == nil {
		return nil, eris.New("pipeline: approval sink is required outside dry-run")
	}

	in, err := p.resumeInputs(ctx, run, from)
	if err != nil {
		return nil, err
	}

	// An interrupted run never attached its document, so stage results may
	// only exist in the artifact table.
	results := run.Stages
	if len(results) == 0 {
		results, err = p.store.ListStageResults(ctx, runID)
		if err != nil {
			return nil, eris.Wrapf(err, "pipeline: list stage results for run %s", runID)
		}
	}
	run.Stages = nil
	run.FirstError = nil
	for _, res := range results {
		if stageIndex(res.Stage) >= idx {
			continue
		}
		run.Stages = append(run.Stages, res)
		if run.FirstError == nil && res.Error != nil {
			run.FirstError = res.Error
		}
	}

	run.CompletedAt = nil
	run.Recommendation = ""
	if idx <= stageIndex(model.StageAcquire) {
		run.Candidates = nil
		run.SnapshotID = ""
	}
	if idx <= stageIndex(model.StageValidate) {
		run.Profiles = nil
		run.Rejections = nil
	}
	if idx <= stageIndex(model.StageRank) {
		run.Qualified = nil
	}
	run.QueuedIDs = nil

	// Spend from the kept stages still counts against the ceiling.
	meter := cost.NewMeter(run.Options.CostCeiling)
	var prior float64
	for _, res := range run.Stages {
		prior += res.Cost
	}
	if prior > 0 {
		meter.Record(prior)
	}

	if err := p.store.UpdateRunStatus(ctx, runID, model.RunStatusRunning); err != nil {
		return nil, eris.Wrapf(err, "pipeline: mark run %s running", runID)
	}
	run.Status = model.RunStatusRunning

	zap.L().Info("pipeline: run resumed",
		zap.String("run_id", runID),
		zap.String("from", string(from)),
		zap.Float64("prior_cost", prior),
	)

	p.execute(ctx, run, meter, from, in)
	return run, nil
}

// stageInputs carries the upstream outputs each stage consumes, assembled
// fresh by Run and from persisted state by Resume.
type stageInputs struct {
	nameSet    []string
	candidates []model.Candidate
	enriched   []model.EnrichedCandidate
	qualified  []model.QualifiedProspect
}

// execute walks the stages from the given point and finalizes the run. A
// failed or skipped stage blocks its successors; cancellation stops the
// walk between stages.
func (p *Pipeline) execute(ctx context.Context, run *model.PipelineRun, meter *cost.Meter, from model.Stage, in stageInputs) {
	defer p.finalize(ctx, run, meter)

	timeouts := run.Options.StageTimeouts
	candidates, enriched, qualified := in.candidates, in.enriched, in.qualified
	idx := stageIndex(from)

	if idx <= stageIndex(model.StageAcquire) {
		candidates = p.acquire(ctx, run, meter, in.nameSet, timeouts.Acquire)
		run.Candidates = candidates
		if p.interrupted(ctx, run, model.StageAcquire) {
			return
		}
	}

	if idx <= stageIndex(model.StageValidate) {
		if p.blocked(run, model.StageAcquire) {
			p.skip(ctx, run, model.StageValidate, model.StageRank, model.StageEnqueue)
			return
		}
		enriched, run.Rejections = p.validate(ctx, run, meter, in.nameSet, candidates, timeouts.Validate)
		run.Profiles = enriched
		if p.interrupted(ctx, run, model.StageValidate) {
			return
		}
	}

	if idx <= stageIndex(model.StageRank) {
		if p.blocked(run, model.StageValidate) {
			p.skip(ctx, run, model.StageRank, model.StageEnqueue)
			return
		}
		qualified = p.rank(ctx, run, meter, enriched, timeouts.Rank)
		run.Qualified = qualified
		if p.interrupted(ctx, run, model.StageRank) {
			return
		}
	}

	if run.Options.DryRun || p.blocked(run, model.StageRank) {
		p.skip(ctx, run, model.StageEnqueue)
		return
	}
	run.QueuedIDs = p.enqueue(ctx, run, meter, qualified, timeouts.Enqueue)
}

// resolve fetches the CRM account when the caller passed only an id, then
// builds and validates the employer-name set. It is the one stage whose
// failure ends the run: without a name set there is nothing to filter on.
func (p *Pipeline) resolve(ctx context.Context, run *model.PipelineRun, meter *cost.Meter) ([]string, error) {
	var nameSet []string
	res := p.runStage(ctx, run, meter, model.StageResolve, resolveTimeout, func(ctx context.Context) (int, int, any, error) {
		acct := run.Account
		if strings.TrimSpace(acct.Name) == "" {
			resolved, err := p.fetchAccount(ctx, meter, acct)
			if err != nil {
				return 0, 0, nil, err
			}
			acct = resolved
			run.Account = acct
		}

		set, err := p.generateNameSet(ctx, meter, acct)
		if err != nil {
			return 0, 0, nil, err
		}
		if err := company.ValidateSet(set); err != nil {
			return 0, 0, nil, err
		}
		run.NameSet = set
		nameSet = set
		return len(set), len(set), set, nil
	})
	if res.Status == model.StageStatusFailed {
		return nil, res.Error
	}
	return nameSet, nil
}

// fetchAccount fills the account ref from the CRM, including the parent
// organization's display name.
func (p *Pipeline) fetchAccount(ctx context.Context, meter *cost.Meter, acct model.AccountRef) (model.AccountRef, error) {
	if p.crm == nil {
		return acct, model.NewRunError(model.StageResolve, model.ErrBadResponse, "account name unknown and no crm client configured")
	}
	if err := meter.Reserve(p.calc.CrmCall()); err != nil {
		return acct, err
	}
	sfAcct, err := salesforce.GetAccount(ctx, p.crm, acct.ID)
	if err != nil {
		return acct, err
	}
	if sfAcct == nil {
		return acct, model.NewRunError(model.StageResolve, model.ErrBadResponse, "account "+acct.ID+" not found in crm")
	}

	acct.Name = sfAcct.Name
	if acct.City == "" {
		acct.City = sfAcct.BillingCity
	}
	if acct.State == "" {
		acct.State = sfAcct.BillingState
	}
	if acct.Industry == "" {
		acct.Industry = sfAcct.Industry
	}
	if acct.Parent == "" && sfAcct.ParentID != "" {
		if err := meter.Reserve(p.calc.CrmCall()); err != nil {
			return acct, err
		}
		parent, err := salesforce.GetParentName(ctx, p.crm, sfAcct.ParentID)
		if err != nil {
			return acct, err
		}
		acct.Parent = parent
	}
	return acct, nil
}

// generateNameSet runs the generative name-set pass under the budget. A
// refused reservation falls back to the deterministic expansion rather than
// failing the stage; the fallback always yields a usable set.
func (p *Pipeline) generateNameSet(ctx context.Context, meter *cost.Meter, acct model.AccountRef) ([]string, error) {
	if !p.settings.UseGenerativeNameSet {
		set, _, err := p.names.Generate(ctx, acct) // fallback-only builder, no spend
		return set, err
	}

	promptChars := len(acct.Name) + len(acct.Parent) + len(acct.City) + len(acct.State) + len(acct.Industry) + 400
	estimate := p.claudeEstimate(p.settings.NameSetModel, promptChars, p.settings.NameSetMaxTokens)
	if err := meter.Reserve(estimate); err != nil {
		zap.L().Warn("pipeline: name-set budget refused, using deterministic fallback",
			zap.String("account", acct.Name),
			zap.Error(err),
		)
		return company.Fallback(acct), nil
	}

	set, usage, err := p.names.Generate(ctx, acct)
	p.settleClaude(meter, p.settings.NameSetModel, usage, estimate)
	if err != nil {
		return nil, err
	}
	usage.LogCost(p.settings.NameSetModel, "resolve")
	return set, nil
}

// runStage executes one stage under its deadline, prices it from the meter
// delta, classifies its error, and persists the stage result with its
// artifact. The artifact save uses the parent context because the stage
// deadline may already have passed.
func (p *Pipeline) runStage(ctx context.Context, run *model.PipelineRun, meter *cost.Meter, stage model.Stage, timeout time.Duration, fn func(ctx context.Context) (found, kept int, artifact any, err error)) model.StageResult {
	stageCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	before := meter.Spent()
	startedAt := time.Now()
	found, kept, artifact, err := fn(stageCtx)

	res := model.StageResult{
		Stage:      stage,
		Status:     model.StageStatusOK,
		DurationMS: time.Since(startedAt).Milliseconds(),
		Found:      found,
		Kept:       kept,
		Cost:       meter.Spent() - before,
	}
	if err != nil {
		res.Error = classify(stage, err)
		if kept > 0 {
			res.Status = model.StageStatusPartial
		} else {
			res.Status = model.StageStatusFailed
		}
		if run.FirstError == nil {
			run.FirstError = res.Error
		}
		zap.L().Warn("pipeline: stage error",
			zap.String("run_id", run.ID),
			zap.String("stage", string(stage)),
			zap.String("kind", string(res.Error.Kind)),
			zap.Error(err),
		)
	}

	var body []byte
	if artifact != nil {
		var marshalErr error
		body, marshalErr = json.Marshal(artifact)
		if marshalErr != nil {
			zap.L().Error("pipeline: marshal stage artifact",
				zap.String("run_id", run.ID),
				zap.String("stage", string(stage)),
				zap.Error(marshalErr),
			)
			body = nil
		}
	}
	if err := p.store.SaveStageArtifact(ctx, run.ID, res, body); err != nil {
		zap.L().Warn("pipeline: save stage artifact",
			zap.String("run_id", run.ID),
			zap.String("stage", string(stage)),
			zap.Error(err),
		)
	}
	run.Stages = append(run.Stages, res)

	zap.L().Info("pipeline: stage complete",
		zap.String("run_id", run.ID),
		zap.String("stage", string(stage)),
		zap.String("status", string(res.Status)),
		zap.Int("found", found),
		zap.Int("kept", kept),
		zap.Int64("duration_ms", res.DurationMS),
		zap.Float64("cost", res.Cost),
	)
	return res
}

// skip records stages that cannot run because an upstream stage failed, or
// because the run is a dry run.
func (p *Pipeline) skip(ctx context.Context, run *model.PipelineRun, stages ...model.Stage) {
	for _, stage := range stages {
		res := model.StageResult{Stage: stage, Status: model.StageStatusSkipped}
		if err := p.store.SaveStageArtifact(ctx, run.ID, res, nil); err != nil {
			zap.L().Warn("pipeline: record skipped stage",
				zap.String("run_id", run.ID),
				zap.String("stage", string(stage)),
				zap.Error(err),
			)
		}
		run.Stages = append(run.Stages, res)
	}
}

// blocked reports whether a stage's recorded outcome prevents its successor
// from running. Skipped propagates the block down the walk.
func (p *Pipeline) blocked(run *model.PipelineRun, stage model.Stage) bool {
	for _, res := range run.Stages {
		if res.Stage == stage {
			return res.Status == model.StageStatusFailed || res.Status == model.StageStatusSkipped
		}
	}
	return false
}

// interrupted reports whether the caller's context ended the run. A stage
// in flight at cancellation already classified it; this records one when
// the context died between stages.
func (p *Pipeline) interrupted(ctx context.Context, run *model.PipelineRun, at model.Stage) bool {
	if ctx.Err() == nil {
		return false
	}
	if run.FirstError == nil {
		run.FirstError = classify(at, ctx.Err())
	}
	return true
}

// finalize computes the terminal status and persists the full run document.
// When the caller's context is gone the save runs detached so the terminal
// state still lands.
func (p *Pipeline) finalize(ctx context.Context, run *model.PipelineRun, meter *cost.Meter) {
	run.TotalCost = meter.Spent()
	run.Status = terminalStatus(run)
	now := time.Now().UTC()
	run.CompletedAt = &now

	saveCtx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		saveCtx, cancel = context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
	}
	if err := p.store.CompleteRun(saveCtx, run); err != nil {
		zap.L().Error("pipeline: complete run",
			zap.String("run_id", run.ID),
			zap.Error(err),
		)
	}

	zap.L().Info("pipeline: run finished",
		zap.String("run_id", run.ID),
		zap.String("status", string(run.Status)),
		zap.Float64("total_cost", run.TotalCost),
		zap.Int("qualified", len(run.Qualified)),
		zap.Int("queued", len(run.QueuedIDs)),
	)
}

// terminalStatus folds the stage outcomes into the run status: ok without a
// first error, failed when the run was cancelled or never produced a name
// set, partial otherwise.
func terminalStatus(run *model.PipelineRun) model.RunStatus {
	switch {
	case run.FirstError == nil:
		return model.RunStatusOK
	case run.FirstError.Kind == model.ErrCancelled,
		run.FirstError.Stage == model.StageResolve:
		return model.RunStatusFailed
	default:
		return model.RunStatusPartial
	}
}

// resumeInputs reassembles the inputs the resume point needs from the run
// document, falling back to the persisted stage artifacts. A missing input
// is an error: the resumed stage cannot run without it.
func (p *Pipeline) resumeInputs(ctx context.Context, run *model.PipelineRun, from model.Stage) (stageInputs, error) {
	var in stageInputs

	in.nameSet = run.NameSet
	if len(in.nameSet) == 0 {
		if err := p.loadArtifact(ctx, run.ID, model.StageResolve, &in.nameSet); err != nil {
			return in, err
		}
	}
	if err := company.ValidateSet(in.nameSet); err != nil {
		return in, eris.Wrapf(err, "pipeline: run %s has no usable name set", run.ID)
	}

	idx := stageIndex(from)
	if idx > stageIndex(model.StageAcquire) {
		in.candidates = run.Candidates
		if in.candidates == nil {
			if err := p.loadArtifact(ctx, run.ID, model.StageAcquire, &in.candidates); err != nil {
				return in, err
			}
		}
	}
	if idx > stageIndex(model.StageValidate) {
		in.enriched = run.Profiles
		if in.enriched == nil {
			var art stageTwoArtifact
			if err := p.loadArtifact(ctx, run.ID, model.StageValidate, &art); err != nil {
				return in, err
			}
			in.enriched = art.Profiles
		}
	}
	if idx > stageIndex(model.StageRank) {
		in.qualified = run.Qualified
		if in.qualified == nil {
			if err := p.loadArtifact(ctx, run.ID, model.StageRank, &in.qualified); err != nil {
				return in, err
			}
		}
	}
	return in, nil
}

func (p *Pipeline) loadArtifact(ctx context.Context, runID string, stage model.Stage, out any) error {
	body, err := p.store.GetArtifact(ctx, runID, stage)
	if err != nil {
		return eris.Wrapf(err, "pipeline: load %s artifact for run %s", stage, runID)
	}
	if body == nil {
		return eris.Errorf("pipeline: run %s has no %s artifact to resume from", runID, stage)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return eris.Wrapf(err, "pipeline: decode %s artifact for run %s", stage, runID)
	}
	return nil
}

// claudeEstimate prices a generative call before it happens: a chars/4
// input-token approximation plus the full output budget. Actuals are
// settled after the call returns.
func (p *Pipeline) claudeEstimate(llmModel string, promptChars int, maxTokens int64) float64 {
	return p.calc.Claude(llmModel, promptChars/4+systemOverheadTokens, int(maxTokens), 0, 0)
}

const systemOverheadTokens = 200

// settleClaude replaces a pre-call estimate with the billed token counts.
func (p *Pipeline) settleClaude(meter *cost.Meter, llmModel string, usage anthropic.TokenUsage, estimate float64) {
	actual := p.calc.Claude(llmModel,
		int(usage.InputTokens), int(usage.OutputTokens),
		int(usage.CacheCreationInputTokens), int(usage.CacheReadInputTokens))
	meter.Record(actual - estimate)
}

// stageIndex orders stages along the walk.
func stageIndex(s model.Stage) int {
	switch s {
	case model.StageResolve:
		return 0
	case model.StageAcquire:
		return 1
	case model.StageValidate:
		return 2
	case model.StageRank:
		return 3
	case model.StageEnqueue:
		return 4
	}
	return -1
}

func withRunDefaults(opts model.RunOptions) model.RunOptions {
	if opts.Mode == "" {
		opts.Mode = model.ModeDataset
	}
	if opts.MinScore <= 0 {
		opts.MinScore = defaultMinScore
	}
	if opts.MinScore > 100 {
		opts.MinScore = 100
	}
	if opts.MaxProspects <= 0 {
		opts.MaxProspects = defaultMaxProspects
	}
	if opts.MinConnections <= 0 {
		opts.MinConnections = defaultMinConnections
	}
	if opts.CostCeiling < 0 {
		opts.CostCeiling = 0
	}
	t := &opts.StageTimeouts
	if t.Acquire <= 0 {
		t.Acquire = defaultAcquireTimeout
	}
	if t.Validate <= 0 {
		t.Validate = defaultValidateTimeout
	}
	if t.Rank <= 0 {
		t.Rank = defaultRankTimeout
	}
	if t.Enqueue <= 0 {
		t.Enqueue = defaultEnqueueTimeout
	}
	return opts
}
