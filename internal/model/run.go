package model

import "time"

// RunStatus is the lifecycle state of a pipeline run. Terminal states are
// ok, partial, and failed.
type RunStatus string

const (
	RunStatusRunning RunStatus = "running"
	RunStatusOK      RunStatus = "ok"
	RunStatusPartial RunStatus = "partial"
	RunStatusFailed  RunStatus = "failed"
)

// Terminal reports whether the status is final.
func (s RunStatus) Terminal() bool {
	return s == RunStatusOK || s == RunStatusPartial || s == RunStatusFailed
}

// Stage names the pipeline stages. Resolve covers the CRM account fetch and
// name-set generation that precede Stage 1.
type Stage string

const (
	StageResolve  Stage = "resolve"
	StageAcquire  Stage = "acquire"
	StageValidate Stage = "validate"
	StageRank     Stage = "rank"
	StageEnqueue  Stage = "enqueue"
)

// StageStatus is the outcome of a single stage.
type StageStatus string

const (
	StageStatusOK      StageStatus = "ok"
	StageStatusPartial StageStatus = "partial"
	StageStatusFailed  StageStatus = "failed"
	StageStatusSkipped StageStatus = "skipped"
)

// AcquireMode selects the Stage 1 strategy.
type AcquireMode string

const (
	ModeDataset  AcquireMode = "dataset"
	ModeSearch   AcquireMode = "search"
	ModeCombined AcquireMode = "combined"
)

// Valid reports whether the mode is one of the known strategies.
func (m AcquireMode) Valid() bool {
	switch m {
	case ModeDataset, ModeSearch, ModeCombined:
		return true
	}
	return false
}

// StageTimeouts carries the per-stage deadlines. Zero values fall back to
// defaults at run time.
type StageTimeouts struct {
	Acquire  time.Duration `json:"acquire"`
	Validate time.Duration `json:"validate"`
	Rank     time.Duration `json:"rank"`
	Enqueue  time.Duration `json:"enqueue"`
}

// RunOptions are the per-run knobs. All fields have defaults applied by the
// orchestrator; a zero RunOptions is usable.
type RunOptions struct {
	Mode              AcquireMode   `json:"mode"`
	MinScore          int           `json:"min_score"`
	MaxProspects      int           `json:"max_prospects"`
	CostCeiling       float64       `json:"cost_ceiling"`
	MinConnections    int           `json:"min_connections"`
	UseLocationFilter bool          `json:"use_location_filter"`
	DryRun            bool          `json:"dry_run"`
	StageTimeouts     StageTimeouts `json:"stage_timeouts"`
}

// StageResult records one stage's outcome inside a run: timing, input and
// output counts, spend, and the terminal error if any.
type StageResult struct {
	Stage      Stage       `json:"stage"`
	Status     StageStatus `json:"status"`
	DurationMS int64       `json:"duration_ms"`
	Found      int         `json:"found"`
	Kept       int         `json:"kept"`
	Cost       float64     `json:"cost"`
	Error      *RunError   `json:"error,omitempty"`
}

// PipelineRun is the top-level record of one end-to-end execution. Only the
// orchestrator mutates it; stage artifacts are immutable once attached.
type PipelineRun struct {
	ID          string        `json:"id"`
	Account     AccountRef    `json:"account"`
	Options     RunOptions    `json:"options"`
	NameSet     []string      `json:"name_set,omitempty"`
	SnapshotID  string        `json:"snapshot_id,omitempty"`
	Status      RunStatus     `json:"status"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	Stages      []StageResult `json:"stages"`
	TotalCost   float64       `json:"total_cost"`
	FirstError  *RunError     `json:"first_error,omitempty"`

	// Recommendation carries operator guidance, such as tightening
	// filters after a dataset overflow.
	Recommendation string `json:"recommendation,omitempty"`

	Candidates []Candidate         `json:"stage1_candidates,omitempty"`
	Profiles   []EnrichedCandidate `json:"stage2_profiles,omitempty"`
	Rejections []Rejection         `json:"stage2_rejections,omitempty"`
	Qualified  []QualifiedProspect `json:"stage3_qualified,omitempty"`
	QueuedIDs  []string            `json:"stage4_queued_ids,omitempty"`
}

// StageCount returns the found/kept counts recorded for a stage, or zeros
// if the stage never ran.
func (r *PipelineRun) StageCount(stage Stage) (found, kept int) {
	for _, s := range r.Stages {
		if s.Stage == stage {
			return s.Found, s.Kept
		}
	}
	return 0, 0
}
