package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/prospector-cli/internal/model"
	"github.com/sells-group/prospector-cli/internal/resilience"
)

// ErrNotFound reports that the requested row does not exist. Implementations
// wrap it so callers can branch with errors.Is.
var ErrNotFound = eris.New("not found")

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status       model.RunStatus `json:"status,omitempty"`
	AccountID    string          `json:"account_id,omitempty"`
	StartedAfter time.Time       `json:"started_after,omitempty"`
	Limit        int             `json:"limit,omitempty"`
	Offset       int             `json:"offset,omitempty"`
}

// PendingFilter specifies criteria for listing pending updates.
type PendingFilter struct {
	Status    model.PendingStatus `json:"status,omitempty"`
	RunID     string              `json:"run_id,omitempty"`
	AccountID string              `json:"account_id,omitempty"`
	Limit     int                 `json:"limit,omitempty"`
	Offset    int                 `json:"offset,omitempty"`
}

// Store defines the persistence interface for the discovery pipeline.
//
// Runs are one row each. Stage artifacts are written as each stage
// completes, keyed (run_id, stage), so an interrupted run can resume from
// its last durable stage. CompleteRun attaches the full run document;
// until then the row carries only account, options, and status.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, account model.AccountRef, opts model.RunOptions) (*model.PipelineRun, error)
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error
	CompleteRun(ctx context.Context, run *model.PipelineRun) error
	GetRun(ctx context.Context, runID string) (*model.PipelineRun, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.PipelineRun, error)

	// Stage artifacts
	SaveStageArtifact(ctx context.Context, runID string, result model.StageResult, artifact []byte) error
	GetArtifact(ctx context.Context, runID string, stage model.Stage) ([]byte, error)
	ListStageResults(ctx context.Context, runID string) ([]model.StageResult, error)

	// Pending updates
	SavePendingUpdate(ctx context.Context, pu *model.PendingUpdate) error
	ListPendingUpdates(ctx context.Context, filter PendingFilter) ([]model.PendingUpdate, error)
	UpdatePendingUpdateStatus(ctx context.Context, id string, status model.PendingStatus) error

	// Dead letter queue for failed batch accounts
	EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error
	DequeueDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error)
	IncrementDLQRetry(ctx context.Context, id string, nextRetryAt time.Time, lastErr string) error
	RemoveDLQ(ctx context.Context, id string) error
	CountDLQ(ctx context.Context) (int, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}
