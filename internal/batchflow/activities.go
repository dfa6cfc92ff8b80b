package batchflow

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.temporal.io/sdk/activity"
	"go.uber.org/zap"

	"github.com/sells-group/prospector-cli/internal/model"
	"github.com/sells-group/prospector-cli/internal/resilience"
	"github.com/sells-group/prospector-cli/internal/store"
)

// Runner starts discovery runs. *pipeline.Pipeline satisfies it.
type Runner interface {
	Run(ctx context.Context, account model.AccountRef, opts model.RunOptions) (*model.PipelineRun, error)
}

// Activities holds the worker-side dependencies of the batch workflow.
type Activities struct {
	runner Runner
	st     store.Store
}

func NewActivities(runner Runner, st store.Store) (*Activities, error) {
	if runner == nil {
		return nil, eris.New("batchflow: runner is required")
	}
	if st == nil {
		return nil, eris.New("batchflow: store is required")
	}
	return &Activities{runner: runner, st: st}, nil
}

// RunAccountInput is the RunAccount activity argument.
type RunAccountInput struct {
	Account model.AccountRef `json:"account"`
	Options model.RunOptions `json:"options"`
}

// RunAccount executes one discovery run. A run that completes with status
// failed is an outcome, not an activity error: retrying it would re-spend
// budget on the same account, so it goes straight to the dead letter queue.
// Only a run that never produced a record returns an error and retries.
func (a *Activities) RunAccount(ctx context.Context, in RunAccountInput) (AccountOutcome, error) {
	out := AccountOutcome{AccountID: in.Account.ID, Name: in.Account.Name}

	run, err := a.runner.Run(ctx, in.Account, in.Options)
	if err != nil {
		if attemptOf(ctx) >= runAttempts {
			a.park(ctx, in.Account, "", err, resilience.ClassifyError(err))
		}
		return out, err
	}

	out.RunID = run.ID
	out.Status = run.Status
	out.Qualified = len(run.Qualified)

	if run.Status == model.RunStatusFailed {
		var stage string
		var cause error = eris.New("run failed")
		errType := resilience.ErrorTypePermanent
		if run.FirstError != nil {
			cause = run.FirstError
			stage = string(run.FirstError.Stage)
			errType = resilience.ErrorTypeForKind(run.FirstError.Kind)
		}
		out.Error = cause.Error()
		a.park(ctx, in.Account, stage, cause, errType)
	}
	return out, nil
}

// park records the account in the dead letter queue. Failures here are
// logged and swallowed; the activity outcome already carries the error.
func (a *Activities) park(ctx context.Context, acct model.AccountRef, stage string, cause error, errType string) {
	now := time.Now().UTC()
	entry := resilience.DLQEntry{
		Account:      acct,
		Error:        cause.Error(),
		ErrorType:    errType,
		FailedStage:  stage,
		MaxRetries:   runAttempts,
		NextRetryAt:  now,
		CreatedAt:    now,
		LastFailedAt: now,
	}
	if err := a.st.EnqueueDLQ(ctx, entry); err != nil {
		zap.L().Warn("batchflow: enqueue dlq",
			zap.String("account", acct.ID),
			zap.Error(err),
		)
		return
	}
	zap.L().Info("batchflow: account parked in dlq",
		zap.String("account", acct.ID),
		zap.String("error_type", errType),
		zap.String("stage", stage),
	)
}

func attemptOf(ctx context.Context) int32 {
	if activity.IsActivity(ctx) {
		return activity.GetInfo(ctx).Attempt
	}
	return 1
}
