// Package batchflow runs multi-account discovery as a durable Temporal
// workflow: one RunAccount activity per account, bounded parallelism, and a
// dead-letter entry for every account whose run cannot be salvaged. Operators
// use it for multi-hundred-account batches that must survive worker restarts.
package batchflow

import (
	"time"

	"github.com/rotisserie/eris"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/sells-group/prospector-cli/internal/model"
)

const (
	// WorkflowName registers and starts DiscoverBatch.
	WorkflowName = "DiscoverBatch"

	// DefaultTaskQueue matches the temporal.task_queue config default.
	DefaultTaskQueue = "prospector-batch"

	activityRunAccount = "RunAccount"

	defaultParallel = 5

	// runAttempts is the activity retry budget. The activity consults it to
	// decide when a still-failing account moves to the dead letter queue.
	runAttempts = 3
)

// BatchInput is the DiscoverBatch workflow argument.
type BatchInput struct {
	Accounts []model.AccountRef `json:"accounts"`
	Options  model.RunOptions   `json:"options"`

	// MaxParallel bounds concurrently running accounts. Zero means 5.
	MaxParallel int `json:"max_parallel,omitempty"`
}

// AccountOutcome is the per-account result recorded in the batch result.
// Either RunID/Status are set (a run record exists) or Error alone is set
// (the run never started).
type AccountOutcome struct {
	AccountID string          `json:"account_id"`
	Name      string          `json:"name,omitempty"`
	RunID     string          `json:"run_id,omitempty"`
	Status    model.RunStatus `json:"status,omitempty"`
	Qualified int             `json:"qualified,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// BatchResult is the DiscoverBatch workflow return value. Outcomes keep the
// input account order.
type BatchResult struct {
	Total     int              `json:"total"`
	Succeeded int              `json:"succeeded"`
	Failed    int              `json:"failed"`
	Outcomes  []AccountOutcome `json:"outcomes"`
}

// DiscoverBatch fans one RunAccount activity out per account. A failed run
// counts against the batch but never aborts it; the workflow itself fails
// only on empty input.
func DiscoverBatch(ctx workflow.Context, in BatchInput) (*BatchResult, error) {
	if len(in.Accounts) == 0 {
		return nil, eris.New("batchflow: batch has no accounts")
	}

	parallel := in.MaxParallel
	if parallel <= 0 {
		parallel = defaultParallel
	}

	logger := workflow.GetLogger(ctx)
	logger.Info("discovery batch started", "accounts", len(in.Accounts), "parallel", parallel)

	opts := workflow.ActivityOptions{
		StartToCloseTimeout: 45 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    30 * time.Second,
			BackoffCoefficient: 2,
			MaximumInterval:    5 * time.Minute,
			MaximumAttempts:    runAttempts,
		},
	}

	outcomes := make([]AccountOutcome, len(in.Accounts))
	sem := workflow.NewBufferedChannel(ctx, parallel)
	wg := workflow.NewWaitGroup(ctx)

	for i, acct := range in.Accounts {
		sem.Send(ctx, nil)
		wg.Add(1)
		workflow.Go(ctx, func(gctx workflow.Context) {
			defer wg.Done()
			defer sem.Receive(gctx, nil)

			actx := workflow.WithActivityOptions(gctx, opts)
			input := RunAccountInput{Account: acct, Options: in.Options}

			var out AccountOutcome
			if err := workflow.ExecuteActivity(actx, activityRunAccount, input).Get(actx, &out); err != nil {
				out = AccountOutcome{AccountID: acct.ID, Name: acct.Name, Error: err.Error()}
			}
			outcomes[i] = out
		})
	}
	wg.Wait(ctx)

	res := &BatchResult{Total: len(in.Accounts), Outcomes: outcomes}
	for _, out := range outcomes {
		if out.Error == "" && out.Status != model.RunStatusFailed {
			res.Succeeded++
		} else {
			res.Failed++
		}
	}

	logger.Info("discovery batch finished",
		"total", res.Total, "succeeded", res.Succeeded, "failed", res.Failed)
	return res, nil
}
