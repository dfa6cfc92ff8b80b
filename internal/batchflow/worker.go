package batchflow

import (
	"context"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"
)

// NewWorker builds a worker on queue with the batch workflow and its
// activities registered. The caller owns Run/Stop.
func NewWorker(c client.Client, queue string, acts *Activities) worker.Worker {
	if queue == "" {
		queue = DefaultTaskQueue
	}
	w := worker.New(c, queue, worker.Options{})
	w.RegisterWorkflowWithOptions(DiscoverBatch, workflow.RegisterOptions{Name: WorkflowName})
	w.RegisterActivityWithOptions(acts.RunAccount, activity.RegisterOptions{Name: activityRunAccount})
	return w
}

// Submit starts a DiscoverBatch execution and returns its workflow and run
// ids. It does not wait for the result.
func Submit(ctx context.Context, c client.Client, queue string, in BatchInput) (workflowID, runID string, err error) {
	if len(in.Accounts) == 0 {
		return "", "", eris.New("batchflow: batch has no accounts")
	}
	if queue == "" {
		queue = DefaultTaskQueue
	}

	opts := client.StartWorkflowOptions{
		ID:        "discover-batch-" + uuid.NewString()[:8],
		TaskQueue: queue,
	}
	run, err := c.ExecuteWorkflow(ctx, opts, WorkflowName, in)
	if err != nil {
		return "", "", eris.Wrap(err, "batchflow: start workflow")
	}
	return run.GetID(), run.GetRunID(), nil
}
