package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospector-cli/internal/approval"
	"github.com/sells-group/prospector-cli/internal/cost"
	"github.com/sells-group/prospector-cli/internal/model"
)

// enqueue runs Stage 4: project each qualified prospect into a pending
// update and push it onto the approval queue. A single failed enqueue
// does not stop the rest; the stage reports partial with the last error.
func (p *Pipeline) enqueue(ctx context.Context, run *model.PipelineRun, meter *cost.Meter, qualified []model.QualifiedProspect, timeout time.Duration) []string {
	ids := []string{}
	p.runStage(ctx, run, meter, model.StageEnqueue, timeout, func(ctx context.Context) (int, int, any, error) {
		queued, err := p.enqueueProspects(ctx, run, qualified)
		if queued != nil {
			ids = queued
		}
		return len(qualified), len(ids), ids, err
	})
	return ids
}

func (p *Pipeline) enqueueProspects(ctx context.Context, run *model.PipelineRun, qualified []model.QualifiedProspect) ([]string, error) {
	ids := make([]string, 0, len(qualified))
	var failed int
	var lastErr error
	for _, q := range qualified {
		if err := ctx.Err(); err != nil {
			return ids, err
		}
		pu := approval.Project(run.Account, run.ID, q)
		id, err := p.sink.Enqueue(ctx, pu)
		if err != nil {
			failed++
			lastErr = err
			zap.L().Warn("enqueue: pending update rejected",
				zap.String("profile_url", q.ProfileURL),
				zap.Error(err),
			)
			continue
		}
		ids = append(ids, id)
	}
	if failed > 0 {
		return ids, eris.Wrapf(lastErr, "pipeline: %d of %d pending updates failed to enqueue", failed, len(qualified))
	}
	return ids, nil
}
