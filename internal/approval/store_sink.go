package approval

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/prospector-cli/internal/model"
	"github.com/sells-group/prospector-cli/internal/store"
)

// StoreSink persists pending updates in the run store with status queued.
// It is the baseline sink every deployment has; NotionSink layers the
// review database on top of it.
type StoreSink struct {
	store store.Store
}

// NewStoreSink creates a sink backed by the run store.
func NewStoreSink(st store.Store) *StoreSink {
	return &StoreSink{store: st}
}

// Enqueue saves the pending update and returns the store-assigned id.
func (s *StoreSink) Enqueue(ctx context.Context, pu *model.PendingUpdate) (string, error) {
	if err := s.store.SavePendingUpdate(ctx, pu); err != nil {
		return "", eris.Wrap(err, "approval: save pending update")
	}
	return pu.ID, nil
}
