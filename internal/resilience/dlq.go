package resilience

import (
	"time"

	"github.com/sells-group/prospector-cli/internal/model"
)

// Error types recorded on dead-letter entries. Transient failures are
// eligible for a later batch; permanent ones wait for an operator.
const (
	ErrorTypeTransient = "transient"
	ErrorTypePermanent = "permanent"
)

// DLQEntry records an account whose discovery run failed and may be retried
// in a later batch.
type DLQEntry struct {
	ID           string           `json:"id"`
	Account      model.AccountRef `json:"account"`
	Error        string           `json:"error"`
	ErrorType    string           `json:"error_type"`
	FailedStage  string           `json:"failed_stage,omitempty"`
	RetryCount   int              `json:"retry_count"`
	MaxRetries   int              `json:"max_retries"`
	NextRetryAt  time.Time        `json:"next_retry_at"`
	CreatedAt    time.Time        `json:"created_at"`
	LastFailedAt time.Time        `json:"last_failed_at"`
}

// CanRetry reports whether the entry still has retry budget.
func (e *DLQEntry) CanRetry() bool {
	return e.RetryCount < e.MaxRetries
}

// DLQFilter narrows a dead-letter drain. Zero values match everything.
type DLQFilter struct {
	ErrorType string `json:"error_type,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

// ClassifyError buckets err into the transient/permanent split.
func ClassifyError(err error) string {
	if IsTransient(err) {
		return ErrorTypeTransient
	}
	return ErrorTypePermanent
}

// ErrorTypeForKind maps a run error kind onto the same split. Transport
// hiccups, rate limits, and timeouts retry; everything else sticks.
func ErrorTypeForKind(kind model.ErrorKind) string {
	switch kind {
	case model.ErrTransport, model.ErrRateLimited, model.ErrTimeout:
		return ErrorTypeTransient
	}
	return ErrorTypePermanent
}
