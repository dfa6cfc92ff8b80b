package pipeline

import (
	"context"
	"errors"
	"unicode/utf8"

	"github.com/sells-group/prospector-cli/internal/cost"
	"github.com/sells-group/prospector-cli/internal/model"
	"github.com/sells-group/prospector-cli/pkg/anthropic"
	"github.com/sells-group/prospector-cli/pkg/brightdata"
	"github.com/sells-group/prospector-cli/pkg/serper"
)

const maxErrorMessage = 300

// classify maps an adapter error onto the closed error-kind set. Errors
// that already carry a RunError pass through with the stage filled in.
func classify(stage model.Stage, err error) *model.RunError {
	if err == nil {
		return nil
	}
	if re, ok := model.AsRunError(err); ok {
		out := *re
		if out.Stage == "" {
			out.Stage = stage
		}
		out.Message = clip(out.Message)
		return &out
	}
	return model.NewRunError(stage, kindOf(err), clip(err.Error()))
}

// kindOf inspects the error chain, most specific sentinel first. HTTP
// status errors from the data and search providers split on status: 429
// stays rate_limited even after retries are exhausted, other 4xx is
// bad_response, 5xx and connection failures are transport.
func kindOf(err error) model.ErrorKind {
	var ovf *brightdata.OverflowError
	if errors.As(err, &ovf) {
		return model.ErrOverflow
	}
	if errors.Is(err, cost.ErrBudgetExhausted) {
		return model.ErrBudgetExhausted
	}
	if errors.Is(err, anthropic.ErrMalformedJSON) {
		return model.ErrParse
	}
	var bd *brightdata.APIError
	if errors.As(err, &bd) {
		return httpKind(bd.StatusCode)
	}
	var sp *serper.APIError
	if errors.As(err, &sp) {
		return httpKind(sp.StatusCode)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return model.ErrTimeout
	}
	if errors.Is(err, context.Canceled) {
		return model.ErrCancelled
	}
	return model.ErrTransport
}

func httpKind(status int) model.ErrorKind {
	switch {
	case status == 429:
		return model.ErrRateLimited
	case status >= 400 && status < 500:
		return model.ErrBadResponse
	default:
		return model.ErrTransport
	}
}

// clip bounds stored error messages so run records stay readable.
func clip(s string) string {
	if len(s) <= maxErrorMessage {
		return s
	}
	n := maxErrorMessage
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
