package model

import "errors"

// ErrorKind classifies stage failures. The set is closed: stages map every
// adapter failure into one of these before it reaches the run record.
type ErrorKind string

const (
	ErrTransport       ErrorKind = "transport"
	ErrRateLimited     ErrorKind = "rate_limited"
	ErrBadResponse     ErrorKind = "bad_response"
	ErrParse           ErrorKind = "parse_error"
	ErrOverflow        ErrorKind = "overflow"
	ErrBudgetExhausted ErrorKind = "budget_exhausted"
	ErrTimeout         ErrorKind = "timeout"
	ErrCancelled       ErrorKind = "cancelled"
)

// RunError is the first-error descriptor attached to a non-ok run and to
// failed stage results.
type RunError struct {
	Stage   Stage     `json:"stage"`
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// Error implements the error interface so stage errors can travel through
// ordinary error returns.
func (e *RunError) Error() string {
	return string(e.Stage) + ": " + string(e.Kind) + ": " + e.Message
}

// NewRunError builds a RunError for a stage.
func NewRunError(stage Stage, kind ErrorKind, msg string) *RunError {
	return &RunError{Stage: stage, Kind: kind, Message: msg}
}

// AsRunError unwraps err to a *RunError if one is in the chain.
func AsRunError(err error) (*RunError, bool) {
	var re *RunError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}
