package resilience

import (
	"errors"
	"net"
	"strings"
	"syscall"
	"time"
)

// Adapter errors opt into retry handling by implementing either of these
// behaviors; nothing outside this package needs to import it to do so.
type (
	transienter interface{ Transient() bool }
	hinter      interface{ RetryAfterHint() time.Duration }
)

// TransientError marks an error as safe to retry for callers whose own
// error types carry no retryability signal. RetryAfter holds the
// server-advertised wait when the response included one; zero means no
// hint.
type TransientError struct {
	Err        error
	StatusCode int
	RetryAfter time.Duration
}

func (e *TransientError) Error() string { return e.Err.Error() }

func (e *TransientError) Unwrap() error { return e.Err }

// Transient reports retryability. Always true; wrapping is the signal.
func (e *TransientError) Transient() bool { return true }

// RetryAfterHint returns the server-advertised wait, or zero.
func (e *TransientError) RetryAfterHint() time.Duration { return e.RetryAfter }

// NewTransientError wraps an error as transient with an optional HTTP status code.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// NewRateLimitError wraps a 429 with the Retry-After the server advertised.
func NewRateLimitError(err error, retryAfter time.Duration) *TransientError {
	return &TransientError{Err: err, StatusCode: 429, RetryAfter: retryAfter}
}

// RetryAfterHint extracts the server-advertised retry delay from the error
// chain, or zero if none was given.
func RetryAfterHint(err error) time.Duration {
	var h hinter
	if errors.As(err, &h) {
		return h.RetryAfterHint()
	}
	return 0
}

// IsTransient reports whether the error is worth retrying. An error in
// the chain that declares its own retryability (Transient() bool) is
// authoritative; otherwise network timeouts, connection failures, and
// the usual wrapped transport messages count as transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var tr transienter
	if errors.As(err, &tr) {
		return tr.Transient()
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	// Client libraries that flatten their transport errors into strings
	// leave only the message to go on.
	msg := strings.ToLower(err.Error())
	for _, p := range []string{
		"connection reset by peer",
		"broken pipe",
		"unexpected eof",
		"use of closed network connection",
		"temporary failure in name resolution",
		"no such host",
		"tls handshake timeout",
		"i/o timeout",
		"server closed idle connection",
		"transport connection broken",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}
