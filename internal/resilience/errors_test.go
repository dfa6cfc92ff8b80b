package resilience

import (
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"
	"time"
)

// fakeStatusError mimics an adapter error that reports its own
// retryability and server hint.
type fakeStatusError struct {
	status int
	after  time.Duration
}

func (e *fakeStatusError) Error() string {
	return fmt.Sprintf("api status %d", e.status)
}

func (e *fakeStatusError) Transient() bool {
	return e.status == 429 || e.status >= 500
}

func (e *fakeStatusError) RetryAfterHint() time.Duration { return e.after }

func TestIsTransient_TaggedErrors(t *testing.T) {
	tagged := NewTransientError(errors.New("server overloaded"), 503)
	if !IsTransient(tagged) {
		t.Error("a tagged error should be transient")
	}
	if !IsTransient(fmt.Errorf("dataset call: %w", tagged)) {
		t.Error("wrapping must not strip the tag")
	}
}

func TestIsTransient_AdapterDeclaredBehavior(t *testing.T) {
	if !IsTransient(&fakeStatusError{status: 503}) {
		t.Error("expected a self-declared 503 to be transient")
	}
	if !IsTransient(fmt.Errorf("search: %w", &fakeStatusError{status: 429})) {
		t.Error("expected a wrapped self-declared 429 to be transient")
	}

	// The carrier's verdict is authoritative even for errors whose message
	// would otherwise match a transport pattern.
	err := &fakeStatusError{status: 404}
	if IsTransient(fmt.Errorf("i/o timeout while handling: %w", err)) {
		t.Error("expected the 404 carrier to override the message heuristic")
	}
}

func TestIsTransient_Defaults(t *testing.T) {
	if IsTransient(nil) {
		t.Error("nil is not transient")
	}
	if IsTransient(errors.New("account has no city")) {
		t.Error("a plain error is not transient")
	}
}

func TestIsTransient_NetworkFailures(t *testing.T) {
	for _, err := range []error{
		fmt.Errorf("write tcp: %w", syscall.ECONNRESET),
		fmt.Errorf("dial tcp: %w", syscall.ECONNREFUSED),
		fmt.Errorf("read tcp: %w", syscall.ECONNABORTED),
		&net.DNSError{IsTimeout: true, Err: "timeout"},
	} {
		if !IsTransient(err) {
			t.Errorf("expected %v to be transient", err)
		}
	}
}

func TestIsTransient_MessageHeuristics(t *testing.T) {
	for _, msg := range []string{
		`Post "https://api.example.com": read: connection reset by peer`,
		"write: broken pipe",
		"unexpected EOF",
		"use of closed network connection",
		"net/http: TLS handshake timeout",
		"dial tcp: lookup api.example.com: i/o timeout",
		"http2: server closed idle connection",
	} {
		if !IsTransient(errors.New(msg)) {
			t.Errorf("expected %q to be transient", msg)
		}
	}
}

func TestTransientError(t *testing.T) {
	inner := errors.New("root cause")
	te := NewTransientError(inner, 500)

	if te.Error() != "root cause" {
		t.Errorf("Error() = %q, want the inner message", te.Error())
	}
	if !errors.Is(te, inner) {
		t.Error("errors.Is should reach the wrapped cause")
	}
	if te.StatusCode != 500 {
		t.Errorf("StatusCode = %d, want 500", te.StatusCode)
	}
	if !te.Transient() {
		t.Error("wrapping is the transient signal")
	}
}

func TestRetryAfterHint(t *testing.T) {
	hinted := NewRateLimitError(errors.New("429"), 7*time.Second)
	if got := RetryAfterHint(hinted); got != 7*time.Second {
		t.Errorf("expected 7s hint, got %v", got)
	}

	adapter := fmt.Errorf("dataset: %w", &fakeStatusError{status: 429, after: 3 * time.Second})
	if got := RetryAfterHint(adapter); got != 3*time.Second {
		t.Errorf("expected the adapter's 3s hint, got %v", got)
	}

	if got := RetryAfterHint(NewTransientError(errors.New("503"), 503)); got != 0 {
		t.Errorf("expected no hint, got %v", got)
	}
	if got := RetryAfterHint(errors.New("plain")); got != 0 {
		t.Errorf("expected no hint for plain error, got %v", got)
	}
}
