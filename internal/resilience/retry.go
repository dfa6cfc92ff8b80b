package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// RetryConfig is the backoff schedule for Do and DoVal. The zero value
// works; unset fields take the defaults noted per field.
type RetryConfig struct {
	// MaxAttempts counts the first try as attempt one, so 1 disables
	// retries. Default 3.
	MaxAttempts int

	// InitialBackoff is the sleep before the second attempt. Default 500ms.
	InitialBackoff time.Duration

	// MaxBackoff caps every sleep, server hints included. Default 30s.
	MaxBackoff time.Duration

	// Multiplier grows the sleep between consecutive attempts. Default 2.
	Multiplier float64

	// JitterFraction spreads each sleep by up to this fraction either side
	// so concurrent callers drift apart. Default 0.25.
	JitterFraction float64

	// OnRetry observes each retry before its sleep. The attempt number
	// starts at 1 for the first retry.
	OnRetry func(attempt int, err error)
}

// DefaultRetryConfig returns the schedule used for external API calls.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.25,
	}
}

// Do runs fn until it succeeds, fails permanently, or attempts run out.
// Only errors IsTransient accepts are retried; the last error is
// returned. Context cancellation ends the schedule early.
func Do(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	_, err := DoVal(ctx, cfg, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// DoVal is Do for calls that produce a value. On failure the zero value
// is returned alongside the last error.
func DoVal[T any](ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	cfg = cfg.withDefaults()

	var zero T
	for attempt := 1; ; attempt++ {
		val, err := fn(ctx)
		if err == nil {
			return val, nil
		}
		if ctx.Err() != nil || !IsTransient(err) || attempt == cfg.MaxAttempts {
			return zero, err
		}

		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err)
		}
		if waitRetry(ctx, cfg.delay(attempt, err)) != nil {
			return zero, err
		}
	}
}

func (cfg RetryConfig) withDefaults() RetryConfig {
	def := DefaultRetryConfig()
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = def.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = def.Multiplier
	}
	if cfg.JitterFraction < 0 {
		cfg.JitterFraction = 0
	}
	return cfg
}

// delay computes the sleep after failed attempt n (1-based). A server
// Retry-After longer than the computed backoff wins; MaxBackoff caps
// both.
func (cfg RetryConfig) delay(attempt int, err error) time.Duration {
	d := float64(cfg.InitialBackoff) * math.Pow(cfg.Multiplier, float64(attempt-1))
	if f := cfg.JitterFraction; f > 0 {
		d *= 1 + f*(2*rand.Float64()-1)
	}
	delay := time.Duration(math.Min(d, float64(cfg.MaxBackoff)))

	if hint := RetryAfterHint(err); hint > delay {
		delay = min(hint, cfg.MaxBackoff)
	}
	return max(delay, 0)
}

func waitRetry(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// RetryLogger returns an OnRetry callback that logs each attempt.
func RetryLogger(service, operation string) func(int, error) {
	return func(attempt int, err error) {
		zap.L().Warn("retrying operation",
			zap.String("service", service),
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
}
