package resilience

import "time"

// FromRetryConfig builds a retry schedule from raw config knobs. Knobs at
// or below zero keep the default schedule, so a sparse retry section tunes
// only what it names. Jitter is the exception: zero is a valid setting and
// only a negative value falls back.
func FromRetryConfig(maxAttempts, initialBackoffMS, maxBackoffMS int, multiplier, jitterFraction float64) RetryConfig {
	cfg := DefaultRetryConfig()
	cfg.MaxAttempts = positiveInt(maxAttempts, cfg.MaxAttempts)
	cfg.InitialBackoff = positiveMS(initialBackoffMS, cfg.InitialBackoff)
	cfg.MaxBackoff = positiveMS(maxBackoffMS, cfg.MaxBackoff)
	if multiplier > 0 {
		cfg.Multiplier = multiplier
	}
	if jitterFraction >= 0 {
		cfg.JitterFraction = jitterFraction
	}
	return cfg
}

// FromCircuitConfig builds breaker tuning from raw config knobs with the
// same fallback rule.
func FromCircuitConfig(failureThreshold, resetTimeoutSecs int) CircuitBreakerConfig {
	cfg := DefaultCircuitBreakerConfig()
	cfg.FailureThreshold = positiveInt(failureThreshold, cfg.FailureThreshold)
	if resetTimeoutSecs > 0 {
		cfg.ResetTimeout = time.Duration(resetTimeoutSecs) * time.Second
	}
	return cfg
}

func positiveInt(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

func positiveMS(ms int, fallback time.Duration) time.Duration {
	if ms > 0 {
		return time.Duration(ms) * time.Millisecond
	}
	return fallback
}
