package resilience

import "time"

// pickPositive returns v when it is positive, otherwise def.
func pickPositive[T int | float64 | time.Duration](v, def T) T {
	if v > 0 {
		return v
	}
	return def
}

// FromRetryConfig builds a RetryConfig from the flat values carried by the
// application config. Zero or negative fields keep the defaults, except
// jitter where an explicit zero disables it.
func FromRetryConfig(maxAttempts, initialBackoffMs, maxBackoffMs int, multiplier, jitterFraction float64) RetryConfig {
	def := DefaultRetryConfig()
	cfg := RetryConfig{
		MaxAttempts:    pickPositive(maxAttempts, def.MaxAttempts),
		InitialBackoff: pickPositive(time.Duration(initialBackoffMs)*time.Millisecond, def.InitialBackoff),
		MaxBackoff:     pickPositive(time.Duration(maxBackoffMs)*time.Millisecond, def.MaxBackoff),
		Multiplier:     pickPositive(multiplier, def.Multiplier),
		JitterFraction: jitterFraction,
	}
	if jitterFraction < 0 {
		cfg.JitterFraction = def.JitterFraction
	}
	return cfg
}

// FromCircuitConfig builds a CircuitBreakerConfig from the flat values
// carried by the application config. Zero or negative fields keep the
// defaults.
func FromCircuitConfig(failureThreshold, resetTimeoutSecs int) CircuitBreakerConfig {
	def := DefaultCircuitBreakerConfig()
	def.FailureThreshold = pickPositive(failureThreshold, def.FailureThreshold)
	def.ResetTimeout = pickPositive(time.Duration(resetTimeoutSecs)*time.Second, def.ResetTimeout)
	return def
}
