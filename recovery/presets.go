package recovery

// Presets are fixed strategy-list configurations layered on the generic
// chain contract. Callers take a preset, fill in collaborators (registries,
// cache, retrier), and hand the result to New.

// DatabaseRecovery favors persistence-shaped failures: retries hard, shields
// the store behind a breaker, and never drops work on the floor.
func DatabaseRecovery() Config {
	return Config{
		Strategies: []StrategyKind{
			KindImmediateRetry,
			KindExponentialBackoff,
			KindCircuitBreaker,
			KindDeadLetter,
		},
		MaxRecoveryAttempts: 5,
	}
}

// APIRecovery favors upstream-call failures: bounded retries, a breaker, and
// cached or static answers over waiting on a struggling upstream.
func APIRecovery() Config {
	return Config{
		Strategies: []StrategyKind{
			KindImmediateRetry,
			KindExponentialBackoff,
			KindCircuitBreaker,
			KindCacheFallback,
			KindFallbackValue,
		},
		MaxRecoveryAttempts: 4,
	}
}

// CriticalRecovery pulls every lever before giving up: retries, breaker,
// cached and static fallbacks, degradation, and a dead-letter record of
// whatever still failed.
func CriticalRecovery() Config {
	return Config{
		Strategies: []StrategyKind{
			KindImmediateRetry,
			KindExponentialBackoff,
			KindCircuitBreaker,
			KindCacheFallback,
			KindFallbackValue,
			KindGracefulDegradation,
			KindDeadLetter,
		},
		MaxRecoveryAttempts: 6,
	}
}

// BackgroundRecovery suits work nobody is waiting on: lean on backoff, then
// park the failure for the queue's own retry loop.
func BackgroundRecovery() Config {
	return Config{
		Strategies: []StrategyKind{
			KindExponentialBackoff,
			KindDeadLetter,
		},
		MaxRecoveryAttempts: 3,
	}
}
