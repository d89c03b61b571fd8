// Package backoff provides exponential backoff utilities with jitter for retry logic.
package backoff

import (
	"math"
	"math/rand"
	"time"
)

// BackoffPolicy parameterizes the exponential-with-jitter curve that
// ComputeBackoff walks. Attempt numbers it is evaluated against start at 1.
type BackoffPolicy struct {
	InitialMs float64
	MaxMs     float64
	Factor    float64
	Jitter    float64
}

// ComputeBackoff calculates the backoff duration for a given attempt number.
func ComputeBackoff(policy BackoffPolicy, attempt int) time.Duration {
	return ComputeBackoffWithRand(policy, attempt, rand.Float64()) // #nosec G404 -- jitter does not require cryptographic randomness
}

// ComputeBackoffWithRand is ComputeBackoff with the random draw supplied by
// the caller, so callers can pin randomValue and get a deterministic result.
// randomValue is expected in [0.0, 1.0).
func ComputeBackoffWithRand(policy BackoffPolicy, attempt int, randomValue float64) time.Duration {
	exp := math.Max(float64(attempt-1), 0)
	base := policy.InitialMs * math.Pow(policy.Factor, exp)
	withJitter := base + base*policy.Jitter*randomValue
	capped := math.Min(policy.MaxMs, withJitter)
	return time.Duration(math.Round(capped)) * time.Millisecond
}

// namedPolicies backs DefaultPolicy/AggressivePolicy/ConservativePolicy with
// one table instead of three near-identical constructor bodies.
var namedPolicies = map[string]BackoffPolicy{
	"default":      {InitialMs: 100, MaxMs: 30000, Factor: 2, Jitter: 0.1},
	"aggressive":   {InitialMs: 50, MaxMs: 5000, Factor: 1.5, Jitter: 0.05},
	"conservative": {InitialMs: 500, MaxMs: 60000, Factor: 2.5, Jitter: 0.2},
}

// DefaultPolicy returns a sensible default backoff policy: 100ms initial,
// 30s max, factor 2, 10% jitter.
func DefaultPolicy() BackoffPolicy {
	return namedPolicies["default"]
}

// AggressivePolicy returns a policy for quick retries with shorter delays:
// 50ms initial, 5s max, factor 1.5, 5% jitter.
func AggressivePolicy() BackoffPolicy {
	return namedPolicies["aggressive"]
}

// ConservativePolicy returns a policy for slow retries with longer delays:
// 500ms initial, 60s max, factor 2.5, 20% jitter.
func ConservativePolicy() BackoffPolicy {
	return namedPolicies["conservative"]
}
