package agent

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/bashmyhed/agentcore/internal/infra"
)

// FailoverConfig configures the failover orchestrator.
type FailoverConfig struct {
	// MaxRetries is the maximum number of retry attempts per provider, on
	// top of the initial attempt (§4.6: 5 attempts total, so 4 retries).
	MaxRetries int

	// RetryBackoff is the initial backoff between retries (§4.6: 250ms).
	RetryBackoff time.Duration

	// MaxRetryBackoff is the maximum backoff duration (§4.6: 5s).
	MaxRetryBackoff time.Duration

	// RetryJitter is the fractional jitter applied to each backoff
	// (§4.6: ±20%, so 0.2 here).
	RetryJitter float64

	// FailoverOnRateLimit enables failover on rate limit errors
	FailoverOnRateLimit bool

	// FailoverOnServerError enables failover on server errors
	FailoverOnServerError bool

	// CircuitBreakerThreshold is the number of consecutive failures before
	// a provider's circuit opens (§4.6: 5).
	CircuitBreakerThreshold int

	// CircuitBreakerTimeout is how long a provider's circuit stays open
	// before a single half-open trial is allowed through (§4.6, §5: 30s).
	CircuitBreakerTimeout time.Duration
}

// DefaultFailoverConfig returns sensible defaults for failover, matching
// §4.6's retry policy: exponential backoff from 250ms, factor 2, capped at
// 5s, ±20% jitter, up to 5 attempts per provider.
func DefaultFailoverConfig() *FailoverConfig {
	return &FailoverConfig{
		MaxRetries:              4,
		RetryBackoff:            250 * time.Millisecond,
		MaxRetryBackoff:         5 * time.Second,
		RetryJitter:             0.2,
		FailoverOnRateLimit:     true,
		FailoverOnServerError:   true,
		CircuitBreakerThreshold: 5,
		CircuitBreakerTimeout:   30 * time.Second,
	}
}

// FailoverOrchestrator composes one or more LLMProviders behind a single
// LLMProvider facade: it tries them in priority order, skipping any whose
// circuit breaker is currently open, and retries a transient failure on the
// current provider before falling over to the next one.
//
// Each provider gets its own infra.CircuitBreaker rather than a shared one,
// since providers fail independently (a rate limit on Anthropic says
// nothing about OpenAI's health).
type FailoverOrchestrator struct {
	providers []LLMProvider
	config    *FailoverConfig
	breakers  *infra.CircuitBreakerRegistry
	mu        sync.RWMutex
	metrics   *FailoverMetrics
}

// FailoverMetrics tracks failover statistics.
type FailoverMetrics struct {
	mu               sync.Mutex
	TotalRequests    int64
	TotalFailovers   int64
	TotalRetries     int64
	ProviderFailures map[string]int64
	CircuitBreaks    int64
}

// NewFailoverOrchestrator creates a new failover orchestrator with primary
// as the first (highest priority) provider. Additional providers can be
// appended with AddProvider to form the fallback chain §4.6 describes.
func NewFailoverOrchestrator(primary LLMProvider, config *FailoverConfig) *FailoverOrchestrator {
	if config == nil {
		config = DefaultFailoverConfig()
	}

	return &FailoverOrchestrator{
		providers: []LLMProvider{primary},
		config:    config,
		breakers: infra.NewCircuitBreakerRegistry(infra.CircuitBreakerConfig{
			FailureThreshold: config.CircuitBreakerThreshold,
			SuccessThreshold: 1, // one half-open trial closes the circuit again
			Timeout:          config.CircuitBreakerTimeout,
		}),
		metrics: &FailoverMetrics{
			ProviderFailures: make(map[string]int64),
		},
	}
}

// AddProvider adds a fallback provider, tried only after every
// higher-priority provider's circuit is open or its attempt fails.
func (o *FailoverOrchestrator) AddProvider(p LLMProvider) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.providers = append(o.providers, p)
}

// Complete implements LLMProvider with failover support.
func (o *FailoverOrchestrator) Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
	o.metrics.mu.Lock()
	o.metrics.TotalRequests++
	o.metrics.mu.Unlock()

	o.mu.RLock()
	providersCopy := make([]LLMProvider, len(o.providers))
	copy(providersCopy, o.providers)
	o.mu.RUnlock()

	var lastErr error

	for i, provider := range providersCopy {
		breaker := o.breakers.Get(provider.Name())

		// A provider whose circuit is open gets zero HTTP attempts: the
		// breaker itself rejects the call with ErrCircuitOpen before
		// tryProvider ever reaches the network.
		ch, err := infra.ExecuteWithResult(breaker, ctx, func(ctx context.Context) (<-chan *CompletionChunk, error) {
			return o.tryProvider(ctx, provider, req)
		})
		if err == nil {
			return ch, nil
		}

		lastErr = err
		if err != infra.ErrCircuitOpen {
			o.recordFailure(provider.Name(), err)
		}

		if err == infra.ErrCircuitOpen {
			continue
		}

		// Check if we should failover
		if !o.shouldFailover(err) {
			// Non-retriable error, don't try other providers
			return nil, err
		}

		// Record failover
		if i < len(providersCopy)-1 {
			o.metrics.mu.Lock()
			o.metrics.TotalFailovers++
			o.metrics.mu.Unlock()
		}
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no available providers")
	}

	return nil, lastErr
}

// tryProvider attempts to complete with retries against a single provider.
// Each retry is an attempt against the same provider, not a separate
// circuit-breaker-counted failure; only the outcome of the whole call
// (all retries exhausted, or success) is recorded against its breaker.
func (o *FailoverOrchestrator) tryProvider(ctx context.Context, provider LLMProvider, req *CompletionRequest) (<-chan *CompletionChunk, error) {
	var lastErr error
	backoff := o.config.RetryBackoff

	for attempt := 0; attempt <= o.config.MaxRetries; attempt++ {
		ch, err := provider.Complete(ctx, req)
		if err == nil {
			return ch, nil
		}

		lastErr = err

		// Check if retryable
		if !isProviderRetryable(err) {
			return nil, err
		}

		// Check context
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		// Don't retry on last attempt
		if attempt >= o.config.MaxRetries {
			break
		}

		o.metrics.mu.Lock()
		o.metrics.TotalRetries++
		o.metrics.mu.Unlock()

		// Exponential backoff with jitter, so many goroutines backing off at
		// once don't all retry in lockstep.
		select {
		case <-time.After(jitteredDuration(backoff, o.config.RetryJitter)):
			backoff *= 2
			if backoff > o.config.MaxRetryBackoff {
				backoff = o.config.MaxRetryBackoff
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return nil, lastErr
}

// jitteredDuration returns d scaled by a uniform random factor in
// [1-frac, 1+frac]. frac <= 0 returns d unchanged.
func jitteredDuration(d time.Duration, frac float64) time.Duration {
	if frac <= 0 || d <= 0 {
		return d
	}
	delta := (rand.Float64()*2 - 1) * frac
	return time.Duration(float64(d) * (1 + delta))
}

// shouldFailover determines if an error warrants trying another provider.
func (o *FailoverOrchestrator) shouldFailover(err error) bool {
	if shouldProviderFailover(err) {
		return true
	}

	// Check configured failover conditions
	reason := classifyProviderError(err)

	if o.config.FailoverOnRateLimit && reason == "rate_limit" {
		return true
	}

	if o.config.FailoverOnServerError && reason == "server_error" {
		return true
	}

	return false
}

// isProviderRetryable checks if an error is worth retrying.
func isProviderRetryable(err error) bool {
	reason := classifyProviderError(err)
	switch reason {
	case "rate_limit", "timeout", "server_error":
		return true
	default:
		return false
	}
}

// shouldProviderFailover checks if an error warrants trying a different provider.
func shouldProviderFailover(err error) bool {
	reason := classifyProviderError(err)
	switch reason {
	case "billing", "auth", "model_unavailable":
		return true
	default:
		return false
	}
}

// classifyProviderError determines the error type from the error content.
func classifyProviderError(err error) string {
	if err == nil {
		return "unknown"
	}

	errStr := strings.ToLower(err.Error())

	// Check for timeout patterns
	if strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded") ||
		strings.Contains(errStr, "context deadline") {
		return "timeout"
	}

	// Check for rate limit patterns
	if strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "rate_limit") ||
		strings.Contains(errStr, "too many requests") ||
		strings.Contains(errStr, "429") {
		return "rate_limit"
	}

	// Check for authentication patterns
	if strings.Contains(errStr, "unauthorized") ||
		strings.Contains(errStr, "invalid api key") ||
		strings.Contains(errStr, "authentication") ||
		strings.Contains(errStr, "401") ||
		strings.Contains(errStr, "403") {
		return "auth"
	}

	// Check for billing patterns
	if strings.Contains(errStr, "billing") ||
		strings.Contains(errStr, "payment") ||
		strings.Contains(errStr, "quota") ||
		strings.Contains(errStr, "402") {
		return "billing"
	}

	// Check for model availability patterns
	if strings.Contains(errStr, "model not found") ||
		strings.Contains(errStr, "does not exist") ||
		strings.Contains(errStr, "unavailable") {
		return "model_unavailable"
	}

	// Check for server error patterns
	if strings.Contains(errStr, "internal server") ||
		strings.Contains(errStr, "server error") ||
		strings.Contains(errStr, "500") ||
		strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "504") {
		return "server_error"
	}

	// Check for invalid request patterns
	if strings.Contains(errStr, "invalid") ||
		strings.Contains(errStr, "bad request") ||
		strings.Contains(errStr, "400") {
		return "invalid_request"
	}

	return "unknown"
}

// recordFailure records a failed request against the orchestrator's own
// failure-count metrics. The circuit breaker's open/closed state is owned
// entirely by o.breakers; this only feeds FailoverMetrics.ProviderFailures.
func (o *FailoverOrchestrator) recordFailure(name string, err error) {
	o.metrics.mu.Lock()
	defer o.metrics.mu.Unlock()
	o.metrics.ProviderFailures[name]++
	if o.breakers.Get(name).State() == infra.CircuitOpen {
		o.metrics.CircuitBreaks++
	}
}

// Name implements LLMProvider.
func (o *FailoverOrchestrator) Name() string {
	o.mu.RLock()
	defer o.mu.RUnlock()

	if len(o.providers) == 0 {
		return "failover"
	}
	return "failover:" + o.providers[0].Name()
}

// PrimaryProviderName returns the bare name of the highest-priority provider,
// without the "failover:" composite prefix Name() adds. Call sites that key
// behavior off a provider's literal name (cache-TTL eligibility, API key
// resolution) use this through providerKeyName so wrapping a provider in an
// orchestrator doesn't change which provider they think they're talking to.
func (o *FailoverOrchestrator) PrimaryProviderName() string {
	o.mu.RLock()
	defer o.mu.RUnlock()

	if len(o.providers) == 0 {
		return ""
	}
	return o.providers[0].Name()
}

// Models implements LLMProvider.
func (o *FailoverOrchestrator) Models() []Model {
	o.mu.RLock()
	defer o.mu.RUnlock()

	var all []Model
	seen := make(map[string]bool)

	for _, p := range o.providers {
		for _, m := range p.Models() {
			if !seen[m.ID] {
				seen[m.ID] = true
				all = append(all, m)
			}
		}
	}

	return all
}

// SupportsTools implements LLMProvider.
func (o *FailoverOrchestrator) SupportsTools() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()

	for _, p := range o.providers {
		if p.SupportsTools() {
			return true
		}
	}
	return false
}

// Metrics returns a snapshot of failover metrics.
func (o *FailoverOrchestrator) Metrics() FailoverMetrics {
	o.metrics.mu.Lock()
	defer o.metrics.mu.Unlock()

	// Copy the map
	failures := make(map[string]int64)
	for k, v := range o.metrics.ProviderFailures {
		failures[k] = v
	}

	return FailoverMetrics{
		TotalRequests:    o.metrics.TotalRequests,
		TotalFailovers:   o.metrics.TotalFailovers,
		TotalRetries:     o.metrics.TotalRetries,
		ProviderFailures: failures,
		CircuitBreaks:    o.metrics.CircuitBreaks,
	}
}

// ProviderStates returns the circuit breaker stats for every provider this
// orchestrator has attempted at least once.
func (o *FailoverOrchestrator) ProviderStates() []infra.CircuitBreakerStats {
	return o.breakers.Stats()
}

// ResetCircuitBreaker resets the circuit breaker for a provider.
func (o *FailoverOrchestrator) ResetCircuitBreaker(name string) {
	o.breakers.Get(name).Reset()
}

// ResetAllCircuitBreakers resets all circuit breakers.
func (o *FailoverOrchestrator) ResetAllCircuitBreakers() {
	o.breakers.ResetAll()
}

var _ LLMProvider = (*FailoverOrchestrator)(nil)
