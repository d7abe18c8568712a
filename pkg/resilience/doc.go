// Package resilience wraps every outbound call made by the extractor: CI log
// fetches, auth-token requests and deliveries to the analysis API.
//
// # Retry with Backoff
//
// Attempts = MaxRetries+1. The wait before attempt i (zero-based, i>0) is
// BaseDelay*2^(i-1) when Exponential is set, BaseDelay otherwise. Errors that
// RetryableErrors rejects propagate immediately; once every attempt has failed
// a *RetryExhaustedError carrying the attempt count and last error is returned.
//
//	retrier := resilience.NewRetrier(resilience.RetryConfig{
//		MaxRetries:  3,
//		BaseDelay:   time.Second,
//		Exponential: true,
//	})
//	trace, err := resilience.Do(ctx, retrier, func(ctx context.Context) (string, error) {
//		return client.Trace(ctx, projectID, jobID)
//	})
//
// # Circuit Breaker
//
// The breaker opens after FailureThreshold consecutive failures. While open,
// calls fail fast with *CircuitOpenError until RecoveryTimeout has passed since
// the last failure; then exactly one trial call is admitted (HALF_OPEN). A
// successful trial closes the circuit, a failed one reopens it.
//
//	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
//		Name:             "analysis-api",
//		FailureThreshold: 5,
//		RecoveryTimeout:  time.Minute,
//	})
//
// RetryableOperation nests the breaker inside the retry loop so that an open
// circuit ends the remaining attempts.
package resilience
