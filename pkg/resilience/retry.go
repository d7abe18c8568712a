package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/vigneshpalanivelr/extract-build-logs-sub000/pkg/errors"
	"github.com/vigneshpalanivelr/extract-build-logs-sub000/pkg/logging"
)

// RetryConfig holds configuration for retry logic
type RetryConfig struct {
	// MaxRetries is the number of retries after the first attempt; zero means a single attempt
	MaxRetries int
	// BaseDelay is the delay before the first retry
	BaseDelay time.Duration
	// Exponential doubles the delay before every further retry
	Exponential bool
	// RetryableErrors decides whether an error may be retried; other errors propagate immediately
	RetryableErrors func(error) bool
	// OnRetry is called after a failed attempt, before waiting delay
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultRetryConfig returns a default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      3,
		BaseDelay:       2 * time.Second,
		Exponential:     true,
		RetryableErrors: DefaultRetryableErrors,
	}
}

// DefaultRetryableErrors retries transient network failures only
func DefaultRetryableErrors(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	if IsRetryExhausted(err) || IsCircuitOpen(err) {
		return false
	}

	return apperrors.IsType(err, apperrors.ErrorTypeTransient)
}

// RetryExhaustedError is returned once every attempt has failed with a retryable error
type RetryExhaustedError struct {
	Attempts int
	LastErr  error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("operation failed after %d attempts: %v", e.Attempts, e.LastErr)
}

// Unwrap returns the error of the final attempt
func (e *RetryExhaustedError) Unwrap() error {
	return e.LastErr
}

// ErrorType implements errors.Typed
func (e *RetryExhaustedError) ErrorType() apperrors.ErrorType {
	return apperrors.ErrorTypeRetryExhausted
}

// IsRetryExhausted checks if an error is a retry exhaustion error
func IsRetryExhausted(err error) bool {
	var exhausted *RetryExhaustedError
	return errors.As(err, &exhausted)
}

// Retrier handles retry logic with constant or exponential backoff
type Retrier struct {
	config RetryConfig
	logger *logging.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewRetrier creates a new retrier with the given configuration
func NewRetrier(config RetryConfig) *Retrier {
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.BaseDelay < 0 {
		config.BaseDelay = 0
	}
	if config.RetryableErrors == nil {
		config.RetryableErrors = DefaultRetryableErrors
	}

	return &Retrier{
		config: config,
		logger: logging.GetLogger(),
		sleep:  sleepContext,
	}
}

// Attempts returns the total number of attempts the retrier makes
func (r *Retrier) Attempts() int {
	return r.config.MaxRetries + 1
}

// Delay returns the wait before the attempt with the given zero-based index.
// The first attempt (index 0) never waits.
func (r *Retrier) Delay(index int) time.Duration {
	if index <= 0 {
		return 0
	}
	if !r.config.Exponential {
		return r.config.BaseDelay
	}
	return r.config.BaseDelay * time.Duration(1<<uint(index-1))
}

// Execute executes the given function with retry logic
func (r *Retrier) Execute(ctx context.Context, operation func(context.Context) error) error {
	attempts := r.Attempts()
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err := operation(ctx)
		if err == nil {
			if attempt > 1 {
				r.logger.Info("Operation succeeded after retry",
					"attempt", attempt,
					"total_attempts", attempts,
				)
			}
			return nil
		}

		lastErr = err

		if !r.config.RetryableErrors(err) {
			r.logger.Debug("Error is not retryable, stopping",
				"error", err.Error(),
				"attempt", attempt,
			)
			return err
		}

		if attempt == attempts {
			break
		}

		// attempt is 1-based, so it is also the zero-based index of the next attempt
		delay := r.Delay(attempt)

		r.logger.Debug("Operation failed, retrying",
			"error", err.Error(),
			"attempt", attempt,
			"max_attempts", attempts,
			"delay", delay,
		)

		if r.config.OnRetry != nil {
			r.config.OnRetry(attempt, err, delay)
		}

		if err := r.sleep(ctx, delay); err != nil {
			return err
		}
	}

	r.logger.Error("Operation failed after all retry attempts",
		"error", lastErr.Error(),
		"attempts", attempts,
	)

	return &RetryExhaustedError{Attempts: attempts, LastErr: lastErr}
}

// Do executes an operation returning a value with the retrier's policy
func Do[T any](ctx context.Context, r *Retrier, operation func(context.Context) (T, error)) (T, error) {
	var result T
	err := r.Execute(ctx, func(ctx context.Context) error {
		var err error
		result, err = operation(ctx)
		return err
	})
	return result, err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RetryableOperation wraps an operation with both circuit breaker and retry logic.
// The breaker sits inside the retry loop, so an open circuit stops further attempts.
type RetryableOperation struct {
	circuitBreaker *CircuitBreaker
	retrier        *Retrier
}

// NewRetryableOperation combines an existing breaker with a retry policy
func NewRetryableOperation(cb *CircuitBreaker, retryConfig RetryConfig) *RetryableOperation {
	return &RetryableOperation{
		circuitBreaker: cb,
		retrier:        NewRetrier(retryConfig),
	}
}

// Execute executes an operation with both circuit breaker and retry logic
func (ro *RetryableOperation) Execute(ctx context.Context, operation func(context.Context) error) error {
	return ro.retrier.Execute(ctx, func(ctx context.Context) error {
		if ro.circuitBreaker == nil {
			return operation(ctx)
		}
		return ro.circuitBreaker.Execute(ctx, operation)
	})
}

// Breaker returns the wrapped circuit breaker
func (ro *RetryableOperation) Breaker() *CircuitBreaker {
	return ro.circuitBreaker
}
