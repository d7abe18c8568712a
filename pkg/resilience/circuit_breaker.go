package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	apperrors "github.com/vigneshpalanivelr/extract-build-logs-sub000/pkg/errors"
	"github.com/vigneshpalanivelr/extract-build-logs-sub000/pkg/logging"
)

// CircuitState represents the state of the circuit breaker
type CircuitState int

const (
	// StateClosed - circuit is closed, requests are allowed
	StateClosed CircuitState = iota
	// StateOpen - circuit is open, requests are rejected
	StateOpen
	// StateHalfOpen - circuit is half-open, a single trial request is allowed
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// CircuitBreakerConfig holds configuration for the circuit breaker
type CircuitBreakerConfig struct {
	// Name of the circuit breaker for logging/metrics
	Name string
	// FailureThreshold is the number of consecutive failures that opens the circuit
	FailureThreshold int
	// RecoveryTimeout is how long the circuit stays open before a trial call is let through
	RecoveryTimeout time.Duration
	// IsFailure decides whether an error counts against the breaker. Defaults to any non-nil error.
	IsFailure func(error) bool
	// OnStateChange is called whenever the state of the circuit breaker changes
	OnStateChange func(name string, from CircuitState, to CircuitState)
}

// Snapshot is a point-in-time copy of the breaker state
type Snapshot struct {
	Name                string    `json:"name"`
	State               string    `json:"state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastFailureTime     time.Time `json:"last_failure_time,omitempty"`
}

// CircuitBreaker stops calling a consistently failing dependency until a cool-down passes.
// One instance is shared by every caller of the same remote dependency.
type CircuitBreaker struct {
	name            string
	threshold       int
	recoveryTimeout time.Duration
	isFailure       func(error) bool
	onStateChange   func(name string, from CircuitState, to CircuitState)

	mutex            sync.Mutex
	state            CircuitState
	failures         int
	lastFailureTime  time.Time
	halfOpenInFlight bool

	now    func() time.Time
	logger *logging.Logger
}

// NewCircuitBreaker creates a new circuit breaker with the given configuration
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.IsFailure == nil {
		config.IsFailure = func(err error) bool { return err != nil }
	}

	return &CircuitBreaker{
		name:            config.Name,
		threshold:       config.FailureThreshold,
		recoveryTimeout: config.RecoveryTimeout,
		isFailure:       config.IsFailure,
		onStateChange:   config.OnStateChange,
		state:           StateClosed,
		now:             time.Now,
		logger:          logging.GetLogger(),
	}
}

// Execute runs the given request if the circuit breaker accepts it
func (cb *CircuitBreaker) Execute(ctx context.Context, req func(context.Context) error) error {
	if err := cb.beforeRequest(); err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			cb.afterRequest(false)
			panic(r)
		}
	}()

	err := req(ctx)
	cb.afterRequest(!cb.isFailure(err))
	return err
}

// Call runs a value-returning request through the breaker
func Call[T any](ctx context.Context, cb *CircuitBreaker, req func(context.Context) (T, error)) (T, error) {
	var result T
	err := cb.Execute(ctx, func(ctx context.Context) error {
		var err error
		result, err = req(ctx)
		return err
	})
	return result, err
}

// State returns the current state of the circuit breaker
func (cb *CircuitBreaker) State() CircuitState {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.state
}

// ConsecutiveFailures returns the current consecutive failure count
func (cb *CircuitBreaker) ConsecutiveFailures() int {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.failures
}

// Snapshot returns a copy of the breaker state
func (cb *CircuitBreaker) Snapshot() Snapshot {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	return Snapshot{
		Name:                cb.name,
		State:               cb.state.String(),
		ConsecutiveFailures: cb.failures,
		LastFailureTime:     cb.lastFailureTime,
	}
}

// Name returns the name of the circuit breaker
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

func (cb *CircuitBreaker) beforeRequest() error {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.lastFailureTime) < cb.recoveryTimeout {
			return &CircuitOpenError{Name: cb.name, State: StateOpen}
		}
		cb.setState(StateHalfOpen)
		cb.halfOpenInFlight = true
	case StateHalfOpen:
		if cb.halfOpenInFlight {
			return &CircuitOpenError{Name: cb.name, State: StateHalfOpen}
		}
		cb.halfOpenInFlight = true
	}

	return nil
}

func (cb *CircuitBreaker) afterRequest(success bool) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	switch cb.state {
	case StateClosed:
		if success {
			cb.failures = 0
			return
		}
		cb.failures++
		cb.lastFailureTime = cb.now()
		if cb.failures >= cb.threshold {
			cb.setState(StateOpen)
		}
	case StateHalfOpen:
		cb.halfOpenInFlight = false
		if success {
			cb.failures = 0
			cb.setState(StateClosed)
			return
		}
		cb.failures++
		cb.lastFailureTime = cb.now()
		cb.setState(StateOpen)
	case StateOpen:
		// results of calls admitted before the circuit opened do not move it
	}
}

func (cb *CircuitBreaker) setState(state CircuitState) {
	if cb.state == state {
		return
	}

	prev := cb.state
	cb.state = state

	if cb.onStateChange != nil {
		cb.onStateChange(cb.name, prev, state)
	}

	cb.logger.Info("Circuit breaker state changed",
		"name", cb.name,
		"from", prev.String(),
		"to", state.String(),
		"consecutive_failures", cb.failures,
	)
}

// CircuitOpenError is returned without invoking the wrapped call while the circuit is open
type CircuitOpenError struct {
	Name  string
	State CircuitState
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit breaker '%s' is %s", e.Name, e.State.String())
}

// ErrorType implements errors.Typed
func (e *CircuitOpenError) ErrorType() apperrors.ErrorType {
	return apperrors.ErrorTypeCircuitOpen
}

// IsCircuitOpen checks if an error is a circuit breaker rejection
func IsCircuitOpen(err error) bool {
	var cbErr *CircuitOpenError
	return errors.As(err, &cbErr)
}
