package biz

import (
	"sync"
	"time"

	"github.com/DeifMohamed2/PartsForm-sub004/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
)

// CircuitState represents the availability state of a guarded dependency.
type CircuitState int

const (
	// StateClosed means the dependency is healthy and calls flow normally.
	StateClosed CircuitState = iota
	// StateOpen means the dependency is considered down and calls are rejected.
	StateOpen
	// StateHalfOpen means a limited number of trial calls are allowed through
	// to test recovery.
	StateHalfOpen
)

// String returns the lowercase state name used in logs and status payloads.
func (s CircuitState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// CircuitStatus is a read-only snapshot of a breaker's internal state.
type CircuitStatus struct {
	Name          string     `json:"name"`
	State         string     `json:"state"`
	Failures      int        `json:"failures"`
	LastFailureAt *time.Time `json:"last_failure_at,omitempty"`
	LastSuccessAt *time.Time `json:"last_success_at,omitempty"`
}

// StateChangeFunc is invoked on every breaker state transition. It runs while
// the breaker mutex is held, so implementations must not call back into the
// breaker.
type StateChangeFunc func(name string, from, to CircuitState, failures int)

// CircuitBreaker is a per-dependency failure state machine. It fails fast on a
// known-bad dependency to prevent retry storms and memory buildup from queued
// failed calls.
//
// IsAvailable is both a query and a transition: an open breaker whose reset
// timeout has elapsed moves to half-open as a side effect. Callers must treat
// it as the single gate before attempting the guarded operation.
type CircuitBreaker struct {
	name              string
	failureThreshold  int
	resetTimeout      time.Duration
	halfOpenSuccesses int

	mu                     sync.Mutex
	state                  CircuitState
	failures               int
	lastFailureAt          time.Time
	lastSuccessAt          time.Time
	successesSinceHalfOpen int

	onStateChange StateChangeFunc
	now           func() time.Time
	logger        *log.Helper
}

// NewCircuitBreaker creates a circuit breaker named after the dependency it
// guards. The zero values of cfg are replaced with safe defaults.
func NewCircuitBreaker(name string, cfg *conf.Breaker, logger log.Logger) *CircuitBreaker {
	threshold := 5
	reset := 30 * time.Second
	successes := 3
	if cfg != nil {
		if cfg.FailureThreshold > 0 {
			threshold = cfg.FailureThreshold
		}
		if cfg.ResetTimeout > 0 {
			reset = cfg.ResetTimeout
		}
		if cfg.HalfOpenSuccesses > 0 {
			successes = cfg.HalfOpenSuccesses
		}
	}

	return &CircuitBreaker{
		name:              name,
		failureThreshold:  threshold,
		resetTimeout:      reset,
		halfOpenSuccesses: successes,
		state:             StateClosed,
		now:               time.Now,
		logger:            log.NewHelper(logger),
	}
}

// OnStateChange registers a transition hook. Must be called before the breaker
// is shared between goroutines.
func (b *CircuitBreaker) OnStateChange(fn StateChangeFunc) {
	b.onStateChange = fn
}

// IsAvailable reports whether a call to the guarded dependency may proceed.
// When the breaker is open and the reset timeout has elapsed, it transitions
// to half-open and allows the call as a trial.
func (b *CircuitBreaker) IsAvailable() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed, StateHalfOpen:
		return true
	case StateOpen:
		if b.now().Sub(b.lastFailureAt) >= b.resetTimeout {
			b.transition(StateHalfOpen)
			b.successesSinceHalfOpen = 0
			b.logger.Infow(
				"msg", "circuit breaker allowing trial calls",
				"breaker", b.name,
				"failures", b.failures,
			)
			return true
		}
		return false
	}
	return false
}

// RecordSuccess records a successful call against the guarded dependency.
// In half-open state, halfOpenSuccesses consecutive successes close the
// breaker; a fixed single probe would risk flapping on one lucky call.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastSuccessAt = b.now()

	switch b.state {
	case StateHalfOpen:
		b.successesSinceHalfOpen++
		if b.successesSinceHalfOpen >= b.halfOpenSuccesses {
			b.failures = 0
			b.transition(StateClosed)
			b.logger.Infow(
				"msg", "circuit breaker closed after successful trials",
				"breaker", b.name,
				"trials", b.successesSinceHalfOpen,
			)
		}
	case StateClosed:
		b.failures = 0
	}
}

// RecordFailure records a failed call against the guarded dependency. A
// failure in half-open state immediately reopens the breaker.
func (b *CircuitBreaker) RecordFailure(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailureAt = b.now()

	switch b.state {
	case StateHalfOpen:
		b.transition(StateOpen)
		b.logger.Warnw(
			"msg", "circuit breaker reopened after failed trial",
			"breaker", b.name,
			"failures", b.failures,
			"error", errString(err),
		)
	case StateClosed:
		if b.failures >= b.failureThreshold {
			b.transition(StateOpen)
			b.logger.Warnw(
				"msg", "circuit breaker opened",
				"breaker", b.name,
				"failures", b.failures,
				"threshold", b.failureThreshold,
				"error", errString(err),
			)
		}
	}
}

// Status returns a snapshot of the breaker state for diagnostics.
func (b *CircuitBreaker) Status() CircuitStatus {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := CircuitStatus{
		Name:     b.name,
		State:    b.state.String(),
		Failures: b.failures,
	}
	if !b.lastFailureAt.IsZero() {
		t := b.lastFailureAt
		st.LastFailureAt = &t
	}
	if !b.lastSuccessAt.IsZero() {
		t := b.lastSuccessAt
		st.LastSuccessAt = &t
	}
	return st
}

// Reset forces the breaker back to closed with zeroed failure counters.
func (b *CircuitBreaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.successesSinceHalfOpen = 0
	if b.state != StateClosed {
		b.transition(StateClosed)
	}
	b.logger.Infow("msg", "circuit breaker reset", "breaker", b.name)
}

// transition changes state and fires the hook. Caller must hold b.mu.
func (b *CircuitBreaker) transition(to CircuitState) {
	from := b.state
	b.state = to
	if b.onStateChange != nil && from != to {
		b.onStateChange(b.name, from, to, b.failures)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
