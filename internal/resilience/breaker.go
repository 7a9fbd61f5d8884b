// Package resilience provides the admission-control and fault-tolerance
// building blocks for origin calls: circuit breaking, priority queueing,
// backpressure, retry with tier fallback, and per-source fault isolation.
package resilience

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/lanewhitten/stratacache/internal/config"
)

// State is the circuit breaker state.
type State int32

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

type outcome struct {
	at      time.Time
	failure bool
}

// CircuitBreaker guards calls to a single dependency using a rolling
// error-rate window. The breaker trips open when the error rate over the
// window reaches the threshold (given a minimum sample count), stays open
// for the cooldown, then admits exactly one trial call in half-open state.
type CircuitBreaker struct {
	threshold  float64
	window     time.Duration
	cooldown   time.Duration
	minSamples int
	clock      clockwork.Clock

	state atomic.Int32

	mu            sync.Mutex
	outcomes      []outcome
	openedAt      time.Time
	trialInFlight bool

	onStateChange func(from, to State)
}

// stateTransition allows callbacks to be invoked outside the mutex.
type stateTransition struct {
	from     State
	to       State
	callback func(from, to State)
}

func (t *stateTransition) invoke() {
	if t != nil && t.callback != nil {
		t.callback(t.from, t.to)
	}
}

// NewCircuitBreaker creates a circuit breaker from configuration.
func NewCircuitBreaker(cfg config.CircuitBreakerConfig, clock clockwork.Clock) *CircuitBreaker {
	cb := &CircuitBreaker{
		threshold:  cfg.Threshold,
		window:     cfg.Window,
		cooldown:   cfg.Cooldown,
		minSamples: cfg.MinSamples,
		clock:      clock,
	}

	if cb.threshold <= 0 || cb.threshold > 1 {
		cb.threshold = 0.5
	}
	if cb.window <= 0 {
		cb.window = 60 * time.Second
	}
	if cb.cooldown <= 0 {
		cb.cooldown = 30 * time.Second
	}
	if cb.minSamples <= 0 {
		cb.minSamples = 5
	}
	if cb.clock == nil {
		cb.clock = clockwork.NewRealClock()
	}

	cb.state.Store(int32(StateClosed))
	return cb
}

// Allow checks if a call should be admitted. In half-open state only one
// trial call is admitted; everyone else is rejected until it completes.
func (cb *CircuitBreaker) Allow() bool {
	if State(cb.state.Load()) == StateClosed {
		return true
	}

	var transition *stateTransition
	var allowed bool

	cb.mu.Lock()
	// Re-read under the lock: a racing caller may already have taken the
	// open -> half-open transition and the trial slot.
	switch State(cb.state.Load()) {
	case StateClosed:
		allowed = true

	case StateOpen:
		if cb.clock.Now().Sub(cb.openedAt) >= cb.cooldown {
			transition = cb.transitionTo(StateHalfOpen)
			cb.trialInFlight = true
			allowed = true
		}

	case StateHalfOpen:
		if !cb.trialInFlight {
			cb.trialInFlight = true
			allowed = true
		}
	}
	cb.mu.Unlock()

	transition.invoke()
	return allowed
}

// CancelTrial releases the half-open trial slot when an admitted trial call
// never ran, without recording an outcome or changing state. The gate calls
// it when queue admission fails after Allow has granted the trial.
func (cb *CircuitBreaker) CancelTrial() {
	cb.mu.Lock()
	if State(cb.state.Load()) == StateHalfOpen {
		cb.trialInFlight = false
	}
	cb.mu.Unlock()
}

// RecordSuccess records a successful call outcome.
func (cb *CircuitBreaker) RecordSuccess() {
	var transition *stateTransition

	cb.mu.Lock()
	switch State(cb.state.Load()) {
	case StateClosed:
		cb.record(false)

	case StateHalfOpen:
		cb.trialInFlight = false
		transition = cb.transitionTo(StateClosed)
	}
	cb.mu.Unlock()

	transition.invoke()
}

// RecordFailure records a failed call outcome. In closed state the rolling
// error rate is re-evaluated; in half-open a failed trial reopens the
// breaker for another full cooldown.
func (cb *CircuitBreaker) RecordFailure() {
	var transition *stateTransition

	cb.mu.Lock()
	switch State(cb.state.Load()) {
	case StateClosed:
		cb.record(true)
		if cb.shouldTrip() {
			transition = cb.transitionTo(StateOpen)
		}

	case StateHalfOpen:
		cb.trialInFlight = false
		transition = cb.transitionTo(StateOpen)
	}
	cb.mu.Unlock()

	transition.invoke()
}

// record appends an outcome and prunes entries outside the window.
// Must be called while holding the mutex.
func (cb *CircuitBreaker) record(failure bool) {
	now := cb.clock.Now()
	cb.outcomes = append(cb.outcomes, outcome{at: now, failure: failure})
	cb.prune(now)
}

func (cb *CircuitBreaker) prune(now time.Time) {
	cutoff := now.Add(-cb.window)
	i := 0
	for i < len(cb.outcomes) && cb.outcomes[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		cb.outcomes = cb.outcomes[i:]
	}
}

// shouldTrip reports whether the rolling error rate has reached the trip
// threshold. Must be called while holding the mutex.
func (cb *CircuitBreaker) shouldTrip() bool {
	if len(cb.outcomes) < cb.minSamples {
		return false
	}
	failures := 0
	for _, o := range cb.outcomes {
		if o.failure {
			failures++
		}
	}
	return float64(failures)/float64(len(cb.outcomes)) >= cb.threshold
}

// transitionTo changes state. Must be called while holding the mutex; the
// caller MUST invoke the returned transition after releasing it.
func (cb *CircuitBreaker) transitionTo(newState State) *stateTransition {
	oldState := State(cb.state.Load())
	if oldState == newState {
		return nil
	}

	switch newState {
	case StateClosed:
		cb.outcomes = cb.outcomes[:0]
		cb.trialInFlight = false
	case StateOpen:
		cb.openedAt = cb.clock.Now()
	case StateHalfOpen:
	}

	cb.state.Store(int32(newState))

	if cb.onStateChange != nil {
		return &stateTransition{from: oldState, to: newState, callback: cb.onStateChange}
	}
	return nil
}

// State returns the current breaker state.
func (cb *CircuitBreaker) State() State {
	return State(cb.state.Load())
}

// IsOpen returns true if the circuit is open.
func (cb *CircuitBreaker) IsOpen() bool {
	return cb.State() == StateOpen
}

// RetryAfter returns how long until the breaker will admit a trial call.
// Zero when the breaker is not open.
func (cb *CircuitBreaker) RetryAfter() time.Duration {
	if cb.State() != StateOpen {
		return 0
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()
	remaining := cb.cooldown - cb.clock.Now().Sub(cb.openedAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// SetOnStateChange sets a callback for state changes. The callback is
// invoked synchronously after the transition completes and may safely read
// breaker state.
func (cb *CircuitBreaker) SetOnStateChange(fn func(from, to State)) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onStateChange = fn
}

// Reset returns the breaker to closed state and clears its window.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.outcomes = cb.outcomes[:0]
	cb.trialInFlight = false
	cb.state.Store(int32(StateClosed))
}

// Breaker is the interface the gate needs from a circuit breaker.
type Breaker interface {
	Allow() bool
	CancelTrial()
	RecordSuccess()
	RecordFailure()
	State() State
	RetryAfter() time.Duration
	SetOnStateChange(fn func(from, to State))
}

// DisabledBreaker admits every call and never trips.
type DisabledBreaker struct{}

func NewDisabledBreaker() *DisabledBreaker { return &DisabledBreaker{} }

func (b *DisabledBreaker) Allow() bool                              { return true }
func (b *DisabledBreaker) CancelTrial()                             {}
func (b *DisabledBreaker) RecordSuccess()                           {}
func (b *DisabledBreaker) RecordFailure()                           {}
func (b *DisabledBreaker) State() State                             { return StateClosed }
func (b *DisabledBreaker) RetryAfter() time.Duration                { return 0 }
func (b *DisabledBreaker) SetOnStateChange(fn func(from, to State)) {}

var _ Breaker = (*CircuitBreaker)(nil)
var _ Breaker = (*DisabledBreaker)(nil)
