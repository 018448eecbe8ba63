// Package circuitbreaker guards the upstream dependency a scraper run hits
// (marketplace API, search endpoint). After enough consecutive failures it
// suspends new claim/fetch cycles for a cooldown window, then resumes.
package circuitbreaker

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the circuit breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State represents the state of the circuit breaker.
type State int

const (
	// StateClosed means requests are allowed.
	StateClosed State = iota
	// StateOpen means requests are blocked until the cooldown elapses.
	StateOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Config configures a circuit breaker.
type Config struct {
	// FailureThreshold is the number of consecutive failures before opening.
	FailureThreshold int
	// Cooldown is how long the circuit stays open before requests resume.
	Cooldown time.Duration
	// OnStateChange is an optional callback when state changes.
	OnStateChange func(from, to State)
}

// Breaker tracks consecutive failures against one external dependency.
// There is no half-open ramp: once the cooldown elapses the first
// AllowRequest call closes the circuit and traffic resumes; a still-broken
// dependency re-opens it after another threshold's worth of failures.
// State is process-local. A restarted worker starts closed, which is fine:
// a dependency that is still down re-opens the circuit almost immediately.
type Breaker struct {
	mu            sync.Mutex
	state         State
	failureCount  int
	openUntil     time.Time
	config        Config
	onStateChange func(from, to State)
	now           func() time.Time
}

// New creates a new circuit breaker with the given configuration.
func New(config Config) *Breaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.Cooldown <= 0 {
		config.Cooldown = 60 * time.Second
	}

	return &Breaker{
		state:         StateClosed,
		config:        config,
		onStateChange: config.OnStateChange,
		now:           time.Now,
	}
}

// AllowRequest reports whether a new claim/fetch cycle may start. When the
// cooldown has elapsed on an open circuit, the circuit closes and the
// failure counter resets. Callers getting false should sleep for
// RemainingCooldown rather than busy-poll.
func (b *Breaker) AllowRequest() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateClosed {
		return true
	}

	if !b.now().Before(b.openUntil) {
		b.failureCount = 0
		b.transitionTo(StateClosed)
		return true
	}

	return false
}

// RemainingCooldown returns how long until an open circuit allows requests
// again. Zero when the circuit is closed or the cooldown has elapsed.
func (b *Breaker) RemainingCooldown() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateOpen {
		return 0
	}
	remaining := b.openUntil.Sub(b.now())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// RecordFailure counts one consecutive failure. Reaching the threshold
// opens the circuit for the configured cooldown.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount++
	if b.state == StateClosed && b.failureCount >= b.config.FailureThreshold {
		b.openUntil = b.now().Add(b.config.Cooldown)
		b.transitionTo(StateOpen)
	}
}

// RecordSuccess resets the consecutive-failure counter and forces the
// circuit closed.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount = 0
	if b.state != StateClosed {
		b.transitionTo(StateClosed)
	}
}

// transitionTo switches state and fires the callback. Caller holds the lock.
func (b *Breaker) transitionTo(newState State) {
	if b.state == newState {
		return
	}

	oldState := b.state
	b.state = newState

	if b.onStateChange != nil {
		b.onStateChange(oldState, newState)
	}
}

// State returns the current state of the circuit breaker.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Stats returns a snapshot of the breaker for reporting.
type Stats struct {
	State        State
	FailureCount int
	OpenUntil    time.Time
}

// GetStats returns current statistics.
func (b *Breaker) GetStats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		State:        b.state,
		FailureCount: b.failureCount,
		OpenUntil:    b.openUntil,
	}
}

// OpenError describes an open circuit including the remaining cooldown.
func (b *Breaker) OpenError() error {
	return fmt.Errorf("%w: retry after %v", ErrCircuitOpen, b.RemainingCooldown())
}
