// Package circuitbreaker stops repeated calls into a dependency that keeps
// failing. The pipeline puts one in front of audit log writes.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State is the breaker state.
type State int

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

var (
	// ErrCircuitOpen rejects calls while the circuit is open.
	ErrCircuitOpen = errors.New("circuit breaker is open")
	// ErrHalfOpenBusy rejects calls while the single half-open trial call runs.
	ErrHalfOpenBusy = errors.New("circuit breaker half-open call in flight")
)

// IsRejected reports whether err came from the breaker rather than from the
// guarded call.
func IsRejected(err error) bool {
	return errors.Is(err, ErrCircuitOpen) || errors.Is(err, ErrHalfOpenBusy)
}

type settings struct {
	failures      int
	successes     int
	cooldown      time.Duration
	onStateChange func(name string, from, to State)
	countable     func(error) bool
}

// Option configures a CircuitBreaker.
type Option func(*settings)

// WithFailureThreshold opens the circuit after n consecutive failures.
func WithFailureThreshold(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.failures = n
		}
	}
}

// WithSuccessThreshold closes a half-open circuit after n consecutive
// successful trial calls.
func WithSuccessThreshold(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.successes = n
		}
	}
}

// WithTimeout sets how long the circuit stays open before a trial call.
func WithTimeout(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.cooldown = d
		}
	}
}

// WithOnStateChange registers a transition callback. It runs with the
// breaker locked and must not call back into it.
func WithOnStateChange(fn func(name string, from, to State)) Option {
	return func(s *settings) { s.onStateChange = fn }
}

// WithIsFailure decides which errors count against the circuit. By default
// every non-nil error does.
func WithIsFailure(fn func(error) bool) Option {
	return func(s *settings) { s.countable = fn }
}

// CircuitBreaker allows one trial call at a time while half-open.
type CircuitBreaker struct {
	name string
	cfg  settings

	mu           sync.Mutex
	state        State
	failures     int
	successes    int
	openedAt     time.Time
	trialRunning bool
}

// New creates a closed breaker. Defaults: 5 failures, 2 successes, 30s.
func New(name string, opts ...Option) *CircuitBreaker {
	cfg := settings{failures: 5, successes: 2, cooldown: 30 * time.Second}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &CircuitBreaker{name: name, cfg: cfg}
}

// Execute runs fn if the circuit allows it and records the outcome.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := cb.admit(); err != nil {
		return err
	}

	err := fn(ctx)
	cb.settle(err)
	return err
}

// State returns the current state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if time.Since(cb.openedAt) < cb.cfg.cooldown {
			return ErrCircuitOpen
		}
		cb.transition(StateHalfOpen)
		cb.trialRunning = true
	case StateHalfOpen:
		if cb.trialRunning {
			return ErrHalfOpenBusy
		}
		cb.trialRunning = true
	}
	return nil
}

func (cb *CircuitBreaker) settle(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.trialRunning = false
	failed := err != nil && (cb.cfg.countable == nil || cb.cfg.countable(err))

	if !failed {
		cb.failures = 0
		if cb.state == StateHalfOpen {
			cb.successes++
			if cb.successes >= cb.cfg.successes {
				cb.transition(StateClosed)
			}
		}
		return
	}

	cb.successes = 0
	cb.failures++
	if cb.state == StateHalfOpen || cb.failures >= cb.cfg.failures {
		cb.openedAt = time.Now()
		cb.transition(StateOpen)
	}
}

func (cb *CircuitBreaker) transition(to State) {
	if cb.state == to {
		return
	}
	from := cb.state
	cb.state = to
	cb.failures = 0
	cb.successes = 0

	if cb.cfg.onStateChange != nil {
		cb.cfg.onStateChange(cb.name, from, to)
	}
}

// AuditLogBreaker guards audit log appends. After three consecutive write
// failures entries are dropped for ten seconds before a single trial write.
// A cancelled caller does not count against the datastore.
func AuditLogBreaker(onStateChange func(name string, from, to State)) *CircuitBreaker {
	return New(
		"audit_log",
		WithFailureThreshold(3),
		WithSuccessThreshold(1),
		WithTimeout(10*time.Second),
		WithOnStateChange(onStateChange),
		WithIsFailure(func(err error) bool {
			return !errors.Is(err, context.Canceled)
		}),
	)
}
