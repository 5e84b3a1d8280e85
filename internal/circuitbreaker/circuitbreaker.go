// Package circuitbreaker implements a per-upstream failure-tracking state
// machine that fails fast once an upstream looks unhealthy, with timed
// half-open probing for recovery.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

// ErrOpen reports that the circuit is not currently accepting requests.
// Admit itself signals this by returning false rather than this error.
var ErrOpen = errors.New("circuit breaker is open")

// State is one of Closed, Open, or HalfOpen.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

const (
	// openThreshold is the number of consecutive failures that trips the
	// breaker from Closed to Open.
	openThreshold = 3
	// maxWindow caps the recovery window regardless of how many times it
	// has been doubled.
	maxWindow = 300 * time.Second
)

// Opts configures a CircuitBreaker. Baseline is the recovery window used
// the first time the breaker opens; it widens on repeated half-open
// failures.
type Opts struct {
	Baseline time.Duration // default 30s
}

func (o Opts) withDefaults() Opts {
	if o.Baseline <= 0 {
		o.Baseline = 30 * time.Second
	}
	return o
}

// CircuitBreaker tracks consecutive failures for a single upstream and
// decides whether new requests may be admitted. The zero value is not
// usable; construct with New.
type CircuitBreaker struct {
	mu sync.Mutex

	state         State
	failures      int
	retryAttempt  int
	window        time.Duration
	lastFailure   time.Time
	trialInFlight bool

	baseline time.Duration
}

// New creates a CircuitBreaker starting in the Closed state.
func New(opts Opts) *CircuitBreaker {
	opts = opts.withDefaults()
	return &CircuitBreaker{
		state:    Closed,
		window:   opts.Baseline,
		baseline: opts.Baseline,
	}
}

// State returns a snapshot of the current state. Callers may observe a
// stale Open when the recovery window has just elapsed — Admit is the
// authoritative serializer for the Open→HalfOpen transition.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Failures returns the current consecutive-failure count. It resets to
// zero on OnSuccess and keeps climbing across OnFailure calls even
// before the breaker trips to Open.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

// RecoveryRemaining returns how long is left before an Open breaker will
// admit its next probe. Zero or negative means the window has elapsed.
func (cb *CircuitBreaker) RecoveryRemaining() time.Duration {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state != Open {
		return 0
	}
	return cb.window - time.Since(cb.lastFailure)
}

// Admit reports whether a new request may proceed.
//
//   - Closed: always true.
//   - Open: true iff the recovery window has elapsed; on the first such
//     call it transitions to HalfOpen and increments the retry-attempt
//     counter as a side effect.
//   - HalfOpen: true exactly once per cycle; concurrent callers while a
//     trial is already in flight are denied, same as Open.
func (cb *CircuitBreaker) Admit() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case Closed:
		return true
	case Open:
		if time.Since(cb.lastFailure) < cb.window {
			return false
		}
		cb.state = HalfOpen
		cb.retryAttempt++
		cb.trialInFlight = true
		return true
	case HalfOpen:
		if cb.trialInFlight {
			return false
		}
		cb.trialInFlight = true
		return true
	default:
		return false
	}
}

// OnSuccess transitions the breaker to Closed and resets all counters and
// the recovery window to its baseline.
func (cb *CircuitBreaker) OnSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.state = Closed
	cb.failures = 0
	cb.retryAttempt = 0
	cb.window = cb.baseline
	cb.trialInFlight = false
}

// OnFailure records a failure. Once the consecutive-failure counter
// reaches openThreshold the breaker opens, stamping the failure time and
// widening the recovery window to baseline·2^retryAttempt (capped at
// maxWindow) whenever a half-open probe has been admitted since the breaker
// last closed, so a failed probe reopens it with a wider window.
func (cb *CircuitBreaker) OnFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.trialInFlight = false
	cb.failures++

	if cb.failures < openThreshold {
		return
	}

	cb.state = Open
	cb.lastFailure = time.Now()

	if cb.retryAttempt > 0 {
		window := cb.baseline * time.Duration(int64(1)<<uint(cb.retryAttempt))
		if window > maxWindow || window <= 0 {
			window = maxWindow
		}
		cb.window = window
	} else {
		cb.window = cb.baseline
	}
}
