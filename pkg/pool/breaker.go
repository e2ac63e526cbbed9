package pool

import (
	"sync"
	"time"
)

// BreakerState is the circuit breaker's own three-state machine (spec
// §4.B "Circuit breaker"), independent of (but consulted alongside) the
// connection State above.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// breakerDefaults match spec §4.B's stated defaults: 5 consecutive failures
// trips the breaker, which then fails fast for 30s before allowing one probe.
const (
	defaultFailureThreshold = 5
	defaultOpenDuration     = 30 * time.Second
)

// circuitBreaker is a per-upstream failure-fraction guard. It tracks a
// consecutive-failure count rather than a sliding window, matching spec
// §4.B's "5 failures in a row" default precisely.
type circuitBreaker struct {
	mu               sync.Mutex
	state            BreakerState
	consecutiveFails int
	failureThreshold int
	openSince        time.Time
	openDuration     time.Duration
	halfOpenInFlight bool
}

func newCircuitBreaker() *circuitBreaker {
	return &circuitBreaker{
		failureThreshold: defaultFailureThreshold,
		openDuration:     defaultOpenDuration,
	}
}

// Allow reports whether a call may proceed. It also performs the
// Open -> HalfOpen transition when the cool-down has elapsed.
func (b *circuitBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return true
	case BreakerOpen:
		if time.Since(b.openSince) >= b.openDuration {
			b.state = BreakerHalfOpen
			b.halfOpenInFlight = false
		} else {
			return false
		}
		fallthrough
	case BreakerHalfOpen:
		if b.halfOpenInFlight {
			return false
		}
		b.halfOpenInFlight = true
		return true
	}
	return false
}

// RecordSuccess closes the breaker and resets the failure count.
func (b *circuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = BreakerClosed
	b.consecutiveFails = 0
	b.halfOpenInFlight = false
}

// RecordFailure increments the consecutive-failure count and trips the
// breaker once the threshold is reached; a failed half-open probe reopens
// it immediately.
func (b *circuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerHalfOpen {
		b.state = BreakerOpen
		b.openSince = time.Now()
		b.halfOpenInFlight = false
		return
	}

	b.consecutiveFails++
	if b.consecutiveFails >= b.failureThreshold {
		b.state = BreakerOpen
		b.openSince = time.Now()
	}
}

func (b *circuitBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
