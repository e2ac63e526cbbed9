package pool

import (
	"math/rand/v2"
	"time"
)

// backoffBase and backoffCap match spec §4.B: "exponential with jitter,
// base 1s, cap 30s".
const (
	backoffBase = time.Second
	backoffCap  = 30 * time.Second
)

// backoffDelay returns the delay before reconnect attempt number `attempt`
// (1-indexed), full exponential growth capped at backoffCap, with up to
// +/-20% jitter so a fleet of upstreams doesn't retry in lockstep.
func backoffDelay(attempt int) time.Duration {
	d := backoffBase << attempt
	if d <= 0 || d > backoffCap { // overflow guard, and cap
		d = backoffCap
	}
	jitter := float64(d) * (rand.Float64()*0.4 - 0.2)
	d += time.Duration(jitter)
	if d < 0 {
		d = 0
	}
	return d
}
