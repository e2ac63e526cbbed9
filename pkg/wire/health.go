package wire

import "sync/atomic"

// healthState is a process-wide liveness flag flipped by the composition
// root once startup finishes and cleared on shutdown, grounded on the
// teacher's pkg/health.State (IsHealthy/SetHealthy pattern).
type healthState struct {
	healthy atomic.Bool
}

func newHealthState() *healthState {
	return &healthState{}
}

func (h *healthState) SetHealthy(v bool) {
	h.healthy.Store(v)
}

func (h *healthState) IsHealthy() bool {
	return h.healthy.Load()
}
