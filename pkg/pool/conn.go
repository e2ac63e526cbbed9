package pool

import (
	"context"
	"sync"
	"time"
)

// conn tracks one upstream's connection state, independent of the circuit
// breaker that gates whether new calls are even attempted.
type conn struct {
	desc Descriptor

	mu        sync.Mutex
	state     State
	transport Transport
	lastErr   error
	attempt   int

	breaker *circuitBreaker

	reconnectCancel context.CancelFunc
}

func newConn(desc Descriptor) *conn {
	return &conn{desc: desc, state: StateDisconnected, breaker: newCircuitBreaker()}
}

func (c *conn) snapshot() (State, Transport, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state, c.transport, c.lastErr
}

func (c *conn) setConnected(t Transport) {
	c.mu.Lock()
	c.state = StateConnected
	c.transport = t
	c.lastErr = nil
	c.attempt = 0
	c.mu.Unlock()
	c.breaker.RecordSuccess()
}

func (c *conn) setFailedAttempt(err error) (attempt int) {
	c.mu.Lock()
	c.attempt++
	attempt = c.attempt
	c.lastErr = err
	if attempt >= c.desc.MaxRetries && c.desc.MaxRetries > 0 {
		c.state = StateFailed
	} else {
		c.state = StateReconnecting
	}
	c.mu.Unlock()
	c.breaker.RecordFailure()
	return attempt
}

func (c *conn) setConnecting() {
	c.mu.Lock()
	if c.state == StateDisconnected {
		c.state = StateConnecting
	}
	c.mu.Unlock()
}

func (c *conn) markDisconnected(t Transport) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.transport == t || t == nil {
		c.state = StateDisconnected
		c.transport = nil
	}
}

// connectTimeout resolves the effective connect timeout, falling back to a
// sane default when the descriptor doesn't set one.
func (d Descriptor) connectTimeout() time.Duration {
	if d.ConnectTimeout > 0 {
		return d.ConnectTimeout
	}
	return 10 * time.Second
}
