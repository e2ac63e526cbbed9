package pool

import (
	"context"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/singleflight"

	"github.com/nullrunner/mcp-gateway/pkg/gwerrors"
	"github.com/nullrunner/mcp-gateway/pkg/log"
	"github.com/nullrunner/mcp-gateway/pkg/metrics"
)

// Pool manages at most one live connection per upstream server (spec §4.B).
// All operations are safe for concurrent use; concurrent GetTransport calls
// for the same, not-yet-connected server collapse onto a single dial via
// golang.org/x/sync/singleflight, matching the "Deduplication guard"
// invariant exactly.
type Pool struct {
	mu    sync.RWMutex
	conns map[string]*conn
	group singleflight.Group

	dial   dialer
	logger log.Logger

	clientName    string
	clientVersion string

	// SamplingHandler, when set, answers upstream sampling/createMessage
	// requests by forwarding to a downstream client session (spec §4.F
	// "Sampling/elicitation/roots requests originating at an upstream are
	// routed to a client session"). Wired by the gateway composition root to
	// the Session manager's newest-session picker; left nil, sampling
	// requests fail with the go-sdk's default "not supported" behavior.
	SamplingHandler func(ctx context.Context, serverID string, params *mcp.CreateMessageParams) (*mcp.CreateMessageResult, error)

	// Metrics, when set, receives upstream_state/active_connections updates
	// on every state transition (spec §4.H). Left nil in tests that don't
	// care about metrics.
	Metrics *metrics.Metrics
}

// reportState pushes desc's current state to Metrics.UpstreamState and
// derives active_connections from whether state is StateConnected.
func (p *Pool) reportState(desc Descriptor, state State) {
	if p.Metrics == nil {
		return
	}
	p.Metrics.SetUpstreamState(desc.ID, int(state))
	p.Metrics.SetActiveConnection(desc.ID, string(desc.Transport), state == StateConnected)
}

// New builds a Pool that dials upstreams with the real go-sdk MCP client.
func New(clientName, clientVersion string) *Pool {
	p := &Pool{
		conns:         make(map[string]*conn),
		logger:        log.Tagged("pool"),
		clientName:    clientName,
		clientVersion: clientVersion,
	}
	p.dial = p.sdkDial
	return p
}

// newWithDialer is used by tests to substitute an in-memory transport.
func newWithDialer(d dialer) *Pool {
	return &Pool{conns: make(map[string]*conn), logger: log.Tagged("pool"), dial: d}
}

func (p *Pool) connFor(desc Descriptor) *conn {
	p.mu.RLock()
	c, ok := p.conns[desc.ID]
	p.mu.RUnlock()
	if ok {
		return c
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok = p.conns[desc.ID]; ok {
		return c
	}
	c = newConn(desc)
	p.conns[desc.ID] = c
	return c
}

// GetTransport returns a live transport for desc, connecting lazily on first
// demand. It enforces the circuit breaker's fail-fast behavior before ever
// attempting a dial.
func (p *Pool) GetTransport(ctx context.Context, desc Descriptor) (Transport, error) {
	c := p.connFor(desc)

	if state, t, _ := c.snapshot(); state == StateConnected {
		return t, nil
	}

	if !c.breaker.Allow() {
		return nil, gwerrors.New(gwerrors.KindUnavailable,
			fmt.Sprintf("circuit breaker open for %q", desc.ID))
	}

	res, err, _ := p.group.Do(desc.ID, func() (any, error) {
		if state, t, _ := c.snapshot(); state == StateConnected {
			return t, nil
		}
		c.setConnecting()
		p.reportState(desc, StateConnecting)

		dialCtx, cancel := context.WithTimeout(ctx, desc.connectTimeout())
		defer cancel()

		t, err := p.dial(dialCtx, desc)
		if err != nil {
			attempt := c.setFailedAttempt(err)
			p.logger.Logf("connect %s failed (attempt %d): %v", desc.ID, attempt, err)
			state, _, _ := c.snapshot()
			p.reportState(desc, state)
			return nil, gwerrors.Wrap(gwerrors.KindHandshakeError, "connecting to upstream "+desc.ID, err)
		}
		c.setConnected(t)
		p.reportState(desc, StateConnected)
		p.logger.Logf("connected to %s", desc.ID)
		return t, nil
	})
	if err != nil {
		return nil, err
	}
	return res.(Transport), nil
}

// ReportFailure tells the pool that a previously-healthy connection just
// failed an I/O operation, moving it to Reconnecting/Failed and recording a
// circuit-breaker failure (spec §4.B "Connected -> Reconnecting"). It then
// schedules a background reconnect attempt after the backoff delay, so the
// next caller finds a warm connection rather than paying the dial latency.
func (p *Pool) ReportFailure(serverID string, err error) {
	p.mu.RLock()
	c, ok := p.conns[serverID]
	p.mu.RUnlock()
	if !ok {
		return
	}
	_, t, _ := c.snapshot()
	c.markDisconnected(t)
	attempt := c.setFailedAttempt(err)

	state, _, _ := c.snapshot()
	p.reportState(c.desc, state)
	if state == StateReconnecting {
		p.scheduleReconnect(c, attempt)
	}
}

// scheduleReconnect runs one backed-off reconnect attempt for c in the
// background. It is cancelled by Release.
func (p *Pool) scheduleReconnect(c *conn, attempt int) {
	ctx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	if c.reconnectCancel != nil {
		c.reconnectCancel()
	}
	c.reconnectCancel = cancel
	c.mu.Unlock()

	delay := backoffDelay(attempt)
	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		if !c.breaker.Allow() {
			return
		}
		dialCtx, dialCancel := context.WithTimeout(ctx, c.desc.connectTimeout())
		defer dialCancel()
		t, err := p.dial(dialCtx, c.desc)
		if err != nil {
			nextAttempt := c.setFailedAttempt(err)
			state, _, _ := c.snapshot()
			p.reportState(c.desc, state)
			if state == StateReconnecting {
				p.scheduleReconnect(c, nextAttempt)
			}
			return
		}
		c.setConnected(t)
		p.reportState(c.desc, StateConnected)
		p.logger.Logf("reconnected to %s after %d attempt(s)", c.desc.ID, attempt)
	}()
}

// Release closes serverID's connection and reclaims its resources.
func (p *Pool) Release(serverID string) {
	p.mu.Lock()
	c, ok := p.conns[serverID]
	if ok {
		delete(p.conns, serverID)
	}
	p.mu.Unlock()
	if !ok {
		return
	}
	if c.reconnectCancel != nil {
		c.reconnectCancel()
	}
	_, t, _ := c.snapshot()
	if t != nil {
		_ = t.Close()
	}
	p.reportState(c.desc, StateDisconnected)
}

// Health returns the current state of every upstream the pool has ever seen
// a transport requested for (spec §4.B "getHealth()").
func (p *Pool) Health() []Health {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]Health, 0, len(p.conns))
	for id, c := range p.conns {
		state, _, lastErr := c.snapshot()
		out = append(out, Health{
			ServerID:  id,
			State:     state,
			LastError: lastErr,
			Breaker:   c.breaker.State(),
		})
	}
	return out
}

// Close releases every connection the pool holds.
func (p *Pool) Close() {
	p.mu.Lock()
	ids := make([]string, 0, len(p.conns))
	for id := range p.conns {
		ids = append(ids, id)
	}
	p.mu.Unlock()
	for _, id := range ids {
		p.Release(id)
	}
}

// sdkDial opens the go-sdk transport matching desc.Transport and connects an
// mcp.Client to it.
func (p *Pool) sdkDial(ctx context.Context, desc Descriptor) (Transport, error) {
	var clientOpts *mcp.ClientOptions
	if p.SamplingHandler != nil {
		clientOpts = &mcp.ClientOptions{
			CreateMessageHandler: func(ctx context.Context, req *mcp.ClientRequest[*mcp.CreateMessageParams]) (*mcp.CreateMessageResult, error) {
				return p.SamplingHandler(ctx, desc.ID, req.Params)
			},
		}
	}
	client := mcp.NewClient(&mcp.Implementation{Name: p.clientName, Version: p.clientVersion}, clientOpts)

	var clientTransport mcp.Transport
	switch desc.Transport {
	case "stdio":
		cmd := exec.CommandContext(ctx, desc.Command, desc.Args...)
		cmd.Env = append(cmd.Environ(), desc.Env...)
		clientTransport = &mcp.CommandTransport{Command: cmd}

	case "sse":
		clientTransport = &mcp.SSEClientTransport{Endpoint: desc.URL, HTTPClient: httpClientWithHeaders(desc.Headers)}

	case "streamable-http", "http":
		clientTransport = &mcp.StreamableClientTransport{Endpoint: desc.URL, HTTPClient: httpClientWithHeaders(desc.Headers)}

	default:
		return nil, fmt.Errorf("unsupported transport %q", desc.Transport)
	}

	session, err := client.Connect(ctx, clientTransport, nil)
	if err != nil {
		return nil, err
	}

	return &sdkTransport{session: session}, nil
}
