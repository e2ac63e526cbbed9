// Package pool implements the transport pool (spec §4.B): one live
// connection per upstream, reconnect with backoff, and a per-upstream
// circuit breaker.
package pool

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Transport is the narrow capability interface spec §9 asks for in place of
// a polymorphic/inheritance-based transport hierarchy: a tagged variant with
// connect/close/call/notify/on-event operations, regardless of whether the
// underlying wire is stdio, HTTP, SSE, or streamable-HTTP.
type Transport interface {
	// Session returns the live MCP client session for this upstream.
	Session() *mcp.ClientSession
	// Close tears down the connection and reclaims its resources (closes
	// the HTTP stream, or kills the child process for stdio).
	Close() error
}

// sdkTransport adapts an *mcp.ClientSession obtained from the go-sdk to the
// pool's narrow Transport interface.
type sdkTransport struct {
	session *mcp.ClientSession
	closeFn func() error
}

func (t *sdkTransport) Session() *mcp.ClientSession { return t.session }

func (t *sdkTransport) Close() error {
	if t.closeFn != nil {
		return t.closeFn()
	}
	return t.session.Close()
}

// dialer opens an mcp.Transport for a given upstream descriptor, connects an
// mcp.Client to it, and returns the pool's Transport wrapper. Split out so
// tests can substitute an in-memory dialer without touching the state
// machine.
type dialer func(ctx context.Context, desc Descriptor) (Transport, error)
