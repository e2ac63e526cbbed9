// Package router implements the routing and invocation core (spec §4.D):
// resolving a namespaced identifier back to its owning upstream, enforcing
// per-call policy, and forwarding the request through the transport pool.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/nullrunner/mcp-gateway/pkg/config"
	"github.com/nullrunner/mcp-gateway/pkg/gwerrors"
	"github.com/nullrunner/mcp-gateway/pkg/log"
	"github.com/nullrunner/mcp-gateway/pkg/metrics"
	"github.com/nullrunner/mcp-gateway/pkg/pool"
	"github.com/nullrunner/mcp-gateway/pkg/registry"
)

// transportProvider is the narrow slice of *pool.Pool the Router needs,
// declared at point of use so tests can substitute a fake without touching
// real transports.
type transportProvider interface {
	GetTransport(ctx context.Context, desc pool.Descriptor) (pool.Transport, error)
	ReportFailure(serverID string, err error)
}

// Router is the glue between the aggregated catalog and live upstream
// connections. It holds no upstream state of its own: descriptors and
// policies are refreshed wholesale on every config reload.
type Router struct {
	registry *registry.Registry
	pool     transportProvider

	mu          sync.RWMutex
	descriptors map[string]pool.Descriptor
	policies    config.Policies

	logger log.Logger

	// Metrics, when set, receives requests_total/request_duration_seconds
	// and tool_calls_total observations for every forwarded call (spec
	// §4.H). Left nil in tests that don't care about metrics.
	Metrics *metrics.Metrics
}

// New builds a Router over reg and p with the given initial policies.
func New(reg *registry.Registry, p *pool.Pool, policies config.Policies) *Router {
	return newRouter(reg, p, policies)
}

func newRouter(reg *registry.Registry, p transportProvider, policies config.Policies) *Router {
	return &Router{
		registry:    reg,
		pool:        p,
		descriptors: make(map[string]pool.Descriptor),
		policies:    policies,
		logger:      log.Tagged("router"),
	}
}

// SetServers rebuilds the descriptor table from the current config snapshot.
func (r *Router) SetServers(servers []config.ServerConfig) {
	next := make(map[string]pool.Descriptor, len(servers))
	for _, sc := range servers {
		next[sc.Name] = pool.FromServerConfig(sc)
	}
	r.mu.Lock()
	r.descriptors = next
	r.mu.Unlock()
}

// SetPolicies replaces the policy set applied to subsequent calls.
func (r *Router) SetPolicies(p config.Policies) {
	r.mu.Lock()
	r.policies = p
	r.mu.Unlock()
}

func (r *Router) descriptorFor(serverID string) (pool.Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.descriptors[serverID]
	return d, ok
}

func (r *Router) currentPolicies() config.Policies {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.policies
}

// recordRequest observes one inbound request's outcome against
// requests_total/request_duration_seconds, keyed by method (spec §4.H).
func (r *Router) recordRequest(method string, start time.Time, err error) {
	if r.Metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	r.Metrics.ObserveRequest(method, status, time.Since(start).Seconds())
}

// recordToolCall observes one tool call forwarded to serverID against
// tool_calls_total (spec §4.H).
func (r *Router) recordToolCall(serverID string, err error) {
	if r.Metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	r.Metrics.ObserveToolCall(serverID, status)
}

// requestTimeout returns desc's own requestTimeout override if set, else the
// gateway-wide default (spec §4.D step 2).
func (r *Router) requestTimeout(desc pool.Descriptor) time.Duration {
	if desc.RequestTimeout > 0 {
		return desc.RequestTimeout
	}
	return time.Duration(r.currentPolicies().DefaultTimeout) * time.Millisecond
}

// CallTool resolves id, forwards the call to its owning upstream, and
// applies output-size truncation. Tool calls are never retried by the
// Router: their side effects are assumed non-idempotent (spec §4.D step 5).
func (r *Router) CallTool(ctx context.Context, id string, args map[string]any) (result *mcp.CallToolResult, err error) {
	start := time.Now()
	defer func() { r.recordRequest("tools/call", start, err) }()

	entry, err := r.registry.FindTool(id)
	if err != nil {
		return nil, err
	}

	desc, ok := r.descriptorFor(entry.ServerID)
	if !ok {
		err = gwerrors.New(gwerrors.KindNotFound, "server no longer configured: "+entry.ServerID)
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, r.requestTimeout(desc))
	defer cancel()

	transport, err := r.pool.GetTransport(callCtx, desc)
	if err != nil {
		return nil, err
	}

	normalized, _ := normalizeArguments(args)

	sdkResult, callErr := transport.Session().CallTool(callCtx, &mcp.CallToolParams{
		Name:      entry.Tool.Name,
		Arguments: normalized,
	})
	r.recordToolCall(entry.ServerID, callErr)
	if callErr != nil {
		r.pool.ReportFailure(entry.ServerID, callErr)
		err = mapUpstreamError(callCtx, callErr)
		return nil, err
	}

	return truncateResult(sdkResult, r.currentPolicies().OutputSizeLimit), nil
}

// GetPrompt resolves id and forwards a prompts/get to its owning upstream.
func (r *Router) GetPrompt(ctx context.Context, id string, args map[string]string) (result *mcp.GetPromptResult, err error) {
	start := time.Now()
	defer func() { r.recordRequest("prompts/get", start, err) }()

	entry, err := r.registry.FindPrompt(id)
	if err != nil {
		return nil, err
	}

	desc, ok := r.descriptorFor(entry.ServerID)
	if !ok {
		err = gwerrors.New(gwerrors.KindNotFound, "server no longer configured: "+entry.ServerID)
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, r.requestTimeout(desc))
	defer cancel()

	transport, err := r.pool.GetTransport(callCtx, desc)
	if err != nil {
		return nil, err
	}

	sdkResult, callErr := transport.Session().GetPrompt(callCtx, &mcp.GetPromptParams{
		Name:      entry.Prompt.Name,
		Arguments: args,
	})
	if callErr != nil {
		r.pool.ReportFailure(entry.ServerID, callErr)
		err = mapUpstreamError(callCtx, callErr)
		return nil, err
	}
	return sdkResult, nil
}

// ReadResource resolves uri (literal or template) and forwards a
// resources/read to its owning upstream. Reads are idempotent, so they are
// retried up to the server's maxRetries on upstream/transport failure (spec
// §4.D step 5).
func (r *Router) ReadResource(ctx context.Context, uri string) (result *mcp.ReadResourceResult, err error) {
	start := time.Now()
	defer func() { r.recordRequest("resources/read", start, err) }()

	serverID, originalURI, err := r.registry.ResolveResourceURI(uri)
	if err != nil {
		return nil, err
	}

	desc, ok := r.descriptorFor(serverID)
	if !ok {
		err = gwerrors.New(gwerrors.KindNotFound, "server no longer configured: "+serverID)
		return nil, err
	}

	var lastErr error
	attempts := desc.MaxRetries
	if attempts < 1 {
		attempts = 1
	}
	for attempt := 0; attempt < attempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, r.requestTimeout(desc))
		transport, getErr := r.pool.GetTransport(callCtx, desc)
		if getErr != nil {
			cancel()
			err = getErr
			return nil, err
		}

		sdkResult, callErr := transport.Session().ReadResource(callCtx, &mcp.ReadResourceParams{URI: originalURI})
		cancel()
		if callErr == nil {
			return sdkResult, nil
		}
		lastErr = callErr
		r.pool.ReportFailure(serverID, callErr)
	}
	err = mapUpstreamError(ctx, lastErr)
	return nil, err
}

// SubscribeResource subscribes sessionID to uri, forwarding a
// resources/subscribe to the upstream only on the first subscriber for that
// entry (spec §4.C "Subscription bookkeeping").
func (r *Router) SubscribeResource(ctx context.Context, sessionID, uri string) error {
	serverID, originalURI, err := r.registry.ResolveResourceURI(uri)
	if err != nil {
		return err
	}

	first := r.registry.Subscribe(sessionID, uri)
	if !first {
		return nil
	}

	desc, ok := r.descriptorFor(serverID)
	if !ok {
		return gwerrors.New(gwerrors.KindNotFound, "server no longer configured: "+serverID)
	}
	callCtx, cancel := context.WithTimeout(ctx, r.requestTimeout(desc))
	defer cancel()

	transport, err := r.pool.GetTransport(callCtx, desc)
	if err != nil {
		return err
	}
	if _, callErr := transport.Session().Subscribe(callCtx, &mcp.SubscribeParams{URI: originalURI}); callErr != nil {
		r.registry.Unsubscribe(sessionID, uri)
		return mapUpstreamError(callCtx, callErr)
	}
	return nil
}

// UnsubscribeResource unsubscribes sessionID from uri, forwarding a
// resources/unsubscribe only once the last subscriber for the entry drops.
func (r *Router) UnsubscribeResource(ctx context.Context, sessionID, uri string) error {
	last := r.registry.Unsubscribe(sessionID, uri)
	if !last {
		return nil
	}

	serverID, originalURI, err := r.registry.ResolveResourceURI(uri)
	if err != nil {
		return nil // entry already gone; nothing to tell the upstream
	}
	desc, ok := r.descriptorFor(serverID)
	if !ok {
		return nil
	}
	callCtx, cancel := context.WithTimeout(ctx, r.requestTimeout(desc))
	defer cancel()

	transport, err := r.pool.GetTransport(callCtx, desc)
	if err != nil {
		return nil
	}
	_, callErr := transport.Session().Unsubscribe(callCtx, &mcp.UnsubscribeParams{URI: originalURI})
	if callErr != nil {
		r.logger.Logf("unsubscribe from %s failed: %v", originalURI, callErr)
	}
	return nil
}

func normalizeArguments(args map[string]any) (map[string]any, error) {
	if args == nil {
		return nil, nil
	}
	normalized := NormalizeArgs(args)
	m, ok := normalized.(map[string]any)
	if !ok {
		return nil, errors.New("normalized arguments lost their shape")
	}
	return m, nil
}

// mapUpstreamError translates a transport/upstream-level error into the
// gateway's stable error taxonomy (spec §4.D step 3).
func mapUpstreamError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() == context.DeadlineExceeded {
		return gwerrors.Wrap(gwerrors.KindTimeout, "upstream call timed out", err)
	}
	if ctx.Err() == context.Canceled {
		return gwerrors.Wrap(gwerrors.KindCancelled, "upstream call cancelled", err)
	}

	var gwErr *gwerrors.Error
	if errors.As(err, &gwErr) {
		return gwErr
	}

	if code, ok := jsonrpcCode(err); ok {
		switch code {
		case -32601: // MethodNotFound
			return gwerrors.Wrap(gwerrors.KindNotFound, "upstream method not found", err)
		case -32602: // InvalidParams
			return gwerrors.Wrap(gwerrors.KindInvalidParams, "invalid params", err)
		}
	}

	return gwerrors.Wrap(gwerrors.KindUpstreamError, "upstream call failed", err)
}

// jsonrpcCode extracts a JSON-RPC error code from err if it carries one,
// without depending on a specific concrete wire-error type.
func jsonrpcCode(err error) (int, bool) {
	var coder interface{ Code() int64 }
	if errors.As(err, &coder) {
		return int(coder.Code()), true
	}
	return 0, false
}

// truncateResult enforces policies.outputSizeLimit on a tool result,
// truncating text content and flagging the truncation rather than dropping
// data silently (spec §4.D step 4). A limit of 0 disables the check.
func truncateResult(result *mcp.CallToolResult, limit int) *mcp.CallToolResult {
	if result == nil || limit <= 0 {
		return result
	}

	serialized, err := json.Marshal(result)
	if err != nil || len(serialized) <= limit {
		return result
	}

	budget := limit
	for _, c := range result.Content {
		if budget <= 0 {
			break
		}
		if tc, ok := c.(*mcp.TextContent); ok && len(tc.Text) > budget {
			tc.Text = tc.Text[:budget]
			budget = 0
		} else if ok {
			budget -= len(tc.Text)
		}
	}
	result.Content = append(result.Content, &mcp.TextContent{
		Text: "[gateway: output truncated to outputSizeLimit bytes]",
	})
	if result.Meta == nil {
		result.Meta = mcp.Meta{}
	}
	result.Meta["truncated"] = true
	return result
}
