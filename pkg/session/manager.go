// Package session implements the Session manager (spec §4.F): it owns the
// single shared *mcp.Server every inbound connection attaches to, applies
// Registry catalog changes to it, and bridges the handful of requests that
// arrive at the server with no per-session handle.
//
// The go-sdk's mcp.Server already models "one façade per client" as its own
// ServerSession type and fans notifications/{tools,prompts,resources}/list_changed
// and notifications/resources/updated out to every live session once a
// catalog entry is added via AddTool/AddPrompt/AddResource/AddResourceTemplate
// (confirmed by the teacher's gateway, which keeps exactly one *mcp.Server
// for its whole process lifetime). The Manager's job is narrower than a
// second server object: translate Registry bus events into Add/Remove calls,
// and wire the global handlers ServerOptions exposes.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/nullrunner/mcp-gateway/pkg/eventbus"
	"github.com/nullrunner/mcp-gateway/pkg/log"
	"github.com/nullrunner/mcp-gateway/pkg/registry"
)

// NewRequestID mints a correlation id for a single server-initiated request
// (subscribe/unsubscribe forwarding, sampling fan-out) so its start and
// outcome can be tied together in logs without reusing the SDK's own
// per-connection ServerSession.ID(), which outlives any one request.
func NewRequestID() string {
	return uuid.New().String()
}

// resourceRouter is the narrow slice of *router.Router the manager needs,
// declared at point of use (same pattern as router.transportProvider).
type resourceRouter interface {
	SubscribeResource(ctx context.Context, sessionID, uri string) error
	UnsubscribeResource(ctx context.Context, sessionID, uri string) error
}

// sdkManagedSubscriber is the pseudo session id used when forwarding
// resources/subscribe and resources/unsubscribe to the owning upstream.
// mcp.SubscribeRequest/UnsubscribeRequest intentionally omit the
// ServerSession (the go-sdk's Server already tracks the ServerSession<->URI
// mapping internally for its own resources/updated fan-out, per the
// teacher's gateway comment), so there is no per-session identity at this
// boundary for the gateway to key its own ref-count on. Routing every call
// through one shared bucket collapses Registry's ref-counted subscription
// table to a plain per-URI counter here — exactly what is needed to decide
// when to forward resources/subscribe|unsubscribe to the upstream, which
// never needs to know which individual client asked.
const sdkManagedSubscriber = "sdk-managed"

// Manager owns the shared *mcp.Server and the bookkeeping spec §4.F assigns
// the session layer: per-session roots caching and the "newest session"
// target policy for upstream-initiated sampling/elicitation.
type Manager struct {
	Server *mcp.Server

	reg     *registry.Registry
	router  resourceRouter
	logger  log.Logger
	clients *sessionTracker
}

// clientSession is the value stored per connected session.
type clientSession struct {
	session     *mcp.ServerSession
	connectedAt time.Time
	roots       []*mcp.Root
}

// New builds the shared server, wires its global handlers to reg/router,
// and returns a Manager. impl names the gateway in the MCP handshake; call
// Run afterward to start applying Registry catalog changes.
func New(impl *mcp.Implementation, reg *registry.Registry, rtr resourceRouter) *Manager {
	m := &Manager{
		reg:     reg,
		router:  rtr,
		logger:  log.Tagged("session"),
		clients: newSessionTracker(),
	}

	m.Server = mcp.NewServer(impl, &mcp.ServerOptions{
		SubscribeHandler: func(ctx context.Context, req *mcp.SubscribeRequest) error {
			return m.forwardSubscribe(ctx, req.Params.URI)
		},
		UnsubscribeHandler: func(ctx context.Context, req *mcp.UnsubscribeRequest) error {
			return m.forwardUnsubscribe(ctx, req.Params.URI)
		},
		RootsListChangedHandler: func(ctx context.Context, req *mcp.RootsListChangedRequest) {
			m.refreshRoots(ctx, req.Session)
		},
		InitializedHandler: func(ctx context.Context, req *mcp.InitializedRequest) {
			m.registerSession(req.Session)
			if clientInfo := req.Session.InitializeParams().ClientInfo; clientInfo != nil {
				m.logger.Logf("client initialized %s@%s", clientInfo.Name, clientInfo.Version)
			}
			m.refreshRoots(ctx, req.Session)
		},
		HasPrompts:   true,
		HasResources: true,
		HasTools:     true,
	})

	return m
}

func (m *Manager) forwardSubscribe(ctx context.Context, uri string) error {
	reqID := NewRequestID()
	m.logger.Logf("[%s] client subscribed to %s", reqID, uri)
	if err := m.router.SubscribeResource(ctx, sdkManagedSubscriber, uri); err != nil {
		m.logger.Logf("[%s] subscribe forward failed: %v", reqID, err)
		return err
	}
	return nil
}

func (m *Manager) forwardUnsubscribe(ctx context.Context, uri string) error {
	reqID := NewRequestID()
	m.logger.Logf("[%s] client unsubscribed from %s", reqID, uri)
	if err := m.router.UnsubscribeResource(ctx, sdkManagedSubscriber, uri); err != nil {
		m.logger.Logf("[%s] unsubscribe forward failed: %v", reqID, err)
		return err
	}
	return nil
}

// RemoveSession tears down bookkeeping for a disconnected session (spec §3
// "Client session... destroyed on disconnect"). The wire adapter calls this
// once the transport loop serving ss exits.
func (m *Manager) RemoveSession(ss *mcp.ServerSession) {
	m.clients.remove(ss.ID())
}

func (m *Manager) registerSession(ss *mcp.ServerSession) {
	m.clients.add(ss.ID(), &clientSession{session: ss, connectedAt: time.Now()})
}

func (m *Manager) refreshRoots(ctx context.Context, ss *mcp.ServerSession) {
	result, err := ss.ListRoots(ctx, nil)
	if err != nil {
		m.logger.Logf("client does not support roots or error listing roots: %v", err)
		return
	}
	if v, ok := m.clients.get(ss.ID()); ok {
		v.(*clientSession).roots = result.Roots
	}
}

// PickSession returns the most-recently-connected live session for which
// accepts returns true, or false if none qualify (spec §6 "Sampling/
// elicitation target selection: newest"). accepts may be nil to accept any
// session. Used to route upstream-initiated sampling/elicitation requests
// (wired via pool.Pool.SamplingHandler) to a concrete downstream client.
func (m *Manager) PickSession(accepts func(*mcp.ServerSession) bool) (*mcp.ServerSession, bool) {
	v, ok := m.clients.newest(func(v any) bool {
		cs := v.(*clientSession)
		return accepts == nil || accepts(cs.session)
	})
	if !ok {
		return nil, false
	}
	return v.(*clientSession).session, true
}

// Run consumes Registry change events from bus and applies them to the
// shared server until ctx is cancelled. Run once, typically in its own
// goroutine, after New.
func (m *Manager) Run(ctx context.Context, bus *eventbus.Bus) {
	events, unsubscribe := bus.Subscribe()
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			m.applyEvent(ev)
		}
	}
}

func (m *Manager) applyEvent(ev eventbus.Event) {
	cs, ok := ev.Payload.(registry.ChangeSet)
	if !ok {
		return
	}
	switch ev.Kind {
	case "tool-change":
		m.applyTools(cs)
	case "prompt-change":
		m.applyPrompts(cs)
	case "resource-change":
		m.applyResources(cs)
	case "resource-template-change":
		m.applyTemplates(cs)
	}
}

// applyTools, like its prompt/resource/template siblings below, registers a
// copy of the upstream's descriptor with its externally-visible name/URI
// rewritten to the namespaced id (spec §4.C "namespacing") — entry.Tool
// itself keeps its original upstream name, since Router.CallTool forwards
// that unmodified name to the real upstream (teacher's capabilitites.go
// does the equivalent rename with prefixToolName before AddTool).
func (m *Manager) applyTools(cs registry.ChangeSet) {
	if len(cs.Removed) > 0 {
		m.Server.RemoveTools(cs.Removed...)
	}
	for _, id := range cs.Added {
		entry, err := m.reg.FindTool(id)
		if err != nil {
			m.logger.Logf("tool %s added then vanished before sync: %v", id, err)
			continue
		}
		namespaced := *entry.Tool
		namespaced.Name = entry.ID
		m.Server.AddTool(&namespaced, entry.Handler)
	}
}

func (m *Manager) applyPrompts(cs registry.ChangeSet) {
	if len(cs.Removed) > 0 {
		m.Server.RemovePrompts(cs.Removed...)
	}
	for _, id := range cs.Added {
		entry, err := m.reg.FindPrompt(id)
		if err != nil {
			m.logger.Logf("prompt %s added then vanished before sync: %v", id, err)
			continue
		}
		namespaced := *entry.Prompt
		namespaced.Name = entry.ID
		m.Server.AddPrompt(&namespaced, entry.Handler)
	}
}

func (m *Manager) applyResources(cs registry.ChangeSet) {
	if len(cs.Removed) > 0 {
		m.Server.RemoveResources(cs.Removed...)
	}
	for _, id := range cs.Added {
		entry, ok := m.reg.ResourceByID(id)
		if !ok {
			continue
		}
		namespaced := *entry.Resource
		namespaced.URI = entry.URI
		m.Server.AddResource(&namespaced, entry.Handler)
	}
}

func (m *Manager) applyTemplates(cs registry.ChangeSet) {
	if len(cs.Removed) > 0 {
		m.Server.RemoveResourceTemplates(cs.Removed...)
	}
	for _, id := range cs.Added {
		entry, ok := m.reg.TemplateByID(id)
		if !ok {
			continue
		}
		namespaced := *entry.Template
		namespaced.URITemplate = entry.URITemplate
		m.Server.AddResourceTemplate(&namespaced, entry.Handler)
	}
}

// sessionTracker records connection order for a set of opaque values keyed
// by a stable id, split out from the mcp-specific glue above so it is
// unit-testable without a live go-sdk connection.
type sessionTracker struct {
	mu    sync.Mutex
	byID  map[string]any
	order []string
}

func newSessionTracker() *sessionTracker {
	return &sessionTracker{byID: make(map[string]any)}
}

func (t *sessionTracker) add(id string, v any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.byID[id]; exists {
		return
	}
	t.byID[id] = v
	t.order = append(t.order, id)
}

func (t *sessionTracker) get(id string) (any, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.byID[id]
	return v, ok
}

func (t *sessionTracker) remove(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.byID, id)
	for i, sid := range t.order {
		if sid == id {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
}

// newest returns, most-recently-added first, the first value for which
// accepts returns true.
func (t *sessionTracker) newest(accepts func(any) bool) (any, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := len(t.order) - 1; i >= 0; i-- {
		v, ok := t.byID[t.order[i]]
		if !ok {
			continue
		}
		if accepts == nil || accepts(v) {
			return v, true
		}
	}
	return nil, false
}
