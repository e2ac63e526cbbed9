// Package gateway wires the config, pool, registry, router, virtual-tool
// engine, session manager, and wire adapters into one running process (spec
// §4, overview "Composition"). It owns the reload and shutdown lifecycle;
// every other package stays ignorant of the others' existence.
package gateway

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/nullrunner/mcp-gateway/pkg/config"
	"github.com/nullrunner/mcp-gateway/pkg/eventbus"
	"github.com/nullrunner/mcp-gateway/pkg/log"
	"github.com/nullrunner/mcp-gateway/pkg/metrics"
	"github.com/nullrunner/mcp-gateway/pkg/pool"
	"github.com/nullrunner/mcp-gateway/pkg/registry"
	"github.com/nullrunner/mcp-gateway/pkg/router"
	"github.com/nullrunner/mcp-gateway/pkg/session"
	"github.com/nullrunner/mcp-gateway/pkg/vtool"
	"github.com/nullrunner/mcp-gateway/pkg/wire"
)

const clientName = "mcp-gateway"

// Surfaces selects which inbound transports Run starts, matching spec §4.G
// "speaks one of three inbound transports simultaneously if configured".
type Surfaces struct {
	Stdio          bool
	SSE            bool
	StreamableHTTP bool
}

// Gateway is the assembled process: every component plus the glue that
// reacts to config reloads.
type Gateway struct {
	path    string
	snap    atomic.Pointer[config.Snapshot]
	logger  log.Logger
	bus     *eventbus.Bus
	reg     *registry.Registry
	pool    *pool.Pool
	rtr     *router.Router
	engine  *vtool.Engine
	vtools  *virtualTools
	syncer  *upstreamSync
	manager *session.Manager
	wireSrv *wire.Server
	metrics *metrics.Metrics
}

// New assembles every component from the config loaded at path. It does not
// start listening until Run is called.
func New(path string, version string) (*Gateway, error) {
	isDefault := path == ""
	if isDefault {
		path = config.DefaultPath()
	}
	snap, err := config.Load(path, isDefault)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	g := &Gateway{
		path:   path,
		logger: log.Tagged("gateway"),
		bus:    eventbus.New(),
	}
	g.snap.Store(snap)

	g.reg = registry.New(g.bus)
	g.pool = pool.New(clientName, version)
	g.rtr = router.New(g.reg, g.pool, snap.Policies)
	g.engine = vtool.New()
	g.metrics = metrics.New()
	g.pool.Metrics = g.metrics
	g.rtr.Metrics = g.metrics

	g.manager = session.New(&mcp.Implementation{Name: clientName, Version: version}, g.reg, g.rtr)
	g.pool.SamplingHandler = func(ctx context.Context, serverID string, params *mcp.CreateMessageParams) (*mcp.CreateMessageResult, error) {
		return g.forwardSampling(ctx, serverID, params)
	}

	g.vtools = newVirtualTools(g.manager.Server, g.engine, g.rtr)
	g.syncer = newUpstreamSync(g.pool, g.rtr, g.reg)

	g.wireSrv = wire.NewServer(g.manager.Server, snap.Auth, g.metrics, g.reg, g.pool, g.currentSnapshot)

	return g, nil
}

func (g *Gateway) currentSnapshot() *config.Snapshot {
	return g.snap.Load()
}

// forwardSampling answers an upstream's sampling/createMessage request by
// routing it to the most-recently-connected downstream client (spec §4.F
// "newest" policy), the wiring point decided in the Open Questions.
func (g *Gateway) forwardSampling(ctx context.Context, serverID string, params *mcp.CreateMessageParams) (*mcp.CreateMessageResult, error) {
	reqID := session.NewRequestID()
	ss, ok := g.manager.PickSession(nil)
	if !ok {
		return nil, fmt.Errorf("sampling request from %s: no connected client session available", serverID)
	}
	g.logger.Logf("[%s] forwarding sampling request from %s", reqID, serverID)
	result, err := ss.CreateMessage(ctx, params)
	if err != nil {
		g.logger.Logf("[%s] sampling request failed: %v", reqID, err)
	}
	return result, err
}

// Run starts every long-lived component and blocks until ctx is cancelled or
// a listener fails fatally.
func (g *Gateway) Run(ctx context.Context, surfaces Surfaces) error {
	snap := g.snap.Load()

	g.syncer.syncAll(ctx, snap)
	g.vtools.apply(snap)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errs := make(chan error, 4)

	wg.Add(1)
	go func() {
		defer wg.Done()
		g.manager.Run(runCtx, g.bus)
	}()

	watcher, err := config.Watch(runCtx, g.path, snap)
	if err != nil {
		return fmt.Errorf("starting config watcher: %w", err)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		g.watchReloads(runCtx, watcher)
	}()

	if err := g.startTransports(runCtx, snap, surfaces, &wg, errs); err != nil {
		return err
	}

	g.wireSrv.SetHealthy(true)

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errs:
		g.logger.Logf("fatal transport error: %v", runErr)
	}

	g.wireSrv.SetHealthy(false)
	cancel()
	_ = watcher.Stop()
	wg.Wait()
	g.pool.Close()

	return runErr
}

// startTransports launches the surfaces named by surfaces. The HTTP
// listener is closed by wire.Server's graceful http.Server.Shutdown once
// ctx is cancelled, so Run only needs to wait on wg, not close it itself.
// Fatal errors are delivered on errs rather than returned, so a late
// listener failure can still trigger the same shutdown path as a cancelled
// context.
func (g *Gateway) startTransports(ctx context.Context, snap *config.Snapshot, surfaces Surfaces, wg *sync.WaitGroup, errs chan<- error) error {
	if surfaces.Stdio {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := g.wireSrv.StartStdio(ctx); err != nil {
				select {
				case errs <- fmt.Errorf("stdio surface: %w", err):
				default:
				}
			}
		}()
	}

	if surfaces.SSE || surfaces.StreamableHTTP {
		addr := fmt.Sprintf("%s:%d", snap.Gateway.Host, snap.Gateway.Port)
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("listening on %s: %w", addr, err)
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := g.wireSrv.StartHTTP(ctx, ln, surfaces.SSE, surfaces.StreamableHTTP, snap.StreamableHTTP); err != nil {
				select {
				case errs <- err:
				default:
				}
			}
		}()
	}

	return nil
}

// watchReloads applies each config.Watcher event to every component that
// holds config-derived state, following spec §4.A's diff-then-apply order:
// Registry first (so the catalog never briefly exposes a removed server's
// stale tools through the Router), then Router descriptors/policies, then
// the virtual-tool set.
func (g *Gateway) watchReloads(ctx context.Context, watcher *config.Watcher) {
	for {
		select {
		case <-ctx.Done():
			return
		case failure, ok := <-watcher.Failures():
			if !ok {
				return
			}
			g.logger.Logf("config reload failed, keeping previous snapshot: %v", failure.Err)
		case ev, ok := <-watcher.Events():
			if !ok {
				return
			}
			g.applyReload(ctx, ev)
		}
	}
}

func (g *Gateway) applyReload(ctx context.Context, ev config.ReloadEvent) {
	snap, diff := ev.Snap, ev.Diff
	g.snap.Store(snap)

	for _, sd := range diff.RemovedServers {
		g.reg.RemoveServer(sd.Name)
		g.pool.Release(sd.Name)
	}
	for _, sd := range diff.AddedServers {
		g.syncer.syncServer(ctx, *sd.New)
	}
	for _, sd := range diff.UpdatedServers {
		g.pool.Release(sd.Name)
		g.syncer.syncServer(ctx, *sd.New)
	}

	g.rtr.SetServers(snap.Servers)
	g.rtr.SetPolicies(snap.Policies)
	g.vtools.apply(snap)

	g.logger.Logf("applied config reload: +%d -%d ~%d servers", len(diff.AddedServers), len(diff.RemovedServers), len(diff.UpdatedServers))
}
