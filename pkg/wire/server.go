// Package wire implements the inbound transports of spec §4.G: stdio,
// SSE, and streamable-HTTP surfaces over the shared *mcp.Server the
// session manager builds, plus the operational HTTP endpoints of spec §6
// (/health, /status, /tools, /servers, /metrics).
package wire

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nullrunner/mcp-gateway/pkg/config"
	"github.com/nullrunner/mcp-gateway/pkg/metrics"
	"github.com/nullrunner/mcp-gateway/pkg/pool"
	"github.com/nullrunner/mcp-gateway/pkg/registry"
)

// defaultShutdownTimeout applies when a snapshot's Policies.ShutdownTimeout
// is zero, matching config.DefaultPolicies.
const defaultShutdownTimeout = 10 * time.Second

// poolHealth is the narrow slice of *pool.Pool the operational endpoints need.
type poolHealth interface {
	Health() []pool.Health
}

// catalogProvider is the narrow slice of *registry.Registry the operational
// endpoints need.
type catalogProvider interface {
	Catalog() *registry.Catalog
}

// Server bundles the shared MCP server with the operational surfaces spec
// §6 describes. The composition root builds one Server and calls whichever
// of StartStdio/StartSSE/StartStreamableHTTP matches the configured
// transport.
type Server struct {
	MCPServer *mcp.Server

	Auth     config.AuthConfig
	Metrics  *metrics.Metrics
	Catalog  catalogProvider
	Pool     poolHealth
	Snapshot func() *config.Snapshot

	health    *healthState
	startedAt time.Time
}

// shutdownTimeout reads the current snapshot's Policies.ShutdownTimeout,
// falling back to defaultShutdownTimeout when unset.
func (s *Server) shutdownTimeout() time.Duration {
	if s.Snapshot == nil {
		return defaultShutdownTimeout
	}
	snap := s.Snapshot()
	if snap == nil || snap.Policies.ShutdownTimeout <= 0 {
		return defaultShutdownTimeout
	}
	return time.Duration(snap.Policies.ShutdownTimeout) * time.Millisecond
}

// NewServer wires a Server. snapshot returns the gateway's current config
// snapshot, typically backed by the composition root's atomic holder over
// config.Watcher's stream of ReloadEvent.
func NewServer(mcpServer *mcp.Server, auth config.AuthConfig, m *metrics.Metrics, cat catalogProvider, p poolHealth, snapshot func() *config.Snapshot) *Server {
	return &Server{
		MCPServer: mcpServer,
		Auth:      auth,
		Metrics:   m,
		Catalog:   cat,
		Pool:      p,
		Snapshot:  snapshot,
		health:    newHealthState(),
		startedAt: time.Now(),
	}
}

// SetHealthy flips the /health liveness flag. The composition root calls
// this once startup finishes, and again with false when shutdown begins.
func (s *Server) SetHealthy(v bool) {
	s.health.SetHealthy(v)
}

// StartStdio runs the shared MCP server over stdio until ctx is cancelled
// or the stream closes (spec §4.G stdio surface).
func (s *Server) StartStdio(ctx context.Context) error {
	return s.MCPServer.Run(ctx, &mcp.StdioTransport{})
}

// StartHTTP serves the operational endpoints plus whichever of the SSE
// (/sse) and streamable-HTTP (/mcp) inbound surfaces are requested, on one
// shared listener (spec §4.G "speaks one of three inbound transports
// simultaneously if configured"). At least one of sse/streamableHTTP should
// be true; if both are false only the operational endpoints are served.
func (s *Server) StartHTTP(ctx context.Context, ln net.Listener, sse, streamableHTTP bool, cfg *config.StreamableHTTPConfig) error {
	mux := http.NewServeMux()
	s.mountOperational(mux)
	if sse {
		s.mountSSE(mux)
	}
	if streamableHTTP {
		s.mountStreamableHTTP(mux, cfg)
	}
	return s.serve(ctx, ln, mux)
}

func (s *Server) mountSSE(mux *http.ServeMux) {
	sseHandler := mcp.NewSSEHandler(func(_ *http.Request) *mcp.Server { return s.MCPServer }, nil)
	mux.Handle("/sse", originSecurity(sseHandler))
}

func (s *Server) mountStreamableHTTP(mux *http.ServeMux, cfg *config.StreamableHTTPConfig) {
	opts := &mcp.StreamableHTTPOptions{}
	if cfg != nil {
		opts.Stateless = cfg.Stateless
	}
	streamHandler := mcp.NewStreamableHTTPHandler(func(_ *http.Request) *mcp.Server { return s.MCPServer }, opts)
	mux.Handle("/mcp", originSecurity(streamHandler))
}

func (s *Server) serve(ctx context.Context, ln net.Listener, mux *http.ServeMux) error {
	var handler http.Handler = mux
	handler = authMiddleware(s.Auth, handler)

	httpServer := &http.Server{Handler: handler}
	go func() {
		<-ctx.Done()
		// Stop accepting new connections and give in-flight requests up to
		// the configured shutdown timeout before force-closing them (spec
		// §5 "Graceful shutdown").
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout())
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			_ = httpServer.Close()
		}
	}()
	err := httpServer.Serve(ln)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) mountOperational(mux *http.ServeMux) {
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/tools", s.handleTools)
	mux.HandleFunc("/servers", s.handleServers)
	mux.HandleFunc("/metrics", s.handleMetricsJSON)
	mux.Handle("/metrics/prometheus", promhttp.HandlerFor(s.Metrics.Registry, promhttp.HandlerOpts{}))
}

// healthCounts tallies a pool health snapshot into online/offline per spec
// §6's /health shape. Only StateConnected counts as online; every other
// state (disconnected, connecting, reconnecting, failed) counts as offline.
type healthCounts struct {
	Total   int `json:"total"`
	Online  int `json:"online"`
	Offline int `json:"offline"`
}

func countHealth(rows []pool.Health) healthCounts {
	c := healthCounts{Total: len(rows)}
	for _, h := range rows {
		if h.State == pool.StateConnected {
			c.Online++
		}
	}
	c.Offline = c.Total - c.Online
	return c
}

type healthResponse struct {
	Status  string       `json:"status"`
	Uptime  float64      `json:"uptime"`
	Servers healthCounts `json:"servers"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	counts := countHealth(s.Pool.Health())

	status := "healthy"
	switch {
	case !s.health.IsHealthy():
		status = "unhealthy"
	case counts.Total > 0 && counts.Online == 0:
		status = "unhealthy"
	case counts.Offline > 0:
		status = "degraded"
	}

	code := http.StatusOK
	if status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	writeJSONStatus(w, code, healthResponse{
		Status:  status,
		Uptime:  time.Since(s.startedAt).Seconds(),
		Servers: counts,
	})
}

type statusResponse struct {
	Healthy bool               `json:"healthy"`
	Servers []serverHealthView `json:"servers"`
}

type serverHealthView struct {
	ServerID  string `json:"serverId"`
	State     string `json:"state"`
	Breaker   string `json:"breaker"`
	LastErr   string `json:"lastError,omitempty"`
	ToolCount int    `json:"toolCount"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	rows := s.Pool.Health()

	knownServerIDs := make(map[string]bool, len(rows))
	for _, h := range rows {
		knownServerIDs[h.ServerID] = true
	}

	toolCounts := make(map[string]int, len(rows))
	for _, t := range s.Catalog.Catalog().Tools {
		serverID, _, ok := registry.ParseNamespacedKnown(t.Name, knownServerIDs)
		if !ok {
			continue
		}
		toolCounts[serverID]++
	}

	resp := statusResponse{Healthy: s.health.IsHealthy()}
	for _, h := range rows {
		view := serverHealthView{
			ServerID:  h.ServerID,
			State:     h.State.String(),
			Breaker:   h.Breaker.String(),
			ToolCount: toolCounts[h.ServerID],
		}
		if h.LastError != nil {
			view.LastErr = h.LastError.Error()
		}
		resp.Servers = append(resp.Servers, view)
	}
	writeJSON(w, resp)
}

type toolView struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

func (s *Server) handleTools(w http.ResponseWriter, _ *http.Request) {
	cat := s.Catalog.Catalog()
	tools := make([]toolView, 0, len(cat.Tools))
	for _, t := range cat.Tools {
		tools = append(tools, toolView{Name: t.Name, Description: t.Description})
	}
	writeJSON(w, tools)
}

type serverView struct {
	Name      string `json:"name"`
	Transport string `json:"transport"`
	Enabled   bool   `json:"enabled"`
}

func (s *Server) handleServers(w http.ResponseWriter, _ *http.Request) {
	snap := s.Snapshot()
	out := make([]serverView, 0, len(snap.Servers))
	for _, sc := range snap.Servers {
		out = append(out, serverView{Name: sc.Name, Transport: string(sc.Transport), Enabled: sc.Enabled})
	}
	writeJSON(w, out)
}

func (s *Server) handleMetricsJSON(w http.ResponseWriter, _ *http.Request) {
	snap, err := s.Metrics.Snapshot()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, snap)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	_ = enc.Encode(v)
}

func writeJSONStatus(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	_ = enc.Encode(v)
}
