package wire

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nullrunner/mcp-gateway/pkg/config"
	"github.com/nullrunner/mcp-gateway/pkg/metrics"
	"github.com/nullrunner/mcp-gateway/pkg/pool"
	"github.com/nullrunner/mcp-gateway/pkg/registry"
)

type fakeCatalog struct {
	cat *registry.Catalog
}

func (f *fakeCatalog) Catalog() *registry.Catalog { return f.cat }

type fakePool struct {
	health []pool.Health
}

func (f *fakePool) Health() []pool.Health { return f.health }

func newTestServer() *Server {
	return NewServer(
		mcp.NewServer(&mcp.Implementation{Name: "test", Version: "0.0.0"}, nil),
		config.AuthConfig{},
		metrics.New(),
		&fakeCatalog{cat: &registry.Catalog{Tools: []*mcp.Tool{{Name: "read_file", Description: "reads a file"}}}},
		&fakePool{health: []pool.Health{{ServerID: "fs", State: pool.StateConnected}}},
		func() *config.Snapshot {
			return &config.Snapshot{Servers: []config.ServerConfig{{Name: "fs", Transport: config.TransportStdio, Enabled: true}}}
		},
	)
}

func TestHandleHealth_ReflectsHealthyFlag(t *testing.T) {
	s := newTestServer()
	mux := http.NewServeMux()
	s.mountOperational(mux)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	s.SetHealthy(true)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleHealth_ReportsBodyFields(t *testing.T) {
	s := newTestServer()
	s.SetHealthy(true)
	mux := http.NewServeMux()
	s.mountOperational(mux)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.GreaterOrEqual(t, resp.Uptime, 0.0)
	assert.Equal(t, 1, resp.Servers.Total)
	assert.Equal(t, 1, resp.Servers.Online)
	assert.Equal(t, 0, resp.Servers.Offline)
}

func TestHandleHealth_DegradedWhenSomeServersOffline(t *testing.T) {
	s := NewServer(
		mcp.NewServer(&mcp.Implementation{Name: "test", Version: "0.0.0"}, nil),
		config.AuthConfig{},
		metrics.New(),
		&fakeCatalog{cat: &registry.Catalog{}},
		&fakePool{health: []pool.Health{
			{ServerID: "fs", State: pool.StateConnected},
			{ServerID: "git", State: pool.StateDisconnected},
		}},
		func() *config.Snapshot { return &config.Snapshot{} },
	)
	s.SetHealthy(true)
	mux := http.NewServeMux()
	s.mountOperational(mux)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, 2, resp.Servers.Total)
	assert.Equal(t, 1, resp.Servers.Online)
	assert.Equal(t, 1, resp.Servers.Offline)
}

func TestHandleTools_ReturnsCatalogEntries(t *testing.T) {
	s := newTestServer()
	mux := http.NewServeMux()
	s.mountOperational(mux)

	req := httptest.NewRequest(http.MethodGet, "/tools", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var tools []toolView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tools))
	require.Len(t, tools, 1)
	assert.Equal(t, "read_file", tools[0].Name)
}

func TestHandleServers_ReturnsConfiguredServers(t *testing.T) {
	s := newTestServer()
	mux := http.NewServeMux()
	s.mountOperational(mux)

	req := httptest.NewRequest(http.MethodGet, "/servers", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var servers []serverView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &servers))
	require.Len(t, servers, 1)
	assert.Equal(t, "fs", servers[0].Name)
	assert.True(t, servers[0].Enabled)
}

func TestHandleStatus_ReportsPoolHealth(t *testing.T) {
	s := newTestServer()
	mux := http.NewServeMux()
	s.mountOperational(mux)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Servers, 1)
	assert.Equal(t, "connected", resp.Servers[0].State)
}

func TestHandleStatus_ReportsToolCountPerServer(t *testing.T) {
	s := NewServer(
		mcp.NewServer(&mcp.Implementation{Name: "test", Version: "0.0.0"}, nil),
		config.AuthConfig{},
		metrics.New(),
		&fakeCatalog{cat: &registry.Catalog{Tools: []*mcp.Tool{
			{Name: "fs_read_file"},
			{Name: "fs_write_file"},
			{Name: "git_log"},
		}}},
		&fakePool{health: []pool.Health{
			{ServerID: "fs", State: pool.StateConnected},
			{ServerID: "git", State: pool.StateConnected},
		}},
		func() *config.Snapshot { return &config.Snapshot{} },
	)
	mux := http.NewServeMux()
	s.mountOperational(mux)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Servers, 2)
	counts := map[string]int{}
	for _, sv := range resp.Servers {
		counts[sv.ServerID] = sv.ToolCount
	}
	assert.Equal(t, 2, counts["fs"])
	assert.Equal(t, 1, counts["git"])
}

func TestAuthMiddleware_RejectsMissingToken(t *testing.T) {
	cfg := config.AuthConfig{Enabled: true, Token: "secret"}
	handler := authMiddleware(cfg, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthMiddleware_AcceptsValidBearerToken(t *testing.T) {
	cfg := config.AuthConfig{Enabled: true, Token: "secret"}
	handler := authMiddleware(cfg, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthMiddleware_ExemptsHealthEndpoint(t *testing.T) {
	cfg := config.AuthConfig{Enabled: true, Token: "secret"}
	handler := authMiddleware(cfg, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthMiddleware_DisabledPassesThrough(t *testing.T) {
	cfg := config.AuthConfig{Enabled: false}
	handler := authMiddleware(cfg, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestOriginSecurity_RejectsNonLoopbackOrigin(t *testing.T) {
	handler := originSecurity(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/sse", nil)
	req.Header.Set("Origin", "http://evil.example.com")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestOriginSecurity_AllowsLoopbackOrigin(t *testing.T) {
	handler := originSecurity(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/sse", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestOriginSecurity_AllowsNoOriginHeader(t *testing.T) {
	handler := originSecurity(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/sse", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGenerateAuthToken_ProducesExpectedLength(t *testing.T) {
	token, err := GenerateAuthToken()
	require.NoError(t, err)
	assert.Len(t, token, tokenLength)
}
