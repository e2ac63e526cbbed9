package gateway

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nullrunner/mcp-gateway/pkg/config"
	"github.com/nullrunner/mcp-gateway/pkg/eventbus"
	"github.com/nullrunner/mcp-gateway/pkg/pool"
	"github.com/nullrunner/mcp-gateway/pkg/registry"
	"github.com/nullrunner/mcp-gateway/pkg/router"
)

func TestSyncServer_DisabledCascadesRemoval(t *testing.T) {
	reg := registry.New(eventbus.New())
	p := pool.New("test", "0.0.0")
	rtr := router.New(reg, p, config.DefaultPolicies())
	s := newUpstreamSync(p, rtr, reg)

	assert.NotPanics(t, func() {
		s.syncServer(context.Background(), config.ServerConfig{Name: "fs", Enabled: false})
	})

	cat := reg.Catalog()
	assert.Empty(t, cat.Tools)
}

func TestSyncAll_SkipsEachDisabledServer(t *testing.T) {
	reg := registry.New(eventbus.New())
	p := pool.New("test", "0.0.0")
	rtr := router.New(reg, p, config.DefaultPolicies())
	s := newUpstreamSync(p, rtr, reg)

	snap := &config.Snapshot{Servers: []config.ServerConfig{
		{Name: "fs", Enabled: false},
		{Name: "git", Enabled: false},
	}}

	assert.NotPanics(t, func() {
		s.syncAll(context.Background(), snap)
	})
}
