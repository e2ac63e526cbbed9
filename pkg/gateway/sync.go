package gateway

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/nullrunner/mcp-gateway/pkg/config"
	"github.com/nullrunner/mcp-gateway/pkg/log"
	"github.com/nullrunner/mcp-gateway/pkg/pool"
	"github.com/nullrunner/mcp-gateway/pkg/registry"
	"github.com/nullrunner/mcp-gateway/pkg/router"
)

// upstreamSync lists one upstream's tools/prompts/resources/resource
// templates after a pool connection succeeds and builds the Handler
// closures Registry stores alongside each entry, grounded on the teacher's
// listCapabilities/mcpServerToolHandler pattern (pkg/gateway/capabilitites.go):
// the handler always re-resolves through the Router by the entry's
// namespaced id, so a reconnect or upstream restart never leaves a stale
// client captured in a closure.
type upstreamSync struct {
	pool   *pool.Pool
	router *router.Router
	reg    *registry.Registry
	logger log.Logger
}

func newUpstreamSync(p *pool.Pool, rtr *router.Router, reg *registry.Registry) *upstreamSync {
	return &upstreamSync{pool: p, router: rtr, reg: reg, logger: log.Tagged("sync")}
}

// syncServer refreshes sc's catalog entries. A disabled server is synced
// with an empty catalog, cascading removal of anything it previously
// contributed (spec §3 "deletion of serverId cascades").
func (s *upstreamSync) syncServer(ctx context.Context, sc config.ServerConfig) {
	if !sc.Enabled {
		s.reg.RemoveServer(sc.Name)
		return
	}

	transport, err := s.pool.GetTransport(ctx, pool.FromServerConfig(sc))
	if err != nil {
		s.logger.Logf("sync %s: connect failed: %v", sc.Name, err)
		return
	}
	session := transport.Session()

	var cat registry.ServerCatalog

	toolsResult, err := session.ListTools(ctx, &mcp.ListToolsParams{})
	if err != nil {
		s.logger.Logf("sync %s: list tools failed: %v", sc.Name, err)
	} else {
		for _, tool := range toolsResult.Tools {
			toolName := tool.Name
			cat.Tools = append(cat.Tools, registry.UpstreamTool{
				Tool: tool,
				Handler: func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
					return s.router.CallTool(ctx, registry.Namespace(sc.Name, toolName), req.Params.Arguments)
				},
			})
		}
	}

	promptsResult, err := session.ListPrompts(ctx, &mcp.ListPromptsParams{})
	if err != nil {
		s.logger.Logf("sync %s: list prompts failed: %v", sc.Name, err)
	} else {
		for _, prompt := range promptsResult.Prompts {
			promptName := prompt.Name
			cat.Prompts = append(cat.Prompts, registry.UpstreamPrompt{
				Prompt: prompt,
				Handler: func(ctx context.Context, req *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
					return s.router.GetPrompt(ctx, registry.Namespace(sc.Name, promptName), req.Params.Arguments)
				},
			})
		}
	}

	resourcesResult, err := session.ListResources(ctx, &mcp.ListResourcesParams{})
	if err != nil {
		s.logger.Logf("sync %s: list resources failed: %v", sc.Name, err)
	} else {
		for _, resource := range resourcesResult.Resources {
			cat.Resources = append(cat.Resources, registry.UpstreamResource{
				Resource: resource,
				Handler: func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
					return s.router.ReadResource(ctx, req.Params.URI)
				},
			})
		}
	}

	templatesResult, err := session.ListResourceTemplates(ctx, &mcp.ListResourceTemplatesParams{})
	if err != nil {
		s.logger.Logf("sync %s: list resource templates failed: %v", sc.Name, err)
	} else {
		for _, tmpl := range templatesResult.ResourceTemplates {
			cat.ResourceTemplates = append(cat.ResourceTemplates, registry.UpstreamResourceTemplate{
				Template: tmpl,
				Handler: func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
					return s.router.ReadResource(ctx, req.Params.URI)
				},
			})
		}
	}

	s.reg.SyncServer(sc.Name, cat)
	s.logger.Logf("synced %s: %d tools, %d prompts, %d resources, %d templates",
		sc.Name, len(cat.Tools), len(cat.Prompts), len(cat.Resources), len(cat.ResourceTemplates))
}

// syncAll syncs every server named in snap, sequentially. Called once at
// startup and again after every config reload diff that touches servers.
func (s *upstreamSync) syncAll(ctx context.Context, snap *config.Snapshot) {
	for _, sc := range snap.Servers {
		s.syncServer(ctx, sc)
	}
}
