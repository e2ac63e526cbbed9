package registry

import "github.com/modelcontextprotocol/go-sdk/mcp"

// ToolEntry is a namespaced tool owned by one upstream (spec §3 "Catalog entry").
type ToolEntry struct {
	ID       string
	ServerID string
	Version  uint64
	Tool     *mcp.Tool
	Handler  mcp.ToolHandler
}

// PromptEntry is a namespaced prompt.
type PromptEntry struct {
	ID       string
	ServerID string
	Version  uint64
	Prompt   *mcp.Prompt
	Handler  mcp.PromptHandler
}

// ResourceEntry is a namespaced literal resource. URI is the
// downstream-visible URI (rewritten to encode the owner, spec §3); OriginalURI
// is the upstream-advertised URI used when forwarding reads/subscribes.
type ResourceEntry struct {
	ID          string
	ServerID    string
	Version     uint64
	URI         string
	OriginalURI string
	Resource    *mcp.Resource
	Handler     mcp.ResourceHandler
}

// ResourceTemplateEntry is a namespaced RFC 6570 resource template.
type ResourceTemplateEntry struct {
	ID               string
	ServerID         string
	Version          uint64
	URITemplate      string
	OriginalTemplate string
	Template         *mcp.ResourceTemplate
	Handler          mcp.ResourceHandler
}

// ServerCatalog is what SyncServer receives after a tools/prompts/resources
// list round-trip to one upstream, prior to namespacing.
type ServerCatalog struct {
	Tools             []UpstreamTool
	Prompts           []UpstreamPrompt
	Resources         []UpstreamResource
	ResourceTemplates []UpstreamResourceTemplate
}

type UpstreamTool struct {
	Tool    *mcp.Tool
	Handler mcp.ToolHandler
}

type UpstreamPrompt struct {
	Prompt  *mcp.Prompt
	Handler mcp.PromptHandler
}

type UpstreamResource struct {
	Resource *mcp.Resource
	Handler  mcp.ResourceHandler
}

type UpstreamResourceTemplate struct {
	Template *mcp.ResourceTemplate
	Handler  mcp.ResourceHandler
}

// Catalog is the serialized, cached aggregate view consumers read (spec
// §4.C "maintain a single serialized MCP catalog blob with a monotonic
// version").
type Catalog struct {
	Version           uint64
	Tools             []*mcp.Tool
	Prompts           []*mcp.Prompt
	Resources         []*mcp.Resource
	ResourceTemplates []*mcp.ResourceTemplate
}
