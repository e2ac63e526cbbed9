package gateway

import (
	"context"
	"encoding/json"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/nullrunner/mcp-gateway/pkg/config"
	"github.com/nullrunner/mcp-gateway/pkg/log"
	"github.com/nullrunner/mcp-gateway/pkg/vtool"
)

// virtualToolCaller is the narrow slice of *router.Router vtool handlers need.
type virtualToolCaller interface {
	CallTool(ctx context.Context, id string, args map[string]any) (*mcp.CallToolResult, error)
}

// virtualTools registers spec §4.E's composite tools directly on the shared
// server — unlike upstream tools they have no owning serverId to namespace
// under, so their configured id is their MCP name verbatim.
type virtualTools struct {
	server  *mcp.Server
	engine  *vtool.Engine
	router  virtualToolCaller
	logger  log.Logger
	current map[string]bool
}

func newVirtualTools(server *mcp.Server, engine *vtool.Engine, router virtualToolCaller) *virtualTools {
	return &virtualTools{server: server, engine: engine, router: router, logger: log.Tagged("vtool"), current: make(map[string]bool)}
}

// apply reconciles the registered set with snap.VirtualTools, added/changed
// recipes get re-added (AddTool replaces by name) and dropped ones removed.
func (v *virtualTools) apply(snap *config.Snapshot) {
	next := make(map[string]bool, len(snap.VirtualTools))
	for _, recipe := range snap.VirtualTools {
		next[recipe.ID] = true
		v.server.AddTool(toolFromRecipe(recipe), v.handlerFor(recipe))
	}

	var removed []string
	for id := range v.current {
		if !next[id] {
			removed = append(removed, id)
		}
	}
	if len(removed) > 0 {
		v.server.RemoveTools(removed...)
	}
	v.current = next
}

func (v *virtualTools) handlerFor(recipe config.VirtualToolConfig) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		result, err := v.engine.Run(ctx, recipe, v.router, req.Params.Arguments)
		if err != nil && result == nil {
			return nil, err
		}
		return summarize(result), nil
	}
}

// summarize renders a vtool.Result as the final call's content, matching the
// teacher's convention of surfacing the last successful step's output
// verbatim rather than inventing a wrapper payload.
func summarize(result *vtool.Result) *mcp.CallToolResult {
	if result == nil || result.Last == nil {
		return &mcp.CallToolResult{
			IsError: true,
			Content: []mcp.Content{&mcp.TextContent{Text: "virtual tool produced no output"}},
		}
	}
	out := *result.Last
	out.IsError = out.IsError || result.Aborted
	return &out
}

func toolFromRecipe(recipe config.VirtualToolConfig) *mcp.Tool {
	return &mcp.Tool{
		Name:        recipe.ID,
		Description: recipe.Description,
		InputSchema: schemaFromMap(recipe.InputSchema),
	}
}

// schemaFromMap round-trips a raw JSON-schema map (as stored in config) into
// the jsonschema-go type mcp.Tool.InputSchema expects.
func schemaFromMap(m map[string]any) *jsonschema.Schema {
	if len(m) == 0 {
		return &jsonschema.Schema{Type: "object"}
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return &jsonschema.Schema{Type: "object"}
	}
	var schema jsonschema.Schema
	if err := json.Unmarshal(raw, &schema); err != nil {
		return &jsonschema.Schema{Type: "object"}
	}
	return &schema
}
