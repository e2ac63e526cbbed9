package vtool

import (
	"context"
	"errors"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nullrunner/mcp-gateway/pkg/config"
)

type fakeCaller struct {
	calls   []call
	results []result
}

type call struct {
	tool string
	args map[string]any
}

type result struct {
	res *mcp.CallToolResult
	err error
}

func (f *fakeCaller) CallTool(ctx context.Context, id string, args map[string]any) (*mcp.CallToolResult, error) {
	f.calls = append(f.calls, call{tool: id, args: args})
	i := len(f.calls) - 1
	if i < len(f.results) {
		return f.results[i].res, f.results[i].err
	}
	return &mcp.CallToolResult{}, nil
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}}
}

func TestRun_SequentialStepsAndSubstitution(t *testing.T) {
	caller := &fakeCaller{
		results: []result{
			{res: textResult(`{"id": "abc123"}`)},
			{res: textResult("done")},
		},
	}
	recipe := config.VirtualToolConfig{
		ID: "create-and-fetch",
		Ops: []config.VirtualToolOp{
			{Tool: "svc_create", Args: map[string]any{"name": "${name}"}},
			{Tool: "svc_fetch", Args: map[string]any{"id": "${step_0_data.id}"}},
		},
	}

	res, err := (New()).Run(context.Background(), recipe, caller, map[string]any{"name": "widget"})
	require.NoError(t, err)
	assert.False(t, res.Aborted)
	require.Len(t, caller.calls, 2)
	assert.Equal(t, "widget", caller.calls[0].args["name"])
	assert.Equal(t, "abc123", caller.calls[1].args["id"])
}

func TestRun_MissingSubstitutionLeavesLiteral(t *testing.T) {
	caller := &fakeCaller{}
	recipe := config.VirtualToolConfig{
		Ops: []config.VirtualToolOp{
			{Tool: "svc_create", Args: map[string]any{"ref": "${nope.missing}"}},
		},
	}
	_, err := (New()).Run(context.Background(), recipe, caller, nil)
	require.NoError(t, err)
	assert.Equal(t, "${nope.missing}", caller.calls[0].args["ref"])
}

func TestRun_StopOnErrorAbortsByDefault(t *testing.T) {
	boom := errors.New("boom")
	caller := &fakeCaller{results: []result{{err: boom}}}
	recipe := config.VirtualToolConfig{
		Ops: []config.VirtualToolOp{
			{Tool: "svc_fail"},
			{Tool: "svc_never_reached"},
		},
	}
	res, err := (New()).Run(context.Background(), recipe, caller, nil)
	require.Error(t, err)
	assert.True(t, res.Aborted)
	assert.Len(t, caller.calls, 1, "second op must not run after an aborting failure")
}

func TestRun_ContinuesOnErrorWhenConfigured(t *testing.T) {
	boom := errors.New("boom")
	stopOnError := false
	caller := &fakeCaller{results: []result{{err: boom}, {res: textResult("ok")}}}
	recipe := config.VirtualToolConfig{
		StopOnError: &stopOnError,
		Ops: []config.VirtualToolOp{
			{Tool: "svc_fail"},
			{Tool: "svc_recover"},
		},
	}
	res, err := (New()).Run(context.Background(), recipe, caller, nil)
	require.NoError(t, err)
	assert.False(t, res.Aborted)
	require.Len(t, res.Steps, 2)
	assert.Error(t, res.Steps[0].Err)
	assert.NoError(t, res.Steps[1].Err)
}

func TestRun_WhenClauseSkipsStep(t *testing.T) {
	caller := &fakeCaller{results: []result{{res: textResult("ok")}}}
	recipe := config.VirtualToolConfig{
		Ops: []config.VirtualToolOp{
			{Tool: "svc_conditional", When: "flag == true"},
			{Tool: "svc_always"},
		},
	}
	res, err := (New()).Run(context.Background(), recipe, caller, map[string]any{"flag": false})
	require.NoError(t, err)
	require.Len(t, res.Steps, 2)
	assert.True(t, res.Steps[0].Skipped)
	assert.False(t, res.Steps[1].Skipped)
	assert.Len(t, caller.calls, 1, "skipped step must not call the router")
	assert.Equal(t, "svc_always", caller.calls[0].tool)
}

func TestRun_WhenClauseRunsStepOnTrue(t *testing.T) {
	caller := &fakeCaller{results: []result{{res: textResult("ok")}}}
	recipe := config.VirtualToolConfig{
		Ops: []config.VirtualToolOp{
			{Tool: "svc_conditional", When: "flag == true"},
		},
	}
	res, err := (New()).Run(context.Background(), recipe, caller, map[string]any{"flag": true})
	require.NoError(t, err)
	require.Len(t, res.Steps, 1)
	assert.False(t, res.Steps[0].Skipped)
	assert.Len(t, caller.calls, 1)
}
