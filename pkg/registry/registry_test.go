package registry

import (
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nullrunner/mcp-gateway/pkg/eventbus"
	"github.com/nullrunner/mcp-gateway/pkg/gwerrors"
)

func TestSyncServer_NamespacesAndPublishes(t *testing.T) {
	bus := eventbus.New()
	events, unsub := bus.Subscribe()
	defer unsub()

	r := New(bus)
	r.SyncServer("fs", ServerCatalog{
		Tools: []UpstreamTool{{Tool: &mcp.Tool{Name: "read_file"}}},
	})

	entry, err := r.FindTool("fs_read_file")
	require.NoError(t, err)
	assert.Equal(t, "fs", entry.ServerID)

	select {
	case ev := <-events:
		assert.Equal(t, "tool-change", ev.Kind)
	default:
		t.Fatal("expected a tool-change event")
	}
}

func TestFindTool_BareNameFallback(t *testing.T) {
	r := New(eventbus.New())
	r.SyncServer("fs", ServerCatalog{Tools: []UpstreamTool{{Tool: &mcp.Tool{Name: "read_file"}}}})

	entry, err := r.FindTool("read_file")
	require.NoError(t, err)
	assert.Equal(t, "fs_read_file", entry.ID)
}

func TestFindTool_AmbiguousBareName(t *testing.T) {
	r := New(eventbus.New())
	r.SyncServer("fs", ServerCatalog{Tools: []UpstreamTool{{Tool: &mcp.Tool{Name: "search"}}}})
	r.SyncServer("web", ServerCatalog{Tools: []UpstreamTool{{Tool: &mcp.Tool{Name: "search"}}}})

	_, err := r.FindTool("search")
	require.Error(t, err)
	assert.Equal(t, gwerrors.KindConflict, gwerrors.Of(err))
}

func TestFindTool_NotFound(t *testing.T) {
	r := New(eventbus.New())
	_, err := r.FindTool("nope")
	require.Error(t, err)
	assert.Equal(t, gwerrors.KindNotFound, gwerrors.Of(err))
}

func TestFindPrompt_UnqualifiedConflict(t *testing.T) {
	r := New(eventbus.New())
	r.SyncServer("a", ServerCatalog{Prompts: []UpstreamPrompt{{Prompt: &mcp.Prompt{Name: "summarize"}}}})
	r.SyncServer("b", ServerCatalog{Prompts: []UpstreamPrompt{{Prompt: &mcp.Prompt{Name: "summarize"}}}})

	_, err := r.FindPrompt("summarize")
	require.Error(t, err)
	assert.Equal(t, gwerrors.KindConflict, gwerrors.Of(err))

	entry, err := r.FindPrompt("a_summarize")
	require.NoError(t, err)
	assert.Equal(t, "a", entry.ServerID)
}

func TestRemoveServer_CascadesDeletion(t *testing.T) {
	bus := eventbus.New()
	r := New(bus)
	r.SyncServer("fs", ServerCatalog{
		Tools:   []UpstreamTool{{Tool: &mcp.Tool{Name: "read_file"}}},
		Prompts: []UpstreamPrompt{{Prompt: &mcp.Prompt{Name: "explain"}}},
	})

	r.RemoveServer("fs")

	_, err := r.FindTool("fs_read_file")
	require.Error(t, err)
	assert.Equal(t, gwerrors.KindNotFound, gwerrors.Of(err))

	cat := r.Catalog()
	assert.Empty(t, cat.Tools)
	assert.Empty(t, cat.Prompts)
}

func TestCatalog_CachedUntilInvalidated(t *testing.T) {
	r := New(eventbus.New())
	r.SyncServer("fs", ServerCatalog{Tools: []UpstreamTool{{Tool: &mcp.Tool{Name: "a"}}}})

	c1 := r.Catalog()
	c2 := r.Catalog()
	assert.Same(t, c1, c2, "unchanged registry should return the same cached blob")

	r.SyncServer("fs", ServerCatalog{Tools: []UpstreamTool{{Tool: &mcp.Tool{Name: "a"}}, {Tool: &mcp.Tool{Name: "b"}}}})
	c3 := r.Catalog()
	assert.NotSame(t, c1, c3)
	assert.Len(t, c3.Tools, 2)
}

func TestSubscriptions_RefCountedAcrossSessions(t *testing.T) {
	r := New(eventbus.New())
	r.SyncServer("fs", ServerCatalog{Resources: []UpstreamResource{{Resource: &mcp.Resource{URI: "file:///a"}}}})

	first := r.Subscribe("sessA", "fs_file:///a")
	assert.True(t, first)
	second := r.Subscribe("sessB", "fs_file:///a")
	assert.False(t, second, "second subscriber should not report first-subscriber")

	last := r.Unsubscribe("sessA", "fs_file:///a")
	assert.False(t, last, "one remaining subscriber means not last")
	last = r.Unsubscribe("sessB", "fs_file:///a")
	assert.True(t, last)
}

func TestUnsubscribeAll_OnSessionDisconnect(t *testing.T) {
	r := New(eventbus.New())
	r.Subscribe("sess1", "a")
	r.Subscribe("sess1", "b")
	r.Subscribe("sess2", "a")

	drained := r.UnsubscribeAll("sess1")
	assert.ElementsMatch(t, []string{"b"}, drained, "only entries with no remaining subscribers are reported")
	assert.ElementsMatch(t, []string{"sess2"}, r.Subscribers("a"))
}

func TestMatchResourceURI(t *testing.T) {
	r := New(eventbus.New())
	r.SyncServer("fs", ServerCatalog{
		ResourceTemplates: []UpstreamResourceTemplate{
			{Template: &mcp.ResourceTemplate{URITemplate: "file:///{path}"}},
		},
	})

	matches := r.MatchResourceURI("fs_file:///hosts")
	require.Len(t, matches, 1)
	assert.Equal(t, "hosts", matches[0].Vars["path"])
}
