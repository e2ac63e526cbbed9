package session

import (
	"context"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nullrunner/mcp-gateway/pkg/eventbus"
	"github.com/nullrunner/mcp-gateway/pkg/registry"
)

func TestSessionTracker_NewestReturnsMostRecentlyAdded(t *testing.T) {
	tr := newSessionTracker()
	tr.add("a", "first")
	tr.add("b", "second")
	tr.add("c", "third")

	v, ok := tr.newest(nil)
	require.True(t, ok)
	assert.Equal(t, "third", v)
}

func TestSessionTracker_NewestSkipsRejected(t *testing.T) {
	tr := newSessionTracker()
	tr.add("a", 1)
	tr.add("b", 2)
	tr.add("c", 3)

	v, ok := tr.newest(func(v any) bool { return v.(int) != 3 })
	require.True(t, ok)
	assert.Equal(t, 2, v)
}

func TestSessionTracker_AddIgnoresDuplicateID(t *testing.T) {
	tr := newSessionTracker()
	tr.add("a", "first")
	tr.add("a", "second")

	v, ok := tr.get("a")
	require.True(t, ok)
	assert.Equal(t, "first", v)
}

func TestSessionTracker_RemoveDropsFromOrderAndLookup(t *testing.T) {
	tr := newSessionTracker()
	tr.add("a", "first")
	tr.add("b", "second")
	tr.remove("a")

	_, ok := tr.get("a")
	assert.False(t, ok)

	v, ok := tr.newest(nil)
	require.True(t, ok)
	assert.Equal(t, "second", v)
}

func TestSessionTracker_NewestOnEmptyReturnsFalse(t *testing.T) {
	tr := newSessionTracker()
	_, ok := tr.newest(nil)
	assert.False(t, ok)
}

type fakeResourceRouter struct {
	subscribed   []string
	unsubscribed []string
	err          error
}

func (f *fakeResourceRouter) SubscribeResource(ctx context.Context, sessionID, uri string) error {
	f.subscribed = append(f.subscribed, sessionID+"|"+uri)
	return f.err
}

func (f *fakeResourceRouter) UnsubscribeResource(ctx context.Context, sessionID, uri string) error {
	f.unsubscribed = append(f.unsubscribed, sessionID+"|"+uri)
	return f.err
}

func newTestManager(t *testing.T, reg *registry.Registry) (*Manager, *fakeResourceRouter) {
	t.Helper()
	rtr := &fakeResourceRouter{}
	m := New(&mcp.Implementation{Name: "test-gateway", Version: "0.0.0"}, reg, rtr)
	return m, rtr
}

func TestForwardSubscribe_UsesSharedPseudoSessionID(t *testing.T) {
	bus := eventbus.New()
	reg := registry.New(bus)
	m, rtr := newTestManager(t, reg)

	err := m.forwardSubscribe(context.Background(), "fs:///etc/hosts")
	require.NoError(t, err)
	require.Len(t, rtr.subscribed, 1)
	assert.Equal(t, sdkManagedSubscriber+"|fs:///etc/hosts", rtr.subscribed[0])
}

func TestForwardUnsubscribe_UsesSharedPseudoSessionID(t *testing.T) {
	bus := eventbus.New()
	reg := registry.New(bus)
	m, rtr := newTestManager(t, reg)

	err := m.forwardUnsubscribe(context.Background(), "fs:///etc/hosts")
	require.NoError(t, err)
	require.Len(t, rtr.unsubscribed, 1)
	assert.Equal(t, sdkManagedSubscriber+"|fs:///etc/hosts", rtr.unsubscribed[0])
}

func TestApplyTools_AddsResolvedEntry(t *testing.T) {
	bus := eventbus.New()
	reg := registry.New(bus)
	reg.SyncServer("fs", registry.ServerCatalog{
		Tools: []registry.UpstreamTool{{Tool: &mcp.Tool{Name: "read_file"}}},
	})
	m, _ := newTestManager(t, reg)

	entry, err := reg.FindTool("fs_read_file")
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		m.applyTools(registry.ChangeSet{Added: []string{entry.ID}})
	})
}

func TestApplyTools_SkipsEntryThatVanishedBeforeSync(t *testing.T) {
	bus := eventbus.New()
	reg := registry.New(bus)
	m, _ := newTestManager(t, reg)

	assert.NotPanics(t, func() {
		m.applyTools(registry.ChangeSet{Added: []string{"ghost_tool"}})
	})
}

func TestApplyResources_SkipsEntryThatVanishedBeforeSync(t *testing.T) {
	bus := eventbus.New()
	reg := registry.New(bus)
	m, _ := newTestManager(t, reg)

	assert.NotPanics(t, func() {
		m.applyResources(registry.ChangeSet{Added: []string{"ghost_resource"}})
	})
}

func TestApplyTemplates_SkipsEntryThatVanishedBeforeSync(t *testing.T) {
	bus := eventbus.New()
	reg := registry.New(bus)
	m, _ := newTestManager(t, reg)

	assert.NotPanics(t, func() {
		m.applyTemplates(registry.ChangeSet{Added: []string{"ghost_template"}})
	})
}

func TestApplyEvent_IgnoresUnknownKind(t *testing.T) {
	bus := eventbus.New()
	reg := registry.New(bus)
	m, _ := newTestManager(t, reg)

	assert.NotPanics(t, func() {
		m.applyEvent(eventbus.Event{Kind: "unrelated", Payload: registry.ChangeSet{}})
	})
}

func TestApplyEvent_IgnoresWrongPayloadType(t *testing.T) {
	bus := eventbus.New()
	reg := registry.New(bus)
	m, _ := newTestManager(t, reg)

	assert.NotPanics(t, func() {
		m.applyEvent(eventbus.Event{Kind: "tool-change", Payload: "not a changeset"})
	})
}

func TestRun_AppliesToolChangeEventsUntilContextCancelled(t *testing.T) {
	bus := eventbus.New()
	reg := registry.New(bus)
	m, _ := newTestManager(t, reg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx, bus)
		close(done)
	}()

	reg.SyncServer("fs", registry.ServerCatalog{
		Tools: []registry.UpstreamTool{{Tool: &mcp.Tool{Name: "read_file"}}},
	})

	// Give the consumer goroutine a chance to drain the event before we
	// cancel; Run has no synchronous "caught up" signal to wait on.
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}

func TestPickSession_ReturnsFalseWithNoSessions(t *testing.T) {
	bus := eventbus.New()
	reg := registry.New(bus)
	m, _ := newTestManager(t, reg)

	_, ok := m.PickSession(nil)
	assert.False(t, ok)
}
