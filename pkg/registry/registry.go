// Package registry implements the aggregation core of spec §4.C: the single
// source of truth for the gateway's unified tool/prompt/resource catalog.
package registry

import (
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/nullrunner/mcp-gateway/pkg/eventbus"
	"github.com/nullrunner/mcp-gateway/pkg/gwerrors"
	"github.com/nullrunner/mcp-gateway/pkg/log"
)

// catalogCacheSize bounds how many recent catalog versions stay cached. A
// reader that loaded the version counter just before a writer bumped it can
// still be served its own build from cache instead of racing a rebuild.
const catalogCacheSize = 8

// Registry owns every catalog entry and subscription record in the gateway.
// Consumers hold only short-lived references obtained from a read operation
// (spec §3 "Ownership"). Writers hold the single write lock for the whole
// of a mutation, including its event publish, so events are observed by
// subscribers in the same order writes commit (spec §5).
type Registry struct {
	mu sync.RWMutex

	tools     map[string]*ToolEntry
	prompts   map[string]*PromptEntry
	resources map[string]*ResourceEntry
	templates map[string]*ResourceTemplateEntry

	// promptShortNames indexes prompts by their bare (unqualified) name for
	// collision detection on unqualified invocation (spec §4.C).
	promptShortNames map[string][]string // short name -> []entryID

	serverIDs map[string]bool // known servers, for ParseNamespacedKnown

	subs *subscriptionTable

	bus *eventbus.Bus

	version      atomic.Uint64
	catalogMu    sync.Mutex
	catalogCache *lru.Cache[uint64, *Catalog] // blobs keyed by the version they were built from

	logger log.Logger
}

// New returns an empty Registry wired to the given event bus.
func New(bus *eventbus.Bus) *Registry {
	cache, _ := lru.New[uint64, *Catalog](catalogCacheSize)
	return &Registry{
		tools:            make(map[string]*ToolEntry),
		prompts:          make(map[string]*PromptEntry),
		resources:        make(map[string]*ResourceEntry),
		templates:        make(map[string]*ResourceTemplateEntry),
		promptShortNames: make(map[string][]string),
		serverIDs:        make(map[string]bool),
		subs:             newSubscriptionTable(),
		bus:              bus,
		catalogCache:     cache,
		logger:           log.Tagged("registry"),
	}
}

// SyncServer replaces every entry owned by serverID with the contents of
// cat, namespacing each and emitting tool-change/prompt-change/resource-change
// plus a coarse "change" event describing what was added and removed (spec
// §4.C "Change events"). This is the full-resync fallback; callers preferring
// a targeted resync filter cat down to the affected kind before calling.
func (r *Registry) SyncServer(serverID string, cat ServerCatalog) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.serverIDs[serverID] = true
	r.syncServerLocked(serverID, cat)
}

// syncServerLocked is the SyncServer body, split out so RemoveServer can
// reuse it under a single lock acquisition instead of recursing into
// SyncServer's own locking.
func (r *Registry) syncServerLocked(serverID string, cat ServerCatalog) {
	v := r.version.Add(1)

	addedTools, removedTools := r.replaceTools(serverID, cat.Tools, v)
	addedPrompts, removedPrompts := r.replacePrompts(serverID, cat.Prompts, v)
	addedResources, removedResources := r.replaceResources(serverID, cat.Resources, v)
	addedTemplates, removedTemplates := r.replaceTemplates(serverID, cat.ResourceTemplates, v)

	if len(addedTools) > 0 || len(removedTools) > 0 {
		r.bus.Publish(eventbus.Event{Kind: "tool-change", Payload: ChangeSet{ServerID: serverID, Added: addedTools, Removed: removedTools}})
	}
	if len(addedPrompts) > 0 || len(removedPrompts) > 0 {
		r.bus.Publish(eventbus.Event{Kind: "prompt-change", Payload: ChangeSet{ServerID: serverID, Added: addedPrompts, Removed: removedPrompts}})
	}
	if len(addedResources) > 0 || len(removedResources) > 0 {
		r.bus.Publish(eventbus.Event{Kind: "resource-change", Payload: ChangeSet{ServerID: serverID, Added: addedResources, Removed: removedResources}})
	}
	if len(addedTemplates) > 0 || len(removedTemplates) > 0 {
		r.bus.Publish(eventbus.Event{Kind: "resource-template-change", Payload: ChangeSet{ServerID: serverID, Added: addedTemplates, Removed: removedTemplates}})
	}
	if len(addedTools)+len(removedTools)+len(addedPrompts)+len(removedPrompts)+len(addedResources)+len(removedResources) > 0 {
		r.bus.Publish(eventbus.Event{Kind: "change", Payload: ChangeSet{ServerID: serverID}})
	}
}

// ChangeSet describes one Registry mutation for event consumers.
type ChangeSet struct {
	ServerID string
	Added    []string
	Removed  []string
}

// RemoveServer cascades deletion of every entry owned by serverID (spec §3
// "deletion of serverId cascades to all its entries") and tears down its
// subscriptions.
func (r *Registry) RemoveServer(serverID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.serverIDs, serverID)
	r.syncServerLocked(serverID, ServerCatalog{})
}

func (r *Registry) replaceTools(serverID string, upstream []UpstreamTool, v uint64) (added, removed []string) {
	for id, e := range r.tools {
		if e.ServerID == serverID {
			removed = append(removed, id)
			delete(r.tools, id)
		}
	}
	for _, ut := range upstream {
		id := Namespace(serverID, ut.Tool.Name)
		r.tools[id] = &ToolEntry{ID: id, ServerID: serverID, Version: v, Tool: ut.Tool, Handler: ut.Handler}
		added = append(added, id)
	}
	return added, removed
}

func (r *Registry) replacePrompts(serverID string, upstream []UpstreamPrompt, v uint64) (added, removed []string) {
	for id, e := range r.prompts {
		if e.ServerID == serverID {
			removed = append(removed, id)
			delete(r.prompts, id)
			r.unindexShortName(e.Prompt.Name, id)
		}
	}
	for _, up := range upstream {
		id := Namespace(serverID, up.Prompt.Name)
		r.prompts[id] = &PromptEntry{ID: id, ServerID: serverID, Version: v, Prompt: up.Prompt, Handler: up.Handler}
		r.promptShortNames[up.Prompt.Name] = append(r.promptShortNames[up.Prompt.Name], id)
		added = append(added, id)
	}
	return added, removed
}

func (r *Registry) unindexShortName(shortName, id string) {
	ids := r.promptShortNames[shortName]
	for i, existing := range ids {
		if existing == id {
			r.promptShortNames[shortName] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(r.promptShortNames[shortName]) == 0 {
		delete(r.promptShortNames, shortName)
	}
}

func (r *Registry) replaceResources(serverID string, upstream []UpstreamResource, v uint64) (added, removed []string) {
	for id, e := range r.resources {
		if e.ServerID == serverID {
			removed = append(removed, id)
			delete(r.resources, id)
		}
	}
	for _, ur := range upstream {
		id := Namespace(serverID, ur.Resource.URI)
		r.resources[id] = &ResourceEntry{
			ID: id, ServerID: serverID, Version: v,
			URI: id, OriginalURI: ur.Resource.URI,
			Resource: ur.Resource, Handler: ur.Handler,
		}
		added = append(added, id)
	}
	return added, removed
}

func (r *Registry) replaceTemplates(serverID string, upstream []UpstreamResourceTemplate, v uint64) (added, removed []string) {
	for id, e := range r.templates {
		if e.ServerID == serverID {
			removed = append(removed, id)
			delete(r.templates, id)
		}
	}
	for _, ut := range upstream {
		id := Namespace(serverID, ut.Template.URITemplate)
		r.templates[id] = &ResourceTemplateEntry{
			ID: id, ServerID: serverID, Version: v,
			URITemplate: id, OriginalTemplate: ut.Template.URITemplate,
			Template: ut.Template, Handler: ut.Handler,
		}
		added = append(added, id)
	}
	return added, removed
}

// Catalog returns the serialized catalog blob for the current version,
// rebuilding it lazily on a cache miss (spec §4.C "Caching"). Blobs for
// older versions stay in the LRU until evicted, so a reader racing a
// concurrent SyncServer still gets a consistent, cached snapshot instead
// of rebuilding on every call.
func (r *Registry) Catalog() *Catalog {
	v := r.version.Load()

	r.catalogMu.Lock()
	if c, ok := r.catalogCache.Get(v); ok {
		r.catalogMu.Unlock()
		return c
	}
	r.catalogMu.Unlock()

	r.mu.RLock()
	defer r.mu.RUnlock()

	c := &Catalog{Version: r.version.Load()}
	for _, e := range r.tools {
		c.Tools = append(c.Tools, e.Tool)
	}
	for _, e := range r.prompts {
		c.Prompts = append(c.Prompts, e.Prompt)
	}
	for _, e := range r.resources {
		c.Resources = append(c.Resources, e.Resource)
	}
	for _, e := range r.templates {
		c.ResourceTemplates = append(c.ResourceTemplates, e.Template)
	}

	r.catalogMu.Lock()
	r.catalogCache.Add(c.Version, c)
	r.catalogMu.Unlock()
	return c
}

// FindTool resolves a tool identifier, accepting either a fully-namespaced
// id or a bare upstream name when exactly one server owns it (spec §4.D
// "Resolution").
func (r *Registry) FindTool(id string) (*ToolEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if e, ok := r.tools[id]; ok {
		return e, nil
	}
	if sid, name, ok := ParseNamespacedKnown(id, r.serverIDs); ok {
		if e, ok := r.tools[Namespace(sid, name)]; ok {
			return e, nil
		}
	}

	var matches []*ToolEntry
	for _, e := range r.tools {
		if e.Tool.Name == id {
			matches = append(matches, e)
		}
	}
	switch len(matches) {
	case 0:
		return nil, gwerrors.New(gwerrors.KindNotFound, "tool not found: "+id)
	case 1:
		return matches[0], nil
	default:
		alts := make([]string, len(matches))
		for i, m := range matches {
			alts[i] = m.ID
		}
		return nil, gwerrors.New(gwerrors.KindConflict, "ambiguous tool name: "+id).WithData(ConflictData{Alternatives: alts})
	}
}

// ConflictData is the Data payload of a Conflict error (spec §4.C, §8 scenario 2).
type ConflictData struct {
	Alternatives []string `json:"alternatives"`
}

// FindPrompt resolves a prompt identifier. Per spec §4.C, a short-name
// collision between two prompts is never silently resolved: unqualified
// invocation fails with Conflict listing the qualified alternatives.
func (r *Registry) FindPrompt(id string) (*PromptEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if e, ok := r.prompts[id]; ok {
		return e, nil
	}
	if sid, name, ok := ParseNamespacedKnown(id, r.serverIDs); ok {
		if e, ok := r.prompts[Namespace(sid, name)]; ok {
			return e, nil
		}
	}

	ids := r.promptShortNames[id]
	switch len(ids) {
	case 0:
		return nil, gwerrors.New(gwerrors.KindNotFound, "prompt not found: "+id)
	case 1:
		return r.prompts[ids[0]], nil
	default:
		alts := append([]string(nil), ids...)
		return nil, gwerrors.New(gwerrors.KindConflict, "ambiguous prompt name: "+id).WithData(ConflictData{Alternatives: alts})
	}
}

// ResourceByID looks up a literal resource by its (namespaced) entry id.
func (r *Registry) ResourceByID(id string) (*ResourceEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.resources[id]
	return e, ok
}

// TemplateByID looks up a literal resource template by its namespaced id.
func (r *Registry) TemplateByID(id string) (*ResourceTemplateEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.templates[id]
	return e, ok
}

// ServerOf returns the owning serverID for a namespaced entry id of any kind.
func (r *Registry) ServerOf(id string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.tools[id]; ok {
		return e.ServerID, true
	}
	if e, ok := r.prompts[id]; ok {
		return e.ServerID, true
	}
	if e, ok := r.resources[id]; ok {
		return e.ServerID, true
	}
	if e, ok := r.templates[id]; ok {
		return e.ServerID, true
	}
	if sid, _, ok := ParseNamespacedKnown(id, r.serverIDs); ok {
		return sid, true
	}
	return "", false
}

// Templates returns a snapshot of all resource templates, for URI matching.
func (r *Registry) Templates() []*ResourceTemplateEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*ResourceTemplateEntry, 0, len(r.templates))
	for _, t := range r.templates {
		out = append(out, t)
	}
	return out
}
