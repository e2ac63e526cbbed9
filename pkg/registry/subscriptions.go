package registry

import "sync"

// subscriptionKey identifies one session's interest in one resource entry.
type subscriptionKey struct {
	sessionID string
	entryID   string
}

// subscriptionTable tracks, per resource entry, which sessions are
// subscribed and a ref count per (session, entry) pair so duplicate
// subscribe calls from the same session are idempotent (spec §3
// "Subscription" record). When an entry's subscriber count drops to zero
// the caller is told to unsubscribe from the upstream.
type subscriptionTable struct {
	mu      sync.Mutex
	byEntry map[string]map[string]int // entryID -> sessionID -> refcount
	byConn  map[string]map[string]bool
}

func newSubscriptionTable() *subscriptionTable {
	return &subscriptionTable{
		byEntry: make(map[string]map[string]int),
		byConn:  make(map[string]map[string]bool),
	}
}

// Subscribe registers sessionID's interest in entryID and reports whether
// this is the first subscriber for the entry (the caller should forward a
// resources/subscribe to the owning upstream only on that transition).
func (t *subscriptionTable) Subscribe(sessionID, entryID string) (firstSubscriber bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	subs, ok := t.byEntry[entryID]
	if !ok {
		subs = make(map[string]int)
		t.byEntry[entryID] = subs
	}
	firstSubscriber = len(subs) == 0
	subs[sessionID]++

	conns, ok := t.byConn[sessionID]
	if !ok {
		conns = make(map[string]bool)
		t.byConn[sessionID] = conns
	}
	conns[entryID] = true
	return firstSubscriber
}

// Unsubscribe removes one subscription from sessionID to entryID and
// reports whether the entry now has zero subscribers (the caller should
// forward a resources/unsubscribe to the upstream only on that transition).
func (t *subscriptionTable) Unsubscribe(sessionID, entryID string) (lastSubscriber bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.removeLocked(sessionID, entryID)
}

func (t *subscriptionTable) removeLocked(sessionID, entryID string) (lastSubscriber bool) {
	subs, ok := t.byEntry[entryID]
	if !ok {
		return false
	}
	delete(subs, sessionID)
	if len(subs) == 0 {
		delete(t.byEntry, entryID)
		lastSubscriber = true
	}
	if conns, ok := t.byConn[sessionID]; ok {
		delete(conns, entryID)
		if len(conns) == 0 {
			delete(t.byConn, sessionID)
		}
	}
	return lastSubscriber
}

// UnsubscribeAll drops every subscription held by sessionID (on session
// disconnect, spec §3 "mass-decrement on disconnect") and returns the
// entryIDs that dropped to zero subscribers as a result.
func (t *subscriptionTable) UnsubscribeAll(sessionID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	conns := t.byConn[sessionID]
	var drained []string
	for entryID := range conns {
		if t.removeLocked(sessionID, entryID) {
			drained = append(drained, entryID)
		}
	}
	return drained
}

// Subscribers returns the current sessions subscribed to entryID.
func (t *subscriptionTable) Subscribers(entryID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	subs := t.byEntry[entryID]
	out := make([]string, 0, len(subs))
	for sid := range subs {
		out = append(out, sid)
	}
	return out
}

// Subscribe registers sessionID's interest in entryID at the Registry level.
func (r *Registry) Subscribe(sessionID, entryID string) bool {
	return r.subs.Subscribe(sessionID, entryID)
}

// Unsubscribe removes sessionID's interest in entryID at the Registry level.
func (r *Registry) Unsubscribe(sessionID, entryID string) bool {
	return r.subs.Unsubscribe(sessionID, entryID)
}

// UnsubscribeAll tears down every subscription sessionID held, for use on
// session disconnect.
func (r *Registry) UnsubscribeAll(sessionID string) []string {
	return r.subs.UnsubscribeAll(sessionID)
}

// Subscribers lists the sessions currently subscribed to entryID, for
// fanning out a resources/updated notification.
func (r *Registry) Subscribers(entryID string) []string {
	return r.subs.Subscribers(entryID)
}
