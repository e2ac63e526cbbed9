package config

// ServerDiff classifies one server's change between two snapshots.
type ServerDiff struct {
	Name string
	Old  *ServerConfig
	New  *ServerConfig
}

// Diff is the result of comparing two snapshots (spec §3 "Config snapshot").
type Diff struct {
	AddedServers     []ServerDiff
	RemovedServers   []ServerDiff
	UpdatedServers   []ServerDiff
	UnchangedServers []ServerDiff

	AddedVirtualTools     []VirtualToolConfig
	RemovedVirtualTools   []VirtualToolConfig
	UpdatedVirtualTools   []VirtualToolConfig
	UnchangedVirtualTools []VirtualToolConfig
}

// ComputeDiff produces the set of {added, removed, updated, unchanged}
// descriptors for both servers and virtual tools.
func ComputeDiff(old, newSnap *Snapshot) Diff {
	var d Diff

	oldServers := indexServers(old)
	newServers := indexServers(newSnap)

	for name, nc := range newServers {
		oc, existed := oldServers[name]
		if !existed {
			d.AddedServers = append(d.AddedServers, ServerDiff{Name: name, New: nc})
			continue
		}
		if serverEqual(oc, nc) {
			d.UnchangedServers = append(d.UnchangedServers, ServerDiff{Name: name, Old: oc, New: nc})
		} else {
			d.UpdatedServers = append(d.UpdatedServers, ServerDiff{Name: name, Old: oc, New: nc})
		}
	}
	for name, oc := range oldServers {
		if _, stillPresent := newServers[name]; !stillPresent {
			d.RemovedServers = append(d.RemovedServers, ServerDiff{Name: name, Old: oc})
		}
	}

	oldTools := indexVirtualTools(old)
	newTools := indexVirtualTools(newSnap)
	for id, nt := range newTools {
		ot, existed := oldTools[id]
		switch {
		case !existed:
			d.AddedVirtualTools = append(d.AddedVirtualTools, nt)
		case virtualToolEqual(ot, nt):
			d.UnchangedVirtualTools = append(d.UnchangedVirtualTools, nt)
		default:
			d.UpdatedVirtualTools = append(d.UpdatedVirtualTools, nt)
		}
	}
	for id, ot := range oldTools {
		if _, stillPresent := newTools[id]; !stillPresent {
			d.RemovedVirtualTools = append(d.RemovedVirtualTools, ot)
		}
	}

	return d
}

func indexServers(s *Snapshot) map[string]*ServerConfig {
	if s == nil {
		return nil
	}
	idx := make(map[string]*ServerConfig, len(s.Servers))
	for i := range s.Servers {
		idx[s.Servers[i].Name] = &s.Servers[i]
	}
	return idx
}

func indexVirtualTools(s *Snapshot) map[string]VirtualToolConfig {
	if s == nil {
		return nil
	}
	idx := make(map[string]VirtualToolConfig, len(s.VirtualTools))
	for _, vt := range s.VirtualTools {
		idx[vt.ID] = vt
	}
	return idx
}

func serverEqual(a, b *ServerConfig) bool {
	if a.Transport != b.Transport || a.Command != b.Command || a.URL != b.URL ||
		a.Mode != b.Mode || a.Enabled != b.Enabled ||
		a.ConnectTimeout != b.ConnectTimeout || a.RequestTimeout != b.RequestTimeout ||
		a.MaxRetries != b.MaxRetries || len(a.Args) != len(b.Args) || len(a.Env) != len(b.Env) ||
		len(a.Headers) != len(b.Headers) {
		return false
	}
	for i := range a.Args {
		if a.Args[i] != b.Args[i] {
			return false
		}
	}
	for i := range a.Env {
		if a.Env[i] != b.Env[i] {
			return false
		}
	}
	for k, v := range a.Headers {
		if b.Headers[k] != v {
			return false
		}
	}
	return true
}

func virtualToolEqual(a, b VirtualToolConfig) bool {
	if a.Description != b.Description || len(a.Ops) != len(b.Ops) {
		return false
	}
	for i := range a.Ops {
		if a.Ops[i].Tool != b.Ops[i].Tool || len(a.Ops[i].Args) != len(b.Ops[i].Args) {
			return false
		}
	}
	return true
}
