package registry

import "strings"

// GatewayNamespace is the reserved serverId for built-in entries (meta tools,
// discovery prompts) that are not namespaced under an upstream (spec §8
// "e.serverId is the built-in 'gateway' namespace").
const GatewayNamespace = "gateway"

// Namespace applies spec §3's namespacing rule: upstream name N from server
// S becomes "${S}_${N}".
func Namespace(serverID, name string) string {
	return serverID + "_" + name
}

// ParseNamespaced inverts Namespace, recovering (serverID, name). It splits
// on the first underscore, since server names themselves may not contain
// underscores at position zero but commonly do contain them internally —
// the owning serverID is therefore resolved against the known-servers set
// by the caller (see ParseNamespacedKnown), not by this pure string split.
func ParseNamespaced(id string) (serverID, name string, ok bool) {
	i := strings.Index(id, "_")
	if i <= 0 || i == len(id)-1 {
		return "", "", false
	}
	return id[:i], id[i+1:], true
}

// ParseNamespacedKnown inverts Namespace against a known set of server IDs,
// so a serverID containing underscores (e.g. "my_fs") is still recovered
// correctly: it picks the longest known serverID that prefixes id.
func ParseNamespacedKnown(id string, knownServerIDs map[string]bool) (serverID, name string, ok bool) {
	best := -1
	for sid := range knownServerIDs {
		prefix := sid + "_"
		if strings.HasPrefix(id, prefix) && len(prefix) > best {
			best = len(prefix)
			serverID = sid
			name = id[len(prefix):]
			ok = true
		}
	}
	return
}
