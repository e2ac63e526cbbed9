package registry

import (
	"regexp"
	"strings"

	"github.com/yosida95/uritemplate/v3"

	"github.com/nullrunner/mcp-gateway/pkg/gwerrors"
	"github.com/nullrunner/mcp-gateway/pkg/log"
)

// templateIndex compiles every registered resource template's RFC 6570
// pattern once, so resolving a concrete URI against N templates is a
// sequence of regexp matches rather than re-parsing the pattern each time
// (spec §4.C "URI template matching").
type templateIndex struct {
	entries []compiledTemplate
}

type compiledTemplate struct {
	entry    *ResourceTemplateEntry
	varnames []string
	matcher  *regexp.Regexp
}

var uritemplateLogger = log.Tagged("registry.uritemplate")

// varExpr matches a single-level RFC 6570 simple-string expression, e.g.
// "{name}" — the variable forms MCP resource templates actually use.
var varExpr = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// buildTemplateIndex compiles templates, skipping (and logging) any whose
// pattern fails to parse rather than failing the whole sync. uritemplate.New
// is used to validate the pattern and enumerate its variables; the actual
// match regexp is built locally since the library targets expansion, not
// reverse matching.
func buildTemplateIndex(templates []*ResourceTemplateEntry) *templateIndex {
	idx := &templateIndex{}
	for _, t := range templates {
		tmpl, err := uritemplate.New(t.OriginalTemplate)
		if err != nil {
			uritemplateLogger.Logf("skipping unparsable template %q: %v", t.OriginalTemplate, err)
			continue
		}
		matcher, varnames := compileMatcher(t.OriginalTemplate)
		_ = tmpl // parsed solely to reject malformed templates up front
		idx.entries = append(idx.entries, compiledTemplate{entry: t, varnames: varnames, matcher: matcher})
	}
	return idx
}

// compileMatcher turns an RFC 6570 simple-expression template into an
// anchored regexp capturing each {var} as a path-segment-safe group, plus
// the ordered list of variable names it captures.
func compileMatcher(raw string) (*regexp.Regexp, []string) {
	var varnames []string
	var pattern strings.Builder
	pattern.WriteByte('^')

	last := 0
	for _, loc := range varExpr.FindAllStringSubmatchIndex(raw, -1) {
		pattern.WriteString(regexp.QuoteMeta(raw[last:loc[0]]))
		name := raw[loc[2]:loc[3]]
		varnames = append(varnames, name)
		pattern.WriteString(`([^/]+)`)
		last = loc[1]
	}
	pattern.WriteString(regexp.QuoteMeta(raw[last:]))
	pattern.WriteByte('$')

	return regexp.MustCompile(pattern.String()), varnames
}

// TemplateMatch is a resource template that matched a concrete URI, along
// with the variables the match extracted.
type TemplateMatch struct {
	Entry *ResourceTemplateEntry
	Vars  map[string]string
}

// MatchResourceURI resolves uri against every registered resource template,
// returning every template that matches (spec §4.C: ambiguous matches are
// surfaced to the caller rather than silently picking one).
func (r *Registry) MatchResourceURI(uri string) []TemplateMatch {
	idx := buildTemplateIndex(r.Templates())

	var matches []TemplateMatch
	for _, ct := range idx.entries {
		groups := ct.matcher.FindStringSubmatch(uri)
		if groups == nil {
			continue
		}
		vars := make(map[string]string, len(ct.varnames))
		for i, name := range ct.varnames {
			vars[name] = groups[i+1]
		}
		matches = append(matches, TemplateMatch{Entry: ct.entry, Vars: vars})
	}
	return matches
}

// ResolveResourceURI recovers the owning serverID and the original
// upstream-visible URI for a downstream resource URI, trying a literal
// match before falling back to template matching (spec §4.C "when a
// downstream client reads a URI that matches an upstream-declared
// template, expand and route; if no literal or template matches, fail
// with ResourceNotFound").
func (r *Registry) ResolveResourceURI(uri string) (serverID, originalURI string, err error) {
	if e, ok := r.ResourceByID(uri); ok {
		return e.ServerID, e.OriginalURI, nil
	}

	matches := r.MatchResourceURI(uri)
	switch len(matches) {
	case 0:
		return "", "", gwerrors.New(gwerrors.KindNotFound, "resource not found: "+uri)
	case 1:
		r.mu.RLock()
		sid, orig, ok := ParseNamespacedKnown(uri, r.serverIDs)
		r.mu.RUnlock()
		if !ok {
			return "", "", gwerrors.New(gwerrors.KindNotFound, "resource not found: "+uri)
		}
		return sid, orig, nil
	default:
		alts := make([]string, len(matches))
		for i, m := range matches {
			alts[i] = m.Entry.ID
		}
		return "", "", gwerrors.New(gwerrors.KindConflict, "ambiguous resource template match: "+uri).WithData(ConflictData{Alternatives: alts})
	}
}
