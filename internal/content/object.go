// Package content materializes the site's page and data-fragment graph from a
// flat set of markdown, JSON, YAML, and TOML files.
package content

import "sort"

// Object is one parsed content file: a page or reusable data fragment tagged
// with its identifier and model name.
type Object struct {
	// ID is the normalized relative path (slash-separated, extension
	// stripped) and is stable across reloads.
	ID string
	// Model names the renderer responsible for this object. Defaults to
	// "page" when the document declares no type.
	Model string
	// Source is the file the object was loaded from.
	Source string
	// Fields holds the document's metadata. Reference fields are rewritten in
	// place by the resolver.
	Fields map[string]any
	// Body is the markdown body for front-matter documents, empty otherwise.
	Body string
}

// Skip describes a content artifact the loader or resolver intentionally
// quarantined, surfaced through health checks so authors know what was
// dropped and why.
type Skip struct {
	Kind    string   `json:"kind"`
	Name    string   `json:"name"`
	Reason  string   `json:"reason"`
	Sources []string `json:"sources"`
}

// Graph is an immutable snapshot of the loaded content set. Reloads build a
// fresh Graph and swap it wholesale.
type Graph struct {
	Objects map[string]*Object
	Sources []string
	Skipped []Skip
}

// Lookup returns the object with the given identifier.
func (g *Graph) Lookup(id string) (*Object, bool) {
	if g == nil {
		return nil, false
	}
	obj, ok := g.Objects[id]
	return obj, ok
}

// IDs returns the object identifiers in sorted order.
func (g *Graph) IDs() []string {
	if g == nil {
		return nil
	}
	ids := make([]string, 0, len(g.Objects))
	for id := range g.Objects {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
