package content

import (
	"fmt"
	"strings"
)

// RefKind distinguishes single references from reference lists.
type RefKind int

const (
	// RefSingle marks a field whose string value names one object.
	RefSingle RefKind = iota
	// RefList marks a field holding a list of object identifiers.
	RefList
)

// Schema is the reference-field table: field name to kind. It is plain data
// supplied by configuration, not something the resolver owns.
type Schema map[string]RefKind

// ParseSchema converts the configured field table into a Schema.
func ParseSchema(fields map[string]string) (Schema, error) {
	schema := make(Schema, len(fields))
	for field, kind := range fields {
		switch strings.ToLower(strings.TrimSpace(kind)) {
		case "single":
			schema[field] = RefSingle
		case "list":
			schema[field] = RefList
		default:
			return nil, fmt.Errorf("content: reference field %q kind unsupported: %s", field, kind)
		}
	}
	return schema, nil
}

// Resolve walks every object depth-first and replaces schema-declared string
// references with the referenced objects in place. Fields already holding a
// resolved object are left untouched, so a second pass is a no-op. Nested
// maps and slices are recursed into, but a substituted object is never
// re-entered: the visited set keyed by object ID breaks reference cycles.
// Unresolvable identifiers keep their string value and are reported as skips.
func Resolve(graph *Graph, schema Schema) []Skip {
	if graph == nil || len(schema) == 0 {
		return nil
	}
	r := &resolver{graph: graph, schema: schema}
	for _, id := range graph.IDs() {
		obj := graph.Objects[id]
		visited := map[string]struct{}{id: {}}
		r.walkMap(obj, obj.Fields, visited)
	}
	graph.Skipped = append(graph.Skipped, r.skipped...)
	return r.skipped
}

type resolver struct {
	graph   *Graph
	schema  Schema
	skipped []Skip
}

func (r *resolver) walkMap(owner *Object, fields map[string]any, visited map[string]struct{}) {
	for key, value := range fields {
		kind, isRef := r.schema[key]
		if !isRef {
			r.walkValue(owner, value, visited)
			continue
		}
		switch kind {
		case RefSingle:
			if id, ok := value.(string); ok {
				if target := r.resolveID(owner, id, visited); target != nil {
					fields[key] = target
				}
			}
		case RefList:
			list, ok := value.([]any)
			if !ok {
				continue
			}
			for i, element := range list {
				if id, ok := element.(string); ok {
					if target := r.resolveID(owner, id, visited); target != nil {
						list[i] = target
					}
				}
			}
		}
	}
}

// walkValue recurses into non-reference container values. Already-resolved
// objects are container values too, but re-entering them would double-resolve
// shared structure, so they stop the walk.
func (r *resolver) walkValue(owner *Object, value any, visited map[string]struct{}) {
	switch v := value.(type) {
	case *Object:
		return
	case map[string]any:
		r.walkMap(owner, v, visited)
	case []any:
		for _, element := range v {
			r.walkValue(owner, element, visited)
		}
	}
}

// resolveID looks up a referenced object. A reference back into the current
// resolution chain is allowed (the pointer is shared, not copied), so cycles
// terminate; an unknown identifier is recorded and left as a string.
func (r *resolver) resolveID(owner *Object, id string, visited map[string]struct{}) *Object {
	target, ok := r.graph.Objects[id]
	if !ok {
		r.skipped = append(r.skipped, Skip{
			Kind:    "reference",
			Name:    id,
			Reason:  "unresolved reference",
			Sources: []string{owner.Source},
		})
		return nil
	}
	if _, seen := visited[id]; seen {
		return target
	}
	visited[id] = struct{}{}
	return target
}
