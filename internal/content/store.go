package content

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	kjson "github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"
)

const defaultModel = "page"

// Load enumerates every content file under the configured folders and builds
// an unresolved graph. Duplicate identifiers are quarantined rather than
// silently overwritten; the duplicates land in Graph.Skipped.
func Load(ctx context.Context, folders []string) (*Graph, error) {
	agg := newAggregator()
	for _, folder := range folders {
		if strings.TrimSpace(folder) == "" {
			continue
		}
		stat, err := os.Stat(folder)
		if err != nil {
			return nil, fmt.Errorf("content: folder %s: %w", folder, err)
		}
		if !stat.IsDir() {
			return nil, fmt.Errorf("content: folder %s is not a directory", folder)
		}
		err = filepath.WalkDir(folder, func(path string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			if d.IsDir() || !isSupportedContentFile(path) {
				return nil
			}
			obj, err := loadObject(folder, path)
			if err != nil {
				agg.recordSkip(identifierFor(folder, path), fmt.Sprintf("unparseable document: %v", err), path)
				return nil
			}
			agg.add(obj)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("content: walk folder %s: %w", folder, err)
		}
	}
	return agg.graph(), nil
}

func loadObject(root, path string) (*Object, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var fields map[string]any
	body := ""
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".md", ".markdown":
		fields, body, err = splitFrontMatter(data)
		if err != nil {
			return nil, err
		}
	case ".json":
		fields, err = kjson.Parser().Unmarshal(data)
	case ".yaml", ".yml":
		fields, err = yaml.Parser().Unmarshal(data)
	case ".toml", ".tml":
		fields, err = toml.Parser().Unmarshal(data)
	default:
		return nil, fmt.Errorf("unsupported extension %s", ext)
	}
	if err != nil {
		return nil, err
	}
	if fields == nil {
		fields = map[string]any{}
	}

	model := defaultModel
	if declared, ok := fields["type"].(string); ok && strings.TrimSpace(declared) != "" {
		model = strings.TrimSpace(declared)
	}

	return &Object{
		ID:     identifierFor(root, path),
		Model:  model,
		Source: path,
		Fields: fields,
		Body:   body,
	}, nil
}

// identifierFor derives the stable ID: the path relative to its folder, slash
// separated, extension stripped.
func identifierFor(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		rel = path
	}
	rel = filepath.ToSlash(rel)
	return strings.TrimSuffix(rel, filepath.Ext(rel))
}

func isSupportedContentFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown", ".json", ".yaml", ".yml", ".toml", ".tml":
		return true
	default:
		return false
	}
}

// aggregator deduplicates objects across folders, quarantining every
// identifier that appears more than once.
type aggregator struct {
	objects map[string]*Object
	sources map[string]string
	skips   map[string]*Skip
	seen    map[string]struct{}
}

func newAggregator() *aggregator {
	return &aggregator{
		objects: make(map[string]*Object),
		sources: make(map[string]string),
		skips:   make(map[string]*Skip),
		seen:    make(map[string]struct{}),
	}
}

func (a *aggregator) add(obj *Object) {
	a.seen[obj.Source] = struct{}{}
	if existing, ok := a.skips[obj.ID]; ok {
		existing.Sources = appendUnique(existing.Sources, obj.Source)
		return
	}
	if prev, ok := a.sources[obj.ID]; ok {
		a.recordSkip(obj.ID, "duplicate identifier", prev, obj.Source)
		delete(a.sources, obj.ID)
		delete(a.objects, obj.ID)
		return
	}
	a.sources[obj.ID] = obj.Source
	a.objects[obj.ID] = obj
}

func (a *aggregator) recordSkip(id, reason string, sources ...string) {
	if skip, ok := a.skips[id]; ok {
		if skip.Reason == "" {
			skip.Reason = reason
		}
		for _, src := range sources {
			skip.Sources = appendUnique(skip.Sources, src)
		}
		return
	}
	skip := &Skip{Kind: "object", Name: id, Reason: reason, Sources: []string{}}
	for _, src := range sources {
		skip.Sources = appendUnique(skip.Sources, src)
	}
	a.skips[id] = skip
}

func (a *aggregator) graph() *Graph {
	objects := make(map[string]*Object, len(a.objects))
	for id, obj := range a.objects {
		objects[id] = obj
	}
	skipped := make([]Skip, 0, len(a.skips))
	for _, skip := range a.skips {
		sort.Strings(skip.Sources)
		skipped = append(skipped, *skip)
	}
	sort.Slice(skipped, func(i, j int) bool { return skipped[i].Name < skipped[j].Name })

	sources := make([]string, 0, len(a.seen))
	for src := range a.seen {
		sources = append(sources, src)
	}
	sort.Strings(sources)
	return &Graph{Objects: objects, Sources: sources, Skipped: skipped}
}

func appendUnique(list []string, value string) []string {
	if value == "" {
		return list
	}
	if !slices.Contains(list, value) {
		list = append(list, value)
	}
	return list
}
