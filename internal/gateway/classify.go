package gateway

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/numerist/contentgate/internal/config"
	"github.com/numerist/contentgate/internal/expr"
)

// Category is one compiled classification rule bound to a versioned cache
// namespace.
type Category struct {
	Name               string
	Strategy           Strategy
	Namespace          string
	TTL                time.Duration
	FollowCacheControl bool

	pathContains []string
	matchQuery   bool
	when         *expr.Program
}

// Classifier assigns every GET request to exactly one category. Rules run in
// declaration order; the configured fallback category absorbs everything
// unclassified so no request is left unhandled.
type Classifier struct {
	categories []Category
	fallback   Category
}

// NewClassifier compiles the configured category table. Namespace names carry
// the cache version suffix so a version bump retires the previous generation
// during the activation sweep.
func NewClassifier(cfgs []config.CategoryConfig, env *expr.Environment, version int) (*Classifier, error) {
	if len(cfgs) == 0 {
		return nil, fmt.Errorf("gateway: no categories configured")
	}
	c := &Classifier{categories: make([]Category, 0, len(cfgs))}
	haveFallback := false
	for _, cfg := range cfgs {
		strategy, err := ParseStrategy(strings.ToLower(strings.TrimSpace(cfg.Strategy)))
		if err != nil {
			return nil, fmt.Errorf("gateway: category %q: %w", cfg.Name, err)
		}
		var ttl time.Duration
		if cfg.TTL != "" {
			ttl, err = time.ParseDuration(cfg.TTL)
			if err != nil {
				return nil, fmt.Errorf("gateway: category %q ttl: %w", cfg.Name, err)
			}
		}
		cat := Category{
			Name:               cfg.Name,
			Strategy:           strategy,
			Namespace:          fmt.Sprintf("%s-v%d", cfg.Name, version),
			TTL:                ttl,
			FollowCacheControl: cfg.FollowCacheControl,
			pathContains:       cfg.PathContains,
			matchQuery:         cfg.MatchQuery,
		}
		if strings.TrimSpace(cfg.When) != "" {
			if env == nil {
				return nil, fmt.Errorf("gateway: category %q declares a predicate but no expression environment is available", cfg.Name)
			}
			program, err := env.Compile(cfg.When)
			if err != nil {
				return nil, fmt.Errorf("gateway: category %q: %w", cfg.Name, err)
			}
			cat.when = &program
		}
		c.categories = append(c.categories, cat)
		if cfg.Fallback {
			c.fallback = cat
			haveFallback = true
		}
	}
	if !haveFallback {
		return nil, fmt.Errorf("gateway: no fallback category configured")
	}
	return c, nil
}

// Classify returns the first matching category, or the fallback when nothing
// matches. Predicate evaluation errors count as a non-match so a bad rule can
// never leave a request unserved.
func (c *Classifier) Classify(r *http.Request) Category {
	for _, cat := range c.categories {
		if cat.matches(r) {
			return cat
		}
	}
	return c.fallback
}

// Namespaces lists every namespace in the active generation, the known set
// the activation sweep preserves.
func (c *Classifier) Namespaces() []string {
	names := make([]string, 0, len(c.categories))
	for _, cat := range c.categories {
		names = append(names, cat.Namespace)
	}
	return names
}

func (cat Category) matches(r *http.Request) bool {
	path := r.URL.Path
	for _, fragment := range cat.pathContains {
		if fragment != "" && strings.Contains(path, fragment) {
			return true
		}
	}
	if cat.matchQuery && r.URL.RawQuery != "" {
		return true
	}
	if cat.when != nil {
		ok, err := cat.when.EvalBool(map[string]any{
			"path":   path,
			"query":  r.URL.RawQuery,
			"host":   r.Host,
			"method": r.Method,
		})
		if err == nil && ok {
			return true
		}
	}
	return false
}
