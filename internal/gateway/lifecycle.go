package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"time"

	"github.com/numerist/contentgate/internal/gateway/cache"
)

// Install pre-warms the cache from the precache manifest. The whole install
// is all-or-nothing: every manifest URL is fetched before anything is stored,
// and a single failure aborts the install so the next deploy retries it.
func (g *Gateway) Install(ctx context.Context, manifest []string) error {
	if len(manifest) == 0 {
		return nil
	}
	type staged struct {
		cat   Category
		key   string
		entry cache.Entry
	}
	entries := make([]staged, 0, len(manifest))
	for _, raw := range manifest {
		target, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("gateway: install: parse %q: %w", raw, err)
		}
		r, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
		if err != nil {
			return fmt.Errorf("gateway: install: request %q: %w", raw, err)
		}
		entry, err := g.fetcher.Fetch(ctx, r)
		if err != nil {
			return fmt.Errorf("gateway: install: fetch %s: %w", r.URL, err)
		}
		if !entry.OK() {
			return fmt.Errorf("gateway: install: fetch %s: status %d", r.URL, entry.Status)
		}
		cat := g.classifier.Classify(r)
		entries = append(entries, staged{cat: cat, key: g.cacheKey(r), entry: entry})
	}

	for _, item := range entries {
		ttl := item.cat.TTL
		if ttl <= 0 {
			ttl = 24 * time.Hour
		}
		entry := item.entry
		entry.StoredAt = time.Now().UTC()
		entry.ExpiresAt = entry.StoredAt.Add(ttl)
		if err := g.store.Put(ctx, item.cat.Namespace, item.key, entry); err != nil {
			return fmt.Errorf("gateway: install: store %s: %w", item.key, err)
		}
	}
	g.logger.Info("precache install complete", slog.Int("entries", len(entries)))
	return nil
}

// Activate sweeps cache namespaces: everything outside the current known set
// is dropped, current namespaces survive regardless of emptiness. Returns the
// removed namespace names.
func (g *Gateway) Activate(ctx context.Context) ([]string, error) {
	known := g.classifier.Namespaces()
	existing, err := g.store.Namespaces(ctx)
	if err != nil {
		return nil, fmt.Errorf("gateway: activate: list namespaces: %w", err)
	}
	var removed []string
	for _, namespace := range existing {
		if slices.Contains(known, namespace) {
			continue
		}
		if err := g.store.DropNamespace(ctx, namespace); err != nil {
			return removed, fmt.Errorf("gateway: activate: drop %s: %w", namespace, err)
		}
		removed = append(removed, namespace)
	}
	if len(removed) > 0 {
		g.logger.Info("activation sweep reclaimed namespaces", slog.Any("removed", removed))
	}
	return removed, nil
}
