// Package gateway dispatches requests to per-category caching strategies in
// front of an origin: cache-first for immutable assets, network-first for API
// traffic, and stale-while-revalidate for documentation pages.
package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/numerist/contentgate/internal/gateway/cache"
	"github.com/numerist/contentgate/internal/metrics"
)

const offlineBody = "offline"

// Outcome labels for fetch metrics.
const (
	outcomeHit      = "hit"
	outcomeNetwork  = "network"
	outcomeFallback = "fallback"
	outcomeOffline  = "offline"
	outcomeBypass   = "bypass"
)

// Options carries the collaborators the gateway needs. Everything is explicit
// configuration; the gateway holds no module-level state.
type Options struct {
	Store             cache.Store
	Fetcher           Fetcher
	Classifier        *Classifier
	Metrics           *metrics.Recorder
	CorrelationHeader string
	MaxTTL            time.Duration
	RevalidateTimeout time.Duration
}

// Gateway serves every request through exactly one strategy and never lets a
// cache or origin failure escape as anything but a deterministic 503.
type Gateway struct {
	logger            *slog.Logger
	store             cache.Store
	fetcher           Fetcher
	classifier        *Classifier
	metrics           *metrics.Recorder
	correlationHeader string
	maxTTL            time.Duration
	revalidateTimeout time.Duration

	background sync.WaitGroup
}

func New(logger *slog.Logger, opts Options) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	store := opts.Store
	if store == nil {
		store = cache.NewMemory(30 * time.Second)
	}
	revalidateTimeout := opts.RevalidateTimeout
	if revalidateTimeout <= 0 {
		revalidateTimeout = 15 * time.Second
	}
	return &Gateway{
		logger:            logger.With(slog.String("agent", "gateway")),
		store:             store,
		fetcher:           opts.Fetcher,
		classifier:        opts.Classifier,
		metrics:           opts.Metrics,
		correlationHeader: opts.CorrelationHeader,
		maxTTL:            opts.MaxTTL,
		revalidateTimeout: revalidateTimeout,
	}
}

// Close drains background revalidations and releases the cache store.
func (g *Gateway) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		g.background.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
	return g.store.Close(ctx)
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	correlationID := g.requestCorrelationID(r)
	logger := g.logger.With(slog.String("correlation_id", correlationID))
	start := time.Now()

	// Non-GET traffic passes straight through and is never cached.
	if r.Method != http.MethodGet {
		entry, err := g.fetcher.Fetch(r.Context(), r)
		if err != nil {
			logger.Warn("origin passthrough failed", slog.String("method", r.Method), slog.Any("error", err))
			http.Error(w, "origin unavailable", http.StatusBadGateway)
			return
		}
		writeEntry(w, entry, "")
		g.metrics.ObserveFetch("passthrough", "none", outcomeBypass, entry.Status, time.Since(start))
		return
	}

	category := g.classifier.Classify(r)
	key := g.cacheKey(r)
	logger = logger.With(slog.String("category", category.Name), slog.String("strategy", category.Strategy.String()))

	var entry cache.Entry
	var outcome string
	switch category.Strategy {
	case CacheFirst:
		entry, outcome = g.serveCacheFirst(r, category, key, logger)
	case NetworkFirst:
		entry, outcome = g.serveNetworkFirst(r, category, key, logger)
	case StaleWhileRevalidate:
		entry, outcome = g.serveStaleWhileRevalidate(r, category, key, logger)
	}

	writeEntry(w, entry, outcome)
	g.metrics.ObserveFetch(category.Name, category.Strategy.String(), outcome, entry.Status, time.Since(start))
}

// serveCacheFirst returns cached entries without touching the origin; only a
// miss triggers a fetch, and a total failure yields the offline response.
func (g *Gateway) serveCacheFirst(r *http.Request, cat Category, key string, logger *slog.Logger) (cache.Entry, string) {
	if entry, ok := g.lookup(r.Context(), cat, key); ok {
		return entry, outcomeHit
	}
	entry, err := g.fetcher.Fetch(r.Context(), r)
	if err != nil {
		logger.Warn("origin fetch failed", slog.Any("error", err))
		return offlineEntry(), outcomeOffline
	}
	g.storeIfCacheable(r.Context(), cat, key, entry, logger)
	return entry, outcomeNetwork
}

// serveNetworkFirst prefers a fresh origin response; failures and non-ok
// statuses fall back to the cache before the offline response.
func (g *Gateway) serveNetworkFirst(r *http.Request, cat Category, key string, logger *slog.Logger) (cache.Entry, string) {
	entry, err := g.fetcher.Fetch(r.Context(), r)
	if err == nil && entry.OK() {
		g.storeIfCacheable(r.Context(), cat, key, entry, logger)
		return entry, outcomeNetwork
	}
	if err != nil {
		logger.Warn("origin fetch failed", slog.Any("error", err))
	}
	if cached, ok := g.lookup(r.Context(), cat, key); ok {
		return cached, outcomeFallback
	}
	if err == nil {
		// Origin answered with a non-ok status and no cached copy exists;
		// surface the origin's answer rather than masking it as offline.
		return entry, outcomeNetwork
	}
	return offlineEntry(), outcomeOffline
}

// serveStaleWhileRevalidate returns the cached entry immediately and spawns a
// background refresh whose errors are logged, never surfaced to the caller.
func (g *Gateway) serveStaleWhileRevalidate(r *http.Request, cat Category, key string, logger *slog.Logger) (cache.Entry, string) {
	if entry, ok := g.lookup(r.Context(), cat, key); ok {
		g.spawnRevalidation(r, cat, key, logger)
		return entry, outcomeHit
	}
	entry, err := g.fetcher.Fetch(r.Context(), r)
	if err != nil {
		logger.Warn("origin fetch failed", slog.Any("error", err))
		return offlineEntry(), outcomeOffline
	}
	g.storeIfCacheable(r.Context(), cat, key, entry, logger)
	return entry, outcomeNetwork
}

// spawnRevalidation refreshes a cache entry on its own context so the caller
// who already holds a response is never blocked or failed by the refresh.
func (g *Gateway) spawnRevalidation(r *http.Request, cat Category, key string, logger *slog.Logger) {
	refresh := r.Clone(context.Background())
	g.background.Add(1)
	go func() {
		defer g.background.Done()
		ctx, cancel := context.WithTimeout(context.Background(), g.revalidateTimeout)
		defer cancel()
		entry, err := g.fetcher.Fetch(ctx, refresh.WithContext(ctx))
		if err != nil {
			logger.Warn("background revalidation failed", slog.Any("error", err))
			return
		}
		g.storeIfCacheable(ctx, cat, key, entry, logger)
	}()
}

func (g *Gateway) lookup(ctx context.Context, cat Category, key string) (cache.Entry, bool) {
	start := time.Now()
	entry, ok, err := g.store.Lookup(ctx, cat.Namespace, key)
	if err != nil {
		g.metrics.ObserveCacheLookup(cat.Name, metrics.CacheLookupError, time.Since(start))
		g.logger.Warn("cache lookup failed", slog.String("namespace", cat.Namespace), slog.Any("error", err))
		return cache.Entry{}, false
	}
	if !ok {
		g.metrics.ObserveCacheLookup(cat.Name, metrics.CacheLookupMiss, time.Since(start))
		return cache.Entry{}, false
	}
	g.metrics.ObserveCacheLookup(cat.Name, metrics.CacheLookupHit, time.Since(start))
	return entry, true
}

// storeIfCacheable persists HTTP-ok responses under the effective TTL. A zero
// TTL (origin said no-store, or the category opted out) stores nothing.
func (g *Gateway) storeIfCacheable(ctx context.Context, cat Category, key string, entry cache.Entry, logger *slog.Logger) {
	if !entry.OK() {
		return
	}
	ttl := cache.EffectiveTTL(cat.TTL, g.maxTTL, cat.FollowCacheControl, entry.Headers)
	if ttl <= 0 {
		return
	}
	entry.StoredAt = time.Now().UTC()
	entry.ExpiresAt = entry.StoredAt.Add(ttl)
	start := time.Now()
	if err := g.store.Put(ctx, cat.Namespace, key, entry); err != nil {
		g.metrics.ObserveCacheStore(cat.Name, metrics.CacheStoreError, time.Since(start))
		logger.Warn("cache store failed", slog.String("namespace", cat.Namespace), slog.Any("error", err))
		return
	}
	g.metrics.ObserveCacheStore(cat.Name, metrics.CacheStoreStored, time.Since(start))
}

func (g *Gateway) cacheKey(r *http.Request) string {
	descriptor := cache.Descriptor{
		Method:  r.Method,
		URL:     r.URL.RequestURI(),
		Headers: map[string]string{"Accept": r.Header.Get("Accept")},
	}
	return descriptor.Hash(g.correlationHeader)
}

func (g *Gateway) requestCorrelationID(r *http.Request) string {
	if g.correlationHeader != "" {
		if id := r.Header.Get(g.correlationHeader); id != "" {
			return id
		}
	}
	return uuid.NewString()
}

func offlineEntry() cache.Entry {
	return cache.Entry{
		Status: http.StatusServiceUnavailable,
		Headers: map[string]string{
			"Content-Type":  "text/plain; charset=utf-8",
			"Cache-Control": "no-store",
		},
		Body: []byte(offlineBody),
	}
}

func writeEntry(w http.ResponseWriter, entry cache.Entry, outcome string) {
	for name, value := range entry.Headers {
		w.Header().Set(name, value)
	}
	switch outcome {
	case outcomeHit:
		w.Header().Set("X-Cache", "HIT")
	case outcomeFallback:
		w.Header().Set("X-Cache", "STALE")
	case outcomeNetwork, outcomeOffline:
		w.Header().Set("X-Cache", "MISS")
	}
	status := entry.Status
	if status == 0 {
		status = http.StatusBadGateway
	}
	w.WriteHeader(status)
	_, _ = w.Write(entry.Body)
}
