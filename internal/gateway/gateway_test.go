package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/numerist/contentgate/internal/config"
	"github.com/numerist/contentgate/internal/gateway/cache"
)

// fakeFetcher scripts origin behavior and counts how often it is consulted.
type fakeFetcher struct {
	mu      sync.Mutex
	calls   int
	entry   cache.Entry
	err     error
	perCall []func() (cache.Entry, error)
}

func (f *fakeFetcher) Fetch(_ context.Context, _ *http.Request) (cache.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	call := f.calls
	f.calls++
	if call < len(f.perCall) {
		return f.perCall[call]()
	}
	return f.entry, f.err
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func okEntry(body string) cache.Entry {
	return cache.Entry{
		Status:  http.StatusOK,
		Headers: map[string]string{"Content-Type": "text/html"},
		Body:    []byte(body),
	}
}

func testCategories() []config.CategoryConfig {
	return []config.CategoryConfig{
		{Name: "static", Strategy: "cache-first", TTL: "1h", PathContains: []string{"/css/", "/js/"}},
		{Name: "documentation", Strategy: "stale-while-revalidate", TTL: "1h", PathContains: []string{"/docs/"}},
		{Name: "api", Strategy: "network-first", TTL: "5m", PathContains: []string{"/api/"}, MatchQuery: true, Fallback: true},
	}
}

func newTestGateway(t *testing.T, fetcher Fetcher) (*Gateway, cache.Store, *Classifier) {
	t.Helper()
	classifier, err := NewClassifier(testCategories(), nil, 1)
	if err != nil {
		t.Fatalf("classifier: %v", err)
	}
	store := cache.NewMemory(time.Minute)
	gw := New(nil, Options{
		Store:             store,
		Fetcher:           fetcher,
		Classifier:        classifier,
		CorrelationHeader: "X-Request-ID",
		MaxTTL:            time.Hour,
	})
	return gw, store, classifier
}

func serve(gw *Gateway, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	gw.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestCacheFirstHitSkipsOrigin(t *testing.T) {
	fetcher := &fakeFetcher{entry: okEntry("styles")}
	gw, _, _ := newTestGateway(t, fetcher)

	first := serve(gw, http.MethodGet, "/css/site.css")
	if first.Code != http.StatusOK || first.Header().Get("X-Cache") != "MISS" {
		t.Fatalf("first request: code=%d x-cache=%q", first.Code, first.Header().Get("X-Cache"))
	}

	second := serve(gw, http.MethodGet, "/css/site.css")
	if second.Code != http.StatusOK || second.Header().Get("X-Cache") != "HIT" {
		t.Fatalf("second request: code=%d x-cache=%q", second.Code, second.Header().Get("X-Cache"))
	}
	if second.Body.String() != "styles" {
		t.Fatalf("unexpected body: %q", second.Body.String())
	}
	if fetcher.callCount() != 1 {
		t.Fatalf("cache hit should not consult the origin, got %d fetches", fetcher.callCount())
	}
}

func TestCacheFirstOfflineResponse(t *testing.T) {
	fetcher := &fakeFetcher{err: errors.New("connection refused")}
	gw, _, _ := newTestGateway(t, fetcher)

	rec := serve(gw, http.MethodGet, "/js/engine.js")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	if rec.Body.String() != "offline" {
		t.Fatalf("unexpected offline body: %q", rec.Body.String())
	}
	if rec.Header().Get("Cache-Control") != "no-store" {
		t.Fatalf("offline response must not be cached: %q", rec.Header().Get("Cache-Control"))
	}
}

func TestNetworkFirstPrefersOrigin(t *testing.T) {
	fetcher := &fakeFetcher{entry: okEntry("fresh")}
	gw, _, _ := newTestGateway(t, fetcher)

	serve(gw, http.MethodGet, "/api/problems")
	rec := serve(gw, http.MethodGet, "/api/problems")
	if rec.Header().Get("X-Cache") != "MISS" {
		t.Fatalf("network-first should always try the origin: %q", rec.Header().Get("X-Cache"))
	}
	if fetcher.callCount() != 2 {
		t.Fatalf("expected 2 origin fetches, got %d", fetcher.callCount())
	}
}

func TestNetworkFirstFallsBackToCache(t *testing.T) {
	fetcher := &fakeFetcher{perCall: []func() (cache.Entry, error){
		func() (cache.Entry, error) { return okEntry("cached answer"), nil },
		func() (cache.Entry, error) { return cache.Entry{}, errors.New("origin down") },
	}}
	gw, _, _ := newTestGateway(t, fetcher)

	serve(gw, http.MethodGet, "/api/problems")

	rec := serve(gw, http.MethodGet, "/api/problems")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected cached fallback, got %d", rec.Code)
	}
	if rec.Header().Get("X-Cache") != "STALE" {
		t.Fatalf("fallback should be marked stale: %q", rec.Header().Get("X-Cache"))
	}
	if rec.Body.String() != "cached answer" {
		t.Fatalf("unexpected fallback body: %q", rec.Body.String())
	}
}

func TestNetworkFirstSurfacesOriginErrors(t *testing.T) {
	fetcher := &fakeFetcher{entry: cache.Entry{Status: http.StatusNotFound, Body: []byte("not found")}}
	gw, _, _ := newTestGateway(t, fetcher)

	rec := serve(gw, http.MethodGet, "/api/unknown")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("origin status should pass through, got %d", rec.Code)
	}
}

func TestNetworkFirstOfflineWithoutCache(t *testing.T) {
	fetcher := &fakeFetcher{err: errors.New("origin down")}
	gw, _, _ := newTestGateway(t, fetcher)

	rec := serve(gw, http.MethodGet, "/api/problems")
	if rec.Code != http.StatusServiceUnavailable || rec.Body.String() != "offline" {
		t.Fatalf("expected offline response, got %d %q", rec.Code, rec.Body.String())
	}
}

func TestStaleWhileRevalidateRefreshesInBackground(t *testing.T) {
	fetcher := &fakeFetcher{perCall: []func() (cache.Entry, error){
		func() (cache.Entry, error) { return okEntry("first edition"), nil },
		func() (cache.Entry, error) { return okEntry("second edition"), nil },
	}}
	gw, store, classifier := newTestGateway(t, fetcher)

	// Miss populates the cache from the origin.
	first := serve(gw, http.MethodGet, "/docs/algebra")
	if first.Header().Get("X-Cache") != "MISS" || first.Body.String() != "first edition" {
		t.Fatalf("first request: x-cache=%q body=%q", first.Header().Get("X-Cache"), first.Body.String())
	}

	// Hit serves the stale copy and refreshes behind the scenes.
	second := serve(gw, http.MethodGet, "/docs/algebra")
	if second.Header().Get("X-Cache") != "HIT" || second.Body.String() != "first edition" {
		t.Fatalf("second request: x-cache=%q body=%q", second.Header().Get("X-Cache"), second.Body.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := gw.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	if fetcher.callCount() != 2 {
		t.Fatalf("expected a background refresh, got %d fetches", fetcher.callCount())
	}

	namespace := classifier.Classify(httptest.NewRequest(http.MethodGet, "/docs/algebra", nil)).Namespace
	key := gw.cacheKey(httptest.NewRequest(http.MethodGet, "/docs/algebra", nil))
	entry, ok, err := store.Lookup(context.Background(), namespace, key)
	if err != nil || !ok {
		t.Fatalf("refreshed entry missing: ok=%v err=%v", ok, err)
	}
	if string(entry.Body) != "second edition" {
		t.Fatalf("background refresh did not land: %q", entry.Body)
	}
}

func TestNonGetPassesThroughUncached(t *testing.T) {
	fetcher := &fakeFetcher{entry: cache.Entry{Status: http.StatusCreated, Body: []byte("created")}}
	gw, store, _ := newTestGateway(t, fetcher)

	rec := serve(gw, http.MethodPost, "/api/solutions")
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected passthrough status, got %d", rec.Code)
	}

	namespaces, err := store.Namespaces(context.Background())
	if err != nil {
		t.Fatalf("namespaces: %v", err)
	}
	if len(namespaces) != 0 {
		t.Fatalf("non-GET traffic must not be cached: %v", namespaces)
	}
}

func TestNoStoreResponseNotCached(t *testing.T) {
	entry := okEntry("private answer")
	entry.Headers["Cache-Control"] = "no-store"
	fetcher := &fakeFetcher{entry: entry}

	cfgs := []config.CategoryConfig{
		{Name: "documentation", Strategy: "stale-while-revalidate", TTL: "1h", PathContains: []string{"/docs/"}, FollowCacheControl: true, Fallback: true},
	}
	classifier, err := NewClassifier(cfgs, nil, 1)
	if err != nil {
		t.Fatalf("classifier: %v", err)
	}
	store := cache.NewMemory(time.Minute)
	gw := New(nil, Options{Store: store, Fetcher: fetcher, Classifier: classifier})

	serve(gw, http.MethodGet, "/docs/private")
	serve(gw, http.MethodGet, "/docs/private")
	if fetcher.callCount() != 2 {
		t.Fatalf("no-store responses must be refetched, got %d fetches", fetcher.callCount())
	}
}
