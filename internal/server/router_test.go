package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/numerist/contentgate/internal/syncq"
)

type staticHealth struct {
	snapshot Health
}

func (s *staticHealth) Health(*http.Request) Health { return s.snapshot }

func echoHandler(body string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(body))
	})
}

func testDrainer(t *testing.T) *syncq.Drainer {
	t.Helper()
	db, err := syncq.Open(context.Background(), filepath.Join(t.TempDir(), "queue.db"))
	if err != nil {
		t.Fatalf("open queue: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	d := syncq.NewDrainer(newTestLogger(), db, syncq.DrainerOptions{})
	for _, tag := range syncq.Tags() {
		d.Register(tag, func(context.Context, syncq.Item) error { return nil })
	}
	return d
}

func TestRouterDispatch(t *testing.T) {
	router := NewRouter(RouterOptions{
		Gateway: echoHandler("gateway"),
		Metrics: echoHandler("metrics"),
		Ingest:  echoHandler("ingest"),
		Health:  &staticHealth{snapshot: Health{Status: "ok", ContentObjects: 7, Timestamp: time.Now().UTC()}},
		Drainer: testDrainer(t),
	})

	cases := []struct {
		method, target, want string
	}{
		{http.MethodGet, "/docs/algebra", "gateway"},
		{http.MethodGet, "/", "gateway"},
		{http.MethodGet, "/metrics", "metrics"},
		{http.MethodPost, "/api/metrics/performance", "ingest"},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(tc.method, tc.target, nil))
		if !strings.Contains(rec.Body.String(), tc.want) {
			t.Fatalf("%s %s: expected %q handler, got %q", tc.method, tc.target, tc.want, rec.Body.String())
		}
	}
}

func TestRouterHealthEndpoint(t *testing.T) {
	router := NewRouter(RouterOptions{
		Health: &staticHealth{snapshot: Health{
			Status:          "ok",
			ContentObjects:  12,
			SkippedObjects:  1,
			CacheNamespaces: []string{"static-v1"},
			Timestamp:       time.Now().UTC(),
		}},
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}

	var snapshot Health
	if err := json.Unmarshal(rec.Body.Bytes(), &snapshot); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if snapshot.ContentObjects != 12 || snapshot.SkippedObjects != 1 {
		t.Fatalf("unexpected snapshot: %#v", snapshot)
	}
	if len(snapshot.CacheNamespaces) != 1 || snapshot.CacheNamespaces[0] != "static-v1" {
		t.Fatalf("namespaces missing: %#v", snapshot)
	}
}

func TestRouterSyncKick(t *testing.T) {
	router := NewRouter(RouterOptions{Drainer: testDrainer(t)})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/sync/computation", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}

	var result syncq.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.Tag != syncq.TagComputation {
		t.Fatalf("unexpected result: %#v", result)
	}
}

func TestRouterSyncKickRejections(t *testing.T) {
	router := NewRouter(RouterOptions{Drainer: testDrainer(t)})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sync/computation", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET kick should be rejected, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/sync/unknown-tag", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown tag should 404, got %d", rec.Code)
	}
}

func TestRouterWithoutGatewayIs404(t *testing.T) {
	router := NewRouter(RouterOptions{})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/anything", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without a gateway handler, got %d", rec.Code)
	}
}
