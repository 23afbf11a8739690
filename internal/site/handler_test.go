package site

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/numerist/contentgate/internal/content"
)

func newTestHandler(t *testing.T, layouts map[string]string) *Handler {
	t.Helper()
	dir := t.TempDir()
	writeLayout(t, dir, "page.tmpl", `<article data-model="{{ .Model }}">{{ .Body }}</article>`)
	writeLayout(t, dir, "author.tmpl", `<section class="author">{{ .Fields.name }}</section>`)
	writeLayout(t, dir, "broken.tmpl", `{{ fail "always" }}`)

	return NewHandler(nil, HandlerOptions{
		Renderer:      newTestRenderer(t, dir),
		Pipeline:      NewPipeline(nil),
		Layouts:       layouts,
		DefaultLayout: "page.tmpl",
	})
}

func testGraph() *content.Graph {
	return &content.Graph{Objects: map[string]*content.Object{
		"index": {ID: "index", Model: "page", Fields: map[string]any{}, Body: "Welcome"},
		"docs/algebra": {
			ID: "docs/algebra", Model: "article",
			Fields: map[string]any{"title": "Algebra"},
			Body:   "Equations everywhere",
		},
		"authors/euler": {
			ID: "authors/euler", Model: "author",
			Fields: map[string]any{"name": "Euler"},
		},
	}}
}

func TestHandlerServesPage(t *testing.T) {
	h := newTestHandler(t, nil)
	h.SetGraph(testGraph())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/docs/algebra", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `data-model="article"`) {
		t.Fatalf("layout not applied: %q", rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "Equations everywhere") {
		t.Fatalf("body missing: %q", rec.Body.String())
	}
}

func TestHandlerRootServesIndex(t *testing.T) {
	h := newTestHandler(t, nil)
	h.SetGraph(testGraph())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "Welcome") {
		t.Fatalf("root should serve the index document: %d %q", rec.Code, rec.Body.String())
	}
}

func TestHandlerDispatchesLayoutByModel(t *testing.T) {
	h := newTestHandler(t, map[string]string{"author": "author.tmpl"})
	h.SetGraph(testGraph())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/authors/euler", nil))
	if !strings.Contains(rec.Body.String(), `<section class="author">Euler</section>`) {
		t.Fatalf("model-specific layout not used: %q", rec.Body.String())
	}
}

func TestHandlerUnknownPathIs404(t *testing.T) {
	h := newTestHandler(t, nil)
	h.SetGraph(testGraph())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/docs/missing", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHandlerWithoutGraphIs503(t *testing.T) {
	h := newTestHandler(t, nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 before content loads, got %d", rec.Code)
	}
}

func TestHandlerRenderFailureIsDeterministic(t *testing.T) {
	h := newTestHandler(t, map[string]string{"article": "broken.tmpl"})
	h.SetGraph(testGraph())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/docs/algebra", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `render-error`) {
		t.Fatalf("expected inline error block: %q", rec.Body.String())
	}
}

func TestPathToID(t *testing.T) {
	cases := map[string]string{
		"/":              "index",
		"":               "index",
		"/docs/algebra":  "docs/algebra",
		"/docs/algebra/": "docs/algebra",
	}
	for path, want := range cases {
		if got := pathToID(path); got != want {
			t.Fatalf("pathToID(%q): got %q, want %q", path, got, want)
		}
	}
}
