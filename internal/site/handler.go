package site

import (
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/numerist/contentgate/internal/content"
)

// Handler is the origin: it maps request paths onto resolved content objects,
// dispatches each object's model to a layout, and serves the rendered page.
// The graph is swapped atomically on content reloads.
type Handler struct {
	logger        *slog.Logger
	renderer      *Renderer
	pipeline      *Pipeline
	layouts       map[string]string
	defaultLayout string

	mu    sync.RWMutex
	graph *content.Graph
}

// HandlerOptions carries the layout dispatch table: model name to layout
// template, with DefaultLayout as the fallback renderer.
type HandlerOptions struct {
	Renderer      *Renderer
	Pipeline      *Pipeline
	Layouts       map[string]string
	DefaultLayout string
}

func NewHandler(logger *slog.Logger, opts HandlerOptions) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	defaultLayout := opts.DefaultLayout
	if defaultLayout == "" {
		defaultLayout = "page.tmpl"
	}
	return &Handler{
		logger:        logger.With(slog.String("agent", "site")),
		renderer:      opts.Renderer,
		pipeline:      opts.Pipeline,
		layouts:       opts.Layouts,
		defaultLayout: defaultLayout,
	}
}

// SetGraph swaps in a freshly resolved content graph and invalidates the
// layout memo so template edits land together with content edits.
func (h *Handler) SetGraph(graph *content.Graph) {
	h.mu.Lock()
	h.graph = graph
	h.mu.Unlock()
	if h.renderer != nil {
		h.renderer.Invalidate()
	}
}

// Snapshot returns the active graph for health checks.
func (h *Handler) Snapshot() *content.Graph {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.graph
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	graph := h.Snapshot()
	if graph == nil {
		http.Error(w, "content unavailable", http.StatusServiceUnavailable)
		return
	}

	id := pathToID(r.URL.Path)
	obj, ok := graph.Lookup(id)
	if !ok {
		http.NotFound(w, r)
		return
	}

	layout := h.layoutFor(obj.Model)
	body := ""
	if h.pipeline != nil && obj.Body != "" {
		body = h.pipeline.Render(obj.Body)
	}
	page, err := h.renderer.Render(layout, map[string]any{
		"ID":     obj.ID,
		"Model":  obj.Model,
		"Fields": obj.Fields,
		"Body":   body,
	})
	if err != nil {
		// A render failure is a content defect, not an outage: serve a
		// deterministic inline error page.
		h.logger.Error("page render failed", slog.String("id", obj.ID), slog.String("layout", layout), slog.Any("error", err))
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprintf(w, `<div class="render-error">failed to render %s</div>`, html.EscapeString(obj.ID))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(page))
}

func (h *Handler) layoutFor(model string) string {
	if layout, ok := h.layouts[model]; ok && strings.TrimSpace(layout) != "" {
		return layout
	}
	return h.defaultLayout
}

// pathToID normalizes a request path into a content identifier. The site
// root maps onto the index document.
func pathToID(path string) string {
	id := strings.Trim(path, "/")
	if id == "" {
		return "index"
	}
	return id
}
