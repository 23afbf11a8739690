package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/numerist/contentgate/internal/syncq"
)

// Health reports a point-in-time view of the serving surfaces for the
// health endpoint.
type Health struct {
	Status          string    `json:"status"`
	ContentObjects  int       `json:"contentObjects"`
	SkippedObjects  int       `json:"skippedObjects"`
	CacheNamespaces []string  `json:"cacheNamespaces"`
	Timestamp       time.Time `json:"timestamp"`
}

// HealthSource supplies the health snapshot without coupling the router to
// the gateway internals.
type HealthSource interface {
	Health(r *http.Request) Health
}

// RouterOptions collects the handlers the router dispatches between.
type RouterOptions struct {
	Gateway http.Handler
	Metrics http.Handler
	Ingest  http.Handler
	Health  HealthSource
	Drainer *syncq.Drainer
}

// NewRouter wires the HTTP routing facade so the lifecycle server owns URL
// dispatch without embedding routing logic into the gateway itself.
func NewRouter(opts RouterOptions) http.Handler {
	mux := http.NewServeMux()

	if opts.Metrics != nil {
		mux.Handle("/metrics", opts.Metrics)
	}

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		snapshot := Health{Status: "ok", Timestamp: time.Now().UTC()}
		if opts.Health != nil {
			snapshot = opts.Health.Health(r)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(snapshot)
	})

	if opts.Ingest != nil {
		mux.Handle("/api/metrics/performance", opts.Ingest)
	}

	if opts.Drainer != nil {
		mux.HandleFunc("/api/sync/", func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
				return
			}
			tag := strings.TrimPrefix(r.URL.Path, "/api/sync/")
			if !validTag(tag) {
				http.Error(w, "unknown sync tag", http.StatusNotFound)
				return
			}
			result, err := opts.Drainer.Drain(r.Context(), tag)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(result)
		})
	}

	if opts.Gateway != nil {
		mux.Handle("/", opts.Gateway)
	}

	return mux
}

func validTag(tag string) bool {
	for _, known := range syncq.Tags() {
		if known == tag {
			return true
		}
	}
	return false
}
