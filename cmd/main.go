package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/numerist/contentgate/internal/config"
	"github.com/numerist/contentgate/internal/content"
	"github.com/numerist/contentgate/internal/expr"
	"github.com/numerist/contentgate/internal/gateway"
	"github.com/numerist/contentgate/internal/gateway/cache"
	"github.com/numerist/contentgate/internal/insights"
	"github.com/numerist/contentgate/internal/logging"
	"github.com/numerist/contentgate/internal/metrics"
	"github.com/numerist/contentgate/internal/server"
	"github.com/numerist/contentgate/internal/site"
	"github.com/numerist/contentgate/internal/syncq"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	var (
		configFile = flag.String("config", "", "path to server configuration file")
		envPrefix  = flag.String("env-prefix", "CONTENTGATE", "environment variable prefix")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loader := config.NewLoader(*envPrefix, *configFile)
	cfg, err := loader.Load(ctx)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.Server.Logging)
	if err != nil {
		log.Fatalf("failed to configure logger: %v", err)
	}

	cacheLogger := logger.With(slog.String("agent", "cache_factory"))
	responseCache := buildResponseCache(cacheLogger, cfg.Server.Cache)

	graph, schema, err := loadContent(ctx, logger, cfg.Content)
	if err != nil {
		logger.Error("content load failed", slog.Any("error", err))
		os.Exit(1)
	}

	siteHandler, err := buildSite(logger, cfg.Site)
	if err != nil {
		logger.Error("site setup failed", slog.Any("error", err))
		os.Exit(1)
	}
	siteHandler.SetGraph(graph)

	celEnv, err := expr.NewEnvironment()
	if err != nil {
		logger.Error("expression environment setup failed", slog.Any("error", err))
		os.Exit(1)
	}
	classifier, err := gateway.NewClassifier(cfg.Gateway.Categories, celEnv, cfg.Server.Cache.Version)
	if err != nil {
		logger.Error("category table rejected", slog.Any("error", err))
		os.Exit(1)
	}

	fetcher, err := buildFetcher(cfg.Gateway.Origin, siteHandler)
	if err != nil {
		logger.Error("origin fetcher setup failed", slog.Any("error", err))
		os.Exit(1)
	}

	promRegistry := prometheus.NewRegistry()
	metricsRecorder := metrics.NewRecorder(promRegistry)

	gw := gateway.New(logger, gateway.Options{
		Store:             responseCache,
		Fetcher:           fetcher,
		Classifier:        classifier,
		Metrics:           metricsRecorder,
		CorrelationHeader: cfg.Server.Logging.CorrelationHeader,
		MaxTTL:            time.Duration(cfg.Server.Cache.MaxTTLSeconds) * time.Second,
	})
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := gw.Close(shutdownCtx); err != nil {
			logger.Error("cache shutdown failed", slog.Any("error", err))
		}
	}()

	if len(cfg.Gateway.Precache) > 0 {
		if err := gw.Install(ctx, cfg.Gateway.Precache); err != nil {
			logger.Error("precache install failed, serving without warm cache", slog.Any("error", err))
		}
	}
	if removed, err := gw.Activate(ctx); err != nil {
		logger.Error("namespace sweep failed", slog.Any("error", err))
	} else if len(removed) > 0 {
		logger.Info("stale cache namespaces reclaimed", slog.Any("namespaces", removed))
	}

	queue, err := syncq.Open(ctx, cfg.Sync.Database)
	if err != nil {
		logger.Error("sync queue open failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := queue.Close(); err != nil {
			logger.Error("sync queue close failed", slog.Any("error", err))
		}
	}()

	drainer := syncq.NewDrainer(logger, queue, syncq.DrainerOptions{
		BatchLimit: cfg.Sync.BatchLimit,
		Interval:   time.Duration(cfg.Sync.IntervalSeconds) * time.Second,
	})
	registerSyncHandlers(logger, drainer, gw, cfg)
	go drainer.Run(ctx)

	var contentWatcher *content.Watcher
	if cfg.Content.Watch {
		watcher, err := content.Watch(ctx, cfg.Content.Folders, func() {
			fresh, err := content.Load(ctx, cfg.Content.Folders)
			if err != nil {
				logger.Error("content reload failed", slog.Any("error", err))
				return
			}
			skipped := content.Resolve(fresh, schema)
			for _, skip := range skipped {
				logger.Warn("reference skipped on reload", slog.String("object", skip.Name), slog.String("reason", skip.Reason))
			}
			siteHandler.SetGraph(fresh)
			logger.Info("content graph reloaded", slog.Int("objects", len(fresh.Objects)))
		}, func(err error) {
			if err != nil {
				logger.Error("content watcher error", slog.Any("error", err))
			}
		})
		if err != nil {
			logger.Error("content watcher setup failed", slog.Any("error", err))
		} else {
			contentWatcher = watcher
			defer contentWatcher.Stop()
		}
	}

	handler := server.NewRouter(server.RouterOptions{
		Gateway: gw,
		Metrics: metricsRecorder.Handler(),
		Ingest:  insights.NewHandler(logger),
		Health:  &healthSource{site: siteHandler, store: responseCache},
		Drainer: drainer,
	})

	srv, err := server.New(cfg, logger, handler)
	if err != nil {
		logger.Error("unable to construct server", slog.Any("error", err))
		os.Exit(1)
	}

	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server terminated unexpectedly", slog.Any("error", err))
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger.Info("server shutdown complete")
}

func loadContent(ctx context.Context, logger *slog.Logger, cfg config.ContentConfig) (*content.Graph, content.Schema, error) {
	graph, err := content.Load(ctx, cfg.Folders)
	if err != nil {
		return nil, nil, err
	}
	schema, err := content.ParseSchema(cfg.References)
	if err != nil {
		return nil, nil, err
	}
	skipped := content.Resolve(graph, schema)
	for _, skip := range skipped {
		logger.Warn("reference skipped", slog.String("object", skip.Name), slog.String("reason", skip.Reason))
	}
	logger.Info("content graph loaded", slog.Int("objects", len(graph.Objects)), slog.Int("skipped", len(graph.Skipped)))
	return graph, schema, nil
}

func buildSite(logger *slog.Logger, cfg config.SiteConfig) (*site.Handler, error) {
	sandbox, err := site.NewSandbox(cfg.TemplatesFolder)
	if err != nil {
		return nil, err
	}
	return site.NewHandler(logger, site.HandlerOptions{
		Renderer:      site.NewRenderer(sandbox),
		Pipeline:      site.NewPipeline(logger),
		Layouts:       cfg.Layouts,
		DefaultLayout: cfg.DefaultLayout,
	}), nil
}

func buildFetcher(cfg config.OriginConfig, siteHandler http.Handler) (gateway.Fetcher, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return gateway.NewLocalFetcher(siteHandler), nil
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	return gateway.NewUpstreamFetcher(cfg.BaseURL, timeout)
}

// registerSyncHandlers binds a delivery routine to every sync tag. Performance
// records batch into the ingest endpoint; cache-warm items install their URLs
// through the gateway; computation and content items replay against the
// origin when one is configured.
func registerSyncHandlers(logger *slog.Logger, drainer *syncq.Drainer, gw *gateway.Gateway, cfg config.Config) {
	drainer.RegisterBatch(syncq.TagPerformance, syncq.MetricsBatchHandler(metricsEndpoint(cfg), nil))

	drainer.Register(syncq.TagCacheWarm, func(ctx context.Context, item syncq.Item) error {
		var payload struct {
			URLs []string `json:"urls"`
		}
		if err := json.Unmarshal(item.Payload, &payload); err != nil {
			return fmt.Errorf("decode cache-warm payload: %w", err)
		}
		return gw.Install(ctx, payload.URLs)
	})

	replay := originReplayHandler(logger, cfg.Gateway.Origin.BaseURL)
	drainer.Register(syncq.TagComputation, replay)
	drainer.Register(syncq.TagContent, replay)
}

// originReplayHandler posts a queued payload to the path it recorded. Without
// an upstream origin the item is acknowledged and logged, since the local
// renderer accepts no writes.
func originReplayHandler(logger *slog.Logger, baseURL string) syncq.Handler {
	client := &http.Client{Timeout: 10 * time.Second}
	return func(ctx context.Context, item syncq.Item) error {
		var payload struct {
			Path string          `json:"path"`
			Body json.RawMessage `json:"body"`
		}
		if err := json.Unmarshal(item.Payload, &payload); err != nil {
			return fmt.Errorf("decode replay payload: %w", err)
		}
		if strings.TrimSpace(baseURL) == "" {
			logger.Info("sync item acknowledged without origin", slog.String("tag", item.Tag), slog.String("id", item.ID))
			return nil
		}
		target := strings.TrimRight(baseURL, "/") + "/" + strings.TrimLeft(payload.Path, "/")
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(string(payload.Body)))
		if err != nil {
			return fmt.Errorf("build replay request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("replay to origin: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("origin replay status %d", resp.StatusCode)
		}
		return nil
	}
}

func metricsEndpoint(cfg config.Config) string {
	endpoint := cfg.Sync.MetricsEndpoint
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return endpoint
	}
	return fmt.Sprintf("http://127.0.0.1:%d/%s", cfg.Server.Listen.Port, strings.TrimLeft(endpoint, "/"))
}

type healthSource struct {
	site  *site.Handler
	store cache.Store
}

func (h *healthSource) Health(r *http.Request) server.Health {
	snapshot := server.Health{Status: "ok", Timestamp: time.Now().UTC()}
	if graph := h.site.Snapshot(); graph != nil {
		snapshot.ContentObjects = len(graph.Objects)
		snapshot.SkippedObjects = len(graph.Skipped)
	}
	if namespaces, err := h.store.Namespaces(r.Context()); err == nil {
		snapshot.CacheNamespaces = namespaces
	}
	return snapshot
}

func buildResponseCache(logger *slog.Logger, cfg config.CacheConfig) cache.Store {
	ttl := time.Duration(cfg.MaxTTLSeconds) * time.Second
	backend := strings.TrimSpace(strings.ToLower(cfg.Backend))
	switch backend {
	case "", "memory":
		if logger != nil {
			logger.Info("using memory response cache", slog.Duration("ttl", ttl))
		}
		return cache.NewMemory(ttl)
	case "redis":
		redisCache, err := cache.NewRedis(cache.RedisConfig{
			Address:  cfg.Redis.Address,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TLS: cache.RedisTLSConfig{
				Enabled: cfg.Redis.TLS.Enabled,
				CAFile:  cfg.Redis.TLS.CAFile,
			},
		})
		if err != nil {
			if logger != nil {
				logger.Error("redis cache initialization failed", slog.Any("error", err))
				logger.Info("falling back to memory cache")
			}
			return cache.NewMemory(ttl)
		}
		if logger != nil {
			logger.Info("using redis response cache", slog.String("address", cfg.Redis.Address))
		}
		return redisCache
	default:
		if logger != nil {
			logger.Warn("unsupported cache backend, defaulting to memory", slog.String("backend", cfg.Backend))
		}
		return cache.NewMemory(ttl)
	}
}
