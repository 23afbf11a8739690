package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Loader hydrates the runtime configuration while respecting env > file >
// default precedence.
type Loader struct {
	envPrefix string
	files     []string
}

// NewLoader prepares a config hydrator that honors the env-first contract
// before touching files or defaults.
func NewLoader(envPrefix string, files ...string) *Loader {
	return &Loader{
		envPrefix: envPrefix,
		files:     files,
	}
}

// Load assembles the effective snapshot using the documented precedence rules.
func (l *Loader) Load(ctx context.Context) (Config, error) {
	defaultCfg := DefaultConfig()
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(structToMap(defaultCfg), "."), nil); err != nil {
		return Config{}, fmt.Errorf("config: load defaults: %w", err)
	}

	for _, path := range l.files {
		if path == "" {
			continue
		}
		select {
		case <-ctx.Done():
			return Config{}, ctx.Err()
		default:
		}
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return Config{}, fmt.Errorf("config: file %s not found", path)
			}
			return Config{}, fmt.Errorf("config: stat %s: %w", path, err)
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("config: load file %s: %w", path, err)
		}
	}

	if l.envPrefix != "" {
		canonical := map[string]string{
			"server.logging.correlationheader": "server.logging.correlationHeader",
			"server.cache.maxttlseconds":       "server.cache.maxTtlSeconds",
			"server.cache.redis.tls.cafile":    "server.cache.redis.tls.caFile",
			"site.templatesfolder":             "site.templatesFolder",
			"site.defaultlayout":               "site.defaultLayout",
			"gateway.origin.baseurl":           "gateway.origin.baseUrl",
			"gateway.origin.timeoutseconds":    "gateway.origin.timeoutSeconds",
			"sync.intervalseconds":             "sync.intervalSeconds",
			"sync.batchlimit":                  "sync.batchLimit",
			"sync.metricsendpoint":             "sync.metricsEndpoint",
		}
		transform := func(s string) string {
			// Double underscores signal a nested path (SERVER__LISTEN__PORT ->
			// server.listen.port).
			key := strings.TrimPrefix(s, l.envPrefix+"_")
			key = strings.ReplaceAll(key, "__", ".")
			lower := strings.ToLower(key)
			if mapped, ok := canonical[lower]; ok {
				return mapped
			}
			// Single underscores collapse so LISTEN_PORT works when callers skip
			// the double-underscore nesting convention.
			key = strings.ReplaceAll(key, "_", "")
			return strings.ToLower(key)
		}
		if err := k.Load(env.Provider(l.envPrefix, ".", transform), nil); err != nil {
			return Config{}, fmt.Errorf("config: load env: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// structToMap converts DefaultConfig into a map for the koanf confmap provider.
func structToMap(cfg Config) map[string]any {
	categories := make([]any, 0, len(cfg.Gateway.Categories))
	for _, cat := range cfg.Gateway.Categories {
		categories = append(categories, map[string]any{
			"name":               cat.Name,
			"strategy":           cat.Strategy,
			"ttl":                cat.TTL,
			"pathContains":       cat.PathContains,
			"matchQuery":         cat.MatchQuery,
			"when":               cat.When,
			"followCacheControl": cat.FollowCacheControl,
			"fallback":           cat.Fallback,
		})
	}
	references := make(map[string]any, len(cfg.Content.References))
	for field, kind := range cfg.Content.References {
		references[field] = kind
	}
	return map[string]any{
		"server": map[string]any{
			"listen": map[string]any{
				"address": cfg.Server.Listen.Address,
				"port":    cfg.Server.Listen.Port,
			},
			"logging": map[string]any{
				"level":             cfg.Server.Logging.Level,
				"format":            cfg.Server.Logging.Format,
				"correlationHeader": cfg.Server.Logging.CorrelationHeader,
			},
			"cache": map[string]any{
				"backend":       cfg.Server.Cache.Backend,
				"version":       cfg.Server.Cache.Version,
				"maxTtlSeconds": cfg.Server.Cache.MaxTTLSeconds,
				"redis": map[string]any{
					"address":  cfg.Server.Cache.Redis.Address,
					"username": cfg.Server.Cache.Redis.Username,
					"password": cfg.Server.Cache.Redis.Password,
					"db":       cfg.Server.Cache.Redis.DB,
					"tls": map[string]any{
						"enabled": cfg.Server.Cache.Redis.TLS.Enabled,
						"caFile":  cfg.Server.Cache.Redis.TLS.CAFile,
					},
				},
			},
		},
		"content": map[string]any{
			"folders":    cfg.Content.Folders,
			"references": references,
			"watch":      cfg.Content.Watch,
		},
		"site": map[string]any{
			"templatesFolder": cfg.Site.TemplatesFolder,
			"layouts":         map[string]any{},
			"defaultLayout":   cfg.Site.DefaultLayout,
		},
		"gateway": map[string]any{
			"origin": map[string]any{
				"baseUrl":        cfg.Gateway.Origin.BaseURL,
				"timeoutSeconds": cfg.Gateway.Origin.TimeoutSeconds,
			},
			"categories": categories,
			"precache":   cfg.Gateway.Precache,
		},
		"sync": map[string]any{
			"database":        cfg.Sync.Database,
			"intervalSeconds": cfg.Sync.IntervalSeconds,
			"batchLimit":      cfg.Sync.BatchLimit,
			"metricsEndpoint": cfg.Sync.MetricsEndpoint,
		},
	}
}
