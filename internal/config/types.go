package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config holds every server-level option for the content gateway.
type Config struct {
	Server  ServerConfig  `koanf:"server"`
	Content ContentConfig `koanf:"content"`
	Site    SiteConfig    `koanf:"site"`
	Gateway GatewayConfig `koanf:"gateway"`
	Sync    SyncConfig    `koanf:"sync"`
}

// ServerConfig collects the bootstrap knobs owned by the lifecycle agent.
type ServerConfig struct {
	Listen  ListenConfig  `koanf:"listen"`
	Logging LoggingConfig `koanf:"logging"`
	Cache   CacheConfig   `koanf:"cache"`
}

// ListenConfig instructs the HTTP listener about bind address and port.
type ListenConfig struct {
	Address string `koanf:"address"`
	Port    int    `koanf:"port"`
}

// LoggingConfig expresses log level, format, and correlation ID wiring.
type LoggingConfig struct {
	Level             string `koanf:"level"`
	Format            string `koanf:"format"`
	CorrelationHeader string `koanf:"correlationHeader"`
}

// CacheConfig selects the response cache backend and the namespace version.
// Bumping Version renames every namespace, and the activation sweep reclaims
// the previous generation.
type CacheConfig struct {
	Backend       string      `koanf:"backend"`
	Version       int         `koanf:"version"`
	MaxTTLSeconds int         `koanf:"maxTtlSeconds"`
	Redis         RedisConfig `koanf:"redis"`
}

type RedisConfig struct {
	Address  string         `koanf:"address"`
	Username string         `koanf:"username"`
	Password string         `koanf:"password"`
	DB       int            `koanf:"db"`
	TLS      RedisTLSConfig `koanf:"tls"`
}

type RedisTLSConfig struct {
	Enabled bool   `koanf:"enabled"`
	CAFile  string `koanf:"caFile"`
}

// ContentConfig announces where content documents are sourced and which
// fields the resolver treats as references. The reference table is plain data
// so the resolver carries no schema of its own.
type ContentConfig struct {
	Folders    []string          `koanf:"folders"`
	References map[string]string `koanf:"references"`
	Watch      bool              `koanf:"watch"`
}

// SiteConfig maps content models onto layout templates.
type SiteConfig struct {
	TemplatesFolder string            `koanf:"templatesFolder"`
	Layouts         map[string]string `koanf:"layouts"`
	DefaultLayout   string            `koanf:"defaultLayout"`
}

// GatewayConfig drives request classification and the origin fetch policy.
type GatewayConfig struct {
	Origin     OriginConfig     `koanf:"origin"`
	Categories []CategoryConfig `koanf:"categories"`
	Precache   []string         `koanf:"precache"`
}

// OriginConfig points the gateway at an upstream origin. An empty BaseURL
// means the in-process site renderer serves as the origin.
type OriginConfig struct {
	BaseURL        string `koanf:"baseUrl"`
	TimeoutSeconds int    `koanf:"timeoutSeconds"`
}

// CategoryConfig declares one classification rule. Rules are evaluated in
// order; the first match wins. A request matches when its path contains any
// of PathContains, when MatchQuery is set and a query string is present, or
// when the optional CEL predicate evaluates true.
type CategoryConfig struct {
	Name               string   `koanf:"name"`
	Strategy           string   `koanf:"strategy"`
	TTL                string   `koanf:"ttl"`
	PathContains       []string `koanf:"pathContains"`
	MatchQuery         bool     `koanf:"matchQuery"`
	When               string   `koanf:"when"`
	FollowCacheControl bool     `koanf:"followCacheControl"`
	Fallback           bool     `koanf:"fallback"`
}

// SyncConfig configures the deferred-work queue and its drain cadence.
type SyncConfig struct {
	Database        string `koanf:"database"`
	IntervalSeconds int    `koanf:"intervalSeconds"`
	BatchLimit      int    `koanf:"batchLimit"`
	MetricsEndpoint string `koanf:"metricsEndpoint"`
}

var validStrategies = map[string]struct{}{
	"cache-first":            {},
	"network-first":          {},
	"stale-while-revalidate": {},
}

// Validate enforces invariants that keep the runtime predictable before
// serving traffic.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config: nil")
	}
	if c.Server.Listen.Port <= 0 || c.Server.Listen.Port > 65535 {
		return fmt.Errorf("config: listen.port invalid: %d", c.Server.Listen.Port)
	}
	if c.Server.Cache.Version <= 0 {
		return fmt.Errorf("config: server.cache.version invalid: %d", c.Server.Cache.Version)
	}
	if c.Server.Cache.MaxTTLSeconds < 0 {
		return fmt.Errorf("config: server.cache.maxTtlSeconds invalid: %d", c.Server.Cache.MaxTTLSeconds)
	}
	backend := strings.TrimSpace(strings.ToLower(c.Server.Cache.Backend))
	switch backend {
	case "", "memory":
	case "redis":
		if strings.TrimSpace(c.Server.Cache.Redis.Address) == "" {
			return errors.New("config: server.cache.redis.address required for redis backend")
		}
	default:
		return fmt.Errorf("config: server.cache.backend unsupported: %s", c.Server.Cache.Backend)
	}
	if len(c.Gateway.Categories) == 0 {
		return errors.New("config: gateway.categories must not be empty")
	}
	seen := make(map[string]struct{}, len(c.Gateway.Categories))
	fallbacks := 0
	for i, cat := range c.Gateway.Categories {
		name := strings.TrimSpace(cat.Name)
		if name == "" {
			return fmt.Errorf("config: gateway.categories[%d] name required", i)
		}
		if _, ok := seen[name]; ok {
			return fmt.Errorf("config: gateway category %q declared twice", name)
		}
		seen[name] = struct{}{}
		if _, ok := validStrategies[strings.ToLower(strings.TrimSpace(cat.Strategy))]; !ok {
			return fmt.Errorf("config: gateway category %q strategy unsupported: %s", name, cat.Strategy)
		}
		if cat.TTL != "" {
			if _, err := time.ParseDuration(cat.TTL); err != nil {
				return fmt.Errorf("config: gateway category %q ttl invalid: %w", name, err)
			}
		}
		if cat.Fallback {
			fallbacks++
		}
	}
	if fallbacks != 1 {
		return fmt.Errorf("config: exactly one gateway category must be the fallback, found %d", fallbacks)
	}
	for field, kind := range c.Content.References {
		switch strings.ToLower(strings.TrimSpace(kind)) {
		case "single", "list":
		default:
			return fmt.Errorf("config: content.references[%s] kind unsupported: %s", field, kind)
		}
	}
	if c.Sync.IntervalSeconds < 0 {
		return fmt.Errorf("config: sync.intervalSeconds invalid: %d", c.Sync.IntervalSeconds)
	}
	if c.Sync.BatchLimit < 0 {
		return fmt.Errorf("config: sync.batchLimit invalid: %d", c.Sync.BatchLimit)
	}
	return nil
}

// DefaultConfig returns the baseline values. The default category table
// mirrors the site's deployed policy: mathematical engine assets and static
// files are cache-first, documentation pages revalidate in the background,
// and API traffic (the fallback) is network-first.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Listen: ListenConfig{
				Address: "0.0.0.0",
				Port:    8080,
			},
			Logging: LoggingConfig{
				Level:             "info",
				Format:            "json",
				CorrelationHeader: "X-Request-ID",
			},
			Cache: CacheConfig{
				Backend:       "memory",
				Version:       1,
				MaxTTLSeconds: 86400,
			},
		},
		Content: ContentConfig{
			Folders: []string{"./content"},
			References: map[string]string{
				"author":   "single",
				"related":  "list",
				"sections": "list",
			},
			Watch: true,
		},
		Site: SiteConfig{
			TemplatesFolder: "./templates",
			DefaultLayout:   "page.tmpl",
		},
		Gateway: GatewayConfig{
			Origin: OriginConfig{TimeoutSeconds: 10},
			Categories: []CategoryConfig{
				{
					Name:         "mathematical",
					Strategy:     "cache-first",
					TTL:          "24h",
					PathContains: []string{"/wasm/", "/engine/", ".wasm"},
				},
				{
					Name:         "static",
					Strategy:     "cache-first",
					TTL:          "12h",
					PathContains: []string{"/images/", "/fonts/", "/css/", "/js/"},
				},
				{
					Name:               "documentation",
					Strategy:           "stale-while-revalidate",
					TTL:                "1h",
					PathContains:       []string{"/docs/", "/blog/", "/projects/"},
					FollowCacheControl: true,
				},
				{
					Name:         "api",
					Strategy:     "network-first",
					TTL:          "5m",
					PathContains: []string{"/api/"},
					MatchQuery:   true,
					Fallback:     true,
				},
			},
		},
		Sync: SyncConfig{
			Database:        "./contentgate.db",
			IntervalSeconds: 60,
			BatchLimit:      50,
			MetricsEndpoint: "/api/metrics/performance",
		},
	}
}
