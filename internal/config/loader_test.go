package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoader(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(t *testing.T) []string
		wantErr bool
		assert  func(t *testing.T, cfg Config)
	}{
		{
			name:  "returns defaults when no overrides",
			setup: func(t *testing.T) []string { return nil },
			assert: func(t *testing.T, cfg Config) {
				require.Equal(t, 8080, cfg.Server.Listen.Port)
				require.Equal(t, "memory", cfg.Server.Cache.Backend)
				require.Len(t, cfg.Gateway.Categories, 4)
				require.Equal(t, "api", cfg.Gateway.Categories[3].Name)
				require.True(t, cfg.Gateway.Categories[3].Fallback)
			},
		},
		{
			name: "merges file overrides",
			setup: func(t *testing.T) []string {
				path := filepath.Join(t.TempDir(), "server.yaml")
				require.NoError(t, os.WriteFile(path, []byte("server:\n  listen:\n    port: 9090\n"), 0o600))
				return []string{path}
			},
			assert: func(t *testing.T, cfg Config) {
				require.Equal(t, 9090, cfg.Server.Listen.Port)
				// Untouched sections keep their defaults.
				require.Equal(t, "0.0.0.0", cfg.Server.Listen.Address)
			},
		},
		{
			name: "prefers env overrides",
			setup: func(t *testing.T) []string {
				path := filepath.Join(t.TempDir(), "server.yaml")
				require.NoError(t, os.WriteFile(path, []byte("server:\n  listen:\n    port: 9090\n"), 0o600))
				t.Setenv("CONTENTGATE_SERVER__LISTEN__PORT", "9091")
				return []string{path}
			},
			assert: func(t *testing.T, cfg Config) {
				require.Equal(t, 9091, cfg.Server.Listen.Port)
			},
		},
		{
			name: "maps camel case env keys",
			setup: func(t *testing.T) []string {
				t.Setenv("CONTENTGATE_SERVER__CACHE__MAXTTLSECONDS", "3600")
				t.Setenv("CONTENTGATE_GATEWAY__ORIGIN__BASEURL", "http://origin:9000")
				return nil
			},
			assert: func(t *testing.T, cfg Config) {
				require.Equal(t, 3600, cfg.Server.Cache.MaxTTLSeconds)
				require.Equal(t, "http://origin:9000", cfg.Gateway.Origin.BaseURL)
			},
		},
		{
			name: "reads gateway categories from file",
			setup: func(t *testing.T) []string {
				path := filepath.Join(t.TempDir(), "server.yaml")
				raw := `gateway:
  categories:
    - name: everything
      strategy: network-first
      ttl: 1m
      fallback: true
`
				require.NoError(t, os.WriteFile(path, []byte(raw), 0o600))
				return []string{path}
			},
			assert: func(t *testing.T, cfg Config) {
				require.Len(t, cfg.Gateway.Categories, 1)
				require.Equal(t, "everything", cfg.Gateway.Categories[0].Name)
				require.Equal(t, "network-first", cfg.Gateway.Categories[0].Strategy)
			},
		},
		{
			name: "missing file fails",
			setup: func(t *testing.T) []string {
				return []string{filepath.Join(t.TempDir(), "absent.yaml")}
			},
			wantErr: true,
		},
		{
			name: "validation failures surface",
			setup: func(t *testing.T) []string {
				t.Setenv("CONTENTGATE_SERVER__LISTEN__PORT", "70000")
				return nil
			},
			wantErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			files := tc.setup(t)
			loader := NewLoader("CONTENTGATE", files...)
			cfg, err := loader.Load(context.Background())
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			tc.assert(t, cfg)
		})
	}
}
