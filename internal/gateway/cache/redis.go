package cache

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	valkey "github.com/valkey-io/valkey-go"
)

const namespaceRegistryKey = "contentgate:namespaces"

type RedisTLSConfig struct {
	Enabled bool
	CAFile  string
}

type RedisConfig struct {
	Address  string
	Username string
	Password string
	DB       int
	TLS      RedisTLSConfig
}

type redisStore struct {
	client valkey.Client
}

// NewRedis connects to a valkey/redis server and verifies it with a ping
// before handing the store to the gateway.
func NewRedis(cfg RedisConfig) (Store, error) {
	if cfg.Address == "" {
		return nil, errors.New("cache: redis address required")
	}

	option := valkey.ClientOption{
		InitAddress:       []string{cfg.Address},
		Username:          cfg.Username,
		Password:          cfg.Password,
		SelectDB:          cfg.DB,
		AlwaysRESP2:       true,
		ForceSingleClient: true,
		DisableCache:      true,
	}

	if cfg.TLS.Enabled {
		tlsConfig := &tls.Config{}
		if cfg.TLS.CAFile != "" {
			caData, err := os.ReadFile(cfg.TLS.CAFile)
			if err != nil {
				return nil, fmt.Errorf("cache: read redis ca file: %w", err)
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(caData) {
				return nil, errors.New("cache: redis ca file contains no certificates")
			}
			tlsConfig.RootCAs = pool
		}
		option.TLSConfig = tlsConfig
	}

	client, err := valkey.NewClient(option)
	if err != nil {
		return nil, fmt.Errorf("cache: redis client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("cache: redis ping: %w", err)
	}

	return &redisStore{client: client}, nil
}

func redisKey(namespace, key string) string {
	return namespace + "|" + key
}

func (s *redisStore) Lookup(ctx context.Context, namespace, key string) (Entry, bool, error) {
	resp := s.client.Do(ctx, s.client.B().Get().Key(redisKey(namespace, key)).Build())
	if err := resp.Error(); err != nil {
		if errors.Is(err, valkey.Nil) {
			return Entry{}, false, nil
		}
		return Entry{}, false, fmt.Errorf("cache: redis get: %w", err)
	}
	payload, err := resp.AsBytes()
	if err != nil {
		return Entry{}, false, fmt.Errorf("cache: redis get bytes: %w", err)
	}
	var entry Entry
	if err := json.Unmarshal(payload, &entry); err != nil {
		return Entry{}, false, fmt.Errorf("cache: redis unmarshal: %w", err)
	}
	return entry, true, nil
}

func (s *redisStore) Put(ctx context.Context, namespace, key string, entry Entry) error {
	if entry.StoredAt.IsZero() {
		entry.StoredAt = time.Now().UTC()
	}
	if entry.ExpiresAt.IsZero() || entry.ExpiresAt.Before(entry.StoredAt) {
		return errors.New("cache: redis entry expiry required")
	}
	ttl := time.Until(entry.ExpiresAt)
	if ttl <= 0 {
		return nil
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("cache: redis marshal: %w", err)
	}
	cmd := s.client.B().Set().Key(redisKey(namespace, key)).Value(string(payload)).Px(ttl).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("cache: redis set: %w", err)
	}
	register := s.client.B().Sadd().Key(namespaceRegistryKey).Member(namespace).Build()
	if err := s.client.Do(ctx, register).Error(); err != nil {
		return fmt.Errorf("cache: redis register namespace: %w", err)
	}
	return nil
}

func (s *redisStore) Delete(ctx context.Context, namespace, key string) error {
	cmd := s.client.B().Del().Key(redisKey(namespace, key)).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("cache: redis del: %w", err)
	}
	return nil
}

func (s *redisStore) Namespaces(ctx context.Context) ([]string, error) {
	resp := s.client.Do(ctx, s.client.B().Smembers().Key(namespaceRegistryKey).Build())
	names, err := resp.AsStrSlice()
	if err != nil {
		return nil, fmt.Errorf("cache: redis namespaces: %w", err)
	}
	return names, nil
}

func (s *redisStore) DropNamespace(ctx context.Context, namespace string) error {
	var cursor uint64
	for {
		scan := s.client.B().Scan().Cursor(cursor).Match(namespace + "|*").Count(100).Build()
		entry, err := s.client.Do(ctx, scan).AsScanEntry()
		if err != nil {
			return fmt.Errorf("cache: redis scan %s: %w", namespace, err)
		}
		if len(entry.Elements) > 0 {
			del := s.client.B().Del().Key(entry.Elements...).Build()
			if err := s.client.Do(ctx, del).Error(); err != nil {
				return fmt.Errorf("cache: redis drop %s: %w", namespace, err)
			}
		}
		cursor = entry.Cursor
		if cursor == 0 {
			break
		}
	}
	unregister := s.client.B().Srem().Key(namespaceRegistryKey).Member(namespace).Build()
	if err := s.client.Do(ctx, unregister).Error(); err != nil {
		return fmt.Errorf("cache: redis unregister namespace: %w", err)
	}
	return nil
}

func (s *redisStore) Size(ctx context.Context, namespace string) (int64, error) {
	var size int64
	var cursor uint64
	for {
		scan := s.client.B().Scan().Cursor(cursor).Match(namespace + "|*").Count(100).Build()
		entry, err := s.client.Do(ctx, scan).AsScanEntry()
		if err != nil {
			return 0, fmt.Errorf("cache: redis size %s: %w", namespace, err)
		}
		for _, element := range entry.Elements {
			if strings.HasPrefix(element, namespace+"|") {
				size++
			}
		}
		cursor = entry.Cursor
		if cursor == 0 {
			break
		}
	}
	return size, nil
}

func (s *redisStore) Close(context.Context) error {
	s.client.Close()
	return nil
}
