package cache

import (
	"context"
	"sort"
	"sync"
	"time"
)

type memoryStore struct {
	ttl time.Duration

	mu         sync.RWMutex
	namespaces map[string]map[string]Entry
}

// NewMemory builds an in-process store. The ttl applies to entries stored
// without an explicit expiry.
func NewMemory(ttl time.Duration) Store {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &memoryStore{ttl: ttl, namespaces: make(map[string]map[string]Entry)}
}

func (s *memoryStore) Lookup(_ context.Context, namespace, key string) (Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries, ok := s.namespaces[namespace]
	if !ok {
		return Entry{}, false, nil
	}
	entry, ok := entries[key]
	if !ok {
		return Entry{}, false, nil
	}
	if time.Now().After(entry.ExpiresAt) {
		delete(entries, key)
		return Entry{}, false, nil
	}
	return cloneEntry(entry), true, nil
}

func (s *memoryStore) Put(_ context.Context, namespace, key string, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.StoredAt.IsZero() {
		entry.StoredAt = time.Now().UTC()
	}
	if entry.ExpiresAt.IsZero() || entry.ExpiresAt.Before(entry.StoredAt) {
		entry.ExpiresAt = entry.StoredAt.Add(s.ttl)
	}
	entries, ok := s.namespaces[namespace]
	if !ok {
		entries = make(map[string]Entry)
		s.namespaces[namespace] = entries
	}
	entries[key] = cloneEntry(entry)
	return nil
}

func (s *memoryStore) Delete(_ context.Context, namespace, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entries, ok := s.namespaces[namespace]; ok {
		delete(entries, key)
	}
	return nil
}

func (s *memoryStore) Namespaces(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.namespaces))
	for name := range s.namespaces {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *memoryStore) DropNamespace(_ context.Context, namespace string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.namespaces, namespace)
	return nil
}

func (s *memoryStore) Size(_ context.Context, namespace string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.namespaces[namespace])), nil
}

func (s *memoryStore) Close(_ context.Context) error {
	return nil
}

func cloneEntry(in Entry) Entry {
	out := Entry{
		Status:    in.Status,
		StoredAt:  in.StoredAt,
		ExpiresAt: in.ExpiresAt,
	}
	if len(in.Headers) > 0 {
		out.Headers = make(map[string]string, len(in.Headers))
		for k, v := range in.Headers {
			out.Headers[k] = v
		}
	}
	if len(in.Body) > 0 {
		out.Body = make([]byte, len(in.Body))
		copy(out.Body, in.Body)
	}
	return out
}
