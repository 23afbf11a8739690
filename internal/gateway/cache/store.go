// Package cache persists captured origin responses in named, versioned
// namespaces so the gateway strategies can serve traffic without the origin.
package cache

import (
	"context"
	"time"
)

// Entry is an idempotent snapshot of one origin response.
type Entry struct {
	Status    int               `json:"status"`
	Headers   map[string]string `json:"headers,omitempty"`
	Body      []byte            `json:"body"`
	StoredAt  time.Time         `json:"storedAt"`
	ExpiresAt time.Time         `json:"expiresAt"`
}

// OK reports whether the captured response had an HTTP-ok status. Only OK
// entries are worth caching.
func (e Entry) OK() bool {
	return e.Status >= 200 && e.Status < 300
}

// Store is the contract every response cache backend satisfies. Keys are
// scoped by namespace; a namespace is dropped wholesale when its version is
// retired.
type Store interface {
	Lookup(ctx context.Context, namespace, key string) (Entry, bool, error)
	Put(ctx context.Context, namespace, key string, entry Entry) error
	Delete(ctx context.Context, namespace, key string) error
	Namespaces(ctx context.Context) ([]string, error)
	DropNamespace(ctx context.Context, namespace string) error
	Size(ctx context.Context, namespace string) (int64, error)
	Close(ctx context.Context) error
}
