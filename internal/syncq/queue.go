// Package syncq is the deferred-work queue: batches captured while the
// service cannot reach its collaborators are persisted locally and drained
// per-tag once connectivity returns or the drain cadence fires.
package syncq

import (
	"context"
	"encoding/json"
	"time"
)

// The four sync tags mirror the deferred workloads the site accumulates.
const (
	TagComputation = "computation"
	TagContent     = "content"
	TagCacheWarm   = "cache-warm"
	TagPerformance = "performance"
)

// Tags lists every known sync tag in drain order.
func Tags() []string {
	return []string{TagComputation, TagContent, TagCacheWarm, TagPerformance}
}

// Item is one queued unit of deferred work.
type Item struct {
	ID       string
	Tag      string
	Payload  json.RawMessage
	QueuedAt time.Time
	Attempts int
}

// Store persists queue items. Deletions happen item by item so a partially
// delivered batch keeps its undelivered remainder.
type Store interface {
	Enqueue(ctx context.Context, item Item) error
	List(ctx context.Context, tag string, limit int) ([]Item, error)
	Delete(ctx context.Context, ids ...string) error
	MarkAttempt(ctx context.Context, id string) error
	Count(ctx context.Context, tag string) (int64, error)
	Close() error
}
