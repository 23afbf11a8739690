package syncq

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Compile-time check that DB satisfies Store.
var _ Store = (*DB)(nil)

// DB is the SQLite-backed queue store.
type DB struct {
	db *sql.DB
}

// Open opens (or creates) the queue database at the given path and ensures
// its schema.
func Open(ctx context.Context, path string) (*DB, error) {
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("syncq: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("syncq: ping sqlite: %w", err)
	}

	if err := ensureSchema(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("syncq: ensure schema: %w", err)
	}

	return &DB{db: db}, nil
}

func ensureSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS sync_items (
			id TEXT PRIMARY KEY,
			tag TEXT NOT NULL,
			payload BLOB NOT NULL,
			queued_at TEXT NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 0
		)`)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_sync_items_tag ON sync_items (tag, queued_at)`)
	return err
}

func (d *DB) Enqueue(ctx context.Context, item Item) error {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.QueuedAt.IsZero() {
		item.QueuedAt = time.Now().UTC()
	}
	if item.Tag == "" {
		return fmt.Errorf("syncq: enqueue requires a tag")
	}
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO sync_items (id, tag, payload, queued_at, attempts)
		VALUES (?, ?, ?, ?, ?)`,
		item.ID, item.Tag, []byte(item.Payload), formatTime(item.QueuedAt), item.Attempts,
	)
	if err != nil {
		return fmt.Errorf("syncq: enqueue: %w", err)
	}
	return nil
}

func (d *DB) List(ctx context.Context, tag string, limit int) ([]Item, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, tag, payload, queued_at, attempts
		FROM sync_items
		WHERE tag = ?
		ORDER BY queued_at ASC
		LIMIT ?`, tag, limit)
	if err != nil {
		return nil, fmt.Errorf("syncq: list %s: %w", tag, err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var item Item
		var queuedAt string
		var payload []byte
		if err := rows.Scan(&item.ID, &item.Tag, &payload, &queuedAt, &item.Attempts); err != nil {
			return nil, fmt.Errorf("syncq: scan item: %w", err)
		}
		item.Payload = payload
		item.QueuedAt = parseTime(queuedAt)
		items = append(items, item)
	}
	return items, rows.Err()
}

func (d *DB) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	_, err := d.db.ExecContext(ctx,
		`DELETE FROM sync_items WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return fmt.Errorf("syncq: delete: %w", err)
	}
	return nil
}

func (d *DB) MarkAttempt(ctx context.Context, id string) error {
	_, err := d.db.ExecContext(ctx,
		`UPDATE sync_items SET attempts = attempts + 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("syncq: mark attempt: %w", err)
	}
	return nil
}

func (d *DB) Count(ctx context.Context, tag string) (int64, error) {
	var count int64
	err := d.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sync_items WHERE tag = ?`, tag).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("syncq: count %s: %w", tag, err)
	}
	return count, nil
}

func (d *DB) Close() error {
	return d.db.Close()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
