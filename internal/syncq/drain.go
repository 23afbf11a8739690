package syncq

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

// Handler delivers one queued item. A non-nil error leaves the item queued
// with its attempt count bumped.
type Handler func(ctx context.Context, item Item) error

// BatchHandler delivers a whole batch at once and reports which item IDs were
// accepted. Used for tags whose collaborator speaks in batches, like the
// performance metrics endpoint.
type BatchHandler func(ctx context.Context, items []Item) ([]string, error)

// Result summarizes one tag drain. Processed may be less than Queued: a
// single item's failure never aborts the batch.
type Result struct {
	Tag       string `json:"tag"`
	Queued    int    `json:"queued"`
	Processed int    `json:"processed"`
}

// Drainer owns the drain routines for every sync tag.
type Drainer struct {
	logger   *slog.Logger
	store    Store
	limit    int
	interval time.Duration

	handlers      map[string]Handler
	batchHandlers map[string]BatchHandler
}

// DrainerOptions configures the drain cadence and batch ceiling.
type DrainerOptions struct {
	BatchLimit int
	Interval   time.Duration
}

func NewDrainer(logger *slog.Logger, store Store, opts DrainerOptions) *Drainer {
	if logger == nil {
		logger = slog.Default()
	}
	limit := opts.BatchLimit
	if limit <= 0 {
		limit = 50
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	return &Drainer{
		logger:        logger.With(slog.String("agent", "sync")),
		store:         store,
		limit:         limit,
		interval:      interval,
		handlers:      make(map[string]Handler),
		batchHandlers: make(map[string]BatchHandler),
	}
}

// Register binds the per-item handler for a tag.
func (d *Drainer) Register(tag string, handler Handler) {
	d.handlers[tag] = handler
}

// RegisterBatch binds a batch handler for a tag, replacing per-item delivery.
func (d *Drainer) RegisterBatch(tag string, handler BatchHandler) {
	d.batchHandlers[tag] = handler
}

// Drain processes one batch for the given tag with partial-failure
// semantics: delivered items are deleted, failures are logged and retried on
// the next drain.
func (d *Drainer) Drain(ctx context.Context, tag string) (Result, error) {
	items, err := d.store.List(ctx, tag, d.limit)
	if err != nil {
		return Result{Tag: tag}, fmt.Errorf("syncq: drain %s: %w", tag, err)
	}
	result := Result{Tag: tag, Queued: len(items)}
	if len(items) == 0 {
		return result, nil
	}

	if batch, ok := d.batchHandlers[tag]; ok {
		delivered, err := batch(ctx, items)
		if err != nil {
			d.logger.Warn("batch delivery failed", slog.String("tag", tag), slog.Any("error", err))
			for _, item := range items {
				if markErr := d.store.MarkAttempt(ctx, item.ID); markErr != nil {
					d.logger.Warn("mark attempt failed", slog.String("id", item.ID), slog.Any("error", markErr))
				}
			}
			return result, nil
		}
		if err := d.store.Delete(ctx, delivered...); err != nil {
			return result, fmt.Errorf("syncq: clear delivered %s: %w", tag, err)
		}
		result.Processed = len(delivered)
		d.logger.Info("sync batch drained", slog.String("tag", tag), slog.Int("queued", result.Queued), slog.Int("processed", result.Processed))
		return result, nil
	}

	handler, ok := d.handlers[tag]
	if !ok {
		return result, fmt.Errorf("syncq: no handler for tag %q", tag)
	}
	for _, item := range items {
		if err := handler(ctx, item); err != nil {
			d.logger.Warn("item delivery failed", slog.String("tag", tag), slog.String("id", item.ID), slog.Any("error", err))
			if markErr := d.store.MarkAttempt(ctx, item.ID); markErr != nil {
				d.logger.Warn("mark attempt failed", slog.String("id", item.ID), slog.Any("error", markErr))
			}
			continue
		}
		if err := d.store.Delete(ctx, item.ID); err != nil {
			return result, fmt.Errorf("syncq: clear delivered %s: %w", tag, err)
		}
		result.Processed++
	}
	d.logger.Info("sync batch drained", slog.String("tag", tag), slog.Int("queued", result.Queued), slog.Int("processed", result.Processed))
	return result, nil
}

// DrainAll drains every registered tag concurrently.
func (d *Drainer) DrainAll(ctx context.Context) ([]Result, error) {
	tags := Tags()
	results := make([]Result, len(tags))
	g, gctx := errgroup.WithContext(ctx)
	for i, tag := range tags {
		i, tag := i, tag
		if _, ok := d.handlers[tag]; !ok {
			if _, ok := d.batchHandlers[tag]; !ok {
				continue
			}
		}
		g.Go(func() error {
			result, err := d.Drain(gctx, tag)
			results[i] = result
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

// Run drives the periodic drain until the context is cancelled.
func (d *Drainer) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := d.DrainAll(ctx); err != nil {
				d.logger.Error("periodic drain failed", slog.Any("error", err))
			}
		}
	}
}

// MetricsBatchHandler posts queued performance records as one JSON array to
// the ingest endpoint. Only an HTTP-ok acceptance clears the batch; anything
// else leaves every item queued for the next drain.
func MetricsBatchHandler(endpoint string, client *http.Client) BatchHandler {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return func(ctx context.Context, items []Item) ([]string, error) {
		payload := make([]json.RawMessage, 0, len(items))
		ids := make([]string, 0, len(items))
		for _, item := range items {
			payload = append(payload, item.Payload)
			ids = append(ids, item.ID)
		}
		body, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("syncq: marshal metrics batch: %w", err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("syncq: build metrics request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("syncq: post metrics batch: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, fmt.Errorf("syncq: metrics endpoint status %d", resp.StatusCode)
		}
		return ids, nil
	}
}
