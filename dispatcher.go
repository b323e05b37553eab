package ragsync

import (
	"context"
	"fmt"
	"time"
)

const (
	defaultDispatchInterval = time.Minute
	defaultCleanupInterval  = time.Hour
	defaultStuckInterval    = 10 * time.Minute
)

// Result summarizes one dispatch pass for logs and the CLI.
type Result struct {
	// Fetched is how many items were selected for the batch.
	Fetched int
	// Locked is how many of those this process actually locked.
	Locked int
	// Sent is how many items were delivered to the backend.
	Sent int
	// Skipped is how many items were soft-skipped without transmission.
	Skipped int
	// Failed is how many items were marked for retry.
	Failed int
	// Dead is how many items were parked as dead.
	Dead int
	// CircuitOpen reports that the pass was short-circuited by the breaker.
	CircuitOpen bool
}

// Dispatcher pulls batches of pending and retry-eligible items, resolves
// payloads through the builder registry, sends one batch over the Sender,
// and applies the outcome back to the store under circuit breaker control.
type Dispatcher struct {
	store    Store
	sender   Sender
	breaker  *CircuitBreaker
	builders *Registry
	cfg      ConfigProvider

	clock    Clock
	logger   Logger
	metrics  Metrics
	interval time.Duration
	cleanup  time.Duration
	stuck    time.Duration
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithClock sets the dispatcher clock.
func WithClock(clock Clock) DispatcherOption {
	return func(d *Dispatcher) {
		d.clock = clock
	}
}

// WithLogger sets the dispatcher logger.
func WithLogger(logger Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// WithMetrics sets the dispatcher metrics recorder.
func WithMetrics(metrics Metrics) DispatcherOption {
	return func(d *Dispatcher) {
		d.metrics = metrics
	}
}

// WithDispatchInterval sets the delay between scheduled passes in Run.
func WithDispatchInterval(interval time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		d.interval = interval
	}
}

// WithCleanupInterval sets how often Run performs retention cleanup.
func WithCleanupInterval(interval time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		d.cleanup = interval
	}
}

// WithStuckInterval sets how often Run resets stuck processing items.
func WithStuckInterval(interval time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		d.stuck = interval
	}
}

// NewDispatcher constructs a Dispatcher with defaults and optional settings.
func NewDispatcher(store Store, sender Sender, breaker *CircuitBreaker, builders *Registry, cfg ConfigProvider, opts ...DispatcherOption) *Dispatcher {
	if store == nil {
		panic("ragsync: nil Store")
	}
	if sender == nil {
		panic("ragsync: nil Sender")
	}
	if breaker == nil {
		panic("ragsync: nil CircuitBreaker")
	}
	if builders == nil {
		builders = NewRegistry()
	}

	d := &Dispatcher{
		store:    store,
		sender:   sender,
		breaker:  breaker,
		builders: builders,
		cfg:      cfg,
		clock:    SystemClock{},
		logger:   NopLogger{},
		metrics:  NopMetrics{},
		interval: defaultDispatchInterval,
		cleanup:  defaultCleanupInterval,
		stuck:    defaultStuckInterval,
	}
	for _, opt := range opts {
		opt(d)
	}

	return d
}

// ProcessOnce performs a single dispatch pass. Per-item failures are
// recorded on their rows; only store-level I/O failures are returned, and
// those abort the pass to be retried on the next tick.
func (d *Dispatcher) ProcessOnce(ctx context.Context) (Result, error) {
	start := d.clock.Now()
	defer func() {
		d.metrics.ObserveBatchDuration(d.clock.Now().Sub(start))
	}()

	var res Result

	cfg := d.cfg.Config(0)
	if !cfg.Enabled {
		return res, nil
	}
	if !cfg.ConnectionConfigured() {
		d.logger.Warn("webhook connection not configured, skipping queue processing")

		return res, nil
	}

	batch, err := d.fetchBatch(ctx, cfg)
	if err != nil {
		return res, err
	}
	res.Fetched = len(batch)
	if len(batch) == 0 {
		return res, nil
	}

	locked, err := d.lockBatch(ctx, batch)
	if err != nil {
		return res, err
	}
	res.Locked = len(locked)
	if len(locked) == 0 {
		return res, nil
	}

	items, skippedIDs, err := d.buildBatch(ctx, cfg, locked, &res)
	if err != nil {
		return res, err
	}

	if len(skippedIDs) > 0 {
		if err := d.store.MarkSent(ctx, skippedIDs); err != nil {
			return res, fmt.Errorf("mark skipped sent: %w", err)
		}
		res.Skipped = len(skippedIDs)
		d.metrics.AddSkipped(len(skippedIDs))
	}
	if len(items) == 0 {
		return res, nil
	}

	available, err := d.breaker.IsAvailable(ctx)
	if err != nil {
		return res, fmt.Errorf("circuit breaker check: %w", err)
	}
	if !available {
		// Mark the locked items failed so the retry-eligible query
		// reclaims them, instead of waiting out the stuck sweep.
		d.logger.Warn("circuit breaker open, deferring batch", "count", len(items))
		if err := d.applyFailure(ctx, items, "circuit breaker open", cfg.MaxRetries, &res); err != nil {
			return res, err
		}
		res.CircuitOpen = true

		return res, nil
	}

	resp := d.sender.SendBatch(ctx, toBatchItems(items))

	if resp.Success {
		if err := d.store.MarkSent(ctx, outboundIDs(items)); err != nil {
			return res, fmt.Errorf("mark sent: %w", err)
		}
		if err := d.breaker.RecordSuccess(ctx); err != nil {
			return res, err
		}
		res.Sent = len(items)
		d.metrics.AddSent(len(items))
		d.logger.Info("batch processed",
			"count", len(items),
			"duration_ms", resp.Duration.Milliseconds())

		return res, nil
	}

	if err := d.breaker.RecordFailure(ctx); err != nil {
		return res, err
	}

	msg := resp.ErrorMessage()
	if resp.Permanent() {
		d.logger.Error("batch failed with permanent error", "error", msg, "count", len(items))

		return res, d.applyFailure(ctx, items, msg, 0, &res)
	}

	d.logger.Warn("batch failed, will retry", "error", msg, "count", len(items))

	return res, d.applyFailure(ctx, items, msg, cfg.MaxRetries, &res)
}

// Run processes the queue on a fixed interval until the context is
// canceled, interleaving retention cleanup and stuck-item recovery.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	cleanupTicker := time.NewTicker(d.cleanup)
	defer cleanupTicker.Stop()
	stuckTicker := time.NewTicker(d.stuck)
	defer stuckTicker.Stop()

	d.processTick(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			d.processTick(ctx)
		case <-cleanupTicker.C:
			if _, err := d.CleanupOnce(ctx); err != nil {
				d.logger.Error("queue cleanup failed", "err", err)
			}
		case <-stuckTicker.C:
			if _, err := d.ResetStuckOnce(ctx); err != nil {
				d.logger.Error("stuck item reset failed", "err", err)
			}
		}
	}
}

// CleanupOnce deletes sent rows older than the configured retention.
func (d *Dispatcher) CleanupOnce(ctx context.Context) (int64, error) {
	cfg := d.cfg.Config(0)
	if !cfg.Enabled {
		return 0, nil
	}

	deleted, err := d.store.CleanupOld(ctx, cfg.Retention)
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		d.logger.Info("queue cleanup completed", "deleted", deleted)
	}

	return deleted, nil
}

// ResetStuckOnce resets processing rows stuck longer than the configured
// threshold; the sole recovery path for runs killed mid-flight.
func (d *Dispatcher) ResetStuckOnce(ctx context.Context) (int64, error) {
	cfg := d.cfg.Config(0)
	reset, err := d.store.ResetStuck(ctx, cfg.StuckAfter)
	if err != nil {
		return 0, err
	}
	if reset > 0 {
		d.logger.Warn("reset stuck queue items", "count", reset)
	}

	return reset, nil
}

// RetryFailed requeues all failed and dead items with a fresh attempt budget.
func (d *Dispatcher) RetryFailed(ctx context.Context) (int64, error) {
	count, err := d.store.RequeueByStatus(ctx, []Status{StatusFailed, StatusDead})
	if err != nil {
		return 0, err
	}
	if count > 0 {
		d.logger.Info("requeued failed items", "count", count)
	}

	return count, nil
}

// Clear deletes all rows in the given statuses.
func (d *Dispatcher) Clear(ctx context.Context, statuses []Status) (int64, error) {
	return d.store.DeleteByStatus(ctx, statuses)
}

// SyncEntity builds and sends a single entity immediately, bypassing the
// queue. Used by operator tooling for targeted pushes.
func (d *Dispatcher) SyncEntity(ctx context.Context, key Key) (Response, error) {
	cfg := d.cfg.Config(key.StoreID)
	if !cfg.Enabled {
		return Response{}, ErrDisabled
	}
	if !cfg.ConnectionConfigured() {
		return Response{}, ErrNotConfigured
	}

	data, found, err := d.resolvePayload(ctx, key)
	if err != nil {
		return Response{}, err
	}
	if !found {
		return Response{}, fmt.Errorf("%s %s: entity not found or not eligible", key.EntityType, key.EntityID)
	}

	available, err := d.breaker.IsAvailable(ctx)
	if err != nil {
		return Response{}, err
	}
	if !available {
		return Response{StatusCode: 503, Err: "circuit breaker open"}, nil
	}

	resp := d.sender.SendEntity(ctx, key.EntityType, key.Action, data)
	if resp.Success {
		err = d.breaker.RecordSuccess(ctx)
	} else {
		err = d.breaker.RecordFailure(ctx)
	}

	return resp, err
}

func (d *Dispatcher) fetchBatch(ctx context.Context, cfg Config) ([]QueueItem, error) {
	batch, err := d.store.FetchPending(ctx, cfg.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("fetch pending: %w", err)
	}
	if remaining := cfg.BatchSize - len(batch); remaining > 0 {
		retry, err := d.store.FetchRetryEligible(ctx, cfg.RetryDelays, remaining)
		if err != nil {
			return nil, fmt.Errorf("fetch retry eligible: %w", err)
		}
		batch = append(batch, retry...)
	}

	return batch, nil
}

func (d *Dispatcher) lockBatch(ctx context.Context, batch []QueueItem) ([]QueueItem, error) {
	lockedIDs, err := d.store.LockForProcessing(ctx, itemIDs(batch))
	if err != nil {
		return nil, fmt.Errorf("lock batch: %w", err)
	}

	won := make(map[int64]bool, len(lockedIDs))
	for _, id := range lockedIDs {
		won[id] = true
	}
	locked := batch[:0]
	for _, item := range batch {
		if won[item.ID] {
			item.Attempts++
			locked = append(locked, item)
		}
	}

	return locked, nil
}

type outboundItem struct {
	QueueItem
	data Document
}

// buildBatch resolves payloads for the locked items. Items whose entity is
// gone or ineligible are soft-skipped; builder errors mark the item failed
// on its own row without aborting the pass.
func (d *Dispatcher) buildBatch(ctx context.Context, cfg Config, locked []QueueItem, res *Result) ([]outboundItem, []int64, error) {
	items := make([]outboundItem, 0, len(locked))
	var skipped []int64

	for _, item := range locked {
		data, found, err := d.resolvePayload(ctx, item.Key())
		if err != nil {
			if markErr := d.applyFailure(ctx, []outboundItem{{QueueItem: item}}, err.Error(), cfg.MaxRetries, res); markErr != nil {
				return nil, nil, markErr
			}
			d.logger.Warn("payload build failed",
				"entity_type", item.EntityType,
				"entity_id", item.EntityID,
				"err", err)

			continue
		}
		if !found {
			skipped = append(skipped, item.ID)

			continue
		}
		items = append(items, outboundItem{QueueItem: item, data: data})
	}

	return items, skipped, nil
}

func (d *Dispatcher) resolvePayload(ctx context.Context, key Key) (Document, bool, error) {
	// Deletes carry only identifiers; the entity is already gone.
	if key.Action == ActionDelete {
		return Document{
			"id":          key.EntityID,
			"entity_type": key.EntityType,
			"store_id":    key.StoreID,
		}, true, nil
	}

	builder, err := d.builders.Lookup(key.EntityType)
	if err != nil {
		d.logger.Warn("unknown entity type", "entity_type", key.EntityType)

		return nil, false, nil
	}

	return builder.BuildPayload(ctx, key.EntityID, key.StoreID)
}

func (d *Dispatcher) applyFailure(ctx context.Context, items []outboundItem, msg string, maxRetries int, res *Result) error {
	if err := d.store.MarkFailed(ctx, outboundIDs(items), msg, maxRetries); err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}

	var failed, dead int
	for _, item := range items {
		if maxRetries == 0 || item.Attempts >= maxRetries {
			dead++
		} else {
			failed++
		}
	}
	res.Failed += failed
	res.Dead += dead
	d.metrics.AddFailed(failed)
	d.metrics.AddDead(dead)

	return nil
}

func (d *Dispatcher) processTick(ctx context.Context) {
	res, err := d.ProcessOnce(ctx)
	if err != nil {
		d.logger.Error("queue processing failed", "err", err)

		return
	}
	if res.Locked > 0 {
		d.logger.Debug("dispatch pass finished",
			"locked", res.Locked,
			"sent", res.Sent,
			"skipped", res.Skipped,
			"failed", res.Failed,
			"dead", res.Dead)
	}
	d.sampleGauges(ctx)
}

func (d *Dispatcher) sampleGauges(ctx context.Context) {
	stats, err := d.store.Statistics(ctx)
	if err == nil {
		d.metrics.SetPending(stats.Pending)
	}
	snap, err := d.breaker.Status(ctx)
	if err == nil {
		d.metrics.SetCircuitState(snap.State)
	}
}

func toBatchItems(items []outboundItem) []BatchItem {
	out := make([]BatchItem, 0, len(items))
	for _, item := range items {
		out = append(out, BatchItem{
			Type:    item.EntityType,
			ID:      item.EntityID,
			Action:  item.Action,
			StoreID: item.StoreID,
			Data:    item.data,
		})
	}

	return out
}

func itemIDs(items []QueueItem) []int64 {
	ids := make([]int64, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ID)
	}

	return ids
}

func outboundIDs(items []outboundItem) []int64 {
	ids := make([]int64, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ID)
	}

	return ids
}
