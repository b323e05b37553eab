package ragsync

import (
	"context"
	"fmt"
)

const defaultSweepPageSize = 500

// EntityRef identifies one row of the source dataset during a full sync.
type EntityRef struct {
	EntityID string
	StoreID  int
}

// Source pages through the source dataset for one entity type. Page
// numbering starts at 1; an empty page ends the sweep.
type Source interface {
	// Page returns up to size refs for the given page.
	Page(ctx context.Context, page, size int) ([]EntityRef, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, page, size int) ([]EntityRef, error)

// Page implements Source.
func (fn SourceFunc) Page(ctx context.Context, page, size int) ([]EntityRef, error) {
	return fn(ctx, page, size)
}

// Sweeper enqueues every eligible row of a source dataset, page by page,
// so that full syncs stay memory-bounded regardless of catalog size.
type Sweeper struct {
	queue    *QueueService
	builders *Registry
	cfg      ConfigProvider
	logger   Logger
	pageSize int
}

// NewSweeper constructs a Sweeper. pageSize <= 0 uses the default.
func NewSweeper(queue *QueueService, builders *Registry, cfg ConfigProvider, logger Logger, pageSize int) *Sweeper {
	if logger == nil {
		logger = NopLogger{}
	}
	if pageSize <= 0 {
		pageSize = defaultSweepPageSize
	}

	return &Sweeper{
		queue:    queue,
		builders: builders,
		cfg:      cfg,
		logger:   logger,
		pageSize: pageSize,
	}
}

// Sweep pages through the source and enqueues a save for every ref the
// entity type's builder deems eligible. Returns how many were queued.
func (s *Sweeper) Sweep(ctx context.Context, entityType EntityType, source Source) (int, error) {
	if !s.cfg.Config(0).SyncEnabled(entityType) {
		return 0, nil
	}

	builder, err := s.builders.Lookup(entityType)
	if err != nil {
		return 0, err
	}

	s.logger.Info("starting full sync", "entity_type", entityType)

	queued := 0
	for page := 1; ; page++ {
		refs, err := source.Page(ctx, page, s.pageSize)
		if err != nil {
			return queued, fmt.Errorf("page %d: %w", page, err)
		}
		if len(refs) == 0 {
			break
		}

		for _, ref := range refs {
			eligible, err := builder.ShouldSync(ctx, ref.EntityID, ref.StoreID)
			if err != nil {
				s.logger.Warn("eligibility check failed",
					"entity_type", entityType,
					"entity_id", ref.EntityID,
					"err", err)

				continue
			}
			if !eligible {
				continue
			}

			if _, err := s.queue.Enqueue(ctx, Key{
				EntityType: entityType,
				EntityID:   ref.EntityID,
				StoreID:    ref.StoreID,
				Action:     ActionSave,
			}); err != nil {
				return queued, err
			}
			queued++
		}

		if len(refs) < s.pageSize {
			break
		}
	}

	s.logger.Info("full sync completed", "entity_type", entityType, "queued", queued)

	return queued, nil
}
