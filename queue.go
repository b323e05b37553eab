package ragsync

import (
	"context"
	"strconv"
	"time"
)

// QueueService is the producer-facing API. It records sync intents in the
// store after applying the module and per-entity-type gates; business
// eligibility (category levels, CMS whitelists, active/expired filters) is
// decided by the calling collaborator before it gets here.
type QueueService struct {
	store  Store
	cfg    ConfigProvider
	logger Logger
}

// NewQueueService constructs a QueueService.
func NewQueueService(store Store, cfg ConfigProvider, logger Logger) *QueueService {
	if logger == nil {
		logger = NopLogger{}
	}

	return &QueueService{store: store, cfg: cfg, logger: logger}
}

// Enqueue records a sync intent for the given key. When the module is
// disabled for the store the call is a no-op and returns id 0 with no
// error.
func (s *QueueService) Enqueue(ctx context.Context, key Key) (int64, error) {
	if err := key.Validate(); err != nil {
		return 0, err
	}

	cfg := s.cfg.Config(key.StoreID)
	if !cfg.Enabled {
		return 0, nil
	}

	id, err := s.store.Upsert(ctx, key, PriorityFor(key.EntityType, key.Action))
	if err != nil {
		s.logger.Error("failed to enqueue",
			"entity_type", key.EntityType,
			"entity_id", key.EntityID,
			"err", err)

		return 0, err
	}

	if cfg.Debug {
		s.logger.Debug("enqueued",
			"entity_type", key.EntityType,
			"entity_id", key.EntityID,
			"store_id", key.StoreID,
			"action", key.Action,
			"queue_id", id)
	}

	return id, nil
}

// EnqueueProduct queues a product change if product sync is enabled.
func (s *QueueService) EnqueueProduct(ctx context.Context, productID int64, storeID int, action Action) (int64, error) {
	return s.enqueueTyped(ctx, EntityTypeProduct, strconv.FormatInt(productID, 10), storeID, action)
}

// EnqueueCmsPage queues a CMS page change if page sync is enabled.
func (s *QueueService) EnqueueCmsPage(ctx context.Context, pageID int64, storeID int, action Action) (int64, error) {
	return s.enqueueTyped(ctx, EntityTypeCmsPage, strconv.FormatInt(pageID, 10), storeID, action)
}

// EnqueueCmsBlock queues a CMS block change if block sync is enabled.
func (s *QueueService) EnqueueCmsBlock(ctx context.Context, blockID int64, storeID int, action Action) (int64, error) {
	return s.enqueueTyped(ctx, EntityTypeCmsBlock, strconv.FormatInt(blockID, 10), storeID, action)
}

// EnqueueCategory queues a category change if category sync is enabled.
func (s *QueueService) EnqueueCategory(ctx context.Context, categoryID int64, storeID int, action Action) (int64, error) {
	return s.enqueueTyped(ctx, EntityTypeCategory, strconv.FormatInt(categoryID, 10), storeID, action)
}

// EnqueueCartRule queues a cart price rule change if promotion sync covers
// cart rules.
func (s *QueueService) EnqueueCartRule(ctx context.Context, ruleID int64, storeID int, action Action) (int64, error) {
	return s.enqueueTyped(ctx, EntityTypePromotion, strconv.FormatInt(ruleID, 10), storeID, action)
}

// EnqueueCatalogRule queues a catalog price rule change if promotion sync
// covers catalog rules.
func (s *QueueService) EnqueueCatalogRule(ctx context.Context, ruleID int64, storeID int, action Action) (int64, error) {
	return s.enqueueTyped(ctx, EntityTypeCatalogRule, strconv.FormatInt(ruleID, 10), storeID, action)
}

// EnqueueStoreConfig queues a store configuration change. The store id
// doubles as the entity id.
func (s *QueueService) EnqueueStoreConfig(ctx context.Context, storeID int) (int64, error) {
	return s.Enqueue(ctx, Key{
		EntityType: EntityTypeStoreConfig,
		EntityID:   strconv.Itoa(storeID),
		StoreID:    storeID,
		Action:     ActionSave,
	})
}

// Statistics returns queue counts by status and entity type.
func (s *QueueService) Statistics(ctx context.Context) (Statistics, error) {
	return s.store.Statistics(ctx)
}

// OldestPendingAge returns the age of the oldest pending item.
func (s *QueueService) OldestPendingAge(ctx context.Context) (time.Duration, bool, error) {
	return s.store.OldestPendingAge(ctx)
}

func (s *QueueService) enqueueTyped(ctx context.Context, entityType EntityType, entityID string, storeID int, action Action) (int64, error) {
	if !s.cfg.Config(storeID).SyncEnabled(entityType) {
		return 0, nil
	}

	return s.Enqueue(ctx, Key{
		EntityType: entityType,
		EntityID:   entityID,
		StoreID:    storeID,
		Action:     action,
	})
}
