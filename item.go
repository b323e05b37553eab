package ragsync

import "time"

// EntityType identifies the kind of source entity a queue item refers to.
// The set is open: unknown types are accepted and dispatched through
// whatever builder is registered for them.
type EntityType string

const (
	EntityTypeProduct     EntityType = "product"
	EntityTypeCmsPage     EntityType = "cms_page"
	EntityTypeCmsBlock    EntityType = "cms_block"
	EntityTypeCategory    EntityType = "category"
	EntityTypePromotion   EntityType = "promotion"
	EntityTypeCatalogRule EntityType = "catalog_rule"
	EntityTypeStoreConfig EntityType = "store_config"
)

// Action describes what happened to the source entity.
type Action string

const (
	ActionSave   Action = "save"
	ActionDelete Action = "delete"
)

// Status represents the lifecycle state of a queue item.
type Status string

const (
	// StatusPending indicates the item is ready for dispatch.
	StatusPending Status = "pending"
	// StatusProcessing indicates the item is locked by a dispatcher run.
	StatusProcessing Status = "processing"
	// StatusSent indicates the item was delivered (or soft-skipped).
	StatusSent Status = "sent"
	// StatusFailed indicates a retryable failure; the item becomes
	// eligible again once its backoff delay elapses.
	StatusFailed Status = "failed"
	// StatusDead indicates the item exhausted its retry budget or hit a
	// permanent error; only a manual retry revives it.
	StatusDead Status = "dead"
)

// Priorities, lower is more urgent.
const (
	PriorityDelete      = 1
	PriorityStoreConfig = 1
	PriorityProduct     = 2
	PriorityCmsPage     = 3
	PriorityCategory    = 4
	PriorityPromotion   = 5
	PriorityCmsBlock    = 7
	PriorityDefault     = 5
)

var savePriorities = map[EntityType]int{
	EntityTypeStoreConfig: PriorityStoreConfig,
	EntityTypeProduct:     PriorityProduct,
	EntityTypeCmsPage:     PriorityCmsPage,
	EntityTypeCategory:    PriorityCategory,
	EntityTypePromotion:   PriorityPromotion,
	EntityTypeCatalogRule: PriorityPromotion,
	EntityTypeCmsBlock:    PriorityCmsBlock,
}

// PriorityFor returns the queue priority for an entity type and action.
// Deletes always take the highest priority regardless of type.
func PriorityFor(entityType EntityType, action Action) int {
	if action == ActionDelete {
		return PriorityDelete
	}
	if p, ok := savePriorities[entityType]; ok {
		return p
	}

	return PriorityDefault
}

// Key is the natural key of a queue item. At most one non-terminal row may
// represent a key at a time; re-enqueuing upserts in place.
type Key struct {
	// EntityType is the kind of source entity.
	EntityType EntityType
	// EntityID is the string natural id of the source entity.
	EntityID string
	// StoreID scopes the change; 0 means all stores.
	StoreID int
	// Action is what happened to the entity.
	Action Action
}

// Validate checks required key fields.
func (k Key) Validate() error {
	if k.EntityType == "" {
		return ErrEntityTypeRequired
	}
	if k.EntityID == "" {
		return ErrEntityIDRequired
	}
	if k.Action != ActionSave && k.Action != ActionDelete {
		return ErrInvalidAction
	}

	return nil
}

// QueueItem is a stored sync intent fetched for processing.
type QueueItem struct {
	ID            int64
	EntityType    EntityType
	EntityID      string
	StoreID       int
	Action        Action
	Priority      int
	Status        Status
	Attempts      int
	LastAttemptAt time.Time
	ErrorMessage  string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Key returns the item's natural key.
func (i QueueItem) Key() Key {
	return Key{
		EntityType: i.EntityType,
		EntityID:   i.EntityID,
		StoreID:    i.StoreID,
		Action:     i.Action,
	}
}

// Statistics summarizes queue contents for dashboards and the CLI.
type Statistics struct {
	Pending      int
	Processing   int
	Sent         int
	Failed       int
	Dead         int
	Total        int
	ByEntityType map[EntityType]int
}
